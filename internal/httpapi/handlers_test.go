package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"deskbot/internal/config"
	"deskbot/internal/reducer"
)

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger)
	return NewHandlers(reducer.New(), config.DashboardConfig{}, hub, logger)
}

func TestHandleHealthReportsOK(t *testing.T) {
	t.Parallel()
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.HandleHealth(rec, req)

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestHandleSnapshotEncodesCurrentState(t *testing.T) {
	t.Parallel()
	state := reducer.New()
	state.RiskParams["max_notional"] = 100

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandlers(state, config.DashboardConfig{}, NewHub(logger), logger)

	req := httptest.NewRequest(http.MethodGet, "/api/snapshot", nil)
	rec := httptest.NewRecorder()
	h.HandleSnapshot(rec, req)

	var snap StateSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.RiskParams["max_notional"] != 100 {
		t.Errorf("risk_params[max_notional] = %v, want 100", snap.RiskParams["max_notional"])
	}
}

func TestIsOriginAllowedLocalhost(t *testing.T) {
	t.Parallel()
	if !isOriginAllowed("http://localhost:3000", config.DashboardConfig{}, "example.com:8080") {
		t.Error("expected localhost origin to be allowed by default")
	}
}

func TestIsOriginAllowedRejectsUnlistedOrigin(t *testing.T) {
	t.Parallel()
	cfg := config.DashboardConfig{AllowedOrigins: []string{"https://dashboard.example.com"}}
	if isOriginAllowed("https://evil.example.com", cfg, "example.com") {
		t.Error("expected origin not on the allow list to be rejected")
	}
	if !isOriginAllowed("https://dashboard.example.com", cfg, "example.com") {
		t.Error("expected the configured allow-listed origin to pass")
	}
}

func TestIsOriginAllowedEmptyOriginPasses(t *testing.T) {
	t.Parallel()
	if !isOriginAllowed("", config.DashboardConfig{}, "example.com") {
		t.Error("expected non-browser clients with no Origin header to be allowed")
	}
}

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"deskbot/internal/metrics"
	"deskbot/pkg/types"
)

// Hard exchange-side expiry and the two safety-margin deadlines (§4.3).
const (
	tokenLifetime  = 15 * time.Minute
	warnDeadline   = 9 * time.Minute
	refreshDeadline = 12 * time.Minute
)

const tokenPath = "/0/private/GetWebSocketsToken"

// AuthFailedError is returned when the token endpoint responds non-2xx.
type AuthFailedError struct {
	Status int
}

func (e *AuthFailedError) Error() string {
	return fmt.Sprintf("auth failed: status %d", e.Status)
}

// Token is the opaque WebSocket auth token plus its bookkeeping (§3 "Auth Token").
type Token struct {
	Value      string
	FetchedAt  time.Time
	LastUsedAt time.Time
}

// Manager owns token fetch, the state machine, and the two timers derived
// from FetchedAt. It is driven by a single session's supervisor: Fetch is
// called on startup and on TokenExpired/CredentialsUpdated reconnects; the
// Warn/Refresh channels surface deadline firings to the read loop's select.
type Manager struct {
	http    *resty.Client
	creds   *Handle
	nonce   *Nonce
	logger  *slog.Logger
	metrics *metrics.Registry

	mu    sync.Mutex
	state types.TokenState
	tok   Token

	warnTimer    *time.Timer
	refreshTimer *time.Timer
}

// NewManager creates a token Manager against the given REST base URL. m may
// be nil to run without metrics.
func NewManager(baseURL string, creds *Handle, nonce *Nonce, m *metrics.Registry, logger *slog.Logger) *Manager {
	return &Manager{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second).
			SetRetryCount(3).
			SetRetryWaitTime(500 * time.Millisecond).
			SetRetryMaxWaitTime(5 * time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if err != nil {
					return true
				}
				return r.StatusCode() >= 500
			}),
		creds:   creds,
		nonce:   nonce,
		logger:  logger.With("component", "token_manager"),
		metrics: m,
		state:   types.TokenUnavailable,
	}
}

func (m *Manager) recordRefresh(result string) {
	if m.metrics != nil {
		m.metrics.TokenRefreshes.WithLabelValues(result).Inc()
	}
}

// State returns the current token lifecycle state.
func (m *Manager) State() types.TokenState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

type tokenResponse struct {
	Result struct {
		Token   string `json:"token"`
		Expires int64  `json:"expires"`
	} `json:"result"`
}

// Fetch obtains a new token via the authenticated REST endpoint (§4.3
// "Fetch"). With no credentials it sets Unavailable and returns. Otherwise
// it moves to Refreshing before the request; on success it resets the two
// deadlines and transitions to Valid, and on failure the state stays
// Refreshing while the caller retries per the supervisor's backoff policy.
func (m *Manager) Fetch(ctx context.Context) error {
	creds := m.creds.Load()
	if creds.IsZero() {
		m.mu.Lock()
		m.state = types.TokenUnavailable
		m.mu.Unlock()
		m.recordRefresh("no_credentials")
		return fmt.Errorf("fetch token: no credentials")
	}

	m.setState(types.TokenRefreshing)

	n := m.nonce.Next()
	nonceASCII := strconv.FormatInt(n, 10)
	body := "nonce=" + nonceASCII

	sig, err := SignRequest(creds.APISecret, tokenPath, nonceASCII, body)
	if err != nil {
		m.recordRefresh("sign_error")
		return fmt.Errorf("sign token request: %w", err)
	}

	var result tokenResponse
	resp, err := m.http.R().
		SetContext(ctx).
		SetHeader("API-Key", creds.APIKey).
		SetHeader("API-Sign", sig).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(body).
		SetResult(&result).
		Post(tokenPath)
	if err != nil {
		m.recordRefresh("network_error")
		return fmt.Errorf("fetch token: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		m.recordRefresh("http_error")
		return &AuthFailedError{Status: resp.StatusCode()}
	}

	now := time.Now()
	m.mu.Lock()
	m.tok = Token{Value: result.Result.Token, FetchedAt: now}
	m.state = types.TokenValid
	m.resetTimersLocked()
	m.mu.Unlock()

	m.recordRefresh("success")
	m.logger.Info("token fetched", "expires_hint", result.Result.Expires)
	return nil
}

// Current returns the currently held token.
func (m *Manager) Current() Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tok
}

// MarkUsed records the token's last-used timestamp.
func (m *Manager) MarkUsed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tok.LastUsedAt = time.Now()
}

func (m *Manager) setState(s types.TokenState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// resetTimersLocked (re)starts the warn/refresh timers from FetchedAt.
// Caller must hold m.mu.
func (m *Manager) resetTimersLocked() {
	if m.warnTimer != nil {
		m.warnTimer.Stop()
	}
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
	}
	m.warnTimer = time.NewTimer(warnDeadline)
	m.refreshTimer = time.NewTimer(refreshDeadline)
}

// WarnC fires once per token at the 9-minute warning deadline.
func (m *Manager) WarnC() <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.warnTimer == nil {
		return nil
	}
	return m.warnTimer.C
}

// RefreshC fires once per token at the 12-minute refresh deadline,
// signaling the read loop to terminate with cause TokenExpired.
func (m *Manager) RefreshC() <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refreshTimer == nil {
		return nil
	}
	return m.refreshTimer.C
}

// SetExpiringSoon transitions the state machine on warn-deadline firing.
func (m *Manager) SetExpiringSoon() {
	m.setState(types.TokenExpiringSoon)
}

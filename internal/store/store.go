// Package store persists the two operator-facing JSON documents named in
// spec.md §6 "Persisted state": hard risk limits, loaded read-only at
// startup, and advisory agent risk parameters, editable at runtime via the
// operator overlay. Writes use the teacher's atomic write-to-tmp-then-rename
// pattern so a crash mid-save never corrupts the file on disk.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	riskLimitsFile  = "risk_limits.json"
	agentParamsFile = "agent_risk_params.json"
)

// RiskLimits are the hard limits loaded once at startup and never rewritten
// by the core itself (§6 "hard risk limits (read-only at runtime)").
type RiskLimits struct {
	MaxOrderNotional float64 `json:"max_order_notional"`
	MaxOpenOrders    int     `json:"max_open_orders"`
	MaxSymbols       int     `json:"max_symbols"`
}

// AgentRiskParams are advisory parameters the operator can edit at runtime
// via EditRiskParam; the core neither enforces them nor sends them to the
// agent (the agent's risk_limits command carries RiskLimits only).
type AgentRiskParams struct {
	Params map[string]float64 `json:"params"`
}

// Store persists both documents in a single directory, mirroring the
// teacher's one-directory-per-kind-of-file layout.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open creates a Store backed by dir, creating it if necessary.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

// LoadRiskLimits reads the hard risk limits file. A missing file is not an
// error: it returns the zero value so the caller can apply defaults.
func (s *Store) LoadRiskLimits() (RiskLimits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var limits RiskLimits
	data, err := os.ReadFile(filepath.Join(s.dir, riskLimitsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return limits, nil
		}
		return limits, fmt.Errorf("read risk limits: %w", err)
	}
	if err := json.Unmarshal(data, &limits); err != nil {
		return limits, fmt.Errorf("unmarshal risk limits: %w", err)
	}
	return limits, nil
}

// LoadAgentRiskParams reads the advisory agent risk parameters. A missing
// file is not an error: it returns an empty map.
func (s *Store) LoadAgentRiskParams() (AgentRiskParams, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	params := AgentRiskParams{Params: make(map[string]float64)}
	data, err := os.ReadFile(filepath.Join(s.dir, agentParamsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return params, nil
		}
		return params, fmt.Errorf("read agent risk params: %w", err)
	}
	if err := json.Unmarshal(data, &params); err != nil {
		return params, fmt.Errorf("unmarshal agent risk params: %w", err)
	}
	if params.Params == nil {
		params.Params = make(map[string]float64)
	}
	return params, nil
}

// SaveAgentRiskParams atomically persists the operator-edited advisory
// parameters, writing to a .tmp file then renaming over the target so a
// crash mid-save never leaves a corrupt file (§6 "written as pretty JSON").
func (s *Store) SaveAgentRiskParams(params AgentRiskParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(params, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal agent risk params: %w", err)
	}

	path := filepath.Join(s.dir, agentParamsFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write agent risk params: %w", err)
	}
	return os.Rename(tmp, path)
}

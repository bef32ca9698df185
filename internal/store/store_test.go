package store

import "testing"

func TestLoadRiskLimitsMissingReturnsZeroValue(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	limits, err := s.LoadRiskLimits()
	if err != nil {
		t.Fatalf("LoadRiskLimits: %v", err)
	}
	if limits != (RiskLimits{}) {
		t.Errorf("expected zero value, got %+v", limits)
	}
}

func TestSaveAndLoadAgentRiskParamsRoundTrips(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	params := AgentRiskParams{Params: map[string]float64{"max_notional": 500, "max_open_orders": 10}}
	if err := s.SaveAgentRiskParams(params); err != nil {
		t.Fatalf("SaveAgentRiskParams: %v", err)
	}

	loaded, err := s.LoadAgentRiskParams()
	if err != nil {
		t.Fatalf("LoadAgentRiskParams: %v", err)
	}
	if loaded.Params["max_notional"] != 500 || loaded.Params["max_open_orders"] != 10 {
		t.Errorf("loaded params = %+v, want round-trip of %+v", loaded.Params, params.Params)
	}
}

func TestSaveAgentRiskParamsOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	_ = s.SaveAgentRiskParams(AgentRiskParams{Params: map[string]float64{"k": 1}})
	_ = s.SaveAgentRiskParams(AgentRiskParams{Params: map[string]float64{"k": 2}})

	loaded, err := s.LoadAgentRiskParams()
	if err != nil {
		t.Fatalf("LoadAgentRiskParams: %v", err)
	}
	if loaded.Params["k"] != 2 {
		t.Errorf("k = %v, want 2 (latest save)", loaded.Params["k"])
	}
}

func TestLoadAgentRiskParamsMissingReturnsEmptyMap(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	loaded, err := s.LoadAgentRiskParams()
	if err != nil {
		t.Fatalf("LoadAgentRiskParams: %v", err)
	}
	if loaded.Params == nil || len(loaded.Params) != 0 {
		t.Errorf("expected empty map, got %+v", loaded.Params)
	}
}

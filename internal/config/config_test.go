package config

import "testing"

func TestDefaultBudget(t *testing.T) {
	cfg := Default()
	if cfg.Budget.MaxConcurrentRuns != 8 {
		t.Errorf("MaxConcurrentRuns = %d, want 8", cfg.Budget.MaxConcurrentRuns)
	}
	if cfg.Budget.MaxDepth != 4 {
		t.Errorf("MaxDepth = %d, want 4", cfg.Budget.MaxDepth)
	}
	if cfg.Budget.MaxChildrenPerRun != 16 {
		t.Errorf("MaxChildrenPerRun = %d, want 16", cfg.Budget.MaxChildrenPerRun)
	}
}

func TestDefaultMessageRuntime(t *testing.T) {
	cfg := Default()
	mr := cfg.MessageRuntime
	if mr.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", mr.MaxAttempts)
	}
	if mr.ReceiveLeaseMs != 60000 {
		t.Errorf("ReceiveLeaseMs = %d, want 60000", mr.ReceiveLeaseMs)
	}
	if mr.NackRequeueDelayMs != 5000 {
		t.Errorf("NackRequeueDelayMs = %d, want 5000", mr.NackRequeueDelayMs)
	}
	if mr.DedupWindowMs != 60000 {
		t.Errorf("DedupWindowMs = %d, want 60000", mr.DedupWindowMs)
	}
	if !mr.EnforceTopicPartitionOrder {
		t.Error("EnforceTopicPartitionOrder should default true")
	}
}

func TestDefaultAutoDispatchInheritsLeaseMs(t *testing.T) {
	cfg := Default()
	if cfg.AutoDispatch.Enabled {
		t.Error("AutoDispatch.Enabled should default false")
	}
	if cfg.AutoDispatch.LeaseMs != cfg.MessageRuntime.ReceiveLeaseMs {
		t.Errorf("AutoDispatch.LeaseMs = %d, want %d (= ReceiveLeaseMs)",
			cfg.AutoDispatch.LeaseMs, cfg.MessageRuntime.ReceiveLeaseMs)
	}
}

func TestDefaultSemanticRouting(t *testing.T) {
	cfg := Default()
	if cfg.SemanticRouting.Enabled {
		t.Error("SemanticRouting.Enabled should default false")
	}
	if cfg.SemanticRouting.MinScore != 0.2 {
		t.Errorf("MinScore = %v, want 0.2", cfg.SemanticRouting.MinScore)
	}
	if !cfg.SemanticRouting.PreferBindings {
		t.Error("PreferBindings should default true")
	}
}

func TestDefaultInLoopMessageInjection(t *testing.T) {
	cfg := Default()
	inj := cfg.InLoopMessageInjection
	if !inj.Enabled {
		t.Error("InLoopMessageInjection.Enabled should default true")
	}
	if inj.ReceiveLimit != 10 {
		t.Errorf("ReceiveLimit = %d, want 10", inj.ReceiveLimit)
	}
	if inj.LeaseMs != 15000 {
		t.Errorf("LeaseMs = %d, want 15000", inj.LeaseMs)
	}
}

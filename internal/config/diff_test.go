package config_test

import (
	"testing"

	"github.com/loomctx/loomctx/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogLevelInfo},
		Sync: config.SyncConfig{
			Interval:   "5m",
			Federation: []config.UpstreamConfig{{ID: "hq", URL: "https://hq.example.com"}},
		},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.SyncIntervalChanged {
		t.Error("expected SyncIntervalChanged=false for identical configs")
	}
	if d.FederationChanged {
		t.Error("expected FederationChanged=false for identical configs")
	}
	if d.PolicyFileChanged {
		t.Error("expected PolicyFileChanged=false for identical configs")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelInfo}}
	newCfg := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelDebug}}

	d := config.Diff(old, newCfg)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogLevelDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_PolicyFileChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Governance: config.GovernanceConfig{PolicyFile: "a.yaml"}}
	newCfg := &config.Config{Governance: config.GovernanceConfig{PolicyFile: "b.yaml"}}

	d := config.Diff(old, newCfg)
	if !d.PolicyFileChanged {
		t.Error("expected PolicyFileChanged=true")
	}
}

func TestDiff_SyncIntervalChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Sync: config.SyncConfig{Interval: "5m"}}
	newCfg := &config.Config{Sync: config.SyncConfig{Interval: "15m"}}

	d := config.Diff(old, newCfg)
	if !d.SyncIntervalChanged {
		t.Error("expected SyncIntervalChanged=true")
	}
	if d.NewSyncInterval != "15m" {
		t.Errorf("expected NewSyncInterval=15m, got %q", d.NewSyncInterval)
	}
}

func TestDiff_RateLimitChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Authz: config.AuthzConfig{RateLimit: config.RateLimitConfig{RequestsPerWindow: 100}}}
	newCfg := &config.Config{Authz: config.AuthzConfig{RateLimit: config.RateLimitConfig{RequestsPerWindow: 200}}}

	d := config.Diff(old, newCfg)
	if !d.RateLimitChanged {
		t.Error("expected RateLimitChanged=true")
	}
	if d.NewRateLimit.RequestsPerWindow != 200 {
		t.Errorf("expected NewRateLimit.RequestsPerWindow=200, got %d", d.NewRateLimit.RequestsPerWindow)
	}
}

func TestDiff_FederationAdded(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Sync: config.SyncConfig{Federation: []config.UpstreamConfig{{ID: "hq", URL: "https://hq.example.com"}}},
	}
	newCfg := &config.Config{
		Sync: config.SyncConfig{Federation: []config.UpstreamConfig{
			{ID: "hq", URL: "https://hq.example.com"},
			{ID: "eu", URL: "https://eu.example.com"},
		}},
	}

	d := config.Diff(old, newCfg)
	if !d.FederationChanged {
		t.Error("expected FederationChanged=true")
	}
	found := false
	for _, fd := range d.FederationDiffs {
		if fd.ID == "eu" && fd.Added {
			found = true
		}
	}
	if !found {
		t.Error("expected eu Added=true")
	}
}

func TestDiff_FederationRemoved(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Sync: config.SyncConfig{Federation: []config.UpstreamConfig{
			{ID: "hq", URL: "https://hq.example.com"},
			{ID: "eu", URL: "https://eu.example.com"},
		}},
	}
	newCfg := &config.Config{
		Sync: config.SyncConfig{Federation: []config.UpstreamConfig{{ID: "hq", URL: "https://hq.example.com"}}},
	}

	d := config.Diff(old, newCfg)
	if !d.FederationChanged {
		t.Error("expected FederationChanged=true")
	}
	found := false
	for _, fd := range d.FederationDiffs {
		if fd.ID == "eu" && fd.Removed {
			found = true
		}
	}
	if !found {
		t.Error("expected eu Removed=true")
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogLevelInfo},
		Sync:   config.SyncConfig{Interval: "5m"},
	}
	newCfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogLevelWarn},
		Sync:   config.SyncConfig{Interval: "15m"},
	}

	d := config.Diff(old, newCfg)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if !d.SyncIntervalChanged {
		t.Error("expected SyncIntervalChanged=true")
	}
}

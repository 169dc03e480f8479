package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: swapping out a
// vector or graph backend, or rotating provider credentials, requires a
// process restart and is intentionally not diffed here.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PolicyFileChanged indicates the governance policy file path changed.
	// The caller is expected to re-run [LoadPolicies] and swap the
	// governance engine's policy set.
	PolicyFileChanged bool

	// SyncIntervalChanged indicates the periodic sync trigger interval changed.
	SyncIntervalChanged bool
	NewSyncInterval     string

	// FederationChanged is true if any upstream was added or removed.
	FederationChanged bool
	FederationDiffs   []UpstreamDiff

	// RateLimitChanged indicates the authz API rate limit settings changed.
	RateLimitChanged bool
	NewRateLimit     RateLimitConfig
}

// UpstreamDiff describes a single federation upstream's change.
type UpstreamDiff struct {
	ID      string
	Added   bool
	Removed bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Governance.PolicyFile != new.Governance.PolicyFile {
		d.PolicyFileChanged = true
	}

	if old.Sync.Interval != new.Sync.Interval {
		d.SyncIntervalChanged = true
		d.NewSyncInterval = new.Sync.Interval
	}

	if old.Authz.RateLimit != new.Authz.RateLimit {
		d.RateLimitChanged = true
		d.NewRateLimit = new.Authz.RateLimit
	}

	oldUpstreams := make(map[string]UpstreamConfig, len(old.Sync.Federation))
	for _, u := range old.Sync.Federation {
		oldUpstreams[u.ID] = u
	}
	newUpstreams := make(map[string]UpstreamConfig, len(new.Sync.Federation))
	for _, u := range new.Sync.Federation {
		newUpstreams[u.ID] = u
	}

	for id := range oldUpstreams {
		if _, exists := newUpstreams[id]; !exists {
			d.FederationDiffs = append(d.FederationDiffs, UpstreamDiff{ID: id, Removed: true})
			d.FederationChanged = true
		}
	}
	for id := range newUpstreams {
		if _, exists := oldUpstreams[id]; !exists {
			d.FederationDiffs = append(d.FederationDiffs, UpstreamDiff{ID: id, Added: true})
			d.FederationChanged = true
		}
	}

	return d
}

package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
}

// validMemoryBackends and validGraphBackends/validKnowledgeBackends list the
// backend kinds recognised by [Validate]; unknown values are hard errors
// since the registry has no fallback to silently degrade to.
var (
	validMemoryBackends    = []string{"postgres", "mock"}
	validGraphBackends     = []string{"postgres", "mock"}
	validKnowledgeBackends = []string{"git"}
	validSyncLockers       = []string{"memory", "redis"}
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.LLM.Name == "" && cfg.RLM.Enabled {
		errs = append(errs, errors.New("rlm.enabled is true but providers.llm is not configured"))
	}

	// Embeddings ↔ memory dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Memory.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but memory.embedding_dimensions is not set; no default dimension is applied")
	}

	// Memory backend
	if !slices.Contains(validMemoryBackends, cfg.Memory.Backend) {
		errs = append(errs, fmt.Errorf("memory.backend %q is invalid; valid values: %v", cfg.Memory.Backend, validMemoryBackends))
	}
	if cfg.Memory.Backend == "postgres" && cfg.Memory.PostgresDSN == "" {
		errs = append(errs, errors.New("memory.backend is \"postgres\" but memory.postgres_dsn is empty"))
	}

	// Graph backend
	if cfg.Graph.Backend != "" && !slices.Contains(validGraphBackends, cfg.Graph.Backend) {
		errs = append(errs, fmt.Errorf("graph.backend %q is invalid; valid values: %v", cfg.Graph.Backend, validGraphBackends))
	}

	// Knowledge backend
	if cfg.Knowledge.Backend != "" && !slices.Contains(validKnowledgeBackends, cfg.Knowledge.Backend) {
		errs = append(errs, fmt.Errorf("knowledge.backend %q is invalid; valid values: %v", cfg.Knowledge.Backend, validKnowledgeBackends))
	}

	// Sync
	if cfg.Sync.Locker != "" && !slices.Contains(validSyncLockers, cfg.Sync.Locker) {
		errs = append(errs, fmt.Errorf("sync.locker %q is invalid; valid values: %v", cfg.Sync.Locker, validSyncLockers))
	}
	if cfg.Sync.Locker == "redis" && cfg.Sync.RedisAddr == "" {
		errs = append(errs, errors.New("sync.locker is \"redis\" but sync.redis_addr is empty"))
	}
	for i, up := range cfg.Sync.Federation {
		prefix := fmt.Sprintf("sync.federation[%d]", i)
		if up.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		}
		if up.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required", prefix))
		}
	}

	// RLM
	if cfg.RLM.Enabled && cfg.RLM.MaxSteps <= 0 {
		errs = append(errs, errors.New("rlm.max_steps must be positive when rlm.enabled is true"))
	}
	if cfg.RLM.ComplexityThreshold < 0 || cfg.RLM.ComplexityThreshold > 1 {
		errs = append(errs, fmt.Errorf("rlm.complexity_threshold %.2f is out of range [0, 1]", cfg.RLM.ComplexityThreshold))
	}

	// Authz
	if cfg.Authz.CDC.DSN != "" && cfg.Authz.CDC.Channel == "" {
		slog.Warn("authz.cdc.dsn is set but authz.cdc.channel is empty; the listener default will be used")
	}
	if cfg.Authz.RateLimit.RequestsPerWindow < 0 {
		errs = append(errs, errors.New("authz.rate_limit.requests_per_window must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

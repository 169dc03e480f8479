package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/loomctx/loomctx/internal/app"
	"github.com/loomctx/loomctx/internal/config"
	embeddingsmock "github.com/loomctx/loomctx/pkg/provider/embeddings/mock"
	llmmock "github.com/loomctx/loomctx/pkg/provider/llm/mock"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: ":0",
			LogLevel:   config.LogLevelInfo,
		},
		Memory: config.MemoryConfig{
			Backend:             "mock",
			EmbeddingDimensions: 8,
		},
		Graph:     config.GraphConfig{Backend: "mock"},
		Knowledge: config.KnowledgeConfig{Backend: "git"},
		Sync:      config.SyncConfig{Locker: "memory"},
		RLM:       config.RLMConfig{Enabled: false},
	}
}

func testProviders() *app.Providers {
	return &app.Providers{
		LLM:        &llmmock.Provider{},
		Embeddings: &embeddingsmock.Provider{DimensionsValue: 8},
	}
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), testProviders())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Shutdown(context.Background())

	if a.Memory() == nil {
		t.Error("expected memory engine to be wired")
	}
	if a.Graph() == nil {
		t.Error("expected graph store to be wired")
	}
	if a.Knowledge() == nil {
		t.Error("expected knowledge repository to be wired")
	}
	if a.KnowledgeManager() == nil {
		t.Error("expected knowledge manager to be wired")
	}
	if a.Governance() == nil {
		t.Error("expected governance engine to be wired")
	}
	if a.Sync() == nil {
		t.Error("expected sync manager to be wired")
	}
	if a.RLM() != nil {
		t.Error("expected no rlm executor when rlm is disabled")
	}
	if a.AuthzEngine() == nil {
		t.Error("expected authz engine to be wired")
	}
	if a.ToolServer() == nil {
		t.Error("expected tool server to be wired")
	}
	if a.Health() == nil {
		t.Error("expected health handler to be wired")
	}
}

func TestNew_RLMEnabledWithoutLLMProvider(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.RLM = config.RLMConfig{Enabled: true, MaxSteps: 3, ComplexityThreshold: 0.3}

	providers := testProviders()
	providers.LLM = nil

	_, err := app.New(context.Background(), cfg, providers)
	if err == nil {
		t.Fatal("expected error when rlm is enabled without an llm provider")
	}
}

func TestNew_RLMEnabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.RLM = config.RLMConfig{Enabled: true, MaxSteps: 3, ComplexityThreshold: 0.3}

	a, err := app.New(context.Background(), cfg, testProviders())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Shutdown(context.Background())

	if a.RLM() == nil {
		t.Error("expected rlm executor to be wired when enabled")
	}
}

func TestNew_NoEmbeddingsProvider(t *testing.T) {
	t.Parallel()

	providers := testProviders()
	providers.Embeddings = nil

	_, err := app.New(context.Background(), testConfig(), providers)
	if err == nil {
		t.Fatal("expected error when no embeddings provider is configured")
	}
}

func TestNew_UnsupportedMemoryBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Memory.Backend = "dynamodb"

	_, err := app.New(context.Background(), cfg, testProviders())
	if err == nil {
		t.Fatal("expected error for unsupported memory backend")
	}
}

func TestShutdown_IsIdempotent(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), testProviders())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("first shutdown: unexpected error: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("second shutdown: unexpected error: %v", err)
	}
}

func TestRun_ReturnsOnContextCancel(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), testProviders())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = a.Run(ctx)
	if err == nil {
		t.Error("expected Run to return an error when context is cancelled")
	}
}

// Package app wires every loomctx subsystem — memory, knowledge, governance,
// sync, graph, the RLM planner, authorization, and the tool server — into one
// running process.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/loomctx/loomctx/internal/config"
	"github.com/loomctx/loomctx/internal/health"
	"github.com/loomctx/loomctx/internal/toolserver"
	"github.com/loomctx/loomctx/pkg/authz"
	"github.com/loomctx/loomctx/pkg/authz/cdc"
	"github.com/loomctx/loomctx/pkg/authz/httpapi"
	"github.com/loomctx/loomctx/pkg/governance"
	"github.com/loomctx/loomctx/pkg/graph"
	graphmock "github.com/loomctx/loomctx/pkg/graph/mock"
	graphpostgres "github.com/loomctx/loomctx/pkg/graph/postgres"
	"github.com/loomctx/loomctx/pkg/identity"
	"github.com/loomctx/loomctx/pkg/knowledge"
	"github.com/loomctx/loomctx/pkg/knowledge/gitrepo"
	knowledgemanager "github.com/loomctx/loomctx/pkg/knowledge/manager"
	"github.com/loomctx/loomctx/pkg/memory"
	memorymock "github.com/loomctx/loomctx/pkg/memory/mock"
	memorypostgres "github.com/loomctx/loomctx/pkg/memory/postgres"
	"github.com/loomctx/loomctx/pkg/provider/embeddings"
	"github.com/loomctx/loomctx/pkg/provider/llm"
	"github.com/loomctx/loomctx/pkg/rlm"
	"github.com/loomctx/loomctx/pkg/sync"
	synclock "github.com/loomctx/loomctx/pkg/sync/lock"
)

// Providers carries the external model backends the platform drives: an LLM
// for the RLM planner and an embeddings backend for memory search. Every
// other subsystem (storage, governance, sync, authz) is built from cfg
// alone.
type Providers struct {
	LLM        llm.Provider
	Embeddings embeddings.Provider
}

// Option customises App construction, primarily so tests can inject fakes in
// place of the backends New would otherwise build from cfg.
type Option func(*App)

// WithGraphStore overrides the graph store New would otherwise build from
// cfg.Graph.Backend.
func WithGraphStore(g graph.Store) Option {
	return func(a *App) { a.graph = g }
}

// WithKnowledgeRepository overrides the knowledge repository New would
// otherwise build from cfg.Knowledge.Backend.
func WithKnowledgeRepository(repo knowledge.Repository) Option {
	return func(a *App) { a.knowledge = repo }
}

// WithSyncLocker overrides the distributed lock New would otherwise build
// from cfg.Sync.Locker.
func WithSyncLocker(l sync.Locker) Option {
	return func(a *App) { a.syncLocker = l }
}

// App holds every wired subsystem and the teardown closures needed to
// release them in reverse order of acquisition.
type App struct {
	cfg       *config.Config
	providers *Providers

	memory       *memory.Engine
	graph        graph.Store
	knowledge    knowledge.Repository
	knowledgeMgr *knowledgemanager.Manager
	governance   *governance.Engine
	syncMgr      *sync.Manager
	syncLocker   sync.Locker
	rlmExec      *rlm.Executor

	authzCache  *authz.Cache
	authzEngine *authz.Engine
	authzAPI    *httpapi.Server
	cdcListener *cdc.Listener

	toolServer *toolserver.Server

	authzListenAddr string
	authzServer     *http.Server
	healthHandler   *health.Handler

	closers  []func() error
	stopOnce sync.Once
}

// New builds every subsystem described by cfg, wires it into an App, and
// returns it ready to Run. On any failure it releases whatever was already
// acquired before returning the error.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, providers: providers, authzListenAddr: cfg.Authz.ListenAddr}
	for _, opt := range opts {
		opt(a)
	}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"graph", a.initGraph},
		{"memory", a.initMemory},
		{"knowledge", a.initKnowledge},
		{"governance", func(context.Context) error { return a.initGovernance() }},
		{"sync", func(context.Context) error { return a.initSync() }},
		{"rlm", func(context.Context) error { return a.initRLM() }},
		{"authz", a.initAuthz},
		{"tool server", func(context.Context) error { return a.initToolServer() }},
	}

	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			_ = a.Shutdown(context.Background())
			return nil, fmt.Errorf("init %s: %w", step.name, err)
		}
	}
	a.initHealth()

	return a, nil
}

// ── 1. graph ─────────────────────────────────────────────────────────────────

func (a *App) initGraph(ctx context.Context) error {
	if a.graph != nil {
		return nil
	}

	switch a.cfg.Graph.Backend {
	case "", "mock":
		a.graph = graphmock.New()
		return nil
	case "postgres":
		dsn := a.cfg.Graph.PostgresDSN
		if dsn == "" {
			dsn = a.cfg.Memory.PostgresDSN
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return fmt.Errorf("open postgres pool for graph: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return fmt.Errorf("ping postgres pool for graph: %w", err)
		}
		if err := graphpostgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		a.graph = graphpostgres.New(pool)
		return nil
	default:
		return fmt.Errorf("unsupported graph backend %q", a.cfg.Graph.Backend)
	}
}

// ── 2. memory ────────────────────────────────────────────────────────────────

func (a *App) initMemory(ctx context.Context) error {
	if a.providers.Embeddings == nil {
		return fmt.Errorf("no embeddings provider configured")
	}

	eng := memory.NewEngine(a.providers.Embeddings, a.graph)
	a.memory = eng

	switch a.cfg.Memory.Backend {
	case "mock":
		backend := memorymock.NewBackend()
		for _, layer := range memory.AllLayers() {
			eng.Register(layer, memorymock.NewProvider(layer, backend))
		}
	case "postgres":
		store, err := memorypostgres.NewStore(ctx, a.cfg.Memory.PostgresDSN, a.cfg.Memory.EmbeddingDimensions)
		if err != nil {
			return fmt.Errorf("open postgres memory store: %w", err)
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		for _, layer := range memory.AllLayers() {
			eng.Register(layer, store.Provider(layer))
		}
	default:
		return fmt.Errorf("unsupported memory backend %q", a.cfg.Memory.Backend)
	}

	for layerName, threshold := range a.cfg.Memory.PromotionThresholds {
		layer, ok := memoryLayerByName(layerName)
		if !ok {
			slog.Warn("ignoring promotion threshold for unknown layer", "layer", layerName)
			continue
		}
		eng.SetPromotionThreshold(layer, threshold)
	}

	return nil
}

func memoryLayerByName(name string) (memory.Layer, bool) {
	for _, l := range memory.AllLayers() {
		if l.String() == name {
			return l, true
		}
	}
	return memory.Layer(0), false
}

// ── 3. knowledge ─────────────────────────────────────────────────────────────

func (a *App) initKnowledge(context.Context) error {
	if a.knowledge == nil {
		switch a.cfg.Knowledge.Backend {
		case "", "git":
			a.knowledge = gitrepo.New()
		default:
			return fmt.Errorf("unsupported knowledge backend %q", a.cfg.Knowledge.Backend)
		}
	}
	return nil
}

// ── 4. governance ────────────────────────────────────────────────────────────

func (a *App) initGovernance() error {
	eng := governance.NewEngine()
	policies, err := config.LoadPolicies(a.cfg.Governance.PolicyFile)
	if err != nil {
		return fmt.Errorf("load policies: %w", err)
	}
	for _, p := range policies {
		eng.AddPolicy(p)
	}
	a.governance = eng
	a.knowledgeMgr = knowledgemanager.New(a.knowledge, eng)
	return nil
}

// ── 5. sync ──────────────────────────────────────────────────────────────────

func (a *App) initSync() error {
	persister := sync.NewMemStatePersister()

	if a.syncLocker == nil {
		switch a.cfg.Sync.Locker {
		case "", "memory":
			a.syncLocker = sync.NewMemLocker()
		case "redis":
			client := redis.NewClient(&redis.Options{Addr: a.cfg.Sync.RedisAddr})
			a.closers = append(a.closers, client.Close)
			a.syncLocker = synclock.NewRedisLocker(client, a.cfg.Sync.LockKeyPrefix)
		default:
			return fmt.Errorf("unsupported sync locker %q", a.cfg.Sync.Locker)
		}
	}

	a.syncMgr = sync.NewManager(a.memory, a.knowledge, a.governance, persister, a.syncLocker)
	return nil
}

// ── 6. RLM planner ───────────────────────────────────────────────────────────

func (a *App) initRLM() error {
	rlmCfg := rlmConfigFrom(a.cfg.RLM)
	if rlmCfg.Enabled {
		if a.providers.LLM == nil {
			return fmt.Errorf("rlm is enabled but no llm provider is configured")
		}
		a.rlmExec = rlm.NewExecutor(a.providers.LLM, a.memory, a.graph, rlmCfg)
	}
	return nil
}

func rlmConfigFrom(cfg config.RLMConfig) rlm.Config {
	return rlm.Config{
		Enabled:             cfg.Enabled,
		MaxSteps:            cfg.MaxSteps,
		ComplexityThreshold: cfg.ComplexityThreshold,
	}
}

// ── 7. authorization ─────────────────────────────────────────────────────────

func (a *App) initAuthz(ctx context.Context) error {
	a.authzCache = authz.NewCache()
	a.authzEngine = authz.NewEngine(a.authzCache)

	if a.cfg.Authz.CDC.DSN != "" {
		listener, err := cdc.NewListener(ctx, cdc.Config{
			DSN:         a.cfg.Authz.CDC.DSN,
			Channel:     a.cfg.Authz.CDC.Channel,
			BreakerName: "authz-cdc",
		}, a.authzCache)
		if err != nil {
			return fmt.Errorf("start authz cdc listener: %w", err)
		}
		a.cdcListener = listener
		a.closers = append(a.closers, func() error { listener.Close(); return nil })
	}

	keys, err := config.LoadAPIKeys(a.cfg.Authz.APIKeysFile)
	if err != nil {
		return fmt.Errorf("load api keys: %w", err)
	}
	keyStore := make(httpapi.MapKeyStore, len(keys))
	for key, tenant := range keys {
		keyStore[key] = identity.TenantID(tenant)
	}

	rlCfg := httpapi.RateLimiterConfig{
		RequestsPerWindow: a.cfg.Authz.RateLimit.RequestsPerWindow,
		Window:            time.Duration(a.cfg.Authz.RateLimit.WindowSeconds) * time.Second,
	}
	a.authzAPI = httpapi.NewServer(a.authzCache, keyStore, rlCfg, []byte(a.cfg.Authz.WebhookHMACSecret))

	if a.authzListenAddr != "" {
		srv := &http.Server{Addr: a.authzListenAddr, Handler: a.authzAPI}
		a.authzServer = srv
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("authz http server stopped", "err", err)
			}
		}()
		a.closers = append(a.closers, func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return nil
}

// ── 8. tool server ───────────────────────────────────────────────────────────

func (a *App) initToolServer() error {
	srv, err := toolserver.NewServer(toolserver.Config{
		Memory:     a.memory,
		Knowledge:  a.knowledge,
		Governance: a.governance,
		Sync:       a.syncMgr,
		Graph:      a.graph,
		Planner:    a.providers.LLM,
		RLM:        rlmConfigFrom(a.cfg.RLM),
	})
	if err != nil {
		return fmt.Errorf("build tool server: %w", err)
	}
	a.toolServer = srv
	return nil
}

// ── 9. health ────────────────────────────────────────────────────────────────

func (a *App) initHealth() {
	checkers := []health.Checker{
		{Name: "memory", Check: func(context.Context) error {
			if a.memory == nil {
				return fmt.Errorf("memory engine not initialised")
			}
			return nil
		}},
	}
	if a.cdcListener != nil {
		checkers = append(checkers, health.Checker{
			Name:  "authz_cdc",
			Check: func(ctx context.Context) error { return nil },
		})
	}
	a.healthHandler = health.New(checkers...)

	if a.cfg.Server.ListenAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.healthHandler.Healthz)
	mux.HandleFunc("/readyz", a.healthHandler.Readyz)
	srv := &http.Server{Addr: a.cfg.Server.ListenAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health http server stopped", "err", err)
		}
	}()
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// ── accessors ────────────────────────────────────────────────────────────────

func (a *App) Memory() *memory.Engine                    { return a.memory }
func (a *App) Graph() graph.Store                        { return a.graph }
func (a *App) Knowledge() knowledge.Repository           { return a.knowledge }
func (a *App) KnowledgeManager() *knowledgemanager.Manager { return a.knowledgeMgr }
func (a *App) Governance() *governance.Engine            { return a.governance }
func (a *App) Sync() *sync.Manager                       { return a.syncMgr }
func (a *App) RLM() *rlm.Executor                        { return a.rlmExec }
func (a *App) AuthzEngine() *authz.Engine                { return a.authzEngine }
func (a *App) ToolServer() *toolserver.Server            { return a.toolServer }
func (a *App) Health() *health.Handler                   { return a.healthHandler }

// ── lifecycle ────────────────────────────────────────────────────────────────

// Run blocks until ctx is cancelled. The health endpoints and the authz
// API (when their listen addresses are set) are already serving by the
// time Run is called; Run exists to give main a single blocking call to
// wait on.
func (a *App) Run(ctx context.Context) error {
	slog.Info("app running")
	<-ctx.Done()
	return ctx.Err()
}

// Shutdown releases every acquired resource in reverse order of
// acquisition, stopping at ctx's deadline if one is reached. It is safe to
// call multiple times; only the first call has effect.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining_closers", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("error releasing resource during shutdown", "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

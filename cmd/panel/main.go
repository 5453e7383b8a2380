// Package main is the entry point of the settings panel server. It wires the
// dependencies together and serves the panel API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/fedipanel/internal/capability"
	"github.com/pitabwire/fedipanel/internal/config"
	"github.com/pitabwire/fedipanel/internal/definition"
	"github.com/pitabwire/fedipanel/internal/form"
	"github.com/pitabwire/fedipanel/internal/invoker"
	"github.com/pitabwire/fedipanel/internal/metadata"
	"github.com/pitabwire/fedipanel/internal/mutation"
	"github.com/pitabwire/fedipanel/internal/navigation"
	"github.com/pitabwire/fedipanel/internal/observability"
	"github.com/pitabwire/fedipanel/internal/openapi"
	"github.com/pitabwire/fedipanel/internal/session"
	"github.com/pitabwire/fedipanel/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

const (
	serviceName   = "fedipanel"
	previewPrefix = "/ui/previews/"
	sweepInterval = time.Minute
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Telemetry.
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, serviceName, version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Backend operation index.
	var index *openapi.Index
	if cfg.Backend.SpecFile != "" {
		index = openapi.NewIndex()
		if err := index.Load(ctx, cfg.Backend.SpecFile); err != nil {
			logger.Error("OpenAPI index load failed", zap.Error(err))
			return 1
		}
		metrics.SetOpenAPIOperationsIndexed(len(index.OperationIDs()))
	}

	// Backend client.
	breaker := invoker.NewBreaker(cfg.Backend.CircuitBreaker, invoker.WithStateHook(func(s invoker.BreakerState) {
		metrics.SetBackendCircuitBreakerState(breakerGauge(s))
		logger.Warn("backend circuit breaker changed state", zap.Stringer("state", s))
	}))
	backend := invoker.NewClient(cfg.Backend, index,
		invoker.WithLogger(logger.Named("invoker")),
		invoker.WithBreaker(breaker),
		invoker.WithObserver(metrics.RecordBackendRequest),
	)

	// Definitions.
	validator := definition.NewValidator(cfg.Navigation.BuiltinViews...)
	defs, err := definition.NewLoader().LoadAll(cfg.Definitions.Directories)
	if err != nil {
		logger.Error("definition loading failed", zap.Error(err))
		return 1
	}
	if verrs := validator.Validate(defs, index); len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("definition validation error", zap.String("error", ve.Error()))
		}
		logger.Error("definition validation failed", zap.Int("errors", len(verrs)))
		return 1
	}
	registry := definition.NewRegistry(defs)
	metrics.SetFormsLoaded(len(registry.FormIDs()))

	// Role expansion.
	policy, err := capability.NewStaticPolicy(cfg.Capability.PolicyFile)
	if err != nil {
		logger.Error("capability policy load failed", zap.Error(err))
		return 1
	}
	resolver := capability.NewResolver(policy, cfg.Capability.Cache.TTL)

	// Shared Redis client for the stores that need one.
	var rdb *redis.Client
	if cfg.Session.Store == config.DriverRedis || cfg.Submission.Guard == config.DriverRedis {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address(), DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("redis unreachable", zap.String("addr", cfg.Redis.Address()), zap.Error(err))
			return 1
		}
	}

	readiness := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return len(registry.Panels()) > 0 },
		BackendAvailable:  func() bool { return breaker.State() != invoker.BreakerOpen },
	}

	// Sessions.
	verifier, err := session.NewVerifier(cfg.Identity)
	if err != nil {
		logger.Error("token verifier initialization failed", zap.Error(err))
		return 1
	}
	var store session.Store
	var memStore *session.MemoryStore
	switch cfg.Session.Store {
	case config.DriverRedis:
		redisStore := session.NewRedisStore(rdb)
		readiness.SessionStore = redisStore
		store = redisStore
	default:
		memStore = session.NewMemoryStore()
		store = memStore
	}

	// The form provider is created after the session manager but released
	// drafts must follow every session end, so the hook closes over it.
	var forms *metadata.FormProvider
	sessions := session.NewManager(store, verifier, cfg.Session.TTL, session.WithEndHook(func(id string) {
		resolver.Invalidate(id)
		if forms != nil {
			forms.ReleaseSession(id)
		}
		metrics.RecordSession("ended")
	}))

	// Submission guard and previews.
	var guard mutation.InFlightGuard
	switch cfg.Submission.Guard {
	case config.DriverRedis:
		redisGuard := mutation.NewRedisGuard(rdb)
		readiness.SubmissionGuard = redisGuard
		guard = redisGuard
	default:
		guard = mutation.NewMemoryGuard()
	}
	previews := form.NewMemoryPreviews(previewPrefix, cfg.Submission.PreviewTTL)

	// Providers.
	menuCache := navigation.NewCache(registry.Navigation(),
		navigation.Options{BasePath: cfg.Navigation.BasePath},
		navigation.WithCompileHook(metrics.RecordNavigationCompile),
	)
	menu := metadata.NewMenuProvider(resolver, menuCache)

	formOpts := []metadata.FormOption{
		metadata.WithPreviews(previews),
		metadata.WithGuard(guard, cfg.Submission.GuardTTL),
		metadata.WithSessionEnder(sessions),
		metadata.WithSubmitObserver(metrics.RecordSubmission),
		metadata.WithDraftTTL(cfg.Submission.PreviewTTL),
	}
	if index != nil {
		formOpts = append(formOpts, metadata.WithOperationIndex(index))
	}
	forms = metadata.NewFormProvider(registry, resolver, backend, formOpts...)

	// Hot reload.
	reloader := definition.NewReloader(registry, validator, index, cfg.Definitions.Directories,
		definition.WithReloadLogger(logger.Named("definitions")),
		definition.WithResultHook(metrics.RecordDefinitionReload),
	)
	reloader.OnReload(func(r *definition.Registry) {
		menu.Replace(r.Navigation())
		metrics.SetFormsLoaded(len(r.FormIDs()))
		if err := policy.Sync(); err != nil {
			logger.Warn("capability policy reload failed, keeping previous policy", zap.Error(err))
		}
		resolver.Flush()
	})

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	if cfg.Definitions.HotReload {
		go func() {
			if err := reloader.Watch(bgCtx); err != nil {
				logger.Error("definition watcher stopped", zap.Error(err))
			}
		}()
	}
	go sweep(bgCtx, memStore, forms, logger)

	// HTTP server.
	router := transport.NewRouter(transport.Dependencies{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics,
		Sessions:  sessions,
		Menu:      menu,
		Forms:     forms,
		Previews:  previews,
		Readiness: readiness,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("panels", len(defs)),
		zap.Int("forms", len(registry.FormIDs())),
		zap.String("checksum", registry.Checksum()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	bgCancel()

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// breakerGauge maps a breaker state onto the gauge scale: 0 closed,
// 1 half-open, 2 open.
func breakerGauge(s invoker.BreakerState) float64 {
	switch s {
	case invoker.BreakerHalfOpen:
		return 1
	case invoker.BreakerOpen:
		return 2
	default:
		return 0
	}
}

// sweep expires staged previews and, with the memory store, sessions.
// Redis expires sessions itself, so store is nil there.
func sweep(ctx context.Context, store *session.MemoryStore, forms *metadata.FormProvider, logger *zap.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if store != nil {
				if n := store.Sweep(); n > 0 {
					logger.Debug("expired sessions swept", zap.Int("count", n), zap.Int("live", store.Len()))
				}
			}
			if n := forms.SweepDrafts(); n > 0 {
				logger.Debug("expired preview drafts swept", zap.Int("count", n))
			}
		}
	}
}

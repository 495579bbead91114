package serverapp

import (
	"context"
	"fmt"
	"log/slog"

	"reportql/internal/catalog"
	"reportql/internal/dbexec"
	"reportql/internal/planner"
	"reportql/internal/resultcache"
)

// Init initializes all runtime resources. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			cleanup.run(context.Background(), a.logger)
		}
	}()

	if a.loggerProvider != nil {
		cleanup.push("logger provider", func(shutdownCtx context.Context) error {
			return a.loggerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	meterProvider, queryMetrics, refreshMetrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	a.logger.Info("connecting to PostgreSQL",
		slog.String("host", a.cfg.Database.Host),
		slog.Int("port", a.cfg.Database.Port),
		slog.String("database", a.effectiveDatabase),
		slog.Bool("dsn_present", a.dsnPresent),
	)

	db, dbStatsReg, err := connectDB(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	cleanup.push("database", func(_ context.Context) error {
		if dbStatsReg != nil {
			if err := dbStatsReg.Unregister(); err != nil {
				a.logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
			}
		}
		return db.Close()
	})

	if err := configureDatabase(ctx, a.cfg, a.logger, db, a.effectiveDatabase); err != nil {
		return fmt.Errorf("failed to verify database connection: %w", err)
	}

	schemaCatalog := catalog.New(catalog.NewPostgresSource(db, a.cfg.Database.SchemaName))
	queryPlanner := planner.New(schemaCatalog, planner.WithLogger(a.logger.Logger))
	queryExecutor := dbexec.NewStandardExecutor(db)

	var resultCache *resultcache.Cache
	var jobRunner *resultcache.Runner
	if a.cfg.Cache.Enabled {
		resultCache = resultcache.NewCache()
		jobRunner = resultcache.NewRunner(resultCache, a.cfg.Cache.ResultTTL)
		cleanup.push("job runner", func(_ context.Context) error {
			jobRunner.Wait()
			return nil
		})
		a.logger.Info("result cache enabled",
			slog.Duration("result_ttl", a.cfg.Cache.ResultTTL),
		)
	}

	api := &queryAPI{
		cfg:            a.cfg,
		logger:         a.logger,
		catalog:        schemaCatalog,
		planner:        queryPlanner,
		executor:       queryExecutor,
		cache:          resultCache,
		jobs:           jobRunner,
		metrics:        queryMetrics,
		refreshMetrics: refreshMetrics,
	}

	apiHandler, err := buildAPIHandler(a.cfg, a.logger, api)
	if err != nil {
		return fmt.Errorf("failed to initialize query API handler: %w", err)
	}

	mux := buildRouter(a.cfg, a.logger, db, apiHandler, meterProvider)
	handler := wrapHTTPHandler(a.cfg, a.logger, mux)

	serverAddr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv := buildServer(a.cfg, handler, serverAddr)
	cleanup.push("HTTP server", func(shutdownCtx context.Context) error {
		return srv.Shutdown(shutdownCtx)
	})

	a.stateMu.Lock()
	a.meterProvider = meterProvider
	a.queryMetrics = queryMetrics
	a.refreshMetrics = refreshMetrics
	a.tracerProvider = tracerProvider
	a.db = db
	a.dbStatsReg = dbStatsReg
	a.catalog = schemaCatalog
	a.planner = queryPlanner
	a.queryExecutor = queryExecutor
	a.resultCache = resultCache
	a.jobRunner = jobRunner
	a.apiHandler = apiHandler
	a.mux = mux
	a.handler = handler
	a.serverAddr = serverAddr
	a.srv = srv
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}

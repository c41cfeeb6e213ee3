package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"salesmerge/internal/config"
	"salesmerge/internal/middleware"
	"salesmerge/internal/models"
	"salesmerge/internal/observability"
	"salesmerge/internal/server"
	"salesmerge/internal/services"
	"salesmerge/internal/session"
	"salesmerge/internal/ui/templates"
)

const renderTimeout = 10 * time.Second

// newDashboardHandler renders the page for the caller's session.
func newDashboardHandler(displayRows int, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), renderTimeout)
		defer cancel()

		view := templates.DashboardView{DisplayRows: displayRows}
		if pipeline, ok := session.Pipeline(ctx); ok {
			settings := pipeline.Settings()
			view.Countries, view.Country = pipeline.Countries()
			view.TopN = settings.TopN
			view.Mapped = len(pipeline.Categories())
			if records, err := pipeline.Records(); err == nil {
				view.Records = records
			}
			if rows, err := pipeline.TopN(ctx, view.Country, view.TopN); err == nil {
				view.Preview = rows
			}
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if err := templates.Dashboard(view).Render(ctx, w); err != nil {
			logger.Error("render dashboard", "error", err)
			http.Error(w, "render error", http.StatusInternalServerError)
		}
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Logger)
	slog.SetDefault(logger)

	logger.Info("starting application",
		"version", "1.0.0",
		"config", cfg,
	)

	opts, err := services.OptionsFromConfig(cfg.Pipeline)
	if err != nil {
		logger.Error("invalid pipeline options", "error", err)
		os.Exit(1)
	}
	logger.Info("pipeline configured",
		"coercion", opts.Coercion,
		"descriptors", opts.Descriptors,
		"drop_sub_header", opts.DropSubHeader,
		"sub_header_row", services.SubHeaderRowIndex,
		"all_countries", models.AllCountries,
	)

	sessions := session.NewStore(cfg.Session.TTL, func() *services.Pipeline {
		return services.NewPipeline(opts, logger)
	}, logger)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go sessions.Run(sweepCtx, cfg.Session.SweepInterval)

	templateHandlers := &server.TemplateHandlers{
		Dashboard: newDashboardHandler(cfg.Pipeline.DisplayRows, logger),
	}

	srv := server.NewServer(sessions, cfg, logger, templateHandlers)

	rateLimiter := middleware.NewRateLimiter(cfg.Security)

	middlewareChain := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.Tracing(logger),
		middleware.SecurityHeaders(),
		middleware.CORS(cfg.Security),
		middleware.CSRF(cfg.Security, logger),
		middleware.TrustedProxy(cfg.Security),
		middleware.RateLimit(rateLimiter, logger),
	)

	handler := middlewareChain(srv)

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	gracefulServer := server.NewGracefulServer(httpServer, logger, cfg)

	gracefulServer.RegisterShutdownHook("session sweeper", func(ctx context.Context) error {
		logger.Info("stopping session sweeper", "sessions", sessions.Len())
		stopSweep()
		return nil
	})

	logger.Info("starting graceful server")
	if err := gracefulServer.ListenAndServe(); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("application stopped gracefully")
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"
	otelglobal "go.opentelemetry.io/otel"

	"github.com/kilnhq/kiln/lib/middleware"
	"github.com/kilnhq/kiln/lib/otel"
)

const serviceName = "kiln"

func main() {
	app, cleanup, err := initializeApp()
	if err != nil {
		os.Stderr.WriteString("failed to initialize: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer cleanup()

	log := app.Logger
	ctx := app.Ctx

	if otel.Enabled() {
		shutdown, err := otel.Setup(ctx, serviceName)
		if err != nil {
			log.Error("failed to set up telemetry", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Warn("telemetry shutdown", "error", err)
			}
		}()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	if otel.Enabled() {
		r.Use(otelchi.Middleware(serviceName, otelchi.WithChiRoutes(r)))
		httpMetrics, err := middleware.NewHTTPMetrics(otelglobal.Meter(serviceName))
		if err != nil {
			log.Error("failed to create http metrics", "error", err)
			os.Exit(1)
		}
		r.Use(httpMetrics.Middleware)
	}
	r.Use(middleware.InjectLogger(log))
	r.Use(middleware.AccessLogger(log))

	r.Get("/healthz", app.ApiService.Healthz)
	r.Group(func(r chi.Router) {
		if app.Config.JwtSecret != "" {
			r.Use(middleware.VerifyJWT(app.Config.JwtSecret))
		}
		app.ApiService.Routes(r)
	})

	srv := &http.Server{
		Addr:              ":" + app.Config.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown", "error", err)
	}
}

// Package server assembles the HTTP handler and runs its lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cryptoad/cryptoad-api/internal/config"
	"github.com/cryptoad/cryptoad-api/internal/http/routes"
	applog "github.com/cryptoad/cryptoad-api/internal/platform/logging"
	appmiddleware "github.com/cryptoad/cryptoad-api/internal/platform/middleware"
	"github.com/cryptoad/cryptoad-api/internal/platform/respond"
)

// Title is the API name shown in the OpenAPI document and docs page.
const Title = "Cryptoad API"

// NewHandler builds the router with the full middleware stack and every
// registered operation.
func NewHandler(cfg config.Config, version string) http.Handler {
	router := chi.NewRouter()

	// Base middleware stack
	router.Use(
		appmiddleware.Security("/docs"),
		appmiddleware.Vary(),
		appmiddleware.CORS(),
		appmiddleware.RequestID(),
		// RealIP trusts X-Real-IP and X-Forwarded-For. Only safe behind a proxy
		// that overwrites them.
		chimiddleware.RealIP,
		chimiddleware.RequestSize(cfg.HTTP.MaxRequestBytes),
		applog.RequestLogger(cfg.ProjectID),
		applog.AccessLogger(),
		respond.Recoverer(),
	)
	router.NotFound(respond.NotFoundHandler())
	router.MethodNotAllowed(respond.MethodNotAllowedHandler())

	api := humachi.New(router, apiConfig(version))
	routes.Register(api)
	return router
}

func apiConfig(version string) huma.Config {
	cfg := huma.DefaultConfig(Title, version)
	// The default hook adds a $schema link to every response body; the root
	// payload must stay a single-key object.
	cfg.CreateHooks = nil
	// Advertise CBOR alongside JSON for every operation.
	cfg.OnAddOperation = append(cfg.OnAddOperation, func(_ *huma.OpenAPI, op *huma.Operation) {
		if op.RequestBody != nil && op.RequestBody.Content != nil {
			if jsonContent, ok := op.RequestBody.Content["application/json"]; ok {
				op.RequestBody.Content["application/cbor"] = jsonContent
			}
		}
		for _, resp := range op.Responses {
			if resp.Content == nil {
				continue
			}
			if jsonContent, ok := resp.Content["application/json"]; ok {
				resp.Content["application/cbor"] = jsonContent
			}
		}
	})
	return cfg
}

// Run serves NewHandler until ctx is cancelled or the process receives SIGINT
// or SIGTERM, then drains in-flight requests within cfg.HTTP.ShutdownTimeout.
// If ln is nil a listener is bound on cfg.Addr(); tests pass their own.
func Run(ctx context.Context, cfg config.Config, version string, ln net.Listener) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if ln == nil {
		var err error
		ln, err = (&net.ListenConfig{}).Listen(ctx, "tcp", cfg.Addr())
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.Addr(), err)
		}
	}

	srv := &http.Server{
		Handler:           NewHandler(cfg, version),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		MaxHeaderBytes:    cfg.HTTP.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		applog.LogInfo(gctx, "server listening",
			zap.String("addr", ln.Addr().String()),
			zap.String("version", version),
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	// Also fires when Serve fails, so a dead listener never leaves Run blocked.
	g.Go(func() error {
		<-gctx.Done()
		applog.LogInfo(context.Background(), "shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		applog.LogInfo(context.Background(), "server exited")
		return nil
	})

	return g.Wait()
}

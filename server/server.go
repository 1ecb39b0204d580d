// Package server exposes the REST API over participants and commands, plus
// health, readiness and metrics endpoints. Command writes require admin auth
// and are rate limited per client IP. Every request carries a correlation ID
// in its context and in the X-Correlation-ID response header.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/streambot/backend/config"
	"github.com/onnwee/streambot/backend/telemetry"
)

// newRateLimiter picks the configured backend, falling back to memory when
// redis cannot be reached.
func newRateLimiter(ctx context.Context, cfg *config.Config) RateLimiter {
	rlCfg := rateLimiterConfigFrom(cfg)
	if cfg.RateLimitBackend == "redis" {
		slog.Info("initializing distributed rate limiter", slog.String("backend", "redis"), slog.String("addr", cfg.RedisAddr))
		client, err := newRedisClient(ctx, cfg)
		if err != nil {
			slog.Error("failed to create redis rate limiter, falling back to memory", slog.Any("err", err))
			return newIPRateLimiter(ctx, rlCfg)
		}
		go func() {
			<-ctx.Done()
			_ = client.Close()
		}()
		return newRedisRateLimiter(client, rlCfg)
	}
	slog.Info("initializing in-memory rate limiter", slog.String("backend", "memory"))
	return newIPRateLimiter(ctx, rlCfg)
}

// NewMux returns the HTTP handler with all routes.
// ctx bounds the lifetime of the rate limiter's background work.
func NewMux(ctx context.Context, cfg *config.Config, participants ParticipantStore, commands CommandService) http.Handler {
	return newMux(cfg, NewHandlers(participants, commands), newRateLimiter(ctx, cfg))
}

func newMux(cfg *config.Config, handlers *Handlers, limiter RateLimiter) http.Handler {
	authCfg := authConfigFrom(cfg)
	window := rateLimiterConfigFrom(cfg).window
	protect := func(h http.HandlerFunc) http.Handler {
		// Auth first, then rate limiting
		return adminAuth(rateLimitMiddleware(h, limiter, window), authCfg)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /{$}", handlers.HandleRoot)
	mux.HandleFunc("GET /health", handlers.HandleHealthz)
	mux.HandleFunc("GET /healthz", handlers.HandleHealthz)
	mux.HandleFunc("GET /readyz", handlers.HandleReadyz)

	mux.HandleFunc("GET /users", handlers.HandleUsersList)
	mux.HandleFunc("GET /users/stats", handlers.HandleUserStats)
	mux.HandleFunc("GET /users/top/chatters", handlers.HandleTopChatters)
	mux.HandleFunc("GET /users/{username}", handlers.HandleUserGet)

	mux.HandleFunc("GET /commands", handlers.HandleCommandsList)
	mux.Handle("POST /commands", protect(handlers.HandleCommandCreate))
	mux.HandleFunc("GET /commands/{name}", handlers.HandleCommandGet)
	mux.Handle("PATCH /commands/{name}", protect(handlers.HandleCommandUpdate))
	mux.Handle("DELETE /commands/{name}", protect(handlers.HandleCommandDelete))

	// Wrap with correlation ID injector and tracing middleware
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(telemetry.ExtractHTTP(r.Context(), r.Header), corr)
		w.Header().Set("X-Correlation-ID", corr)

		route := routeLabel(r.URL.Path)
		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+route,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(route),
			telemetry.HTTPURLAttr(r.URL.String()),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		start := time.Now()
		wrappedWriter := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		mux.ServeHTTP(wrappedWriter, r.WithContext(ctx))
		telemetry.ObserveHTTP(r.Method, route, wrappedWriter.statusCode, time.Since(start))

		telemetry.SetSpanHTTPStatus(span, wrappedWriter.statusCode)
		if wrappedWriter.statusCode >= 400 {
			span.SetStatus(telemetry.ErrorStatus(fmt.Sprintf("HTTP %d", wrappedWriter.statusCode)))
		}
	})
	return withCORSConfig(handler, corsConfigFrom(cfg))
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr), slog.String("component", "http"))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}

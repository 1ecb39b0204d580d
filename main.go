// Command backend is the main entrypoint for the streambot chat bot and API.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the participant and command store (Postgres with migrations, or
//     in-memory) and registers the built-in commands.
//   - Joins the configured Twitch channel and dispatches chat commands.
//   - Serves the REST API with /healthz, /readyz and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/streambot/backend/bot"
	"github.com/onnwee/streambot/backend/builtin"
	"github.com/onnwee/streambot/backend/channel"
	"github.com/onnwee/streambot/backend/chat"
	"github.com/onnwee/streambot/backend/command"
	"github.com/onnwee/streambot/backend/config"
	"github.com/onnwee/streambot/backend/cooldown"
	"github.com/onnwee/streambot/backend/db"
	"github.com/onnwee/streambot/backend/model"
	"github.com/onnwee/streambot/backend/server"
	"github.com/onnwee/streambot/backend/store"
	"github.com/onnwee/streambot/backend/telemetry"
	"github.com/onnwee/streambot/backend/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load("backend/.env")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	setupLogger(cfg.LogLevel, cfg.LogFormat)

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("streambot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", slog.Any("err", err))
		os.Exit(1)
	}
	defer closeStore()

	helix := newHelixClient(cfg)
	userTokens, _ := helix.UserTokenSource.(*twitchapi.UserTokenSource)
	refreshBotToken(ctx, cfg, userTokens)

	svc := channel.New(helix, cfg.TwitchChannel, cfg.TwitchBroadcasterID)
	var enricher bot.Enricher
	if cfg.HelixEnabled() {
		enricher = svc
	} else {
		slog.Warn("TWITCH_CLIENT_ID/TWITCH_CLIENT_SECRET not set; channel commands will fail and new participants are stored without follow or subscription data")
	}

	registry := command.NewRegistry(st)
	if err := builtin.RegisterAll(ctx, registry, builtin.Deps{Channel: svc, Commands: registry, Prefix: cfg.CommandPrefix}); err != nil {
		slog.Error("failed to register builtin commands", slog.Any("err", err))
		os.Exit(1)
	}

	startPprof()

	g, gctx := errgroup.WithContext(ctx)

	if err := cfg.ValidateChatReady(); err != nil {
		slog.Info("chat bot disabled", slog.Any("reason", err))
	} else {
		var dispatcher *bot.Dispatcher
		client := chat.NewClient(chat.Config{
			Username:   cfg.TwitchBotUsername,
			OAuthToken: cfg.TwitchOAuthToken,
			Channel:    cfg.TwitchChannel,
		}, func(ctx context.Context, msg model.ChatMessage) {
			dispatcher.Handle(ctx, msg)
		})
		dispatcher = bot.NewDispatcher(registry, cooldown.New(), bot.NewTracker(st, enricher, 3*time.Second), client, bot.Options{
			Prefix:         cfg.CommandPrefix,
			BotUsername:    cfg.TwitchBotUsername,
			HandlerTimeout: cfg.HandlerTimeout,
		})

		g.Go(func() error {
			dispatcher.RunPruner(gctx, cfg.CooldownPruneInterval)
			return nil
		})
		// Chat failures are logged but do not take the API down.
		g.Go(func() error {
			runChat(gctx, client)
			return nil
		})
	}

	g.Go(func() error {
		return server.Start(gctx, cfg.HTTPAddr, server.NewMux(gctx, cfg, st, registry))
	})

	if err := g.Wait(); err != nil {
		slog.Error("exited with error", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("shutting down")
}

func setupLogger(level, format string) {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		slog.Warn("unknown LOG_LEVEL, using info", slog.String("value", level))
	}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

// openStore returns the configured store and a function releasing it.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.StoreBackend == "memory" {
		slog.Warn("using in-memory store; participants and custom commands are lost on restart")
		return store.NewMemory(), func() {}, nil
	}

	database, err := db.ConnectDSN(cfg.DBDsn)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}
	if err := migrate(ctx, database); err != nil {
		closeDB()
		return nil, nil, err
	}
	go reportPoolStats(ctx, database)
	return store.NewPostgres(database), closeDB, nil
}

// migrate applies versioned migrations, falling back to the embedded SQL for
// schemas created before migration tracking existed.
func migrate(ctx context.Context, database *sql.DB) error {
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			return errors.Join(errors.New("both versioned and embedded SQL migrations failed"), err)
		}
		slog.Info("embedded SQL migration completed", slog.String("component", "db_migrate"))
		return nil
	}
	slog.Info("versioned migrations completed successfully", slog.String("component", "db_migrate"))
	return nil
}

func reportPoolStats(ctx context.Context, database *sql.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := database.Stats()
			telemetry.UpdateDatabasePoolMetrics(s.OpenConnections, s.InUse)
		}
	}
}

// newHelixClient authorizes public reads with an app token and broadcaster
// calls with the user token, refreshed through TWITCH_REFRESH_TOKEN.
func newHelixClient(cfg *config.Config) *twitchapi.HelixClient {
	hc := &twitchapi.HelixClient{
		AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
		ClientID:       cfg.TwitchClientID,
		HTTPClient:     twitchapi.NewHTTPClient(10 * time.Second),
	}
	if cfg.TwitchOAuthToken != "" || cfg.TwitchRefreshToken != "" {
		hc.UserTokenSource = twitchapi.NewUserTokenSource(cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.TwitchOAuthToken, cfg.TwitchRefreshToken)
	}
	return hc
}

// refreshBotToken exchanges TWITCH_REFRESH_TOKEN for a fresh access token so
// chat login does not depend on a stale TWITCH_OAUTH_TOKEN. Failure keeps the
// configured token.
func refreshBotToken(ctx context.Context, cfg *config.Config, src *twitchapi.UserTokenSource) {
	if src == nil || cfg.TwitchRefreshToken == "" {
		return
	}
	tok, err := src.Refresh(ctx)
	if err != nil {
		slog.Warn("bot token refresh failed; using TWITCH_OAUTH_TOKEN", slog.Any("err", err), slog.String("component", "twitch_oauth"))
		return
	}
	cfg.TwitchOAuthToken = tok.AccessToken
	slog.Info("bot token refreshed", slog.Time("expires", tok.Expiry), slog.String("component", "twitch_oauth"))
}

// runChat keeps the chat connection up, reconnecting with backoff until ctx ends.
func runChat(ctx context.Context, client *chat.Client) {
	backoff := time.Second
	for {
		start := time.Now()
		err := client.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(start) > time.Minute {
			backoff = time.Second
		}
		slog.Warn("chat connection lost", slog.Any("err", err), slog.Duration("retry_in", backoff), slog.String("component", "chat"))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

const maxChatBackoff = 2 * time.Minute

// nextBackoff doubles d up to maxChatBackoff.
func nextBackoff(d time.Duration) time.Duration {
	return min(d*2, maxChatBackoff)
}

// startPprof enables profiling endpoints in debug mode (ENABLE_PPROF=1).
func startPprof() {
	if os.Getenv("ENABLE_PPROF") != "1" {
		return
	}
	pprofAddr := os.Getenv("PPROF_ADDR")
	if pprofAddr == "" {
		pprofAddr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
		srv := &http.Server{
			Addr:              pprofAddr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}

// Package botservice is the composition root: it wires the store, the
// credential store, the conversation engine, the reminder scheduler, and
// the gateway HTTP surface, and runs them until shutdown.
package botservice

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/punchbot/punchbot/internal/api"
	"github.com/punchbot/punchbot/internal/config"
	"github.com/punchbot/punchbot/internal/conversation"
	"github.com/punchbot/punchbot/internal/gateway"
	"github.com/punchbot/punchbot/internal/logger"
	"github.com/punchbot/punchbot/internal/portal"
	"github.com/punchbot/punchbot/internal/reminder"
	"github.com/punchbot/punchbot/internal/session"
	sqlitestore "github.com/punchbot/punchbot/internal/store/sqlite"
)

// Run starts the punchbot service and blocks until shutdown or error.
func Run() error {
	log := logger.New("punchbot")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Error().Err(err).Msg("Invalid timezone configuration")
		return err
	}

	// Cancellable root context bound to SIGINT/SIGTERM
	ctx, stop := newServerContext()
	defer stop()

	st, err := sqlitestore.NewStore(cfg.StatePath())
	if err != nil {
		log.Error().Err(err).Str("path", cfg.StatePath()).Msg("State store unavailable")
		return err
	}
	defer func() { _ = st.Close() }()

	sessions := session.NewStore()
	tokens := gateway.NewTokenStore()
	gw := gateway.NewWebhookGateway(cfg.GatewayWebhookURL, cfg.GatewayToken, log)

	scheduler := reminder.New(st, sessions, gw, tokens, loc, log)

	newPortal := func(username, password string) portal.API {
		return portal.New(cfg.PortalBaseURL, username, password, loc)
	}
	engine := conversation.NewEngine(cfg, sessions, st, scheduler, tokens, newPortal, log)

	// Scheduler loop: rebuild jobs from persisted rules, then tick.
	schedErr := make(chan error, 1)
	go func() { schedErr <- scheduler.Run(ctx) }()

	router := api.NewRouter(api.NewEventsHandler(&dispatcher{engine: engine, gw: gw}, cfg.GatewayToken, log), log)
	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Server exited")
		return nil
	case err := <-errCh:
		log.Error().Err(err).Msg("HTTP server failed")
		return err
	case err := <-schedErr:
		if err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("Reminder scheduler failed")
			return err
		}
		return nil
	}
}

// dispatcher glues the conversation engine to the outbound gateway: each
// inbound event becomes a list of effects applied in order.
type dispatcher struct {
	engine *conversation.Engine
	gw     gateway.Gateway
}

func (d *dispatcher) Dispatch(ctx context.Context, ev gateway.Event) error {
	effects := d.engine.Handle(ctx, ev)
	return gateway.Apply(ctx, d.gw, ev.UserID, effects)
}

func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

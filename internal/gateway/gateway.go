// ABOUTME: Gateway orchestrator wiring transport, session, store, bot and HTTP surface
// ABOUTME: Owns the transport event dispatcher and component lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hottrack/whatsdesk/internal/bot"
	"github.com/hottrack/whatsdesk/internal/config"
	"github.com/hottrack/whatsdesk/internal/dedupe"
	"github.com/hottrack/whatsdesk/internal/pipeline"
	"github.com/hottrack/whatsdesk/internal/session"
	"github.com/hottrack/whatsdesk/internal/store"
	"github.com/hottrack/whatsdesk/internal/transport"
)

// Gateway wires the desk together: one transport to the messaging
// network, the session lifecycle around it, the conversation store, the
// dialogue engine, and the HTTP surface agents talk to.
type Gateway struct {
	config      *config.Config
	store       store.Store
	engine      *bot.Engine
	transport   transport.Transport
	webhook     http.Handler
	session     *session.Manager
	seen        *dedupe.Tracker
	broadcaster *pipeline.Broadcaster
	pipeline    *pipeline.Pipeline
	httpServer  *http.Server
	logger      *slog.Logger
}

// initStore creates the conversation store from config. WHATSDESK_DB_PATH
// overrides the configured sqlite path.
func initStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		dbPath := cfg.Database.Path
		if envPath := os.Getenv("WHATSDESK_DB_PATH"); envPath != "" {
			dbPath = envPath
		}
		return store.NewSQLiteStore(dbPath)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// initTransport builds the configured transport and its inbound webhook
// handler.
func initTransport(cfg *config.Config, logger *slog.Logger) (transport.Transport, http.Handler, error) {
	switch cfg.Transport.Kind {
	case "cloud":
		t := transport.NewCloudTransport(transport.CloudConfig{
			AccessToken:   cfg.Transport.Cloud.AccessToken,
			PhoneNumberID: cfg.Transport.Cloud.PhoneNumberID,
			PhoneNumber:   cfg.Transport.Cloud.PhoneNumber,
			VerifyToken:   cfg.Transport.Cloud.VerifyToken,
			BaseURL:       cfg.Transport.Cloud.BaseURL,
		}, logger)
		return t, t.WebhookHandler(), nil
	case "bridge":
		t := transport.NewBridgeTransport(transport.BridgeConfig{
			BaseURL: cfg.Transport.Bridge.BaseURL,
			Session: cfg.Transport.Bridge.Session,
			Token:   cfg.Transport.Bridge.Token,
		}, logger)
		return t, t.CallbackHandler(), nil
	default:
		return nil, nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}

// loadTree loads the configured dialogue tree, falling back to the
// built-in one when no path is configured.
func loadTree(cfg *config.Config) (bot.Tree, error) {
	if cfg.Bot.TreePath == "" {
		return bot.BuiltinTree(), nil
	}
	return bot.LoadTree(cfg.Bot.TreePath)
}

// New creates a gateway from configuration. Pass nil logger for default.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	tree, err := loadTree(cfg)
	if err != nil {
		return nil, fmt.Errorf("loading dialogue tree: %w", err)
	}
	engine := bot.NewEngine(tree, logger)

	tp, webhook, err := initTransport(cfg, logger)
	if err != nil {
		return nil, err
	}

	seen := dedupe.New(dedupe.DefaultTTL, dedupe.DefaultMaxSize)
	broadcaster := pipeline.NewBroadcaster(logger)
	pl := pipeline.New(s, engine, tp, seen, broadcaster,
		pipeline.Options{SendTimeout: cfg.Session.SendTimeout}, logger)

	sessLogger := logger.With("component", "session")
	sess := session.New(tp, cfg.Session.PairingExpiry, func() {
		sessLogger.Info("session ready, traffic flowing")
	}, logger)

	g := &Gateway{
		config:      cfg,
		store:       s,
		engine:      engine,
		transport:   tp,
		webhook:     webhook,
		session:     sess,
		seen:        seen,
		broadcaster: broadcaster,
		pipeline:    pl,
		logger:      logger.With("component", "gateway"),
	}
	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g, nil
}

// dispatch fans transport events out to the session manager and the
// pipeline until the stream closes or ctx is cancelled.
func (g *Gateway) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-g.transport.Events():
			if !ok {
				return
			}
			g.handleEvent(ctx, ev)
		}
	}
}

func (g *Gateway) handleEvent(ctx context.Context, ev transport.Event) {
	switch ev.Type {
	case transport.EventPairingMaterial:
		g.session.OnPairingMaterial(ev.PairingMaterial)
	case transport.EventPairingConsumed:
		g.session.OnPairingConsumed()
	case transport.EventReady:
		g.session.OnReady(ev.PhoneNumber)
	case transport.EventDisconnected:
		g.session.OnDisconnected(ev.Reason)
	case transport.EventFailed:
		g.session.Fail(ev.Reason)
	case transport.EventMessage:
		g.pipeline.HandleInbound(ctx, ev.Message)
	case transport.EventReceipt:
		g.pipeline.HandleReceipt(ctx, ev.Receipt)
	default:
		g.logger.Warn("unknown transport event", "type", ev.Type)
	}
}

// Run starts the gateway and blocks until ctx is cancelled or the HTTP
// server fails.
func (g *Gateway) Run(ctx context.Context) error {
	go g.dispatch(ctx)
	go g.session.Run(ctx)
	g.session.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("http server listening", "addr", g.httpServer.Addr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		g.logger.Info("shutdown signal received")
	case err := <-errCh:
		g.shutdown()
		return fmt.Errorf("http server: %w", err)
	}

	return g.shutdown()
}

func (g *Gateway) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var errs []error
	if err := g.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	g.pipeline.Close()
	g.broadcaster.Close()
	g.seen.Close()

	if err := g.transport.Disconnect(); err != nil {
		g.logger.Warn("transport disconnect failed", "error", err)
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	g.logger.Info("gateway stopped")
	return nil
}

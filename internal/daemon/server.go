package daemon

import (
	"context"
	"io"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/wppadmin/internal/auth"
	"github.com/matheus3301/wppadmin/internal/botapi"
	"github.com/matheus3301/wppadmin/internal/bus"
	"github.com/matheus3301/wppadmin/internal/config"
	"github.com/matheus3301/wppadmin/internal/httpapi"
	"github.com/matheus3301/wppadmin/internal/ingest"
	"github.com/matheus3301/wppadmin/internal/lock"
	"github.com/matheus3301/wppadmin/internal/metrics"
	"github.com/matheus3301/wppadmin/internal/outbox"
	"github.com/matheus3301/wppadmin/internal/realtime"
	"github.com/matheus3301/wppadmin/internal/store"
	"github.com/matheus3301/wppadmin/internal/store/pgfeed"
)

func provideServer(
	cfg *config.Config,
	st *store.Store,
	bot *botapi.Client,
	a *auth.Authenticator,
	engine *ingest.Engine,
	sender *outbox.Sender,
	b *bus.Bus,
	m *metrics.Metrics,
	logger *zap.Logger,
) *httpapi.Server {
	if cfg.Server.WebhookSecret == "" {
		logger.Warn("WEBHOOK_SECRET not set, bot webhook will reject messages")
	}
	return httpapi.New(httpapi.Dependencies{
		Store:    st,
		Bot:      bot,
		Auth:     a,
		Ingest:   engine,
		Outbox:   sender,
		Realtime: realtime.NewBusSource(b),
		Metrics:  m,
	}, httpapi.Options{
		Addr:          cfg.Server.Addr,
		Production:    cfg.Production(),
		WebhookSecret: cfg.Server.WebhookSecret,
	}, logger)
}

type lifecycleParams struct {
	fx.In

	Server  *httpapi.Server
	Store   *store.Store
	Lock    *lock.Lock
	Feed    *pgfeed.Feed
	Sender  *outbox.Sender
	Revoked auth.RevocationStore
	Logger  *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, p lifecycleParams) {
	logger := p.Logger
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if pinger, ok := p.Revoked.(interface{ Ping(context.Context) error }); ok {
				if err := pinger.Ping(ctx); err != nil {
					logger.Warn("revocation store unreachable", zap.Error(err))
				}
			}

			if p.Feed != nil {
				p.Feed.Start(context.Background())
			}

			p.Sender.Start(context.Background())

			go func() {
				if err := p.Server.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := p.Server.Shutdown(ctx); err != nil {
				logger.Warn("http shutdown", zap.Error(err))
			}
			p.Sender.Stop()
			if p.Feed != nil {
				p.Feed.Stop()
			}
			if c, ok := p.Revoked.(io.Closer); ok {
				_ = c.Close()
			}
			if err := p.Store.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if p.Lock != nil {
				if err := p.Lock.Release(); err != nil {
					logger.Warn("error releasing lock", zap.Error(err))
				}
			}
			logger.Info("server stopped")
			_ = logger.Sync()
			return nil
		},
	})
}

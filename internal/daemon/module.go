package daemon

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/wppadmin/internal/auth"
	"github.com/matheus3301/wppadmin/internal/botapi"
	"github.com/matheus3301/wppadmin/internal/bus"
	"github.com/matheus3301/wppadmin/internal/config"
	"github.com/matheus3301/wppadmin/internal/ingest"
	"github.com/matheus3301/wppadmin/internal/lock"
	"github.com/matheus3301/wppadmin/internal/logging"
	"github.com/matheus3301/wppadmin/internal/metrics"
	"github.com/matheus3301/wppadmin/internal/outbox"
	"github.com/matheus3301/wppadmin/internal/paths"
	"github.com/matheus3301/wppadmin/internal/store"
	"github.com/matheus3301/wppadmin/internal/store/pgfeed"
)

// Params selects the configuration the fx module boots from.
type Params struct {
	ConfigPath string
	// Config, when set, is used as is instead of loading ConfigPath.
	Config *config.Config
}

// Module returns the fx module for the admin server, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideMetrics,
			provideLock,
			provideStore,
			provideFeed,
			provideBot,
			provideRevocations,
			provideAuthenticator,
			provideIngest,
			provideSender,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	path := p.ConfigPath
	if path == "" {
		path = paths.ConfigPath()
	}
	return config.Load(path)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	logPath := cfg.Log.Path
	if logPath == "" {
		if err := paths.EnsureServerDirs(); err != nil {
			return nil, err
		}
		logPath = paths.LogPath()
	}
	return logging.New(logPath, cfg.Log.Level, "wppadmind")
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideMetrics(cfg *config.Config) *metrics.Metrics {
	return metrics.Registry(cfg.Server.MetricsNamespace)
}

func sqlitePath(cfg *config.Config) string {
	if cfg.Database.SQLitePath != "" {
		return cfg.Database.SQLitePath
	}
	return paths.DBPath()
}

// provideLock guards the SQLite data dir. Postgres deployments may run
// several replicas and get no lock.
func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	if cfg.UsesPostgres() {
		return nil, nil
	}
	dir := filepath.Dir(sqlitePath(cfg))
	logger.Info("acquiring data dir lock", zap.String("dir", dir))
	l, err := lock.Acquire(dir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func provideStore(cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (*store.Store, error) {
	var (
		st  *store.Store
		err error
	)
	if cfg.UsesPostgres() {
		st, err = store.OpenPostgres(context.Background(), cfg.Database.URL, cfg.Database.Schema)
	} else {
		st, err = store.OpenSQLite(sqlitePath(cfg))
	}
	if err != nil {
		return nil, err
	}
	result, err := st.Migrate()
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("dialect", string(st.Dialect())))
	return st, nil
}

// provideFeed relays Postgres insert notifications to the bus. SQLite has
// no feed; ingest and outbox publish directly instead.
func provideFeed(cfg *config.Config, st *store.Store, b *bus.Bus, logger *zap.Logger) (*pgfeed.Feed, error) {
	if !cfg.UsesPostgres() {
		return nil, nil
	}
	connCfg, err := store.PostgresConfig(cfg.Database.URL, cfg.Database.Schema)
	if err != nil {
		return nil, fmt.Errorf("feed config: %w", err)
	}
	return pgfeed.New(connCfg, st, b, logger), nil
}

func provideBot(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *botapi.Client {
	if cfg.Bot.APIURL == "" {
		logger.Warn("WHATSAPP_BOT_API_URL not set, bot endpoints will fail")
	}
	return botapi.New(cfg.Bot.APIURL, cfg.Bot.Timeout.Std(), m, logger)
}

func provideRevocations(cfg *config.Config, logger *zap.Logger) auth.RevocationStore {
	if cfg.Redis.Addr == "" {
		logger.Info("token revocations kept in memory")
		return auth.NewMemoryRevocations()
	}
	logger.Info("token revocations stored in redis", zap.String("addr", cfg.Redis.Addr))
	return auth.NewRedisRevocations(auth.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		UseTLS:   cfg.Redis.TLS,
	})
}

func provideAuthenticator(cfg *config.Config, revoked auth.RevocationStore, logger *zap.Logger) *auth.Authenticator {
	a := auth.NewAuthenticator(auth.Config{
		Password:     cfg.Server.AccessPassword,
		PasswordHash: cfg.Server.AccessPasswordHash,
		Secret:       cfg.Server.JWTSecret,
		TTL:          cfg.Server.SessionTTL.Std(),
	}, revoked)
	if !a.Configured() {
		logger.Warn("ACCESS_PASSWORD or JWT_SECRET not set, login will fail")
	}
	return a
}

func provideIngest(cfg *config.Config, st *store.Store, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *ingest.Engine {
	return ingest.NewEngine(st, b, m, logger, !cfg.UsesPostgres())
}

func provideSender(cfg *config.Config, st *store.Store, bot *botapi.Client, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(st, bot, b, m, logger, !cfg.UsesPostgres())
}

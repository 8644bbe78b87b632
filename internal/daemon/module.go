package daemon

import (
	"context"
	"fmt"

	"github.com/mcoutinho/pigeon/internal/bus"
	"github.com/mcoutinho/pigeon/internal/chat"
	"github.com/mcoutinho/pigeon/internal/config"
	"github.com/mcoutinho/pigeon/internal/lock"
	"github.com/mcoutinho/pigeon/internal/logging"
	"github.com/mcoutinho/pigeon/internal/provision"
	"github.com/mcoutinho/pigeon/internal/roster"
	"github.com/mcoutinho/pigeon/internal/session"
	"github.com/mcoutinho/pigeon/internal/store"
	"github.com/mcoutinho/pigeon/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideStore,
			provideProvisioner,
			provideDialer,
			provideRegistry,
			provideProjector,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideProvisioner(cfg *config.Config, logger *zap.Logger) *provision.Client {
	return provision.NewClient(cfg.Server.ProvisionURL, logger)
}

func provideDialer(cfg *config.Config, logger *zap.Logger) chat.Dialer {
	return func(chatRef string, h transport.Handlers) transport.Transport {
		url := fmt.Sprintf("%s/rooms/%s/socket", cfg.Server.SocketURL, chatRef)
		return transport.NewSocket(url, h, logger.With(zap.String("chat_ref", chatRef)))
	}
}

func provideRegistry(cfg *config.Config, dial chat.Dialer, db *store.DB, b *bus.Bus, prov *provision.Client, logger *zap.Logger) *chat.Registry {
	return chat.NewRegistry(cfg.User.ID, cfg.Chat.ReadReceipts, dial, db, b, prov, logger)
}

func provideProjector(db *store.DB, b *bus.Bus, logger *zap.Logger) *roster.Projector {
	return roster.NewProjector(db, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, registry *chat.Registry, projector *roster.Projector, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := projector.Start(context.Background()); err != nil {
				return fmt.Errorf("start projector: %w", err)
			}
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			registry.CloseAll()
			projector.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

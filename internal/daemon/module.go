// Package daemon composes the synchronizer's components into a running
// process: store connections, services, the HTTP server and the background
// reconciler, wired with fx and torn down in reverse order.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/emberchat/emberd/internal/blob"
	"github.com/emberchat/emberd/internal/bus"
	"github.com/emberchat/emberd/internal/config"
	"github.com/emberchat/emberd/internal/convo"
	"github.com/emberchat/emberd/internal/docstore"
	"github.com/emberchat/emberd/internal/httpapi"
	"github.com/emberchat/emberd/internal/identity"
	"github.com/emberchat/emberd/internal/lock"
	"github.com/emberchat/emberd/internal/logging"
	"github.com/emberchat/emberd/internal/paths"
	"github.com/emberchat/emberd/internal/reconcile"
	"github.com/emberchat/emberd/internal/status"
)

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(cfg *config.Config) fx.Option {
	return fx.Module("daemon",
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideDocStore,
			provideBlobStore,
			provideConvoService,
			provideIdentityService,
			provideReconciler,
			provideAPIServer,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger() (*zap.Logger, error) {
	if err := paths.EnsureDirs(); err != nil {
		return nil, err
	}
	return logging.New(paths.LogPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring instance lock", zap.String("dir", paths.BaseDir()))
	l, err := lock.Acquire(paths.BaseDir())
	if err != nil {
		return nil, err
	}
	logger.Info("instance lock acquired")
	return l, nil
}

func provideDocStore(cfg *config.Config, logger *zap.Logger) (*docstore.Client, error) {
	client, err := docstore.New(context.Background(), cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	logger.Info("document store connected", zap.String("url", cfg.RedisURL))
	return client, nil
}

// provideBlobStore tolerates a missing object store. Picture endpoints report
// unavailable and the daemon runs Degraded instead of refusing to start.
func provideBlobStore(cfg *config.Config, logger *zap.Logger) *blob.Store {
	if cfg.BlobEndpoint == "" {
		logger.Info("no blob endpoint configured, picture storage disabled")
		return nil
	}
	store, err := blob.New(context.Background(), blob.Options{
		Endpoint:  cfg.BlobEndpoint,
		AccessKey: cfg.BlobAccessKey,
		SecretKey: cfg.BlobSecretKey,
		Bucket:    cfg.BlobBucket,
		UseSSL:    cfg.BlobUseSSL,
	})
	if err != nil {
		logger.Warn("blob store unavailable, picture storage disabled", zap.Error(err))
		return nil
	}
	logger.Info("blob store connected", zap.String("endpoint", cfg.BlobEndpoint), zap.String("bucket", cfg.BlobBucket))
	return store
}

func provideConvoService(store *docstore.Client, b *bus.Bus, logger *zap.Logger) *convo.Service {
	return convo.NewService(store, b, logger)
}

func provideIdentityService(cfg *config.Config, store *docstore.Client) *identity.Service {
	return identity.NewService(store, store.Redis(), cfg.JWTSecret, cfg.TokenLifetime())
}

func provideReconciler(cfg *config.Config, convos *convo.Service, b *bus.Bus, logger *zap.Logger) *reconcile.Reconciler {
	return reconcile.New(convos, b, logger, cfg.ReconcileInterval())
}

func provideAPIServer(convos *convo.Service, accounts *identity.Service, blobs *blob.Store, machine *status.Machine, logger *zap.Logger) *httpapi.Server {
	return httpapi.NewServer(convos, accounts, blobs, machine, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, store *docstore.Client, blobs *blob.Store, rec *reconcile.Reconciler, machine *status.Machine, b *bus.Bus, logger *zap.Logger) {
	var stopJournal func()
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			stopJournal = watchEvents(b, logger)
			_ = machine.Transition(status.Connecting)
			if err := store.Ping(ctx); err != nil {
				_ = machine.Transition(status.Error)
				return err
			}

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			rec.Start(context.Background())

			_ = machine.Transition(status.Ready)
			if blobs == nil {
				_ = machine.Transition(status.Degraded)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if stopJournal != nil {
				stopJournal()
			}
			rec.Stop()
			srv.Stop(ctx)
			if err := store.Close(); err != nil {
				logger.Warn("error closing document store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/moneyfestation-dev/manifest-wall/internal/api"
	"github.com/moneyfestation-dev/manifest-wall/internal/config"
	"github.com/moneyfestation-dev/manifest-wall/internal/crypto"
	"github.com/moneyfestation-dev/manifest-wall/internal/host"
	"github.com/moneyfestation-dev/manifest-wall/internal/logging"
	"github.com/moneyfestation-dev/manifest-wall/internal/service"
	"github.com/moneyfestation-dev/manifest-wall/internal/storage"
	"github.com/moneyfestation-dev/manifest-wall/internal/storage/badgerstore"
	"github.com/moneyfestation-dev/manifest-wall/internal/storage/ledgerpostgres"
)

type NodeApplication struct {
	Server *http.Server
	Store  storage.Store
	Node   *service.WallNode
	// Relay is nil unless relay.enabled is set.
	Relay        *service.EventRelay
	PollInterval time.Duration

	redis           *redis.Client
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

func BuildNode(ctx context.Context, cfg *config.NodeConfig, logger *slog.Logger) (*NodeApplication, error) {
	signer, err := crypto.LoadSigner(cfg.Keys.SigningPrivateKeyPath, cfg.Keys.SigningPublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load signing keys: %w", err)
	}
	env := logging.Environment{
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Commit:    cfg.Logging.Commit,
		Region:    cfg.Logging.Region,
		NodeKeyID: signer.KeyID,
	}
	baseLogger := logger.With(env.Attrs()...)

	store, err := OpenStore(ctx, cfg.Storage, baseLogger)
	if err != nil {
		return nil, err
	}

	runtime := host.New(store, host.Options{
		TxFeeLamports:      *cfg.Runtime.TxFeeLamports,
		MaxConflictRetries: cfg.Runtime.MaxConflictRetries,
		Logger:             baseLogger,
	})
	node, err := service.NewWallNode(service.WallNodeParams{
		Runtime:       runtime,
		Signer:        signer,
		AdminToken:    cfg.Security.AdminToken,
		EnableAirdrop: *cfg.Security.EnableAirdrop,
		Service:       cfg.Logging.Service,
		Version:       cfg.Logging.Version,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build wall node service: %w", err)
	}

	application := &NodeApplication{
		Store:           store,
		Node:            node,
		PollInterval:    time.Duration(cfg.Relay.PollIntervalSeconds) * time.Second,
		logger:          baseLogger,
		shutdownTimeout: time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second,
	}
	if cfg.Relay.Enabled {
		client := NewRedisClient(cfg.Relay)
		relay, err := newRelay(store, client, cfg.Relay, baseLogger)
		if err != nil {
			_ = client.Close()
			_ = store.Close()
			return nil, err
		}
		application.Relay = relay
		application.redis = client
	}

	handler := api.NewWallNodeHandler(node, 2<<20)
	root := logging.Middleware(logger, env)(handler.Router())
	application.Server = &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           root,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return application, nil
}

// Run serves HTTP and, when configured, the in-process relay until ctx is
// canceled or either of them fails, then shuts the server down gracefully.
func (a *NodeApplication) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("wall node listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	if a.Relay != nil {
		g.Go(func() error {
			a.logger.Info("event relay started", slog.Duration("poll_interval", a.PollInterval))
			err := a.Relay.Run(gctx, a.PollInterval)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("event relay: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (a *NodeApplication) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.Store.Close())
	return errors.Join(errs...)
}

type RelayApplication struct {
	Relay        *service.EventRelay
	Store        storage.Store
	PollInterval time.Duration
	redis        *redis.Client
}

// BuildRelay wires the standalone relay against a shared postgres event log.
func BuildRelay(ctx context.Context, cfg *config.RelayConfig, logger *slog.Logger) (*RelayApplication, error) {
	logger = logger.With(slog.String("service", cfg.Logging.Service), slog.String("version", cfg.Logging.Version), slog.String("region", cfg.Logging.Region))
	store, err := OpenStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	client := NewRedisClient(cfg.Relay)
	relay, err := newRelay(store, client, cfg.Relay, logger)
	if err != nil {
		_ = client.Close()
		_ = store.Close()
		return nil, err
	}
	return &RelayApplication{
		Relay:        relay,
		Store:        store,
		PollInterval: time.Duration(cfg.Relay.PollIntervalSeconds) * time.Second,
		redis:        client,
	}, nil
}

func (a *RelayApplication) Close() error {
	return errors.Join(a.redis.Close(), a.Store.Close())
}

// OpenStore opens the configured storage driver.
func OpenStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverBadger:
		store, err := badgerstore.Open(badgerstore.Options{Path: cfg.BadgerPath, InMemory: cfg.InMemory, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		return store, nil
	case config.DriverPostgres:
		store, err := ledgerpostgres.Open(ctx, cfg.PostgresDSN, cfg.MaxConns, cfg.MinConns)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func NewRedisClient(cfg config.RelayConfigSection) *redis.Client {
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

func newRelay(store storage.Store, client *redis.Client, cfg config.RelayConfigSection, logger *slog.Logger) (*service.EventRelay, error) {
	relay, err := service.NewEventRelay(service.EventRelayParams{
		Store:      store,
		Publisher:  service.NewRedisPublisher(client, cfg.Stream, cfg.CursorKey),
		BatchSize:  cfg.BatchSize,
		MaxBackoff: time.Duration(cfg.MaxBackoffSeconds) * time.Second,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build event relay: %w", err)
	}
	return relay, nil
}

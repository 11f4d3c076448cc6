// Package bootstrap builds the runtime pieces shared by the API server
// and the operator CLI from a loaded configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/fortunecoin/backend/internal/auth"
	"github.com/fortunecoin/backend/internal/config"
	"github.com/fortunecoin/backend/internal/events"
	"github.com/fortunecoin/backend/internal/metrics"
	"github.com/fortunecoin/backend/internal/quota"
	"github.com/fortunecoin/backend/internal/services"
	"github.com/fortunecoin/backend/internal/store"
	"github.com/fortunecoin/backend/internal/store/memory"
	"github.com/fortunecoin/backend/internal/store/postgres"
	"github.com/fortunecoin/backend/internal/store/sqlite"
)

// Backend is an opened, migrated store. Pool is set only for Postgres,
// where it also carries the River job queue.
type Backend struct {
	Store store.Store
	Pool  *pgxpool.Pool
}

func (b *Backend) Close() error { return b.Store.Close() }

// OpenStore connects to the configured driver and applies migrations.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Backend, error) {
	var (
		b   Backend
		err error
	)
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		var pg *postgres.Store
		pg, err = postgres.Open(ctx, cfg.Database.URL)
		if err == nil {
			b = Backend{Store: pg, Pool: pg.Pool()}
		}
	case config.DriverSQLite:
		var sq *sqlite.Store
		sq, err = sqlite.Open(cfg.Database.Path)
		if err == nil {
			b = Backend{Store: sq}
		}
	case config.DriverMemory:
		logger.Warn("using the in-memory store; balances are lost on restart")
		b = Backend{Store: memory.New()}
	default:
		return nil, fmt.Errorf("bootstrap: unknown database driver %q", cfg.Database.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open %s store: %w", cfg.Database.Driver, err)
	}

	if err := b.Store.Ping(ctx); err != nil {
		b.Store.Close()
		return nil, fmt.Errorf("bootstrap: ping %s store: %w", cfg.Database.Driver, err)
	}
	if err := b.Store.Migrate(ctx); err != nil {
		b.Store.Close()
		return nil, fmt.Errorf("bootstrap: migrate %s store: %w", cfg.Database.Driver, err)
	}
	logger.Info("store ready", "driver", cfg.Database.Driver)
	return &b, nil
}

// CoinService builds the service over an opened store.
func CoinService(cfg config.Config, st store.Store, emitter events.Emitter, logger *slog.Logger) (*services.CoinService, quota.Clock, error) {
	clock, err := quota.NewSystemClock(cfg.Quota.Timezone)
	if err != nil {
		return nil, nil, err
	}
	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, nil, err
	}
	return services.NewCoinService(st, clock, catalog, emitter, logger), clock, nil
}

// AuthService builds the token service with the configured admins.
func AuthService(cfg config.Config, logger *slog.Logger) (auth.Service, error) {
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set; signing tokens with the development secret")
	}
	admins := make([]auth.Admin, 0, len(cfg.Auth.Admins))
	for _, a := range cfg.Auth.Admins {
		id, err := uuid.Parse(a.ID)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: admin %s: %w", a.Username, err)
		}
		admins = append(admins, auth.Admin{ID: id, Username: a.Username, PasswordHash: a.PasswordHash})
	}
	return auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL.Std(), admins), nil
}

// Events starts the balance event dispatcher. Events always go to the log;
// they are also published on Redis when an address is configured.
// The returned close func drains the queue and closes the Redis client.
func Events(cfg config.Config, logger *slog.Logger) (*events.Dispatcher, func()) {
	pubs := []events.Publisher{events.NewLogPublisher(logger)}
	var rdb *goredis.Client
	if cfg.Redis.Addr != "" {
		rdb = goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr})
		pubs = append(pubs, events.NewRedisPublisher(rdb, cfg.Redis.Channel))
		logger.Info("publishing balance events to redis", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
	}
	d := events.NewDispatcher(pubs,
		events.WithBuffer(cfg.Events.Buffer),
		events.WithWorkers(cfg.Events.Workers),
		events.WithLogger(logger),
		events.WithDropHook(func(_ events.BalanceChanged, reason string) {
			metrics.EventsDropped.WithLabelValues(reason).Inc()
		}),
	)
	return d, func() {
		d.Close()
		if rdb != nil {
			_ = rdb.Close()
		}
	}
}

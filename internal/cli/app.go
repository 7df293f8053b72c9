package cli

import (
	"context"
	"fmt"

	"stockledger/internal/caching"
	"stockledger/internal/common"
	"stockledger/internal/config"
	"stockledger/internal/handlers"
	"stockledger/internal/jobs"
	"stockledger/internal/jobs/background"
	"stockledger/internal/repositories"
	"stockledger/internal/services"
	"stockledger/pkg/database"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App holds the wired engine. Close releases the store and cache clients.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Clock  common.Clock

	Pool   *pgxpool.Pool
	Memory *repositories.MemoryStore
	Cache  caching.CacheService
	redis  *redis.Client

	Products      services.ProductService
	Suppliers     services.SupplierService
	Notifications services.NotificationService
	Alerts        services.AlertService
	Ledger        services.LedgerService
	Reservations  services.ReservationService
	Reorder       services.ReorderService
}

type stores struct {
	txm          repositories.TxManager
	stock        repositories.StockRepository
	reservations repositories.ReservationRepository
	alerts       repositories.AlertRepository
	reorders     repositories.ReorderRepository
	suppliers    repositories.SupplierRepository
	products     repositories.ProductRepository
}

func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger, Clock: common.SystemClock()}

	st, err := app.openStore(ctx)
	if err != nil {
		return nil, err
	}
	app.openCache()

	refTTL := cfg.Reorder.ReferenceCacheTTL.Duration
	app.Products = services.NewProductService(st.products, app.Cache, refTTL, logger)
	app.Suppliers = services.NewSupplierService(st.suppliers, app.Cache, app.Clock, refTTL, logger)
	app.Notifications = services.NewNotificationService(services.NotificationSettings{
		SendGridAPIKey: cfg.Notifications.SendGridAPIKey,
		FromAddress:    cfg.Notifications.FromAddress,
		FromName:       cfg.Notifications.FromName,
		WebhookTimeout: cfg.Notifications.WebhookTimeout.Duration,
	}, nil, logger)

	app.Alerts = services.NewAlertService(st.alerts, st.stock, app.Products, app.Notifications, app.Cache, app.Clock,
		services.AlertSettings{
			DedupWindow:      cfg.Alerts.DedupWindow.Duration,
			DefaultTimezone:  cfg.Alerts.DefaultTimezone,
			FastMovingRate:   cfg.Alerts.FastMovingRate,
			OverstockDays:    cfg.Alerts.OverstockDays,
			LowStockCacheTTL: cfg.Alerts.LowStockCacheTTL.Duration,
		}, logger)

	app.Ledger = services.NewLedgerService(st.txm, st.stock, app.Cache, app.Alerts, app.Clock,
		services.LedgerSettings{
			DefaultLowStockThreshold: cfg.Ledger.DefaultLowStockThreshold,
			DefaultReorderPoint:      cfg.Ledger.DefaultReorderPoint,
			DefaultReorderQuantity:   cfg.Ledger.DefaultReorderQuantity,
			ConflictRetries:          cfg.Ledger.ConflictRetries,
			StockCacheTTL:            cfg.Ledger.StockCacheTTL.Duration,
		}, logger)

	app.Reservations = services.NewReservationService(st.txm, st.reservations, app.Ledger, app.Alerts, app.Clock,
		services.ReservationSettings{
			DefaultTTL:      cfg.Reservations.DefaultTTL.Duration,
			SweepBatch:      cfg.Reservations.SweepBatch,
			ConflictRetries: cfg.Ledger.ConflictRetries,
		}, logger)

	app.Reorder = services.NewReorderService(st.txm, st.reorders, st.stock, app.Ledger, app.Products, app.Suppliers, app.Alerts, app.Clock,
		services.ReorderSettings{
			VelocityWindowDays:   cfg.Reorder.VelocityWindowDays,
			SafetyMarginDays:     cfg.Reorder.SafetyMarginDays,
			DefaultLeadTimeDays:  cfg.Reorder.DefaultLeadTimeDays,
			MinimumOrderQuantity: cfg.Reorder.MinimumOrderQuantity,
			PriceCostRatio:       cfg.Reorder.PriceCostRatio,
			ConflictRetries:      cfg.Ledger.ConflictRetries,
		}, logger)

	app.Alerts.Subscribe(app.Reorder.HandleAlert)
	return app, nil
}

func (a *App) openStore(ctx context.Context) (*stores, error) {
	switch a.Config.Store.Driver {
	case config.StoreDriverMemory:
		a.Memory = repositories.NewMemoryStore()
		a.Logger.Warn("using in-memory store; data is lost on exit")
		return &stores{
			txm:          a.Memory.TxManager(),
			stock:        a.Memory.Stock(),
			reservations: a.Memory.Reservations(),
			alerts:       a.Memory.Alerts(),
			reorders:     a.Memory.Reorders(),
			suppliers:    a.Memory.Suppliers(),
			products:     a.Memory.Products(),
		}, nil
	case config.StoreDriverPostgres:
		pg := a.Config.Postgres
		pool, err := database.NewPool(ctx, database.PoolConfig{
			DSN:             pg.URL,
			MaxConns:        pg.MaxConns,
			MinConns:        pg.MinConns,
			MaxConnLifetime: pg.MaxConnLifetime.Duration,
			MaxConnIdleTime: pg.MaxConnIdleTime.Duration,
		}, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if pg.MigrateOnStart {
			if err := database.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		a.Pool = pool
		return &stores{
			txm:          repositories.NewPgTxManager(pool),
			stock:        repositories.NewStockRepo(pool),
			reservations: repositories.NewReservationRepo(pool),
			alerts:       repositories.NewAlertRepo(pool),
			reorders:     repositories.NewReorderRepo(pool),
			suppliers:    repositories.NewSupplierRepository(pool),
			products:     repositories.NewProductRepo(pool),
		}, nil
	default:
		return nil, common.NewConfigurationError("store.driver", "unknown driver %q", a.Config.Store.Driver)
	}
}

func (a *App) openCache() {
	if !a.Config.Redis.Enabled {
		a.Cache = caching.NewMemoryCacheService(a.Clock)
		return
	}
	rc := a.Config.Redis
	a.redis = caching.NewRedisClient(rc.Addr, rc.Password, rc.DB)
	a.Cache = caching.NewRedisCacheService(a.redis, a.Logger)
}

// StorePinger reports store reachability for readiness probes.
func (a *App) StorePinger() handlers.Pinger {
	if a.Pool != nil {
		return a.Pool
	}
	return handlers.PingFunc(func(context.Context) error { return nil })
}

// LowStockScanner is shared by the scheduler and the ops endpoint.
func (a *App) LowStockScanner() *jobs.LowStockScanner {
	return jobs.NewLowStockScanner(a.Ledger, a.Alerts, a.Products, a.Logger)
}

// JobSpecs lists the periodic jobs run by serve.
func (a *App) JobSpecs(lowStock *jobs.LowStockScanner) []background.JobSpec {
	return []background.JobSpec{
		{Job: jobs.NewReservationSweep(a.Reservations, a.Logger), Interval: a.Config.Reservations.SweepInterval.Duration},
		{Job: lowStock, Interval: a.Config.Alerts.LowStockScanPeriod.Duration},
		{Job: jobs.NewReorderScan(a.Reorder, a.Logger), Interval: a.Config.Reorder.ScanInterval.Duration},
	}
}

func (a *App) Close() {
	if a.Alerts != nil {
		a.Alerts.Wait()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}

package rewards

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	clock "github.com/glkeru/loyalty/rewards/internal/clock"
	config "github.com/glkeru/loyalty/rewards/internal/config"
	db "github.com/glkeru/loyalty/rewards/internal/db"
	interfaces "github.com/glkeru/loyalty/rewards/internal/interfaces"
	models "github.com/glkeru/loyalty/rewards/internal/models"
	services "github.com/glkeru/loyalty/rewards/internal/services"
	"go.uber.org/zap"
)

const retryInterval = 100 * time.Millisecond

// Сборка сервисов из конфигурации
type Deps struct {
	Config  *config.Config
	Store   interfaces.AccountStorage
	Catalog interfaces.CatalogSource // nil - каталог из конфигурации
	Clock   interfaces.Clock
	Random  interfaces.RandomSource // nil - общий генератор
	Logger  *zap.Logger
}

func NewFacade(ctx context.Context, deps Deps, opts ...services.FacadeOption) (*services.Facade, error) {
	cfg := deps.Config
	games, channels, err := services.ResolveCatalog(ctx, deps.Catalog, cfg.Games, cfg.Channels)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Quota.Location()
	if err != nil {
		return nil, err
	}

	resolved := *cfg
	resolved.Games, resolved.Channels = games, channels
	quota, err := services.NewQuotaTracker(deps.Store, deps.Clock, resolved.Limits(), cfg.Quota.ResetHour, loc)
	if err != nil {
		return nil, err
	}
	catalog, err := services.NewRewardCatalog(games, cfg.Currencies.DiamondValue, deps.Random)
	if err != nil {
		return nil, err
	}
	ledger := services.NewLedger(deps.Store, deps.Clock, deps.Logger)
	redemptions, err := services.NewRedemptionProcessor(deps.Store, ledger, channels, deps.Clock, deps.Logger)
	if err != nil {
		return nil, err
	}
	engine := services.NewRewardEngine(deps.Store, ledger, quota, catalog, deps.Clock, deps.Logger)

	opts = append([]services.FacadeOption{services.WithRetries(cfg.Redemption.Retries, retryInterval)}, opts...)
	return services.NewFacade(deps.Store, ledger, quota, engine, redemptions, deps.Clock, deps.Logger, opts...), nil
}

// Хранилище, кэш и каталог из окружения. cleanup освобождает все подключения.
// durable - только Postgres, без хранилища в памяти (фоновые процессы).
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger, durable bool, opts ...services.FacadeOption) (facade *services.Facade, cleanup func(), err error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	defer func() {
		if err != nil {
			closeAll()
		}
	}()

	clk := clock.System{}
	store, closeStore, err := OpenStore(ctx, clk, logger, durable)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, closeStore)

	catalog, closeCatalog, err := OpenCatalog(ctx, logger)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, closeCatalog)

	cache, closeCache := OpenCache(ctx, logger)
	closers = append(closers, closeCache)
	if cache != nil {
		opts = append(opts, services.WithCache(cache))
	}

	facade, err = NewFacade(ctx, Deps{
		Config:  cfg,
		Store:   store,
		Catalog: catalog,
		Clock:   clk,
		Logger:  logger,
	}, opts...)
	if err != nil {
		return nil, nil, err
	}
	return facade, closeAll, nil
}

// Хранилище счетов: Postgres если задан REWARDS_DB, иначе в памяти (если не durable)
func OpenStore(ctx context.Context, clk interfaces.Clock, logger *zap.Logger, durable bool) (interfaces.AccountStorage, func(), error) {
	if os.Getenv("REWARDS_DB") == "" {
		if durable {
			return nil, nil, fmt.Errorf("env REWARDS_DB is not set")
		}
		logger.Warn("env REWARDS_DB is not set, using in-memory store")
		return db.NewMemoryStore(clk), func() {}, nil
	}
	pg, err := db.NewAccountsDB(ctx, clk, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

// Запись каталога из конфигурации (начальное заполнение MongoDB)
type CatalogWriter interface {
	SaveGame(ctx context.Context, game models.Game) error
	SaveChannel(ctx context.Context, ch models.RedemptionChannel) error
}

func SeedCatalog(ctx context.Context, w CatalogWriter, cfg *config.Config) error {
	for _, g := range cfg.Games {
		if err := w.SaveGame(ctx, g); err != nil {
			return fmt.Errorf("game %s: %w", g.Type, err)
		}
	}
	for _, ch := range cfg.Channels {
		if err := w.SaveChannel(ctx, ch); err != nil {
			return fmt.Errorf("channel %s: %w", ch.ID, err)
		}
	}
	return nil
}

// Кэш необязателен: при ошибке подключения работаем без него
func OpenCache(ctx context.Context, logger *zap.Logger) (interfaces.CacheStorage, func()) {
	if os.Getenv("REWARDS_CACHE_URL") == "" {
		return nil, func() {}
	}
	cache, err := db.NewCacheService(ctx)
	if err != nil {
		logger.Error("cache", zap.Error(err))
		return nil, func() {}
	}
	return cache, func() { _ = cache.Close() }
}

// Каталог из MongoDB, если задан REWARDS_MONGO
func OpenCatalog(ctx context.Context, logger *zap.Logger) (interfaces.CatalogSource, func(), error) {
	if os.Getenv("REWARDS_MONGO") == "" {
		return nil, func() {}, nil
	}
	catalog, err := db.NewCatalogDB()
	if err != nil {
		return nil, nil, err
	}
	return catalog, func() {
		if err := catalog.Close(context.Background()); err != nil {
			logger.Error("mongo disconnect", zap.Error(err))
		}
	}, nil
}

// Целое из окружения со значением по умолчанию
func EnvInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func RequireEnv(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("env %s is not set", name)
	}
	return v, nil
}

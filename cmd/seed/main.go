// Job - начальное заполнение каталога игр и каналов вывода в MongoDB из rewards.yaml
package main

import (
	"context"
	"time"

	app "github.com/glkeru/loyalty/rewards/internal/app"
	config "github.com/glkeru/loyalty/rewards/internal/config"
	db "github.com/glkeru/loyalty/rewards/internal/db"
	logging "github.com/glkeru/loyalty/rewards/internal/logging"
	"go.uber.org/zap"
)

func main() {
	// log
	logger, err := logging.New("rewards-seed")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	// mongo
	catalog, err := db.NewCatalogDB()
	if err != nil {
		logger.Fatal("mongo", zap.Error(err))
	}
	defer catalog.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.SeedCatalog(ctx, catalog, cfg); err != nil {
		logger.Error("seed catalog", zap.Error(err))
		return
	}
	logger.Info("catalog seeded", zap.Int("games", len(cfg.Games)), zap.Int("channels", len(cfg.Channels)))
}

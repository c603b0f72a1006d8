// Job - повторная отправка зависших заявок на выплату (запуск по расписанию)
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	app "github.com/glkeru/loyalty/rewards/internal/app"
	config "github.com/glkeru/loyalty/rewards/internal/config"
	rabbit "github.com/glkeru/loyalty/rewards/internal/external/rabbitmq"
	logging "github.com/glkeru/loyalty/rewards/internal/logging"
	services "github.com/glkeru/loyalty/rewards/internal/services"
	"go.uber.org/zap"
)

func main() {
	// log
	logger, err := logging.New("rewards-reconcile")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	// rabbitmq
	payouts, err := rabbit.NewRabbitPublisher()
	if err != nil {
		logger.Fatal("rabbitmq", zap.Error(err))
	}
	defer payouts.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serv, cleanup, err := app.Open(ctx, cfg, logger, true, services.WithPayouts(payouts))
	if err != nil {
		logger.Fatal("init", zap.Error(err))
	}
	defer cleanup()

	sent, err := serv.RepublishStale(ctx, cfg.Redemption.StaleAfter.Duration)
	if err != nil {
		logger.Error("republish stale redemptions", zap.Error(err))
		return
	}
	logger.Info("stale redemptions republished", zap.Int("count", sent), zap.Duration("older_than", cfg.Redemption.StaleAfter.Duration))
}

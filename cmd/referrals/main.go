// Job - бонусы за приглашения
// Опрос Kafka (referrals) -> начисление бонуса, одно событие - одно начисление
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	app "github.com/glkeru/loyalty/rewards/internal/app"
	config "github.com/glkeru/loyalty/rewards/internal/config"
	kafka "github.com/glkeru/loyalty/rewards/internal/external/kafka"
	logging "github.com/glkeru/loyalty/rewards/internal/logging"
	services "github.com/glkeru/loyalty/rewards/internal/services"
	"go.uber.org/zap"
)

func main() {
	// log
	logger, err := logging.New("rewards-referrals")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	// kafka
	reader, err := kafka.NewReferralReader()
	if err != nil {
		logger.Fatal("kafka", zap.Error(err))
	}
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []services.FacadeOption
	if activity, err := kafka.NewActivityWriter(); err != nil {
		logger.Warn("activity stream disabled", zap.Error(err))
	} else {
		defer activity.Close()
		opts = append(opts, services.WithEvents(activity))
	}

	// services
	serv, cleanup, err := app.Open(ctx, cfg, logger, true, opts...)
	if err != nil {
		logger.Fatal("init", zap.Error(err))
	}
	defer cleanup()

	// сообщения одного раздела - по порядку, смещение фиксируется только после начисления
	handle := kafka.ReferralHandler(serv, cfg.Referral.Bonus, logger)
	if err := kafka.Consume(ctx, reader, app.EnvInt("REWARDS_WORKERS", 5), handle); err != nil && ctx.Err() == nil {
		logger.Error("referrals stopped", zap.Error(err))
	}
}

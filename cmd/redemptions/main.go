// Job - обработка результатов выплат
// RabbitMQ (redemption_results) -> смена состояния заявки, возврат средств при ошибке
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	app "github.com/glkeru/loyalty/rewards/internal/app"
	config "github.com/glkeru/loyalty/rewards/internal/config"
	kafka "github.com/glkeru/loyalty/rewards/internal/external/kafka"
	rabbit "github.com/glkeru/loyalty/rewards/internal/external/rabbitmq"
	logging "github.com/glkeru/loyalty/rewards/internal/logging"
	services "github.com/glkeru/loyalty/rewards/internal/services"
	"go.uber.org/zap"
)

func main() {
	// log
	logger, err := logging.New("rewards-redemptions")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	workers := app.EnvInt("REWARDS_WORKERS", 5)

	// rabbitmq
	reader, err := rabbit.NewRabbitConsumer(workers)
	if err != nil {
		logger.Fatal("rabbitmq", zap.Error(err))
	}
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	// os signals
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupt
		cancel()
	}()

	// workers
	wg := &sync.WaitGroup{}
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go worker(ctx, serv, wg, logger, reader)
	}
	wg.Wait()
}

// worker for rabbitmq messages
func worker(ctx context.Context, serv *services.Facade, wg *sync.WaitGroup, logger *zap.Logger, reader *rabbit.RabbitConsumer) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-reader.Msg:
			if !ok {
				return
			}
			requeue, err := rabbit.HandleResult(ctx, serv, msg.Body)
			if err != nil {
				logger.Error("payout result", zap.String("message", msg.MessageId), zap.Bool("requeue", requeue), zap.Error(err))
				if nerr := msg.Nack(false, requeue); nerr != nil {
					logger.Error("nack", zap.Error(nerr))
				}
				continue
			}
			if err := msg.Ack(false); err != nil {
				logger.Error("ack", zap.Error(err))
			}
		}
	}
}

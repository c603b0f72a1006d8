package rewards

import (
	"context"
	"errors"
	"fmt"

	models "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Чтение с ручной фиксацией смещения
type Source interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

type Granter interface {
	GrantReferral(ctx context.Context, event models.ReferralEvent, bonus int64) (models.Transaction, error)
}

// Сообщения одного раздела обрабатываются по очереди одним обработчиком,
// смещение фиксируется только после успешной обработки.
// Ошибка handle останавливает чтение: после перезапуска оно продолжится с первого незафиксированного сообщения.
func Consume(ctx context.Context, src Source, workers int, handle func(ctx context.Context, msg kafka.Message) error) error {
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)

	queues := make([]chan kafka.Message, workers)
	for i := range queues {
		queue := make(chan kafka.Message)
		queues[i] = queue
		g.Go(func() error {
			for msg := range queue {
				if err := handle(gctx, msg); err != nil {
					return fmt.Errorf("partition %d offset %d: %w", msg.Partition, msg.Offset, err)
				}
				if err := src.Commit(gctx, msg); err != nil {
					return fmt.Errorf("kafka commit: %w", err)
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, queue := range queues {
				close(queue)
			}
		}()
		for {
			msg, err := src.Fetch(gctx)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("kafka fetch: %w", err)
			}
			select {
			case queues[msg.Partition%workers] <- msg:
			case <-gctx.Done():
				return nil
			}
		}
	})
	return g.Wait()
}

// Начисление бонуса за событие. Битые события и отказы по счету пропускаются,
// остальные ошибки останавливают чтение, чтобы событие не было потеряно.
func ReferralHandler(g Granter, bonus int64, logger *zap.Logger) func(ctx context.Context, msg kafka.Message) error {
	return func(ctx context.Context, msg kafka.Message) error {
		event, err := ParseReferral(msg.Value)
		if err != nil {
			logger.Error("skip message", zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
			return nil
		}
		_, err = g.GrantReferral(ctx, event, bonus)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, models.ErrAccountArchived), errors.Is(err, models.ErrInvalidAmount):
			logger.Warn("referral bonus rejected", zap.String("referral", event.ReferralID), zap.Error(err))
			return nil
		}
		return fmt.Errorf("referral %s: %w", event.ReferralID, err)
	}
}

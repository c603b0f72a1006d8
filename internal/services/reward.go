package rewards

import (
	"context"
	"errors"
	"fmt"

	interfaces "github.com/glkeru/loyalty/rewards/internal/interfaces"
	models "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RewardEngine - игра: лимит, выбор выигрыша и зачисление одной единицей работы
type RewardEngine struct {
	store   interfaces.AccountStorage
	ledger  *Ledger
	quota   *QuotaTracker
	catalog *RewardCatalog
	clock   interfaces.Clock
	logger  *zap.Logger
}

func NewRewardEngine(store interfaces.AccountStorage, ledger *Ledger, quota *QuotaTracker, catalog *RewardCatalog, clock interfaces.Clock, logger *zap.Logger) *RewardEngine {
	return &RewardEngine{store, ledger, quota, catalog, clock, logger}
}

// Игра. Повтор с тем же ключом возвращает первый результат без новых списаний лимита.
func (e *RewardEngine) Play(ctx context.Context, userID string, gameType string, key string) (models.Outcome, error) {
	if !e.catalog.Has(gameType) {
		return models.Outcome{}, fmt.Errorf("%w: %s", models.ErrUnknownGameType, gameType)
	}
	if _, err := e.quota.Limit(gameType); err != nil {
		return models.Outcome{}, err
	}

	var out models.Outcome
	err := e.store.WithAccount(ctx, userID, func(tx interfaces.AccountTx) error {
		now := e.clock.Now()
		if key != "" {
			played, err := tx.PlayByKey(ctx, key)
			if err == nil {
				out, err = e.replay(ctx, tx, played)
				return err
			}
			if !errors.Is(err, models.ErrNotFound) {
				return err
			}
		}
		if tx.Account().Archived() {
			return models.ErrAccountArchived
		}

		ok, window, err := e.quota.consume(ctx, tx, gameType, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s limit %d reached", models.ErrQuotaExceeded, gameType, window.Limit)
		}

		tier, err := e.catalog.Sample(gameType)
		if err != nil {
			return err
		}
		play := models.Play{
			ID:             uuid.New(),
			UserID:         userID,
			GameType:       gameType,
			Tier:           tier,
			IdempotencyKey: key,
			CreatedAt:      now,
		}
		out = models.Outcome{Remaining: window.Remaining()}
		if amount := e.catalog.CreditAmount(tier); amount > 0 {
			tnx, err := e.ledger.credit(ctx, tx, now, amount, "play:"+gameType+":"+tier.Label, play.ID.String(), "")
			if err != nil {
				return err
			}
			play.Credited = amount
			play.TransactionID = &tnx.ID
			out.Transaction = &tnx
		}
		if err := tx.SavePlay(ctx, play); err != nil {
			return err
		}
		out.Play = play
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrQuotaExceeded):
			playsTotal.WithLabelValues(gameType, "quota_exceeded").Inc()
		case errors.Is(err, models.ErrTransient):
			playsTotal.WithLabelValues(gameType, "transient").Inc()
		default:
			playsTotal.WithLabelValues(gameType, "error").Inc()
		}
		return models.Outcome{}, err
	}
	if !out.Replayed {
		playsTotal.WithLabelValues(gameType, string(out.Play.Tier.Currency)).Inc()
		creditedTotal.WithLabelValues(gameType).Add(float64(out.Play.Credited))
		e.logger.Debug("play",
			zap.String("user", userID),
			zap.String("game", gameType),
			zap.String("tier", out.Play.Tier.Label),
			zap.Int64("credited", out.Play.Credited),
			zap.Int("remaining", out.Remaining))
	}
	return out, nil
}

func (e *RewardEngine) replay(ctx context.Context, tx interfaces.AccountTx, played models.Play) (models.Outcome, error) {
	out := models.Outcome{Play: played, Replayed: true}
	if played.TransactionID != nil {
		tnx, err := tx.Transaction(ctx, *played.TransactionID)
		if err != nil {
			return models.Outcome{}, err
		}
		out.Transaction = &tnx
	}
	w, err := e.quota.window(ctx, tx, played.GameType, e.clock.Now())
	if err != nil {
		return models.Outcome{}, err
	}
	out.Remaining = w.Remaining()
	return out, nil
}

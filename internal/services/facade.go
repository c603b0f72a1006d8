package rewards

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	interfaces "github.com/glkeru/loyalty/rewards/internal/interfaces"
	models "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Facade - точка входа для API и фоновых процессов
type Facade struct {
	store       interfaces.AccountStorage
	ledger      *Ledger
	quota       *QuotaTracker
	engine      *RewardEngine
	redemptions *RedemptionProcessor
	clock       interfaces.Clock
	logger      *zap.Logger

	cache   interfaces.CacheStorage
	events  interfaces.EventPublisher
	payouts interfaces.PayoutPublisher
	retries int
	backoff time.Duration
}

type FacadeOption func(*Facade)

func WithCache(cache interfaces.CacheStorage) FacadeOption {
	return func(f *Facade) { f.cache = cache }
}

func WithEvents(events interfaces.EventPublisher) FacadeOption {
	return func(f *Facade) { f.events = events }
}

func WithPayouts(payouts interfaces.PayoutPublisher) FacadeOption {
	return func(f *Facade) { f.payouts = payouts }
}

// Повторы при временных ошибках для операций с ключом идемпотентности
func WithRetries(retries int, initial time.Duration) FacadeOption {
	return func(f *Facade) {
		f.retries = retries
		f.backoff = initial
	}
}

func NewFacade(store interfaces.AccountStorage, ledger *Ledger, quota *QuotaTracker, engine *RewardEngine, redemptions *RedemptionProcessor, clock interfaces.Clock, logger *zap.Logger, opts ...FacadeOption) *Facade {
	f := &Facade{
		store:       store,
		ledger:      ledger,
		quota:       quota,
		engine:      engine,
		redemptions: redemptions,
		clock:       clock,
		logger:      logger,
		backoff:     100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Баланс и заработок за текущее окно
func (f *Facade) GetAccount(ctx context.Context, userID string) (models.AccountSummary, error) {
	// версия читается до хранилища: изменение счета во время чтения отменит запись в кэш
	cacheable := false
	var version int64
	if f.cache != nil {
		summary, ver, err := f.cache.GetAccount(ctx, userID)
		if err == nil {
			return summary, nil
		}
		if errors.Is(err, models.ErrNotFound) {
			cacheable, version = true, ver
		} else {
			f.logger.Warn("cache get", zap.String("user", userID), zap.Error(err))
		}
	}

	acc, err := f.store.GetAccount(ctx, userID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			return models.AccountSummary{}, transient(err)
		}
		acc = models.Account{UserID: userID}
	}
	today, err := f.store.EarnedSince(ctx, userID, f.quota.WindowStart(f.clock.Now()))
	if err != nil {
		return models.AccountSummary{}, transient(err)
	}
	summary := models.AccountSummary{Account: acc, TodayEarned: today}

	if cacheable {
		if err := f.cache.SetAccount(ctx, summary, version); err != nil {
			f.logger.Warn("cache set", zap.String("user", userID), zap.Error(err))
		}
	}
	return summary, nil
}

func (f *Facade) GetHistory(ctx context.Context, userID string, page int, pageSize int) ([]models.Transaction, error) {
	tnxs, err := f.ledger.History(ctx, userID, page, pageSize)
	return tnxs, transient(err)
}

func (f *Facade) Play(ctx context.Context, userID string, gameType string, key string) (models.Outcome, error) {
	var out models.Outcome
	err := f.retry(ctx, "play", key != "", func() error {
		var err error
		out, err = f.engine.Play(ctx, userID, gameType, key)
		return err
	})
	if err != nil {
		return models.Outcome{}, err
	}
	if !out.Replayed {
		f.invalidate(ctx, userID)
		f.publish(ctx, models.ActivityEvent{
			Type:      models.EVENT_PLAY,
			UserID:    userID,
			Amount:    out.Play.Credited,
			Reference: out.Play.ID.String(),
			At:        out.Play.CreatedAt,
		})
	}
	return out, nil
}

func (f *Facade) GetRemainingPlays(ctx context.Context, userID string, gameType string) (int, error) {
	remaining, err := f.quota.Remaining(ctx, userID, gameType)
	return remaining, transient(err)
}

func (f *Facade) ListChannels() []models.RedemptionChannel {
	return f.redemptions.Channels()
}

func (f *Facade) QuoteRedemption(channelID string, amount int64) (int64, error) {
	return f.redemptions.Quote(channelID, amount)
}

func (f *Facade) SubmitRedemption(ctx context.Context, userID string, channelID string, amount int64, details string, key string) (models.RedemptionRequest, error) {
	var req models.RedemptionRequest
	err := f.retry(ctx, "redemption", key != "", func() error {
		var err error
		req, err = f.redemptions.Submit(ctx, userID, channelID, amount, details, key)
		return err
	})
	if err != nil {
		return models.RedemptionRequest{}, err
	}
	// повтор по ключу: выплата уже отправлена
	if req.Replayed {
		return req, nil
	}
	f.invalidate(ctx, userID)
	if req.State == models.PENDING {
		f.dispatch(ctx, req)
	}
	f.publish(ctx, models.ActivityEvent{
		Type:      models.EVENT_REDEMPTION_SUBMIT,
		UserID:    userID,
		Amount:    req.Amount,
		Reference: req.ID.String(),
		State:     req.State,
		At:        req.CreatedAt,
	})
	return req, nil
}

func (f *Facade) GetRedemptionStatus(ctx context.Context, id uuid.UUID) (models.RedemptionRequest, error) {
	req, err := f.redemptions.Get(ctx, id)
	return req, transient(err)
}

func (f *Facade) ListRedemptions(ctx context.Context, userID string, limit int) ([]models.RedemptionRequest, error) {
	reqs, err := f.redemptions.List(ctx, userID, limit)
	return reqs, transient(err)
}

func (f *Facade) AdvanceRedemption(ctx context.Context, id uuid.UUID, in models.AdvanceInput) (models.RedemptionRequest, error) {
	req, err := f.redemptions.Advance(ctx, id, in)
	if err != nil {
		return models.RedemptionRequest{}, transient(err)
	}
	f.invalidate(ctx, req.UserID)
	f.publish(ctx, models.ActivityEvent{
		Type:      models.EVENT_REDEMPTION_ADVANCED,
		UserID:    req.UserID,
		Amount:    req.Amount,
		Reference: req.ID.String(),
		State:     req.State,
		At:        req.UpdatedAt,
	})
	return req, nil
}

// Бонус (реферальная программа). Ключ обязателен: одно событие - одно начисление.
func (f *Facade) GrantBonus(ctx context.Context, userID string, amount int64, reason string, key string) (models.Transaction, error) {
	var tnx models.Transaction
	err := f.retry(ctx, "bonus", key != "", func() error {
		var err error
		tnx, err = f.ledger.CreditOnce(ctx, userID, amount, reason, key)
		return err
	})
	if err != nil {
		return models.Transaction{}, err
	}
	if tnx.Replayed {
		return tnx, nil
	}
	creditedTotal.WithLabelValues("bonus").Add(float64(amount))
	f.invalidate(ctx, userID)
	f.publish(ctx, models.ActivityEvent{
		Type:      models.EVENT_BONUS,
		UserID:    userID,
		Amount:    tnx.Amount,
		Reference: tnx.ID.String(),
		At:        tnx.CreatedAt,
	})
	return tnx, nil
}

// Бонус за приглашение. Повторное событие с тем же referralId не начисляет.
func (f *Facade) GrantReferral(ctx context.Context, event models.ReferralEvent, bonus int64) (models.Transaction, error) {
	amount := event.Amount
	if amount <= 0 {
		amount = bonus
	}
	key := "referral:" + event.ReferralID
	return f.GrantBonus(ctx, event.UserID, amount, key, key)
}

func (f *Facade) ArchiveAccount(ctx context.Context, userID string) (models.Account, error) {
	acc, err := f.ledger.Archive(ctx, userID)
	if err != nil {
		return models.Account{}, transient(err)
	}
	f.invalidate(ctx, userID)
	return acc, nil
}

// Повторная отправка зависших заявок на выплату
func (f *Facade) RepublishStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := f.redemptions.Stale(ctx, olderThan)
	if err != nil {
		return 0, transient(err)
	}
	sent := 0
	for _, req := range stale {
		if f.dispatch(ctx, req) {
			sent++
		}
	}
	return sent, nil
}

func (f *Facade) dispatch(ctx context.Context, req models.RedemptionRequest) bool {
	if f.payouts == nil {
		return false
	}
	msg := models.PayoutMessage{
		RedemptionID:  req.ID,
		UserID:        req.UserID,
		ChannelID:     req.ChannelID,
		PayoutAmount:  req.PayoutAmount,
		PayoutDetails: req.PayoutDetails,
	}
	if err := f.payouts.PublishPayout(ctx, msg); err != nil {
		f.logger.Error("publish payout", zap.String("redemption", req.ID.String()), zap.Error(err))
		return false
	}
	return true
}

func (f *Facade) invalidate(ctx context.Context, userID string) {
	if f.cache == nil {
		return
	}
	if err := f.cache.InvalidateAccount(ctx, userID); err != nil {
		f.logger.Error("cache invalidate", zap.String("user", userID), zap.Error(err))
	}
}

func (f *Facade) publish(ctx context.Context, event models.ActivityEvent) {
	if f.events == nil {
		return
	}
	if err := f.events.Publish(ctx, event); err != nil {
		f.logger.Warn("publish event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

// Повтор op при временных ошибках. Без ключа идемпотентности повтор небезопасен.
func (f *Facade) retry(ctx context.Context, operation string, idempotent bool, op func() error) error {
	if !idempotent || f.retries <= 0 {
		return transient(op())
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.backoff
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if attempt > 1 {
			retriesTotal.WithLabelValues(operation).Inc()
		}
		err := transient(op())
		if err != nil && !errors.Is(err, models.ErrTransient) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(f.retries+1)))
	if err != nil {
		return transient(err)
	}
	return nil
}

// Истекший контекст - временная ошибка
func transient(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.Transient(err)
	}
	return err
}

package rewards

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	interfaces "github.com/glkeru/loyalty/rewards/internal/interfaces"
	models "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultListLimit = 10

var (
	gameUIDPattern = regexp.MustCompile(`^\d{6,12}$`)
	mobilePattern  = regexp.MustCompile(`^(?:\+91|0)?[6-9]\d{9}$`)
	upiPattern     = regexp.MustCompile(`^[a-zA-Z0-9._-]{2,256}@[a-zA-Z][a-zA-Z0-9]{1,64}$`)
)

// RedemptionProcessor - заявки на вывод: проверка, списание и жизненный цикл
type RedemptionProcessor struct {
	store    interfaces.AccountStorage
	ledger   *Ledger
	clock    interfaces.Clock
	logger   *zap.Logger
	channels map[string]models.RedemptionChannel
	order    []string
}

func NewRedemptionProcessor(store interfaces.AccountStorage, ledger *Ledger, channels []models.RedemptionChannel, clock interfaces.Clock, logger *zap.Logger) (*RedemptionProcessor, error) {
	p := &RedemptionProcessor{
		store:    store,
		ledger:   ledger,
		clock:    clock,
		logger:   logger,
		channels: make(map[string]models.RedemptionChannel, len(channels)),
	}
	for _, ch := range channels {
		if _, ok := p.channels[ch.ID]; ok {
			return nil, fmt.Errorf("channel %s is declared twice", ch.ID)
		}
		if _, _, err := ch.Rate(); err != nil {
			return nil, err
		}
		if ch.MinAmount <= 0 {
			return nil, fmt.Errorf("channel %s: min amount must be positive", ch.ID)
		}
		p.channels[ch.ID] = ch
		p.order = append(p.order, ch.ID)
	}
	return p, nil
}

func (p *RedemptionProcessor) Channels() []models.RedemptionChannel {
	result := make([]models.RedemptionChannel, 0, len(p.order))
	for _, id := range p.order {
		result = append(result, p.channels[id])
	}
	return result
}

func (p *RedemptionProcessor) Channel(id string) (models.RedemptionChannel, error) {
	ch, ok := p.channels[id]
	if !ok {
		return models.RedemptionChannel{}, fmt.Errorf("%w: %s", models.ErrUnknownChannel, id)
	}
	return ch, nil
}

// Сумма выплаты по курсу канала
func (p *RedemptionProcessor) Quote(channelID string, amount int64) (int64, error) {
	ch, err := p.Channel(channelID)
	if err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, fmt.Errorf("%w: %d", models.ErrInvalidAmount, amount)
	}
	return ch.Convert(amount)
}

// Создание заявки. Проверки выполняются до списания; списание и заявка сохраняются вместе.
func (p *RedemptionProcessor) Submit(ctx context.Context, userID string, channelID string, amount int64, details string, key string) (models.RedemptionRequest, error) {
	ch, err := p.Channel(channelID)
	if err != nil {
		return models.RedemptionRequest{}, err
	}
	if amount <= 0 {
		return models.RedemptionRequest{}, fmt.Errorf("%w: %d", models.ErrInvalidAmount, amount)
	}
	if amount < ch.MinAmount {
		return models.RedemptionRequest{}, &models.BelowMinimumError{ChannelID: ch.ID, Amount: amount, MinAmount: ch.MinAmount}
	}
	details = strings.TrimSpace(details)
	if err := ValidatePayoutDetails(ch, details); err != nil {
		return models.RedemptionRequest{}, err
	}
	payout, err := ch.Convert(amount)
	if err != nil {
		return models.RedemptionRequest{}, err
	}

	var req models.RedemptionRequest
	err = p.store.WithAccount(ctx, userID, func(tx interfaces.AccountTx) error {
		if key != "" {
			existing, err := tx.RedemptionByKey(ctx, key)
			if err == nil {
				req = existing
				req.Replayed = true
				return nil
			}
			if !errors.Is(err, models.ErrNotFound) {
				return err
			}
		}
		acc := tx.Account()
		if acc.Archived() {
			return models.ErrAccountArchived
		}
		if amount > acc.Balance {
			return fmt.Errorf("%w: balance %d, requested %d", models.ErrInsufficientBalance, acc.Balance, amount)
		}

		now := p.clock.Now()
		req = models.RedemptionRequest{
			ID:             uuid.New(),
			UserID:         userID,
			ChannelID:      ch.ID,
			Amount:         amount,
			PayoutAmount:   payout,
			PayoutDetails:  details,
			State:          models.REQUESTED,
			IdempotencyKey: key,
			History:        []models.StateChange{{State: models.REQUESTED, At: now}},
			CreatedAt:      now,
		}
		if err := transition(&req, models.VALIDATED, now, ""); err != nil {
			return err
		}
		tnx, err := p.ledger.debit(ctx, tx, now, amount, "redemption:"+ch.ID, req.ID.String(), "")
		if err != nil {
			return err
		}
		req.DebitTransactionID = tnx.ID
		if err := transition(&req, models.PENDING, now, ""); err != nil {
			return err
		}
		return tx.SaveRedemption(ctx, req)
	})
	if err != nil {
		return models.RedemptionRequest{}, err
	}
	if !req.Replayed {
		redemptionsTotal.WithLabelValues(ch.ID, string(models.PENDING)).Inc()
		p.logger.Info("redemption submitted",
			zap.String("id", req.ID.String()),
			zap.String("user", userID),
			zap.String("channel", ch.ID),
			zap.Int64("amount", amount))
	}
	return req, nil
}

// Перевод заявки. Переход в failed после списания возвращает средства и завершает заявку в reversed.
func (p *RedemptionProcessor) Advance(ctx context.Context, id uuid.UUID, in models.AdvanceInput) (models.RedemptionRequest, error) {
	if !in.State.Valid() {
		return models.RedemptionRequest{}, fmt.Errorf("%w: unknown state %q", models.ErrIllegalTransition, in.State)
	}
	found, err := p.store.FindRedemption(ctx, id)
	if err != nil {
		return models.RedemptionRequest{}, err
	}

	var req models.RedemptionRequest
	err = p.store.WithAccount(ctx, found.UserID, func(tx interfaces.AccountTx) error {
		var err error
		req, err = tx.Redemption(ctx, id)
		if err != nil {
			return err
		}
		now := p.clock.Now()
		switch in.State {
		case models.FAILED:
			debited := req.State == models.PENDING || req.State == models.PROCESSING
			req.FailureReason = in.Reason
			if err := transition(&req, models.FAILED, now, in.Reason); err != nil {
				return err
			}
			if debited {
				if err := p.reverse(ctx, tx, &req, now); err != nil {
					return err
				}
			}
		case models.REVERSED:
			if req.State != models.FAILED {
				return fmt.Errorf("%w: %s -> %s", models.ErrIllegalTransition, req.State, in.State)
			}
			if err := p.reverse(ctx, tx, &req, now); err != nil {
				return err
			}
		default:
			if in.Reference != "" {
				req.PayoutReference = in.Reference
			}
			if err := transition(&req, in.State, now, in.Reference); err != nil {
				return err
			}
		}
		return tx.SaveRedemption(ctx, req)
	})
	if err != nil {
		return models.RedemptionRequest{}, err
	}
	redemptionsTotal.WithLabelValues(req.ChannelID, string(req.State)).Inc()
	p.logger.Info("redemption advanced",
		zap.String("id", req.ID.String()),
		zap.String("user", req.UserID),
		zap.String("state", string(req.State)))
	return req, nil
}

func (p *RedemptionProcessor) Get(ctx context.Context, id uuid.UUID) (models.RedemptionRequest, error) {
	return p.store.FindRedemption(ctx, id)
}

// Последние заявки пользователя, новые сверху
func (p *RedemptionProcessor) List(ctx context.Context, userID string, limit int) ([]models.RedemptionRequest, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return p.store.ListRedemptions(ctx, userID, limit)
}

// Заявки в pending/processing без изменений дольше olderThan
func (p *RedemptionProcessor) Stale(ctx context.Context, olderThan time.Duration) ([]models.RedemptionRequest, error) {
	before := p.clock.Now().Add(-olderThan)
	return p.store.StaleRedemptions(ctx, before, []models.RedemptionState{models.PENDING, models.PROCESSING})
}

// возврат списания заявки и переход в reversed
func (p *RedemptionProcessor) reverse(ctx context.Context, tx interfaces.AccountTx, req *models.RedemptionRequest, now time.Time) error {
	if req.DebitTransactionID == uuid.Nil {
		return fmt.Errorf("%w: redemption %s has no debit", models.ErrNotReversible, req.ID)
	}
	original, err := tx.Transaction(ctx, req.DebitTransactionID)
	if err != nil {
		return err
	}
	reason := "redemption " + req.ID.String() + " failed"
	if req.FailureReason != "" {
		reason += ": " + req.FailureReason
	}
	rev, err := p.ledger.reverse(ctx, tx, now, original, reason)
	if err != nil {
		return err
	}
	req.ReversalTransactionID = &rev.ID
	return transition(req, models.REVERSED, now, "")
}

func transition(req *models.RedemptionRequest, to models.RedemptionState, at time.Time, note string) error {
	if !req.State.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", models.ErrIllegalTransition, req.State, to)
	}
	req.State = to
	req.UpdatedAt = at
	req.History = append(req.History, models.StateChange{State: to, At: at, Note: note})
	return nil
}

// Проверка реквизитов по типу канала
func ValidatePayoutDetails(ch models.RedemptionChannel, details string) error {
	var ok bool
	switch ch.RequiredField {
	case models.FIELD_GAME_UID:
		ok = gameUIDPattern.MatchString(details)
	case models.FIELD_MOBILE:
		ok = mobilePattern.MatchString(details)
	case models.FIELD_UPI:
		ok = upiPattern.MatchString(details)
	case models.FIELD_EMAIL:
		addr, err := mail.ParseAddress(details)
		ok = err == nil && addr.Address == details
	}
	if !ok {
		return fmt.Errorf("%w: channel %s expects %s", models.ErrInvalidPayoutDetails, ch.ID, ch.RequiredField)
	}
	return nil
}

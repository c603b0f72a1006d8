package rewards

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	interfaces "github.com/glkeru/loyalty/rewards/internal/interfaces"
	models "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Ledger - баланс и журнал транзакций. Об играх и каналах вывода ничего не знает.
type Ledger struct {
	store  interfaces.AccountStorage
	clock  interfaces.Clock
	logger *zap.Logger
}

func NewLedger(store interfaces.AccountStorage, clock interfaces.Clock, logger *zap.Logger) *Ledger {
	return &Ledger{store, clock, logger}
}

// Начисление
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64, reason string) (models.Transaction, error) {
	return l.CreditOnce(ctx, userID, amount, reason, "")
}

// Начисление с ключом идемпотентности: повтор возвращает уже созданную транзакцию
func (l *Ledger) CreditOnce(ctx context.Context, userID string, amount int64, reason string, key string) (tnx models.Transaction, err error) {
	if amount <= 0 {
		return models.Transaction{}, fmt.Errorf("%w: %d", models.ErrInvalidAmount, amount)
	}
	err = l.store.WithAccount(ctx, userID, func(tx interfaces.AccountTx) error {
		tnx, err = l.credit(ctx, tx, l.clock.Now(), amount, reason, "", key)
		return err
	})
	if err != nil {
		return models.Transaction{}, err
	}
	return tnx, nil
}

// Списание
func (l *Ledger) Debit(ctx context.Context, userID string, amount int64, reason string) (tnx models.Transaction, err error) {
	if amount <= 0 {
		return models.Transaction{}, fmt.Errorf("%w: %d", models.ErrInvalidAmount, amount)
	}
	err = l.store.WithAccount(ctx, userID, func(tx interfaces.AccountTx) error {
		tnx, err = l.debit(ctx, tx, l.clock.Now(), amount, reason, "", "")
		return err
	})
	if err != nil {
		return models.Transaction{}, err
	}
	return tnx, nil
}

// Отмена списания
func (l *Ledger) Reverse(ctx context.Context, transactionID uuid.UUID) (tnx models.Transaction, err error) {
	original, err := l.store.FindTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Transaction{}, fmt.Errorf("%w: transaction %s %w", models.ErrNotReversible, transactionID, err)
		}
		return models.Transaction{}, err
	}
	err = l.store.WithAccount(ctx, original.UserID, func(tx interfaces.AccountTx) error {
		original, err := tx.Transaction(ctx, transactionID)
		if err != nil {
			return err
		}
		tnx, err = l.reverse(ctx, tx, l.clock.Now(), original, "manual reversal")
		return err
	})
	if err != nil {
		return models.Transaction{}, err
	}
	return tnx, nil
}

// История, новые сверху. page начинается с 1.
func (l *Ledger) History(ctx context.Context, userID string, page int, pageSize int) ([]models.Transaction, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	tnxs, err := l.store.History(ctx, userID, (page-1)*pageSize, pageSize)
	if err != nil {
		l.logger.Error("history", zap.String("user", userID), zap.Error(err))
		return nil, err
	}
	return tnxs, nil
}

// Текущий баланс, 0 для нового пользователя
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	acc, err := l.store.GetAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return acc.Balance, nil
}

// Архивирование: счет не удаляется, новые начисления и списания запрещены
func (l *Ledger) Archive(ctx context.Context, userID string) (acc models.Account, err error) {
	err = l.store.WithAccount(ctx, userID, func(tx interfaces.AccountTx) error {
		acc = tx.Account()
		if acc.Archived() {
			return nil
		}
		now := l.clock.Now()
		acc.ArchivedAt = &now
		acc.UpdatedAt = now
		tx.SetAccount(acc)
		return nil
	})
	return acc, err
}

// Начисление внутри единицы работы
func (l *Ledger) credit(ctx context.Context, tx interfaces.AccountTx, now time.Time, amount int64, reason string, reference string, key string) (models.Transaction, error) {
	if amount <= 0 {
		return models.Transaction{}, fmt.Errorf("%w: %d", models.ErrInvalidAmount, amount)
	}
	if key != "" {
		existing, err := tx.TransactionByKey(ctx, key)
		if err == nil {
			existing.Replayed = true
			return existing, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return models.Transaction{}, err
		}
	}
	acc := tx.Account()
	if acc.Archived() {
		return models.Transaction{}, models.ErrAccountArchived
	}
	if amount > math.MaxInt64-acc.LifetimeEarned {
		return models.Transaction{}, fmt.Errorf("%w: %d overflows account", models.ErrInvalidAmount, amount)
	}
	acc.Balance += amount
	acc.LifetimeEarned += amount
	acc.UpdatedAt = now

	tnx := models.Transaction{
		ID:             uuid.New(),
		UserID:         acc.UserID,
		Kind:           models.EARN,
		Amount:         amount,
		Reason:         reason,
		Reference:      reference,
		IdempotencyKey: key,
		BalanceAfter:   acc.Balance,
		CreatedAt:      now,
	}
	if err := tx.AppendTransaction(ctx, tnx); err != nil {
		return models.Transaction{}, err
	}
	tx.SetAccount(acc)
	return tnx, nil
}

// Списание внутри единицы работы
func (l *Ledger) debit(ctx context.Context, tx interfaces.AccountTx, now time.Time, amount int64, reason string, reference string, key string) (models.Transaction, error) {
	if amount <= 0 {
		return models.Transaction{}, fmt.Errorf("%w: %d", models.ErrInvalidAmount, amount)
	}
	if key != "" {
		existing, err := tx.TransactionByKey(ctx, key)
		if err == nil {
			existing.Replayed = true
			return existing, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return models.Transaction{}, err
		}
	}
	acc := tx.Account()
	if acc.Archived() {
		return models.Transaction{}, models.ErrAccountArchived
	}
	if amount > acc.Balance {
		return models.Transaction{}, fmt.Errorf("%w: balance %d, requested %d", models.ErrInsufficientBalance, acc.Balance, amount)
	}
	acc.Balance -= amount
	acc.LifetimeRedeemed += amount
	acc.UpdatedAt = now

	tnx := models.Transaction{
		ID:             uuid.New(),
		UserID:         acc.UserID,
		Kind:           models.REDEEM_DEBIT,
		Amount:         amount,
		Reason:         reason,
		Reference:      reference,
		IdempotencyKey: key,
		BalanceAfter:   acc.Balance,
		CreatedAt:      now,
	}
	if err := tx.AppendTransaction(ctx, tnx); err != nil {
		return models.Transaction{}, err
	}
	tx.SetAccount(acc)
	return tnx, nil
}

// Отмена списания внутри единицы работы. Повторная отмена невозможна.
func (l *Ledger) reverse(ctx context.Context, tx interfaces.AccountTx, now time.Time, original models.Transaction, reason string) (models.Transaction, error) {
	if original.Kind != models.REDEEM_DEBIT {
		return models.Transaction{}, fmt.Errorf("%w: transaction %s is %s", models.ErrNotReversible, original.ID, original.Kind)
	}
	key := reversalKey(original.ID)
	_, err := tx.TransactionByKey(ctx, key)
	if err == nil {
		return models.Transaction{}, fmt.Errorf("%w: transaction %s already reversed", models.ErrNotReversible, original.ID)
	}
	if !errors.Is(err, models.ErrNotFound) {
		return models.Transaction{}, err
	}

	acc := tx.Account()
	acc.Balance += original.Amount
	acc.LifetimeRedeemed -= original.Amount
	acc.UpdatedAt = now

	tnx := models.Transaction{
		ID:             uuid.New(),
		UserID:         acc.UserID,
		Kind:           models.REDEEM_REVERSAL,
		Amount:         original.Amount,
		Reason:         reason,
		Reference:      original.ID.String(),
		IdempotencyKey: key,
		BalanceAfter:   acc.Balance,
		CreatedAt:      now,
	}
	if err := tx.AppendTransaction(ctx, tnx); err != nil {
		return models.Transaction{}, err
	}
	tx.SetAccount(acc)
	return tnx, nil
}

func reversalKey(id uuid.UUID) string {
	return "reversal:" + id.String()
}

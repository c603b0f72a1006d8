package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	interfaces "github.com/glkeru/loyalty/rewards/internal/interfaces"
	models "github.com/glkeru/loyalty/rewards/internal/models"
)

// QuotaTracker - дневные лимиты на действия (игры) пользователя.
// Окно начинается в resetHour по зоне loc и сбрасывается лениво при обращении.
type QuotaTracker struct {
	store     interfaces.AccountStorage
	clock     interfaces.Clock
	limits    map[string]int
	resetHour int
	loc       *time.Location
}

func NewQuotaTracker(store interfaces.AccountStorage, clock interfaces.Clock, limits map[string]int, resetHour int, loc *time.Location) (*QuotaTracker, error) {
	if resetHour < 0 || resetHour > 23 {
		return nil, fmt.Errorf("reset hour must be within 0..23, got %d", resetHour)
	}
	if loc == nil {
		loc = time.Local
	}
	l := make(map[string]int, len(limits))
	for k, v := range limits {
		if v < 0 {
			return nil, fmt.Errorf("limit for %s must not be negative", k)
		}
		l[k] = v
	}
	return &QuotaTracker{store, clock, l, resetHour, loc}, nil
}

// Начало текущего окна: последний момент resetHour:00 не позже now
func (q *QuotaTracker) WindowStart(now time.Time) time.Time {
	local := now.In(q.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), q.resetHour, 0, 0, 0, q.loc)
	if local.Before(start) {
		start = time.Date(local.Year(), local.Month(), local.Day()-1, q.resetHour, 0, 0, 0, q.loc)
	}
	return start
}

func (q *QuotaTracker) Limit(action string) (int, error) {
	limit, ok := q.limits[action]
	if !ok {
		return 0, fmt.Errorf("%w: %s", models.ErrUnknownGameType, action)
	}
	return limit, nil
}

// Остаток попыток в текущем окне
func (q *QuotaTracker) Remaining(ctx context.Context, userID string, action string) (remaining int, err error) {
	if _, err := q.Limit(action); err != nil {
		return 0, err
	}
	err = q.store.WithAccount(ctx, userID, func(tx interfaces.AccountTx) error {
		w, err := q.window(ctx, tx, action, q.clock.Now())
		if err != nil {
			return err
		}
		remaining = w.Remaining()
		return nil
	})
	return remaining, err
}

// Попытка использовать одну единицу лимита. false - лимит исчерпан, состояние не меняется.
func (q *QuotaTracker) Consume(ctx context.Context, userID string, action string) (ok bool, err error) {
	if _, err := q.Limit(action); err != nil {
		return false, err
	}
	err = q.store.WithAccount(ctx, userID, func(tx interfaces.AccountTx) error {
		ok, _, err = q.consume(ctx, tx, action, q.clock.Now())
		return err
	})
	return ok, err
}

// Окно на момент now. Лимит всегда берется из конфигурации.
func (q *QuotaTracker) window(ctx context.Context, tx interfaces.AccountTx, action string, now time.Time) (models.QuotaWindow, error) {
	limit, err := q.Limit(action)
	if err != nil {
		return models.QuotaWindow{}, err
	}
	start := q.WindowStart(now)
	w, err := tx.Quota(ctx, action)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return models.QuotaWindow{}, err
	}
	if errors.Is(err, models.ErrNotFound) || w.WindowStart.Before(start) {
		w = models.QuotaWindow{UserID: tx.Account().UserID, Action: action, WindowStart: start}
	}
	w.Limit = limit
	return w, nil
}

func (q *QuotaTracker) consume(ctx context.Context, tx interfaces.AccountTx, action string, now time.Time) (bool, models.QuotaWindow, error) {
	w, err := q.window(ctx, tx, action, now)
	if err != nil {
		return false, models.QuotaWindow{}, err
	}
	if w.Used >= w.Limit {
		return false, w, nil
	}
	w.Used++
	if err := tx.SetQuota(ctx, w); err != nil {
		return false, models.QuotaWindow{}, err
	}
	return true, w, nil
}

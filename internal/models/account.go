package rewards

import (
	"time"

	"github.com/google/uuid"
)

// Счет пользователя
type Account struct {
	UserID           string     `json:"user_id"`
	Balance          int64      `json:"balance"`           // доступный баланс
	LifetimeEarned   int64      `json:"lifetime_earned"`   // всего начислено
	LifetimeRedeemed int64      `json:"lifetime_redeemed"` // всего списано (за вычетом возвратов)
	ArchivedAt       *time.Time `json:"archived_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (a Account) Archived() bool {
	return a.ArchivedAt != nil
}

// Сводка для клиента
type AccountSummary struct {
	Account
	TodayEarned int64 `json:"today_earned"`
}

type TransactionKind string

const (
	EARN            TransactionKind = "earn"
	REDEEM_DEBIT    TransactionKind = "redeem-debit"
	REDEEM_REVERSAL TransactionKind = "redeem-reversal"
)

// Транзакция - неизменяемая запись журнала
type Transaction struct {
	ID             uuid.UUID       `json:"id"`
	UserID         string          `json:"user_id"`
	Kind           TransactionKind `json:"kind"`
	Amount         int64           `json:"amount"`
	Reason         string          `json:"reason"`
	Reference      string          `json:"reference,omitempty"`       // ID заявки на вывод или отмененной транзакции
	IdempotencyKey string          `json:"idempotency_key,omitempty"` // ключ повторного запроса
	BalanceAfter   int64           `json:"balance_after"`
	CreatedAt      time.Time       `json:"created_at"`
	Replayed       bool            `json:"replayed,omitempty"` // повтор по ключу, не сохраняется
}

// Дневной лимит действия
type QuotaWindow struct {
	UserID      string    `json:"user_id"`
	Action      string    `json:"action"`
	WindowStart time.Time `json:"window_start"`
	Used        int       `json:"used"`
	Limit       int       `json:"limit"`
}

func (w QuotaWindow) Remaining() int {
	if w.Used >= w.Limit {
		return 0
	}
	return w.Limit - w.Used
}

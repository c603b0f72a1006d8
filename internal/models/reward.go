package rewards

import (
	"time"

	"github.com/google/uuid"
)

type Currency string

const (
	COINS    Currency = "coins"
	DIAMONDS Currency = "diamonds"
	NONE     Currency = "none"
)

// Вариант выигрыша
type RewardTier struct {
	Label    string   `bson:"label" json:"label" yaml:"label"`
	Currency Currency `bson:"currency" json:"currency" yaml:"currency"`
	Amount   int64    `bson:"amount" json:"amount" yaml:"amount"`
	Weight   int64    `bson:"weight" json:"weight" yaml:"weight"`
}

// Игра: набор выигрышей и дневной лимит
type Game struct {
	Type       string       `bson:"type" json:"type" yaml:"type"`
	DailyLimit int          `bson:"daily_limit" json:"daily_limit" yaml:"daily_limit"`
	Tiers      []RewardTier `bson:"tiers" json:"tiers" yaml:"tiers"`
}

// Результат игры (сохраняется один раз)
type Play struct {
	ID             uuid.UUID  `json:"id"`
	UserID         string     `json:"user_id"`
	GameType       string     `json:"game_type"`
	Tier           RewardTier `json:"tier"`
	Credited       int64      `json:"credited"`                 // зачислено во внутренней валюте
	TransactionID  *uuid.UUID `json:"transaction_id,omitempty"` // пусто для "none"
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type Outcome struct {
	Play        Play         `json:"play"`
	Transaction *Transaction `json:"transaction,omitempty"`
	Remaining   int          `json:"remaining"`
	Replayed    bool         `json:"replayed,omitempty"` // повтор по ключу идемпотентности
}

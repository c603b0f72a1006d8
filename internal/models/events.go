package rewards

import (
	"time"

	"github.com/google/uuid"
)

const (
	EVENT_PLAY                = "play"
	EVENT_BONUS               = "bonus"
	EVENT_REDEMPTION_SUBMIT   = "redemption_submitted"
	EVENT_REDEMPTION_ADVANCED = "redemption_advanced"
)

// Событие для потока активности
type ActivityEvent struct {
	Type      string          `json:"type"`
	UserID    string          `json:"user_id"`
	Amount    int64           `json:"amount"`
	Reference string          `json:"reference"`
	State     RedemptionState `json:"state,omitempty"`
	At        time.Time       `json:"at"`
}

// Сообщение в очередь выплат
type PayoutMessage struct {
	RedemptionID  uuid.UUID `json:"redemptionId"`
	UserID        string    `json:"userId"`
	ChannelID     string    `json:"channelId"`
	PayoutAmount  int64     `json:"payoutAmount"`
	PayoutDetails string    `json:"payoutDetails"`
}

// Ответ сервиса выплат
type PayoutResult struct {
	RedemptionID string          `json:"redemptionId"`
	State        RedemptionState `json:"state"`
	Reference    string          `json:"reference"`
	Reason       string          `json:"reason"`
}

// Бонус за приглашение
type ReferralEvent struct {
	ReferralID string `json:"referralId"`
	UserID     string `json:"userId"`
	Amount     int64  `json:"amount"`
}

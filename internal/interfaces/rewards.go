package rewards

import (
	"context"
	"time"

	models "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/google/uuid"
)

//go:generate mockgen -destination=./../services/mock_rewards_test.go -package=rewards . CacheStorage,CatalogSource,EventPublisher,PayoutPublisher

// Единица работы над одним счетом. Все изменения применяются вместе или не применяются.
type AccountTx interface {
	Account() models.Account
	SetAccount(account models.Account)

	AppendTransaction(ctx context.Context, tnx models.Transaction) error
	Transaction(ctx context.Context, id uuid.UUID) (models.Transaction, error)
	TransactionByKey(ctx context.Context, key string) (models.Transaction, error)

	Quota(ctx context.Context, action string) (models.QuotaWindow, error)
	SetQuota(ctx context.Context, window models.QuotaWindow) error

	Redemption(ctx context.Context, id uuid.UUID) (models.RedemptionRequest, error)
	RedemptionByKey(ctx context.Context, key string) (models.RedemptionRequest, error)
	SaveRedemption(ctx context.Context, req models.RedemptionRequest) error

	PlayByKey(ctx context.Context, key string) (models.Play, error)
	SavePlay(ctx context.Context, play models.Play) error
}

type AccountStorage interface {
	// WithAccount выполняет fn атомарно относительно счета userID (счет создается при первом обращении)
	WithAccount(ctx context.Context, userID string, fn func(tx AccountTx) error) error

	GetAccount(ctx context.Context, userID string) (models.Account, error)
	History(ctx context.Context, userID string, offset int, limit int) ([]models.Transaction, error)
	EarnedSince(ctx context.Context, userID string, since time.Time) (int64, error)
	FindTransaction(ctx context.Context, id uuid.UUID) (models.Transaction, error)
	FindRedemption(ctx context.Context, id uuid.UUID) (models.RedemptionRequest, error)
	ListRedemptions(ctx context.Context, userID string, limit int) ([]models.RedemptionRequest, error)
	StaleRedemptions(ctx context.Context, before time.Time, states []models.RedemptionState) ([]models.RedemptionRequest, error)
}

// Кэш сводки. SetAccount не записывает, если версия изменилась после GetAccount.
type CacheStorage interface {
	GetAccount(ctx context.Context, user string) (summary models.AccountSummary, version int64, err error)
	SetAccount(ctx context.Context, summary models.AccountSummary, version int64) error
	InvalidateAccount(ctx context.Context, user string) error
}

// Источник каталога игр и каналов вывода
type CatalogSource interface {
	LoadGames(ctx context.Context) ([]models.Game, error)
	LoadChannels(ctx context.Context) ([]models.RedemptionChannel, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event models.ActivityEvent) error
}

type PayoutPublisher interface {
	PublishPayout(ctx context.Context, msg models.PayoutMessage) error
}

type Clock interface {
	Now() time.Time
}

type RandomSource interface {
	Int64N(n int64) int64
}

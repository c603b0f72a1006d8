package rewards

import (
	"context"
	"sync"
	"testing"
	"time"

	clock "github.com/glkeru/loyalty/rewards/internal/clock"
	config "github.com/glkeru/loyalty/rewards/internal/config"
	db "github.com/glkeru/loyalty/rewards/internal/db"
	interfaces "github.com/glkeru/loyalty/rewards/internal/interfaces"
	models "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testStart = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// scratch: 10 Coins [0,50), 1 Diamond [50,80), Better Luck [80,100), Jackpot вес 0
var testGames = []models.Game{
	{
		Type:       "scratch",
		DailyLimit: 3,
		Tiers: []models.RewardTier{
			{Label: "10 Coins", Currency: models.COINS, Amount: 10, Weight: 50},
			{Label: "1 Diamond", Currency: models.DIAMONDS, Amount: 1, Weight: 30},
			{Label: "Better Luck", Currency: models.NONE, Amount: 0, Weight: 20},
			{Label: "Jackpot", Currency: models.COINS, Amount: 100000, Weight: 0},
		},
	},
	{
		Type:       "spin",
		DailyLimit: 2,
		Tiers: []models.RewardTier{
			{Label: "25 Coins", Currency: models.COINS, Amount: 25, Weight: 1},
		},
	},
}

// Заранее заданная последовательность значений
type fixedSource struct {
	mu     sync.Mutex
	values []int64
	i      int
}

func (s *fixedSource) Int64N(n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.values[s.i%len(s.values)]
	s.i++
	return v % n
}

type testEnv struct {
	clock       *clock.Manual
	store       *db.MemoryStore
	ledger      *Ledger
	quota       *QuotaTracker
	catalog     *RewardCatalog
	engine      *RewardEngine
	redemptions *RedemptionProcessor
}

func newTestEnv(t *testing.T, source interfaces.RandomSource) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, source, nil)
}

// wrap позволяет подменить хранилище (например, для имитации сбоев)
func newTestEnvWithStore(t *testing.T, source interfaces.RandomSource, wrap func(*db.MemoryStore) interfaces.AccountStorage) *testEnv {
	t.Helper()
	clk := clock.NewManual(testStart)
	mem := db.NewMemoryStore(clk)
	var store interfaces.AccountStorage = mem
	if wrap != nil {
		store = wrap(mem)
	}
	logger := zap.NewNop()

	limits := make(map[string]int)
	for _, g := range testGames {
		limits[g.Type] = g.DailyLimit
	}
	ledger := NewLedger(store, clk, logger)
	quota, err := NewQuotaTracker(store, clk, limits, 0, time.UTC)
	require.NoError(t, err)
	catalog, err := NewRewardCatalog(testGames, 10, source)
	require.NoError(t, err)
	redemptions, err := NewRedemptionProcessor(store, ledger, config.Default().Channels, clk, logger)
	require.NoError(t, err)

	return &testEnv{
		clock:       clk,
		store:       mem,
		ledger:      ledger,
		quota:       quota,
		catalog:     catalog,
		engine:      NewRewardEngine(store, ledger, quota, catalog, clk, logger),
		redemptions: redemptions,
	}
}

func (e *testEnv) account(t *testing.T, userID string) models.Account {
	t.Helper()
	acc, err := e.store.GetAccount(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, acc.LifetimeEarned-acc.LifetimeRedeemed, acc.Balance, "balance invariant")
	require.GreaterOrEqual(t, acc.Balance, int64(0))
	return acc
}

func (e *testEnv) fund(t *testing.T, userID string, amount int64) {
	t.Helper()
	_, err := e.ledger.Credit(context.Background(), userID, amount, "test funding")
	require.NoError(t, err)
}

func (e *testEnv) historyLen(t *testing.T, userID string) int {
	t.Helper()
	tnxs, err := e.store.History(context.Background(), userID, 0, 1000)
	require.NoError(t, err)
	return len(tnxs)
}

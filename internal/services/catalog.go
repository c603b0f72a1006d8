package rewards

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	interfaces "github.com/glkeru/loyalty/rewards/internal/interfaces"
	models "github.com/glkeru/loyalty/rewards/internal/models"
)

// общий генератор math/rand/v2, безопасен для горутин
type globalSource struct{}

func (globalSource) Int64N(n int64) int64 {
	return rand.Int64N(n)
}

type game struct {
	tiers []models.RewardTier
	total int64
}

// Каталог выигрышей: взвешенный выбор варианта по типу игры
type RewardCatalog struct {
	games        map[string]game
	order        []string
	diamondValue int64

	mu     sync.Mutex
	source interfaces.RandomSource
}

// source == nil - общий генератор
func NewRewardCatalog(games []models.Game, diamondValue int64, source interfaces.RandomSource) (*RewardCatalog, error) {
	if diamondValue <= 0 {
		return nil, fmt.Errorf("diamond value must be positive")
	}
	c := &RewardCatalog{
		games:        make(map[string]game, len(games)),
		diamondValue: diamondValue,
		source:       source,
	}
	if c.source == nil {
		c.source = globalSource{}
	}
	for _, g := range games {
		if _, ok := c.games[g.Type]; ok {
			return nil, fmt.Errorf("game %s is declared twice", g.Type)
		}
		var total int64
		for _, t := range g.Tiers {
			if t.Weight < 0 {
				return nil, fmt.Errorf("game %s: tier %s has negative weight", g.Type, t.Label)
			}
			if t.Amount < 0 {
				return nil, fmt.Errorf("game %s: tier %s has negative amount", g.Type, t.Label)
			}
			switch t.Currency {
			case models.COINS, models.DIAMONDS, models.NONE:
			default:
				return nil, fmt.Errorf("game %s: tier %s has unknown currency %q", g.Type, t.Label, t.Currency)
			}
			total += t.Weight
		}
		if total <= 0 {
			return nil, fmt.Errorf("game %s: total weight must be positive", g.Type)
		}
		c.games[g.Type] = game{tiers: append([]models.RewardTier(nil), g.Tiers...), total: total}
		c.order = append(c.order, g.Type)
	}
	return c, nil
}

func (c *RewardCatalog) Has(gameType string) bool {
	_, ok := c.games[gameType]
	return ok
}

func (c *RewardCatalog) GameTypes() []string {
	return append([]string(nil), c.order...)
}

func (c *RewardCatalog) Tiers(gameType string) ([]models.RewardTier, error) {
	g, ok := c.games[gameType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownGameType, gameType)
	}
	return append([]models.RewardTier(nil), g.tiers...), nil
}

// Выбор варианта пропорционально весу. Варианты с весом 0 не выпадают.
func (c *RewardCatalog) Sample(gameType string) (models.RewardTier, error) {
	g, ok := c.games[gameType]
	if !ok {
		return models.RewardTier{}, fmt.Errorf("%w: %s", models.ErrUnknownGameType, gameType)
	}
	c.mu.Lock()
	r := c.source.Int64N(g.total)
	c.mu.Unlock()

	var cumulative int64
	for _, t := range g.tiers {
		cumulative += t.Weight
		if r < cumulative {
			return t, nil
		}
	}
	return g.tiers[len(g.tiers)-1], nil
}

// Сумма зачисления во внутренней валюте
func (c *RewardCatalog) CreditAmount(tier models.RewardTier) int64 {
	switch tier.Currency {
	case models.COINS:
		return tier.Amount
	case models.DIAMONDS:
		return tier.Amount * c.diamondValue
	}
	return 0
}

// Каталог из внешнего источника; пустые коллекции заменяются значениями из конфигурации
func ResolveCatalog(ctx context.Context, source interfaces.CatalogSource, games []models.Game, channels []models.RedemptionChannel) ([]models.Game, []models.RedemptionChannel, error) {
	if source == nil {
		return games, channels, nil
	}
	loadedGames, err := source.LoadGames(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load games: %w", err)
	}
	if len(loadedGames) > 0 {
		games = loadedGames
	}
	loadedChannels, err := source.LoadChannels(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load channels: %w", err)
	}
	if len(loadedChannels) > 0 {
		channels = loadedChannels
	}
	return games, channels, nil
}

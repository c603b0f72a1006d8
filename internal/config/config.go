package rewards

import (
	"errors"
	"fmt"
	"os"
	"time"

	models "github.com/glkeru/loyalty/rewards/internal/models"
	"gopkg.in/yaml.v3"
)

const defaultPath = "rewards.yaml"

// Duration - time.Duration в виде строки "36h"
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

type Config struct {
	Quota      QuotaConfig                `yaml:"quota"`
	Currencies CurrencyConfig             `yaml:"currencies"`
	Games      []models.Game              `yaml:"games"`
	Channels   []models.RedemptionChannel `yaml:"channels"`
	Redemption RedemptionConfig           `yaml:"redemption"`
	Referral   ReferralConfig             `yaml:"referral"`
	RateLimit  RateLimitConfig            `yaml:"rate_limit"`
}

// Граница суток для лимитов
type QuotaConfig struct {
	ResetHour int    `yaml:"reset_hour"`
	Timezone  string `yaml:"timezone"`
}

func (q QuotaConfig) Location() (*time.Location, error) {
	if q.Timezone == "" || q.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(q.Timezone)
}

type CurrencyConfig struct {
	DiamondValue int64 `yaml:"diamond_value"` // стоимость алмаза во внутренней валюте
}

type RedemptionConfig struct {
	StaleAfter Duration `yaml:"stale_after"` // заявка без движения дольше - отправляется повторно
	Retries    int      `yaml:"retries"`     // повторы при временных ошибках
}

type ReferralConfig struct {
	Bonus int64 `yaml:"bonus"`
}

type RateLimitConfig struct {
	PlaysPerMinute float64 `yaml:"plays_per_minute"`
	Burst          int     `yaml:"burst"`
}

// Конфигурация по умолчанию (значения из мобильного клиента)
func Default() *Config {
	return &Config{
		Quota:      QuotaConfig{ResetHour: 0, Timezone: "Local"},
		Currencies: CurrencyConfig{DiamondValue: 10},
		Games: []models.Game{
			{
				Type:       "scratch",
				DailyLimit: 3,
				Tiers: []models.RewardTier{
					{Label: "10 Coins", Currency: models.COINS, Amount: 10, Weight: 30},
					{Label: "25 Coins", Currency: models.COINS, Amount: 25, Weight: 25},
					{Label: "50 Coins", Currency: models.COINS, Amount: 50, Weight: 20},
					{Label: "100 Coins", Currency: models.COINS, Amount: 100, Weight: 10},
					{Label: "1 Diamond", Currency: models.DIAMONDS, Amount: 1, Weight: 10},
					{Label: "5 Diamonds", Currency: models.DIAMONDS, Amount: 5, Weight: 5},
				},
			},
			{
				Type:       "spin",
				DailyLimit: 2,
				Tiers: []models.RewardTier{
					{Label: "10 Coins", Currency: models.COINS, Amount: 10, Weight: 20},
					{Label: "25 Coins", Currency: models.COINS, Amount: 25, Weight: 15},
					{Label: "50 Coins", Currency: models.COINS, Amount: 50, Weight: 10},
					{Label: "1 Diamond", Currency: models.DIAMONDS, Amount: 1, Weight: 10},
					{Label: "100 Coins", Currency: models.COINS, Amount: 100, Weight: 5},
					{Label: "5 Diamonds", Currency: models.DIAMONDS, Amount: 5, Weight: 5},
					{Label: "75 Coins", Currency: models.COINS, Amount: 75, Weight: 10},
					{Label: "Better Luck", Currency: models.NONE, Amount: 0, Weight: 25},
				},
			},
		},
		Channels: []models.RedemptionChannel{
			{ID: "freefire", Title: "Free Fire Diamonds", MinAmount: 100, ConversionRate: "1:1", RequiredField: models.FIELD_GAME_UID, ProcessingEstimate: "1-24 hours"},
			{ID: "paytm", Title: "Paytm Wallet", MinAmount: 500, ConversionRate: "100:1", RequiredField: models.FIELD_MOBILE, ProcessingEstimate: "2-4 hours"},
			{ID: "upi", Title: "UPI Transfer", MinAmount: 1000, ConversionRate: "100:1", RequiredField: models.FIELD_UPI, ProcessingEstimate: "24-48 hours"},
			{ID: "giftcard", Title: "Gift Cards", MinAmount: 2000, ConversionRate: "100:1", RequiredField: models.FIELD_EMAIL, ProcessingEstimate: "1-3 days"},
		},
		Redemption: RedemptionConfig{StaleAfter: Duration{72 * time.Hour}, Retries: 3},
		Referral:   ReferralConfig{Bonus: 10},
		RateLimit:  RateLimitConfig{PlaysPerMinute: 30, Burst: 5},
	}
}

// Загрузка: REWARDS_CONFIG или rewards.yaml, иначе значения по умолчанию
func Load() (*Config, error) {
	path := os.Getenv("REWARDS_CONFIG")
	explicit := path != ""
	if !explicit {
		path = defaultPath
	}
	cfg, err := LoadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Разбор YAML поверх значений по умолчанию
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Quota.ResetHour < 0 || c.Quota.ResetHour > 23 {
		return fmt.Errorf("quota.reset_hour must be within 0..23, got %d", c.Quota.ResetHour)
	}
	if _, err := c.Quota.Location(); err != nil {
		return fmt.Errorf("quota.timezone: %w", err)
	}
	if c.Currencies.DiamondValue <= 0 {
		return fmt.Errorf("currencies.diamond_value must be positive")
	}
	games := make(map[string]struct{}, len(c.Games))
	for _, g := range c.Games {
		if g.Type == "" {
			return fmt.Errorf("game type is empty")
		}
		if _, ok := games[g.Type]; ok {
			return fmt.Errorf("game %s is declared twice", g.Type)
		}
		games[g.Type] = struct{}{}
		if g.DailyLimit < 0 {
			return fmt.Errorf("game %s: daily_limit must not be negative", g.Type)
		}
	}
	channels := make(map[string]struct{}, len(c.Channels))
	for _, ch := range c.Channels {
		if ch.ID == "" {
			return fmt.Errorf("channel id is empty")
		}
		if _, ok := channels[ch.ID]; ok {
			return fmt.Errorf("channel %s is declared twice", ch.ID)
		}
		channels[ch.ID] = struct{}{}
		if ch.MinAmount <= 0 {
			return fmt.Errorf("channel %s: min_amount must be positive", ch.ID)
		}
		if _, _, err := ch.Rate(); err != nil {
			return err
		}
		switch ch.RequiredField {
		case models.FIELD_GAME_UID, models.FIELD_MOBILE, models.FIELD_UPI, models.FIELD_EMAIL:
		default:
			return fmt.Errorf("channel %s: unknown required_field %q", ch.ID, ch.RequiredField)
		}
	}
	if c.Redemption.Retries < 0 {
		return fmt.Errorf("redemption.retries must not be negative")
	}
	return nil
}

// Дневные лимиты по типам игр
func (c *Config) Limits() map[string]int {
	limits := make(map[string]int, len(c.Games))
	for _, g := range c.Games {
		limits[g.Type] = g.DailyLimit
	}
	return limits
}

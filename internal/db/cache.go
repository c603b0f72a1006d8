package rewards

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	models "github.com/glkeru/loyalty/rewards/internal/models"
	redis "github.com/redis/go-redis/v9"
)

const (
	cacheTTL      = 5 * time.Minute
	cachePrefix   = "rewards:account:"
	versionTTL    = 24 * time.Hour
	versionPrefix = "rewards:account-version:"
)

// Кэш сводки по счету
type CacheService struct {
	client *redis.Client
}

func NewCacheService(ctx context.Context) (serv *CacheService, err error) {
	// config
	addr := os.Getenv("REWARDS_CACHE_URL")
	if addr == "" {
		return nil, fmt.Errorf("env REWARDS_CACHE_URL is not set")
	}
	user := os.Getenv("REWARDS_CACHE_USER")
	pwd := os.Getenv("REWARDS_CACHE_PWD")

	// redis
	db := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    pwd,
		Username:    user,
		DB:          0,
		MaxRetries:  5,
		DialTimeout: 10 * time.Second,
	})
	err = db.Ping(ctx).Err()
	if err != nil {
		return nil, err
	}

	return &CacheService{db}, nil
}

func (c *CacheService) Close() error {
	return c.client.Close()
}

// Сводка и версия счета. Версия растет при каждой инвалидации.
func (c *CacheService) GetAccount(ctx context.Context, user string) (summary models.AccountSummary, version int64, err error) {
	vals, err := c.client.MGet(ctx, cachePrefix+user, versionPrefix+user).Result()
	if err != nil {
		return models.AccountSummary{}, 0, err
	}
	if v, ok := vals[1].(string); ok {
		version, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return models.AccountSummary{}, 0, err
		}
	}
	val, ok := vals[0].(string)
	if !ok {
		return models.AccountSummary{}, version, models.ErrNotFound
	}

	err = json.Unmarshal([]byte(val), &summary)
	if err != nil {
		return models.AccountSummary{}, version, err
	}
	return summary, version, nil
}

// Запись только если с момента чтения версии счет не инвалидировали
func (c *CacheService) SetAccount(ctx context.Context, summary models.AccountSummary, version int64) error {
	val, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	key := versionPrefix + summary.UserID
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if current != version {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cachePrefix+summary.UserID, val, cacheTTL)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

func (c *CacheService) InvalidateAccount(ctx context.Context, user string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionPrefix+user)
		pipe.Expire(ctx, versionPrefix+user, versionTTL)
		pipe.Del(ctx, cachePrefix+user)
		return nil
	})
	return err
}

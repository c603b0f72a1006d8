package rewards

import (
	"context"
	"fmt"
	"os"
	"time"

	models "github.com/glkeru/loyalty/rewards/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Каталог игр и каналов вывода в MongoDB
type CatalogDB struct {
	mgo      *mongo.Client
	games    *mongo.Collection
	channels *mongo.Collection
}

func NewCatalogDB() (*CatalogDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mng := os.Getenv("REWARDS_MONGO")
	if mng == "" {
		return nil, fmt.Errorf("env REWARDS_MONGO is not set")
	}

	options := options.Client().ApplyURI("mongodb://" + mng)
	client, err := mongo.Connect(ctx, options)
	if err != nil {
		return nil, err
	}
	err = client.Ping(ctx, nil)
	if err != nil {
		return nil, err
	}
	db := client.Database("rewardsDB")

	return &CatalogDB{client, db.Collection("games"), db.Collection("channels")}, nil
}

func (c *CatalogDB) Close(ctx context.Context) error {
	return c.mgo.Disconnect(ctx)
}

func (c *CatalogDB) LoadGames(ctx context.Context) ([]models.Game, error) {
	result, err := c.games.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer result.Close(ctx)

	var games []models.Game
	for result.Next(ctx) {
		var game models.Game
		if err := result.Decode(&game); err != nil {
			return nil, err
		}
		games = append(games, game)
	}
	return games, result.Err()
}

func (c *CatalogDB) LoadChannels(ctx context.Context) ([]models.RedemptionChannel, error) {
	result, err := c.channels.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer result.Close(ctx)

	var channels []models.RedemptionChannel
	for result.Next(ctx) {
		var ch models.RedemptionChannel
		if err := result.Decode(&ch); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, result.Err()
}

// Запись каталога (начальное заполнение)
func (c *CatalogDB) SaveGame(ctx context.Context, game models.Game) error {
	_, err := c.games.ReplaceOne(ctx, bson.M{"type": game.Type}, game, options.Replace().SetUpsert(true))
	return err
}

func (c *CatalogDB) SaveChannel(ctx context.Context, ch models.RedemptionChannel) error {
	_, err := c.channels.ReplaceOne(ctx, bson.M{"id": ch.ID}, ch, options.Replace().SetUpsert(true))
	return err
}

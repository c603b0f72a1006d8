package rewards

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	models "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/segmentio/kafka-go"
)

const (
	ReferralTopic = "referrals"
	ActivityTopic = "rewards_activity"
	groupID       = "referrals_rewards"
)

func brokers() ([]string, error) {
	kafkaurl := os.Getenv("KAFKA_URL")
	if kafkaurl == "" {
		return nil, fmt.Errorf("env KAFKA_URL is not set")
	}
	kafkaport := os.Getenv("KAFKA_PORT")
	if kafkaport == "" {
		kafkaport = "9092"
	}
	return []string{kafkaurl + ":" + kafkaport}, nil
}

// Чтение событий реферальной программы
type KafkaReferrals struct {
	reader *kafka.Reader
}

func NewReferralReader() (*KafkaReferrals, error) {
	addrs, err := brokers()
	if err != nil {
		return nil, err
	}
	kafkaconfig := kafka.ReaderConfig{
		Brokers: addrs,
		Topic:   ReferralTopic,
		GroupID: groupID,
	}
	return &KafkaReferrals{kafka.NewReader(kafkaconfig)}, nil
}

// Сообщение фиксируется после обработки: при сбое событие будет прочитано повторно
func (k *KafkaReferrals) Fetch(ctx context.Context) (kafka.Message, error) {
	return k.reader.FetchMessage(ctx)
}

func (k *KafkaReferrals) Commit(ctx context.Context, msg kafka.Message) error {
	return k.reader.CommitMessages(ctx, msg)
}

func (k *KafkaReferrals) Close() error {
	return k.reader.Close()
}

func ParseReferral(value []byte) (models.ReferralEvent, error) {
	var event models.ReferralEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return models.ReferralEvent{}, fmt.Errorf("referral event: %w", err)
	}
	if event.ReferralID == "" || event.UserID == "" {
		return models.ReferralEvent{}, fmt.Errorf("referral event: referralId and userId are required")
	}
	return event, nil
}

// Поток активности (игры, бонусы, заявки)
type KafkaActivity struct {
	writer *kafka.Writer
}

func NewActivityWriter() (*KafkaActivity, error) {
	addrs, err := brokers()
	if err != nil {
		return nil, err
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(addrs...),
		Topic:        ActivityTopic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaActivity{writer}, nil
}

// Ключ сообщения - пользователь: события одного пользователя попадают в один раздел
func (k *KafkaActivity) Publish(ctx context.Context, event models.ActivityEvent) error {
	msg, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.UserID),
		Value: msg,
	})
}

func (k *KafkaActivity) Close() error {
	return k.writer.Close()
}

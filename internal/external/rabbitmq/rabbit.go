package rewards

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	models "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const queue = "redemptions"
const queuein = "redemption_results"

func dial() (*amqp.Connection, error) {
	// config
	rabbiturl := os.Getenv("RABBIT_URL")
	if rabbiturl == "" {
		return nil, fmt.Errorf("env RABBIT_URL is not set")
	}
	rabbitport := os.Getenv("RABBIT_PORT")
	if rabbitport == "" {
		return nil, fmt.Errorf("env RABBIT_PORT is not set")
	}
	rabbituser := os.Getenv("RABBIT_USER")
	if rabbituser == "" {
		return nil, fmt.Errorf("env RABBIT_USER is not set")
	}
	rabbitpass := os.Getenv("RABBIT_PASSWORD")
	if rabbitpass == "" {
		return nil, fmt.Errorf("env RABBIT_PASSWORD is not set")
	}
	return amqp.Dial("amqp://" + rabbituser + ":" + rabbitpass + "@" + rabbiturl + ":" + rabbitport + "/rewards")
}

func declare(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	return err
}

// Отправка заявок в сервис выплат
type RabbitPublisher struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewRabbitPublisher() (*RabbitPublisher, error) {
	conn, err := dial()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := declare(ch, queue); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &RabbitPublisher{conn, ch}, nil
}

func (r *RabbitPublisher) Close() {
	r.ch.Close()
	r.conn.Close()
}

func (r *RabbitPublisher) PublishPayout(ctx context.Context, msg models.PayoutMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.ch.PublishWithContext(ctx,
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.RedemptionID.String(),
			Body:         body,
		})
}

// Чтение результатов выплат
type RabbitConsumer struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	Msg  <-chan amqp.Delivery
}

// prefetch - сколько неподтвержденных сообщений держит потребитель
func NewRabbitConsumer(prefetch int) (*RabbitConsumer, error) {
	conn, err := dial()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := declare(ch, queuein); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	msg, err := ch.Consume(
		queuein, // queue
		"",      // consumer
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &RabbitConsumer{conn, ch, msg}, nil
}

func (r *RabbitConsumer) Close() {
	r.ch.Close()
	r.conn.Close()
}

type Advancer interface {
	AdvanceRedemption(ctx context.Context, id uuid.UUID, in models.AdvanceInput) (models.RedemptionRequest, error)
	GetRedemptionStatus(ctx context.Context, id uuid.UUID) (models.RedemptionRequest, error)
}

// Обработка результата выплаты. requeue - сообщение нужно вернуть в очередь.
// Результаты одной заявки могут прийти не по порядку: completed раньше processing.
func HandleResult(ctx context.Context, adv Advancer, body []byte) (requeue bool, err error) {
	var res models.PayoutResult
	if err := json.Unmarshal(body, &res); err != nil {
		return false, fmt.Errorf("payout result: %w", err)
	}
	id, err := uuid.Parse(res.RedemptionID)
	if err != nil {
		return false, fmt.Errorf("payout result: %w", err)
	}
	in := models.AdvanceInput{
		State:     res.State,
		Reference: res.Reference,
		Reason:    res.Reason,
	}
	_, err = adv.AdvanceRedemption(ctx, id, in)
	if !errors.Is(err, models.ErrIllegalTransition) {
		return outcome(err)
	}

	req, err := adv.GetRedemptionStatus(ctx, id)
	if err != nil {
		return outcome(err)
	}
	switch {
	case req.State.Reached(res.State):
		// повтор или запоздавший результат
		return false, nil
	case res.State == models.COMPLETED && req.State == models.PENDING:
		// processing еще не пришел: проходим его неявно
		_, err = adv.AdvanceRedemption(ctx, id, models.AdvanceInput{State: models.PROCESSING, Reference: res.Reference})
		if err != nil && !errors.Is(err, models.ErrIllegalTransition) {
			return outcome(err)
		}
		_, err = adv.AdvanceRedemption(ctx, id, in)
		if errors.Is(err, models.ErrIllegalTransition) {
			return true, err
		}
		return outcome(err)
	case req.State.Terminal() || req.State == models.FAILED:
		return false, fmt.Errorf("payout result %s conflicts with redemption in %s", res.State, req.State)
	}
	// результат опережает заявку: ждем предыдущие
	return true, fmt.Errorf("payout result %s is ahead of redemption in %s", res.State, req.State)
}

func outcome(err error) (bool, error) {
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, models.ErrTransient):
		return true, err
	}
	return false, err
}

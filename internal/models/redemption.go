package rewards

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Способы вывода
type FieldKind string

const (
	FIELD_GAME_UID FieldKind = "game_uid"
	FIELD_MOBILE   FieldKind = "mobile"
	FIELD_UPI      FieldKind = "upi"
	FIELD_EMAIL    FieldKind = "email"
)

// Канал вывода
type RedemptionChannel struct {
	ID                 string    `bson:"id" json:"id" yaml:"id"`
	Title              string    `bson:"title" json:"title" yaml:"title"`
	MinAmount          int64     `bson:"min_amount" json:"min_amount" yaml:"min_amount"`
	ConversionRate     string    `bson:"conversion_rate" json:"conversion_rate" yaml:"conversion_rate"` // "100:1" - 100 единиц за 1 единицу выплаты
	RequiredField      FieldKind `bson:"required_field" json:"required_field" yaml:"required_field"`
	ProcessingEstimate string    `bson:"processing_estimate" json:"processing_estimate" yaml:"processing_estimate"`
}

// Курс "from:to": from единиц внутренней валюты дают to единиц выплаты
func (c RedemptionChannel) Rate() (from int64, to int64, err error) {
	parts := strings.Split(strings.TrimSpace(c.ConversionRate), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("channel %s: conversion rate %q must look like from:to", c.ID, c.ConversionRate)
	}
	from, err = strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("channel %s: conversion rate: %w", c.ID, err)
	}
	to, err = strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("channel %s: conversion rate: %w", c.ID, err)
	}
	if from <= 0 || to <= 0 {
		return 0, 0, fmt.Errorf("channel %s: conversion rate %q must be positive", c.ID, c.ConversionRate)
	}
	return from, to, nil
}

// Сумма выплаты, округление вниз. Сумма заявки не меняется.
func (c RedemptionChannel) Convert(amount int64) (int64, error) {
	from, to, err := c.Rate()
	if err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, nil
	}
	return amount * to / from, nil
}

type RedemptionState string

const (
	REQUESTED  RedemptionState = "requested"
	VALIDATED  RedemptionState = "validated"
	PENDING    RedemptionState = "pending"
	PROCESSING RedemptionState = "processing"
	COMPLETED  RedemptionState = "completed"
	FAILED     RedemptionState = "failed"
	REVERSED   RedemptionState = "reversed"
)

// допустимые переходы
var transitions = map[RedemptionState][]RedemptionState{
	REQUESTED:  {VALIDATED, FAILED},
	VALIDATED:  {PENDING, FAILED},
	PENDING:    {PROCESSING, FAILED},
	PROCESSING: {COMPLETED, FAILED},
	FAILED:     {REVERSED},
}

func (s RedemptionState) CanTransition(to RedemptionState) bool {
	for _, v := range transitions[s] {
		if v == to {
			return true
		}
	}
	return false
}

// порядок состояний; completed и failed - альтернативные исходы
var stateOrder = map[RedemptionState]int{
	REQUESTED:  0,
	VALIDATED:  1,
	PENDING:    2,
	PROCESSING: 3,
	COMPLETED:  4,
	FAILED:     4,
	REVERSED:   5,
}

// Заявка уже в состоянии target или прошла его
func (s RedemptionState) Reached(target RedemptionState) bool {
	if s == target {
		return true
	}
	switch target {
	case COMPLETED, REVERSED:
		return false
	case FAILED:
		return s == REVERSED
	}
	return stateOrder[s] > stateOrder[target]
}

func (s RedemptionState) Terminal() bool {
	return s == COMPLETED || s == REVERSED
}

func (s RedemptionState) Valid() bool {
	switch s {
	case REQUESTED, VALIDATED, PENDING, PROCESSING, COMPLETED, FAILED, REVERSED:
		return true
	}
	return false
}

type StateChange struct {
	State RedemptionState `json:"state"`
	At    time.Time       `json:"at"`
	Note  string          `json:"note,omitempty"`
}

// Заявка на вывод
type RedemptionRequest struct {
	ID                    uuid.UUID       `json:"id"`
	UserID                string          `json:"user_id"`
	ChannelID             string          `json:"channel_id"`
	Amount                int64           `json:"amount"`        // во внутренней валюте
	PayoutAmount          int64           `json:"payout_amount"` // справочно, по курсу канала
	PayoutDetails         string          `json:"payout_details"`
	State                 RedemptionState `json:"state"`
	IdempotencyKey        string          `json:"idempotency_key,omitempty"`
	DebitTransactionID    uuid.UUID       `json:"debit_transaction_id"`
	ReversalTransactionID *uuid.UUID      `json:"reversal_transaction_id,omitempty"`
	PayoutReference       string          `json:"payout_reference,omitempty"`
	FailureReason         string          `json:"failure_reason,omitempty"`
	History               []StateChange   `json:"history"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
	Replayed              bool            `json:"replayed,omitempty"` // повтор по ключу, не сохраняется
}

// Перевод заявки в новое состояние
type AdvanceInput struct {
	State     RedemptionState `json:"state"`
	Reference string          `json:"reference,omitempty"` // ID выплаты во внешней системе
	Reason    string          `json:"reason,omitempty"`    // причина ошибки
}

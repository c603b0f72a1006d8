package rewards

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrQuotaExceeded        = errors.New("quota exceeded")
	ErrUnknownGameType      = errors.New("unknown game type")
	ErrBelowMinimum         = errors.New("amount below channel minimum")
	ErrInvalidPayoutDetails = errors.New("invalid payout details")
	ErrIllegalTransition    = errors.New("illegal transition")
	ErrNotReversible        = errors.New("transaction is not reversible")
	ErrTransient            = errors.New("transient failure")
	ErrNotFound             = errors.New("not found")
	ErrUnknownChannel       = errors.New("unknown redemption channel")
	ErrAccountArchived      = errors.New("account is archived")
)

// Сумма меньше минимальной для канала
type BelowMinimumError struct {
	ChannelID string
	Amount    int64
	MinAmount int64
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("%s: channel %s requires at least %d, got %d", ErrBelowMinimum, e.ChannelID, e.MinAmount, e.Amount)
}

func (e *BelowMinimumError) Unwrap() error {
	return ErrBelowMinimum
}

// Transient оборачивает ошибку инфраструктуры
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

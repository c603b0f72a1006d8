package rewards

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	models "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func states(req models.RedemptionRequest) []models.RedemptionState {
	result := make([]models.RedemptionState, 0, len(req.History))
	for _, h := range req.History {
		result = append(result, h.State)
	}
	return result
}

func TestSubmitRedemption(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.fund(t, "u1", 800)

	req, err := env.redemptions.Submit(ctx, "u1", "paytm", 550, " 9876543210 ", "")
	require.NoError(t, err)
	require.Equal(t, models.PENDING, req.State)
	require.Equal(t, []models.RedemptionState{models.REQUESTED, models.VALIDATED, models.PENDING}, states(req))
	require.Equal(t, int64(550), req.Amount)
	require.Equal(t, int64(5), req.PayoutAmount)
	require.Equal(t, "9876543210", req.PayoutDetails)

	acc := env.account(t, "u1")
	require.Equal(t, int64(250), acc.Balance)
	require.Equal(t, int64(550), acc.LifetimeRedeemed)

	debit, err := env.store.FindTransaction(ctx, req.DebitTransactionID)
	require.NoError(t, err)
	require.Equal(t, models.REDEEM_DEBIT, debit.Kind)
	require.Equal(t, req.ID.String(), debit.Reference)

	found, err := env.redemptions.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, req.ID, found.ID)
	require.Equal(t, models.PENDING, found.State)
}

func TestSubmitRedemptionRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.fund(t, "u1", 600)

	_, err := env.redemptions.Submit(ctx, "u1", "paytm", 499, "9876543210", "")
	require.ErrorIs(t, err, models.ErrBelowMinimum)
	var below *models.BelowMinimumError
	require.True(t, errors.As(err, &below))
	require.Equal(t, int64(500), below.MinAmount)

	_, err = env.redemptions.Submit(ctx, "u1", "paytm", 700, "9876543210", "")
	require.ErrorIs(t, err, models.ErrInsufficientBalance)

	_, err = env.redemptions.Submit(ctx, "u1", "paytm", 500, "12345", "")
	require.ErrorIs(t, err, models.ErrInvalidPayoutDetails)

	_, err = env.redemptions.Submit(ctx, "u1", "bitcoin", 500, "x", "")
	require.ErrorIs(t, err, models.ErrUnknownChannel)

	_, err = env.redemptions.Submit(ctx, "u1", "paytm", 0, "9876543210", "")
	require.ErrorIs(t, err, models.ErrInvalidAmount)

	acc := env.account(t, "u1")
	require.Equal(t, int64(600), acc.Balance)
	require.Zero(t, acc.LifetimeRedeemed)
	require.Equal(t, 1, env.historyLen(t, "u1"))

	reqs, err := env.redemptions.List(ctx, "u1", 0)
	require.NoError(t, err)
	require.Empty(t, reqs)
}

func TestSubmitRedemptionIdempotencyKey(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.fund(t, "u1", 300)

	first, err := env.redemptions.Submit(ctx, "u1", "freefire", 100, "123456789", "r-1")
	require.NoError(t, err)
	second, err := env.redemptions.Submit(ctx, "u1", "freefire", 100, "123456789", "r-1")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.False(t, first.Replayed)
	require.True(t, second.Replayed)
	require.Equal(t, int64(200), env.account(t, "u1").Balance)

	reqs, err := env.redemptions.List(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
}

func TestAdvanceRedemptionCompleted(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.fund(t, "u1", 1000)
	req, err := env.redemptions.Submit(ctx, "u1", "upi", 1000, "player@okaxis", "")
	require.NoError(t, err)

	_, err = env.redemptions.Advance(ctx, req.ID, models.AdvanceInput{State: models.COMPLETED})
	require.ErrorIs(t, err, models.ErrIllegalTransition, "completed only from processing")

	req, err = env.redemptions.Advance(ctx, req.ID, models.AdvanceInput{State: models.PROCESSING, Reference: "psp-1"})
	require.NoError(t, err)
	require.Equal(t, models.PROCESSING, req.State)
	require.Equal(t, "psp-1", req.PayoutReference)

	req, err = env.redemptions.Advance(ctx, req.ID, models.AdvanceInput{State: models.COMPLETED})
	require.NoError(t, err)
	require.Equal(t, models.COMPLETED, req.State)
	require.Equal(t, "psp-1", req.PayoutReference)
	require.Equal(t, []models.RedemptionState{models.REQUESTED, models.VALIDATED, models.PENDING, models.PROCESSING, models.COMPLETED}, states(req))

	for _, to := range []models.RedemptionState{models.FAILED, models.REVERSED, models.PENDING, models.COMPLETED} {
		_, err = env.redemptions.Advance(ctx, req.ID, models.AdvanceInput{State: to})
		require.ErrorIs(t, err, models.ErrIllegalTransition, "completed -> %s", to)
	}
	require.Zero(t, env.account(t, "u1").Balance)
}

func TestAdvanceRedemptionFailedReverses(t *testing.T) {
	for _, via := range []models.RedemptionState{models.PENDING, models.PROCESSING} {
		t.Run(string(via), func(t *testing.T) {
			env := newTestEnv(t, nil)
			ctx := context.Background()
			env.fund(t, "u1", 2500)
			req, err := env.redemptions.Submit(ctx, "u1", "giftcard", 2000, "player@example.com", "")
			require.NoError(t, err)
			if via == models.PROCESSING {
				_, err = env.redemptions.Advance(ctx, req.ID, models.AdvanceInput{State: models.PROCESSING})
				require.NoError(t, err)
			}

			req, err = env.redemptions.Advance(ctx, req.ID, models.AdvanceInput{State: models.FAILED, Reason: "provider rejected"})
			require.NoError(t, err)
			require.Equal(t, models.REVERSED, req.State)
			require.Equal(t, "provider rejected", req.FailureReason)
			require.NotNil(t, req.ReversalTransactionID)
			require.Contains(t, states(req), models.FAILED)
			require.Equal(t, models.REVERSED, states(req)[len(req.History)-1])

			acc := env.account(t, "u1")
			require.Equal(t, int64(2500), acc.Balance)
			require.Zero(t, acc.LifetimeRedeemed)

			rev, err := env.store.FindTransaction(ctx, *req.ReversalTransactionID)
			require.NoError(t, err)
			require.Equal(t, models.REDEEM_REVERSAL, rev.Kind)
			require.Equal(t, req.DebitTransactionID.String(), rev.Reference)

			_, err = env.ledger.Reverse(ctx, req.DebitTransactionID)
			require.ErrorIs(t, err, models.ErrNotReversible)
			_, err = env.redemptions.Advance(ctx, req.ID, models.AdvanceInput{State: models.REVERSED})
			require.ErrorIs(t, err, models.ErrIllegalTransition)
			require.Equal(t, int64(2500), env.account(t, "u1").Balance)
		})
	}
}

func TestRedemptionOutcomeBalance(t *testing.T) {
	tests := []struct {
		name    string
		path    []models.RedemptionState
		final   models.RedemptionState
		balance int64
	}{
		{"completed", []models.RedemptionState{models.PROCESSING, models.COMPLETED}, models.COMPLETED, 750},
		{"failed", []models.RedemptionState{models.FAILED}, models.REVERSED, 1250},
		{"failed while processing", []models.RedemptionState{models.PROCESSING, models.FAILED}, models.REVERSED, 1250},
	}
	for _, ts := range tests {
		t.Run(ts.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			ctx := context.Background()
			env.fund(t, "u1", 1250)

			req, err := env.redemptions.Submit(ctx, "u1", "paytm", 500, "9876543210", "")
			require.NoError(t, err)
			require.Equal(t, models.PENDING, req.State)
			require.Equal(t, int64(5), req.PayoutAmount)
			require.Equal(t, int64(750), env.account(t, "u1").Balance)

			for _, to := range ts.path {
				req, err = env.redemptions.Advance(ctx, req.ID, models.AdvanceInput{State: to})
				require.NoError(t, err)
			}
			require.Equal(t, ts.final, req.State)
			require.Equal(t, ts.balance, env.account(t, "u1").Balance)
		})
	}
}

func TestAdvanceRedemptionErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.redemptions.Advance(ctx, uuid.New(), models.AdvanceInput{State: models.PROCESSING})
	require.ErrorIs(t, err, models.ErrNotFound)

	env.fund(t, "u1", 100)
	req, err := env.redemptions.Submit(ctx, "u1", "freefire", 100, "123456", "")
	require.NoError(t, err)

	_, err = env.redemptions.Advance(ctx, req.ID, models.AdvanceInput{State: "shipped"})
	require.ErrorIs(t, err, models.ErrIllegalTransition)
	_, err = env.redemptions.Advance(ctx, req.ID, models.AdvanceInput{State: models.VALIDATED})
	require.ErrorIs(t, err, models.ErrIllegalTransition)
	_, err = env.redemptions.Advance(ctx, req.ID, models.AdvanceInput{State: models.REVERSED})
	require.ErrorIs(t, err, models.ErrIllegalTransition)

	found, err := env.redemptions.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, models.PENDING, found.State)
	require.Len(t, found.History, 3)
}

func TestConcurrentRedemptions(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.fund(t, "u1", 1000)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.redemptions.Submit(ctx, "u1", "freefire", 300, "123456", "")
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, models.ErrInsufficientBalance)
		}()
	}
	wg.Wait()

	require.Equal(t, 3, success)
	acc := env.account(t, "u1")
	require.Equal(t, int64(100), acc.Balance)

	reqs, err := env.redemptions.List(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, reqs, 3)
}

func TestStaleRedemptions(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.fund(t, "u1", 500)

	old, err := env.redemptions.Submit(ctx, "u1", "freefire", 100, "123456", "")
	require.NoError(t, err)
	done, err := env.redemptions.Submit(ctx, "u1", "freefire", 100, "123456", "")
	require.NoError(t, err)
	_, err = env.redemptions.Advance(ctx, done.ID, models.AdvanceInput{State: models.FAILED, Reason: "x"})
	require.NoError(t, err)

	env.clock.Advance(48 * time.Hour)
	fresh, err := env.redemptions.Submit(ctx, "u1", "freefire", 100, "123456", "")
	require.NoError(t, err)

	stale, err := env.redemptions.Stale(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, old.ID, stale[0].ID)

	reqs, err := env.redemptions.List(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	require.Equal(t, fresh.ID, reqs[0].ID, "newest first")
}

func TestQuote(t *testing.T) {
	env := newTestEnv(t, nil)
	tests := []struct {
		channel  string
		amount   int64
		expected int64
	}{
		{"freefire", 150, 150},
		{"paytm", 500, 5},
		{"upi", 1099, 10},
		{"giftcard", 2050, 20},
	}
	for _, ts := range tests {
		payout, err := env.redemptions.Quote(ts.channel, ts.amount)
		require.NoError(t, err)
		require.Equal(t, ts.expected, payout, "%s %d", ts.channel, ts.amount)
	}
	_, err := env.redemptions.Quote("bitcoin", 100)
	require.ErrorIs(t, err, models.ErrUnknownChannel)
	_, err = env.redemptions.Quote("paytm", -1)
	require.ErrorIs(t, err, models.ErrInvalidAmount)
	require.Len(t, env.redemptions.Channels(), 4)
}

func TestValidatePayoutDetails(t *testing.T) {
	tests := []struct {
		field models.FieldKind
		value string
		valid bool
	}{
		{models.FIELD_GAME_UID, "123456", true},
		{models.FIELD_GAME_UID, "123456789012", true},
		{models.FIELD_GAME_UID, "12345", false},
		{models.FIELD_GAME_UID, "12345a", false},
		{models.FIELD_MOBILE, "9876543210", true},
		{models.FIELD_MOBILE, "+919876543210", true},
		{models.FIELD_MOBILE, "09876543210", true},
		{models.FIELD_MOBILE, "1234567890", false},
		{models.FIELD_MOBILE, "98765", false},
		{models.FIELD_UPI, "player@okaxis", true},
		{models.FIELD_UPI, "first.last-1@ybl", true},
		{models.FIELD_UPI, "player", false},
		{models.FIELD_UPI, "player@", false},
		{models.FIELD_EMAIL, "player@example.com", true},
		{models.FIELD_EMAIL, "Player <player@example.com>", false},
		{models.FIELD_EMAIL, "not-an-email", false},
		{models.FIELD_EMAIL, "", false},
	}
	for _, ts := range tests {
		err := ValidatePayoutDetails(models.RedemptionChannel{ID: "test", RequiredField: ts.field}, ts.value)
		if ts.valid {
			require.NoError(t, err, "%s %q", ts.field, ts.value)
			continue
		}
		require.ErrorIs(t, err, models.ErrInvalidPayoutDetails, "%s %q", ts.field, ts.value)
	}
}

package rewards

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	app "github.com/glkeru/loyalty/rewards/internal/app"
	clock "github.com/glkeru/loyalty/rewards/internal/clock"
	config "github.com/glkeru/loyalty/rewards/internal/config"
	db "github.com/glkeru/loyalty/rewards/internal/db"
	models "github.com/glkeru/loyalty/rewards/internal/models"
	services "github.com/glkeru/loyalty/rewards/internal/services"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// всегда первый вариант: для scratch по умолчанию это "10 Coins"
type firstTier struct{}

func (firstTier) Int64N(n int64) int64 { return 0 }

func newTestFacade(t *testing.T) *services.Facade {
	t.Helper()
	clk := clock.NewManual(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	cfg := config.Default()
	cfg.Quota.Timezone = "UTC"
	facade, err := app.NewFacade(context.Background(), app.Deps{
		Config: cfg,
		Store:  db.NewMemoryStore(clk),
		Clock:  clk,
		Random: firstTier{},
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	return facade
}

func do(t *testing.T, h http.Handler, method string, target string, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestPlayHandler(t *testing.T) {
	h := NewHandler(newTestFacade(t), nil, zap.NewNop())

	rec := do(t, h, http.MethodPost, "/accounts/u1/plays/scratch", "", idempotencyHeader, "k1")
	require.Equal(t, http.StatusCreated, rec.Code)
	out := decode[models.Outcome](t, rec)
	require.Equal(t, int64(10), out.Play.Credited)
	require.Equal(t, 2, out.Remaining)

	rec = do(t, h, http.MethodPost, "/accounts/u1/plays/scratch", "", idempotencyHeader, "k1")
	require.Equal(t, http.StatusOK, rec.Code)
	replay := decode[models.Outcome](t, rec)
	require.True(t, replay.Replayed)
	require.Equal(t, out.Play.ID, replay.Play.ID)

	for i := 0; i < 2; i++ {
		rec = do(t, h, http.MethodPost, "/accounts/u1/plays/scratch", "")
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/accounts/u1/plays/scratch", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = do(t, h, http.MethodGet, "/accounts/u1/plays/scratch/remaining", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0, decode[RemainingResponse](t, rec).Remaining)

	rec = do(t, h, http.MethodPost, "/accounts/u1/plays/poker", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/accounts/u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[models.AccountSummary](t, rec)
	require.Equal(t, int64(30), summary.Balance)
	require.Equal(t, int64(30), summary.TodayEarned)

	rec = do(t, h, http.MethodGet, "/accounts/u1/history?page=1&page_size=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]models.Transaction](t, rec), 2)

	rec = do(t, h, http.MethodGet, "/accounts/u1/history?page=x", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlayLimiter(t *testing.T) {
	h := NewHandler(newTestFacade(t), NewPlayLimiter(60, 1), zap.NewNop())

	rec := do(t, h, http.MethodPost, "/accounts/u1/plays/scratch", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = do(t, h, http.MethodPost, "/accounts/u1/plays/scratch", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))

	// у другого пользователя свой лимит
	rec = do(t, h, http.MethodPost, "/accounts/u2/plays/scratch", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Nil(t, NewPlayLimiter(0, 5))
	require.True(t, (*PlayLimiter)(nil).Allow("u1"))
}

func TestPlayLimiterEvictsIdle(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	l := NewPlayLimiter(30, 5)
	l.now = func() time.Time { return now }
	l.swept = now
	require.Equal(t, time.Minute, l.idle)

	for _, user := range []string{"u1", "u2", "u3"} {
		require.True(t, l.Allow(user))
	}
	require.Len(t, l.limiters, 3)

	now = now.Add(30 * time.Second)
	require.True(t, l.Allow("u1"))
	require.Len(t, l.limiters, 3)

	// u2 и u3 не играли больше минуты
	now = now.Add(40 * time.Second)
	require.True(t, l.Allow("u4"))
	require.Len(t, l.limiters, 2)
	require.Contains(t, l.limiters, "u1")
	require.Contains(t, l.limiters, "u4")

	// исчерпанный лимит не сбрасывается раньше восстановления
	for i := 0; i < 5; i++ {
		l.Allow("u5")
	}
	require.False(t, l.Allow("u5"))
	now = now.Add(time.Second)
	require.False(t, l.Allow("u5"))
}

func TestRedemptionHandlers(t *testing.T) {
	facade := newTestFacade(t)
	h := NewHandler(facade, nil, zap.NewNop())
	ctx := context.Background()
	_, err := facade.GrantBonus(ctx, "u1", 300, "test funding", "fund-1")
	require.NoError(t, err)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"below minimum", `{"channel_id":"freefire","amount":50,"payout_details":"123456789"}`, http.StatusUnprocessableEntity},
		{"insufficient", `{"channel_id":"freefire","amount":500,"payout_details":"123456789"}`, http.StatusUnprocessableEntity},
		{"bad details", `{"channel_id":"freefire","amount":150,"payout_details":"abc"}`, http.StatusBadRequest},
		{"unknown channel", `{"channel_id":"bank","amount":150,"payout_details":"123456789"}`, http.StatusNotFound},
		{"bad body", `{"channel_id":`, http.StatusBadRequest},
	}
	for _, ts := range tests {
		t.Run(ts.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/accounts/u1/redemptions", ts.body)
			require.Equal(t, ts.code, rec.Code, rec.Body.String())
		})
	}

	rec := do(t, h, http.MethodPost, "/accounts/u1/redemptions", `{"channel_id":"freefire","amount":50,"payout_details":"123456789"}`)
	require.Equal(t, int64(100), decode[ErrorResponse](t, rec).MinAmount)

	rec = do(t, h, http.MethodPost, "/accounts/u1/redemptions", `{"channel_id":"freefire","amount":150,"payout_details":"123456789"}`, idempotencyHeader, "r1")
	require.Equal(t, http.StatusCreated, rec.Code)
	req := decode[models.RedemptionRequest](t, rec)
	require.Equal(t, models.PENDING, req.State)
	require.Equal(t, int64(150), req.PayoutAmount)

	// повтор с тем же ключом
	rec = do(t, h, http.MethodPost, "/accounts/u1/redemptions", `{"channel_id":"freefire","amount":150,"payout_details":"123456789"}`, idempotencyHeader, "r1")
	require.Equal(t, http.StatusOK, rec.Code)
	replay := decode[models.RedemptionRequest](t, rec)
	require.Equal(t, req.ID, replay.ID)
	require.True(t, replay.Replayed)

	rec = do(t, h, http.MethodGet, "/redemptions/"+req.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, req.ID, decode[models.RedemptionRequest](t, rec).ID)

	rec = do(t, h, http.MethodGet, "/accounts/u1/redemptions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]models.RedemptionRequest](t, rec), 1)

	rec = do(t, h, http.MethodPost, "/redemptions/"+req.ID.String()+"/advance", `{"state":"completed"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/redemptions/"+req.ID.String()+"/advance", `{"state":"processing","reference":"ff-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/redemptions/"+req.ID.String()+"/advance", `{"state":"completed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	done := decode[models.RedemptionRequest](t, rec)
	require.Equal(t, models.COMPLETED, done.State)
	require.Equal(t, "ff-1", done.PayoutReference)

	rec = do(t, h, http.MethodGet, "/redemptions/not-a-uuid", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodGet, "/redemptions/0b1e5c1a-8f61-4bde-9c55-6a8f3f0a2f11", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/accounts/u1", "")
	require.Equal(t, int64(150), decode[models.AccountSummary](t, rec).Balance)
}

func TestChannelHandlers(t *testing.T) {
	h := NewHandler(newTestFacade(t), nil, zap.NewNop())

	rec := do(t, h, http.MethodGet, "/channels", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]models.RedemptionChannel](t, rec), 4)

	rec = do(t, h, http.MethodGet, "/channels/paytm/quote?amount=550", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(5), decode[QuoteResponse](t, rec).PayoutAmount)

	rec = do(t, h, http.MethodGet, "/channels/paytm/quote?amount=abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodGet, "/channels/paytm/quote?amount=0", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodGet, "/channels/bank/quote?amount=100", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestArchiveHandler(t *testing.T) {
	h := NewHandler(newTestFacade(t), nil, zap.NewNop())

	rec := do(t, h, http.MethodDelete, "/accounts/u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, decode[models.Account](t, rec).ArchivedAt)

	rec = do(t, h, http.MethodPost, "/accounts/u1/plays/scratch", "")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{models.ErrInvalidAmount, http.StatusBadRequest},
		{models.ErrInvalidPayoutDetails, http.StatusBadRequest},
		{models.ErrNotFound, http.StatusNotFound},
		{models.ErrUnknownGameType, http.StatusNotFound},
		{models.ErrUnknownChannel, http.StatusNotFound},
		{models.ErrIllegalTransition, http.StatusConflict},
		{models.ErrNotReversible, http.StatusConflict},
		{models.ErrAccountArchived, http.StatusConflict},
		{models.ErrInsufficientBalance, http.StatusUnprocessableEntity},
		{&models.BelowMinimumError{ChannelID: "upi", Amount: 5, MinAmount: 1000}, http.StatusUnprocessableEntity},
		{models.ErrQuotaExceeded, http.StatusTooManyRequests},
		{models.Transient(context.DeadlineExceeded), http.StatusServiceUnavailable},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, ts := range tests {
		require.Equal(t, ts.code, StatusCode(ts.err), ts.err.Error())
	}
}

package rewards

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	models "github.com/glkeru/loyalty/rewards/internal/models"
	services "github.com/glkeru/loyalty/rewards/internal/services"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const idempotencyHeader = "Idempotency-Key"

type RewardsHandler struct {
	router  *mux.Router
	facade  *services.Facade
	limiter *PlayLimiter
	logger  *zap.Logger
}

type ErrorResponse struct {
	Error     string `json:"error"`
	MinAmount int64  `json:"min_amount,omitempty"`
}

type RemainingResponse struct {
	GameType  string `json:"game_type"`
	Remaining int    `json:"remaining"`
}

type QuoteResponse struct {
	ChannelID    string `json:"channel_id"`
	Amount       int64  `json:"amount"`
	PayoutAmount int64  `json:"payout_amount"`
}

type RedemptionRequestBody struct {
	ChannelID     string `json:"channel_id"`
	Amount        int64  `json:"amount"`
	PayoutDetails string `json:"payout_details"`
}

// limiter == nil - без ограничения частоты игр
func NewHandler(facade *services.Facade, limiter *PlayLimiter, logger *zap.Logger) *RewardsHandler {
	router := mux.NewRouter()
	handler := &RewardsHandler{router, facade, limiter, logger}
	router.Use(MiddlewareLog(logger))

	router.HandleFunc("/accounts/{user}", handler.GetAccountHandler).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{user}", handler.ArchiveAccountHandler).Methods(http.MethodDelete)
	router.HandleFunc("/accounts/{user}/history", handler.HistoryHandler).Methods(http.MethodGet)
	router.Handle("/accounts/{user}/plays/{game}", limiter.Middleware(http.HandlerFunc(handler.PlayHandler))).Methods(http.MethodPost)
	router.HandleFunc("/accounts/{user}/plays/{game}/remaining", handler.RemainingHandler).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{user}/redemptions", handler.ListRedemptionsHandler).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{user}/redemptions", handler.SubmitRedemptionHandler).Methods(http.MethodPost)
	router.HandleFunc("/channels", handler.ChannelsHandler).Methods(http.MethodGet)
	router.HandleFunc("/channels/{id}/quote", handler.QuoteHandler).Methods(http.MethodGet)
	router.HandleFunc("/redemptions/{id}", handler.RedemptionHandler).Methods(http.MethodGet)
	router.HandleFunc("/redemptions/{id}/advance", handler.AdvanceHandler).Methods(http.MethodPost)

	return handler
}

// Дополнительные маршруты (например /metrics)
func (r *RewardsHandler) Handle(path string, h http.Handler) {
	r.router.Handle(path, h)
}

func (r *RewardsHandler) ServeHTTP(w http.ResponseWriter, res *http.Request) {
	r.router.ServeHTTP(w, res)
}

func (r *RewardsHandler) Log(msg string, service string, err error) {
	r.logger.Error(msg,
		zap.String("service", service),
		zap.Error(err),
	)
}

// Баланс и заработок за день
func (r *RewardsHandler) GetAccountHandler(w http.ResponseWriter, req *http.Request) {
	summary, err := r.facade.GetAccount(req.Context(), mux.Vars(req)["user"])
	if err != nil {
		r.writeError(w, "GetAccountHandler", err)
		return
	}
	r.writeJSON(w, "GetAccountHandler", http.StatusOK, summary)
}

// Архивирование счета
func (r *RewardsHandler) ArchiveAccountHandler(w http.ResponseWriter, req *http.Request) {
	acc, err := r.facade.ArchiveAccount(req.Context(), mux.Vars(req)["user"])
	if err != nil {
		r.writeError(w, "ArchiveAccountHandler", err)
		return
	}
	r.writeJSON(w, "ArchiveAccountHandler", http.StatusOK, acc)
}

// История транзакций, новые первыми
func (r *RewardsHandler) HistoryHandler(w http.ResponseWriter, req *http.Request) {
	page, err := queryInt(req, "page", 1)
	if err != nil {
		http.Error(w, "page is not correct", http.StatusBadRequest)
		return
	}
	size, err := queryInt(req, "page_size", 0)
	if err != nil {
		http.Error(w, "page_size is not correct", http.StatusBadRequest)
		return
	}
	tnxs, err := r.facade.GetHistory(req.Context(), mux.Vars(req)["user"], page, size)
	if err != nil {
		r.writeError(w, "HistoryHandler", err)
		return
	}
	if tnxs == nil {
		tnxs = []models.Transaction{}
	}
	r.writeJSON(w, "HistoryHandler", http.StatusOK, tnxs)
}

// Игра
func (r *RewardsHandler) PlayHandler(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	out, err := r.facade.Play(req.Context(), vars["user"], vars["game"], req.Header.Get(idempotencyHeader))
	if err != nil {
		r.writeError(w, "PlayHandler", err)
		return
	}
	code := http.StatusCreated
	if out.Replayed {
		code = http.StatusOK
	}
	r.writeJSON(w, "PlayHandler", code, out)
}

// Остаток игр на сегодня
func (r *RewardsHandler) RemainingHandler(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	remaining, err := r.facade.GetRemainingPlays(req.Context(), vars["user"], vars["game"])
	if err != nil {
		r.writeError(w, "RemainingHandler", err)
		return
	}
	r.writeJSON(w, "RemainingHandler", http.StatusOK, RemainingResponse{vars["game"], remaining})
}

// Последние заявки на вывод
func (r *RewardsHandler) ListRedemptionsHandler(w http.ResponseWriter, req *http.Request) {
	limit, err := queryInt(req, "limit", 0)
	if err != nil {
		http.Error(w, "limit is not correct", http.StatusBadRequest)
		return
	}
	reqs, err := r.facade.ListRedemptions(req.Context(), mux.Vars(req)["user"], limit)
	if err != nil {
		r.writeError(w, "ListRedemptionsHandler", err)
		return
	}
	if reqs == nil {
		reqs = []models.RedemptionRequest{}
	}
	r.writeJSON(w, "ListRedemptionsHandler", http.StatusOK, reqs)
}

// Заявка на вывод
func (r *RewardsHandler) SubmitRedemptionHandler(w http.ResponseWriter, req *http.Request) {
	var in RedemptionRequestBody
	if !r.readJSON(w, req, "SubmitRedemptionHandler", &in) {
		return
	}
	out, err := r.facade.SubmitRedemption(req.Context(), mux.Vars(req)["user"], in.ChannelID, in.Amount, in.PayoutDetails, req.Header.Get(idempotencyHeader))
	if err != nil {
		r.writeError(w, "SubmitRedemptionHandler", err)
		return
	}
	code := http.StatusCreated
	if out.Replayed {
		code = http.StatusOK
	}
	r.writeJSON(w, "SubmitRedemptionHandler", code, out)
}

// Каналы вывода
func (r *RewardsHandler) ChannelsHandler(w http.ResponseWriter, req *http.Request) {
	r.writeJSON(w, "ChannelsHandler", http.StatusOK, r.facade.ListChannels())
}

// Расчет суммы выплаты
func (r *RewardsHandler) QuoteHandler(w http.ResponseWriter, req *http.Request) {
	amount, err := strconv.ParseInt(req.URL.Query().Get("amount"), 10, 64)
	if err != nil {
		http.Error(w, "amount is not correct", http.StatusBadRequest)
		return
	}
	id := mux.Vars(req)["id"]
	payout, err := r.facade.QuoteRedemption(id, amount)
	if err != nil {
		r.writeError(w, "QuoteHandler", err)
		return
	}
	r.writeJSON(w, "QuoteHandler", http.StatusOK, QuoteResponse{id, amount, payout})
}

// Статус заявки
func (r *RewardsHandler) RedemptionHandler(w http.ResponseWriter, req *http.Request) {
	id, err := uuid.Parse(mux.Vars(req)["id"])
	if err != nil {
		http.Error(w, "Redemption not found", http.StatusNotFound)
		return
	}
	out, err := r.facade.GetRedemptionStatus(req.Context(), id)
	if err != nil {
		r.writeError(w, "RedemptionHandler", err)
		return
	}
	r.writeJSON(w, "RedemptionHandler", http.StatusOK, out)
}

// Смена состояния заявки (сервис выплат, оператор)
func (r *RewardsHandler) AdvanceHandler(w http.ResponseWriter, req *http.Request) {
	id, err := uuid.Parse(mux.Vars(req)["id"])
	if err != nil {
		http.Error(w, "Redemption not found", http.StatusNotFound)
		return
	}
	var in models.AdvanceInput
	if !r.readJSON(w, req, "AdvanceHandler", &in) {
		return
	}
	out, err := r.facade.AdvanceRedemption(req.Context(), id, in)
	if err != nil {
		r.writeError(w, "AdvanceHandler", err)
		return
	}
	r.writeJSON(w, "AdvanceHandler", http.StatusOK, out)
}

func (r *RewardsHandler) readJSON(w http.ResponseWriter, req *http.Request, service string, v any) bool {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		r.Log("Get request body", service, err)
		http.Error(w, "Body is empty", http.StatusBadRequest)
		return false
	}
	defer req.Body.Close()
	if err := json.Unmarshal(body, v); err != nil {
		http.Error(w, "Body is not correct", http.StatusBadRequest)
		return false
	}
	return true
}

func (r *RewardsHandler) writeJSON(w http.ResponseWriter, service string, code int, v any) {
	j, err := json.Marshal(v)
	if err != nil {
		r.Log("Marshal", service, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(j)
}

func (r *RewardsHandler) writeError(w http.ResponseWriter, service string, err error) {
	code := StatusCode(err)
	resp := ErrorResponse{Error: err.Error()}
	var below *models.BelowMinimumError
	if errors.As(err, &below) {
		resp.MinAmount = below.MinAmount
	}
	if code >= http.StatusInternalServerError {
		r.Log("Request failed", service, err)
	}
	if code == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	r.writeJSON(w, service, code, resp)
}

// Код ответа по ошибке домена
func StatusCode(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidAmount), errors.Is(err, models.ErrInvalidPayoutDetails):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrUnknownGameType), errors.Is(err, models.ErrUnknownChannel):
		return http.StatusNotFound
	case errors.Is(err, models.ErrIllegalTransition), errors.Is(err, models.ErrNotReversible), errors.Is(err, models.ErrAccountArchived):
		return http.StatusConflict
	case errors.Is(err, models.ErrInsufficientBalance), errors.Is(err, models.ErrBelowMinimum):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, models.ErrTransient):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func queryInt(req *http.Request, name string, def int) (int, error) {
	v := req.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

package rewards

import (
	"context"
	"sort"
	"sync"
	"time"

	interfaces "github.com/glkeru/loyalty/rewards/internal/interfaces"
	models "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Данные одного счета
type aggregate struct {
	sem *semaphore.Weighted // одна единица работы за раз
	mu  sync.RWMutex        // видимость данных для чтения вне единицы работы

	account         models.Account
	tnx             []models.Transaction
	tnxByID         map[uuid.UUID]int
	tnxByKey        map[string]int
	quotas          map[string]models.QuotaWindow
	redemptions     map[uuid.UUID]models.RedemptionRequest
	redemptionOrder []uuid.UUID
	redemptionByKey map[string]uuid.UUID
	plays           []models.Play
	playByKey       map[string]int
}

// Хранилище в памяти: счет - единица блокировки, общей блокировки нет
type MemoryStore struct {
	mu              sync.RWMutex
	accounts        map[string]*aggregate
	tnxOwner        map[uuid.UUID]string
	redemptionOwner map[uuid.UUID]string
	clock           interfaces.Clock
}

func NewMemoryStore(clock interfaces.Clock) *MemoryStore {
	return &MemoryStore{
		accounts:        make(map[string]*aggregate),
		tnxOwner:        make(map[uuid.UUID]string),
		redemptionOwner: make(map[uuid.UUID]string),
		clock:           clock,
	}
}

func (m *MemoryStore) get(userID string) (*aggregate, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agg, ok := m.accounts[userID]
	return agg, ok
}

func (m *MemoryStore) getOrCreate(userID string) *aggregate {
	if agg, ok := m.get(userID); ok {
		return agg
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if agg, ok := m.accounts[userID]; ok {
		return agg
	}
	now := m.clock.Now()
	agg := &aggregate{
		sem:             semaphore.NewWeighted(1),
		account:         models.Account{UserID: userID, CreatedAt: now, UpdatedAt: now},
		tnxByID:         make(map[uuid.UUID]int),
		tnxByKey:        make(map[string]int),
		quotas:          make(map[string]models.QuotaWindow),
		redemptions:     make(map[uuid.UUID]models.RedemptionRequest),
		redemptionByKey: make(map[string]uuid.UUID),
		playByKey:       make(map[string]int),
	}
	m.accounts[userID] = agg
	return agg
}

func (m *MemoryStore) WithAccount(ctx context.Context, userID string, fn func(tx interfaces.AccountTx) error) error {
	agg := m.getOrCreate(userID)
	if err := agg.sem.Acquire(ctx, 1); err != nil {
		return models.Transient(err)
	}
	defer agg.sem.Release(1)

	tx := &memTx{
		agg:         agg,
		account:     agg.account,
		quotas:      make(map[string]models.QuotaWindow),
		redemptions: make(map[uuid.UUID]models.RedemptionRequest),
	}
	if err := fn(tx); err != nil {
		return err
	}
	m.commit(tx)
	return nil
}

// применение изменений единицы работы
func (m *MemoryStore) commit(tx *memTx) {
	agg := tx.agg
	agg.mu.Lock()
	agg.account = tx.account
	for _, t := range tx.tnx {
		agg.tnx = append(agg.tnx, t)
		idx := len(agg.tnx) - 1
		agg.tnxByID[t.ID] = idx
		if t.IdempotencyKey != "" {
			agg.tnxByKey[t.IdempotencyKey] = idx
		}
	}
	for k, w := range tx.quotas {
		agg.quotas[k] = w
	}
	for id, r := range tx.redemptions {
		if _, ok := agg.redemptions[id]; !ok {
			agg.redemptionOrder = append(agg.redemptionOrder, id)
		}
		agg.redemptions[id] = r
		if r.IdempotencyKey != "" {
			agg.redemptionByKey[r.IdempotencyKey] = id
		}
	}
	for _, p := range tx.plays {
		agg.plays = append(agg.plays, p)
		if p.IdempotencyKey != "" {
			agg.playByKey[p.IdempotencyKey] = len(agg.plays) - 1
		}
	}
	agg.mu.Unlock()

	if len(tx.tnx) == 0 && len(tx.redemptions) == 0 {
		return
	}
	m.mu.Lock()
	for _, t := range tx.tnx {
		m.tnxOwner[t.ID] = t.UserID
	}
	for id, r := range tx.redemptions {
		m.redemptionOwner[id] = r.UserID
	}
	m.mu.Unlock()
}

func (m *MemoryStore) GetAccount(ctx context.Context, userID string) (models.Account, error) {
	agg, ok := m.get(userID)
	if !ok {
		return models.Account{}, models.ErrNotFound
	}
	agg.mu.RLock()
	defer agg.mu.RUnlock()
	return agg.account, nil
}

func (m *MemoryStore) History(ctx context.Context, userID string, offset int, limit int) ([]models.Transaction, error) {
	agg, ok := m.get(userID)
	if !ok {
		return []models.Transaction{}, nil
	}
	agg.mu.RLock()
	defer agg.mu.RUnlock()

	result := make([]models.Transaction, 0, limit)
	for i := len(agg.tnx) - 1 - offset; i >= 0 && len(result) < limit; i-- {
		result = append(result, agg.tnx[i])
	}
	return result, nil
}

func (m *MemoryStore) EarnedSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	agg, ok := m.get(userID)
	if !ok {
		return 0, nil
	}
	agg.mu.RLock()
	defer agg.mu.RUnlock()

	var total int64
	for i := len(agg.tnx) - 1; i >= 0; i-- {
		t := agg.tnx[i]
		if t.CreatedAt.Before(since) {
			break
		}
		if t.Kind == models.EARN {
			total += t.Amount
		}
	}
	return total, nil
}

func (m *MemoryStore) FindTransaction(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	m.mu.RLock()
	owner, ok := m.tnxOwner[id]
	m.mu.RUnlock()
	if !ok {
		return models.Transaction{}, models.ErrNotFound
	}
	agg, _ := m.get(owner)
	agg.mu.RLock()
	defer agg.mu.RUnlock()
	return agg.tnx[agg.tnxByID[id]], nil
}

func (m *MemoryStore) FindRedemption(ctx context.Context, id uuid.UUID) (models.RedemptionRequest, error) {
	m.mu.RLock()
	owner, ok := m.redemptionOwner[id]
	m.mu.RUnlock()
	if !ok {
		return models.RedemptionRequest{}, models.ErrNotFound
	}
	agg, _ := m.get(owner)
	agg.mu.RLock()
	defer agg.mu.RUnlock()
	return cloneRedemption(agg.redemptions[id]), nil
}

func (m *MemoryStore) ListRedemptions(ctx context.Context, userID string, limit int) ([]models.RedemptionRequest, error) {
	agg, ok := m.get(userID)
	if !ok {
		return []models.RedemptionRequest{}, nil
	}
	agg.mu.RLock()
	defer agg.mu.RUnlock()

	result := make([]models.RedemptionRequest, 0, limit)
	for i := len(agg.redemptionOrder) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, cloneRedemption(agg.redemptions[agg.redemptionOrder[i]]))
	}
	return result, nil
}

func (m *MemoryStore) StaleRedemptions(ctx context.Context, before time.Time, states []models.RedemptionState) ([]models.RedemptionRequest, error) {
	m.mu.RLock()
	aggs := make([]*aggregate, 0, len(m.accounts))
	for _, agg := range m.accounts {
		aggs = append(aggs, agg)
	}
	m.mu.RUnlock()

	var result []models.RedemptionRequest
	for _, agg := range aggs {
		agg.mu.RLock()
		for _, r := range agg.redemptions {
			if r.UpdatedAt.Before(before) && hasState(states, r.State) {
				result = append(result, cloneRedemption(r))
			}
		}
		agg.mu.RUnlock()
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	return result, nil
}

func hasState(states []models.RedemptionState, s models.RedemptionState) bool {
	for _, v := range states {
		if v == s {
			return true
		}
	}
	return false
}

func cloneRedemption(r models.RedemptionRequest) models.RedemptionRequest {
	r.History = append([]models.StateChange(nil), r.History...)
	return r
}

// Незафиксированные изменения одной единицы работы
type memTx struct {
	agg         *aggregate
	account     models.Account
	tnx         []models.Transaction
	quotas      map[string]models.QuotaWindow
	redemptions map[uuid.UUID]models.RedemptionRequest
	plays       []models.Play
}

func (t *memTx) Account() models.Account {
	return t.account
}

func (t *memTx) SetAccount(account models.Account) {
	t.account = account
}

func (t *memTx) AppendTransaction(ctx context.Context, tnx models.Transaction) error {
	t.tnx = append(t.tnx, tnx)
	return nil
}

func (t *memTx) Transaction(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	for _, v := range t.tnx {
		if v.ID == id {
			return v, nil
		}
	}
	if idx, ok := t.agg.tnxByID[id]; ok {
		return t.agg.tnx[idx], nil
	}
	return models.Transaction{}, models.ErrNotFound
}

func (t *memTx) TransactionByKey(ctx context.Context, key string) (models.Transaction, error) {
	for _, v := range t.tnx {
		if v.IdempotencyKey == key {
			return v, nil
		}
	}
	if idx, ok := t.agg.tnxByKey[key]; ok {
		return t.agg.tnx[idx], nil
	}
	return models.Transaction{}, models.ErrNotFound
}

func (t *memTx) Quota(ctx context.Context, action string) (models.QuotaWindow, error) {
	if w, ok := t.quotas[action]; ok {
		return w, nil
	}
	if w, ok := t.agg.quotas[action]; ok {
		return w, nil
	}
	return models.QuotaWindow{}, models.ErrNotFound
}

func (t *memTx) SetQuota(ctx context.Context, window models.QuotaWindow) error {
	t.quotas[window.Action] = window
	return nil
}

func (t *memTx) Redemption(ctx context.Context, id uuid.UUID) (models.RedemptionRequest, error) {
	if r, ok := t.redemptions[id]; ok {
		return cloneRedemption(r), nil
	}
	if r, ok := t.agg.redemptions[id]; ok {
		return cloneRedemption(r), nil
	}
	return models.RedemptionRequest{}, models.ErrNotFound
}

func (t *memTx) RedemptionByKey(ctx context.Context, key string) (models.RedemptionRequest, error) {
	for _, r := range t.redemptions {
		if r.IdempotencyKey == key {
			return cloneRedemption(r), nil
		}
	}
	if id, ok := t.agg.redemptionByKey[key]; ok {
		return cloneRedemption(t.agg.redemptions[id]), nil
	}
	return models.RedemptionRequest{}, models.ErrNotFound
}

func (t *memTx) SaveRedemption(ctx context.Context, req models.RedemptionRequest) error {
	t.redemptions[req.ID] = cloneRedemption(req)
	return nil
}

func (t *memTx) PlayByKey(ctx context.Context, key string) (models.Play, error) {
	for _, p := range t.plays {
		if p.IdempotencyKey == key {
			return p, nil
		}
	}
	if idx, ok := t.agg.playByKey[key]; ok {
		return t.agg.plays[idx], nil
	}
	return models.Play{}, models.ErrNotFound
}

func (t *memTx) SavePlay(ctx context.Context, play models.Play) error {
	t.plays = append(t.plays, play)
	return nil
}

package rewards

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	sq "github.com/Masterminds/squirrel"
	interfaces "github.com/glkeru/loyalty/rewards/internal/interfaces"
	models "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	userid            text PRIMARY KEY,
	balance           bigint NOT NULL DEFAULT 0 CHECK (balance >= 0),
	lifetime_earned   bigint NOT NULL DEFAULT 0,
	lifetime_redeemed bigint NOT NULL DEFAULT 0,
	archived_at       timestamptz,
	created_at        timestamptz NOT NULL,
	updated_at        timestamptz NOT NULL
);
CREATE TABLE IF NOT EXISTS tnx (
	seq             bigserial PRIMARY KEY,
	id              uuid NOT NULL UNIQUE,
	userid          text NOT NULL REFERENCES accounts (userid),
	kind            text NOT NULL,
	amount          bigint NOT NULL CHECK (amount > 0),
	reason          text NOT NULL DEFAULT '',
	reference       text NOT NULL DEFAULT '',
	idempotency_key text,
	balance_after   bigint NOT NULL,
	created_at      timestamptz NOT NULL,
	UNIQUE (userid, idempotency_key)
);
CREATE INDEX IF NOT EXISTS tnx_userid_seq ON tnx (userid, seq DESC);
CREATE TABLE IF NOT EXISTS quota_windows (
	userid       text NOT NULL REFERENCES accounts (userid),
	action       text NOT NULL,
	window_start timestamptz NOT NULL,
	used         integer NOT NULL,
	PRIMARY KEY (userid, action)
);
CREATE TABLE IF NOT EXISTS redemptions (
	id               uuid PRIMARY KEY,
	userid           text NOT NULL REFERENCES accounts (userid),
	channel          text NOT NULL,
	amount           bigint NOT NULL,
	payout_amount    bigint NOT NULL,
	payout_details   text NOT NULL,
	state            text NOT NULL,
	idempotency_key  text,
	debit_tnx        uuid NOT NULL,
	reversal_tnx     uuid,
	payout_reference text NOT NULL DEFAULT '',
	failure_reason   text NOT NULL DEFAULT '',
	history          jsonb NOT NULL,
	created_at       timestamptz NOT NULL,
	updated_at       timestamptz NOT NULL,
	UNIQUE (userid, idempotency_key)
);
CREATE INDEX IF NOT EXISTS redemptions_userid_created ON redemptions (userid, created_at DESC);
CREATE INDEX IF NOT EXISTS redemptions_state_updated ON redemptions (state, updated_at);
CREATE TABLE IF NOT EXISTS plays (
	id              uuid PRIMARY KEY,
	userid          text NOT NULL REFERENCES accounts (userid),
	game_type       text NOT NULL,
	tier            jsonb NOT NULL,
	credited        bigint NOT NULL,
	tnx_id          uuid,
	idempotency_key text,
	created_at      timestamptz NOT NULL,
	UNIQUE (userid, idempotency_key)
);
`

var (
	accountColumns    = []string{"userid", "balance", "lifetime_earned", "lifetime_redeemed", "archived_at", "created_at", "updated_at"}
	tnxColumns        = []string{"id", "userid", "kind", "amount", "reason", "reference", "idempotency_key", "balance_after", "created_at"}
	redemptionColumns = []string{"id", "userid", "channel", "amount", "payout_amount", "payout_details", "state", "idempotency_key",
		"debit_tnx", "reversal_tnx", "payout_reference", "failure_reason", "history", "created_at", "updated_at"}
	playColumns = []string{"id", "userid", "game_type", "tier", "credited", "tnx_id", "idempotency_key", "created_at"}
)

// Хранилище счетов в PostgreSQL. Единица работы - транзакция с блокировкой строки счета.
type AccountsDB struct {
	pool   *pgxpool.Pool
	clock  interfaces.Clock
	logger *zap.Logger
}

func NewAccountsDB(ctx context.Context, clock interfaces.Clock, logger *zap.Logger) (*AccountsDB, error) {
	// config
	purl := os.Getenv("REWARDS_DB")
	if purl == "" {
		return nil, fmt.Errorf("env REWARDS_DB is not set")
	}
	port := os.Getenv("REWARDS_DB_PORT")
	if port == "" {
		return nil, fmt.Errorf("env REWARDS_DB_PORT is not set")
	}
	user := os.Getenv("REWARDS_DB_USER")
	if user == "" {
		return nil, fmt.Errorf("env REWARDS_DB_USER is not set")
	}
	password := os.Getenv("REWARDS_DB_PASSWORD")
	if password == "" {
		return nil, fmt.Errorf("env REWARDS_DB_PASSWORD is not set")
	}
	database := os.Getenv("REWARDS_DB_BASE")
	if database == "" {
		return nil, fmt.Errorf("env REWARDS_DB_BASE is not set")
	}
	dsn := "postgres://" + user + ":" + password + "@" + purl + ":" + port + "/" + database

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &AccountsDB{pool, clock, logger}, nil
}

func (p *AccountsDB) Close() {
	p.pool.Close()
}

// Создание таблиц, если их нет
func (p *AccountsDB) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schema)
	return err
}

func (p *AccountsDB) WithAccount(ctx context.Context, userID string, fn func(tx interfaces.AccountTx) error) (err error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return p.fail("begin tx", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(context.Background())
		}
	}()

	// счет создается при первом обращении
	now := p.clock.Now()
	sql, args, err := sq.Insert("accounts").
		Columns("userid", "created_at", "updated_at").
		Values(userID, now, now).
		Suffix("ON CONFLICT (userid) DO NOTHING").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, sql, args...); err != nil {
		return p.fail("create account", err, zap.String("query", sql))
	}

	// блокируем строку счета
	sql, args, err = sq.Select(accountColumns...).
		From("accounts").
		Where(sq.Eq{"userid": userID}).
		Suffix("FOR UPDATE").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return err
	}
	acc, err := scanAccount(tx.QueryRow(ctx, sql, args...))
	if err != nil {
		return p.fail("lock account", err, zap.String("user", userID))
	}

	ptx := &pgTx{db: p, tx: tx, account: acc}
	if err = fn(ptx); err != nil {
		return err
	}

	if ptx.dirty {
		sql, args, err = sq.Update("accounts").
			Set("balance", ptx.account.Balance).
			Set("lifetime_earned", ptx.account.LifetimeEarned).
			Set("lifetime_redeemed", ptx.account.LifetimeRedeemed).
			Set("archived_at", ptx.account.ArchivedAt).
			Set("updated_at", ptx.account.UpdatedAt).
			Where(sq.Eq{"userid": userID}).
			PlaceholderFormat(sq.Dollar).
			ToSql()
		if err != nil {
			return err
		}
		if _, err = tx.Exec(ctx, sql, args...); err != nil {
			return p.fail("update account", err, zap.String("user", userID))
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return p.fail("commit", err, zap.String("user", userID))
	}
	return nil
}

func (p *AccountsDB) GetAccount(ctx context.Context, userID string) (models.Account, error) {
	sql, args, err := sq.Select(accountColumns...).
		From("accounts").
		Where(sq.Eq{"userid": userID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return models.Account{}, err
	}
	acc, err := scanAccount(p.pool.QueryRow(ctx, sql, args...))
	if err != nil {
		return models.Account{}, p.fail("get account", err, zap.String("user", userID))
	}
	return acc, nil
}

// История, новые сверху
func (p *AccountsDB) History(ctx context.Context, userID string, offset int, limit int) ([]models.Transaction, error) {
	sql, args, err := sq.Select(tnxColumns...).
		From("tnx").
		Where(sq.Eq{"userid": userID}).
		OrderBy("seq DESC").
		Offset(uint64(offset)).
		Limit(uint64(limit)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, p.fail("history", err, zap.String("user", userID))
	}
	defer rows.Close()

	tnxs := make([]models.Transaction, 0, limit)
	for rows.Next() {
		tnx, err := scanTransaction(rows)
		if err != nil {
			return nil, p.fail("scan tnx", err)
		}
		tnxs = append(tnxs, tnx)
	}
	if err := rows.Err(); err != nil {
		return nil, p.fail("history", err)
	}
	return tnxs, nil
}

func (p *AccountsDB) EarnedSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	sql, args, err := sq.Select("COALESCE(SUM(amount), 0)").
		From("tnx").
		Where(sq.Eq{"userid": userID, "kind": models.EARN}).
		Where(sq.GtOrEq{"created_at": since}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return 0, err
	}
	var total int64
	if err := p.pool.QueryRow(ctx, sql, args...).Scan(&total); err != nil {
		return 0, p.fail("earned since", err, zap.String("user", userID))
	}
	return total, nil
}

func (p *AccountsDB) FindTransaction(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	sql, args, err := sq.Select(tnxColumns...).
		From("tnx").
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return models.Transaction{}, err
	}
	tnx, err := scanTransaction(p.pool.QueryRow(ctx, sql, args...))
	if err != nil {
		return models.Transaction{}, p.fail("find tnx", err)
	}
	return tnx, nil
}

func (p *AccountsDB) FindRedemption(ctx context.Context, id uuid.UUID) (models.RedemptionRequest, error) {
	sql, args, err := sq.Select(redemptionColumns...).
		From("redemptions").
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return models.RedemptionRequest{}, err
	}
	req, err := scanRedemption(p.pool.QueryRow(ctx, sql, args...))
	if err != nil {
		return models.RedemptionRequest{}, p.fail("find redemption", err)
	}
	return req, nil
}

func (p *AccountsDB) ListRedemptions(ctx context.Context, userID string, limit int) ([]models.RedemptionRequest, error) {
	return p.queryRedemptions(ctx, sq.Select(redemptionColumns...).
		From("redemptions").
		Where(sq.Eq{"userid": userID}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)))
}

func (p *AccountsDB) StaleRedemptions(ctx context.Context, before time.Time, states []models.RedemptionState) ([]models.RedemptionRequest, error) {
	values := make([]string, 0, len(states))
	for _, s := range states {
		values = append(values, string(s))
	}
	return p.queryRedemptions(ctx, sq.Select(redemptionColumns...).
		From("redemptions").
		Where(sq.Eq{"state": values}).
		Where(sq.Lt{"updated_at": before}).
		OrderBy("updated_at"))
}

func (p *AccountsDB) queryRedemptions(ctx context.Context, query sq.SelectBuilder) ([]models.RedemptionRequest, error) {
	sql, args, err := query.PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, p.fail("query redemptions", err, zap.String("query", sql))
	}
	defer rows.Close()

	result := []models.RedemptionRequest{}
	for rows.Next() {
		req, err := scanRedemption(rows)
		if err != nil {
			return nil, p.fail("scan redemption", err)
		}
		result = append(result, req)
	}
	if err := rows.Err(); err != nil {
		return nil, p.fail("query redemptions", err)
	}
	return result, nil
}

// ErrNoRows -> ErrNotFound, остальное - временная ошибка
func (p *AccountsDB) fail(op string, err error, fields ...zap.Field) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrTransient) {
		return err
	}
	p.logger.Error("SQL error", append(fields, zap.String("op", op), zap.Error(err))...)
	return models.Transient(fmt.Errorf("%s: %w", op, err))
}

// Единица работы в транзакции PostgreSQL
type pgTx struct {
	db      *AccountsDB
	tx      pgx.Tx
	account models.Account
	dirty   bool
}

func (t *pgTx) Account() models.Account {
	return t.account
}

func (t *pgTx) SetAccount(account models.Account) {
	t.account = account
	t.dirty = true
}

func (t *pgTx) AppendTransaction(ctx context.Context, tnx models.Transaction) error {
	sql, args, err := sq.Insert("tnx").
		Columns(tnxColumns...).
		Values(tnx.ID, tnx.UserID, string(tnx.Kind), tnx.Amount, tnx.Reason, tnx.Reference, nullable(tnx.IdempotencyKey), tnx.BalanceAfter, tnx.CreatedAt).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, sql, args...); err != nil {
		return t.db.fail("insert tnx", err, zap.String("query", sql))
	}
	return nil
}

func (t *pgTx) Transaction(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	return t.transaction(ctx, sq.Eq{"userid": t.account.UserID, "id": id})
}

func (t *pgTx) TransactionByKey(ctx context.Context, key string) (models.Transaction, error) {
	return t.transaction(ctx, sq.Eq{"userid": t.account.UserID, "idempotency_key": key})
}

func (t *pgTx) transaction(ctx context.Context, where sq.Eq) (models.Transaction, error) {
	sql, args, err := sq.Select(tnxColumns...).
		From("tnx").
		Where(where).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return models.Transaction{}, err
	}
	tnx, err := scanTransaction(t.tx.QueryRow(ctx, sql, args...))
	if err != nil {
		return models.Transaction{}, t.db.fail("get tnx", err)
	}
	return tnx, nil
}

func (t *pgTx) Quota(ctx context.Context, action string) (models.QuotaWindow, error) {
	sql, args, err := sq.Select("window_start", "used").
		From("quota_windows").
		Where(sq.Eq{"userid": t.account.UserID, "action": action}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return models.QuotaWindow{}, err
	}
	w := models.QuotaWindow{UserID: t.account.UserID, Action: action}
	if err := t.tx.QueryRow(ctx, sql, args...).Scan(&w.WindowStart, &w.Used); err != nil {
		return models.QuotaWindow{}, t.db.fail("get quota", err)
	}
	return w, nil
}

func (t *pgTx) SetQuota(ctx context.Context, window models.QuotaWindow) error {
	sql, args, err := sq.Insert("quota_windows").
		Columns("userid", "action", "window_start", "used").
		Values(t.account.UserID, window.Action, window.WindowStart, window.Used).
		Suffix("ON CONFLICT (userid, action) DO UPDATE SET window_start = EXCLUDED.window_start, used = EXCLUDED.used").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, sql, args...); err != nil {
		return t.db.fail("set quota", err)
	}
	return nil
}

func (t *pgTx) Redemption(ctx context.Context, id uuid.UUID) (models.RedemptionRequest, error) {
	return t.redemption(ctx, sq.Eq{"userid": t.account.UserID, "id": id})
}

func (t *pgTx) RedemptionByKey(ctx context.Context, key string) (models.RedemptionRequest, error) {
	return t.redemption(ctx, sq.Eq{"userid": t.account.UserID, "idempotency_key": key})
}

func (t *pgTx) redemption(ctx context.Context, where sq.Eq) (models.RedemptionRequest, error) {
	sql, args, err := sq.Select(redemptionColumns...).
		From("redemptions").
		Where(where).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return models.RedemptionRequest{}, err
	}
	req, err := scanRedemption(t.tx.QueryRow(ctx, sql, args...))
	if err != nil {
		return models.RedemptionRequest{}, t.db.fail("get redemption", err)
	}
	return req, nil
}

func (t *pgTx) SaveRedemption(ctx context.Context, req models.RedemptionRequest) error {
	sql, args, err := sq.Insert("redemptions").
		Columns(redemptionColumns...).
		Values(req.ID, req.UserID, req.ChannelID, req.Amount, req.PayoutAmount, req.PayoutDetails, string(req.State), nullable(req.IdempotencyKey),
			req.DebitTransactionID, req.ReversalTransactionID, req.PayoutReference, req.FailureReason, req.History, req.CreatedAt, req.UpdatedAt).
		Suffix(`ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, reversal_tnx = EXCLUDED.reversal_tnx,
			payout_reference = EXCLUDED.payout_reference, failure_reason = EXCLUDED.failure_reason,
			history = EXCLUDED.history, updated_at = EXCLUDED.updated_at`).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, sql, args...); err != nil {
		return t.db.fail("save redemption", err, zap.String("redemption", req.ID.String()))
	}
	return nil
}

func (t *pgTx) PlayByKey(ctx context.Context, key string) (models.Play, error) {
	sql, args, err := sq.Select(playColumns...).
		From("plays").
		Where(sq.Eq{"userid": t.account.UserID, "idempotency_key": key}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return models.Play{}, err
	}
	var (
		play   models.Play
		tnxID  pgtype.UUID
		stored pgtype.Text
	)
	err = t.tx.QueryRow(ctx, sql, args...).
		Scan(&play.ID, &play.UserID, &play.GameType, &play.Tier, &play.Credited, &tnxID, &stored, &play.CreatedAt)
	if err != nil {
		return models.Play{}, t.db.fail("get play", err)
	}
	play.TransactionID = fromUUID(tnxID)
	play.IdempotencyKey = fromText(stored)
	return play, nil
}

func (t *pgTx) SavePlay(ctx context.Context, play models.Play) error {
	sql, args, err := sq.Insert("plays").
		Columns(playColumns...).
		Values(play.ID, play.UserID, play.GameType, play.Tier, play.Credited, play.TransactionID, nullable(play.IdempotencyKey), play.CreatedAt).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, sql, args...); err != nil {
		return t.db.fail("save play", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (models.Account, error) {
	var (
		acc      models.Account
		archived pgtype.Timestamptz
	)
	err := row.Scan(&acc.UserID, &acc.Balance, &acc.LifetimeEarned, &acc.LifetimeRedeemed, &archived, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return models.Account{}, err
	}
	if archived.Status == pgtype.Present {
		at := archived.Time
		acc.ArchivedAt = &at
	}
	return acc, nil
}

func scanTransaction(row rowScanner) (models.Transaction, error) {
	var (
		tnx  models.Transaction
		kind string
		key  pgtype.Text
	)
	err := row.Scan(&tnx.ID, &tnx.UserID, &kind, &tnx.Amount, &tnx.Reason, &tnx.Reference, &key, &tnx.BalanceAfter, &tnx.CreatedAt)
	if err != nil {
		return models.Transaction{}, err
	}
	tnx.Kind = models.TransactionKind(kind)
	tnx.IdempotencyKey = fromText(key)
	return tnx, nil
}

func scanRedemption(row rowScanner) (models.RedemptionRequest, error) {
	var (
		req      models.RedemptionRequest
		state    string
		key      pgtype.Text
		reversal pgtype.UUID
	)
	err := row.Scan(&req.ID, &req.UserID, &req.ChannelID, &req.Amount, &req.PayoutAmount, &req.PayoutDetails, &state, &key,
		&req.DebitTransactionID, &reversal, &req.PayoutReference, &req.FailureReason, &req.History, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return models.RedemptionRequest{}, err
	}
	req.State = models.RedemptionState(state)
	req.IdempotencyKey = fromText(key)
	req.ReversalTransactionID = fromUUID(reversal)
	return req, nil
}

// пустой ключ хранится как NULL, чтобы не нарушать UNIQUE
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func fromText(t pgtype.Text) string {
	if t.Status != pgtype.Present {
		return ""
	}
	return t.String
}

func fromUUID(u pgtype.UUID) *uuid.UUID {
	if u.Status != pgtype.Present {
		return nil
	}
	id := uuid.UUID(u.Bytes)
	return &id
}

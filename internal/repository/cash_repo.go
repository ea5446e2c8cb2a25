package repository

import (
	"context"
	"errors"
	"time"

	"pettycash/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrActiveSessionExists is raised by the partial unique index on
	// cash_sessions(register_id) WHERE status IN ('open','suspended').
	ErrActiveSessionExists = errors.New("register already has an active session")
	ErrClosureExists       = errors.New("session already has a closure")
	ErrDuplicateKey        = errors.New("idempotency key already used")
)

// SessionFilter narrows the session history listing.
type SessionFilter struct {
	RegisterID *int
	Status     string
	Page       int
	Limit      int
}

// ClosureFilter narrows the closure history listing, newest first.
type ClosureFilter struct {
	RegisterID *int
	Limit      int
}

// CategoryTotal is the income of one category within a session.
type CategoryTotal struct {
	Category string
	Total    decimal.Decimal
	Count    int64
}

// LedgerTotals are the per-kind sums of a session's transactions.
type LedgerTotals struct {
	Income    decimal.Decimal
	Expenses  decimal.Decimal
	Purchases decimal.Decimal
}

// SessionStats aggregates the whole session table.
type SessionStats struct {
	Total        int64
	ByStatus     map[string]int64
	OpeningTotal decimal.Decimal
	OpeningAvg   decimal.Decimal
}

type CashRepository interface {
	// Atomic runs fn inside one database transaction. fn receives a
	// repository bound to that transaction; returning an error rolls back.
	Atomic(ctx context.Context, fn func(tx CashRepository) error) error

	CreateSession(ctx context.Context, s *model.CashSession) error
	FindSessionByID(ctx context.Context, id uuid.UUID) (*model.CashSession, error)
	// LockSession loads the session and holds a row lock until the
	// surrounding transaction ends (Postgres only; SQLite serializes writers).
	LockSession(ctx context.Context, id uuid.UUID) (*model.CashSession, error)
	FindSessionsByStatus(ctx context.Context, registerID int, statuses ...string) ([]model.CashSession, error)
	FindLastClosedSession(ctx context.Context, registerID int) (*model.CashSession, error)
	ListSessions(ctx context.Context, f SessionFilter) ([]model.CashSession, int64, error)
	// SessionsOpenedBetween lists sessions with from <= opened_at < to.
	SessionsOpenedBetween(ctx context.Context, from, to time.Time) ([]model.CashSession, error)
	Stats(ctx context.Context) (*SessionStats, error)
	UpdateSession(ctx context.Context, s *model.CashSession) error
	DeleteSession(ctx context.Context, id uuid.UUID) error

	CreateExpense(ctx context.Context, e *model.Expense) error
	CreatePurchase(ctx context.Context, p *model.Purchase) error
	CreateIncome(ctx context.Context, i *model.Income) error
	// FindByIdempotencyKey loads the ledger row of dest's type carrying key.
	FindByIdempotencyKey(ctx context.Context, key string, dest any) error
	ListExpenses(ctx context.Context, sessionID uuid.UUID) ([]model.Expense, error)
	ListPurchases(ctx context.Context, sessionID uuid.UUID) ([]model.Purchase, error)
	ListIncomes(ctx context.Context, sessionID uuid.UUID) ([]model.Income, error)
	SumLedger(ctx context.Context, sessionID uuid.UUID) (LedgerTotals, error)
	IncomeByCategory(ctx context.Context, sessionID uuid.UUID) ([]CategoryTotal, error)
	DeleteLedger(ctx context.Context, sessionID uuid.UUID) error

	CreateClosure(ctx context.Context, c *model.CashClosure) error
	FindClosureBySession(ctx context.Context, sessionID uuid.UUID) (*model.CashClosure, error)
	// FindClosureByID loads the closure together with its session.
	FindClosureByID(ctx context.Context, id uuid.UUID) (*model.CashClosure, error)
	ListClosures(ctx context.Context, f ClosureFilter) ([]model.CashClosure, error)
	ClosuresForSessions(ctx context.Context, sessionIDs []uuid.UUID) ([]model.CashClosure, error)
	DeleteClosure(ctx context.Context, sessionID uuid.UUID) error
}

type cashRepo struct{ db *gorm.DB }

// NewCashRepository expects a *gorm.DB opened with TranslateError enabled so
// constraint violations surface as gorm.ErrDuplicatedKey.
func NewCashRepository(db *gorm.DB) CashRepository { return &cashRepo{db: db} }

func (r *cashRepo) Atomic(ctx context.Context, fn func(tx CashRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&cashRepo{db: tx})
	})
}

// ── Sessions ──────────────────────────────────────────────────────────────────

func (r *cashRepo) CreateSession(ctx context.Context, s *model.CashSession) error {
	err := r.db.WithContext(ctx).Create(s).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrActiveSessionExists
	}
	return err
}

func (r *cashRepo) FindSessionByID(ctx context.Context, id uuid.UUID) (*model.CashSession, error) {
	var s model.CashSession
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *cashRepo) LockSession(ctx context.Context, id uuid.UUID) (*model.CashSession, error) {
	q := r.db.WithContext(ctx)
	if r.db.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var s model.CashSession
	if err := q.Where("id = ?", id).First(&s).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *cashRepo) FindSessionsByStatus(ctx context.Context, registerID int, statuses ...string) ([]model.CashSession, error) {
	var out []model.CashSession
	err := r.db.WithContext(ctx).
		Where("register_id = ? AND status IN ?", registerID, statuses).
		Order("opened_at DESC").
		Find(&out).Error
	return out, err
}

func (r *cashRepo) FindLastClosedSession(ctx context.Context, registerID int) (*model.CashSession, error) {
	var s model.CashSession
	err := r.db.WithContext(ctx).
		Where("register_id = ? AND status = ?", registerID, model.SessionClosed).
		Order("closed_at DESC").
		First(&s).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *cashRepo) ListSessions(ctx context.Context, f SessionFilter) ([]model.CashSession, int64, error) {
	base := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&model.CashSession{})
		if f.RegisterID != nil {
			q = q.Where("register_id = ?", *f.RegisterID)
		}
		if f.Status != "" {
			q = q.Where("status = ?", f.Status)
		}
		return q
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var out []model.CashSession
	err := base().Order("opened_at DESC").
		Offset((f.Page - 1) * f.Limit).
		Limit(f.Limit).
		Find(&out).Error
	return out, total, err
}

func (r *cashRepo) SessionsOpenedBetween(ctx context.Context, from, to time.Time) ([]model.CashSession, error) {
	var out []model.CashSession
	err := r.db.WithContext(ctx).
		Where("opened_at >= ? AND opened_at < ?", from, to).
		Order("opened_at ASC").
		Find(&out).Error
	return out, err
}

func (r *cashRepo) Stats(ctx context.Context) (*SessionStats, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&model.CashSession{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := &SessionStats{ByStatus: map[string]int64{
		model.SessionOpen:      0,
		model.SessionSuspended: 0,
		model.SessionClosed:    0,
	}}
	for _, row := range rows {
		stats.ByStatus[row.Status] = row.Count
		stats.Total += row.Count
	}

	err = r.db.WithContext(ctx).Model(&model.CashSession{}).
		Select("COALESCE(SUM(opening_amount), 0)").
		Row().Scan(&stats.OpeningTotal)
	if err != nil {
		return nil, err
	}
	if stats.Total > 0 {
		stats.OpeningAvg = stats.OpeningTotal.Div(decimal.NewFromInt(stats.Total)).Round(2)
	}
	return stats, nil
}

func (r *cashRepo) UpdateSession(ctx context.Context, s *model.CashSession) error {
	err := r.db.WithContext(ctx).Save(s).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrActiveSessionExists
	}
	return err
}

func (r *cashRepo) DeleteSession(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.CashSession{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ── Ledger ────────────────────────────────────────────────────────────────────
// Rows are insert-only.

func (r *cashRepo) CreateExpense(ctx context.Context, e *model.Expense) error {
	return duplicateKey(r.db.WithContext(ctx).Create(e).Error)
}

func (r *cashRepo) CreatePurchase(ctx context.Context, p *model.Purchase) error {
	return duplicateKey(r.db.WithContext(ctx).Create(p).Error)
}

func (r *cashRepo) CreateIncome(ctx context.Context, i *model.Income) error {
	return duplicateKey(r.db.WithContext(ctx).Create(i).Error)
}

func (r *cashRepo) FindByIdempotencyKey(ctx context.Context, key string, dest any) error {
	return notFound(r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(dest).Error)
}

func (r *cashRepo) ListExpenses(ctx context.Context, sessionID uuid.UUID) ([]model.Expense, error) {
	var out []model.Expense
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at ASC").Find(&out).Error
	return out, err
}

func (r *cashRepo) ListPurchases(ctx context.Context, sessionID uuid.UUID) ([]model.Purchase, error) {
	var out []model.Purchase
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at ASC").Find(&out).Error
	return out, err
}

func (r *cashRepo) ListIncomes(ctx context.Context, sessionID uuid.UUID) ([]model.Income, error) {
	var out []model.Income
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at ASC").Find(&out).Error
	return out, err
}

// SumLedger sums each transaction table for the session. Every row amount is
// already in cents, so the totals always equal the sum of the listed rows.
func (r *cashRepo) SumLedger(ctx context.Context, sessionID uuid.UUID) (LedgerTotals, error) {
	var t LedgerTotals
	sums := []struct {
		model any
		expr  string
		dest  *decimal.Decimal
	}{
		{&model.Income{}, "COALESCE(SUM(amount), 0)", &t.Income},
		{&model.Expense{}, "COALESCE(SUM(amount), 0)", &t.Expenses},
		{&model.Purchase{}, "COALESCE(SUM(amount), 0)", &t.Purchases},
	}
	for _, s := range sums {
		err := r.db.WithContext(ctx).Model(s.model).
			Select(s.expr).
			Where("session_id = ?", sessionID).
			Row().Scan(s.dest)
		if err != nil {
			return LedgerTotals{}, err
		}
		*s.dest = s.dest.Round(2)
	}
	return t, nil
}

func (r *cashRepo) IncomeByCategory(ctx context.Context, sessionID uuid.UUID) ([]CategoryTotal, error) {
	var rows []CategoryTotal
	err := r.db.WithContext(ctx).Model(&model.Income{}).
		Select("category, COALESCE(SUM(amount), 0) AS total, COUNT(*) AS count").
		Where("session_id = ?", sessionID).
		Group("category").
		Order("category ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Total = rows[i].Total.Round(2)
	}
	return rows, nil
}

func (r *cashRepo) DeleteLedger(ctx context.Context, sessionID uuid.UUID) error {
	for _, m := range []any{&model.Expense{}, &model.Purchase{}, &model.Income{}} {
		if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(m).Error; err != nil {
			return err
		}
	}
	return nil
}

// ── Closures ──────────────────────────────────────────────────────────────────

func (r *cashRepo) CreateClosure(ctx context.Context, c *model.CashClosure) error {
	err := r.db.WithContext(ctx).Create(c).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrClosureExists
	}
	return err
}

func (r *cashRepo) FindClosureBySession(ctx context.Context, sessionID uuid.UUID) (*model.CashClosure, error) {
	var c model.CashClosure
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *cashRepo) FindClosureByID(ctx context.Context, id uuid.UUID) (*model.CashClosure, error) {
	var c model.CashClosure
	if err := r.db.WithContext(ctx).Preload("Session").Where("id = ?", id).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *cashRepo) ListClosures(ctx context.Context, f ClosureFilter) ([]model.CashClosure, error) {
	q := r.db.WithContext(ctx).Preload("Session")
	if f.RegisterID != nil {
		registerSessions := r.db.Model(&model.CashSession{}).Select("id").Where("register_id = ?", *f.RegisterID)
		q = q.Where("session_id IN (?)", registerSessions)
	}
	var out []model.CashClosure
	err := q.Order("closed_at DESC").Limit(f.Limit).Find(&out).Error
	return out, err
}

func (r *cashRepo) ClosuresForSessions(ctx context.Context, sessionIDs []uuid.UUID) ([]model.CashClosure, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	var out []model.CashClosure
	err := r.db.WithContext(ctx).Where("session_id IN ?", sessionIDs).Find(&out).Error
	return out, err
}

func (r *cashRepo) DeleteClosure(ctx context.Context, sessionID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&model.CashClosure{}).Error
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func duplicateKey(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateKey
	}
	return err
}

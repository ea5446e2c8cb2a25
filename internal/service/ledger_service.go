package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"pettycash/internal/apierror"
	"pettycash/internal/dto"
	"pettycash/internal/model"
	"pettycash/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// KeyStore reserves client idempotency keys ahead of the database write.
// Reserve reports false when the key is already held.
type KeyStore interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// LedgerObserver hears about every committed ledger entry. Replays of an
// idempotency key are not reported.
type LedgerObserver interface {
	LedgerEntryRecorded(kind string)
}

type LedgerService interface {
	RecordExpense(ctx context.Context, caller Caller, sessionID uuid.UUID, req dto.ExpenseRequest) (*model.Expense, error)
	RecordPurchase(ctx context.Context, caller Caller, sessionID uuid.UUID, req dto.PurchaseRequest) (*model.Purchase, error)
	RecordIncome(ctx context.Context, caller Caller, sessionID uuid.UUID, req dto.IncomeRequest) (*model.Income, error)
	ListTransactions(ctx context.Context, sessionID uuid.UUID) (*dto.TransactionsResponse, error)
}

type ledgerService struct {
	repo    repository.CashRepository
	authz   Authorizer
	keys    KeyStore
	keysTTL  time.Duration
	observer LedgerObserver
	now      func() time.Time
}

// NewLedgerService builds the transaction recorder. keys may be nil, in which
// case only the unique idempotency_key column deduplicates retries. observer
// may be nil.
func NewLedgerService(repo repository.CashRepository, authz Authorizer, keys KeyStore, keysTTL time.Duration, observer LedgerObserver) LedgerService {
	if keysTTL <= 0 {
		keysTTL = 24 * time.Hour
	}
	return &ledgerService{repo: repo, authz: authz, keys: keys, keysTTL: keysTTL, observer: observer, now: time.Now}
}

// ── Record ────────────────────────────────────────────────────────────────────

func (s *ledgerService) RecordExpense(ctx context.Context, caller Caller, sessionID uuid.UUID, req dto.ExpenseRequest) (*model.Expense, error) {
	if err := requireOperator(s.authz, caller); err != nil {
		return nil, err
	}
	amount := req.Amount.Round(2)
	if !amount.IsPositive() {
		return nil, apierror.Validation("amount must be at least 0.01")
	}

	e := &model.Expense{
		SessionID:      sessionID,
		Amount:         amount,
		Description:    strings.TrimSpace(req.Description),
		Category:       req.Category,
		CostCenterID:   req.CostCenterID,
		SupplierID:     req.SupplierID,
		IdempotencyKey: keyPtr(req.IdempotencyKey),
		CreatedBy:      caller.UserID,
		CreatedAt:      s.now(),
	}
	return recordEntry(ctx, s, sessionID, e, "expense", func(tx repository.CashRepository) error {
		return tx.CreateExpense(ctx, e)
	})
}

func (s *ledgerService) RecordPurchase(ctx context.Context, caller Caller, sessionID uuid.UUID, req dto.PurchaseRequest) (*model.Purchase, error) {
	if err := requireOperator(s.authz, caller); err != nil {
		return nil, err
	}
	amount := req.Quantity.Mul(req.UnitPrice).Round(2)
	if !req.Quantity.IsPositive() || !req.UnitPrice.IsPositive() || !amount.IsPositive() {
		return nil, apierror.Validation("quantity and unit price must be greater than zero")
	}

	p := &model.Purchase{
		SessionID:      sessionID,
		ProductRef:     req.ProductRef,
		Description:    req.Description,
		Quantity:       req.Quantity,
		UnitPrice:      req.UnitPrice,
		Amount:         amount,
		SupplierID:     req.SupplierID,
		IdempotencyKey: keyPtr(req.IdempotencyKey),
		CreatedBy:      caller.UserID,
		CreatedAt:      s.now(),
	}
	return recordEntry(ctx, s, sessionID, p, "purchase", func(tx repository.CashRepository) error {
		return tx.CreatePurchase(ctx, p)
	})
}

func (s *ledgerService) RecordIncome(ctx context.Context, caller Caller, sessionID uuid.UUID, req dto.IncomeRequest) (*model.Income, error) {
	if err := requireOperator(s.authz, caller); err != nil {
		return nil, err
	}
	amount := req.Amount.Round(2)
	if !amount.IsPositive() {
		return nil, apierror.Validation("amount must be at least 0.01")
	}

	i := &model.Income{
		SessionID:      sessionID,
		Amount:         amount,
		Description:    strings.TrimSpace(req.Description),
		Category:       req.Category,
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: keyPtr(req.IdempotencyKey),
		CreatedBy:      caller.UserID,
		CreatedAt:      s.now(),
	}
	return recordEntry(ctx, s, sessionID, i, "income", func(tx repository.CashRepository) error {
		return tx.CreateIncome(ctx, i)
	})
}

// ledgerEntry is satisfied by *model.Expense, *model.Purchase and *model.Income.
type ledgerEntry interface {
	*model.Expense | *model.Purchase | *model.Income
}

// recordEntry appends entry to the ledger and refreshes the session balance
// in one transaction. A repeated idempotency key yields the stored row.
func recordEntry[T ledgerEntry](ctx context.Context, s *ledgerService, sessionID uuid.UUID, entry T, kind string, insert func(tx repository.CashRepository) error) (T, error) {
	var zero T
	key := idempotencyKey(entry)
	held := false
	if key != "" {
		var (
			replayed bool
			err      error
		)
		replayed, held, err = s.replay(ctx, kind, key, entry)
		if err != nil {
			return zero, err
		}
		if replayed {
			return entry, nil
		}
	}

	err := s.repo.Atomic(ctx, func(tx repository.CashRepository) error {
		session, err := tx.LockSession(ctx, sessionID)
		if errors.Is(err, repository.ErrNotFound) {
			return apierror.InvalidState("session not active", nil)
		}
		if err != nil {
			return err
		}
		if session.Status != model.SessionOpen {
			return apierror.InvalidState("session not active", session)
		}
		if err := insert(tx); err != nil {
			return err
		}
		return refreshBalance(ctx, tx, session)
	})

	if errors.Is(err, repository.ErrDuplicateKey) {
		// Lost a race with a concurrent retry that committed first.
		err = s.repo.FindByIdempotencyKey(ctx, key, entry)
		if err == nil {
			return entry, nil
		}
	}
	if err != nil {
		if held {
			s.releaseKey(ctx, kind, key)
		}
		return zero, err
	}

	if s.observer != nil {
		s.observer.LedgerEntryRecorded(kind)
	}
	log.Info().
		Str("session_id", sessionID.String()).
		Str("kind", kind).
		Str("amount", entryAmount(entry).StringFixed(2)).
		Msg("cash transaction recorded")
	return entry, nil
}

// replay resolves a client idempotency key. It returns true with dest filled
// when the key already produced a row. held reports that this call owns the
// reservation and must release it if the write fails. A key reserved by an
// in-flight request that has not committed yet is a conflict.
func (s *ledgerService) replay(ctx context.Context, kind, key string, dest any) (replayed, held bool, err error) {
	reserved := true
	if s.keys != nil {
		ok, err := s.keys.Reserve(ctx, reservationKey(kind, key), s.keysTTL)
		if err != nil {
			// Redis unavailable: the unique column still deduplicates.
			log.Warn().Err(err).Msg("idempotency store unavailable")
		} else {
			reserved, held = ok, ok
		}
	}

	err = s.repo.FindByIdempotencyKey(ctx, key, dest)
	switch {
	case err == nil:
		return true, held, nil
	case !errors.Is(err, repository.ErrNotFound):
		if held {
			s.releaseKey(ctx, kind, key)
		}
		return false, false, err
	case !reserved:
		return false, false, apierror.Conflict("a request with this idempotency key is still in progress", nil)
	}
	return false, held, nil
}

// releaseKey frees a reservation after a failed write. It outlives the
// request context so a disconnected client does not leave the key held.
func (s *ledgerService) releaseKey(ctx context.Context, kind, key string) {
	if err := s.keys.Release(context.WithoutCancel(ctx), reservationKey(kind, key)); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to release idempotency key")
	}
}

// reservationKey scopes a client key to one ledger table, matching the
// per-table unique column.
func reservationKey(kind, key string) string { return kind + ":" + key }

// refreshBalance recomputes current_amount from the ledger rows visible to
// tx, so the stored balance can never drift from the transactions.
func refreshBalance(ctx context.Context, tx repository.CashRepository, session *model.CashSession) error {
	totals, err := tx.SumLedger(ctx, session.ID)
	if err != nil {
		return err
	}
	session.CurrentAmount = expectedCash(session.OpeningAmount, totals)
	return tx.UpdateSession(ctx, session)
}

// ── List ──────────────────────────────────────────────────────────────────────

func (s *ledgerService) ListTransactions(ctx context.Context, sessionID uuid.UUID) (*dto.TransactionsResponse, error) {
	if _, err := s.repo.FindSessionByID(ctx, sessionID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apierror.NotFound("cash session not found")
		}
		return nil, err
	}

	expenses, err := s.repo.ListExpenses(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	purchases, err := s.repo.ListPurchases(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	incomes, err := s.repo.ListIncomes(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	resp := &dto.TransactionsResponse{
		SessionID: sessionID,
		Expenses:  expenses,
		Purchases: purchases,
		Incomes:   incomes,
	}
	if resp.Expenses == nil {
		resp.Expenses = []model.Expense{}
	}
	if resp.Purchases == nil {
		resp.Purchases = []model.Purchase{}
	}
	if resp.Incomes == nil {
		resp.Incomes = []model.Income{}
	}
	return resp, nil
}

func keyPtr(k string) *string {
	k = strings.TrimSpace(k)
	if k == "" {
		return nil
	}
	return &k
}

func idempotencyKey(entry any) string {
	var k *string
	switch e := entry.(type) {
	case *model.Expense:
		k = e.IdempotencyKey
	case *model.Purchase:
		k = e.IdempotencyKey
	case *model.Income:
		k = e.IdempotencyKey
	}
	if k == nil {
		return ""
	}
	return *k
}

func entryAmount(entry any) decimal.Decimal {
	switch e := entry.(type) {
	case *model.Expense:
		return e.Amount
	case *model.Purchase:
		return e.Amount
	case *model.Income:
		return e.Amount
	}
	return decimal.Zero
}

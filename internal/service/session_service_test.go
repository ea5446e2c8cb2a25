package service

import (
	"context"
	"testing"
	"time"

	"pettycash/internal/apierror"
	"pettycash/internal/dto"
	"pettycash/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openReq(register int, amount string) dto.OpenSessionRequest {
	return dto.OpenSessionRequest{RegisterID: register, OpeningAmount: money(amount)}
}

func TestOpen(t *testing.T) {
	f := newFixture(t)

	s, err := f.sessions.Open(context.Background(), cashier, openReq(1, "250"))
	require.NoError(t, err)
	assert.Equal(t, model.SessionOpen, s.Status)
	assert.Equal(t, cashier.UserID, s.OwnerID)
	assertMoney(t, "250.00", s.OpeningAmount)
	assertMoney(t, "250.00", s.CurrentAmount)
	assert.Equal(t, f.clock, s.OpenedAt)
	assert.Nil(t, s.ClosedAt)
}

func TestOpen_ZeroOpeningAmountAllowed(t *testing.T) {
	f := newFixture(t)

	s, err := f.sessions.Open(context.Background(), cashier, openReq(1, "0"))
	require.NoError(t, err)
	assert.True(t, s.CurrentAmount.IsZero())
}

func TestOpen_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sessions.Open(ctx, cashier, openReq(1, "-0.01"))
	assert.True(t, apierror.Is(err, apierror.KindValidation))

	_, err = f.sessions.Open(ctx, cashier, openReq(0, "10"))
	assert.True(t, apierror.Is(err, apierror.KindValidation))
}

func TestOpen_Unauthorized(t *testing.T) {
	f := newFixture(t)

	_, err := f.sessions.Open(context.Background(), guest, openReq(1, "10"))
	assert.True(t, apierror.Is(err, apierror.KindUnauthorized))

	anonymous := Caller{Role: model.RoleCashier}
	_, err = f.sessions.Open(context.Background(), anonymous, openReq(1, "10"))
	assert.True(t, apierror.Is(err, apierror.KindUnauthorized))
}

// Scenario E: a second open on the same register conflicts and names the
// session already there.
func TestOpen_ConflictReferencesExistingSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.sessions.Open(ctx, cashier, openReq(5, "100000"))
	require.NoError(t, err)

	_, err = f.sessions.Open(ctx, cashier, openReq(5, "1"))
	ae, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.KindConflict, ae.Kind)
	existing, ok := ae.Payload.(*model.CashSession)
	require.True(t, ok)
	assert.Equal(t, first.ID, existing.ID)
}

func TestOpen_SuspendedSessionBlocksNewOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.sessions.Open(ctx, cashier, openReq(2, "10"))
	require.NoError(t, err)
	_, err = f.sessions.Suspend(ctx, cashier, s.ID)
	require.NoError(t, err)

	_, err = f.sessions.Open(ctx, cashier, openReq(2, "10"))
	assert.True(t, apierror.Is(err, apierror.KindConflict))
}

func TestOpen_AfterCloseSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.sessions.Open(ctx, cashier, openReq(2, "10"))
	require.NoError(t, err)
	_, err = f.sessions.Close(ctx, cashier, s.ID, dto.CloseSessionRequest{ActualCash: money("10")})
	require.NoError(t, err)

	next, err := f.sessions.Open(ctx, cashier, openReq(2, "10"))
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, next.ID)
}

func TestGetActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	none, err := f.sessions.GetActive(ctx, 9)
	require.NoError(t, err)
	assert.Nil(t, none)

	s, err := f.sessions.Open(ctx, cashier, openReq(9, "10"))
	require.NoError(t, err)

	active, err := f.sessions.GetActive(ctx, 9)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, s.ID, active.ID)

	// suspended is not "open"
	_, err = f.sessions.Suspend(ctx, cashier, s.ID)
	require.NoError(t, err)
	active, err = f.sessions.GetActive(ctx, 9)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestGetActive_MoreThanOneIsIntegrityError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// simulate a store that lost the partial unique index
	require.NoError(t, f.db.Exec("DROP INDEX uq_cash_sessions_active_register").Error)
	for i := 0; i < 2; i++ {
		require.NoError(t, f.repo.CreateSession(ctx, &model.CashSession{
			RegisterID: 3, OwnerID: cashier.UserID, Status: model.SessionOpen, OpenedAt: f.clock,
		}))
	}

	_, err := f.sessions.GetActive(ctx, 3)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestSuspendResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.sessions.Open(ctx, cashier, openReq(1, "10"))
	require.NoError(t, err)

	_, err = f.sessions.Resume(ctx, cashier, s.ID)
	assert.True(t, apierror.Is(err, apierror.KindInvalidState), "resume of an open session")

	suspended, err := f.sessions.Suspend(ctx, cashier, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionSuspended, suspended.Status)

	_, err = f.sessions.Suspend(ctx, cashier, s.ID)
	assert.True(t, apierror.Is(err, apierror.KindInvalidState), "double suspend")

	resumed, err := f.sessions.Resume(ctx, cashier, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionOpen, resumed.Status)

	_, err = f.sessions.Suspend(ctx, cashier, uuid.New())
	assert.True(t, apierror.Is(err, apierror.KindNotFound))

	_, err = f.sessions.Suspend(ctx, guest, s.ID)
	assert.True(t, apierror.Is(err, apierror.KindUnauthorized))
}

func TestClose_SuspendedSessionIsInvalidState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.sessions.Open(ctx, cashier, openReq(1, "10"))
	require.NoError(t, err)
	_, err = f.sessions.Suspend(ctx, cashier, s.ID)
	require.NoError(t, err)

	_, err = f.sessions.Close(ctx, cashier, s.ID, dto.CloseSessionRequest{ActualCash: money("10")})
	assert.True(t, apierror.Is(err, apierror.KindInvalidState))
}

func TestClose_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.sessions.Close(context.Background(), cashier, uuid.New(), dto.CloseSessionRequest{ActualCash: money("1")})
	assert.True(t, apierror.Is(err, apierror.KindNotFound))
}

func TestClose_NegativeCountIsValidationError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.sessions.Open(ctx, cashier, openReq(1, "10"))
	require.NoError(t, err)

	_, err = f.sessions.Close(ctx, cashier, s.ID, dto.CloseSessionRequest{ActualCash: money("-1")})
	assert.True(t, apierror.Is(err, apierror.KindValidation))
}

func TestClose_WritesClosureAndFlipsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.sessions.Open(ctx, cashier, openReq(1, "200"))
	require.NoError(t, err)
	_, err = f.ledger.RecordExpense(ctx, cashier, s.ID, dto.ExpenseRequest{Amount: money("50"), Description: "flowers", Category: "decor"})
	require.NoError(t, err)

	f.advance(3*time.Hour + 20*time.Minute)
	notes := "short"
	closure, err := f.sessions.Close(ctx, cashier, s.ID, dto.CloseSessionRequest{ActualCash: money("140"), Notes: &notes})
	require.NoError(t, err)

	assertMoney(t, "200.00", closure.OpeningAmount)
	assertMoney(t, "50.00", closure.TotalExpenses)
	assertMoney(t, "150.00", closure.ExpectedCash)
	assertMoney(t, "140.00", closure.ActualCash)
	assertMoney(t, "-10.00", closure.Difference)
	assertMoney(t, "-6.67", closure.DifferencePct)
	assert.Equal(t, ClassCritical, closure.Classification)
	assert.Equal(t, cashier.UserID, closure.ClosedBy)
	assert.Equal(t, f.clock, closure.ClosedAt)
	require.NotNil(t, closure.Notes)
	assert.Equal(t, "short", *closure.Notes)

	stored, err := f.repo.FindSessionByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionClosed, stored.Status)
	require.NotNil(t, stored.ClosedAt)
	assertMoney(t, "140.00", stored.CurrentAmount)

	assert.Equal(t, []uuid.UUID{closure.ID}, f.notifier.ids)
}

func TestOpenAndClose_RoundToCents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.sessions.Open(ctx, cashier, openReq(1, "100.005"))
	require.NoError(t, err)
	assert.Equal(t, "100.01", s.OpeningAmount.String())
	assert.Equal(t, "100.01", s.CurrentAmount.String())

	closure, err := f.sessions.Close(ctx, cashier, s.ID, dto.CloseSessionRequest{ActualCash: money("100.014")})
	require.NoError(t, err)
	assert.Equal(t, "100.01", closure.ActualCash.String())
	assert.True(t, closure.Difference.IsZero())
	assert.True(t, closure.DifferencePct.IsZero())

	stored, err := f.repo.FindClosureBySession(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, stored.ActualCash.Equal(closure.ActualCash))
	assert.True(t, stored.Difference.Equal(closure.Difference))

	session, err := f.repo.FindSessionByID(ctx, s.ID)
	require.NoError(t, err)
	assertMoney(t, "100.01", session.CurrentAmount)
}

func TestClose_DoubleCloseRejectedWithoutSecondClosure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.sessions.Open(ctx, cashier, openReq(1, "10"))
	require.NoError(t, err)
	first, err := f.sessions.Close(ctx, cashier, s.ID, dto.CloseSessionRequest{ActualCash: money("10")})
	require.NoError(t, err)

	_, err = f.sessions.Close(ctx, cashier, s.ID, dto.CloseSessionRequest{ActualCash: money("999")})
	ae, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.KindInvalidState, ae.Kind)
	existing, ok := ae.Payload.(*model.CashClosure)
	require.True(t, ok)
	assert.Equal(t, first.ID, existing.ID)

	var count int64
	require.NoError(t, f.db.Model(&model.CashClosure{}).Where("session_id = ?", s.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestClose_NotifierFailureDoesNotFailClose(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errRedisDown
	ctx := context.Background()

	s, err := f.sessions.Open(ctx, cashier, openReq(1, "10"))
	require.NoError(t, err)

	closure, err := f.sessions.Close(ctx, cashier, s.ID, dto.CloseSessionRequest{ActualCash: money("10")})
	require.NoError(t, err)
	assert.Equal(t, ClassNormal, closure.Classification)
}

func TestForceDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.sessions.Open(ctx, cashier, openReq(1, "10"))
	require.NoError(t, err)
	_, err = f.ledger.RecordIncome(ctx, cashier, s.ID, dto.IncomeRequest{Amount: money("5"), Description: "refund", Category: "other", PaymentMethod: "cash"})
	require.NoError(t, err)
	_, err = f.ledger.RecordPurchase(ctx, cashier, s.ID, dto.PurchaseRequest{ProductRef: "oil", Quantity: money("1"), UnitPrice: money("3")})
	require.NoError(t, err)
	_, err = f.ledger.RecordExpense(ctx, cashier, s.ID, dto.ExpenseRequest{Amount: money("2"), Description: "bus", Category: "transport"})
	require.NoError(t, err)
	_, err = f.sessions.Close(ctx, cashier, s.ID, dto.CloseSessionRequest{ActualCash: money("10")})
	require.NoError(t, err)

	err = f.sessions.ForceDelete(ctx, cashier, s.ID)
	assert.True(t, apierror.Is(err, apierror.KindUnauthorized))

	require.NoError(t, f.sessions.ForceDelete(ctx, admin, s.ID))

	for _, m := range []any{&model.CashSession{}, &model.Expense{}, &model.Purchase{}, &model.Income{}, &model.CashClosure{}} {
		var count int64
		require.NoError(t, f.db.Model(m).Count(&count).Error)
		assert.Zero(t, count, "%T rows left", m)
	}

	err = f.sessions.ForceDelete(ctx, admin, s.ID)
	assert.True(t, apierror.Is(err, apierror.KindNotFound))
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for register := 1; register <= 3; register++ {
		_, err := f.sessions.Open(ctx, cashier, openReq(register, "10"))
		require.NoError(t, err)
		f.advance(time.Minute)
	}

	resp, err := f.sessions.List(ctx, dto.SessionFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, resp.Total)
	assert.Equal(t, 1, resp.Page)
	assert.Equal(t, 20, resp.Limit)
	require.Len(t, resp.Data, 3)
	assert.Equal(t, 3, resp.Data[0].RegisterID, "newest first")

	register := 2
	resp, err = f.sessions.List(ctx, dto.SessionFilter{RegisterID: &register})
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)

	resp, err = f.sessions.List(ctx, dto.SessionFilter{Status: model.SessionClosed})
	require.NoError(t, err)
	assert.NotNil(t, resp.Data)
	assert.Empty(t, resp.Data)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.sessions.Open(ctx, cashier, openReq(1, "100"))
	require.NoError(t, err)
	_, err = f.sessions.Open(ctx, cashier, openReq(2, "200"))
	require.NoError(t, err)
	_, err = f.sessions.Close(ctx, cashier, a.ID, dto.CloseSessionRequest{ActualCash: money("100")})
	require.NoError(t, err)

	st, err := f.sessions.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, st.Total)
	assert.EqualValues(t, 1, st.Open)
	assert.EqualValues(t, 1, st.Closed)
	assert.EqualValues(t, 0, st.Suspended)
	assertMoney(t, "300.00", st.OpeningTotal)
	assertMoney(t, "150.00", st.OpeningAverage)
}

func TestLastClosedBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.sessions.LastClosedBalance(ctx, 4)
	require.NoError(t, err)
	assert.False(t, resp.HasHistory)
	assert.True(t, resp.CountedAmount.IsZero())

	s, err := f.sessions.Open(ctx, cashier, openReq(4, "100"))
	require.NoError(t, err)
	_, err = f.sessions.Close(ctx, cashier, s.ID, dto.CloseSessionRequest{ActualCash: money("95")})
	require.NoError(t, err)

	resp, err = f.sessions.LastClosedBalance(ctx, 4)
	require.NoError(t, err)
	assert.True(t, resp.HasHistory)
	require.NotNil(t, resp.SessionID)
	assert.Equal(t, s.ID, *resp.SessionID)
	assertMoney(t, "95.00", resp.CountedAmount)
	require.NotNil(t, resp.Difference)
	assertMoney(t, "-5.00", *resp.Difference)
}

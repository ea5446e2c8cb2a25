package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pettycash/internal/apierror"
	"pettycash/internal/dto"
	"pettycash/internal/model"
	"pettycash/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Discrepancy classes, by absolute percentage of expected cash.
const (
	ClassNormal   = "normal"   // |pct| <= 1
	ClassWarning  = "warning"  // |pct| <= 5
	ClassCritical = "critical" // |pct| > 5
)

var hundred = decimal.NewFromInt(100)

// ReconciliationService computes read-only closure summaries. The closure
// record itself is written by SessionService.Close, inside the same
// transaction that flips the session to closed.
type ReconciliationService interface {
	Summary(ctx context.Context, sessionID uuid.UUID) (*dto.ClosureSummary, error)
	// ListClosures returns the closure history, newest first.
	ListClosures(ctx context.Context, filter dto.ClosureFilter) ([]model.CashClosure, error)
	GetClosure(ctx context.Context, id uuid.UUID) (*model.CashClosure, error)
	// DailyReport aggregates the sessions opened on day's UTC calendar date.
	DailyReport(ctx context.Context, day time.Time) (*dto.DailyCashReport, error)
	IncomeSummary(ctx context.Context, sessionID uuid.UUID) (*dto.IncomeSummary, error)
}

type reconciliationService struct {
	repo repository.CashRepository
	now  func() time.Time
}

func NewReconciliationService(repo repository.CashRepository) ReconciliationService {
	return &reconciliationService{repo: repo, now: time.Now}
}

func (s *reconciliationService) Summary(ctx context.Context, sessionID uuid.UUID) (*dto.ClosureSummary, error) {
	session, err := s.repo.FindSessionByID(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apierror.NotFound("cash session not found")
	}
	if err != nil {
		return nil, err
	}
	return summarize(ctx, s.repo, session, s.now())
}

// ── Closure history ───────────────────────────────────────────────────────────

func (s *reconciliationService) ListClosures(ctx context.Context, filter dto.ClosureFilter) ([]model.CashClosure, error) {
	if filter.Limit < 1 || filter.Limit > 100 {
		filter.Limit = 10
	}
	closures, err := s.repo.ListClosures(ctx, repository.ClosureFilter{RegisterID: filter.RegisterID, Limit: filter.Limit})
	if err != nil {
		return nil, err
	}
	if closures == nil {
		closures = []model.CashClosure{}
	}
	return closures, nil
}

func (s *reconciliationService) GetClosure(ctx context.Context, id uuid.UUID) (*model.CashClosure, error) {
	closure, err := s.repo.FindClosureByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apierror.NotFound("cash closure not found")
	}
	return closure, err
}

// ── Reports ───────────────────────────────────────────────────────────────────

func (s *reconciliationService) DailyReport(ctx context.Context, day time.Time) (*dto.DailyCashReport, error) {
	day = day.UTC()
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	sessions, err := s.repo.SessionsOpenedBetween(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(sessions))
	for i, session := range sessions {
		ids[i] = session.ID
	}
	closures, err := s.repo.ClosuresForSessions(ctx, ids)
	if err != nil {
		return nil, err
	}
	bySession := make(map[uuid.UUID]*model.CashClosure, len(closures))
	for i := range closures {
		bySession[closures[i].SessionID] = &closures[i]
	}

	report := &dto.DailyCashReport{
		Date:             start.Format("2006-01-02"),
		TotalSessions:    len(sessions),
		TotalIncome:      decimal.Zero,
		TotalExpenses:    decimal.Zero,
		TotalPurchases:   decimal.Zero,
		TotalDifferences: decimal.Zero,
		NetDifference:    decimal.Zero,
		Sessions:         make([]dto.DailyReportSession, 0, len(sessions)),
	}
	for _, session := range sessions {
		closure := bySession[session.ID]
		report.Sessions = append(report.Sessions, dto.DailyReportSession{Session: session, Closure: closure})
		if closure == nil {
			continue
		}
		report.ClosedSessions++
		report.TotalIncome = report.TotalIncome.Add(closure.TotalIncome)
		report.TotalExpenses = report.TotalExpenses.Add(closure.TotalExpenses)
		report.TotalPurchases = report.TotalPurchases.Add(closure.TotalPurchases)
		report.TotalDifferences = report.TotalDifferences.Add(closure.Difference.Abs())
		report.NetDifference = report.NetDifference.Add(closure.Difference)
	}
	report.OpenSessions = report.TotalSessions - report.ClosedSessions
	return report, nil
}

func (s *reconciliationService) IncomeSummary(ctx context.Context, sessionID uuid.UUID) (*dto.IncomeSummary, error) {
	if _, err := s.repo.FindSessionByID(ctx, sessionID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apierror.NotFound("cash session not found")
		}
		return nil, err
	}
	rows, err := s.repo.IncomeByCategory(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sum := &dto.IncomeSummary{
		SessionID:      sessionID,
		TotalIncome:    decimal.Zero,
		CategoryTotals: make(map[string]decimal.Decimal, len(rows)),
	}
	for _, row := range rows {
		sum.CategoryTotals[row.Category] = row.Total
		sum.TotalIncome = sum.TotalIncome.Add(row.Total)
		sum.IncomeCount += row.Count
	}
	return sum, nil
}

// summarize loads the ledger totals of session through repo, which may be
// bound to an open transaction.
func summarize(ctx context.Context, repo repository.CashRepository, session *model.CashSession, now time.Time) (*dto.ClosureSummary, error) {
	totals, err := repo.SumLedger(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("sum ledger: %w", err)
	}

	end := now
	if session.ClosedAt != nil {
		end = *session.ClosedAt
	}

	return &dto.ClosureSummary{
		SessionID:       session.ID,
		RegisterID:      session.RegisterID,
		Status:          session.Status,
		OpeningAmount:   session.OpeningAmount,
		TotalIncome:     totals.Income,
		TotalExpenses:   totals.Expenses,
		TotalPurchases:  totals.Purchases,
		ExpectedCash:    expectedCash(session.OpeningAmount, totals),
		CurrentAmount:   session.CurrentAmount,
		OpenedAt:        session.OpenedAt,
		ClosedAt:        session.ClosedAt,
		SessionDuration: formatDuration(end.Sub(session.OpenedAt)),
	}, nil
}

// expectedCash = opening + income - expenses - purchases. May be negative;
// that is reported, never rejected.
func expectedCash(opening decimal.Decimal, t repository.LedgerTotals) decimal.Decimal {
	return opening.Add(t.Income).Sub(t.Expenses).Sub(t.Purchases)
}

// buildClosure turns a summary and the counted amount into the closure row.
func buildClosure(sum *dto.ClosureSummary, actualCash decimal.Decimal, notes *string, closedBy uuid.UUID, closedAt time.Time) *model.CashClosure {
	diff := actualCash.Sub(sum.ExpectedCash)
	pct := differencePct(diff, sum.ExpectedCash)
	return &model.CashClosure{
		SessionID:      sum.SessionID,
		OpeningAmount:  sum.OpeningAmount,
		TotalIncome:    sum.TotalIncome,
		TotalExpenses:  sum.TotalExpenses,
		TotalPurchases: sum.TotalPurchases,
		ExpectedCash:   sum.ExpectedCash,
		ActualCash:     actualCash,
		Difference:     diff,
		DifferencePct:  pct,
		Classification: classifyDifference(pct),
		Notes:          notes,
		ClosedBy:       closedBy,
		ClosedAt:       closedAt,
	}
}

// differencePct is diff relative to |expected|, so a surplus is always
// positive. Zero expected cash yields 0.
func differencePct(diff, expected decimal.Decimal) decimal.Decimal {
	if expected.IsZero() {
		return decimal.Zero
	}
	return diff.Div(expected.Abs()).Mul(hundred).Round(2)
}

func classifyDifference(pct decimal.Decimal) string {
	abs := pct.Abs()
	switch {
	case abs.LessThanOrEqual(decimal.NewFromInt(1)):
		return ClassNormal
	case abs.LessThanOrEqual(decimal.NewFromInt(5)):
		return ClassWarning
	default:
		return ClassCritical
	}
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dmin", hours, minutes)
}

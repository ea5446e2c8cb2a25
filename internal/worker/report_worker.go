package worker

// report_worker.go renders the closure PDF of a committed closure and mails
// it to the configured recipients through the SMTP circuit breaker.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"pettycash/internal/infra"
	"pettycash/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ReportSender delivers a closure report. *infra.Mailer satisfies it.
type ReportSender interface {
	SendClosureReport(to []string, subject, body, pdfPath string) error
}

type ReportWorker struct {
	repo         repository.CashRepository
	sender       ReportSender
	cb           *infra.CircuitBreaker
	recipients   []string
	storagePath  string
	businessName string
}

// NewReportWorker wires the closure report job. sender may be nil, in which
// case reports are only written to storagePath.
func NewReportWorker(repo repository.CashRepository, sender ReportSender, cb *infra.CircuitBreaker, recipients []string, storagePath, businessName string) *ReportWorker {
	return &ReportWorker{
		repo:         repo,
		sender:       sender,
		cb:           cb,
		recipients:   recipients,
		storagePath:  storagePath,
		businessName: businessName,
	}
}

// errPermanent marks failures a retry cannot fix.
var errPermanent = errors.New("permanent job failure")

// Process handles one closure report job:
//  1. load the closure, its session and the session's transactions
//  2. render the PDF
//  3. mail it, unless no sender or recipients are configured
func (w *ReportWorker) Process(ctx context.Context, raw json.RawMessage) error {
	var payload ClosureReportPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Error().Err(err).Msg("report_worker: invalid payload")
		return nil
	}
	closureID, err := uuid.Parse(payload.ClosureID)
	if err != nil {
		log.Error().Str("closure_id", payload.ClosureID).Msg("report_worker: invalid closure_id")
		return nil
	}

	report, err := w.load(ctx, closureID)
	if errors.Is(err, errPermanent) {
		log.Warn().Err(err).Str("closure_id", payload.ClosureID).Msg("report_worker: dropping job")
		return nil
	}
	if err != nil {
		return err
	}

	pdfPath, err := infra.GenerateClosureReportPDF(*report, w.storagePath)
	if err != nil {
		return err
	}
	log.Info().Str("pdf", pdfPath).Str("closure_id", payload.ClosureID).Msg("report_worker: PDF generated")

	if w.sender == nil || len(w.recipients) == 0 {
		return nil
	}

	subject := fmt.Sprintf("%s: cash closure register %d (%s)",
		w.businessName, report.Session.RegisterID, report.Closure.Classification)
	body := fmt.Sprintf("Expected cash: $%s\nCounted cash: $%s\nDifference: $%s (%s%%)\n",
		report.Closure.ExpectedCash.StringFixed(2),
		report.Closure.ActualCash.StringFixed(2),
		report.Closure.Difference.StringFixed(2),
		report.Closure.DifferencePct.StringFixed(2))

	send := func() error { return w.sender.SendClosureReport(w.recipients, subject, body, pdfPath) }
	if w.cb != nil {
		err = w.cb.Execute(send)
	} else {
		err = send()
	}
	if err != nil {
		return fmt.Errorf("report_worker: send: %w", err)
	}
	log.Info().Strs("to", w.recipients).Str("closure_id", payload.ClosureID).Msg("report_worker: report sent")
	return nil
}

func (w *ReportWorker) load(ctx context.Context, closureID uuid.UUID) (*infra.ClosureReport, error) {
	closure, err := w.repo.FindClosureByID(ctx, closureID)
	if errors.Is(err, repository.ErrNotFound) {
		// force-deleted after the close
		return nil, fmt.Errorf("%w: closure %s not found", errPermanent, closureID)
	}
	if err != nil {
		return nil, err
	}
	session, err := w.repo.FindSessionByID(ctx, closure.SessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: session %s not found", errPermanent, closure.SessionID)
	}
	if err != nil {
		return nil, err
	}

	report := &infra.ClosureReport{BusinessName: w.businessName, Session: session, Closure: closure}
	if report.Expenses, err = w.repo.ListExpenses(ctx, session.ID); err != nil {
		return nil, err
	}
	if report.Purchases, err = w.repo.ListPurchases(ctx, session.ID); err != nil {
		return nil, err
	}
	if report.Incomes, err = w.repo.ListIncomes(ctx, session.ID); err != nil {
		return nil, err
	}
	return report, nil
}

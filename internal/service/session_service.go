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
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ErrIntegrity marks stored data that breaks a ledger invariant. It is
// surfaced to the caller, never repaired in place.
var ErrIntegrity = errors.New("ledger integrity violation")

// ClosureNotifier is told about every committed closure. Failures are
// logged; they never undo the close.
type ClosureNotifier interface {
	EnqueueClosureReport(ctx context.Context, closureID uuid.UUID) error
}

type SessionService interface {
	Open(ctx context.Context, caller Caller, req dto.OpenSessionRequest) (*model.CashSession, error)
	// GetActive returns the open session of registerID, or nil when the
	// register is idle.
	GetActive(ctx context.Context, registerID int) (*model.CashSession, error)
	Suspend(ctx context.Context, caller Caller, sessionID uuid.UUID) (*model.CashSession, error)
	Resume(ctx context.Context, caller Caller, sessionID uuid.UUID) (*model.CashSession, error)
	Close(ctx context.Context, caller Caller, sessionID uuid.UUID, req dto.CloseSessionRequest) (*model.CashClosure, error)
	ForceDelete(ctx context.Context, caller Caller, sessionID uuid.UUID) error
	List(ctx context.Context, filter dto.SessionFilter) (*dto.SessionListResponse, error)
	Stats(ctx context.Context) (*dto.SessionStatsResponse, error)
	LastClosedBalance(ctx context.Context, registerID int) (*dto.LastClosedBalanceResponse, error)
}

type sessionService struct {
	repo     repository.CashRepository
	authz    Authorizer
	notifier ClosureNotifier
	now      func() time.Time
}

// NewSessionService wires the session state machine. notifier may be nil.
func NewSessionService(repo repository.CashRepository, authz Authorizer, notifier ClosureNotifier) SessionService {
	return &sessionService{repo: repo, authz: authz, notifier: notifier, now: time.Now}
}

// ── Open ──────────────────────────────────────────────────────────────────────
// The partial unique index decides the race between concurrent opens; the
// lookup afterwards only fetches the winner for the conflict payload.

func (s *sessionService) Open(ctx context.Context, caller Caller, req dto.OpenSessionRequest) (*model.CashSession, error) {
	if err := requireOperator(s.authz, caller); err != nil {
		return nil, err
	}
	if req.RegisterID < 1 {
		return nil, apierror.Validation("register_id must be a positive number")
	}
	if req.OpeningAmount.IsNegative() {
		return nil, apierror.Validation("opening amount cannot be negative")
	}
	opening := req.OpeningAmount.Round(2)

	session := &model.CashSession{
		RegisterID:    req.RegisterID,
		OwnerID:       caller.UserID,
		OpeningAmount: opening,
		CurrentAmount: opening,
		Status:        model.SessionOpen,
		Notes:         req.Notes,
		OpenedAt:      s.now(),
	}
	err := s.repo.CreateSession(ctx, session)
	if errors.Is(err, repository.ErrActiveSessionExists) {
		var existing any
		active, findErr := s.repo.FindSessionsByStatus(ctx, req.RegisterID, model.SessionOpen, model.SessionSuspended)
		if findErr == nil && len(active) > 0 {
			existing = &active[0]
		}
		return nil, apierror.Conflict(fmt.Sprintf("register %d already has an active cash session", req.RegisterID), existing)
	}
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("session_id", session.ID.String()).
		Int("register_id", session.RegisterID).
		Str("opening_amount", session.OpeningAmount.StringFixed(2)).
		Msg("cash session opened")
	return session, nil
}

// ── GetActive ─────────────────────────────────────────────────────────────────

func (s *sessionService) GetActive(ctx context.Context, registerID int) (*model.CashSession, error) {
	sessions, err := s.repo.FindSessionsByStatus(ctx, registerID, model.SessionOpen)
	if err != nil {
		return nil, err
	}
	switch len(sessions) {
	case 0:
		return nil, nil
	case 1:
		return &sessions[0], nil
	default:
		log.Error().
			Int("register_id", registerID).
			Int("open_sessions", len(sessions)).
			Msg("more than one open cash session for register")
		return nil, fmt.Errorf("%w: register %d has %d open sessions", ErrIntegrity, registerID, len(sessions))
	}
}

// ── Suspend / Resume ──────────────────────────────────────────────────────────

func (s *sessionService) Suspend(ctx context.Context, caller Caller, sessionID uuid.UUID) (*model.CashSession, error) {
	return s.transition(ctx, caller, sessionID, model.SessionOpen, model.SessionSuspended)
}

func (s *sessionService) Resume(ctx context.Context, caller Caller, sessionID uuid.UUID) (*model.CashSession, error) {
	return s.transition(ctx, caller, sessionID, model.SessionSuspended, model.SessionOpen)
}

func (s *sessionService) transition(ctx context.Context, caller Caller, sessionID uuid.UUID, from, to string) (*model.CashSession, error) {
	if err := requireOperator(s.authz, caller); err != nil {
		return nil, err
	}

	var session *model.CashSession
	err := s.repo.Atomic(ctx, func(tx repository.CashRepository) error {
		var err error
		session, err = lockSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if session.Status != from {
			return apierror.InvalidState(fmt.Sprintf("cash session is %s, expected %s", session.Status, from), session)
		}
		session.Status = to
		return tx.UpdateSession(ctx, session)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("session_id", sessionID.String()).Str("from", from).Str("to", to).Msg("cash session transition")
	return session, nil
}

// ── Close ─────────────────────────────────────────────────────────────────────
// One transaction: lock the session, re-derive the ledger totals, write the
// closure, flip the session to closed. The counted amount becomes the
// session's final balance; the discrepancy lives on the closure.

func (s *sessionService) Close(ctx context.Context, caller Caller, sessionID uuid.UUID, req dto.CloseSessionRequest) (*model.CashClosure, error) {
	if err := requireOperator(s.authz, caller); err != nil {
		return nil, err
	}
	if req.ActualCash.IsNegative() {
		return nil, apierror.Validation("counted cash cannot be negative")
	}
	actual := req.ActualCash.Round(2)

	var closure *model.CashClosure
	err := s.repo.Atomic(ctx, func(tx repository.CashRepository) error {
		session, err := lockSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if session.Status != model.SessionOpen {
			var existing any
			if c, err := tx.FindClosureBySession(ctx, sessionID); err == nil {
				existing = c
			}
			return apierror.InvalidState(fmt.Sprintf("cash session is %s", session.Status), existing)
		}

		closedAt := s.now()
		summary, err := summarize(ctx, tx, session, closedAt)
		if err != nil {
			return err
		}

		closure = buildClosure(summary, actual, req.Notes, caller.UserID, closedAt)
		if err := tx.CreateClosure(ctx, closure); err != nil {
			if errors.Is(err, repository.ErrClosureExists) {
				return apierror.InvalidState("cash session already has a closure", nil)
			}
			return err
		}

		session.Status = model.SessionClosed
		session.ClosedAt = &closedAt
		session.CurrentAmount = actual
		return tx.UpdateSession(ctx, session)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("session_id", sessionID.String()).
		Str("expected_cash", closure.ExpectedCash.StringFixed(2)).
		Str("actual_cash", closure.ActualCash.StringFixed(2)).
		Str("difference", closure.Difference.StringFixed(2)).
		Str("classification", closure.Classification).
		Msg("cash session closed")

	if s.notifier != nil {
		if err := s.notifier.EnqueueClosureReport(ctx, closure.ID); err != nil {
			log.Warn().Err(err).Str("closure_id", closure.ID.String()).Msg("failed to enqueue closure report")
		}
	}
	return closure, nil
}

// ── ForceDelete ───────────────────────────────────────────────────────────────
// Administrative cleanup of malformed or test sessions. Dependents are
// deleted explicitly; the schema uses ON DELETE RESTRICT.

func (s *sessionService) ForceDelete(ctx context.Context, caller Caller, sessionID uuid.UUID) error {
	if !s.authz.CanAdminister(caller) {
		return apierror.Unauthorized("force delete requires the administrator role")
	}

	err := s.repo.Atomic(ctx, func(tx repository.CashRepository) error {
		if _, err := lockSession(ctx, tx, sessionID); err != nil {
			return err
		}
		if err := tx.DeleteLedger(ctx, sessionID); err != nil {
			return err
		}
		if err := tx.DeleteClosure(ctx, sessionID); err != nil {
			return err
		}
		return tx.DeleteSession(ctx, sessionID)
	})
	if err != nil {
		return err
	}

	log.Warn().
		Str("session_id", sessionID.String()).
		Str("user_id", caller.UserID.String()).
		Msg("cash session force deleted")
	return nil
}

// ── History / stats ───────────────────────────────────────────────────────────

func (s *sessionService) List(ctx context.Context, filter dto.SessionFilter) (*dto.SessionListResponse, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 || filter.Limit > 100 {
		filter.Limit = 20
	}
	sessions, total, err := s.repo.ListSessions(ctx, repository.SessionFilter{
		RegisterID: filter.RegisterID,
		Status:     filter.Status,
		Page:       filter.Page,
		Limit:      filter.Limit,
	})
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []model.CashSession{}
	}
	return &dto.SessionListResponse{Data: sessions, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

func (s *sessionService) Stats(ctx context.Context) (*dto.SessionStatsResponse, error) {
	st, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &dto.SessionStatsResponse{
		Total:          st.Total,
		Open:           st.ByStatus[model.SessionOpen],
		Suspended:      st.ByStatus[model.SessionSuspended],
		Closed:         st.ByStatus[model.SessionClosed],
		OpeningTotal:   st.OpeningTotal,
		OpeningAverage: st.OpeningAvg,
	}, nil
}

func (s *sessionService) LastClosedBalance(ctx context.Context, registerID int) (*dto.LastClosedBalanceResponse, error) {
	last, err := s.repo.FindLastClosedSession(ctx, registerID)
	if errors.Is(err, repository.ErrNotFound) {
		return &dto.LastClosedBalanceResponse{
			HasHistory:    false,
			CountedAmount: decimal.Zero,
			Message:       "no closed session for this register yet",
		}, nil
	}
	if err != nil {
		return nil, err
	}

	resp := &dto.LastClosedBalanceResponse{
		HasHistory:    true,
		SessionID:     &last.ID,
		ClosedAt:      last.ClosedAt,
		CountedAmount: last.CurrentAmount,
		Message:       fmt.Sprintf("last closed session of register %d", registerID),
	}
	if closure, err := s.repo.FindClosureBySession(ctx, last.ID); err == nil {
		resp.Difference = &closure.Difference
	}
	return resp, nil
}

func lockSession(ctx context.Context, tx repository.CashRepository, id uuid.UUID) (*model.CashSession, error) {
	session, err := tx.LockSession(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apierror.NotFound("cash session not found")
	}
	return session, err
}

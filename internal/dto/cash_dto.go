package dto

import (
	"time"

	"pettycash/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ─── Request DTOs ────────────────────────────────────────────────────────────

type OpenSessionRequest struct {
	RegisterID    int             `json:"register_id"    validate:"required,min=1"`
	OpeningAmount decimal.Decimal `json:"opening_amount" validate:"min=0"`
	Notes         *string         `json:"notes"          validate:"omitempty,max=500"`
}

type CloseSessionRequest struct {
	ActualCash decimal.Decimal `json:"actual_cash" validate:"min=0"`
	Notes      *string         `json:"notes"       validate:"omitempty,max=500"`
}

// IdempotencyKey fields are filled from the Idempotency-Key header when the
// body does not carry one.

type ExpenseRequest struct {
	Amount         decimal.Decimal `json:"amount"          validate:"gt=0"`
	Description    string          `json:"description"     validate:"required,min=3"`
	Category       string          `json:"category"        validate:"required,max=60"`
	CostCenterID   *int            `json:"cost_center_id"  validate:"omitempty,min=1"`
	SupplierID     *int            `json:"supplier_id"     validate:"omitempty,min=1"`
	IdempotencyKey string          `json:"idempotency_key" validate:"omitempty,max=80"`
}

type PurchaseRequest struct {
	ProductRef     string          `json:"product_ref"     validate:"required,max=80"`
	Description    string          `json:"description"     validate:"omitempty,max=500"`
	Quantity       decimal.Decimal `json:"quantity"        validate:"gt=0"`
	UnitPrice      decimal.Decimal `json:"unit_price"      validate:"gt=0"`
	SupplierID     *int            `json:"supplier_id"     validate:"omitempty,min=1"`
	IdempotencyKey string          `json:"idempotency_key" validate:"omitempty,max=80"`
}

type IncomeRequest struct {
	Amount         decimal.Decimal `json:"amount"          validate:"gt=0"`
	Description    string          `json:"description"     validate:"required,min=3"`
	Category       string          `json:"category"        validate:"required,max=60"`
	PaymentMethod  string          `json:"payment_method"  validate:"required,oneof=cash card transfer"`
	IdempotencyKey string          `json:"idempotency_key" validate:"omitempty,max=80"`
}

type SessionFilter struct {
	RegisterID *int   `form:"register_id" validate:"omitempty,min=1"`
	Status     string `form:"status"      validate:"omitempty,oneof=open suspended closed"`
	Page       int    `form:"page"`
	Limit      int    `form:"limit"`
}

type ClosureFilter struct {
	RegisterID *int `form:"register_id" validate:"omitempty,min=1"`
	Limit      int  `form:"limit"       validate:"omitempty,min=1,max=100"`
}

// DailyReportQuery selects a UTC calendar day as YYYY-MM-DD; empty is today.
type DailyReportQuery struct {
	Date string `form:"date" validate:"omitempty,datetime=2006-01-02"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

// ClosureSummary is the read-only reconciliation view of a session.
type ClosureSummary struct {
	SessionID       uuid.UUID       `json:"session_id"`
	RegisterID      int             `json:"register_id"`
	Status          string          `json:"status"`
	OpeningAmount   decimal.Decimal `json:"opening_amount"`
	TotalIncome     decimal.Decimal `json:"total_income"`
	TotalExpenses   decimal.Decimal `json:"total_expenses"`
	TotalPurchases  decimal.Decimal `json:"total_purchases"`
	ExpectedCash    decimal.Decimal `json:"expected_cash"`
	CurrentAmount   decimal.Decimal `json:"current_amount"`
	OpenedAt        time.Time       `json:"opened_at"`
	ClosedAt        *time.Time      `json:"closed_at"`
	SessionDuration string          `json:"session_duration"` // e.g. "5h 12min"
}

type TransactionsResponse struct {
	SessionID uuid.UUID        `json:"session_id"`
	Expenses  []model.Expense  `json:"expenses"`
	Purchases []model.Purchase `json:"purchases"`
	Incomes   []model.Income   `json:"incomes"`
}

type SessionListResponse struct {
	Data  []model.CashSession `json:"data"`
	Total int64               `json:"total"`
	Page  int                 `json:"page"`
	Limit int                 `json:"limit"`
}

type SessionStatsResponse struct {
	Total          int64           `json:"total"`
	Open           int64           `json:"open"`
	Suspended      int64           `json:"suspended"`
	Closed         int64           `json:"closed"`
	OpeningTotal   decimal.Decimal `json:"opening_total"`
	OpeningAverage decimal.Decimal `json:"opening_average"`
}

// LastClosedBalanceResponse suggests the opening amount of the next session.
type LastClosedBalanceResponse struct {
	HasHistory    bool             `json:"has_history"`
	SessionID     *uuid.UUID       `json:"session_id,omitempty"`
	ClosedAt      *time.Time       `json:"closed_at,omitempty"`
	CountedAmount decimal.Decimal  `json:"counted_amount"`
	Difference    *decimal.Decimal `json:"difference,omitempty"`
	Message       string           `json:"message"`
}

// ActiveSessionResponse answers the open session of a register; Session is
// null when the register is idle.
type ActiveSessionResponse struct {
	RegisterID int                `json:"register_id"`
	Active     bool               `json:"active"`
	Session    *model.CashSession `json:"session"`
}

// DailyCashReport aggregates the sessions opened on one day. The money
// totals cover closed sessions only; TotalDifferences sums |difference|.
type DailyCashReport struct {
	Date             string               `json:"date"`
	TotalSessions    int                  `json:"total_sessions"`
	ClosedSessions   int                  `json:"closed_sessions"`
	OpenSessions     int                  `json:"open_sessions"`
	TotalIncome      decimal.Decimal      `json:"total_income"`
	TotalExpenses    decimal.Decimal      `json:"total_expenses"`
	TotalPurchases   decimal.Decimal      `json:"total_purchases"`
	TotalDifferences decimal.Decimal      `json:"total_differences"`
	NetDifference    decimal.Decimal      `json:"net_difference"`
	Sessions         []DailyReportSession `json:"sessions"`
}

type DailyReportSession struct {
	Session model.CashSession  `json:"session"`
	Closure *model.CashClosure `json:"closure"`
}

// IncomeSummary totals a session's incomes per category.
type IncomeSummary struct {
	SessionID      uuid.UUID                  `json:"session_id"`
	TotalIncome    decimal.Decimal            `json:"total_income"`
	IncomeCount    int64                      `json:"income_count"`
	CategoryTotals map[string]decimal.Decimal `json:"category_totals"`
}

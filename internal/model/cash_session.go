package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Session lifecycle states. Suspended still counts as active for the
// one-session-per-register rule.
const (
	SessionOpen      = "open"
	SessionSuspended = "suspended"
	SessionClosed    = "closed"
)

// CashSession is one open-to-close lifecycle of a register's cash drawer.
// CurrentAmount is a cached ledger total: it is recomputed from the
// transaction tables inside the same database transaction as every write,
// and replaced by the counted amount when the session closes.
type CashSession struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	RegisterID    int             `gorm:"not null;index" json:"register_id"`
	OwnerID       uuid.UUID       `gorm:"type:uuid;not null" json:"owner_id"`
	OpeningAmount decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"opening_amount"`
	CurrentAmount decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"current_amount"`
	Status        string          `gorm:"type:varchar(20);not null;default:'open'" json:"status"`
	Notes         *string         `json:"notes,omitempty"`
	OpenedAt      time.Time       `gorm:"not null" json:"opened_at"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty"`
}

func (CashSession) TableName() string { return "cash_sessions" }

func (s *CashSession) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// IsActive reports whether the session blocks a new open on its register.
func (s *CashSession) IsActive() bool {
	return s.Status == SessionOpen || s.Status == SessionSuspended
}

// CashClosure is the immutable record finalizing a session's reconciliation.
// Difference = ActualCash - ExpectedCash: positive is a surplus, negative a shortage.
type CashClosure struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID      uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex" json:"session_id"`
	OpeningAmount  decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"opening_amount"`
	TotalIncome    decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"total_income"`
	TotalExpenses  decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"total_expenses"`
	TotalPurchases decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"total_purchases"`
	ExpectedCash   decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"expected_cash"`
	ActualCash     decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"actual_cash"`
	Difference     decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"difference"`
	DifferencePct  decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"difference_pct"`
	// Classification: "normal" | "warning" | "critical"
	Classification string    `gorm:"type:varchar(20);not null" json:"classification"`
	Notes          *string   `json:"notes,omitempty"`
	ClosedBy       uuid.UUID `gorm:"type:uuid;not null" json:"closed_by"`
	ClosedAt       time.Time `gorm:"not null" json:"closed_at"`

	// Session is loaded only by the closure history reads.
	Session *CashSession `gorm:"foreignKey:SessionID" json:"session,omitempty"`
}

func (CashClosure) TableName() string { return "cash_closures" }

func (c *CashClosure) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

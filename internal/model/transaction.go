package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Expense, Purchase and Income are immutable ledger rows owned by a
// CashSession. Corrections are recorded as new rows; only the administrative
// force delete removes them.

// Expense is cash paid out of the drawer (services, supplier payments, petty costs).
type Expense struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID      uuid.UUID       `gorm:"type:uuid;not null;index" json:"session_id"`
	Amount         decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount"`
	Description    string          `gorm:"not null" json:"description"`
	Category       string          `gorm:"type:varchar(60);not null" json:"category"`
	CostCenterID   *int            `json:"cost_center_id,omitempty"`
	SupplierID     *int            `json:"supplier_id,omitempty"`
	IdempotencyKey *string         `gorm:"type:varchar(80);uniqueIndex" json:"-"`
	CreatedBy      uuid.UUID       `gorm:"type:uuid;not null" json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (Expense) TableName() string { return "petty_cash_expenses" }

func (e *Expense) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// Purchase is goods bought with drawer cash. Amount is Quantity * UnitPrice
// rounded to cents, and is what the balance is charged.
type Purchase struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID      uuid.UUID       `gorm:"type:uuid;not null;index" json:"session_id"`
	ProductRef     string          `gorm:"type:varchar(80);not null" json:"product_ref"`
	Description    string          `json:"description"`
	Quantity       decimal.Decimal `gorm:"type:decimal(14,3);not null" json:"quantity"`
	UnitPrice      decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"unit_price"`
	Amount         decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount"`
	SupplierID     *int            `json:"supplier_id,omitempty"`
	IdempotencyKey *string         `gorm:"type:varchar(80);uniqueIndex" json:"-"`
	CreatedBy      uuid.UUID       `gorm:"type:uuid;not null" json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (Purchase) TableName() string { return "petty_cash_purchases" }

func (p *Purchase) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Income is cash received into the drawer outside the POS sale flow.
type Income struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID      uuid.UUID       `gorm:"type:uuid;not null;index" json:"session_id"`
	Amount         decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount"`
	Description    string          `gorm:"not null" json:"description"`
	Category       string          `gorm:"type:varchar(60);not null" json:"category"`
	PaymentMethod  string          `gorm:"type:varchar(20);not null" json:"payment_method"`
	IdempotencyKey *string         `gorm:"type:varchar(80);uniqueIndex" json:"-"`
	CreatedBy      uuid.UUID       `gorm:"type:uuid;not null" json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (Income) TableName() string { return "petty_cash_incomes" }

func (i *Income) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	fiscaldomain "github.com/smallbiznis/ledgercore/internal/fiscal/domain"
)

// Status is the transaction lifecycle. Draft rows may change; posting is
// one-way and a posted transaction never changes again.
type Status string

const (
	StatusDraft  Status = "draft"
	StatusPosted Status = "posted"
)

// Origin separates operator-keyed entries from engine-generated ones.
// System entries may hit accounts that disallow manual entry.
type Origin string

const (
	OriginManual Origin = "manual"
	OriginSystem Origin = "system"
)

func (o Origin) Valid() bool {
	return o == OriginManual || o == OriginSystem
}

// Transaction is a double-entry journal header. SequenceNumber is unique
// per (tenant, fiscal_year, period_number).
type Transaction struct {
	ID              snowflake.ID       `gorm:"primaryKey"`
	TenantID        snowflake.ID       `gorm:"not null;index"`
	TransactionDate time.Time          `gorm:"not null;index"`
	FiscalYear      int                `gorm:"not null"`
	PeriodNumber    int                `gorm:"not null"`
	PeriodID        snowflake.ID       `gorm:"not null"`
	Module          fiscaldomain.Module `gorm:"type:text;not null"`
	Origin          Origin             `gorm:"type:text;not null"`
	Status          Status             `gorm:"type:text;not null"`
	SequenceNumber  int64              `gorm:"not null"`
	Description     string             `gorm:"type:text;not null"`
	Reference       string             `gorm:"type:text"`
	ReversalOfID    *snowflake.ID      `gorm:"index"`
	PostedAt        *time.Time
	CreatedAt       time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "ledger_transactions" }

func (t Transaction) Posted() bool { return t.Status == StatusPosted }

// TransactionLine is one leg of a journal entry. Exactly one of Debit and
// Credit is positive; the other is zero.
type TransactionLine struct {
	ID            snowflake.ID    `gorm:"primaryKey"`
	TenantID      snowflake.ID    `gorm:"not null;index"`
	TransactionID snowflake.ID    `gorm:"not null;index"`
	Ordinal       int             `gorm:"not null"`
	AccountID     snowflake.ID    `gorm:"not null;index"`
	Debit         decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	Credit        decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	Memo          string          `gorm:"type:text"`
	CreatedAt     time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TransactionLine) TableName() string { return "ledger_transaction_lines" }

// PeriodTotal is the per-account posted aggregate of one fiscal period,
// maintained synchronously at posting time.
type PeriodTotal struct {
	TenantID     snowflake.ID    `gorm:"primaryKey;autoIncrement:false"`
	AccountID    snowflake.ID    `gorm:"primaryKey;autoIncrement:false"`
	FiscalYear   int             `gorm:"primaryKey;autoIncrement:false"`
	PeriodNumber int             `gorm:"primaryKey;autoIncrement:false"`
	DebitTotal   decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	CreditTotal  decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	UpdatedAt    time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PeriodTotal) TableName() string { return "ledger_period_totals" }

// YearTotal is the per-account posted aggregate of one fiscal year.
type YearTotal struct {
	TenantID    snowflake.ID    `gorm:"primaryKey;autoIncrement:false"`
	AccountID   snowflake.ID    `gorm:"primaryKey;autoIncrement:false"`
	FiscalYear  int             `gorm:"primaryKey;autoIncrement:false"`
	DebitTotal  decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	CreditTotal decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	UpdatedAt   time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (YearTotal) TableName() string { return "ledger_year_totals" }

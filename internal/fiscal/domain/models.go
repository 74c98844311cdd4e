package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Module is a ledger area gated independently per period.
type Module string

const (
	ModuleGL          Module = "GL"
	ModuleBank        Module = "BNK"
	ModuleReceivables Module = "RCV"
	ModulePayables    Module = "PAY"
)

// AllModules returns the gated modules in display order.
func AllModules() []Module {
	return []Module{ModuleGL, ModuleBank, ModuleReceivables, ModulePayables}
}

func (m Module) Valid() bool {
	switch m {
	case ModuleGL, ModuleBank, ModuleReceivables, ModulePayables:
		return true
	default:
		return false
	}
}

// FiscalYearSetup anchors the fiscal year. One active row per tenant;
// replacing the anchor purges periods strictly before the new anchor date.
type FiscalYearSetup struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	TenantID   snowflake.ID `gorm:"not null;index"`
	AnchorDate time.Time    `gorm:"not null"`
	Active     bool         `gorm:"not null;default:true"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (FiscalYearSetup) TableName() string { return "fiscal_year_setups" }

// FiscalPeriod is one gated date range. PeriodNumber 1..12 are the generated
// months; 0 marks a custom range.
type FiscalPeriod struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	TenantID         snowflake.ID `gorm:"not null;index"`
	FiscalYear       int          `gorm:"not null;index"`
	PeriodNumber     int          `gorm:"not null"`
	StartDate        time.Time    `gorm:"not null"`
	EndDate          time.Time    `gorm:"not null"`
	GLOpen           bool         `gorm:"not null;default:true"`
	BankOpen         bool         `gorm:"not null;default:true"`
	ReceivablesOpen  bool         `gorm:"not null;default:true"`
	PayablesOpen     bool         `gorm:"not null;default:true"`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (FiscalPeriod) TableName() string { return "fiscal_periods" }

// IsOpen reports the flag for one module.
func (p FiscalPeriod) IsOpen(module Module) bool {
	switch module {
	case ModuleGL:
		return p.GLOpen
	case ModuleBank:
		return p.BankOpen
	case ModuleReceivables:
		return p.ReceivablesOpen
	case ModulePayables:
		return p.PayablesOpen
	default:
		return false
	}
}

// SetOpen flips the flag for one module and reports whether it changed.
func (p *FiscalPeriod) SetOpen(module Module, open bool) bool {
	switch module {
	case ModuleGL:
		if p.GLOpen == open {
			return false
		}
		p.GLOpen = open
	case ModuleBank:
		if p.BankOpen == open {
			return false
		}
		p.BankOpen = open
	case ModuleReceivables:
		if p.ReceivablesOpen == open {
			return false
		}
		p.ReceivablesOpen = open
	case ModulePayables:
		if p.PayablesOpen == open {
			return false
		}
		p.PayablesOpen = open
	default:
		return false
	}
	return true
}

// Contains reports whether date falls inside the period, inclusive.
func (p FiscalPeriod) Contains(date time.Time) bool {
	d := DateOnly(date)
	return !d.Before(DateOnly(p.StartDate)) && !d.After(DateOnly(p.EndDate))
}

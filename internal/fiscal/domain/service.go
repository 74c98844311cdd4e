package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ledgercore/pkg/violation"
	"gorm.io/gorm"
)

var (
	ErrInvalidTenant    = violation.Structural("invalid_tenant")
	ErrInvalidModule    = violation.Structural("invalid_fiscal_module")
	ErrInvalidDateRange = violation.Structural("invalid_period_date_range")
	ErrPeriodOverlap    = violation.Structural("custom_period_overlap")

	ErrPeriodClosed     = violation.State("fiscal_period_closed")
	ErrPeriodsExist     = violation.State("fiscal_periods_already_generated")
	ErrRegenerateClosed = violation.State("fiscal_period_closed_for_regenerate")

	ErrNoFiscalSetup  = violation.Environment("fiscal_year_setup_not_found")
	ErrNoPeriodForDate = violation.Environment("fiscal_period_not_defined")
	ErrPeriodNotFound  = violation.Environment("fiscal_period_not_found")
)

// Calendar drives fiscal year labelling, period lookup and the per-module
// open/closed gates that decide whether a date accepts postings.
type Calendar interface {
	// SetAnchor replaces the tenant's fiscal anchor and purges any periods
	// ending strictly before the new anchor date.
	SetAnchor(ctx context.Context, anchor time.Time) (*FiscalYearSetup, error)

	// ActiveSetup returns the tenant's active anchor row.
	ActiveSetup(ctx context.Context) (*FiscalYearSetup, error)

	// FiscalYearForDate labels the fiscal year the date belongs to.
	FiscalYearForDate(ctx context.Context, date time.Time) (int, error)

	// PeriodForDate finds the period covering the date. A missing period in
	// the current calendar month is created on the fly with all modules open;
	// a missing period in any other month is ErrNoPeriodForDate.
	PeriodForDate(ctx context.Context, date time.Time) (*FiscalPeriod, error)

	// GeneratePeriods bulk-creates the 12 month periods of a fiscal year.
	// Existing generated periods are refused unless regenerate is set, and
	// regeneration is refused outright once any module of any period closed.
	GeneratePeriods(ctx context.Context, fiscalYear int, regenerate bool) ([]*FiscalPeriod, error)

	// CreateCustomPeriod adds a period-number-zero range, rejecting overlap
	// with any existing period of the tenant, generated or custom.
	CreateCustomPeriod(ctx context.Context, start, end time.Time) (*FiscalPeriod, error)

	// ListPeriods returns the tenant's periods for one fiscal year, ordered
	// by start date.
	ListPeriods(ctx context.Context, fiscalYear int) ([]*FiscalPeriod, error)

	// ValidateTransactionDate resolves the period covering date and checks
	// the module's gate, returning ErrPeriodClosed when shut.
	ValidateTransactionDate(ctx context.Context, date time.Time, module Module) (*FiscalPeriod, error)

	// ClosePeriod shuts the given module gates. Already-closed gates are a
	// no-op, so the call is idempotent.
	ClosePeriod(ctx context.Context, periodID snowflake.ID, modules []Module) (*FiscalPeriod, error)

	// OpenPeriod reopens the given module gates, idempotently.
	OpenPeriod(ctx context.Context, periodID snowflake.ID, modules []Module) (*FiscalPeriod, error)
}

type Repository interface {
	FindActiveSetup(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*FiscalYearSetup, error)
	DeactivateSetups(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) error
	InsertSetup(ctx context.Context, db *gorm.DB, setup *FiscalYearSetup) error

	FindPeriodByID(ctx context.Context, db *gorm.DB, tenantID, periodID snowflake.ID) (*FiscalPeriod, error)
	FindPeriodByDate(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, date time.Time) (*FiscalPeriod, error)
	ListPeriods(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, fiscalYear int) ([]*FiscalPeriod, error)
	InsertPeriod(ctx context.Context, db *gorm.DB, period *FiscalPeriod) error
	UpdatePeriodFlags(ctx context.Context, db *gorm.DB, period *FiscalPeriod) error

	AnyClosedForYear(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, fiscalYear int) (bool, error)
	CountGeneratedForYear(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, fiscalYear int) (int64, error)
	DeleteGeneratedForYear(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, fiscalYear int) error
	DeletePeriodsEndingBefore(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, cutoff time.Time) (int64, error)
	FindOverlapping(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, start, end time.Time) (*FiscalPeriod, error)
}

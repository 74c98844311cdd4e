package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ledgercore/internal/fiscal/domain"
	"gorm.io/gorm"
)

type Repository struct{}

func Provide() domain.Repository {
	return &Repository{}
}

func (r *Repository) FindActiveSetup(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*domain.FiscalYearSetup, error) {
	var setup domain.FiscalYearSetup
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, anchor_date, active, created_at, updated_at
		 FROM fiscal_year_setups
		 WHERE tenant_id = ? AND active = ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		tenantID, true,
	).Scan(&setup).Error
	if err != nil {
		return nil, err
	}
	if setup.ID == 0 {
		return nil, nil
	}
	return &setup, nil
}

func (r *Repository) DeactivateSetups(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE fiscal_year_setups SET active = ?, updated_at = ? WHERE tenant_id = ? AND active = ?`,
		false, time.Now().UTC(), tenantID, true,
	).Error
}

func (r *Repository) InsertSetup(ctx context.Context, db *gorm.DB, setup *domain.FiscalYearSetup) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO fiscal_year_setups (id, tenant_id, anchor_date, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		setup.ID, setup.TenantID, setup.AnchorDate, setup.Active, setup.CreatedAt, setup.UpdatedAt,
	).Error
}

func (r *Repository) FindPeriodByID(ctx context.Context, db *gorm.DB, tenantID, periodID snowflake.ID) (*domain.FiscalPeriod, error) {
	var period domain.FiscalPeriod
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM fiscal_periods WHERE tenant_id = ? AND id = ?`,
		tenantID, periodID,
	).Scan(&period).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if period.ID == 0 {
		return nil, nil
	}
	return &period, nil
}

func (r *Repository) FindPeriodByDate(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, date time.Time) (*domain.FiscalPeriod, error) {
	var period domain.FiscalPeriod
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM fiscal_periods
		 WHERE tenant_id = ? AND start_date <= ? AND end_date >= ?
		 ORDER BY period_number DESC
		 LIMIT 1`,
		tenantID, date, date,
	).Scan(&period).Error
	if err != nil {
		return nil, err
	}
	if period.ID == 0 {
		return nil, nil
	}
	return &period, nil
}

func (r *Repository) ListPeriods(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, fiscalYear int) ([]*domain.FiscalPeriod, error) {
	var periods []*domain.FiscalPeriod
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM fiscal_periods
		 WHERE tenant_id = ? AND fiscal_year = ?
		 ORDER BY start_date ASC, period_number ASC`,
		tenantID, fiscalYear,
	).Scan(&periods).Error
	if err != nil {
		return nil, err
	}
	return periods, nil
}

func (r *Repository) InsertPeriod(ctx context.Context, db *gorm.DB, period *domain.FiscalPeriod) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO fiscal_periods (
			id, tenant_id, fiscal_year, period_number, start_date, end_date,
			gl_open, bank_open, receivables_open, payables_open, created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		period.ID, period.TenantID, period.FiscalYear, period.PeriodNumber,
		period.StartDate, period.EndDate,
		period.GLOpen, period.BankOpen, period.ReceivablesOpen, period.PayablesOpen,
		period.CreatedAt, period.UpdatedAt,
	).Error
}

func (r *Repository) UpdatePeriodFlags(ctx context.Context, db *gorm.DB, period *domain.FiscalPeriod) error {
	return db.WithContext(ctx).Exec(
		`UPDATE fiscal_periods
		 SET gl_open = ?, bank_open = ?, receivables_open = ?, payables_open = ?, updated_at = ?
		 WHERE tenant_id = ? AND id = ?`,
		period.GLOpen, period.BankOpen, period.ReceivablesOpen, period.PayablesOpen,
		time.Now().UTC(), period.TenantID, period.ID,
	).Error
}

func (r *Repository) AnyClosedForYear(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, fiscalYear int) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM fiscal_periods
		 WHERE tenant_id = ? AND fiscal_year = ?
		   AND (gl_open = ? OR bank_open = ? OR receivables_open = ? OR payables_open = ?)`,
		tenantID, fiscalYear, false, false, false, false,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *Repository) CountGeneratedForYear(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, fiscalYear int) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM fiscal_periods
		 WHERE tenant_id = ? AND fiscal_year = ? AND period_number > 0`,
		tenantID, fiscalYear,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *Repository) DeleteGeneratedForYear(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, fiscalYear int) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM fiscal_periods WHERE tenant_id = ? AND fiscal_year = ? AND period_number > 0`,
		tenantID, fiscalYear,
	).Error
}

func (r *Repository) DeletePeriodsEndingBefore(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, cutoff time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`DELETE FROM fiscal_periods WHERE tenant_id = ? AND end_date < ?`,
		tenantID, cutoff,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *Repository) FindOverlapping(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, start, end time.Time) (*domain.FiscalPeriod, error) {
	var period domain.FiscalPeriod
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM fiscal_periods
		 WHERE tenant_id = ?
		   AND start_date <= ? AND end_date >= ?
		 LIMIT 1`,
		tenantID, end, start,
	).Scan(&period).Error
	if err != nil {
		return nil, err
	}
	if period.ID == 0 {
		return nil, nil
	}
	return &period, nil
}

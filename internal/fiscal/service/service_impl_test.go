package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/ledgercore/internal/clock"
	"github.com/smallbiznis/ledgercore/internal/fiscal/domain"
	"github.com/smallbiznis/ledgercore/internal/fiscal/repository"
	"github.com/smallbiznis/ledgercore/internal/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	db.Exec(`CREATE TABLE fiscal_year_setups (
		id BIGINT PRIMARY KEY,
		tenant_id BIGINT NOT NULL,
		anchor_date TIMESTAMP NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`)
	db.Exec(`CREATE TABLE fiscal_periods (
		id BIGINT PRIMARY KEY,
		tenant_id BIGINT NOT NULL,
		fiscal_year INTEGER NOT NULL,
		period_number INTEGER NOT NULL,
		start_date TIMESTAMP NOT NULL,
		end_date TIMESTAMP NOT NULL,
		gl_open BOOLEAN NOT NULL DEFAULT TRUE,
		bank_open BOOLEAN NOT NULL DEFAULT TRUE,
		receivables_open BOOLEAN NOT NULL DEFAULT TRUE,
		payables_open BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`)
	db.Exec(`CREATE UNIQUE INDEX ux_fiscal_periods_year_number
		ON fiscal_periods (tenant_id, fiscal_year, period_number)
		WHERE period_number > 0`)
	return db
}

func newCalendar(t *testing.T, db *gorm.DB, now time.Time) (domain.Calendar, *clock.FakeClock, snowflake.ID, context.Context) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(now)

	svc := NewService(Params{
		DB:    db,
		Log:   zaptest.NewLogger(t),
		GenID: node,
		Clock: fake,
		Repo:  repository.Provide(),
	})
	tenantID := node.Generate()
	ctx := tenantctx.WithTenantID(context.Background(), tenantID)
	return svc, fake, tenantID, ctx
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestFiscalYearForDateUsesAnchor(t *testing.T) {
	db := newTestDB(t)
	svc, _, _, ctx := newCalendar(t, db, date(2024, time.June, 1))

	_, err := svc.SetAnchor(ctx, date(2024, time.May, 1))
	require.NoError(t, err)

	year, err := svc.FiscalYearForDate(ctx, date(2024, time.May, 1))
	require.NoError(t, err)
	assert.Equal(t, 2025, year)

	year, err = svc.FiscalYearForDate(ctx, date(2024, time.April, 30))
	require.NoError(t, err)
	assert.Equal(t, 2024, year)
}

func TestFiscalYearForDateWithoutSetup(t *testing.T) {
	db := newTestDB(t)
	svc, _, _, ctx := newCalendar(t, db, date(2024, time.June, 1))

	_, err := svc.FiscalYearForDate(ctx, date(2024, time.May, 1))
	assert.ErrorIs(t, err, domain.ErrNoFiscalSetup)
}

func TestGeneratePeriodsTwelveMonths(t *testing.T) {
	db := newTestDB(t)
	svc, _, _, ctx := newCalendar(t, db, date(2024, time.June, 1))

	_, err := svc.SetAnchor(ctx, date(2024, time.May, 1))
	require.NoError(t, err)

	periods, err := svc.GeneratePeriods(ctx, 2025, false)
	require.NoError(t, err)
	require.Len(t, periods, 12)

	assert.Equal(t, date(2024, time.May, 1), periods[0].StartDate)
	assert.Equal(t, date(2025, time.April, 30), periods[11].EndDate)
	for _, p := range periods {
		assert.True(t, p.GLOpen)
		assert.True(t, p.BankOpen)
		assert.True(t, p.ReceivablesOpen)
		assert.True(t, p.PayablesOpen)
	}

	_, err = svc.GeneratePeriods(ctx, 2025, false)
	assert.ErrorIs(t, err, domain.ErrPeriodsExist)
}

func TestRegenerateRefusedOnceAnyGateClosed(t *testing.T) {
	db := newTestDB(t)
	svc, _, _, ctx := newCalendar(t, db, date(2024, time.June, 1))

	_, err := svc.SetAnchor(ctx, date(2024, time.May, 1))
	require.NoError(t, err)
	periods, err := svc.GeneratePeriods(ctx, 2025, false)
	require.NoError(t, err)

	// Regenerate while everything is still open succeeds.
	periods, err = svc.GeneratePeriods(ctx, 2025, true)
	require.NoError(t, err)
	require.Len(t, periods, 12)

	_, err = svc.ClosePeriod(ctx, periods[2].ID, []domain.Module{domain.ModuleBank})
	require.NoError(t, err)

	_, err = svc.GeneratePeriods(ctx, 2025, true)
	assert.ErrorIs(t, err, domain.ErrRegenerateClosed)
}

func TestPeriodForDateLazyCreatesCurrentMonthOnly(t *testing.T) {
	db := newTestDB(t)
	svc, _, _, ctx := newCalendar(t, db, date(2024, time.June, 10))

	_, err := svc.SetAnchor(ctx, date(2024, time.May, 1))
	require.NoError(t, err)

	// Current calendar month self-heals.
	period, err := svc.PeriodForDate(ctx, date(2024, time.June, 20))
	require.NoError(t, err)
	assert.Equal(t, 2, period.PeriodNumber)
	assert.Equal(t, 2025, period.FiscalYear)
	assert.Equal(t, date(2024, time.June, 1), period.StartDate)
	assert.Equal(t, date(2024, time.June, 30), period.EndDate)

	// Resolving it again returns the same row.
	again, err := svc.PeriodForDate(ctx, date(2024, time.June, 5))
	require.NoError(t, err)
	assert.Equal(t, period.ID, again.ID)

	// A past month is not created on the fly.
	_, err = svc.PeriodForDate(ctx, date(2024, time.May, 20))
	assert.ErrorIs(t, err, domain.ErrNoPeriodForDate)
}

func TestValidateTransactionDateGatesPerModule(t *testing.T) {
	db := newTestDB(t)
	svc, _, _, ctx := newCalendar(t, db, date(2024, time.June, 10))

	_, err := svc.SetAnchor(ctx, date(2024, time.May, 1))
	require.NoError(t, err)
	periods, err := svc.GeneratePeriods(ctx, 2025, false)
	require.NoError(t, err)

	june := periods[1]
	_, err = svc.ClosePeriod(ctx, june.ID, []domain.Module{domain.ModuleBank})
	require.NoError(t, err)

	// Bank postings are rejected while GL stays open.
	_, err = svc.ValidateTransactionDate(ctx, date(2024, time.June, 15), domain.ModuleBank)
	assert.ErrorIs(t, err, domain.ErrPeriodClosed)

	period, err := svc.ValidateTransactionDate(ctx, date(2024, time.June, 15), domain.ModuleGL)
	require.NoError(t, err)
	assert.Equal(t, june.ID, period.ID)
}

func TestCloseAndOpenAreIdempotent(t *testing.T) {
	db := newTestDB(t)
	svc, _, _, ctx := newCalendar(t, db, date(2024, time.June, 10))

	_, err := svc.SetAnchor(ctx, date(2024, time.May, 1))
	require.NoError(t, err)
	periods, err := svc.GeneratePeriods(ctx, 2025, false)
	require.NoError(t, err)

	target := periods[0]
	closed, err := svc.ClosePeriod(ctx, target.ID, nil)
	require.NoError(t, err)
	for _, m := range domain.AllModules() {
		assert.False(t, closed.IsOpen(m))
	}

	closed, err = svc.ClosePeriod(ctx, target.ID, nil)
	require.NoError(t, err)
	for _, m := range domain.AllModules() {
		assert.False(t, closed.IsOpen(m))
	}

	opened, err := svc.OpenPeriod(ctx, target.ID, []domain.Module{domain.ModuleGL})
	require.NoError(t, err)
	assert.True(t, opened.GLOpen)
	assert.False(t, opened.BankOpen)
}

func TestCustomPeriodRejectsOverlap(t *testing.T) {
	db := newTestDB(t)
	svc, _, _, ctx := newCalendar(t, db, date(2024, time.June, 10))

	_, err := svc.SetAnchor(ctx, date(2024, time.May, 1))
	require.NoError(t, err)

	_, err = svc.GeneratePeriods(ctx, 2025, false)
	require.NoError(t, err)

	// A range inside a generated month is refused, not just custom clashes.
	_, err = svc.CreateCustomPeriod(ctx, date(2024, time.June, 5), date(2024, time.June, 20))
	assert.ErrorIs(t, err, domain.ErrPeriodOverlap)

	// Straddling a generated boundary is refused as well.
	_, err = svc.CreateCustomPeriod(ctx, date(2025, time.April, 20), date(2025, time.May, 5))
	assert.ErrorIs(t, err, domain.ErrPeriodOverlap)

	// Clear of every generated period (they end 2025-04-30) it succeeds.
	first, err := svc.CreateCustomPeriod(ctx, date(2025, time.May, 1), date(2025, time.May, 15))
	require.NoError(t, err)
	assert.Equal(t, 0, first.PeriodNumber)

	_, err = svc.CreateCustomPeriod(ctx, date(2025, time.May, 10), date(2025, time.May, 20))
	assert.ErrorIs(t, err, domain.ErrPeriodOverlap)

	_, err = svc.CreateCustomPeriod(ctx, date(2025, time.May, 31), date(2025, time.May, 16))
	assert.ErrorIs(t, err, domain.ErrInvalidDateRange)
}

func TestSetAnchorPurgesEarlierPeriods(t *testing.T) {
	db := newTestDB(t)
	svc, _, _, ctx := newCalendar(t, db, date(2024, time.June, 10))

	_, err := svc.SetAnchor(ctx, date(2023, time.May, 1))
	require.NoError(t, err)
	_, err = svc.GeneratePeriods(ctx, 2024, false)
	require.NoError(t, err)

	// Moving the anchor forward drops the periods that ended before it.
	_, err = svc.SetAnchor(ctx, date(2024, time.January, 1))
	require.NoError(t, err)

	remaining, err := svc.ListPeriods(ctx, 2024)
	require.NoError(t, err)
	require.NotEmpty(t, remaining)
	for _, p := range remaining {
		assert.False(t, p.EndDate.Before(date(2024, time.January, 1)))
	}
}

func TestPeriodsAreTenantScoped(t *testing.T) {
	db := newTestDB(t)
	svc, _, _, ctx := newCalendar(t, db, date(2024, time.June, 10))

	_, err := svc.SetAnchor(ctx, date(2024, time.May, 1))
	require.NoError(t, err)
	_, err = svc.GeneratePeriods(ctx, 2025, false)
	require.NoError(t, err)

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	otherCtx := tenantctx.WithTenantID(context.Background(), node.Generate())

	_, err = svc.PeriodForDate(ctx, date(2024, time.July, 15))
	require.NoError(t, err)
	_, err = svc.ValidateTransactionDate(otherCtx, date(2024, time.July, 15), domain.ModuleGL)
	assert.ErrorIs(t, err, domain.ErrNoPeriodForDate)
}

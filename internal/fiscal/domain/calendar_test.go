package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestFiscalYearForAnchorMay(t *testing.T) {
	anchor := date(2024, time.May, 1)

	assert.Equal(t, 2025, FiscalYearFor(anchor, date(2024, time.May, 1)))
	assert.Equal(t, 2025, FiscalYearFor(anchor, date(2024, time.December, 31)))
	assert.Equal(t, 2025, FiscalYearFor(anchor, date(2025, time.April, 30)))
	assert.Equal(t, 2024, FiscalYearFor(anchor, date(2024, time.April, 30)))
	assert.Equal(t, 2026, FiscalYearFor(anchor, date(2025, time.May, 1)))
}

func TestPeriodWindowMidMonthAnchor(t *testing.T) {
	anchor := date(2024, time.May, 15)

	start, end, number, fiscalYear := PeriodWindow(anchor, date(2024, time.June, 20))
	assert.Equal(t, date(2024, time.June, 15), start)
	assert.Equal(t, date(2024, time.July, 14), end)
	assert.Equal(t, 2, number)
	assert.Equal(t, 2025, fiscalYear)

	// A date before the anchor day belongs to the previous window.
	start, end, number, _ = PeriodWindow(anchor, date(2024, time.June, 10))
	assert.Equal(t, date(2024, time.May, 15), start)
	assert.Equal(t, date(2024, time.June, 14), end)
	assert.Equal(t, 1, number)
}

func TestPeriodWindowFirstOfMonthAnchor(t *testing.T) {
	anchor := date(2024, time.May, 1)

	start, end, number, fiscalYear := PeriodWindow(anchor, date(2025, time.January, 31))
	assert.Equal(t, date(2025, time.January, 1), start)
	assert.Equal(t, date(2025, time.January, 31), end)
	assert.Equal(t, 9, number)
	assert.Equal(t, 2025, fiscalYear)
}

func TestGenerateWindowsCoversTwelveConsecutiveMonths(t *testing.T) {
	anchor := date(2024, time.May, 1)
	windows := GenerateWindows(anchor, 2025)

	assert.Equal(t, date(2024, time.May, 1), windows[0][0])
	assert.Equal(t, date(2025, time.April, 30), windows[11][1])
	for i := 1; i < len(windows); i++ {
		assert.Equal(t, windows[i-1][1].AddDate(0, 0, 1), windows[i][0],
			"window %d must start the day after the previous ends", i)
	}
}

func TestAnchorDayClampsShortMonths(t *testing.T) {
	anchor := date(2024, time.January, 31)

	start, end, _, _ := PeriodWindow(anchor, date(2025, time.February, 10))
	assert.Equal(t, date(2025, time.January, 31), start)
	assert.Equal(t, date(2025, time.February, 27), end)

	start, _, _, _ = PeriodWindow(anchor, date(2025, time.February, 28))
	assert.Equal(t, date(2025, time.February, 28), start)
}

func TestPeriodFlags(t *testing.T) {
	p := FiscalPeriod{GLOpen: true, BankOpen: true, ReceivablesOpen: true, PayablesOpen: true}

	assert.True(t, p.SetOpen(ModuleBank, false))
	assert.False(t, p.SetOpen(ModuleBank, false), "second close is a no-op")
	assert.False(t, p.IsOpen(ModuleBank))
	assert.True(t, p.IsOpen(ModuleGL))
	assert.True(t, p.IsOpen(ModuleReceivables))
	assert.True(t, p.IsOpen(ModulePayables))
}

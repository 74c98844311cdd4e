package domain

import (
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// LineInput is one leg of a journal entry as submitted by the caller.
type LineInput struct {
	AccountID snowflake.ID
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Memo      string
}

// AmountFromFloat converts an externally sourced float amount to the exact
// decimal used internally, rounding to cents once at the boundary. All
// arithmetic past this point is exact.
func AmountFromFloat(amount float64) decimal.Decimal {
	return decimal.NewFromFloat(amount).Round(2)
}

// ValidateBalanced checks the shape of a journal entry before any row is
// written: at least two lines, exactly one positive side per line, no
// negative amounts, and debit and credit totals exactly equal.
func ValidateBalanced(lines []LineInput) error {
	if len(lines) < 2 {
		return ErrTooFewLines
	}
	debits := decimal.Zero
	credits := decimal.Zero
	for _, line := range lines {
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return ErrNegativeAmount
		}
		hasDebit := line.Debit.IsPositive()
		hasCredit := line.Credit.IsPositive()
		if hasDebit == hasCredit {
			return ErrLineOneSide
		}
		debits = debits.Add(line.Debit)
		credits = credits.Add(line.Credit)
	}
	if !debits.Equal(credits) {
		return ErrUnbalanced
	}
	return nil
}

// SwapSides mirrors a line for a reversal entry.
func (l LineInput) SwapSides() LineInput {
	return LineInput{
		AccountID: l.AccountID,
		Debit:     l.Credit,
		Credit:    l.Debit,
		Memo:      l.Memo,
	}
}

package domain

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmountFromFloatRoundsOnceAtBoundary(t *testing.T) {
	assert.True(t, AmountFromFloat(500).Equal(decimal.RequireFromString("500")))
	assert.True(t, AmountFromFloat(10.017).Equal(decimal.RequireFromString("10.02")))
	assert.True(t, AmountFromFloat(10.014).Equal(decimal.RequireFromString("10.01")))

	// Past the boundary everything is exact: float legs that never sum
	// cleanly in binary balance precisely as decimals.
	sum := AmountFromFloat(0.1).Add(AmountFromFloat(0.2))
	assert.True(t, sum.Equal(decimal.RequireFromString("0.3")), "got %s", sum)
}

func TestValidateBalancedAcceptsFloatSourcedLines(t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	a, b := node.Generate(), node.Generate()

	lines := []LineInput{
		{AccountID: a, Debit: AmountFromFloat(0.1)},
		{AccountID: a, Debit: AmountFromFloat(0.2)},
		{AccountID: b, Credit: AmountFromFloat(0.3)},
	}
	assert.NoError(t, ValidateBalanced(lines))
}

func TestSwapSidesMirrorsLine(t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	line := LineInput{
		AccountID: node.Generate(),
		Debit:     decimal.RequireFromString("125.50"),
		Memo:      "settlement",
	}
	swapped := line.SwapSides()
	assert.Equal(t, line.AccountID, swapped.AccountID)
	assert.True(t, swapped.Credit.Equal(line.Debit))
	assert.True(t, swapped.Debit.IsZero())
	assert.Equal(t, "settlement", swapped.Memo)

	back := swapped.SwapSides()
	assert.True(t, back.Debit.Equal(line.Debit))
	assert.True(t, back.Credit.IsZero())
}

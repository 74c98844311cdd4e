package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	fiscaldomain "github.com/smallbiznis/ledgercore/internal/fiscal/domain"
	"github.com/smallbiznis/ledgercore/pkg/violation"
	"gorm.io/gorm"
)

var (
	ErrInvalidTenant  = violation.Structural("invalid_tenant")
	ErrInvalidOrigin  = violation.Structural("invalid_transaction_origin")
	ErrTooFewLines    = violation.Structural("transaction_requires_two_lines")
	ErrLineOneSide    = violation.Structural("line_must_have_exactly_one_side")
	ErrNegativeAmount = violation.Structural("negative_line_amount")
	ErrUnbalanced     = violation.Structural("transaction_unbalanced")
	ErrInvalidRange   = violation.Structural("invalid_balance_date_range")
	ErrTotalsMismatch = violation.Structural("ledger_totals_mismatch")

	ErrAlreadyPosted         = violation.State("transaction_already_posted")
	ErrNotPosted             = violation.State("transaction_not_posted")
	ErrTransactionImmutable  = violation.State("posted_transaction_immutable")
	ErrAccountInactive       = violation.State("account_inactive")
	ErrManualEntryDisallowed = violation.State("account_manual_entry_disallowed")

	ErrTransactionNotFound = violation.Environment("transaction_not_found")
	ErrAccountNotFound     = violation.Environment("account_not_found")
)

// CreateTransactionRequest carries a draft journal entry. Origin defaults
// to manual when empty; Module defaults to the general ledger.
type CreateTransactionRequest struct {
	TransactionDate time.Time
	Module          fiscaldomain.Module
	Origin          Origin
	Description     string
	Reference       string
	Lines           []LineInput
}

// BalanceRange bounds an account balance query, inclusive on both ends.
// Zero values leave the corresponding end open.
type BalanceRange struct {
	From time.Time
	To   time.Time
}

// Engine is the double-entry transaction engine. Every operation is
// tenant-scoped through the context and runs as one atomic unit.
type Engine interface {
	// CreateTransaction validates accounts, balance and the fiscal gate in
	// one pass, then persists the draft header and lines atomically with
	// the next sequence number of its (fiscal_year, period).
	CreateTransaction(ctx context.Context, req CreateTransactionRequest) (*Transaction, error)

	// Post makes the transaction final. Balance and the fiscal gate are
	// re-validated at posting time; period and year totals are maintained
	// in the same unit of work. Irreversible.
	Post(ctx context.Context, transactionID snowflake.ID) (*Transaction, error)

	// Reverse creates and immediately posts a now-dated transaction with
	// every line's sides swapped, referencing the original. The original
	// is never touched.
	Reverse(ctx context.Context, transactionID snowflake.ID, reason string) (*Transaction, error)

	// Get loads a header with its lines in ordinal order.
	Get(ctx context.Context, transactionID snowflake.ID) (*Transaction, []*TransactionLine, error)

	// ListByPeriod returns the headers of one fiscal period in sequence
	// order.
	ListByPeriod(ctx context.Context, fiscalYear, periodNumber int) ([]*Transaction, error)

	// AccountBalance sums posted lines of one account over a date range,
	// returning net debit minus credit as an exact decimal.
	AccountBalance(ctx context.Context, accountID snowflake.ID, dateRange BalanceRange) (decimal.Decimal, error)

	// DeleteDraft removes an unposted transaction and its lines.
	DeleteDraft(ctx context.Context, transactionID snowflake.ID) error
}

// LineAccount is the slice of an account row the engine validates against.
type LineAccount struct {
	ID                 snowflake.ID
	Code               string
	Active             bool
	ManualEntryAllowed bool
}

// LineSum is a per-line amount pair used for Go-side exact summation.
type LineSum struct {
	TransactionID snowflake.ID
	AccountID     snowflake.ID
	Debit         decimal.Decimal
	Credit        decimal.Decimal
}

type Repository interface {
	InsertTransaction(ctx context.Context, db *gorm.DB, txn *Transaction) error
	InsertLines(ctx context.Context, db *gorm.DB, lines []*TransactionLine) error
	FindTransactionByID(ctx context.Context, db *gorm.DB, tenantID, transactionID snowflake.ID) (*Transaction, error)
	FindLines(ctx context.Context, db *gorm.DB, tenantID, transactionID snowflake.ID) ([]*TransactionLine, error)
	// MarkPosted flips a draft to posted, guarded on the draft status, and
	// reports how many rows matched. Zero means the row left draft since it
	// was read.
	MarkPosted(ctx context.Context, db *gorm.DB, txn *Transaction) (int64, error)
	DeleteDraft(ctx context.Context, db *gorm.DB, tenantID, transactionID snowflake.ID) error
	ListByPeriod(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, fiscalYear, periodNumber int) ([]*Transaction, error)

	FindAccounts(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, accountIDs []snowflake.ID) (map[snowflake.ID]LineAccount, error)
	SumPostedLines(ctx context.Context, db *gorm.DB, tenantID, accountID snowflake.ID, dateRange BalanceRange) ([]LineSum, error)
	SumLinesByTransaction(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, transactionIDs []snowflake.ID) ([]LineSum, error)

	FindPeriodTotal(ctx context.Context, db *gorm.DB, tenantID, accountID snowflake.ID, fiscalYear, periodNumber int) (*PeriodTotal, error)
	FindYearTotal(ctx context.Context, db *gorm.DB, tenantID, accountID snowflake.ID, fiscalYear int) (*YearTotal, error)
	SavePeriodTotal(ctx context.Context, db *gorm.DB, total *PeriodTotal) error
	SaveYearTotal(ctx context.Context, db *gorm.DB, total *YearTotal) error
	FindPeriodTotals(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, fiscalYear, periodNumber int) ([]*PeriodTotal, error)
	FindYearTotals(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, fiscalYear int) ([]*YearTotal, error)
	SumPostedForPeriod(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, fiscalYear, periodNumber int) ([]LineSum, error)
	SumPostedForYear(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, fiscalYear int) ([]LineSum, error)

	// Consistency-checker support. A nil id slice means the whole class.
	FindLinesByIDs(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, lineIDs []snowflake.ID) ([]*TransactionLine, error)
	FindTransactionsByIDs(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, transactionIDs []snowflake.ID) ([]*Transaction, error)
	LineIDsForTransactions(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, transactionIDs []snowflake.ID) ([]snowflake.ID, error)
	TransactionIDsForPeriod(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, fiscalYear, periodNumber int) ([]snowflake.ID, error)
	DistinctPeriods(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]PeriodKey, error)
}

// PeriodKey identifies one fiscal period aggregate.
type PeriodKey struct {
	FiscalYear   int
	PeriodNumber int
}

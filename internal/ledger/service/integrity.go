package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/ledgercore/internal/integrity"
	"github.com/smallbiznis/ledgercore/internal/ledger/domain"
	"github.com/smallbiznis/ledgercore/internal/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Node keys of the ledger aggregate chain. Edges run parent→child:
// year totals depend on period totals, which depend on transactions,
// which depend on lines.
const (
	NodeLine         = "ledger.line"
	NodeTransaction  = "ledger.transaction"
	NodePeriodTotals = "ledger.period_totals"
	NodeYearTotals   = "ledger.year_totals"
)

type IntegrityParams struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  domain.Repository
	Graph *integrity.Graph `optional:"true"`
}

// RegisterIntegrity declares the ledger aggregate chain on the consistency
// graph. A posting then triggers a model-then-parents recheck from the
// transaction node up through the period and year aggregates.
func RegisterIntegrity(p IntegrityParams) error {
	if p.Graph == nil {
		return nil
	}
	checks := &ledgerChecks{db: p.DB, repo: p.Repo, log: p.Log.Named("ledger.integrity")}

	nodes := map[string]integrity.Checker{
		NodeLine:         integrity.CheckerFunc(checks.checkLines),
		NodeTransaction:  integrity.CheckerFunc(checks.checkTransactions),
		NodePeriodTotals: integrity.CheckerFunc(checks.checkPeriodTotals),
		NodeYearTotals:   integrity.CheckerFunc(checks.checkYearTotals),
	}
	for _, key := range []string{NodeYearTotals, NodePeriodTotals, NodeTransaction, NodeLine} {
		if err := p.Graph.RegisterNode(key, nodes[key]); err != nil {
			return err
		}
	}

	links := []integrity.Link{
		{
			Parent:    NodeYearTotals,
			Child:     NodePeriodTotals,
			ChildIDs:  checks.periodKeysForYears,
			ParentIDs: checks.yearsForPeriodKeys,
		},
		{
			Parent:    NodePeriodTotals,
			Child:     NodeTransaction,
			ChildIDs:  checks.transactionsForPeriodKeys,
			ParentIDs: checks.periodKeysForTransactions,
		},
		{
			Parent:    NodeTransaction,
			Child:     NodeLine,
			ChildIDs:  checks.linesForTransactions,
			ParentIDs: checks.transactionsForLines,
		},
	}
	for _, link := range links {
		if err := p.Graph.AddLink(link); err != nil {
			return err
		}
	}
	return nil
}

type ledgerChecks struct {
	db   *gorm.DB
	repo domain.Repository
	log  *zap.Logger
}

// checkLines verifies the exactly-one-side invariant of each line.
func (c *ledgerChecks) checkLines(ctx context.Context, ids []string) error {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return domain.ErrInvalidTenant
	}
	lineIDs, err := parseIDs(ids)
	if err != nil {
		return err
	}
	lines, err := c.repo.FindLinesByIDs(ctx, c.db, tenantID, lineIDs)
	if err != nil {
		return err
	}
	for _, line := range lines {
		hasDebit := line.Debit.IsPositive()
		hasCredit := line.Credit.IsPositive()
		if hasDebit == hasCredit || line.Debit.IsNegative() || line.Credit.IsNegative() {
			return fmt.Errorf("line %s: %w", line.ID, domain.ErrLineOneSide)
		}
	}
	return nil
}

// checkTransactions verifies the balance invariant of posted transactions.
func (c *ledgerChecks) checkTransactions(ctx context.Context, ids []string) error {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return domain.ErrInvalidTenant
	}
	txnIDs, err := parseIDs(ids)
	if err != nil {
		return err
	}
	txns, err := c.repo.FindTransactionsByIDs(ctx, c.db, tenantID, txnIDs)
	if err != nil {
		return err
	}

	posted := make([]snowflake.ID, 0, len(txns))
	for _, txn := range txns {
		if txn.Posted() {
			posted = append(posted, txn.ID)
		}
	}
	sums, err := c.repo.SumLinesByTransaction(ctx, c.db, tenantID, posted)
	if err != nil {
		return err
	}
	type pair struct{ debit, credit decimal.Decimal }
	byTxn := map[snowflake.ID]*pair{}
	for _, id := range posted {
		byTxn[id] = &pair{debit: decimal.Zero, credit: decimal.Zero}
	}
	for _, sum := range sums {
		p := byTxn[sum.TransactionID]
		if p == nil {
			continue
		}
		p.debit = p.debit.Add(sum.Debit)
		p.credit = p.credit.Add(sum.Credit)
	}
	for id, p := range byTxn {
		if !p.debit.Equal(p.credit) {
			return fmt.Errorf("transaction %s: %w", id, domain.ErrUnbalanced)
		}
	}
	return nil
}

// checkPeriodTotals recomputes each period aggregate from posted lines and
// compares it against the stored totals.
func (c *ledgerChecks) checkPeriodTotals(ctx context.Context, ids []string) error {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return domain.ErrInvalidTenant
	}
	keys, err := c.resolvePeriodKeys(ctx, tenantID, ids)
	if err != nil {
		return err
	}
	for _, key := range keys {
		sums, err := c.repo.SumPostedForPeriod(ctx, c.db, tenantID, key.FiscalYear, key.PeriodNumber)
		if err != nil {
			return err
		}
		stored, err := c.repo.FindPeriodTotals(ctx, c.db, tenantID, key.FiscalYear, key.PeriodNumber)
		if err != nil {
			return err
		}
		storedByAccount := map[snowflake.ID][2]decimal.Decimal{}
		for _, total := range stored {
			storedByAccount[total.AccountID] = [2]decimal.Decimal{total.DebitTotal, total.CreditTotal}
		}
		if err := compareTotals(sums, storedByAccount, periodKeyString(key)); err != nil {
			return err
		}
	}
	return nil
}

// checkYearTotals recomputes each year aggregate from posted lines and
// compares it against the stored totals.
func (c *ledgerChecks) checkYearTotals(ctx context.Context, ids []string) error {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return domain.ErrInvalidTenant
	}
	years, err := c.resolveYears(ctx, tenantID, ids)
	if err != nil {
		return err
	}
	for _, year := range years {
		sums, err := c.repo.SumPostedForYear(ctx, c.db, tenantID, year)
		if err != nil {
			return err
		}
		stored, err := c.repo.FindYearTotals(ctx, c.db, tenantID, year)
		if err != nil {
			return err
		}
		storedByAccount := map[snowflake.ID][2]decimal.Decimal{}
		for _, total := range stored {
			storedByAccount[total.AccountID] = [2]decimal.Decimal{total.DebitTotal, total.CreditTotal}
		}
		if err := compareTotals(sums, storedByAccount, strconv.Itoa(year)); err != nil {
			return err
		}
	}
	return nil
}

func compareTotals(sums []domain.LineSum, stored map[snowflake.ID][2]decimal.Decimal, scope string) error {
	type pair struct{ debit, credit decimal.Decimal }
	expected := map[snowflake.ID]*pair{}
	for _, sum := range sums {
		p, ok := expected[sum.AccountID]
		if !ok {
			p = &pair{debit: decimal.Zero, credit: decimal.Zero}
			expected[sum.AccountID] = p
		}
		p.debit = p.debit.Add(sum.Debit)
		p.credit = p.credit.Add(sum.Credit)
	}
	for accountID, p := range expected {
		got, ok := stored[accountID]
		if !ok || !got[0].Equal(p.debit) || !got[1].Equal(p.credit) {
			return fmt.Errorf("%s account %s: %w", scope, accountID, domain.ErrTotalsMismatch)
		}
	}
	return nil
}

func (c *ledgerChecks) linesForTransactions(ctx context.Context, ids []string) ([]string, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	txnIDs, err := parseIDs(ids)
	if err != nil {
		return nil, err
	}
	lineIDs, err := c.repo.LineIDsForTransactions(ctx, c.db, tenantID, txnIDs)
	if err != nil {
		return nil, err
	}
	return formatIDs(lineIDs), nil
}

func (c *ledgerChecks) transactionsForLines(ctx context.Context, ids []string) ([]string, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	lineIDs, err := parseIDs(ids)
	if err != nil {
		return nil, err
	}
	lines, err := c.repo.FindLinesByIDs(ctx, c.db, tenantID, lineIDs)
	if err != nil {
		return nil, err
	}
	seen := map[snowflake.ID]bool{}
	var out []string
	for _, line := range lines {
		if !seen[line.TransactionID] {
			seen[line.TransactionID] = true
			out = append(out, line.TransactionID.String())
		}
	}
	return out, nil
}

func (c *ledgerChecks) periodKeysForTransactions(ctx context.Context, ids []string) ([]string, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	txnIDs, err := parseIDs(ids)
	if err != nil {
		return nil, err
	}
	txns, err := c.repo.FindTransactionsByIDs(ctx, c.db, tenantID, txnIDs)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, txn := range txns {
		key := periodKeyString(domain.PeriodKey{FiscalYear: txn.FiscalYear, PeriodNumber: txn.PeriodNumber})
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	return out, nil
}

func (c *ledgerChecks) transactionsForPeriodKeys(ctx context.Context, ids []string) ([]string, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	keys, err := c.resolvePeriodKeys(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, key := range keys {
		txnIDs, err := c.repo.TransactionIDsForPeriod(ctx, c.db, tenantID, key.FiscalYear, key.PeriodNumber)
		if err != nil {
			return nil, err
		}
		out = append(out, formatIDs(txnIDs)...)
	}
	return out, nil
}

func (c *ledgerChecks) periodKeysForYears(ctx context.Context, ids []string) ([]string, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	years := map[int]bool{}
	for _, id := range ids {
		year, err := strconv.Atoi(id)
		if err != nil {
			return nil, fmt.Errorf("bad year key %q: %w", id, err)
		}
		years[year] = true
	}
	keys, err := c.repo.DistinctPeriods(ctx, c.db, tenantID)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, key := range keys {
		if len(years) == 0 || years[key.FiscalYear] {
			out = append(out, periodKeyString(key))
		}
	}
	return out, nil
}

func (c *ledgerChecks) yearsForPeriodKeys(ctx context.Context, ids []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, id := range ids {
		key, err := parsePeriodKey(id)
		if err != nil {
			return nil, err
		}
		year := strconv.Itoa(key.FiscalYear)
		if !seen[year] {
			seen[year] = true
			out = append(out, year)
		}
	}
	return out, nil
}

func (c *ledgerChecks) resolvePeriodKeys(ctx context.Context, tenantID snowflake.ID, ids []string) ([]domain.PeriodKey, error) {
	if len(ids) == 0 {
		return c.repo.DistinctPeriods(ctx, c.db, tenantID)
	}
	keys := make([]domain.PeriodKey, 0, len(ids))
	for _, id := range ids {
		key, err := parsePeriodKey(id)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (c *ledgerChecks) resolveYears(ctx context.Context, tenantID snowflake.ID, ids []string) ([]int, error) {
	if len(ids) == 0 {
		keys, err := c.repo.DistinctPeriods(ctx, c.db, tenantID)
		if err != nil {
			return nil, err
		}
		seen := map[int]bool{}
		var years []int
		for _, key := range keys {
			if !seen[key.FiscalYear] {
				seen[key.FiscalYear] = true
				years = append(years, key.FiscalYear)
			}
		}
		return years, nil
	}
	years := make([]int, 0, len(ids))
	for _, id := range ids {
		year, err := strconv.Atoi(id)
		if err != nil {
			return nil, fmt.Errorf("bad year key %q: %w", id, err)
		}
		years = append(years, year)
	}
	return years, nil
}

func periodKeyString(key domain.PeriodKey) string {
	return fmt.Sprintf("%d:%02d", key.FiscalYear, key.PeriodNumber)
}

func parsePeriodKey(s string) (domain.PeriodKey, error) {
	var key domain.PeriodKey
	if _, err := fmt.Sscanf(s, "%d:%d", &key.FiscalYear, &key.PeriodNumber); err != nil {
		return key, fmt.Errorf("bad period key %q: %w", s, err)
	}
	return key, nil
}

func parseIDs(ids []string) ([]snowflake.ID, error) {
	out := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		parsed, err := snowflake.ParseString(id)
		if err != nil {
			return nil, fmt.Errorf("bad id %q: %w", id, err)
		}
		out = append(out, parsed)
	}
	return out, nil
}

func formatIDs(ids []snowflake.ID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

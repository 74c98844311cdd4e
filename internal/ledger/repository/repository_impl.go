package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ledgercore/internal/ledger/domain"
	"gorm.io/gorm"
)

type Repository struct{}

func Provide() domain.Repository {
	return &Repository{}
}

func (r *Repository) InsertTransaction(ctx context.Context, db *gorm.DB, txn *domain.Transaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO ledger_transactions (
			id, tenant_id, transaction_date, fiscal_year, period_number, period_id,
			module, origin, status, sequence_number, description, reference,
			reversal_of_id, posted_at, created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, txn.TenantID, txn.TransactionDate, txn.FiscalYear, txn.PeriodNumber, txn.PeriodID,
		txn.Module, txn.Origin, txn.Status, txn.SequenceNumber, txn.Description, txn.Reference,
		txn.ReversalOfID, txn.PostedAt, txn.CreatedAt, txn.UpdatedAt,
	).Error
}

func (r *Repository) InsertLines(ctx context.Context, db *gorm.DB, lines []*domain.TransactionLine) error {
	for _, line := range lines {
		err := db.WithContext(ctx).Exec(
			`INSERT INTO ledger_transaction_lines (
				id, tenant_id, transaction_id, ordinal, account_id, debit, credit, memo, created_at
			 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			line.ID, line.TenantID, line.TransactionID, line.Ordinal,
			line.AccountID, line.Debit, line.Credit, line.Memo, line.CreatedAt,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) FindTransactionByID(ctx context.Context, db *gorm.DB, tenantID, transactionID snowflake.ID) (*domain.Transaction, error) {
	var txn domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM ledger_transactions WHERE tenant_id = ? AND id = ?`,
		tenantID, transactionID,
	).Scan(&txn).Error
	if err != nil {
		return nil, err
	}
	if txn.ID == 0 {
		return nil, nil
	}
	return &txn, nil
}

func (r *Repository) FindLines(ctx context.Context, db *gorm.DB, tenantID, transactionID snowflake.ID) ([]*domain.TransactionLine, error) {
	var lines []*domain.TransactionLine
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM ledger_transaction_lines
		 WHERE tenant_id = ? AND transaction_id = ?
		 ORDER BY ordinal ASC`,
		tenantID, transactionID,
	).Scan(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *Repository) MarkPosted(ctx context.Context, db *gorm.DB, txn *domain.Transaction) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE ledger_transactions
		 SET status = ?, posted_at = ?, updated_at = ?
		 WHERE tenant_id = ? AND id = ? AND status = ?`,
		domain.StatusPosted, txn.PostedAt, time.Now().UTC(),
		txn.TenantID, txn.ID, domain.StatusDraft,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *Repository) DeleteDraft(ctx context.Context, db *gorm.DB, tenantID, transactionID snowflake.ID) error {
	if err := db.WithContext(ctx).Exec(
		`DELETE FROM ledger_transaction_lines WHERE tenant_id = ? AND transaction_id = ?`,
		tenantID, transactionID,
	).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).Exec(
		`DELETE FROM ledger_transactions WHERE tenant_id = ? AND id = ? AND status = ?`,
		tenantID, transactionID, domain.StatusDraft,
	).Error
}

func (r *Repository) ListByPeriod(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, fiscalYear, periodNumber int) ([]*domain.Transaction, error) {
	var txns []*domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM ledger_transactions
		 WHERE tenant_id = ? AND fiscal_year = ? AND period_number = ?
		 ORDER BY sequence_number ASC`,
		tenantID, fiscalYear, periodNumber,
	).Scan(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *Repository) FindAccounts(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, accountIDs []snowflake.ID) (map[snowflake.ID]domain.LineAccount, error) {
	if len(accountIDs) == 0 {
		return map[snowflake.ID]domain.LineAccount{}, nil
	}
	var rows []domain.LineAccount
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, active, manual_entry_allowed
		 FROM accounts
		 WHERE tenant_id = ? AND id IN ?`,
		tenantID, accountIDs,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	accounts := make(map[snowflake.ID]domain.LineAccount, len(rows))
	for _, row := range rows {
		accounts[row.ID] = row
	}
	return accounts, nil
}

func (r *Repository) SumPostedLines(ctx context.Context, db *gorm.DB, tenantID, accountID snowflake.ID, dateRange domain.BalanceRange) ([]domain.LineSum, error) {
	query := `SELECT l.transaction_id, l.account_id, l.debit, l.credit
		 FROM ledger_transaction_lines l
		 JOIN ledger_transactions t ON t.id = l.transaction_id AND t.tenant_id = l.tenant_id
		 WHERE l.tenant_id = ? AND l.account_id = ? AND t.status = ?`
	args := []any{tenantID, accountID, domain.StatusPosted}
	if !dateRange.From.IsZero() {
		query += ` AND t.transaction_date >= ?`
		args = append(args, dateRange.From)
	}
	if !dateRange.To.IsZero() {
		query += ` AND t.transaction_date <= ?`
		args = append(args, dateRange.To)
	}

	var sums []domain.LineSum
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&sums).Error; err != nil {
		return nil, err
	}
	return sums, nil
}

func (r *Repository) SumLinesByTransaction(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, transactionIDs []snowflake.ID) ([]domain.LineSum, error) {
	if len(transactionIDs) == 0 {
		return nil, nil
	}
	var sums []domain.LineSum
	err := db.WithContext(ctx).Raw(
		`SELECT transaction_id, account_id, debit, credit
		 FROM ledger_transaction_lines
		 WHERE tenant_id = ? AND transaction_id IN ?`,
		tenantID, transactionIDs,
	).Scan(&sums).Error
	if err != nil {
		return nil, err
	}
	return sums, nil
}

func (r *Repository) FindPeriodTotal(ctx context.Context, db *gorm.DB, tenantID, accountID snowflake.ID, fiscalYear, periodNumber int) (*domain.PeriodTotal, error) {
	var total domain.PeriodTotal
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM ledger_period_totals
		 WHERE tenant_id = ? AND account_id = ? AND fiscal_year = ? AND period_number = ?`,
		tenantID, accountID, fiscalYear, periodNumber,
	).Scan(&total).Error
	if err != nil {
		return nil, err
	}
	if total.TenantID == 0 {
		return nil, nil
	}
	return &total, nil
}

func (r *Repository) FindYearTotal(ctx context.Context, db *gorm.DB, tenantID, accountID snowflake.ID, fiscalYear int) (*domain.YearTotal, error) {
	var total domain.YearTotal
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM ledger_year_totals
		 WHERE tenant_id = ? AND account_id = ? AND fiscal_year = ?`,
		tenantID, accountID, fiscalYear,
	).Scan(&total).Error
	if err != nil {
		return nil, err
	}
	if total.TenantID == 0 {
		return nil, nil
	}
	return &total, nil
}

func (r *Repository) SavePeriodTotal(ctx context.Context, db *gorm.DB, total *domain.PeriodTotal) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE ledger_period_totals
		 SET debit_total = ?, credit_total = ?, updated_at = ?
		 WHERE tenant_id = ? AND account_id = ? AND fiscal_year = ? AND period_number = ?`,
		total.DebitTotal, total.CreditTotal, total.UpdatedAt,
		total.TenantID, total.AccountID, total.FiscalYear, total.PeriodNumber,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO ledger_period_totals (
			tenant_id, account_id, fiscal_year, period_number, debit_total, credit_total, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		total.TenantID, total.AccountID, total.FiscalYear, total.PeriodNumber,
		total.DebitTotal, total.CreditTotal, total.UpdatedAt,
	).Error
}

func (r *Repository) SaveYearTotal(ctx context.Context, db *gorm.DB, total *domain.YearTotal) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE ledger_year_totals
		 SET debit_total = ?, credit_total = ?, updated_at = ?
		 WHERE tenant_id = ? AND account_id = ? AND fiscal_year = ?`,
		total.DebitTotal, total.CreditTotal, total.UpdatedAt,
		total.TenantID, total.AccountID, total.FiscalYear,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO ledger_year_totals (
			tenant_id, account_id, fiscal_year, debit_total, credit_total, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?)`,
		total.TenantID, total.AccountID, total.FiscalYear,
		total.DebitTotal, total.CreditTotal, total.UpdatedAt,
	).Error
}

func (r *Repository) FindPeriodTotals(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, fiscalYear, periodNumber int) ([]*domain.PeriodTotal, error) {
	var totals []*domain.PeriodTotal
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM ledger_period_totals
		 WHERE tenant_id = ? AND fiscal_year = ? AND period_number = ?`,
		tenantID, fiscalYear, periodNumber,
	).Scan(&totals).Error
	if err != nil {
		return nil, err
	}
	return totals, nil
}

func (r *Repository) FindYearTotals(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, fiscalYear int) ([]*domain.YearTotal, error) {
	var totals []*domain.YearTotal
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM ledger_year_totals WHERE tenant_id = ? AND fiscal_year = ?`,
		tenantID, fiscalYear,
	).Scan(&totals).Error
	if err != nil {
		return nil, err
	}
	return totals, nil
}

func (r *Repository) SumPostedForPeriod(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, fiscalYear, periodNumber int) ([]domain.LineSum, error) {
	var sums []domain.LineSum
	err := db.WithContext(ctx).Raw(
		`SELECT l.transaction_id, l.account_id, l.debit, l.credit
		 FROM ledger_transaction_lines l
		 JOIN ledger_transactions t ON t.id = l.transaction_id AND t.tenant_id = l.tenant_id
		 WHERE l.tenant_id = ? AND t.fiscal_year = ? AND t.period_number = ? AND t.status = ?`,
		tenantID, fiscalYear, periodNumber, domain.StatusPosted,
	).Scan(&sums).Error
	if err != nil {
		return nil, err
	}
	return sums, nil
}

func (r *Repository) SumPostedForYear(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, fiscalYear int) ([]domain.LineSum, error) {
	var sums []domain.LineSum
	err := db.WithContext(ctx).Raw(
		`SELECT l.transaction_id, l.account_id, l.debit, l.credit
		 FROM ledger_transaction_lines l
		 JOIN ledger_transactions t ON t.id = l.transaction_id AND t.tenant_id = l.tenant_id
		 WHERE l.tenant_id = ? AND t.fiscal_year = ? AND t.status = ?`,
		tenantID, fiscalYear, domain.StatusPosted,
	).Scan(&sums).Error
	if err != nil {
		return nil, err
	}
	return sums, nil
}

func (r *Repository) FindLinesByIDs(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, lineIDs []snowflake.ID) ([]*domain.TransactionLine, error) {
	query := `SELECT * FROM ledger_transaction_lines WHERE tenant_id = ?`
	args := []any{tenantID}
	if len(lineIDs) > 0 {
		query += ` AND id IN ?`
		args = append(args, lineIDs)
	}
	var lines []*domain.TransactionLine
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&lines).Error; err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *Repository) FindTransactionsByIDs(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, transactionIDs []snowflake.ID) ([]*domain.Transaction, error) {
	query := `SELECT * FROM ledger_transactions WHERE tenant_id = ?`
	args := []any{tenantID}
	if len(transactionIDs) > 0 {
		query += ` AND id IN ?`
		args = append(args, transactionIDs)
	}
	var txns []*domain.Transaction
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *Repository) LineIDsForTransactions(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, transactionIDs []snowflake.ID) ([]snowflake.ID, error) {
	query := `SELECT id FROM ledger_transaction_lines WHERE tenant_id = ?`
	args := []any{tenantID}
	if len(transactionIDs) > 0 {
		query += ` AND transaction_id IN ?`
		args = append(args, transactionIDs)
	}
	var ids []snowflake.ID
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *Repository) TransactionIDsForPeriod(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, fiscalYear, periodNumber int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT id FROM ledger_transactions
		 WHERE tenant_id = ? AND fiscal_year = ? AND period_number = ?`,
		tenantID, fiscalYear, periodNumber,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *Repository) DistinctPeriods(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]domain.PeriodKey, error) {
	var keys []domain.PeriodKey
	err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT fiscal_year, period_number
		 FROM ledger_transactions
		 WHERE tenant_id = ? AND status = ?
		 ORDER BY fiscal_year, period_number`,
		tenantID, domain.StatusPosted,
	).Scan(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

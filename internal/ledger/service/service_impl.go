package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/ledgercore/internal/audit/domain"
	"github.com/smallbiznis/ledgercore/internal/clock"
	"github.com/smallbiznis/ledgercore/internal/events"
	fiscaldomain "github.com/smallbiznis/ledgercore/internal/fiscal/domain"
	"github.com/smallbiznis/ledgercore/internal/integrity"
	"github.com/smallbiznis/ledgercore/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/ledgercore/internal/observability/metrics"
	"github.com/smallbiznis/ledgercore/internal/sequence"
	"github.com/smallbiznis/ledgercore/internal/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const sequenceKey = "ledger_txn"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Calendar   fiscaldomain.Calendar
	Alloc      sequence.Allocator
	Graph      *integrity.Graph    `optional:"true"`
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
	Outbox     *events.Outbox      `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	calendar   fiscaldomain.Calendar
	alloc      sequence.Allocator
	graph      *integrity.Graph
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
	outbox     *events.Outbox
}

func NewService(p Params) domain.Engine {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		calendar:   p.Calendar,
		alloc:      p.Alloc,
		graph:      p.Graph,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
		outbox:     p.Outbox,
	}
}

func periodScope(fiscalYear, periodNumber int) string {
	return fmt.Sprintf("%d:%02d", fiscalYear, periodNumber)
}

func (s *Service) CreateTransaction(ctx context.Context, req domain.CreateTransactionRequest) (*domain.Transaction, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	origin := req.Origin
	if origin == "" {
		origin = domain.OriginManual
	}
	if !origin.Valid() {
		return nil, domain.ErrInvalidOrigin
	}
	module := req.Module
	if module == "" {
		module = fiscaldomain.ModuleGL
	}

	// The whole validate-then-write is one pass: balance shape, accounts
	// and the fiscal gate are all checked before any row is written.
	if err := domain.ValidateBalanced(req.Lines); err != nil {
		return nil, err
	}
	if err := s.checkAccounts(ctx, tenantID, origin, req.Lines); err != nil {
		return nil, err
	}
	period, err := s.calendar.ValidateTransactionDate(ctx, req.TransactionDate, module)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	txn := &domain.Transaction{
		ID:              s.genID.Generate(),
		TenantID:        tenantID,
		TransactionDate: fiscaldomain.DateOnly(req.TransactionDate),
		FiscalYear:      period.FiscalYear,
		PeriodNumber:    period.PeriodNumber,
		PeriodID:        period.ID,
		Module:          module,
		Origin:          origin,
		Status:          domain.StatusDraft,
		Description:     strings.TrimSpace(req.Description),
		Reference:       strings.TrimSpace(req.Reference),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, err := s.alloc.Next(ctx, tx, tenantID, sequenceKey, periodScope(period.FiscalYear, period.PeriodNumber))
		if err != nil {
			return err
		}
		txn.SequenceNumber = seq
		if err := s.repo.InsertTransaction(ctx, tx, txn); err != nil {
			return err
		}
		return s.repo.InsertLines(ctx, tx, s.buildLines(txn, req.Lines, now))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("ledger transaction created",
		zap.Int64("tenant_id", tenantID.Int64()),
		zap.String("transaction_id", txn.ID.String()),
		zap.Int("fiscal_year", txn.FiscalYear),
		zap.Int("period_number", txn.PeriodNumber),
		zap.Int64("sequence_number", txn.SequenceNumber),
	)
	return txn, nil
}

func (s *Service) Post(ctx context.Context, transactionID snowflake.ID) (*domain.Transaction, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}

	var txn *domain.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		txn, err = s.repo.FindTransactionByID(ctx, tx, tenantID, transactionID)
		if err != nil {
			return err
		}
		if txn == nil {
			return domain.ErrTransactionNotFound
		}
		if txn.Posted() {
			return domain.ErrAlreadyPosted
		}

		lines, err := s.repo.FindLines(ctx, tx, tenantID, transactionID)
		if err != nil {
			return err
		}
		// Balance and the fiscal gate are re-validated at posting time,
		// not only at creation.
		if err := domain.ValidateBalanced(lineInputs(lines)); err != nil {
			return err
		}
		if _, err := s.calendar.ValidateTransactionDate(ctx, txn.TransactionDate, txn.Module); err != nil {
			return err
		}

		postedAt := time.Now().UTC()
		txn.Status = domain.StatusPosted
		txn.PostedAt = &postedAt
		updated, err := s.repo.MarkPosted(ctx, tx, txn)
		if err != nil {
			return err
		}
		if updated == 0 {
			// A concurrent post won the guarded update; applying totals
			// again would double-count the lines.
			return domain.ErrAlreadyPosted
		}
		if err := s.applyTotals(ctx, tx, txn, lines); err != nil {
			return err
		}
		if s.outbox != nil {
			return s.outbox.PublishTx(ctx, tx, events.Event{
				TenantID:  tenantID,
				Type:      events.EventTransactionPosted,
				DedupeKey: "txn_posted:" + txn.ID.String(),
				Payload: map[string]any{
					"transaction_id":  txn.ID.String(),
					"fiscal_year":     txn.FiscalYear,
					"period_number":   txn.PeriodNumber,
					"sequence_number": txn.SequenceNumber,
				},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterPost(ctx, txn, false)
	return txn, nil
}

func (s *Service) Reverse(ctx context.Context, transactionID snowflake.ID, reason string) (*domain.Transaction, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}

	original, err := s.repo.FindTransactionByID(ctx, s.db, tenantID, transactionID)
	if err != nil {
		return nil, err
	}
	if original == nil {
		return nil, domain.ErrTransactionNotFound
	}
	if !original.Posted() {
		return nil, domain.ErrNotPosted
	}
	originalLines, err := s.repo.FindLines(ctx, s.db, tenantID, transactionID)
	if err != nil {
		return nil, err
	}

	// The reversal is dated now, in the same module bucket, with every
	// line's sides swapped. The original is never touched.
	reversalDate := fiscaldomain.DateOnly(s.clock.Now().UTC())
	period, err := s.calendar.ValidateTransactionDate(ctx, reversalDate, original.Module)
	if err != nil {
		return nil, err
	}

	swapped := make([]domain.LineInput, 0, len(originalLines))
	for _, line := range lineInputs(originalLines) {
		swapped = append(swapped, line.SwapSides())
	}

	description := "Reversal of " + original.ID.String()
	if reason = strings.TrimSpace(reason); reason != "" {
		description += ": " + reason
	}

	now := time.Now().UTC()
	originalID := original.ID
	reversal := &domain.Transaction{
		ID:              s.genID.Generate(),
		TenantID:        tenantID,
		TransactionDate: reversalDate,
		FiscalYear:      period.FiscalYear,
		PeriodNumber:    period.PeriodNumber,
		PeriodID:        period.ID,
		Module:          original.Module,
		Origin:          domain.OriginSystem,
		Status:          domain.StatusPosted,
		Description:     description,
		Reference:       original.Reference,
		ReversalOfID:    &originalID,
		PostedAt:        &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, err := s.alloc.Next(ctx, tx, tenantID, sequenceKey, periodScope(period.FiscalYear, period.PeriodNumber))
		if err != nil {
			return err
		}
		reversal.SequenceNumber = seq
		if err := s.repo.InsertTransaction(ctx, tx, reversal); err != nil {
			return err
		}
		lines := s.buildLines(reversal, swapped, now)
		if err := s.repo.InsertLines(ctx, tx, lines); err != nil {
			return err
		}
		if err := s.applyTotals(ctx, tx, reversal, lines); err != nil {
			return err
		}
		if s.outbox != nil {
			return s.outbox.PublishTx(ctx, tx, events.Event{
				TenantID:  tenantID,
				Type:      events.EventTransactionReversed,
				DedupeKey: "txn_reversed:" + originalID.String(),
				Payload: map[string]any{
					"transaction_id": reversal.ID.String(),
					"reversal_of_id": originalID.String(),
					"reason":         reason,
				},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterPost(ctx, reversal, true)
	return reversal, nil
}

func (s *Service) Get(ctx context.Context, transactionID snowflake.ID) (*domain.Transaction, []*domain.TransactionLine, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return nil, nil, domain.ErrInvalidTenant
	}
	txn, err := s.repo.FindTransactionByID(ctx, s.db, tenantID, transactionID)
	if err != nil {
		return nil, nil, err
	}
	if txn == nil {
		return nil, nil, domain.ErrTransactionNotFound
	}
	lines, err := s.repo.FindLines(ctx, s.db, tenantID, transactionID)
	if err != nil {
		return nil, nil, err
	}
	return txn, lines, nil
}

func (s *Service) ListByPeriod(ctx context.Context, fiscalYear, periodNumber int) ([]*domain.Transaction, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	return s.repo.ListByPeriod(ctx, s.db, tenantID, fiscalYear, periodNumber)
}

func (s *Service) AccountBalance(ctx context.Context, accountID snowflake.ID, dateRange domain.BalanceRange) (decimal.Decimal, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return decimal.Zero, domain.ErrInvalidTenant
	}
	if !dateRange.From.IsZero() && !dateRange.To.IsZero() && dateRange.To.Before(dateRange.From) {
		return decimal.Zero, domain.ErrInvalidRange
	}

	sums, err := s.repo.SumPostedLines(ctx, s.db, tenantID, accountID, dateRange)
	if err != nil {
		return decimal.Zero, err
	}
	balance := decimal.Zero
	for _, sum := range sums {
		balance = balance.Add(sum.Debit).Sub(sum.Credit)
	}
	return balance, nil
}

func (s *Service) DeleteDraft(ctx context.Context, transactionID snowflake.ID) error {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return domain.ErrInvalidTenant
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txn, err := s.repo.FindTransactionByID(ctx, tx, tenantID, transactionID)
		if err != nil {
			return err
		}
		if txn == nil {
			return domain.ErrTransactionNotFound
		}
		if txn.Posted() {
			return domain.ErrTransactionImmutable
		}
		return s.repo.DeleteDraft(ctx, tx, tenantID, transactionID)
	})
}

// checkAccounts resolves every line account and rejects inactive accounts,
// and system-only accounts for manual entries.
func (s *Service) checkAccounts(ctx context.Context, tenantID snowflake.ID, origin domain.Origin, lines []domain.LineInput) error {
	ids := make([]snowflake.ID, 0, len(lines))
	seen := make(map[snowflake.ID]bool, len(lines))
	for _, line := range lines {
		if !seen[line.AccountID] {
			seen[line.AccountID] = true
			ids = append(ids, line.AccountID)
		}
	}
	accounts, err := s.repo.FindAccounts(ctx, s.db, tenantID, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		account, ok := accounts[id]
		if !ok {
			return domain.ErrAccountNotFound
		}
		if !account.Active {
			return domain.ErrAccountInactive
		}
		if origin == domain.OriginManual && !account.ManualEntryAllowed {
			return domain.ErrManualEntryDisallowed
		}
	}
	return nil
}

func (s *Service) buildLines(txn *domain.Transaction, inputs []domain.LineInput, now time.Time) []*domain.TransactionLine {
	lines := make([]*domain.TransactionLine, 0, len(inputs))
	for i, input := range inputs {
		lines = append(lines, &domain.TransactionLine{
			ID:            s.genID.Generate(),
			TenantID:      txn.TenantID,
			TransactionID: txn.ID,
			Ordinal:       i + 1,
			AccountID:     input.AccountID,
			Debit:         input.Debit,
			Credit:        input.Credit,
			Memo:          input.Memo,
			CreatedAt:     now,
		})
	}
	return lines
}

// applyTotals folds the posted lines into the period and year aggregates
// inside the same unit of work as the posting itself.
func (s *Service) applyTotals(ctx context.Context, tx *gorm.DB, txn *domain.Transaction, lines []*domain.TransactionLine) error {
	type delta struct{ debit, credit decimal.Decimal }
	deltas := map[snowflake.ID]*delta{}
	var order []snowflake.ID
	for _, line := range lines {
		d, ok := deltas[line.AccountID]
		if !ok {
			d = &delta{debit: decimal.Zero, credit: decimal.Zero}
			deltas[line.AccountID] = d
			order = append(order, line.AccountID)
		}
		d.debit = d.debit.Add(line.Debit)
		d.credit = d.credit.Add(line.Credit)
	}

	now := time.Now().UTC()
	for _, accountID := range order {
		d := deltas[accountID]

		periodTotal, err := s.repo.FindPeriodTotal(ctx, tx, txn.TenantID, accountID, txn.FiscalYear, txn.PeriodNumber)
		if err != nil {
			return err
		}
		if periodTotal == nil {
			periodTotal = &domain.PeriodTotal{
				TenantID:     txn.TenantID,
				AccountID:    accountID,
				FiscalYear:   txn.FiscalYear,
				PeriodNumber: txn.PeriodNumber,
				DebitTotal:   decimal.Zero,
				CreditTotal:  decimal.Zero,
			}
		}
		periodTotal.DebitTotal = periodTotal.DebitTotal.Add(d.debit)
		periodTotal.CreditTotal = periodTotal.CreditTotal.Add(d.credit)
		periodTotal.UpdatedAt = now
		if err := s.repo.SavePeriodTotal(ctx, tx, periodTotal); err != nil {
			return err
		}

		yearTotal, err := s.repo.FindYearTotal(ctx, tx, txn.TenantID, accountID, txn.FiscalYear)
		if err != nil {
			return err
		}
		if yearTotal == nil {
			yearTotal = &domain.YearTotal{
				TenantID:    txn.TenantID,
				AccountID:   accountID,
				FiscalYear:  txn.FiscalYear,
				DebitTotal:  decimal.Zero,
				CreditTotal: decimal.Zero,
			}
		}
		yearTotal.DebitTotal = yearTotal.DebitTotal.Add(d.debit)
		yearTotal.CreditTotal = yearTotal.CreditTotal.Add(d.credit)
		yearTotal.UpdatedAt = now
		if err := s.repo.SaveYearTotal(ctx, tx, yearTotal); err != nil {
			return err
		}
	}
	return nil
}

// afterPost handles the non-transactional tail of a posting: structured
// log, metrics, audit trail and the consistency recheck of the aggregate
// chain above the transaction.
func (s *Service) afterPost(ctx context.Context, txn *domain.Transaction, reversed bool) {
	s.log.Info("ledger transaction posted",
		zap.Int64("tenant_id", txn.TenantID.Int64()),
		zap.String("transaction_id", txn.ID.String()),
		zap.String("module", string(txn.Module)),
		zap.Bool("reversal", reversed),
	)
	if s.obsMetrics != nil {
		if reversed {
			s.obsMetrics.RecordTransactionReversed(ctx, string(txn.Module))
		} else {
			s.obsMetrics.RecordTransactionPosted(ctx, string(txn.Module))
		}
	}
	if s.auditSvc != nil {
		action := "ledger.transaction_posted"
		if reversed {
			action = "ledger.transaction_reversed"
		}
		id := txn.ID.String()
		_ = s.auditSvc.AuditLog(ctx, &txn.TenantID, action, "ledger_transaction", &id, map[string]any{
			"fiscal_year":     txn.FiscalYear,
			"period_number":   txn.PeriodNumber,
			"sequence_number": txn.SequenceNumber,
		})
	}
	if s.graph != nil {
		if err := s.graph.CheckModelThenParents(ctx, NodeTransaction, []string{txn.ID.String()}); err != nil {
			s.log.Error("ledger aggregate recheck failed",
				zap.String("transaction_id", txn.ID.String()),
				zap.Error(err),
			)
		}
		if s.obsMetrics != nil {
			s.obsMetrics.RecordIntegrityRecompute(ctx, NodeTransaction)
		}
	}
}

func lineInputs(lines []*domain.TransactionLine) []domain.LineInput {
	inputs := make([]domain.LineInput, 0, len(lines))
	for _, line := range lines {
		inputs = append(inputs, domain.LineInput{
			AccountID: line.AccountID,
			Debit:     line.Debit,
			Credit:    line.Credit,
			Memo:      line.Memo,
		})
	}
	return inputs
}

var _ domain.Engine = (*Service)(nil)

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/ledgercore/internal/audit/domain"
	"github.com/smallbiznis/ledgercore/internal/clock"
	"github.com/smallbiznis/ledgercore/internal/events"
	"github.com/smallbiznis/ledgercore/internal/fiscal/domain"
	obsmetrics "github.com/smallbiznis/ledgercore/internal/observability/metrics"
	"github.com/smallbiznis/ledgercore/internal/tenantctx"
	"github.com/smallbiznis/ledgercore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
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
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
	outbox     *events.Outbox
}

func NewService(p Params) domain.Calendar {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("fiscal.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
		outbox:     p.Outbox,
	}
}

func (s *Service) SetAnchor(ctx context.Context, anchor time.Time) (*domain.FiscalYearSetup, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	anchorDate := domain.DateOnly(anchor)
	now := time.Now().UTC()

	setup := &domain.FiscalYearSetup{
		ID:         s.genID.Generate(),
		TenantID:   tenantID,
		AnchorDate: anchorDate,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var purged int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.DeactivateSetups(ctx, tx, tenantID); err != nil {
			return err
		}
		if err := s.repo.InsertSetup(ctx, tx, setup); err != nil {
			return err
		}
		var err error
		purged, err = s.repo.DeletePeriodsEndingBefore(ctx, tx, tenantID, anchorDate)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("fiscal anchor replaced",
		zap.Int64("tenant_id", tenantID.Int64()),
		zap.Time("anchor_date", anchorDate),
		zap.Int64("periods_purged", purged),
	)
	if s.auditSvc != nil {
		setupID := setup.ID.String()
		_ = s.auditSvc.AuditLog(ctx, &tenantID, "fiscal.anchor_set", "fiscal_year_setup", &setupID, map[string]any{
			"anchor_date":    anchorDate.Format(time.DateOnly),
			"periods_purged": purged,
		})
	}
	return setup, nil
}

func (s *Service) ActiveSetup(ctx context.Context) (*domain.FiscalYearSetup, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	return s.activeSetup(ctx, s.db, tenantID)
}

func (s *Service) activeSetup(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) (*domain.FiscalYearSetup, error) {
	setup, err := s.repo.FindActiveSetup(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}
	if setup == nil {
		return nil, domain.ErrNoFiscalSetup
	}
	return setup, nil
}

func (s *Service) FiscalYearForDate(ctx context.Context, date time.Time) (int, error) {
	setup, err := s.ActiveSetup(ctx)
	if err != nil {
		return 0, err
	}
	return domain.FiscalYearFor(setup.AnchorDate, date), nil
}

func (s *Service) PeriodForDate(ctx context.Context, date time.Time) (*domain.FiscalPeriod, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	return s.periodForDate(ctx, s.db, tenantID, date)
}

func (s *Service) periodForDate(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, date time.Time) (*domain.FiscalPeriod, error) {
	d := domain.DateOnly(date)
	period, err := s.repo.FindPeriodByDate(ctx, tx, tenantID, d)
	if err != nil {
		return nil, err
	}
	if period != nil {
		return period, nil
	}

	// Only the current calendar month self-heals; historical and future
	// months stay missing until generated explicitly.
	if !domain.SameCalendarMonth(d, s.clock.Now().UTC()) {
		return nil, domain.ErrNoPeriodForDate
	}

	setup, err := s.activeSetup(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}
	start, end, number, fiscalYear := domain.PeriodWindow(setup.AnchorDate, d)
	now := time.Now().UTC()
	created := &domain.FiscalPeriod{
		ID:              s.genID.Generate(),
		TenantID:        tenantID,
		FiscalYear:      fiscalYear,
		PeriodNumber:    number,
		StartDate:       start,
		EndDate:         end,
		GLOpen:          true,
		BankOpen:        true,
		ReceivablesOpen: true,
		PayablesOpen:    true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.InsertPeriod(ctx, tx, created); err != nil {
		// A concurrent caller may have created the same window.
		if db.IsDuplicateKeyErr(err) {
			return s.repo.FindPeriodByDate(ctx, tx, tenantID, d)
		}
		return nil, err
	}
	s.log.Info("fiscal period created on demand",
		zap.Int64("tenant_id", tenantID.Int64()),
		zap.Int("fiscal_year", fiscalYear),
		zap.Int("period_number", number),
	)
	return created, nil
}

func (s *Service) GeneratePeriods(ctx context.Context, fiscalYear int, regenerate bool) ([]*domain.FiscalPeriod, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}

	var periods []*domain.FiscalPeriod
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		setup, err := s.activeSetup(ctx, tx, tenantID)
		if err != nil {
			return err
		}

		existing, err := s.repo.CountGeneratedForYear(ctx, tx, tenantID, fiscalYear)
		if err != nil {
			return err
		}
		if existing > 0 {
			if !regenerate {
				return domain.ErrPeriodsExist
			}
			closed, err := s.repo.AnyClosedForYear(ctx, tx, tenantID, fiscalYear)
			if err != nil {
				return err
			}
			if closed {
				return domain.ErrRegenerateClosed
			}
			if err := s.repo.DeleteGeneratedForYear(ctx, tx, tenantID, fiscalYear); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		windows := domain.GenerateWindows(setup.AnchorDate, fiscalYear)
		periods = make([]*domain.FiscalPeriod, 0, len(windows))
		for i, window := range windows {
			period := &domain.FiscalPeriod{
				ID:              s.genID.Generate(),
				TenantID:        tenantID,
				FiscalYear:      fiscalYear,
				PeriodNumber:    i + 1,
				StartDate:       window[0],
				EndDate:         window[1],
				GLOpen:          true,
				BankOpen:        true,
				ReceivablesOpen: true,
				PayablesOpen:    true,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := s.repo.InsertPeriod(ctx, tx, period); err != nil {
				return err
			}
			periods = append(periods, period)
		}

		if s.outbox != nil {
			return s.outbox.PublishTx(ctx, tx, events.Event{
				TenantID:  tenantID,
				Type:      events.EventPeriodsGenerated,
				DedupeKey: fmt.Sprintf("periods_generated:%d:%d:%d", tenantID, fiscalYear, now.UnixNano()),
				Payload: map[string]any{
					"fiscal_year": fiscalYear,
					"regenerate":  regenerate,
				},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("fiscal periods generated",
		zap.Int64("tenant_id", tenantID.Int64()),
		zap.Int("fiscal_year", fiscalYear),
		zap.Bool("regenerate", regenerate),
	)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordPeriodsGenerated(ctx, int64(len(periods)))
	}
	if s.auditSvc != nil {
		yearID := fmt.Sprintf("%d", fiscalYear)
		_ = s.auditSvc.AuditLog(ctx, &tenantID, "fiscal.periods_generated", "fiscal_year", &yearID, map[string]any{
			"fiscal_year": fiscalYear,
			"regenerate":  regenerate,
			"count":       len(periods),
		})
	}
	return periods, nil
}

func (s *Service) CreateCustomPeriod(ctx context.Context, start, end time.Time) (*domain.FiscalPeriod, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	startDate := domain.DateOnly(start)
	endDate := domain.DateOnly(end)
	if endDate.Before(startDate) {
		return nil, domain.ErrInvalidDateRange
	}

	var period *domain.FiscalPeriod
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		setup, err := s.activeSetup(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		overlap, err := s.repo.FindOverlapping(ctx, tx, tenantID, startDate, endDate)
		if err != nil {
			return err
		}
		if overlap != nil {
			return domain.ErrPeriodOverlap
		}

		now := time.Now().UTC()
		period = &domain.FiscalPeriod{
			ID:              s.genID.Generate(),
			TenantID:        tenantID,
			FiscalYear:      domain.FiscalYearFor(setup.AnchorDate, startDate),
			PeriodNumber:    0,
			StartDate:       startDate,
			EndDate:         endDate,
			GLOpen:          true,
			BankOpen:        true,
			ReceivablesOpen: true,
			PayablesOpen:    true,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		return s.repo.InsertPeriod(ctx, tx, period)
	})
	if err != nil {
		return nil, err
	}
	return period, nil
}

func (s *Service) ListPeriods(ctx context.Context, fiscalYear int) ([]*domain.FiscalPeriod, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	return s.repo.ListPeriods(ctx, s.db, tenantID, fiscalYear)
}

func (s *Service) ValidateTransactionDate(ctx context.Context, date time.Time, module domain.Module) (*domain.FiscalPeriod, error) {
	if !module.Valid() {
		return nil, domain.ErrInvalidModule
	}
	period, err := s.PeriodForDate(ctx, date)
	if err != nil {
		return nil, err
	}
	if !period.IsOpen(module) {
		return nil, domain.ErrPeriodClosed
	}
	return period, nil
}

func (s *Service) ClosePeriod(ctx context.Context, periodID snowflake.ID, modules []domain.Module) (*domain.FiscalPeriod, error) {
	return s.setGates(ctx, periodID, modules, false)
}

func (s *Service) OpenPeriod(ctx context.Context, periodID snowflake.ID, modules []domain.Module) (*domain.FiscalPeriod, error) {
	return s.setGates(ctx, periodID, modules, true)
}

func (s *Service) setGates(ctx context.Context, periodID snowflake.ID, modules []domain.Module, open bool) (*domain.FiscalPeriod, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	if len(modules) == 0 {
		modules = domain.AllModules()
	}
	for _, module := range modules {
		if !module.Valid() {
			return nil, domain.ErrInvalidModule
		}
	}

	var period *domain.FiscalPeriod
	var changed []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		period, err = s.repo.FindPeriodByID(ctx, tx, tenantID, periodID)
		if err != nil {
			return err
		}
		if period == nil {
			return domain.ErrPeriodNotFound
		}

		for _, module := range modules {
			if period.SetOpen(module, open) {
				changed = append(changed, string(module))
			}
		}
		if len(changed) == 0 {
			return nil
		}
		if err := s.repo.UpdatePeriodFlags(ctx, tx, period); err != nil {
			return err
		}
		if s.outbox != nil {
			return s.outbox.PublishTx(ctx, tx, events.Event{
				TenantID: tenantID,
				Type:     events.EventPeriodFlagsChanged,
				Payload: map[string]any{
					"period_id":   period.ID.String(),
					"fiscal_year": period.FiscalYear,
					"modules":     changed,
					"open":        open,
				},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(changed) > 0 {
		action := "fiscal.period_closed"
		if open {
			action = "fiscal.period_opened"
		}
		s.log.Info("fiscal period gates changed",
			zap.Int64("tenant_id", tenantID.Int64()),
			zap.String("period_id", period.ID.String()),
			zap.Strings("modules", changed),
			zap.Bool("open", open),
		)
		if s.auditSvc != nil {
			id := period.ID.String()
			_ = s.auditSvc.AuditLog(ctx, &tenantID, action, "fiscal_period", &id, map[string]any{
				"fiscal_year":   period.FiscalYear,
				"period_number": period.PeriodNumber,
				"modules":       changed,
			})
		}
	}
	return period, nil
}

var _ domain.Calendar = (*Service)(nil)

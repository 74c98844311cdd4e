package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ledgercore/internal/segment/domain"
	"github.com/smallbiznis/ledgercore/internal/tenantctx"
	"github.com/smallbiznis/ledgercore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      domain.Repository
	Resolvers *domain.ResolverRegistry
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	repo      domain.Repository
	resolvers *domain.ResolverRegistry
}

func NewService(p Params) *Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("segment.service"),
		genID:     p.GenID,
		repo:      p.Repo,
		resolvers: p.Resolvers,
	}
}

func ProvideRegistry(s *Service) domain.Registry { return s }

func ProvideCatalog(s *Service) domain.Catalog { return s }

func (s *Service) CreateDefinition(ctx context.Context, req domain.CreateDefinitionRequest) (domain.SegmentDefinition, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return domain.SegmentDefinition{}, domain.ErrInvalidTenant
	}
	if req.Length < 1 {
		return domain.SegmentDefinition{}, domain.ErrInvalidLength
	}
	if req.Handler != domain.HandlerNone {
		if _, known := s.resolvers.Lookup(req.Handler); !known {
			return domain.SegmentDefinition{}, domain.ErrUnknownHandler
		}
	}

	var def domain.SegmentDefinition
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.ListDefinitions(ctx, tx, tenantID, false)
		if err != nil {
			return fmt.Errorf("list definitions: %w", err)
		}
		// Positions grow one at a time; the newest position is terminal.
		if req.Position != len(existing)+1 {
			return domain.ErrPositionNotContiguous
		}

		now := time.Now().UTC()
		def = domain.SegmentDefinition{
			ID:          s.genID.Generate(),
			TenantID:    tenantID,
			Position:    req.Position,
			Length:      req.Length,
			Description: strings.TrimSpace(req.Description),
			Handler:     req.Handler,
			HandlerArg:  strings.TrimSpace(req.HandlerArg),
			Active:      true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repo.InsertDefinition(ctx, tx, &def); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrPositionNotContiguous
			}
			return fmt.Errorf("insert definition: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.SegmentDefinition{}, err
	}

	s.log.Info("segment definition created",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("position", def.Position),
		zap.Int("length", def.Length),
	)
	return def, nil
}

func (s *Service) UpdateDefinition(ctx context.Context, req domain.UpdateDefinitionRequest) (domain.SegmentDefinition, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return domain.SegmentDefinition{}, domain.ErrInvalidTenant
	}

	var updated domain.SegmentDefinition
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		def, err := s.repo.FindDefinitionByID(ctx, tx, tenantID, req.ID)
		if err != nil {
			return fmt.Errorf("find definition: %w", err)
		}
		if def == nil {
			return domain.ErrDefinitionNotFound
		}

		if req.Length != nil && *req.Length != def.Length {
			if *req.Length < 1 {
				return domain.ErrInvalidLength
			}
			referenced, err := s.repo.CountValuesForSegment(ctx, tx, tenantID, def.ID)
			if err != nil {
				return fmt.Errorf("count values: %w", err)
			}
			if referenced > 0 {
				return domain.ErrLengthImmutable
			}
			def.Length = *req.Length
		}
		if req.Description != nil {
			def.Description = strings.TrimSpace(*req.Description)
		}
		if req.Handler != nil {
			if *req.Handler != domain.HandlerNone {
				if _, known := s.resolvers.Lookup(*req.Handler); !known {
					return domain.ErrUnknownHandler
				}
			}
			def.Handler = *req.Handler
		}
		if req.HandlerArg != nil {
			def.HandlerArg = strings.TrimSpace(*req.HandlerArg)
		}
		if req.Active != nil {
			def.Active = *req.Active
		}
		def.UpdatedAt = time.Now().UTC()

		if err := s.repo.UpdateDefinition(ctx, tx, def); err != nil {
			return fmt.Errorf("update definition: %w", err)
		}
		updated = *def
		return nil
	})
	if err != nil {
		return domain.SegmentDefinition{}, err
	}
	return updated, nil
}

func (s *Service) ListDefinitions(ctx context.Context) ([]domain.SegmentDefinition, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	return s.repo.ListDefinitions(ctx, s.db, tenantID, false)
}

func (s *Service) ActiveDefinitions(ctx context.Context) ([]domain.SegmentDefinition, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	return s.repo.ListDefinitions(ctx, s.db, tenantID, true)
}

func (s *Service) TerminalDefinition(ctx context.Context) (domain.SegmentDefinition, error) {
	defs, err := s.ActiveDefinitions(ctx)
	if err != nil {
		return domain.SegmentDefinition{}, err
	}
	if len(defs) == 0 {
		return domain.SegmentDefinition{}, domain.ErrDefinitionNotFound
	}
	return defs[len(defs)-1], nil
}

func (s *Service) EnsureValue(ctx context.Context, req domain.EnsureValueRequest) (domain.SegmentValue, error) {
	var value domain.SegmentValue
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := s.EnsureValueTx(ctx, tx, req)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if err != nil {
		return domain.SegmentValue{}, err
	}
	return value, nil
}

// EnsureValueTx resolves (segment, code) to a catalog row, creating it on
// first use. A concurrent insert of the same pair is tolerated by re-reading
// the winner's row.
func (s *Service) EnsureValueTx(ctx context.Context, tx *gorm.DB, req domain.EnsureValueRequest) (domain.SegmentValue, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return domain.SegmentValue{}, domain.ErrInvalidTenant
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		return domain.SegmentValue{}, domain.ErrInvalidCode
	}

	def, err := s.repo.FindDefinitionByID(ctx, tx, tenantID, req.SegmentID)
	if err != nil {
		return domain.SegmentValue{}, fmt.Errorf("find definition: %w", err)
	}
	if def == nil {
		return domain.SegmentValue{}, domain.ErrDefinitionNotFound
	}
	if len(code) != def.Length {
		return domain.SegmentValue{}, domain.ErrCodeWidthMismatch
	}

	existing, err := s.repo.FindValueByCode(ctx, tx, tenantID, req.SegmentID, code)
	if err != nil {
		return domain.SegmentValue{}, fmt.Errorf("find value: %w", err)
	}
	if existing != nil {
		if desc := strings.TrimSpace(req.Description); desc != "" && desc != existing.Description {
			existing.Description = desc
			existing.UpdatedAt = time.Now().UTC()
			if err := s.repo.UpdateValue(ctx, tx, existing); err != nil {
				return domain.SegmentValue{}, fmt.Errorf("refresh value: %w", err)
			}
		}
		return *existing, nil
	}

	now := time.Now().UTC()
	value := domain.SegmentValue{
		ID:          s.genID.Generate(),
		TenantID:    tenantID,
		SegmentID:   req.SegmentID,
		Code:        code,
		Description: strings.TrimSpace(req.Description),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.InsertValue(ctx, tx, &value); err != nil {
		if db.IsDuplicateKeyErr(err) {
			winner, ferr := s.repo.FindValueByCode(ctx, tx, tenantID, req.SegmentID, code)
			if ferr == nil && winner != nil {
				return *winner, nil
			}
		}
		return domain.SegmentValue{}, fmt.Errorf("insert value: %w", err)
	}
	return value, nil
}

func (s *Service) GetValue(ctx context.Context, id snowflake.ID) (domain.SegmentValue, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return domain.SegmentValue{}, domain.ErrInvalidTenant
	}
	value, err := s.repo.FindValueByID(ctx, s.db, tenantID, id)
	if err != nil {
		return domain.SegmentValue{}, err
	}
	if value == nil {
		return domain.SegmentValue{}, domain.ErrValueNotFound
	}
	return *value, nil
}

func (s *Service) ListValues(ctx context.Context, segmentID snowflake.ID) ([]domain.SegmentValue, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	return s.repo.ListValues(ctx, s.db, tenantID, segmentID)
}

func (s *Service) DeactivateValue(ctx context.Context, id snowflake.ID) error {
	return s.setValueActive(ctx, id, false)
}

func (s *Service) ActivateValue(ctx context.Context, id snowflake.ID) error {
	return s.setValueActive(ctx, id, true)
}

func (s *Service) setValueActive(ctx context.Context, id snowflake.ID, active bool) error {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return domain.ErrInvalidTenant
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		value, err := s.repo.FindValueByID(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if value == nil {
			return domain.ErrValueNotFound
		}
		if value.Active == active {
			return nil
		}
		value.Active = active
		value.UpdatedAt = time.Now().UTC()
		return s.repo.UpdateValue(ctx, tx, value)
	})
}

var (
	_ domain.Registry = (*Service)(nil)
	_ domain.Catalog  = (*Service)(nil)
)

package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ledgercore/internal/account/domain"
	auditdomain "github.com/smallbiznis/ledgercore/internal/audit/domain"
	"github.com/smallbiznis/ledgercore/internal/config"
	obsmetrics "github.com/smallbiznis/ledgercore/internal/observability/metrics"
	segmentdomain "github.com/smallbiznis/ledgercore/internal/segment/domain"
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
	Repo       domain.Repository
	Registry   segmentdomain.Registry
	Catalog    segmentdomain.Catalog
	Resolvers  *segmentdomain.ResolverRegistry
	Scheme     *config.SchemeHolder
	AuditSvc   auditdomain.Service  `optional:"true"`
	ObsMetrics *obsmetrics.Metrics  `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	registry   segmentdomain.Registry
	catalog    segmentdomain.Catalog
	resolvers  *segmentdomain.ResolverRegistry
	scheme     *config.SchemeHolder
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("account.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		registry:   p.Registry,
		catalog:    p.Catalog,
		resolvers:  p.Resolvers,
		scheme:     p.Scheme,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

// resolved pairs a definition with the value chosen for its position.
type resolved struct {
	def   segmentdomain.SegmentDefinition
	value segmentdomain.SegmentValue
}

func (s *Service) separator() string {
	if s.scheme == nil {
		return "-"
	}
	sep := s.scheme.Get().Separator
	if sep == "" {
		return "-"
	}
	return sep
}

func (s *Service) ComposeCode(ctx context.Context, segmentValueIDs []snowflake.ID) (string, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return "", domain.ErrInvalidTenant
	}
	defs, err := s.registry.ActiveDefinitions(ctx)
	if err != nil {
		return "", err
	}
	parts, err := s.resolveValues(ctx, s.db, tenantID, defs, segmentValueIDs)
	if err != nil {
		return "", err
	}
	return composeCode(parts, s.separator()), nil
}

func (s *Service) Create(ctx context.Context, req domain.CreateAccountRequest) (domain.Account, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return domain.Account{}, domain.ErrInvalidTenant
	}
	if !req.Attributes.Classification.Valid() {
		return domain.Account{}, domain.ErrInvalidClassification
	}

	var account domain.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		defs, err := s.registry.ActiveDefinitions(ctx)
		if err != nil {
			return err
		}
		parts, err := s.resolveValues(ctx, tx, tenantID, defs, req.SegmentValueIDs)
		if err != nil {
			return err
		}
		account, err = s.createWithValues(ctx, tx, tenantID, parts, req.Attributes)
		return err
	})
	if err != nil {
		return domain.Account{}, err
	}

	s.afterCreate(ctx, account)
	return account, nil
}

func (s *Service) CreateFromDefaults(ctx context.Context, req domain.CreateFromDefaultsRequest) (domain.Account, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return domain.Account{}, domain.ErrInvalidTenant
	}
	if !req.Attributes.Classification.Valid() {
		return domain.Account{}, domain.ErrInvalidClassification
	}

	var account domain.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		defs, err := s.registry.ActiveDefinitions(ctx)
		if err != nil {
			return err
		}
		if len(defs) == 0 {
			return domain.ErrIncompleteSegments
		}
		terminal := defs[len(defs)-1]

		parts := make([]resolved, 0, len(defs))
		in := segmentdomain.ResolveInput{TenantID: tenantID}
		for _, def := range defs[:len(defs)-1] {
			if def.Handler == segmentdomain.HandlerNone {
				// No handler and no explicit value: the position cannot
				// be resolved.
				return domain.ErrIncompleteSegments
			}
			resolver, known := s.resolvers.Lookup(def.Handler)
			if !known {
				return segmentdomain.ErrUnknownHandler
			}
			code, err := resolver.Resolve(ctx, tx, def, in)
			if err != nil {
				return fmt.Errorf("resolve position %d: %w", def.Position, err)
			}
			value, err := s.catalog.EnsureValueTx(ctx, tx, segmentdomain.EnsureValueRequest{
				SegmentID:   def.ID,
				Code:        code,
				Description: def.Description,
			})
			if err != nil {
				return fmt.Errorf("ensure value for position %d: %w", def.Position, err)
			}
			parts = append(parts, resolved{def: def, value: value})
		}

		terminalValue, err := s.resolveTerminalValue(ctx, tx, tenantID, terminal, req)
		if err != nil {
			return err
		}
		parts = append(parts, resolved{def: terminal, value: terminalValue})

		account, err = s.createWithValues(ctx, tx, tenantID, parts, req.Attributes)
		return err
	})
	if err != nil {
		return domain.Account{}, err
	}

	s.afterCreate(ctx, account)
	return account, nil
}

func (s *Service) resolveTerminalValue(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, terminal segmentdomain.SegmentDefinition, req domain.CreateFromDefaultsRequest) (segmentdomain.SegmentValue, error) {
	if req.TerminalValueID != 0 {
		values, err := s.repo.FindSegmentValues(ctx, tx, tenantID, []snowflake.ID{req.TerminalValueID})
		if err != nil {
			return segmentdomain.SegmentValue{}, fmt.Errorf("find terminal value: %w", err)
		}
		if len(values) == 0 {
			return segmentdomain.SegmentValue{}, segmentdomain.ErrValueNotFound
		}
		value := values[0]
		if value.SegmentID != terminal.ID {
			return segmentdomain.SegmentValue{}, domain.ErrValueWrongPosition
		}
		if !value.Active {
			return segmentdomain.SegmentValue{}, domain.ErrInactiveSegmentValue
		}
		return value, nil
	}

	return s.catalog.EnsureValueTx(ctx, tx, segmentdomain.EnsureValueRequest{
		SegmentID:   terminal.ID,
		Code:        req.TerminalCode,
		Description: req.TerminalDescription,
	})
}

// resolveValues checks one active value exists per active position.
func (s *Service) resolveValues(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, defs []segmentdomain.SegmentDefinition, valueIDs []snowflake.ID) ([]resolved, error) {
	values, err := s.repo.FindSegmentValues(ctx, tx, tenantID, valueIDs)
	if err != nil {
		return nil, fmt.Errorf("find segment values: %w", err)
	}
	if len(values) != len(valueIDs) {
		return nil, segmentdomain.ErrValueNotFound
	}

	bySegment := make(map[snowflake.ID]segmentdomain.SegmentValue, len(values))
	for _, value := range values {
		if _, dup := bySegment[value.SegmentID]; dup {
			return nil, domain.ErrValueWrongPosition
		}
		bySegment[value.SegmentID] = value
	}

	activeSegments := make(map[snowflake.ID]struct{}, len(defs))
	parts := make([]resolved, 0, len(defs))
	for _, def := range defs {
		activeSegments[def.ID] = struct{}{}
		value, found := bySegment[def.ID]
		if !found {
			return nil, domain.ErrIncompleteSegments
		}
		if !value.Active {
			return nil, domain.ErrInactiveSegmentValue
		}
		parts = append(parts, resolved{def: def, value: value})
	}

	// A supplied value outside the active positions is a caller bug.
	for segID := range bySegment {
		if _, ok := activeSegments[segID]; !ok {
			return nil, domain.ErrValueWrongPosition
		}
	}
	return parts, nil
}

func (s *Service) createWithValues(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, parts []resolved, attrs domain.Attributes) (domain.Account, error) {
	code := composeCode(parts, s.separator())

	existing, err := s.repo.FindByCode(ctx, tx, tenantID, code)
	if err != nil {
		return domain.Account{}, fmt.Errorf("find by code: %w", err)
	}
	if existing != nil {
		return domain.Account{}, domain.ErrDuplicateAccount
	}

	now := time.Now().UTC()
	account := domain.Account{
		ID:                 s.genID.Generate(),
		TenantID:           tenantID,
		Code:               code,
		Name:               strings.TrimSpace(attrs.Name),
		Descriptor:         composeDescriptor(parts),
		Classification:     attrs.Classification,
		Active:             true,
		ManualEntryAllowed: attrs.ManualEntryAllowed,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.Insert(ctx, tx, &account); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Account{}, domain.ErrDuplicateAccount
		}
		return domain.Account{}, fmt.Errorf("insert account: %w", err)
	}

	for _, part := range parts {
		assignment := domain.AccountSegment{
			AccountID:      account.ID,
			Position:       part.def.Position,
			TenantID:       tenantID,
			SegmentID:      part.def.ID,
			SegmentValueID: part.value.ID,
		}
		if err := s.repo.InsertAssignment(ctx, tx, &assignment); err != nil {
			return domain.Account{}, fmt.Errorf("insert assignment: %w", err)
		}
	}
	return account, nil
}

func (s *Service) afterCreate(ctx context.Context, account domain.Account) {
	s.log.Info("account created",
		zap.String("tenant_id", account.TenantID.String()),
		zap.String("code", account.Code),
		zap.String("classification", string(account.Classification)),
	)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordAccountCreated(ctx, string(account.Classification))
	}
	if s.auditSvc != nil {
		accountID := account.ID.String()
		if err := s.auditSvc.AuditLog(ctx, &account.TenantID, "account.created", "account", &accountID, map[string]any{
			"code": account.Code,
		}); err != nil {
			s.log.Warn("failed to write account audit log", zap.Error(err))
		}
	}
}

func (s *Service) UpdateTerminalSegment(ctx context.Context, accountID, newValueID snowflake.ID) (domain.Account, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return domain.Account{}, domain.ErrInvalidTenant
	}

	var updated domain.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.repo.FindByID(ctx, tx, tenantID, accountID)
		if err != nil {
			return fmt.Errorf("find account: %w", err)
		}
		if account == nil {
			return domain.ErrAccountNotFound
		}

		defs, err := s.registry.ActiveDefinitions(ctx)
		if err != nil {
			return err
		}
		if len(defs) == 0 {
			return domain.ErrIncompleteSegments
		}
		terminal := defs[len(defs)-1]

		values, err := s.repo.FindSegmentValues(ctx, tx, tenantID, []snowflake.ID{newValueID})
		if err != nil {
			return fmt.Errorf("find new value: %w", err)
		}
		if len(values) == 0 {
			return segmentdomain.ErrValueNotFound
		}
		newValue := values[0]
		if newValue.SegmentID != terminal.ID {
			return domain.ErrSegmentNotTerminal
		}
		if !newValue.Active {
			return domain.ErrInactiveSegmentValue
		}

		if err := s.repo.UpdateAssignmentValue(ctx, tx, tenantID, account.ID, terminal.Position, newValue.ID); err != nil {
			return fmt.Errorf("update assignment: %w", err)
		}

		// Recompute derived fields from the stored assignments so the code
		// never drifts from the join rows.
		assignments, err := s.repo.ListAssignments(ctx, tx, tenantID, account.ID)
		if err != nil {
			return fmt.Errorf("list assignments: %w", err)
		}
		valueIDs := make([]snowflake.ID, 0, len(assignments))
		for _, assignment := range assignments {
			valueIDs = append(valueIDs, assignment.SegmentValueID)
		}
		parts, err := s.resolveValues(ctx, tx, tenantID, defs, valueIDs)
		if err != nil {
			return err
		}

		code := composeCode(parts, s.separator())
		if other, err := s.repo.FindByCode(ctx, tx, tenantID, code); err != nil {
			return fmt.Errorf("find by code: %w", err)
		} else if other != nil && other.ID != account.ID {
			return domain.ErrDuplicateAccount
		}

		account.Code = code
		account.Descriptor = composeDescriptor(parts)
		account.UpdatedAt = time.Now().UTC()
		if err := s.repo.Update(ctx, tx, account); err != nil {
			return fmt.Errorf("update account: %w", err)
		}
		updated = *account
		return nil
	})
	if err != nil {
		return domain.Account{}, err
	}

	if s.auditSvc != nil {
		id := updated.ID.String()
		if err := s.auditSvc.AuditLog(ctx, &updated.TenantID, "account.terminal_segment_updated", "account", &id, map[string]any{
			"code": updated.Code,
		}); err != nil {
			s.log.Warn("failed to write account audit log", zap.Error(err))
		}
	}
	return updated, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.Account, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return domain.Account{}, domain.ErrInvalidTenant
	}
	account, err := s.repo.FindByID(ctx, s.db, tenantID, id)
	if err != nil {
		return domain.Account{}, err
	}
	if account == nil {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return *account, nil
}

func (s *Service) GetByCode(ctx context.Context, code string) (domain.Account, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return domain.Account{}, domain.ErrInvalidTenant
	}
	account, err := s.repo.FindByCode(ctx, s.db, tenantID, strings.TrimSpace(code))
	if err != nil {
		return domain.Account{}, err
	}
	if account == nil {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return *account, nil
}

// SearchByPattern intersects assignment rows per specified position. Codes
// are opaque concatenations, so prefix matching on the composite is not an
// option.
func (s *Service) SearchByPattern(ctx context.Context, pattern domain.SearchPattern) ([]domain.Account, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	defs, err := s.registry.ActiveDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	byPosition := make(map[int]segmentdomain.SegmentDefinition, len(defs))
	for _, def := range defs {
		byPosition[def.Position] = def
	}

	var matched map[snowflake.ID]struct{}
	for position, code := range pattern {
		def, found := byPosition[position]
		if !found {
			return nil, domain.ErrValueWrongPosition
		}
		valueID, err := s.repo.FindValueIDByCode(ctx, s.db, tenantID, def.ID, strings.TrimSpace(code))
		if err != nil {
			return nil, fmt.Errorf("find value by code: %w", err)
		}
		if valueID == 0 {
			return nil, nil
		}
		ids, err := s.repo.AccountIDsByValue(ctx, s.db, tenantID, valueID)
		if err != nil {
			return nil, fmt.Errorf("account ids by value: %w", err)
		}
		next := make(map[snowflake.ID]struct{}, len(ids))
		for _, id := range ids {
			if matched == nil {
				next[id] = struct{}{}
				continue
			}
			if _, ok := matched[id]; ok {
				next[id] = struct{}{}
			}
		}
		matched = next
		if len(matched) == 0 {
			return nil, nil
		}
	}
	if matched == nil {
		return nil, nil
	}

	ids := make([]snowflake.ID, 0, len(matched))
	for id := range matched {
		ids = append(ids, id)
	}
	return s.repo.FindByIDs(ctx, s.db, tenantID, ids)
}

func (s *Service) SetActive(ctx context.Context, id snowflake.ID, active bool) error {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return domain.ErrInvalidTenant
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.repo.FindByID(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if account == nil {
			return domain.ErrAccountNotFound
		}
		if account.Active == active {
			return nil
		}
		account.Active = active
		account.UpdatedAt = time.Now().UTC()
		return s.repo.Update(ctx, tx, account)
	})
}

func composeCode(parts []resolved, separator string) string {
	codes := make([]string, 0, len(parts))
	for _, part := range parts {
		codes = append(codes, part.value.Code)
	}
	return strings.Join(codes, separator)
}

func composeDescriptor(parts []resolved) string {
	descriptions := make([]string, 0, len(parts))
	for _, part := range parts {
		if part.value.Description != "" {
			descriptions = append(descriptions, part.value.Description)
			continue
		}
		descriptions = append(descriptions, part.value.Code)
	}
	return strings.Join(descriptions, " / ")
}

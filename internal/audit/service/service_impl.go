package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ledgercore/internal/audit/domain"
	"github.com/smallbiznis/ledgercore/internal/tenantctx"
	"github.com/smallbiznis/ledgercore/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) AuditLog(ctx context.Context, tenantID *snowflake.ID, action string, targetType string, targetID *string, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return domain.ErrInvalidAction
	}
	targetType = strings.TrimSpace(targetType)
	if targetType == "" {
		targetType = "unknown"
	}

	resolvedTenantID := s.resolveTenantID(ctx, tenantID)

	payload := map[string]any{}
	for key, value := range metadata {
		if key == "" {
			continue
		}
		payload[key] = value
	}

	entry := domain.AuditLog{
		ID:         s.genID.Generate(),
		TenantID:   resolvedTenantID,
		Actor:      tenantctx.ActorFromContext(ctx),
		Action:     action,
		TargetType: targetType,
		TargetID:   normalizePointer(targetID),
		Metadata:   datatypes.JSONMap(payload),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		s.log.Warn("failed to persist audit log",
			zap.String("action", action),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req domain.ListAuditLogRequest) (domain.ListAuditLogResponse, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return domain.ListAuditLogResponse{}, domain.ErrInvalidTenant
	}
	if req.StartAt != nil && req.EndAt != nil && req.EndAt.Before(*req.StartAt) {
		return domain.ListAuditLogResponse{}, domain.ErrInvalidTimeRange
	}

	entries, err := s.repo.List(ctx, s.db, tenantID, req)
	if err != nil {
		return domain.ListAuditLogResponse{}, err
	}

	limit := req.PageSize
	if limit <= 0 {
		limit = 50
	}
	pageInfo, entries := pagination.BuildCursorPageInfo(entries, limit, func(entry *domain.AuditLog) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			ID:        entry.ID.String(),
			CreatedAt: entry.CreatedAt.Format(time.RFC3339Nano),
		})
		return token
	})

	logs := make([]domain.AuditLog, 0, len(entries))
	for _, entry := range entries {
		logs = append(logs, *entry)
	}
	return domain.ListAuditLogResponse{
		PageInfo:  *pageInfo,
		AuditLogs: logs,
	}, nil
}

func (s *Service) resolveTenantID(ctx context.Context, tenantID *snowflake.ID) snowflake.ID {
	if tenantID != nil && *tenantID != 0 {
		return *tenantID
	}
	if fromCtx, ok := tenantctx.TenantIDFromContext(ctx); ok {
		return fromCtx
	}
	return 0
}

func normalizePointer(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

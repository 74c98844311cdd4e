package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ledgercore/internal/segment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertDefinition(ctx context.Context, db *gorm.DB, def *domain.SegmentDefinition) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO segment_definitions (id, tenant_id, position, length, description, handler, handler_arg, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		def.ID,
		def.TenantID,
		def.Position,
		def.Length,
		def.Description,
		string(def.Handler),
		def.HandlerArg,
		def.Active,
		def.CreatedAt,
		def.UpdatedAt,
	).Error
}

func (r *repo) UpdateDefinition(ctx context.Context, db *gorm.DB, def *domain.SegmentDefinition) error {
	return db.WithContext(ctx).Exec(
		`UPDATE segment_definitions
		 SET description = ?, handler = ?, handler_arg = ?, length = ?, active = ?, updated_at = ?
		 WHERE tenant_id = ? AND id = ?`,
		def.Description,
		string(def.Handler),
		def.HandlerArg,
		def.Length,
		def.Active,
		def.UpdatedAt,
		def.TenantID,
		def.ID,
	).Error
}

func (r *repo) FindDefinitionByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*domain.SegmentDefinition, error) {
	var def domain.SegmentDefinition
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, position, length, description, handler, handler_arg, active, created_at, updated_at
		 FROM segment_definitions WHERE tenant_id = ? AND id = ?`,
		tenantID,
		id,
	).Scan(&def).Error
	if err != nil {
		return nil, err
	}
	if def.ID == 0 {
		return nil, nil
	}
	return &def, nil
}

func (r *repo) ListDefinitions(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, activeOnly bool) ([]domain.SegmentDefinition, error) {
	var defs []domain.SegmentDefinition
	stmt := db.WithContext(ctx).
		Model(&domain.SegmentDefinition{}).
		Where("tenant_id = ?", tenantID)
	if activeOnly {
		stmt = stmt.Where("active = ?", true)
	}
	if err := stmt.Order("position asc").Find(&defs).Error; err != nil {
		return nil, err
	}
	return defs, nil
}

func (r *repo) CountValuesForSegment(ctx context.Context, db *gorm.DB, tenantID, segmentID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.SegmentValue{}).
		Where("tenant_id = ? AND segment_id = ?", tenantID, segmentID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) InsertValue(ctx context.Context, db *gorm.DB, value *domain.SegmentValue) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO segment_values (id, tenant_id, segment_id, code, description, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		value.ID,
		value.TenantID,
		value.SegmentID,
		value.Code,
		value.Description,
		value.Active,
		value.CreatedAt,
		value.UpdatedAt,
	).Error
}

func (r *repo) UpdateValue(ctx context.Context, db *gorm.DB, value *domain.SegmentValue) error {
	return db.WithContext(ctx).Exec(
		`UPDATE segment_values SET description = ?, active = ?, updated_at = ?
		 WHERE tenant_id = ? AND id = ?`,
		value.Description,
		value.Active,
		value.UpdatedAt,
		value.TenantID,
		value.ID,
	).Error
}

func (r *repo) FindValueByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*domain.SegmentValue, error) {
	var value domain.SegmentValue
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, segment_id, code, description, active, created_at, updated_at
		 FROM segment_values WHERE tenant_id = ? AND id = ?`,
		tenantID,
		id,
	).Scan(&value).Error
	if err != nil {
		return nil, err
	}
	if value.ID == 0 {
		return nil, nil
	}
	return &value, nil
}

func (r *repo) FindValueByCode(ctx context.Context, db *gorm.DB, tenantID, segmentID snowflake.ID, code string) (*domain.SegmentValue, error) {
	var value domain.SegmentValue
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, segment_id, code, description, active, created_at, updated_at
		 FROM segment_values WHERE tenant_id = ? AND segment_id = ? AND code = ?`,
		tenantID,
		segmentID,
		code,
	).Scan(&value).Error
	if err != nil {
		return nil, err
	}
	if value.ID == 0 {
		return nil, nil
	}
	return &value, nil
}

func (r *repo) ListValues(ctx context.Context, db *gorm.DB, tenantID, segmentID snowflake.ID) ([]domain.SegmentValue, error) {
	var values []domain.SegmentValue
	err := db.WithContext(ctx).
		Model(&domain.SegmentValue{}).
		Where("tenant_id = ? AND segment_id = ?", tenantID, segmentID).
		Order("code asc").
		Find(&values).Error
	if err != nil {
		return nil, err
	}
	return values, nil
}

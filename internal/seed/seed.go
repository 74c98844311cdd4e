package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/ledgercore/internal/config"
	fiscaldomain "github.com/smallbiznis/ledgercore/internal/fiscal/domain"
	segmentdomain "github.com/smallbiznis/ledgercore/internal/segment/domain"
	"gorm.io/gorm"
)

const (
	defaultTenantName = "Main"
)

// Tenant is the bootstrap organization row. The engine itself only ever
// sees tenant ids; this table exists so a fresh deployment has one.
type Tenant struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Name      string       `gorm:"type:text;not null"`
	Slug      string       `gorm:"type:text;not null;uniqueIndex"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Tenant) TableName() string { return "tenants" }

// EnsureDefaultTenant seeds the default tenant, its account numbering
// scheme and a calendar-year fiscal anchor, so the engine is usable out of
// the box. Safe to run on every startup.
func EnsureDefaultTenant(db *gorm.DB, tenantID snowflake.ID, scheme config.SchemeConfig) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenant, err := ensureTenantTx(ctx, tx, node, tenantID)
		if err != nil {
			return err
		}
		if err := ensureSchemeTx(ctx, tx, node, tenant.ID, scheme); err != nil {
			return err
		}
		return ensureFiscalAnchorTx(ctx, tx, node, tenant.ID)
	})
}

func ensureTenantTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, tenantID snowflake.ID) (*Tenant, error) {
	tenantSlug := slug.Make(defaultTenantName)

	var tenant Tenant
	err := tx.WithContext(ctx).Where("slug = ?", tenantSlug).First(&tenant).Error
	if err == nil {
		return &tenant, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if tenantID == 0 {
		tenantID = node.Generate()
	}
	now := time.Now().UTC()
	tenant = Tenant{
		ID:        tenantID,
		Name:      defaultTenantName,
		Slug:      tenantSlug,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&tenant).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

// ensureSchemeTx materializes the configured numbering scheme as segment
// definition rows for the tenant. Existing positions are left untouched.
func ensureSchemeTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, tenantID snowflake.ID, scheme config.SchemeConfig) error {
	now := time.Now().UTC()
	for _, seg := range scheme.Segments {
		var existing segmentdomain.SegmentDefinition
		err := tx.WithContext(ctx).
			Where("tenant_id = ? AND position = ?", tenantID, seg.Position).
			First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		definition := segmentdomain.SegmentDefinition{
			ID:          node.Generate(),
			TenantID:    tenantID,
			Position:    seg.Position,
			Length:      seg.Length,
			Description: seg.Description,
			Handler:     segmentdomain.HandlerKey(seg.Handler),
			HandlerArg:  seg.HandlerArg,
			Active:      true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.WithContext(ctx).Create(&definition).Error; err != nil {
			return err
		}
	}
	return nil
}

// ensureFiscalAnchorTx defaults the fiscal year to the calendar year.
func ensureFiscalAnchorTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, tenantID snowflake.ID) error {
	var existing fiscaldomain.FiscalYearSetup
	err := tx.WithContext(ctx).
		Where("tenant_id = ? AND active = ?", tenantID, true).
		First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := time.Now().UTC()
	setup := fiscaldomain.FiscalYearSetup{
		ID:         node.Generate(),
		TenantID:   tenantID,
		AnchorDate: time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC),
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return tx.WithContext(ctx).Create(&setup).Error
}

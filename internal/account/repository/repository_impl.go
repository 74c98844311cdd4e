package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ledgercore/internal/account/domain"
	segmentdomain "github.com/smallbiznis/ledgercore/internal/segment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, account *domain.Account) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO accounts (id, tenant_id, code, name, descriptor, classification, active, manual_entry_allowed, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID,
		account.TenantID,
		account.Code,
		account.Name,
		account.Descriptor,
		string(account.Classification),
		account.Active,
		account.ManualEntryAllowed,
		account.CreatedAt,
		account.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, account *domain.Account) error {
	return db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET code = ?, name = ?, descriptor = ?, classification = ?, active = ?, manual_entry_allowed = ?, updated_at = ?
		 WHERE tenant_id = ? AND id = ?`,
		account.Code,
		account.Name,
		account.Descriptor,
		string(account.Classification),
		account.Active,
		account.ManualEntryAllowed,
		account.UpdatedAt,
		account.TenantID,
		account.ID,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, code, name, descriptor, classification, active, manual_entry_allowed, created_at, updated_at
		 FROM accounts WHERE tenant_id = ? AND id = ?`,
		tenantID,
		id,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, code string) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, code, name, descriptor, classification, active, manual_entry_allowed, created_at, updated_at
		 FROM accounts WHERE tenant_id = ? AND code = ?`,
		tenantID,
		code,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) InsertAssignment(ctx context.Context, db *gorm.DB, assignment *domain.AccountSegment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO account_segments (account_id, position, tenant_id, segment_id, segment_value_id)
		 VALUES (?, ?, ?, ?, ?)`,
		assignment.AccountID,
		assignment.Position,
		assignment.TenantID,
		assignment.SegmentID,
		assignment.SegmentValueID,
	).Error
}

func (r *repo) UpdateAssignmentValue(ctx context.Context, db *gorm.DB, tenantID, accountID snowflake.ID, position int, newValueID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE account_segments SET segment_value_id = ?
		 WHERE tenant_id = ? AND account_id = ? AND position = ?`,
		newValueID,
		tenantID,
		accountID,
		position,
	).Error
}

func (r *repo) ListAssignments(ctx context.Context, db *gorm.DB, tenantID, accountID snowflake.ID) ([]domain.AccountSegment, error) {
	var assignments []domain.AccountSegment
	err := db.WithContext(ctx).
		Model(&domain.AccountSegment{}).
		Where("tenant_id = ? AND account_id = ?", tenantID, accountID).
		Order("position asc").
		Find(&assignments).Error
	if err != nil {
		return nil, err
	}
	return assignments, nil
}

func (r *repo) AccountIDsByValue(ctx context.Context, db *gorm.DB, tenantID, segmentValueID snowflake.ID) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT account_id FROM account_segments
		 WHERE tenant_id = ? AND segment_value_id = ?
		 ORDER BY account_id`,
		tenantID,
		segmentValueID,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) FindByIDs(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, ids []snowflake.ID) ([]domain.Account, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var accounts []domain.Account
	err := db.WithContext(ctx).
		Model(&domain.Account{}).
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Order("code asc").
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *repo) FindValueIDByCode(ctx context.Context, db *gorm.DB, tenantID, segmentID snowflake.ID, code string) (snowflake.ID, error) {
	var id snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT id FROM segment_values
		 WHERE tenant_id = ? AND segment_id = ? AND code = ?`,
		tenantID,
		segmentID,
		code,
	).Scan(&id).Error
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *repo) FindSegmentValues(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, ids []snowflake.ID) ([]segmentdomain.SegmentValue, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var values []segmentdomain.SegmentValue
	err := db.WithContext(ctx).
		Model(&segmentdomain.SegmentValue{}).
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Find(&values).Error
	if err != nil {
		return nil, err
	}
	return values, nil
}

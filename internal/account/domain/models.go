package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Classification buckets an account for reporting sign conventions.
type Classification string

const (
	ClassificationAsset     Classification = "asset"
	ClassificationLiability Classification = "liability"
	ClassificationEquity    Classification = "equity"
	ClassificationRevenue   Classification = "revenue"
	ClassificationExpense   Classification = "expense"
)

func (c Classification) Valid() bool {
	switch c {
	case ClassificationAsset, ClassificationLiability, ClassificationEquity,
		ClassificationRevenue, ClassificationExpense:
		return true
	default:
		return false
	}
}

// Account is a chart-of-accounts entry identified by its composite code.
// Code and Descriptor are derived from the segment assignments and recomputed
// inside the same transaction as any assignment change.
type Account struct {
	ID                 snowflake.ID   `gorm:"primaryKey"`
	TenantID           snowflake.ID   `gorm:"not null;index;uniqueIndex:ux_accounts_tenant_code,priority:1"`
	Code               string         `gorm:"type:text;not null;uniqueIndex:ux_accounts_tenant_code,priority:2"`
	Name               string         `gorm:"type:text;not null"`
	Descriptor         string         `gorm:"type:text;not null"`
	Classification     Classification `gorm:"type:text;not null"`
	Active             bool           `gorm:"not null;default:true"`
	ManualEntryAllowed bool           `gorm:"not null;default:true"`
	CreatedAt          time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }

// AccountSegment joins an account to the segment value chosen per position.
type AccountSegment struct {
	AccountID      snowflake.ID `gorm:"primaryKey"`
	Position       int          `gorm:"primaryKey"`
	TenantID       snowflake.ID `gorm:"not null;index"`
	SegmentID      snowflake.ID `gorm:"not null;index"`
	SegmentValueID snowflake.ID `gorm:"not null;index"`
}

// TableName sets the database table name.
func (AccountSegment) TableName() string { return "account_segments" }

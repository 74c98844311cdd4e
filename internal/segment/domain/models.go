package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// HandlerKey selects a default-value resolver for a segment. Resolvers are
// registered once at startup; definitions reference them by key only.
type HandlerKey string

const (
	HandlerNone           HandlerKey = ""
	HandlerTenantID       HandlerKey = "tenant_id"
	HandlerParentTenantID HandlerKey = "parent_tenant_id"
	HandlerFixed          HandlerKey = "fixed"
	HandlerSequence       HandlerKey = "sequence"
)

// SegmentDefinition is one positional component of the composite account code.
// Positions are contiguous from 1; the highest position is the terminal
// (natural account) segment.
type SegmentDefinition struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	TenantID    snowflake.ID `gorm:"not null;index;uniqueIndex:ux_segment_defs_tenant_position,priority:1"`
	Position    int          `gorm:"not null;uniqueIndex:ux_segment_defs_tenant_position,priority:2"`
	Length      int          `gorm:"not null"`
	Description string       `gorm:"type:text;not null"`
	Handler     HandlerKey   `gorm:"type:text;not null;default:''"`
	HandlerArg  string       `gorm:"type:text;not null;default:''"`
	Active      bool         `gorm:"not null;default:true"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (SegmentDefinition) TableName() string { return "segment_definitions" }

// SegmentValue is one enumerated fixed-width code for a segment.
// Unique per (segment, code); deactivated, never hard-deleted, while referenced.
type SegmentValue struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	TenantID    snowflake.ID `gorm:"not null;index"`
	SegmentID   snowflake.ID `gorm:"not null;index;uniqueIndex:ux_segment_values_segment_code,priority:1"`
	Code        string       `gorm:"type:text;not null;uniqueIndex:ux_segment_values_segment_code,priority:2"`
	Description string       `gorm:"type:text;not null"`
	Active      bool         `gorm:"not null;default:true"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (SegmentValue) TableName() string { return "segment_values" }

package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ledgercore/pkg/violation"
	"gorm.io/gorm"
)

type CreateDefinitionRequest struct {
	Position    int
	Length      int
	Description string
	Handler     HandlerKey
	HandlerArg  string
}

type UpdateDefinitionRequest struct {
	ID          snowflake.ID
	Description *string
	Handler     *HandlerKey
	HandlerArg  *string
	Length      *int
	Active      *bool
}

type EnsureValueRequest struct {
	SegmentID   snowflake.ID
	Code        string
	Description string
}

// Registry manages the ordered segment definitions of a tenant.
type Registry interface {
	CreateDefinition(ctx context.Context, req CreateDefinitionRequest) (SegmentDefinition, error)
	UpdateDefinition(ctx context.Context, req UpdateDefinitionRequest) (SegmentDefinition, error)
	ListDefinitions(ctx context.Context) ([]SegmentDefinition, error)
	// ActiveDefinitions returns the active positions in ascending order.
	ActiveDefinitions(ctx context.Context) ([]SegmentDefinition, error)
	// TerminalDefinition returns the highest active position.
	TerminalDefinition(ctx context.Context) (SegmentDefinition, error)
}

// Catalog manages the enumerated values of each segment.
type Catalog interface {
	// EnsureValue creates the value on first use and is idempotent: an
	// existing (segment, code) pair is reused with a refreshed description.
	EnsureValue(ctx context.Context, req EnsureValueRequest) (SegmentValue, error)
	// EnsureValueTx is EnsureValue inside the caller's transaction.
	EnsureValueTx(ctx context.Context, tx *gorm.DB, req EnsureValueRequest) (SegmentValue, error)
	GetValue(ctx context.Context, id snowflake.ID) (SegmentValue, error)
	ListValues(ctx context.Context, segmentID snowflake.ID) ([]SegmentValue, error)
	// DeactivateValue soft-deactivates; values are never hard-deleted.
	DeactivateValue(ctx context.Context, id snowflake.ID) error
	ActivateValue(ctx context.Context, id snowflake.ID) error
}

type Repository interface {
	InsertDefinition(ctx context.Context, db *gorm.DB, def *SegmentDefinition) error
	UpdateDefinition(ctx context.Context, db *gorm.DB, def *SegmentDefinition) error
	FindDefinitionByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*SegmentDefinition, error)
	ListDefinitions(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, activeOnly bool) ([]SegmentDefinition, error)
	CountValuesForSegment(ctx context.Context, db *gorm.DB, tenantID, segmentID snowflake.ID) (int64, error)

	InsertValue(ctx context.Context, db *gorm.DB, value *SegmentValue) error
	UpdateValue(ctx context.Context, db *gorm.DB, value *SegmentValue) error
	FindValueByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*SegmentValue, error)
	FindValueByCode(ctx context.Context, db *gorm.DB, tenantID, segmentID snowflake.ID, code string) (*SegmentValue, error)
	ListValues(ctx context.Context, db *gorm.DB, tenantID, segmentID snowflake.ID) ([]SegmentValue, error)
}

var (
	ErrInvalidTenant         = violation.Structural("invalid_tenant")
	ErrPositionNotContiguous = violation.Structural("segment_position_not_contiguous")
	ErrInvalidLength         = violation.Structural("invalid_segment_length")
	ErrInvalidCode           = violation.Structural("invalid_segment_code")
	ErrCodeWidthMismatch     = violation.Structural("segment_code_width_mismatch")
	ErrUnknownHandler        = violation.Structural("unknown_segment_handler")

	ErrLengthImmutable = violation.State("segment_length_immutable")

	ErrDefinitionNotFound = violation.Environment("segment_definition_not_found")
	ErrValueNotFound      = violation.Environment("segment_value_not_found")
)

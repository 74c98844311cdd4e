package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	segmentdomain "github.com/smallbiznis/ledgercore/internal/segment/domain"
	"github.com/smallbiznis/ledgercore/pkg/violation"
	"gorm.io/gorm"
)

type Attributes struct {
	Name               string
	Classification     Classification
	ManualEntryAllowed bool
}

type CreateAccountRequest struct {
	SegmentValueIDs []snowflake.ID
	Attributes      Attributes
}

// CreateFromDefaultsRequest supplies only the terminal (natural account)
// component; every other position resolves through its configured handler.
type CreateFromDefaultsRequest struct {
	// TerminalValueID references an existing catalog value. When zero,
	// TerminalCode is ensured into the catalog instead.
	TerminalValueID     snowflake.ID
	TerminalCode        string
	TerminalDescription string
	Attributes          Attributes
}

// SearchPattern matches exactly on the specified positions and wildcards the
// rest. Keys are segment positions, values the fixed-width codes.
type SearchPattern map[int]string

type Service interface {
	// ComposeCode concatenates one value per active position in ascending
	// position order, joined by the configured separator.
	ComposeCode(ctx context.Context, segmentValueIDs []snowflake.ID) (string, error)
	Create(ctx context.Context, req CreateAccountRequest) (Account, error)
	CreateFromDefaults(ctx context.Context, req CreateFromDefaultsRequest) (Account, error)
	// UpdateTerminalSegment swaps the terminal assignment; all other
	// positions are immutable once the account exists.
	UpdateTerminalSegment(ctx context.Context, accountID, newValueID snowflake.ID) (Account, error)
	GetByID(ctx context.Context, id snowflake.ID) (Account, error)
	GetByCode(ctx context.Context, code string) (Account, error)
	SearchByPattern(ctx context.Context, pattern SearchPattern) ([]Account, error)
	SetActive(ctx context.Context, id snowflake.ID, active bool) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, account *Account) error
	Update(ctx context.Context, db *gorm.DB, account *Account) error
	FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Account, error)
	FindByCode(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, code string) (*Account, error)

	InsertAssignment(ctx context.Context, db *gorm.DB, assignment *AccountSegment) error
	UpdateAssignmentValue(ctx context.Context, db *gorm.DB, tenantID, accountID snowflake.ID, position int, newValueID snowflake.ID) error
	ListAssignments(ctx context.Context, db *gorm.DB, tenantID, accountID snowflake.ID) ([]AccountSegment, error)
	AccountIDsByValue(ctx context.Context, db *gorm.DB, tenantID, segmentValueID snowflake.ID) ([]snowflake.ID, error)
	FindByIDs(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, ids []snowflake.ID) ([]Account, error)

	// FindSegmentValues loads catalog rows for the composer inside its own
	// transaction.
	FindSegmentValues(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, ids []snowflake.ID) ([]segmentdomain.SegmentValue, error)
	FindValueIDByCode(ctx context.Context, db *gorm.DB, tenantID, segmentID snowflake.ID, code string) (snowflake.ID, error)
}

var (
	ErrInvalidTenant         = violation.Structural("invalid_tenant")
	ErrDuplicateAccount      = violation.Structural("duplicate_account")
	ErrIncompleteSegments    = violation.Structural("incomplete_segments")
	ErrInactiveSegmentValue  = violation.Structural("inactive_segment_value")
	ErrInvalidClassification = violation.Structural("invalid_classification")
	ErrValueWrongPosition    = violation.Structural("segment_value_wrong_position")

	ErrSegmentNotTerminal = violation.State("segment_not_terminal")

	ErrAccountNotFound = violation.Environment("account_not_found")
)

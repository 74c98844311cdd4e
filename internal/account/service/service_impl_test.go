package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/ledgercore/internal/account/domain"
	"github.com/smallbiznis/ledgercore/internal/account/repository"
	segmentdomain "github.com/smallbiznis/ledgercore/internal/segment/domain"
	segmentrepository "github.com/smallbiznis/ledgercore/internal/segment/repository"
	segmentservice "github.com/smallbiznis/ledgercore/internal/segment/service"
	"github.com/smallbiznis/ledgercore/internal/sequence"
	"github.com/smallbiznis/ledgercore/internal/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	for _, ddl := range []string{
		`CREATE TABLE segment_definitions (
			id BIGINT PRIMARY KEY,
			tenant_id BIGINT NOT NULL,
			position INTEGER NOT NULL,
			length INTEGER NOT NULL,
			description TEXT NOT NULL,
			handler TEXT NOT NULL DEFAULT '',
			handler_arg TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE (tenant_id, position)
		)`,
		`CREATE TABLE segment_values (
			id BIGINT PRIMARY KEY,
			tenant_id BIGINT NOT NULL,
			segment_id BIGINT NOT NULL,
			code TEXT NOT NULL,
			description TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE (segment_id, code)
		)`,
		`CREATE TABLE sequence_counters (
			tenant_id BIGINT NOT NULL,
			counter_key TEXT NOT NULL,
			scope TEXT NOT NULL,
			next_value BIGINT NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (tenant_id, counter_key, scope)
		)`,
		`CREATE TABLE accounts (
			id BIGINT PRIMARY KEY,
			tenant_id BIGINT NOT NULL,
			code TEXT NOT NULL,
			name TEXT NOT NULL,
			descriptor TEXT NOT NULL,
			classification TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			manual_entry_allowed BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE (tenant_id, code)
		)`,
		`CREATE TABLE account_segments (
			account_id BIGINT NOT NULL,
			position INTEGER NOT NULL,
			tenant_id BIGINT NOT NULL,
			segment_id BIGINT NOT NULL,
			segment_value_id BIGINT NOT NULL,
			PRIMARY KEY (account_id, position)
		)`,
	} {
		require.NoError(t, db.Exec(ddl).Error)
	}
	return db
}

type fixture struct {
	svc     domain.Service
	segSvc  *segmentservice.Service
	ctx     context.Context
	defs    []segmentdomain.SegmentDefinition
	attrs   domain.Attributes
	genNode *snowflake.Node
}

// newFixture wires a composer over a three-position scheme. Positions are
// created through the registry so contiguity and width rules apply; the
// separator falls back to "-" when no scheme config is present.
func newFixture(t *testing.T, tenantID snowflake.ID, segments ...segmentdomain.CreateDefinitionRequest) *fixture {
	t.Helper()
	db := newTestDB(t)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	resolvers, err := segmentservice.NewResolverRegistry(sequence.NewAllocator())
	require.NoError(t, err)

	segSvc := segmentservice.NewService(segmentservice.Params{
		DB:        db,
		Log:       zaptest.NewLogger(t),
		GenID:     node,
		Repo:      segmentrepository.Provide(),
		Resolvers: resolvers,
	})

	svc := NewService(Params{
		DB:        db,
		Log:       zaptest.NewLogger(t),
		GenID:     node,
		Repo:      repository.Provide(),
		Registry:  segSvc,
		Catalog:   segSvc,
		Resolvers: resolvers,
	})

	if tenantID == 0 {
		tenantID = node.Generate()
	}
	ctx := tenantctx.WithTenantID(context.Background(), tenantID)

	defs := make([]segmentdomain.SegmentDefinition, 0, len(segments))
	for _, req := range segments {
		def, err := segSvc.CreateDefinition(ctx, req)
		require.NoError(t, err)
		defs = append(defs, def)
	}

	return &fixture{
		svc:    svc,
		segSvc: segSvc,
		ctx:    ctx,
		defs:   defs,
		attrs: domain.Attributes{
			Name:               "Cash",
			Classification:     domain.ClassificationAsset,
			ManualEntryAllowed: true,
		},
		genNode: node,
	}
}

// plainScheme is the two-plus-four layout without handlers: every position
// needs an explicit value.
func plainScheme() []segmentdomain.CreateDefinitionRequest {
	return []segmentdomain.CreateDefinitionRequest{
		{Position: 1, Length: 2, Description: "Company"},
		{Position: 2, Length: 2, Description: "Division"},
		{Position: 3, Length: 4, Description: "Natural Account"},
	}
}

func (f *fixture) ensureValue(t *testing.T, position int, code, description string) segmentdomain.SegmentValue {
	t.Helper()
	value, err := f.segSvc.EnsureValue(f.ctx, segmentdomain.EnsureValueRequest{
		SegmentID:   f.defs[position-1].ID,
		Code:        code,
		Description: description,
	})
	require.NoError(t, err)
	return value
}

func TestComposeAndCreateAccount(t *testing.T) {
	f := newFixture(t, 0, plainScheme()...)

	company := f.ensureValue(t, 1, "10", "Company 10")
	division := f.ensureValue(t, 2, "03", "Division 03")
	natural := f.ensureValue(t, 3, "4000", "Cash")
	ids := []snowflake.ID{company.ID, division.ID, natural.ID}

	code, err := f.svc.ComposeCode(f.ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, "10-03-4000", code)

	account, err := f.svc.Create(f.ctx, domain.CreateAccountRequest{
		SegmentValueIDs: ids,
		Attributes:      f.attrs,
	})
	require.NoError(t, err)
	assert.Equal(t, "10-03-4000", account.Code)
	assert.Equal(t, "Company 10 / Division 03 / Cash", account.Descriptor)
	assert.True(t, account.Active)

	byCode, err := f.svc.GetByCode(f.ctx, "10-03-4000")
	require.NoError(t, err)
	assert.Equal(t, account.ID, byCode.ID)

	byID, err := f.svc.GetByID(f.ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, account.Code, byID.Code)
}

func TestCreateRejectsDuplicateCode(t *testing.T) {
	f := newFixture(t, 0, plainScheme()...)
	ids := []snowflake.ID{
		f.ensureValue(t, 1, "10", "").ID,
		f.ensureValue(t, 2, "03", "").ID,
		f.ensureValue(t, 3, "4000", "").ID,
	}

	_, err := f.svc.Create(f.ctx, domain.CreateAccountRequest{SegmentValueIDs: ids, Attributes: f.attrs})
	require.NoError(t, err)

	_, err = f.svc.Create(f.ctx, domain.CreateAccountRequest{SegmentValueIDs: ids, Attributes: f.attrs})
	assert.ErrorIs(t, err, domain.ErrDuplicateAccount)
}

func TestCreateRequiresOneValuePerPosition(t *testing.T) {
	f := newFixture(t, 0, plainScheme()...)
	company := f.ensureValue(t, 1, "10", "")
	other := f.ensureValue(t, 1, "20", "")
	division := f.ensureValue(t, 2, "03", "")
	natural := f.ensureValue(t, 3, "4000", "")

	// Missing position.
	_, err := f.svc.Create(f.ctx, domain.CreateAccountRequest{
		SegmentValueIDs: []snowflake.ID{company.ID, division.ID},
		Attributes:      f.attrs,
	})
	assert.ErrorIs(t, err, domain.ErrIncompleteSegments)

	// Two values for the same position.
	_, err = f.svc.Create(f.ctx, domain.CreateAccountRequest{
		SegmentValueIDs: []snowflake.ID{company.ID, other.ID, natural.ID},
		Attributes:      f.attrs,
	})
	assert.ErrorIs(t, err, domain.ErrValueWrongPosition)

	// Unknown value id.
	_, err = f.svc.Create(f.ctx, domain.CreateAccountRequest{
		SegmentValueIDs: []snowflake.ID{company.ID, division.ID, snowflake.ID(999)},
		Attributes:      f.attrs,
	})
	assert.ErrorIs(t, err, segmentdomain.ErrValueNotFound)
}

func TestCreateRejectsInactiveValue(t *testing.T) {
	f := newFixture(t, 0, plainScheme()...)
	ids := []snowflake.ID{
		f.ensureValue(t, 1, "10", "").ID,
		f.ensureValue(t, 2, "03", "").ID,
	}
	natural := f.ensureValue(t, 3, "4000", "")
	require.NoError(t, f.segSvc.DeactivateValue(f.ctx, natural.ID))

	_, err := f.svc.Create(f.ctx, domain.CreateAccountRequest{
		SegmentValueIDs: append(ids, natural.ID),
		Attributes:      f.attrs,
	})
	assert.ErrorIs(t, err, domain.ErrInactiveSegmentValue)
}

func TestCreateRejectsInvalidClassification(t *testing.T) {
	f := newFixture(t, 0, plainScheme()...)

	_, err := f.svc.Create(f.ctx, domain.CreateAccountRequest{
		Attributes: domain.Attributes{Name: "Bad", Classification: "made_up"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidClassification)
}

func TestCreateFromDefaultsResolvesHandlers(t *testing.T) {
	// Tenant 910 keeps its rightmost two digits as the company code.
	f := newFixture(t, snowflake.ID(910),
		segmentdomain.CreateDefinitionRequest{Position: 1, Length: 2, Description: "Company", Handler: segmentdomain.HandlerTenantID},
		segmentdomain.CreateDefinitionRequest{Position: 2, Length: 2, Description: "Division", Handler: segmentdomain.HandlerFixed, HandlerArg: "00"},
		segmentdomain.CreateDefinitionRequest{Position: 3, Length: 4, Description: "Natural Account"},
	)

	account, err := f.svc.CreateFromDefaults(f.ctx, domain.CreateFromDefaultsRequest{
		TerminalCode:        "4000",
		TerminalDescription: "Cash",
		Attributes:          f.attrs,
	})
	require.NoError(t, err)
	assert.Equal(t, "10-00-4000", account.Code)

	// Resolved codes were ensured into the catalog.
	values, err := f.segSvc.ListValues(f.ctx, f.defs[0].ID)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, "10", values[0].Code)
}

func TestCreateFromDefaultsAllocatesSequence(t *testing.T) {
	f := newFixture(t, snowflake.ID(910),
		segmentdomain.CreateDefinitionRequest{Position: 1, Length: 2, Description: "Company", Handler: segmentdomain.HandlerTenantID},
		segmentdomain.CreateDefinitionRequest{Position: 2, Length: 3, Description: "Branch", Handler: segmentdomain.HandlerSequence},
		segmentdomain.CreateDefinitionRequest{Position: 3, Length: 4, Description: "Natural Account"},
	)

	first, err := f.svc.CreateFromDefaults(f.ctx, domain.CreateFromDefaultsRequest{
		TerminalCode: "4000", Attributes: f.attrs,
	})
	require.NoError(t, err)
	assert.Equal(t, "10-001-4000", first.Code)

	second, err := f.svc.CreateFromDefaults(f.ctx, domain.CreateFromDefaultsRequest{
		TerminalCode: "5000", Attributes: f.attrs,
	})
	require.NoError(t, err)
	assert.Equal(t, "10-002-5000", second.Code)
}

func TestCreateFromDefaultsValidatesTerminalValue(t *testing.T) {
	f := newFixture(t, snowflake.ID(910),
		segmentdomain.CreateDefinitionRequest{Position: 1, Length: 2, Description: "Company", Handler: segmentdomain.HandlerTenantID},
		segmentdomain.CreateDefinitionRequest{Position: 2, Length: 4, Description: "Natural Account"},
	)
	companyValue := f.ensureValue(t, 1, "10", "")
	natural := f.ensureValue(t, 2, "4000", "")

	// A value from a non-terminal position cannot serve as the terminal.
	_, err := f.svc.CreateFromDefaults(f.ctx, domain.CreateFromDefaultsRequest{
		TerminalValueID: companyValue.ID,
		Attributes:      f.attrs,
	})
	assert.ErrorIs(t, err, domain.ErrValueWrongPosition)

	require.NoError(t, f.segSvc.DeactivateValue(f.ctx, natural.ID))
	_, err = f.svc.CreateFromDefaults(f.ctx, domain.CreateFromDefaultsRequest{
		TerminalValueID: natural.ID,
		Attributes:      f.attrs,
	})
	assert.ErrorIs(t, err, domain.ErrInactiveSegmentValue)
}

func TestUpdateTerminalSegmentRecomputesCode(t *testing.T) {
	f := newFixture(t, 0, plainScheme()...)
	company := f.ensureValue(t, 1, "10", "Company 10")
	division := f.ensureValue(t, 2, "03", "Division 03")
	cash := f.ensureValue(t, 3, "4000", "Cash")
	receivable := f.ensureValue(t, 3, "4100", "Receivable")

	account, err := f.svc.Create(f.ctx, domain.CreateAccountRequest{
		SegmentValueIDs: []snowflake.ID{company.ID, division.ID, cash.ID},
		Attributes:      f.attrs,
	})
	require.NoError(t, err)

	updated, err := f.svc.UpdateTerminalSegment(f.ctx, account.ID, receivable.ID)
	require.NoError(t, err)
	assert.Equal(t, "10-03-4100", updated.Code)
	assert.Equal(t, "Company 10 / Division 03 / Receivable", updated.Descriptor)

	// Non-terminal values are rejected outright.
	_, err = f.svc.UpdateTerminalSegment(f.ctx, account.ID, division.ID)
	assert.ErrorIs(t, err, domain.ErrSegmentNotTerminal)

	// Swapping into a code already taken by another account fails.
	other, err := f.svc.Create(f.ctx, domain.CreateAccountRequest{
		SegmentValueIDs: []snowflake.ID{company.ID, division.ID, cash.ID},
		Attributes:      f.attrs,
	})
	require.NoError(t, err)
	_, err = f.svc.UpdateTerminalSegment(f.ctx, other.ID, receivable.ID)
	assert.ErrorIs(t, err, domain.ErrDuplicateAccount)
}

func TestSearchByPatternIntersectsPositions(t *testing.T) {
	f := newFixture(t, 0, plainScheme()...)
	company := f.ensureValue(t, 1, "10", "")
	div03 := f.ensureValue(t, 2, "03", "")
	div04 := f.ensureValue(t, 2, "04", "")
	cash := f.ensureValue(t, 3, "4000", "")
	receivable := f.ensureValue(t, 3, "4100", "")

	for _, ids := range [][]snowflake.ID{
		{company.ID, div03.ID, cash.ID},
		{company.ID, div03.ID, receivable.ID},
		{company.ID, div04.ID, cash.ID},
	} {
		_, err := f.svc.Create(f.ctx, domain.CreateAccountRequest{SegmentValueIDs: ids, Attributes: f.attrs})
		require.NoError(t, err)
	}

	matches, err := f.svc.SearchByPattern(f.ctx, domain.SearchPattern{2: "03"})
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	matches, err = f.svc.SearchByPattern(f.ctx, domain.SearchPattern{2: "03", 3: "4000"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "10-03-4000", matches[0].Code)

	matches, err = f.svc.SearchByPattern(f.ctx, domain.SearchPattern{2: "99"})
	require.NoError(t, err)
	assert.Empty(t, matches)

	_, err = f.svc.SearchByPattern(f.ctx, domain.SearchPattern{9: "00"})
	assert.ErrorIs(t, err, domain.ErrValueWrongPosition)
}

func TestSetActive(t *testing.T) {
	f := newFixture(t, 0, plainScheme()...)
	account, err := f.svc.Create(f.ctx, domain.CreateAccountRequest{
		SegmentValueIDs: []snowflake.ID{
			f.ensureValue(t, 1, "10", "").ID,
			f.ensureValue(t, 2, "03", "").ID,
			f.ensureValue(t, 3, "4000", "").ID,
		},
		Attributes: f.attrs,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.SetActive(f.ctx, account.ID, false))
	got, err := f.svc.GetByID(f.ctx, account.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	require.NoError(t, f.svc.SetActive(f.ctx, account.ID, true))
	assert.ErrorIs(t, f.svc.SetActive(f.ctx, snowflake.ID(999), false), domain.ErrAccountNotFound)
}

package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/ledgercore/internal/segment/domain"
	"github.com/smallbiznis/ledgercore/internal/segment/repository"
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
	} {
		require.NoError(t, db.Exec(ddl).Error)
	}
	return db
}

func newSegmentService(t *testing.T, db *gorm.DB) (*Service, context.Context) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	resolvers, err := NewResolverRegistry(sequence.NewAllocator())
	require.NoError(t, err)

	svc := NewService(Params{
		DB:        db,
		Log:       zaptest.NewLogger(t),
		GenID:     node,
		Repo:      repository.Provide(),
		Resolvers: resolvers,
	})
	ctx := tenantctx.WithTenantID(context.Background(), node.Generate())
	return svc, ctx
}

func seedDefinitions(t *testing.T, svc *Service, ctx context.Context, lengths ...int) []domain.SegmentDefinition {
	t.Helper()
	defs := make([]domain.SegmentDefinition, 0, len(lengths))
	for i, length := range lengths {
		def, err := svc.CreateDefinition(ctx, domain.CreateDefinitionRequest{
			Position:    i + 1,
			Length:      length,
			Description: fmt.Sprintf("segment %d", i+1),
		})
		require.NoError(t, err)
		defs = append(defs, def)
	}
	return defs
}

func TestCreateDefinitionEnforcesContiguousPositions(t *testing.T) {
	svc, ctx := newSegmentService(t, newTestDB(t))

	_, err := svc.CreateDefinition(ctx, domain.CreateDefinitionRequest{Position: 2, Length: 2})
	assert.ErrorIs(t, err, domain.ErrPositionNotContiguous)

	first, err := svc.CreateDefinition(ctx, domain.CreateDefinitionRequest{Position: 1, Length: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Position)

	_, err = svc.CreateDefinition(ctx, domain.CreateDefinitionRequest{Position: 3, Length: 4})
	assert.ErrorIs(t, err, domain.ErrPositionNotContiguous)

	_, err = svc.CreateDefinition(ctx, domain.CreateDefinitionRequest{Position: 2, Length: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidLength)
}

func TestCreateDefinitionRejectsUnknownHandler(t *testing.T) {
	svc, ctx := newSegmentService(t, newTestDB(t))

	_, err := svc.CreateDefinition(ctx, domain.CreateDefinitionRequest{
		Position: 1,
		Length:   2,
		Handler:  domain.HandlerKey("made_up"),
	})
	assert.ErrorIs(t, err, domain.ErrUnknownHandler)
}

func TestTerminalDefinitionIsHighestPosition(t *testing.T) {
	svc, ctx := newSegmentService(t, newTestDB(t))
	seedDefinitions(t, svc, ctx, 2, 2, 4)

	terminal, err := svc.TerminalDefinition(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, terminal.Position)
	assert.Equal(t, 4, terminal.Length)
}

func TestEnsureValueIsIdempotent(t *testing.T) {
	svc, ctx := newSegmentService(t, newTestDB(t))
	defs := seedDefinitions(t, svc, ctx, 2)

	first, err := svc.EnsureValue(ctx, domain.EnsureValueRequest{
		SegmentID:   defs[0].ID,
		Code:        "10",
		Description: "Company 10",
	})
	require.NoError(t, err)

	second, err := svc.EnsureValue(ctx, domain.EnsureValueRequest{
		SegmentID:   defs[0].ID,
		Code:        "10",
		Description: "Company ten",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Company ten", second.Description)

	values, err := svc.ListValues(ctx, defs[0].ID)
	require.NoError(t, err)
	assert.Len(t, values, 1)
}

func TestEnsureValueEnforcesWidth(t *testing.T) {
	svc, ctx := newSegmentService(t, newTestDB(t))
	defs := seedDefinitions(t, svc, ctx, 2)

	_, err := svc.EnsureValue(ctx, domain.EnsureValueRequest{SegmentID: defs[0].ID, Code: "100"})
	assert.ErrorIs(t, err, domain.ErrCodeWidthMismatch)

	_, err = svc.EnsureValue(ctx, domain.EnsureValueRequest{SegmentID: defs[0].ID, Code: ""})
	assert.ErrorIs(t, err, domain.ErrInvalidCode)
}

func TestLengthImmutableOnceValuesExist(t *testing.T) {
	svc, ctx := newSegmentService(t, newTestDB(t))
	defs := seedDefinitions(t, svc, ctx, 2)

	// Length may change while the segment has no values.
	newLength := 3
	updated, err := svc.UpdateDefinition(ctx, domain.UpdateDefinitionRequest{
		ID:     defs[0].ID,
		Length: &newLength,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Length)

	_, err = svc.EnsureValue(ctx, domain.EnsureValueRequest{SegmentID: defs[0].ID, Code: "100"})
	require.NoError(t, err)

	shorter := 2
	_, err = svc.UpdateDefinition(ctx, domain.UpdateDefinitionRequest{
		ID:     defs[0].ID,
		Length: &shorter,
	})
	assert.ErrorIs(t, err, domain.ErrLengthImmutable)
}

func TestDeactivateAndActivateValue(t *testing.T) {
	svc, ctx := newSegmentService(t, newTestDB(t))
	defs := seedDefinitions(t, svc, ctx, 2)

	value, err := svc.EnsureValue(ctx, domain.EnsureValueRequest{SegmentID: defs[0].ID, Code: "10"})
	require.NoError(t, err)

	require.NoError(t, svc.DeactivateValue(ctx, value.ID))
	got, err := svc.GetValue(ctx, value.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	require.NoError(t, svc.ActivateValue(ctx, value.ID))
	got, err = svc.GetValue(ctx, value.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)

	assert.ErrorIs(t, svc.DeactivateValue(ctx, snowflake.ID(999)), domain.ErrValueNotFound)
}

func TestValuesAreTenantScoped(t *testing.T) {
	db := newTestDB(t)
	svc, ctx := newSegmentService(t, db)
	defs := seedDefinitions(t, svc, ctx, 2)

	value, err := svc.EnsureValue(ctx, domain.EnsureValueRequest{SegmentID: defs[0].ID, Code: "10"})
	require.NoError(t, err)

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	otherCtx := tenantctx.WithTenantID(context.Background(), node.Generate())
	_, err = svc.GetValue(otherCtx, value.ID)
	assert.ErrorIs(t, err, domain.ErrValueNotFound)
}

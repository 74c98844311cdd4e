package tenantctx

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantIDRoundTrip(t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	tenantID := node.Generate()

	ctx := WithTenantID(context.Background(), tenantID)
	got, ok := TenantIDFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, tenantID, got)
}

func TestTenantIDFromForeignValues(t *testing.T) {
	// Callers outside this module may stash the raw int64 or its string form.
	ctx := context.WithValue(context.Background(), TenantContextKey{}, int64(910))
	got, ok := TenantIDFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, snowflake.ID(910), got)

	ctx = context.WithValue(context.Background(), TenantContextKey{}, "910")
	got, ok = TenantIDFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, snowflake.ID(910), got)

	_, ok = TenantIDFromContext(context.Background())
	assert.False(t, ok)
}

func TestActorDefaultsToSystem(t *testing.T) {
	assert.Equal(t, "system", ActorFromContext(context.Background()))

	ctx := WithActor(context.Background(), "jordan@example.com")
	assert.Equal(t, "jordan@example.com", ActorFromContext(ctx))

	ctx = WithActor(context.Background(), "   ")
	assert.Equal(t, "system", ActorFromContext(ctx))
}

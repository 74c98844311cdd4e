package sequence

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	db.Exec(`CREATE TABLE sequence_counters (
		tenant_id BIGINT NOT NULL,
		counter_key TEXT NOT NULL,
		scope TEXT NOT NULL,
		next_value BIGINT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (tenant_id, counter_key, scope)
	)`)
	return db
}

func TestNextIsMonotonicPerScope(t *testing.T) {
	db := newTestDB(t)
	node, _ := snowflake.NewNode(1)
	tenantID := node.Generate()
	alloc := NewAllocator()
	ctx := context.Background()

	for want := int64(1); want <= 5; want++ {
		got, err := alloc.Next(ctx, db, tenantID, "ledger_txn", "2025-01")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// Different scope starts over.
	got, err := alloc.Next(ctx, db, tenantID, "ledger_txn", "2025-02")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestNextIsTenantScoped(t *testing.T) {
	db := newTestDB(t)
	node, _ := snowflake.NewNode(1)
	alloc := NewAllocator()
	ctx := context.Background()

	first, err := alloc.Next(ctx, db, node.Generate(), "account_seq", "")
	require.NoError(t, err)
	second, err := alloc.Next(ctx, db, node.Generate(), "account_seq", "")
	require.NoError(t, err)

	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(1), second)
}

func TestNextRollsBackWithTransaction(t *testing.T) {
	db := newTestDB(t)
	node, _ := snowflake.NewNode(1)
	tenantID := node.Generate()
	alloc := NewAllocator()
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		n, err := alloc.Next(ctx, tx, tenantID, "ledger_txn", "2025-01")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return assert.AnError
	})
	require.Error(t, err)

	n, err := alloc.Next(ctx, db, tenantID, "ledger_txn", "2025-01")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "rolled back allocation must not leave a gap")
}

func TestNextValidation(t *testing.T) {
	db := newTestDB(t)
	alloc := NewAllocator()
	ctx := context.Background()

	_, err := alloc.Next(ctx, db, 0, "k", "")
	assert.ErrorIs(t, err, ErrInvalidTenant)

	node, _ := snowflake.NewNode(1)
	_, err = alloc.Next(ctx, db, node.Generate(), "  ", "")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

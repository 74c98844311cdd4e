package sequence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ledgercore/pkg/violation"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Module provides the counter allocator.
var Module = fx.Module("sequence",
	fx.Provide(NewAllocator),
)

var (
	ErrInvalidTenant = violation.Structural("invalid_tenant")
	ErrInvalidKey    = violation.Structural("invalid_counter_key")
	// ErrContention surfaces when the counter row vanished mid-allocation;
	// callers retry inside a fresh transaction.
	ErrContention = violation.Environment("counter_contention")
)

// Allocator hands out gap-free numbers per (tenant, key, scope).
//
// Allocation runs inside the caller's transaction: the UPDATE takes the row
// lock, so concurrent allocations serialize on the database and roll back
// together with the enclosing operation.
type Allocator interface {
	Next(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, key, scope string) (int64, error)
}

type allocator struct{}

func NewAllocator() Allocator {
	return &allocator{}
}

func (a *allocator) Next(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, key, scope string) (int64, error) {
	if tenantID == 0 {
		return 0, ErrInvalidTenant
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, ErrInvalidKey
	}

	now := time.Now().UTC()
	if err := tx.WithContext(ctx).Exec(
		`INSERT INTO sequence_counters (tenant_id, counter_key, scope, next_value, updated_at)
		 VALUES (?, ?, ?, 0, ?)
		 ON CONFLICT (tenant_id, counter_key, scope) DO NOTHING`,
		tenantID, key, scope, now,
	).Error; err != nil {
		return 0, fmt.Errorf("ensure counter row: %w", err)
	}

	var next int64
	result := tx.WithContext(ctx).Raw(
		`UPDATE sequence_counters
		 SET next_value = next_value + 1, updated_at = ?
		 WHERE tenant_id = ? AND counter_key = ? AND scope = ?
		 RETURNING next_value`,
		now, tenantID, key, scope,
	).Scan(&next)
	if result.Error != nil {
		return 0, fmt.Errorf("increment counter: %w", result.Error)
	}
	if result.RowsAffected == 0 || next == 0 {
		return 0, ErrContention
	}

	return next, nil
}

package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/smallbiznis/ledgercore/internal/segment/domain"
	"github.com/smallbiznis/ledgercore/internal/sequence"
	"gorm.io/gorm"
)

// NewResolverRegistry wires the built-in default-value resolvers.
func NewResolverRegistry(alloc sequence.Allocator) (*domain.ResolverRegistry, error) {
	registry := domain.NewResolverRegistry()

	entries := map[domain.HandlerKey]domain.ValueResolver{
		domain.HandlerTenantID:       &tenantIDResolver{},
		domain.HandlerParentTenantID: &parentTenantIDResolver{},
		domain.HandlerFixed:          &fixedResolver{},
		domain.HandlerSequence:       &sequenceResolver{alloc: alloc},
	}
	for key, resolver := range entries {
		if err := registry.Register(key, resolver); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// tenantIDResolver derives the code from the decimal tenant ID, keeping the
// rightmost digits that fit the segment width.
type tenantIDResolver struct{}

func (r *tenantIDResolver) Resolve(_ context.Context, _ *gorm.DB, def domain.SegmentDefinition, in domain.ResolveInput) (string, error) {
	if in.TenantID == 0 {
		return "", domain.ErrInvalidTenant
	}
	return fitDigits(strconv.FormatInt(in.TenantID.Int64(), 10), def.Length), nil
}

type parentTenantIDResolver struct{}

func (r *parentTenantIDResolver) Resolve(_ context.Context, _ *gorm.DB, def domain.SegmentDefinition, in domain.ResolveInput) (string, error) {
	source := in.ParentTenantID
	if source == 0 {
		source = in.TenantID
	}
	if source == 0 {
		return "", domain.ErrInvalidTenant
	}
	return fitDigits(strconv.FormatInt(source.Int64(), 10), def.Length), nil
}

// fixedResolver returns the configured literal, zero-padded to the width.
type fixedResolver struct{}

func (r *fixedResolver) Resolve(_ context.Context, _ *gorm.DB, def domain.SegmentDefinition, _ domain.ResolveInput) (string, error) {
	literal := strings.TrimSpace(def.HandlerArg)
	if literal == "" {
		return "", fmt.Errorf("fixed handler for position %d has no literal: %w", def.Position, domain.ErrInvalidCode)
	}
	if len(literal) > def.Length {
		return "", domain.ErrCodeWidthMismatch
	}
	return strings.Repeat("0", def.Length-len(literal)) + literal, nil
}

// sequenceResolver allocates the next number for the segment, scoped per
// tenant, and formats it at the segment width.
type sequenceResolver struct {
	alloc sequence.Allocator
}

func (r *sequenceResolver) Resolve(ctx context.Context, tx *gorm.DB, def domain.SegmentDefinition, in domain.ResolveInput) (string, error) {
	if in.TenantID == 0 {
		return "", domain.ErrInvalidTenant
	}
	key := "segment_value:" + def.ID.String()
	n, err := r.alloc.Next(ctx, tx, in.TenantID, key, "")
	if err != nil {
		return "", err
	}
	code := strconv.FormatInt(n, 10)
	if len(code) > def.Length {
		return "", domain.ErrCodeWidthMismatch
	}
	return strings.Repeat("0", def.Length-len(code)) + code, nil
}

func fitDigits(digits string, width int) string {
	if len(digits) > width {
		return digits[len(digits)-width:]
	}
	return strings.Repeat("0", width-len(digits)) + digits
}

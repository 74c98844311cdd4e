package domain

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ResolveInput carries the caller context a resolver may derive a code from.
type ResolveInput struct {
	TenantID       snowflake.ID
	ParentTenantID snowflake.ID
}

// ValueResolver derives the default code for a segment when the caller did
// not supply one. Implementations run inside the account-creation
// transaction; the returned code is ensured into the catalog by the caller.
type ValueResolver interface {
	Resolve(ctx context.Context, tx *gorm.DB, def SegmentDefinition, in ResolveInput) (string, error)
}

// ResolverRegistry maps handler keys to resolver implementations.
// Populated once at startup; lookups never touch configuration strings.
type ResolverRegistry struct {
	mu        sync.RWMutex
	resolvers map[HandlerKey]ValueResolver
}

func NewResolverRegistry() *ResolverRegistry {
	return &ResolverRegistry{resolvers: make(map[HandlerKey]ValueResolver)}
}

func (r *ResolverRegistry) Register(key HandlerKey, resolver ValueResolver) error {
	if key == HandlerNone {
		return fmt.Errorf("resolver key cannot be empty")
	}
	if resolver == nil {
		return fmt.Errorf("resolver for %q cannot be nil", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.resolvers[key]; exists {
		return fmt.Errorf("resolver %q already registered", key)
	}
	r.resolvers[key] = resolver
	return nil
}

func (r *ResolverRegistry) Lookup(key HandlerKey) (ValueResolver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	resolver, ok := r.resolvers[key]
	return resolver, ok
}

func (r *ResolverRegistry) Keys() []HandlerKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]HandlerKey, 0, len(r.resolvers))
	for key := range r.resolvers {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"vellum/internal/derived"
	"vellum/internal/registry"
)

// Context scopes one processing run. It owns the registry for the run and
// holds the run's identity in the derived-computation cache; Close releases
// the cached derived values so short-lived runs do not accumulate.
type Context struct {
	id      uuid.UUID
	reg     *registry.Registry
	derived *derived.Cache
}

// NewContext creates a processing context over the given registry and
// derived cache.
func NewContext(reg *registry.Registry, cache *derived.Cache) *Context {
	return &Context{
		id:      uuid.New(),
		reg:     reg,
		derived: cache,
	}
}

// ID returns the context identity used to key derived computations.
func (c *Context) ID() uuid.UUID { return c.id }

// Registry returns the registry owned by this context.
func (c *Context) Registry() *registry.Registry { return c.reg }

// TypeTable returns the union of declared resource kinds mapped to their
// sorted URLs, memoized per registry snapshot. Consumers must use this
// accessor rather than recomputing the table themselves.
func (c *Context) TypeTable(ctx context.Context) (map[string][]string, error) {
	v, err := c.derived.GetOrCompute(ctx, c.id, derived.KindTypeTable, func(context.Context) (any, error) {
		table := make(map[string][]string)
		for _, res := range c.reg.List("") {
			kind := res.Kind
			if kind == "" {
				kind = "Unknown"
			}
			table[kind] = append(table[kind], res.URL)
		}
		for kind := range table {
			sort.Strings(table[kind])
		}
		return table, nil
	})
	if err != nil {
		return nil, err
	}
	table, ok := v.(map[string][]string)
	if !ok {
		return nil, fmt.Errorf("type table has unexpected type %T", v)
	}
	return table, nil
}

// NameIndex returns the sorted distinct URLs, memoized per registry snapshot.
func (c *Context) NameIndex(ctx context.Context) ([]string, error) {
	v, err := c.derived.GetOrCompute(ctx, c.id, derived.KindNameIndex, func(context.Context) (any, error) {
		return c.reg.Names(), nil
	})
	if err != nil {
		return nil, err
	}
	names, ok := v.([]string)
	if !ok {
		return nil, fmt.Errorf("name index has unexpected type %T", v)
	}
	return names, nil
}

// Close releases the derived values cached for this context.
func (c *Context) Close() {
	c.derived.Release(c.id)
}

package graph

import (
	"sync"

	"github.com/arbiterhq/arbiter/internal/rules"
	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/internal/value"
)

// ShapeCache caches built graphs per request shape. The shape of a request
// is its goal type plus the set of available type names, order-insensitive.
// Construction failures are cached too: a shape that failed once fails the
// same way forever, since the registry is sealed before serving.
type ShapeCache struct {
	mu      sync.RWMutex
	entries map[string]shapeEntry
}

type shapeEntry struct {
	graph *Graph
	err   *BuildError
}

// NewShapeCache creates an empty shape cache.
func NewShapeCache() *ShapeCache {
	return &ShapeCache{entries: make(map[string]shapeEntry)}
}

// Build returns the graph for the given shape, building it on first use.
func (c *ShapeCache) Build(reg *rules.Registry, goal *types.Type, available []*types.Type) (*Graph, error) {
	if goal == nil {
		return Build(reg, goal, available)
	}

	names := make([]string, len(available))
	for i, t := range available {
		names[i] = t.String()
	}
	key := value.ShapeKey(goal.String(), names)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return entry.graph, asError(entry.err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[key]; ok {
		return entry.graph, asError(entry.err)
	}

	g, err := Build(reg, goal, available)
	entry = shapeEntry{graph: g}
	if err != nil {
		be, isBuild := err.(*BuildError)
		if !isBuild {
			return nil, err
		}
		entry.err = be
	}
	c.entries[key] = entry
	return entry.graph, asError(entry.err)
}

// Len returns the number of cached shapes, successes and failures both.
func (c *ShapeCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// asError avoids a typed-nil error interface when the entry succeeded.
func asError(be *BuildError) error {
	if be == nil {
		return nil
	}
	return be
}

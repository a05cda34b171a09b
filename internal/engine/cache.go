package engine

import (
	"context"
	"sync"

	"github.com/arbiterhq/arbiter/internal/value"
)

// entryState tracks the lifecycle of one cache entry.
type entryState int

const (
	entryInFlight entryState = iota + 1
	entryCompleted
	entryFailed
)

// entry is one memoized (rule, input tuple) execution. The done channel
// closes exactly once, when the entry transitions out of in-flight; after
// that the value and error fields are immutable.
type entry struct {
	key    string
	ruleID string
	done   chan struct{}

	state entryState
	value value.Value
	err   error
}

// await blocks until the entry completes or the context is cancelled.
func (e *entry) await(ctx context.Context) (value.Value, error) {
	select {
	case <-e.done:
		if e.state == entryFailed {
			return nil, e.err
		}
		return e.value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cache is the session-scoped memoization cache. Keys are content hashes of
// (rule ID, canonical input tuple). Check-and-create is atomic: of any number
// of concurrent requests for one key, exactly one creates the entry and runs
// the body; the rest await the same entry. Failures are cached like values.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func newCache() *Cache {
	return &Cache{entries: make(map[string]*entry)}
}

// lookup returns the entry for key, creating an in-flight entry when absent.
// created reports whether this caller owns the execution.
func (c *Cache) lookup(key, ruleID string) (ent *entry, created bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ent, ok := c.entries[key]; ok {
		return ent, false
	}
	ent = &entry{
		key:    key,
		ruleID: ruleID,
		done:   make(chan struct{}),
		state:  entryInFlight,
	}
	c.entries[key] = ent
	return ent, true
}

// complete records a successful result and wakes every waiter.
func (c *Cache) complete(ent *entry, v value.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ent.state != entryInFlight {
		return
	}
	ent.state = entryCompleted
	ent.value = v
	close(ent.done)
}

// fail records a failure and wakes every waiter.
func (c *Cache) fail(ent *entry, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ent.state != entryInFlight {
		return
	}
	ent.state = entryFailed
	ent.err = err
	close(ent.done)
}

// FailPending resolves every still-in-flight entry to err so no waiter
// blocks forever. Called when a session aborts.
func (c *Cache) FailPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ent := range c.entries {
		if ent.state == entryInFlight {
			ent.state = entryFailed
			ent.err = err
			close(ent.done)
		}
	}
}

// Len returns the number of entries, in any state.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns the cache keys in unspecified order. Diagnostics helper.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	return out
}

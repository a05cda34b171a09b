package engine

import (
	"sort"
	"sync"
)

// TraceKind labels one step of a session's execution.
type TraceKind string

const (
	// TraceRequest marks the start of a root or nested request.
	TraceRequest TraceKind = "request"
	// TraceTaskStart marks a rule body about to execute.
	TraceTaskStart TraceKind = "task-start"
	// TraceTaskDone marks a rule body that returned a value.
	TraceTaskDone TraceKind = "task-done"
	// TraceTaskFail marks a rule body that returned an error.
	TraceTaskFail TraceKind = "task-fail"
	// TraceCacheHit marks a key served from the session cache without
	// invoking the body (completed or awaited in-flight).
	TraceCacheHit TraceKind = "cache-hit"
	// TraceStoreHit marks a key served from the cross-session store.
	TraceStoreHit TraceKind = "store-hit"
	// TraceSuspend marks a body suspending on a sub-request.
	TraceSuspend TraceKind = "suspend"
	// TraceResume marks a body resuming after its sub-request resolved.
	TraceResume TraceKind = "resume"
	// TraceResolved marks a request that produced its goal value.
	TraceResolved TraceKind = "resolved"
)

// TraceEvent is one logically-clocked step in a session.
type TraceEvent struct {
	// Seq is the session-local logical timestamp.
	Seq int64 `json:"seq" yaml:"seq"`
	// Kind labels the step.
	Kind TraceKind `json:"kind" yaml:"kind"`
	// Rule is the rule ID, when the step concerns a rule.
	Rule string `json:"rule,omitempty" yaml:"rule,omitempty"`
	// Type is the goal or output type name, when the step concerns one.
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
	// Key is the cache key, when the step concerns a cache entry.
	Key string `json:"key,omitempty" yaml:"key,omitempty"`
}

// traceBuffer accumulates events for one session.
// Thread-safe: independent branches record concurrently.
type traceBuffer struct {
	mu     sync.Mutex
	events []TraceEvent
}

func (b *traceBuffer) record(ev TraceEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

// snapshot returns the events recorded so far, ordered by Seq.
func (b *traceBuffer) snapshot() []TraceEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]TraceEvent, len(b.events))
	copy(out, b.events)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

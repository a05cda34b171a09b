package engine

// Session is the per-Resolve execution context: a correlation token, a
// logical clock, the memoization cache, and the trace buffer. Sessions are
// never reused or shared across requests; nested sub-requests issued by rule
// bodies run inside the session of the request that spawned them.
type Session struct {
	// Token correlates every trace event and log line of one request.
	Token string

	// Clock stamps trace events with session-local logical time.
	Clock *Clock

	// Cache memoizes rule executions for the lifetime of the session.
	Cache *Cache

	trace *traceBuffer
}

func newSession(token string) *Session {
	return &Session{
		Token: token,
		Clock: NewClock(),
		Cache: newCache(),
		trace: &traceBuffer{},
	}
}

// record appends a trace event stamped with the next clock tick.
func (s *Session) record(kind TraceKind, ev TraceEvent) {
	ev.Seq = s.Clock.Next()
	ev.Kind = kind
	s.trace.record(ev)
}

// Trace returns the events recorded so far, ordered by logical time.
func (s *Session) Trace() []TraceEvent {
	return s.trace.snapshot()
}

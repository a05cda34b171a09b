// Package engine executes rule graphs: it owns sessions, the per-session
// memoization cache, dependency-ordered node execution, and suspend/resume
// sub-requests issued by rule bodies.
//
// An Engine is constructed once over a sealed rule registry and serves any
// number of Resolve calls. Each Resolve runs in its own Session with a fresh
// cache; nothing session-scoped is ever shared across requests.
package engine

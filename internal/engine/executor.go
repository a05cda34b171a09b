package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/arbiterhq/arbiter/internal/graph"
	"github.com/arbiterhq/arbiter/internal/rules"
	"github.com/arbiterhq/arbiter/internal/types"
	"github.com/arbiterhq/arbiter/internal/value"
)

// executor runs one graph against one session. Nested sub-requests get a
// child executor with the same session and an incremented depth.
type executor struct {
	eng   *Engine
	sess  *Session
	depth int

	// active holds the cache keys executing on this call chain. A nested
	// request landing back on one of them would await its own entry and
	// deadlock, so it fails instead.
	active map[string]bool
}

// run executes the graph and returns the root value. With one worker, nodes
// execute sequentially in topological order, which keeps traces reproducible;
// with more, independent branches run concurrently under a bounded semaphore.
// On failure every still-in-flight cache entry is resolved to the failure so
// no waiter blocks forever.
func (x *executor) run(ctx context.Context, g *graph.Graph, roots rules.Params) (value.Value, error) {
	x.sess.record(TraceRequest, TraceEvent{Type: g.Goal.String()})

	var (
		rootVal value.Value
		err     error
	)
	if x.eng.workers <= 1 {
		rootVal, err = x.runSequential(ctx, g, roots)
	} else {
		rootVal, err = x.runConcurrent(ctx, g, roots)
	}
	if err != nil {
		// Only the root request aborts the session; a failed sub-request
		// surfaces to the suspended body, which may still handle it.
		if x.depth == 0 {
			x.sess.Cache.FailPending(err)
		}
		return nil, err
	}

	x.sess.record(TraceResolved, TraceEvent{Type: g.Goal.String()})
	return rootVal, nil
}

func (x *executor) runSequential(ctx context.Context, g *graph.Graph, roots rules.Params) (value.Value, error) {
	results := make(map[*graph.Node]value.Value, len(g.Nodes))
	for _, n := range g.Nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := x.executeNode(ctx, n, roots, func(dep *graph.Node) value.Value {
			return results[dep]
		})
		if err != nil {
			return nil, err
		}
		results[n] = v
	}
	return results[g.Root], nil
}

func (x *executor) runConcurrent(ctx context.Context, g *graph.Graph, roots rules.Params) (value.Value, error) {
	type task struct {
		done chan struct{}
		val  value.Value
		err  error
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// firstErr holds the failure that triggered cancellation. Dependents can
	// observe the cancelled run context before the failing task closes its
	// done channel, so the root error must come from here, never from the
	// cancellation cascade.
	var (
		failMu   sync.Mutex
		firstErr error
	)
	recordFailure := func(err error) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		failMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		failMu.Unlock()
	}

	tasks := make(map[*graph.Node]*task, len(g.Nodes))
	for _, n := range g.Nodes {
		tasks[n] = &task{done: make(chan struct{})}
	}
	sem := make(chan struct{}, x.eng.workers)

	for _, n := range g.Nodes {
		n := n
		t := tasks[n]
		go func() {
			defer close(t.done)

			for _, dep := range n.Dependencies() {
				dt := tasks[dep]
				select {
				case <-dt.done:
				case <-runCtx.Done():
					t.err = runCtx.Err()
					return
				}
				if dt.err != nil {
					t.err = dt.err
					return
				}
			}

			select {
			case sem <- struct{}{}:
			case <-runCtx.Done():
				t.err = runCtx.Err()
				return
			}
			defer func() { <-sem }()

			// A body already running completes normally; cancellation is
			// observed here, before the next body starts.
			if err := runCtx.Err(); err != nil {
				t.err = err
				return
			}

			t.val, t.err = x.executeNode(ctx, n, roots, func(dep *graph.Node) value.Value {
				return tasks[dep].val
			})
			if t.err != nil {
				recordFailure(t.err)
				cancel()
			}
		}()
	}

	root := tasks[g.Root]
	<-root.done
	if root.err != nil {
		failMu.Lock()
		err := firstErr
		failMu.Unlock()
		if err != nil {
			return nil, err
		}
		return nil, root.err
	}
	return root.val, nil
}

// executeNode memoizes one node execution: assemble the input tuple, derive
// the cache key, and either await an existing entry or own a new one. Owners
// consult the cross-session store before invoking the body and populate it
// after a success.
func (x *executor) executeNode(ctx context.Context, n *graph.Node, roots rules.Params, depValue func(*graph.Node) value.Value) (value.Value, error) {
	inputs := make([]value.Value, len(n.Inputs))
	named := make(map[string]value.Value, len(n.Inputs))
	for i, in := range n.Inputs {
		var v value.Value
		switch in.Kind {
		case graph.SourceRoot:
			rv, ok := roots.Get(in.RootType)
			if !ok {
				return nil, fmt.Errorf("rule %s: no fact of type %s bound at execution", n.Rule.ID, in.RootType)
			}
			v = rv
		case graph.SourceRule:
			v = depValue(in.Node)
		default:
			return nil, fmt.Errorf("rule %s: parameter %q has no source", n.Rule.ID, in.Param.Name)
		}
		inputs[i] = v
		named[in.Param.Name] = v
	}

	key, err := value.InvocationKey(n.Rule.ID, inputs)
	if err != nil {
		return nil, fmt.Errorf("derive cache key for rule %s: %w", n.Rule.ID, err)
	}
	if x.active[key] {
		return nil, fmt.Errorf("rule %s: re-entrant request for its own in-flight computation", n.Rule.ID)
	}

	ent, created := x.sess.Cache.lookup(key, n.Rule.ID)
	if !created {
		x.sess.record(TraceCacheHit, TraceEvent{Rule: n.Rule.ID, Key: key})
		return ent.await(ctx)
	}

	if x.eng.store != nil {
		if stored, ok, serr := x.eng.store.Get(ctx, key); serr != nil {
			slog.Warn("result store read failed, executing body",
				"rule", n.Rule.ID,
				"key", key,
				"session", x.sess.Token,
				"error", serr,
			)
		} else if ok {
			x.sess.record(TraceStoreHit, TraceEvent{Rule: n.Rule.ID, Key: key})
			x.sess.Cache.complete(ent, stored)
			return stored, nil
		}
	}

	x.sess.record(TraceTaskStart, TraceEvent{Rule: n.Rule.ID, Key: key})
	slog.Debug("executing rule",
		"rule", n.Rule.ID,
		"session", x.sess.Token,
		"depth", x.depth,
	)

	env := &runEnv{x: x, rule: n.Rule, key: key, inputs: named}
	out, err := n.Rule.Body(ctx, env)
	if err != nil {
		ee := &ExecutionError{RuleID: n.Rule.ID, Inputs: inputs, Err: err}
		x.sess.Cache.fail(ent, ee)
		x.sess.record(TraceTaskFail, TraceEvent{Rule: n.Rule.ID, Key: key})
		return nil, ee
	}

	x.sess.Cache.complete(ent, out)
	x.sess.record(TraceTaskDone, TraceEvent{Rule: n.Rule.ID, Key: key})

	if x.eng.store != nil {
		if serr := x.eng.store.Put(ctx, key, n.Rule.ID, out); serr != nil {
			slog.Warn("result store write failed",
				"rule", n.Rule.ID,
				"key", key,
				"session", x.sess.Token,
				"error", serr,
			)
		}
	}
	return out, nil
}

// runEnv is what a rule body sees: its bound inputs plus Get for dynamic
// sub-requests against the same session.
type runEnv struct {
	x      *executor
	rule   *rules.Rule
	key    string
	inputs map[string]value.Value
}

// Input returns the value bound to a declared parameter.
// Panics on an undeclared name: that is a rule programming error.
func (e *runEnv) Input(name string) value.Value {
	v, ok := e.inputs[name]
	if !ok {
		panic(fmt.Sprintf("rule %s: no parameter named %q", e.rule.ID, name))
	}
	return v
}

// Get suspends the body on a nested request: the output type is resolved
// against the session cache with the engine facts plus the given facts as
// root inputs, and the body resumes with the result.
func (e *runEnv) Get(ctx context.Context, output *types.Type, facts ...rules.Fact) (value.Value, error) {
	x := e.x
	extra, err := rules.NewParams(facts...)
	if err != nil {
		return nil, fmt.Errorf("rule %s sub-request for %s: %w", e.rule.ID, output, err)
	}
	roots := x.eng.engineParams().Merge(extra)

	// A fact of the requested type satisfies the request directly: no graph
	// is built and no body runs. Facts outrank derivation.
	if v, ok := roots.Get(output); ok {
		return v, nil
	}

	if x.depth+1 > x.eng.maxDepth {
		return nil, fmt.Errorf("rule %s requesting %s: %w (limit %d)",
			e.rule.ID, output, ErrMaxDepthExceeded, x.eng.maxDepth)
	}

	g, err := x.eng.shapes.Build(x.eng.rules, output, roots.Types())
	if err != nil {
		return nil, err
	}

	x.sess.record(TraceSuspend, TraceEvent{Rule: e.rule.ID, Type: output.String()})
	slog.Debug("body suspended on sub-request",
		"rule", e.rule.ID,
		"goal", output.String(),
		"session", x.sess.Token,
		"depth", x.depth+1,
	)

	active := make(map[string]bool, len(x.active)+1)
	for k := range x.active {
		active[k] = true
	}
	active[e.key] = true

	sub := &executor{eng: x.eng, sess: x.sess, depth: x.depth + 1, active: active}
	v, err := sub.run(ctx, g, roots)

	x.sess.record(TraceResume, TraceEvent{Rule: e.rule.ID, Type: output.String()})
	if err != nil {
		return nil, err
	}
	return v, nil
}

package engine

import (
	"context"

	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/compiler"
	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/registry"
)

// runIDContextKey threads the active run id through context so runners
// that need to register cancellable state per-run (the sandbox runner's
// live-container index) can recover it inside Execute without the
// interface signature itself carrying it.
type runIDContextKey struct{}

// WithRunID attaches runID to ctx. The executor calls this once per run
// before dispatching any node.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDContextKey{}, runID)
}

// RunIDFromContext recovers the run id attached by WithRunID, if any.
func RunIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDContextKey{}).(string)
	return id, ok
}

// Runner executes one compiled node's invocation (spec.md §4.5). Multiple
// runners may coexist; the registry dispatches by runtime kind to the
// first whose CanHandle reports true. Builtin runners are registered ahead
// of sandbox runners; reserved builtin type names are protected by the
// catalog, whose Lookup resolves builtins before custom nodes.
type Runner interface {
	CanHandle(runtime registry.RuntimeKind) bool
	Execute(ctx context.Context, node compiler.CompiledNode, inputs []Artifact) NodeResult
	Cancel(runID string) bool
}

// RunnerRegistry maps a runtime kind to the runner that serves it (spec.md
// §4.5 "Runner Registry (C5)").
type RunnerRegistry struct {
	runners []Runner
}

// NewRunnerRegistry creates an empty registry; register runners with
// Register in priority order (builtins first).
func NewRunnerRegistry() *RunnerRegistry {
	return &RunnerRegistry{}
}

// Register appends r to the dispatch chain.
func (rr *RunnerRegistry) Register(r Runner) {
	rr.runners = append(rr.runners, r)
}

// Resolve returns the first registered runner that can handle runtime.
func (rr *RunnerRegistry) Resolve(runtime registry.RuntimeKind) (Runner, bool) {
	for _, r := range rr.runners {
		if r.CanHandle(runtime) {
			return r, true
		}
	}
	return nil, false
}

// CancelAll asks every registered runner to cancel runID's in-flight work.
// It returns true if at least one runner reported cancelling something.
func (rr *RunnerRegistry) CancelAll(runID string) bool {
	cancelled := false
	for _, r := range rr.runners {
		if r.Cancel(runID) {
			cancelled = true
		}
	}
	return cancelled
}

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/compiler"
	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/registry"
)

// fakeRunner executes every node instantly, optionally failing or hanging
// on specific node ids for cancellation/timeout tests.
type fakeRunner struct {
	fail     map[string]bool
	hang     map[string]bool
	handles  registry.RuntimeKind
	cancelled map[string]bool
}

func (f *fakeRunner) CanHandle(rt registry.RuntimeKind) bool { return rt == f.handles }

func (f *fakeRunner) Execute(ctx context.Context, node compiler.CompiledNode, inputs []Artifact) NodeResult {
	if f.hang[node.ID] {
		select {
		case <-ctx.Done():
			return NodeResult{NodeID: node.ID, Status: StatusCancelled, Err: &NodeError{Category: ErrCategoryCancelled, NodeID: node.ID, Message: "cancelled"}}
		case <-time.After(5 * time.Second):
		}
	}
	if f.fail[node.ID] {
		return NodeResult{NodeID: node.ID, Status: StatusFailed, Err: &NodeError{Category: ErrCategoryRuntime, NodeID: node.ID, Message: "boom"}}
	}
	return NodeResult{NodeID: node.ID, Status: StatusSuccess, Artifact: &Artifact{Kind: registry.ArtifactDataframe}}
}

func (f *fakeRunner) Cancel(runID string) bool {
	if f.cancelled == nil {
		f.cancelled = map[string]bool{}
	}
	f.cancelled[runID] = true
	return true
}

func linearIR() *compiler.IR {
	return &compiler.IR{Nodes: []compiler.CompiledNode{
		{ID: "a", Runtime: registry.RuntimeBuiltin},
		{ID: "b", Runtime: registry.RuntimeBuiltin, DependsOn: []string{"a"}},
		{ID: "c", Runtime: registry.RuntimeBuiltin, DependsOn: []string{"b"}},
	}}
}

func TestExecutor_LinearPipeline_Success(t *testing.T) {
	defer goleak.VerifyNone(t)
	runners := NewRunnerRegistry()
	runners.Register(&fakeRunner{handles: registry.RuntimeBuiltin})
	exec, err := NewExecutor(runners, WithConcurrency(2))
	require.NoError(t, err)
	defer exec.Release()

	run := exec.Execute(context.Background(), "run1", "pipe1", linearIR())
	require.Equal(t, RunCompleted, run.Status)
	require.Len(t, run.Results, 3)
	require.Contains(t, run.FinalOutputs, "c")
}

func TestExecutor_FailFast_MarksRunFailedAndStopsDownstream(t *testing.T) {
	defer goleak.VerifyNone(t)
	runners := NewRunnerRegistry()
	runners.Register(&fakeRunner{handles: registry.RuntimeBuiltin, fail: map[string]bool{"b": true}})
	exec, err := NewExecutor(runners, WithConcurrency(2))
	require.NoError(t, err)
	defer exec.Release()

	run := exec.Execute(context.Background(), "run2", "pipe1", linearIR())
	require.Equal(t, RunFailed, run.Status)
	require.Contains(t, run.Results, "a")
	require.Contains(t, run.Results, "b")
	require.NotContains(t, run.Results, "c", "c depends on failed b and must never start")
}

func TestExecutor_Cancel_MidRun(t *testing.T) {
	defer goleak.VerifyNone(t)
	runner := &fakeRunner{handles: registry.RuntimeBuiltin, hang: map[string]bool{"a": true}}
	runners := NewRunnerRegistry()
	runners.Register(runner)
	exec, err := NewExecutor(runners, WithConcurrency(2))
	require.NoError(t, err)
	defer exec.Release()

	done := make(chan *Run, 1)
	go func() {
		done <- exec.Execute(context.Background(), "run3", "pipe1", linearIR())
	}()
	time.Sleep(50 * time.Millisecond)
	require.True(t, exec.Cancel("run3"))

	select {
	case run := <-done:
		require.Equal(t, RunCancelled, run.Status)
		require.True(t, runner.cancelled["run3"])
	case <-time.After(2 * time.Second):
		t.Fatal("execute did not return after cancel")
	}
}

func TestExecutor_NodeTimeout_MarksStatusTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)
	runners := NewRunnerRegistry()
	runners.Register(&fakeRunner{handles: registry.RuntimeBuiltin, hang: map[string]bool{"a": true}})
	exec, err := NewExecutor(runners, WithDefaultTimeout(20*time.Millisecond))
	require.NoError(t, err)
	defer exec.Release()

	run := exec.Execute(context.Background(), "run5", "pipe1", linearIR())
	require.Equal(t, RunFailed, run.Status)
	require.Equal(t, StatusTimeout, run.Results["a"].Status)
	require.Equal(t, ErrCategoryTimeout, run.Results["a"].Err.Category)
}

func TestExecutor_UnknownRuntime_InfrastructureError(t *testing.T) {
	defer goleak.VerifyNone(t)
	runners := NewRunnerRegistry()
	exec, err := NewExecutor(runners)
	require.NoError(t, err)
	defer exec.Release()

	ir := &compiler.IR{Nodes: []compiler.CompiledNode{{ID: "a", Runtime: registry.RuntimeCustomJS}}}
	run := exec.Execute(context.Background(), "run4", "pipe1", ir)
	require.Equal(t, RunFailed, run.Status)
	require.Equal(t, StatusFailed, run.Results["a"].Status)
	require.Equal(t, ErrCategoryInfra, run.Results["a"].Err.Category)
}

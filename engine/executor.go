package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/compiler"
	"github.com/adaptiveX-gh/EdgeQL-sub000/log"
)

// DefaultConcurrency bounds how many nodes may run at once when the caller
// does not override it with WithConcurrency.
const DefaultConcurrency = 8

// DefaultNodeTimeout is the per-node wall-clock budget the executor applies
// to every node unless WithDefaultTimeout replaces it (spec.md §4.6). No
// per-node manifest value is consulted; a runner's own shorter deadline can
// end a node earlier, but none can extend this budget.
const DefaultNodeTimeout = 60 * time.Second

// Executor dispatches a compiled IR's nodes in topological order,
// respecting dependencies, via a bounded ants worker pool (spec.md §4.8
// "Executor (C8)").
type Executor struct {
	runners        *RunnerRegistry
	pool           *ants.PoolWithFunc
	defaultTimeout time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	flags   map[string]*atomic.Bool
}

// Option configures an Executor.
type Option func(*options)

type options struct {
	concurrency    int
	defaultTimeout time.Duration
}

// WithConcurrency overrides the worker pool size.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// WithDefaultTimeout overrides the per-node wall-clock budget applied to
// every node.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *options) { o.defaultTimeout = d }
}

// NewExecutor creates an Executor dispatching through runners.
func NewExecutor(runners *RunnerRegistry, opts ...Option) (*Executor, error) {
	resolved := options{concurrency: DefaultConcurrency, defaultTimeout: DefaultNodeTimeout}
	for _, opt := range opts {
		opt(&resolved)
	}

	e := &Executor{
		runners:        runners,
		defaultTimeout: resolved.defaultTimeout,
		cancels:        make(map[string]context.CancelFunc),
		flags:          make(map[string]*atomic.Bool),
	}
	pool, err := ants.NewPoolWithFunc(resolved.concurrency, e.runTask)
	if err != nil {
		return nil, fmt.Errorf("create executor pool: %w", err)
	}
	e.pool = pool
	return e, nil
}

// Release stops the underlying worker pool. Call once the executor is no
// longer needed.
func (e *Executor) Release() {
	e.pool.Release()
}

type nodeOutcome struct {
	nodeID string
	result NodeResult
}

// taskParam is pooled to avoid an allocation per node dispatch (mirrors
// the evaluation service's sync.Pool-recycled pool params).
type taskParam struct {
	executor *Executor
	ctx      context.Context
	runID    string
	node     compiler.CompiledNode
	inputs   []Artifact
	out      chan<- nodeOutcome
}

func (p *taskParam) reset() {
	p.executor = nil
	p.ctx = nil
	p.runID = ""
	p.node = compiler.CompiledNode{}
	p.inputs = nil
	p.out = nil
}

var taskParamPool = &sync.Pool{New: func() any { return new(taskParam) }}

func (e *Executor) runTask(args any) {
	param, ok := args.(*taskParam)
	if !ok {
		panic("engine: executor pool args type error")
	}
	out := param.out
	ctx, node, inputs := param.ctx, param.node, param.inputs
	defer func() {
		param.reset()
		taskParamPool.Put(param)
	}()

	runner, ok := e.runners.Resolve(node.Runtime)
	if !ok {
		out <- nodeOutcome{nodeID: node.ID, result: NodeResult{
			NodeID: node.ID, Status: StatusFailed,
			Err: &NodeError{Category: ErrCategoryInfra, NodeID: node.ID,
				Message: fmt.Sprintf("no runner registered for runtime %q", node.Runtime)},
		}}
		return
	}

	nodeCtx, cancel := context.WithTimeout(ctx, e.defaultTimeout)
	defer cancel()

	start := time.Now()
	result := runner.Execute(nodeCtx, node, inputs)
	if nodeCtx.Err() == context.DeadlineExceeded && result.Status != StatusSuccess {
		result.Status = StatusTimeout
		result.Err = &NodeError{Category: ErrCategoryTimeout, NodeID: node.ID,
			Message: fmt.Sprintf("node %s exceeded its %s wall-clock budget", node.ID, e.defaultTimeout)}
		result.ExecutionTime = time.Since(start)
	}
	out <- nodeOutcome{nodeID: node.ID, result: result}
}

// Execute runs ir to completion (or to its first failure, or to external
// cancellation) and returns the terminal Run record (spec.md §4.8).
func (e *Executor) Execute(ctx context.Context, runID, pipelineID string, ir *compiler.IR) *Run {
	run := &Run{
		ID: runID, PipelineID: pipelineID, Status: RunRunning, StartedAt: time.Now(),
		Results: make(map[string]NodeResult), FinalOutputs: make(map[string]Artifact),
	}

	runCtx, cancel := context.WithCancel(WithRunID(ctx, runID))
	cancelRequested := &atomic.Bool{}
	e.mu.Lock()
	e.cancels[runID] = cancel
	e.flags[runID] = cancelRequested
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, runID)
		delete(e.flags, runID)
		e.mu.Unlock()
		cancel()
	}()

	byID := make(map[string]compiler.CompiledNode, len(ir.Nodes))
	inDegree := make(map[string]int, len(ir.Nodes))
	dependents := make(map[string][]string, len(ir.Nodes))
	for _, n := range ir.Nodes {
		byID[n.ID] = n
		inDegree[n.ID] = len(n.DependsOn)
		for _, dep := range n.DependsOn {
			dependents[dep] = append(dependents[dep], n.ID)
		}
	}

	var artifactsMu sync.Mutex
	artifacts := make(map[string]Artifact, len(ir.Nodes))
	outcomeCh := make(chan nodeOutcome, len(ir.Nodes))

	inFlight := 0
	failed := false
	var runErr error

	dispatch := func(id string) {
		node := byID[id]
		inputs := make([]Artifact, 0, len(node.DependsOn))
		artifactsMu.Lock()
		for _, dep := range node.DependsOn {
			inputs = append(inputs, artifacts[dep])
		}
		artifactsMu.Unlock()

		param := taskParamPool.Get().(*taskParam)
		param.executor, param.ctx, param.runID, param.node, param.inputs, param.out = e, runCtx, runID, node, inputs, outcomeCh
		inFlight++
		if err := e.pool.Invoke(param); err != nil {
			param.reset()
			taskParamPool.Put(param)
			outcomeCh <- nodeOutcome{nodeID: id, result: NodeResult{
				NodeID: id, Status: StatusFailed,
				Err: &NodeError{Category: ErrCategoryInfra, NodeID: id, Message: fmt.Sprintf("submit node %s: %v", id, err)},
			}}
		}
	}

	for _, n := range ir.Nodes {
		if inDegree[n.ID] == 0 {
			dispatch(n.ID)
		}
	}

	completed := 0
	for completed < len(ir.Nodes) && inFlight > 0 {
		outcome := <-outcomeCh
		inFlight--
		completed++
		run.Results[outcome.nodeID] = outcome.result

		if outcome.result.Status == StatusSuccess {
			if outcome.result.Artifact != nil {
				artifactsMu.Lock()
				artifacts[outcome.nodeID] = *outcome.result.Artifact
				artifactsMu.Unlock()
			}
		} else if !failed {
			failed = true
			runErr = outcome.result.Err
			cancel()
			e.runners.CancelAll(runID)
		}

		if failed {
			continue // drain in-flight nodes; never dispatch new ones
		}
		for _, dependent := range dependents[outcome.nodeID] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				dispatch(dependent)
			}
		}
	}

	run.EndedAt = time.Now()
	switch {
	case cancelRequested.Load():
		run.Status = RunCancelled
	case failed:
		run.Status = RunFailed
		run.Err = runErr
	default:
		run.Status = RunCompleted
		for _, id := range ir.FinalOutputs() {
			if a, ok := artifacts[id]; ok {
				run.FinalOutputs[id] = a
			}
		}
	}
	log.Infof("run %s finished: status=%s nodes=%d", runID, run.Status, len(run.Results))
	return run
}

// Cancel requests termination of an in-flight run (spec.md §4.8 "cancel
// (runId) -> bool"). It returns false if runID is not currently executing.
func (e *Executor) Cancel(runID string) bool {
	e.mu.Lock()
	cancel, ok := e.cancels[runID]
	flag := e.flags[runID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	if flag != nil {
		flag.Store(true)
	}
	cancel()
	e.runners.CancelAll(runID)
	return true
}

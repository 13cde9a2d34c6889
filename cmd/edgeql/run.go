package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/adaptiveX-gh/EdgeQL-sub000/engine"
	"github.com/adaptiveX-gh/EdgeQL-sub000/engine/builtinrunner"
	"github.com/adaptiveX-gh/EdgeQL-sub000/engine/sandbox"
	"github.com/adaptiveX-gh/EdgeQL-sub000/log"
	"github.com/adaptiveX-gh/EdgeQL-sub000/storage"
)

// buildRunnerRegistry wires the builtin runner ahead of the sandbox runner
// (spec.md §4.5). The two serve disjoint runtime kinds; a custom node
// cannot take a builtin type name because the catalog resolves builtins
// first. Sandbox runner construction talks
// to the local Docker daemon; its absence is reported as an IO error (exit
// code 2) rather than a validation failure.
func buildRunnerRegistry(datasets builtinrunner.DatasetProvider, datasetDir, customNodesDir string) (*engine.RunnerRegistry, *sandbox.Runner, error) {
	rr := engine.NewRunnerRegistry()
	rr.Register(builtinrunner.NewRunner(datasets))

	sb, err := sandbox.NewRunner(
		sandbox.WithDatasetDir(datasetDir),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("start sandbox runner: %w", err)
	}
	rr.Register(sb)
	return rr, sb, nil
}

func runRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	customNodes := fs.String("custom-nodes", "", "directory of custom node manifests to discover")
	datasetDir := fs.String("dataset-dir", "", "directory of datasets the DataLoaderNode and sandboxed nodes may read")
	pipelineID := fs.String("pipeline-id", "", "pipeline id to record against the run (defaults to the file name)")
	concurrency := fs.Int("concurrency", engine.DefaultConcurrency, "maximum number of nodes executing concurrently")
	timeout := fs.Duration("node-timeout", engine.DefaultNodeTimeout, "default per-node wall-clock budget")
	persist := fs.Bool("persist", false, "record the run in an in-memory store and print its id")
	if err := fs.Parse(args); err != nil {
		return &exitError{code: 2, msg: err.Error()}
	}
	if fs.NArg() != 1 {
		return &exitError{code: 2, msg: "usage: edgeql run [-dataset-dir dir] [-custom-nodes dir] <pipeline-file>"}
	}
	path := fs.Arg(0)
	if *pipelineID == "" {
		*pipelineID = path
	}

	catalog, err := buildCatalog(*customNodes)
	if err != nil {
		return &exitError{code: 2, msg: err.Error()}
	}

	ir, report, err := parseAndCompile(path, catalog)
	if err != nil {
		return err
	}
	if report != nil {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Fprintln(os.Stderr, string(data))
		return &exitError{code: 1, msg: "validation failed"}
	}

	datasets := &builtinrunner.FilesystemDatasetProvider{Root: *datasetDir}
	runners, sb, err := buildRunnerRegistry(datasets, *datasetDir, *customNodes)
	if err != nil {
		return &exitError{code: 2, msg: err.Error()}
	}
	defer sb.Close()

	executor, err := engine.NewExecutor(runners, engine.WithConcurrency(*concurrency), engine.WithDefaultTimeout(*timeout))
	if err != nil {
		return &exitError{code: 2, msg: fmt.Sprintf("create executor: %v", err)}
	}
	defer executor.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	log.Infof("run %s: executing pipeline %s (%d nodes)", runID, *pipelineID, len(ir.Nodes))
	run := executor.Execute(ctx, runID, *pipelineID, ir)

	if *persist {
		store := storage.NewInMemoryStore()
		if err := store.SaveRun(ctx, storage.RunRecord{PipelineID: *pipelineID, Run: *run}); err != nil {
			log.Warnf("run %s: persist failed: %v", runID, err)
		}
	}

	summary := struct {
		RunID   string                        `json:"run_id"`
		Status  engine.RunStatus              `json:"status"`
		Started time.Time                     `json:"started_at"`
		Ended   time.Time                     `json:"ended_at"`
		Results map[string]engine.NodeResult  `json:"results"`
		Outputs map[string]engine.Artifact    `json:"final_outputs,omitempty"`
	}{
		RunID: run.ID, Status: run.Status, Started: run.StartedAt, Ended: run.EndedAt,
		Results: run.Results, Outputs: run.FinalOutputs,
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return &exitError{code: 2, msg: fmt.Sprintf("marshal run summary: %v", err)}
	}
	fmt.Println(string(data))

	if run.Status == engine.RunFailed {
		return &exitError{code: 1, msg: fmt.Sprintf("run %s failed: %v", run.ID, run.Err)}
	}
	return nil
}

package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	archive "github.com/moby/go-archive"

	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/compiler"
	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/registry"
	"github.com/adaptiveX-gh/EdgeQL-sub000/engine"
)

const (
	containerNodeCodePath = "/mnt/node"
	inputDescriptorName   = "input.json"
	outputDescriptorName  = "output.json"
)

var unsafeContainerNameChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// containerName derives a stable, idempotent name from runId+nodeId
// (spec.md §4.6 "Assign a stable container name derived from runId +
// nodeId to make cleanup idempotent").
func containerName(runID, nodeID string) string {
	return "edgeql-" + unsafeContainerNameChars.ReplaceAllString(runID+"-"+nodeID, "-")
}

func entryCommand(rt registry.RuntimeKind, entryPoint string) ([]string, error) {
	base := containerNodeCodePath + "/" + filepath.Base(entryPoint)
	switch rt {
	case registry.RuntimeCustomJS:
		return []string{"node", base}, nil
	case registry.RuntimeCustomPython:
		return []string{"python3", base}, nil
	case registry.RuntimeCustomWasm:
		return []string{"wasmedge", base}, nil
	default:
		return nil, fmt.Errorf("sandbox: no entry command for runtime %q", rt)
	}
}

// Execute provisions one ephemeral container for node, stages its inputs,
// runs it to completion (or to timeout/cancellation), and demarshals its
// output descriptor into a NodeResult (spec.md §4.6, the full lifecycle).
func (r *Runner) Execute(ctx context.Context, node compiler.CompiledNode, inputs []engine.Artifact) engine.NodeResult {
	runID, _ := engine.RunIDFromContext(ctx)
	start := time.Now()

	image, ok := r.images[node.Runtime]
	if !ok {
		return infraFailure(node.ID, fmt.Sprintf("no sandbox image configured for runtime %q", node.Runtime), start)
	}
	if node.EntryPoint == "" {
		return infraFailure(node.ID, "custom node has no entry point", start)
	}
	cmd, err := entryCommand(node.Runtime, node.EntryPoint)
	if err != nil {
		return infraFailure(node.ID, err.Error(), start)
	}

	workHost, err := os.MkdirTemp(r.hostWorkBase, "edgeql-run-")
	if err != nil {
		return infraFailure(node.ID, fmt.Sprintf("create working directory: %v", err), start)
	}
	defer os.RemoveAll(workHost)

	if err := writeInputDescriptor(workHost, runID, node, inputs); err != nil {
		return infraFailure(node.ID, fmt.Sprintf("write input descriptor: %v", err), start)
	}

	hc := r.hostConfig()

	name := containerName(runID, node.ID)
	createCtx, cancelCreate := context.WithTimeout(ctx, 10*time.Second)
	resp, err := r.client.ContainerCreate(createCtx, &container.Config{
		Image:      image,
		Cmd:        cmd,
		WorkingDir: containerMountPath,
		User:       "1000:1000",
	}, hc, nil, nil, name)
	cancelCreate()
	if err != nil {
		return engine.NodeResult{
			NodeID: node.ID, Status: engine.StatusFailed, ExecutionTime: time.Since(start),
			Err: &engine.NodeError{Category: engine.ErrCategoryInfra, NodeID: node.ID,
				Message: fmt.Sprintf("create container: %v", err)},
		}
	}
	r.registerContainer(runID, name, resp.ID)
	defer func() {
		r.unregisterContainer(runID, name)
		_ = r.client.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
	}()

	if err := r.stageDirectory(ctx, resp.ID, workHost, containerMountPath); err != nil {
		return infraFailure(node.ID, fmt.Sprintf("stage working directory: %v", err), start)
	}
	if err := r.stageDirectory(ctx, resp.ID, filepath.Dir(node.EntryPoint), containerNodeCodePath); err != nil {
		return infraFailure(node.ID, fmt.Sprintf("stage node code: %v", err), start)
	}

	nodeTimeout := r.nodeTimeout(node)
	runCtx, cancelRun := context.WithTimeout(ctx, nodeTimeout)
	defer cancelRun()

	if err := r.client.ContainerStart(runCtx, resp.ID, container.StartOptions{}); err != nil {
		return engine.NodeResult{
			NodeID: node.ID, Status: engine.StatusFailed, ExecutionTime: time.Since(start),
			Err: &engine.NodeError{Category: engine.ErrCategoryInfra, NodeID: node.ID,
				Message: fmt.Sprintf("start container: %v", err)},
		}
	}

	statusCh, errCh := r.client.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int64
	var waitErr error
	select {
	case err := <-errCh:
		waitErr = err
	case st := <-statusCh:
		exitCode = st.StatusCode
	case <-runCtx.Done():
		waitErr = runCtx.Err()
	}

	resources := r.sampleResourceUsage(resp.ID)
	logs := r.collectLogs(resp.ID)
	elapsed := time.Since(start)

	if errors.Is(waitErr, context.DeadlineExceeded) || (waitErr == nil && runCtx.Err() == context.DeadlineExceeded) {
		_ = r.client.ContainerStop(context.Background(), resp.ID, container.StopOptions{})
		return engine.NodeResult{
			NodeID: node.ID, Status: engine.StatusTimeout, ExecutionTime: elapsed, Logs: logs, Resources: resources,
			Err: &engine.NodeError{Category: engine.ErrCategoryTimeout, NodeID: node.ID,
				Message: fmt.Sprintf("node %s exceeded its %s wall-clock budget", node.ID, nodeTimeout),
				LogTail: tail(logs, 20)},
		}
	}
	if ctx.Err() != nil {
		return engine.NodeResult{
			NodeID: node.ID, Status: engine.StatusCancelled, ExecutionTime: elapsed, Logs: logs, Resources: resources,
			Err: &engine.NodeError{Category: engine.ErrCategoryCancelled, NodeID: node.ID, Message: "run cancelled"},
		}
	}
	if waitErr != nil {
		return engine.NodeResult{
			NodeID: node.ID, Status: engine.StatusFailed, ExecutionTime: elapsed, Logs: logs, Resources: resources,
			Err: &engine.NodeError{Category: engine.ErrCategoryInfra, NodeID: node.ID,
				Message: fmt.Sprintf("wait for container: %v", waitErr)},
		}
	}

	if oom := containerOOMKilled(r, resp.ID); oom {
		return engine.NodeResult{
			NodeID: node.ID, Status: engine.StatusFailed, ExecutionTime: elapsed, Logs: logs, Resources: resources,
			Err: &engine.NodeError{Category: engine.ErrCategoryResource, NodeID: node.ID,
				Message: fmt.Sprintf("node %s exceeded its %dMiB memory limit", node.ID, r.memoryCapMiB),
				LogTail: tail(logs, 20)},
		}
	}

	if exitCode != 0 {
		return engine.NodeResult{
			NodeID: node.ID, Status: engine.StatusFailed, ExecutionTime: elapsed, Logs: logs, Resources: resources,
			Err: &engine.NodeError{Category: engine.ErrCategoryRuntime, NodeID: node.ID,
				Message: fmt.Sprintf("node %s exited with code %d: %s", node.ID, exitCode, firstStderrLine(logs)),
				LogTail: tail(logs, 20)},
		}
	}

	artifact, err := r.readOutputDescriptor(resp.ID, node)
	if err != nil {
		return engine.NodeResult{
			NodeID: node.ID, Status: engine.StatusFailed, ExecutionTime: elapsed, Logs: logs, Resources: resources,
			Err: &engine.NodeError{Category: engine.ErrCategoryProtocol, NodeID: node.ID,
				Message: fmt.Sprintf("output descriptor: %v", err), LogTail: tail(logs, 20)},
		}
	}

	return engine.NodeResult{
		NodeID: node.ID, Status: engine.StatusSuccess, ExecutionTime: elapsed,
		Artifact: artifact, Logs: logs, Resources: resources,
	}
}

func (r *Runner) nodeTimeout(node compiler.CompiledNode) time.Duration {
	if v, ok := node.Params["__timeout_seconds"].(float64); ok && v > 0 {
		return time.Duration(v * float64(time.Second))
	}
	if v, ok := node.Params["__timeout_seconds"].(int); ok && v > 0 {
		return time.Duration(v) * time.Second
	}
	return DefaultNodeTimeout
}

// stageDirectory tars hostDir (mirroring the teacher's PutDirectory use of
// archive.TarWithOptions) and copies it into the container at destPath via
// CopyToContainer, creating destPath if it does not already exist.
func (r *Runner) stageDirectory(ctx context.Context, containerID, hostDir, destPath string) error {
	tr, err := archive.TarWithOptions(hostDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("tar %s: %w", hostDir, err)
	}
	defer tr.Close()
	return r.client.CopyToContainer(ctx, containerID, destPath, tr, container.CopyToContainerOptions{})
}

func infraFailure(nodeID, msg string, start time.Time) engine.NodeResult {
	return engine.NodeResult{
		NodeID: nodeID, Status: engine.StatusFailed, ExecutionTime: time.Since(start),
		Err: &engine.NodeError{Category: engine.ErrCategoryInfra, NodeID: nodeID, Message: msg},
	}
}

func writeInputDescriptor(workHost, runID string, node compiler.CompiledNode, inputs []engine.Artifact) error {
	desc := inputDescriptor{
		NodeType: node.Type,
		Params:   node.Params,
		Context: executionContext{
			RunID: runID, NodeID: node.ID,
			MountPath: containerMountPath, DatasetMount: containerDatasetPath,
		},
	}
	for i, in := range inputs {
		payload, err := json.Marshal(artifactWire{Kind: in.Kind, Frame: dataframeWire(in.Frame), Backtest: in.Backtest})
		if err != nil {
			return fmt.Errorf("marshal input %d: %w", i, err)
		}
		if len(payload) > inlineThresholdBytes {
			name := fmt.Sprintf("input_%d.json", i)
			if err := os.WriteFile(filepath.Join(workHost, name), payload, 0o644); err != nil {
				return fmt.Errorf("stage input %d: %w", i, err)
			}
			desc.Inputs = append(desc.Inputs, inputPort{Kind: in.Kind, FilePath: containerMountPath + "/" + name})
			continue
		}
		desc.Inputs = append(desc.Inputs, inputPort{Kind: in.Kind, Inline: payload})
	}

	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(workHost, inputDescriptorName), data, 0o644)
}

// artifactWire is the JSON shape an artifact takes over the sandbox wire
// protocol, independent of the in-process engine.Artifact layout.
type artifactWire struct {
	Kind     registry.ArtifactKind   `json:"kind"`
	Frame    *dataframeWireBody      `json:"frame,omitempty"`
	Backtest *engine.BacktestResults `json:"backtest,omitempty"`
}

type dataframeWireBody struct {
	Columns    []string         `json:"columns"`
	Timestamps []time.Time      `json:"timestamps"`
	Rows       []engine.Row     `json:"rows"`
}

func dataframeWire(f *engine.Dataframe) *dataframeWireBody {
	if f == nil {
		return nil
	}
	return &dataframeWireBody{Columns: f.Columns, Timestamps: f.Timestamps, Rows: f.Rows}
}

// readOutputDescriptor reads and parses an output descriptor from a plain
// host directory. Used directly by tests; the live container path instead
// reads the descriptor out of the container via CopyFromContainer (see
// (*Runner).readOutputDescriptor below) and calls parseOutputDescriptor
// with the resulting bytes.
func readOutputDescriptor(workHost string, node compiler.CompiledNode) (*engine.Artifact, error) {
	data, err := os.ReadFile(filepath.Join(workHost, outputDescriptorName))
	if err != nil {
		return nil, fmt.Errorf("missing output descriptor: %w", err)
	}
	return parseOutputDescriptor(data, node)
}

// readOutputDescriptor copies the output descriptor out of a (stopped)
// container's working directory via CopyFromContainer and parses it
// (spec.md §4.6 "Output demarshalling").
func (r *Runner) readOutputDescriptor(containerID string, node compiler.CompiledNode) (*engine.Artifact, error) {
	rc, _, err := r.client.CopyFromContainer(context.Background(), containerID,
		containerMountPath+"/"+outputDescriptorName)
	if err != nil {
		return nil, fmt.Errorf("missing output descriptor: %w", err)
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	if _, err := tr.Next(); err != nil {
		return nil, fmt.Errorf("missing output descriptor: %w", err)
	}
	data, err := io.ReadAll(tr)
	if err != nil {
		return nil, fmt.Errorf("read output descriptor: %w", err)
	}
	return parseOutputDescriptor(data, node)
}

func parseOutputDescriptor(data []byte, node compiler.CompiledNode) (*engine.Artifact, error) {
	var out outputDescriptor
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("malformed output descriptor: %w", err)
	}
	var body dataframeWireBody
	if len(out.Payload) > 0 {
		if err := json.Unmarshal(out.Payload, &body); err != nil {
			return nil, fmt.Errorf("malformed output payload: %w", err)
		}
	}
	artifact := &engine.Artifact{Kind: out.Kind}
	if len(body.Columns) > 0 || len(body.Rows) > 0 {
		artifact.Frame = &engine.Dataframe{Columns: body.Columns, Timestamps: body.Timestamps, Rows: body.Rows}
	}
	if expect := node.ResolvedOutput.Columns; len(expect) > 0 && artifact.Frame != nil {
		for _, col := range expect {
			if !artifact.Frame.HasColumn(col) {
				return nil, fmt.Errorf("output missing declared column %q", col)
			}
		}
	}
	return artifact, nil
}

func (r *Runner) collectLogs(containerID string) []engine.LogEntry {
	ctx := context.Background()
	rc, err := r.client.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return nil
	}

	var entries []engine.LogEntry
	offset := 0
	for _, line := range strings.Split(stdout.String(), "\n") {
		if line == "" {
			continue
		}
		entries = append(entries, engine.LogEntry{Offset: offset, Timestamp: time.Now(), Level: "info", Source: "stdout", Message: line})
		offset++
	}
	for _, line := range strings.Split(stderr.String(), "\n") {
		if line == "" {
			continue
		}
		entries = append(entries, engine.LogEntry{Offset: offset, Timestamp: time.Now(), Level: "error", Source: "stderr", Message: line})
		offset++
	}
	return entries
}

func firstStderrLine(logs []engine.LogEntry) string {
	for _, l := range logs {
		if l.Source == "stderr" {
			return l.Message
		}
	}
	return "(no stderr captured)"
}

func tail(logs []engine.LogEntry, n int) []engine.LogEntry {
	if len(logs) <= n {
		return logs
	}
	return logs[len(logs)-n:]
}

func (r *Runner) sampleResourceUsage(containerID string) engine.ResourceUsage {
	ctx := context.Background()
	resp, err := r.client.ContainerStatsOneShot(ctx, containerID)
	if err != nil {
		return engine.ResourceUsage{}
	}
	defer resp.Body.Close()
	var stats types.StatsJSON
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return engine.ResourceUsage{}
	}
	cpuSeconds := float64(stats.CPUStats.CPUUsage.TotalUsage) / 1e9
	maxMemMiB := float64(stats.MemoryStats.MaxUsage) / (1024 * 1024)
	return engine.ResourceUsage{CPUSeconds: cpuSeconds, MaxMemoryMiB: maxMemMiB}
}

func containerOOMKilled(r *Runner, containerID string) bool {
	insp, err := r.client.ContainerInspect(context.Background(), containerID)
	if err != nil {
		return false
	}
	return insp.State != nil && insp.State.OOMKilled
}

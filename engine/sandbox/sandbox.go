// Package sandbox implements the sandboxed custom-node runner (C6, spec.md
// §4.6): one ephemeral Docker container per node invocation, launched
// directly against the docker/docker client rather than shelling out to the
// docker CLI binary, following the shape of the teacher's
// codeexecutor/container package (container.HostConfig, CopyToContainer,
// ContainerLogs+stdcopy) generalized from one long-lived code-execution
// container to one-shot per-node sandboxes with a JSON input/output
// descriptor protocol.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/registry"
	"github.com/adaptiveX-gh/EdgeQL-sub000/engine"
	"github.com/adaptiveX-gh/EdgeQL-sub000/log"
)

var _ engine.Runner = (*Runner)(nil)

// Default resource limits (spec.md §4.6).
const (
	DefaultCPUCap        = 1.0
	DefaultMemoryCapMiB  = 256
	DefaultTmpfsCapMiB   = 100
	DefaultNodeTimeout   = 60 * time.Second
	DefaultStopGracePeriod = 5 * time.Second
)

// images maps a runtime kind to the container image that hosts its
// entry-point interpreter. One image per language family (spec.md §4.6
// "choose an image matching the node's runtime kind").
var images = map[registry.RuntimeKind]string{
	registry.RuntimeCustomJS:     "node:20-slim",
	registry.RuntimeCustomPython: "python:3.12-slim",
	registry.RuntimeCustomWasm:   "wasmedge/slim:0.13.5",
}

// Option configures a Runner.
type Option func(*Runner)

// WithImage overrides the image used for a runtime kind.
func WithImage(rt registry.RuntimeKind, image string) Option {
	return func(r *Runner) { r.images[rt] = image }
}

// WithDatasetDir sets the host directory bind-mounted read-only into every
// container as the datasets volume.
func WithDatasetDir(dir string) Option {
	return func(r *Runner) { r.datasetDir = dir }
}

// WithHostWorkBase sets the host directory under which per-invocation
// working directories are created. Defaults to os.TempDir().
func WithHostWorkBase(dir string) Option {
	return func(r *Runner) { r.hostWorkBase = dir }
}

// WithResourceLimits overrides the default CPU/memory/tmpfs caps.
func WithResourceLimits(cpu float64, memoryMiB, tmpfsMiB int64) Option {
	return func(r *Runner) {
		r.cpuCap = cpu
		r.memoryCapMiB = memoryMiB
		r.tmpfsCapMiB = tmpfsMiB
	}
}

// WithStopGracePeriod overrides the stop-then-kill grace period used on
// cancellation.
func WithStopGracePeriod(d time.Duration) Option {
	return func(r *Runner) { r.stopGrace = d }
}

// containerMountPath is where the per-invocation working directory is
// copied into the container (via CopyToContainer; it is not bind-mounted).
const containerMountPath = "/mnt/run"

// containerDatasetPath is where the datasets directory is mounted
// read-only inside the container.
const containerDatasetPath = "/mnt/datasets"

// Runner is the sandboxed custom-node runner (C6). It satisfies
// engine.Runner for the three custom-* runtime kinds.
type Runner struct {
	client       *client.Client
	images       map[registry.RuntimeKind]string
	datasetDir   string
	hostWorkBase string
	cpuCap       float64
	memoryCapMiB int64
	tmpfsCapMiB  int64
	stopGrace    time.Duration

	mu         sync.Mutex
	containers map[string]map[string]string // runID -> containerName -> containerID
}

// NewRunner dials the local Docker daemon via the environment (DOCKER_HOST,
// certs, API version negotiation — client.FromEnv) and returns a Runner
// ready to execute custom nodes.
func NewRunner(opts ...Option) (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandbox: connect to docker: %w", err)
	}
	r := &Runner{
		client:       cli,
		images:       make(map[registry.RuntimeKind]string, len(images)),
		hostWorkBase: os.TempDir(),
		cpuCap:       DefaultCPUCap,
		memoryCapMiB: DefaultMemoryCapMiB,
		tmpfsCapMiB:  DefaultTmpfsCapMiB,
		stopGrace:    DefaultStopGracePeriod,
		containers:   make(map[string]map[string]string),
	}
	for rt, img := range images {
		r.images[rt] = img
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Close releases the underlying Docker client connection.
func (r *Runner) Close() error {
	return r.client.Close()
}

// CanHandle reports whether rt is one of the sandboxed custom runtimes.
func (r *Runner) CanHandle(rt registry.RuntimeKind) bool {
	_, ok := r.images[rt]
	return ok
}

// hostConfig builds the isolation envelope shared by every sandboxed
// invocation (spec.md §4.6 "Launch the container with flags enforcing...").
// The per-invocation working directory and the node's code are staged via
// CopyToContainer/CopyFromContainer tar streams (see execute.go) rather
// than bind-mounted, so the sandbox never exposes an arbitrary host path
// to the container; only the static datasets directory is bind-mounted,
// and always read-only.
func (r *Runner) hostConfig() *container.HostConfig {
	var binds []string
	if r.datasetDir != "" {
		binds = append(binds, r.datasetDir+":"+containerDatasetPath+":ro")
	}
	return &container.HostConfig{
		AutoRemove:     false, // cleanup is explicit (ContainerRemove) so we can read logs first
		Binds:          binds,
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Privileged:     false,
		SecurityOpt:    []string{"no-new-privileges"},
		Tmpfs: map[string]string{
			"/tmp": fmt.Sprintf("size=%dm", r.tmpfsCapMiB),
		},
		Resources: container.Resources{
			NanoCPUs: int64(r.cpuCap * 1e9),
			Memory:   r.memoryCapMiB * 1024 * 1024,
		},
	}
}

// registerContainer records a live container against runID so cancel(runID)
// can find it (spec.md §4.6 "registers every live container against the
// runId").
func (r *Runner) registerContainer(runID, name, containerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.containers[runID] == nil {
		r.containers[runID] = make(map[string]string)
	}
	r.containers[runID][name] = containerID
}

func (r *Runner) unregisterContainer(runID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.containers[runID], name)
	if len(r.containers[runID]) == 0 {
		delete(r.containers, runID)
	}
}

// Cancel stops and removes every live container registered against runID
// (spec.md §4.6 "stop with a short grace period, then kill"). It is
// idempotent: calling it again once no containers remain is a no-op that
// returns false.
func (r *Runner) Cancel(runID string) bool {
	r.mu.Lock()
	ids := make([]string, 0, len(r.containers[runID]))
	for _, id := range r.containers[runID] {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	if len(ids) == 0 {
		return false
	}

	ctx := context.Background()
	grace := r.stopGrace
	for _, id := range ids {
		graceSec := int(grace.Seconds())
		if err := r.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &graceSec}); err != nil {
			log.Warnf("sandbox: stop container %s: %v", id, err)
			_ = r.client.ContainerKill(ctx, id, "SIGKILL")
		}
		_ = r.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	}
	r.mu.Lock()
	delete(r.containers, runID)
	r.mu.Unlock()
	return true
}

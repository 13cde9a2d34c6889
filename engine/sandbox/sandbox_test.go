package sandbox

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/require"

	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/compiler"
	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/registry"
	"github.com/adaptiveX-gh/EdgeQL-sub000/engine"
)

func TestContainerName_StableAndSafe(t *testing.T) {
	a := containerName("run/1", "node:a")
	b := containerName("run/1", "node:a")
	require.Equal(t, a, b, "same runId+nodeId must always derive the same name")
	require.Regexp(t, `^[a-zA-Z0-9_.-]+$`, a)
}

func TestEntryCommand_KnownRuntimes(t *testing.T) {
	cmd, err := entryCommand(registry.RuntimeCustomJS, "/custom/my_node/index.js")
	require.NoError(t, err)
	require.Equal(t, []string{"node", "/mnt/node/index.js"}, cmd)

	cmd, err = entryCommand(registry.RuntimeCustomPython, "/custom/my_node/main.py")
	require.NoError(t, err)
	require.Equal(t, []string{"python3", "/mnt/node/main.py"}, cmd)

	_, err = entryCommand(registry.RuntimeBuiltin, "x")
	require.Error(t, err)
}

func TestNewRunner_DefaultsAndCanHandle(t *testing.T) {
	r, err := NewRunner()
	require.NoError(t, err)
	defer r.Close()

	require.True(t, r.CanHandle(registry.RuntimeCustomJS))
	require.True(t, r.CanHandle(registry.RuntimeCustomPython))
	require.True(t, r.CanHandle(registry.RuntimeCustomWasm))
	require.False(t, r.CanHandle(registry.RuntimeBuiltin))
}

func TestHostConfig_EnforcesIsolationDefaults(t *testing.T) {
	r, err := NewRunner(WithDatasetDir("/data"))
	require.NoError(t, err)
	defer r.Close()

	hc := r.hostConfig()
	require.Equal(t, container.NetworkMode("none"), hc.NetworkMode)
	require.True(t, hc.ReadonlyRootfs)
	require.False(t, hc.Privileged)
	require.Contains(t, hc.SecurityOpt, "no-new-privileges")
	require.Contains(t, hc.Binds, "/data:/mnt/datasets:ro")
	require.Len(t, hc.Binds, 1, "only the static datasets directory is bind-mounted; work dir and node code are staged via tar copy")
}

func TestCancel_NoLiveContainers_IsNoop(t *testing.T) {
	r, err := NewRunner()
	require.NoError(t, err)
	defer r.Close()

	require.False(t, r.Cancel("nonexistent-run"))
}

func TestInputOutputDescriptor_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	node := compiler.CompiledNode{
		ID: "n1", Type: "CustomSignalNode",
		Params: map[string]any{"threshold": 0.5},
		ResolvedOutput: registry.ArtifactSchema{Kind: registry.ArtifactSignals, Columns: []string{"timestamp", "signal"}},
	}
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	inputs := []engine.Artifact{{
		Kind: registry.ArtifactDataframe,
		Frame: &engine.Dataframe{
			Columns:    []string{"timestamp", "close"},
			Timestamps: []time.Time{ts},
			Rows:       []engine.Row{{"close": 101.5}},
		},
	}}

	require.NoError(t, writeInputDescriptor(dir, "run1", node, inputs))
	raw, err := os.ReadFile(filepath.Join(dir, inputDescriptorName))
	require.NoError(t, err)
	require.Contains(t, string(raw), `"node_type": "CustomSignalNode"`)
	require.Contains(t, string(raw), `"run_id": "run1"`)

	out := outputDescriptor{
		Kind: registry.ArtifactSignals,
	}
	payload, err := json.Marshal(dataframeWireBody{
		Columns:    []string{"timestamp", "signal"},
		Timestamps: []time.Time{ts},
		Rows:       []engine.Row{{"signal": 1}},
	})
	require.NoError(t, err)
	out.Payload = payload
	data, err := json.Marshal(out)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, outputDescriptorName), data, 0o644))

	artifact, err := readOutputDescriptor(dir, node)
	require.NoError(t, err)
	require.Equal(t, registry.ArtifactSignals, artifact.Kind)
	require.True(t, artifact.Frame.HasColumn("signal"))
}

func TestReadOutputDescriptor_MissingFile_ProtocolViolation(t *testing.T) {
	dir := t.TempDir()
	_, err := readOutputDescriptor(dir, compiler.CompiledNode{ID: "n1"})
	require.Error(t, err)
}

func TestReadOutputDescriptor_MissingDeclaredColumn_Errors(t *testing.T) {
	dir := t.TempDir()
	node := compiler.CompiledNode{
		ID:             "n1",
		ResolvedOutput: registry.ArtifactSchema{Kind: registry.ArtifactSignals, Columns: []string{"timestamp", "signal"}},
	}
	out := outputDescriptor{Kind: registry.ArtifactSignals}
	payload, err := json.Marshal(dataframeWireBody{Columns: []string{"timestamp"}, Timestamps: []time.Time{time.Now()}, Rows: []engine.Row{{}}})
	require.NoError(t, err)
	out.Payload = payload
	data, err := json.Marshal(out)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, outputDescriptorName), data, 0o644))

	_, err = readOutputDescriptor(dir, node)
	require.Error(t, err)
}

package sandbox

import (
	"encoding/json"

	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/registry"
)

// inlineThresholdBytes is the serialized-size cutoff above which an input
// artifact is written to a file inside the working directory instead of
// being embedded inline in the input descriptor (spec.md §4.6 "Dataframes
// large enough to cross a threshold (e.g., >1 MiB serialized) are written
// as files; small ones inline").
const inlineThresholdBytes = 1 << 20

// inputDescriptor is the single JSON document written to the container's
// working directory before start (spec.md §4.6 "Input marshalling").
type inputDescriptor struct {
	NodeType   string            `json:"node_type"`
	Params     map[string]any    `json:"params"`
	Inputs     []inputPort       `json:"inputs"`
	Context    executionContext  `json:"context"`
}

// inputPort describes one upstream artifact handed to the node.
type inputPort struct {
	Kind     registry.ArtifactKind `json:"kind"`
	Inline   json.RawMessage       `json:"inline,omitempty"`
	FilePath string                `json:"file_path,omitempty"`
}

// executionContext carries run-scoped identifiers and the container paths
// of the working directory and the datasets mount. The runner fills in
// RunID, NodeID, MountPath and DatasetMount; PipelineID and DatasetPaths
// are not filled in and are sent empty.
type executionContext struct {
	RunID        string   `json:"run_id"`
	PipelineID   string   `json:"pipeline_id"`
	NodeID       string   `json:"node_id"`
	DatasetPaths []string `json:"dataset_paths"`
	MountPath    string   `json:"mount_path"`
	DatasetMount string   `json:"dataset_mount"`
}

// outputDescriptor is the single JSON document the container entry-point
// must write before exiting with code 0 (spec.md §4.6 "Execution
// protocol").
type outputDescriptor struct {
	Kind    registry.ArtifactKind `json:"kind"`
	Payload json.RawMessage       `json:"payload"`
}

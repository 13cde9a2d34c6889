package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ManifestFileName is the default custom-node manifest file name (spec.md
// §6 "Custom-node manifest").
const ManifestFileName = "node.json"

// PackageJSONNodeKey is the key under which a package.json can embed an
// equivalent manifest block.
const PackageJSONNodeKey = "edgeql.nodeDefinition"

// Manifest is the on-disk custom-node manifest schema (spec.md §6).
type Manifest struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Runtime        string         `json:"runtime"` // "javascript" | "python" | "wasm"
	EntryPoint     string         `json:"entryPoint"`
	InputSchema    SchemaSpec     `json:"inputSchema"`
	OutputSchema   SchemaSpec     `json:"outputSchema"`
	RequiredParams []string       `json:"requiredParams"`
	OptionalParams []string       `json:"optionalParams"`
	ParamSchema    []ParamSpec    `json:"paramSchema"`
	Metadata       ManifestMeta   `json:"metadata"`
}

// SchemaSpec is a loosely-typed description of a port's artifact kind and
// guaranteed columns, mirroring ArtifactSchema in wire form.
type SchemaSpec struct {
	Kind    string   `json:"kind"`
	Columns []string `json:"columns"`
}

// ParamSpec is the wire form of ParamSchema.
type ParamSpec struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Required bool     `json:"required"`
	Default  any      `json:"default"`
	Min      *float64 `json:"min"`
	Max      *float64 `json:"max"`
	Enum     []string `json:"enum"`
}

// ManifestMeta carries the optional sandbox tuning knobs a manifest can
// declare (spec.md §6). They are decoded but not applied: the sandbox
// runner uses its own configured CPU/memory limits and timeout for every
// custom node.
type ManifestMeta struct {
	Category   string `json:"category"`
	TimeoutMs  int    `json:"timeoutMs"`
	MemoryMiB  int    `json:"memoryMiB"`
	CPU        float64 `json:"cpu"`
}

func runtimeKindFromManifest(s string) RuntimeKind {
	switch s {
	case "javascript":
		return RuntimeCustomJS
	case "python":
		return RuntimeCustomPython
	case "wasm":
		return RuntimeCustomWasm
	default:
		return RuntimeKind(s)
	}
}

func artifactKindFromSpec(s SchemaSpec) ArtifactSchema {
	kind := ArtifactKind(s.Kind)
	if kind == "" {
		kind = ArtifactOpaque
	}
	return ArtifactSchema{Kind: kind, Columns: s.Columns}
}

func paramSchemaFromSpec(specs []ParamSpec) []ParamSchema {
	out := make([]ParamSchema, 0, len(specs))
	for _, s := range specs {
		out = append(out, ParamSchema{
			Name:     s.Name,
			Type:     ParamType(s.Type),
			Required: s.Required,
			Default:  s.Default,
			Min:      s.Min,
			Max:      s.Max,
			Enum:     s.Enum,
		})
	}
	return out
}

// customTypeDef adapts a Manifest to TypeDef. Output schema is static
// (taken from the manifest) because custom node output shape, unlike
// some builtins, does not vary by parameter in this engine.
type customTypeDef struct {
	manifest   Manifest
	entryPoint string // absolute path, verified to exist at registration
	paramList  []ParamSchema
}

func (c *customTypeDef) Name() string      { return c.manifest.ID }
func (c *customTypeDef) Runtime() RuntimeKind { return runtimeKindFromManifest(c.manifest.Runtime) }
func (c *customTypeDef) EntryPoint() string { return c.entryPoint }

func (c *customTypeDef) ParamSchema() []ParamSchema {
	schema := append([]ParamSchema(nil), c.paramList...)
	declared := make(map[string]bool, len(schema))
	for _, p := range schema {
		declared[p.Name] = true
	}
	for _, name := range c.manifest.RequiredParams {
		if !declared[name] {
			schema = append(schema, ParamSchema{Name: name, Type: ParamObject, Required: true})
			declared[name] = true
		}
	}
	for _, name := range c.manifest.OptionalParams {
		if !declared[name] {
			schema = append(schema, ParamSchema{Name: name, Type: ParamObject})
			declared[name] = true
		}
	}
	return schema
}

func (c *customTypeDef) CrossFieldRules() []CrossFieldRule { return nil }

func (c *customTypeDef) InputContract() InputContract {
	// Custom nodes declare a single aggregate input schema; arity is not
	// restricted: any number of dependencies, including none, is accepted.
	return InputContract{MinInputs: 0}
}

func (c *customTypeDef) ResolveOutputSchema(map[string]any, []ArtifactSchema) (ArtifactSchema, error) {
	return artifactKindFromSpec(c.manifest.OutputSchema), nil
}

// FilesystemDiscoverer scans Root for node manifests, one directory deep,
// looking for node.json or a package.json with the edgeql.nodeDefinition
// key (spec.md §4.2). It refuses to register an entry whose entry-point
// file does not exist.
type FilesystemDiscoverer struct {
	Root string
}

// Discover implements CustomDiscoverer.
func (d *FilesystemDiscoverer) Discover() (map[string]TypeDef, error) {
	entries, err := os.ReadDir(d.Root)
	if err != nil {
		return nil, fmt.Errorf("scan custom node root %s: %w", d.Root, err)
	}
	found := make(map[string]TypeDef)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(d.Root, entry.Name())
		manifest, err := loadManifest(dir)
		if err != nil {
			// A directory without a manifest is simply not a custom
			// node; skip it rather than failing discovery entirely.
			continue
		}
		entryPointAbs := filepath.Join(dir, manifest.EntryPoint)
		if _, err := os.Stat(entryPointAbs); err != nil {
			return nil, fmt.Errorf("custom node %s: entry point %s does not exist: %w", manifest.ID, entryPointAbs, err)
		}
		found[manifest.ID] = &customTypeDef{
			manifest:   manifest,
			entryPoint: entryPointAbs,
			paramList:  paramSchemaFromSpec(manifest.ParamSchema),
		}
	}
	return found, nil
}

func loadManifest(dir string) (Manifest, error) {
	if data, err := os.ReadFile(filepath.Join(dir, ManifestFileName)); err == nil {
		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			return Manifest{}, fmt.Errorf("parse %s: %w", ManifestFileName, err)
		}
		return m, nil
	}
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return Manifest{}, fmt.Errorf("no node manifest in %s", dir)
	}
	var pkg map[string]json.RawMessage
	if err := json.Unmarshal(data, &pkg); err != nil {
		return Manifest{}, fmt.Errorf("parse package.json: %w", err)
	}
	raw, ok := pkg[PackageJSONNodeKey]
	if !ok {
		return Manifest{}, fmt.Errorf("package.json missing %s", PackageJSONNodeKey)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse %s: %w", PackageJSONNodeKey, err)
	}
	return m, nil
}

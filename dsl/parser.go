package dsl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parser parses pipeline source text into a Pipeline tree. It accepts
// either JSON or YAML; the underlying format is sniffed from the first
// non-whitespace byte (spec.md §4.1: the parser is forgiving about
// unknown keys but strict about the root shape).
//
// YAML is parsed through yaml.Node so root-shape and per-declaration
// SyntaxErrors carry the real source line/column; a document that is empty
// or not valid YAML is reported with no span. On the JSON path only a
// root-level decode error carries a line/column (converted from the
// decoder's byte offset); per-declaration JSON errors name the node index
// in their message instead.
type Parser struct{}

// NewParser creates a new pipeline source parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseFile reads and parses a pipeline source file.
func (p *Parser) ParseFile(path string) (*Pipeline, []*SyntaxError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read pipeline source %s: %w", path, err)
	}
	pipeline, errs := p.Parse(data)
	return pipeline, errs, nil
}

// Parse parses raw pipeline source text. It returns a best-effort Pipeline
// (always non-nil when the root shape itself is parseable) together with
// zero or more SyntaxErrors. The root shape — an ordered list of node
// objects each carrying at least "id" and "type" — is the one thing the
// parser is strict about; per-declaration errors never abort the whole
// parse when recovery to the next declaration boundary is possible.
func (p *Parser) Parse(data []byte) (*Pipeline, []*SyntaxError) {
	if looksLikeJSON(data) {
		return p.parseJSON(data)
	}
	return p.parseYAML(data)
}

func looksLikeJSON(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

// rawRoot mirrors the JSON root shape loosely — fields are validated by
// hand so malformed nodes can be skipped individually instead of failing
// json.Unmarshal for the whole document.
type rawRoot struct {
	Nodes    []json.RawMessage `json:"nodes"`
	Metadata map[string]any    `json:"metadata"`
}

func (p *Parser) parseJSON(data []byte) (*Pipeline, []*SyntaxError) {
	var root rawRoot
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&root); err != nil {
		line, col := lineColAtOffset(data, jsonErrorOffset(err))
		return &Pipeline{}, []*SyntaxError{{
			Span:    Span{Line: line, Column: col},
			Message: fmt.Sprintf("pipeline source must be a JSON object with a \"nodes\" array: %v", err),
		}}
	}

	pipeline := &Pipeline{Metadata: root.Metadata}
	var errs []*SyntaxError
	for i, raw := range root.Nodes {
		var decl struct {
			ID        string         `json:"id"`
			Type      string         `json:"type"`
			DependsOn []string       `json:"depends_on"`
			Params    map[string]any `json:"params"`
		}
		if err := json.Unmarshal(raw, &decl); err != nil {
			errs = append(errs, &SyntaxError{
				Message: fmt.Sprintf("nodes[%d]: malformed node declaration: %v", i, err),
			})
			continue
		}
		if decl.ID == "" {
			errs = append(errs, &SyntaxError{Message: fmt.Sprintf("nodes[%d]: missing required field \"id\"", i)})
			continue
		}
		if decl.Type == "" {
			errs = append(errs, &SyntaxError{Message: fmt.Sprintf("nodes[%d] (%s): missing required field \"type\"", i, decl.ID)})
			continue
		}
		pipeline.Nodes = append(pipeline.Nodes, NodeDecl{
			ID:        decl.ID,
			Type:      decl.Type,
			DependsOn: decl.DependsOn,
			Params:    decl.Params,
		})
	}
	return pipeline, errs
}

func (p *Parser) parseYAML(data []byte) (*Pipeline, []*SyntaxError) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return &Pipeline{}, []*SyntaxError{{Message: fmt.Sprintf("invalid YAML: %v", err)}}
	}
	if len(root.Content) == 0 {
		return &Pipeline{}, []*SyntaxError{{Message: "pipeline source is empty"}}
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return &Pipeline{}, []*SyntaxError{{
			Span:    nodeSpan(doc),
			Message: "pipeline source root must be a mapping with a \"nodes\" key",
		}}
	}

	pipeline := &Pipeline{}
	var nodesNode *yaml.Node
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i]
		val := doc.Content[i+1]
		switch key.Value {
		case "nodes":
			nodesNode = val
		case "metadata":
			var meta map[string]any
			if err := val.Decode(&meta); err == nil {
				pipeline.Metadata = meta
			}
		}
	}
	if nodesNode == nil || nodesNode.Kind != yaml.SequenceNode {
		return pipeline, []*SyntaxError{{
			Span:    nodeSpan(doc),
			Message: "pipeline source root must declare an ordered \"nodes\" list",
		}}
	}

	var errs []*SyntaxError
	for i, item := range nodesNode.Content {
		decl, err := decodeYAMLNode(item)
		if err != nil {
			errs = append(errs, &SyntaxError{Span: nodeSpan(item), Message: fmt.Sprintf("nodes[%d]: %v", i, err)})
			continue
		}
		pipeline.Nodes = append(pipeline.Nodes, *decl)
	}
	return pipeline, errs
}

func decodeYAMLNode(item *yaml.Node) (*NodeDecl, error) {
	if item.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("node declaration must be a mapping")
	}
	var raw struct {
		ID        string         `yaml:"id"`
		Type      string         `yaml:"type"`
		DependsOn []string       `yaml:"depends_on"`
		Params    map[string]any `yaml:"params"`
	}
	if err := item.Decode(&raw); err != nil {
		return nil, fmt.Errorf("malformed node declaration: %w", err)
	}
	if raw.ID == "" {
		return nil, fmt.Errorf("missing required field \"id\"")
	}
	if raw.Type == "" {
		return nil, fmt.Errorf("node %s: missing required field \"type\"", raw.ID)
	}
	return &NodeDecl{
		ID:        raw.ID,
		Type:      raw.Type,
		DependsOn: raw.DependsOn,
		Params:    raw.Params,
		Span:      nodeSpan(item),
	}, nil
}

func nodeSpan(n *yaml.Node) Span {
	if n == nil {
		return Span{}
	}
	return Span{Line: n.Line, Column: n.Column}
}

// jsonErrorOffset extracts the byte offset json reports a decode error at,
// falling back to 0 when the error doesn't carry one.
func jsonErrorOffset(err error) int64 {
	if se, ok := err.(*json.SyntaxError); ok {
		return se.Offset
	}
	if te, ok := err.(*json.UnmarshalTypeError); ok {
		return te.Offset
	}
	return 0
}

func lineColAtOffset(data []byte, offset int64) (line, col int) {
	if offset <= 0 {
		return 1, 1
	}
	if int(offset) > len(data) {
		offset = int64(len(data))
	}
	line = 1 + strings.Count(string(data[:offset]), "\n")
	if idx := strings.LastIndexByte(string(data[:offset]), '\n'); idx >= 0 {
		col = int(offset) - idx
	} else {
		col = int(offset) + 1
	}
	return line, col
}

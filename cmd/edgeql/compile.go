package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl"
	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/compiler"
	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/registry"
	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/registry/builtin"
	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/validator"
)

// buildCatalog constructs the node catalog shared by compile and run: the
// six fixed builtins, plus any custom nodes discovered under customNodesDir
// (spec.md §4.2). An empty customNodesDir skips discovery entirely.
func buildCatalog(customNodesDir string) (*registry.Registry, error) {
	catalog := registry.New()
	builtin.RegisterAll(catalog)
	if customNodesDir == "" {
		return catalog, nil
	}
	catalog.SetDiscoverer(&registry.FilesystemDiscoverer{Root: customNodesDir})
	if err := catalog.Rediscover(); err != nil {
		return nil, fmt.Errorf("discover custom nodes: %w", err)
	}
	return catalog, nil
}

// parseAndCompile runs the parser, validator, and compiler over the file
// at path, returning the IR on success or the validation report on
// validation failure (not both).
func parseAndCompile(path string, catalog *registry.Registry) (*compiler.IR, *compileReport, error) {
	p := dsl.NewParser()
	pipeline, syntaxErrs, err := p.ParseFile(path)
	if err != nil {
		return nil, nil, &exitError{code: 2, msg: fmt.Sprintf("read %s: %v", path, err)}
	}
	if len(syntaxErrs) > 0 {
		return nil, &compileReport{SyntaxErrors: syntaxErrs}, nil
	}

	c := compiler.New(catalog)
	ir, report := c.Compile(pipeline)
	if report.HasErrors() {
		return nil, &compileReport{Findings: report.Findings}, nil
	}
	return ir, nil, nil
}

// compileReport is the CLI's JSON rendering of a failed compile attempt.
type compileReport struct {
	SyntaxErrors []*dsl.SyntaxError  `json:"syntax_errors,omitempty"`
	Findings     []validator.Finding `json:"findings,omitempty"`
}

func runCompile(args []string) error {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	customNodes := fs.String("custom-nodes", "", "directory of custom node manifests to discover")
	output := fs.String("o", "", "write compiled IR to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return &exitError{code: 2, msg: err.Error()}
	}
	if fs.NArg() != 1 {
		return &exitError{code: 2, msg: "usage: edgeql compile [-custom-nodes dir] [-o file] <pipeline-file>"}
	}
	path := fs.Arg(0)

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

	data, err := compiler.Serialize(ir)
	if err != nil {
		return &exitError{code: 2, msg: fmt.Sprintf("serialize IR: %v", err)}
	}
	if *output == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(*output, data, 0o644); err != nil {
		return &exitError{code: 2, msg: fmt.Sprintf("write %s: %v", *output, err)}
	}
	return nil
}

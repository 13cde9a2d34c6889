// Command edgeql compiles and runs backtest pipeline DSL files (spec.md §6
// "CLI (operational)"): a `compile` subcommand that parses, validates, and
// compiles a pipeline source, printing either the compiled IR or the
// validation report; and a `run` subcommand that additionally executes the
// compiled IR against a dataset directory. Both use the standard library
// flag package rather than a third-party CLI framework, matching the
// reference codebase's own operational tooling.
package main

import (
	"fmt"
	"os"

	"github.com/adaptiveX-gh/EdgeQL-sub000/log"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "compile":
		err = runCompile(os.Args[2:])
	case "run":
		err = runRun(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		if code, ok := err.(exitCoder); ok {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(code.ExitCode())
		}
		log.Errorf("edgeql: %v", err)
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: edgeql <compile|run> [flags]")
}

// exitCoder lets a subcommand select the process exit code per spec.md §6
// ("Exit code 0 for success, 1 for validation errors, 2 for IO errors").
type exitCoder interface {
	error
	ExitCode() int
}

type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }
func (e *exitError) ExitCode() int { return e.code }

// Package validator implements the five-phase pipeline validation pass
// (spec.md §4.3): structural, type resolution, parameter, dependency, and
// IO-compatibility checks, accumulating findings into a Report rather than
// failing on the first problem.
package validator

import "github.com/adaptiveX-gh/EdgeQL-sub000/dsl"

// Severity classifies a Finding.
type Severity string

// Severities.
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Stable error/warning codes (spec.md §4.3).
const (
	CodeEmptyPipeline           = "EMPTY_PIPELINE"
	CodeInvalidNodeID           = "INVALID_NODE_ID"
	CodeDuplicateNodeID         = "DUPLICATE_NODE_ID"
	CodeUnknownNodeType         = "UNKNOWN_NODE_TYPE"
	CodeMissingRequiredParam    = "MISSING_REQUIRED_PARAMETER"
	CodeParameterTypeMismatch   = "PARAMETER_TYPE_MISMATCH"
	CodeParameterOutOfRange     = "PARAMETER_OUT_OF_RANGE"
	CodeParameterNotInEnum      = "PARAMETER_NOT_IN_ENUM"
	CodeCrossFieldRuleViolation = "CROSS_FIELD_RULE_VIOLATION"
	CodeMissingDependency       = "MISSING_DEPENDENCY"
	CodeCircularDependency      = "CIRCULAR_DEPENDENCY"
	CodeInputArityMismatch      = "INPUT_ARITY_MISMATCH"
	CodeIncompatibleInputType   = "INCOMPATIBLE_INPUT_TYPE"
	CodeBestPracticeViolation   = "BEST_PRACTICE_VIOLATION"
)

// Finding is a single validation result (spec.md §4.3: "a stable error
// code, a human message, and a context").
type Finding struct {
	Code      string
	Severity  Severity
	Message   string
	NodeID    string
	FieldPath string
	Span      dsl.Span
}

// Report accumulates every Finding produced across all five phases.
type Report struct {
	Findings []Finding
}

func (r *Report) add(f Finding) {
	r.Findings = append(r.Findings, f)
}

func (r *Report) addError(code, nodeID, fieldPath, message string, span dsl.Span) {
	r.add(Finding{Code: code, Severity: SeverityError, Message: message, NodeID: nodeID, FieldPath: fieldPath, Span: span})
}

func (r *Report) addWarning(code, nodeID, fieldPath, message string, span dsl.Span) {
	r.add(Finding{Code: code, Severity: SeverityWarning, Message: message, NodeID: nodeID, FieldPath: fieldPath, Span: span})
}

// HasErrors reports whether the report contains any error-severity finding.
// The compiler refuses to emit an IR when this is true (spec.md §4.4).
func (r *Report) HasErrors() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the error-severity findings.
func (r *Report) Errors() []Finding {
	return r.bySeverity(SeverityError)
}

// Warnings returns only the warning-severity findings.
func (r *Report) Warnings() []Finding {
	return r.bySeverity(SeverityWarning)
}

func (r *Report) bySeverity(sev Severity) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == sev {
			out = append(out, f)
		}
	}
	return out
}

package mfc

import "fmt"

// DiagLevel is the severity of a Diagnostic.
type DiagLevel int

const (
	DiagError DiagLevel = iota
	DiagWarning
	DiagInfo
	DiagHint
)

func (l DiagLevel) String() string {
	switch l {
	case DiagError:
		return "error"
	case DiagWarning:
		return "warning"
	case DiagInfo:
		return "info"
	case DiagHint:
		return "hint"
	default:
		return "unknown"
	}
}

// Diagnostic is a structured error/warning/info/hint record shared by
// every pipeline stage.
type Diagnostic struct {
	Level    DiagLevel
	Code     string
	Message  string
	Location Location
	Hint     string
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s: %s: [%s] %s", d.Location, d.Level, d.Code, d.Message)
}

func (d Diagnostic) String() string { return d.Error() }

// compileAbort is the internal sentinel error returned by a fail-fast
// stage (IR generator, optimizer, allocator, encoder, writer) to stop
// the pipeline after recording a single diagnostic.
type compileAbort struct {
	diag Diagnostic
}

func (e *compileAbort) Error() string { return e.diag.Error() }

func abort(d Diagnostic) error { return &compileAbort{diag: d} }

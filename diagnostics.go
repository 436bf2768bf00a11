package mfc

import (
	"fmt"

	"github.com/google/uuid"
)

// Diagnostics is the append-only sink shared by every stage of one
// compilation. Order of insertion is the order of emission. A fresh
// Diagnostics (and therefore a fresh RunID) is created per call to
// Compile; nothing here is shared across compilations.
type Diagnostics struct {
	RunID uuid.UUID
	items []Diagnostic
}

func NewDiagnostics() *Diagnostics {
	return &Diagnostics{RunID: uuid.New()}
}

func (d *Diagnostics) Add(diag Diagnostic) {
	d.items = append(d.items, diag)
}

func (d *Diagnostics) Errorf(loc Location, code, format string, args ...any) {
	d.Add(Diagnostic{Level: DiagError, Code: code, Message: fmt.Sprintf(format, args...), Location: loc})
}

func (d *Diagnostics) Warnf(loc Location, code, format string, args ...any) {
	d.Add(Diagnostic{Level: DiagWarning, Code: code, Message: fmt.Sprintf(format, args...), Location: loc})
}

func (d *Diagnostics) All() []Diagnostic { return d.items }

func (d *Diagnostics) HasErrors() bool {
	for _, it := range d.items {
		if it.Level == DiagError {
			return true
		}
	}
	return false
}

// Package phase holds the static registry of phases and templates: the
// ordered list of phase names a template runs, and per-phase execution mode,
// default timeout, and softness. This replaces the source's dispatch-by-
// filename with a single tagged-variant table.
package phase

import "time"

// Name identifies one step of a workflow.
type Name string

const (
	Plan     Name = "Plan"
	Validate Name = "Validate"
	Build    Name = "Build"
	Lint     Name = "Lint"
	Test     Name = "Test"
	Review   Name = "Review"
	Document Name = "Document"
	Ship     Name = "Ship"
	Cleanup  Name = "Cleanup"
	Verify   Name = "Verify"
)

// Entry is the registry row for one phase: how the Executor should run it,
// how long it's allowed to run, and whether its failure is fatal to the
// workflow.
type Entry struct {
	Name    Name
	Mode    string // "agent" | "tool"
	Timeout time.Duration
	Soft    bool // a soft phase's failure does not fail the workflow
}

// registry is the phase registry (spec.md REDESIGN FLAGS: "a registry... plus
// a map from variant -> (executable, timeout, softness)"). Only Lint is soft;
// every other phase is hard per spec.md §9 Open Questions.
var registry = map[Name]Entry{
	Plan:     {Name: Plan, Mode: "agent", Timeout: 30 * time.Minute},
	Validate: {Name: Validate, Mode: "tool", Timeout: 10 * time.Minute},
	Build:    {Name: Build, Mode: "tool", Timeout: 10 * time.Minute},
	Lint:     {Name: Lint, Mode: "tool", Timeout: 10 * time.Minute, Soft: true},
	Test:     {Name: Test, Mode: "tool", Timeout: 10 * time.Minute},
	Review:   {Name: Review, Mode: "agent", Timeout: 30 * time.Minute},
	Document: {Name: Document, Mode: "agent", Timeout: 30 * time.Minute},
	Ship:     {Name: Ship, Mode: "tool", Timeout: 10 * time.Minute},
	Cleanup:  {Name: Cleanup, Mode: "tool", Timeout: 10 * time.Minute},
	Verify:   {Name: Verify, Mode: "tool", Timeout: 10 * time.Minute},
}

// Lookup returns the registry Entry for name, and whether it exists.
func Lookup(name Name) (Entry, bool) {
	e, ok := registry[name]
	return e, ok
}

// Terminal phases do not auto-continue; the Orchestrator owns their
// completion (spec.md §4.7).
var terminalPhases = map[Name]bool{Ship: true, Cleanup: true, Verify: true}

// IsTerminal reports whether name is a terminal phase.
func IsTerminal(name Name) bool {
	return terminalPhases[name]
}

// completePhases is the full ten-phase list used by the "complete" and
// "standard" templates.
var completePhases = []Name{Plan, Validate, Build, Lint, Test, Review, Document, Ship, Cleanup, Verify}

// lightweightPhases omits Lint, Review, Document, Cleanup, Verify per
// spec.md §6.
var lightweightPhases = []Name{Plan, Validate, Build, Test, Ship}

// templates maps a template name to its ordered phase list.
var templates = map[string][]Name{
	"complete":    completePhases,
	"standard":    completePhases,
	"complex":     completePhases,
	"lightweight": lightweightPhases,
}

// PhasesFor returns the ordered phase list for templateName, and whether the
// template is known.
func PhasesFor(templateName string) ([]Name, bool) {
	p, ok := templates[templateName]
	if !ok {
		return nil, false
	}
	out := make([]Name, len(p))
	copy(out, p)
	return out, true
}

// InProcess reports whether templateName is chained directly in-process by
// the Orchestrator (true) or handed off to the Coordinator (false).
func InProcess(templateName string) bool {
	return templateName == "lightweight"
}

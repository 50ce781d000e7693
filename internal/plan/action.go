// Package plan defines the ephemeral planning output: the ordered list of
// lifecycle actions the executor must perform, each tagged with the reason
// it was scheduled.
package plan

import (
	"fmt"

	"github.com/partforge/partforge/internal/lifecycle"
)

// ActionType modifies how the executor processes an action.
type ActionType int

const (
	// Run executes the step normally.
	Run ActionType = iota
	// Rerun clears existing data and state before executing the step.
	Rerun
	// Skip records that the step is valid and nothing needs to happen.
	Skip
	// Update continues processing a step in place, without cleaning first.
	Update
	// Reapply runs the step commands without updating its state. Used to
	// restack overlay layers.
	Reapply
)

// String returns a short name for the action type.
func (t ActionType) String() string {
	switch t {
	case Run:
		return "run"
	case Rerun:
		return "rerun"
	case Skip:
		return "skip"
	case Update:
		return "update"
	case Reapply:
		return "reapply"
	}
	return fmt.Sprintf("ActionType(%d)", int(t))
}

// Action is a single planned (part, step) execution unit. Actions are
// produced by the sequencer and consumed in order by the executor; they
// are never persisted.
type Action struct {
	Part   string
	Step   lifecycle.Step
	Type   ActionType
	Reason string

	// ChangedFiles and ChangedDirs carry the outdated entries for Update
	// actions, so the executor can refresh only what changed.
	ChangedFiles []string
	ChangedDirs  []string
}

// String formats the action for logs and the plan listing.
func (a Action) String() string {
	s := fmt.Sprintf("%s %s:%s", a.Type, a.Part, a.Step)
	if a.Reason != "" {
		s += fmt.Sprintf(" (%s)", a.Reason)
	}
	return s
}

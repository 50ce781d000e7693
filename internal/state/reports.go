package state

import (
	"fmt"
	"strings"

	"github.com/partforge/partforge/internal/lifecycle"
)

// Dependency names a prerequisite (part, step) pair.
type Dependency struct {
	Part string
	Step lifecycle.Step
}

// DirtyReport explains why a step must be re-executed from scratch.
type DirtyReport struct {
	DirtyProperties     []string
	DirtyOptions        []string
	ChangedDependencies []Dependency
}

// Reason renders a short human-readable explanation for plan output.
func (r *DirtyReport) Reason() string {
	var causes []string
	if len(r.DirtyProperties) > 0 {
		causes = append(causes, fmt.Sprintf("%s changed", pluralized("property", "properties", r.DirtyProperties)))
	}
	if len(r.DirtyOptions) > 0 {
		causes = append(causes, fmt.Sprintf("%s changed", pluralized("option", "options", r.DirtyOptions)))
	}
	if len(r.ChangedDependencies) > 0 {
		names := make([]string, len(r.ChangedDependencies))
		for i, d := range r.ChangedDependencies {
			names[i] = d.Part
		}
		causes = append(causes, fmt.Sprintf("%s changed", pluralized("dependency", "dependencies", names)))
	}
	return strings.Join(causes, " and ")
}

func pluralized(singular, plural string, items []string) string {
	if len(items) == 1 {
		return fmt.Sprintf("%s %q", singular, items[0])
	}
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}
	return fmt.Sprintf("%s %s", plural, strings.Join(quoted, ", "))
}

// OutdatedReport explains why a step's inputs are newer than its output.
type OutdatedReport struct {
	// PreviousStepModified names the earlier step whose record is newer,
	// or zero when the trigger was the source itself.
	PreviousStepModified lifecycle.Step
	SourceModified       bool

	// OutdatedFiles and OutdatedDirs list source paths changed since the
	// recorded pull, when the source handler can enumerate them.
	OutdatedFiles []string
	OutdatedDirs  []string
}

// Reason renders a short human-readable explanation for plan output.
func (r *OutdatedReport) Reason() string {
	if r.SourceModified {
		return "source changed"
	}
	if r.PreviousStepModified != 0 {
		return fmt.Sprintf("%q step changed", r.PreviousStepModified)
	}
	return "previous step changed"
}

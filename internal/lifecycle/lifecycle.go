// Package lifecycle defines the fixed ordered steps a part goes through
// and the helpers that answer ordering questions about them.
package lifecycle

import "fmt"

// Step is one of the ordered stages applied to every part. In Pull the
// part's sources are retrieved and unpacked. Overlay, used only for
// layered builds, modifies the shared base filesystem view. In Build
// artifacts are built and installed into the part's install directory.
// Stage merges install outputs from all parts into a shared staging
// area, and Prime produces the final deployable tree.
type Step int

const (
	// Pull retrieves and unpacks the part's sources.
	Pull Step = iota + 1
	// Overlay creates the part's copy-on-write layer. Optional.
	Overlay
	// Build runs the part's build commands into its install directory.
	Build
	// Stage merges the part's install tree into the shared stage directory.
	Stage
	// Prime merges staged files into the final prime directory.
	Prime
)

// String returns the lowercase step name used in state files and logs.
func (s Step) String() string {
	switch s {
	case Pull:
		return "pull"
	case Overlay:
		return "overlay"
	case Build:
		return "build"
	case Stage:
		return "stage"
	case Prime:
		return "prime"
	}
	return fmt.Sprintf("Step(%d)", int(s))
}

// ParseStep converts a step name to a Step.
func ParseStep(name string) (Step, error) {
	switch name {
	case "pull":
		return Pull, nil
	case "overlay":
		return Overlay, nil
	case "build":
		return Build, nil
	case "stage":
		return Stage, nil
	case "prime":
		return Prime, nil
	}
	return 0, fmt.Errorf("unknown step name %q", name)
}

// Steps lists all steps in execution order. The overlay step is included
// only when layered builds are enabled for the project.
func Steps(overlays bool) []Step {
	if overlays {
		return []Step{Pull, Overlay, Build, Stage, Prime}
	}
	return []Step{Pull, Build, Stage, Prime}
}

// Previous lists the steps that must happen before s, in order.
func Previous(s Step, overlays bool) []Step {
	var out []Step
	if s >= Overlay {
		out = append(out, Pull)
	}
	if s >= Build && overlays {
		out = append(out, Overlay)
	}
	if s >= Stage {
		out = append(out, Build)
	}
	if s >= Prime {
		out = append(out, Stage)
	}
	return out
}

// Next lists the steps that come after s, in order.
func Next(s Step, overlays bool) []Step {
	var out []Step
	if s == Pull && overlays {
		out = append(out, Overlay)
	}
	if s <= Overlay {
		out = append(out, Build)
	}
	if s <= Build {
		out = append(out, Stage)
	}
	if s <= Stage {
		out = append(out, Prime)
	}
	return out
}

// Prerequisite returns the step a part's dependencies must have completed
// before the given step of the dependent may run. Pulling and overlaying a
// part needs nothing from its dependencies; building or staging requires
// every dependency to have been staged; priming requires dependencies to
// be primed as well. The boolean is false when there is no prerequisite.
func Prerequisite(s Step) (Step, bool) {
	if s <= Overlay {
		return 0, false
	}
	if s <= Stage {
		return Stage, true
	}
	return s, true
}

// Verb returns the imperative verb for a step, used in planning reasons.
func Verb(s Step) string {
	return s.String()
}

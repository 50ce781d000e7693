// Package parts holds the validated part model and the dependency graph
// built over it. A Part is immutable once the graph is constructed; the
// graph answers ordering and closure questions for the sequencer.
package parts

import (
	"fmt"

	"github.com/partforge/partforge/internal/lifecycle"
	"github.com/partforge/partforge/internal/sources"
)

// Part is a named, independently buildable unit with declared
// dependencies and build-system-specific properties. Parts come out of
// the spec file loader already validated; the engine never mutates them.
type Part struct {
	// Name uniquely identifies the part within a project.
	Name string
	// After lists the names of parts this part depends on, in
	// declaration order.
	After []string
	// PluginName selects the build-system plugin.
	PluginName string
	// Source describes where the part's sources come from.
	Source sources.Spec
	// Properties carries the build-system-specific configuration the
	// plugin consumes. Opaque to the engine except for fingerprinting.
	Properties map[string]any

	// Overrides replace the default behavior of individual steps with
	// custom shell logic.
	OverridePull  string
	OverrideBuild string
	OverrideStage string
	OverridePrime string

	// Organize maps paths inside the install directory to new locations
	// applied after build, before staging.
	Organize map[string]string

	// StageFiles and PrimeFiles are fileset patterns selecting what to
	// migrate into the stage and prime trees. Both default to ["*"].
	StageFiles []string
	PrimeFiles []string

	// OverlayScript and OverlayFiles configure this part's layer when
	// layered builds are enabled.
	OverlayScript string
	OverlayFiles  []string

	// AllowOverwrite marks the part as permitted to overwrite staged
	// paths owned by other parts without raising a conflict.
	AllowOverwrite bool
}

// HasOverlay reports whether the part declares overlay parameters.
func (p *Part) HasOverlay() bool {
	return p.OverlayScript != "" || len(p.OverlayFiles) > 0
}

// Override returns the custom script for a step, if any.
func (p *Part) Override(step lifecycle.Step) string {
	switch step {
	case lifecycle.Pull:
		return p.OverridePull
	case lifecycle.Build:
		return p.OverrideBuild
	case lifecycle.Stage:
		return p.OverrideStage
	case lifecycle.Prime:
		return p.OverridePrime
	}
	return ""
}

// ByName returns the part with the given name from the list.
func ByName(name string, list []*Part) (*Part, error) {
	for _, p := range list {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, &UnknownPartError{Name: name}
}

// ListByNames returns the parts named in names, or all parts when names is
// empty. Every requested name must exist.
func ListByNames(names []string, list []*Part) ([]*Part, error) {
	if len(names) == 0 {
		return list, nil
	}

	valid := make(map[string]bool, len(list))
	for _, p := range list {
		valid[p.Name] = true
	}
	for _, name := range names {
		if !valid[name] {
			return nil, &UnknownPartError{Name: name}
		}
	}

	var selected []*Part
	for _, p := range list {
		for _, name := range names {
			if p.Name == name {
				selected = append(selected, p)
				break
			}
		}
	}
	return selected, nil
}

// UnknownPartError reports a reference to a part name that does not exist.
type UnknownPartError struct {
	Name string
}

func (e *UnknownPartError) Error() string {
	return fmt.Sprintf("part %q is not defined", e.Name)
}

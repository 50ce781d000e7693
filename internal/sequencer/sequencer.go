// Package sequencer turns the parts graph and the recorded execution
// state into the ordered list of actions needed to reach a target step.
// Planning mutates state in memory only; disk contents never change
// until the executor runs the plan.
package sequencer

import (
	"context"
	"fmt"

	"github.com/partforge/partforge/internal/ctxlog"
	"github.com/partforge/partforge/internal/lifecycle"
	"github.com/partforge/partforge/internal/overlay"
	"github.com/partforge/partforge/internal/parts"
	"github.com/partforge/partforge/internal/plan"
	"github.com/partforge/partforge/internal/state"
)

// Planner computes lifecycle plans. A single planner can produce several
// plans in sequence; each plan observes the in-memory state left by the
// previous one.
type Planner struct {
	graph    *parts.Graph
	store    *state.Store
	layers   *overlay.LayerState
	overlays bool

	// viewers are the parts whose build can observe the overlay, either
	// by declaring overlay parameters or depending on a part that does.
	viewers map[string]bool

	actions []plan.Action

	// outdatedFiles records per-part source changes seen while planning a
	// pull update, consumed by a later build update in the same plan.
	outdatedFiles map[string][]string
	outdatedDirs  map[string][]string
}

// New creates a planner. layers may be nil when layered builds are
// disabled.
func New(graph *parts.Graph, store *state.Store, layers *overlay.LayerState, overlays bool) *Planner {
	p := &Planner{
		graph:         graph,
		store:         store,
		layers:        layers,
		overlays:      overlays,
		viewers:       map[string]bool{},
		outdatedFiles: map[string][]string{},
		outdatedDirs:  map[string][]string{},
	}
	if overlays {
		for _, part := range graph.Order() {
			if p.hasOverlayVisibility(part) {
				p.viewers[part.Name] = true
			}
		}
	}
	return p
}

func (p *Planner) hasOverlayVisibility(part *parts.Part) bool {
	if part.HasOverlay() {
		return true
	}
	for _, dep := range p.graph.Dependencies(part, false) {
		if p.viewers[dep.Name] || p.hasOverlayVisibility(dep) {
			return true
		}
	}
	return false
}

// Plan returns the actions needed to bring the named parts (all parts
// when empty) to the target step.
func (p *Planner) Plan(ctx context.Context, target lifecycle.Step, partNames []string) ([]plan.Action, error) {
	log := ctxlog.FromContext(ctx)

	if target == lifecycle.Overlay && !p.overlays {
		return nil, fmt.Errorf("cannot plan overlay step: layered builds are not enabled")
	}
	if _, err := parts.ListByNames(partNames, p.graph.Parts()); err != nil {
		return nil, err
	}

	p.actions = nil
	p.addAllActions(target, partNames, "")

	log.Debug("Planned lifecycle actions", "target", target.String(), "actions", len(p.actions))
	return p.actions, nil
}

func (p *Planner) addAllActions(target lifecycle.Step, partNames []string, reason string) {
	selected := p.graph.Order()
	if len(partNames) > 0 {
		// Names were validated on entry; recursive calls use graph parts.
		selected, _ = parts.ListByNames(partNames, p.graph.Order())
	}

	for _, step := range append(lifecycle.Previous(target, p.overlays), target) {
		for _, part := range selected {
			p.addStepActions(part, step, target, partNames, reason)
		}
	}
}

func (p *Planner) addStepActions(part *parts.Part, current, target lifecycle.Step, requested []string, reason string) {
	// Never ran: run it.
	if !p.store.HasRun(part.Name, current) {
		p.runStep(part, current, reason, false)
		return
	}

	// The exact step requested for an explicitly named part runs again.
	if len(requested) > 0 && current == target && containsName(requested, part.Name) {
		if reason == "" {
			reason = "requested step"
		}
		p.rerunStep(part, current, reason)
		return
	}

	// Changed properties, options or restaged dependencies force a rerun.
	if report := p.store.CheckDirty(part.Name, current); report != nil {
		p.rerunStep(part, current, report.Reason())
		return
	}

	if p.checkOverlayDependencies(part, current) {
		return
	}

	// An earlier step that ran more recently makes this step outdated.
	// Pull, overlay and build refresh in place; stage and prime rerun.
	if report := p.store.CheckOutdated(part.Name, current); report != nil {
		var files, dirs []string
		switch current {
		case lifecycle.Pull:
			files, dirs = report.OutdatedFiles, report.OutdatedDirs
		case lifecycle.Build:
			files, dirs = p.outdatedFiles[part.Name], p.outdatedDirs[part.Name]
		}

		if current <= lifecycle.Build {
			p.updateStep(part, current, report.Reason(), files, dirs)
		} else {
			p.rerunStep(part, current, report.Reason())
		}
		p.store.MarkUpdated(part.Name, current)
		return
	}

	p.addAction(part, current, plan.Skip, "already ran", nil, nil)
}

func (p *Planner) processDependencies(part *parts.Part, step lifecycle.Step) {
	prereq, ok := lifecycle.Prerequisite(step)
	if !ok {
		return
	}
	for _, dep := range p.graph.Dependencies(part, false) {
		if p.store.ShouldRun(dep.Name, prereq) {
			reason := fmt.Sprintf("required to %s %q", lifecycle.Verb(step), part.Name)
			p.addAllActions(prereq, []string{dep.Name}, reason)
		}
	}
}

func (p *Planner) runStep(part *parts.Part, step lifecycle.Step, reason string, rerun bool) {
	p.processDependencies(part, step)

	if p.overlays {
		switch {
		case step == lifecycle.Overlay:
			// All lower layers must be in place before a new layer is
			// stacked on top.
			hash := p.ensureOverlayConsistency(part, fmt.Sprintf("required to overlay %q", part.Name), true)
			p.layers.SetLayerHash(part, hash)
		case step == lifecycle.Build && p.viewers[part.Name],
			step == lifecycle.Stage && part.HasOverlay():
			// The whole overlay stack must exist before a part that can
			// see it builds or stages.
			order := p.graph.Order()
			last := order[len(order)-1]
			p.ensureOverlayConsistency(last, fmt.Sprintf("required to %s %q", lifecycle.Verb(step), part.Name), false)
		}
	}

	actionType := plan.Run
	if rerun {
		actionType = plan.Rerun
	}
	p.addAction(part, step, actionType, reason, nil, nil)

	p.store.Set(part.Name, step, p.projectedState(part, step))
}

// projectedState is the in-memory record a planned run will leave behind,
// so later planning decisions in the same session see its effect.
func (p *Planner) projectedState(part *parts.Part, step lifecycle.Step) *state.StepState {
	sourceID := ""
	if prev := p.store.Get(part.Name, step); prev != nil {
		sourceID = prev.SourceID
	}
	overlayHash := ""
	if p.overlays && (step == lifecycle.Build || step == lifecycle.Stage) {
		overlayHash = p.layers.OverlayHash()
	}
	return p.store.NewStepState(part, step, sourceID, overlayHash, "", nil, nil)
}

// rerunStep cleans the step and every later step for the part, then runs
// it again. Overlay layers are never cleaned, they are restacked.
func (p *Planner) rerunStep(part *parts.Part, step lifecycle.Step, reason string) {
	if step != lifecycle.Overlay {
		for _, s := range lifecycle.Steps(true) {
			if s >= step {
				p.store.Remove(part.Name, s)
			}
		}
	}
	p.runStep(part, step, reason, true)
}

func (p *Planner) updateStep(part *parts.Part, step lifecycle.Step, reason string, files, dirs []string) {
	p.addAction(part, step, plan.Update, reason, files, dirs)

	if step == lifecycle.Pull {
		p.outdatedFiles[part.Name] = files
		p.outdatedDirs[part.Name] = dirs
		p.store.Set(part.Name, step, p.projectedState(part, step))
	}
}

func (p *Planner) checkOverlayDependencies(part *parts.Part, step lifecycle.Step) bool {
	if !p.overlays {
		return false
	}

	switch step {
	case lifecycle.Overlay:
		hash := p.layers.ComputeLayerHash(part)
		if hash != p.layers.LayerHash(part) {
			p.layers.SetLayerHash(part, hash)
			p.addAction(part, step, plan.Reapply, "previous layer changed", nil, nil)
			return true
		}

	case lifecycle.Build:
		if p.viewers[part.Name] && p.layers.OverlayHash() != p.recordedOverlayHash(part, step) {
			p.rerunStep(part, step, "overlay changed")
			return true
		}

	case lifecycle.Stage:
		if part.HasOverlay() && p.layers.OverlayHash() != p.recordedOverlayHash(part, step) {
			p.rerunStep(part, step, "overlay changed")
			return true
		}
	}
	return false
}

func (p *Planner) recordedOverlayHash(part *parts.Part, step lifecycle.Step) string {
	if st := p.store.Get(part.Name, step); st != nil {
		return st.OverlayHash
	}
	return ""
}

// ensureOverlayConsistency walks the layer stack bottom-up, scheduling
// the overlay step for every part whose recorded layer hash no longer
// matches, and returns the top part's layer hash. skipLast leaves the
// top layer unverified while it is being created.
func (p *Planner) ensureOverlayConsistency(top *parts.Part, reason string, skipLast bool) string {
	for _, part := range p.graph.Order() {
		hash := p.layers.ComputeLayerHash(part)

		if !(skipLast && part.Name == top.Name) {
			if hash != p.layers.LayerHash(part) {
				p.addAllActions(lifecycle.Overlay, []string{part.Name}, reason)
				p.layers.SetLayerHash(part, hash)
			}
		}

		if part.Name == top.Name {
			return hash
		}
	}
	return ""
}

func (p *Planner) addAction(part *parts.Part, step lifecycle.Step, t plan.ActionType, reason string, files, dirs []string) {
	p.actions = append(p.actions, plan.Action{
		Part:         part.Name,
		Step:         step,
		Type:         t,
		Reason:       reason,
		ChangedFiles: files,
		ChangedDirs:  dirs,
	})
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

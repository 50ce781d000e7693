// Package executor runs planned lifecycle actions against the
// filesystem. Actions execute strictly in plan order; on the first
// failure execution stops and the failing step's state is left
// unrecorded, so the next plan schedules it again.
package executor

import (
	"context"
	"fmt"
	"runtime"

	"github.com/google/uuid"

	"github.com/partforge/partforge/internal/ctxlog"
	"github.com/partforge/partforge/internal/layout"
	"github.com/partforge/partforge/internal/lifecycle"
	"github.com/partforge/partforge/internal/overlay"
	"github.com/partforge/partforge/internal/parts"
	"github.com/partforge/partforge/internal/plan"
	"github.com/partforge/partforge/internal/plugin"
	"github.com/partforge/partforge/internal/state"
)

// StepError reports a failed lifecycle step.
type StepError struct {
	Part string
	Step lifecycle.Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("failed to %s part %q: %v", lifecycle.Verb(e.Step), e.Part, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Config assembles the collaborators an Executor needs.
type Config struct {
	Dirs     layout.ProjectDirs
	Graph    *parts.Graph
	Store    *state.Store
	Registry *plugin.Registry
	Layers   *overlay.LayerState
	Overlays bool
	// Parallel is the build parallelism passed to plugins. Zero means
	// the number of CPUs.
	Parallel int
}

// Executor applies planned actions to the project work area.
type Executor struct {
	dirs     layout.ProjectDirs
	layout   *layout.Layout
	graph    *parts.Graph
	store    *state.Store
	registry *plugin.Registry
	layers   *overlay.LayerState
	overlays bool
	parallel int
}

// New creates an Executor from the given configuration.
func New(cfg Config) *Executor {
	parallel := cfg.Parallel
	if parallel <= 0 {
		parallel = runtime.NumCPU()
	}
	return &Executor{
		dirs:     cfg.Dirs,
		layout:   layout.New(cfg.Dirs),
		graph:    cfg.Graph,
		store:    cfg.Store,
		registry: cfg.Registry,
		layers:   cfg.Layers,
		overlays: cfg.Overlays,
		parallel: parallel,
	}
}

// Execute runs the actions in order. The run stops at the first failure
// or when ctx is cancelled.
func (e *Executor) Execute(ctx context.Context, actions []plan.Action) error {
	log := ctxlog.FromContext(ctx)
	runID := uuid.NewString()

	log.Info("Executing plan", "actions", len(actions), "run_id", runID)
	for _, a := range actions {
		if err := ctx.Err(); err != nil {
			return err
		}

		if a.Type == plan.Skip {
			log.Debug("Skipping step", "part", a.Part, "step", a.Step.String(), "reason", a.Reason)
			continue
		}

		log.Info("Executing step",
			"action", a.Type.String(),
			"part", a.Part,
			"step", a.Step.String(),
			"reason", a.Reason,
		)

		part, err := e.graph.Part(a.Part)
		if err != nil {
			return err
		}
		if err := e.runAction(ctx, part, a, runID); err != nil {
			return &StepError{Part: a.Part, Step: a.Step, Err: err}
		}
	}
	return nil
}

func (e *Executor) runAction(ctx context.Context, part *parts.Part, a plan.Action, runID string) error {
	switch a.Type {
	case plan.Run:
		return e.runStep(ctx, part, a.Step, runID)

	case plan.Rerun:
		// A rerun invalidates everything downstream of the step, so the
		// step and every later step are cleaned before re-executing.
		for _, s := range lifecycle.Steps(e.overlays) {
			if s < a.Step {
				continue
			}
			if err := e.cleanStep(ctx, part, s); err != nil {
				return err
			}
			if err := e.store.Discard(part.Name, s); err != nil {
				return err
			}
		}
		return e.runStep(ctx, part, a.Step, runID)

	case plan.Update:
		return e.updateStep(ctx, part, a, runID)

	case plan.Reapply:
		// Restack the overlay view without touching step state.
		if a.Step != lifecycle.Overlay {
			return fmt.Errorf("cannot reapply step %q", a.Step)
		}
		return e.rebuildOverlayView(ctx)
	}
	return fmt.Errorf("unknown action type %q", a.Type)
}

// Clean removes the named parts' (all parts when empty) artifacts for the
// given step and every later step. Cleaning pull removes the whole part
// work directory.
func (e *Executor) Clean(ctx context.Context, step lifecycle.Step, partNames []string) error {
	log := ctxlog.FromContext(ctx)

	selected, err := parts.ListByNames(partNames, e.graph.Order())
	if err != nil {
		return err
	}

	// Later steps are undone first so shared-tree removals precede the
	// deletion of the state that describes them.
	steps := lifecycle.Steps(e.overlays)
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i] < step {
			break
		}
		for _, part := range selected {
			log.Debug("Cleaning step", "part", part.Name, "step", steps[i].String())
			if err := e.cleanStep(ctx, part, steps[i]); err != nil {
				return &StepError{Part: part.Name, Step: steps[i], Err: err}
			}
			if err := e.store.Discard(part.Name, steps[i]); err != nil {
				return err
			}
			if steps[i] == lifecycle.Pull {
				if err := e.layout.RemovePartDir(e.dirs.PartDir(part.Name)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

package executor

import (
	"context"
	"fmt"
	"os"

	"github.com/partforge/partforge/internal/layout"
	"github.com/partforge/partforge/internal/lifecycle"
	"github.com/partforge/partforge/internal/overlay"
	"github.com/partforge/partforge/internal/parts"
	"github.com/partforge/partforge/internal/plan"
	"github.com/partforge/partforge/internal/plugin"
	"github.com/partforge/partforge/internal/sources"
	"github.com/partforge/partforge/internal/state"
)

func (e *Executor) runStep(ctx context.Context, part *parts.Part, step lifecycle.Step, runID string) error {
	switch step {
	case lifecycle.Pull:
		return e.runPull(ctx, part, runID)
	case lifecycle.Overlay:
		return e.runOverlay(ctx, part, runID)
	case lifecycle.Build:
		return e.runBuild(ctx, part, runID)
	case lifecycle.Stage:
		return e.runStage(ctx, part, runID)
	case lifecycle.Prime:
		return e.runPrime(ctx, part, runID)
	}
	return fmt.Errorf("unknown step %q", step)
}

func (e *Executor) runPull(ctx context.Context, part *parts.Part, runID string) error {
	if err := e.layout.CreatePartDirs(part.Name); err != nil {
		return err
	}

	var sourceID string
	switch {
	case part.Override(lifecycle.Pull) != "":
		if err := e.runScript(ctx, part.Override(lifecycle.Pull), e.dirs.PartSrcDir(part.Name), e.stepEnv(part, lifecycle.Pull)); err != nil {
			return err
		}
	case part.Source.Location != "":
		handler, err := sources.NewHandler(part.Source)
		if err != nil {
			return err
		}
		snapshot, err := handler.Pull(ctx, e.dirs.PartSrcDir(part.Name))
		if err != nil {
			return err
		}
		sourceID = snapshot.ID
	}

	st := e.store.NewStepState(part, lifecycle.Pull, sourceID, "", runID, nil, nil)
	return e.store.Save(part.Name, lifecycle.Pull, st)
}

func (e *Executor) runOverlay(ctx context.Context, part *parts.Part, runID string) error {
	layerDir := e.dirs.PartLayerDir(part.Name)
	if err := os.MkdirAll(layerDir, 0o755); err != nil {
		return err
	}

	if part.OverlayScript != "" {
		env := e.stepEnv(part, lifecycle.Overlay)
		if err := e.runScript(ctx, part.OverlayScript, layerDir, env); err != nil {
			return err
		}
	}
	if err := e.rebuildOverlayView(ctx); err != nil {
		return err
	}

	st := e.store.NewStepState(part, lifecycle.Overlay, "", "", runID, nil, nil)
	return e.store.Save(part.Name, lifecycle.Overlay, st)
}

func (e *Executor) runBuild(ctx context.Context, part *parts.Part, runID string) error {
	buildDir := e.dirs.PartBuildDir(part.Name)
	if err := os.MkdirAll(e.dirs.PartInstallDir(part.Name), 0o755); err != nil {
		return err
	}
	if err := sources.CopyTree(ctx, e.dirs.PartSrcDir(part.Name), buildDir); err != nil {
		return fmt.Errorf("failed to refresh build directory: %w", err)
	}

	plug, err := e.registry.Resolve(part.PluginName)
	if err != nil {
		return err
	}
	pc := e.pluginContext(part)

	env := e.stepEnv(part, lifecycle.Build)
	for k, v := range plug.BuildEnvironment(pc) {
		env[k] = v
	}

	if script := part.Override(lifecycle.Build); script != "" {
		if err := e.runScript(ctx, script, buildDir, env); err != nil {
			return err
		}
	} else {
		for _, cmd := range plug.BuildCommands(pc) {
			if err := e.runScript(ctx, cmd, buildDir, env); err != nil {
				return err
			}
		}
	}

	if err := organizeFiles(e.dirs.PartInstallDir(part.Name), part.Organize); err != nil {
		return err
	}

	st := e.store.NewStepState(part, lifecycle.Build, "", e.overlayHash(), runID, nil, nil)
	return e.store.Save(part.Name, lifecycle.Build, st)
}

func (e *Executor) runStage(ctx context.Context, part *parts.Part, runID string) error {
	files, dirs, err := e.layout.Stage(part)
	if err != nil {
		return err
	}
	if e.overlays && part.HasOverlay() {
		ofiles, odirs, err := e.layout.StageOverlay(part, e.dirs.PartLayerDir(part.Name))
		if err != nil {
			return err
		}
		files = append(files, ofiles...)
		dirs = append(dirs, odirs...)
	}

	// Stage overrides refine the shared tree after the default merge.
	if script := part.Override(lifecycle.Stage); script != "" {
		if err := e.runScript(ctx, script, e.dirs.Stage, e.stepEnv(part, lifecycle.Stage)); err != nil {
			return err
		}
	}

	st := e.store.NewStepState(part, lifecycle.Stage, "", e.overlayHash(), runID, files, dirs)
	return e.store.Save(part.Name, lifecycle.Stage, st)
}

func (e *Executor) runPrime(ctx context.Context, part *parts.Part, runID string) error {
	staged := e.store.Get(part.Name, lifecycle.Stage)
	if staged == nil {
		return fmt.Errorf("part %q has no stage state", part.Name)
	}

	files, dirs, err := e.layout.Prime(part, staged.Files, staged.Directories)
	if err != nil {
		return err
	}

	if script := part.Override(lifecycle.Prime); script != "" {
		if err := e.runScript(ctx, script, e.dirs.Prime, e.stepEnv(part, lifecycle.Prime)); err != nil {
			return err
		}
	}

	st := e.store.NewStepState(part, lifecycle.Prime, "", "", runID, files, dirs)
	return e.store.Save(part.Name, lifecycle.Prime, st)
}

func (e *Executor) updateStep(ctx context.Context, part *parts.Part, a plan.Action, runID string) error {
	// Pulls, overlays and builds refresh incrementally: source handlers
	// and the build-tree copy only touch what changed.
	return e.runStep(ctx, part, a.Step, runID)
}

func (e *Executor) cleanStep(ctx context.Context, part *parts.Part, step lifecycle.Step) error {
	switch step {
	case lifecycle.Pull:
		return os.RemoveAll(e.dirs.PartSrcDir(part.Name))

	case lifecycle.Overlay:
		return os.RemoveAll(e.dirs.PartLayerDir(part.Name))

	case lifecycle.Build:
		if err := os.RemoveAll(e.dirs.PartBuildDir(part.Name)); err != nil {
			return err
		}
		return os.RemoveAll(e.dirs.PartInstallDir(part.Name))

	// Shared trees are cleaned from the persisted record: the planner may
	// already have replaced the in-memory state with a projection that no
	// longer lists what the previous run migrated.
	case lifecycle.Stage:
		if st := state.Load(e.dirs.PartStateDir(part.Name), step); st != nil {
			return e.layout.CleanShared(part.Name, st.Files, st.Directories, layout.StageTree)
		}

	case lifecycle.Prime:
		if st := state.Load(e.dirs.PartStateDir(part.Name), step); st != nil {
			return e.layout.CleanShared(part.Name, st.Files, st.Directories, layout.PrimeTree)
		}
	}
	return nil
}

// rebuildOverlayView rematerializes the combined overlay: the base tree
// with every part layer applied in stack order.
func (e *Executor) rebuildOverlayView(ctx context.Context) error {
	view := e.dirs.OverlayViewDir()
	if err := os.RemoveAll(view); err != nil {
		return err
	}
	if err := os.MkdirAll(view, 0o755); err != nil {
		return err
	}

	base := e.dirs.OverlayBaseDir()
	if _, err := os.Stat(base); err == nil {
		if err := sources.CopyTree(ctx, base, view); err != nil {
			return err
		}
	}

	for _, part := range e.graph.Order() {
		if err := overlay.ApplyLayer(e.dirs.PartLayerDir(part.Name), view); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) overlayHash() string {
	if !e.overlays || e.layers == nil {
		return ""
	}
	return e.layers.OverlayHash()
}

func (e *Executor) pluginContext(part *parts.Part) *plugin.Context {
	return &plugin.Context{
		PartName:   part.Name,
		SrcDir:     e.dirs.PartSrcDir(part.Name),
		BuildDir:   e.dirs.PartBuildDir(part.Name),
		InstallDir: e.dirs.PartInstallDir(part.Name),
		StageDir:   e.dirs.Stage,
		Properties: part.Properties,
		Parallel:   e.parallel,
	}
}

// Package app wires the project loader, parts graph, state store,
// planner and executor into the partforge commands.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/partforge/partforge/internal/ctxlog"
	"github.com/partforge/partforge/internal/executor"
	"github.com/partforge/partforge/internal/layout"
	"github.com/partforge/partforge/internal/lifecycle"
	"github.com/partforge/partforge/internal/overlay"
	"github.com/partforge/partforge/internal/parts"
	"github.com/partforge/partforge/internal/plan"
	"github.com/partforge/partforge/internal/plugin"
	"github.com/partforge/partforge/internal/sequencer"
	"github.com/partforge/partforge/internal/specfile"
	"github.com/partforge/partforge/internal/state"
)

// App encapsulates one partforge invocation.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	cfg    *Config
}

// NewApp creates an App with its own isolated logger.
func NewApp(outW io.Writer, cfg *Config) *App {
	return &App{
		outW:   outW,
		logger: newLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr),
		cfg:    cfg,
	}
}

// Run executes the configured command.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	project, err := a.loadProject(ctx)
	if err != nil {
		return err
	}

	registry := plugin.NewRegistry()
	if err := validateParts(project.Parts, registry); err != nil {
		return err
	}

	graph, err := parts.NewGraph(project.Parts)
	if err != nil {
		return err
	}

	dirs := layout.NewProjectDirs(a.cfg.WorkDir)
	store, err := state.NewStore(ctx, dirs, graph, project.Options, project.Overlays)
	if err != nil {
		return err
	}
	defer store.Close()

	var layers *overlay.LayerState
	if project.Overlays {
		layers = overlay.NewLayerState(graph.Order(), "")
	}

	parallel := project.Parallel
	if a.cfg.Parallel > 0 {
		parallel = a.cfg.Parallel
	}

	planner := sequencer.New(graph, store, layers, project.Overlays)
	exec := executor.New(executor.Config{
		Dirs:     dirs,
		Graph:    graph,
		Store:    store,
		Registry: registry,
		Layers:   layers,
		Overlays: project.Overlays,
		Parallel: parallel,
	})

	switch a.cfg.Command {
	case CommandPlan:
		actions, err := planner.Plan(ctx, a.cfg.TargetStep(), a.cfg.PartNames)
		if err != nil {
			return err
		}
		a.printPlan(actions)
		return nil

	case CommandRun:
		actions, err := planner.Plan(ctx, a.cfg.TargetStep(), a.cfg.PartNames)
		if err != nil {
			return err
		}
		return exec.Execute(ctx, actions)

	case CommandClean:
		return exec.Clean(ctx, a.cfg.TargetStep(), a.cfg.PartNames)

	case CommandState:
		return a.printState(graph, store, project.Overlays)
	}
	return fmt.Errorf("unknown command %q", a.cfg.Command)
}

func (a *App) loadProject(ctx context.Context) (*specfile.Project, error) {
	info, err := os.Stat(a.cfg.ProjectPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read project path: %w", err)
	}
	if info.IsDir() {
		return specfile.LoadDir(ctx, a.cfg.ProjectPath)
	}
	return specfile.Load(ctx, a.cfg.ProjectPath)
}

func (a *App) printPlan(actions []plan.Action) {
	for _, action := range actions {
		fmt.Fprintln(a.outW, action)
	}
}

func (a *App) printState(graph *parts.Graph, store *state.Store, overlays bool) error {
	for _, part := range graph.Order() {
		for _, step := range lifecycle.Steps(overlays) {
			st := store.Get(part.Name, step)
			if st == nil {
				fmt.Fprintf(a.outW, "%s:%s\t-\n", part.Name, step)
				continue
			}
			fingerprint := st.Fingerprint
			if len(fingerprint) > 12 {
				fingerprint = fingerprint[:12]
			}
			fmt.Fprintf(a.outW, "%s:%s\t%s\trun=%s\n", part.Name, step, fingerprint, st.RunID)
		}
	}
	return nil
}

func validateParts(list []*parts.Part, registry *plugin.Registry) error {
	for _, part := range list {
		plug, err := registry.Resolve(part.PluginName)
		if err != nil {
			return fmt.Errorf("part %q: %w", part.Name, err)
		}
		if err := plug.ValidateProperties(part.Properties); err != nil {
			return fmt.Errorf("part %q: %w", part.Name, err)
		}
	}
	return nil
}

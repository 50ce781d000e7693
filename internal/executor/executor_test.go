package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partforge/partforge/internal/layout"
	"github.com/partforge/partforge/internal/lifecycle"
	"github.com/partforge/partforge/internal/parts"
	"github.com/partforge/partforge/internal/plugin"
	"github.com/partforge/partforge/internal/sequencer"
	"github.com/partforge/partforge/internal/sources"
	"github.com/partforge/partforge/internal/state"
)

type fixture struct {
	dirs     layout.ProjectDirs
	graph    *parts.Graph
	store    *state.Store
	planner  *sequencer.Planner
	executor *Executor
}

func newFixture(t *testing.T, list ...*parts.Part) *fixture {
	t.Helper()

	g, err := parts.NewGraph(list)
	require.NoError(t, err)

	dirs := layout.NewProjectDirs(t.TempDir())
	s, err := state.NewStore(context.Background(), dirs, g, nil, false)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return &fixture{
		dirs:    dirs,
		graph:   g,
		store:   s,
		planner: sequencer.New(g, s, nil, false),
		executor: New(Config{
			Dirs:     dirs,
			Graph:    g,
			Store:    s,
			Registry: plugin.NewRegistry(),
			Parallel: 1,
		}),
	}
}

func (f *fixture) runTo(t *testing.T, target lifecycle.Step) {
	t.Helper()
	actions, err := f.planner.Plan(context.Background(), target, nil)
	require.NoError(t, err)
	require.NoError(t, f.executor.Execute(context.Background(), actions))
}

func TestExecute_FullLifecycle(t *testing.T) {
	f := newFixture(t, &parts.Part{
		Name:          "hello",
		PluginName:    "nil",
		OverrideBuild: `echo hi > "$PARTFORGE_PART_INSTALL/hello.txt"`,
	})

	f.runTo(t, lifecycle.Prime)

	assert.FileExists(t, filepath.Join(f.dirs.Stage, "hello.txt"))
	assert.FileExists(t, filepath.Join(f.dirs.Prime, "hello.txt"))

	for _, step := range lifecycle.Steps(false) {
		st := f.store.Get("hello", step)
		require.NotNil(t, st, "missing state for %s", step)
		assert.NotEmpty(t, st.RunID)
		assert.FileExists(t, filepath.Join(f.dirs.PartStateDir("hello"), step.String()))
	}
	assert.Equal(t, []string{"hello.txt"}, f.store.Get("hello", lifecycle.Stage).Files)
}

func TestExecute_PullsLocalSource(t *testing.T) {
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "data.txt"), []byte("payload\n"), 0o644))

	f := newFixture(t, &parts.Part{
		Name:       "data",
		PluginName: "dump",
		Source:     sources.Spec{Type: "local", Location: srcDir},
	})

	f.runTo(t, lifecycle.Stage)

	assert.FileExists(t, filepath.Join(f.dirs.PartSrcDir("data"), "data.txt"))
	assert.FileExists(t, filepath.Join(f.dirs.Stage, "data.txt"))
	assert.NotEmpty(t, f.store.Get("data", lifecycle.Pull).SourceID)
}

func TestExecute_OrganizeRearrangesInstall(t *testing.T) {
	f := newFixture(t, &parts.Part{
		Name:          "tool",
		PluginName:    "nil",
		OverrideBuild: `touch "$PARTFORGE_PART_INSTALL/tool.bin"`,
		Organize:      map[string]string{"tool.bin": "bin/"},
	})

	f.runTo(t, lifecycle.Stage)

	assert.FileExists(t, filepath.Join(f.dirs.Stage, "bin", "tool.bin"))
	assert.NoFileExists(t, filepath.Join(f.dirs.Stage, "tool.bin"))
	assert.Equal(t, []string{filepath.Join("bin", "tool.bin")}, f.store.Get("tool", lifecycle.Stage).Files)
}

func TestExecute_DependencyArtifactsVisibleToBuild(t *testing.T) {
	f := newFixture(t,
		&parts.Part{
			Name:          "lib",
			PluginName:    "nil",
			OverrideBuild: `echo 1.0 > "$PARTFORGE_PART_INSTALL/lib.version"`,
		},
		&parts.Part{
			Name:          "app",
			PluginName:    "nil",
			After:         []string{"lib"},
			OverrideBuild: `cp "$PARTFORGE_STAGE/lib.version" "$PARTFORGE_PART_INSTALL/app.version"`,
		},
	)

	f.runTo(t, lifecycle.Prime)

	data, err := os.ReadFile(filepath.Join(f.dirs.Prime, "app.version"))
	require.NoError(t, err)
	assert.Equal(t, "1.0\n", string(data))
}

func TestExecute_FailingStepStopsRun(t *testing.T) {
	f := newFixture(t, &parts.Part{
		Name:          "broken",
		PluginName:    "nil",
		OverrideBuild: "exit 1",
	})

	actions, err := f.planner.Plan(context.Background(), lifecycle.Prime, nil)
	require.NoError(t, err)

	err = f.executor.Execute(context.Background(), actions)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "broken", stepErr.Part)
	assert.Equal(t, lifecycle.Build, stepErr.Step)

	// The failing step leaves no persisted record behind.
	assert.Nil(t, f.store.Get("broken", lifecycle.Build))
	assert.NotNil(t, f.store.Get("broken", lifecycle.Pull))
}

func TestExecute_CancelledContext(t *testing.T) {
	f := newFixture(t, &parts.Part{Name: "foo", PluginName: "nil"})

	actions, err := f.planner.Plan(context.Background(), lifecycle.Prime, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = f.executor.Execute(ctx, actions)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecute_RerunCleansStaleSharedFiles(t *testing.T) {
	part := &parts.Part{
		Name:          "pkg",
		PluginName:    "nil",
		OverrideBuild: `mkdir -p "$PARTFORGE_PART_INSTALL/bin" && touch "$PARTFORGE_PART_INSTALL/bin/a.txt" "$PARTFORGE_PART_INSTALL/bin/b.txt"`,
	}
	f := newFixture(t, part)

	f.runTo(t, lifecycle.Prime)
	require.FileExists(t, filepath.Join(f.dirs.Stage, "bin", "b.txt"))
	require.FileExists(t, filepath.Join(f.dirs.Prime, "bin", "b.txt"))

	// Narrowing the stage fileset between runs must evict what the
	// previous run migrated into both shared trees.
	part.StageFiles = []string{"bin/a.txt"}
	f.runTo(t, lifecycle.Prime)

	assert.FileExists(t, filepath.Join(f.dirs.Stage, "bin", "a.txt"))
	assert.NoFileExists(t, filepath.Join(f.dirs.Stage, "bin", "b.txt"))
	assert.FileExists(t, filepath.Join(f.dirs.Prime, "bin", "a.txt"))
	assert.NoFileExists(t, filepath.Join(f.dirs.Prime, "bin", "b.txt"))
	assert.Equal(t, []string{filepath.Join("bin", "a.txt")}, f.store.Get("pkg", lifecycle.Stage).Files)
}

func TestClean_RemovesPrimedFilesOnly(t *testing.T) {
	f := newFixture(t, &parts.Part{
		Name:          "hello",
		PluginName:    "nil",
		OverrideBuild: `echo hi > "$PARTFORGE_PART_INSTALL/hello.txt"`,
	})

	f.runTo(t, lifecycle.Prime)
	require.NoError(t, f.executor.Clean(context.Background(), lifecycle.Prime, nil))

	assert.NoFileExists(t, filepath.Join(f.dirs.Prime, "hello.txt"))
	assert.FileExists(t, filepath.Join(f.dirs.Stage, "hello.txt"))
	assert.False(t, f.store.HasRun("hello", lifecycle.Prime))
	assert.True(t, f.store.HasRun("hello", lifecycle.Stage))
}

func TestClean_PullRemovesPartDir(t *testing.T) {
	f := newFixture(t, &parts.Part{
		Name:          "hello",
		PluginName:    "nil",
		OverrideBuild: `echo hi > "$PARTFORGE_PART_INSTALL/hello.txt"`,
	})

	f.runTo(t, lifecycle.Prime)
	require.NoError(t, f.executor.Clean(context.Background(), lifecycle.Pull, nil))

	assert.NoDirExists(t, f.dirs.PartDir("hello"))
	assert.NoFileExists(t, filepath.Join(f.dirs.Stage, "hello.txt"))
	assert.NoFileExists(t, filepath.Join(f.dirs.Prime, "hello.txt"))
}

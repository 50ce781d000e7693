package layout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partforge/partforge/internal/parts"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestLayout(t *testing.T) *Layout {
	t.Helper()
	return New(NewProjectDirs(t.TempDir()))
}

func TestMigratable(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "bin/app"), "binary")
	writeFile(t, filepath.Join(src, "share/doc/readme"), "docs")
	writeFile(t, filepath.Join(src, "lib/libx.so"), "lib")

	t.Run("default selects everything", func(t *testing.T) {
		files, dirs, err := Migratable(src, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"bin/app", "lib/libx.so", "share/doc/readme"}, files)
		assert.Contains(t, dirs, "bin")
		assert.Contains(t, dirs, "share/doc")
	})

	t.Run("exclusion pattern", func(t *testing.T) {
		files, _, err := Migratable(src, []string{"*", "-share/doc"})
		require.NoError(t, err)
		assert.Equal(t, []string{"bin/app", "lib/libx.so"}, files)
	})

	t.Run("directory include", func(t *testing.T) {
		files, _, err := Migratable(src, []string{"bin"})
		require.NoError(t, err)
		assert.Equal(t, []string{"bin/app"}, files)
	})

	t.Run("missing source dir is empty", func(t *testing.T) {
		files, dirs, err := Migratable(filepath.Join(src, "nope"), nil)
		require.NoError(t, err)
		assert.Empty(t, files)
		assert.Empty(t, dirs)
	})
}

func TestStageRecordsOwnership(t *testing.T) {
	l := newTestLayout(t)
	part := &parts.Part{Name: "alpha"}
	writeFile(t, filepath.Join(l.Dirs.PartInstallDir("alpha"), "bin/tool"), "v1")

	files, dirs, err := l.Stage(part)
	require.NoError(t, err)
	assert.Equal(t, []string{"bin/tool"}, files)
	assert.Equal(t, []string{"bin"}, dirs)

	assert.FileExists(t, filepath.Join(l.Dirs.Stage, "bin/tool"))

	j, err := l.journal(StageTree)
	require.NoError(t, err)
	owner, ok := j.owner("bin/tool")
	require.True(t, ok)
	assert.Equal(t, "alpha", owner)
}

func TestStageTopLevelFile(t *testing.T) {
	l := newTestLayout(t)
	part := &parts.Part{Name: "alpha"}
	writeFile(t, filepath.Join(l.Dirs.PartInstallDir("alpha"), "top.txt"), "v1")

	files, dirs, err := l.Stage(part)
	require.NoError(t, err)
	assert.Equal(t, []string{"top.txt"}, files)
	assert.Empty(t, dirs)
	assert.FileExists(t, filepath.Join(l.Dirs.Stage, "top.txt"))
}

func TestStageConflict(t *testing.T) {
	l := newTestLayout(t)
	writeFile(t, filepath.Join(l.Dirs.PartInstallDir("alpha"), "etc/cfg"), "alpha content")
	writeFile(t, filepath.Join(l.Dirs.PartInstallDir("beta"), "etc/cfg"), "beta content")

	_, _, err := l.Stage(&parts.Part{Name: "alpha"})
	require.NoError(t, err)

	_, _, err = l.Stage(&parts.Part{Name: "beta"})
	var conflictErr *ConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, "etc/cfg", conflictErr.Path)
	assert.Equal(t, "beta", conflictErr.Part)
	assert.Equal(t, "alpha", conflictErr.OtherPart)
}

func TestStageIdenticalContentIsNotConflict(t *testing.T) {
	l := newTestLayout(t)
	writeFile(t, filepath.Join(l.Dirs.PartInstallDir("alpha"), "etc/cfg"), "same")
	writeFile(t, filepath.Join(l.Dirs.PartInstallDir("beta"), "etc/cfg"), "same")

	_, _, err := l.Stage(&parts.Part{Name: "alpha"})
	require.NoError(t, err)
	_, _, err = l.Stage(&parts.Part{Name: "beta"})
	require.NoError(t, err)

	// The later stager takes ownership.
	j, err := l.journal(StageTree)
	require.NoError(t, err)
	owner, _ := j.owner("etc/cfg")
	assert.Equal(t, "beta", owner)
}

func TestStageOverwritePermitted(t *testing.T) {
	l := newTestLayout(t)
	writeFile(t, filepath.Join(l.Dirs.PartInstallDir("alpha"), "etc/cfg"), "alpha content")
	writeFile(t, filepath.Join(l.Dirs.PartInstallDir("beta"), "etc/cfg"), "beta content")

	_, _, err := l.Stage(&parts.Part{Name: "alpha"})
	require.NoError(t, err)
	_, _, err = l.Stage(&parts.Part{Name: "beta", AllowOverwrite: true})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(l.Dirs.Stage, "etc/cfg"))
	require.NoError(t, err)
	assert.Equal(t, "beta content", string(data))
}

func TestCleanSharedRespectsOwnership(t *testing.T) {
	l := newTestLayout(t)
	writeFile(t, filepath.Join(l.Dirs.PartInstallDir("alpha"), "etc/cfg"), "same")
	writeFile(t, filepath.Join(l.Dirs.PartInstallDir("alpha"), "etc/alpha-only"), "a")
	writeFile(t, filepath.Join(l.Dirs.PartInstallDir("beta"), "etc/cfg"), "same")

	alphaFiles, alphaDirs, err := l.Stage(&parts.Part{Name: "alpha"})
	require.NoError(t, err)
	_, _, err = l.Stage(&parts.Part{Name: "beta"})
	require.NoError(t, err)

	// beta owns etc/cfg now; cleaning alpha must not remove it.
	require.NoError(t, l.CleanShared("alpha", alphaFiles, alphaDirs, StageTree))

	assert.FileExists(t, filepath.Join(l.Dirs.Stage, "etc/cfg"))
	assert.NoFileExists(t, filepath.Join(l.Dirs.Stage, "etc/alpha-only"))
}

func TestCleanSharedPrunesEmptyDirs(t *testing.T) {
	l := newTestLayout(t)
	writeFile(t, filepath.Join(l.Dirs.PartInstallDir("alpha"), "usr/share/x"), "x")

	files, dirs, err := l.Stage(&parts.Part{Name: "alpha"})
	require.NoError(t, err)

	require.NoError(t, l.CleanShared("alpha", files, dirs, StageTree))
	assert.NoDirExists(t, filepath.Join(l.Dirs.Stage, "usr"))
}

func TestPrimeAppliesFilesetAndPermissions(t *testing.T) {
	l := newTestLayout(t)
	part := &parts.Part{Name: "alpha", PrimeFiles: []string{"*", "-share"}}
	writeFile(t, filepath.Join(l.Dirs.PartInstallDir("alpha"), "bin/tool"), "t")
	writeFile(t, filepath.Join(l.Dirs.PartInstallDir("alpha"), "share/doc"), "d")
	require.NoError(t, os.Chmod(filepath.Join(l.Dirs.PartInstallDir("alpha"), "bin/tool"), 0o700))

	stagedFiles, stagedDirs, err := l.Stage(part)
	require.NoError(t, err)

	primedFiles, _, err := l.Prime(part, stagedFiles, stagedDirs)
	require.NoError(t, err)
	assert.Equal(t, []string{"bin/tool"}, primedFiles)
	assert.NoFileExists(t, filepath.Join(l.Dirs.Prime, "share/doc"))

	info, err := os.Stat(filepath.Join(l.Dirs.Prime, "bin/tool"))
	require.NoError(t, err)
	// World-readable and executable after normalization.
	assert.Equal(t, os.FileMode(0o111), info.Mode().Perm()&0o111)
	assert.Equal(t, os.FileMode(0o444), info.Mode().Perm()&0o444)
}

func TestJournalSurvivesReload(t *testing.T) {
	dirs := NewProjectDirs(t.TempDir())
	l := New(dirs)
	writeFile(t, filepath.Join(dirs.PartInstallDir("alpha"), "f"), "x")

	_, _, err := l.Stage(&parts.Part{Name: "alpha"})
	require.NoError(t, err)

	// A fresh Layout over the same work dir sees the persisted owners.
	l2 := New(dirs)
	j, err := l2.journal(StageTree)
	require.NoError(t, err)
	owner, ok := j.owner("f")
	require.True(t, ok)
	assert.Equal(t, "alpha", owner)
}

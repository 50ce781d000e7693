package specfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partforge/partforge/internal/parts"
)

func writeProject(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FullProject(t *testing.T) {
	path := writeProject(t, "forge.hcl", `
project {
  overlays = true
  parallel = 4
  options = {
    target = "amd64"
    strict = true
  }
}

part "toolchain" {
  plugin = "make"

  source {
    type     = "tar"
    location = "toolchain.tar.gz"
  }

  make-parameters = ["V=1"]
  organize        = { "usr/bin" = "bin/" }
  stage           = ["bin/*", "-bin/*.debug"]
}

part "app" {
  plugin = "go"
  after  = ["toolchain"]

  source {
    type     = "git"
    location = "https://example.com/app.git"
    branch   = "main"
  }

  go-buildtags   = ["netgo"]
  override_stage = "echo staged"
}
`)

	project, err := Load(context.Background(), path)
	require.NoError(t, err)

	assert.True(t, project.Overlays)
	assert.Equal(t, 4, project.Parallel)
	assert.Equal(t, map[string]any{"target": "amd64", "strict": true}, project.Options)
	require.Len(t, project.Parts, 2)

	toolchain, err := parts.ByName("toolchain", project.Parts)
	require.NoError(t, err)
	assert.Equal(t, "make", toolchain.PluginName)
	assert.Equal(t, "tar", toolchain.Source.Type)
	assert.Equal(t, map[string]string{"usr/bin": "bin/"}, toolchain.Organize)
	assert.Equal(t, []string{"bin/*", "-bin/*.debug"}, toolchain.StageFiles)
	assert.Equal(t, map[string]any{"make-parameters": []any{"V=1"}}, toolchain.Properties)

	app, err := parts.ByName("app", project.Parts)
	require.NoError(t, err)
	assert.Equal(t, []string{"toolchain"}, app.After)
	assert.Equal(t, "main", app.Source.Branch)
	assert.Equal(t, "echo staged", app.OverrideStage)
	assert.Equal(t, map[string]any{"go-buildtags": []any{"netgo"}}, app.Properties)
}

func TestLoadDir_MergesFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "project.hcl"), []byte(`
project {
  options = { target = "arm64" }
}
`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "parts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "parts", "lib.hcl"), []byte(`
part "lib" {
  plugin = "nil"
}
`), 0o644))

	project, err := LoadDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"target": "arm64"}, project.Options)
	require.Len(t, project.Parts, 1)
	assert.Equal(t, "lib", project.Parts[0].Name)
}

func TestLoadDir_NoFiles(t *testing.T) {
	_, err := LoadDir(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no .hcl project files")
}

func TestLoad_RejectsBadPartName(t *testing.T) {
	path := writeProject(t, "forge.hcl", `
part "Bad_Name" {
  plugin = "nil"
}
`)
	_, err := Load(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bad_Name")
}

func TestLoad_RejectsUnknownSourceType(t *testing.T) {
	path := writeProject(t, "forge.hcl", `
part "foo" {
  plugin = "nil"
  source {
    type     = "svn"
    location = "svn://example.com/foo"
  }
}
`)
	_, err := Load(context.Background(), path)
	require.Error(t, err)
}

func TestLoad_DuplicateProjectBlocks(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.hcl", "b.hcl"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(`
project {
  overlays = false
}

part "`+name[:1]+`one" {
  plugin = "nil"
}
`), 0o644))
	}

	_, err := LoadDir(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate project block")
}

func TestLoad_EmptyProject(t *testing.T) {
	path := writeProject(t, "forge.hcl", `
project {
  parallel = 1
}
`)
	_, err := Load(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no parts")
}

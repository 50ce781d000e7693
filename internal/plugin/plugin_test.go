package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ResolveBuiltins(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"dump", "go", "make", "nil"}, r.Names())

	for _, name := range r.Names() {
		p, err := r.Resolve(name)
		require.NoError(t, err)
		assert.Equal(t, name, p.Name())
	}

	// Parts without a plugin declaration fall back to the nil plugin.
	p, err := r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "nil", p.Name())
}

func TestRegistry_UnknownPlugin(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("cargo")

	var unknownErr *UnknownPluginError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "cargo", unknownErr.Name)
}

func TestNilPlugin(t *testing.T) {
	r := NewRegistry()
	p, err := r.Resolve("nil")
	require.NoError(t, err)

	require.NoError(t, p.ValidateProperties(nil))
	assert.Empty(t, p.BuildCommands(&Context{}))

	err = p.ValidateProperties(map[string]any{"go-buildtags": []string{"x"}})
	var propErr *PropertyError
	require.ErrorAs(t, err, &propErr)
	assert.Equal(t, "go-buildtags", propErr.Key)
}

func TestGoPlugin_BuildCommands(t *testing.T) {
	r := NewRegistry()
	p, err := r.Resolve("go")
	require.NoError(t, err)

	c := &Context{
		InstallDir: "/work/parts/app/install",
		Parallel:   4,
		Properties: map[string]any{
			"go-buildtags": []string{"netgo", "osusergo"},
			"go-generate":  []string{"./internal/gen"},
		},
	}
	require.NoError(t, p.ValidateProperties(c.Properties))

	cmds := p.BuildCommands(c)
	require.Len(t, cmds, 3)
	assert.Equal(t, "go mod download", cmds[0])
	assert.Equal(t, "go generate ./internal/gen", cmds[1])
	assert.Equal(t, "go install -p 4 -tags netgo,osusergo ./...", cmds[2])

	env := p.BuildEnvironment(c)
	assert.Equal(t, "/work/parts/app/install/bin", env["GOBIN"])
}

func TestGoPlugin_RejectsBadProperties(t *testing.T) {
	r := NewRegistry()
	p, err := r.Resolve("go")
	require.NoError(t, err)

	err = p.ValidateProperties(map[string]any{"go-buildtags": 42})
	var propErr *PropertyError
	require.ErrorAs(t, err, &propErr)
	assert.Equal(t, "go-buildtags", propErr.Key)

	err = p.ValidateProperties(map[string]any{"make-parameters": []string{"-s"}})
	require.ErrorAs(t, err, &propErr)
}

func TestMakePlugin_BuildCommands(t *testing.T) {
	r := NewRegistry()
	p, err := r.Resolve("make")
	require.NoError(t, err)

	c := &Context{
		InstallDir: "/work/parts/lib/install",
		Parallel:   2,
		Properties: map[string]any{"make-parameters": []string{"V=1"}},
	}
	require.NoError(t, p.ValidateProperties(c.Properties))

	cmds := p.BuildCommands(c)
	require.Len(t, cmds, 2)
	assert.Equal(t, "make -j2 V=1", cmds[0])
	assert.Equal(t, `make -j2 install DESTDIR="/work/parts/lib/install" V=1`, cmds[1])
}

func TestDumpPlugin_BuildCommands(t *testing.T) {
	r := NewRegistry()
	p, err := r.Resolve("dump")
	require.NoError(t, err)

	cmds := p.BuildCommands(&Context{InstallDir: "/work/parts/data/install"})
	require.Len(t, cmds, 1)
	assert.Contains(t, cmds[0], `cp --archive --link --no-dereference . "/work/parts/data/install"`)
}

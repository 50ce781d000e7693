package sources

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHandler(t *testing.T) {
	cases := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{name: "default is local", spec: Spec{Location: "."}},
		{name: "local", spec: Spec{Type: "local", Location: "."}},
		{name: "tar", spec: Spec{Type: "tar", Location: "a.tar"}},
		{name: "git", spec: Spec{Type: "git", Location: "https://example.com/r.git"}},
		{name: "unknown", spec: Spec{Type: "svn", Location: "x"}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, err := NewHandler(tc.spec)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, h)
		})
	}
}

func TestLocalSource_PullCopiesTree(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "b.txt"), []byte("beta"), 0o600))
	require.NoError(t, os.Symlink("a.txt", filepath.Join(src, "link")))

	h, err := NewHandler(Spec{Type: "local", Location: src})
	require.NoError(t, err)

	dst := t.TempDir()
	snap, err := h.Pull(context.Background(), dst)
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID)

	data, err := os.ReadFile(filepath.Join(dst, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data))

	info, err := os.Stat(filepath.Join(dst, "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	link, err := os.Readlink(filepath.Join(dst, "link"))
	require.NoError(t, err)
	assert.Equal(t, "a.txt", link)

	// A second pull of the unchanged tree yields the same identity.
	snap2, err := h.Pull(context.Background(), dst)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, snap2.ID)
}

func TestLocalSource_PullIDChangesWithContent(t *testing.T) {
	src := t.TempDir()
	path := filepath.Join(src, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("one"), 0o644))

	h, err := NewHandler(Spec{Type: "local", Location: src})
	require.NoError(t, err)

	snap1, err := h.Pull(context.Background(), t.TempDir())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("two!"), 0o644))
	future := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	snap2, err := h.Pull(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.NotEqual(t, snap1.ID, snap2.ID)
}

func TestLocalSource_CheckOutdated(t *testing.T) {
	src := t.TempDir()
	path := filepath.Join(src, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	h, err := NewHandler(Spec{Type: "local", Location: src})
	require.NoError(t, err)

	files, dirs, err := h.CheckOutdated(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Empty(t, dirs)

	files, _, err = h.CheckOutdated(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, files)
}

func TestTarSource_PullUnpacksArchive(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "dir/", Typeflag: tar.TypeDir, Mode: 0o755,
	}))
	content := []byte("hello from tar\n")
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "dir/hello.txt", Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(content)),
	}))
	_, err := tw.Write(content)
	require.NoError(t, err)
	// Entries escaping the destination are ignored.
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "../escape.txt", Typeflag: tar.TypeReg, Mode: 0o644, Size: 0,
	}))
	require.NoError(t, tw.Close())

	archive := filepath.Join(t.TempDir(), "src.tar")
	require.NoError(t, os.WriteFile(archive, buf.Bytes(), 0o644))

	h, err := NewHandler(Spec{Type: "tar", Location: archive})
	require.NoError(t, err)

	dst := t.TempDir()
	snap, err := h.Pull(context.Background(), dst)
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID)

	data, err := os.ReadFile(filepath.Join(dst, "dir", "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, string(content), string(data))
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dst), "escape.txt"))

	_, _, err = h.CheckOutdated(time.Now())
	assert.ErrorIs(t, err, ErrUpdateUnsupported)
}

// Package overlay implements layered build support. Each part owns one
// layer directory stacked over a shared base in part order. Layer
// identity is a chained hash: a layer's hash covers its own overlay
// parameters and the hash of the layer below it, so any change in a lower
// layer invalidates everything stacked above.
package overlay

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/partforge/partforge/internal/parts"
)

// whiteoutPrefix marks a file in a layer that deletes the corresponding
// path from lower layers when the layer is applied.
const whiteoutPrefix = ".wh."

// IsWhiteout reports whether the base name marks a deletion.
func IsWhiteout(name string) bool {
	return strings.HasPrefix(filepath.Base(name), whiteoutPrefix)
}

// WhiteoutTarget returns the path a whiteout file deletes.
func WhiteoutTarget(rel string) string {
	dir, base := filepath.Split(rel)
	return filepath.Join(dir, strings.TrimPrefix(base, whiteoutPrefix))
}

// LayerState tracks the in-memory layer hashes for a run. The sequencer
// uses it to verify overlay stack consistency before planning steps that
// observe the overlay.
type LayerState struct {
	order  []*parts.Part
	base   string
	hashes map[string]string
}

// NewLayerState creates the layer state for parts in stacking order.
// baseHash identifies the shared base layer and may be empty.
func NewLayerState(order []*parts.Part, baseHash string) *LayerState {
	return &LayerState{
		order:  order,
		base:   baseHash,
		hashes: make(map[string]string),
	}
}

// ComputeLayerHash derives the part's layer hash from its overlay
// parameters chained with the hash of the layer below it.
func (s *LayerState) ComputeLayerHash(p *parts.Part) string {
	lower := s.base
	for _, other := range s.order {
		if other.Name == p.Name {
			break
		}
		if h, ok := s.hashes[other.Name]; ok {
			lower = h
		}
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n%s\n%s\n", lower, p.Name, p.OverlayScript,
		strings.Join(p.OverlayFiles, "\x00"))
	return hex.EncodeToString(h.Sum(nil))
}

// SetLayerHash records the current hash for a part's layer.
func (s *LayerState) SetLayerHash(p *parts.Part, hash string) {
	s.hashes[p.Name] = hash
}

// LayerHash returns the recorded hash for a part's layer, or empty when
// the layer has not been applied.
func (s *LayerState) LayerHash(p *parts.Part) string {
	return s.hashes[p.Name]
}

// OverlayHash identifies the whole overlay stack: the hash of the topmost
// layer. Steps that can observe the overlay record it in their state so
// overlay changes invalidate them.
func (s *LayerState) OverlayHash() string {
	if len(s.order) == 0 {
		return ""
	}
	return s.hashes[s.order[len(s.order)-1].Name]
}

// ApplyLayer merges a layer directory down into dest. Whiteout files
// delete their targets from dest; everything else is copied over.
func ApplyLayer(layerDir, dest string) error {
	return filepath.WalkDir(layerDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == layerDir {
				return filepath.SkipAll
			}
			return err
		}
		rel, err := filepath.Rel(layerDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dest, rel)

		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm())
		}

		if IsWhiteout(rel) {
			return os.RemoveAll(filepath.Join(dest, WhiteoutTarget(rel)))
		}

		return copyEntry(path, target, d)
	})
}

func copyEntry(src, dst string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		link, err := os.Readlink(src)
		if err != nil {
			return err
		}
		if err := os.RemoveAll(dst); err != nil {
			return err
		}
		return os.Symlink(link, dst)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

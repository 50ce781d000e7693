package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/partforge/partforge/internal/overlay"
	"github.com/partforge/partforge/internal/parts"
)

// Tree selects one of the shared merge destinations.
type Tree int

const (
	// StageTree is the shared staging area.
	StageTree Tree = iota
	// PrimeTree is the final merged tree.
	PrimeTree
)

// Layout performs the merge operations into the shared stage and prime
// trees. Merges into each tree are serialized by a per-tree lock so
// concurrent part execution never interleaves partial writes.
type Layout struct {
	Dirs ProjectDirs

	stageMu sync.Mutex
	primeMu sync.Mutex

	journalMu sync.Mutex
	journals  map[Tree]*journal
}

// New creates a Layout over the given project directories.
func New(dirs ProjectDirs) *Layout {
	return &Layout{
		Dirs:     dirs,
		journals: make(map[Tree]*journal),
	}
}

// CreatePartDirs makes the work, build, install and state directories for
// a part, creating them as needed.
func (l *Layout) CreatePartDirs(name string) error {
	for _, dir := range []string{
		l.Dirs.PartSrcDir(name),
		l.Dirs.PartBuildDir(name),
		l.Dirs.PartInstallDir(name),
		l.Dirs.PartStateDir(name),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create part directory: %w", err)
		}
	}
	return nil
}

// Stage merges the part's install tree into the shared stage directory.
// Each migrated path is recorded in the persisted ownership journal. A
// path already owned by a different part raises a ConflictError when the
// contents differ, unless the staging part is overwrite-permitted.
func (l *Layout) Stage(part *parts.Part) (files, dirs []string, err error) {
	installDir := l.Dirs.PartInstallDir(part.Name)
	files, dirs, err = Migratable(installDir, part.StageFiles)
	if err != nil {
		return nil, nil, err
	}
	return l.stageMigrate(part, installDir, files, dirs)
}

// StageOverlay merges the part's overlay layer into the stage tree,
// narrowed by the part's overlay fileset. Whiteout markers never migrate.
func (l *Layout) StageOverlay(part *parts.Part, layerDir string) (files, dirs []string, err error) {
	files, dirs, err = Migratable(layerDir, part.OverlayFiles)
	if err != nil {
		return nil, nil, err
	}
	kept := files[:0]
	for _, rel := range files {
		if !overlay.IsWhiteout(filepath.Base(rel)) {
			kept = append(kept, rel)
		}
	}
	return l.stageMigrate(part, layerDir, kept, dirs)
}

func (l *Layout) stageMigrate(part *parts.Part, srcdir string, files, dirs []string) ([]string, []string, error) {
	l.stageMu.Lock()
	defer l.stageMu.Unlock()

	j, err := l.journal(StageTree)
	if err != nil {
		return nil, nil, err
	}

	if !part.AllowOverwrite {
		for _, rel := range files {
			owner, ok := j.owner(rel)
			if !ok || owner == part.Name {
				continue
			}
			collide, err := pathsCollide(
				filepath.Join(srcdir, rel),
				filepath.Join(l.Dirs.Stage, rel),
			)
			if err != nil {
				return nil, nil, err
			}
			if collide {
				return nil, nil, &ConflictError{Path: rel, Part: part.Name, OtherPart: owner}
			}
		}
	}

	files, dirs, err = migrateFiles(files, dirs, srcdir, l.Dirs.Stage, nil)
	if err != nil {
		return nil, nil, err
	}
	if err := j.claim(part.Name, files); err != nil {
		return nil, nil, err
	}
	return files, dirs, nil
}

// Prime migrates the part's staged entries into the prime tree, applying
// permission normalization on the way. stagedFiles and stagedDirs come
// from the part's stage state; the part's prime fileset narrows them.
func (l *Layout) Prime(part *parts.Part, stagedFiles, stagedDirs []string) (files, dirs []string, err error) {
	l.primeMu.Lock()
	defer l.primeMu.Unlock()

	files = Filter(stagedFiles, part.PrimeFiles)
	dirs = primeDirsFor(files, stagedDirs)

	files, dirs, err = migrateFiles(files, dirs, l.Dirs.Stage, l.Dirs.Prime, normalizePermissions)
	if err != nil {
		return nil, nil, err
	}

	j, err := l.journal(PrimeTree)
	if err != nil {
		return nil, nil, err
	}
	if err := j.claim(part.Name, files); err != nil {
		return nil, nil, err
	}
	return files, dirs, nil
}

// CleanShared removes from the given tree exactly the files owned by the
// named part, then prunes any migrated directories left empty. Files a
// later part took ownership of are left in place.
func (l *Layout) CleanShared(partName string, files, dirs []string, tree Tree) error {
	mu, root := &l.stageMu, l.Dirs.Stage
	if tree == PrimeTree {
		mu, root = &l.primeMu, l.Dirs.Prime
	}
	mu.Lock()
	defer mu.Unlock()

	j, err := l.journal(tree)
	if err != nil {
		return err
	}

	var removed []string
	for _, rel := range files {
		owner, ok := j.owner(rel)
		if ok && owner != partName {
			continue
		}
		path := filepath.Join(root, rel)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %q: %w", rel, err)
		}
		removed = append(removed, rel)
	}
	if err := j.release(partName, removed); err != nil {
		return err
	}

	// Deepest directories first so empty parents prune bottom-up.
	sorted := append([]string(nil), dirs...)
	sort.Sort(sort.Reverse(sort.StringSlice(sorted)))
	for _, rel := range sorted {
		path := filepath.Join(root, rel)
		entries, err := os.ReadDir(path)
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// RemovePartDir deletes one of a part's work directories entirely.
func (l *Layout) RemovePartDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %q: %w", dir, err)
	}
	return nil
}

func (l *Layout) journal(tree Tree) (*journal, error) {
	l.journalMu.Lock()
	defer l.journalMu.Unlock()

	if j, ok := l.journals[tree]; ok {
		return j, nil
	}
	root := l.Dirs.Stage
	if tree == PrimeTree {
		root = l.Dirs.Prime
	}
	j, err := openJournal(root)
	if err != nil {
		return nil, err
	}
	l.journals[tree] = j
	return j, nil
}

// primeDirsFor returns the staged directories needed as ancestors of the
// primed files.
func primeDirsFor(files, stagedDirs []string) []string {
	needed := make(map[string]bool)
	for _, f := range files {
		for parent := filepath.Dir(f); parent != "."; parent = filepath.Dir(parent) {
			needed[parent] = true
		}
	}

	var out []string
	for _, d := range stagedDirs {
		if needed[d] {
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}

// normalizePermissions guarantees primed files are world-readable while
// preserving execute bits, matching what packaging tools expect.
func normalizePermissions(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil
	}
	mode := info.Mode().Perm() | 0o444
	if mode&0o100 != 0 {
		mode |= 0o111
	}
	return os.Chmod(path, mode)
}

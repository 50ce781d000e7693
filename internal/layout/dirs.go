// Package layout manages the on-disk areas of a project: per-part work
// directories, the shared stage and prime trees, and the overlay layer
// directories. It owns the merge discipline for the shared trees,
// including per-path ownership tracking and collision detection.
package layout

import "path/filepath"

// ProjectDirs computes every directory path used during a run. All paths
// hang off a single work directory.
type ProjectDirs struct {
	Work     string
	PartsDir string
	Stage    string
	Prime    string
	Overlay  string
}

// NewProjectDirs returns the directory layout rooted at work.
func NewProjectDirs(work string) ProjectDirs {
	abs, err := filepath.Abs(work)
	if err != nil {
		abs = work
	}
	return ProjectDirs{
		Work:     abs,
		PartsDir: filepath.Join(abs, "parts"),
		Stage:    filepath.Join(abs, "stage"),
		Prime:    filepath.Join(abs, "prime"),
		Overlay:  filepath.Join(abs, "overlay"),
	}
}

// PartDir returns the root directory for a part's work areas.
func (d ProjectDirs) PartDir(name string) string {
	return filepath.Join(d.PartsDir, name)
}

// PartSrcDir is where the pull step leaves the part's sources.
func (d ProjectDirs) PartSrcDir(name string) string {
	return filepath.Join(d.PartDir(name), "src")
}

// PartBuildDir is the working directory for the part's build commands.
func (d ProjectDirs) PartBuildDir(name string) string {
	return filepath.Join(d.PartDir(name), "build")
}

// PartInstallDir is where the build step installs the part's artifacts.
func (d ProjectDirs) PartInstallDir(name string) string {
	return filepath.Join(d.PartDir(name), "install")
}

// PartStateDir holds the persisted per-step state records for a part.
func (d ProjectDirs) PartStateDir(name string) string {
	return filepath.Join(d.PartDir(name), "state")
}

// PartLayerDir is the part's overlay layer when layered builds are enabled.
func (d ProjectDirs) PartLayerDir(name string) string {
	return filepath.Join(d.Overlay, "layers", name)
}

// OverlayBaseDir is the read-only base of the overlay stack.
func (d ProjectDirs) OverlayBaseDir() string {
	return filepath.Join(d.Overlay, "base")
}

// OverlayViewDir is the materialized combination of the overlay base and
// every part layer, rebuilt whenever the stack changes.
func (d ProjectDirs) OverlayViewDir() string {
	return filepath.Join(d.Overlay, "view")
}

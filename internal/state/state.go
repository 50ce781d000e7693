// Package state persists and interrogates per-(part, step) execution
// state. A step's record carries a fingerprint of every input that
// determined its output plus the set of files it produced, so later runs
// can tell valid work from stale work and cleaning can remove exactly
// what a step created.
package state

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/partforge/partforge/internal/lifecycle"
)

// formatVersion identifies the on-disk record layout. Records with an
// unknown version are treated as absent rather than failing the run.
const formatVersion = 1

// StepState is the persisted record of one successful step execution.
type StepState struct {
	Version int `yaml:"version"`

	// PartProperties holds the properties of interest for the step at
	// execution time, used to detect dirty steps.
	PartProperties map[string]any `yaml:"part-properties"`
	// ProjectOptions holds the project-wide options at execution time.
	ProjectOptions map[string]any `yaml:"project-options"`

	// SourceID identifies the source snapshot a pull produced.
	SourceID string `yaml:"source-id,omitempty"`
	// OverlayHash identifies the overlay stack observed by build and
	// stage steps when layered builds are enabled.
	OverlayHash string `yaml:"overlay-hash,omitempty"`

	// Fingerprint is the combined hash over every fingerprint-affecting
	// input of the step, including dependency fingerprints.
	Fingerprint string `yaml:"fingerprint"`

	// Files and Directories record what the step produced, relative to
	// the step's output tree. They are the ownership set consumed by
	// clean.
	Files       []string `yaml:"files"`
	Directories []string `yaml:"directories"`

	// RunID ties the record to the execution run that wrote it.
	RunID string `yaml:"run-id,omitempty"`
}

// CorruptionError wraps an unreadable or unrecognized state file. Callers
// treat the step as never run, so a damaged record heals itself on the
// next execution.
type CorruptionError struct {
	Path string
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("unreadable state file %q: %v", e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// Load reads the persisted record for a step straight from the part's
// state directory, bypassing the in-memory store. Cleaning uses it so a
// plan that already projected new in-memory state cannot hide what an
// earlier run actually produced. Missing or unreadable records yield nil.
func Load(stateDir string, step lifecycle.Step) *StepState {
	st, err := loadStepState(stateFilePath(stateDir, step))
	if err != nil {
		return nil
	}
	return st
}

// stateFilePath returns the state file location for a part and step.
func stateFilePath(stateDir string, step lifecycle.Step) string {
	return filepath.Join(stateDir, step.String())
}

// loadStepState reads a state record from disk. A missing file yields
// (nil, nil); an unreadable or unknown-format file yields a
// CorruptionError.
func loadStepState(path string) (*StepState, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &CorruptionError{Path: path, Err: err}
	}

	var st StepState
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, &CorruptionError{Path: path, Err: err}
	}
	if st.Version != formatVersion {
		return nil, &CorruptionError{Path: path, Err: fmt.Errorf("unknown format version %d", st.Version)}
	}
	return &st, nil
}

// writeStepState persists a record with an atomic replace.
func writeStepState(path string, st *StepState) error {
	st.Version = formatVersion
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to serialize step state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

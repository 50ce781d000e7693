package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/partforge/partforge/internal/ctxlog"
	"github.com/partforge/partforge/internal/layout"
	"github.com/partforge/partforge/internal/lifecycle"
	"github.com/partforge/partforge/internal/parts"
	"github.com/partforge/partforge/internal/sources"
)

// lockFileName guards the project's state area against concurrent runs.
const lockFileName = ".partforge.lock"

// ErrProjectLocked reports that another process holds the project lock.
var ErrProjectLocked = errors.New("project is locked by another process")

type recordKey struct {
	part string
	step lifecycle.Step
}

// record wraps a step state with a monotonically increasing serial so
// relative execution order survives planning-time mutation.
type record struct {
	state   *StepState
	serial  int
	updated bool
	modTime time.Time
}

// Store tracks the execution state of every (part, step) pair. Records
// are loaded from disk once at open in timestamp order; after that the
// in-memory serials are authoritative. Planning mutates memory only,
// execution writes through to disk.
type Store struct {
	mu       sync.Mutex
	dirs     layout.ProjectDirs
	graph    *parts.Graph
	options  map[string]any
	overlays bool

	lock    *flock.Flock
	records map[recordKey]*record
	serial  int
}

// NewStore opens the project state area, taking an exclusive lock and
// loading every persisted record. Unreadable records are logged and
// treated as absent.
func NewStore(ctx context.Context, dirs layout.ProjectDirs, graph *parts.Graph, options map[string]any, overlays bool) (*Store, error) {
	log := ctxlog.FromContext(ctx)

	if err := os.MkdirAll(dirs.Work, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work area: %w", err)
	}

	lock := flock.New(dirs.Work + "/" + lockFileName)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire project lock: %w", err)
	}
	if !locked {
		return nil, ErrProjectLocked
	}

	s := &Store{
		dirs:     dirs,
		graph:    graph,
		options:  options,
		overlays: overlays,
		lock:     lock,
		records:  map[recordKey]*record{},
	}

	type loaded struct {
		key     recordKey
		state   *StepState
		modTime time.Time
	}
	var found []loaded
	for _, p := range graph.Parts() {
		stateDir := dirs.PartStateDir(p.Name)
		for _, step := range lifecycle.Steps(true) {
			path := stateFilePath(stateDir, step)
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			st, err := loadStepState(path)
			if err != nil {
				log.Warn("Ignoring unreadable state file", "part", p.Name, "step", step.String(), "error", err)
				continue
			}
			found = append(found, loaded{
				key:     recordKey{part: p.Name, step: step},
				state:   st,
				modTime: info.ModTime(),
			})
		}
	}

	// Serial order follows on-disk timestamps so newer-than comparisons
	// reflect the original execution order.
	sort.SliceStable(found, func(i, j int) bool {
		return found[i].modTime.Before(found[j].modTime)
	})
	for _, l := range found {
		s.serial++
		s.records[l.key] = &record{state: l.state, serial: s.serial, modTime: l.modTime}
	}

	log.Debug("Opened state store", "records", len(found), "parts", len(graph.Parts()))
	return s, nil
}

// Close releases the project lock.
func (s *Store) Close() error {
	return s.lock.Unlock()
}

// Get returns the recorded state for a part and step, or nil.
func (s *Store) Get(partName string, step lifecycle.Step) *StepState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[recordKey{part: partName, step: step}]; ok {
		return rec.state
	}
	return nil
}

// HasRun reports whether the step has a recorded state.
func (s *Store) HasRun(partName string, step lifecycle.Step) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[recordKey{part: partName, step: step}]
	return ok
}

// Set records a step state in memory only. Planning uses this to project
// the effect of an action without touching disk.
func (s *Store) Set(partName string, step lifecycle.Step, st *StepState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(partName, step, st)
}

func (s *Store) set(partName string, step lifecycle.Step, st *StepState) {
	s.serial++
	s.records[recordKey{part: partName, step: step}] = &record{
		state:   st,
		serial:  s.serial,
		modTime: time.Now(),
	}
}

// Save records a step state in memory and persists it to disk.
func (s *Store) Save(partName string, step lifecycle.Step, st *StepState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := stateFilePath(s.dirs.PartStateDir(partName), step)
	if err := writeStepState(path, st); err != nil {
		return fmt.Errorf("failed to save state for part %q step %q: %w", partName, step, err)
	}
	s.set(partName, step, st)
	return nil
}

// Remove drops a step record from memory only.
func (s *Store) Remove(partName string, step lifecycle.Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, recordKey{part: partName, step: step})
}

// Discard drops a step record from memory and disk.
func (s *Store) Discard(partName string, step lifecycle.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, recordKey{part: partName, step: step})
	path := stateFilePath(s.dirs.PartStateDir(partName), step)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state for part %q step %q: %w", partName, step, err)
	}
	return nil
}

// MarkUpdated flags a step as refreshed in place, so outdated checks in
// the same session stop firing for it, and bumps its serial.
func (s *Store) MarkUpdated(partName string, step lifecycle.Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[recordKey{part: partName, step: step}]; ok {
		s.serial++
		rec.serial = s.serial
		rec.updated = true
		rec.modTime = time.Now()
	}
}

// ShouldRun reports whether a step needs to execute: it never ran, its
// inputs changed, or an earlier step ran more recently.
func (s *Store) ShouldRun(partName string, step lifecycle.Step) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shouldRun(partName, step)
}

func (s *Store) shouldRun(partName string, step lifecycle.Step) bool {
	if _, ok := s.records[recordKey{part: partName, step: step}]; !ok {
		return true
	}
	if s.checkDirty(partName, step) != nil {
		return true
	}
	return s.checkOutdated(partName, step) != nil
}

// CheckDirty reports whether the recorded state no longer matches the
// step's current inputs. A nil report means the step is clean.
func (s *Store) CheckDirty(partName string, step lifecycle.Step) *DirtyReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkDirty(partName, step)
}

func (s *Store) checkDirty(partName string, step lifecycle.Step) *DirtyReport {
	rec, ok := s.records[recordKey{part: partName, step: step}]
	if !ok {
		return nil
	}
	p, err := s.graph.Part(partName)
	if err != nil {
		return nil
	}

	report := &DirtyReport{
		DirtyProperties: diffMaps(rec.state.PartProperties, PropertiesOfInterest(p, step)),
		DirtyOptions:    diffMaps(rec.state.ProjectOptions, s.options),
	}

	// A dependency that must restage, or restaged after this step ran,
	// invalidates the step's inputs.
	if prereq, ok := lifecycle.Prerequisite(step); ok {
		for _, dep := range s.graph.Dependencies(p, false) {
			depRec, hasDep := s.records[recordKey{part: dep.Name, step: prereq}]
			if !hasDep || depRec.serial > rec.serial || s.shouldRun(dep.Name, prereq) {
				report.ChangedDependencies = append(report.ChangedDependencies, Dependency{Part: dep.Name, Step: prereq})
			}
		}
	}

	if len(report.DirtyProperties) == 0 && len(report.DirtyOptions) == 0 && len(report.ChangedDependencies) == 0 {
		return nil
	}
	return report
}

// CheckOutdated reports whether an earlier step of the same part, or the
// part's source, changed after the step last ran. A nil report means the
// step is current.
func (s *Store) CheckOutdated(partName string, step lifecycle.Step) *OutdatedReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkOutdated(partName, step)
}

func (s *Store) checkOutdated(partName string, step lifecycle.Step) *OutdatedReport {
	rec, ok := s.records[recordKey{part: partName, step: step}]
	if !ok || rec.updated {
		return nil
	}

	if step == lifecycle.Pull {
		return s.checkSourceOutdated(partName, rec)
	}

	// Report the nearest modified step when several are newer.
	previous := lifecycle.Previous(step, s.overlays)
	for i := len(previous) - 1; i >= 0; i-- {
		prevRec, ok := s.records[recordKey{part: partName, step: previous[i]}]
		if ok && prevRec.serial > rec.serial {
			return &OutdatedReport{PreviousStepModified: previous[i]}
		}
	}
	return nil
}

func (s *Store) checkSourceOutdated(partName string, rec *record) *OutdatedReport {
	p, err := s.graph.Part(partName)
	if err != nil || p.Source.Location == "" {
		return nil
	}
	handler, err := sources.NewHandler(p.Source)
	if err != nil {
		return nil
	}
	files, dirs, err := handler.CheckOutdated(rec.modTime)
	if err != nil || (len(files) == 0 && len(dirs) == 0) {
		return nil
	}
	return &OutdatedReport{SourceModified: true, OutdatedFiles: files, OutdatedDirs: dirs}
}

// ComputeFingerprint derives the step fingerprint from the part's current
// inputs and the recorded fingerprints of its staged dependencies.
func (s *Store) ComputeFingerprint(p *parts.Part, step lifecycle.Step, sourceID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var depFingerprints []string
	if prereq, ok := lifecycle.Prerequisite(step); ok {
		for _, dep := range s.graph.Dependencies(p, false) {
			if depRec, ok := s.records[recordKey{part: dep.Name, step: prereq}]; ok {
				depFingerprints = append(depFingerprints, depRec.state.Fingerprint)
			}
		}
	}
	return Fingerprint(PropertiesOfInterest(p, step), s.options, sourceID, depFingerprints)
}

// NewStepState assembles a record for a just-executed step.
func (s *Store) NewStepState(p *parts.Part, step lifecycle.Step, sourceID, overlayHash, runID string, files, dirs []string) *StepState {
	return &StepState{
		PartProperties: PropertiesOfInterest(p, step),
		ProjectOptions: s.options,
		SourceID:       sourceID,
		OverlayHash:    overlayHash,
		Fingerprint:    s.ComputeFingerprint(p, step, sourceID),
		Files:          files,
		Directories:    dirs,
		RunID:          runID,
	}
}

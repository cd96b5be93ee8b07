// Package checkpoint implements opt-in checkpoint persistence: a
// directory of one JSON file per executed step plus a top-level
// manifest of step order, timestamps, and cumulative cost (spec.md §6).
//
// Grounded on the teacher's utils/processor/loop_state.go
// (LoopStateManager: a state directory, one JSON file per named loop,
// backup rotation on save). The per-loop single-file layout there
// becomes a per-step file layout here since a checkpoint boundary is
// "this step just committed its result", not "the whole run just
// advanced one iteration" — but the save/load/atomic-write idiom is
// the same.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marlowe-ops/flowcraft/store"
)

// StepRecord is the on-disk shape of one executed step's checkpoint
// file: its Result Store entry plus the time it was written. Result is
// the step's plain JSON-able value (store.Value.ToInterface()), not
// the Value tagged union itself — a checkpoint file only needs to
// round-trip through encoding/json.
type StepRecord struct {
	Step      string      `json:"step"`
	Result    interface{} `json:"result"`
	WrittenAt time.Time   `json:"written_at"`
}

// Manifest is the top-level checkpoint file: step order, per-step
// timestamps, and the Result Store's cumulative summary.
type Manifest struct {
	Order      []string             `json:"order"`
	Timestamps map[string]time.Time `json:"timestamps"`
	Summary    store.Summary        `json:"summary"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// Checkpointer persists Executor progress to checkpointDir. It
// implements engine.Checkpointer without either package importing the
// other.
type Checkpointer struct {
	Dir string
}

// New returns a Checkpointer rooted at dir, creating it if necessary.
func New(dir string) (*Checkpointer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("checkpoint: create dir: %w", err)
	}
	return &Checkpointer{Dir: dir}, nil
}

func (c *Checkpointer) stepPath(stepName string) string {
	return filepath.Join(c.Dir, fmt.Sprintf("step_%s.json", stepName))
}

func (c *Checkpointer) manifestPath() string {
	return filepath.Join(c.Dir, "manifest.json")
}

// Step persists stepName's current Result Store entry. Called by the
// Executor immediately after a step commits (spec.md §4.11 item 2.f).
func (c *Checkpointer) Step(stepName string, s *store.Store) error {
	v, ok := s.Get(stepName)
	if !ok {
		return fmt.Errorf("checkpoint: step %q not in store", stepName)
	}
	rec := StepRecord{Step: stepName, Result: v.ToInterface(), WrittenAt: time.Now()}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal step %q: %w", stepName, err)
	}
	return writeFileAtomic(c.stepPath(stepName), data)
}

// Manifest writes the top-level manifest after a run (or a checkpoint
// boundary) completes.
func (c *Checkpointer) Manifest(order []string, summary store.Summary) error {
	now := time.Now()
	m := Manifest{Order: order, Timestamps: map[string]time.Time{}, Summary: summary, UpdatedAt: now}
	for _, name := range order {
		if fi, err := os.Stat(c.stepPath(name)); err == nil {
			m.Timestamps[name] = fi.ModTime()
		} else {
			m.Timestamps[name] = now
		}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal manifest: %w", err)
	}
	return writeFileAtomic(c.manifestPath(), data)
}

// LoadManifest reads the manifest written by Manifest, for resume or
// inspection tooling.
func (c *Checkpointer) LoadManifest() (*Manifest, error) {
	data, err := os.ReadFile(c.manifestPath())
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal manifest (file may be corrupted): %w", err)
	}
	return &m, nil
}

// LoadStep reads one step's checkpointed result, for resume tooling
// that wants to reseed a Result Store without re-running earlier steps.
func (c *Checkpointer) LoadStep(stepName string) (StepRecord, error) {
	data, err := os.ReadFile(c.stepPath(stepName))
	if err != nil {
		return StepRecord{}, fmt.Errorf("checkpoint: read step %q: %w", stepName, err)
	}
	var rec StepRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return StepRecord{}, fmt.Errorf("checkpoint: unmarshal step %q (file may be corrupted): %w", stepName, err)
	}
	return rec, nil
}

// Resume rebuilds a Result Store from every step file the manifest
// lists, in order, so a restarted process can continue past a
// checkpoint boundary without re-running earlier steps.
func Resume(dir string) (*store.Store, *Manifest, error) {
	c := &Checkpointer{Dir: dir}
	m, err := c.LoadManifest()
	if err != nil {
		return nil, nil, err
	}
	s := store.New()
	for _, name := range m.Order {
		rec, err := c.LoadStep(name)
		if err != nil {
			return nil, nil, err
		}
		if err := s.Put(rec.Step, rec.Result); err != nil {
			return nil, nil, fmt.Errorf("checkpoint: resume: %w", err)
		}
	}
	return s, m, nil
}

// writeFileAtomic writes data to path via a temp file plus rename, so
// a crash mid-write never leaves a half-written checkpoint file behind.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("checkpoint: write %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

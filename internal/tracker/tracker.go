// Package tracker implements the Phase-Completion Tracker: a durable
// sidecar record of which phases have finished, enabling resume from the
// first incomplete phase independent of the Phase Queue.
//
// This is a direct Go port of the original PhaseTracker. The Phase Queue
// remains authoritative for scheduling; the Coordinator writes to this
// tracker on every queue.TriggerNext as a derived view, never the reverse.
package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const completionFilename = "completed_phases.json"

// Data is the sidecar document: {completed, current, last_updated}.
type Data struct {
	Completed   []string `json:"completed"`
	Current     *string  `json:"current"`
	LastUpdated *string  `json:"last_updated"`
}

// Tracker manages the completion sidecar file for one workflow.
type Tracker struct {
	mu   sync.Mutex
	path string
}

// New returns a Tracker for workflowID rooted at dir (typically "agents"),
// at dir/<workflow_id>/completed_phases.json.
func New(dir, workflowID string) (*Tracker, error) {
	if workflowID == "" {
		return nil, fmt.Errorf("tracker: workflow id is required")
	}
	return &Tracker{path: filepath.Join(dir, workflowID, completionFilename)}, nil
}

func (t *Tracker) load() Data {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return Data{}
	}
	var d Data
	if err := json.Unmarshal(data, &d); err != nil {
		// Corrupted sidecar: behave as if tracking never started.
		return Data{}
	}
	return d
}

func (t *Tracker) save(d Data) error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		return fmt.Errorf("tracker: creating dir: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	d.LastUpdated = &now

	raw, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("tracker: marshal: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("tracker: writing temp file: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("tracker: renaming temp file: %w", err)
	}
	return nil
}

// IsCompleted reports whether phaseName has been marked completed.
func (t *Tracker) IsCompleted(phaseName string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.load().Completed {
		if p == phaseName {
			return true
		}
	}
	return false
}

// MarkCompleted appends phaseName to the completed list if not already
// present and clears current (the caller sets the next current phase).
func (t *Tracker) MarkCompleted(phaseName string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.load()
	found := false
	for _, p := range d.Completed {
		if p == phaseName {
			found = true
			break
		}
	}
	if !found {
		d.Completed = append(d.Completed, phaseName)
	}
	d.Current = nil
	return t.save(d)
}

// SetCurrent records phaseName as the currently running phase.
func (t *Tracker) SetCurrent(phaseName string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.load()
	d.Current = &phaseName
	return t.save(d)
}

// Completed returns the list of completed phase names.
func (t *Tracker) Completed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load().Completed
}

// Current returns the currently running phase name, or nil if none is set.
func (t *Tracker) Current() *string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load().Current
}

// Reset clears all completion tracking for the workflow.
func (t *Tracker) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.save(Data{})
}

// NextToRun returns the first phase in allPhases not yet completed, or ""
// if every phase is done.
func (t *Tracker) NextToRun(allPhases []string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	completed := make(map[string]bool)
	for _, p := range t.load().Completed {
		completed[p] = true
	}
	for _, p := range allPhases {
		if !completed[p] {
			return p
		}
	}
	return ""
}

// ShouldSkip reports whether phaseName should be skipped given resumeMode:
// true only when resuming and the phase is already completed.
func (t *Tracker) ShouldSkip(phaseName string, resumeMode bool) bool {
	if !resumeMode {
		return false
	}
	return t.IsCompleted(phaseName)
}

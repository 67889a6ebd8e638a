// Package state implements the Identity & State Store: it assigns workflow
// identifiers and persists one WorkflowState JSON document per workflow
// under agents/<workflow_id>/adw_state.json.
//
// Writes always reload the current document and shallow-merge the patch
// before marshaling back -- a subprocess phase's external_build_results (or
// any sibling field) must survive a later save made by another component
// that only knows about its own slice of the document.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgeflow/forge/internal/forgeerr"
)

// Classification enumerates the immutable work classification assigned once
// by the Classifier.
type Classification string

const (
	ClassFeature Classification = "feature"
	ClassBug     Classification = "bug"
	ClassChore   Classification = "chore"
	ClassPatch   Classification = "patch"
)

// Status enumerates WorkflowState lifecycle states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is one of the absorbing terminal statuses.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// WorkflowState is the single source of truth for one workflow run.
type WorkflowState struct {
	WorkflowID      string         `json:"workflow_id"`
	IssueID         string         `json:"issue_id"`
	TemplateName    string         `json:"template_name"`
	Classification  Classification `json:"classification,omitempty"`
	Status          Status         `json:"status"`
	CurrentPhase    string         `json:"current_phase,omitempty"`
	BranchName      string         `json:"branch_name,omitempty"`
	WorktreePath    string         `json:"worktree_path,omitempty"`
	BackendPort     int            `json:"backend_port,omitempty"`
	FrontendPort    int            `json:"frontend_port,omitempty"`
	BaselineErrors  map[string]any `json:"baseline_errors,omitempty"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         *time.Time     `json:"end_time,omitempty"`
	PhaseResults    map[string]any `json:"phase_results,omitempty"`
	CancelRequested bool           `json:"cancel_requested,omitempty"`
	Context         map[string]any `json:"context,omitempty"`
}

// Validate checks the WorkflowState invariants from the data model: terminal
// statuses require end_time >= start_time, and a set branch_name must start
// with the classification.
func (s *WorkflowState) Validate() error {
	if s.Status.Terminal() {
		if s.EndTime == nil {
			return fmt.Errorf("state: terminal workflow %q missing end_time", s.WorkflowID)
		}
		if s.EndTime.Before(s.StartTime) {
			return fmt.Errorf("state: workflow %q end_time before start_time", s.WorkflowID)
		}
	}
	if s.BranchName != "" && s.Classification != "" {
		prefix := string(s.Classification)
		if len(s.BranchName) < len(prefix) || s.BranchName[:len(prefix)] != prefix {
			return fmt.Errorf("state: workflow %q branch_name %q does not start with classification %q", s.WorkflowID, s.BranchName, s.Classification)
		}
	}
	return nil
}

// Store persists WorkflowState documents under root/<workflow_id>/adw_state.json.
// A per-workflow mutex serializes the read-modify-write cycle within this
// process; cross-process safety is the caller's responsibility (the
// Coordinator takes an advisory file lock per workflow before mutating).
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a Store rooted at dir (typically "agents").
func NewStore(dir string) *Store {
	return &Store{root: dir, locks: make(map[string]*sync.Mutex)}
}

func (s *Store) lockFor(workflowID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[workflowID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[workflowID] = l
	}
	return l
}

func (s *Store) path(workflowID string) string {
	return filepath.Join(s.root, workflowID, "adw_state.json")
}

// NewWorkflowID returns a short, unique workflow identifier of the form
// "wf-<12 hex chars>".
func NewWorkflowID() string {
	id := uuid.New()
	return "wf-" + id.String()[:12]
}

// Ensure allocates a new workflow id and initializes its state document if
// workflowID is empty; otherwise it loads the existing document (creating
// one with status=pending if none exists yet for that id). Calling Ensure
// twice with the same non-empty id is idempotent and returns the same id.
func (s *Store) Ensure(workflowID, issueID string) (string, error) {
	if workflowID == "" {
		workflowID = NewWorkflowID()
	}
	lock := s.lockFor(workflowID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(s.path(workflowID)); err == nil {
		return workflowID, nil
	}

	ws := &WorkflowState{
		WorkflowID: workflowID,
		IssueID:    issueID,
		Status:     StatusPending,
		StartTime:  time.Now().UTC(),
	}
	if err := s.writeAtomic(workflowID, ws); err != nil {
		return "", err
	}
	return workflowID, nil
}

// Load reads the WorkflowState for workflowID. A missing file returns
// forgeerr.ErrNotFound; a corrupt document returns an empty WorkflowState
// alongside forgeerr.ErrStateCorruption per the failure semantics -- the
// caller must re-initialize rather than retry.
func (s *Store) Load(workflowID string) (*WorkflowState, error) {
	lock := s.lockFor(workflowID)
	lock.Lock()
	defer lock.Unlock()
	return s.load(workflowID)
}

func (s *Store) load(workflowID string) (*WorkflowState, error) {
	data, err := os.ReadFile(s.path(workflowID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("state: load %q: %w", workflowID, forgeerr.ErrNotFound)
		}
		return nil, fmt.Errorf("state: reading %q: %w", workflowID, err)
	}
	var ws WorkflowState
	if err := json.Unmarshal(data, &ws); err != nil {
		return &WorkflowState{WorkflowID: workflowID}, fmt.Errorf("state: parsing %q: %w", workflowID, forgeerr.ErrStateCorruption)
	}
	return &ws, nil
}

// Save persists state as-is, after re-reading the current document and
// merging state's fields over it field-by-field via JSON round-trip so that
// concurrently written sibling keys are preserved. label tags the write for
// debugging only; it is not persisted.
func (s *Store) Save(state *WorkflowState, label string) error {
	lock := s.lockFor(state.WorkflowID)
	lock.Lock()
	defer lock.Unlock()

	patch, err := toPatch(state)
	if err != nil {
		return fmt.Errorf("state: save %q (%s): %w", state.WorkflowID, label, err)
	}
	return s.mergeAndWrite(state.WorkflowID, patch)
}

// Update loads the current document, shallow-merges patch's keys over it,
// and writes the result back atomically. This is the read-before-merge
// operation required so that external_build_results and similar blocks
// written by one phase survive a subsequent save by another component that
// only constructed a partial patch.
func (s *Store) Update(workflowID string, patch map[string]any) error {
	lock := s.lockFor(workflowID)
	lock.Lock()
	defer lock.Unlock()
	return s.mergeAndWrite(workflowID, patch)
}

func (s *Store) mergeAndWrite(workflowID string, patch map[string]any) error {
	current, err := s.load(workflowID)
	if err != nil && !isNotFoundOrCorrupt(err) {
		return err
	}
	if current == nil {
		current = &WorkflowState{WorkflowID: workflowID}
	}

	merged, err := toPatch(current)
	if err != nil {
		return fmt.Errorf("state: update %q: %w", workflowID, err)
	}
	for k, v := range patch {
		merged[k] = v
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("state: update %q: marshal merged patch: %w", workflowID, err)
	}
	var ws WorkflowState
	if err := json.Unmarshal(raw, &ws); err != nil {
		return fmt.Errorf("state: update %q: decode merged patch: %w", workflowID, err)
	}
	return s.writeAtomic(workflowID, &ws)
}

func isNotFoundOrCorrupt(err error) bool {
	return errors.Is(err, forgeerr.ErrNotFound) || errors.Is(err, forgeerr.ErrStateCorruption)
}

// MarkTerminal sets status and end_time=now. It fails if the workflow is
// already terminal with a different status -- idempotent re-application of
// the same terminal status is allowed.
func (s *Store) MarkTerminal(workflowID string, status Status) error {
	if !status.Terminal() {
		return fmt.Errorf("state: MarkTerminal %q: %q is not a terminal status", workflowID, status)
	}
	lock := s.lockFor(workflowID)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.load(workflowID)
	if err != nil {
		return fmt.Errorf("state: MarkTerminal %q: %w", workflowID, err)
	}
	if current.Status.Terminal() && current.Status != status {
		return fmt.Errorf("state: MarkTerminal %q: already terminal as %q, cannot become %q", workflowID, current.Status, status)
	}
	now := time.Now().UTC()
	current.Status = status
	current.EndTime = &now
	return s.writeAtomic(workflowID, current)
}

// toPatch round-trips state through JSON to a generic map so it can be
// shallow-merged with an on-disk document that may carry extra,
// tolerated fields from downstream components.
func toPatch(state *WorkflowState) (map[string]any, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode state patch: %w", err)
	}
	return m, nil
}

func (s *Store) writeAtomic(workflowID string, ws *WorkflowState) error {
	if err := ws.Validate(); err != nil {
		return err
	}
	dir := filepath.Dir(s.path(workflowID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("state: creating dir %q: %w", dir, err)
	}
	data, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal %q: %w", workflowID, err)
	}
	tmp := s.path(workflowID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("state: writing temp file for %q: %w", workflowID, err)
	}
	if err := os.Rename(tmp, s.path(workflowID)); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("state: renaming temp file for %q: %w", workflowID, err)
	}
	return nil
}

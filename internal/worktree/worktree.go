// Package worktree implements the Working-Tree Manager: it creates an
// isolated git checkout rooted at trees/<workflow_id>/, seeds its
// environment file with the workflow's allocated ports, and tears it down
// on cleanup.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/forgeflow/forge/internal/git"
)

var nonAlphanumRE = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and collapses any run of non-alphanumeric characters
// into a single hyphen, trimming leading/trailing hyphens.
func Slugify(s string) string {
	s = strings.ToLower(s)
	s = nonAlphanumRE.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Manager creates and removes per-workflow linked working trees under root
// (typically "trees").
type Manager struct {
	root   string
	git    *git.GitClient
	logger *log.Logger
}

// NewManager returns a Manager rooted at root, performing git operations
// through client.
func NewManager(root string, client *git.GitClient) *Manager {
	return &Manager{root: root, git: client}
}

// WithLogger attaches a logger used for non-fatal teardown warnings.
func (m *Manager) WithLogger(logger *log.Logger) *Manager {
	m.logger = logger
	return m
}

// Path returns the working tree directory for workflowID without creating it.
func (m *Manager) Path(workflowID string) string {
	return filepath.Join(m.root, workflowID)
}

// Create creates trees/<workflow_id>/ as a new git worktree on branch
// branchName, based on baseBranch. It fails if the path already exists or
// baseBranch cannot be resolved.
func (m *Manager) Create(ctx context.Context, workflowID, branchName, baseBranch string) (string, error) {
	path := m.Path(workflowID)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("worktree: create %q: path already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("worktree: create %q: %w", path, err)
	}
	if err := m.git.WorktreeAdd(ctx, path, branchName, baseBranch); err != nil {
		return "", fmt.Errorf("worktree: create %q: %w", path, err)
	}
	return path, nil
}

// ConfigureEnv writes trees/<id>/.env.worktree binding the allocated ports
// and derived URLs, per the working-tree environment file contract.
func (m *Manager) ConfigureEnv(path string, backend, frontend int) error {
	lines := []string{
		fmt.Sprintf("BACKEND_PORT=%d", backend),
		fmt.Sprintf("FRONTEND_PORT=%d", frontend),
		fmt.Sprintf("VITE_BACKEND_URL=http://localhost:%d", backend),
		"",
	}
	envPath := filepath.Join(path, ".env.worktree")
	if err := os.WriteFile(envPath, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		return fmt.Errorf("worktree: configure env %q: %w", envPath, err)
	}
	return nil
}

// Teardown removes the working tree for workflowID, force-discarding any
// uncommitted changes, and prunes the resulting stale administrative entry.
func (m *Manager) Teardown(ctx context.Context, workflowID string) error {
	path := m.Path(workflowID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := m.git.WorktreeRemove(ctx, path, true); err != nil {
		if m.logger != nil {
			m.logger.Warn("worktree remove failed, falling back to rm -rf", "workflow_id", workflowID, "error", err)
		}
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return fmt.Errorf("worktree: teardown %q: %w", path, rmErr)
		}
	}
	return m.git.WorktreePrune(ctx)
}

// BranchName composes the classification-prefixed branch name required by
// WorkflowState's invariant: "<classification>/<workflow_id>-<slug>".
func BranchName(classification, workflowID, title string) string {
	return fmt.Sprintf("%s/%s-%s", classification, workflowID, Slugify(title))
}

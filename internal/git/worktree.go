package git

import (
	"context"
	"fmt"
)

// WorktreeAdd creates a linked working tree at path on a new branch named
// branch, based on baseBranch. It fails if path already exists or baseBranch
// is not a valid ref -- the underlying `git worktree add` call surfaces both
// as a non-zero exit, which run() wraps into an error.
func (g *GitClient) WorktreeAdd(ctx context.Context, path, branch, baseBranch string) error {
	args := []string{"worktree", "add", "-b", branch, path}
	if baseBranch != "" {
		args = append(args, baseBranch)
	}
	if _, err := g.run(ctx, args...); err != nil {
		return fmt.Errorf("git: worktree add %q (branch %q from %q): %w", path, branch, baseBranch, err)
	}
	return nil
}

// WorktreeRemove removes the linked working tree at path. force discards any
// uncommitted changes inside it rather than failing.
func (g *GitClient) WorktreeRemove(ctx context.Context, path string, force bool) error {
	args := []string{"worktree", "remove", path}
	if force {
		args = append(args, "--force")
	}
	if _, err := g.run(ctx, args...); err != nil {
		return fmt.Errorf("git: worktree remove %q: %w", path, err)
	}
	return nil
}

// WorktreePrune removes stale administrative files for worktrees whose
// directories have been deleted out-of-band (e.g. by `rm -rf`).
func (g *GitClient) WorktreePrune(ctx context.Context) error {
	if _, err := g.run(ctx, "worktree", "prune"); err != nil {
		return fmt.Errorf("git: worktree prune: %w", err)
	}
	return nil
}

// WorktreeList entry describes one linked working tree as reported by
// `git worktree list --porcelain`.
type WorktreeEntry struct {
	Path   string
	Branch string
	HEAD   string
}

// WorktreeList returns all linked working trees of the repository.
func (g *GitClient) WorktreeList(ctx context.Context) ([]WorktreeEntry, error) {
	out, err := g.run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("git: worktree list: %w", err)
	}
	return parseWorktreeList(out), nil
}

func parseWorktreeList(output string) []WorktreeEntry {
	var entries []WorktreeEntry
	var cur WorktreeEntry
	flush := func() {
		if cur.Path != "" {
			entries = append(entries, cur)
		}
		cur = WorktreeEntry{}
	}
	for _, line := range splitLines(output) {
		switch {
		case len(line) >= 9 && line[:9] == "worktree ":
			flush()
			cur.Path = line[9:]
		case len(line) >= 7 && line[:7] == "branch ":
			cur.Branch = line[7:]
		case len(line) >= 5 && line[:5] == "HEAD ":
			cur.HEAD = line[5:]
		}
	}
	flush()
	return entries
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

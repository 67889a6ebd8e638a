// Package vcs talks to the Version Control Host (GitHub, via the gh CLI) on
// behalf of a workflow: opening the pull request a Ship phase produces and
// posting the summary comment a workflow attaches when it reaches a
// terminal state.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
)

// validBranchNameRe is the allowlist for safe base-branch and target names.
// Only alphanumeric characters, dots, underscores, forward-slashes, and
// hyphens are permitted to prevent command injection.
var validBranchNameRe = regexp.MustCompile(`^[a-zA-Z0-9_./-]+$`)

// prNumberRe extracts a PR number from a GitHub PR URL.
// Example URL: "https://github.com/owner/repo/pull/42"
var prNumberRe = regexp.MustCompile(`/pull/(\d+)`)

// Poster wraps `gh` subprocess execution against the Version Control Host.
// It manages pull-request creation and post-hoc comment posting, including
// prerequisite checks, branch pushing, and dry-run support.
type Poster struct {
	workDir string
	logger  *log.Logger
}

// PROpts specifies the options for creating a pull request.
type PROpts struct {
	// Title is the PR title. Required.
	Title string

	// Body is the PR body in Markdown. Written to a temp file to avoid shell
	// escaping issues.
	Body string

	// BaseBranch is the branch the PR targets. Defaults to "main".
	BaseBranch string

	// Draft creates the PR in draft state when true.
	Draft bool

	// Labels is a list of label names to apply to the PR.
	Labels []string

	// Assignees is a list of Version Control Host usernames to assign to the PR.
	Assignees []string

	// DryRun returns the planned command without executing gh.
	DryRun bool
}

// PRResult is the result of a PR creation attempt.
type PRResult struct {
	// URL is the HTML URL of the created PR (e.g. https://github.com/owner/repo/pull/42).
	URL string

	// Number is the PR number extracted from the URL. Zero when unavailable.
	Number int

	// Draft is true when the PR was created as a draft.
	Draft bool

	// Created is false in dry-run mode (no PR was actually created).
	Created bool

	// Command is the gh command that was or would be executed.
	Command string
}

// New creates a Poster rooted at workDir. logger may be nil.
func New(workDir string, logger *log.Logger) *Poster {
	return &Poster{
		workDir: workDir,
		logger:  logger,
	}
}

// CheckPrerequisites verifies that the gh CLI is installed, authenticated,
// and that the current branch is not the base branch (which would make a PR
// nonsensical).
func (p *Poster) CheckPrerequisites(ctx context.Context, baseBranch string) error {
	if baseBranch == "" {
		baseBranch = "main"
	}

	if _, _, _, err := p.runGH(ctx, "--version"); err != nil {
		return fmt.Errorf("vcs: prerequisites: gh CLI not installed or not in PATH: %w", err)
	}

	exitCode, _, stderr, err := p.runGH(ctx, "auth", "status")
	if exitCode == -1 {
		return fmt.Errorf("vcs: prerequisites: checking gh auth status: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("vcs: prerequisites: gh is not authenticated (run `gh auth login`): %s", strings.TrimSpace(stderr))
	}

	currentBranch, err := p.currentBranch(ctx)
	if err != nil {
		return fmt.Errorf("vcs: prerequisites: %w", err)
	}
	if currentBranch == baseBranch {
		return fmt.Errorf("vcs: prerequisites: current branch %q is the same as the base branch %q; switch to a feature branch first", currentBranch, baseBranch)
	}

	if p.logger != nil {
		p.logger.Info("vcs: prerequisites satisfied",
			"branch", currentBranch,
			"base", baseBranch,
		)
	}

	return nil
}

// EnsureBranchPushed checks whether the current branch has a remote tracking
// reference on origin. If not, it pushes the branch with `-u origin <branch>`.
func (p *Poster) EnsureBranchPushed(ctx context.Context) error {
	branch, err := p.currentBranch(ctx)
	if err != nil {
		return fmt.Errorf("vcs: ensure branch pushed: %w", err)
	}

	exitCode, _, _, err := p.runGit(ctx, "rev-parse", "--verify", "origin/"+branch)
	if err != nil && exitCode == -1 {
		return fmt.Errorf("vcs: ensure branch pushed: checking remote ref: %w", err)
	}

	if exitCode == 0 {
		if p.logger != nil {
			p.logger.Debug("vcs: branch already pushed to origin", "branch", branch)
		}
		return nil
	}

	if p.logger != nil {
		p.logger.Info("vcs: pushing branch to origin", "branch", branch)
	}

	_, _, pushStderr, pushErr := p.runGit(ctx, "push", "-u", "origin", branch)
	if pushErr != nil {
		return fmt.Errorf("vcs: ensure branch pushed: git push: %w -- stderr: %s", pushErr, strings.TrimSpace(pushStderr))
	}

	return nil
}

// Create opens a pull request using `gh pr create`.
//
// In dry-run mode, the function builds and returns the command string
// without executing it. The body is written to a temporary file (0600
// permissions) to avoid shell escaping problems with arbitrary Markdown
// content.
func (p *Poster) Create(ctx context.Context, opts PROpts) (*PRResult, error) {
	if opts.BaseBranch == "" {
		opts.BaseBranch = "main"
	}

	if !validBranchNameRe.MatchString(opts.BaseBranch) {
		return nil, fmt.Errorf("vcs: create: invalid base branch name %q: only [a-zA-Z0-9_./-] are allowed", opts.BaseBranch)
	}

	if opts.DryRun {
		return p.dryRun(opts), nil
	}

	bodyFile, err := os.CreateTemp("", "forge-pr-body-*.md")
	if err != nil {
		return nil, fmt.Errorf("vcs: create: creating body temp file: %w", err)
	}
	defer os.Remove(bodyFile.Name())

	if err := bodyFile.Chmod(0600); err != nil {
		bodyFile.Close()
		return nil, fmt.Errorf("vcs: create: setting body temp file permissions: %w", err)
	}

	if _, err := bodyFile.WriteString(opts.Body); err != nil {
		bodyFile.Close()
		return nil, fmt.Errorf("vcs: create: writing body temp file: %w", err)
	}
	if err := bodyFile.Close(); err != nil {
		return nil, fmt.Errorf("vcs: create: closing body temp file: %w", err)
	}

	args := []string{
		"pr", "create",
		"--title", opts.Title,
		"--body-file", bodyFile.Name(),
		"--base", opts.BaseBranch,
	}

	if opts.Draft {
		args = append(args, "--draft")
	}

	for _, label := range opts.Labels {
		args = append(args, "--label", label)
	}

	for _, assignee := range opts.Assignees {
		args = append(args, "--assignee", assignee)
	}

	cmdStr := buildCommandString("gh", args)

	if p.logger != nil {
		p.logger.Info("vcs: creating pull request",
			"title", opts.Title,
			"base", opts.BaseBranch,
			"draft", opts.Draft,
			"labels", opts.Labels,
			"assignees", opts.Assignees,
		)
	}

	exitCode, stdout, stderr, err := p.runGH(ctx, args...)
	if err != nil {
		combined := strings.ToLower(stdout + stderr)
		if strings.Contains(combined, "already exists") || strings.Contains(combined, "pull request already") {
			return nil, fmt.Errorf("vcs: create: a pull request already exists for this branch: %s", strings.TrimSpace(stderr))
		}
		return nil, fmt.Errorf("vcs: create: gh pr create exited %d: %s", exitCode, strings.TrimSpace(stderr))
	}

	url := extractPRURL(stdout)
	prNumber := extractPRNumber(url)

	if p.logger != nil {
		p.logger.Info("vcs: pull request created",
			"url", url,
			"number", prNumber,
			"draft", opts.Draft,
		)
	}

	return &PRResult{
		URL:     url,
		Number:  prNumber,
		Draft:   opts.Draft,
		Created: true,
		Command: cmdStr,
	}, nil
}

// Comment posts a summary comment to an existing pull request via
// `gh pr comment`. target may be a PR number, PR URL, or branch name. In
// dry-run mode it logs what would be posted and returns nil without running
// gh.
func (p *Poster) Comment(ctx context.Context, target, body string, dryRun bool) error {
	if target == "" {
		return fmt.Errorf("vcs: comment: target must not be empty")
	}

	if dryRun {
		if p.logger != nil {
			p.logger.Info("vcs: dry run comment", "target", target, "bytes", len(body))
		}
		return nil
	}

	bodyFile, err := os.CreateTemp("", "forge-pr-comment-*.md")
	if err != nil {
		return fmt.Errorf("vcs: comment: creating body temp file: %w", err)
	}
	defer os.Remove(bodyFile.Name())

	if err := bodyFile.Chmod(0600); err != nil {
		bodyFile.Close()
		return fmt.Errorf("vcs: comment: setting body temp file permissions: %w", err)
	}
	if _, err := bodyFile.WriteString(body); err != nil {
		bodyFile.Close()
		return fmt.Errorf("vcs: comment: writing body temp file: %w", err)
	}
	if err := bodyFile.Close(); err != nil {
		return fmt.Errorf("vcs: comment: closing body temp file: %w", err)
	}

	args := []string{"pr", "comment", target, "--body-file", bodyFile.Name()}

	if p.logger != nil {
		p.logger.Info("vcs: posting summary comment", "target", target)
	}

	exitCode, _, stderr, err := p.runGH(ctx, args...)
	if err != nil {
		return fmt.Errorf("vcs: comment: gh pr comment exited %d: %s", exitCode, strings.TrimSpace(stderr))
	}

	return nil
}

// --- private helpers --------------------------------------------------------

// dryRun builds and returns a PRResult without executing any command.
func (p *Poster) dryRun(opts PROpts) *PRResult {
	args := []string{
		"pr", "create",
		"--title", opts.Title,
		"--body-file", "<body-tempfile>",
		"--base", opts.BaseBranch,
	}

	if opts.Draft {
		args = append(args, "--draft")
	}

	for _, label := range opts.Labels {
		args = append(args, "--label", label)
	}

	for _, assignee := range opts.Assignees {
		args = append(args, "--assignee", assignee)
	}

	cmdStr := buildCommandString("gh", args)

	if p.logger != nil {
		p.logger.Info("vcs: dry run",
			"command", cmdStr,
			"title", opts.Title,
			"base", opts.BaseBranch,
			"draft", opts.Draft,
		)
	}

	return &PRResult{
		Draft:   opts.Draft,
		Created: false,
		Command: cmdStr,
	}
}

// CurrentBranch returns the name of the currently checked-out branch.
func (p *Poster) CurrentBranch(ctx context.Context) (string, error) {
	return p.currentBranch(ctx)
}

// currentBranch returns the name of the currently checked-out branch.
func (p *Poster) currentBranch(ctx context.Context) (string, error) {
	_, stdout, _, err := p.runGit(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("getting current branch: %w", err)
	}
	branch := strings.TrimSpace(stdout)
	if branch == "HEAD" {
		return "", fmt.Errorf("repository is in detached HEAD state")
	}
	if branch == "" {
		return "", fmt.Errorf("could not determine current branch")
	}
	return branch, nil
}

// runGH executes a gh command and returns (exitCode, stdout, stderr, error).
// exitCode is -1 when the binary could not be started.
func (p *Poster) runGH(ctx context.Context, args ...string) (int, string, string, error) {
	return p.runBin(ctx, "gh", args...)
}

// runGit executes a git command and returns (exitCode, stdout, stderr, error).
// exitCode is -1 when the binary could not be started.
func (p *Poster) runGit(ctx context.Context, args ...string) (int, string, string, error) {
	return p.runBin(ctx, "git", args...)
}

// runBin executes an arbitrary binary and returns (exitCode, stdout, stderr, error).
// A non-zero exit code is returned as an error. exitCode is -1 when the
// binary itself could not be started (e.g. not in PATH).
func (p *Poster) runBin(ctx context.Context, bin string, args ...string) (int, string, string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	if p.workDir != "" {
		cmd.Dir = p.workDir
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()

	if runErr == nil {
		return 0, stdoutBuf.String(), stderrBuf.String(), nil
	}

	if exitErr, ok := runErr.(*exec.ExitError); ok {
		code := exitErr.ExitCode()
		stdout := stdoutBuf.String()
		stderr := strings.TrimSpace(stderrBuf.String())
		return code, stdout, stderr, fmt.Errorf("exit status %d: %s", code, stderr)
	}

	return -1, "", "", runErr
}

// extractPRURL returns the last non-empty line from gh output, which is
// conventionally the HTML URL of the created PR.
func extractPRURL(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" {
			return line
		}
	}
	return ""
}

// extractPRNumber parses the PR number from a GitHub PR URL.
// Returns 0 when no number can be found.
func extractPRNumber(url string) int {
	m := prNumberRe.FindStringSubmatch(url)
	if len(m) < 2 {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// buildCommandString assembles a human-readable command string for display or
// logging. Arguments containing spaces are single-quoted.
func buildCommandString(bin string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, bin)
	for _, a := range args {
		if strings.ContainsAny(a, " \t\n") {
			parts = append(parts, "'"+a+"'")
		} else {
			parts = append(parts, a)
		}
	}
	return strings.Join(parts, " ")
}

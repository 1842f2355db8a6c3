package git

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Runner executes git commands in a directory. Interface for testing.
type Runner interface {
	RunGit(dir string, args ...string) (string, error)
}

// ExecRunner runs git via exec.
type ExecRunner struct{}

func (r *ExecRunner) RunGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Client wraps git operations on one repository clone.
type Client struct {
	repoPath string
	run      Runner
}

// NewClient creates a git client for the repository at repoPath.
func NewClient(repoPath string, run Runner) *Client {
	return &Client{repoPath: repoPath, run: run}
}

// git runs a command, failing on non-zero exit.
func (c *Client) git(args ...string) (string, error) {
	return c.run.RunGit(c.repoPath, args...)
}

// gitQuiet runs a command and swallows the error; used where a missing
// branch or empty result is an expected outcome, not a failure. On error
// it returns "", never the failure's combined output, so callers can
// treat emptiness as absence.
func (c *Client) gitQuiet(args ...string) string {
	out, err := c.run.RunGit(c.repoPath, args...)
	if err != nil {
		return ""
	}
	return out
}

// Fetch updates refs from a remote.
func (c *Client) Fetch(remote string) error {
	_, err := c.git("fetch", remote)
	return err
}

// ForceCheckout switches to a branch, discarding conflicting local edits.
func (c *Client) ForceCheckout(branch string) error {
	_, err := c.git("checkout", "-f", branch)
	return err
}

// ResetHard resets the working tree to a ref.
func (c *Client) ResetHard(ref string) error {
	_, err := c.git("reset", "--hard", ref)
	return err
}

// SyncToRemote makes the local branch match the remote exactly: fetch,
// force checkout, hard reset. Local commits on the branch are discarded.
func (c *Client) SyncToRemote(remote, branch string) error {
	if err := c.Fetch(remote); err != nil {
		return fmt.Errorf("sync %s/%s: %w", remote, branch, err)
	}
	if err := c.ForceCheckout(branch); err != nil {
		return fmt.Errorf("sync %s/%s: %w", remote, branch, err)
	}
	if err := c.ResetHard(remote + "/" + branch); err != nil {
		return fmt.Errorf("sync %s/%s: %w", remote, branch, err)
	}
	return nil
}

// CreateBranch creates and checks out a new branch.
func (c *Client) CreateBranch(name string) error {
	_, err := c.git("checkout", "-b", name)
	return err
}

// DeleteBranch force-deletes a local branch. Missing branches are ignored.
func (c *Client) DeleteBranch(name string) {
	c.gitQuiet("branch", "-D", name)
}

// DeleteRemoteBranch deletes a branch on the remote. Missing branches are ignored.
func (c *Client) DeleteRemoteBranch(remote, name string) {
	c.gitQuiet("push", remote, "--delete", name)
}

// CurrentBranch returns the checked-out branch name.
func (c *Client) CurrentBranch() (string, error) {
	return c.git("branch", "--show-current")
}

// IsDirty reports whether the working tree has uncommitted changes,
// including untracked files.
func (c *Client) IsDirty() (bool, error) {
	out, err := c.git("status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// HasChanges reports whether there are staged or unstaged modifications.
func (c *Client) HasChanges() bool {
	staged := c.gitQuiet("diff", "--cached", "--name-only")
	unstaged := c.gitQuiet("diff", "--name-only")
	return staged != "" || unstaged != ""
}

// HasUnpushedCommits reports whether local commits exist that the remote
// branch lacks. A branch absent from the remote counts as unpushed.
func (c *Client) HasUnpushedCommits(remote, branch string) bool {
	remoteRef := remote + "/" + branch
	if c.gitQuiet("rev-parse", "--verify", remoteRef) == "" {
		return true
	}
	ahead := c.gitQuiet("rev-list", "--count", remoteRef+"..HEAD")
	n, err := strconv.Atoi(ahead)
	if err != nil {
		return false
	}
	return n > 0
}

// Add stages everything except the given exclude patterns (pathspec magic).
func (c *Client) Add(excludePatterns ...string) error {
	pathspecs := []string{"."}
	for _, p := range excludePatterns {
		pathspecs = append(pathspecs, ":!"+p)
	}
	_, err := c.git(append([]string{"add"}, pathspecs...)...)
	return err
}

// Commit creates a commit with the given message.
func (c *Client) Commit(message string) error {
	_, err := c.git("commit", "-m", message)
	return err
}

// Push pushes a branch to the remote, setting upstream.
func (c *Client) Push(remote, branch string) error {
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("invalid branch name %q: must not start with -", branch)
	}
	_, err := c.git("push", "-u", remote, branch)
	return err
}

// Diff returns the working-tree diff against HEAD.
func (c *Client) Diff() (string, error) {
	return c.git("diff", "HEAD")
}

// DiffAgainst returns the diff against an arbitrary ref, e.g. origin/develop.
func (c *Client) DiffAgainst(ref string) (string, error) {
	return c.git("diff", ref)
}

// Cleanup discards all uncommitted work and returns to the base branch,
// deleting the feature branch. Best effort: failures are ignored because
// cleanup runs on paths that are already failing.
func (c *Client) Cleanup(baseBranch, featureBranch string) {
	c.gitQuiet("checkout", "--", ".")
	c.gitQuiet("clean", "-fd")
	c.gitQuiet("checkout", baseBranch)
	c.DeleteBranch(featureBranch)
}

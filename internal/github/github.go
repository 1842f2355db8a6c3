package github

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// CmdRunner executes gh commands. Interface for testing.
type CmdRunner interface {
	Run(args ...string) (string, error)
}

// ExecRunner runs gh via exec.
type ExecRunner struct{}

func (r *ExecRunner) Run(args ...string) (string, error) {
	cmd := exec.Command("gh", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("gh %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Client provides issue-tracker operations against one repository.
type Client struct {
	repo string
	cmd  CmdRunner
}

// NewClient creates a GitHub client for owner/name repo.
func NewClient(repo string, cmd CmdRunner) *Client {
	return &Client{repo: repo, cmd: cmd}
}

// Issue is the immutable issue snapshot the pipeline works from.
type Issue struct {
	Number int      `json:"number"`
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels"`
	URL    string   `json:"url"`
}

// PullRequest identifies an open change request.
type PullRequest struct {
	Number     int    `json:"number"`
	URL        string `json:"url"`
	HeadBranch string `json:"headRefName"`
}

// run appends the repo selector to every gh invocation.
func (c *Client) run(args ...string) (string, error) {
	return c.cmd.Run(append(args, "-R", c.repo)...)
}

// GetIssue fetches an issue by number.
func (c *Client) GetIssue(number int) (*Issue, error) {
	if number <= 0 {
		return nil, fmt.Errorf("invalid issue number %d: must be positive", number)
	}

	out, err := c.run("issue", "view", strconv.Itoa(number), "--json", "number,title,body,labels,url")
	if err != nil {
		return nil, fmt.Errorf("get issue %d: %w", number, err)
	}

	var raw struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
		Labels []struct {
			Name string `json:"name"`
		} `json:"labels"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, fmt.Errorf("parse issue JSON: %w", err)
	}

	issue := &Issue{
		Number: raw.Number,
		Title:  raw.Title,
		Body:   raw.Body,
		URL:    raw.URL,
	}
	for _, l := range raw.Labels {
		issue.Labels = append(issue.Labels, l.Name)
	}
	return issue, nil
}

// AddIssueComment posts a comment on an issue.
func (c *Client) AddIssueComment(number int, body string) error {
	if _, err := c.run("issue", "comment", strconv.Itoa(number), "--body", body); err != nil {
		return fmt.Errorf("comment on issue %d: %w", number, err)
	}
	return nil
}

// FindOpenPR returns the open PR for a head branch, or nil when none exists.
func (c *Client) FindOpenPR(branch string) (*PullRequest, error) {
	out, err := c.run("pr", "list", "--head", branch, "--state", "open", "--json", "number,url,headRefName", "--limit", "1")
	if err != nil {
		return nil, fmt.Errorf("find PR for branch %q: %w", branch, err)
	}
	if out == "" {
		return nil, nil
	}

	var prs []PullRequest
	if err := json.Unmarshal([]byte(out), &prs); err != nil {
		return nil, fmt.Errorf("parse PR list JSON: %w", err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return &prs[0], nil
}

// ClosePR closes a pull request by number.
func (c *Client) ClosePR(number int) error {
	if _, err := c.run("pr", "close", strconv.Itoa(number)); err != nil {
		return fmt.Errorf("close PR %d: %w", number, err)
	}
	return nil
}

// PRCreateOpts holds options for creating a pull request.
type PRCreateOpts struct {
	Title  string
	Body   string
	Head   string
	Base   string
	Draft  bool
	Labels []string
}

// CreatePR opens a pull request and returns its details.
func (c *Client) CreatePR(opts PRCreateOpts) (*PullRequest, error) {
	args := []string{"pr", "create", "--title", opts.Title, "--body", opts.Body, "--head", opts.Head, "--base", opts.Base}
	if opts.Draft {
		args = append(args, "--draft")
	}
	for _, label := range opts.Labels {
		args = append(args, "--label", label)
	}

	// gh pr create prints the PR URL.
	url, err := c.run(args...)
	if err != nil {
		return nil, fmt.Errorf("create PR: %w", err)
	}

	out, err := c.run("pr", "view", url, "--json", "number,url,headRefName")
	if err != nil {
		return nil, fmt.Errorf("view created PR: %w", err)
	}
	var pr PullRequest
	if err := json.Unmarshal([]byte(out), &pr); err != nil {
		return nil, fmt.Errorf("parse PR JSON: %w", err)
	}
	return &pr, nil
}

// CacheIssue writes the issue snapshot to issue.json in runDir.
func CacheIssue(issue *Issue, runDir string) error {
	data, err := json.MarshalIndent(issue, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal issue: %w", err)
	}
	data = append(data, '\n')
	path := filepath.Join(runDir, "issue.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write issue.json: %w", err)
	}
	return nil
}

// LoadCachedIssue reads a previously cached issue snapshot.
func LoadCachedIssue(runDir string) (*Issue, error) {
	data, err := os.ReadFile(filepath.Join(runDir, "issue.json"))
	if err != nil {
		return nil, err
	}
	var issue Issue
	if err := json.Unmarshal(data, &issue); err != nil {
		return nil, fmt.Errorf("parse cached issue: %w", err)
	}
	return &issue, nil
}

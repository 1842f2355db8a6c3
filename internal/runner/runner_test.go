package runner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/strato-net/issuefix/internal/claude"
	"github.com/strato-net/issuefix/internal/config"
	"github.com/strato-net/issuefix/internal/git"
	"github.com/strato-net/issuefix/internal/github"
	"github.com/strato-net/issuefix/internal/pipeline"
)

// fakeGH replays canned gh output keyed on the first two args.
type fakeGH struct {
	calls     [][]string
	responses map[string]string
	errs      map[string]error
}

func newFakeGH() *fakeGH {
	f := &fakeGH{responses: make(map[string]string), errs: make(map[string]error)}
	f.responses["issue view"] = `{"number":123,"title":"Crash on save","body":"steps","labels":[{"name":"bug"}],"url":"https://example.com/123"}`
	f.responses["pr list"] = `[]`
	f.responses["pr create"] = "https://example.com/pr/9"
	f.responses["pr view"] = `{"number":9,"url":"https://example.com/pr/9","headRefName":"claude-auto-fix-123"}`
	return f
}

func (f *fakeGH) Run(args ...string) (string, error) {
	f.calls = append(f.calls, args)
	key := strings.Join(args[:2], " ")
	if err, ok := f.errs[key]; ok {
		return "", err
	}
	return f.responses[key], nil
}

func (f *fakeGH) called(key string) []string {
	for _, call := range f.calls {
		if strings.Join(call[:2], " ") == key {
			return call
		}
	}
	return nil
}

// commentBody returns the body of the first issue comment posted.
func commentBody(t *testing.T, gh *fakeGH) string {
	t.Helper()
	call := gh.called("issue comment")
	if call == nil {
		t.Fatal("no issue comment posted")
	}
	for i, arg := range call {
		if arg == "--body" && i+1 < len(call) {
			return call[i+1]
		}
	}
	t.Fatalf("issue comment call has no body: %v", call)
	return ""
}

// fakeGitRunner keys canned responses on the joined argument list.
type fakeGitRunner struct {
	calls     [][]string
	responses map[string]string
	errs      map[string]error
}

func newFakeGitRunner() *fakeGitRunner {
	return &fakeGitRunner{responses: make(map[string]string), errs: make(map[string]error)}
}

func (f *fakeGitRunner) RunGit(dir string, args ...string) (string, error) {
	f.calls = append(f.calls, args)
	key := strings.Join(args, " ")
	if err, ok := f.errs[key]; ok {
		return "fatal: " + err.Error(), err
	}
	return f.responses[key], nil
}

func (f *fakeGitRunner) ran(key string) bool {
	for _, call := range f.calls {
		if strings.Join(call, " ") == key {
			return true
		}
	}
	return false
}

func transcript(t *testing.T, payload string) string {
	t.Helper()
	event := map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"content": []map[string]any{{"type": "text", "text": "```json\n" + payload + "\n```"}},
		},
	}
	line, err := json.Marshal(event)
	if err != nil {
		t.Fatal(err)
	}
	return string(line) + "\n"
}

// script pops one transcript per claude call.
type script struct {
	outputs []string
	calls   int
}

func (s *script) run(opts claude.RunOpts) (*claude.Result, error) {
	if s.calls >= len(s.outputs) {
		return &claude.Result{Success: false, Error: "script exhausted"}, nil
	}
	out := s.outputs[s.calls]
	s.calls++
	return &claude.Result{Success: true, Output: out}, nil
}

func happyScript(t *testing.T) *script {
	return &script{outputs: []string{
		transcript(t, `{"classification": "FIXABLE", "confidence": 0.9, "summary": "clear bug"}`),
		transcript(t, `{"root_cause": "nil deref", "summary": "found it", "confidence": 0.9}`),
		transcript(t, `{"fix_applied": true, "files_changed": ["a.go"], "confidence": 0.9, "summary": "patched"}`),
		transcript(t, `{"verdict": "APPROVE", "confidence": 0.9, "summary": "good"}`),
	}}
}

func newTestCoordinator(t *testing.T, gh *fakeGH, g *fakeGitRunner, s *script) *Coordinator {
	t.Helper()
	cfg := &config.Config{
		GitHubRepo:       "acme/widgets",
		ProjectDir:       "/srv/widgets",
		BaseBranch:       "develop",
		RunsDir:          t.TempDir(),
		MaxFixIterations: 3,
	}
	return &Coordinator{
		Cfg: cfg,
		GH:  github.NewClient(cfg.GitHubRepo, gh),
		Git: git.NewClient(cfg.ProjectDir, g),
		Run: s.run,
		Out: &bytes.Buffer{},
	}
}

func TestProcessIssueHappyPath(t *testing.T) {
	gh := newFakeGH()
	g := newFakeGitRunner()
	g.responses["diff --name-only"] = "a.go"

	c := newTestCoordinator(t, gh, g, happyScript(t))
	state, err := c.ProcessIssue(123)
	if err != nil {
		t.Fatalf("ProcessIssue: %v", err)
	}
	if state.Status != pipeline.StatusSuccess {
		t.Fatalf("status = %s (%s)", state.Status, state.FailureReason)
	}

	for _, want := range []string{
		"fetch origin",
		"checkout -f develop",
		"reset --hard origin/develop",
		"checkout -b claude-auto-fix-123",
		"add . :!.env :!*.env",
		"commit -m Fix #123: Crash on save",
		"push -u origin claude-auto-fix-123",
	} {
		if !g.ran(want) {
			t.Errorf("git call %q missing; calls: %v", want, g.calls)
		}
	}

	create := gh.called("pr create")
	if create == nil {
		t.Fatal("PR was not created")
	}
	joined := strings.Join(create, " ")
	if !strings.Contains(joined, "--label high-confidence") {
		t.Errorf("pr create %v missing high-confidence label", create)
	}
	if !strings.Contains(joined, "--base develop") {
		t.Errorf("pr create %v missing base branch", create)
	}
	if gh.called("issue comment") == nil {
		t.Error("issue was not commented")
	}
}

func TestProcessIssueDirtyTree(t *testing.T) {
	gh := newFakeGH()
	g := newFakeGitRunner()
	g.responses["status --porcelain"] = " M other.go"

	c := newTestCoordinator(t, gh, g, happyScript(t))
	if _, err := c.ProcessIssue(123); err == nil {
		t.Fatal("expected refusal on dirty tree")
	}
	if len(gh.calls) != 0 {
		t.Errorf("gh was called despite dirty tree: %v", gh.calls)
	}
}

func TestProcessIssueClosesStalePR(t *testing.T) {
	gh := newFakeGH()
	gh.responses["pr list"] = `[{"number":55,"url":"https://example.com/pr/55","headRefName":"claude-auto-fix-123"}]`
	g := newFakeGitRunner()
	g.responses["diff --name-only"] = "a.go"

	c := newTestCoordinator(t, gh, g, happyScript(t))
	if _, err := c.ProcessIssue(123); err != nil {
		t.Fatalf("ProcessIssue: %v", err)
	}

	closed := gh.called("pr close")
	if closed == nil || closed[2] != "55" {
		t.Errorf("stale PR not closed: %v", gh.calls)
	}
}

func TestProcessIssueSkipCleansUp(t *testing.T) {
	gh := newFakeGH()
	g := newFakeGitRunner()
	s := &script{outputs: []string{
		transcript(t, `{"classification": "OUT_OF_SCOPE", "confidence": 0.9, "summary": "infra request"}`),
	}}

	c := newTestCoordinator(t, gh, g, s)
	state, err := c.ProcessIssue(123)
	if err != nil {
		t.Fatalf("ProcessIssue: %v", err)
	}
	if state.Status != pipeline.StatusSkipped {
		t.Fatalf("status = %s", state.Status)
	}
	if gh.called("pr create") != nil {
		t.Error("skip must not open a PR")
	}
	body := commentBody(t, gh)
	for _, want := range []string{"OUT_OF_SCOPE", "infra request"} {
		if !strings.Contains(body, want) {
			t.Errorf("skip comment %q missing %q", body, want)
		}
	}
	if !g.ran("branch -D claude-auto-fix-123") {
		t.Errorf("feature branch not cleaned up: %v", g.calls)
	}
}

func TestSkipCommentCarriesResearchWhenFixChangesNothing(t *testing.T) {
	gh := newFakeGH()
	g := newFakeGitRunner()
	s := &script{outputs: []string{
		transcript(t, `{"classification": "FIXABLE", "confidence": 0.9, "summary": "clear bug"}`),
		transcript(t, `{"root_cause": "stale cache entry", "summary": "config is rebuilt on boot", "confidence": 0.8}`),
		transcript(t, `{"fix_applied": false, "files_changed": [], "summary": "already fixed upstream"}`),
	}}

	c := newTestCoordinator(t, gh, g, s)
	state, err := c.ProcessIssue(123)
	if err != nil {
		t.Fatalf("ProcessIssue: %v", err)
	}
	if state.Status != pipeline.StatusSkipped {
		t.Fatalf("status = %s (%s)", state.Status, state.FailureReason)
	}

	body := commentBody(t, gh)
	for _, want := range []string{"stale cache entry", "already fixed upstream"} {
		if !strings.Contains(body, want) {
			t.Errorf("skip comment %q missing %q", body, want)
		}
	}
}

func TestProcessIssueNothingToPushDowngradesToSkipped(t *testing.T) {
	gh := newFakeGH()
	g := newFakeGitRunner()
	// Review approved, but the tree is clean and the branch is already
	// level with the remote: nothing to ship.
	g.responses["rev-parse --verify origin/claude-auto-fix-123"] = "abc123"
	g.responses["rev-list --count origin/claude-auto-fix-123..HEAD"] = "0"

	c := newTestCoordinator(t, gh, g, happyScript(t))
	state, err := c.ProcessIssue(123)
	if err != nil {
		t.Fatalf("ProcessIssue: %v", err)
	}
	if state.Status != pipeline.StatusSkipped {
		t.Fatalf("status = %s, want skipped", state.Status)
	}
	if state.AggregateConfidence != nil {
		t.Error("downgraded run must not carry aggregate confidence")
	}
	if gh.called("pr create") != nil {
		t.Error("nothing-to-push run must not open a PR")
	}
	if !strings.Contains(commentBody(t, gh), "no new change was needed") {
		t.Errorf("comment = %q", commentBody(t, gh))
	}
	if !g.ran("branch -D claude-auto-fix-123") {
		t.Errorf("feature branch not cleaned up: %v", g.calls)
	}

	// The snapshot on disk must agree with the batch tally.
	loaded, err := pipeline.OpenStore(c.Cfg.RunsDir, 123).LoadPipeline()
	if err != nil {
		t.Fatalf("LoadPipeline: %v", err)
	}
	if loaded.Status != pipeline.StatusSkipped {
		t.Errorf("persisted status = %s, want skipped", loaded.Status)
	}
}

func TestProcessIssueBlockedReportsAndCleansUp(t *testing.T) {
	gh := newFakeGH()
	g := newFakeGitRunner()
	s := &script{outputs: []string{
		transcript(t, `{"classification": "FIXABLE", "confidence": 0.9}`),
		transcript(t, `{"root_cause": "x", "summary": "y", "confidence": 0.8}`),
		transcript(t, `{"fix_applied": true, "files_changed": ["a.go"], "confidence": 0.7}`),
		transcript(t, `{"verdict": "BLOCK", "confidence": 0.9, "concerns": ["wrong approach"]}`),
	}}

	c := newTestCoordinator(t, gh, g, s)
	state, err := c.ProcessIssue(123)
	if err != nil {
		t.Fatalf("ProcessIssue: %v", err)
	}
	if state.Status != pipeline.StatusBlocked {
		t.Fatalf("status = %s", state.Status)
	}
	if gh.called("pr create") != nil {
		t.Error("blocked run must not open a PR")
	}
	if !g.ran("checkout develop") {
		t.Errorf("did not return to base branch: %v", g.calls)
	}
}

func TestProcessAllContinuesPastErrors(t *testing.T) {
	gh := newFakeGH()
	gh.errs["issue view"] = fmt.Errorf("gh: issue not found")
	g := newFakeGitRunner()

	c := newTestCoordinator(t, gh, g, happyScript(t))
	summary := c.ProcessAll([]int{1, 2})

	if summary.Errors != 2 {
		t.Errorf("errors = %d, want 2", summary.Errors)
	}
	if !summary.Failures() {
		t.Error("Failures() should be true")
	}
	if len(summary.Results) != 2 {
		t.Errorf("results = %+v", summary.Results)
	}
}

func TestConfidenceLabel(t *testing.T) {
	cases := []struct {
		confidence float64
		want       string
	}{
		{0.95, "high-confidence"},
		{0.8, "high-confidence"},
		{0.79, "medium-confidence"},
		{0.6, "medium-confidence"},
		{0.59, "low-confidence"},
		{0, "low-confidence"},
	}
	for _, tc := range cases {
		if got := ConfidenceLabel(tc.confidence); got != tc.want {
			t.Errorf("ConfidenceLabel(%v) = %s, want %s", tc.confidence, got, tc.want)
		}
	}
}

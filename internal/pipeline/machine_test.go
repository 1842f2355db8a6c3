package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/strato-net/issuefix/internal/claude"
	"github.com/strato-net/issuefix/internal/db"
	"github.com/strato-net/issuefix/internal/github"
)

// runLog captures accounting rows in memory.
type runLog struct {
	rows []db.AgentRun
}

func (r *runLog) RecordAgentRun(run db.AgentRun) error {
	r.rows = append(r.rows, run)
	return nil
}

// script replays one canned transcript per claude invocation, in order.
type script struct {
	outputs []string
	calls   int
	prompts []string
}

func (s *script) run(opts claude.RunOpts) (*claude.Result, error) {
	if s.calls >= len(s.outputs) {
		return &claude.Result{Success: false, Error: "script exhausted"}, nil
	}
	s.prompts = append(s.prompts, opts.Prompt)
	out := s.outputs[s.calls]
	s.calls++
	return &claude.Result{Success: true, Output: out, DurationMs: 100, CostUSD: 0.01}, nil
}

func transcript(t *testing.T, payload string) string {
	t.Helper()
	event := map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"content": []map[string]any{{"type": "text", "text": "Done.\n```json\n" + payload + "\n```"}},
		},
	}
	line, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(line) + "\n"
}

func newTestMachine(t *testing.T, s *script) (*Machine, *Store) {
	t.Helper()
	store, err := NewStore(t.TempDir(), 42)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	m := NewMachine(Opts{
		Issue:    &github.Issue{Number: 42, Title: "Crash on save", Body: "steps"},
		Store:    store,
		Run:      s.run,
		Diff:     func() (string, error) { return "diff --git a/a.go b/a.go", nil },
		Timeouts: map[string]time.Duration{"triage": time.Minute},
	})
	return m, store
}

const (
	triageFixable = `{"classification": "FIXABLE", "confidence": 0.9, "summary": "clear bug"}`
	researchOK    = `{"root_cause": "nil deref", "summary": "found it", "confidence": 0.8}`
	fixOK         = `{"fix_applied": true, "files_changed": ["a.go"], "confidence": 0.7, "summary": "patched"}`
	reviewApprove = `{"verdict": "APPROVE", "confidence": 0.8, "summary": "good"}`
	reviewChanges = `{"verdict": "REQUEST_CHANGES", "confidence": 0.6, "concerns": ["missing test"]}`
	reviewBlock   = `{"verdict": "BLOCK", "confidence": 0.9, "concerns": ["wrong approach"]}`
)

func TestHappyPath(t *testing.T) {
	s := &script{outputs: []string{
		transcript(t, triageFixable),
		transcript(t, researchOK),
		transcript(t, fixOK),
		transcript(t, reviewApprove),
	}}
	m, store := newTestMachine(t, s)

	state, err := m.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.Status != StatusSuccess {
		t.Fatalf("status = %s (%s)", state.Status, state.FailureReason)
	}
	if s.calls != 4 {
		t.Errorf("claude calls = %d, want 4", s.calls)
	}

	wantMarkers := []string{"triage", "research", "fix", "review"}
	if strings.Join(state.AgentsCompleted, ",") != strings.Join(wantMarkers, ",") {
		t.Errorf("markers = %v, want %v", state.AgentsCompleted, wantMarkers)
	}

	// 0.15*0.9 + 0.20*0.8 + 0.35*0.7 + 0.30*0.8 = 0.78
	if state.AggregateConfidence == nil || *state.AggregateConfidence != 0.78 {
		t.Errorf("aggregate = %v, want 0.78", state.AggregateConfidence)
	}
	if state.ConfidenceBreakdown["fix"] != 0.7 {
		t.Errorf("breakdown = %v", state.ConfidenceBreakdown)
	}
	if state.CompletedAt == nil {
		t.Error("completed_at not set on terminal state")
	}

	// Terminal snapshot must be on disk.
	loaded, err := store.LoadPipeline()
	if err != nil {
		t.Fatalf("LoadPipeline: %v", err)
	}
	if loaded.Status != StatusSuccess || loaded.AggregateConfidence == nil {
		t.Errorf("persisted snapshot = %+v", loaded)
	}
}

func TestAggregateRounding(t *testing.T) {
	s := &script{outputs: []string{
		transcript(t, `{"classification": "FIXABLE", "confidence": 0.9}`),
		transcript(t, `{"root_cause": "x", "summary": "y", "confidence": 0.8}`),
		transcript(t, `{"fix_applied": true, "files_changed": ["a.go"], "confidence": 0.7}`),
		transcript(t, `{"verdict": "APPROVE", "confidence": 0.85}`),
	}}
	m, _ := newTestMachine(t, s)

	state, err := m.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// 0.15*0.9 + 0.20*0.8 + 0.35*0.7 + 0.30*0.85 rounds to two decimals.
	if state.AggregateConfidence == nil {
		t.Fatal("no aggregate confidence")
	}
	got := *state.AggregateConfidence
	if got < 0.79 || got > 0.80 {
		t.Errorf("aggregate = %v, want 0.79..0.80", got)
	}
}

func TestTriageNonActionableSkips(t *testing.T) {
	s := &script{outputs: []string{
		transcript(t, `{"classification": "NEEDS_HUMAN", "confidence": 0.8, "summary": "unclear"}`),
	}}
	m, _ := newTestMachine(t, s)

	state, err := m.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.Status != StatusSkipped {
		t.Fatalf("status = %s", state.Status)
	}
	if s.calls != 1 {
		t.Errorf("claude calls = %d, want 1 (no research after skip)", s.calls)
	}
	if !strings.Contains(state.FailureReason, "NEEDS_HUMAN") {
		t.Errorf("reason = %q", state.FailureReason)
	}
	if state.AgentsCompleted[0] != "triage:skipped" {
		t.Errorf("markers = %v", state.AgentsCompleted)
	}
	if state.AggregateConfidence != nil {
		t.Error("skipped run must not carry aggregate confidence")
	}
}

func TestAgentFailureFailsPipeline(t *testing.T) {
	s := &script{outputs: []string{
		transcript(t, triageFixable),
	}}
	m, _ := newTestMachine(t, s)
	// Second call (research) hits script exhaustion → non-zero exit.

	state, err := m.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.Status != StatusFailed {
		t.Fatalf("status = %s", state.Status)
	}
	if !strings.Contains(state.FailureReason, "research agent failed") {
		t.Errorf("reason = %q", state.FailureReason)
	}
	if state.AgentsCompleted[len(state.AgentsCompleted)-1] != "research:failed" {
		t.Errorf("markers = %v", state.AgentsCompleted)
	}
}

func TestFirstFixWithoutChangesSkips(t *testing.T) {
	s := &script{outputs: []string{
		transcript(t, triageFixable),
		transcript(t, researchOK),
		transcript(t, `{"fix_applied": false, "files_changed": [], "summary": "already fixed upstream"}`),
	}}
	m, _ := newTestMachine(t, s)

	state, err := m.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.Status != StatusSkipped {
		t.Fatalf("status = %s (%s)", state.Status, state.FailureReason)
	}
	if s.calls != 3 {
		t.Errorf("claude calls = %d, want 3 (no review of an empty fix)", s.calls)
	}
}

func TestReviewBlockIsTerminal(t *testing.T) {
	s := &script{outputs: []string{
		transcript(t, triageFixable),
		transcript(t, researchOK),
		transcript(t, fixOK),
		transcript(t, reviewBlock),
	}}
	m, _ := newTestMachine(t, s)

	state, err := m.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.Status != StatusBlocked {
		t.Fatalf("status = %s", state.Status)
	}
	if s.calls != 4 {
		t.Errorf("claude calls = %d, want 4 (BLOCK must not start a revision)", s.calls)
	}
	if !strings.Contains(state.FailureReason, "BLOCK") {
		t.Errorf("reason = %q", state.FailureReason)
	}
}

func TestRevisionLoopExhaustion(t *testing.T) {
	s := &script{outputs: []string{
		transcript(t, triageFixable),
		transcript(t, researchOK),
		transcript(t, fixOK),
		transcript(t, reviewChanges),
		transcript(t, fixOK),
		transcript(t, reviewChanges),
		transcript(t, fixOK),
		transcript(t, reviewChanges),
	}}
	m, store := newTestMachine(t, s)

	state, err := m.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.Status != StatusBlocked {
		t.Fatalf("status = %s (%s)", state.Status, state.FailureReason)
	}
	if s.calls != 8 {
		t.Errorf("claude calls = %d, want exactly 8 (3 fixes, 3 reviews)", s.calls)
	}

	joined := strings.Join(state.AgentsCompleted, ",")
	for _, want := range []string{"fix", "fix-revision-1", "fix-revision-2"} {
		if !strings.Contains(joined, want) {
			t.Errorf("markers %v missing %s", state.AgentsCompleted, want)
		}
	}
	if strings.Count(joined, "review:skipped") != 3 {
		t.Errorf("markers %v: want three review:skipped entries", state.AgentsCompleted)
	}

	// Every revision attempt archived under its own file.
	for _, name := range []string{"fix-revision-1.state.json", "fix-revision-2.state.json"} {
		if _, err := os.Stat(filepath.Join(store.Dir(), name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
}

func TestRevisionApprovedUsesLatestFixConfidence(t *testing.T) {
	s := &script{outputs: []string{
		transcript(t, triageFixable),
		transcript(t, researchOK),
		transcript(t, fixOK), // confidence 0.7
		transcript(t, reviewChanges),
		transcript(t, `{"fix_applied": true, "files_changed": ["a.go", "a_test.go"], "confidence": 0.9, "summary": "added test"}`),
		transcript(t, reviewApprove),
	}}
	m, _ := newTestMachine(t, s)

	state, err := m.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.Status != StatusSuccess {
		t.Fatalf("status = %s (%s)", state.Status, state.FailureReason)
	}
	if state.ConfidenceBreakdown["fix"] != 0.9 {
		t.Errorf("fix confidence = %v, want latest revision's 0.9", state.ConfidenceBreakdown["fix"])
	}
	// 0.15*0.9 + 0.20*0.8 + 0.35*0.9 + 0.30*0.8 = 0.85
	if state.AggregateConfidence == nil || *state.AggregateConfidence != 0.85 {
		t.Errorf("aggregate = %v, want 0.85", state.AggregateConfidence)
	}

	// Revision prompt must carry the review feedback and current diff.
	revPrompt := s.prompts[4]
	for _, want := range []string{"REQUEST_CHANGES", "missing test", "diff --git"} {
		if !strings.Contains(revPrompt, want) {
			t.Errorf("revision prompt missing %q", want)
		}
	}
}

func TestEveryInvocationRecordedWithRevision(t *testing.T) {
	s := &script{outputs: []string{
		transcript(t, triageFixable),
		transcript(t, researchOK),
		transcript(t, fixOK),
		transcript(t, reviewChanges),
		transcript(t, `{"fix_applied": true, "files_changed": ["a.go"], "confidence": 0.8, "summary": "reworked"}`),
		transcript(t, reviewApprove),
	}}
	m, _ := newTestMachine(t, s)
	rec := &runLog{}
	m.opts.Runs = rec

	state, err := m.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.Status != StatusSuccess {
		t.Fatalf("status = %s (%s)", state.Status, state.FailureReason)
	}

	// One row per invocation, superseded first attempt included.
	if len(rec.rows) != 6 {
		t.Fatalf("recorded %d rows, want 6: %+v", len(rec.rows), rec.rows)
	}
	type key struct {
		stage    string
		revision int
	}
	got := make(map[key]int)
	for _, r := range rec.rows {
		got[key{r.Stage, r.Revision}]++
		if r.Issue != 42 {
			t.Errorf("row issue = %d, want 42", r.Issue)
		}
	}
	for _, want := range []key{
		{"triage", 0}, {"research", 0},
		{"fix", 0}, {"review", 0},
		{"fix", 1}, {"review", 1},
	} {
		if got[want] != 1 {
			t.Errorf("rows missing %v: %+v", want, rec.rows)
		}
	}

	// The superseded fix attempt keeps its own accounting.
	for _, r := range rec.rows {
		if r.Stage == "fix" && r.Revision == 0 && r.Confidence != 0.7 {
			t.Errorf("first fix row confidence = %v, want 0.7", r.Confidence)
		}
		if r.Stage == "fix" && r.Revision == 1 && r.Confidence != 0.8 {
			t.Errorf("revision fix row confidence = %v, want 0.8", r.Confidence)
		}
	}
}

func TestRevisionReportingNoFixBlocks(t *testing.T) {
	s := &script{outputs: []string{
		transcript(t, triageFixable),
		transcript(t, researchOK),
		transcript(t, fixOK),
		transcript(t, reviewChanges),
		transcript(t, `{"fix_applied": false, "files_changed": [], "summary": "cannot address concerns"}`),
	}}
	m, _ := newTestMachine(t, s)

	state, err := m.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.Status != StatusBlocked {
		t.Fatalf("status = %s (%s)", state.Status, state.FailureReason)
	}
	if !strings.Contains(state.FailureReason, "no fix applied") {
		t.Errorf("reason = %q", state.FailureReason)
	}
	if s.calls != 5 {
		t.Errorf("claude calls = %d, want 5 (no review of an empty revision)", s.calls)
	}
}

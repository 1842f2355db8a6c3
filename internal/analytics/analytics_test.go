package analytics

import (
	"path/filepath"
	"testing"

	"github.com/strato-net/issuefix/internal/db"
)

func seedDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	runs := []db.AgentRun{
		{Issue: 1, Stage: "triage", Status: "success", Confidence: 0.9, DurationMs: 60000, CostUSD: 0.10},
		{Issue: 1, Stage: "fix", Status: "success", Confidence: 0.7, DurationMs: 300000, CostUSD: 0.80},
		{Issue: 1, Stage: "fix", Revision: 1, Status: "success", Confidence: 0.9, DurationMs: 120000, CostUSD: 0.30},
		{Issue: 2, Stage: "triage", Status: "success", Confidence: 0.5, DurationMs: 120000, CostUSD: 0.12},
		{Issue: 2, Stage: "fix", Status: "failed", DurationMs: 10000},
	}
	for _, r := range runs {
		if err := d.RecordAgentRun(r); err != nil {
			t.Fatalf("RecordAgentRun: %v", err)
		}
	}

	events := []struct {
		issue  int
		detail string
	}{
		{1, "success"},
		{2, "failed"},
		{3, "success"},
		{4, "skipped"},
	}
	for _, e := range events {
		if err := d.LogEvent(e.issue, "pipeline_completed", "", e.detail); err != nil {
			t.Fatalf("LogEvent: %v", err)
		}
	}
	return d
}

func TestQueryStageStats(t *testing.T) {
	d := seedDB(t)

	stats, err := QueryStageStats(d, "")
	if err != nil {
		t.Fatalf("QueryStageStats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("got %d stages, want 2 (failed runs excluded): %+v", len(stats), stats)
	}

	// Sorted by stage name: fix, triage.
	fix := stats[0]
	if fix.Stage != "fix" || fix.Runs != 2 {
		t.Errorf("fix stats = %+v", fix)
	}
	if fix.AvgConfidence != 0.8 {
		t.Errorf("fix avg confidence = %v, want 0.8", fix.AvgConfidence)
	}
	if fix.TotalCostUSD != 1.1 {
		t.Errorf("fix cost = %v, want 1.1", fix.TotalCostUSD)
	}

	triage := stats[1]
	if triage.Stage != "triage" || triage.AvgConfidence != 0.7 {
		t.Errorf("triage stats = %+v", triage)
	}
	if triage.AvgMinutes != 1.5 {
		t.Errorf("triage avg minutes = %v, want 1.5", triage.AvgMinutes)
	}
}

func TestQueryOutcomes(t *testing.T) {
	d := seedDB(t)

	outcomes, err := QueryOutcomes(d, "")
	if err != nil {
		t.Fatalf("QueryOutcomes: %v", err)
	}

	got := map[string]int{}
	for _, o := range outcomes {
		got[o.Status] = o.Count
	}
	if got["success"] != 2 || got["failed"] != 1 || got["skipped"] != 1 {
		t.Errorf("outcomes = %v", got)
	}
}

func TestQueryRevisionStats(t *testing.T) {
	d := seedDB(t)

	stats, err := QueryRevisionStats(d, "")
	if err != nil {
		t.Fatalf("QueryRevisionStats: %v", err)
	}
	if stats.FixRuns != 2 || stats.Revisions != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.RevisionsPerFix != 0.5 {
		t.Errorf("revisions per fix = %v, want 0.5", stats.RevisionsPerFix)
	}
}

func TestQueryTotalCost(t *testing.T) {
	d := seedDB(t)

	total, err := QueryTotalCost(d, "")
	if err != nil {
		t.Fatalf("QueryTotalCost: %v", err)
	}
	if total != 1.32 {
		t.Errorf("total = %v, want 1.32", total)
	}
}

func TestQueriesOnEmptyDB(t *testing.T) {
	d, err := db.Open(filepath.Join(t.TempDir(), "empty.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if err := d.Migrate(); err != nil {
		t.Fatal(err)
	}

	if stats, err := QueryStageStats(d, ""); err != nil || len(stats) != 0 {
		t.Errorf("stage stats on empty db: %v, %v", stats, err)
	}
	if total, err := QueryTotalCost(d, ""); err != nil || total != 0 {
		t.Errorf("total cost on empty db: %v, %v", total, err)
	}
	if rev, err := QueryRevisionStats(d, ""); err != nil || rev.FixRuns != 0 {
		t.Errorf("revision stats on empty db: %+v, %v", rev, err)
	}
}

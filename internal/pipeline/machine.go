package pipeline

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/strato-net/issuefix/internal/agent"
	"github.com/strato-net/issuefix/internal/db"
	"github.com/strato-net/issuefix/internal/github"
)

// EventLogger receives pipeline lifecycle events. Nil loggers are allowed.
type EventLogger interface {
	LogEvent(issueNumber int, event, stage, detail string) error
}

// RunRecorder receives one accounting row per agent invocation, including
// superseded fix attempts. Nil recorders are allowed.
type RunRecorder interface {
	RecordAgentRun(run db.AgentRun) error
}

// Opts configures a machine run.
type Opts struct {
	Issue      *github.Issue
	Store      *Store
	Workdir    string
	PromptsDir string
	Run        agent.RunFunc
	Diff       agent.DiffFunc
	// Timeouts maps stage role to its claude timeout.
	Timeouts map[string]time.Duration
	// Weights defaults to DefaultWeights when nil.
	Weights map[string]float64
	// MaxFixIterations defaults to DefaultMaxFixIterations when 0.
	MaxFixIterations int
	Events           EventLogger
	Runs             RunRecorder
	Progress         io.Writer
}

// Machine runs the agent pipeline for one issue. Stages execute strictly
// in order on a single goroutine; all concurrency lives in the external
// processes the agents spawn.
type Machine struct {
	opts       Opts
	state      *State
	states     map[string]*agent.State
	iterations int
}

// NewMachine prepares a machine; Run does the work.
func NewMachine(opts Opts) *Machine {
	if opts.Weights == nil {
		opts.Weights = DefaultWeights
	}
	if opts.MaxFixIterations == 0 {
		opts.MaxFixIterations = DefaultMaxFixIterations
	}
	return &Machine{
		opts:   opts,
		states: make(map[string]*agent.State),
	}
}

// States returns the latest agent state per role after Run.
func (m *Machine) States() map[string]*agent.State { return m.states }

// Run drives the pipeline to a terminal state. The returned error covers
// persistence problems only; agent outcomes are reported through the
// state's status.
func (m *Machine) Run() (*State, error) {
	m.state = NewState(m.opts.Issue.Number)
	m.logEvent("pipeline_started", "", "")

	if err := m.runTriage(); err != nil || m.state.Status.Terminal() {
		return m.state, err
	}
	if err := m.runResearch(); err != nil || m.state.Status.Terminal() {
		return m.state, err
	}
	if err := m.runFixReviewLoop(); err != nil || m.state.Status.Terminal() {
		return m.state, err
	}

	m.state.AggregateConfidence, m.state.ConfidenceBreakdown = m.aggregateConfidence()
	if m.iterations > 1 && m.opts.Progress != nil {
		fmt.Fprintf(m.opts.Progress, "Fix approved after %d iterations\n", m.iterations)
	}
	return m.state, m.finish(StatusSuccess, "")
}

func (m *Machine) runTriage() error {
	st, err := m.execute(&agent.Triage{}, 0)
	if err != nil {
		return err
	}
	switch st.Status {
	case agent.StatusFailed:
		return m.stageFailed("triage", st)
	case agent.StatusSkipped:
		m.complete("triage:skipped")
		class, _ := st.Data["classification"].(string)
		return m.finish(StatusSkipped, "Issue classified as: "+class)
	}
	m.complete("triage")
	return m.persist()
}

func (m *Machine) runResearch() error {
	st, err := m.execute(&agent.Research{}, 0)
	if err != nil {
		return err
	}
	if st.Status == agent.StatusFailed {
		return m.stageFailed("research", st)
	}
	m.complete("research")
	return m.persist()
}

// runFixReviewLoop alternates fix and review until the review approves,
// something terminal happens, or the iteration budget runs out.
func (m *Machine) runFixReviewLoop() error {
	for iteration := 1; iteration <= m.opts.MaxFixIterations; iteration++ {
		m.iterations = iteration
		revision := iteration - 1

		var fixer agent.Agent = &agent.Fix{}
		if revision > 0 {
			fixer = agent.NewRevision(revision)
		}
		st, err := m.execute(fixer, revision)
		if err != nil {
			return err
		}
		if revision > 0 {
			if err := m.opts.Store.SaveRevisionState(revision, st); err != nil {
				return err
			}
		}

		switch st.Status {
		case agent.StatusFailed:
			return m.stageFailed("fix", st)
		case agent.StatusSkipped:
			if revision == 0 {
				m.complete("fix:skipped")
				return m.finish(StatusSkipped, "Fix agent made no changes")
			}
			// A revision that changes nothing cannot satisfy the
			// review, so continuing the loop would just re-review the
			// same tree.
			m.complete(fmt.Sprintf("fix-revision-%d:skipped", revision))
			reason := fmt.Sprintf("Fix revision %d made no changes", revision)
			if applied, ok := st.Data["fix_applied"].(bool); ok && !applied {
				reason = fmt.Sprintf("Fix revision %d reported no fix applied", revision)
			}
			return m.finish(StatusBlocked, reason)
		}
		if revision > 0 {
			m.complete(fmt.Sprintf("fix-revision-%d", revision))
		} else {
			m.complete("fix")
		}
		if err := m.persist(); err != nil {
			return err
		}

		rst, err := m.execute(&agent.Review{}, revision)
		if err != nil {
			return err
		}
		switch rst.Status {
		case agent.StatusFailed:
			return m.stageFailed("review", rst)
		case agent.StatusSuccess:
			m.complete("review")
			return m.persist()
		}

		verdict, _ := rst.Data["verdict"].(string)
		m.complete("review:skipped")
		if verdict == agent.VerdictBlock {
			return m.finish(StatusBlocked, "Review verdict: BLOCK")
		}
		if iteration == m.opts.MaxFixIterations {
			return m.finish(StatusBlocked,
				fmt.Sprintf("Review still requests changes after %d fix attempts", m.opts.MaxFixIterations))
		}
		m.logEvent("fix_revision_requested", "review", verdict)
		if err := m.persist(); err != nil {
			return err
		}
	}
	return nil
}

// execute runs one agent: announce it in the snapshot, invoke it, record
// its state in memory and on disk. revision is 0 for first attempts and
// the revision number inside the fix-review loop.
func (m *Machine) execute(a agent.Agent, revision int) (*agent.State, error) {
	role := a.Name()
	m.state.CurrentAgent = role
	if err := m.persist(); err != nil {
		return nil, err
	}
	m.logEvent("agent_started", role, "")

	st := a.Execute(&agent.Context{
		Issue:      m.opts.Issue,
		Previous:   m.states,
		Workdir:    m.opts.Workdir,
		PromptsDir: m.opts.PromptsDir,
		RunDir:     m.opts.Store.Dir(),
		Timeout:    m.opts.Timeouts[role],
		Run:        m.opts.Run,
		Diff:       m.opts.Diff,
		Progress:   m.opts.Progress,
	})

	m.states[role] = st
	if err := m.opts.Store.SaveAgentState(role, st); err != nil {
		return nil, err
	}
	m.logEvent("agent_completed", role, string(st.Status))
	m.recordRun(role, revision, st)
	return st, nil
}

// recordRun writes the accounting row for one invocation. Every attempt
// gets its own row; superseded fixes stay queryable by revision.
func (m *Machine) recordRun(role string, revision int, st *agent.State) {
	if m.opts.Runs == nil {
		return
	}
	err := m.opts.Runs.RecordAgentRun(db.AgentRun{
		Issue:      m.opts.Issue.Number,
		Stage:      role,
		Revision:   revision,
		Status:     string(st.Status),
		Confidence: st.Confidence,
		DurationMs: int(st.DurationMs),
		CostUSD:    st.CostUSD,
	})
	if err != nil && m.opts.Progress != nil {
		fmt.Fprintf(m.opts.Progress, "  ! agent run log: %v\n", err)
	}
}

func (m *Machine) stageFailed(role string, st *agent.State) error {
	m.complete(role + ":failed")
	return m.finish(StatusFailed, fmt.Sprintf("%s agent failed: %s", role, st.Error))
}

func (m *Machine) complete(marker string) {
	m.state.AgentsCompleted = append(m.state.AgentsCompleted, marker)
}

func (m *Machine) finish(status Status, reason string) error {
	m.state.MarkCompleted(status, reason)
	m.logEvent("pipeline_completed", "", string(status))
	return m.persist()
}

func (m *Machine) persist() error {
	if m.state.CompletedAt == nil {
		m.state.DurationSeconds = time.Since(m.state.StartedAt).Seconds()
	}
	return m.opts.Store.SavePipeline(m.state)
}

func (m *Machine) logEvent(event, stage, detail string) {
	if m.opts.Events == nil {
		return
	}
	if err := m.opts.Events.LogEvent(m.opts.Issue.Number, event, stage, detail); err != nil && m.opts.Progress != nil {
		fmt.Fprintf(m.opts.Progress, "  ! event log: %v\n", err)
	}
}

// stageRoles fixes the summation order so rounding is reproducible.
var stageRoles = []string{"triage", "research", "fix", "review"}

// aggregateConfidence computes the weighted sum over the latest state per
// role, rounded to two decimals. Only called on the success path.
func (m *Machine) aggregateConfidence() (*float64, map[string]float64) {
	breakdown := make(map[string]float64, len(stageRoles))
	total := 0.0
	for _, role := range stageRoles {
		st, ok := m.states[role]
		if !ok {
			continue
		}
		breakdown[role] = st.Confidence
		total += m.opts.Weights[role] * st.Confidence
	}
	total = math.Round(total*100) / 100
	return &total, breakdown
}

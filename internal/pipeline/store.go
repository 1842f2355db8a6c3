package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/strato-net/issuefix/internal/agent"
)

// Store persists pipeline and agent state under one run directory:
//
//	{runsDir}/issue-{n}/
//	    pipeline.state.json
//	    issue.json
//	    {stage}.state.json
//	    {stage}.prompt.md / {stage}.log
//	    fix-revision-{k}.state.json / .prompt.md / .log
type Store struct {
	runDir string
}

// NewStore creates the run directory for an issue under runsDir.
func NewStore(runsDir string, issueNumber int) (*Store, error) {
	runDir := filepath.Join(runsDir, fmt.Sprintf("issue-%d", issueNumber))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	return &Store{runDir: runDir}, nil
}

// OpenStore returns a store for an existing run directory without
// creating anything.
func OpenStore(runsDir string, issueNumber int) *Store {
	return &Store{runDir: filepath.Join(runsDir, fmt.Sprintf("issue-%d", issueNumber))}
}

// Dir returns the run directory path.
func (s *Store) Dir() string { return s.runDir }

func (s *Store) pipelinePath() string {
	return filepath.Join(s.runDir, "pipeline.state.json")
}

// SavePipeline atomically overwrites the full pipeline snapshot.
func (s *Store) SavePipeline(state *State) error {
	if err := WriteJSON(s.pipelinePath(), state); err != nil {
		return fmt.Errorf("save pipeline state: %w", err)
	}
	return nil
}

// LoadPipeline reads the pipeline snapshot, or nil when none exists.
func (s *Store) LoadPipeline() (*State, error) {
	var state State
	err := ReadJSON(s.pipelinePath(), &state)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pipeline state: %w", err)
	}
	return &state, nil
}

// SaveAgentState writes the state file for a stage role. The fix role's
// file always holds the latest attempt; revision history lives in the
// revision-numbered files.
func (s *Store) SaveAgentState(role string, st *agent.State) error {
	path := filepath.Join(s.runDir, role+".state.json")
	if err := WriteJSON(path, st); err != nil {
		return fmt.Errorf("save %s state: %w", role, err)
	}
	return nil
}

// SaveRevisionState archives a fix revision attempt under its own file.
func (s *Store) SaveRevisionState(revision int, st *agent.State) error {
	path := filepath.Join(s.runDir, fmt.Sprintf("fix-revision-%d.state.json", revision))
	if err := WriteJSON(path, st); err != nil {
		return fmt.Errorf("save fix revision %d state: %w", revision, err)
	}
	return nil
}

// LoadAgentState reads a stage's state file, or nil when absent.
func (s *Store) LoadAgentState(role string) (*agent.State, error) {
	var st agent.State
	err := ReadJSON(filepath.Join(s.runDir, role+".state.json"), &st)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s state: %w", role, err)
	}
	return &st, nil
}

// ListRuns returns the issue numbers that have run directories under
// runsDir, ascending.
func ListRuns(runsDir string) ([]int, error) {
	entries, err := os.ReadDir(runsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read runs dir: %w", err)
	}
	var issues []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(e.Name(), "issue-%d", &n); err == nil && n > 0 {
			issues = append(issues, n)
		}
	}
	sort.Ints(issues)
	return issues, nil
}

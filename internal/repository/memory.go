package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lyzr/workflowcore/internal/model"
)

// Memory is an in-process Repository used by dispatcher and worker tests in
// place of a live Postgres instance.
type Memory struct {
	mu        sync.Mutex
	workflows map[string]*model.Workflow
	runs      map[string]*model.WorkflowRun
	results   map[string]map[string]model.NodeExecutionResult
}

// NewMemory builds an empty Memory repository.
func NewMemory() *Memory {
	return &Memory{
		workflows: make(map[string]*model.Workflow),
		runs:      make(map[string]*model.WorkflowRun),
		results:   make(map[string]map[string]model.NodeExecutionResult),
	}
}

func workflowKey(tenantID, workflowID string, version int) string {
	return fmt.Sprintf("%s/%s/%d", tenantID, workflowID, version)
}

func (m *Memory) SaveWorkflow(_ context.Context, wf *model.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *wf
	m.workflows[workflowKey(wf.TenantID, wf.ID, wf.Version)] = &cp
	return nil
}

func (m *Memory) LoadWorkflow(_ context.Context, tenantID, workflowID string, version int) (*model.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[workflowKey(tenantID, workflowID, version)]
	if !ok {
		return nil, fmt.Errorf("repository: workflow %s/%d not found: %w", workflowID, version, ErrNotFound)
	}
	cp := *wf
	return &cp, nil
}

func (m *Memory) CreateRun(_ context.Context, run *model.WorkflowRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[run.ID]; exists {
		return fmt.Errorf("repository: run %s already exists", run.ID)
	}
	cp := *run
	cp.NodeResults = nil
	m.runs[run.ID] = &cp
	m.results[run.ID] = make(map[string]model.NodeExecutionResult)
	return nil
}

func (m *Memory) LoadRun(_ context.Context, runID string) (*model.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("repository: run %s not found: %w", runID, ErrNotFound)
	}
	cp := *run
	cp.NodeResults = cloneResults(m.results[runID])
	return &cp, nil
}

func (m *Memory) ClaimRun(_ context.Context, runID, workerID string, _ model.JSON) (bool, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return false, 0, fmt.Errorf("repository: run %s not found: %w", runID, ErrNotFound)
	}
	if run.Status != model.RunPending || run.CancelRequested {
		return false, 0, nil
	}
	run.Status = model.RunRunning
	run.WorkerID = workerID
	run.ClaimEpoch++
	now := time.Now()
	run.ClaimedAt = &now
	if run.StartedAt == nil {
		run.StartedAt = &now
	}
	return true, run.ClaimEpoch, nil
}

func (m *Memory) UpdateStatusCAS(_ context.Context, runID string, expected, next model.RunStatus, epoch int64, errMessage string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return false, fmt.Errorf("repository: run %s not found: %w", runID, ErrNotFound)
	}
	if run.Status != expected || run.ClaimEpoch != epoch {
		return false, nil
	}
	run.Status = next
	run.ErrorMessage = errMessage
	if next.IsTerminal() {
		now := time.Now()
		run.EndedAt = &now
	}
	return true, nil
}

func (m *Memory) RequestCancellation(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("repository: run %s not found: %w", runID, ErrNotFound)
	}
	run.CancelRequested = true
	return nil
}

func (m *Memory) ListByWorkflow(_ context.Context, workflowID string, limit int) ([]*model.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matches []*model.WorkflowRun
	for _, run := range m.runs {
		if run.WorkflowID == workflowID {
			cp := *run
			matches = append(matches, &cp)
		}
	}
	return limitRuns(matches, limit), nil
}

func (m *Memory) ListByStatus(_ context.Context, status model.RunStatus, limit int) ([]*model.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matches []*model.WorkflowRun
	for _, run := range m.runs {
		if run.Status == status {
			cp := *run
			matches = append(matches, &cp)
		}
	}
	return limitRuns(matches, limit), nil
}

func limitRuns(runs []*model.WorkflowRun, limit int) []*model.WorkflowRun {
	sort.Slice(runs, func(i, j int) bool { return runs[i].ID < runs[j].ID })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs
}

func (m *Memory) SaveNodeResult(_ context.Context, result model.NodeExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byNode, ok := m.results[result.RunID]
	if !ok {
		return fmt.Errorf("repository: run %s not found: %w", result.RunID, ErrNotFound)
	}
	byNode[result.NodeID] = result
	return nil
}

func (m *Memory) LoadNodeResults(_ context.Context, runID string) (map[string]model.NodeExecutionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byNode, ok := m.results[runID]
	if !ok {
		return nil, fmt.Errorf("repository: run %s not found: %w", runID, ErrNotFound)
	}
	return cloneResults(byNode), nil
}

func cloneResults(byNode map[string]model.NodeExecutionResult) map[string]model.NodeExecutionResult {
	cp := make(map[string]model.NodeExecutionResult, len(byNode))
	for k, v := range byNode {
		cp[k] = v
	}
	return cp
}

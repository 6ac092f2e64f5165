package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation. It backs unit tests
// and the ephemeral mode where run history does not need to survive
// restarts. Safe for concurrent use.
type MemoryStore struct {
	mu         sync.RWMutex
	runs       map[string]*Run
	events     map[string][]*Event // run ID → ordered events
	nodeStates map[string]map[string]*NodeState
	pipelines  map[string]*Pipeline
	schedules  map[string]*Schedule
	secrets    map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:       make(map[string]*Run),
		events:     make(map[string][]*Event),
		nodeStates: make(map[string]map[string]*NodeState),
		pipelines:  make(map[string]*Pipeline),
		schedules:  make(map[string]*Schedule),
		secrets:    make(map[string][]byte),
	}
}

// --- Runs ---

func (s *MemoryStore) CreateRun(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return storeConflict("run", run.ID)
	}
	cp := *run
	cp.CreatedAt = timeOrNow(run.CreatedAt)
	cp.UpdatedAt = timeOrNow(run.UpdatedAt)
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, storeNotFound("run", id)
	}
	cp := *run
	return &cp, nil
}

func (s *MemoryStore) UpdateRun(_ context.Context, id string, update RunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return storeNotFound("run", id)
	}
	if update.Status != nil {
		run.Status = *update.Status
	}
	if update.Output != nil {
		run.Output = update.Output
	}
	if update.Error != nil {
		run.Error = update.Error
	}
	if update.StartedAt != nil {
		run.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		run.CompletedAt = update.CompletedAt
	}
	run.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []*Run
	for _, run := range s.runs {
		if filter.Status != nil && run.Status != *filter.Status {
			continue
		}
		if filter.PipelineName != "" && run.PipelineName != filter.PipelineName {
			continue
		}
		if filter.Since != nil && run.CreatedAt.Before(*filter.Since) {
			continue
		}
		cp := *run
		runs = append(runs, &cp)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if filter.Limit > 0 && len(runs) > filter.Limit {
		runs = runs[:filter.Limit]
	}
	return runs, nil
}

// --- Event log ---

func (s *MemoryStore) AppendEvent(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := int64(len(s.events[event.RunID]) + 1)
	event.Sequence = seq
	event.ID = seq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	cp := *event
	s.events[event.RunID] = append(s.events[event.RunID], &cp)
	return nil
}

func (s *MemoryStore) GetEvents(_ context.Context, runID string, since int64) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Event
	for _, e := range s.events[runID] {
		if e.Sequence > since {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- Node states ---

func (s *MemoryStore) UpsertNodeState(_ context.Context, state *NodeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	states, ok := s.nodeStates[state.RunID]
	if !ok {
		states = make(map[string]*NodeState)
		s.nodeStates[state.RunID] = states
	}
	cp := *state
	states[state.NodeID] = &cp
	return nil
}

func (s *MemoryStore) GetNodeState(_ context.Context, runID, nodeID string) (*NodeState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.nodeStates[runID][nodeID]
	if !ok {
		return nil, storeNotFound("node state", runID+"/"+nodeID)
	}
	cp := *ns
	return &cp, nil
}

func (s *MemoryStore) ListNodeStates(_ context.Context, runID string) ([]*NodeState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	states := make([]*NodeState, 0, len(s.nodeStates[runID]))
	for _, ns := range s.nodeStates[runID] {
		cp := *ns
		states = append(states, &cp)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].NodeID < states[j].NodeID })
	return states, nil
}

// --- Pipelines ---

func (s *MemoryStore) StorePipeline(_ context.Context, p *Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	cp.CreatedAt = timeOrNow(p.CreatedAt)
	cp.UpdatedAt = time.Now().UTC()
	if existing, ok := s.pipelines[p.Name]; ok {
		cp.CreatedAt = existing.CreatedAt
	}
	s.pipelines[p.Name] = &cp
	return nil
}

func (s *MemoryStore) GetPipeline(_ context.Context, name string) (*Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pipelines[name]
	if !ok {
		return nil, storeNotFound("pipeline", name)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPipelines(_ context.Context) ([]*Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pipelines := make([]*Pipeline, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		cp := *p
		pipelines = append(pipelines, &cp)
	}
	sort.Slice(pipelines, func(i, j int) bool { return pipelines[i].Name < pipelines[j].Name })
	return pipelines, nil
}

func (s *MemoryStore) DeletePipeline(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pipelines[name]; !ok {
		return storeNotFound("pipeline", name)
	}
	delete(s.pipelines, name)
	return nil
}

// --- Schedules ---

func (s *MemoryStore) CreateSchedule(_ context.Context, sch *Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.schedules[sch.ID]; exists {
		return storeConflict("schedule", sch.ID)
	}
	cp := *sch
	cp.CreatedAt = timeOrNow(sch.CreatedAt)
	s.schedules[sch.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSchedule(_ context.Context, id string) (*Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sch, ok := s.schedules[id]
	if !ok {
		return nil, storeNotFound("schedule", id)
	}
	cp := *sch
	return &cp, nil
}

func (s *MemoryStore) UpdateSchedule(_ context.Context, id string, update ScheduleUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sch, ok := s.schedules[id]
	if !ok {
		return storeNotFound("schedule", id)
	}
	if update.Enabled != nil {
		sch.Enabled = *update.Enabled
	}
	if update.LastRunAt != nil {
		sch.LastRunAt = update.LastRunAt
	}
	if update.NextRunAt != nil {
		sch.NextRunAt = update.NextRunAt
	}
	if update.LastRunStatus != "" {
		sch.LastRunStatus = update.LastRunStatus
	}
	return nil
}

func (s *MemoryStore) ListSchedules(_ context.Context, filter ScheduleFilter) ([]*Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var schedules []*Schedule
	for _, sch := range s.schedules {
		if filter.Enabled != nil && sch.Enabled != *filter.Enabled {
			continue
		}
		if filter.PipelineName != "" && sch.PipelineName != filter.PipelineName {
			continue
		}
		cp := *sch
		schedules = append(schedules, &cp)
	}
	sort.Slice(schedules, func(i, j int) bool {
		return schedules[i].CreatedAt.Before(schedules[j].CreatedAt)
	})
	if filter.Limit > 0 && len(schedules) > filter.Limit {
		schedules = schedules[:filter.Limit]
	}
	return schedules, nil
}

func (s *MemoryStore) DeleteSchedule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return storeNotFound("schedule", id)
	}
	delete(s.schedules, id)
	return nil
}

// Migrate is a no-op for the in-memory store.
// --- Secrets ---

func (s *MemoryStore) StoreSecret(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.secrets[key] = cp
	return nil
}

func (s *MemoryStore) GetSecret(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.secrets[key]
	if !ok {
		return nil, storeNotFound("secret", key)
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (s *MemoryStore) DeleteSecret(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.secrets[key]; !ok {
		return storeNotFound("secret", key)
	}
	delete(s.secrets, key)
	return nil
}

func (s *MemoryStore) ListSecrets(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.secrets))
	for k := range s.secrets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Migrate(_ context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)

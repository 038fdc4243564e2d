// Package memstore is an in-memory implementation of store.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/jinzhu/copier"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/Autumn-27/ScopeSentry-sub000/internal/apperr"
	"github.com/Autumn-27/ScopeSentry-sub000/internal/store"
	"github.com/Autumn-27/ScopeSentry-sub000/pkg/types"
)

var _ store.Store = (*Store)(nil)

// Store keeps every collection in maps guarded by one mutex.
type Store struct {
	mu sync.RWMutex

	jobs     map[types.JobKind]map[types.JobID]*types.JobDefinition
	entries  map[types.JobID]*types.ScheduledEntry
	pages    []types.PageMonitorTarget
	projects map[string]string
	dedup    *store.DedupSettings
	docs     map[string][]bson.M
}

// New creates an empty store.
func New() *Store {
	return &Store{
		jobs: map[types.JobKind]map[types.JobID]*types.JobDefinition{
			types.JobKindTask:    {},
			types.JobKindProject: {},
		},
		entries:  make(map[types.JobID]*types.ScheduledEntry),
		projects: make(map[string]string),
		docs:     make(map[string][]bson.M),
	}
}

func cloneJob(j *types.JobDefinition) *types.JobDefinition {
	out := new(types.JobDefinition)
	_ = copier.CopyWithOption(out, j, copier.Option{DeepCopy: true})
	return out
}

// PutJob inserts or replaces a Job Definition.
func (s *Store) PutJob(job *types.JobDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kind := job.Kind
	if kind == "" {
		kind = types.JobKindTask
	}
	c := cloneJob(job)
	c.Kind = kind
	s.jobs[kind][job.ID] = c
}

func (s *Store) GetJob(ctx context.Context, kind types.JobKind, id types.JobID) (*types.JobDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID, ok := s.jobs[kind]
	if !ok {
		return nil, apperr.Validation("store.GetJob", "unknown job kind: %s", kind)
	}
	j, ok := byID[id]
	if !ok {
		return nil, apperr.NotFound("store.GetJob", "%s not found: %s", kind, id)
	}
	return cloneJob(j), nil
}

func (s *Store) ListUnfinished(ctx context.Context) ([]*types.JobDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.JobDefinition
	for _, j := range s.jobs[types.JobKindTask] {
		if j.Progress != 100 {
			out = append(out, cloneJob(j))
		}
	}
	return out, nil
}

func (s *Store) ListAssigned(ctx context.Context, node string) ([]*types.JobDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.JobDefinition
	for _, j := range s.jobs[types.JobKindTask] {
		if j.Progress == 100 || j.Status != 1 {
			continue
		}
		if j.AllNode || contains(j.Node, node) {
			out = append(out, cloneJob(j))
		}
	}
	return out, nil
}

func (s *Store) SaveProgress(ctx context.Context, kind types.JobKind, id types.JobID, progress float64, endTime string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[kind][id]
	if !ok {
		return apperr.NotFound("store.SaveProgress", "%s not found: %s", kind, id)
	}
	j.Progress = progress
	if endTime != "" {
		j.EndTime = endTime
	}
	return nil
}

func (s *Store) ResetJob(ctx context.Context, id types.JobID, createTime string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[types.JobKindTask][id]
	if !ok {
		return apperr.NotFound("store.ResetJob", "task not found: %s", id)
	}
	j.Progress, j.EndTime, j.Status, j.CreateTime = 0, "", types.JobStatusRunning, createTime
	return nil
}

func (s *Store) SetJobStatus(ctx context.Context, id types.JobID, status int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[types.JobKindTask][id]
	if !ok {
		return apperr.NotFound("store.SetJobStatus", "task not found: %s", id)
	}
	j.Status = status
	return nil
}

// PutEntry inserts or replaces a Scheduled Entry.
func (s *Store) PutEntry(e *types.ScheduledEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *e
	s.entries[e.ID] = &c
}

func (s *Store) GetEntry(ctx context.Context, id types.JobID) (*types.ScheduledEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, apperr.NotFound("store.GetEntry", "scheduled entry not found: %s", id)
	}
	c := *e
	return &c, nil
}

func (s *Store) ListEnabled(ctx context.Context) ([]*types.ScheduledEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.ScheduledEntry
	for _, e := range s.entries {
		if e.State {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) SaveFiring(ctx context.Context, id types.JobID, lastTime, nextTime string, runner types.RunID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return apperr.NotFound("store.SaveFiring", "scheduled entry not found: %s", id)
	}
	e.LastTime, e.NextTime, e.RunnerID = lastTime, nextTime, runner
	return nil
}

func (s *Store) SetEnabled(ctx context.Context, id types.JobID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return apperr.NotFound("store.SetEnabled", "scheduled entry not found: %s", id)
	}
	e.State = enabled
	return nil
}

// SetMonitoredPages replaces the page monitoring list.
func (s *Store) SetMonitoredPages(pages []types.PageMonitorTarget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = append([]types.PageMonitorTarget(nil), pages...)
}

func (s *Store) ListMonitoredPages(ctx context.Context) ([]types.PageMonitorTarget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.PageMonitorTarget(nil), s.pages...), nil
}

// PutProject registers a project name.
func (s *Store) PutProject(name, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[name] = id
}

func (s *Store) ProjectIDs(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.projects))
	for k, v := range s.projects {
		out[k] = v
	}
	return out, nil
}

// SetDedupSettings replaces the deduplication configuration.
func (s *Store) SetDedupSettings(d *store.DedupSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dedup = d
}

func (s *Store) GetDedupSettings(ctx context.Context) (*store.DedupSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dedup == nil {
		return nil, apperr.NotFound("store.GetDedupSettings", "deduplication config not found")
	}
	c := *s.dedup
	c.Collections = make(map[string]bool, len(s.dedup.Collections))
	for k, v := range s.dedup.Collections {
		c.Collections[k] = v
	}
	return &c, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

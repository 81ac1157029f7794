// Package data holds the in-memory job store shared by the supervisor and
// its readers.
package data

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/target/docflow/internal/core"
	"github.com/target/docflow/internal/domain/job"
	"github.com/target/docflow/internal/domain/model"
)

// JobStoreOptions configures a JobStore.
type JobStoreOptions struct {
	// Notifier receives every change. A default notifier is created when nil.
	Notifier job.Notifier
}

type entry struct {
	job  atomic.Pointer[model.DocumentJob]
	done chan struct{}
}

// JobStore keeps jobs in memory keyed by id.
//
// The index lock only guards membership. Replacing a job's snapshot swaps an
// atomic pointer under the read lock, so writers of different jobs never
// contend and readers never see a half-applied update. Removed ids are
// remembered so a late write cannot bring a job back.
type JobStore struct {
	notifier job.Notifier

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	removed map[string]struct{}
}

var _ core.JobStore = (*JobStore)(nil)

// NewJobStore constructs an empty store.
func NewJobStore(opts JobStoreOptions) *JobStore {
	n := opts.Notifier
	if n == nil {
		n = job.NewNotifier(job.NotifierOptions{})
	}
	return &JobStore{
		notifier: n,
		entries:  make(map[string]*entry),
		removed:  make(map[string]struct{}),
	}
}

// Upsert inserts or replaces a job. The store keeps its own copy.
func (s *JobStore) Upsert(j *model.DocumentJob) error {
	if j == nil || j.ID == "" {
		return ErrJobIDRequired
	}
	snap := j.Clone()

	s.mu.RLock()
	if e, ok := s.entries[j.ID]; ok {
		e.job.Store(snap)
		s.publish(model.JobEventUpserted, snap)
		s.mu.RUnlock()
		return nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, gone := s.removed[j.ID]; gone {
		return fmt.Errorf("upsert %s: %w", j.ID, ErrJobRemoved)
	}
	e, ok := s.entries[j.ID]
	if !ok {
		e = &entry{done: make(chan struct{})}
		s.entries[j.ID] = e
		s.order = append(s.order, j.ID)
	}
	e.job.Store(snap)
	s.publish(model.JobEventUpserted, snap)
	return nil
}

// Update applies fn to a copy of the current job and stores it when fn
// reports a change. Callers must be the job's only writer.
func (s *JobStore) Update(id string, fn func(*model.DocumentJob) bool) (*model.DocumentJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	next := e.job.Load().Clone()
	if !fn(next) {
		return e.job.Load(), nil
	}
	e.job.Store(next)
	s.publish(model.JobEventUpserted, next)
	return next, nil
}

// Get returns the current snapshot of a job. The snapshot must not be mutated.
func (s *JobStore) Get(id string) (*model.DocumentJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.job.Load(), nil
}

// List returns snapshots of all jobs in insertion order.
func (s *JobStore) List() []*model.DocumentJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.DocumentJob, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id].job.Load())
	}
	return out
}

// Remove deletes a job and signals its Done channel.
func (s *JobStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return false
	}
	delete(s.entries, id)
	s.removed[id] = struct{}{}
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	close(e.done)
	s.notifier.Publish(model.JobEvent{Kind: model.JobEventRemoved, JobID: id})
	return true
}

// Done returns a channel closed when the job is removed.
func (s *JobStore) Done(id string) (<-chan struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.done, nil
}

// Subscribe registers for change events.
func (s *JobStore) Subscribe() (func(), <-chan model.JobEvent) {
	return s.notifier.Subscribe()
}

// Len returns the number of live jobs.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// lookup requires s.mu to be held.
func (s *JobStore) lookup(id string) (*entry, error) {
	if e, ok := s.entries[id]; ok {
		return e, nil
	}
	if _, gone := s.removed[id]; gone {
		return nil, fmt.Errorf("job %s: %w", id, ErrJobRemoved)
	}
	return nil, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
}

// publish requires s.mu to be held so a job's events stay ordered with its
// removal.
func (s *JobStore) publish(kind model.JobEventKind, j *model.DocumentJob) {
	s.notifier.Publish(model.JobEvent{Kind: kind, JobID: j.ID, Job: j})
}

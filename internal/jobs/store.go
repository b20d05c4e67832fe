package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MimeLyc/image-captioner/pkg/log"
)

var (
	ErrDuplicateFilename = errors.New("filename already known")
	ErrNotFound          = errors.New("job not found")
	ErrAlreadyTerminal   = errors.New("job already in a terminal state")
)

// InterruptedError is recorded on jobs that were still processing when
// the previous process stopped.
const InterruptedError = "interrupted before completion"

// Persister mirrors job records to durable storage.
type Persister interface {
	LoadJobs(ctx context.Context) ([]*Job, error)
	UpsertJob(ctx context.Context, job *Job) error
}

// Store owns every job record and the filename index. Callers only ever
// see copies.
type Store struct {
	persist Persister

	mu         sync.RWMutex
	jobs       map[string]*Job
	byFilename map[string]string // filename -> job id, "" while reserved
}

func NewStore(persist Persister) *Store {
	s := &Store{
		persist:    persist,
		jobs:       make(map[string]*Job),
		byFilename: make(map[string]string),
	}
	s.hydrate(context.Background())
	return s
}

// Reserve claims filename for an upload in flight. It fails if any job or
// reservation already holds the name.
func (s *Store) Reserve(filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byFilename[filename]; ok {
		return ErrDuplicateFilename
	}
	s.byFilename[filename] = ""
	return nil
}

// Release drops a reservation that never became a job.
func (s *Store) Release(filename string) {
	s.mu.Lock()
	if id, ok := s.byFilename[filename]; ok && id == "" {
		delete(s.byFilename, filename)
	}
	s.mu.Unlock()
}

// Known reports whether filename is reserved or owned by a job.
func (s *Store) Known(filename string) bool {
	s.mu.RLock()
	_, ok := s.byFilename[filename]
	s.mu.RUnlock()
	return ok
}

// Create inserts a processing job for filename, consuming a reservation if
// one is held.
func (s *Store) Create(id, filename string) (*Job, error) {
	now := time.Now()

	s.mu.Lock()
	if owner, ok := s.byFilename[filename]; ok && owner != "" {
		s.mu.Unlock()
		return nil, ErrDuplicateFilename
	}
	if _, ok := s.jobs[id]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("job id %s already exists", id)
	}
	job := &Job{
		ID:        id,
		Filename:  filename,
		Status:    StatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs[id] = job
	s.byFilename[filename] = id
	snapshot := cloneJob(job)
	s.mu.Unlock()

	s.persistJob(snapshot)
	return snapshot, nil
}

func (s *Store) Get(id string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	return cloneJob(job), true
}

// StatusOf returns the status tracked for filename. Reserved names report
// processing.
func (s *Store) StatusOf(filename string) (Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byFilename[filename]
	if !ok {
		return "", false
	}
	if id == "" {
		return StatusProcessing, true
	}
	return s.jobs[id].Status, true
}

// List returns every job ordered by creation time.
func (s *Store) List() []*Job {
	s.mu.RLock()
	ret := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		ret = append(ret, cloneJob(job))
	}
	s.mu.RUnlock()

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].CreatedAt.Before(ret[j].CreatedAt)
	})
	return ret
}

// ProcessingSince returns jobs still processing that were created before cutoff.
func (s *Store) ProcessingSince(cutoff time.Time) []*Job {
	s.mu.RLock()
	ret := make([]*Job, 0)
	for _, job := range s.jobs {
		if job.Status == StatusProcessing && job.CreatedAt.Before(cutoff) {
			ret = append(ret, cloneJob(job))
		}
	}
	s.mu.RUnlock()

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].CreatedAt.Before(ret[j].CreatedAt)
	})
	return ret
}

// Complete commits a processed result. Status and result change together.
func (s *Store) Complete(id string, result Result) (*Job, error) {
	return s.commit(id, func(job *Job) {
		res := result
		job.Status = StatusProcessed
		job.Result = &res
		job.Error = ""
	})
}

// Fail commits a failed state with msg as the error.
func (s *Store) Fail(id string, msg string) (*Job, error) {
	return s.commit(id, func(job *Job) {
		job.Status = StatusFailed
		job.Result = nil
		job.Error = msg
	})
}

func (s *Store) commit(id string, apply func(job *Job)) (*Job, error) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if job.Status.Terminal() {
		s.mu.Unlock()
		return nil, ErrAlreadyTerminal
	}
	apply(job)
	job.UpdatedAt = time.Now()
	snapshot := cloneJob(job)
	s.mu.Unlock()

	s.persistJob(snapshot)
	return snapshot, nil
}

func (s *Store) hydrate(ctx context.Context) {
	if s.persist == nil {
		return
	}
	loaded, err := s.persist.LoadJobs(ctx)
	if err != nil {
		log.Error("Failed to load jobs from store: %v", err)
		return
	}

	now := time.Now()
	toPersist := make([]*Job, 0)
	s.mu.Lock()
	for _, raw := range loaded {
		if raw == nil || raw.ID == "" {
			continue
		}
		job := cloneJob(raw)
		if job.Status == StatusProcessing {
			job.Status = StatusFailed
			job.Result = nil
			job.Error = InterruptedError
			job.UpdatedAt = now
			toPersist = append(toPersist, cloneJob(job))
		}
		s.jobs[job.ID] = job
		s.byFilename[job.Filename] = job.ID
	}
	s.mu.Unlock()

	for _, job := range toPersist {
		s.persistJob(job)
	}
	if len(loaded) > 0 {
		log.Info("Restored %d jobs from store, %d marked interrupted", len(loaded), len(toPersist))
	}
}

func (s *Store) persistJob(job *Job) {
	if s.persist == nil || job == nil {
		return
	}
	if err := s.persist.UpsertJob(context.Background(), job); err != nil {
		log.Error("Failed to persist job %s: %v", job.ID, err)
	}
}

package transport

import (
	"context"
	"sync"
	"time"

	"go-image-upscaler/internal/logger"
	"go-image-upscaler/pkg/models"
)

// JobStore buffers the messages of session-less jobs so clients can poll for them.
// It implements worker.Emitter and keys messages by their job id.
type JobStore struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	jobs map[string]*jobRecord
}

type jobRecord struct {
	messages []models.WorkerMessage
	done     bool
	updated  time.Time
}

// NewJobStore creates a store that forgets jobs ttl after their last message
func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		ttl:  ttl,
		now:  time.Now,
		jobs: make(map[string]*jobRecord),
	}
}

// Track registers a job before its first message arrives. It returns false when the id
// is already known, so two jobs never share one record.
func (s *JobStore) Track(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; ok {
		return false
	}
	s.recordLocked(jobID)
	return true
}

func (s *JobStore) recordLocked(jobID string) *jobRecord {
	rec, ok := s.jobs[jobID]
	if !ok {
		rec = &jobRecord{updated: s.now()}
		s.jobs[jobID] = rec
	}
	return rec
}

// Emit appends msg to its job
func (s *JobStore) Emit(msg models.WorkerMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.recordLocked(msg.JobID)
	rec.messages = append(rec.messages, msg)
	rec.updated = s.now()
	if msg.Terminal() {
		rec.done = true
	}
}

// Get returns a copy of the job's messages
func (s *JobStore) Get(jobID string) (models.JobStatusResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return models.JobStatusResponse{}, false
	}
	messages := make([]models.WorkerMessage, len(rec.messages))
	copy(messages, rec.messages)
	return models.JobStatusResponse{JobID: jobID, Done: rec.done, Messages: messages}, true
}

// Evict drops finished jobs whose last message is older than the ttl
func (s *JobStore) Evict() int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, rec := range s.jobs {
		if rec.done && rec.updated.Before(cutoff) {
			delete(s.jobs, id)
			evicted++
		}
	}
	if evicted > 0 {
		logger.WithField("evicted", evicted).Debug("Evicted finished jobs")
	}
	return evicted
}

// Run evicts finished jobs periodically until ctx is done
func (s *JobStore) Run(ctx context.Context) {
	if s.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Evict()
		}
	}
}

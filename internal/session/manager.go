package session

import (
	"context"
	"sync"
	"time"

	apperrors "go-image-upscaler/internal/errors"
	"go-image-upscaler/internal/logger"
	"go-image-upscaler/internal/storage"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Manager creates, looks up and expires sessions
type Manager struct {
	submitter    Submitter
	images       storage.ImageFetcher
	maxSelection float64
	ttl          time.Duration
	now          func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager. A zero ttl disables expiry.
func NewManager(submitter Submitter, images storage.ImageFetcher, maxSelection float64, ttl time.Duration) *Manager {
	return &Manager{
		submitter:    submitter,
		images:       images,
		maxSelection: maxSelection,
		ttl:          ttl,
		now:          time.Now,
		sessions:     make(map[string]*Session),
	}
}

// Create starts an empty session
func (m *Manager) Create() *Session {
	s := newSession(uuid.NewString(), m.maxSelection, m.submitter, m.images)

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	logger.WithField("session_id", s.id).Debug("Session created")
	return s
}

// Get returns the session with id
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewNotFoundError("session not found", nil)
	}
	return s, nil
}

// Delete removes the session with id and closes its subscriptions
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return apperrors.NewNotFoundError("session not found", nil)
	}
	s.close()
	return nil
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Evict removes sessions idle for longer than the ttl. Sessions with a job in flight are kept.
func (m *Manager) Evict() int {
	if m.ttl <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.ttl)

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.IsProcessing() || s.LastActive().After(cutoff) {
			continue
		}
		expired = append(expired, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.close()
	}
	if len(expired) > 0 {
		logger.WithFields(logrus.Fields{
			"evicted":   len(expired),
			"remaining": m.Len(),
		}).Info("Evicted idle sessions")
	}
	return len(expired)
}

// Run evicts idle sessions periodically until ctx is done
func (m *Manager) Run(ctx context.Context) {
	if m.ttl <= 0 {
		return
	}
	interval := m.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Evict()
		}
	}
}

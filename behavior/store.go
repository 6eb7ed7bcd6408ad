package behavior

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrProfileNotFound is returned when a user has no recorded interactions.
var ErrProfileNotFound = errors.New("behavior profile not found")

// Exponential moving average weights for profile updates. Tunable, not
// load-bearing.
const (
	responseTimeAlpha = 0.2
	engagementAlpha   = 0.1
)

// Profile is a rolling summary of one user's interaction behavior.
type Profile struct {
	UserID          string    `json:"user_id"`
	AvgResponseMs   float64   `json:"avg_response_ms"`
	EngagementScore float64   `json:"engagement_score"`
	Interactions    int64     `json:"interactions"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Store provides read/update access to user behavior profiles.
type Store interface {
	// Get returns the profile for a user, or ErrProfileNotFound.
	Get(ctx context.Context, userID string) (*Profile, error)
	// RecordInteraction folds one observed interaction into the profile.
	RecordInteraction(ctx context.Context, userID string, responseTime time.Duration, engaged bool) error
	// Close releases store resources.
	Close() error
}

// update folds one interaction into a profile using exponential moving
// averages so old behavior decays instead of dominating.
func (p *Profile) update(responseTime time.Duration, engaged bool) {
	ms := float64(responseTime.Milliseconds())
	target := 0.0
	if engaged {
		target = 1.0
	}

	if p.Interactions == 0 {
		p.AvgResponseMs = ms
		p.EngagementScore = target
	} else {
		p.AvgResponseMs = p.AvgResponseMs*(1-responseTimeAlpha) + ms*responseTimeAlpha
		p.EngagementScore = p.EngagementScore*(1-engagementAlpha) + target*engagementAlpha
	}
	p.Interactions++
	p.UpdatedAt = time.Now()
}

// MemoryStore keeps profiles in process memory. It is the default store and
// sufficient for a single-process deployment.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewMemoryStore creates an empty in-memory profile store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*Profile)}
}

// Get returns a copy of the user's profile.
func (s *MemoryStore) Get(_ context.Context, userID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

// RecordInteraction folds one interaction into the user's profile.
func (s *MemoryStore) RecordInteraction(_ context.Context, userID string, responseTime time.Duration, engaged bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		p = &Profile{UserID: userID}
		s.profiles[userID] = p
	}
	p.update(responseTime, engaged)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

package state

import (
	"sync"
	"time"
)

// SessionTracker remembers each user's last activity and answers
// whether their session is still inside the idle TTL. It never deletes
// on its own; the governor and the sweeper decide when expiry has
// consequences.
type SessionTracker struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	last map[string]time.Time
}

func NewSessionTracker(ttl time.Duration) *SessionTracker {
	return &SessionTracker{
		ttl:  ttl,
		now:  time.Now,
		last: make(map[string]time.Time),
	}
}

// SetNow injects a clock for tests.
func (s *SessionTracker) SetNow(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = fn
}

// Touch records now as the user's last activity, creating the record
// if absent.
func (s *SessionTracker) Touch(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[userID] = s.now()
}

// IsActive reports whether the user has a session record touched less
// than the TTL ago. No record means not active.
func (s *SessionTracker) IsActive(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.last[userID]
	if !ok {
		return false
	}
	return s.now().Sub(last) < s.ttl
}

func (s *SessionTracker) Delete(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.last, userID)
}

// ExpiredUsers returns the users whose idle time has reached the TTL.
func (s *SessionTracker) ExpiredUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var expired []string
	for userID, last := range s.last {
		if now.Sub(last) >= s.ttl {
			expired = append(expired, userID)
		}
	}
	return expired
}

// ActiveCount is the number of session records inside the TTL.
func (s *SessionTracker) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	count := 0
	for _, last := range s.last {
		if now.Sub(last) < s.ttl {
			count++
		}
	}
	return count
}

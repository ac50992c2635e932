// Package state holds the in-memory per-user records the governor
// works on: transcripts, daily quotas, session activity, and the
// registered-user population. Each holder owns its own lock; the
// governor owns all mutation, the admin endpoints only read.
package state

import "sync"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"content"`
}

// HistoryCap is the number of user/assistant entries retained after
// the persona preamble: ten exchange pairs.
const HistoryCap = 20

type ConversationStore struct {
	mu          sync.Mutex
	transcripts map[string][]Turn
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{transcripts: make(map[string][]Turn)}
}

// Ensure creates the user's transcript seeded with the persona
// preamble if it does not exist yet. Reports whether it was created.
func (c *ConversationStore) Ensure(userID, preamble string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.transcripts[userID]; ok {
		return false
	}
	c.transcripts[userID] = []Turn{{Role: RoleSystem, Text: preamble}}
	return true
}

func (c *ConversationStore) Exists(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.transcripts[userID]
	return ok
}

// History returns a copy of the user's transcript, nil if none.
func (c *ConversationStore) History(userID string) []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	turns, ok := c.transcripts[userID]
	if !ok {
		return nil
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Append adds turns to an existing transcript, then trims to the
// preamble plus the most recent HistoryCap entries. The preamble at
// index 0 is never evicted. Appending to a missing transcript is a
// no-op; callers Ensure first.
func (c *ConversationStore) Append(userID string, turns ...Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok := c.transcripts[userID]
	if !ok {
		return
	}
	existing = append(existing, turns...)
	if len(existing) > 1+HistoryCap {
		trimmed := make([]Turn, 0, 1+HistoryCap)
		trimmed = append(trimmed, existing[0])
		trimmed = append(trimmed, existing[len(existing)-HistoryCap:]...)
		existing = trimmed
	}
	c.transcripts[userID] = existing
}

func (c *ConversationStore) Len(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.transcripts[userID])
}

func (c *ConversationStore) Delete(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.transcripts, userID)
}

func (c *ConversationStore) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.transcripts)
}

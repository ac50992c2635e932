package state

import (
	"sync"
	"time"

	"github.com/ai-counseling/ai-counselor-line-bot/internal/clock"
)

// UsageRecord is one user's turn count for one JST calendar day.
type UsageRecord struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// QuotaTracker counts admitted turns per user per day. Day rollover is
// lazy: a stored record from a previous day is treated as absent the
// next time it is read, no reset job needed.
type QuotaTracker struct {
	mu      sync.Mutex
	limit   int
	now     func() time.Time
	records map[string]UsageRecord
}

func NewQuotaTracker(limit int) *QuotaTracker {
	return &QuotaTracker{
		limit:   limit,
		now:     time.Now,
		records: make(map[string]UsageRecord),
	}
}

// SetNow injects a clock for tests.
func (q *QuotaTracker) SetNow(fn func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = fn
}

func (q *QuotaTracker) countToday(userID string) int {
	rec, ok := q.records[userID]
	if !ok || rec.Day != clock.DayKey(q.now()) {
		return 0
	}
	return rec.Count
}

// IsAdmitted reports whether the user still has quota today.
func (q *QuotaTracker) IsAdmitted(userID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.countToday(userID) < q.limit
}

// RecordTurn charges one turn against today's count. Callers gate with
// IsAdmitted first; RecordTurn itself never refuses.
func (q *QuotaTracker) RecordTurn(userID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records[userID] = UsageRecord{
		Day:   clock.DayKey(q.now()),
		Count: q.countToday(userID) + 1,
	}
}

// Remaining returns the turns left today, clamped at zero.
func (q *QuotaTracker) Remaining(userID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	remaining := q.limit - q.countToday(userID)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (q *QuotaTracker) Limit() int {
	return q.limit
}

// PruneStale drops records from previous days. Purely housekeeping;
// correctness only needs the lazy rollover in countToday.
func (q *QuotaTracker) PruneStale() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	today := clock.DayKey(q.now())
	pruned := 0
	for userID, rec := range q.records {
		if rec.Day != today {
			delete(q.records, userID)
			pruned++
		}
	}
	return pruned
}

func (q *QuotaTracker) Export() map[string]UsageRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]UsageRecord, len(q.records))
	for userID, rec := range q.records {
		out[userID] = rec
	}
	return out
}

func (q *QuotaTracker) Import(records map[string]UsageRecord) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records = make(map[string]UsageRecord, len(records))
	for userID, rec := range records {
		q.records[userID] = rec
	}
}

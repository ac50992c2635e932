package experiment

import (
	"sync"
	"time"

	"github.com/ai-counseling/ai-counselor-line-bot/internal/clock"
)

type Bucket string

const (
	BucketA Bucket = "A"
	BucketB Bucket = "B"
)

type Metric string

const (
	MetricTotalTurns      Metric = "totalTurns"
	MetricSessionsStarted Metric = "sessionsStarted"
	MetricRitualUsed      Metric = "ritualUsed"
)

type Metrics struct {
	TotalTurns      int `json:"totalTurns"`
	SessionsStarted int `json:"sessionsStarted"`
	RitualUsed      int `json:"ritualUsed"`
}

// Assignment is a user's permanent experiment arm plus their
// monotonically increasing counters. The bucket never changes after
// first assignment, even if the experiment is later disabled.
type Assignment struct {
	UserID       string    `json:"userId"`
	Bucket       Bucket    `json:"bucket"`
	JoinDay      string    `json:"joinDay"`
	Metrics      Metrics   `json:"metrics"`
	LastRitualAt time.Time `json:"lastRitualAt,omitzero"`
}

type daySlice struct {
	users map[string]struct{}
	turns int
}

type dayAggregate struct {
	a daySlice
	b daySlice
}

// DayStats is a read-only view of one day's per-bucket aggregates.
type DayStats struct {
	Day    string `json:"day"`
	AUsers int    `json:"aUsers"`
	ATurns int    `json:"aTurns"`
	BUsers int    `json:"bUsers"`
	BTurns int    `json:"bTurns"`
}

type Registry struct {
	mu          sync.Mutex
	enabled     bool
	splitRatio  int
	now         func() time.Time
	assignments map[string]*Assignment
	daily       map[string]*dayAggregate
}

func NewRegistry(enabled bool, splitRatio int) *Registry {
	return &Registry{
		enabled:     enabled,
		splitRatio:  splitRatio,
		now:         time.Now,
		assignments: make(map[string]*Assignment),
		daily:       make(map[string]*dayAggregate),
	}
}

// SetNow injects a clock for tests.
func (r *Registry) SetNow(fn func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = fn
}

// Assign returns the user's bucket, creating the assignment record on
// first call. An existing record is always returned as-is: toggling
// the enabled flag only affects users assigned after the toggle.
func (r *Registry) Assign(userID string) Bucket {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.assignments[userID]; ok {
		return a.Bucket
	}

	bucket := BucketA
	if r.enabled {
		bucket = BucketFor(userID, r.splitRatio)
	}
	r.assignments[userID] = &Assignment{
		UserID:  userID,
		Bucket:  bucket,
		JoinDay: clock.DayKey(r.now()),
	}
	return bucket
}

// AssignmentOf returns a copy of the user's record, if any.
func (r *Registry) AssignmentOf(userID string) (Assignment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assignments[userID]
	if !ok {
		return Assignment{}, false
	}
	return *a, true
}

// RecordMetric increments the named counter by n. Users without an
// assignment record are ignored; assignment always precedes metric
// recording on the serve path. TotalTurns additionally feeds the
// per-day bucket aggregates.
func (r *Registry) RecordMetric(userID string, metric Metric, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.assignments[userID]
	if !ok {
		return
	}

	switch metric {
	case MetricTotalTurns:
		a.Metrics.TotalTurns += n
		r.recordDailyTurn(userID, a.Bucket, n)
	case MetricSessionsStarted:
		a.Metrics.SessionsStarted += n
	case MetricRitualUsed:
		a.Metrics.RitualUsed += n
	}
}

func (r *Registry) recordDailyTurn(userID string, bucket Bucket, n int) {
	day := clock.DayKey(r.now())
	agg, ok := r.daily[day]
	if !ok {
		agg = &dayAggregate{
			a: daySlice{users: make(map[string]struct{})},
			b: daySlice{users: make(map[string]struct{})},
		}
		r.daily[day] = agg
	}
	slice := &agg.a
	if bucket == BucketB {
		slice = &agg.b
	}
	slice.users[userID] = struct{}{}
	slice.turns += n
}

// MarkRitual stamps the time of the user's latest completed ritual
// trigger.
func (r *Registry) MarkRitual(userID string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.assignments[userID]; ok {
		a.LastRitualAt = t
	}
}

// LastRitual reports when the user last ran the ritual.
func (r *Registry) LastRitual(userID string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assignments[userID]
	if !ok || a.LastRitualAt.IsZero() {
		return time.Time{}, false
	}
	return a.LastRitualAt, true
}

func (r *Registry) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

func (r *Registry) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// PruneDailyBefore drops aggregate entries for days before cutoffDay
// (lexicographic comparison works on YYYY-MM-DD keys).
func (r *Registry) PruneDailyBefore(cutoffDay string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	pruned := 0
	for day := range r.daily {
		if day < cutoffDay {
			delete(r.daily, day)
			pruned++
		}
	}
	return pruned
}

// StatsFor returns the aggregate view for one day.
func (r *Registry) StatsFor(day string) DayStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := DayStats{Day: day}
	if agg, ok := r.daily[day]; ok {
		stats.AUsers = len(agg.a.users)
		stats.ATurns = agg.a.turns
		stats.BUsers = len(agg.b.users)
		stats.BTurns = agg.b.turns
	}
	return stats
}

// TotalUsers is the number of users ever assigned.
func (r *Registry) TotalUsers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.assignments)
}

// TotalTurns sums TotalTurns across all assignments.
func (r *Registry) TotalTurns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, a := range r.assignments {
		total += a.Metrics.TotalTurns
	}
	return total
}

// ExportedDay is the serializable form of one day's aggregates.
type ExportedDay struct {
	AUsers []string `json:"aUsers"`
	ATurns int      `json:"aTurns"`
	BUsers []string `json:"bUsers"`
	BTurns int      `json:"bTurns"`
}

// ExportedState is the snapshot form of the registry.
type ExportedState struct {
	Enabled     bool                   `json:"enabled"`
	Assignments []Assignment           `json:"assignments"`
	Daily       map[string]ExportedDay `json:"daily"`
}

func (r *Registry) Export() ExportedState {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := ExportedState{
		Enabled: r.enabled,
		Daily:   make(map[string]ExportedDay, len(r.daily)),
	}
	for _, a := range r.assignments {
		state.Assignments = append(state.Assignments, *a)
	}
	for day, agg := range r.daily {
		exp := ExportedDay{ATurns: agg.a.turns, BTurns: agg.b.turns}
		for u := range agg.a.users {
			exp.AUsers = append(exp.AUsers, u)
		}
		for u := range agg.b.users {
			exp.BUsers = append(exp.BUsers, u)
		}
		state.Daily[day] = exp
	}
	return state
}

// Import replaces the registry contents with a previously exported
// snapshot. The configured enabled flag wins over the snapshot's so a
// config change survives restore.
func (r *Registry) Import(state ExportedState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.assignments = make(map[string]*Assignment, len(state.Assignments))
	for _, a := range state.Assignments {
		copied := a
		r.assignments[a.UserID] = &copied
	}
	r.daily = make(map[string]*dayAggregate, len(state.Daily))
	for day, exp := range state.Daily {
		agg := &dayAggregate{
			a: daySlice{users: make(map[string]struct{}), turns: exp.ATurns},
			b: daySlice{users: make(map[string]struct{}), turns: exp.BTurns},
		}
		for _, u := range exp.AUsers {
			agg.a.users[u] = struct{}{}
		}
		for _, u := range exp.BUsers {
			agg.b.users[u] = struct{}{}
		}
		r.daily[day] = agg
	}
}

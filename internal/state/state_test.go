package state

import (
	"fmt"
	"testing"
	"time"
)

const preamble = "あなたは「斎藤修」というベテランメンターです。"

func TestConversation_EnsureSeedsPreamble(t *testing.T) {
	c := NewConversationStore()
	if !c.Ensure("u1", preamble) {
		t.Fatal("first Ensure should create")
	}
	if c.Ensure("u1", "other") {
		t.Error("second Ensure should not recreate")
	}

	h := c.History("u1")
	if len(h) != 1 {
		t.Fatalf("len = %d, want 1", len(h))
	}
	if h[0].Role != RoleSystem || h[0].Text != preamble {
		t.Errorf("element 0 = %+v, want system preamble", h[0])
	}
}

func TestConversation_TrimKeepsPreamble(t *testing.T) {
	c := NewConversationStore()
	c.Ensure("u1", preamble)

	for i := 0; i < 30; i++ {
		c.Append("u1",
			Turn{Role: RoleUser, Text: fmt.Sprintf("user %d", i)},
			Turn{Role: RoleAssistant, Text: fmt.Sprintf("assistant %d", i)},
		)
	}

	h := c.History("u1")
	if len(h) != 1+HistoryCap {
		t.Fatalf("len = %d, want %d", len(h), 1+HistoryCap)
	}
	if h[0].Role != RoleSystem || h[0].Text != preamble {
		t.Errorf("element 0 = %+v, want original preamble", h[0])
	}
	if h[len(h)-1].Text != "assistant 29" {
		t.Errorf("last turn = %q, want assistant 29", h[len(h)-1].Text)
	}
	if h[1].Text != "user 20" {
		t.Errorf("oldest retained turn = %q, want user 20", h[1].Text)
	}
}

func TestConversation_AppendWithoutEnsure(t *testing.T) {
	c := NewConversationStore()
	c.Append("ghost", Turn{Role: RoleUser, Text: "hi"})
	if c.Exists("ghost") {
		t.Error("Append must not create a transcript")
	}
}

func TestConversation_Delete(t *testing.T) {
	c := NewConversationStore()
	c.Ensure("u1", preamble)
	c.Delete("u1")
	if c.Exists("u1") {
		t.Error("transcript should be gone")
	}
	if c.History("u1") != nil {
		t.Error("history of deleted transcript should be nil")
	}
}

func TestQuota_FirstMessageNeverBlocked(t *testing.T) {
	q := NewQuotaTracker(10)
	if !q.IsAdmitted("u1") {
		t.Error("fresh user must be admitted")
	}
	if q.Remaining("u1") != 10 {
		t.Errorf("remaining = %d, want 10", q.Remaining("u1"))
	}
}

func TestQuota_LimitAndClamp(t *testing.T) {
	q := NewQuotaTracker(10)
	for i := 0; i < 10; i++ {
		if !q.IsAdmitted("u1") {
			t.Fatalf("turn %d should be admitted", i+1)
		}
		q.RecordTurn("u1")
	}
	if q.IsAdmitted("u1") {
		t.Error("11th turn should be refused")
	}
	if q.Remaining("u1") != 0 {
		t.Errorf("remaining = %d, want 0", q.Remaining("u1"))
	}

	// Callers gate with IsAdmitted; an extra RecordTurn still clamps.
	q.RecordTurn("u1")
	if q.Remaining("u1") != 0 {
		t.Errorf("remaining = %d, want 0 after overshoot", q.Remaining("u1"))
	}
}

func TestQuota_LazyDayRollover(t *testing.T) {
	q := NewQuotaTracker(10)
	day1 := time.Date(2025, 9, 20, 10, 0, 0, 0, time.UTC)
	q.SetNow(func() time.Time { return day1 })

	for i := 0; i < 10; i++ {
		q.RecordTurn("u1")
	}
	if q.IsAdmitted("u1") {
		t.Fatal("quota should be exhausted on day 1")
	}

	// JST day flips at 15:00 UTC; no explicit reset call.
	day2 := time.Date(2025, 9, 20, 15, 0, 1, 0, time.UTC)
	q.SetNow(func() time.Time { return day2 })

	if !q.IsAdmitted("u1") {
		t.Error("new JST day should admit again")
	}
	if q.Remaining("u1") != 10 {
		t.Errorf("remaining = %d, want full quota", q.Remaining("u1"))
	}
}

func TestQuota_PruneStale(t *testing.T) {
	q := NewQuotaTracker(10)
	day1 := time.Date(2025, 9, 20, 10, 0, 0, 0, time.UTC)
	q.SetNow(func() time.Time { return day1 })
	q.RecordTurn("u1")
	q.RecordTurn("u2")

	q.SetNow(func() time.Time { return day1.Add(24 * time.Hour) })
	q.RecordTurn("u2")

	if pruned := q.PruneStale(); pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}
	if q.Remaining("u2") != 9 {
		t.Errorf("u2 remaining = %d, want 9", q.Remaining("u2"))
	}
}

func TestSession_TTLBoundary(t *testing.T) {
	s := NewSessionTracker(30 * time.Minute)
	t0 := time.Date(2025, 9, 20, 10, 0, 0, 0, time.UTC)
	now := t0
	s.SetNow(func() time.Time { return now })

	if s.IsActive("u1") {
		t.Error("no record: should be inactive")
	}

	s.Touch("u1")
	now = t0.Add(30*time.Minute - time.Millisecond)
	if !s.IsActive("u1") {
		t.Error("TTL-1ms: should be active")
	}

	now = t0.Add(30*time.Minute + time.Millisecond)
	if s.IsActive("u1") {
		t.Error("TTL+1ms: should be inactive")
	}

	// Touch refreshes.
	s.Touch("u1")
	now = now.Add(time.Minute)
	if !s.IsActive("u1") {
		t.Error("refreshed session should be active")
	}
}

func TestSession_ExpiredUsers(t *testing.T) {
	s := NewSessionTracker(30 * time.Minute)
	t0 := time.Date(2025, 9, 20, 10, 0, 0, 0, time.UTC)
	now := t0
	s.SetNow(func() time.Time { return now })

	s.Touch("old")
	now = t0.Add(20 * time.Minute)
	s.Touch("fresh")
	now = t0.Add(31 * time.Minute)

	expired := s.ExpiredUsers()
	if len(expired) != 1 || expired[0] != "old" {
		t.Errorf("expired = %v, want [old]", expired)
	}
	if s.ActiveCount() != 1 {
		t.Errorf("active count = %d, want 1", s.ActiveCount())
	}
}

func TestPopulation_Cap(t *testing.T) {
	p := NewPopulation(100)
	for i := 0; i < 100; i++ {
		if !p.TryAdmit(fmt.Sprintf("user-%03d", i)) {
			t.Fatalf("user %d refused below cap", i)
		}
	}
	if p.TryAdmit("user-new") {
		t.Error("101st distinct user should be refused")
	}
	if p.Size() != 100 {
		t.Errorf("size = %d, want 100", p.Size())
	}
	// Existing members re-admit regardless of the full set.
	if !p.TryAdmit("user-000") {
		t.Error("existing member should re-admit")
	}
	if p.Contains("user-new") {
		t.Error("refused user must leave no trace")
	}
}

func TestPopulation_ExportImport(t *testing.T) {
	p := NewPopulation(100)
	p.TryAdmit("a")
	p.TryAdmit("b")

	restored := NewPopulation(100)
	restored.Import(p.Export())
	if restored.Size() != 2 || !restored.Contains("a") || !restored.Contains("b") {
		t.Errorf("restored population size=%d", restored.Size())
	}
}

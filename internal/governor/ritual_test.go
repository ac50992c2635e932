package governor

import (
	"strings"
	"testing"
	"time"
)

func TestRitual_BucketB(t *testing.T) {
	f := newFixture(t)
	f.handle(t, userB, "はじめまして")

	first := f.handle(t, userB, "お焚き上げをお願いします")

	if first.Text != ritualScript[0] {
		t.Errorf("immediate reply = %q, want ritual step 1", first.Text)
	}
	if first.ReplyToken == "" {
		t.Error("step 1 must use the reply token")
	}
	if f.completer.callCount() != 0 {
		t.Error("the ritual path must not call the completion API")
	}
	// Quota is charged before the trigger check.
	if got := f.deps.Quotas.Remaining(userB); got != 8 {
		t.Errorf("remaining = %d, want 8", got)
	}

	second := f.waitOutbound(t)
	if second.Text != ritualScript[1] || second.ReplyToken != "" {
		t.Errorf("step 2 = %+v, want push of script line 2", second)
	}
	third := f.waitOutbound(t)
	if third.Text != ritualScript[2] || third.ReplyToken != "" {
		t.Errorf("step 3 = %+v, want push of script line 3", third)
	}

	deadline := time.After(2 * time.Second)
	for f.deps.Conversations.Exists(userB) {
		select {
		case <-deadline:
			t.Fatal("transcript should be cleared after the final delay")
		case <-time.After(5 * time.Millisecond):
		}
	}

	a, _ := f.deps.Experiments.AssignmentOf(userB)
	if a.Metrics.RitualUsed != 1 {
		t.Errorf("ritualUsed = %d, want 1", a.Metrics.RitualUsed)
	}
	if _, ok := f.deps.Experiments.LastRitual(userB); !ok {
		t.Error("last ritual instant should be stamped")
	}
}

func TestRitual_ResetKeywordAlsoTriggers(t *testing.T) {
	f := newFixture(t)
	f.handle(t, userB, "はじめまして")

	msg := f.handle(t, userB, "リセットしたいです")
	if msg.Text != ritualScript[0] {
		t.Errorf("reply = %q, want ritual step 1", msg.Text)
	}
	f.waitOutbound(t)
	f.waitOutbound(t)
}

func TestRitual_BucketAFallsThrough(t *testing.T) {
	f := newFixture(t)
	f.handle(t, userA, "はじめまして")

	msg := f.handle(t, userA, "お焚き上げをお願いします")

	if msg.Text == ritualScript[0] {
		t.Error("bucket A must not get the ritual")
	}
	if f.completer.callCount() != 1 {
		t.Errorf("completion calls = %d, want 1: the phrase is ordinary text for A", f.completer.callCount())
	}
	if !f.deps.Conversations.Exists(userA) {
		t.Error("bucket A transcript must survive")
	}
}

func TestRitualSuggestion(t *testing.T) {
	f := newFixture(t)
	f.handle(t, userB, "はじめまして")
	f.handle(t, userB, "少し話を聞いてください")
	f.handle(t, userB, "続きなのですが")
	// totalTurns is now 3; the next closure message qualifies.

	msg := f.handle(t, userB, "ありがとうございます、少し楽になった気がします")

	if !strings.HasSuffix(msg.Text, ritualSuggestion) {
		t.Errorf("reply should end with the ritual suggestion, got %q", msg.Text)
	}
}

func TestRitualSuggestion_NotForBucketA(t *testing.T) {
	f := newFixture(t)
	f.handle(t, userA, "はじめまして")
	f.handle(t, userA, "少し話を聞いてください")
	f.handle(t, userA, "続きなのですが")

	msg := f.handle(t, userA, "ありがとうございます、少し楽になった気がします")

	if strings.Contains(msg.Text, "お焚き上げ") {
		t.Errorf("bucket A must not be invited, got %q", msg.Text)
	}
}

func TestRitualSuggestion_NeedsClosureWord(t *testing.T) {
	f := newFixture(t)
	f.handle(t, userB, "はじめまして")
	f.handle(t, userB, "少し話を聞いてください")
	f.handle(t, userB, "続きなのですが")

	msg := f.handle(t, userB, "まだ悩みが尽きません")

	if strings.Contains(msg.Text, "お焚き上げ") {
		t.Errorf("no closure word, no invitation, got %q", msg.Text)
	}
}

func TestRitualSuggestion_CooldownAfterRecentRitual(t *testing.T) {
	f := newFixture(t)
	f.handle(t, userB, "はじめまして")
	f.handle(t, userB, "少し話を聞いてください")
	f.handle(t, userB, "続きなのですが")

	f.deps.Experiments.MarkRitual(userB, time.Now().Add(-10*time.Minute))
	msg := f.handle(t, userB, "ありがとうございます、楽になった気がします")
	if strings.Contains(msg.Text, "お焚き上げ") {
		t.Errorf("ritual 10 minutes ago: no invitation, got %q", msg.Text)
	}

	f.deps.Experiments.MarkRitual(userB, time.Now().Add(-2*time.Hour))
	msg = f.handle(t, userB, "本当にありがとうございます")
	if !strings.HasSuffix(msg.Text, ritualSuggestion) {
		t.Errorf("ritual 2 hours ago: invitation expected, got %q", msg.Text)
	}
}

func TestCancelRitual(t *testing.T) {
	f := newFixture(t)
	f.handle(t, userB, "はじめまして")

	f.handle(t, userB, "お焚き上げをお願いします")
	f.gov.CancelRitual(userB)

	// Steps 2 and 3 must not arrive once cancelled.
	select {
	case msg := <-f.bus.Outbound:
		t.Errorf("unexpected message after cancel: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
	if !f.deps.Conversations.Exists(userB) {
		t.Error("cancel should also stop the transcript deletion")
	}
}

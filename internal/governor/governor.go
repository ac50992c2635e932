// Package governor decides, for every inbound message, whether to
// serve it and how: population admission, session expiry, daily quota,
// experiment bucketing, the ritual side-conversation, and the
// completion call itself.
package governor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ai-counseling/ai-counselor-line-bot/internal/bus"
	"github.com/ai-counseling/ai-counselor-line-bot/internal/clock"
	"github.com/ai-counseling/ai-counselor-line-bot/internal/config"
	"github.com/ai-counseling/ai-counselor-line-bot/internal/experiment"
	"github.com/ai-counseling/ai-counselor-line-bot/internal/llm"
	"github.com/ai-counseling/ai-counselor-line-bot/internal/state"
)

const (
	MaxUsers         = 100
	DailyTurnLimit   = 10
	SessionTimeout   = 30 * time.Minute
	CleanupInterval  = 5 * time.Minute
	MetricsRetention = 7 // days of daily aggregates kept by the sweeper

	suggestionMinTurns = 3
	suggestionCooldown = time.Hour

	footerThreshold = 3 // remaining-turn footer appears at or below this
)

// RitualDelays staggers the scripted sequence. Steps are measured from
// the trigger message, not from each other.
type RitualDelays struct {
	Second time.Duration
	Third  time.Duration
	Clear  time.Duration
}

func DefaultRitualDelays() RitualDelays {
	return RitualDelays{
		Second: 3 * time.Second,
		Third:  6 * time.Second,
		Clear:  8 * time.Second,
	}
}

type Config struct {
	Agent        config.AgentConfig
	RitualDelays RitualDelays
}

// Deps are the state holders and collaborators the governor
// orchestrates. The governor is the only writer to the state holders.
type Deps struct {
	Conversations *state.ConversationStore
	Quotas        *state.QuotaTracker
	Sessions      *state.SessionTracker
	Population    *state.Population
	Experiments   *experiment.Registry
	Completer     llm.Completer
	Bus           *bus.MessageBus

	// DisplayName resolves a user's profile name for personalized
	// copy. Optional: nil (or an empty result) keeps every message in
	// its unaddressed form.
	DisplayName func(userID string) string
}

type Governor struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	mu           sync.Mutex
	ritualTimers map[string][]*time.Timer
}

func New(cfg Config, deps Deps) *Governor {
	if cfg.RitualDelays == (RitualDelays{}) {
		cfg.RitualDelays = DefaultRitualDelays()
	}
	return &Governor{
		cfg:          cfg,
		deps:         deps,
		now:          time.Now,
		ritualTimers: make(map[string][]*time.Timer),
	}
}

// SetNow injects a clock for tests.
func (g *Governor) SetNow(fn func() time.Time) {
	g.now = fn
}

// Run consumes inbound events until the context is cancelled. Each
// event is handled on its own goroutine so one slow completion call
// does not delay sibling events from the same webhook delivery.
func (g *Governor) Run(ctx context.Context) {
	for {
		select {
		case ev := <-g.deps.Bus.Inbound:
			go g.HandleEvent(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

// HandleEvent runs the full admission pipeline for one text message.
// Every failure is contained here: a panic or upstream error yields a
// best-effort apologetic reply, never a crash or a raw error message.
func (g *Governor) HandleEvent(ctx context.Context, ev bus.InboundEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[governor] panic handling event from %s: %v", redact(ev.UserID), r)
			g.send(ev.ReplyToken, ev.UserID, eventErrorMessage)
		}
	}()

	if ev.UserID == "" || ev.Text == "" {
		return
	}
	userID := ev.UserID
	log.Printf("[governor] inbound from %s: %s", redact(userID), truncate(ev.Text, 60))

	// 1. Population admission. A refusal creates no per-user state.
	if !g.deps.Population.TryAdmit(userID) {
		log.Printf("[governor] population cap reached, refusing %s", redact(userID))
		g.send(ev.ReplyToken, userID, maxUsersMessage)
		return
	}

	// 2. Session expiry. The triggering message is consumed: no quota
	// charge, no completion call.
	if g.deps.Conversations.Exists(userID) && !g.deps.Sessions.IsActive(userID) {
		log.Printf("[governor] session expired for %s, clearing transcript", redact(userID))
		g.deps.Conversations.Delete(userID)
		g.deps.Sessions.Delete(userID)
		g.send(ev.ReplyToken, userID, sessionExpiredMessage)
		return
	}

	// 3. Mark activity.
	g.deps.Sessions.Touch(userID)

	name := g.displayNameFor(userID)

	// 4. Daily quota.
	if !g.deps.Quotas.IsAdmitted(userID) {
		log.Printf("[governor] daily limit reached for %s", redact(userID))
		g.send(ev.ReplyToken, userID, namePrefix(name)+pick(dailyLimitMessages))
		return
	}

	// 5. Charge the turn before anything downstream, ritual included.
	g.deps.Quotas.RecordTurn(userID)
	remaining := g.deps.Quotas.Remaining(userID)

	// 6. Experiment assignment and turn metric.
	bucket := g.deps.Experiments.Assign(userID)
	g.deps.Experiments.RecordMetric(userID, experiment.MetricTotalTurns, 1)

	// 7. Ritual trigger, bucket B only. Bucket A falls through and the
	// phrase is treated as ordinary conversation.
	if bucket == experiment.BucketB && containsRitualTrigger(ev.Text) {
		g.startRitual(ev)
		return
	}

	// 8. First contact: seed transcript, greet without a completion
	// call.
	if g.deps.Conversations.Ensure(userID, PersonaPreamble) {
		g.deps.Experiments.RecordMetric(userID, experiment.MetricSessionsStarted, 1)
		welcome := namePrefix(name) + pick(welcomeMessages)
		g.deps.Conversations.Append(userID, state.Turn{Role: state.RoleAssistant, Text: welcome})
		g.send(ev.ReplyToken, userID, welcome)
		return
	}

	// 9. Ordinary turn: transcript, completion, composed reply.
	g.deps.Conversations.Append(userID, state.Turn{Role: state.RoleUser, Text: ev.Text})
	aiText := g.generateReply(ctx, userID, ev.Text, remaining, name)
	g.deps.Conversations.Append(userID, state.Turn{Role: state.RoleAssistant, Text: aiText})

	final := aiText
	if remaining > 0 && remaining <= footerThreshold {
		final += "\n\n" + namePrefix(name) + remainingTurnsMessage(remaining)
	}
	if g.shouldSuggestRitual(userID, bucket, ev.Text) {
		final += ritualSuggestion
	}
	g.send(ev.ReplyToken, userID, final)
}

// generateReply produces the assistant text for one admitted turn.
// Limit questions are answered from quota state without calling the
// completion API; completion failures degrade to the fixed fallback.
func (g *Governor) generateReply(ctx context.Context, userID, text string, remaining int, name string) string {
	if isAskingAboutLimits(text) {
		return limitExplanation(remaining, name)
	}

	// Per-call context only. The stored preamble is never mutated.
	messages := g.deps.Conversations.History(userID)
	if len(messages) > 0 {
		messages[0].Text += callContextSuffix(name, remaining)
		if isAskingForAdvice(text) {
			messages[0].Text += adviceModeSuffix
		}
	}

	model, maxTokens := llm.SelectTier(g.cfg.Agent, text)
	out, err := g.deps.Completer.Complete(ctx, llm.Request{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: g.cfg.Agent.Temperature,
		Messages:    messages,
	})
	if err != nil {
		log.Printf("[governor] completion error for %s: %v", redact(userID), err)
		return namePrefix(name) + fallbackMessage
	}
	return out
}

// displayNameFor returns the user's display name when the every
// fourth turn rule selects it, empty otherwise. The transcript length
// doubles as the conversation count; a first contact with no
// transcript counts as turn one.
func (g *Governor) displayNameFor(userID string) string {
	if g.deps.DisplayName == nil {
		return ""
	}
	count := g.deps.Conversations.Len(userID)
	if count == 0 {
		count = 1
	}
	if !shouldUseName(count) {
		return ""
	}
	return g.deps.DisplayName(userID)
}

func (g *Governor) shouldSuggestRitual(userID string, bucket experiment.Bucket, text string) bool {
	if bucket != experiment.BucketB {
		return false
	}
	a, ok := g.deps.Experiments.AssignmentOf(userID)
	if !ok || a.Metrics.TotalTurns < suggestionMinTurns {
		return false
	}
	if !containsClosureWord(text) {
		return false
	}
	if last, ok := g.deps.Experiments.LastRitual(userID); ok {
		return g.now().Sub(last) > suggestionCooldown
	}
	return true
}

// Sweep is the recurring cleanup pass: expired sessions lose their
// transcript and session record, stale quota records and aggregate
// days outside the retention window are pruned. Experiment assignments
// and quota history for today are kept for analytics continuity.
func (g *Governor) Sweep() {
	expired := g.deps.Sessions.ExpiredUsers()
	for _, userID := range expired {
		g.deps.Conversations.Delete(userID)
		g.deps.Sessions.Delete(userID)
		log.Printf("[sweeper] evicted idle session %s", redact(userID))
	}

	stale := g.deps.Quotas.PruneStale()
	cutoff := clock.DayKey(g.now().AddDate(0, 0, -MetricsRetention))
	prunedDays := g.deps.Experiments.PruneDailyBefore(cutoff)

	if len(expired) > 0 || stale > 0 || prunedDays > 0 {
		log.Printf("[sweeper] cleaned %d sessions, %d quota records, %d metric days",
			len(expired), stale, prunedDays)
	}
}

// send routes through the bus: with a reply token the single-use reply
// endpoint is used, without one the message is pushed.
func (g *Governor) send(replyToken, userID, text string) {
	g.deps.Bus.Outbound <- bus.OutboundMessage{
		UserID:     userID,
		ReplyToken: replyToken,
		Text:       text,
	}
}

func (g *Governor) push(userID, text string) {
	g.send("", userID, text)
}

func redact(userID string) string {
	if len(userID) <= 8 {
		return userID
	}
	return userID[:8] + "..."
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package governor

import (
	"log"
	"time"

	"github.com/ai-counseling/ai-counselor-line-bot/internal/bus"
	"github.com/ai-counseling/ai-counselor-line-bot/internal/experiment"
)

// startRitual runs the scripted three-message sequence: step 1 as the
// immediate reply, steps 2 and 3 as delayed pushes, then transcript
// deletion. A push failure is logged downstream and does not cancel
// the remaining steps. Re-triggering replaces any sequence still in
// flight for that user.
func (g *Governor) startRitual(ev bus.InboundEvent) {
	userID := ev.UserID
	log.Printf("[ritual] started for %s", redact(userID))

	g.send(ev.ReplyToken, userID, ritualScript[0])
	g.deps.Experiments.RecordMetric(userID, experiment.MetricRitualUsed, 1)
	g.deps.Experiments.MarkRitual(userID, g.now())

	g.CancelRitual(userID)

	d := g.cfg.RitualDelays
	timers := []*time.Timer{
		time.AfterFunc(d.Second, func() {
			g.push(userID, ritualScript[1])
		}),
		time.AfterFunc(d.Third, func() {
			g.push(userID, ritualScript[2])
		}),
		time.AfterFunc(d.Clear, func() {
			g.deps.Conversations.Delete(userID)
			g.clearTimers(userID)
			log.Printf("[ritual] transcript cleared for %s", redact(userID))
		}),
	}

	g.mu.Lock()
	g.ritualTimers[userID] = timers
	g.mu.Unlock()
}

// CancelRitual stops any pending steps for the user. Only a new ritual
// calls this today; session expiry deliberately does not, so a ritual
// already in flight still completes.
func (g *Governor) CancelRitual(userID string) {
	g.mu.Lock()
	timers := g.ritualTimers[userID]
	delete(g.ritualTimers, userID)
	g.mu.Unlock()
	for _, t := range timers {
		t.Stop()
	}
}

func (g *Governor) clearTimers(userID string) {
	g.mu.Lock()
	delete(g.ritualTimers, userID)
	g.mu.Unlock()
}

// Package gateway wires the pieces together: config, state holders,
// the governor, the LINE channel, admin endpoints, and the recurring
// jobs. It owns the HTTP server and process lifecycle.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ai-counseling/ai-counselor-line-bot/internal/admin"
	"github.com/ai-counseling/ai-counselor-line-bot/internal/bus"
	"github.com/ai-counseling/ai-counselor-line-bot/internal/channel"
	"github.com/ai-counseling/ai-counselor-line-bot/internal/config"
	"github.com/ai-counseling/ai-counselor-line-bot/internal/cron"
	"github.com/ai-counseling/ai-counselor-line-bot/internal/experiment"
	"github.com/ai-counseling/ai-counselor-line-bot/internal/governor"
	"github.com/ai-counseling/ai-counselor-line-bot/internal/llm"
	"github.com/ai-counseling/ai-counselor-line-bot/internal/snapshot"
	"github.com/ai-counseling/ai-counselor-line-bot/internal/state"
)

const shutdownTimeout = 5 * time.Second

// CompleterFactory creates the completion client. Tests swap in fakes.
type CompleterFactory func(cfg config.OpenAIConfig) llm.Completer

// Options customizes construction for tests.
type Options struct {
	CompleterFactory  CompleterFactory
	LineClientFactory channel.LineClientFactory
	SignalChan        chan os.Signal
}

type Gateway struct {
	cfg *config.Config

	bus       *bus.MessageBus
	gov       *governor.Governor
	line      *channel.LineChannel
	admin     *admin.Server
	cron      *cron.Service
	snapshots *snapshot.Store
	sources   snapshot.Sources
	server    *http.Server

	signalChan chan os.Signal
}

func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg}

	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	conversations := state.NewConversationStore()
	quotas := state.NewQuotaTracker(governor.DailyTurnLimit)
	sessions := state.NewSessionTracker(governor.SessionTimeout)
	population := state.NewPopulation(governor.MaxUsers)
	experiments := experiment.NewRegistry(cfg.Experiment.Enabled, cfg.Experiment.SplitRatio)

	g.sources = snapshot.Sources{
		Quotas:      quotas,
		Population:  population,
		Experiments: experiments,
	}
	g.snapshots = snapshot.NewStore(cfg.Snapshot)
	if snap, ok, err := g.snapshots.Load(context.Background()); err != nil {
		log.Printf("[gateway] snapshot load warning: %v", err)
	} else if ok {
		snapshot.Restore(snap, g.sources)
		log.Printf("[gateway] restored usage snapshot from %s", snap.SavedAt.Format(time.RFC3339))
	}

	completerFactory := opts.CompleterFactory
	if completerFactory == nil {
		completerFactory = func(cfg config.OpenAIConfig) llm.Completer {
			return llm.NewClient(cfg)
		}
	}

	lineFactory := opts.LineClientFactory
	line, err := channel.NewLineChannelWithFactory(cfg.Line, g.bus, lineFactory)
	if err != nil {
		return nil, fmt.Errorf("create line channel: %w", err)
	}
	g.line = line
	g.bus.SubscribeOutbound(line.Send)

	g.gov = governor.New(governor.Config{Agent: cfg.Agent}, governor.Deps{
		Conversations: conversations,
		Quotas:        quotas,
		Sessions:      sessions,
		Population:    population,
		Experiments:   experiments,
		Completer:     completerFactory(cfg.OpenAI),
		Bus:           g.bus,
		DisplayName:   line.DisplayName,
	})

	g.cron = cron.NewService()
	g.cron.Register(cron.Job{
		Name:     "sweep",
		Schedule: fmt.Sprintf("@every %s", governor.CleanupInterval),
		Run: func() error {
			g.gov.Sweep()
			return nil
		},
	})
	g.cron.Register(cron.Job{
		Name:     "snapshot",
		Schedule: fmt.Sprintf("@every %s", governor.CleanupInterval),
		Run:      g.saveSnapshot,
	})

	g.admin = admin.NewServer(admin.Deps{
		Conversations:  conversations,
		Quotas:         quotas,
		Sessions:       sessions,
		Population:     population,
		Experiments:    experiments,
		JobStates:      g.cron.States,
		CachedProfiles: line.ProfileCount,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", line.Handler())
	g.admin.Register(mux)

	g.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: mux,
	}

	g.signalChan = opts.SignalChan
	return g, nil
}

func (g *Gateway) saveSnapshot() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.snapshots.Save(ctx, snapshot.Capture(g.sources))
}

// Run starts everything and blocks until SIGINT/SIGTERM, then shuts
// down and writes a final snapshot.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)
	go g.gov.Run(ctx)

	if err := g.cron.Start(); err != nil {
		return fmt.Errorf("start cron: %w", err)
	}

	go func() {
		log.Printf("[gateway] listening on %s", g.server.Addr)
		if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[gateway] server error: %v", err)
		}
	}()

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}

	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := g.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[gateway] server shutdown warning: %v", err)
	}
	g.cron.Stop()

	if err := g.saveSnapshot(); err != nil {
		log.Printf("[gateway] final snapshot warning: %v", err)
	}

	_ = g.line.Stop()
	if err := g.snapshots.Close(); err != nil {
		log.Printf("[gateway] snapshot store close warning: %v", err)
	}
	log.Printf("[gateway] stopped")
	return nil
}

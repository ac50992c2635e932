// Package admin serves the operational endpoints: liveness, a JSON
// health report, and the HTML dashboards. Everything here is a
// read-only view over the governor's state, plus the experiment
// toggle.
package admin

import (
	"encoding/json"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/ai-counseling/ai-counselor-line-bot/internal/clock"
	"github.com/ai-counseling/ai-counselor-line-bot/internal/cron"
	"github.com/ai-counseling/ai-counselor-line-bot/internal/experiment"
	"github.com/ai-counseling/ai-counselor-line-bot/internal/governor"
	"github.com/ai-counseling/ai-counselor-line-bot/internal/state"
)

const serviceName = "新人・若手メンターBot - 斎藤修"

type Deps struct {
	Conversations  *state.ConversationStore
	Quotas         *state.QuotaTracker
	Sessions       *state.SessionTracker
	Population     *state.Population
	Experiments    *experiment.Registry
	JobStates      func() map[string]cron.JobState
	CachedProfiles func() int
}

type Server struct {
	deps      Deps
	startedAt time.Time
	now       func() time.Time
}

func NewServer(deps Deps) *Server {
	return &Server{
		deps:      deps,
		startedAt: time.Now(),
		now:       time.Now,
	}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/admin", s.handleAdmin)
	mux.HandleFunc("/admin/stats", s.handleStats)
	mux.HandleFunc("/admin/experiment", s.handleExperiment)
}

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>{{.Service}}</title></head>
<body style="font-family: sans-serif; text-align: center; padding: 50px;">
<h1>{{.Service}}</h1>
<p>サーバーは正常に稼働しています。</p>
<p>
<a href="/health">ヘルスチェック</a> |
<a href="/admin">管理画面</a>
</p>
</body>
</html>
`))

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = indexTmpl.Execute(w, map[string]string{"Service": serviceName})
}

type healthReport struct {
	Status    string       `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Service   string       `json:"service"`
	UptimeSec int64        `json:"uptimeSeconds"`
	Stats     healthStats  `json:"stats"`
	Limits    healthLimits `json:"limits"`
	Jobs      any          `json:"jobs,omitempty"`
}

type healthStats struct {
	TotalUsers        int  `json:"totalUsers"`
	TodayUsers        int  `json:"todayUsers"`
	TotalTurns        int  `json:"totalTurns"`
	TodayTurns        int  `json:"todayTurns"`
	ActiveSessions    int  `json:"activeSessions"`
	ActiveTranscripts int  `json:"activeTranscripts"`
	CachedProfiles    int  `json:"cachedProfiles"`
	ExperimentEnabled bool `json:"experimentEnabled"`
}

type healthLimits struct {
	MaxUsers       int `json:"maxUsers"`
	DailyTurnLimit int `json:"dailyTurnLimit"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	today := s.deps.Experiments.StatsFor(clock.DayKey(now))

	report := healthReport{
		Status:    "healthy",
		Timestamp: now,
		Service:   serviceName,
		UptimeSec: int64(now.Sub(s.startedAt).Seconds()),
		Stats: healthStats{
			TotalUsers:        s.deps.Population.Size(),
			TodayUsers:        today.AUsers + today.BUsers,
			TotalTurns:        s.deps.Experiments.TotalTurns(),
			TodayTurns:        today.ATurns + today.BTurns,
			ActiveSessions:    s.deps.Sessions.ActiveCount(),
			ActiveTranscripts: s.deps.Conversations.Count(),
			ExperimentEnabled: s.deps.Experiments.Enabled(),
		},
		Limits: healthLimits{
			MaxUsers:       governor.MaxUsers,
			DailyTurnLimit: governor.DailyTurnLimit,
		},
	}
	if s.deps.CachedProfiles != nil {
		report.Stats.CachedProfiles = s.deps.CachedProfiles()
	}
	if s.deps.JobStates != nil {
		report.Jobs = s.deps.JobStates()
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		log.Printf("[admin] encode health report: %v", err)
	}
}

var adminTmpl = template.Must(template.New("admin").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>管理画面 - {{.Service}}</title></head>
<body style="font-family: sans-serif; padding: 40px;">
<h1>管理画面</h1>
<ul>
<li>登録ユーザー: {{.TotalUsers}} / {{.MaxUsers}}</li>
<li>本日の利用: {{.TodayUsers}}人 / {{.TodayTurns}}ターン</li>
<li>アクティブセッション: {{.ActiveSessions}}</li>
<li>実験: {{if .ExperimentEnabled}}有効{{else}}無効{{end}}</li>
</ul>
<p>
<a href="/health">ヘルスチェック</a> |
<a href="/admin/stats">利用統計</a> |
<a href="/admin/experiment">実験ダッシュボード</a>
</p>
</body>
</html>
`))

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	today := s.deps.Experiments.StatsFor(clock.DayKey(s.now()))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = adminTmpl.Execute(w, map[string]any{
		"Service":           serviceName,
		"TotalUsers":        s.deps.Population.Size(),
		"MaxUsers":          governor.MaxUsers,
		"TodayUsers":        today.AUsers + today.BUsers,
		"TodayTurns":        today.ATurns + today.BTurns,
		"ActiveSessions":    s.deps.Sessions.ActiveCount(),
		"ExperimentEnabled": s.deps.Experiments.Enabled(),
	})
}

var statsTmpl = template.Must(template.New("stats").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>利用統計 - {{.Service}}</title></head>
<body style="font-family: sans-serif; padding: 40px;">
<h1>利用統計（直近7日）</h1>
<table border="1" cellpadding="6" style="border-collapse: collapse;">
<tr><th>日付</th><th>Aユーザー</th><th>Aターン</th><th>Bユーザー</th><th>Bターン</th></tr>
{{range .Days}}<tr><td>{{.Day}}</td><td>{{.AUsers}}</td><td>{{.ATurns}}</td><td>{{.BUsers}}</td><td>{{.BTurns}}</td></tr>
{{end}}</table>
<p><a href="/admin">管理メニューに戻る</a></p>
</body>
</html>
`))

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = statsTmpl.Execute(w, map[string]any{
		"Service": serviceName,
		"Days":    s.lastDays(governor.MetricsRetention),
	})
}

// lastDays returns per-day aggregates, today first.
func (s *Server) lastDays(n int) []experiment.DayStats {
	now := s.now()
	days := make([]experiment.DayStats, 0, n)
	for i := 0; i < n; i++ {
		day := clock.DayKey(now.AddDate(0, 0, -i))
		days = append(days, s.deps.Experiments.StatsFor(day))
	}
	return days
}

type experimentReport struct {
	Enabled    bool                  `json:"enabled"`
	TotalUsers int                   `json:"totalUsers"`
	TotalTurns int                   `json:"totalTurns"`
	Days       []experiment.DayStats `json:"days"`
}

// handleExperiment serves the metrics report on GET and toggles the
// experiment on POST (?enabled=true|false). Existing assignments are
// never changed by the toggle.
func (s *Server) handleExperiment(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		switch r.FormValue("enabled") {
		case "true":
			s.deps.Experiments.SetEnabled(true)
			log.Printf("[admin] experiment enabled")
		case "false":
			s.deps.Experiments.SetEnabled(false)
			log.Printf("[admin] experiment disabled")
		default:
			http.Error(w, `enabled must be "true" or "false"`, http.StatusBadRequest)
			return
		}
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	report := experimentReport{
		Enabled:    s.deps.Experiments.Enabled(),
		TotalUsers: s.deps.Experiments.TotalUsers(),
		TotalTurns: s.deps.Experiments.TotalTurns(),
		Days:       s.lastDays(governor.MetricsRetention),
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		log.Printf("[admin] encode experiment report: %v", err)
	}
}

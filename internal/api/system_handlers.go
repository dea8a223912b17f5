package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/leadline/leadline/internal/database"
)

// systemStatusResponse is the shape returned by GET /system/status.
type systemStatusResponse struct {
	Bridge bridgeStatusResponse `json:"bridge"`
	Stats  systemStatsResponse  `json:"stats"`
	Uptime uptimeResponse       `json:"uptime"`
}

type bridgeStatusResponse struct {
	State       string  `json:"state"`
	Attempts    int     `json:"attempts"`
	MaxAttempts int     `json:"max_attempts"`
	LastError   string  `json:"last_error,omitempty"`
	ConnectedAt *string `json:"connected_at,omitempty"`
	Host        string  `json:"host"`
}

type systemStatsResponse struct {
	ActiveCall  bool  `json:"active_call"`
	TotalLeads  int   `json:"total_leads"`
	TotalCalls  int64 `json:"total_calls"`
	AnsweredPct int   `json:"answered_pct"`
}

type uptimeResponse struct {
	StartedAt  string `json:"started_at"`
	UptimeSec  int64  `json:"uptime_sec"`
	UptimeText string `json:"uptime_text"`
}

// handleSystemStatus returns the bridge connection, aggregate call stats,
// and uptime.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	st := s.phone.Conn.Status()
	bridge := bridgeStatusResponse{
		State:       st.State.String(),
		Attempts:    st.Attempts,
		MaxAttempts: st.MaxAttempts,
		LastError:   st.LastError,
		Host:        fmt.Sprintf("%s:%d", s.cfg.AMIHost, s.cfg.AMIPort),
	}
	if st.ConnectedAt != nil {
		t := st.ConnectedAt.Format(time.RFC3339)
		bridge.ConnectedAt = &t
	}

	totalLeads := 0
	_, n, err := s.leads.List(ctx, database.LeadListFilter{Limit: 1})
	if err != nil {
		slog.Error("system status: failed to count leads", "error", err)
	} else {
		totalLeads = n
	}

	var totalCalls, answered int64
	byOutcome, err := s.records.CountByOutcome(ctx)
	if err != nil {
		slog.Error("system status: failed to count records", "error", err)
	} else {
		for outcome, n := range byOutcome {
			totalCalls += n
			if outcome == "Answered" {
				answered = n
			}
		}
	}
	answeredPct := 0
	if totalCalls > 0 {
		answeredPct = int(answered * 100 / totalCalls)
	}

	now := time.Now()
	uptimeDur := now.Sub(s.startTime)

	resp := systemStatusResponse{
		Bridge: bridge,
		Stats: systemStatsResponse{
			ActiveCall:  s.phone.Session.Active() != nil,
			TotalLeads:  totalLeads,
			TotalCalls:  totalCalls,
			AnsweredPct: answeredPct,
		},
		Uptime: uptimeResponse{
			StartedAt:  s.startTime.Format(time.RFC3339),
			UptimeSec:  int64(uptimeDur.Seconds()),
			UptimeText: formatUptime(uptimeDur),
		},
	}

	writeJSON(w, http.StatusOK, resp)
}

// formatUptime returns a human-readable uptime string like "2d 5h 30m 12s".
func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

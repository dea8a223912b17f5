package api

import (
	"encoding/csv"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/leadline/leadline/internal/database"
	"github.com/leadline/leadline/internal/database/models"
)

// recordResponse is the JSON response for a single call record.
type recordResponse struct {
	ID        int64  `json:"id"`
	LeadName  string `json:"lead_name"`
	Phone     string `json:"phone"`
	Duration  int    `json:"duration"`
	Outcome   string `json:"outcome"`
	StartedAt string `json:"started_at"`
	Agent     string `json:"agent"`
	Direction string `json:"direction"`
	LeadID    *int64 `json:"lead_id,omitempty"`
}

// toRecordResponse converts a models.CallRecord to the API response.
func toRecordResponse(rec *models.CallRecord) recordResponse {
	return recordResponse{
		ID:        rec.ID,
		LeadName:  rec.LeadName,
		Phone:     rec.Phone,
		Duration:  rec.Duration,
		Outcome:   rec.Outcome,
		StartedAt: rec.StartedAt.Format(time.RFC3339),
		Agent:     rec.Agent,
		Direction: rec.Direction,
		LeadID:    rec.LeadID,
	}
}

// recordFilterFromQuery builds a list filter from shared query params.
func recordFilterFromQuery(r *http.Request) (database.CallRecordListFilter, string) {
	q := r.URL.Query()
	direction := q.Get("direction")
	if direction != "" && direction != "incoming" && direction != "outgoing" {
		return database.CallRecordListFilter{}, "direction must be \"incoming\" or \"outgoing\""
	}
	return database.CallRecordListFilter{
		Search:    q.Get("search"),
		Direction: direction,
		Outcome:   q.Get("outcome"),
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
	}, ""
}

// handleListRecords returns call records with pagination and optional filters.
// Query params: limit, offset, search, direction, outcome, start_date, end_date.
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	filter, errMsg := recordFilterFromQuery(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	filter.Limit = pg.Limit
	filter.Offset = pg.Offset

	recs, total, err := s.records.List(r.Context(), filter)
	if err != nil {
		slog.Error("list records: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]recordResponse, len(recs))
	for i := range recs {
		items[i] = toRecordResponse(&recs[i])
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  items,
		Total:  int64(total),
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
}

// handleRecentRecords returns the most recent call records for the
// dashboard sidebar. Query param: limit (default 10, max 50).
func (s *Server) handleRecentRecords(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > 50 {
			n = 50
		}
		limit = n
	}

	recs, err := s.records.ListRecent(r.Context(), limit)
	if err != nil {
		slog.Error("recent records: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]recordResponse, len(recs))
	for i := range recs {
		items[i] = toRecordResponse(&recs[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": items})
}

// handleGetRecord returns a single call record by ID.
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid record id")
		return
	}

	rec, err := s.records.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("get record: failed to query", "error", err, "record_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}

	writeJSON(w, http.StatusOK, toRecordResponse(rec))
}

// handleExportRecords exports call records as CSV with the same filters as
// list.
func (s *Server) handleExportRecords(w http.ResponseWriter, r *http.Request) {
	filter, errMsg := recordFilterFromQuery(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	// Export all matching records, capped at 10000.
	filter.Limit = 10000
	filter.Offset = 0

	recs, _, err := s.records.List(r.Context(), filter)
	if err != nil {
		slog.Error("export records: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=call-records.csv")

	cw := csv.NewWriter(w)
	cw.Write([]string{
		"ID", "Lead Name", "Phone", "Duration", "Outcome",
		"Started At", "Agent", "Direction",
	})

	for _, rec := range recs {
		cw.Write([]string{
			strconv.FormatInt(rec.ID, 10),
			rec.LeadName,
			rec.Phone,
			strconv.Itoa(rec.Duration),
			rec.Outcome,
			rec.StartedAt.Format(time.RFC3339),
			rec.Agent,
			rec.Direction,
		})
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		slog.Error("export records: csv write error", "error", err)
	}
}

// handleRecordStats returns aggregate call statistics for the dashboard.
func (s *Server) handleRecordStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	byDirection, err := s.records.CountByDirection(ctx)
	if err != nil {
		slog.Error("record stats: failed to count by direction", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	byOutcome, err := s.records.CountByOutcome(ctx)
	if err != nil {
		slog.Error("record stats: failed to count by outcome", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var total int64
	for _, n := range byDirection {
		total += n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_calls":  total,
		"by_direction": byDirection,
		"by_outcome":   byOutcome,
	})
}

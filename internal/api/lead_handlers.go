package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/leadline/leadline/internal/database"
	"github.com/leadline/leadline/internal/database/models"
)

// leadResponse is the JSON response for a single lead.
type leadResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Company   string `json:"company,omitempty"`
	Email     string `json:"email,omitempty"`
	Status    string `json:"status"`
	Notes     string `json:"notes,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// toLeadResponse converts a models.Lead to the API response.
func toLeadResponse(l *models.Lead) leadResponse {
	return leadResponse{
		ID:        l.ID,
		Name:      l.Name,
		Phone:     l.Phone,
		Company:   l.Company,
		Email:     l.Email,
		Status:    l.Status,
		Notes:     l.Notes,
		CreatedAt: l.CreatedAt.Format(time.RFC3339),
		UpdatedAt: l.UpdatedAt.Format(time.RFC3339),
	}
}

// validLeadStatus reports whether a status value is one of the known set.
func validLeadStatus(status string) bool {
	switch status {
	case models.LeadStatusNew, models.LeadStatusContacted,
		models.LeadStatusQualified, models.LeadStatusClosed:
		return true
	}
	return false
}

// createLeadRequest is the body for POST /leads.
type createLeadRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Company string `json:"company"`
	Email   string `json:"email"`
	Status  string `json:"status"`
	Notes   string `json:"notes"`
}

// validate returns an error message, or empty string if the request is OK.
func (req *createLeadRequest) validate() string {
	if msg := validateRequiredStringLen("name", req.Name, maxNameLen); msg != "" {
		return msg
	}
	if msg := validatePhone("phone", req.Phone); msg != "" {
		return msg
	}
	if msg := validateStringLen("company", req.Company, maxNameLen); msg != "" {
		return msg
	}
	if msg := validateEmail("email", req.Email); msg != "" {
		return msg
	}
	if req.Status != "" && !validLeadStatus(req.Status) {
		return "status must be one of \"new\", \"contacted\", \"qualified\", \"closed\""
	}
	if msg := validateStringLen("notes", req.Notes, maxNotesLen); msg != "" {
		return msg
	}
	if msg := validateNoControlChars("name", req.Name); msg != "" {
		return msg
	}
	return ""
}

// handleListLeads returns leads with pagination and optional filters.
// Query params: limit, offset, search, status.
func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	q := r.URL.Query()
	status := q.Get("status")
	if status != "" && !validLeadStatus(status) {
		writeError(w, http.StatusBadRequest, "status must be one of \"new\", \"contacted\", \"qualified\", \"closed\"")
		return
	}

	filter := database.LeadListFilter{
		Limit:  pg.Limit,
		Offset: pg.Offset,
		Search: q.Get("search"),
		Status: status,
	}

	leads, total, err := s.leads.List(r.Context(), filter)
	if err != nil {
		slog.Error("list leads: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]leadResponse, len(leads))
	for i := range leads {
		items[i] = toLeadResponse(&leads[i])
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  items,
		Total:  int64(total),
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
}

// handleCreateLead creates a lead.
func (s *Server) handleCreateLead(w http.ResponseWriter, r *http.Request) {
	var req createLeadRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	lead := &models.Lead{
		Name:    req.Name,
		Phone:   req.Phone,
		Company: req.Company,
		Email:   req.Email,
		Status:  req.Status,
		Notes:   req.Notes,
	}
	if err := s.leads.Create(r.Context(), lead); err != nil {
		slog.Error("create lead: failed to insert", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, toLeadResponse(lead))
}

// leadFromURL loads the lead addressed by the {id} URL param, writing the
// error response itself when the lead cannot be served.
func (s *Server) leadFromURL(w http.ResponseWriter, r *http.Request) *models.Lead {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid lead id")
		return nil
	}

	lead, err := s.leads.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("get lead: failed to query", "error", err, "lead_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil
	}
	if lead == nil {
		writeError(w, http.StatusNotFound, "lead not found")
		return nil
	}
	return lead
}

// handleGetLead returns a single lead by ID.
func (s *Server) handleGetLead(w http.ResponseWriter, r *http.Request) {
	lead := s.leadFromURL(w, r)
	if lead == nil {
		return
	}
	writeJSON(w, http.StatusOK, toLeadResponse(lead))
}

// updateLeadRequest is the body for PUT /leads/{id}. Nil fields are left
// unchanged.
type updateLeadRequest struct {
	Name    *string `json:"name"`
	Phone   *string `json:"phone"`
	Company *string `json:"company"`
	Email   *string `json:"email"`
	Status  *string `json:"status"`
	Notes   *string `json:"notes"`
}

// handleUpdateLead applies a partial update to a lead.
func (s *Server) handleUpdateLead(w http.ResponseWriter, r *http.Request) {
	lead := s.leadFromURL(w, r)
	if lead == nil {
		return
	}

	var req updateLeadRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if req.Name != nil {
		if msg := validateRequiredStringLen("name", *req.Name, maxNameLen); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
		lead.Name = *req.Name
	}
	if req.Phone != nil {
		if msg := validatePhone("phone", *req.Phone); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
		lead.Phone = *req.Phone
	}
	if req.Company != nil {
		if msg := validateStringLen("company", *req.Company, maxNameLen); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
		lead.Company = *req.Company
	}
	if req.Email != nil {
		if msg := validateEmail("email", *req.Email); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
		lead.Email = *req.Email
	}
	if req.Status != nil {
		if !validLeadStatus(*req.Status) {
			writeError(w, http.StatusBadRequest, "status must be one of \"new\", \"contacted\", \"qualified\", \"closed\"")
			return
		}
		lead.Status = *req.Status
	}
	if req.Notes != nil {
		if msg := validateStringLen("notes", *req.Notes, maxNotesLen); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
		lead.Notes = *req.Notes
	}

	if err := s.leads.Update(r.Context(), lead); err != nil {
		slog.Error("update lead: failed to save", "error", err, "lead_id", lead.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, toLeadResponse(lead))
}

// handleDeleteLead removes a lead. Its call records survive with a dangling
// lead reference.
func (s *Server) handleDeleteLead(w http.ResponseWriter, r *http.Request) {
	lead := s.leadFromURL(w, r)
	if lead == nil {
		return
	}

	if err := s.leads.Delete(r.Context(), lead.ID); err != nil {
		slog.Error("delete lead: failed", "error", err, "lead_id", lead.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleLeadRecords returns the call history for one lead, newest first.
func (s *Server) handleLeadRecords(w http.ResponseWriter, r *http.Request) {
	lead := s.leadFromURL(w, r)
	if lead == nil {
		return
	}

	recs, err := s.records.ListByLead(r.Context(), lead.ID)
	if err != nil {
		slog.Error("lead records: failed to query", "error", err, "lead_id", lead.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]recordResponse, len(recs))
	for i := range recs {
		items[i] = toRecordResponse(&recs[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": items})
}

package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/leadline/leadline/internal/telephony"
)

// callRequest is the body for POST /dialer/call.
type callRequest struct {
	Number      string `json:"number"`
	DisplayName string `json:"display_name"`
	LeadID      *int64 `json:"lead_id"`
}

// sessionResponse is the JSON shape of the active call session.
type sessionResponse struct {
	ID          string `json:"id"`
	Number      string `json:"number"`
	DisplayName string `json:"display_name"`
	State       string `json:"state"`
	StartTime   string `json:"start_time"`
	AnsweredAt  string `json:"answered_at,omitempty"`
	Duration    string `json:"duration"`
	Muted       bool   `json:"muted"`
	LeadID      *int64 `json:"lead_id,omitempty"`
}

func toSessionResponse(call *telephony.ActiveCall, duration string) sessionResponse {
	resp := sessionResponse{
		ID:          call.ID,
		Number:      call.Number,
		DisplayName: call.DisplayName,
		State:       call.State.String(),
		StartTime:   call.StartTime.Format(time.RFC3339),
		Duration:    duration,
		Muted:       call.Muted,
		LeadID:      call.LeadID,
	}
	if call.AnsweredAt != nil {
		resp.AnsweredAt = call.AnsweredAt.Format(time.RFC3339)
	}
	return resp
}

// handleDialerCall originates a call. Guard failures map to 409, a bridge
// rejection to 502.
func (s *Server) handleDialerCall(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validatePhone("number", req.Number); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validateStringLen("display_name", req.DisplayName, maxNameLen); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	err := s.phone.Dialer.InitiateCall(r.Context(), req.Number, req.DisplayName, req.LeadID)
	switch {
	case err == nil:
	case errors.Is(err, telephony.ErrNotConnected):
		writeError(w, http.StatusConflict, "not connected to the phone system")
		return
	case errors.Is(err, telephony.ErrNoExtension):
		writeError(w, http.StatusConflict, "no agent extension configured")
		return
	case errors.Is(err, telephony.ErrAlreadyOnCall):
		writeError(w, http.StatusConflict, "a call is already in progress")
		return
	default:
		slog.Error("dialer call: origination failed", "number", req.Number, "error", err)
		writeError(w, http.StatusBadGateway, "call could not be placed")
		return
	}

	call := s.phone.Session.Active()
	if call == nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(call, s.phone.Session.Elapsed()))
}

// handleDialerHangup ends the active call.
func (s *Server) handleDialerHangup(w http.ResponseWriter, r *http.Request) {
	if err := s.phone.Session.EndCall(); err != nil {
		writeError(w, http.StatusConflict, "no active call")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

// handleDialerHold toggles hold on the active call.
func (s *Server) handleDialerHold(w http.ResponseWriter, r *http.Request) {
	if err := s.phone.Session.ToggleHold(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	call := s.phone.Session.Active()
	if call == nil {
		writeError(w, http.StatusConflict, "no active call")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": call.State.String()})
}

// handleDialerMute toggles mute on the active call.
func (s *Server) handleDialerMute(w http.ResponseWriter, r *http.Request) {
	muted, err := s.phone.Session.ToggleMute()
	if err != nil {
		writeError(w, http.StatusConflict, "no active call")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"muted": muted})
}

// handleDialerSession returns the active call session, or null.
func (s *Server) handleDialerSession(w http.ResponseWriter, r *http.Request) {
	call := s.phone.Session.Active()
	if call == nil {
		writeJSON(w, http.StatusOK, map[string]any{"session": nil})
		return
	}
	resp := toSessionResponse(call, s.phone.Session.Elapsed())
	writeJSON(w, http.StatusOK, map[string]any{"session": resp})
}

// handleDialerConnection returns the bridge connection status.
func (s *Server) handleDialerConnection(w http.ResponseWriter, r *http.Request) {
	st := s.phone.Conn.Status()
	resp := map[string]any{
		"state":        st.State.String(),
		"attempts":     st.Attempts,
		"max_attempts": st.MaxAttempts,
	}
	if st.LastError != "" {
		resp["last_error"] = st.LastError
	}
	if st.ConnectedAt != nil {
		resp["connected_at"] = st.ConnectedAt.Format(time.RFC3339)
	}
	if st.NextRetryIn > 0 {
		resp["next_retry_ms"] = st.NextRetryIn.Milliseconds()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDialerConnectionReset clears a Failed connection and retries.
func (s *Server) handleDialerConnectionReset(w http.ResponseWriter, r *http.Request) {
	s.phone.Conn.ResetReconnectAttempts()
	if err := s.phone.Connect(r.Context()); err != nil {
		slog.Warn("connection reset: reconnect failed", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"state": s.phone.Conn.State().String(),
	})
}

// eventResponse is the JSON shape of a buffered bridge event.
type eventResponse struct {
	Kind         string `json:"kind"`
	Channel      string `json:"channel,omitempty"`
	CallerIDNum  string `json:"caller_id_num,omitempty"`
	CallerIDName string `json:"caller_id_name,omitempty"`
	UniqueID     string `json:"unique_id,omitempty"`
	DialStatus   string `json:"dial_status,omitempty"`
	CauseText    string `json:"cause_text,omitempty"`
	Timestamp    string `json:"timestamp"`
}

// handleDialerEvents returns the rolling buffer of recent bridge events,
// oldest first.
func (s *Server) handleDialerEvents(w http.ResponseWriter, r *http.Request) {
	events := s.phone.Distributor.Recent()
	items := make([]eventResponse, len(events))
	for i, ev := range events {
		items[i] = eventResponse{
			Kind:         string(ev.Kind),
			Channel:      ev.Channel,
			CallerIDNum:  ev.CallerIDNum,
			CallerIDName: ev.CallerIDName,
			UniqueID:     ev.UniqueID,
			DialStatus:   ev.DialStatus,
			CauseText:    ev.CauseText,
			Timestamp:    ev.Timestamp.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": items})
}

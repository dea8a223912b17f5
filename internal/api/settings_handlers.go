package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/leadline/leadline/internal/database"
)

// settingsResponse is the shape returned by GET /settings.
type settingsResponse struct {
	Agent   agentSettingsResponse   `json:"agent"`
	Dialing dialingSettingsResponse `json:"dialing"`
}

type agentSettingsResponse struct {
	Extension    string `json:"extension"`
	ChannelTech  string `json:"channel_technology"`
	CallerIDName string `json:"callerid_name"`
	AgentName    string `json:"agent_name"`
}

type dialingSettingsResponse struct {
	Context string `json:"context"`
}

// settingsRequest is the shape accepted by PUT /settings.
type settingsRequest struct {
	Agent   *agentSettingsRequest   `json:"agent"`
	Dialing *dialingSettingsRequest `json:"dialing"`
}

type agentSettingsRequest struct {
	Extension    string `json:"extension"`
	ChannelTech  string `json:"channel_technology"`
	CallerIDName string `json:"callerid_name"`
	AgentName    string `json:"agent_name"`
}

type dialingSettingsRequest struct {
	Context string `json:"context"`
}

// handleGetSettings returns all system settings grouped by section.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	get := func(key string) string {
		val, _ := s.configs.Get(ctx, key)
		return val
	}

	resp := settingsResponse{
		Agent: agentSettingsResponse{
			Extension:    get(database.ConfigKeyAgentExtension),
			ChannelTech:  get(database.ConfigKeyChannelTech),
			CallerIDName: get(database.ConfigKeyCallerIDName),
			AgentName:    get(database.ConfigKeyAgentName),
		},
		Dialing: dialingSettingsResponse{
			Context: get(database.ConfigKeyDialContext),
		},
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleUpdateSettings saves system settings. Only provided sections are
// updated. A changed agent extension takes effect on the next dial.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	ctx := r.Context()

	save := func(pairs map[string]string) error {
		for key, value := range pairs {
			if err := s.configs.Set(ctx, key, value); err != nil {
				return err
			}
		}
		return nil
	}

	if req.Agent != nil {
		agent := req.Agent

		if agent.Extension != "" {
			if msg := validateExtensionNumber("agent extension", agent.Extension); msg != "" {
				writeError(w, http.StatusBadRequest, msg)
				return
			}
		}
		if agent.ChannelTech != "" && agent.ChannelTech != "PJSIP" && agent.ChannelTech != "SIP" && agent.ChannelTech != "Local" {
			writeError(w, http.StatusBadRequest, "channel_technology must be PJSIP, SIP, or Local")
			return
		}
		if msg := validateStringLen("callerid_name", agent.CallerIDName, maxNameLen); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
		if msg := validateStringLen("agent_name", agent.AgentName, maxNameLen); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}

		if err := save(map[string]string{
			database.ConfigKeyAgentExtension: agent.Extension,
			database.ConfigKeyChannelTech:    agent.ChannelTech,
			database.ConfigKeyCallerIDName:   agent.CallerIDName,
			database.ConfigKeyAgentName:      agent.AgentName,
		}); err != nil {
			slog.Error("failed to save agent settings", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save settings")
			return
		}
	}

	if req.Dialing != nil {
		dialCtx := strings.TrimSpace(req.Dialing.Context)
		if dialCtx != "" {
			if msg := validateStringLen("dialing context", dialCtx, maxNameLen); msg != "" {
				writeError(w, http.StatusBadRequest, msg)
				return
			}
			if strings.ContainsAny(dialCtx, " \t\n\r") {
				writeError(w, http.StatusBadRequest, "dialing context contains invalid characters")
				return
			}
		}
		if err := s.configs.Set(ctx, database.ConfigKeyDialContext, dialCtx); err != nil {
			slog.Error("failed to save dialing settings", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save settings")
			return
		}
	}

	slog.Info("system settings updated")

	s.handleGetSettings(w, r)
}

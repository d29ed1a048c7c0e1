// internal/http/handlers/realtime.go
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	mw "github.com/27willir/Botifex-sub002/internal/middleware"
	"github.com/27willir/Botifex-sub002/internal/policy"
	"github.com/27willir/Botifex-sub002/internal/realtime"
	"github.com/27willir/Botifex-sub002/pkg/logger"
	"github.com/27willir/Botifex-sub002/pkg/response"
)

type RealtimeHandler struct {
	Gateway  *realtime.Gateway
	Presence *realtime.PresenceTracker
	Typing   *realtime.TypingCoordinator
	Policy   *policy.Service
	Logger   *logger.Logger
	Validate *validator.Validate
}

type ChannelSettingsRequest struct {
	SlowModeSeconds int `json:"slow_mode_seconds" validate:"min=0,max=21600"`
}

func NewRealtimeHandler(gw *realtime.Gateway, presence *realtime.PresenceTracker,
	typing *realtime.TypingCoordinator, pol *policy.Service,
	log *logger.Logger, validate *validator.Validate) *RealtimeHandler {
	return &RealtimeHandler{
		Gateway:  gw,
		Presence: presence,
		Typing:   typing,
		Policy:   pol,
		Logger:   log,
		Validate: validate,
	}
}

// HandleWebSocket établit la connexion push; le token passe en query param.
func (h *RealtimeHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.Gateway.HandleConnection(w, r)
}

func (h *RealtimeHandler) HandleGetPresence(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channel")
	if channelID == "" {
		response.BadRequest(w, "Channel required")
		return
	}

	users, err := h.Presence.Snapshot(r.Context(), channelID)
	if err != nil {
		h.Logger.Error("Failed to load presence snapshot", "channel", channelID, "error", err)
		response.InternalServerError(w, "Failed to load presence")
		return
	}

	response.JSON(w, map[string]interface{}{
		"channel":  channelID,
		"user_ids": users,
		"count":    len(users),
	})
}

func (h *RealtimeHandler) HandleGetTyping(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channel")
	if channelID == "" {
		response.BadRequest(w, "Channel required")
		return
	}

	users, err := h.Typing.Aggregate(r.Context(), channelID)
	if err != nil {
		h.Logger.Error("Failed to aggregate typing markers", "channel", channelID, "error", err)
		response.InternalServerError(w, "Failed to load typing state")
		return
	}

	response.JSON(w, map[string]interface{}{
		"channel":  channelID,
		"user_ids": users,
	})
}

// HandleUpdateSettings configure le slow mode d'un channel.
func (h *RealtimeHandler) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channel")
	if channelID == "" {
		response.BadRequest(w, "Channel required")
		return
	}

	var req ChannelSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := h.Validate.Struct(&req); err != nil {
		response.ValidationError(w, err)
		return
	}

	cooldown := time.Duration(req.SlowModeSeconds) * time.Second
	if err := h.Policy.SetSlowMode(r.Context(), channelID, cooldown); err != nil {
		h.Logger.Error("Failed to update channel settings", "channel", channelID, "error", err)
		response.InternalServerError(w, "Failed to update settings")
		return
	}

	h.Logger.Info("Channel settings updated",
		"channel", channelID,
		"slow_mode_seconds", req.SlowModeSeconds,
		"updated_by", mw.GetUserID(r.Context()))

	response.SuccessWithData(w, "Settings updated", map[string]interface{}{
		"channel":           channelID,
		"slow_mode_seconds": req.SlowModeSeconds,
	})
}

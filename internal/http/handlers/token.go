// internal/http/handlers/token.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/27willir/Botifex-sub002/internal/token"
	"github.com/27willir/Botifex-sub002/pkg/logger"
	"github.com/27willir/Botifex-sub002/pkg/response"
)

// TokenHandler issues short-lived connection tokens. In production the
// user identity comes from the platform session in front of this API.
type TokenHandler struct {
	Tokens   *token.Service
	Logger   *logger.Logger
	Validate *validator.Validate
}

type TokenRequest struct {
	UserID   string   `json:"user_id" validate:"required,min=1,max=64"`
	Channels []string `json:"channels" validate:"required,min=1,max=50,dive,min=1,max=100"`
}

func NewTokenHandler(tokens *token.Service, log *logger.Logger, validate *validator.Validate) *TokenHandler {
	return &TokenHandler{
		Tokens:   tokens,
		Logger:   log,
		Validate: validate,
	}
}

func (h *TokenHandler) HandleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := h.Validate.Struct(&req); err != nil {
		response.ValidationError(w, err)
		return
	}

	signed, ttl, err := h.Tokens.Issue(req.UserID, req.Channels)
	if err != nil {
		h.Logger.Error("Failed to issue token", "user_id", req.UserID, "error", err)
		response.InternalServerError(w, "Failed to issue token")
		return
	}

	response.JSON(w, map[string]interface{}{
		"token":      signed,
		"expires_in": int(ttl.Seconds()),
	})
}

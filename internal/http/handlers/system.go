// internal/http/handlers/system.go
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/27willir/Botifex-sub002/internal/backend"
	"github.com/27willir/Botifex-sub002/internal/realtime"
	"github.com/27willir/Botifex-sub002/pkg/logger"
	"github.com/27willir/Botifex-sub002/pkg/response"
)

// SystemHandler expose l'état du serveur. DB et RDB sont optionnels: le
// serveur peut tourner sans Postgres et sur le backend in-process.
type SystemHandler struct {
	DB      *pgxpool.Pool
	RDB     *redis.Client
	Backend backend.Backend
	Gateway *realtime.Gateway
	Logger  *logger.Logger
}

func NewSystemHandler(db *pgxpool.Pool, rdb *redis.Client, b backend.Backend,
	gw *realtime.Gateway, log *logger.Logger) *SystemHandler {
	return &SystemHandler{
		DB:      db,
		RDB:     rdb,
		Backend: b,
		Gateway: gw,
		Logger:  log,
	}
}

func (h *SystemHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.DB != nil {
		if err := h.DB.Ping(ctx); err != nil {
			response.Error(w, "Database unhealthy", http.StatusServiceUnavailable)
			return
		}
	}

	if h.RDB != nil {
		if err := h.RDB.Ping(ctx).Err(); err != nil {
			response.Error(w, "Redis unhealthy", http.StatusServiceUnavailable)
			return
		}
	}

	response.JSON(w, map[string]interface{}{
		"status":    "ok",
		"backend":   h.Backend.Name(),
		"timestamp": time.Now(),
		"version":   "1.0.0",
	})
}

func (h *SystemHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, map[string]interface{}{
		"connected_clients": h.Gateway.ClientCount(),
		"backend":           h.Backend.Name(),
		"timestamp":         time.Now(),
	})
}

// internal/http/routes.go
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/27willir/Botifex-sub002/internal/backend"
	"github.com/27willir/Botifex-sub002/internal/config"
	"github.com/27willir/Botifex-sub002/internal/http/handlers"
	mw "github.com/27willir/Botifex-sub002/internal/middleware"
	"github.com/27willir/Botifex-sub002/internal/policy"
	"github.com/27willir/Botifex-sub002/internal/realtime"
	"github.com/27willir/Botifex-sub002/internal/token"
	"github.com/27willir/Botifex-sub002/pkg/logger"
)

type Server struct {
	DB       *pgxpool.Pool
	RDB      *redis.Client
	Config   *config.Config
	Logger   *logger.Logger
	Tokens   *token.Service
	Validate *validator.Validate

	// Handlers
	System   *handlers.SystemHandler
	Token    *handlers.TokenHandler
	Realtime *handlers.RealtimeHandler
}

func NewServer(db *pgxpool.Pool, rdb *redis.Client, b backend.Backend, cfg *config.Config,
	log *logger.Logger, tokens *token.Service, gw *realtime.Gateway,
	presence *realtime.PresenceTracker, typing *realtime.TypingCoordinator,
	pol *policy.Service) *Server {
	s := &Server{
		DB:       db,
		RDB:      rdb,
		Config:   cfg,
		Logger:   log,
		Tokens:   tokens,
		Validate: validator.New(),
	}

	// Initialiser les handlers
	s.System = handlers.NewSystemHandler(db, rdb, b, gw, log)
	s.Token = handlers.NewTokenHandler(tokens, log, s.Validate)
	s.Realtime = handlers.NewRealtimeHandler(gw, presence, typing, pol, log, s.Validate)

	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(mw.Logger(s.Logger))
	r.Use(mw.Recovery(s.Logger))
	r.Use(mw.Security())
	r.Use(mw.CORS(s.Config.CORS))
	r.Use(mw.RateLimit(s.RDB, s.Config.RateLimit))
	r.Use(mw.LimitRequestSize(64 * 1024))

	r.Route("/api", func(r chi.Router) {
		// System routes
		r.Get("/health", s.System.HandleHealth)
		r.Get("/realtime/stats", s.System.HandleStats)

		// Token issuance (POST avec ContentType)
		r.Group(func(r chi.Router) {
			r.Use(mw.ContentType("application/json"))
			r.Post("/realtime/token", s.Token.HandleIssueToken)
		})

		// Public read surface, auth optionnelle
		r.Group(func(r chi.Router) {
			r.Use(mw.OptionalAuth(s.Tokens))
			r.Get("/realtime/channels/{channel}/presence", s.Realtime.HandleGetPresence)
			r.Get("/realtime/channels/{channel}/typing", s.Realtime.HandleGetTyping)
		})

		// Protected admin surface
		r.Group(func(r chi.Router) {
			r.Use(mw.Auth(s.Tokens))
			r.Use(mw.ContentType("application/json"))
			r.Put("/realtime/channels/{channel}/settings", s.Realtime.HandleUpdateSettings)
		})

		// WebSocket (le token passe en query param, vérifié par le gateway)
		r.Get("/ws", s.Realtime.HandleWebSocket)
	})

	return r
}

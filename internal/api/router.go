package api

import (
	"net/http"

	"github.com/aivira/jobchat/internal/api/handler"
	customMiddleware "github.com/aivira/jobchat/internal/api/middleware"
	"github.com/aivira/jobchat/internal/config"
	"github.com/aivira/jobchat/internal/repository/postgres"
	"github.com/aivira/jobchat/internal/repository/redis"
	"github.com/aivira/jobchat/internal/service"
	"github.com/aivira/jobchat/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, db *postgres.DB, redisClient *redis.Client) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize repositories
	sessionRepo := postgres.NewSessionRepository(db.Pool)
	messageRepo := postgres.NewMessageRepository(db.Pool)

	rateLimiter := redis.NewRateLimiter(
		redisClient,
		cfg.RateLimit.RequestsPerMinute,
		cfg.RateLimit.Burst,
	)
	activeIndex := redis.NewActiveSessionIndex(redisClient)

	// Initialize services
	chatService := service.NewChatService(sessionRepo, messageRepo, activeIndex)

	// Initialize handlers
	registry := ws.NewRegistry()
	sessionHandler := handler.NewSessionHandler(chatService, registry)
	uploadHandler := handler.NewUploadHandler(cfg.Upload)
	chatHandler := ws.NewHandler(chatService, registry, cfg.Server.AllowedOrigins)

	authMiddleware := customMiddleware.NewAuthMiddleware(cfg.Auth.JWTSecret)
	rateLimitMiddleware := customMiddleware.NewRateLimitMiddleware(rateLimiter)

	// The realtime endpoint authenticates via the owner query param because
	// browser WebSocket clients cannot set an Authorization header.
	r.Handle("/ws/chat/{sessionID}", chatHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(db))

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			r.Use(rateLimitMiddleware.Limit)

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", sessionHandler.List)
				r.Post("/", sessionHandler.Create)

				r.Route("/{sessionID}", func(r chi.Router) {
					r.Get("/", sessionHandler.Get)
					r.Delete("/", sessionHandler.Delete)
					r.Post("/messages", sessionHandler.SendMessage)
				})
			})

			r.Post("/uploads", uploadHandler.Upload)
		})
	})

	return r
}

package api

import (
	"slices"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/thomas/internal/api/middleware"
	"github.com/eldtechnologies/thomas/internal/handlers"
	"github.com/eldtechnologies/thomas/internal/store"
)

const maxBodyBytes = 16 * 1024

// RouterConfig holds the HTTP-layer settings.
type RouterConfig struct {
	AllowedOrigins []string
	RateLimit      middleware.RateLimiterConfig
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, auth *middleware.AuthMiddleware, redisStore *store.RedisStore, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(maxBodyBytes))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	limiter := middleware.NewRateLimiter(redisStore.Client(), logger, cfg.RateLimit)
	r.Use(limiter.Middleware)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: !slices.Contains(origins, "*"), // session cookie
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/health", h.Health)
	r.Get("/api", h.Root)
	r.Get("/api/user/status", h.UserStatus)
	r.Post("/api/webhooks", h.Webhook)

	// Authenticated routes (require a session)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Get("/realtime", h.Realtime)
		r.Get("/api/stats", h.Stats)

		r.Post("/api/user/status/online", h.SetOnline)
		r.Post("/api/user/status/offline", h.SetOffline)
		r.Post("/api/user/status/batch", h.BatchStatus)
		r.Post("/api/user/heartbeat", h.Heartbeat)

		r.Route("/api/friends", func(r chi.Router) {
			r.Post("/add", h.AddFriend)
			r.Post("/accept", h.AcceptFriend)
			r.Post("/deny", h.DenyFriend)
			r.Post("/unfriend", h.Unfriend)
			r.Get("/getFriends", h.GetFriends)
			r.Get("/requests", h.FriendRequests)
			r.Get("/mutual", h.MutualFriends)
		})

		r.Get("/api/users/{id}", h.GetUser)
		r.Get("/api/search/user", h.SearchUser)
		r.Get("/api/search/users/suggestions", h.Suggestions)

		r.Route("/api/messages", func(r chi.Router) {
			r.Post("/send", h.SendMessage)
			r.Post("/load-more", h.LoadMoreMessages)
			r.Post("/server/send", h.SendServerMessage)
			r.Post("/server/load-more", h.LoadMoreServerMessages)
		})

		r.Delete("/api/chats", h.DeleteChat)
		r.Post("/api/chats/setting/nickname", h.SetNickname)
		r.Get("/api/chats/setting/nickname", h.GetNicknames)

		r.Route("/api/servers", func(r chi.Router) {
			r.Get("/", h.ListServers)
			r.Post("/create", h.CreateServer)
			r.Post("/join", h.JoinServer)
			r.Post("/out", h.LeaveServer)
			r.Post("/{serverId}/rename", h.RenameServer)
			r.Get("/{serverId}/search", h.SearchServer)
		})
	})

	return r
}

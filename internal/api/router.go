package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"campusconnect/internal/chat"
	myMiddleware "campusconnect/internal/middleware"
	"campusconnect/internal/user"
)

// Pinger is a dependency whose liveness the health endpoint reports.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Logger      zerolog.Logger
	Chat        *chat.Handler
	Users       *user.Handler
	Auth        *myMiddleware.AuthMiddleware
	Registry    *chat.Registry
	Database    Pinger
	Redis       *redis.Client // optional
	RateLimit   int           // requests per minute per IP on /api; 0 disables
	FrontendURL string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(myMiddleware.Metrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(myMiddleware.Logger(d.Logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{d.FrontendURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("CampusConnect API running"))
	})
	r.Get("/health", health(d))

	r.Group(func(r chi.Router) {
		r.Use(d.Auth.Handle)
		r.Get("/ws", d.Chat.ServeWs)
	})

	r.Route("/api", func(r chi.Router) {
		if d.Redis != nil && d.RateLimit > 0 {
			limiter := myMiddleware.NewRateLimiter(d.Redis, d.RateLimit, time.Minute, d.Logger)
			r.Use(limiter.Middleware)
		}
		r.Use(d.Auth.Handle)

		r.Post("/messages", d.Chat.CreateMessage)
		r.Get("/messages/unread/count", d.Chat.UnreadCount)
		r.Get("/messages/stats", d.Chat.Stats)
		r.Put("/messages/read/{conversationId}", d.Chat.MarkRead)
		r.Get("/messages/{userId1}/{userId2}", d.Chat.GetHistory)

		r.Get("/conversations", d.Chat.ListConversations)

		r.Post("/users/online-status", d.Chat.OnlineStatus)
		r.Get("/users/{userId}", d.Users.GetUser)
	})

	return r
}

type check struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
}

type healthResponse struct {
	Status      string           `json:"status"`
	Timestamp   string           `json:"timestamp"`
	OnlineUsers int              `json:"onlineUsers"`
	Checks      map[string]check `json:"checks"`
}

func health(d Deps) http.HandlerFunc {
	started := time.Now()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		checks := map[string]check{}
		healthy := true
		probe := func(name string, ping func(context.Context) error) {
			start := time.Now()
			if err := ping(ctx); err != nil {
				checks[name] = check{Status: "fail"}
				healthy = false
				return
			}
			checks[name] = check{Status: "pass", Latency: time.Since(start).String()}
		}
		if d.Database != nil {
			probe("database", d.Database.Ping)
		}
		if d.Redis != nil {
			probe("redis", func(ctx context.Context) error { return d.Redis.Ping(ctx).Err() })
		}

		resp := healthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
			OnlineUsers: d.Registry.Len(),
			Checks:      checks,
		}
		status := http.StatusOK
		if !healthy {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Uptime", time.Since(started).Truncate(time.Second).String())
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	}
}

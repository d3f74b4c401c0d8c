package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"chatsync/internal/security"
	"chatsync/internal/service"
	"chatsync/internal/ws"
)

type Deps struct {
	Chats          *service.ChatService
	Messages       *service.MessageService
	Profiles       *service.ProfileService
	Hub            *ws.Hub
	Tokens         *security.TokenService
	AllowedOrigins []string
	Log            *zap.Logger
}

// NewRouter constructs the main HTTP router and wires routes, services, and middleware.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Log))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(AuthMiddleware(d.Tokens))

		// creating one's own profile is the only call allowed before it exists
		r.Post("/profiles", handleCreateProfile(d.Profiles))

		r.Group(func(r chi.Router) {
			r.Use(ProvisionMiddleware(d.Profiles))

			r.Route("/chats", func(r chi.Router) {
				r.Get("/", handleListChats(d.Chats))
				r.Post("/", handleCreateChat(d.Chats))
				r.Route("/{chatID}", func(r chi.Router) {
					r.Get("/", handleGetChat(d.Chats))
					r.Post("/touch", handleTouchChat(d.Chats))
					r.Get("/participants", handleListParticipants(d.Chats))
					r.Post("/participants", handleAddParticipants(d.Chats))
					r.Get("/participants/{userID}", handleIsParticipant(d.Chats))
					r.Delete("/participants/{userID}", handleRemoveParticipant(d.Chats))
					r.Get("/messages", handleListMessages(d.Messages))
					r.Post("/messages", handleCreateMessage(d.Messages))
					r.Post("/read", handleMarkRead(d.Messages))
				})
			})

			r.Get("/messages/{messageID}", handleGetMessage(d.Messages))

			r.Get("/profiles", handleSearchProfiles(d.Profiles))
			r.Get("/profiles/{userID}", handleGetProfile(d.Profiles))
			r.Put("/profiles/{userID}/status", handleUpdateStatus(d.Profiles))
			r.Post("/profiles/{userID}/ping", handlePing(d.Profiles))
		})
	})

	r.Get("/ws", ws.MakeHandler(d.Hub, d.Tokens, d.AllowedOrigins, d.Log))

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	log = log.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

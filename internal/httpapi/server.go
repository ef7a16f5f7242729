// Package httpapi exposes the synchronizer over HTTP and WebSocket. It is
// the only surface; clients hold no store credentials.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/emberchat/emberd/internal/blob"
	"github.com/emberchat/emberd/internal/convo"
	"github.com/emberchat/emberd/internal/identity"
	"github.com/emberchat/emberd/internal/status"
)

// Server carries the handler dependencies.
type Server struct {
	convos   *convo.Service
	accounts *identity.Service
	blobs    *blob.Store
	machine  *status.Machine
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewServer creates the API server. blobs may be nil when no object store is
// configured; picture endpoints then report unavailable.
func NewServer(convos *convo.Service, accounts *identity.Service, blobs *blob.Store, machine *status.Machine, logger *zap.Logger) *Server {
	return &Server{
		convos:   convos,
		accounts: accounts,
		blobs:    blobs,
		machine:  machine,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Routes assembles the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Post("/auth/logout", s.handleLogout)

			r.Get("/users", s.handleListUsers)
			r.Get("/users/{key}", s.handleUserData)
			r.Post("/users/{key}/picture", s.handleUploadPicture)
			r.Get("/users/{key}/picture", s.handlePictureURL)

			r.Get("/conversations/exists", s.handleConversationExists)
			r.Post("/conversations", s.handleCreateConversation)
			r.Post("/conversations/{id}/messages", s.handleSendMessage)
			r.Delete("/conversations/{id}", s.handleDeleteConversation)

			r.Get("/conversations/ws", s.handleConversationsWS)
			r.Get("/conversations/{id}/messages/ws", s.handleMessagesWS)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": string(s.machine.Current())})
}

func respond(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respond(w, code, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

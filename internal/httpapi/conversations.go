package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/emberchat/emberd/internal/convo"
)

func (s *Server) handleConversationExists(w http.ResponseWriter, r *http.Request) {
	counterparty := r.URL.Query().Get("with")
	if counterparty == "" {
		respondError(w, http.StatusBadRequest, "missing 'with' query parameter")
		return
	}
	counterparty = convo.NormalizeKey(counterparty)

	id, err := s.convos.ConversationExists(r.Context(), accountFrom(r).Key, counterparty)
	if errors.Is(err, convo.ErrNotFound) {
		respondError(w, http.StatusNotFound, "no conversation with that user")
		return
	}
	if err != nil {
		s.logger.Error("conversation lookup failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	respond(w, http.StatusOK, map[string]string{"id": id})
}

type createConversationRequest struct {
	CounterpartyKey  string       `json:"counterparty_key"`
	CounterpartyName string       `json:"counterparty_name"`
	Message          messageInput `json:"message"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CounterpartyKey == "" {
		respondError(w, http.StatusBadRequest, "counterparty_key is required")
		return
	}

	acct := accountFrom(r)
	id, err := s.convos.CreateConversation(r.Context(), convo.CreateParams{
		SelfKey:          acct.Key,
		SelfName:         s.displayName(r.Context(), acct.Key),
		CounterpartyKey:  convo.NormalizeKey(req.CounterpartyKey),
		CounterpartyName: req.CounterpartyName,
		FirstMessage:     req.Message.toMessage(),
	})
	switch {
	case errors.Is(err, convo.ErrUserNotFound):
		respondError(w, http.StatusForbidden, "acting user has no registered profile")
	case errors.Is(err, convo.ErrInvalidMessage):
		respondError(w, http.StatusBadRequest, "invalid message")
	case err != nil:
		s.logger.Error("create conversation failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "create failed")
	default:
		respond(w, http.StatusCreated, map[string]string{"id": id})
	}
}

type sendMessageRequest struct {
	CounterpartyKey  string       `json:"counterparty_key"`
	CounterpartyName string       `json:"counterparty_name"`
	Message          messageInput `json:"message"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CounterpartyKey == "" {
		respondError(w, http.StatusBadRequest, "counterparty_key is required")
		return
	}

	acct := accountFrom(r)
	err := s.convos.SendMessage(r.Context(), convo.SendParams{
		ConversationID:   chi.URLParam(r, "id"),
		SenderKey:        acct.Key,
		SenderName:       s.displayName(r.Context(), acct.Key),
		CounterpartyKey:  convo.NormalizeKey(req.CounterpartyKey),
		CounterpartyName: req.CounterpartyName,
		Message:          req.Message.toMessage(),
	})
	switch {
	case errors.Is(err, convo.ErrConversationNotFound):
		respondError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, convo.ErrInvalidMessage):
		respondError(w, http.StatusBadRequest, "invalid message")
	case err != nil:
		s.logger.Error("send message failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "send failed")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	err := s.convos.DeleteConversation(r.Context(), accountFrom(r).Key, chi.URLParam(r, "id"))
	if errors.Is(err, convo.ErrNotFound) {
		respondError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("delete conversation failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// displayName resolves a user's directory name from their profile node,
// falling back to the key when the node is missing or unreadable.
func (s *Server) displayName(ctx context.Context, key string) string {
	doc, err := s.convos.UserData(ctx, key)
	if err != nil {
		return key
	}
	var profile struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := json.Unmarshal(doc, &profile); err != nil || profile.FirstName == "" {
		return key
	}
	return profile.FirstName + " " + profile.LastName
}

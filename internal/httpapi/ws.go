package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// handleConversationsWS streams the authed user's conversation list. Every
// frame is a full snapshot of the list, ordered oldest first.
func (s *Server) handleConversationsWS(w http.ResponseWriter, r *http.Request) {
	stream, err := s.convos.Conversations(r.Context(), accountFrom(r).Key)
	if err != nil {
		s.logger.Error("conversation subscription failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "subscription failed")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		stream.Close()
		return
	}
	defer conn.Close()
	defer stream.Close()

	go discardReads(conn, stream.Close)

	for refs := range stream.Updates() {
		if err := conn.WriteJSON(conversationsOut(refs)); err != nil {
			return
		}
	}
}

// handleMessagesWS streams a conversation's message log, full snapshot per
// frame.
func (s *Server) handleMessagesWS(w http.ResponseWriter, r *http.Request) {
	stream, err := s.convos.Messages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("message subscription failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "subscription failed")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		stream.Close()
		return
	}
	defer conn.Close()
	defer stream.Close()

	go discardReads(conn, stream.Close)

	for msgs := range stream.Updates() {
		if err := conn.WriteJSON(messagesOut(msgs)); err != nil {
			return
		}
	}
}

// discardReads drains the client side of the socket so close frames are
// noticed, then tears down the snapshot stream.
func discardReads(conn *websocket.Conn, stop func()) {
	defer stop()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

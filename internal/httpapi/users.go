package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/emberchat/emberd/internal/blob"
	"github.com/emberchat/emberd/internal/convo"
)

// maxPictureBytes bounds profile picture uploads.
const maxPictureBytes = 5 << 20

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.convos.AllUsers(r.Context())
	if errors.Is(err, convo.ErrNotFound) {
		respond(w, http.StatusOK, []convo.DirectoryEntry{})
		return
	}
	if err != nil {
		s.logger.Error("list users failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "list users failed")
		return
	}
	respond(w, http.StatusOK, users)
}

func (s *Server) handleUserData(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	doc, err := s.convos.UserData(r.Context(), key)
	if errors.Is(err, convo.ErrNotFound) {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.logger.Error("read user failed", zap.Error(err), zap.String("key", key))
		respondError(w, http.StatusInternalServerError, "read user failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(doc)
}

func (s *Server) handleUploadPicture(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		respondError(w, http.StatusServiceUnavailable, "blob store not configured")
		return
	}
	key := chi.URLParam(r, "key")
	if key != accountFrom(r).Key {
		respondError(w, http.StatusForbidden, "cannot modify another user's picture")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxPictureBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "read upload failed")
		return
	}
	if len(data) == 0 {
		respondError(w, http.StatusBadRequest, "empty upload")
		return
	}
	if len(data) > maxPictureBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "picture too large")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}

	path := blob.ProfilePicturePath(key)
	if err := s.blobs.Upload(r.Context(), path, data, contentType); err != nil {
		s.logger.Error("picture upload failed", zap.Error(err), zap.String("key", key))
		respondError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	url, err := s.blobs.DownloadURL(r.Context(), path)
	if err != nil {
		s.logger.Error("picture url failed", zap.Error(err), zap.String("key", key))
		respondError(w, http.StatusInternalServerError, "upload succeeded but url generation failed")
		return
	}
	respond(w, http.StatusCreated, map[string]string{"url": url})
}

func (s *Server) handlePictureURL(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		respondError(w, http.StatusServiceUnavailable, "blob store not configured")
		return
	}
	key := chi.URLParam(r, "key")

	url, err := s.blobs.DownloadURL(r.Context(), blob.ProfilePicturePath(key))
	if err != nil {
		s.logger.Error("picture url failed", zap.Error(err), zap.String("key", key))
		respondError(w, http.StatusInternalServerError, "url generation failed")
		return
	}
	respond(w, http.StatusOK, map[string]string{"url": url})
}

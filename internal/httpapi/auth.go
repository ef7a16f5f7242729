package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/emberchat/emberd/internal/convo"
	"github.com/emberchat/emberd/internal/identity"
)

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" || req.FirstName == "" || req.LastName == "" {
		respondError(w, http.StatusBadRequest, "email, password, first_name and last_name are required")
		return
	}

	acct, err := s.accounts.CreateAccount(r.Context(), req.Email, req.Password)
	if errors.Is(err, identity.ErrAccountExists) {
		respondError(w, http.StatusConflict, "account already exists")
		return
	}
	if err != nil {
		s.logger.Error("create account failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	err = s.convos.RegisterUser(r.Context(), convo.User{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		// The account exists but the profile write failed; registration is
		// safe to retry and the directory upsert is idempotent.
		s.logger.Error("register user failed", zap.Error(err), zap.String("key", acct.Key))
		respondError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	respond(w, http.StatusCreated, map[string]string{"key": acct.Key, "email": acct.Email})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	token, acct, err := s.accounts.SignIn(r.Context(), req.Email, req.Password)
	if errors.Is(err, identity.ErrInvalidCredentials) {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		s.logger.Error("sign-in failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "sign-in failed")
		return
	}

	respond(w, http.StatusOK, map[string]string{
		"token": token,
		"key":   acct.Key,
		"email": acct.Email,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.SignOut(r.Context(), tokenFrom(r)); err != nil {
		s.logger.Error("sign-out failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "sign-out failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

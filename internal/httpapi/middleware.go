package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/emberchat/emberd/internal/identity"
)

type contextKey string

const (
	accountContextKey contextKey = "account"
	tokenContextKey   contextKey = "token"
)

// requireAuth validates the bearer token (or ?token= for WebSocket clients,
// which cannot set headers from a browser) and injects the account into the
// request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""

		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}
		if tokenString == "" {
			respondError(w, http.StatusUnauthorized, "missing authentication token")
			return
		}

		acct, err := s.accounts.CurrentAccount(r.Context(), tokenString)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), accountContextKey, acct)
		ctx = context.WithValue(ctx, tokenContextKey, tokenString)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accountFrom(r *http.Request) identity.Account {
	acct, _ := r.Context().Value(accountContextKey).(identity.Account)
	return acct
}

func tokenFrom(r *http.Request) string {
	token, _ := r.Context().Value(tokenContextKey).(string)
	return token
}

package mw

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/smartmark/internal/bookmarks"
	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
	"github.com/MrSnakeDoc/smartmark/internal/remote"
)

// SessionCookie holds the access token between page loads.
const SessionCookie = "smartmark_session"

type ctxKey int

const (
	sessionKey ctxKey = iota
	clientKey
	accessKey
)

// Token extracts the access token from the Authorization header or the session cookie.
func Token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// RequireSession resolves the caller's session and rejects the request with 401 when
// there is none. The session and the bound client are stored on the request context.
func RequireSession(backend remote.Backend, guard *bookmarks.Guard, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := Token(r)
			if token == "" {
				unauthorized(w)
				return
			}
			client := backend.ForToken(token)
			s, ok := guard.Resolve(r.Context(), client)
			if !ok {
				log.Debug("RequireSession: no session", logger.String("path", r.URL.Path))
				unauthorized(w)
				return
			}

			TagOwner(r.Context(), s.UserID)

			ctx := context.WithValue(r.Context(), sessionKey, s)
			ctx = context.WithValue(ctx, clientKey, client)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
}

// SessionFrom returns the session stored by RequireSession, or nil.
func SessionFrom(ctx context.Context) *domain.Session {
	s, _ := ctx.Value(sessionKey).(*domain.Session)
	return s
}

// ClientFrom returns the token-bound client stored by RequireSession, or nil.
func ClientFrom(ctx context.Context) remote.Client {
	c, _ := ctx.Value(clientKey).(remote.Client)
	return c
}

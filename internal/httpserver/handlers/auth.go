package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/smartmark/internal/auth"
	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/httpserver/deps"
	"github.com/MrSnakeDoc/smartmark/internal/httpserver/mw"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
)

type sessionRequest struct {
	AccessToken string `json:"access_token" validate:"required"`
}

// Login redirects to the backend's OAuth entry point, asking it to come back to /dashboard.
func Login(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := strings.TrimSpace(r.URL.Query().Get("provider"))
		if provider == "" {
			provider = d.Provider
		}

		target, err := d.Backend.SignInURL(provider, publicBase(d, r)+"/dashboard")
		if err != nil {
			d.Logger.Warn("sign-in url failed", logger.String("provider", provider), logger.Error(err))
			writeError(w, http.StatusBadRequest, "unsupported sign-in provider")
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
	}
}

// Session adopts the access token handed back by the OAuth flow: it is checked
// against the backend, stored in an HttpOnly cookie and announced as SIGNED_IN.
func Session(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sessionRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		if err := d.Validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "access_token is required")
			return
		}

		ctx, cancel := remoteCtx(r.Context(), d)
		defer cancel()
		s, ok := d.Guard.Resolve(ctx, d.Backend.ForToken(req.AccessToken))
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		cookie := &http.Cookie{
			Name:     mw.SessionCookie,
			Value:    req.AccessToken,
			Path:     "/",
			HttpOnly: true,
			Secure:   d.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		}
		if !s.ExpiresAt.IsZero() {
			cookie.Expires = s.ExpiresAt
		}
		http.SetCookie(w, cookie)

		d.Hub.Publish(auth.Event{Kind: auth.SignedIn, Token: req.AccessToken, Session: s})
		d.Logger.Info("signed in", logger.String("user", s.UserID))
		writeJSON(w, http.StatusOK, domain.ProfileOf(s))
	}
}

// Logout signs the token out remotely, clears the cookie and tells every view
// bound to the token. The browser lands back on the landing page either way.
func Logout(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token := mw.Token(r); token != "" {
			ctx, cancel := remoteCtx(r.Context(), d)
			if err := d.Backend.ForToken(token).SignOut(ctx); err != nil {
				d.Logger.Warn("remote sign-out failed", logger.Error(err))
			}
			cancel()
			d.Hub.Publish(auth.Event{Kind: auth.SignedOut, Token: token})
		}

		http.SetCookie(w, &http.Cookie{
			Name:     mw.SessionCookie,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   d.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

// publicBase is the configured public URL, or the request's own origin.
func publicBase(d deps.Deps, r *http.Request) string {
	if d.PublicURL != "" {
		return strings.TrimRight(d.PublicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil || (d.TrustProxy && r.Header.Get("X-Forwarded-Proto") == "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/xid"

	"github.com/bbmw0/stack-server/internal/auth"
	"github.com/bbmw0/stack-server/internal/service"
)

// stateCookie holds the OAuth CSRF state between the redirect to the
// provider and the callback.
const stateCookie = "oauth_state"

// AuthHandler serves the OAuth login flow, session management, and the
// display name availability check.
type AuthHandler struct {
	providers map[string]*auth.Provider
	tokens    *auth.TokenService
	identity  *service.IdentityService
	secure    bool
	logger    *slog.Logger
}

// NewAuthHandler creates an AuthHandler. secure controls the Secure
// flag on the cookies it sets; pass true when serving over HTTPS.
func NewAuthHandler(providers []*auth.Provider, tokens *auth.TokenService, identity *service.IdentityService, secure bool, logger *slog.Logger) *AuthHandler {
	byName := make(map[string]*auth.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &AuthHandler{
		providers: byName,
		tokens:    tokens,
		identity:  identity,
		secure:    secure,
		logger:    logger,
	}
}

// HandleLogin redirects the browser to the provider's consent page.
//
// HTTP: GET /auth/{provider}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.providers[chi.URLParam(r, "provider")]
	if !ok {
		http.NotFound(w, r)
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, provider.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleCallback finishes the OAuth flow: it verifies the state,
// exchanges the code for a profile, upserts the user, and sets the
// session cookie.
//
// HTTP: GET /auth/{provider}/callback
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.providers[chi.URLParam(r, "provider")]
	if !ok {
		http.NotFound(w, r)
		return
	}

	// Providers report user denial via an error query param.
	if errCode := r.URL.Query().Get("error"); errCode != "" {
		h.logger.Info("oauth callback rejected",
			slog.String("provider", provider.Name()),
			slog.String("error", errCode))
		http.Redirect(w, r, "/?auth=failed", http.StatusTemporaryRedirect)
		return
	}

	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		h.logger.Warn("oauth state mismatch", slog.String("provider", provider.Name()))
		http.Redirect(w, r, "/?auth=failed", http.StatusTemporaryRedirect)
		return
	}
	h.clearCookie(w, stateCookie)

	profile, err := provider.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		h.logger.Error("oauth exchange failed",
			slog.String("provider", provider.Name()),
			slog.String("error", err.Error()))
		http.Redirect(w, r, "/?auth=failed", http.StatusTemporaryRedirect)
		return
	}

	user, err := h.identity.ResolveProvider(r.Context(), provider.Name(), profile)
	if err != nil {
		h.logger.Error("resolving oauth user failed",
			slog.String("provider", provider.Name()),
			slog.String("error", err.Error()))
		http.Redirect(w, r, "/?auth=failed", http.StatusTemporaryRedirect)
		return
	}

	token, err := h.tokens.Generate(user.ID)
	if err != nil {
		h.logger.Error("issuing session token failed", slog.String("error", err.Error()))
		http.Redirect(w, r, "/?auth=failed", http.StatusTemporaryRedirect)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(auth.SessionDuration.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, "/?auth=success", http.StatusTemporaryRedirect)
}

// HandleLogout clears the session cookie.
//
// HTTP: POST /auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.clearCookie(w, auth.SessionCookie)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// HandleMe reports whether the request carries a valid session and, if
// so, the full user record.
//
// HTTP: GET /api/me (OptionalAuth)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"loggedIn": false})
		return
	}

	user, err := h.identity.User(r.Context(), userID)
	if err != nil {
		// A valid token for a user that no longer exists reads as
		// logged out rather than as an error.
		writeJSON(w, http.StatusOK, map[string]any{"loggedIn": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"loggedIn": true,
		"user":     user,
	})
}

// HandleProviders lists which login providers are configured.
//
// HTTP: GET /api/auth-providers
func (h *AuthHandler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	_, google := h.providers["google"]
	_, linkedin := h.providers["linkedin"]
	writeJSON(w, http.StatusOK, map[string]any{
		"google":   google,
		"linkedin": linkedin,
		"apple":    false,
	})
}

// HandleCheckName reports whether a display name can be claimed. An
// optional deviceId excludes the caller's own anonymous account.
//
// HTTP: GET /api/check-name?name=...&deviceId=...
func (h *AuthHandler) HandleCheckName(w http.ResponseWriter, r *http.Request) {
	// An empty or missing name is simply not available, never an error.
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		writeJSON(w, http.StatusOK, map[string]any{"available": false})
		return
	}

	available, err := h.identity.IsNameAvailableForDevice(r.Context(), name, r.URL.Query().Get("deviceId"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"available": available})
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

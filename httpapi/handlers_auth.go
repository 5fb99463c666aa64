package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/auth"
)

const (
	stateCookie   = "oauth_state"
	sessionExpiry = 24 * time.Hour
)

func isSecure(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}

// handleLogin starts the Microsoft OAuth flow. The random state is pinned in
// a short-lived cookie and checked on callback.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		Secure:   isSecure(r),
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline), http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	stateParam := r.URL.Query().Get("state")
	cookie, err := r.Cookie(stateCookie)
	if err != nil || stateParam == "" || cookie.Value != stateParam {
		writeError(w, 400, fmt.Errorf("estado OAuth inválido"))
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, MaxAge: -1, Path: "/"})

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, 400, fmt.Errorf("código OAuth ausente"))
		return
	}

	user, err := auth.FetchMicrosoftUser(r.Context(), s.oauth, code)
	if err != nil {
		s.logger.Error("oauth exchange failed", "error", err)
		writeError(w, 502, fmt.Errorf("error de autenticación"))
		return
	}

	if !s.loginAllowed(r.Context(), user.Email) {
		s.logger.Warn("login rejected, not whitelisted", "email", user.Email)
		writeJSON(w, 403, map[string]string{
			"error": "Acceso denegado: su correo no está autorizado.",
		})
		return
	}

	claims := &auth.SessionClaims{
		Name:  user.Name,
		Email: user.Email,
		Admin: s.isAdmin(user.Email),
	}
	token, err := auth.GenerateToken(s.secret, claims, sessionExpiry)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	s.photos.Put(user.Email, user.Photo)
	auth.SetSessionCookie(w, token, isSecure(r))

	s.logger.Info("user logged in", "email", user.Email, "admin", claims.Admin)
	http.Redirect(w, r, "/", http.StatusFound)
}

// loginAllowed reports whether the email may establish a session. Admins
// bypass the whitelist: a fresh install has an empty whitelist and an admin
// has to be able to log in to populate it.
func (s *Server) loginAllowed(ctx context.Context, email string) bool {
	return s.isAdmin(email) || s.whitelist.Allowed(ctx, email)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusFound)
}

// handleMe describes the current session, photo included.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	c := auth.FromContext(r.Context())
	writeJSON(w, 200, map[string]any{
		"name":  c.Name,
		"email": c.Email,
		"admin": c.Admin,
		"photo": s.photos.Get(c.Email, c.Name),
	})
}

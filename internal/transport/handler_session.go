package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pitabwire/fedipanel/internal/config"
	"github.com/pitabwire/fedipanel/model"
)

// Session metric events.
const (
	sessionLogin       = "login"
	sessionLoginFailed = "login_failed"
	sessionLogout      = "logout"
)

// maxLoginBody bounds the login request body.
const maxLoginBody = 64 << 10

// sessionResponse is the client view of a session. The backend token never
// leaves the server.
type sessionResponse struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Username  string    `json:"username"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expires_at"`
}

func newSessionResponse(s *model.Session) sessionResponse {
	roles := s.Roles
	if roles == nil {
		roles = []string{}
	}
	return sessionResponse{
		ID:        s.ID,
		AccountID: s.AccountID,
		Username:  s.Username,
		Roles:     roles,
		ExpiresAt: s.ExpiresAt,
	}
}

// loginToken reads the bearer token from the Authorization header or from a
// JSON body {"token": "..."}.
func loginToken(r *http.Request) (string, error) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			return "", model.NewUnauthorizedError("invalid authorization header format")
		}
		return strings.TrimSpace(token), nil
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxLoginBody)).Decode(&body); err != nil && err != io.EOF {
		return "", model.NewBadRequestError("malformed login body")
	}
	if body.Token == "" {
		return "", model.NewUnauthorizedError("missing token")
	}
	return body.Token, nil
}

func handleLogin(sessions SessionService, cfg config.SessionConfig, record func(string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := loginToken(r)
		if err != nil {
			record(sessionLoginFailed)
			fail(w, r, err)
			return
		}

		sess, err := sessions.Login(r.Context(), token)
		if err != nil {
			record(sessionLoginFailed)
			fail(w, r, err)
			return
		}
		record(sessionLogin)

		http.SetCookie(w, &http.Cookie{
			Name:     cfg.CookieName,
			Value:    sess.ID,
			Path:     "/",
			Expires:  sess.ExpiresAt,
			HttpOnly: true,
			Secure:   cfg.Secure,
			SameSite: http.SameSiteLaxMode,
		})
		WriteJSON(w, http.StatusCreated, newSessionResponse(sess))
	}
}

func handleCurrentSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())
		WriteJSON(w, http.StatusOK, newSessionResponse(rctx.Session))
	}
}

func handleLogout(sessions SessionService, cfg config.SessionConfig, record func(string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())
		if err := sessions.End(r.Context(), rctx.Session.ID); err != nil {
			fail(w, r, err)
			return
		}
		record(sessionLogout)

		http.SetCookie(w, &http.Cookie{
			Name:     cfg.CookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   cfg.Secure,
			SameSite: http.SameSiteLaxMode,
		})
		w.WriteHeader(http.StatusNoContent)
	}
}

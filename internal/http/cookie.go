package http

import (
	"net/http"
	"time"

	"fluent-auth/internal/auth"
)

// SessionCookieName is the cookie carrying the signed session token.
const SessionCookieName = "token"

// SessionCookies binds session tokens to the response. Attach and Clear emit
// identical attributes so browsers always match the cookie being removed.
type SessionCookies struct {
	Secure bool
}

func NewSessionCookies(production bool) SessionCookies {
	return SessionCookies{Secure: production}
}

func (s SessionCookies) Attach(w http.ResponseWriter, token string) {
	c := s.base()
	c.Value = token
	c.MaxAge = int(auth.TokenTTL / time.Second)
	http.SetCookie(w, c)
}

func (s SessionCookies) Clear(w http.ResponseWriter) {
	c := s.base()
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)
	http.SetCookie(w, c)
}

// Read returns the raw token, or false when the cookie is absent or empty.
func (s SessionCookies) Read(r *http.Request) (string, bool) {
	c, err := r.Cookie(SessionCookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func (s SessionCookies) base() *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

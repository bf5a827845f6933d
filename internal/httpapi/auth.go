package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

type contextKey string

const userIDKey contextKey = "userID"

// sessionClaims is the cookie token payload.
type sessionClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

func (h *Handler) issueToken(userID, email string) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(h.opts.TokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(h.opts.Secret)
	if err != nil {
		return "", errors.Wrap(err, "httpapi.issueToken")
	}
	return signed, nil
}

func (h *Handler) parseToken(raw string) (*sessionClaims, error) {
	claims := new(sessionClaims)
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return h.opts.Secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// sessionUserID resolves the authenticated user from the request cookie.
// Returns "" when the cookie is absent, expired, or forged.
func (h *Handler) sessionUserID(r *http.Request) string {
	cookie, err := r.Cookie(h.opts.CookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	claims, err := h.parseToken(cookie.Value)
	if err != nil {
		return ""
	}
	return claims.UserID
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.opts.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.opts.TokenTTL / time.Second),
		HttpOnly: true,
		Secure:   h.opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.opts.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// requireAuth rejects requests without a valid session cookie and stores the
// caller's identity on the request context.
func (h *Handler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := h.sessionUserID(r)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

func currentUserID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const hostCookieName = "host_token"

var errNoSession = errors.New("no valid session")

// HostTokens issues and verifies the signed access tokens that identify a
// host. The token subject is the host id.
type HostTokens struct {
	secret []byte
	ttl    time.Duration
}

func NewHostTokens(secret string, ttl time.Duration) *HostTokens {
	return &HostTokens{secret: []byte(secret), ttl: ttl}
}

func (t *HostTokens) Issue(hostID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   hostID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing host token: %w", err)
	}
	return signed, nil
}

// Parse returns the host id carried by a valid, unexpired token.
func (t *HostTokens) Parse(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errNoSession
	}
	return claims.Subject, nil
}

func (t *HostTokens) setCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     hostCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(t.ttl / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearHostCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     hostCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func bearerToken(r *http.Request) string {
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found {
		return ""
	}
	return strings.TrimSpace(token)
}

// hostFromRequest reads the host token from the cookie, falling back to the
// Authorization header.
func hostFromRequest(r *http.Request, tokens *HostTokens) (string, error) {
	if cookie, err := r.Cookie(hostCookieName); err == nil && cookie.Value != "" {
		if id, err := tokens.Parse(cookie.Value); err == nil {
			return id, nil
		}
	}
	if token := bearerToken(r); token != "" {
		return tokens.Parse(token)
	}
	return "", errNoSession
}

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/config"
)

// ErrAuthDisabled is returned by IssueToken when no secret is configured.
var ErrAuthDisabled = errors.New("api: token signing secret not configured")

// defaultTokenTTL applies when security.auth.token_ttl is unset.
const defaultTokenTTL = 24 * time.Hour

// IssueToken signs an HS256 bearer token for subject.
//
// Parameters:
//   - cfg: Auth settings (secret, issuer, TTL in minutes)
//   - subject: Value of the "sub" claim, e.g. the name of the calling system
//   - now: Issue time
//
// Returns:
//   - string: Signed token
//   - time.Time: Expiry
//   - error: ErrAuthDisabled without a secret, or a signing error
func IssueToken(cfg config.AuthConfig, subject string, now time.Time) (string, time.Time, error) {
	if cfg.JWTSecret == "" {
		return "", time.Time{}, ErrAuthDisabled
	}

	ttl := time.Duration(cfg.TokenTTL) * time.Minute
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	expires := now.Add(ttl)

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expires, nil
}

// verifyToken parses and validates a bearer token against cfg.
func verifyToken(cfg config.AuthConfig, raw string) (*jwt.RegisteredClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// bearerToken extracts the token from the Authorization header. WebSocket
// clients that cannot set headers may pass it as ?access_token= instead.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

// authMiddleware rejects requests without a valid bearer token when
// security.auth.enabled is set. Otherwise it passes every request through.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.secCfg.Auth.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		raw := bearerToken(r)
		if raw == "" {
			writeUnauthorized(w, "bearer token required")
			return
		}

		claims, err := verifyToken(s.secCfg.Auth, raw)
		if err != nil {
			s.logger.Debug("rejected bearer token",
				"error", err,
				"request_id", requestIDFrom(r.Context()),
			)
			writeUnauthorized(w, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(withSubject(r.Context(), claims.Subject)))
	})
}

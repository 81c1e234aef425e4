package middleware

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

type contextKey string

const UserIDContextKey contextKey = "user_id"

// SessionCookie is the cookie the session provider sets for same-site requests.
const SessionCookie = "__session"

var (
	ErrMissingToken  = errors.New("missing session token")
	ErrInvalidToken  = errors.New("invalid session token")
	ErrNotConfigured = errors.New("session verification not configured")
)

// sessionClaims are the claims carried by a session provider JWT.
type sessionClaims struct {
	jwt.RegisteredClaims
	AuthorizedParty string `json:"azp,omitempty"`
	SessionID       string `json:"sid,omitempty"`
}

// AuthConfig configures session verification.
type AuthConfig struct {
	PublicKeyPEM      string   // PEM encoded RSA public key
	Issuer            string   // required iss when set
	AuthorizedParties []string // allowed azp values when set
	Now               func() time.Time
}

// AuthMiddleware verifies session JWTs for authenticated endpoints.
type AuthMiddleware struct {
	key     *rsa.PublicKey
	parties []string
	parser  *jwt.Parser
	logger  zerolog.Logger
}

// NewAuthMiddleware creates a new auth middleware. An empty key yields a
// middleware that rejects every request.
func NewAuthMiddleware(logger zerolog.Logger, cfg AuthConfig) (*AuthMiddleware, error) {
	m := &AuthMiddleware{
		parties: cfg.AuthorizedParties,
		logger:  logger,
	}

	if strings.TrimSpace(cfg.PublicKeyPEM) != "" {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("parse session public key: %w", err)
		}
		m.key = key
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5 * time.Second),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(cfg.Now))
	}
	m.parser = jwt.NewParser(opts...)

	return m, nil
}

// Verify validates a session token and returns its subject.
func (m *AuthMiddleware) Verify(token string) (string, error) {
	if m.key == nil {
		return "", ErrNotConfigured
	}
	if token == "" {
		return "", ErrMissingToken
	}

	var claims sessionClaims
	_, err := m.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.key, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if len(m.parties) > 0 && claims.AuthorizedParty != "" && !slices.Contains(m.parties, claims.AuthorizedParty) {
		return "", fmt.Errorf("%w: unauthorized party %q", ErrInvalidToken, claims.AuthorizedParty)
	}

	return claims.Subject, nil
}

// RequireAuth rejects requests without a valid session and stores the user ID in the context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := m.Verify(TokenFromRequest(r))
		if err != nil {
			if !errors.Is(err, ErrMissingToken) {
				m.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("session rejected")
			}
			jsonError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// TokenFromRequest extracts a bearer token, falling back to the session cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// IssueSessionToken signs a session token for userID. It is used for local
// development and tests; production tokens come from the session provider.
func IssueSessionToken(key *rsa.PrivateKey, userID, issuer string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// WithUserID returns a context carrying the authenticated user ID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDContextKey, userID)
}

// UserIDFromContext retrieves the authenticated user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(UserIDContextKey).(string)
	return userID
}

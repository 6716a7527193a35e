package sessiontoken

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultAccessTTL is the default lifetime for session access tokens.
	DefaultAccessTTL = 60 * time.Minute
	// oauthStateTTL bounds how long a GitHub OAuth round trip may take.
	oauthStateTTL = 10 * time.Minute

	oauthStatePurpose = "github_oauth_state"
)

var (
	// ErrInvalidToken covers expired, malformed, or mis-signed tokens.
	ErrInvalidToken = errors.New("sessiontoken: invalid token")
	// ErrWrongPurpose indicates a structurally valid JWT used in the wrong
	// role, e.g. an access token presented as an OAuth state.
	ErrWrongPurpose = errors.New("sessiontoken: wrong token purpose")
)

// Manager issues and verifies HS256 session tokens and typed GitHub OAuth
// state tokens from a single shared secret.
type Manager struct {
	secret    []byte
	accessTTL time.Duration
}

type stateClaims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// NewManager builds a Manager. A non-positive TTL falls back to the default.
func NewManager(secret string, accessTTL time.Duration) (*Manager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("sessiontoken: signing secret required")
	}
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	return &Manager{secret: []byte(secret), accessTTL: accessTTL}, nil
}

// NewAccessToken issues a session token for the user.
func (m *Manager) NewAccessToken(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("sessiontoken: user id required")
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// VerifyUserID validates a session token and returns its subject. Purposed
// tokens (OAuth state) are not valid sessions.
func (m *Manager) VerifyUserID(token string) (string, error) {
	claims := stateClaims{}
	if err := m.parse(token, &claims); err != nil {
		return "", err
	}
	if claims.Purpose != "" {
		return "", ErrWrongPurpose
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// NewOAuthState issues a short-lived state token binding the OAuth callback
// to the initiating user. The purpose claim keeps session tokens and state
// tokens from being interchangeable.
func (m *Manager) NewOAuthState(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("sessiontoken: user id required")
	}
	now := time.Now().UTC()
	claims := stateClaims{
		Purpose: oauthStatePurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(oauthStateTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// VerifyOAuthState validates a state token and returns the bound user id.
func (m *Manager) VerifyOAuthState(state string) (string, error) {
	claims := stateClaims{}
	if err := m.parse(state, &claims); err != nil {
		return "", err
	}
	if claims.Purpose != oauthStatePurpose {
		return "", ErrWrongPurpose
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func (m *Manager) parse(token string, claims jwt.Claims) error {
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}

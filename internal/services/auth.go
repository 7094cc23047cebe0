package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fediwatch/watcher-backend/internal/clients/mastodon"
	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/utils"
)

var (
	ErrNotOperator    = errors.New("account role does not permit console access")
	ErrInvalidSession = errors.New("invalid or expired session token")
)

const sessionIssuer = "watcher"

// OperatorClaims is what a session token carries. Acct identifies the
// operator in audit fields (updated_by, defederated_by).
type OperatorClaims struct {
	Acct string `json:"acct"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type SessionToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Acct      string    `json:"acct"`
	Role      string    `json:"role"`
}

// AuthService exchanges an upstream OAuth token for a short-lived session
// JWT. The upstream stays the source of truth for who is an operator; the
// JWT only spares a verify_credentials round trip per request.
type AuthService interface {
	CreateSession(ctx context.Context, oauthToken string) (*SessionToken, error)
	ValidateSession(tokenString string) (*OperatorClaims, error)
}

type authService struct {
	log          *logger.Logger
	client       mastodon.Client
	secret       []byte
	ttl          time.Duration
	allowedRoles map[string]struct{}
}

func NewAuthService(log *logger.Logger, client mastodon.Client) (AuthService, error) {
	secret := strings.TrimSpace(utils.GetEnv("JWT_SECRET", "", log))
	if secret == "" {
		return nil, fmt.Errorf("missing JWT_SECRET")
	}
	roles := map[string]struct{}{}
	for _, r := range strings.Split(utils.GetEnv("OPERATOR_ROLES", "Owner,Admin", log), ",") {
		r = strings.ToLower(strings.TrimSpace(r))
		if r != "" {
			roles[r] = struct{}{}
		}
	}
	return &authService{
		log:          log.With("service", "AuthService"),
		client:       client,
		secret:       []byte(secret),
		ttl:          time.Duration(utils.GetEnvAsInt("SESSION_TTL_MINUTES", 60, log)) * time.Minute,
		allowedRoles: roles,
	}, nil
}

func (s *authService) CreateSession(ctx context.Context, oauthToken string) (*SessionToken, error) {
	cred, err := s.client.VerifyCredentials(ctx, oauthToken)
	if err != nil {
		return nil, fmt.Errorf("verifying credentials upstream: %w", err)
	}
	role := ""
	if cred.Role != nil {
		role = cred.Role.Name
	}
	if _, ok := s.allowedRoles[strings.ToLower(role)]; !ok {
		s.log.Warn("session refused, insufficient role", "acct", cred.Acct, "role", role)
		return nil, ErrNotOperator
	}

	now := time.Now()
	expires := now.Add(s.ttl)
	claims := OperatorClaims{
		Acct: cred.Acct,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   cred.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("signing session token: %w", err)
	}
	s.log.Info("operator session issued", "acct", cred.Acct, "role", role)
	return &SessionToken{Token: signed, ExpiresAt: expires, Acct: cred.Acct, Role: role}, nil
}

func (s *authService) ValidateSession(tokenString string) (*OperatorClaims, error) {
	claims := &OperatorClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(sessionIssuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, ErrInvalidSession
	}
	return claims, nil
}

// Package auth issues and verifies API bearer tokens for users held in memory.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/harunnryd/warden/internal/audit"
	"github.com/harunnryd/warden/internal/clock"
	wardenErrors "github.com/harunnryd/warden/internal/errors"
)

const DefaultTokenExpiry = time.Hour

// Claims carry the caller's role so the policy layer never trusts a client-supplied one.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

type User struct {
	Username     string
	Role         string
	PasswordHash []byte
	CreatedAt    time.Time
}

type Options struct {
	Secret      string
	TokenExpiry time.Duration
	Clock       clock.Clock
	Audit       audit.Logger
	// BcryptCost defaults to bcrypt.DefaultCost; tests lower it.
	BcryptCost int
}

type Service struct {
	mu     sync.RWMutex
	users  map[string]User
	secret []byte
	expiry time.Duration
	cost   int
	clock  clock.Clock
	audit  audit.Logger
}

func NewService(opts Options) (*Service, error) {
	if strings.TrimSpace(opts.Secret) == "" {
		return nil, wardenErrors.InvalidInput("auth: jwt secret is required")
	}
	s := &Service{
		users:  make(map[string]User),
		secret: []byte(opts.Secret),
		expiry: opts.TokenExpiry,
		cost:   opts.BcryptCost,
		clock:  clock.OrSystem(opts.Clock),
		audit:  opts.Audit,
	}
	if s.expiry <= 0 {
		s.expiry = DefaultTokenExpiry
	}
	if s.cost == 0 {
		s.cost = bcrypt.DefaultCost
	}
	if s.audit == nil {
		s.audit = audit.Nop()
	}
	return s, nil
}

// Register adds a user. Usernames are case-insensitive and unique.
func (s *Service) Register(ctx context.Context, username, password, role string) error {
	key := strings.ToLower(strings.TrimSpace(username))
	if key == "" || password == "" || role == "" {
		return wardenErrors.InvalidInput("username, password and role are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[key]; exists {
		return wardenErrors.Conflict(fmt.Sprintf("user %s already exists", key))
	}
	s.users[key] = User{Username: key, Role: role, PasswordHash: hash, CreatedAt: s.clock.Now().UTC()}
	s.audit.Audit(ctx, "user_registered", map[string]any{"username": key, "role": role})
	return nil
}

// Authenticate checks the password and returns a signed token.
func (s *Service) Authenticate(ctx context.Context, username, password string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(username))
	s.mu.RLock()
	user, ok := s.users[key]
	s.mu.RUnlock()

	if !ok || bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)) != nil {
		s.audit.Security(ctx, audit.SeverityWarning, "authentication_failed", map[string]any{"username": key})
		return "", wardenErrors.Unauthenticated("invalid credentials")
	}
	return s.Issue(user.Username, user.Role)
}

// Issue signs a token for subject without a password check. Used by the CLI's token command.
func (s *Service) Issue(subject, role string) (string, error) {
	now := s.clock.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
		Role: role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}

// Verify parses token and returns its claims. Any failure is ErrUnauthenticated.
func (s *Service) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.clock.Now), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, wardenErrors.Unauthenticated("token expired")
		}
		return nil, wardenErrors.Unauthenticated(fmt.Sprintf("parse jwt: %v", err))
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Role == "" {
		return nil, wardenErrors.Unauthenticated("invalid token claims")
	}
	return claims, nil
}

func (s *Service) User(username string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[strings.ToLower(strings.TrimSpace(username))]
	return u, ok
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/roadsight/billboard-proxy/apimodels"
	"github.com/roadsight/billboard-proxy/internal/config"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUnknownUser        = errors.New("unknown user")
)

type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Service issues and verifies HS256 session tokens for configured users.
type Service struct {
	secret []byte
	issuer string
	ttl    time.Duration
	users  map[string]config.User
	now    func() time.Time
}

func NewService(cfg config.AuthConfig) *Service {
	users := make(map[string]config.User, len(cfg.Users))
	for _, u := range cfg.Users {
		users[normalizeEmail(u.Email)] = u
	}
	return &Service{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		users:  users,
		now:    time.Now,
	}
}

// Login checks the password against the user's bcrypt hash and issues a token.
func (s *Service) Login(email, password string) (*apimodels.TokenResponse, error) {
	u, ok := s.users[normalizeEmail(email)]
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(u)
}

// Issue mints a token for a configured user without a password check.
func (s *Service) Issue(email string) (*apimodels.TokenResponse, error) {
	u, ok := s.users[normalizeEmail(email)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, email)
	}
	return s.issue(u)
}

func (s *Service) issue(u config.User) (*apimodels.TokenResponse, error) {
	now := s.now()
	claims := &Claims{
		Email: normalizeEmail(u.Email),
		Name:  u.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   normalizeEmail(u.Email),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &apimodels.TokenResponse{
		Token:     signed,
		ExpiresAt: claims.ExpiresAt.Time,
		Claims: apimodels.TokenClaims{
			Subject:   claims.Subject,
			Email:     claims.Email,
			Name:      claims.Name,
			Issuer:    claims.Issuer,
			ExpiresAt: claims.ExpiresAt.Unix(),
			IssuedAt:  claims.IssuedAt.Unix(),
		},
	}, nil
}

// Verify parses a signed token, checking signature, issuer and expiry.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// HashPassword returns a bcrypt hash suitable for auth.users[].password_hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	header = strings.TrimSpace(header)
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

type claimsKey struct{}

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

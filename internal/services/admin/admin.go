// Package admin authenticates school portal accounts.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Zimbwa03/NerdX-sub004/internal/config"
	"github.com/Zimbwa03/NerdX-sub004/internal/repos/admins"
)

const (
	issuer            = "nerdx-credits"
	minPasswordLength = 8
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", minPasswordLength)
	ErrInvalidEmail       = errors.New("invalid email")

	tracer = otel.Tracer("admin")
)

// Claims is the payload of an admin access token.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

type Service struct {
	repo   admins.Admins
	secret []byte
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func New(repo admins.Admins, cfg config.AuthConfig, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		secret: []byte(cfg.JWTSecret),
		ttl:    cfg.JWTTTL,
		logger: logger,
		now:    time.Now,
	}
}

// CreateAdmin stores a new account with a bcrypt hash of password.
func (s *Service) CreateAdmin(ctx context.Context, email, displayName, password string) (admins.Admin, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return admins.Admin{}, ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return admins.Admin{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return admins.Admin{}, fmt.Errorf("hash password: %w", err)
	}

	a := admins.Admin{
		Email:        email,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: string(hash),
	}

	err = s.repo.Create(ctx, &a)
	if err != nil {
		return admins.Admin{}, fmt.Errorf("create admin: %w", err)
	}

	s.logger.Info("admin created", zap.String("email", a.Email))

	return a, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (Token, error) {
	ctx, span := tracer.Start(ctx, "Admin.Login")
	defer span.End()

	a, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, admins.ErrAdminNotFound) {
			s.logger.Warn("admin login: unknown email")
			return Token{}, ErrInvalidCredentials
		}
		return Token{}, fmt.Errorf("get admin: %w", err)
	}

	err = bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password))
	if err != nil {
		s.logger.Warn("admin login: wrong password", zap.Int64("admin_id", a.ID))
		return Token{}, ErrInvalidCredentials
	}

	now := s.now()
	expires := now.Add(s.ttl)

	claims := Claims{
		Email: a.Email,
		Name:  a.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", a.ID),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}

	s.logger.Info("admin logged in", zap.String("email", a.Email))

	return Token{AccessToken: signed, ExpiresAt: expires}, nil
}

func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	return claims, nil
}

// normalizeEmail gives the form accounts are stored and looked up by.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

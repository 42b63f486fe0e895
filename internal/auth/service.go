package auth

import (
	"errors"
	"time"

	"golang.org/x/time/rate"

	"regimeforge-bot/config"
	"regimeforge-bot/internal/logging"
)

const (
	operatorSubject = "operator"
	operatorRole    = "admin"
)

// Service guards mutating API routes behind a single operator password.
// When auth is disabled every request is treated as the operator.
type Service struct {
	enabled      bool
	passwordHash string
	jwtManager   *JWTManager
	limiter      *rate.Limiter
	logger       *logging.Logger
}

// NewService creates a new authentication service
func NewService(cfg config.AuthConfig, logger *logging.Logger) (*Service, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.Enabled && cfg.JWTSecret == "" {
		return nil, errors.New("auth enabled but AUTH_JWT_SECRET is empty")
	}
	return &Service{
		enabled:      cfg.Enabled,
		passwordHash: cfg.AdminPasswordHash,
		jwtManager:   NewJWTManager(cfg.JWTSecret, cfg.AccessTokenDuration),
		// five attempts, then one every twelve seconds
		limiter: rate.NewLimiter(rate.Every(12*time.Second), 5),
		logger:  logger.WithComponent("auth"),
	}, nil
}

// Enabled reports whether protected routes require a token
func (s *Service) Enabled() bool {
	return s != nil && s.enabled
}

// GetJWTManager returns the JWT manager for use in middleware
func (s *Service) GetJWTManager() *JWTManager {
	return s.jwtManager
}

// Login checks the operator password and issues an access token
func (s *Service) Login(password string) (*LoginResponse, error) {
	if !s.Enabled() || s.passwordHash == "" {
		return nil, ErrNotConfigured
	}
	if !s.limiter.Allow() {
		s.logger.Warn("Login rate limited")
		return nil, ErrTooManyAttempts
	}
	if !VerifyPassword(password, s.passwordHash) {
		s.logger.Warn("Login failed", "reason", "bad password")
		return nil, ErrInvalidCredentials
	}

	token, err := s.jwtManager.GenerateAccessToken(OperatorClaims{Subject: operatorSubject, Role: operatorRole})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Operator logged in")
	return &LoginResponse{
		AccessToken: token,
		ExpiresIn:   s.jwtManager.GetAccessTokenDuration(),
		TokenType:   "Bearer",
	}, nil
}

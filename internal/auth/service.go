package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"
)

var (
	ErrInvalidWorker = errors.New("invalid worker id")
	ErrInvalidRole   = errors.New("invalid role")
)

var workerPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,127}$`)

type IssuedToken struct {
	Token     string
	WorkerID  string
	Role      string
	ExpiresAt time.Time
}

// Service issues bearer tokens to scraper workers. Tokens are stateless;
// revocation is done by rotating the secret.
type Service struct {
	config Config
}

func NewService(config Config) *Service {
	return &Service{config: config}
}

func (s *Service) Issue(workerID, role string) (IssuedToken, error) {
	if !workerPattern.MatchString(workerID) {
		return IssuedToken{}, fmt.Errorf("%w: %q", ErrInvalidWorker, workerID)
	}
	if role == "" {
		role = RoleWorker
	}
	if role != RoleWorker && role != RoleAdmin {
		return IssuedToken{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	token, expiresAt, err := GenerateToken(s.config, workerID, role)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("generate token: %w", err)
	}

	slog.Info("Issued worker token", "worker_id", workerID, "role", role, "expires_at", expiresAt)
	return IssuedToken{
		Token:     token,
		WorkerID:  workerID,
		Role:      role,
		ExpiresAt: expiresAt,
	}, nil
}

package identity

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Service manages principal lifecycle.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new identity service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// SignIn records a successful sign-in, creating the principal on first use.
func (s *Service) SignIn(ctx context.Context, addr common.Address) (Principal, error) {
	return s.repo.Touch(ctx, addr, s.now())
}

// Get returns the principal for addr.
func (s *Service) Get(ctx context.Context, addr common.Address) (Principal, error) {
	return s.repo.FindByAddress(ctx, addr)
}

// Logout increments the token version so older tokens become invalid.
func (s *Service) Logout(ctx context.Context, addr common.Address) error {
	p, err := s.repo.FindByAddress(ctx, addr)
	if err != nil {
		return err
	}
	return s.repo.UpdateTokenVersion(ctx, addr, p.TokenVersion+1)
}

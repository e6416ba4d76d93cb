package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/congo-pay/quorum/internal/config"
	"github.com/congo-pay/quorum/internal/identity"
)

var (
	// ErrInvalidAddress is returned for strings that are not hex addresses.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrInvalidSignature is returned when the signature does not recover to
	// the claimed address.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrTokenRevoked is returned for tokens issued before the last logout.
	ErrTokenRevoked = errors.New("token invalidated")
)

// Service issues sign-in challenges and access tokens for addresses.
type Service struct {
	issuer       string
	secret       []byte
	accessTTL    time.Duration
	challengeTTL time.Duration
	nonces       NonceStore
	ids          *identity.Service
	now          func() time.Time
}

// NewService builds the auth service.
func NewService(cfg config.Config, nonces NonceStore, ids *identity.Service) *Service {
	return &Service{
		issuer:       cfg.AppName,
		secret:       []byte(cfg.JWTSecret),
		accessTTL:    cfg.AccessTokenTTL,
		challengeTTL: cfg.ChallengeTTL,
		nonces:       nonces,
		ids:          ids,
		now:          time.Now,
	}
}

// Challenge is the message a caller signs to prove control of Address.
type Challenge struct {
	Address   common.Address
	Nonce     string
	Message   string
	ExpiresAt time.Time
}

// TokenPair mirrors the login response.
type TokenPair struct {
	Address     common.Address
	AccessToken string
	ExpiresIn   int64
}

// ParseAddress validates and normalises a hex address.
func ParseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	addr := common.HexToAddress(raw)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: null address", ErrInvalidAddress)
	}
	return addr, nil
}

func (s *Service) message(addr common.Address, nonce string) string {
	return fmt.Sprintf("%s wants you to sign in with your address:\n%s\n\nNonce: %s", s.issuer, addr.Hex(), nonce)
}

// Challenge stores a fresh nonce for addr and returns the message to sign.
func (s *Service) Challenge(ctx context.Context, addr common.Address) (Challenge, error) {
	nonce := uuid.NewString()
	if err := s.nonces.Put(ctx, addr.Hex(), nonce, s.challengeTTL); err != nil {
		return Challenge{}, fmt.Errorf("store nonce: %w", err)
	}
	return Challenge{
		Address:   addr,
		Nonce:     nonce,
		Message:   s.message(addr, nonce),
		ExpiresAt: s.now().Add(s.challengeTTL).UTC(),
	}, nil
}

// Login consumes the outstanding challenge of addr, checks the personal-sign
// signature over it and issues an access token.
func (s *Service) Login(ctx context.Context, addr common.Address, signature string) (TokenPair, error) {
	nonce, err := s.nonces.Take(ctx, addr.Hex())
	if err != nil {
		return TokenPair{}, err
	}

	signer, err := recoverSigner(s.message(addr, nonce), signature)
	if err != nil {
		return TokenPair{}, err
	}
	if signer != addr {
		return TokenPair{}, ErrInvalidSignature
	}

	principal, err := s.ids.SignIn(ctx, addr)
	if err != nil {
		return TokenPair{}, err
	}
	now := s.now()
	token, exp, err := signAccessToken(s.issuer, s.secret, addr, principal.TokenVersion, now, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Address: addr, AccessToken: token, ExpiresIn: int64(exp.Sub(now).Seconds())}, nil
}

// Authenticate validates an access token and returns the caller address.
func (s *Service) Authenticate(ctx context.Context, token string) (common.Address, error) {
	claims, err := parseAccessToken(s.issuer, s.secret, token)
	if err != nil {
		return common.Address{}, err
	}
	addr := common.HexToAddress(claims.Subject)
	principal, err := s.ids.Get(ctx, addr)
	if err != nil || principal.TokenVersion != claims.Version {
		return common.Address{}, ErrTokenRevoked
	}
	return addr, nil
}

// Logout invalidates every token issued to addr so far.
func (s *Service) Logout(ctx context.Context, addr common.Address) error {
	return s.ids.Logout(ctx, addr)
}

func recoverSigner(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, ErrInvalidSignature
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package passkey

import (
	"context"
	"fmt"
	"sync"

	"github.com/jeremyhahn/go-passkey/pkg/logging"
)

// Service provides WebAuthn registration and authentication ceremonies.
type Service struct {
	config     *Config
	users      UserStore
	creds      CredentialStore
	challenges ChallengeStore
	binder     SessionBinder  // optional
	tokens     TokenGenerator // optional
	logger     *logging.Logger
	credLocks  *keyedMutex
	configured bool
}

// ServiceParams contains dependencies for creating a passkey service.
type ServiceParams struct {
	// Config is the Relying Party configuration (required).
	Config *Config

	// UserStore is the principal persistence layer (required).
	UserStore UserStore

	// CredentialStore is the credential persistence layer (required).
	CredentialStore CredentialStore

	// ChallengeStore is the ceremony challenge store (required).
	ChallengeStore ChallengeStore

	// SessionBinder is notified after a successful ceremony so the caller's
	// session can be marked authenticated. Optional.
	SessionBinder SessionBinder

	// TokenGenerator is an optional generator for post-ceremony identity
	// tokens. If nil, AuthenticationResult.Token is empty.
	TokenGenerator TokenGenerator

	// Logger is the service logger. If nil, a default stderr logger is
	// created honoring Config.Debug.
	Logger *logging.Logger
}

// NewService creates a new passkey service with the provided dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if params.UserStore == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if params.CredentialStore == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if params.ChallengeStore == nil {
		return nil, fmt.Errorf("challenge store is required")
	}

	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := params.Logger
	if logger == nil {
		logger = logging.NewLogger(params.Config.Debug)
	}

	return &Service{
		config:     params.Config,
		users:      params.UserStore,
		creds:      params.CredentialStore,
		challenges: params.ChallengeStore,
		binder:     params.SessionBinder,
		tokens:     params.TokenGenerator,
		logger:     logger,
		credLocks:  newKeyedMutex(),
		configured: true,
	}, nil
}

// Config returns the service configuration.
func (s *Service) Config() *Config {
	return s.config
}

// Credentials retrieves all credentials registered for a user.
func (s *Service) Credentials(ctx context.Context, userID string) ([]*Credential, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}
	return s.creds.GetByUserID(ctx, userID)
}

// IsRegistered checks if a user has any registered credentials.
func (s *Service) IsRegistered(ctx context.Context, userID string) (bool, error) {
	if !s.configured {
		return false, ErrNotConfigured
	}

	creds, err := s.creds.GetByUserID(ctx, userID)
	if err != nil {
		return false, WrapError("get credentials", err)
	}
	return len(creds) > 0, nil
}

// User retrieves a user by their identifier.
func (s *Service) User(ctx context.Context, userID string) (*User, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}
	return s.users.GetByID(ctx, userID)
}

// UserByUsername retrieves a user by their handle.
func (s *Service) UserByUsername(ctx context.Context, username string) (*User, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}
	return s.users.GetByUsername(ctx, username)
}

// consumeChallenge atomically consumes the challenge for key and enforces
// expiry. An expired challenge has already been deleted by the consume, so
// a retry with the stale value fails with ErrChallengeNotFound.
func (s *Service) consumeChallenge(ctx context.Context, op, key string) (*Challenge, error) {
	challenge, err := s.challenges.Consume(ctx, key)
	if err != nil {
		return nil, WrapError(op, err)
	}
	if challenge.Expired() {
		return nil, WrapError(op, ErrChallengeExpired)
	}
	return challenge, nil
}

// failVerification records the precise protocol-violation reason internally
// and returns the uniform ErrVerificationFailed to the caller. Surfacing
// the specific check would give an attacker an oracle.
func (s *Service) failVerification(op, reason string) error {
	s.logger.Debugf("%s: rejected: %s", op, reason)
	return NewError(op, ErrVerificationFailed)
}

// bindSession notifies the session binder, if one is configured.
func (s *Service) bindSession(ctx context.Context, user *User) error {
	if s.binder == nil {
		return nil
	}
	return s.binder.BindAuthenticated(ctx, user.ID, user.Username)
}

// generateToken creates an identity token when a generator is configured.
func (s *Service) generateToken(ctx context.Context, user *User) (string, error) {
	if s.tokens == nil {
		return "", nil
	}
	return s.tokens.GenerateToken(ctx, user)
}

// keyedMutex serializes critical sections per string key. It is used to
// make the assertion counter check-then-update single-writer per
// credential. Entries are never evicted; the map is bounded by the number
// of distinct credentials authenticated by this process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{
		locks: make(map[string]*sync.Mutex),
	}
}

func (k *keyedMutex) lock(key string) *sync.Mutex {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m
}

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
	"time"
)

// UserStore is the interface applications implement for principal
// persistence. This interface is intentionally minimal - applications bring
// their own user model.
type UserStore interface {
	// Create creates a new user. Username uniqueness must be enforced
	// atomically by the store; a conflicting create returns
	// ErrUserAlreadyExists.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by their opaque identifier.
	// Returns ErrUserNotFound if the user does not exist.
	GetByID(ctx context.Context, id string) (*User, error)

	// GetByUsername retrieves a user by their handle. The lookup is
	// case-sensitive. Returns ErrUserNotFound if the user does not exist.
	GetByUsername(ctx context.Context, username string) (*User, error)
}

// CredentialStore manages public-key credential persistence.
type CredentialStore interface {
	// Create stores a new credential. Returns ErrCredentialAlreadyExists if
	// the credential ID is already present.
	Create(ctx context.Context, cred *Credential) error

	// GetByID retrieves a credential by its ID.
	// Returns ErrCredentialNotFound if the credential does not exist.
	GetByID(ctx context.Context, credID []byte) (*Credential, error)

	// GetByUserID retrieves all credentials owned by a user, in no
	// particular order. Returns an empty slice if the user has none.
	GetByUserID(ctx context.Context, userID string) ([]*Credential, error)

	// UpdateSignCount persists a new signature counter for the credential.
	// Counter monotonicity is the Authentication Verifier's responsibility;
	// the store does not re-validate it.
	// Returns ErrCredentialNotFound if the credential does not exist.
	UpdateSignCount(ctx context.Context, credID []byte, signCount uint32) error

	// List retrieves every stored credential.
	List(ctx context.Context) ([]*Credential, error)
}

// ChallengeStore manages short-lived ceremony challenges keyed by a
// principal identifier or a synthetic per-ceremony key.
type ChallengeStore interface {
	// Upsert stores a challenge under key, atomically replacing any
	// existing challenge for that key.
	Upsert(ctx context.Context, key string, challenge []byte, ttl time.Duration) error

	// Get retrieves the challenge for key without consuming it.
	// Returns ErrChallengeNotFound if absent.
	Get(ctx context.Context, key string) (*Challenge, error)

	// Consume atomically fetches and deletes the challenge for key. Two
	// concurrent consumers of the same key observe exactly one success and
	// one ErrChallengeNotFound. The caller is responsible for the expiry
	// check on the returned challenge.
	Consume(ctx context.Context, key string) (*Challenge, error)

	// DeleteExpired removes all challenges past their expiry and returns
	// the number removed.
	DeleteExpired(ctx context.Context) (int, error)
}

// SessionBinder bridges a successful ceremony to the caller's session
// mechanism: it marks the current session authenticated under the given
// principal. No verification logic lives behind this interface.
type SessionBinder interface {
	// BindAuthenticated marks the caller's session authenticated as the
	// given user.
	BindAuthenticated(ctx context.Context, userID, username string) error
}

// SessionBinderFunc adapts a function to the SessionBinder interface.
type SessionBinderFunc func(ctx context.Context, userID, username string) error

// BindAuthenticated calls f(ctx, userID, username).
func (f SessionBinderFunc) BindAuthenticated(ctx context.Context, userID, username string) error {
	return f(ctx, userID, username)
}

// TokenGenerator is an optional interface for generating signed identity
// tokens after a successful ceremony.
type TokenGenerator interface {
	// GenerateToken creates a token for the authenticated user.
	GenerateToken(ctx context.Context, user *User) (string, error)
}

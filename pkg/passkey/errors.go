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
	"errors"
	"fmt"
)

// Sentinel errors for passkey ceremony and store operations.
var (
	// ErrUserNotFound is returned when a user cannot be found.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists is returned when attempting to create a user whose
	// username is already taken.
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrInvalidHandle is returned when a caller supplies an empty or
	// malformed username.
	ErrInvalidHandle = errors.New("invalid username")

	// ErrCredentialNotFound is returned when a credential cannot be found.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrCredentialAlreadyExists is returned when attempting to register a
	// credential ID that is already stored.
	ErrCredentialAlreadyExists = errors.New("credential already exists")

	// ErrNoCredentials is returned when a user has no registered credentials.
	ErrNoCredentials = errors.New("user has no registered credentials")

	// ErrChallengeNotFound is returned when no challenge exists for the
	// ceremony key, or when it has already been consumed.
	ErrChallengeNotFound = errors.New("challenge not found")

	// ErrChallengeExpired is returned when a consumed challenge is past its
	// expiry. The challenge is deleted as a side effect, so the ceremony must
	// be restarted from the begin step.
	ErrChallengeExpired = errors.New("challenge expired")

	// ErrInvalidResponse is returned when the authenticator response payload
	// is malformed and cannot be parsed.
	ErrInvalidResponse = errors.New("invalid authenticator response")

	// ErrVerificationFailed is returned for every protocol-violation failure
	// (challenge mismatch, origin mismatch, RP-ID mismatch, bad signature,
	// missing user verification). The specific check that failed is logged
	// internally but deliberately not exposed to the caller.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrClonedAuthenticator is returned when the assertion's signature
	// counter did not advance, indicating a replayed assertion or a cloned
	// authenticator. This is a security alert and is logged distinctly.
	ErrClonedAuthenticator = errors.New("cloned authenticator detected")

	// ErrNotConfigured is returned when the service is not properly configured.
	ErrNotConfigured = errors.New("passkey service not configured")
)

// PasskeyError wraps an error with the operation that produced it.
type PasskeyError struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

// Error returns the error message.
func (e *PasskeyError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *PasskeyError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches.
func (e *PasskeyError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new PasskeyError with the given operation and error.
func NewError(op string, err error) error {
	return &PasskeyError{
		Op:  op,
		Err: err,
	}
}

// WrapError wraps an error with an operation name if it's not nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(op, err)
}

// IsUserNotFound returns true if the error indicates a user was not found.
func IsUserNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound)
}

// IsCredentialNotFound returns true if the error indicates a credential was not found.
func IsCredentialNotFound(err error) bool {
	return errors.Is(err, ErrCredentialNotFound)
}

// IsChallengeNotFound returns true if the error indicates the ceremony
// challenge was absent or already consumed.
func IsChallengeNotFound(err error) bool {
	return errors.Is(err, ErrChallengeNotFound)
}

// IsChallengeExpired returns true if the error indicates the ceremony
// challenge was past its expiry.
func IsChallengeExpired(err error) bool {
	return errors.Is(err, ErrChallengeExpired)
}

// IsVerificationFailed returns true if the error indicates ceremony
// verification failed.
func IsVerificationFailed(err error) bool {
	return errors.Is(err, ErrVerificationFailed)
}

// IsClonedAuthenticator returns true if the error indicates a possible
// cloned authenticator or replayed assertion.
func IsClonedAuthenticator(err error) bool {
	return errors.Is(err, ErrClonedAuthenticator)
}

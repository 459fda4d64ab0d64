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
	"time"

	"github.com/go-webauthn/webauthn/protocol"
)

// User represents a Relying Party principal. The ID is opaque, immutable
// once assigned and never reused; the username is unique and case-sensitive.
type User struct {
	// ID is the stable opaque identifier (a UUID string).
	ID string `json:"id"`

	// Username is the human-chosen handle.
	Username string `json:"username"`

	// CreatedAt is when the user was created.
	CreatedAt time.Time `json:"created_at"`
}

// Handle returns the WebAuthn user handle bytes for this user.
func (u *User) Handle() []byte {
	return []byte(u.ID)
}

// Credential is a public-key credential stored by the Relying Party.
type Credential struct {
	// ID is the credential identifier assigned by the authenticator.
	ID []byte `json:"id"`

	// UserID is the owning user's identifier. A user may own multiple
	// credentials; a credential has exactly one owner.
	UserID string `json:"user_id"`

	// PublicKey is the credential's public key in COSE format.
	PublicKey []byte `json:"public_key"`

	// AttestationType records the attestation format presented at
	// registration (e.g. "none", "packed").
	AttestationType string `json:"attestation_type"`

	// Transport lists the transports hinted by the client at registration.
	Transport []protocol.AuthenticatorTransport `json:"transport,omitempty"`

	// Flags records the authenticator flags observed at registration.
	Flags CredentialFlags `json:"flags"`

	// SignCount is the signature counter for clone detection. It is
	// monotonically non-decreasing across successful authentications.
	SignCount uint32 `json:"sign_count"`

	// CreatedAt is when the credential was registered.
	CreatedAt time.Time `json:"created_at"`

	// LastUsedAt is when the credential last completed an authentication.
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// CredentialFlags contains authenticator capability flags.
type CredentialFlags struct {
	// UserPresent indicates the user was present during registration.
	UserPresent bool `json:"user_present"`

	// UserVerified indicates the user was verified (biometric, PIN).
	UserVerified bool `json:"user_verified"`

	// BackupEligible indicates the credential can be backed up.
	BackupEligible bool `json:"backup_eligible"`

	// BackupState indicates the credential is currently backed up.
	BackupState bool `json:"backup_state"`
}

// DeviceType classifies a credential by its backup eligibility, following
// the WebAuthn L3 device type taxonomy.
type DeviceType string

const (
	// DeviceTypeSingle is a credential bound to a single authenticator.
	DeviceTypeSingle DeviceType = "singleDevice"

	// DeviceTypeMulti is a credential that can sync across devices.
	DeviceTypeMulti DeviceType = "multiDevice"
)

// DeviceType returns the credential's device type derived from the
// backup-eligible flag.
func (c *Credential) DeviceType() DeviceType {
	if c.Flags.BackupEligible {
		return DeviceTypeMulti
	}
	return DeviceTypeSingle
}

// BackedUp reports whether the credential is currently backed up.
func (c *Credential) BackedUp() bool {
	return c.Flags.BackupState
}

// Descriptor returns the credential as a protocol descriptor suitable for
// exclusion and allow lists.
func (c *Credential) Descriptor() protocol.CredentialDescriptor {
	return protocol.CredentialDescriptor{
		Type:         protocol.PublicKeyCredentialType,
		CredentialID: c.ID,
		Transport:    c.Transport,
	}
}

// Challenge is a short-lived ceremony nonce with an absolute expiry.
type Challenge struct {
	// Value is the random challenge, at least 16 bytes of entropy.
	Value []byte `json:"value"`

	// ExpiresAt is the absolute expiry timestamp.
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the challenge is past its expiry.
func (c *Challenge) Expired() bool {
	return time.Now().After(c.ExpiresAt)
}

// CeremonyContext is the caller-held state correlating the begin and finish
// steps of a registration ceremony. The caller (typically a session layer)
// must hand it back unmodified with the finish call. It is not persisted by
// the core.
type CeremonyContext struct {
	// UserID is the principal identifier the ceremony was started for.
	UserID string `json:"user_id"`

	// Username is the handle supplied at the begin step.
	Username string `json:"username"`
}

// RegistrationResult is returned on successful registration verification.
type RegistrationResult struct {
	// CredentialID is the newly stored credential's identifier.
	CredentialID []byte `json:"credential_id"`

	// DeviceType classifies the credential (single-device or multi-device).
	DeviceType DeviceType `json:"device_type"`

	// BackedUp reports the credential's backup state.
	BackedUp bool `json:"backed_up"`
}

// AuthenticationResult is returned on successful assertion verification.
// The identity always comes from the credential's recorded owner, never
// from caller-supplied state.
type AuthenticationResult struct {
	// UserID is the authenticated principal's identifier.
	UserID string `json:"user_id"`

	// Username is the authenticated principal's handle.
	Username string `json:"username"`

	// Token is an optional signed identity token, present when the service
	// was configured with a TokenGenerator.
	Token string `json:"token,omitempty"`
}

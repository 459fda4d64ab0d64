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
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
)

// Config configures the passkey Relying Party service.
type Config struct {
	// RPID is the Relying Party identifier, typically the domain name.
	// Example: "example.com"
	RPID string `yaml:"id" json:"id" mapstructure:"id"`

	// RPDisplayName is the human-readable name of the Relying Party.
	// Example: "Example Corp"
	RPDisplayName string `yaml:"display_name" json:"display_name" mapstructure:"display_name"`

	// RPOrigin is the expected web origin for ceremony responses.
	// Responses from any other origin are rejected.
	// Example: "https://example.com"
	RPOrigin string `yaml:"origin" json:"origin" mapstructure:"origin"`

	// ChallengeTTL is how long an issued challenge remains valid.
	// Default: 60s
	ChallengeTTL time.Duration `yaml:"challenge_ttl" json:"challenge_ttl" mapstructure:"challenge_ttl"`

	// UserVerification specifies the user verification requirement.
	// Options: "required", "preferred", "discouraged"
	// Default: "preferred"
	UserVerification string `yaml:"user_verification" json:"user_verification" mapstructure:"user_verification"`

	// ResidentKey specifies the resident key (discoverable credential)
	// requirement presented to the authenticator.
	// Options: "required", "preferred", "discouraged"
	// Default: "required" (passkeys)
	ResidentKey string `yaml:"resident_key" json:"resident_key" mapstructure:"resident_key"`

	// AuthenticatorAttachment limits the type of authenticators requested.
	// Options: "platform", "cross-platform", "" (any)
	// Default: "platform"
	AuthenticatorAttachment string `yaml:"authenticator_attachment" json:"authenticator_attachment" mapstructure:"authenticator_attachment"`

	// Attestation specifies the attestation conveyance preference.
	// Options: "none", "indirect", "direct", "enterprise"
	// Default: "none"
	Attestation string `yaml:"attestation" json:"attestation" mapstructure:"attestation"`

	// SweepInterval is how often the background sweeper deletes expired
	// challenges. Expiry is also enforced inline at consume time, so the
	// sweep is a cleanup measure, not a correctness requirement.
	// Default: 60s
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval" mapstructure:"sweep_interval"`

	// Debug enables debug logging.
	Debug bool `yaml:"debug" json:"debug" mapstructure:"debug"`
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.RPID == "" {
		return fmt.Errorf("RPID is required")
	}
	if c.RPDisplayName == "" {
		return fmt.Errorf("RPDisplayName is required")
	}
	if c.RPOrigin == "" {
		return fmt.Errorf("RPOrigin is required")
	}

	switch c.UserVerification {
	case "", "required", "preferred", "discouraged":
		// Valid
	default:
		return fmt.Errorf("invalid user verification: %s", c.UserVerification)
	}

	switch c.ResidentKey {
	case "", "required", "preferred", "discouraged":
		// Valid
	default:
		return fmt.Errorf("invalid resident key requirement: %s", c.ResidentKey)
	}

	switch c.AuthenticatorAttachment {
	case "", "platform", "cross-platform":
		// Valid
	default:
		return fmt.Errorf("invalid authenticator attachment: %s", c.AuthenticatorAttachment)
	}

	switch c.Attestation {
	case "", "none", "indirect", "direct", "enterprise":
		// Valid
	default:
		return fmt.Errorf("invalid attestation preference: %s", c.Attestation)
	}

	return nil
}

// SetDefaults sets default values for unset configuration fields.
func (c *Config) SetDefaults() {
	if c.ChallengeTTL == 0 {
		c.ChallengeTTL = 60 * time.Second
	}
	if c.UserVerification == "" {
		c.UserVerification = "preferred"
	}
	if c.ResidentKey == "" {
		c.ResidentKey = "required"
	}
	if c.AuthenticatorAttachment == "" {
		c.AuthenticatorAttachment = "platform"
	}
	if c.Attestation == "" {
		c.Attestation = "none"
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 60 * time.Second
	}
}

// userVerificationRequirement maps the configured user verification policy
// to the protocol type.
func (c *Config) userVerificationRequirement() protocol.UserVerificationRequirement {
	switch c.UserVerification {
	case "required":
		return protocol.VerificationRequired
	case "discouraged":
		return protocol.VerificationDiscouraged
	default:
		return protocol.VerificationPreferred
	}
}

// requiresUserVerification reports whether the configured policy mandates
// the UV flag on ceremony responses.
func (c *Config) requiresUserVerification() bool {
	return c.UserVerification == "required"
}

// residentKeyRequirement maps the configured resident key policy to the
// protocol type.
func (c *Config) residentKeyRequirement() protocol.ResidentKeyRequirement {
	switch c.ResidentKey {
	case "preferred":
		return protocol.ResidentKeyRequirementPreferred
	case "discouraged":
		return protocol.ResidentKeyRequirementDiscouraged
	default:
		return protocol.ResidentKeyRequirementRequired
	}
}

// authenticatorAttachment maps the configured attachment preference to the
// protocol type. An empty string means any attachment is acceptable.
func (c *Config) authenticatorAttachment() protocol.AuthenticatorAttachment {
	switch c.AuthenticatorAttachment {
	case "platform":
		return protocol.Platform
	case "cross-platform":
		return protocol.CrossPlatform
	default:
		return ""
	}
}

// conveyancePreference maps the configured attestation preference to the
// protocol type.
func (c *Config) conveyancePreference() protocol.ConveyancePreference {
	switch c.Attestation {
	case "indirect":
		return protocol.PreferIndirectAttestation
	case "direct":
		return protocol.PreferDirectAttestation
	case "enterprise":
		return protocol.PreferEnterpriseAttestation
	default:
		return protocol.PreferNoAttestation
	}
}

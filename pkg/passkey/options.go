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

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/google/uuid"

	"github.com/jeremyhahn/go-passkey/pkg/metrics"
)

// conditionalKeyPrefix marks synthetic challenge keys used for
// discoverable-credential (conditional UI) ceremonies, where no principal
// is known until the assertion arrives.
const conditionalKeyPrefix = "conditional-"

// credentialParameters lists the COSE algorithms offered to authenticators,
// in order of preference.
var credentialParameters = []protocol.CredentialParameter{
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES256},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgEdDSA},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS256},
}

// BeginRegistration starts a registration ceremony for the given username.
// If the username already belongs to a user, the new passkey is added to
// that user and their existing credentials populate the exclusion list, so
// re-registering an enrolled authenticator is rejected client-side. The
// returned CeremonyContext must be held by the caller (typically in its
// session) and handed back unmodified to FinishRegistration.
func (s *Service) BeginRegistration(ctx context.Context, username string) (*protocol.CredentialCreation, *CeremonyContext, error) {
	if !s.configured {
		return nil, nil, ErrNotConfigured
	}
	if username == "" {
		return nil, nil, NewError("begin registration", ErrInvalidHandle)
	}

	var userID string
	var exclusions []protocol.CredentialDescriptor

	user, err := s.users.GetByUsername(ctx, username)
	switch {
	case err == nil:
		userID = user.ID
		existing, err := s.creds.GetByUserID(ctx, userID)
		if err != nil {
			return nil, nil, WrapError("get credentials", err)
		}
		exclusions = make([]protocol.CredentialDescriptor, len(existing))
		for i, cred := range existing {
			exclusions[i] = cred.Descriptor()
		}
	case IsUserNotFound(err):
		// New user. The principal row is not created until the ceremony
		// completes; only the identifier is minted here.
		userID = uuid.NewString()
	default:
		return nil, nil, WrapError("get user by username", err)
	}

	challenge, err := protocol.CreateChallenge()
	if err != nil {
		return nil, nil, WrapError("create challenge", err)
	}

	if err := s.challenges.Upsert(ctx, userID, challenge, s.config.ChallengeTTL); err != nil {
		return nil, nil, WrapError("store challenge", err)
	}
	metrics.RecordChallengeIssued(metrics.CeremonyRegistration)

	requireResident := s.config.ResidentKey == "required"

	options := &protocol.CredentialCreation{
		Response: protocol.PublicKeyCredentialCreationOptions{
			Challenge: challenge,
			RelyingParty: protocol.RelyingPartyEntity{
				CredentialEntity: protocol.CredentialEntity{
					Name: s.config.RPDisplayName,
				},
				ID: s.config.RPID,
			},
			User: protocol.UserEntity{
				CredentialEntity: protocol.CredentialEntity{
					Name: username,
				},
				DisplayName: username,
				ID:          protocol.URLEncodedBase64(userID),
			},
			Parameters: credentialParameters,
			Timeout:    int(s.config.ChallengeTTL / time.Millisecond),
			AuthenticatorSelection: protocol.AuthenticatorSelection{
				AuthenticatorAttachment: s.config.authenticatorAttachment(),
				RequireResidentKey:      &requireResident,
				ResidentKey:             s.config.residentKeyRequirement(),
				UserVerification:        s.config.userVerificationRequirement(),
			},
			CredentialExcludeList: exclusions,
			Attestation:           s.config.conveyancePreference(),
		},
	}

	return options, &CeremonyContext{UserID: userID, Username: username}, nil
}

// BeginAuthentication starts an authentication ceremony. When username is
// non-empty the user's credentials populate the allow list and the
// challenge is stored under the user's ID. When username is empty the
// ceremony is a discoverable-credential (conditional UI) flow: no allow
// list is produced and the challenge is stored under a synthetic
// per-ceremony key. The returned key must be handed back to
// FinishAuthentication.
func (s *Service) BeginAuthentication(ctx context.Context, username string) (*protocol.CredentialAssertion, string, error) {
	if !s.configured {
		return nil, "", ErrNotConfigured
	}

	var challengeKey string
	var allowed []protocol.CredentialDescriptor

	if username != "" {
		user, err := s.users.GetByUsername(ctx, username)
		if err != nil {
			return nil, "", WrapError("get user by username", err)
		}

		creds, err := s.creds.GetByUserID(ctx, user.ID)
		if err != nil {
			return nil, "", WrapError("get credentials", err)
		}
		if len(creds) == 0 {
			return nil, "", NewError("begin authentication", ErrNoCredentials)
		}

		allowed = make([]protocol.CredentialDescriptor, len(creds))
		for i, cred := range creds {
			allowed[i] = cred.Descriptor()
		}
		challengeKey = user.ID
	} else {
		challengeKey = conditionalKeyPrefix + uuid.NewString()
	}

	challenge, err := protocol.CreateChallenge()
	if err != nil {
		return nil, "", WrapError("create challenge", err)
	}

	if err := s.challenges.Upsert(ctx, challengeKey, challenge, s.config.ChallengeTTL); err != nil {
		return nil, "", WrapError("store challenge", err)
	}
	metrics.RecordChallengeIssued(metrics.CeremonyAuthentication)

	options := &protocol.CredentialAssertion{
		Response: protocol.PublicKeyCredentialRequestOptions{
			Challenge:          challenge,
			Timeout:            int(s.config.ChallengeTTL / time.Millisecond),
			RelyingPartyID:     s.config.RPID,
			AllowedCredentials: allowed,
			UserVerification:   s.config.userVerificationRequirement(),
		},
	}

	return options, challengeKey, nil
}

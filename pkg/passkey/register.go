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
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/jeremyhahn/go-passkey/pkg/metrics"
)

// FinishRegistration completes a registration ceremony. The response is the
// parsed client attestation; cc is the CeremonyContext issued by
// BeginRegistration, handed back unmodified by the caller.
//
// Every gate is enforced before any store is mutated: the challenge is
// consumed exactly once, the embedded challenge, origin and RP-ID hash must
// bind to this Relying Party, the attestation statement must verify for its
// format, and the user-verification policy must be satisfied. On success
// the user is created if absent, the credential is stored with its initial
// signature counter, and the session binder is notified.
func (s *Service) FinishRegistration(ctx context.Context, response *protocol.ParsedCredentialCreationData, cc *CeremonyContext) (*RegistrationResult, error) {
	result, err := s.finishRegistration(ctx, response, cc)
	if err != nil {
		metrics.RecordCeremony(metrics.CeremonyRegistration, metrics.StatusError)
		return nil, err
	}
	metrics.RecordCeremony(metrics.CeremonyRegistration, metrics.StatusSuccess)
	return result, nil
}

func (s *Service) finishRegistration(ctx context.Context, response *protocol.ParsedCredentialCreationData, cc *CeremonyContext) (*RegistrationResult, error) {
	const op = "finish registration"

	if !s.configured {
		return nil, ErrNotConfigured
	}
	if response == nil {
		return nil, NewError(op, ErrInvalidResponse)
	}
	if cc == nil || cc.UserID == "" || cc.Username == "" {
		return nil, NewError(op, ErrInvalidResponse)
	}

	// Gate 1: consume the challenge for the principal's key. Consumption
	// happens regardless of outcome so a stale value cannot be retried.
	challenge, err := s.consumeChallenge(ctx, op, cc.UserID)
	if err != nil {
		return nil, err
	}

	// Gate 2: the response's embedded challenge must match byte-for-byte.
	clientData := &response.Response.CollectedClientData
	if !challengeMatches(challenge.Value, clientData.Challenge) {
		return nil, s.failVerification(op, "challenge mismatch")
	}

	// Gate 3: ceremony type, origin, and RP-ID hash binding.
	if clientData.Type != protocol.CreateCeremony {
		return nil, s.failVerification(op, "client data type is not webauthn.create")
	}
	if clientData.Origin != s.config.RPOrigin {
		return nil, s.failVerification(op, "origin mismatch")
	}

	attObj := &response.Response.AttestationObject
	if !rpIDHashMatches(s.config.RPID, attObj.AuthData.RPIDHash) {
		return nil, s.failVerification(op, "rp id hash mismatch")
	}

	// Gate 4: attestation statement signature, dispatched by format tag.
	clientDataHash := sha256.Sum256(response.Raw.AttestationResponse.ClientDataJSON)
	if err := verifyAttestation(attObj, clientDataHash[:]); err != nil {
		return nil, s.failVerification(op, "attestation verification: "+err.Error())
	}

	// Gate 5: presence and user-verification policy.
	if !attObj.AuthData.Flags.UserPresent() {
		return nil, s.failVerification(op, "user presence flag not set")
	}
	if s.config.requiresUserVerification() && !attObj.AuthData.Flags.UserVerified() {
		return nil, s.failVerification(op, "user verification required but not performed")
	}

	// Gate 6: extract the new credential.
	if !attObj.AuthData.Flags.HasAttestedCredentialData() {
		return nil, s.failVerification(op, "attested credential data missing")
	}
	attData := &attObj.AuthData.AttData
	if len(attData.CredentialID) == 0 || len(attData.CredentialPublicKey) == 0 {
		return nil, s.failVerification(op, "credential id or public key missing")
	}

	cred := &Credential{
		ID:              attData.CredentialID,
		UserID:          cc.UserID,
		PublicKey:       attData.CredentialPublicKey,
		AttestationType: attObj.Format,
		Transport:       response.Response.Transports,
		Flags: CredentialFlags{
			UserPresent:    attObj.AuthData.Flags.UserPresent(),
			UserVerified:   attObj.AuthData.Flags.UserVerified(),
			BackupEligible: attObj.AuthData.Flags.HasBackupEligible(),
			BackupState:    attObj.AuthData.Flags.HasBackupState(),
		},
		SignCount: attObj.AuthData.Counter,
		CreatedAt: time.Now().UTC(),
	}

	// All gates passed; mutate stores. Create the principal on first
	// registration. A concurrent duplicate registration of the same handle
	// is rejected by the store's uniqueness constraint, not re-checked here.
	user, err := s.users.GetByID(ctx, cc.UserID)
	if err != nil {
		if !IsUserNotFound(err) {
			return nil, WrapError(op, err)
		}
		user = &User{
			ID:        cc.UserID,
			Username:  cc.Username,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, WrapError(op, err)
		}
	}

	if err := s.creds.Create(ctx, cred); err != nil {
		return nil, WrapError(op, err)
	}

	if err := s.bindSession(ctx, user); err != nil {
		return nil, WrapError(op, err)
	}

	s.logger.Infof("registered credential for user %s (%s, device=%s, backedUp=%t)",
		user.Username, user.ID, cred.DeviceType(), cred.BackedUp())

	return &RegistrationResult{
		CredentialID: cred.ID,
		DeviceType:   cred.DeviceType(),
		BackedUp:     cred.BackedUp(),
	}, nil
}

// challengeMatches compares the stored challenge to the base64url value
// embedded in the collected client data in constant time.
func challengeMatches(issued []byte, embedded string) bool {
	expected := base64.RawURLEncoding.EncodeToString(issued)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(embedded)) == 1
}

// rpIDHashMatches checks the authenticator data's RP-ID hash against the
// configured RP ID.
func rpIDHashMatches(rpID string, hash []byte) bool {
	expected := sha256.Sum256([]byte(rpID))
	return subtle.ConstantTimeCompare(expected[:], hash) == 1
}

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
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"

	"github.com/jeremyhahn/go-passkey/pkg/metrics"
)

// FinishAuthentication completes an authentication ceremony. The response
// is the parsed client assertion; challengeKey is the key returned by
// BeginAuthentication (the user's ID, or the synthetic key of a
// discoverable-credential ceremony).
//
// The claimed credential is looked up before the challenge is consumed so
// an unknown credential does not burn challenge state. The authenticated
// identity is always the credential's recorded owner, never an identity
// implied by the caller.
func (s *Service) FinishAuthentication(ctx context.Context, response *protocol.ParsedCredentialAssertionData, challengeKey string) (*AuthenticationResult, error) {
	result, err := s.finishAuthentication(ctx, response, challengeKey)
	if err != nil {
		metrics.RecordCeremony(metrics.CeremonyAuthentication, metrics.StatusError)
		return nil, err
	}
	metrics.RecordCeremony(metrics.CeremonyAuthentication, metrics.StatusSuccess)
	return result, nil
}

func (s *Service) finishAuthentication(ctx context.Context, response *protocol.ParsedCredentialAssertionData, challengeKey string) (*AuthenticationResult, error) {
	const op = "finish authentication"

	if !s.configured {
		return nil, ErrNotConfigured
	}
	if response == nil || challengeKey == "" {
		return nil, NewError(op, ErrInvalidResponse)
	}

	// Step 1: look up the claimed credential before consuming the
	// challenge, so probing with nonexistent credentials does not consume
	// challenge state.
	cred, err := s.creds.GetByID(ctx, response.RawID)
	if err != nil {
		return nil, WrapError(op, err)
	}

	// Step 2: consume the ceremony challenge (exactly once).
	challenge, err := s.consumeChallenge(ctx, op, challengeKey)
	if err != nil {
		return nil, err
	}

	// Step 3: challenge, ceremony type, origin and RP-ID hash binding.
	clientData := &response.Response.CollectedClientData
	if !challengeMatches(challenge.Value, clientData.Challenge) {
		return nil, s.failVerification(op, "challenge mismatch")
	}
	if clientData.Type != protocol.AssertCeremony {
		return nil, s.failVerification(op, "client data type is not webauthn.get")
	}
	if clientData.Origin != s.config.RPOrigin {
		return nil, s.failVerification(op, "origin mismatch")
	}

	authData := &response.Response.AuthenticatorData
	if !rpIDHashMatches(s.config.RPID, authData.RPIDHash) {
		return nil, s.failVerification(op, "rp id hash mismatch")
	}

	// Presence and user-verification policy.
	if !authData.Flags.UserPresent() {
		return nil, s.failVerification(op, "user presence flag not set")
	}
	if s.config.requiresUserVerification() && !authData.Flags.UserVerified() {
		return nil, s.failVerification(op, "user verification required but not performed")
	}

	// A discoverable credential reports the user handle it was created
	// with; when present it must agree with the stored owner.
	if len(response.Response.UserHandle) > 0 &&
		!bytes.Equal(response.Response.UserHandle, []byte(cred.UserID)) {
		return nil, s.failVerification(op, "user handle does not match credential owner")
	}

	// Step 4: assertion signature over authData || SHA-256(clientDataJSON)
	// with the stored credential public key.
	clientDataHash := sha256.Sum256(response.Raw.AssertionResponse.ClientDataJSON)
	signed := make([]byte, 0, len(response.Raw.AssertionResponse.AuthenticatorData)+len(clientDataHash))
	signed = append(signed, response.Raw.AssertionResponse.AuthenticatorData...)
	signed = append(signed, clientDataHash[:]...)

	key, err := webauthncose.ParsePublicKey(cred.PublicKey)
	if err != nil {
		return nil, s.failVerification(op, "parse stored public key: "+err.Error())
	}
	valid, err := webauthncose.VerifySignature(key, signed, response.Response.Signature)
	if err != nil || !valid {
		return nil, s.failVerification(op, "assertion signature invalid")
	}

	// Step 5 and 6: clone detection and counter update, single-writer per
	// credential so two concurrent assertions cannot both pass the
	// monotonicity check against a stale counter.
	if err := s.advanceSignCount(ctx, op, cred.ID, authData.Counter); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, cred.UserID)
	if err != nil {
		// A credential without its owner is a store integrity failure.
		return nil, s.failVerification(op, "credential owner missing: "+err.Error())
	}

	if err := s.bindSession(ctx, user); err != nil {
		return nil, WrapError(op, err)
	}

	token, err := s.generateToken(ctx, user)
	if err != nil {
		return nil, WrapError(op, err)
	}

	s.logger.Infof("authenticated user %s (%s) with credential %s",
		user.Username, user.ID, base64.RawURLEncoding.EncodeToString(cred.ID))

	return &AuthenticationResult{
		UserID:   user.ID,
		Username: user.Username,
		Token:    token,
	}, nil
}

// advanceSignCount performs the clone-detection check and persists the new
// counter. The stored counter is re-read under the per-credential lock so
// the check-then-update is serialized.
//
// Authenticators that always report zero never increment; they are exempt
// from the monotonicity check, so the gate only fires when both the stored
// and the reported counter are nonzero.
func (s *Service) advanceSignCount(ctx context.Context, op string, credID []byte, newCounter uint32) error {
	lock := s.credLocks.lock(string(credID))
	defer lock.Unlock()

	cred, err := s.creds.GetByID(ctx, credID)
	if err != nil {
		return WrapError(op, err)
	}

	if newCounter > 0 && cred.SignCount > 0 && newCounter <= cred.SignCount {
		s.logger.Warnf("possible cloned authenticator: credential %s counter went %d -> %d",
			base64.RawURLEncoding.EncodeToString(credID), cred.SignCount, newCounter)
		metrics.RecordCloneWarning()
		return NewError(op, ErrClonedAuthenticator)
	}

	if err := s.creds.UpdateSignCount(ctx, credID, newCounter); err != nil {
		return WrapError(op, err)
	}
	return nil
}

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
	"encoding/json"
	"testing"

	"github.com/descope/virtualwebauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIntegration_FullRegistrationFlow tests the complete registration
// ceremony using a virtual authenticator.
func TestIntegration_FullRegistrationFlow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	cfg := env.service.Config()

	rp := virtualwebauthn.RelyingParty{
		Name:   cfg.RPDisplayName,
		ID:     cfg.RPID,
		Origin: cfg.RPOrigin,
	}
	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	// Step 1: Begin registration
	options, cc, err := env.service.BeginRegistration(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, options)
	require.NotNil(t, cc)

	assert.Equal(t, cfg.RPID, options.Response.RelyingParty.ID)
	assert.Equal(t, cfg.RPDisplayName, options.Response.RelyingParty.Name)
	assert.Equal(t, "alice", options.Response.User.Name)
	assert.NotEmpty(t, options.Response.Challenge)

	// Step 2: Create attestation response using the virtual authenticator
	optionsJSON, err := json.Marshal(options.Response)
	require.NoError(t, err)

	parsedOptions, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)

	attestationResponse := virtualwebauthn.CreateAttestationResponse(rp, authenticator, credential, *parsedOptions)

	// Step 3: Parse the response (simulating what the browser sends)
	parsedResponse, err := ParseRegistrationResponse([]byte(attestationResponse))
	require.NoError(t, err)

	// Step 4: Finish registration
	result, err := env.service.FinishRegistration(ctx, parsedResponse, cc)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.NotEmpty(t, result.CredentialID)

	authenticator.AddCredential(credential)

	// Verify the user and credential were stored
	user, err := env.service.UserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, cc.UserID, user.ID)

	creds, err := env.service.Credentials(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, creds, 1)

	registered, err := env.service.IsRegistered(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, registered)
}

// TestIntegration_FullAuthenticationFlow tests the complete authentication
// ceremony using a virtual authenticator after registration.
func TestIntegration_FullAuthenticationFlow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	cfg := env.service.Config()

	rp := virtualwebauthn.RelyingParty{
		Name:   cfg.RPDisplayName,
		ID:     cfg.RPID,
		Origin: cfg.RPOrigin,
	}
	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	// === REGISTRATION PHASE ===

	regOptions, cc, err := env.service.BeginRegistration(ctx, "alice")
	require.NoError(t, err)

	regOptionsJSON, err := json.Marshal(regOptions.Response)
	require.NoError(t, err)

	parsedRegOptions, err := virtualwebauthn.ParseAttestationOptions(string(regOptionsJSON))
	require.NoError(t, err)

	attestationResponse := virtualwebauthn.CreateAttestationResponse(rp, authenticator, credential, *parsedRegOptions)

	parsedAttResponse, err := ParseRegistrationResponse([]byte(attestationResponse))
	require.NoError(t, err)

	_, err = env.service.FinishRegistration(ctx, parsedAttResponse, cc)
	require.NoError(t, err)

	authenticator.AddCredential(credential)

	// === AUTHENTICATION PHASE ===

	authOptions, challengeKey, err := env.service.BeginAuthentication(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, authOptions)
	require.NotEmpty(t, challengeKey)

	assert.NotEmpty(t, authOptions.Response.Challenge)
	assert.Equal(t, cfg.RPID, authOptions.Response.RelyingPartyID)
	assert.Len(t, authOptions.Response.AllowedCredentials, 1)

	authOptionsJSON, err := json.Marshal(authOptions.Response)
	require.NoError(t, err)

	parsedAuthOptions, err := virtualwebauthn.ParseAssertionOptions(string(authOptionsJSON))
	require.NoError(t, err)

	// Real authenticators advance the counter on each assertion.
	credential.Counter++
	assertionResponse := virtualwebauthn.CreateAssertionResponse(rp, authenticator, credential, *parsedAuthOptions)

	parsedAssertResponse, err := ParseAuthenticationResponse([]byte(assertionResponse))
	require.NoError(t, err)

	result, err := env.service.FinishAuthentication(ctx, parsedAssertResponse, challengeKey)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, cc.UserID, result.UserID)
	assert.Equal(t, "alice", result.Username)
	assert.True(t, env.binder.Authenticated())
}

// TestIntegration_DiscoverableCredentialFlow tests the passkey conditional
// UI flow where no username is known at the begin step.
func TestIntegration_DiscoverableCredentialFlow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	cfg := env.service.Config()

	rp := virtualwebauthn.RelyingParty{
		Name:   cfg.RPDisplayName,
		ID:     cfg.RPID,
		Origin: cfg.RPOrigin,
	}
	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	// === REGISTRATION ===

	regOptions, cc, err := env.service.BeginRegistration(ctx, "alice")
	require.NoError(t, err)

	regOptionsJSON, _ := json.Marshal(regOptions.Response)
	parsedRegOptions, err := virtualwebauthn.ParseAttestationOptions(string(regOptionsJSON))
	require.NoError(t, err)

	attestationResponse := virtualwebauthn.CreateAttestationResponse(rp, authenticator, credential, *parsedRegOptions)
	parsedAttResponse, err := ParseRegistrationResponse([]byte(attestationResponse))
	require.NoError(t, err)

	_, err = env.service.FinishRegistration(ctx, parsedAttResponse, cc)
	require.NoError(t, err)

	// === DISCOVERABLE AUTHENTICATION (no username provided) ===

	authOptions, challengeKey, err := env.service.BeginAuthentication(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, authOptions.Response.AllowedCredentials)

	authOptionsJSON, _ := json.Marshal(authOptions.Response)
	parsedAuthOptions, err := virtualwebauthn.ParseAssertionOptions(string(authOptionsJSON))
	require.NoError(t, err)

	// The discoverable credential reports the user handle it was created
	// with, which is how the Relying Party learns who is authenticating.
	user, err := env.service.UserByUsername(ctx, "alice")
	require.NoError(t, err)

	discoverableAuth := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{
		UserHandle: user.Handle(),
	})
	discoverableAuth.AddCredential(credential)

	credential.Counter++
	assertionResponse := virtualwebauthn.CreateAssertionResponse(rp, discoverableAuth, credential, *parsedAuthOptions)
	parsedAssertResponse, err := ParseAuthenticationResponse([]byte(assertionResponse))
	require.NoError(t, err)

	result, err := env.service.FinishAuthentication(ctx, parsedAssertResponse, challengeKey)
	require.NoError(t, err)

	assert.Equal(t, user.ID, result.UserID)
	assert.Equal(t, "alice", result.Username)
}

// TestIntegration_MultipleCredentials tests enrolling two authenticators for
// one user and authenticating with each.
func TestIntegration_MultipleCredentials(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	cfg := env.service.Config()

	rp := virtualwebauthn.RelyingParty{
		Name:   cfg.RPDisplayName,
		ID:     cfg.RPID,
		Origin: cfg.RPOrigin,
	}

	authenticator1 := virtualwebauthn.NewAuthenticator()
	credential1 := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	authenticator2 := virtualwebauthn.NewAuthenticator()
	credential2 := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	// Register the first credential
	regOptions1, cc1, err := env.service.BeginRegistration(ctx, "alice")
	require.NoError(t, err)

	regOptionsJSON1, _ := json.Marshal(regOptions1.Response)
	parsedRegOptions1, err := virtualwebauthn.ParseAttestationOptions(string(regOptionsJSON1))
	require.NoError(t, err)
	attestationResponse1 := virtualwebauthn.CreateAttestationResponse(rp, authenticator1, credential1, *parsedRegOptions1)
	parsedAttResponse1, err := ParseRegistrationResponse([]byte(attestationResponse1))
	require.NoError(t, err)

	_, err = env.service.FinishRegistration(ctx, parsedAttResponse1, cc1)
	require.NoError(t, err)
	authenticator1.AddCredential(credential1)

	// Register a second credential for the same user
	regOptions2, cc2, err := env.service.BeginRegistration(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, regOptions2.Response.CredentialExcludeList, 1)

	regOptionsJSON2, _ := json.Marshal(regOptions2.Response)
	parsedRegOptions2, err := virtualwebauthn.ParseAttestationOptions(string(regOptionsJSON2))
	require.NoError(t, err)
	attestationResponse2 := virtualwebauthn.CreateAttestationResponse(rp, authenticator2, credential2, *parsedRegOptions2)
	parsedAttResponse2, err := ParseRegistrationResponse([]byte(attestationResponse2))
	require.NoError(t, err)

	_, err = env.service.FinishRegistration(ctx, parsedAttResponse2, cc2)
	require.NoError(t, err)
	authenticator2.AddCredential(credential2)

	user, err := env.service.UserByUsername(ctx, "alice")
	require.NoError(t, err)
	creds, err := env.service.Credentials(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, creds, 2)

	// Authenticate with each enrolled authenticator in turn.
	for i, pair := range []struct {
		authenticator virtualwebauthn.Authenticator
		credential    *virtualwebauthn.Credential
	}{
		{authenticator1, &credential1},
		{authenticator2, &credential2},
	} {
		authOptions, challengeKey, err := env.service.BeginAuthentication(ctx, "alice")
		require.NoError(t, err, "login %d", i)
		assert.Len(t, authOptions.Response.AllowedCredentials, 2)

		authOptionsJSON, _ := json.Marshal(authOptions.Response)
		parsedAuthOptions, err := virtualwebauthn.ParseAssertionOptions(string(authOptionsJSON))
		require.NoError(t, err)

		pair.credential.Counter++
		assertionResponse := virtualwebauthn.CreateAssertionResponse(rp, pair.authenticator, *pair.credential, *parsedAuthOptions)
		parsedAssertResponse, err := ParseAuthenticationResponse([]byte(assertionResponse))
		require.NoError(t, err)

		result, err := env.service.FinishAuthentication(ctx, parsedAssertResponse, challengeKey)
		require.NoError(t, err, "login %d", i)
		assert.Equal(t, user.ID, result.UserID)
	}
}

// TestIntegration_SignCountAdvances tests that the stored signature counter
// follows the authenticator across authentications.
func TestIntegration_SignCountAdvances(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	cfg := env.service.Config()

	rp := virtualwebauthn.RelyingParty{
		Name:   cfg.RPDisplayName,
		ID:     cfg.RPID,
		Origin: cfg.RPOrigin,
	}
	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	regOptions, cc, err := env.service.BeginRegistration(ctx, "alice")
	require.NoError(t, err)
	regOptionsJSON, _ := json.Marshal(regOptions.Response)
	parsedRegOptions, err := virtualwebauthn.ParseAttestationOptions(string(regOptionsJSON))
	require.NoError(t, err)
	attestationResponse := virtualwebauthn.CreateAttestationResponse(rp, authenticator, credential, *parsedRegOptions)
	parsedAttResponse, err := ParseRegistrationResponse([]byte(attestationResponse))
	require.NoError(t, err)

	_, err = env.service.FinishRegistration(ctx, parsedAttResponse, cc)
	require.NoError(t, err)
	authenticator.AddCredential(credential)

	user, err := env.service.UserByUsername(ctx, "alice")
	require.NoError(t, err)

	creds, err := env.service.Credentials(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), creds[0].SignCount)

	numLogins := 3
	for i := 0; i < numLogins; i++ {
		credential.Counter++

		authOptions, challengeKey, err := env.service.BeginAuthentication(ctx, "alice")
		require.NoError(t, err)
		authOptionsJSON, _ := json.Marshal(authOptions.Response)
		parsedAuthOptions, err := virtualwebauthn.ParseAssertionOptions(string(authOptionsJSON))
		require.NoError(t, err)
		assertionResponse := virtualwebauthn.CreateAssertionResponse(rp, authenticator, credential, *parsedAuthOptions)
		parsedAssertResponse, err := ParseAuthenticationResponse([]byte(assertionResponse))
		require.NoError(t, err)

		_, err = env.service.FinishAuthentication(ctx, parsedAssertResponse, challengeKey)
		require.NoError(t, err)
	}

	creds, err = env.service.Credentials(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(numLogins), creds[0].SignCount)
}

// TestIntegration_RedisChallengeStore runs the registration and
// authentication ceremonies against the Redis-backed challenge store.
func TestIntegration_RedisChallengeStore(t *testing.T) {
	ctx := context.Background()

	store, _ := newTestRedisStore(t)
	users := NewMemoryUserStore()
	creds := NewMemoryCredentialStore()

	service, err := NewService(ServiceParams{
		Config:          testConfig(),
		UserStore:       users,
		CredentialStore: creds,
		ChallengeStore:  store,
	})
	require.NoError(t, err)
	cfg := service.Config()

	rp := virtualwebauthn.RelyingParty{
		Name:   cfg.RPDisplayName,
		ID:     cfg.RPID,
		Origin: cfg.RPOrigin,
	}
	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	regOptions, cc, err := service.BeginRegistration(ctx, "alice")
	require.NoError(t, err)
	regOptionsJSON, _ := json.Marshal(regOptions.Response)
	parsedRegOptions, err := virtualwebauthn.ParseAttestationOptions(string(regOptionsJSON))
	require.NoError(t, err)
	attestationResponse := virtualwebauthn.CreateAttestationResponse(rp, authenticator, credential, *parsedRegOptions)
	parsedAttResponse, err := ParseRegistrationResponse([]byte(attestationResponse))
	require.NoError(t, err)

	_, err = service.FinishRegistration(ctx, parsedAttResponse, cc)
	require.NoError(t, err)
	authenticator.AddCredential(credential)

	authOptions, challengeKey, err := service.BeginAuthentication(ctx, "alice")
	require.NoError(t, err)
	authOptionsJSON, _ := json.Marshal(authOptions.Response)
	parsedAuthOptions, err := virtualwebauthn.ParseAssertionOptions(string(authOptionsJSON))
	require.NoError(t, err)

	credential.Counter++
	assertionResponse := virtualwebauthn.CreateAssertionResponse(rp, authenticator, credential, *parsedAuthOptions)
	parsedAssertResponse, err := ParseAuthenticationResponse([]byte(assertionResponse))
	require.NoError(t, err)

	result, err := service.FinishAuthentication(ctx, parsedAssertResponse, challengeKey)
	require.NoError(t, err)
	assert.Equal(t, "alice", result.Username)

	// The challenge was consumed; replaying the assertion fails.
	_, err = service.FinishAuthentication(ctx, parsedAssertResponse, challengeKey)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

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
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginAuthentication(t *testing.T) {
	ctx := context.Background()

	t.Run("known user gets allow list", func(t *testing.T) {
		env := newTestEnv(t, nil)
		mock := mustRegister(t, env, "alice")

		options, key, err := env.service.BeginAuthentication(ctx, "alice")
		require.NoError(t, err)

		user, err := env.users.GetByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, user.ID, key)

		assert.Equal(t, "example.com", options.Response.RelyingPartyID)
		require.Len(t, options.Response.AllowedCredentials, 1)
		assert.Equal(t, mock.CredentialID, []byte(options.Response.AllowedCredentials[0].CredentialID))

		stored, err := env.challenges.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte(options.Response.Challenge), stored.Value)
	})

	t.Run("unknown user", func(t *testing.T) {
		env := newTestEnv(t, nil)
		_, _, err := env.service.BeginAuthentication(ctx, "nobody")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("user without credentials", func(t *testing.T) {
		env := newTestEnv(t, nil)
		require.NoError(t, env.users.Create(ctx, &User{ID: "user-1", Username: "alice"}))

		_, _, err := env.service.BeginAuthentication(ctx, "alice")
		assert.ErrorIs(t, err, ErrNoCredentials)
	})

	t.Run("empty username starts discoverable ceremony", func(t *testing.T) {
		env := newTestEnv(t, nil)

		options, key, err := env.service.BeginAuthentication(ctx, "")
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(key, conditionalKeyPrefix))
		assert.Empty(t, options.Response.AllowedCredentials)

		_, err = env.challenges.Get(ctx, key)
		assert.NoError(t, err)
	})

	t.Run("discoverable ceremonies get distinct keys", func(t *testing.T) {
		env := newTestEnv(t, nil)

		_, key1, err := env.service.BeginAuthentication(ctx, "")
		require.NoError(t, err)
		_, key2, err := env.service.BeginAuthentication(ctx, "")
		require.NoError(t, err)

		assert.NotEqual(t, key1, key2)
		assert.Equal(t, 2, env.challenges.Count())
	})
}

func TestFinishAuthentication(t *testing.T) {
	ctx := context.Background()

	t.Run("success returns credential owner and advances counter", func(t *testing.T) {
		env := newTestEnv(t, nil)
		mock := mustRegister(t, env, "alice")
		env.binder.Clear()

		options, key, err := env.service.BeginAuthentication(ctx, "alice")
		require.NoError(t, err)

		response, err := mock.CreateAssertionResponse(options.Response.Challenge, "https://example.com")
		require.NoError(t, err)

		result, err := env.service.FinishAuthentication(ctx, response, key)
		require.NoError(t, err)
		assert.Equal(t, "alice", result.Username)
		assert.Equal(t, key, result.UserID)
		assert.Empty(t, result.Token)

		cred, err := env.creds.GetByID(ctx, mock.CredentialID)
		require.NoError(t, err)
		assert.Equal(t, mock.SignCount, cred.SignCount)
		assert.False(t, cred.LastUsedAt.IsZero())

		assert.True(t, env.binder.Authenticated())
	})

	t.Run("unknown credential does not burn the challenge", func(t *testing.T) {
		env := newTestEnv(t, nil)
		mustRegister(t, env, "alice")

		options, key, err := env.service.BeginAuthentication(ctx, "alice")
		require.NoError(t, err)

		// An assertion from an authenticator that was never enrolled.
		stranger, err := NewMockAuthenticator("example.com")
		require.NoError(t, err)
		response, err := stranger.CreateAssertionResponse(options.Response.Challenge, "https://example.com")
		require.NoError(t, err)

		_, err = env.service.FinishAuthentication(ctx, response, key)
		assert.ErrorIs(t, err, ErrCredentialNotFound)

		// The challenge is still live; the real authenticator can finish.
		_, err = env.challenges.Get(ctx, key)
		assert.NoError(t, err)
	})

	t.Run("replayed assertion rejected", func(t *testing.T) {
		env := newTestEnv(t, nil)
		mock := mustRegister(t, env, "alice")

		options, key, err := env.service.BeginAuthentication(ctx, "alice")
		require.NoError(t, err)

		response, err := mock.CreateAssertionResponse(options.Response.Challenge, "https://example.com")
		require.NoError(t, err)

		_, err = env.service.FinishAuthentication(ctx, response, key)
		require.NoError(t, err)

		_, err = env.service.FinishAuthentication(ctx, response, key)
		assert.ErrorIs(t, err, ErrChallengeNotFound)
	})

	t.Run("origin mismatch", func(t *testing.T) {
		env := newTestEnv(t, nil)
		mock := mustRegister(t, env, "alice")

		options, key, err := env.service.BeginAuthentication(ctx, "alice")
		require.NoError(t, err)

		response, err := mock.CreateAssertionResponse(options.Response.Challenge, "https://evil.example")
		require.NoError(t, err)

		_, err = env.service.FinishAuthentication(ctx, response, key)
		assert.ErrorIs(t, err, ErrVerificationFailed)
	})

	t.Run("tampered signature rejected", func(t *testing.T) {
		env := newTestEnv(t, nil)
		mock := mustRegister(t, env, "alice")

		options, key, err := env.service.BeginAuthentication(ctx, "alice")
		require.NoError(t, err)

		response, err := mock.CreateAssertionResponse(options.Response.Challenge, "https://example.com")
		require.NoError(t, err)
		response.Response.Signature[len(response.Response.Signature)-1] ^= 0xFF

		_, err = env.service.FinishAuthentication(ctx, response, key)
		assert.ErrorIs(t, err, ErrVerificationFailed)
	})

	t.Run("user verification policy enforced", func(t *testing.T) {
		config := testConfig()
		config.UserVerification = "required"
		env := newTestEnv(t, config)
		mock := mustRegister(t, env, "alice")

		mock.UserVerified = false
		options, key, err := env.service.BeginAuthentication(ctx, "alice")
		require.NoError(t, err)

		response, err := mock.CreateAssertionResponse(options.Response.Challenge, "https://example.com")
		require.NoError(t, err)

		_, err = env.service.FinishAuthentication(ctx, response, key)
		assert.ErrorIs(t, err, ErrVerificationFailed)
	})

	t.Run("user handle must match credential owner", func(t *testing.T) {
		env := newTestEnv(t, nil)
		mock := mustRegister(t, env, "alice")
		mock.UserHandle = []byte("someone-else")

		options, key, err := env.service.BeginAuthentication(ctx, "alice")
		require.NoError(t, err)

		response, err := mock.CreateAssertionResponse(options.Response.Challenge, "https://example.com")
		require.NoError(t, err)

		_, err = env.service.FinishAuthentication(ctx, response, key)
		assert.ErrorIs(t, err, ErrVerificationFailed)
	})

	t.Run("discoverable ceremony identifies user from credential", func(t *testing.T) {
		env := newTestEnv(t, nil)
		mock := mustRegister(t, env, "alice")

		user, err := env.users.GetByUsername(ctx, "alice")
		require.NoError(t, err)
		mock.UserHandle = user.Handle()

		options, key, err := env.service.BeginAuthentication(ctx, "")
		require.NoError(t, err)

		response, err := mock.CreateAssertionResponse(options.Response.Challenge, "https://example.com")
		require.NoError(t, err)

		result, err := env.service.FinishAuthentication(ctx, response, key)
		require.NoError(t, err)
		assert.Equal(t, user.ID, result.UserID)
		assert.Equal(t, "alice", result.Username)
	})

	t.Run("empty challenge key rejected", func(t *testing.T) {
		env := newTestEnv(t, nil)
		mock := mustRegister(t, env, "alice")

		response, err := mock.CreateAssertionResponse([]byte(strings.Repeat("x", 32)), "https://example.com")
		require.NoError(t, err)

		_, err = env.service.FinishAuthentication(ctx, response, "")
		assert.ErrorIs(t, err, ErrInvalidResponse)
	})
}

func TestCloneDetection(t *testing.T) {
	ctx := context.Background()

	t.Run("regressed counter rejected and counter preserved", func(t *testing.T) {
		env := newTestEnv(t, nil)
		mock := mustRegister(t, env, "alice", WithSignCount(10))

		// A legitimate authentication moves the stored counter to 11.
		options, key, err := env.service.BeginAuthentication(ctx, "alice")
		require.NoError(t, err)
		response, err := mock.CreateAssertionResponse(options.Response.Challenge, "https://example.com")
		require.NoError(t, err)
		_, err = env.service.FinishAuthentication(ctx, response, key)
		require.NoError(t, err)

		// A clone of the authenticator presents a stale counter.
		mock.SetSignCount(4)
		options, key, err = env.service.BeginAuthentication(ctx, "alice")
		require.NoError(t, err)
		response, err = mock.CreateAssertionResponse(options.Response.Challenge, "https://example.com")
		require.NoError(t, err)

		_, err = env.service.FinishAuthentication(ctx, response, key)
		assert.ErrorIs(t, err, ErrClonedAuthenticator)
		assert.False(t, IsVerificationFailed(err))

		cred, err := env.creds.GetByID(ctx, mock.CredentialID)
		require.NoError(t, err)
		assert.Equal(t, uint32(11), cred.SignCount)
	})

	t.Run("equal counter rejected", func(t *testing.T) {
		env := newTestEnv(t, nil)
		mock := mustRegister(t, env, "alice", WithSignCount(7))

		// The assertion increments to 8; the stored counter becomes 8.
		options, key, err := env.service.BeginAuthentication(ctx, "alice")
		require.NoError(t, err)
		response, err := mock.CreateAssertionResponse(options.Response.Challenge, "https://example.com")
		require.NoError(t, err)
		_, err = env.service.FinishAuthentication(ctx, response, key)
		require.NoError(t, err)

		// Replaying the same counter value must trip the gate.
		mock.SetSignCount(7)
		options, key, err = env.service.BeginAuthentication(ctx, "alice")
		require.NoError(t, err)
		response, err = mock.CreateAssertionResponse(options.Response.Challenge, "https://example.com")
		require.NoError(t, err)

		_, err = env.service.FinishAuthentication(ctx, response, key)
		assert.ErrorIs(t, err, ErrClonedAuthenticator)
	})

	t.Run("zero reporting authenticators are exempt", func(t *testing.T) {
		env := newTestEnv(t, nil)
		require.NoError(t, env.creds.Create(ctx, &Credential{
			ID: []byte{1}, UserID: "user-1", SignCount: 0,
		}))

		// An authenticator that never implements the counter always reports
		// zero; the monotonicity gate must not fire.
		err := env.service.advanceSignCount(ctx, "finish authentication", []byte{1}, 0)
		assert.NoError(t, err)

		cred, err := env.creds.GetByID(ctx, []byte{1})
		require.NoError(t, err)
		assert.Equal(t, uint32(0), cred.SignCount)
	})

	t.Run("first nonzero counter after zero accepted", func(t *testing.T) {
		env := newTestEnv(t, nil)
		require.NoError(t, env.creds.Create(ctx, &Credential{
			ID: []byte{1}, UserID: "user-1", SignCount: 0,
		}))

		err := env.service.advanceSignCount(ctx, "finish authentication", []byte{1}, 1)
		assert.NoError(t, err)

		cred, err := env.creds.GetByID(ctx, []byte{1})
		require.NoError(t, err)
		assert.Equal(t, uint32(1), cred.SignCount)
	})

	t.Run("concurrent assertions with the same counter admit one", func(t *testing.T) {
		env := newTestEnv(t, nil)
		require.NoError(t, env.creds.Create(ctx, &Credential{
			ID: []byte{1}, UserID: "user-1", SignCount: 5,
		}))

		var wg sync.WaitGroup
		var successes atomic.Int32

		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := env.service.advanceSignCount(ctx, "finish authentication", []byte{1}, 6); err == nil {
					successes.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), successes.Load())

		cred, err := env.creds.GetByID(ctx, []byte{1})
		require.NoError(t, err)
		assert.Equal(t, uint32(6), cred.SignCount)
	})
}

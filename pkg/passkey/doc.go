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

// Package passkey implements a WebAuthn (FIDO2) Relying Party core: it
// issues ceremony challenges, builds registration and authentication
// options, verifies attestation and assertion responses, persists
// public-key credentials, and detects replayed or cloned authenticators
// via the signature counter.
//
// The package performs the ceremony verification itself. It delegates
// wire-format parsing and COSE public key signature verification to the
// go-webauthn/webauthn protocol subpackages, but the hard gates - challenge
// consumption, challenge/origin/RP-ID binding, user-verification policy and
// the counter-based clone check - live here.
//
// # Architecture
//
//  1. Service layer (Service) - ceremony orchestration, one method per
//     ceremony step (BeginRegistration, FinishRegistration,
//     BeginAuthentication, FinishAuthentication)
//  2. Storage layer (UserStore, CredentialStore, ChallengeStore) -
//     pluggable persistence with in-memory and Redis implementations
//  3. Session layer (SessionBinder, TokenGenerator) - bridges successful
//     ceremonies to the caller's session mechanism
//
// # Usage
//
// Basic usage with in-memory storage (for development):
//
//	svc, err := passkey.NewService(passkey.ServiceParams{
//	    Config: &passkey.Config{
//	        RPID:          "localhost",
//	        RPDisplayName: "My App",
//	        RPOrigin:      "https://localhost:3000",
//	    },
//	    UserStore:       passkey.NewMemoryUserStore(),
//	    CredentialStore: passkey.NewMemoryCredentialStore(),
//	    ChallengeStore:  passkey.NewMemoryChallengeStore(),
//	})
//
// For production, implement the storage interfaces with your database, or
// use RedisChallengeStore for the short-lived challenge records.
//
// # WebAuthn Specification Compliance
//
// This implementation follows the W3C Web Authentication specification:
//   - https://www.w3.org/TR/webauthn-2/
//   - https://www.w3.org/TR/webauthn-3/
package passkey

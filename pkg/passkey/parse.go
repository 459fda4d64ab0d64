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

	"github.com/go-webauthn/webauthn/protocol"
)

// ParseRegistrationResponse parses the raw JSON attestation response sent
// by the client platform into its structured form. Malformed payloads are
// reported as ErrInvalidResponse.
func ParseRegistrationResponse(body []byte) (*protocol.ParsedCredentialCreationData, error) {
	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(body))
	if err != nil {
		return nil, &PasskeyError{Op: "parse registration response", Err: ErrInvalidResponse}
	}
	return parsed, nil
}

// ParseAuthenticationResponse parses the raw JSON assertion response sent
// by the client platform into its structured form. Malformed payloads are
// reported as ErrInvalidResponse.
func ParseAuthenticationResponse(body []byte) (*protocol.ParsedCredentialAssertionData, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(body))
	if err != nil {
		return nil, &PasskeyError{Op: "parse authentication response", Err: ErrInvalidResponse}
	}
	return parsed, nil
}

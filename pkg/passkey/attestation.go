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
	"crypto/x509"
	"errors"
	"fmt"
	"sync"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
)

// AttestationVerifier verifies the attestation statement of one attestation
// format. Formats are dispatched by the tag embedded in the attestation
// object, so supporting a new format is an additive registration rather
// than a change to the registration verifier.
type AttestationVerifier interface {
	// Format returns the attestation format tag this verifier handles.
	Format() string

	// Verify checks the attestation statement's signature over the
	// authenticator data and client data hash.
	Verify(attObj *protocol.AttestationObject, clientDataHash []byte) error
}

var (
	attestationMu      sync.RWMutex
	attestationFormats = map[string]AttestationVerifier{}
)

// RegisterAttestationFormat registers a verifier for its attestation
// format, replacing any existing registration for that format.
func RegisterAttestationFormat(v AttestationVerifier) {
	attestationMu.Lock()
	defer attestationMu.Unlock()
	attestationFormats[v.Format()] = v
}

// verifyAttestation dispatches the attestation object to the verifier
// registered for its format.
func verifyAttestation(attObj *protocol.AttestationObject, clientDataHash []byte) error {
	attestationMu.RLock()
	verifier, ok := attestationFormats[attObj.Format]
	attestationMu.RUnlock()

	if !ok {
		return fmt.Errorf("unsupported attestation format %q", attObj.Format)
	}
	return verifier.Verify(attObj, clientDataHash)
}

func init() {
	RegisterAttestationFormat(noneAttestation{})
	RegisterAttestationFormat(packedAttestation{})
}

// noneAttestation handles the "none" format: no attestation is conveyed,
// so the statement must be empty and no signature check is performed.
type noneAttestation struct{}

func (noneAttestation) Format() string { return "none" }

func (noneAttestation) Verify(attObj *protocol.AttestationObject, clientDataHash []byte) error {
	if len(attObj.AttStatement) != 0 {
		return errors.New("none format with non-empty attestation statement")
	}
	return nil
}

// packedAttestation handles the "packed" format. With an x5c chain the
// signature is checked against the leaf certificate's key; without one the
// statement is self-attestation signed by the freshly created credential
// key. Trust-chain validation against manufacturer roots is out of scope.
type packedAttestation struct{}

func (packedAttestation) Format() string { return "packed" }

func (packedAttestation) Verify(attObj *protocol.AttestationObject, clientDataHash []byte) error {
	alg, ok := attObj.AttStatement["alg"].(int64)
	if !ok {
		return errors.New("packed statement missing alg")
	}

	sig, ok := attObj.AttStatement["sig"].([]byte)
	if !ok || len(sig) == 0 {
		return errors.New("packed statement missing sig")
	}

	signed := make([]byte, 0, len(attObj.RawAuthData)+len(clientDataHash))
	signed = append(signed, attObj.RawAuthData...)
	signed = append(signed, clientDataHash...)

	if x5c, present := attObj.AttStatement["x5c"]; present {
		return verifyPackedX5C(x5c, alg, signed, sig)
	}

	// Self-attestation: signed by the credential private key itself.
	key, err := webauthncose.ParsePublicKey(attObj.AuthData.AttData.CredentialPublicKey)
	if err != nil {
		return fmt.Errorf("parse credential public key: %w", err)
	}

	valid, err := webauthncose.VerifySignature(key, signed, sig)
	if err != nil {
		return fmt.Errorf("verify self attestation: %w", err)
	}
	if !valid {
		return errors.New("self attestation signature invalid")
	}
	return nil
}

func verifyPackedX5C(x5c interface{}, alg int64, signed, sig []byte) error {
	chain, ok := x5c.([]interface{})
	if !ok || len(chain) == 0 {
		return errors.New("packed statement x5c malformed")
	}

	leafBytes, ok := chain[0].([]byte)
	if !ok {
		return errors.New("packed statement x5c leaf malformed")
	}

	leaf, err := x509.ParseCertificate(leafBytes)
	if err != nil {
		return fmt.Errorf("parse attestation certificate: %w", err)
	}

	sigAlg, err := x509SignatureAlgorithm(alg)
	if err != nil {
		return err
	}

	if err := leaf.CheckSignature(sigAlg, signed, sig); err != nil {
		return fmt.Errorf("attestation certificate signature: %w", err)
	}
	return nil
}

// x509SignatureAlgorithm maps a COSE algorithm identifier to the x509
// signature algorithm used for certificate-backed attestation checks.
func x509SignatureAlgorithm(alg int64) (x509.SignatureAlgorithm, error) {
	switch webauthncose.COSEAlgorithmIdentifier(alg) {
	case webauthncose.AlgES256:
		return x509.ECDSAWithSHA256, nil
	case webauthncose.AlgES384:
		return x509.ECDSAWithSHA384, nil
	case webauthncose.AlgES512:
		return x509.ECDSAWithSHA512, nil
	case webauthncose.AlgRS256:
		return x509.SHA256WithRSA, nil
	case webauthncose.AlgRS384:
		return x509.SHA384WithRSA, nil
	case webauthncose.AlgRS512:
		return x509.SHA512WithRSA, nil
	case webauthncose.AlgEdDSA:
		return x509.PureEd25519, nil
	default:
		return x509.UnknownSignatureAlgorithm, fmt.Errorf("unsupported attestation algorithm %d", alg)
	}
}

// Package crypto implements the signature and certificate helpers used to verify TDX quotes.
package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
)

// BuildECDSAPublicKey constructs a P-256 public key from its raw X||Y form, as
// found in quote signature sections.
func BuildECDSAPublicKey(rawPublicKey [64]byte) *ecdsa.PublicKey {
	key := new(ecdsa.PublicKey)
	key.Curve = elliptic.P256()
	key.X = new(big.Int).SetBytes(rawPublicKey[:32])
	key.Y = new(big.Int).SetBytes(rawPublicKey[32:64])

	return key
}

// VerifyECDSASignature verifies a raw r||s ECDSA signature over the SHA-256
// digest of data.
func VerifyECDSASignature(publicKey crypto.PublicKey, data, signature []byte) error {
	signingKey, ok := publicKey.(*ecdsa.PublicKey)
	if !ok {
		return errors.New("signing cert public key is not an ECDSA key")
	}
	if len(signature) != 64 {
		return fmt.Errorf("invalid ECDSA signature: expected 64 bytes but got %d bytes", len(signature))
	}
	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:64])

	digest := sha256.Sum256(data)
	if !ecdsa.Verify(signingKey, digest[:], r, s) {
		return errors.New("failed to verify signature using ECDSA public key")
	}
	return nil
}

// ParsePEMCertificateChain parses all certificates from a PEM encoded byte slice.
func ParsePEMCertificateChain(certChainPEM []byte) ([]*x509.Certificate, error) {
	var chain []*x509.Certificate
	for block, rest := pem.Decode(certChainPEM); block != nil; block, rest = pem.Decode(rest) {
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing certificate from PEM: %w", err)
		}

		chain = append(chain, cert)
	}
	return chain, nil
}

// MustParsePEMCertificate parses the first certificate from a PEM encoded byte
// slice and panics on failure. Intended for pinned certificates and tests.
func MustParsePEMCertificate(certPEM []byte) *x509.Certificate {
	certs, err := ParsePEMCertificateChain(certPEM)
	if err != nil {
		panic(err)
	}
	if len(certs) == 0 {
		panic("expected at least one certificate")
	}
	return certs[0]
}

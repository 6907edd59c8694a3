// Package crypto provides the hash and signature primitives for the ledger:
// SHA-256 digests and ECDSA over the NIST P-256 curve. Keys and signatures
// cross package boundaries as base64 strings so they can be embedded directly
// in transactions, blocks and registry rows.
//
// Encodings:
//
//	public key:  base64(PKIX DER)
//	private key: base64(SEC1 EC DER)
//	signature:   base64(ASN.1 DER), over the SHA-256 prehash of the message
//
// All functions are pure and safe for concurrent use.
package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrInvalidPrivateKey = errors.New("crypto: invalid private key encoding")
	ErrInvalidPublicKey  = errors.New("crypto: invalid public key encoding")
)

// SHA256Hex returns the lowercase hex encoding of the SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// GenerateKeypair creates a fresh P-256 keypair and returns the encoded
// (public, private) strings.
func GenerateKeypair() (string, string, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("crypto: keypair generation: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("crypto: public key encoding: %w", err)
	}
	privDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return "", "", fmt.Errorf("crypto: private key encoding: %w", err)
	}
	return base64.StdEncoding.EncodeToString(pubDER),
		base64.StdEncoding.EncodeToString(privDER), nil
}

// PublicKeyFrom derives the encoded public key from an encoded private key.
func PublicKeyFrom(privateKey string) (string, error) {
	priv, err := decodePrivateKey(privateKey)
	if err != nil {
		return "", err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return "", fmt.Errorf("crypto: public key encoding: %w", err)
	}
	return base64.StdEncoding.EncodeToString(pubDER), nil
}

// Sign signs message with the encoded private key. The message is prehashed
// with SHA-256; the signature is returned base64-encoded.
func Sign(privateKey string, message []byte) (string, error) {
	priv, err := decodePrivateKey(privateKey)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(message)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return "", fmt.Errorf("crypto: sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify reports whether signature is a valid signature of message under the
// encoded public key. Malformed keys or signatures yield false, never an error.
func Verify(publicKey string, message []byte, signature string) bool {
	pub, err := decodePublicKey(publicKey)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(message)
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}

func decodePrivateKey(encoded string) (*ecdsa.PrivateKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidPrivateKey
	}
	priv, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, ErrInvalidPrivateKey
	}
	return priv, nil
}

func decodePublicKey(encoded string) (*ecdsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, ErrInvalidPublicKey
	}
	return pub, nil
}

// Package vault keeps private keys safe in two complementary ways: at rest,
// keys are encrypted under a passphrase (AES-256-CBC with a PBKDF2-derived
// key); in session, decrypted keys live only in a process-local concurrent
// table so the signing path never blocks on passphrase entry.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	ivSize     = 16
	keySize    = 32 // AES-256
	kdfRounds  = 10000
	partsCount = 3
)

var (
	// ErrUnauthorized means the passphrase is wrong or the ciphertext was
	// tampered with; the two are indistinguishable by construction.
	ErrUnauthorized = errors.New("vault: unauthorized")
	// ErrBadFormat means the ciphertext string is not salt:iv:ciphertext.
	ErrBadFormat = errors.New("vault: malformed ciphertext")
)

// Encrypt encrypts plain under passphrase and returns the opaque string
// base64(salt):base64(iv):base64(ciphertext).
func Encrypt(plain, passphrase string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("vault: salt generation: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("vault: iv generation: %w", err)
	}
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return "", err
	}
	padded := pkcs7Pad([]byte(plain), aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	return strings.Join([]string{
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(iv),
		base64.StdEncoding.EncodeToString(ct),
	}, ":"), nil
}

// Decrypt reverses Encrypt. A wrong passphrase or tampered ciphertext yields
// ErrUnauthorized; a string that is not in the salt:iv:ciphertext shape
// yields ErrBadFormat.
func Decrypt(encrypted, passphrase string) (string, error) {
	parts := strings.Split(encrypted, ":")
	if len(parts) != partsCount {
		return "", ErrBadFormat
	}
	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(salt) != saltSize {
		return "", ErrBadFormat
	}
	iv, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(iv) != ivSize {
		return "", ErrBadFormat
	}
	ct, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", ErrBadFormat
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", ErrBadFormat
	}
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return "", err
	}
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)
	unpadded, err := pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return "", ErrUnauthorized
	}
	return string(unpadded), nil
}

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, kdfRounds, keySize, sha256.New)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(pad)}, pad)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("vault: invalid padded length")
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize {
		return nil, errors.New("vault: invalid padding byte")
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, errors.New("vault: inconsistent padding")
		}
	}
	return data[:len(data)-pad], nil
}

package utils

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

// Marketplace API credentials are sealed before they touch the database.
// CREDENTIALS_KEY must be 32 bytes, base64-encoded. Missing or malformed keys
// are a configuration error and fail loudly on first use.

var ErrCredentialsKeyMissing = errors.New("CREDENTIALS_KEY is required (32 bytes, base64)")

func credentialsKey() (*[32]byte, error) {
	raw := strings.TrimSpace(os.Getenv("CREDENTIALS_KEY"))
	if raw == "" {
		return nil, ErrCredentialsKeyMissing
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(decoded) != 32 {
		return nil, ErrCredentialsKeyMissing
	}
	var key [32]byte
	copy(key[:], decoded)
	return &key, nil
}

func SealCredential(plain string) ([]byte, error) {
	key, err := credentialsKey()
	if err != nil {
		return nil, err
	}
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], []byte(plain), &nonce, key), nil
}

func OpenCredential(sealed []byte) (string, error) {
	key, err := credentialsKey()
	if err != nil {
		return "", err
	}
	if len(sealed) < 24 {
		return "", errors.New("sealed credential too short")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, key)
	if !ok {
		return "", errors.New("credential decryption failed")
	}
	return string(plain), nil
}

// Package sealbox encrypts token values before they are written to disk or a database.
package sealbox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	nonceSize = 24
	prefix    = "sb1:"
)

var ErrDecrypt = errors.New("sealbox: unable to decrypt value")

// Box seals and opens strings with a symmetric key.
type Box struct {
	key [32]byte
}

// New derives the box key from an arbitrary secret. An empty secret is rejected.
func New(secret string) (*Box, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("[sealbox New] secret is required")
	}
	return &Box{key: sha256.Sum256([]byte(secret))}, nil
}

// Seal encrypts plaintext. Empty strings stay empty so optional columns remain optional.
func (b *Box) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("[sealbox Seal] nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return prefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (b *Box) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	if !strings.HasPrefix(sealed, prefix) {
		return "", ErrDecrypt
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(sealed, prefix))
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

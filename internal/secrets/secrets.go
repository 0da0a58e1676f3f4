// SPDX-License-Identifier: MIT

// Package secrets encrypts provider URLs and credentials at rest.
//
// Values are sealed with AES-GCM under a key obtained from a KeyProvider and
// stored with a versioned prefix so legacy plaintext values remain readable.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// prefixV1 marks an encrypted value. Anything without it is treated as
// legacy plaintext and returned as-is.
const prefixV1 = "enc:v1:"

var errKeySize = errors.New("secrets: key must be 32 bytes")

// KeyProvider supplies the 256-bit sealing key. Implementations decide where
// the key lives (file, platform keystore, env).
type KeyProvider interface {
	Key() ([]byte, error)
}

// FileKeyProvider stores the key in a file in the data directory, generating
// it on first use.
type FileKeyProvider struct {
	Path string
}

// Key returns the stored key, creating a fresh random one if the file does
// not exist yet.
func (p *FileKeyProvider) Key() ([]byte, error) {
	if b, err := os.ReadFile(p.Path); err == nil {
		if len(b) != 32 {
			return nil, errKeySize
		}
		return b, nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := renameio.WriteFile(p.Path, key, 0o600); err != nil {
		return nil, fmt.Errorf("write key: %w", err)
	}
	return key, nil
}

// Vault seals and opens secret strings.
type Vault struct {
	keys KeyProvider
}

// NewVault returns a Vault backed by the given key provider.
func NewVault(keys KeyProvider) *Vault {
	return &Vault{keys: keys}
}

// Seal encrypts value and returns the versioned wire form. Empty input is
// returned unchanged.
func (v *Vault) Seal(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	gcm, err := v.aead()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(value), nil)
	return prefixV1 + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a stored value. Values without the encryption prefix are
// legacy plaintext and pass through unchanged. Any decryption failure yields
// an empty string rather than an error: a lost key must not wedge startup.
func (v *Vault) Open(stored string) string {
	if !strings.HasPrefix(stored, prefixV1) {
		return stored
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, prefixV1))
	if err != nil {
		return ""
	}
	gcm, err := v.aead()
	if err != nil {
		return ""
	}
	if len(raw) < gcm.NonceSize() {
		return ""
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return ""
	}
	return string(plain)
}

func (v *Vault) aead() (cipher.AEAD, error) {
	key, err := v.keys.Key()
	if err != nil {
		return nil, fmt.Errorf("load key: %w", err)
	}
	if len(key) != 32 {
		return nil, errKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

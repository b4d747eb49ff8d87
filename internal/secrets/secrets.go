// Package secrets encrypts credential blobs held at rest, such as
// allocation altdata and analysis-service authinfo.
//
// Security design:
//   - AES-256-GCM with the key derived from the configured encryption
//     secret via PBKDF2
//   - random nonce prepended to every ciphertext
//   - decrypt failures never expose key material or plaintext
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"

	"golang.org/x/crypto/pbkdf2"

	"github.com/skyhub/skyhub-go/internal/errors"
)

const (
	// keyIterations is the PBKDF2 iteration count for key derivation.
	keyIterations = 100_000

	// keyLength is the derived key length in bytes, 256 bits for AES-256.
	keyLength = 32
)

// keySalt keeps derived keys stable across restarts for the same secret.
// Changing it invalidates every stored ciphertext.
var keySalt = []byte("skyhub-credentials-v1")

// Cipher encrypts and decrypts credential strings with a key derived from
// the deployment's encryption secret.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives an AES-256-GCM cipher from the given secret.
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, errors.Newf("encryption secret is empty").
			Category(errors.CategoryCredentials).
			Component("secrets").
			Context("operation", "derive-key").
			Build()
	}

	key := pbkdf2.Key([]byte(secret), keySalt, keyIterations, keyLength, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryCredentials).
			Component("secrets").
			Context("operation", "create-cipher").
			Build()
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryCredentials).
			Component("secrets").
			Context("operation", "create-gcm").
			Build()
	}

	return &Cipher{aead: aead}, nil
}

// EncryptString encrypts plaintext and returns base64(nonce || ciphertext).
func (c *Cipher) EncryptString(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.New(err).
			Category(errors.CategoryCredentials).
			Component("secrets").
			Context("operation", "generate-nonce").
			Build()
	}

	ciphertext := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptString reverses EncryptString. The returned error carries no
// plaintext or key material.
func (c *Cipher) DecryptString(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", errors.New(err).
			Category(errors.CategoryCredentials).
			Component("secrets").
			Context("operation", "decode-ciphertext").
			Build()
	}

	if len(data) < c.aead.NonceSize() {
		return "", errors.Newf("ciphertext shorter than nonce").
			Category(errors.CategoryCredentials).
			Component("secrets").
			Context("operation", "decrypt").
			Build()
	}

	nonce := data[:c.aead.NonceSize()]
	ciphertext := data[c.aead.NonceSize():]

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// Wrong key or tampered data, both must look identical to callers
		return "", errors.Newf("failed to decrypt credential data").
			Category(errors.CategoryCredentials).
			Component("secrets").
			Context("operation", "decrypt").
			Build()
	}

	return string(plaintext), nil
}

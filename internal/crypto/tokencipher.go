// Package crypto provides AES-256-GCM authenticated encryption for values that
// must be stored at rest: provider consumer secrets, in-progress flow state and
// the long-lived Xero credentials attached to each linked account. Any of these
// in the wrong hands lets an attacker act against the linked Xero organisation,
// so they never touch the database in plaintext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrKeyLengthInvalid is returned when a master key is not exactly 32 bytes (required for AES-256).
	ErrKeyLengthInvalid = errors.New("crypto: key must be exactly 32 bytes for AES-256")
	// ErrCiphertextCorrupted is returned when the ciphertext fails base64 decoding or is too short to contain a valid nonce.
	ErrCiphertextCorrupted = errors.New("crypto: ciphertext is corrupted or tampered")
	// ErrDecryptionFailed is returned when AES-GCM authentication or decryption fails, indicating tampering or a wrong key.
	ErrDecryptionFailed = errors.New("crypto: decryption operation failed")
	// ErrSaltTooShort is returned when the provided salt is fewer than 16 bytes, which would weaken PBKDF2 key derivation.
	ErrSaltTooShort = errors.New("crypto: salt must be at least 16 bytes")
	// ErrNoKeyMaterial is returned when neither a key nor a passphrase was configured.
	ErrNoKeyMaterial = errors.New("crypto: no encryption key or passphrase configured")
)

// TokenCipher encrypts and decrypts sensitive values
type TokenCipher struct {
	masterKey []byte
}

// NewTokenCipher creates a cipher with a 32-byte master key
func NewTokenCipher(masterKey []byte) (*TokenCipher, error) {
	if len(masterKey) != 32 {
		return nil, ErrKeyLengthInvalid
	}
	keyCopy := make([]byte, 32)
	copy(keyCopy, masterKey)
	return &TokenCipher{masterKey: keyCopy}, nil
}

// DeriveTokenCipher creates a cipher by deriving a key from a passphrase
func DeriveTokenCipher(passphrase string, salt []byte, iterations int) (*TokenCipher, error) {
	if len(salt) < 16 {
		return nil, ErrSaltTooShort
	}
	if iterations < 10000 {
		iterations = 100000
	}
	derivedKey := pbkdf2.Key([]byte(passphrase), salt, iterations, 32, sha256.New)
	return NewTokenCipher(derivedKey)
}

// ParseKey accepts either 32 raw bytes or the standard/URL base64 encoding of 32 bytes.
func ParseKey(material string) ([]byte, error) {
	if len(material) == 32 {
		return []byte(material), nil
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if key, err := enc.DecodeString(material); err == nil && len(key) == 32 {
			return key, nil
		}
	}
	return nil, ErrKeyLengthInvalid
}

// Resolve builds the cipher from the configured key material. A direct key
// takes precedence; otherwise the passphrase is stretched with PBKDF2 using the
// base64 encoded salt.
func Resolve(key, passphrase, salt string, iterations int) (*TokenCipher, error) {
	if key != "" {
		raw, err := ParseKey(key)
		if err != nil {
			return nil, err
		}
		return NewTokenCipher(raw)
	}
	if passphrase == "" {
		return nil, ErrNoKeyMaterial
	}
	rawSalt, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: salt is not valid base64: %w", err)
	}
	return DeriveTokenCipher(passphrase, rawSalt, iterations)
}

// Seal encrypts plaintext and returns a base64-encoded ciphertext
func (tc *TokenCipher) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	aead, err := tc.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a base64-encoded ciphertext and returns the plaintext
func (tc *TokenCipher) Open(encodedCiphertext string) (string, error) {
	if encodedCiphertext == "" {
		return "", nil
	}

	ciphertext, err := base64.URLEncoding.DecodeString(encodedCiphertext)
	if err != nil {
		return "", ErrCiphertextCorrupted
	}

	aead, err := tc.aead()
	if err != nil {
		return "", err
	}

	nonceLen := aead.NonceSize()
	if len(ciphertext) < nonceLen {
		return "", ErrCiphertextCorrupted
	}

	plaintext, err := aead.Open(nil, ciphertext[:nonceLen], ciphertext[nonceLen:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// SealJSON marshals v and encrypts the resulting document.
func (tc *TokenCipher) SealJSON(v any) (string, error) {
	doc, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("crypto: marshal: %w", err)
	}
	return tc.Seal(string(doc))
}

// OpenJSON decrypts a value produced by SealJSON into v.
func (tc *TokenCipher) OpenJSON(encoded string, v any) error {
	doc, err := tc.Open(encoded)
	if err != nil {
		return err
	}
	if doc == "" {
		return ErrCiphertextCorrupted
	}
	if err := json.Unmarshal([]byte(doc), v); err != nil {
		return fmt.Errorf("crypto: unmarshal: %w", err)
	}
	return nil
}

func (tc *TokenCipher) aead() (cipher.AEAD, error) {
	blockCipher, err := aes.NewCipher(tc.masterKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(blockCipher)
}

// GenerateKey creates a cryptographically secure random 32-byte key
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// GenerateSalt creates a cryptographically secure random salt
func GenerateSalt(length int) ([]byte, error) {
	if length < 16 {
		length = 16
	}
	salt := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

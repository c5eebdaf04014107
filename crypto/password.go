package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations follows the current OWASP recommendation for
	// PBKDF2-HMAC-SHA256.
	pbkdf2Iterations = 210000

	pbeSaltSize = 16
)

// EncryptWithPassword protects data (typically an exported identity)
// with a password. Output layout, base64-encoded:
//
//	[salt(16)][nonce(12)][AES-256-GCM ciphertext]
//
// The salt is random per call. The reference system used a fixed salt,
// which defeats the point of salting; that behavior is intentionally not
// preserved.
func EncryptWithPassword(data, password string) (string, error) {
	salt := make([]byte, pbeSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, SymmetricKeySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(data), nil)

	out := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptWithPassword reverses EncryptWithPassword. A wrong password
// surfaces as ErrDecryptionFailed.
func DecryptWithPassword(encryptedBase64, password string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encryptedBase64)
	if err != nil {
		return "", errors.New("malformed protected data")
	}
	if len(raw) < pbeSaltSize+gcmNonceSize {
		return "", errors.New("protected data too short")
	}

	salt := raw[:pbeSaltSize]
	nonce := raw[pbeSaltSize : pbeSaltSize+gcmNonceSize]
	sealed := raw[pbeSaltSize+gcmNonceSize:]

	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, SymmetricKeySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

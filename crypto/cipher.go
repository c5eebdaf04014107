package crypto

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

// SymmetricKeySize is the AES key length in bytes.
const SymmetricKeySize = 32

// gcmNonceSize is the GCM nonce length prepended to ciphertexts.
const gcmNonceSize = 12

// MaxPayloadSize caps plaintext size to prevent excessive memory usage.
const MaxPayloadSize = 16 * 1024 * 1024

var (
	// ErrDecryptionFailed indicates the ciphertext could not be opened
	// with the given key (wrong key or corrupt data).
	ErrDecryptionFailed = errors.New("decryption failed")
)

// GenerateSymmetricKey creates a fresh random AES-256 key.
func GenerateSymmetricKey() ([]byte, error) {
	key := make([]byte, SymmetricKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating symmetric key: %w", err)
	}
	return key, nil
}

// EncryptSymmetric encrypts plaintext with AES-256-GCM. The random nonce
// is prepended to the returned ciphertext.
//
// The reference system used AES-ECB on some platforms; that mode is
// unauthenticated and is deliberately not reproduced here.
func EncryptSymmetric(plaintext, key []byte) ([]byte, error) {
	if len(plaintext) > MaxPayloadSize {
		return nil, errors.New("payload too large")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptSymmetric opens an AES-256-GCM ciphertext produced by
// EncryptSymmetric.
func DecryptSymmetric(ciphertext, key []byte) ([]byte, error) {
	if len(ciphertext) < gcmNonceSize {
		return nil, ErrDecryptionFailed
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, ciphertext[:gcmNonceSize], ciphertext[gcmNonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// EncryptAsymmetric encrypts a small payload (typically a wrapped
// symmetric key) with RSA PKCS#1 v1.5 for the given recipient.
func EncryptAsymmetric(plaintext []byte, recipient *rsa.PublicKey) ([]byte, error) {
	out, err := rsa.EncryptPKCS1v15(rand.Reader, recipient, plaintext)
	if err != nil {
		return nil, fmt.Errorf("RSA encrypt: %w", err)
	}
	return out, nil
}

// DecryptAsymmetric opens an RSA PKCS#1 v1.5 ciphertext with the
// identity's private key.
func DecryptAsymmetric(ciphertext []byte, priv *rsa.PrivateKey) ([]byte, error) {
	out, err := rsa.DecryptPKCS1v15(rand.Reader, priv, ciphertext)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return out, nil
}

// Sign produces an RSA PKCS#1 v1.5 signature over the SHA-256 digest of
// data.
func Sign(data []byte, priv *rsa.PrivateKey) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}
	return sig, nil
}

// Verify reports whether sig is a valid signature over data under pub.
func Verify(data, sig []byte, pub *rsa.PublicKey) bool {
	digest := sha256.Sum256(data)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig) == nil
}

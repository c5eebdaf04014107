// Package crypto implements the cryptographic identity used by the
// messenger protocol.
//
// An identity is a 2048-bit RSA key pair. The base64-encoded X.509
// (PKIX) form of the public key doubles as the peer's stable identifier;
// its SHA-256 hex digest is the routing hash used to address the peer on
// the relay. Payload encryption is hybrid: a fresh AES-256-GCM key per
// message, wrapped with RSA PKCS#1 v1.5 for each recipient.
//
// Example:
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Routing hash:", crypto.RoutingHash(keys.PublicKeyBase64()))
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// KeySize is the RSA modulus size in bits for generated identities.
const KeySize = 2048

// KeyPair represents an RSA identity key pair.
type KeyPair struct {
	Public  *rsa.PublicKey
	Private *rsa.PrivateKey
}

// GenerateKeyPair creates a new random RSA identity.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, KeySize)
	if err != nil {
		return nil, fmt.Errorf("generating RSA key: %w", err)
	}

	return &KeyPair{
		Public:  &priv.PublicKey,
		Private: priv,
	}, nil
}

// FromPrivateKeyBase64 reconstructs a key pair from a base64 PKCS#8
// private key, deriving the public half.
func FromPrivateKeyBase64(privateKeyBase64 string) (*KeyPair, error) {
	der, err := base64.StdEncoding.DecodeString(privateKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("decoding private key: %w", err)
	}
	return FromPrivateKeyDER(der)
}

// FromPrivateKeyDER reconstructs a key pair from PKCS#8 DER bytes.
func FromPrivateKeyDER(der []byte) (*KeyPair, error) {
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}

	return &KeyPair{
		Public:  &priv.PublicKey,
		Private: priv,
	}, nil
}

// PublicKeyBase64 returns the base64 X.509 encoding of the public key.
// This string is the peer's wire identifier.
func (kp *KeyPair) PublicKeyBase64() string {
	der, err := x509.MarshalPKIXPublicKey(kp.Public)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(der)
}

// PrivateKeyBase64 returns the base64 PKCS#8 encoding of the private key.
func (kp *KeyPair) PrivateKeyBase64() string {
	der, err := x509.MarshalPKCS8PrivateKey(kp.Private)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(der)
}

// ParsePublicKey decodes a base64 X.509 public key string.
func ParsePublicKey(publicKeyBase64 string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(publicKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("decoding public key: %w", err)
	}

	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}

	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return pub, nil
}

// RoutingHash computes the relay-level address for a public key: the
// lower-case hex SHA-256 digest of the raw X.509 encoding. Returns ""
// for an empty or undecodable key, mirroring the address of nobody.
func RoutingHash(publicKeyBase64 string) string {
	if publicKeyBase64 == "" {
		return ""
	}
	der, err := base64.StdEncoding.DecodeString(publicKeyBase64)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns a short human-checkable digest of a public key,
// formatted as colon-separated hex byte pairs of the leading eight
// digest bytes.
func Fingerprint(publicKeyBase64 string) string {
	der, err := base64.StdEncoding.DecodeString(publicKeyBase64)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(der)

	out := make([]byte, 0, 23)
	for i, b := range sum[:8] {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, hexDigits[b>>4], hexDigits[b&0x0f])
	}
	return string(out)
}

const hexDigits = "0123456789abcdef"

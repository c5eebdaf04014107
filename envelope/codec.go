package envelope

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Attam2213/messenger-release/crypto"
)

// DecryptPlaceholder is shown in place of content that cannot be
// decrypted, instead of raw ciphertext or an error.
const DecryptPlaceholder = "Could not decrypt message. The sender may have used an old key."

// Codec builds and parses envelopes on behalf of one identity. It is
// stateless apart from the identity and device id it stamps onto
// outbound envelopes.
type Codec struct {
	identity *crypto.Identity
	deviceID string
}

// NewCodec creates a codec bound to the local identity and device.
func NewCodec(identity *crypto.Identity, deviceID string) *Codec {
	return &Codec{identity: identity, deviceID: deviceID}
}

// DeviceID returns the device id stamped onto outbound envelopes.
func (c *Codec) DeviceID() string { return c.deviceID }

// Encode hybrid-encrypts plaintext for the recipient: a fresh AES-256
// key encrypts the payload, the key is RSA-wrapped for the recipient,
// and the ciphertext is signed with the local identity.
func (c *Codec) Encode(recipientKey string, plaintext []byte, typ, envelopeID, groupID string) (*Envelope, error) {
	aesKey, err := crypto.GenerateSymmetricKey()
	if err != nil {
		return nil, err
	}

	sealed, err := crypto.EncryptSymmetric(plaintext, aesKey)
	if err != nil {
		return nil, fmt.Errorf("encrypting payload: %w", err)
	}
	data := base64.StdEncoding.EncodeToString(sealed)

	wrappedKey, err := c.identity.Encrypt(base64.StdEncoding.EncodeToString(aesKey), recipientKey)
	if err != nil {
		return nil, fmt.Errorf("wrapping key: %w", err)
	}

	sig, err := c.identity.Sign(data)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		ID:       envelopeID,
		Type:     typ,
		Data:     data,
		Key:      wrappedKey,
		Sign:     sig,
		DeviceID: c.deviceID,
		GroupID:  groupID,
	}, nil
}

// EncodeForSelf re-encodes plaintext with the key wrapped for the local
// identity, producing the self-archived copy stored alongside a send so
// history stays readable without the network ciphertext.
func (c *Codec) EncodeForSelf(plaintext []byte, typ, envelopeID, groupID string) (*Envelope, error) {
	myKey := c.identity.PublicKey()
	if myKey == "" {
		return nil, crypto.ErrNoIdentity
	}
	return c.Encode(myKey, plaintext, typ, envelopeID, groupID)
}

// EncodeLegacy RSA-encrypts plaintext directly without a symmetric
// layer. Used for tiny control payloads such as ACKs, which omit `key`.
func (c *Codec) EncodeLegacy(recipientKey string, plaintext []byte, typ, envelopeID string) (*Envelope, error) {
	data, err := c.identity.Encrypt(string(plaintext), recipientKey)
	if err != nil {
		return nil, err
	}
	sig, err := c.identity.Sign(data)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		ID:       envelopeID,
		Type:     typ,
		Data:     data,
		Sign:     sig,
		DeviceID: c.deviceID,
	}, nil
}

// EncodeMedia builds an envelope for content uploaded to the relay blob
// store. The signature covers the file id rather than `data`, and the
// AES key that encrypted the blob is wrapped for the recipient.
func (c *Codec) EncodeMedia(recipientKey, fileID string, contentKey []byte, typ, envelopeID, groupID, filename string, fileSize int64) (*Envelope, error) {
	wrappedKey, err := c.identity.Encrypt(base64.StdEncoding.EncodeToString(contentKey), recipientKey)
	if err != nil {
		return nil, fmt.Errorf("wrapping key: %w", err)
	}
	sig, err := c.identity.Sign(fileID)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		ID:       envelopeID,
		Type:     typ,
		Key:      wrappedKey,
		Sign:     sig,
		DeviceID: c.deviceID,
		GroupID:  groupID,
		FileID:   fileID,
		Filename: filename,
		FileSize: fileSize,
	}, nil
}

// Decode decrypts an envelope's payload and evaluates its trust status.
//
// Decryption failure is the only hard error; a missing or invalid
// signature downgrades the trust status while the plaintext is still
// returned. The two checks are independent.
func (c *Codec) Decode(env *Envelope, senderKey string) ([]byte, TrustStatus, error) {
	plaintext, err := c.decryptPayload(env)
	if err != nil {
		return nil, TrustNotSigned, err
	}
	return plaintext, c.trust(env, senderKey), nil
}

// Trust evaluates the envelope's signature without decrypting, for
// envelopes (media via file id) whose payload lives elsewhere.
func (c *Codec) Trust(env *Envelope, senderKey string) TrustStatus {
	return c.trust(env, senderKey)
}

func (c *Codec) trust(env *Envelope, senderKey string) TrustStatus {
	if env.Sign == "" {
		return TrustNotSigned
	}
	if senderKey != "" && c.identity.VerifySignature(env.signedField(), env.Sign, senderKey) {
		return TrustVerified
	}
	return TrustInvalid
}

func (c *Codec) decryptPayload(env *Envelope) ([]byte, error) {
	if env.Key != "" {
		aesKey, err := c.DecryptContentKey(env)
		if err != nil {
			return nil, err
		}
		sealed, err := base64.StdEncoding.DecodeString(env.Data)
		if err != nil {
			return nil, crypto.ErrDecryptionFailed
		}
		return crypto.DecryptSymmetric(sealed, aesKey)
	}

	// Legacy path: data is RSA ciphertext with no symmetric layer.
	plaintext, err := c.identity.Decrypt(env.Data)
	if err != nil {
		return nil, err
	}
	return []byte(plaintext), nil
}

// DecryptContentKey unwraps the envelope's AES key with the local
// identity. Media consumers use it to decrypt blobs fetched by file id.
func (c *Codec) DecryptContentKey(env *Envelope) ([]byte, error) {
	aesKeyBase64, err := c.identity.Decrypt(env.Key)
	if err != nil {
		return nil, err
	}
	aesKey, err := base64.StdEncoding.DecodeString(aesKeyBase64)
	if err != nil {
		return nil, crypto.ErrDecryptionFailed
	}
	return aesKey, nil
}

// DecryptedContent is the display-layer view of a stored envelope.
type DecryptedContent struct {
	Content  string
	Type     string
	Status   TrustStatus
	Reply    *ReplyInfo
	Duration int64

	// Blob-store media, fetched separately by the caller.
	FileID   string
	Filename string
	FileSize int64
}

// DecodeForDisplay turns a stored envelope JSON string into displayable
// content. It never fails: undecryptable content becomes an explicit
// placeholder with TrustInvalid rather than an error or raw ciphertext.
func (c *Codec) DecodeForDisplay(content, senderKey string) *DecryptedContent {
	env, err := Parse(content)
	if err != nil {
		// Pre-envelope format: a bare RSA ciphertext string.
		if plaintext, derr := c.identity.Decrypt(content); derr == nil {
			return &DecryptedContent{Content: plaintext, Type: "TEXT", Status: TrustNotSigned}
		}
		return &DecryptedContent{Content: DecryptPlaceholder, Type: "TEXT", Status: TrustInvalid}
	}

	status := c.trust(env, senderKey)

	if IsMedia(env.Type) && env.FileID != "" {
		return &DecryptedContent{
			Type:     env.Type,
			Status:   status,
			FileID:   env.FileID,
			Filename: env.Filename,
			FileSize: env.FileSize,
		}
	}

	plaintext, err := c.decryptPayload(env)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "DecodeForDisplay",
			"type":     env.Type,
			"error":    err,
		}).Debug("Payload decryption failed, rendering placeholder")
		return &DecryptedContent{Content: DecryptPlaceholder, Type: "TEXT", Status: TrustInvalid}
	}

	out := &DecryptedContent{Content: string(plaintext), Type: "TEXT", Status: status}
	if IsMedia(env.Type) {
		out.Type = env.Type
	}

	var inner MessageContent
	if json.Unmarshal(plaintext, &inner) == nil && inner.Text != "" {
		out.Content = inner.Text
		out.Reply = inner.ReplyTo
		out.Duration = inner.Duration
		if inner.Filename != "" {
			out.Filename = inner.Filename
		}
	}
	return out
}

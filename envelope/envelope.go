// Package envelope implements the wire message format exchanged between
// peers: a hybrid-encrypted, signed JSON envelope carried opaquely inside
// a relay transport record.
//
// Every payload is encrypted with a fresh AES-256-GCM key, which is in
// turn RSA-wrapped for the recipient. The envelope is signed over its
// ciphertext (or over the out-of-band file id for uploaded media), so a
// failed signature downgrades trust without blocking delivery.
package envelope

import "encoding/json"

// Envelope type constants as they appear on the wire.
const (
	TypeMsg       = "MSG"
	TypeImage     = "IMAGE"
	TypeAudio     = "AUDIO"
	TypeVideo     = "VIDEO"
	TypeDocument  = "DOCUMENT"
	TypeTyping    = "TYPING"
	TypeAck       = "ACK"
	TypeReadAck   = "READ_ACK"
	TypeAuthReq   = "AUTH_REQ"
	TypeAuthAck   = "AUTH_ACK"
	TypeGroup     = "GROUP_CREATE"
	TypeOffer     = "OFFER"
	TypeAnswer    = "ANSWER"
	TypeCandidate = "CANDIDATE"
	TypeHangup    = "HANGUP"
)

// IsMedia reports whether t is a media envelope type, whose content may
// live in the relay blob store instead of the `data` field.
func IsMedia(t string) bool {
	switch t {
	case TypeImage, TypeAudio, TypeVideo, TypeDocument:
		return true
	}
	return false
}

// IsCallSignal reports whether t belongs to the call signaling exchange.
func IsCallSignal(t string) bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeCandidate, TypeHangup:
		return true
	}
	return false
}

// Envelope is the signed, encrypted unit exchanged between peers.
//
// Data carries base64 AES-GCM ciphertext and Key the base64 RSA-wrapped
// AES key. Legacy/ack envelopes omit Key and RSA-encrypt Data directly.
// Media envelopes may replace Data with FileID, in which case Sign covers
// FileID instead.
type Envelope struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"`
	Data     string `json:"data,omitempty"`
	Key      string `json:"key,omitempty"`
	Sign     string `json:"sign,omitempty"`
	DeviceID string `json:"deviceId,omitempty"`
	GroupID  string `json:"groupId,omitempty"`

	// Blob-store media fields.
	FileID   string `json:"fileId,omitempty"`
	Filename string `json:"filename,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
}

// Marshal serializes the envelope to its JSON wire form.
func (e *Envelope) Marshal() (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Parse deserializes an envelope from its JSON wire form.
func Parse(content string) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(content), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// signedField returns the field the signature covers.
func (e *Envelope) signedField() string {
	if e.FileID != "" {
		return e.FileID
	}
	return e.Data
}

// TrustStatus describes the outcome of signature verification for a
// decoded envelope. Verification failure is never fatal; it downgrades
// the message's displayed trust.
type TrustStatus uint8

const (
	// TrustNotSigned means the envelope carried no signature.
	TrustNotSigned TrustStatus = iota
	// TrustVerified means the signature verified under the sender's key.
	TrustVerified
	// TrustInvalid means a signature was present but did not verify.
	TrustInvalid
)

// String returns the display name of the trust status.
func (s TrustStatus) String() string {
	switch s {
	case TrustVerified:
		return "VERIFIED"
	case TrustInvalid:
		return "INVALID"
	default:
		return "NOT_SIGNED"
	}
}

package envelope

// MessageContent is the plaintext JSON carried inside MSG and inline
// media envelopes. Text holds the message body, or base64 bytes for
// inline media.
type MessageContent struct {
	Text     string     `json:"text"`
	Filename string     `json:"filename,omitempty"`
	Duration int64      `json:"duration,omitempty"`
	GroupID  string     `json:"groupId,omitempty"`
	ReplyTo  *ReplyInfo `json:"replyTo,omitempty"`
}

// ReplyInfo carries quoted-reply metadata, opaque to the protocol layer.
type ReplyInfo struct {
	ID      string `json:"id"`
	Author  string `json:"author"`
	Preview string `json:"preview"`
}

// TypingPayload is the inner payload of TYPING envelopes.
type TypingPayload struct {
	IsTyping bool `json:"isTyping"`
}

// ReadReceiptPayload is the inner payload of READ_ACK envelopes.
type ReadReceiptPayload struct {
	MessageID string `json:"messageId"`
}

// AuthRequestPayload is the inner payload of AUTH_REQ envelopes, sent by
// a device asking to be paired.
type AuthRequestPayload struct {
	DeviceID string `json:"deviceId"`
	Model    string `json:"model"`
}

// GroupCreatePayload is the inner payload of GROUP_CREATE envelopes.
type GroupCreatePayload struct {
	GroupID   string   `json:"groupId"`
	GroupName string   `json:"groupName"`
	Members   []string `json:"members"`
	DeviceID  string   `json:"deviceId,omitempty"`
}

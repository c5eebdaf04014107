// Package dispatch implements the inbound protocol dispatcher: it
// classifies each decoded transport record by envelope type, applies the
// per-type side effects, and returns a typed result for the application
// layer.
package dispatch

// Result is the tagged outcome of processing one inbound transport
// record. Exactly one concrete type is returned per call; callers switch
// exhaustively on the concrete type.
type Result interface {
	isResult()
}

// Ignored means the record produced no application-visible event:
// duplicates, self-echoes, acks, undecodable or unknown envelopes.
type Ignored struct{}

// MessageSaved means a chat message was persisted. GroupID is empty for
// 1:1 messages.
type MessageSaved struct {
	FromKey string
	GroupID string
}

// Typing is a peer's ephemeral typing indicator.
type Typing struct {
	FromKey  string
	IsTyping bool
}

// AuthRequest describes a device asking to be paired with this identity.
type AuthRequest struct {
	DeviceID   string
	Model      string
	ReceivedAt int64
	FromKey    string
}

// AuthRequestReceived means a pairing request arrived.
type AuthRequestReceived struct {
	Request AuthRequest
}

// AuthAckReceived means the peer accepted this device's pairing request.
type AuthAckReceived struct {
	FromKey string
}

// GroupCreated means a group was created or updated from a GROUP_CREATE
// envelope.
type GroupCreated struct {
	GroupID string
}

// CallSignal is a decoded call-signaling payload (OFFER, ANSWER,
// CANDIDATE, HANGUP) routed to the call engine and surfaced to the UI.
type CallSignal struct {
	Type    string
	FromKey string
	Content string
}

func (Ignored) isResult()             {}
func (MessageSaved) isResult()        {}
func (Typing) isResult()              {}
func (AuthRequestReceived) isResult() {}
func (AuthAckReceived) isResult()     {}
func (GroupCreated) isResult()        {}
func (CallSignal) isResult()          {}

package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Attam2213/messenger-release/crypto"
	"github.com/Attam2213/messenger-release/envelope"
	"github.com/Attam2213/messenger-release/storage"
)

// RelaySender sends a transport record back to the relay, used for the
// ACK a dispatcher emits after persisting an inbound message.
type RelaySender interface {
	Send(ctx context.Context, rec *envelope.TransportRecord) error
}

// SignalSink consumes decoded call-signaling payloads. Typically the
// call engine; may be nil when calling is disabled.
type SignalSink interface {
	ProcessSignal(signal CallSignal)
}

// Dispatcher applies inbound transport records. It is stateless per
// call: all state lives in the store, so processing is safe to repeat
// (dedup makes the second application a no-op).
type Dispatcher struct {
	store    storage.Store
	codec    *envelope.Codec
	identity *crypto.Identity
	sender   RelaySender
	signals  SignalSink

	// OnResult, when set, observes every non-Ignored result in addition
	// to it being returned. The UI/notification layer subscribes here.
	OnResult func(Result)
}

// NewDispatcher wires a dispatcher. signals may be nil.
func NewDispatcher(store storage.Store, codec *envelope.Codec, identity *crypto.Identity, sender RelaySender, signals SignalSink) *Dispatcher {
	return &Dispatcher{
		store:    store,
		codec:    codec,
		identity: identity,
		sender:   sender,
		signals:  signals,
	}
}

// Process classifies and applies one inbound transport record.
//
// Malformed, undecryptable, duplicate, and unknown-type records all
// resolve to Ignored; Process never returns an error to its caller.
// Side-effect ordering: an ACK for a message is sent only after the
// message is durably persisted, so a crash in between costs a harmless
// duplicate rather than lost data.
func (d *Dispatcher) Process(ctx context.Context, rec *envelope.TransportRecord) Result {
	exists, err := d.store.MessageExists(rec.Timestamp, rec.Content)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Process",
			"error":    err,
		}).Error("Duplicate check failed")
		return Ignored{}
	}
	if exists {
		return Ignored{}
	}

	env, err := envelope.Parse(rec.Content)
	if err != nil {
		// Pre-envelope content: persist it as an opaque legacy message.
		return d.emit(d.handleMessage(ctx, rec, &envelope.Envelope{Type: envelope.TypeMsg}))
	}

	// Own device's own fan-out loopback.
	if rec.FromKey == d.identity.PublicKey() && env.DeviceID == d.codec.DeviceID() {
		return Ignored{}
	}

	if env.Sign != "" {
		if d.codec.Trust(env, rec.FromKey) != envelope.TrustVerified {
			logrus.WithFields(logrus.Fields{
				"function": "Process",
				"type":     env.Type,
				"from":     crypto.Fingerprint(rec.FromKey),
			}).Warn("Envelope signature did not verify")
		}
	}

	switch env.Type {
	case envelope.TypeAck:
		if env.ID != "" {
			d.store.MarkDelivered(env.ID, nowMillis())
		}
		return Ignored{}

	case envelope.TypeAuthAck:
		return d.emit(AuthAckReceived{FromKey: rec.FromKey})

	case envelope.TypeReadAck:
		var payload envelope.ReadReceiptPayload
		if !d.decodeInto(env, rec.FromKey, &payload) || payload.MessageID == "" {
			return Ignored{}
		}
		d.store.MarkRead(payload.MessageID)
		return Ignored{}

	case envelope.TypeAuthReq:
		var payload envelope.AuthRequestPayload
		if !d.decodeInto(env, rec.FromKey, &payload) {
			return Ignored{}
		}
		return d.emit(AuthRequestReceived{Request: AuthRequest{
			DeviceID:   payload.DeviceID,
			Model:      payload.Model,
			ReceivedAt: nowMillis(),
			FromKey:    rec.FromKey,
		}})

	case envelope.TypeTyping:
		var payload envelope.TypingPayload
		if !d.decodeInto(env, rec.FromKey, &payload) {
			return Ignored{}
		}
		return d.emit(Typing{FromKey: rec.FromKey, IsTyping: payload.IsTyping})

	case envelope.TypeGroup:
		return d.emit(d.handleGroupCreate(ctx, rec, env))

	case envelope.TypeOffer, envelope.TypeAnswer, envelope.TypeCandidate, envelope.TypeHangup:
		plaintext, _, err := d.codec.Decode(env, rec.FromKey)
		if err != nil {
			return Ignored{}
		}
		signal := CallSignal{Type: env.Type, FromKey: rec.FromKey, Content: string(plaintext)}
		if d.signals != nil {
			d.signals.ProcessSignal(signal)
		}
		return d.emit(signal)

	case envelope.TypeMsg, envelope.TypeImage, envelope.TypeAudio, envelope.TypeVideo, envelope.TypeDocument:
		return d.emit(d.handleMessage(ctx, rec, env))

	default:
		logrus.WithFields(logrus.Fields{
			"function": "Process",
			"type":     env.Type,
		}).Debug("Ignoring unknown envelope type")
		return Ignored{}
	}
}

// decodeInto decrypts the envelope payload and unmarshals it. Any
// failure means the branch resolves to Ignored.
func (d *Dispatcher) decodeInto(env *envelope.Envelope, senderKey string, out any) bool {
	plaintext, _, err := d.codec.Decode(env, senderKey)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "decodeInto",
			"type":     env.Type,
			"error":    err,
		}).Debug("Inner payload decode failed")
		return false
	}
	return json.Unmarshal(plaintext, out) == nil
}

func (d *Dispatcher) handleGroupCreate(ctx context.Context, rec *envelope.TransportRecord, env *envelope.Envelope) Result {
	var payload envelope.GroupCreatePayload
	if !d.decodeInto(env, rec.FromKey, &payload) || payload.GroupID == "" {
		return Ignored{}
	}

	d.store.InsertGroup(storage.Group{
		GroupID:   payload.GroupID,
		Name:      payload.GroupName,
		Members:   storage.JoinMembers(payload.Members),
		CreatedAt: nowMillis(),
	})

	if env.ID != "" {
		d.sendAck(ctx, env.ID, rec.FromKey)
	}

	logrus.WithFields(logrus.Fields{
		"function": "handleGroupCreate",
		"group_id": payload.GroupID,
		"members":  len(payload.Members),
	}).Info("Group created from envelope")
	return GroupCreated{GroupID: payload.GroupID}
}

func (d *Dispatcher) handleMessage(ctx context.Context, rec *envelope.TransportRecord, env *envelope.Envelope) Result {
	d.ensureContact(rec.FromKey)

	groupID := env.GroupID
	if groupID == "" && env.Type == envelope.TypeMsg {
		// Older senders put the group id inside the encrypted payload.
		var inner envelope.MessageContent
		if plaintext, _, err := d.codec.Decode(env, rec.FromKey); err == nil {
			if json.Unmarshal(plaintext, &inner) == nil {
				groupID = inner.GroupID
			}
		}
	}

	if groupID != "" {
		existing, err := d.store.GetGroup(groupID)
		if err == nil && existing == nil {
			d.store.InsertGroup(storage.Group{
				GroupID:   groupID,
				Name:      "Unknown Group",
				CreatedAt: nowMillis(),
			})
		}
	}

	messageID := env.ID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	if err := d.store.InsertMessage(storage.Message{
		MessageID:    messageID,
		FromKey:      rec.FromKey,
		ToKey:        d.identity.PublicKey(),
		GroupID:      groupID,
		EnvelopeJSON: rec.Content,
		Timestamp:    rec.Timestamp,
		IsDelivered:  true,
	}); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleMessage",
			"error":    err,
		}).Error("Failed to persist inbound message")
		return Ignored{}
	}

	// Persist first, ack second.
	if env.ID != "" {
		d.sendAck(ctx, env.ID, rec.FromKey)
	}

	return MessageSaved{FromKey: rec.FromKey, GroupID: groupID}
}

// ensureContact creates a placeholder contact for a never-seen key.
func (d *Dispatcher) ensureContact(publicKey string) {
	existing, err := d.store.GetContact(publicKey)
	if err != nil || existing != nil {
		return
	}

	name := "Unknown"
	if len(publicKey) >= 4 {
		name = "Unknown " + publicKey[:4] + "..."
	}
	d.store.InsertContact(storage.Contact{
		PublicKey: publicKey,
		Name:      name,
		CreatedAt: nowMillis(),
	})
}

// sendAck returns a delivery ACK to the sender. Failures are logged and
// swallowed: the sender will simply retry and dedup absorbs the repeat.
func (d *Dispatcher) sendAck(ctx context.Context, messageID, toKey string) {
	inner, err := json.Marshal(map[string]string{"type": envelope.TypeAck, "id": messageID})
	if err != nil {
		return
	}

	ack, err := d.codec.EncodeLegacy(toKey, inner, envelope.TypeAck, messageID)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "sendAck",
			"error":    err,
		}).Warn("Failed to build ACK envelope")
		return
	}
	content, err := ack.Marshal()
	if err != nil {
		return
	}

	err = d.sender.Send(ctx, &envelope.TransportRecord{
		ToHash:    crypto.RoutingHash(toKey),
		FromKey:   d.identity.PublicKey(),
		Content:   content,
		Timestamp: nowMillis(),
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "sendAck",
			"message_id": messageID,
			"error":      err,
		}).Warn("Failed to send ACK")
	}
}

func (d *Dispatcher) emit(result Result) Result {
	if _, ignored := result.(Ignored); !ignored && d.OnResult != nil {
		d.OnResult(result)
	}
	return result
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

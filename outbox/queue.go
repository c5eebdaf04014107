// Package outbox implements the durable outbound queue: every send is
// encrypted per recipient, persisted as one outbox item per (message,
// recipient) pair, and drained with per-item retry until the relay
// accepts it.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Attam2213/messenger-release/crypto"
	"github.com/Attam2213/messenger-release/envelope"
	"github.com/Attam2213/messenger-release/storage"
	"github.com/Attam2213/messenger-release/transport"
)

// ErrGroupNotFound is returned when a group send references an unknown
// group id.
var ErrGroupNotFound = errors.New("group not found")

// Relay is the slice of the relay client the queue needs.
type Relay interface {
	Send(ctx context.Context, rec *envelope.TransportRecord) error
	Upload(ctx context.Context, data []byte, filename string) (*transport.UploadResponse, error)
}

// Queue owns the outbox rows: it is their only writer. Enqueue
// operations are cheap and local; network I/O happens in Drain.
type Queue struct {
	store    storage.Store
	codec    *envelope.Codec
	identity *crypto.Identity
	relay    Relay
}

// NewQueue wires an outbound queue.
func NewQueue(store storage.Store, codec *envelope.Codec, identity *crypto.Identity, relay Relay) *Queue {
	return &Queue{store: store, codec: codec, identity: identity, relay: relay}
}

// SendMessage queues a 1:1 text message and archives a self-readable
// copy. The returned message id labels both the local row and the wire
// envelope, so inbound ACKs and drain completion resolve to the same
// message.
func (q *Queue) SendMessage(ctx context.Context, toKey, text string, reply *envelope.ReplyInfo) (string, error) {
	payload, err := json.Marshal(envelope.MessageContent{Text: text, ReplyTo: reply})
	if err != nil {
		return "", err
	}

	messageID := uuid.NewString()
	if err := q.enqueue(toKey, payload, envelope.TypeMsg, "", messageID); err != nil {
		return "", err
	}
	if err := q.saveLocal(toKey, payload, envelope.TypeMsg, "", messageID); err != nil {
		return "", err
	}
	return messageID, nil
}

// SendGroupMessage fans a text message out to every group member except
// the local identity: one envelope and one outbox item per member, all
// sharing the message id, plus one self-archived local copy.
func (q *Queue) SendGroupMessage(ctx context.Context, groupID, text string) (string, error) {
	group, err := q.store.GetGroup(groupID)
	if err != nil {
		return "", err
	}
	if group == nil {
		return "", ErrGroupNotFound
	}

	payload, err := json.Marshal(envelope.MessageContent{Text: text, GroupID: groupID})
	if err != nil {
		return "", err
	}

	messageID := uuid.NewString()
	q.fanOut(group, payload, envelope.TypeMsg, messageID)

	if err := q.saveLocal(groupID, payload, envelope.TypeMsg, groupID, messageID); err != nil {
		return "", err
	}
	return messageID, nil
}

// fanOut queues one envelope per member, excluding self. A failure to
// encrypt for one member is logged and skipped so the rest of the group
// still receives the message.
func (q *Queue) fanOut(group *storage.Group, payload []byte, typ, messageID string) {
	myKey := q.identity.PublicKey()
	for _, member := range group.MemberList() {
		if member == myKey {
			continue
		}
		if err := q.enqueue(member, payload, typ, group.GroupID, messageID); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "fanOut",
				"group_id": group.GroupID,
				"member":   crypto.Fingerprint(member),
				"error":    err,
			}).Warn("Failed to queue envelope for group member")
		}
	}
}

// SendMedia encrypts media bytes with a fresh content key, uploads the
// ciphertext to the relay blob store, and queues a fileId envelope whose
// signature covers the file id.
func (q *Queue) SendMedia(ctx context.Context, toKey string, data []byte, typ, filename string) (string, error) {
	fileID, contentKey, size, err := q.uploadEncrypted(ctx, data, filename)
	if err != nil {
		return "", err
	}

	messageID := uuid.NewString()
	env, err := q.codec.EncodeMedia(toKey, fileID, contentKey, typ, messageID, "", filename, size)
	if err != nil {
		return "", err
	}
	if err := q.enqueueEnvelope(toKey, env, typ, messageID); err != nil {
		return "", err
	}

	if err := q.saveLocalMedia(toKey, fileID, contentKey, typ, "", filename, size, messageID); err != nil {
		return "", err
	}
	return messageID, nil
}

// SendGroupMedia uploads once and queues one fileId envelope per member,
// each wrapping the same content key.
func (q *Queue) SendGroupMedia(ctx context.Context, groupID string, data []byte, typ, filename string) (string, error) {
	group, err := q.store.GetGroup(groupID)
	if err != nil {
		return "", err
	}
	if group == nil {
		return "", ErrGroupNotFound
	}

	fileID, contentKey, size, err := q.uploadEncrypted(ctx, data, filename)
	if err != nil {
		return "", err
	}

	messageID := uuid.NewString()
	myKey := q.identity.PublicKey()
	for _, member := range group.MemberList() {
		if member == myKey {
			continue
		}
		env, err := q.codec.EncodeMedia(member, fileID, contentKey, typ, messageID, groupID, filename, size)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "SendGroupMedia",
				"member":   crypto.Fingerprint(member),
				"error":    err,
			}).Warn("Failed to build media envelope for group member")
			continue
		}
		if err := q.enqueueEnvelope(member, env, typ, messageID); err != nil {
			return "", err
		}
	}

	if err := q.saveLocalMedia(groupID, fileID, contentKey, typ, groupID, filename, size, messageID); err != nil {
		return "", err
	}
	return messageID, nil
}

func (q *Queue) uploadEncrypted(ctx context.Context, data []byte, filename string) (string, []byte, int64, error) {
	contentKey, err := crypto.GenerateSymmetricKey()
	if err != nil {
		return "", nil, 0, err
	}
	sealed, err := crypto.EncryptSymmetric(data, contentKey)
	if err != nil {
		return "", nil, 0, err
	}

	resp, err := q.relay.Upload(ctx, sealed, filename)
	if err != nil {
		return "", nil, 0, fmt.Errorf("uploading media: %w", err)
	}
	return resp.FileID, contentKey, resp.Size, nil
}

// BlobFetcher is the download side of the relay blob store.
type BlobFetcher interface {
	Download(ctx context.Context, fileID string) ([]byte, error)
}

// FetchMedia downloads a blob by file id and decrypts it with the
// envelope's unwrapped content key.
func (q *Queue) FetchMedia(ctx context.Context, downloader BlobFetcher, env *envelope.Envelope) ([]byte, error) {
	contentKey, err := q.codec.DecryptContentKey(env)
	if err != nil {
		return nil, err
	}
	sealed, err := downloader.Download(ctx, env.FileID)
	if err != nil {
		return nil, err
	}
	return crypto.DecryptSymmetric(sealed, contentKey)
}

// SendTyping queues an ephemeral typing indicator. No local message is
// archived.
func (q *Queue) SendTyping(ctx context.Context, toKey string, isTyping bool) error {
	payload, err := json.Marshal(envelope.TypingPayload{IsTyping: isTyping})
	if err != nil {
		return err
	}
	return q.enqueue(toKey, payload, envelope.TypeTyping, "", "")
}

// SendReadAck queues a read receipt for one message.
func (q *Queue) SendReadAck(ctx context.Context, toKey, messageID string) error {
	payload, err := json.Marshal(envelope.ReadReceiptPayload{MessageID: messageID})
	if err != nil {
		return err
	}
	return q.enqueue(toKey, payload, envelope.TypeReadAck, "", "")
}

// SendAuthRequest queues a device-pairing request.
func (q *Queue) SendAuthRequest(ctx context.Context, toKey, deviceID, model string) error {
	payload, err := json.Marshal(envelope.AuthRequestPayload{DeviceID: deviceID, Model: model})
	if err != nil {
		return err
	}
	return q.enqueue(toKey, payload, envelope.TypeAuthReq, "", "")
}

// SendAuthAck queues acceptance of a pairing request.
func (q *Queue) SendAuthAck(ctx context.Context, toKey string) error {
	return q.enqueue(toKey, []byte("{}"), envelope.TypeAuthAck, "", "")
}

// SendSignal queues a call-signaling payload (offer, answer, candidate,
// hangup). Signals ride the same durable queue as messages, so one
// generated before connectivity returns is delivered on the next drain.
func (q *Queue) SendSignal(ctx context.Context, toKey, signalType, payload string) error {
	return q.enqueue(toKey, []byte(payload), signalType, "", "")
}

// CreateGroup creates the group locally and queues a GROUP_CREATE
// envelope for every member. The local identity is always a member.
func (q *Queue) CreateGroup(ctx context.Context, name string, memberKeys []string) (string, error) {
	myKey := q.identity.PublicKey()
	if myKey == "" {
		return "", crypto.ErrNoIdentity
	}

	members := make([]string, 0, len(memberKeys)+1)
	seen := make(map[string]bool)
	for _, key := range append(memberKeys, myKey) {
		if key != "" && !seen[key] {
			seen[key] = true
			members = append(members, key)
		}
	}

	groupID := uuid.NewString()
	if err := q.store.InsertGroup(storage.Group{
		GroupID:   groupID,
		Name:      name,
		Members:   storage.JoinMembers(members),
		CreatedAt: nowMillis(),
	}); err != nil {
		return "", err
	}

	payload, err := json.Marshal(envelope.GroupCreatePayload{
		GroupID:   groupID,
		GroupName: name,
		Members:   members,
		DeviceID:  q.codec.DeviceID(),
	})
	if err != nil {
		return "", err
	}

	for _, member := range members {
		if member == myKey {
			continue
		}
		if err := q.enqueue(member, payload, envelope.TypeGroup, "", ""); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "CreateGroup",
				"group_id": groupID,
				"member":   crypto.Fingerprint(member),
				"error":    err,
			}).Warn("Failed to queue group invitation")
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "CreateGroup",
		"group_id": groupID,
		"members":  len(members),
	}).Info("Group created")
	return groupID, nil
}

// enqueue hybrid-encrypts payload for one recipient and persists the
// outbox item. When relatedMessageID is set it doubles as the envelope
// id so the receiver's ACK references the local message row.
func (q *Queue) enqueue(toKey string, payload []byte, typ, groupID, relatedMessageID string) error {
	envelopeID := relatedMessageID
	if envelopeID == "" {
		envelopeID = uuid.NewString()
	}

	env, err := q.codec.Encode(toKey, payload, typ, envelopeID, groupID)
	if err != nil {
		return err
	}
	return q.enqueueEnvelope(toKey, env, typ, relatedMessageID)
}

func (q *Queue) enqueueEnvelope(toKey string, env *envelope.Envelope, typ, relatedMessageID string) error {
	content, err := env.Marshal()
	if err != nil {
		return err
	}
	_, err = q.store.InsertOutboxItem(storage.OutboxItem{
		Type:             typ,
		RecipientKey:     toKey,
		EnvelopeJSON:     content,
		CreatedAt:        nowMillis(),
		RelatedMessageID: relatedMessageID,
	})
	return err
}

// saveLocal archives a sent message re-encrypted for the local identity
// so history stays readable. The row starts undelivered; Drain flips it
// once every recipient's item has been accepted.
func (q *Queue) saveLocal(toKey string, payload []byte, typ, groupID, messageID string) error {
	env, err := q.codec.EncodeForSelf(payload, typ, messageID, groupID)
	if err != nil {
		return err
	}
	content, err := env.Marshal()
	if err != nil {
		return err
	}
	return q.store.InsertMessage(storage.Message{
		MessageID:    messageID,
		FromKey:      q.identity.PublicKey(),
		ToKey:        toKey,
		GroupID:      groupID,
		EnvelopeJSON: content,
		Timestamp:    nowMillis(),
	})
}

func (q *Queue) saveLocalMedia(toKey, fileID string, contentKey []byte, typ, groupID, filename string, size int64, messageID string) error {
	myKey := q.identity.PublicKey()
	env, err := q.codec.EncodeMedia(myKey, fileID, contentKey, typ, messageID, groupID, filename, size)
	if err != nil {
		return err
	}
	content, err := env.Marshal()
	if err != nil {
		return err
	}
	return q.store.InsertMessage(storage.Message{
		MessageID:    messageID,
		FromKey:      myKey,
		ToKey:        toKey,
		GroupID:      groupID,
		EnvelopeJSON: content,
		Timestamp:    nowMillis(),
	})
}

// DrainOutcome aggregates one drain pass. Failed items stay in the
// durable queue, which is itself the retry state.
type DrainOutcome struct {
	Sent   int
	Failed int
}

// NeedsRetry reports whether any item is still pending after the pass.
func (o DrainOutcome) NeedsRetry() bool { return o.Failed > 0 }

// Drain attempts to send every pending outbox item. One recipient's
// failure never blocks delivery to others; failures are aggregated into
// the outcome. When the last item for a related message is accepted,
// the parent message is marked delivered.
//
// Drain is idempotent: an item re-sent because a crash prevented its
// deletion is absorbed by relay- or receiver-side dedup.
func (q *Queue) Drain(ctx context.Context) (DrainOutcome, error) {
	items, err := q.store.PendingOutboxItems()
	if err != nil {
		return DrainOutcome{}, err
	}
	if len(items) == 0 {
		return DrainOutcome{}, nil
	}

	myKey := q.identity.PublicKey()
	var outcome DrainOutcome
	for _, item := range items {
		rec := &envelope.TransportRecord{
			ToHash:    crypto.RoutingHash(item.RecipientKey),
			FromKey:   myKey,
			Content:   item.EnvelopeJSON,
			Timestamp: item.CreatedAt,
		}

		if err := q.relay.Send(ctx, rec); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Drain",
				"item_id":  item.ID,
				"error":    err,
			}).Debug("Outbox item send failed, will retry")
			outcome.Failed++
			continue
		}

		if err := q.store.DeleteOutboxItem(item.ID); err != nil {
			outcome.Failed++
			continue
		}
		outcome.Sent++

		if item.RelatedMessageID != "" {
			remaining, err := q.store.CountRemainingForMessage(item.RelatedMessageID)
			if err == nil && remaining == 0 {
				q.store.MarkDelivered(item.RelatedMessageID, nowMillis())
			}
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Drain",
		"sent":     outcome.Sent,
		"failed":   outcome.Failed,
	}).Debug("Outbox drain pass complete")
	return outcome, nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

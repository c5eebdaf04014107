// Package messenger is the top-level facade over the protocol layer:
// identity lifecycle, encrypted send and receive, group fan-out, media,
// call signaling, and the background sync loop, all against a single
// relay server.
package messenger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Attam2213/messenger-release/call"
	"github.com/Attam2213/messenger-release/crypto"
	"github.com/Attam2213/messenger-release/dispatch"
	"github.com/Attam2213/messenger-release/envelope"
	"github.com/Attam2213/messenger-release/outbox"
	"github.com/Attam2213/messenger-release/storage"
	"github.com/Attam2213/messenger-release/syncer"
	"github.com/Attam2213/messenger-release/transport"
)

// Options contains configuration for creating a Messenger instance.
type Options struct {
	// ServerURL is the relay base URL (http or https).
	ServerURL string
	// DataDir holds the identity key files. Defaults to ~/.messenger.
	DataDir string
	// DeviceID identifies this device in outgoing envelopes. Generated
	// when empty.
	DeviceID string
	// PushEnabled controls the websocket channel; polling runs either way.
	PushEnabled bool
	// PollInterval overrides the default polling cadence when positive.
	PollInterval time.Duration
	// STUNServers configure ICE gathering for calls.
	STUNServers []string
}

// NewOptions creates default Options.
func NewOptions() *Options {
	dataDir := ".messenger"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".messenger")
	}
	return &Options{
		DataDir:     dataDir,
		DeviceID:    uuid.NewString(),
		PushEnabled: true,
		STUNServers: []string{call.DefaultSTUNServer},
	}
}

// Messenger owns the full protocol stack for one identity against one
// relay.
type Messenger struct {
	options  *Options
	identity *crypto.Identity
	codec    *envelope.Codec
	store    storage.Store
	client   *transport.Client
	queue    *outbox.Queue
	calls    *call.Engine

	dispatcher *dispatch.Dispatcher
	scheduler  *syncer.Scheduler

	mu      sync.Mutex
	running bool

	callbacksMu   sync.RWMutex
	onMessage     func(fromKey, groupID string)
	onTyping      func(fromKey string, isTyping bool)
	onAuthRequest func(dispatch.AuthRequest)
	onGroup       func(groupID string)
	onSyncStatus  func(syncer.Status)
	onCallState   func(call.State)
}

// New creates a Messenger. The identity is loaded from DataDir when key
// files exist; otherwise the instance starts without one and
// CreateIdentity or ImportIdentity must be called before Start.
func New(options *Options) (*Messenger, error) {
	if options == nil {
		options = NewOptions()
	}
	if options.ServerURL == "" {
		return nil, errors.New("server URL is required")
	}
	if options.DeviceID == "" {
		options.DeviceID = uuid.NewString()
	}

	keyStore, err := crypto.NewFileKeyStore(options.DataDir)
	if err != nil {
		return nil, err
	}
	identity := crypto.NewIdentity(keyStore)
	codec := envelope.NewCodec(identity, options.DeviceID)
	store := storage.NewMemoryStore()
	client := transport.NewClient(options.ServerURL)

	m := &Messenger{
		options:  options,
		identity: identity,
		codec:    codec,
		store:    store,
		client:   client,
	}

	m.queue = outbox.NewQueue(store, codec, identity, client)
	m.calls = call.NewEngine(call.NewWebRTCFactory(options.STUNServers...), m.queue)
	m.calls.OnStateChange = func(s call.State) {
		m.callbacksMu.RLock()
		fn := m.onCallState
		m.callbacksMu.RUnlock()
		if fn != nil {
			fn(s)
		}
	}

	m.dispatcher = dispatch.NewDispatcher(store, codec, identity, client, m.calls)
	m.dispatcher.OnResult = m.handleResult

	var push *transport.PushListener
	if options.PushEnabled {
		push = transport.NewPushListener(options.ServerURL)
	}
	m.scheduler = syncer.NewScheduler(identity, client, push, m.dispatcher, m.queue)
	m.scheduler.SetPollInterval(options.PollInterval)
	m.scheduler.OnStatus = func(s syncer.Status) {
		m.callbacksMu.RLock()
		fn := m.onSyncStatus
		m.callbacksMu.RUnlock()
		if fn != nil {
			fn(s)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":  "New",
		"server":    options.ServerURL,
		"device_id": options.DeviceID,
	}).Info("Messenger created")
	return m, nil
}

// handleResult fans dispatch results out to the registered callbacks.
func (m *Messenger) handleResult(result dispatch.Result) {
	m.callbacksMu.RLock()
	defer m.callbacksMu.RUnlock()
	switch r := result.(type) {
	case dispatch.MessageSaved:
		if m.onMessage != nil {
			m.onMessage(r.FromKey, r.GroupID)
		}
	case dispatch.Typing:
		if m.onTyping != nil {
			m.onTyping(r.FromKey, r.IsTyping)
		}
	case dispatch.AuthRequestReceived:
		if m.onAuthRequest != nil {
			m.onAuthRequest(r.Request)
		}
	case dispatch.GroupCreated:
		if m.onGroup != nil {
			m.onGroup(r.GroupID)
		}
	}
}

// Start launches the sync loop. It fails without an identity.
func (m *Messenger) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("messenger already running")
	}
	if err := m.scheduler.Start(ctx); err != nil {
		return err
	}
	m.running = true
	return nil
}

// Stop halts the sync loop and hangs up any active call. Queued
// outbound items survive in the store for the next Start.
func (m *Messenger) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	m.calls.End(context.Background())
	m.scheduler.Stop()
}

// IsRunning reports whether the sync loop is active.
func (m *Messenger) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// ForceSync triggers an immediate sync pass.
func (m *Messenger) ForceSync() error {
	return m.scheduler.ForceSync()
}

// PendingOutbox returns the number of queued outbound envelopes not yet
// accepted by the relay.
func (m *Messenger) PendingOutbox() (int, error) {
	items, err := m.store.PendingOutboxItems()
	return len(items), err
}

// SyncStatus returns the last published sync status.
func (m *Messenger) SyncStatus() syncer.Status {
	return m.scheduler.Status()
}

// Identity management.

// HasIdentity reports whether a usable key pair is loaded.
func (m *Messenger) HasIdentity() bool {
	return m.identity.HasIdentity()
}

// CreateIdentity generates and persists a fresh key pair.
func (m *Messenger) CreateIdentity() error {
	return m.identity.Create()
}

// ImportIdentity installs a key pair from a base64 PKCS#8 private key.
func (m *Messenger) ImportIdentity(privateKeyBase64 string) error {
	return m.identity.Import(privateKeyBase64)
}

// PublicKey returns the identity public key in base64, the value peers
// use to address this account.
func (m *Messenger) PublicKey() string {
	return m.identity.PublicKey()
}

// RoutingHash returns the relay mailbox address for this identity.
func (m *Messenger) RoutingHash() string {
	return m.identity.MyRoutingHash()
}

// Fingerprint returns a short human-comparable digest of the identity
// key for out-of-band verification.
func (m *Messenger) Fingerprint() string {
	return crypto.Fingerprint(m.identity.PublicKey())
}

// DatabasePassphrase derives a stable secret from the identity key for
// a storage engine's at-rest encryption.
func (m *Messenger) DatabasePassphrase() string {
	return m.identity.DatabasePassphrase()
}

// ExportIdentity returns the private key encrypted with the given
// password, suitable for an off-device backup.
func (m *Messenger) ExportIdentity(password string) (string, error) {
	priv := m.identity.PrivateKey()
	if priv == "" {
		return "", crypto.ErrNoIdentity
	}
	return crypto.EncryptWithPassword(priv, password)
}

// RestoreIdentity decrypts a backup produced by ExportIdentity and
// installs the contained key pair.
func (m *Messenger) RestoreIdentity(backup, password string) error {
	priv, err := crypto.DecryptWithPassword(backup, password)
	if err != nil {
		return err
	}
	return m.identity.Import(priv)
}

// WipeIdentity stops the sync loop, deletes the key files, and clears
// every stored row. There is no recovery path after this.
func (m *Messenger) WipeIdentity() error {
	m.Stop()
	if err := m.identity.Clear(); err != nil {
		return err
	}
	if err := m.store.ClearAll(); err != nil {
		return err
	}
	logrus.WithField("function", "WipeIdentity").Warn("Identity and local data wiped")
	return nil
}

// Messaging.

// SendMessage queues a 1:1 text message and nudges the sync loop to
// deliver it. Returns the local message id.
func (m *Messenger) SendMessage(ctx context.Context, toKey, text string) (string, error) {
	id, err := m.queue.SendMessage(ctx, toKey, text, nil)
	if err != nil {
		return "", err
	}
	m.nudge()
	return id, nil
}

// SendReply queues a 1:1 text message referencing an earlier one.
func (m *Messenger) SendReply(ctx context.Context, toKey, text string, reply *envelope.ReplyInfo) (string, error) {
	id, err := m.queue.SendMessage(ctx, toKey, text, reply)
	if err != nil {
		return "", err
	}
	m.nudge()
	return id, nil
}

// SendGroupMessage queues a text message to every member of a group.
func (m *Messenger) SendGroupMessage(ctx context.Context, groupID, text string) (string, error) {
	id, err := m.queue.SendGroupMessage(ctx, groupID, text)
	if err != nil {
		return "", err
	}
	m.nudge()
	return id, nil
}

// SendMedia encrypts and uploads media, then queues the envelope
// carrying its file id. mediaType is one of the media envelope types.
func (m *Messenger) SendMedia(ctx context.Context, toKey string, data []byte, mediaType, filename string) (string, error) {
	id, err := m.queue.SendMedia(ctx, toKey, data, mediaType, filename)
	if err != nil {
		return "", err
	}
	m.nudge()
	return id, nil
}

// SendGroupMedia uploads once and fans the file id out to the group.
func (m *Messenger) SendGroupMedia(ctx context.Context, groupID string, data []byte, mediaType, filename string) (string, error) {
	id, err := m.queue.SendGroupMedia(ctx, groupID, data, mediaType, filename)
	if err != nil {
		return "", err
	}
	m.nudge()
	return id, nil
}

// FetchMedia downloads and decrypts the blob referenced by a media
// envelope.
func (m *Messenger) FetchMedia(ctx context.Context, env *envelope.Envelope) ([]byte, error) {
	return m.queue.FetchMedia(ctx, m.client, env)
}

// SendTyping sends an ephemeral typing indicator.
func (m *Messenger) SendTyping(ctx context.Context, toKey string, isTyping bool) error {
	if err := m.queue.SendTyping(ctx, toKey, isTyping); err != nil {
		return err
	}
	m.nudge()
	return nil
}

// MarkConversationRead marks a conversation read locally and notifies
// the peer for each newly read inbound message.
func (m *Messenger) MarkConversationRead(ctx context.Context, otherKey string) error {
	myKey := m.identity.PublicKey()
	messages, err := m.store.ListMessagesBetween(myKey, otherKey)
	if err != nil {
		return err
	}
	for _, msg := range messages {
		if msg.FromKey == otherKey && !msg.IsRead {
			if err := m.queue.SendReadAck(ctx, otherKey, msg.MessageID); err != nil {
				return err
			}
		}
	}
	if err := m.store.MarkConversationRead(myKey, otherKey); err != nil {
		return err
	}
	m.nudge()
	return nil
}

// SendAuthRequest asks a peer to pair this device.
func (m *Messenger) SendAuthRequest(ctx context.Context, toKey, model string) error {
	if err := m.queue.SendAuthRequest(ctx, toKey, m.codec.DeviceID(), model); err != nil {
		return err
	}
	m.nudge()
	return nil
}

// SendAuthAck accepts a pairing request from a peer.
func (m *Messenger) SendAuthAck(ctx context.Context, toKey string) error {
	if err := m.queue.SendAuthAck(ctx, toKey); err != nil {
		return err
	}
	m.nudge()
	return nil
}

// CreateGroup creates a group with the given members and invites them.
func (m *Messenger) CreateGroup(ctx context.Context, name string, memberKeys []string) (string, error) {
	groupID, err := m.queue.CreateGroup(ctx, name, memberKeys)
	if err != nil {
		return "", err
	}
	m.nudge()
	return groupID, nil
}

// Contacts and history.

// AddContact stores a peer under a display name.
func (m *Messenger) AddContact(publicKey, name string) error {
	return m.store.InsertContact(storage.Contact{
		PublicKey: publicKey,
		Name:      name,
		CreatedAt: time.Now().UnixMilli(),
	})
}

// RenameContact updates a contact's display name.
func (m *Messenger) RenameContact(publicKey, name string) error {
	return m.store.UpdateContactName(publicKey, name)
}

// DeleteContact removes a contact. History is kept.
func (m *Messenger) DeleteContact(publicKey string) error {
	return m.store.DeleteContact(publicKey)
}

// Contacts lists all known peers.
func (m *Messenger) Contacts() ([]storage.Contact, error) {
	return m.store.ListContacts()
}

// Groups lists all known groups.
func (m *Messenger) Groups() ([]storage.Group, error) {
	return m.store.ListGroups()
}

// Conversation returns the message history with one peer, oldest first.
func (m *Messenger) Conversation(otherKey string) ([]storage.Message, error) {
	return m.store.ListMessagesBetween(m.identity.PublicKey(), otherKey)
}

// GroupConversation returns a group's message history, oldest first.
func (m *Messenger) GroupConversation(groupID string) ([]storage.Message, error) {
	return m.store.ListGroupMessages(groupID)
}

// DecodeMessage decrypts a stored message for display. It never fails:
// undecodable content yields the placeholder text.
func (m *Messenger) DecodeMessage(msg *storage.Message) *envelope.DecryptedContent {
	return m.codec.DecodeForDisplay(msg.EnvelopeJSON, msg.FromKey)
}

// Calls.

// StartCall places an outgoing call to a peer.
func (m *Messenger) StartCall(ctx context.Context, peerKey string) error {
	if err := m.calls.Start(ctx, peerKey); err != nil {
		return err
	}
	m.nudge()
	return nil
}

// AcceptCall answers the pending incoming call.
func (m *Messenger) AcceptCall(ctx context.Context) error {
	if err := m.calls.Accept(ctx); err != nil {
		return err
	}
	m.nudge()
	return nil
}

// EndCall hangs up the active call.
func (m *Messenger) EndCall(ctx context.Context) error {
	if err := m.calls.End(ctx); err != nil {
		return err
	}
	m.nudge()
	return nil
}

// CallState returns the current call state.
func (m *Messenger) CallState() call.State {
	return m.calls.State()
}

// Callbacks. Register before Start; all fire from background
// goroutines.

// OnMessage registers the new-message callback.
func (m *Messenger) OnMessage(fn func(fromKey, groupID string)) {
	m.callbacksMu.Lock()
	m.onMessage = fn
	m.callbacksMu.Unlock()
}

// OnTyping registers the typing-indicator callback.
func (m *Messenger) OnTyping(fn func(fromKey string, isTyping bool)) {
	m.callbacksMu.Lock()
	m.onTyping = fn
	m.callbacksMu.Unlock()
}

// OnAuthRequest registers the pairing-request callback.
func (m *Messenger) OnAuthRequest(fn func(dispatch.AuthRequest)) {
	m.callbacksMu.Lock()
	m.onAuthRequest = fn
	m.callbacksMu.Unlock()
}

// OnGroupCreated registers the group-invitation callback.
func (m *Messenger) OnGroupCreated(fn func(groupID string)) {
	m.callbacksMu.Lock()
	m.onGroup = fn
	m.callbacksMu.Unlock()
}

// OnSyncStatus registers the sync-status callback.
func (m *Messenger) OnSyncStatus(fn func(syncer.Status)) {
	m.callbacksMu.Lock()
	m.onSyncStatus = fn
	m.callbacksMu.Unlock()
}

// OnCallState registers the call-state callback.
func (m *Messenger) OnCallState(fn func(call.State)) {
	m.callbacksMu.Lock()
	m.onCallState = fn
	m.callbacksMu.Unlock()
}

// nudge asks the scheduler for a prompt drain so queued traffic does
// not wait for the next poll tick. Best effort when not running.
func (m *Messenger) nudge() {
	m.scheduler.ForceSync()
}

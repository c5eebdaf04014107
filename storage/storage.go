// Package storage defines the persisted entity model and the Store
// interface the protocol layer works against. The persistent engine
// itself is a collaborator; MemoryStore is the reference implementation
// used by tests and as a cache-only fallback.
package storage

import "strings"

// Contact is a known peer, keyed by their base64 public key. Contacts
// are auto-created as placeholders on first inbound message from an
// unknown key.
type Contact struct {
	PublicKey string
	Name      string
	CreatedAt int64
}

// Group is a named set of member public keys. Members is a comma-joined
// key list, matching the wire representation.
type Group struct {
	GroupID   string
	Name      string
	Members   string
	CreatedAt int64
}

// MemberList splits Members into trimmed, non-empty keys.
func (g *Group) MemberList() []string {
	if g.Members == "" {
		return nil
	}
	parts := strings.Split(g.Members, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if key := strings.TrimSpace(p); key != "" {
			out = append(out, key)
		}
	}
	return out
}

// JoinMembers builds the stored comma-joined member list.
func JoinMembers(keys []string) string {
	return strings.Join(keys, ",")
}

// Message is a locally persisted message. EnvelopeJSON holds the full
// envelope as received, or the self-archived re-encryption for sent
// messages. Rows are append-only except for the IsDelivered and IsRead
// transitions.
type Message struct {
	MessageID    string
	FromKey      string
	ToKey        string
	GroupID      string
	EnvelopeJSON string
	Timestamp    int64
	IsDelivered  bool
	DeliveredAt  int64
	IsRead       bool
}

// OutboxItem is one not-yet-accepted envelope for one recipient. Group
// sends fan out into one item per member sharing a RelatedMessageID;
// the parent message is delivered only when no items remain for it.
type OutboxItem struct {
	ID               int64
	Type             string
	RecipientKey     string
	EnvelopeJSON     string
	CreatedAt        int64
	RelatedMessageID string
}

// Store is the CRUD surface the protocol layer needs. Implementations
// must be safe for concurrent use. Lookup methods return (nil, nil) for
// absent rows; errors are reserved for engine failures.
type Store interface {
	// Contacts.
	GetContact(publicKey string) (*Contact, error)
	InsertContact(c Contact) error
	UpdateContactName(publicKey, name string) error
	DeleteContact(publicKey string) error
	ListContacts() ([]Contact, error)

	// Groups. InsertGroup upserts, so a placeholder row is populated in
	// place when the real GROUP_CREATE arrives.
	GetGroup(groupID string) (*Group, error)
	InsertGroup(g Group) error
	DeleteGroup(groupID string) error
	ListGroups() ([]Group, error)

	// Messages.
	InsertMessage(m Message) error
	MessageExists(timestamp int64, envelopeJSON string) (bool, error)
	GetMessage(messageID string) (*Message, error)
	MarkDelivered(messageID string, deliveredAt int64) error
	MarkRead(messageID string) error
	MarkConversationRead(myKey, otherKey string) error
	ListMessagesBetween(myKey, otherKey string) ([]Message, error)
	ListGroupMessages(groupID string) ([]Message, error)

	// Outbox.
	InsertOutboxItem(item OutboxItem) (int64, error)
	PendingOutboxItems() ([]OutboxItem, error)
	DeleteOutboxItem(id int64) error
	CountRemainingForMessage(relatedMessageID string) (int, error)

	// ClearAll wipes every table, used on identity wipe.
	ClearAll() error
}

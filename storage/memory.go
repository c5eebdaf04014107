package storage

import (
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store implementation guarded by a single
// mutex. It backs tests and serves as the default store when no
// persistent engine is wired in.
type MemoryStore struct {
	mu sync.Mutex

	contacts map[string]Contact
	groups   map[string]Group
	messages []Message
	byID     map[string]int

	outbox     []OutboxItem
	nextItemID int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contacts:   make(map[string]Contact),
		groups:     make(map[string]Group),
		byID:       make(map[string]int),
		nextItemID: 1,
	}
}

func (s *MemoryStore) GetContact(publicKey string) (*Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.contacts[publicKey]; ok {
		return &c, nil
	}
	return nil, nil
}

func (s *MemoryStore) InsertContact(c Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.PublicKey] = c
	return nil
}

func (s *MemoryStore) UpdateContactName(publicKey, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.contacts[publicKey]; ok {
		c.Name = name
		s.contacts[publicKey] = c
	}
	return nil
}

func (s *MemoryStore) DeleteContact(publicKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contacts, publicKey)
	return nil
}

func (s *MemoryStore) ListContacts() ([]Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *MemoryStore) GetGroup(groupID string) (*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.groups[groupID]; ok {
		return &g, nil
	}
	return nil, nil
}

func (s *MemoryStore) InsertGroup(g Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.GroupID] = g
	return nil
}

func (s *MemoryStore) DeleteGroup(groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups, groupID)
	return nil
}

func (s *MemoryStore) ListGroups() ([]Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *MemoryStore) InsertMessage(m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[m.MessageID] = len(s.messages)
	s.messages = append(s.messages, m)
	return nil
}

func (s *MemoryStore) MessageExists(timestamp int64, envelopeJSON string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].Timestamp == timestamp && s.messages[i].EnvelopeJSON == envelopeJSON {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) GetMessage(messageID string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.byID[messageID]; ok {
		m := s.messages[i]
		return &m, nil
	}
	return nil, nil
}

func (s *MemoryStore) MarkDelivered(messageID string, deliveredAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.byID[messageID]; ok {
		s.messages[i].IsDelivered = true
		s.messages[i].DeliveredAt = deliveredAt
	}
	return nil
}

func (s *MemoryStore) MarkRead(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.byID[messageID]; ok {
		s.messages[i].IsRead = true
	}
	return nil
}

func (s *MemoryStore) MarkConversationRead(myKey, otherKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].FromKey == otherKey && s.messages[i].ToKey == myKey {
			s.messages[i].IsRead = true
		}
	}
	return nil
}

func (s *MemoryStore) ListMessagesBetween(myKey, otherKey string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for i := range s.messages {
		m := s.messages[i]
		if m.GroupID != "" {
			continue
		}
		if (m.FromKey == myKey && m.ToKey == otherKey) || (m.FromKey == otherKey && m.ToKey == myKey) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (s *MemoryStore) ListGroupMessages(groupID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for i := range s.messages {
		if s.messages[i].GroupID == groupID {
			out = append(out, s.messages[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (s *MemoryStore) InsertOutboxItem(item OutboxItem) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.ID = s.nextItemID
	s.nextItemID++
	s.outbox = append(s.outbox, item)
	return item.ID, nil
}

func (s *MemoryStore) PendingOutboxItems() ([]OutboxItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OutboxItem, len(s.outbox))
	copy(out, s.outbox)
	return out, nil
}

func (s *MemoryStore) DeleteOutboxItem(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].ID == id {
			s.outbox = append(s.outbox[:i], s.outbox[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) CountRemainingForMessage(relatedMessageID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for i := range s.outbox {
		if s.outbox[i].RelatedMessageID == relatedMessageID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts = make(map[string]Contact)
	s.groups = make(map[string]Group)
	s.messages = nil
	s.byID = make(map[string]int)
	s.outbox = nil
	return nil
}

package envelope

import "encoding/json"

// TransportRecord is what actually crosses the relay: an addressed,
// timestamped carrier whose content is an opaque serialized Envelope.
// The relay routes on ToHash and never inspects Content.
type TransportRecord struct {
	ToHash    string `json:"to_hash"`
	FromKey   string `json:"from_key"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// ParseRecord deserializes a transport record from a relay frame.
func ParseRecord(raw []byte) (*TransportRecord, error) {
	var rec TransportRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

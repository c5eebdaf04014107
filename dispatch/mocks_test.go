package dispatch

import (
	"context"
	"sync"

	"github.com/Attam2213/messenger-release/envelope"
)

// mockSender records every transport record handed to it and can run an
// assertion hook at send time.
type mockSender struct {
	mu     sync.Mutex
	sent   []envelope.TransportRecord
	onSend func(rec *envelope.TransportRecord)
	err    error
}

func (m *mockSender) Send(_ context.Context, rec *envelope.TransportRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.onSend != nil {
		m.onSend(rec)
	}
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, *rec)
	return nil
}

func (m *mockSender) sentRecords() []envelope.TransportRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]envelope.TransportRecord, len(m.sent))
	copy(out, m.sent)
	return out
}

// mockSignalSink collects call signals in arrival order.
type mockSignalSink struct {
	mu      sync.Mutex
	signals []CallSignal
}

func (m *mockSignalSink) ProcessSignal(signal CallSignal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = append(m.signals, signal)
}

func (m *mockSignalSink) received() []CallSignal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CallSignal, len(m.signals))
	copy(out, m.signals)
	return out
}

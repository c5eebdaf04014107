package call

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Attam2213/messenger-release/dispatch"
	"github.com/Attam2213/messenger-release/envelope"
)

type mockTransport struct {
	mu              sync.Mutex
	onCandidate     func(string)
	remote          []string
	answer          string
	closed          bool
	offerErr        error
	emitDuringOffer []string
}

func (m *mockTransport) OnLocalCandidate(fn func(string)) {
	m.mu.Lock()
	m.onCandidate = fn
	m.mu.Unlock()
}

func (m *mockTransport) CreateOffer(ctx context.Context) (string, error) {
	if m.offerErr != nil {
		return "", m.offerErr
	}
	for _, c := range m.emitDuringOffer {
		m.emit(c)
	}
	return "offer-sdp", nil
}

func (m *mockTransport) CreateAnswer(ctx context.Context, offerSDP string) (string, error) {
	return "answer-sdp-for:" + offerSDP, nil
}

func (m *mockTransport) AcceptAnswer(answerSDP string) error {
	m.mu.Lock()
	m.answer = answerSDP
	m.mu.Unlock()
	return nil
}

func (m *mockTransport) AddRemoteCandidate(candidate string) error {
	m.mu.Lock()
	m.remote = append(m.remote, candidate)
	m.mu.Unlock()
	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// emit simulates the transport gathering a local ICE candidate.
func (m *mockTransport) emit(candidate string) {
	m.mu.Lock()
	fn := m.onCandidate
	m.mu.Unlock()
	if fn != nil {
		fn(candidate)
	}
}

func (m *mockTransport) remoteCandidates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.remote...)
}

type sentSignal struct {
	toKey   string
	typ     string
	payload string
}

type mockSignalSender struct {
	mu   sync.Mutex
	sent []sentSignal
	err  error
}

func (m *mockSignalSender) SendSignal(ctx context.Context, toKey, signalType, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentSignal{toKey: toKey, typ: signalType, payload: payload})
	return nil
}

func (m *mockSignalSender) ofType(typ string) []sentSignal {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentSignal
	for _, s := range m.sent {
		if s.typ == typ {
			out = append(out, s)
		}
	}
	return out
}

func newTestEngine() (*Engine, *mockTransport, *mockSignalSender) {
	transport := &mockTransport{}
	sender := &mockSignalSender{}
	engine := NewEngine(func() (MediaTransport, error) { return transport, nil }, sender)
	return engine, transport, sender
}

const peerKey = "peer-public-key"

func TestStartSendsOffer(t *testing.T) {
	engine, _, sender := newTestEngine()

	if err := engine.Start(context.Background(), peerKey); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if engine.State().Phase != PhaseOutgoing {
		t.Fatalf("phase = %v, want OUTGOING", engine.State().Phase)
	}

	offers := sender.ofType(envelope.TypeOffer)
	if len(offers) != 1 || offers[0].payload != "offer-sdp" || offers[0].toKey != peerKey {
		t.Fatalf("offers = %+v", offers)
	}
}

func TestStartWhileActiveFails(t *testing.T) {
	engine, _, _ := newTestEngine()

	if err := engine.Start(context.Background(), peerKey); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := engine.Start(context.Background(), "someone-else"); !errors.Is(err, ErrCallInProgress) {
		t.Fatalf("err = %v, want ErrCallInProgress", err)
	}
}

func TestAnswerConnectsCall(t *testing.T) {
	engine, transport, _ := newTestEngine()

	if err := engine.Start(context.Background(), peerKey); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	engine.ProcessSignal(dispatch.CallSignal{Type: envelope.TypeAnswer, FromKey: peerKey, Content: "their-answer"})

	if engine.State().Phase != PhaseConnected {
		t.Fatalf("phase = %v, want CONNECTED", engine.State().Phase)
	}
	if transport.answer != "their-answer" {
		t.Errorf("answer = %q", transport.answer)
	}
}

func TestAnswerFromWrongPeerIgnored(t *testing.T) {
	engine, transport, _ := newTestEngine()

	if err := engine.Start(context.Background(), peerKey); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	engine.ProcessSignal(dispatch.CallSignal{Type: envelope.TypeAnswer, FromKey: "intruder", Content: "bogus"})

	if engine.State().Phase != PhaseOutgoing {
		t.Errorf("phase = %v, want OUTGOING", engine.State().Phase)
	}
	if transport.answer != "" {
		t.Error("answer from wrong peer applied")
	}
}

func TestIncomingOfferAndAccept(t *testing.T) {
	engine, transport, sender := newTestEngine()

	engine.ProcessSignal(dispatch.CallSignal{Type: envelope.TypeOffer, FromKey: peerKey, Content: "their-offer"})
	state := engine.State()
	if state.Phase != PhaseIncoming || state.PeerKey != peerKey || state.OfferSDP != "their-offer" {
		t.Fatalf("state = %+v", state)
	}

	if err := engine.Accept(context.Background()); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if engine.State().Phase != PhaseConnected {
		t.Fatalf("phase = %v, want CONNECTED", engine.State().Phase)
	}

	answers := sender.ofType(envelope.TypeAnswer)
	if len(answers) != 1 || answers[0].payload != "answer-sdp-for:their-offer" {
		t.Fatalf("answers = %+v", answers)
	}
	if transport.closed {
		t.Error("transport closed after accept")
	}
}

func TestAcceptWithoutIncomingFails(t *testing.T) {
	engine, _, _ := newTestEngine()
	if err := engine.Accept(context.Background()); !errors.Is(err, ErrNoIncomingCall) {
		t.Fatalf("err = %v, want ErrNoIncomingCall", err)
	}
}

func TestOfferWhileBusySendsHangup(t *testing.T) {
	engine, _, sender := newTestEngine()

	if err := engine.Start(context.Background(), peerKey); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	engine.ProcessSignal(dispatch.CallSignal{Type: envelope.TypeOffer, FromKey: "third-party", Content: "sdp"})

	if engine.State().PeerKey != peerKey {
		t.Error("busy offer displaced the active call")
	}
	hangups := sender.ofType(envelope.TypeHangup)
	if len(hangups) != 1 || hangups[0].toKey != "third-party" {
		t.Fatalf("hangups = %+v", hangups)
	}
}

func TestRemoteCandidatesBufferedUntilAccept(t *testing.T) {
	engine, transport, _ := newTestEngine()

	engine.ProcessSignal(dispatch.CallSignal{Type: envelope.TypeOffer, FromKey: peerKey, Content: "their-offer"})
	// Trickled candidates arrive before the callee accepts.
	engine.ProcessSignal(dispatch.CallSignal{Type: envelope.TypeCandidate, FromKey: peerKey, Content: "c1"})
	engine.ProcessSignal(dispatch.CallSignal{Type: envelope.TypeCandidate, FromKey: peerKey, Content: "c2"})

	if got := transport.remoteCandidates(); len(got) != 0 {
		t.Fatalf("candidates applied before transport existed: %v", got)
	}

	if err := engine.Accept(context.Background()); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	got := transport.remoteCandidates()
	if len(got) != 2 || got[0] != "c1" || got[1] != "c2" {
		t.Fatalf("candidates = %v, want [c1 c2] in order", got)
	}

	// Further candidates apply directly, exactly once.
	engine.ProcessSignal(dispatch.CallSignal{Type: envelope.TypeCandidate, FromKey: peerKey, Content: "c3"})
	got = transport.remoteCandidates()
	if len(got) != 3 || got[2] != "c3" {
		t.Fatalf("candidates = %v, want [c1 c2 c3]", got)
	}
}

func TestRemoteCandidatesBufferedUntilAnswer(t *testing.T) {
	engine, transport, _ := newTestEngine()

	if err := engine.Start(context.Background(), peerKey); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// Callee trickles candidates before its answer arrives.
	engine.ProcessSignal(dispatch.CallSignal{Type: envelope.TypeCandidate, FromKey: peerKey, Content: "c1"})
	if got := transport.remoteCandidates(); len(got) != 0 {
		t.Fatal("candidate applied before remote description")
	}

	engine.ProcessSignal(dispatch.CallSignal{Type: envelope.TypeAnswer, FromKey: peerKey, Content: "answer"})
	got := transport.remoteCandidates()
	if len(got) != 1 || got[0] != "c1" {
		t.Fatalf("candidates = %v, want [c1]", got)
	}
}

func TestCandidateFromStrangerDropped(t *testing.T) {
	engine, transport, _ := newTestEngine()

	if err := engine.Start(context.Background(), peerKey); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	engine.ProcessSignal(dispatch.CallSignal{Type: envelope.TypeAnswer, FromKey: peerKey, Content: "answer"})
	engine.ProcessSignal(dispatch.CallSignal{Type: envelope.TypeCandidate, FromKey: "stranger", Content: "cX"})

	if got := transport.remoteCandidates(); len(got) != 0 {
		t.Fatalf("stranger candidate applied: %v", got)
	}
}

func TestLocalCandidatesQueuedUntilOfferSent(t *testing.T) {
	// This transport gathers candidates while the offer is still being
	// created, before it has been handed to the sender.
	transport := &mockTransport{emitDuringOffer: []string{"early-1", "early-2"}}
	sender := &mockSignalSender{}
	engine := NewEngine(func() (MediaTransport, error) { return transport, nil }, sender)

	if err := engine.Start(context.Background(), peerKey); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The early candidates were flushed, in order, after the offer.
	sender.mu.Lock()
	sent := append([]sentSignal(nil), sender.sent...)
	sender.mu.Unlock()
	if len(sent) != 3 {
		t.Fatalf("sent = %+v, want offer plus 2 candidates", sent)
	}
	if sent[0].typ != envelope.TypeOffer {
		t.Errorf("first signal = %q, want OFFER", sent[0].typ)
	}
	if sent[1].payload != "early-1" || sent[2].payload != "early-2" {
		t.Errorf("candidate order = %q, %q", sent[1].payload, sent[2].payload)
	}

	// After the offer is out, candidates go straight to the sender.
	transport.emit("late-candidate")
	candidates := sender.ofType(envelope.TypeCandidate)
	if len(candidates) != 3 || candidates[2].payload != "late-candidate" {
		t.Fatalf("candidates = %+v", candidates)
	}
}

func TestEndNotifiesPeerAndClosesTransport(t *testing.T) {
	engine, transport, sender := newTestEngine()

	if err := engine.Start(context.Background(), peerKey); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := engine.End(context.Background()); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	if engine.State().Phase != PhaseIdle {
		t.Errorf("phase = %v, want IDLE", engine.State().Phase)
	}
	if !transport.closed {
		t.Error("transport not closed")
	}
	hangups := sender.ofType(envelope.TypeHangup)
	if len(hangups) != 1 || hangups[0].toKey != peerKey {
		t.Fatalf("hangups = %+v", hangups)
	}
}

func TestHangupFromPeerEndsCall(t *testing.T) {
	engine, transport, _ := newTestEngine()

	if err := engine.Start(context.Background(), peerKey); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	engine.ProcessSignal(dispatch.CallSignal{Type: envelope.TypeHangup, FromKey: peerKey})

	if engine.State().Phase != PhaseIdle {
		t.Errorf("phase = %v, want IDLE", engine.State().Phase)
	}
	if engine.State().PeerKey != "" {
		t.Errorf("peer key not cleared: %q", engine.State().PeerKey)
	}
	if !transport.closed {
		t.Error("transport not closed")
	}
}

func TestHangupFromStrangerIgnored(t *testing.T) {
	engine, _, _ := newTestEngine()

	if err := engine.Start(context.Background(), peerKey); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	engine.ProcessSignal(dispatch.CallSignal{Type: envelope.TypeHangup, FromKey: "stranger"})

	if engine.State().Phase != PhaseOutgoing {
		t.Errorf("phase = %v, want OUTGOING", engine.State().Phase)
	}
}

func TestNewCallAfterEnded(t *testing.T) {
	engine, transport, sender := newTestEngine()

	if err := engine.Start(context.Background(), peerKey); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := engine.End(context.Background()); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	transport.closed = false
	if err := engine.Start(context.Background(), "second-peer"); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if engine.State().PeerKey != "second-peer" {
		t.Errorf("peer = %q", engine.State().PeerKey)
	}
	if len(sender.ofType(envelope.TypeOffer)) != 2 {
		t.Error("second offer not sent")
	}
}

func TestEndReturnsToIdle(t *testing.T) {
	engine, _, _ := newTestEngine()

	var mu sync.Mutex
	var phases []Phase
	engine.OnStateChange = func(s State) {
		mu.Lock()
		phases = append(phases, s.Phase)
		mu.Unlock()
	}

	if err := engine.Start(context.Background(), peerKey); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := engine.End(context.Background()); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	state := engine.State()
	if state.Phase != PhaseIdle {
		t.Errorf("phase = %v, want IDLE", state.Phase)
	}
	if state.PeerKey != "" {
		t.Errorf("peer key = %q, want empty", state.PeerKey)
	}

	mu.Lock()
	defer mu.Unlock()
	endedAt := -1
	for i, p := range phases {
		if p == PhaseEnded {
			endedAt = i
			break
		}
	}
	if endedAt == -1 {
		t.Fatalf("ENDED never observed: %v", phases)
	}
	if endedAt == len(phases)-1 || phases[endedAt+1] != PhaseIdle {
		t.Fatalf("ENDED not followed by IDLE: %v", phases)
	}
}

func TestStartOfferFailureResets(t *testing.T) {
	transport := &mockTransport{offerErr: errors.New("no media devices")}
	sender := &mockSignalSender{}
	engine := NewEngine(func() (MediaTransport, error) { return transport, nil }, sender)

	if err := engine.Start(context.Background(), peerKey); err == nil {
		t.Fatal("expected Start to fail")
	}
	if engine.State().Phase != PhaseIdle {
		t.Errorf("phase = %v, want IDLE", engine.State().Phase)
	}
	if !transport.closed {
		t.Error("transport leaked after failed Start")
	}
	if len(sender.ofType(envelope.TypeHangup)) != 0 {
		t.Error("hangup sent for a call that never signaled")
	}
}

func TestStateChangeCallback(t *testing.T) {
	engine, _, _ := newTestEngine()

	var mu sync.Mutex
	var phases []Phase
	engine.OnStateChange = func(s State) {
		mu.Lock()
		phases = append(phases, s.Phase)
		mu.Unlock()
	}

	if err := engine.Start(context.Background(), peerKey); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	engine.ProcessSignal(dispatch.CallSignal{Type: envelope.TypeAnswer, FromKey: peerKey, Content: "a"})
	engine.End(context.Background())

	mu.Lock()
	defer mu.Unlock()
	want := []Phase{PhaseOutgoing, PhaseConnected, PhaseEnded, PhaseIdle}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("phases = %v, want %v", phases, want)
		}
	}
}

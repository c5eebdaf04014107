// Package call implements one-to-one call signaling over encrypted
// envelopes: offer/answer exchange, trickled ICE candidates, and hangup.
// Media negotiation itself is delegated to a MediaTransport so the state
// machine stays testable without a real peer connection.
package call

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Attam2213/messenger-release/dispatch"
	"github.com/Attam2213/messenger-release/envelope"
)

var (
	// ErrCallInProgress is returned when starting a call while another is
	// active.
	ErrCallInProgress = errors.New("call already in progress")
	// ErrNoIncomingCall is returned by Accept with nothing to accept.
	ErrNoIncomingCall = errors.New("no incoming call")
)

// Phase is the coarse call state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseOutgoing
	PhaseIncoming
	PhaseConnected
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseOutgoing:
		return "OUTGOING"
	case PhaseIncoming:
		return "INCOMING"
	case PhaseConnected:
		return "CONNECTED"
	case PhaseEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// State is the externally visible call state. PeerKey identifies the
// remote party for every phase but IDLE; OfferSDP is set while an
// incoming call awaits Accept.
type State struct {
	Phase    Phase
	PeerKey  string
	OfferSDP string
}

// MediaTransport abstracts the peer connection. A fresh transport is
// created per call and closed when the call ends.
type MediaTransport interface {
	// OnLocalCandidate registers the sink for locally gathered ICE
	// candidates. Must be called before CreateOffer or CreateAnswer.
	OnLocalCandidate(fn func(candidateJSON string))
	CreateOffer(ctx context.Context) (sdp string, err error)
	CreateAnswer(ctx context.Context, offerSDP string) (sdp string, err error)
	AcceptAnswer(answerSDP string) error
	AddRemoteCandidate(candidateJSON string) error
	Close() error
}

// TransportFactory builds a MediaTransport for one call.
type TransportFactory func() (MediaTransport, error)

// SignalSender delivers signaling payloads to the remote party.
type SignalSender interface {
	SendSignal(ctx context.Context, toKey, signalType, payload string) error
}

// Engine is the call signaling state machine. At most one call is
// active at a time; an offer arriving mid-call is answered with a busy
// hangup.
//
// Candidate handling is buffered on both sides of the exchange: remote
// candidates arriving before the transport has a remote description are
// queued and applied in arrival order once it does, and local candidates
// gathered before the offer or answer has been sent are queued and
// flushed right after it.
type Engine struct {
	factory TransportFactory
	sender  SignalSender

	// OnStateChange observes every phase transition. May be nil. Set
	// before the first call.
	OnStateChange func(State)

	mu        sync.Mutex
	state     State
	transport MediaTransport

	remoteReady     bool
	signalingReady  bool
	pendingRemote   []string
	pendingOutgoing []string
}

// NewEngine wires a signaling engine.
func NewEngine(factory TransportFactory, sender SignalSender) *Engine {
	return &Engine{factory: factory, sender: sender}
}

// State returns the current call state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start places an outgoing call: creates the media transport, sends the
// offer, and transitions to OUTGOING.
func (e *Engine) Start(ctx context.Context, peerKey string) error {
	e.mu.Lock()
	if e.state.Phase == PhaseOutgoing || e.state.Phase == PhaseIncoming || e.state.Phase == PhaseConnected {
		e.mu.Unlock()
		return ErrCallInProgress
	}
	e.resetLocked()

	transport, err := e.factory()
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.transport = transport
	e.state = State{Phase: PhaseOutgoing, PeerKey: peerKey}
	transport.OnLocalCandidate(func(candidate string) { e.localCandidate(ctx, candidate) })
	e.mu.Unlock()

	offer, err := transport.CreateOffer(ctx)
	if err != nil {
		e.abort(ctx, false)
		return err
	}
	if err := e.sender.SendSignal(ctx, peerKey, envelope.TypeOffer, offer); err != nil {
		e.abort(ctx, false)
		return err
	}

	e.mu.Lock()
	e.signalingReady = true
	queued := e.takePendingOutgoingLocked()
	e.mu.Unlock()
	e.sendCandidates(ctx, peerKey, queued)

	e.publish()
	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"peer":     shortKey(peerKey),
	}).Info("Outgoing call started")
	return nil
}

// Accept answers the pending incoming call: creates the transport,
// applies buffered remote candidates, sends the answer, and transitions
// to CONNECTED.
func (e *Engine) Accept(ctx context.Context) error {
	e.mu.Lock()
	if e.state.Phase != PhaseIncoming {
		e.mu.Unlock()
		return ErrNoIncomingCall
	}
	peerKey := e.state.PeerKey
	offerSDP := e.state.OfferSDP

	transport, err := e.factory()
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.transport = transport
	transport.OnLocalCandidate(func(candidate string) { e.localCandidate(ctx, candidate) })
	e.mu.Unlock()

	answer, err := transport.CreateAnswer(ctx, offerSDP)
	if err != nil {
		e.abort(ctx, false)
		return err
	}

	e.mu.Lock()
	e.remoteReady = true
	remote := e.takePendingRemoteLocked()
	e.mu.Unlock()
	e.applyCandidates(transport, remote)

	if err := e.sender.SendSignal(ctx, peerKey, envelope.TypeAnswer, answer); err != nil {
		e.abort(ctx, false)
		return err
	}

	e.mu.Lock()
	e.signalingReady = true
	queued := e.takePendingOutgoingLocked()
	e.state = State{Phase: PhaseConnected, PeerKey: peerKey}
	e.mu.Unlock()
	e.sendCandidates(ctx, peerKey, queued)

	e.publish()
	logrus.WithFields(logrus.Fields{
		"function": "Accept",
		"peer":     shortKey(peerKey),
	}).Info("Call accepted")
	return nil
}

// End hangs up the active call, notifying the peer when one is bound.
func (e *Engine) End(ctx context.Context) error {
	return e.abort(ctx, true)
}

// ProcessSignal consumes one decrypted inbound signaling payload. It is
// the dispatch sink: offers, answers, candidates, and hangups all enter
// here.
func (e *Engine) ProcessSignal(sig dispatch.CallSignal) {
	ctx := context.Background()
	switch sig.Type {
	case envelope.TypeOffer:
		e.handleOffer(ctx, sig.FromKey, sig.Content)
	case envelope.TypeAnswer:
		e.handleAnswer(ctx, sig.FromKey, sig.Content)
	case envelope.TypeCandidate:
		e.handleCandidate(sig.FromKey, sig.Content)
	case envelope.TypeHangup:
		e.handleHangup(sig.FromKey)
	}
}

func (e *Engine) handleOffer(ctx context.Context, fromKey, sdp string) {
	e.mu.Lock()
	busy := e.state.Phase == PhaseOutgoing || e.state.Phase == PhaseIncoming || e.state.Phase == PhaseConnected
	if busy {
		e.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "handleOffer",
			"peer":     shortKey(fromKey),
		}).Info("Rejecting offer, call in progress")
		e.sender.SendSignal(ctx, fromKey, envelope.TypeHangup, "{}")
		return
	}
	e.resetLocked()
	e.state = State{Phase: PhaseIncoming, PeerKey: fromKey, OfferSDP: sdp}
	e.mu.Unlock()

	e.publish()
	logrus.WithFields(logrus.Fields{
		"function": "handleOffer",
		"peer":     shortKey(fromKey),
	}).Info("Incoming call")
}

func (e *Engine) handleAnswer(ctx context.Context, fromKey, sdp string) {
	e.mu.Lock()
	if e.state.Phase != PhaseOutgoing || e.state.PeerKey != fromKey {
		e.mu.Unlock()
		return
	}
	transport := e.transport
	e.mu.Unlock()

	if err := transport.AcceptAnswer(sdp); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleAnswer",
			"error":    err,
		}).Error("Failed to apply answer")
		e.abort(ctx, true)
		return
	}

	e.mu.Lock()
	e.remoteReady = true
	remote := e.takePendingRemoteLocked()
	e.state = State{Phase: PhaseConnected, PeerKey: fromKey}
	e.mu.Unlock()
	e.applyCandidates(transport, remote)

	e.publish()
}

func (e *Engine) handleCandidate(fromKey, candidate string) {
	e.mu.Lock()
	if e.state.Phase == PhaseIdle || e.state.Phase == PhaseEnded || e.state.PeerKey != fromKey {
		e.mu.Unlock()
		return
	}
	if !e.remoteReady {
		e.pendingRemote = append(e.pendingRemote, candidate)
		e.mu.Unlock()
		return
	}
	transport := e.transport
	e.mu.Unlock()

	e.applyCandidates(transport, []string{candidate})
}

func (e *Engine) handleHangup(fromKey string) {
	e.mu.Lock()
	if e.state.PeerKey != fromKey || e.state.Phase == PhaseIdle || e.state.Phase == PhaseEnded {
		e.mu.Unlock()
		return
	}
	transport := e.transport
	e.state = State{Phase: PhaseEnded, PeerKey: fromKey}
	e.transport = nil
	e.resetBuffersLocked()
	e.mu.Unlock()

	if transport != nil {
		transport.Close()
	}
	e.publish()
	e.settleIdle()
	logrus.WithFields(logrus.Fields{
		"function": "handleHangup",
		"peer":     shortKey(fromKey),
	}).Info("Call ended by peer")
}

// localCandidate is the MediaTransport's candidate sink. Candidates
// gathered before the offer or answer went out are buffered.
func (e *Engine) localCandidate(ctx context.Context, candidate string) {
	e.mu.Lock()
	if !e.signalingReady {
		e.pendingOutgoing = append(e.pendingOutgoing, candidate)
		e.mu.Unlock()
		return
	}
	peerKey := e.state.PeerKey
	e.mu.Unlock()

	e.sendCandidates(ctx, peerKey, []string{candidate})
}

func (e *Engine) sendCandidates(ctx context.Context, peerKey string, candidates []string) {
	for _, candidate := range candidates {
		if err := e.sender.SendSignal(ctx, peerKey, envelope.TypeCandidate, candidate); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "sendCandidates",
				"error":    err,
			}).Warn("Failed to queue candidate")
		}
	}
}

func (e *Engine) applyCandidates(transport MediaTransport, candidates []string) {
	for _, candidate := range candidates {
		if err := transport.AddRemoteCandidate(candidate); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "applyCandidates",
				"error":    err,
			}).Warn("Failed to apply remote candidate")
		}
	}
}

// abort tears the call down. notifyPeer sends HANGUP when a peer is
// bound; torn-down-before-signaling calls skip it.
func (e *Engine) abort(ctx context.Context, notifyPeer bool) error {
	e.mu.Lock()
	if e.state.Phase == PhaseIdle || e.state.Phase == PhaseEnded {
		e.mu.Unlock()
		return nil
	}
	peerKey := e.state.PeerKey
	transport := e.transport
	e.state = State{Phase: PhaseEnded, PeerKey: peerKey}
	e.transport = nil
	e.resetBuffersLocked()
	e.mu.Unlock()

	if notifyPeer && peerKey != "" {
		e.sender.SendSignal(ctx, peerKey, envelope.TypeHangup, "{}")
	}
	if transport != nil {
		transport.Close()
	}
	e.publish()
	e.settleIdle()
	return nil
}

// settleIdle returns a just-ended call to IDLE. ENDED is transient: it
// is published so observers see the hangup, then the engine is free for
// the next call. Skipped when a new call already claimed the engine.
func (e *Engine) settleIdle() {
	e.mu.Lock()
	if e.state.Phase != PhaseEnded {
		e.mu.Unlock()
		return
	}
	e.state = State{Phase: PhaseIdle}
	e.mu.Unlock()
	e.publish()
}

func (e *Engine) resetLocked() {
	e.state = State{Phase: PhaseIdle}
	e.transport = nil
	e.resetBuffersLocked()
}

func (e *Engine) resetBuffersLocked() {
	e.remoteReady = false
	e.signalingReady = false
	e.pendingRemote = nil
	e.pendingOutgoing = nil
}

func (e *Engine) takePendingRemoteLocked() []string {
	out := e.pendingRemote
	e.pendingRemote = nil
	return out
}

func (e *Engine) takePendingOutgoingLocked() []string {
	out := e.pendingOutgoing
	e.pendingOutgoing = nil
	return out
}

func (e *Engine) publish() {
	e.mu.Lock()
	fn := e.OnStateChange
	state := e.state
	e.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func shortKey(key string) string {
	if len(key) > 16 {
		return key[:16]
	}
	return key
}

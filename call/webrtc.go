package call

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v3"
)

// DefaultSTUNServer is used when no ICE servers are configured.
const DefaultSTUNServer = "stun:stun.l.google.com:19302"

// WebRTCTransport adapts a pion peer connection to MediaTransport. One
// transport serves one call.
type WebRTCTransport struct {
	pc *webrtc.PeerConnection

	mu          sync.Mutex
	onCandidate func(string)
}

// NewWebRTCTransport creates a peer connection with a bidirectional
// audio transceiver.
func NewWebRTCTransport(stunServers ...string) (*WebRTCTransport, error) {
	if len(stunServers) == 0 {
		stunServers = []string{DefaultSTUNServer}
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stunServers}},
	})
	if err != nil {
		return nil, err
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	}); err != nil {
		pc.Close()
		return nil, err
	}

	t := &WebRTCTransport{pc: pc}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		t.mu.Lock()
		fn := t.onCandidate
		t.mu.Unlock()
		if fn != nil {
			fn(string(raw))
		}
	})
	return t, nil
}

// NewWebRTCFactory returns a TransportFactory producing one transport
// per call.
func NewWebRTCFactory(stunServers ...string) TransportFactory {
	return func() (MediaTransport, error) {
		return NewWebRTCTransport(stunServers...)
	}
}

func (t *WebRTCTransport) OnLocalCandidate(fn func(candidateJSON string)) {
	t.mu.Lock()
	t.onCandidate = fn
	t.mu.Unlock()
}

func (t *WebRTCTransport) CreateOffer(ctx context.Context) (string, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (t *WebRTCTransport) CreateAnswer(ctx context.Context, offerSDP string) (string, error) {
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}); err != nil {
		return "", err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (t *WebRTCTransport) AcceptAnswer(answerSDP string) error {
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	})
}

func (t *WebRTCTransport) AddRemoteCandidate(candidateJSON string) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(candidateJSON), &init); err != nil {
		return err
	}
	return t.pc.AddICECandidate(init)
}

func (t *WebRTCTransport) Close() error {
	return t.pc.Close()
}

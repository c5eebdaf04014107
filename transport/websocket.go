package transport

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ReconnectDelay is the fixed backoff between push-channel reconnect
// attempts. Unbounded retry with a fixed delay is intentional: the relay
// is assumed eventually reachable and a failed attempt costs one round
// trip.
const ReconnectDelay = 5 * time.Second

// PushListener maintains the relay's websocket push channel for one
// routing hash, delivering each text frame to OnFrame and reconnecting
// after ReconnectDelay whenever the stream terminates.
type PushListener struct {
	baseURL string
	dialer  *websocket.Dialer

	// OnFrame receives each raw frame, in arrival order, from the
	// listener goroutine.
	OnFrame func(raw []byte)

	// OnConnect and OnDisconnect observe channel state changes. Either
	// may be nil.
	OnConnect    func()
	OnDisconnect func(err error)

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	reconnectDelay time.Duration
}

// NewPushListener creates a listener against the relay base URL
// (http/https, converted to ws/wss for the upgrade).
func NewPushListener(baseURL string) *PushListener {
	return &PushListener{
		baseURL:        baseURL,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: ReconnectDelay,
	}
}

// wsURL derives the websocket endpoint for a routing hash.
func (l *PushListener) wsURL(routingHash string) (string, error) {
	u, err := url.Parse(l.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + routingHash
	return u.String(), nil
}

// Start begins the connect/read/reconnect loop for the given routing
// hash. Starting an already-running listener is an error.
func (l *PushListener) Start(ctx context.Context, routingHash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return errors.New("push listener already running")
	}

	endpoint, err := l.wsURL(routingHash)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.running = true
	l.cancel = cancel
	l.done = make(chan struct{})

	go l.run(runCtx, endpoint)
	return nil
}

// Stop tears down the connection and waits for the listener goroutine to
// exit, so no dangling subscription outlives the caller.
func (l *PushListener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	cancel := l.cancel
	done := l.done
	l.running = false
	l.mu.Unlock()

	cancel()
	<-done
}

func (l *PushListener) run(ctx context.Context, endpoint string) {
	defer close(l.done)

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := l.dialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "run",
				"endpoint": endpoint,
				"error":    err,
			}).Debug("Push channel dial failed")
			if l.OnDisconnect != nil {
				l.OnDisconnect(err)
			}
			if !sleepCtx(ctx, l.reconnectDelay) {
				return
			}
			continue
		}

		logrus.WithFields(logrus.Fields{
			"function": "run",
			"endpoint": endpoint,
		}).Info("Push channel connected")
		if l.OnConnect != nil {
			l.OnConnect()
		}

		// Unblock ReadMessage when the context is cancelled.
		closeOnce := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-closeOnce:
			}
		}()

		readErr := l.readLoop(conn)
		close(closeOnce)
		conn.Close()

		if l.OnDisconnect != nil {
			l.OnDisconnect(readErr)
		}
		if ctx.Err() != nil {
			return
		}

		logrus.WithFields(logrus.Fields{
			"function": "run",
			"error":    readErr,
			"delay":    l.reconnectDelay,
		}).Info("Push channel lost, reconnecting")
		if !sleepCtx(ctx, l.reconnectDelay) {
			return
		}
	}
}

func (l *PushListener) readLoop(conn *websocket.Conn) error {
	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if l.OnFrame != nil {
			l.OnFrame(raw)
		}
	}
}

// sleepCtx sleeps for d, returning false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Package syncer runs the dual-channel synchronization loop: a fixed
// polling cadence against the relay mailbox plus a websocket push
// channel for low-latency delivery. Both channels feed the same inbound
// processor, whose dedup makes duplicate delivery harmless.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Attam2213/messenger-release/crypto"
	"github.com/Attam2213/messenger-release/dispatch"
	"github.com/Attam2213/messenger-release/envelope"
	"github.com/Attam2213/messenger-release/outbox"
	"github.com/Attam2213/messenger-release/transport"
)

// PollInterval is the cadence of the pull channel. Push delivery is the
// fast path; polling is the safety net that also drains the outbox.
const PollInterval = 3 * time.Second

// SettleDelay is how long a Downloaded status stays visible before the
// scheduler settles back to Idle.
const SettleDelay = time.Second

// ErrNotRunning is returned by ForceSync when the scheduler is stopped.
var ErrNotRunning = errors.New("sync scheduler not running")

// State enumerates the externally visible sync states.
type State int

const (
	StateInitializing State = iota
	StateConnecting
	StateConnected
	StateDownloaded
	StateIdle
	StateError
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDownloaded:
		return "DOWNLOADED"
	case StateIdle:
		return "IDLE"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Status is a sync state with its payload: Downloaded carries the
// record count, Error carries the message.
type Status struct {
	State      State
	Downloaded int
	Message    string
}

func (s Status) String() string {
	switch s.State {
	case StateDownloaded:
		return fmt.Sprintf("DOWNLOADED(%d)", s.Downloaded)
	case StateError:
		return fmt.Sprintf("ERROR(%s)", s.Message)
	default:
		return s.State.String()
	}
}

// Puller is the mailbox side of the relay client.
type Puller interface {
	Check(ctx context.Context, routingHash string) ([]envelope.TransportRecord, error)
}

// Processor consumes one inbound transport record.
type Processor interface {
	Process(ctx context.Context, rec *envelope.TransportRecord) dispatch.Result
}

// Drainer flushes pending outbound items. The scheduler drains before
// every pull so a reconnect promptly delivers queued traffic.
type Drainer interface {
	Drain(ctx context.Context) (outbox.DrainOutcome, error)
}

// Scheduler owns the sync lifecycle for one identity. Status changes
// flow to OnStatus from the scheduler's goroutines.
type Scheduler struct {
	identity  *crypto.Identity
	puller    Puller
	push      *transport.PushListener
	processor Processor
	drainer   Drainer

	// OnStatus observes every status transition. May be nil. Set before
	// Start.
	OnStatus func(Status)

	pollInterval time.Duration
	settleDelay  time.Duration

	mu            sync.Mutex
	running       bool
	pushConnected bool
	status        Status
	cancel        context.CancelFunc
	done          chan struct{}
	runCtx        context.Context
	forceCh       chan struct{}
}

// NewScheduler wires a scheduler. push may be nil for poll-only
// operation; drainer may be nil when outbound traffic is handled
// elsewhere.
func NewScheduler(identity *crypto.Identity, puller Puller, push *transport.PushListener, processor Processor, drainer Drainer) *Scheduler {
	return &Scheduler{
		identity:     identity,
		puller:       puller,
		push:         push,
		processor:    processor,
		drainer:      drainer,
		pollInterval: PollInterval,
		settleDelay:  SettleDelay,
		status:       Status{State: StateInitializing},
		forceCh:      make(chan struct{}, 1),
	}
}

// SetPollInterval overrides the polling cadence. Call before Start.
func (s *Scheduler) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval = d
	}
}

// Start launches the poll loop and, when configured, the push channel.
// It fails without a usable identity: the routing hash is the mailbox
// address.
func (s *Scheduler) Start(ctx context.Context) error {
	hash := s.identity.MyRoutingHash()
	if hash == "" {
		return crypto.ErrNoIdentity
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("sync scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.runCtx = runCtx
	s.mu.Unlock()

	s.setStatus(Status{State: StateInitializing})

	if s.push != nil {
		s.push.OnFrame = func(raw []byte) { s.handleFrame(raw) }
		s.push.OnConnect = func() {
			s.mu.Lock()
			s.pushConnected = true
			s.mu.Unlock()
			s.setStatus(Status{State: StateConnected})
		}
		s.push.OnDisconnect = func(err error) {
			s.mu.Lock()
			s.pushConnected = false
			stopping := s.runCtx == nil || s.runCtx.Err() != nil
			s.mu.Unlock()
			if !stopping {
				s.setStatus(Status{State: StateConnecting})
			}
		}

		s.setStatus(Status{State: StateConnecting})
		if err := s.push.Start(runCtx, hash); err != nil {
			cancel()
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return err
		}
	}

	go s.run(runCtx, hash)

	logrus.WithFields(logrus.Fields{
		"function":     "Start",
		"routing_hash": hash[:8],
	}).Info("Sync scheduler started")
	return nil
}

// Stop cancels the loop, tears down the push channel, and waits for the
// scheduler goroutine to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.running = false
	s.pushConnected = false
	s.mu.Unlock()

	cancel()
	<-done
	if s.push != nil {
		s.push.Stop()
	}
	logrus.WithField("function", "Stop").Info("Sync scheduler stopped")
}

// ForceSync requests an immediate sync pass without waiting for the
// next tick. Coalesces with an already-pending request.
func (s *Scheduler) ForceSync() error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	select {
	case s.forceCh <- struct{}{}:
	default:
	}
	return nil
}

// Status returns the last published status.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Scheduler) run(ctx context.Context, hash string) {
	defer close(s.done)

	// Immediate first pass so startup does not wait a full interval.
	s.syncOnce(ctx, hash)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.syncOnce(ctx, hash)
		case <-s.forceCh:
			s.syncOnce(ctx, hash)
		}
	}
}

// syncOnce drains the outbox, pulls the mailbox, and feeds every record
// to the processor. A pull failure flips status to Error only when the
// displayed status is already bad and the push channel is down; on a
// healthy connection a single failed poll is a log line, not a state
// flap, and the next tick retries anyway.
func (s *Scheduler) syncOnce(ctx context.Context, hash string) {
	if s.drainer != nil {
		if _, err := s.drainer.Drain(ctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "syncOnce",
				"error":    err,
			}).Warn("Outbox drain failed")
		}
	}

	records, err := s.puller.Check(ctx, hash)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		healthy := s.pushConnected ||
			s.status.State == StateConnected ||
			s.status.State == StateDownloaded ||
			s.status.State == StateIdle
		s.mu.Unlock()
		if healthy {
			logrus.WithFields(logrus.Fields{
				"function": "syncOnce",
				"error":    err,
			}).Debug("Poll failed on a healthy connection, retrying next tick")
			return
		}
		s.setStatus(Status{State: StateError, Message: err.Error()})
		return
	}

	s.mu.Lock()
	wasDown := s.status.State == StateInitializing ||
		s.status.State == StateConnecting ||
		s.status.State == StateError
	s.mu.Unlock()
	if wasDown {
		s.setStatus(Status{State: StateConnected})
	}

	processed := 0
	for i := range records {
		result := s.processor.Process(ctx, &records[i])
		if _, ignored := result.(dispatch.Ignored); !ignored {
			processed++
		}
	}
	if processed > 0 {
		s.settleToIdle(ctx, Status{State: StateDownloaded, Downloaded: processed})
		return
	}
	s.mu.Lock()
	settling := s.status.State == StateDownloaded
	s.mu.Unlock()
	if !settling {
		s.setStatus(Status{State: StateIdle})
	}
}

// settleToIdle publishes a Downloaded status and returns to Idle after
// a grace period, so the count stays visible instead of being
// overwritten on the spot. Idle is skipped when something else changed
// the status in the meantime.
func (s *Scheduler) settleToIdle(ctx context.Context, downloaded Status) {
	s.setStatus(downloaded)
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.settleDelay):
		}
		s.mu.Lock()
		current := s.status
		s.mu.Unlock()
		if current != downloaded {
			return
		}
		s.setStatus(Status{State: StateIdle})
	}()
}

// handleFrame processes one record pushed over the websocket.
func (s *Scheduler) handleFrame(raw []byte) {
	rec, err := envelope.ParseRecord(raw)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleFrame",
			"error":    err,
		}).Warn("Discarding malformed push frame")
		return
	}

	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	result := s.processor.Process(ctx, rec)
	if _, ignored := result.(dispatch.Ignored); !ignored {
		s.settleToIdle(ctx, Status{State: StateDownloaded, Downloaded: 1})
	}
}

func (s *Scheduler) setStatus(next Status) {
	s.mu.Lock()
	if s.status == next {
		s.mu.Unlock()
		return
	}
	s.status = next
	fn := s.OnStatus
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "setStatus",
		"status":   next.String(),
	}).Debug("Sync status changed")
	if fn != nil {
		fn(next)
	}
}

package call

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// MediaStream is a handle on acquired local capture tracks.
type MediaStream interface {
	Release()
}

// MediaDevices opens local capture. Acquisition can fail (no device,
// insecure context); the machine treats that as a local abort.
type MediaDevices interface {
	Capture(ctx context.Context, kind MediaKind) (MediaStream, error)
}

// PeerTransport is the external peer-to-peer channel addressed by user
// identity. The machine only carries invite metadata over it; media bytes
// are the transport's business.
type PeerTransport interface {
	Invite(ctx context.Context, invite Invite) error
	Accept(ctx context.Context, callerID string) error
	Close(ctx context.Context, peerID string) error
}

// ErrBusy is returned when an operation needs the machine to be idle.
var ErrBusy = errors.New("call already in progress")

// ErrInvalidTransition is returned when an operation does not apply to the
// current state.
var ErrInvalidTransition = errors.New("invalid call transition")

// Options tunes a Machine.
type Options struct {
	// RingTimeout bounds how long either ringing state may last. Zero
	// disables the timeout.
	RingTimeout time.Duration
	// OnTransition observes every state change, including the Ended
	// pass-through. Called with the machine lock held, in transition
	// order; it must not call back into the machine.
	OnTransition func(from, to State)
}

// Machine owns all local call-session state and transitions it atomically.
// A single mutex serializes call control; capture and transport calls are
// made while holding it, so implementations should not call back into the
// machine from those methods.
type Machine struct {
	log       *zap.Logger
	transport PeerTransport
	devices   MediaDevices
	opts      Options

	mu        sync.Mutex
	state     State
	invite    Invite
	capture   MediaStream
	ringTimer *time.Timer
	ringSeq   int
}

// NewMachine builds an idle call machine.
func NewMachine(log *zap.Logger, transport PeerTransport, devices MediaDevices, opts Options) *Machine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Machine{
		log:       log,
		transport: transport,
		devices:   devices,
		opts:      opts,
		state:     StateIdle,
	}
}

// State reports the current phase.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentInvite reports the metadata of the call in flight. Zero value when
// idle.
func (m *Machine) CurrentInvite() Invite {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invite
}

// Call initiates an outgoing call. Capture is acquired before anything is
// sent so an acquisition failure never has a remote effect.
func (m *Machine) Call(ctx context.Context, invite Invite) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle {
		return ErrBusy
	}

	stream, err := m.devices.Capture(ctx, invite.MediaKind)
	if err != nil {
		m.log.Warn("capture failed; call aborted", zap.Error(err))
		return errors.Wrap(err, "call.Call.Capture")
	}
	if err := m.transport.Invite(ctx, invite); err != nil {
		stream.Release()
		return errors.Wrap(err, "call.Call.Invite")
	}

	m.capture = stream
	m.invite = invite
	m.transition(StateOutgoingRinging)
	m.armRingTimer()
	return nil
}

// HandleInvite reacts to an invite arriving over the transport. A second
// invite while any call is in flight is declined without disturbing the
// current call.
func (m *Machine) HandleInvite(ctx context.Context, invite Invite) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle {
		m.log.Info("declining concurrent invite",
			zap.String("from", invite.CallerID),
			zap.Stringer("state", m.state))
		if err := m.transport.Close(ctx, invite.CallerID); err != nil {
			m.log.Warn("decline close failed", zap.Error(err))
		}
		return ErrBusy
	}

	m.invite = invite
	m.transition(StateIncomingRinging)
	m.armRingTimer()
	return nil
}

// Accept answers an incoming call. Capture is acquired before answering so
// an acquisition failure aborts back to idle with no remote effect.
func (m *Machine) Accept(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIncomingRinging {
		return ErrInvalidTransition
	}

	stream, err := m.devices.Capture(ctx, m.invite.MediaKind)
	if err != nil {
		m.log.Warn("capture failed; accept aborted", zap.Error(err))
		m.disarmRingTimer()
		m.invite = Invite{}
		m.transition(StateIdle)
		return errors.Wrap(err, "call.Accept.Capture")
	}
	if err := m.transport.Accept(ctx, m.invite.CallerID); err != nil {
		stream.Release()
		m.disarmRingTimer()
		m.invite = Invite{}
		m.transition(StateIdle)
		return errors.Wrap(err, "call.Accept.Answer")
	}

	m.capture = stream
	m.disarmRingTimer()
	m.transition(StateActive)
	return nil
}

// Decline rejects an incoming call and closes the peer session.
func (m *Machine) Decline(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIncomingRinging {
		return ErrInvalidTransition
	}
	if err := m.transport.Close(ctx, m.invite.CallerID); err != nil {
		m.log.Warn("decline close failed", zap.Error(err))
	}
	m.disarmRingTimer()
	m.invite = Invite{}
	m.transition(StateIdle)
	return nil
}

// HandleRemoteStream reacts to the transport reporting remote media: the
// callee has answered.
func (m *Machine) HandleRemoteStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateOutgoingRinging {
		return ErrInvalidTransition
	}
	m.disarmRingTimer()
	m.transition(StateActive)
	return nil
}

// Leave hangs up from any non-idle state, releasing capture and closing the
// peer session.
func (m *Machine) Leave(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateIdle {
		return ErrInvalidTransition
	}
	peer := m.remotePeer()
	if err := m.transport.Close(ctx, peer); err != nil {
		m.log.Warn("hangup close failed", zap.Error(err))
	}
	m.teardown()
	return nil
}

// HandleRemoteClosed reacts to the transport reporting the peer session is
// gone: hangup, decline, or a dropped connection.
func (m *Machine) HandleRemoteClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateIdle {
		return
	}
	m.teardown()
}

// teardown releases capture and resets to idle, passing through Ended when a
// call was active. Caller holds the lock.
func (m *Machine) teardown() {
	m.disarmRingTimer()
	if m.capture != nil {
		m.capture.Release()
		m.capture = nil
	}
	if m.state == StateActive {
		m.transition(StateEnded)
	}
	m.invite = Invite{}
	m.transition(StateIdle)
}

func (m *Machine) remotePeer() string {
	if m.state == StateIncomingRinging {
		return m.invite.CallerID
	}
	return m.invite.CalleeID
}

// transition records the state change and notifies the observer. Caller
// holds the lock.
func (m *Machine) transition(to State) {
	from := m.state
	m.state = to
	m.log.Debug("call state", zap.Stringer("from", from), zap.Stringer("to", to))
	if cb := m.opts.OnTransition; cb != nil {
		cb(from, to)
	}
}

func (m *Machine) armRingTimer() {
	if m.opts.RingTimeout <= 0 {
		return
	}
	m.ringSeq++
	seq := m.ringSeq
	m.ringTimer = time.AfterFunc(m.opts.RingTimeout, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.ringSeq != seq {
			return
		}
		if m.state != StateOutgoingRinging && m.state != StateIncomingRinging {
			return
		}
		m.log.Info("ring timeout", zap.Stringer("state", m.state))
		if err := m.transport.Close(context.Background(), m.remotePeer()); err != nil {
			m.log.Warn("timeout close failed", zap.Error(err))
		}
		m.teardown()
	})
}

func (m *Machine) disarmRingTimer() {
	if m.ringTimer != nil {
		m.ringTimer.Stop()
		m.ringTimer = nil
	}
	m.ringSeq++
}

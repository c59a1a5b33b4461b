// Package call holds the per-side call attempt state machine.
//
// A caller and a callee each hold their own Session for the same room;
// the two are kept consistent only by signaling message order, never by
// shared memory. Events that match no transition from the current state
// are ignored, which makes duplicate or out-of-order network retries
// harmless.
package call

import (
	"context"
	"time"

	"github.com/looplab/fsm"
)

// Call attempt states.
const (
	StateIdle            = "idle"
	StateOutgoingRinging = "outgoing_ringing"
	StateIncomingRinging = "incoming_ringing"
	StateConnecting      = "connecting"
	StateInCall          = "in_call"
)

// Transition events.
const (
	EvInvite              = "invite"
	EvInviteReceived      = "invite_received"
	EvPeerAccepted        = "peer_accepted"
	EvPeerRejected        = "peer_rejected"
	EvPeerBusy            = "peer_busy"
	EvPeerOffline         = "peer_offline"
	EvPeerCancelled       = "peer_cancelled"
	EvPeerEnded           = "peer_ended"
	EvLocalAccept         = "local_accept"
	EvLocalReject         = "local_reject"
	EvLocalCancel         = "local_cancel"
	EvLocalEnd            = "local_end"
	EvNegotiationComplete = "negotiation_complete"
)

type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// Session is one side's view of a call attempt.
type Session struct {
	User      string
	Peer      string
	Room      string
	Mode      string
	Role      Role
	CreatedAt time.Time

	fsm *fsm.FSM
}

func newSession(user, peer, room, mode string, role Role, machine *fsm.FSM) *Session {
	return &Session{
		User:      user,
		Peer:      peer,
		Room:      room,
		Mode:      mode,
		Role:      role,
		CreatedAt: time.Now(),
		fsm:       machine,
	}
}

// NewCaller creates the caller-side session, still in idle.
func NewCaller(user, peer, room, mode string) *Session {
	return newSession(user, peer, room, mode, RoleCaller, newCallerFSM())
}

// NewCallee creates the callee-side session, still in idle.
func NewCallee(user, peer, room, mode string) *Session {
	return newSession(user, peer, room, mode, RoleCallee, newCalleeFSM())
}

func newCallerFSM() *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EvInvite, Src: []string{StateIdle}, Dst: StateOutgoingRinging},
			{Name: EvPeerAccepted, Src: []string{StateOutgoingRinging}, Dst: StateConnecting},
			{Name: EvPeerRejected, Src: []string{StateOutgoingRinging}, Dst: StateIdle},
			{Name: EvPeerBusy, Src: []string{StateOutgoingRinging}, Dst: StateIdle},
			{Name: EvPeerOffline, Src: []string{StateOutgoingRinging}, Dst: StateIdle},
			{Name: EvLocalCancel, Src: []string{StateOutgoingRinging}, Dst: StateIdle},
			{Name: EvNegotiationComplete, Src: []string{StateConnecting}, Dst: StateInCall},
			{Name: EvPeerEnded, Src: []string{StateConnecting, StateInCall}, Dst: StateIdle},
			{Name: EvLocalEnd, Src: []string{StateConnecting, StateInCall}, Dst: StateIdle},
		}, nil,
	)
}

func newCalleeFSM() *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EvInviteReceived, Src: []string{StateIdle}, Dst: StateIncomingRinging},
			{Name: EvLocalAccept, Src: []string{StateIncomingRinging}, Dst: StateConnecting},
			{Name: EvLocalReject, Src: []string{StateIncomingRinging}, Dst: StateIdle},
			{Name: EvPeerCancelled, Src: []string{StateIncomingRinging}, Dst: StateIdle},
			{Name: EvNegotiationComplete, Src: []string{StateConnecting}, Dst: StateInCall},
			{Name: EvPeerEnded, Src: []string{StateConnecting, StateInCall}, Dst: StateIdle},
			{Name: EvLocalEnd, Src: []string{StateConnecting, StateInCall}, Dst: StateIdle},
		}, nil,
	)
}

// Fire attempts the transition and reports whether it happened.
// An event with no transition from the current state is ignored.
func (s *Session) Fire(event string) bool {
	return s.fsm.Event(context.Background(), event) == nil
}

// State returns the current call attempt state.
func (s *Session) State() string {
	return s.fsm.Current()
}

// Idle reports whether the attempt has reached (or returned to) idle.
func (s *Session) Idle() bool {
	return s.fsm.Current() == StateIdle
}

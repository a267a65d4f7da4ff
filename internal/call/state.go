package call

import (
	"context"

	"github.com/looplab/fsm"
)

// Role is the side of the call a session plays.
type Role string

const (
	RoleListener Role = "listener"
	RoleDialer   Role = "dialer"
)

// State is a session state. Listener sessions walk
// idle → invited → ringing → active → ended, or invited → rejected → ended.
// Dialer sessions walk idle → dialing → call_sent → ended.
type State string

const (
	StateIdle     State = "idle"
	StateInvited  State = "invited"
	StateRejected State = "rejected"
	StateRinging  State = "ringing"
	StateActive   State = "active"
	StateDialing  State = "dialing"
	StateCallSent State = "call_sent"
	StateEnded    State = "ended"
)

// EndReason says which branch terminated a session.
type EndReason string

const (
	ReasonMediaFinished EndReason = "media-finished"
	ReasonPeerHangup    EndReason = "peer-hangup"
	ReasonLocalHangup   EndReason = "local-hangup"
	ReasonInterrupted   EndReason = "interrupted"
	ReasonTimeout       EndReason = "timeout"
	ReasonBusy          EndReason = "busy"
	ReasonPeerClosed    EndReason = "peer-closed"
	ReasonDisconnected  EndReason = "disconnected"
	ReasonTransport     EndReason = "transport-error"
	ReasonProtocol      EndReason = "protocol-error"
	ReasonMedia         EndReason = "media-error"
)

// fsm event names
const (
	evInvite = "invite"
	evReject = "reject"
	evRing   = "ring"
	evAnswer = "answer"
	evDial   = "dial"
	evSend   = "send"
	evEnd    = "end"
)

func names(states ...State) []string {
	out := make([]string, len(states))
	for i, st := range states {
		out[i] = string(st)
	}
	return out
}

func listenerEvents() fsm.Events {
	return fsm.Events{
		{Name: evInvite, Src: names(StateIdle), Dst: string(StateInvited)},
		{Name: evReject, Src: names(StateInvited), Dst: string(StateRejected)},
		{Name: evRing, Src: names(StateInvited), Dst: string(StateRinging)},
		{Name: evAnswer, Src: names(StateRinging), Dst: string(StateActive)},
		{Name: evEnd, Src: names(StateIdle, StateInvited, StateRejected, StateRinging, StateActive), Dst: string(StateEnded)},
	}
}

func dialerEvents() fsm.Events {
	return fsm.Events{
		{Name: evDial, Src: names(StateIdle), Dst: string(StateDialing)},
		{Name: evSend, Src: names(StateDialing), Dst: string(StateCallSent)},
		{Name: evEnd, Src: names(StateIdle, StateDialing, StateCallSent), Dst: string(StateEnded)},
	}
}

func newStateMachine(role Role, onEnter func(from, to State, args []any)) *fsm.FSM {
	events := listenerEvents()
	if role == RoleDialer {
		events = dialerEvents()
	}
	return fsm.NewFSM(
		string(StateIdle),
		events,
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				onEnter(State(e.Src), State(e.Dst), e.Args)
			},
		},
	)
}

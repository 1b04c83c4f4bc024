package p2p

import "net"

// ServiceEvent is the sum type delivered to ServiceHandle. It is distinct
// from SessionEvent: SessionEvent flows Session -> Service on the internal
// session_events channel, ServiceEvent flows Service -> application code.
type ServiceEvent interface {
	isServiceEvent()
}

// DialerError reports that an in-flight outbound connect failed.
type DialerError struct {
	Addr net.Addr
	Err  error
}

func (DialerError) isServiceEvent() {}

// ListenError reports that a bound listener's Accept call failed. The
// listener is kept open: only a permanently exhausted listener is removed.
type ListenError struct {
	Addr net.Addr
	Err  error
}

func (ListenError) isServiceEvent() {}

// SessionOpenEvent reports that a new session was admitted into the
// registry.
type SessionOpenEvent struct {
	SessionID SessionID
	Addr      net.Addr
	Direction Direction
	PublicKey PublicKey
}

func (SessionOpenEvent) isServiceEvent() {}

// SessionCloseEvent reports that a session left the registry.
type SessionCloseEvent struct {
	SessionID SessionID
}

func (SessionCloseEvent) isServiceEvent() {}

// ServiceHandle receives service-level lifecycle notifications. Both
// methods run inline on the event-loop goroutine and must not block.
type ServiceHandle interface {
	HandleError(ctx *ServiceContext, ev ServiceEvent)
	HandleEvent(ctx *ServiceContext, ev ServiceEvent)
}

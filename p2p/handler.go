package p2p

import "net"

// ReceivedMessage is the payload a handler's Received method observes.
// Bytes are conceptually cloned per delivery: global and
// per-session handlers for the same message never share a backing array.
type ReceivedMessage struct {
	SessionID SessionID
	ProtoID   ProtocolID
	Data      []byte
}

// GlobalHandler is shared across every session in which its protocol
// opens; it may accumulate cross-session state. All five methods run
// inline on the event loop and must not block — long work must be
// submitted as a FutureTask through ServiceContext.
type GlobalHandler interface {
	Init(ctx *ServiceContext)
	Connected(ctx *ServiceContext, sid SessionID, addr net.Addr, dir Direction, key PublicKey, version string)
	Received(ctx *ServiceContext, msg ReceivedMessage)
	Disconnected(ctx *ServiceContext, sid SessionID)
	Notify(ctx *ServiceContext, token uint64)
}

// PerSessionHandler only ever observes one session; it is constructed at
// ProtocolOpen and destroyed at ProtocolClose or SessionClose.
type PerSessionHandler interface {
	Init(ctx *ServiceContext)
	Connected(ctx *ServiceContext, sid SessionID, addr net.Addr, dir Direction, key PublicKey, version string)
	Received(ctx *ServiceContext, msg ReceivedMessage)
	Disconnected(ctx *ServiceContext, sid SessionID)
	Notify(ctx *ServiceContext, token uint64)
}

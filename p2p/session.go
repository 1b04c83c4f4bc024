package p2p

import (
	"io"
	"net"
)

// SessionMeta describes a session to its collaborator at construction
// time. It is immutable for the session's lifetime.
type SessionMeta struct {
	SessionID SessionID
	Direction Direction
	Addr      net.Addr
	PublicKey PublicKey
	Protocols []ProtocolMeta
}

// SessionCommand is the sum type accepted on a session's inbound command
// channel (Service -> Session).
type SessionCommand interface {
	isSessionCommand()
}

// OpenProtocolCmd asks the session to negotiate a new outbound substream
// for the named protocol. Issued once per configured protocol when an
// outbound session opens.
type OpenProtocolCmd struct {
	Name string
}

func (OpenProtocolCmd) isSessionCommand() {}

// SendMessageCmd asks the session to frame and write data on the
// substream for ProtoID.
type SendMessageCmd struct {
	ProtoID ProtocolID
	Data    []byte
}

func (SendMessageCmd) isSessionCommand() {}

// CloseSessionCmd asks the session to tear itself down.
type CloseSessionCmd struct{}

func (CloseSessionCmd) isSessionCommand() {}

// Session is the external collaborator that multiplexes one
// authenticated connection into named protocol substreams. A concrete
// implementation is constructed per SessionMeta and run on its own
// goroutine by the Service; it communicates exclusively through the two
// channels it was built with.
//
// Implementations must:
//   - negotiate every inbound substream and every OpenProtocolCmd request,
//     then emit ProtocolOpen;
//   - decode framed bytes per the protocol's Codec and emit
//     ProtocolMessage;
//   - emit ProtocolClose on substream EOF, and SessionClose followed by
//     returning from Run on connection loss;
//   - accept SendMessageCmd and CloseSessionCmd on its command channel.
type Session interface {
	Run()
}

// SessionFactory builds the Session collaborator for one session. The
// Service never constructs substream logic itself; it only ever calls
// this factory once per admitted connection.
type SessionFactory func(stream io.ReadWriteCloser, events chan<- SessionEvent, commands <-chan SessionCommand, meta SessionMeta) Session

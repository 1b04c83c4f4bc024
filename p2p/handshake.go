package p2p

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/nodenet/p2p/p2plog"
)

// handshakeTimeout is the hard wall-clock ceiling on an authenticated
// handshake.
const handshakeTimeout = 10 * time.Second

// Handshaker performs the authenticated key-agreement producing a remote
// public key and an authenticated byte stream. A nil Handshaker
// configured on the Service means "bypass": no crypto, sessions open
// with a nil PublicKey.
type Handshaker interface {
	Handshake(ctx context.Context, stream io.ReadWriteCloser, dir Direction) (auth io.ReadWriteCloser, pub PublicKey, clientVersion string, err error)
}

// handshakeDriver turns raw streams into HandshakeSuccess/HandshakeFail
// events, or (when no Handshaker is configured) directly into opened
// sessions.
type handshakeDriver struct {
	crypto Handshaker
	events chan<- SessionEvent
	log    p2plog.Logger
	// openBypass performs synchronously for the crypto-not-configured
	// path. Supplied by the Service, which alone owns session state.
	openBypass func(stream io.ReadWriteCloser, addr net.Addr, dir Direction)
	// timeout overrides handshakeTimeout; zero means use the default.
	// Only ever set by tests.
	timeout time.Duration
}

func newHandshakeDriver(crypto Handshaker, events chan<- SessionEvent, log p2plog.Logger, openBypass func(io.ReadWriteCloser, net.Addr, Direction)) *handshakeDriver {
	return &handshakeDriver{crypto: crypto, events: events, log: log, openBypass: openBypass}
}

// run drives the handshake for one raw stream. It returns immediately:
// the crypto path spawns a goroutine, the bypass path runs inline since
// it is synchronous by definition.
func (h *handshakeDriver) run(stream io.ReadWriteCloser, addr net.Addr, dir Direction) {
	if h.crypto == nil {
		h.openBypass(stream, addr, dir)
		return
	}
	go h.runCrypto(stream, addr, dir)
}

func (h *handshakeDriver) runCrypto(stream io.ReadWriteCloser, addr net.Addr, dir Direction) {
	timeout := h.timeout
	if timeout == 0 {
		timeout = handshakeTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	attempt := uuid.NewString()
	h.log.Trace("Handshake started", "addr", addr, "dir", dir, "attempt", attempt)

	type result struct {
		auth    io.ReadWriteCloser
		pub     PublicKey
		version string
		err     error
	}
	resC := make(chan result, 1)
	go func() {
		auth, pub, version, err := h.crypto.Handshake(ctx, stream, dir)
		resC <- result{auth: auth, pub: pub, version: version, err: err}
	}()

	var ev SessionEvent
	select {
	case r := <-resC:
		if r.err != nil {
			ev = HandshakeFail{Direction: dir, Err: r.err}
		} else {
			ev = HandshakeSuccess{Stream: r.auth, PublicKey: r.pub, Addr: addr, Direction: dir, ClientVersion: r.version}
		}
	case <-ctx.Done():
		stream.Close()
		ev = HandshakeFail{Direction: dir, Err: errHandshakeTimeout}
	}
	h.log.Trace("Handshake resolved", "addr", addr, "dir", dir, "attempt", attempt)

	// Any send failure on session_events is ignored: the service is
	// shutting down.
	select {
	case h.events <- ev:
	default:
	}
}

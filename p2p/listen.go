package p2p

import (
	"context"
	"errors"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/nodenet/p2p/p2plog"
)

// inboundThrottleTime bounds how often a single listener accepts a new
// connection.
const inboundThrottleTime = 30 * time.Millisecond

// acceptEvent is what a listener hands back to the event loop: either a
// fresh connection, exhaustion (listener gone for good), or an Accept
// error that leaves the listener in place.
type acceptEvent struct {
	listener *boundListener
	conn     net.Conn
	err      error
	done     bool
}

// boundListener pairs a net.Listener with its own Accept goroutine. Every
// accepted connection, error, or exhaustion is forwarded to the owning
// listenerSet's single fan-in channel so the event loop has one place to
// select on.
type boundListener struct {
	addr     net.Addr
	listener net.Listener
	limiter  *rate.Limiter
}

func newBoundListener(l net.Listener, out chan<- acceptEvent) *boundListener {
	bl := &boundListener{
		addr:     l.Addr(),
		listener: l,
		limiter:  rate.NewLimiter(rate.Every(inboundThrottleTime), 1),
	}
	go bl.acceptLoop(out)
	return bl
}

func (bl *boundListener) acceptLoop(out chan<- acceptEvent) {
	for {
		conn, err := bl.listener.Accept()
		if err != nil {
			out <- acceptEvent{listener: bl, err: err, done: isListenerClosed(err)}
			if isListenerClosed(err) {
				return
			}
			continue
		}
		_ = bl.limiter.Wait(context.Background())
		out <- acceptEvent{listener: bl, conn: conn}
	}
}

func isListenerClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

func (bl *boundListener) close() {
	_ = bl.listener.Close()
}

// listenerSet owns every bound acceptor and the single
// channel all of their Accept results fan into.
type listenerSet struct {
	listeners map[string]*boundListener
	acceptC   chan acceptEvent
	log       p2plog.Logger
}

func newListenerSet(log p2plog.Logger) *listenerSet {
	return &listenerSet{
		listeners: make(map[string]*boundListener),
		acceptC:   make(chan acceptEvent, 64),
		log:       log,
	}
}

func (s *listenerSet) add(l net.Listener) {
	bl := newBoundListener(l, s.acceptC)
	s.listeners[bl.addr.String()] = bl
}

func (s *listenerSet) has(addr string) bool {
	_, ok := s.listeners[addr]
	return ok
}

func (s *listenerSet) empty() bool {
	return len(s.listeners) == 0
}

func (s *listenerSet) addrs() []net.Addr {
	out := make([]net.Addr, 0, len(s.listeners))
	for _, bl := range s.listeners {
		out = append(out, bl.addr)
	}
	return out
}

// remove drops a listener that Accept has permanently exhausted.
func (s *listenerSet) remove(bl *boundListener) {
	delete(s.listeners, bl.addr.String())
}

func (s *listenerSet) closeAll() {
	for _, bl := range s.listeners {
		bl.close()
	}
	s.listeners = make(map[string]*boundListener)
}

package p2p

import (
	"context"
	"io"
	"net"
	"sync"
)

// stubAddr is a minimal net.Addr for tests that never actually dial the
// network.
type stubAddr string

func (a stubAddr) Network() string { return "tcp" }
func (a stubAddr) String() string  { return string(a) }

// fakeDialer lets tests control what NodeDialer.Dial returns without
// touching a real socket.
type fakeDialer struct {
	result func(ctx context.Context, addr net.Addr) (net.Conn, error)
}

func (f fakeDialer) Dial(ctx context.Context, addr net.Addr) (net.Conn, error) {
	return f.result(ctx, addr)
}

// noopStream is an io.ReadWriteCloser that does nothing, for tests that
// never exercise the stream itself.
type noopStream struct{}

func (noopStream) Read([]byte) (int, error)  { return 0, io.EOF }
func (noopStream) Write(p []byte) (int, error) { return len(p), nil }
func (noopStream) Close() error              { return nil }

// scriptedSession is a p2p.Session double: it records every command it
// receives and, on CloseSessionCmd, emits SessionClose and returns, the
// way a real Session must on shutdown.
type scriptedSession struct {
	meta     SessionMeta
	events   chan<- SessionEvent
	commands <-chan SessionCommand

	mu       sync.Mutex
	received []SessionCommand
}

func (s *scriptedSession) Run() {
	for cmd := range s.commands {
		s.mu.Lock()
		s.received = append(s.received, cmd)
		s.mu.Unlock()
		if _, ok := cmd.(CloseSessionCmd); ok {
			s.events <- SessionClose{SessionID: s.meta.SessionID}
			return
		}
	}
}

func (s *scriptedSession) commandsReceived() []SessionCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SessionCommand, len(s.received))
	copy(out, s.received)
	return out
}

// sessionSpy is a SessionFactory that hands out scriptedSessions and
// remembers one per SessionID so tests can inspect what each session
// was told to do.
type sessionSpy struct {
	mu       sync.Mutex
	sessions map[SessionID]*scriptedSession
}

func newSessionSpy() *sessionSpy {
	return &sessionSpy{sessions: make(map[SessionID]*scriptedSession)}
}

func (r *sessionSpy) factory() SessionFactory {
	return func(stream io.ReadWriteCloser, events chan<- SessionEvent, commands <-chan SessionCommand, meta SessionMeta) Session {
		ss := &scriptedSession{meta: meta, events: events, commands: commands}
		r.mu.Lock()
		r.sessions[meta.SessionID] = ss
		r.mu.Unlock()
		return ss
	}
}

func (r *sessionSpy) get(sid SessionID) *scriptedSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sid]
}

// recordingHandle is a ServiceHandle that appends every event it sees,
// safe for concurrent use since the event loop runs on its own
// goroutine while tests observe from the test goroutine.
type recordingHandle struct {
	mu     sync.Mutex
	events []ServiceEvent
	errs   []ServiceEvent
}

func newRecordingHandle() *recordingHandle {
	return &recordingHandle{}
}

func (h *recordingHandle) HandleEvent(ctx *ServiceContext, ev ServiceEvent) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
}

func (h *recordingHandle) HandleError(ctx *ServiceContext, ev ServiceEvent) {
	h.mu.Lock()
	h.errs = append(h.errs, ev)
	h.mu.Unlock()
}

func (h *recordingHandle) snapshotEvents() []ServiceEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ServiceEvent, len(h.events))
	copy(out, h.events)
	return out
}

func (h *recordingHandle) snapshotErrors() []ServiceEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ServiceEvent, len(h.errs))
	copy(out, h.errs)
	return out
}

// recordingGlobalHandler records every callback it receives, for
// asserting handler call ordering.
type recordingGlobalHandler struct {
	mu    sync.Mutex
	calls []string
	msgs  []ReceivedMessage
}

func (h *recordingGlobalHandler) record(s string) {
	h.mu.Lock()
	h.calls = append(h.calls, s)
	h.mu.Unlock()
}

func (h *recordingGlobalHandler) Init(ctx *ServiceContext) { h.record("init") }
func (h *recordingGlobalHandler) Connected(ctx *ServiceContext, sid SessionID, addr net.Addr, dir Direction, key PublicKey, version string) {
	h.record("connected")
}
func (h *recordingGlobalHandler) Received(ctx *ServiceContext, msg ReceivedMessage) {
	h.mu.Lock()
	h.msgs = append(h.msgs, msg)
	h.mu.Unlock()
	h.record("received")
}
func (h *recordingGlobalHandler) Disconnected(ctx *ServiceContext, sid SessionID) { h.record("disconnected") }
func (h *recordingGlobalHandler) Notify(ctx *ServiceContext, token uint64)        { h.record("notify") }

func (h *recordingGlobalHandler) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.calls))
	copy(out, h.calls)
	return out
}

// recordingPerSessionHandler mirrors recordingGlobalHandler for the
// per-session interface.
type recordingPerSessionHandler struct {
	recordingGlobalHandler
}

package p2p

import (
	"io"
	"net"

	"github.com/nodenet/p2p/p2plog"
)

const sessionEventsCapacity = 256
const serviceTasksCapacity = 256
const sessionCommandCapacity = 256

// ServiceConfig carries the non-addressable wiring a Service needs beyond
// its protocol table: the dialer implementation, the session factory, the
// optional crypto handshaker, and whether the loop should treat itself as
// permanently alive even with nothing to do.
type ServiceConfig struct {
	// Forever, when true, seeds task_count at 1 so Run never reports
	// "complete" on its own; Shutdown is the only way out.
	Forever bool
	// Dialer overrides the outbound TCP dialer. Defaults to a real
	// net.Dialer.
	Dialer NodeDialer
	// Crypto is the handshake collaborator. Nil means bypass: sessions
	// open with no PublicKey.
	Crypto Handshaker
	// NewSession builds the Session collaborator for every admitted
	// connection. Required.
	NewSession SessionFactory
	// Log overrides the logger. Defaults to p2plog.Root().
	Log p2plog.Logger
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.Log == nil {
		c.Log = p2plog.Root()
	}
	return c
}

// Service owns every TCP endpoint, authenticates raw connections, opens
// and tracks Sessions, and dispatches protocol lifecycle events to
// handlers. See the package doc for the full design.
type Service struct {
	cfg   ServiceConfig
	proto *protocolTable
	handle ServiceHandle
	ctx    *ServiceContext

	tasksC  chan ServiceTask  // service_tasks, Service-owned receive end
	eventsC chan SessionEvent // session_events, Service-owned receive end

	dialer    *dialScheduler
	listeners *listenerSet
	sessions  *sessionRegistry
	globals   *globalHandlerRegistry
	handshake *handshakeDriver

	taskCount int
	log       p2plog.Logger
}

// NewService constructs a Service around an immutable protocol set. The
// protocol set, handle, and cfg.NewSession must all be non-nil/non-empty
// for the service to be useful; NewService itself never fails.
func NewService(metas []ProtocolMeta, handle ServiceHandle, cfg ServiceConfig) *Service {
	cfg = cfg.withDefaults()

	s := &Service{
		cfg:       cfg,
		proto:     newProtocolTable(metas),
		handle:    handle,
		tasksC:    make(chan ServiceTask, serviceTasksCapacity),
		eventsC:   make(chan SessionEvent, sessionEventsCapacity),
		listeners: newListenerSet(cfg.Log.With("component", "listener")),
		sessions:  newSessionRegistry(),
		globals:   newGlobalHandlerRegistry(),
		log:       cfg.Log,
	}
	s.ctx = newServiceContext(s.tasksC, s.proto)
	s.dialer = newDialScheduler(cfg.Dialer, cfg.Log.With("component", "dialer"))
	s.handshake = newHandshakeDriver(cfg.Crypto, s.eventsC, cfg.Log.With("component", "handshake"), s.openBypass)

	if cfg.Forever {
		s.taskCount = 1
	}
	return s
}

// Context returns the ServiceContext other code (e.g. the CLI front end)
// can use to Dial/send/disconnect before or after Run starts.
func (s *Service) Context() *ServiceContext { return s.ctx }

// Listen binds a TCP acceptor on addr. Failure is returned synchronously
// and leaves all other state untouched.
func (s *Service) Listen(addr string) (net.Addr, error) {
	if s.listeners.has(addr) {
		return nil, errAlreadyListening
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s.listeners.add(ln)
	s.log.Info("Listening", "addr", ln.Addr())
	return ln.Addr(), nil
}

// Dial queues an outbound connect to addr, subject to in-flight dedup.
// It mutates loop state directly and is only safe to call before Run
// starts. Once the loop is running, use Context().Dial instead, which
// goes through the task channel like every other concurrent caller.
func (s *Service) Dial(addr net.Addr) {
	s.dialAddr(addr)
}

func (s *Service) dialAddr(addr net.Addr) {
	if s.dialer.Queue(addr) {
		s.taskCount++
	}
}

// Shutdown closes every listener and best-effort disconnects every live
// session, letting the normal termination predicate catch up on a
// subsequent Run iteration. It does not bypass the event loop's ordering.
func (s *Service) Shutdown() {
	s.listeners.closeAll()
	for sid := range s.sessions.sessions {
		s.closeSession(sid)
	}
}

// Run performs iterations until the termination condition holds:
// listens.empty ∧ task_count == 0 ∧ sessions.empty. When an iteration
// made no progress, Run blocks until one of the four suspension points
// has work before iterating again.
func (s *Service) Run() {
	for {
		done, progressed := s.poll()
		if done {
			return
		}
		if !progressed {
			s.waitForWork()
		}
	}
}

// Poll performs at most one iteration and reports whether the
// service has reached its termination condition. When the condition was
// already met on entry, Poll returns true immediately without touching
// any channel. Poll never blocks: with nothing ready it returns false.
func (s *Service) Poll() bool {
	done, _ := s.poll()
	return done
}

func (s *Service) poll() (done, progressed bool) {
	if s.terminated() {
		return true, false
	}
	progressed = s.iterate()
	return s.terminated(), progressed
}

func (s *Service) terminated() bool {
	return s.listeners.empty() && s.taskCount == 0 && s.sessions.count() == 0
}

// iterate performs one pass over dialers, listeners, session events and
// service tasks, reporting whether anything was processed (used only to
// decide whether to block before the next iteration; it has no bearing
// on correctness of the ordering itself).
func (s *Service) iterate() bool {
	progressed := false

	if n := s.pollDialers(); n > 0 {
		progressed = true
	}
	if n := s.pollListeners(); n > 0 {
		progressed = true
	}
	s.listeners.log.Trace("snapshot refreshed", "addrs", len(s.listeners.addrs()))
	s.ctx.setListens(s.listeners.addrs())

	if n := s.drainSessionEvents(); n > 0 {
		progressed = true
	}
	if n := s.drainServiceTasks(); n > 0 {
		progressed = true
	}
	return progressed
}

// waitForWork blocks until any of the four suspension points has
// something ready, without busy-spinning the loop goroutine.
func (s *Service) waitForWork() {
	select {
	case res := <-s.dialer.resultC:
		s.handleDialOutcome(res)
	case ev := <-s.listeners.acceptC:
		s.handleAcceptEvent(ev)
	case ev := <-s.eventsC:
		s.dispatchSessionEvent(ev)
	case t := <-s.tasksC:
		s.dispatchServiceTask(t)
	}
}

// --- dialer polling ---

func (s *Service) pollDialers() int {
	n := 0
	for {
		select {
		case res := <-s.dialer.resultC:
			s.handleDialOutcome(res)
			n++
		default:
			return n
		}
	}
}

func (s *Service) handleDialOutcome(res dialOutcome) {
	s.dialer.complete(res)
	if res.err != nil {
		s.taskCount--
		s.log.Debug("Dial failed", "addr", res.addr, "err", res.err)
		s.handle.HandleError(s.ctx, DialerError{Addr: res.addr, Err: res.err})
		return
	}
	s.handshake.run(res.conn, res.addr, Outbound)
}

// --- listener polling ---

func (s *Service) pollListeners() int {
	n := 0
	for {
		select {
		case ev := <-s.listeners.acceptC:
			s.handleAcceptEvent(ev)
			n++
		default:
			return n
		}
	}
}

func (s *Service) handleAcceptEvent(ev acceptEvent) {
	switch {
	case ev.done:
		s.listeners.remove(ev.listener)
	case ev.err != nil:
		s.handle.HandleError(s.ctx, ListenError{Addr: ev.listener.addr, Err: ev.err})
	default:
		s.handshake.run(ev.conn, ev.conn.RemoteAddr(), Inbound)
	}
}

// --- /handshake bypass + session open ---

// openBypass implements the crypto-not-configured path: it opens the
// session synchronously and, for outbound connections, decrements
// task_count immediately since no HandshakeSuccess/HandshakeFail will
// ever arrive on session_events for this connection.
func (s *Service) openBypass(stream io.ReadWriteCloser, addr net.Addr, dir Direction) {
	s.sessionOpen(stream, nil, "", addr, dir)
	if dir == Outbound {
		s.taskCount--
	}
}

// sessionOpen admits a successfully authenticated (or bypassed) stream
// into the session registry, rejecting it first if its public key
// duplicates an already-live session.
func (s *Service) sessionOpen(stream io.ReadWriteCloser, key PublicKey, clientVersion string, addr net.Addr, dir Direction) {
	if sid, dup := s.sessions.liveKey(key); dup {
		s.log.Debug("Duplicate public key, shutting down new stream", "existing_session", sid)
		stream.Close()
		return
	}

	sid := s.sessions.allocate()
	cmds := make(chan SessionCommand, sessionCommandCapacity)
	meta := SessionMeta{
		SessionID: sid,
		Direction: dir,
		Addr:      addr,
		PublicKey: key,
		Protocols: s.protoMetaSlice(),
	}

	rec := &sessionRecord{sessionID: sid, addr: addr, direction: dir, publicKey: key, cmds: cmds}
	s.sessions.insert(rec)

	session := s.cfg.NewSession(stream, s.eventsC, cmds, meta)

	if dir == Outbound {
		for _, name := range s.proto.names {
			select {
			case cmds <- OpenProtocolCmd{Name: name}:
			default:
			}
		}
	}

	go session.Run()

	s.log.Info("Session open", "id", sid, "addr", addr, "dir", dir, "client_version", clientVersion)
	s.handle.HandleEvent(s.ctx, SessionOpenEvent{SessionID: sid, Addr: addr, Direction: dir, PublicKey: key})
}

func (s *Service) protoMetaSlice() []ProtocolMeta {
	out := make([]ProtocolMeta, 0, len(s.proto.byID))
	for _, m := range s.proto.byID {
		out = append(out, *m)
	}
	return out
}

// --- session close ---

func (s *Service) closeSession(sid SessionID) {
	rec, handlers := s.sessions.remove(sid)
	if rec == nil {
		return
	}
	select {
	case rec.cmds <- CloseSessionCmd{}:
	default:
	}
	s.log.Info("Session closed", "id", sid)
	s.handle.HandleEvent(s.ctx, SessionCloseEvent{SessionID: sid})

	for _, h := range handlers {
		if h != nil {
			h.Disconnected(s.ctx, sid)
		}
	}
	for pid := range handlers {
		if gh, ok := s.globals.get(pid); ok {
			gh.Disconnected(s.ctx, sid)
		}
	}
}

// --- session event dispatch ---

func (s *Service) drainSessionEvents() int {
	n := 0
	for {
		select {
		case ev := <-s.eventsC:
			s.dispatchSessionEvent(ev)
			n++
		default:
			return n
		}
	}
}

func (s *Service) dispatchSessionEvent(ev SessionEvent) {
	switch e := ev.(type) {
	case HandshakeSuccess:
		s.sessionOpen(e.Stream, e.PublicKey, e.ClientVersion, e.Addr, e.Direction)
		if e.Direction == Outbound {
			s.taskCount--
		}
	case HandshakeFail:
		if e.Direction == Outbound {
			s.taskCount--
		}
		s.log.Debug("Handshake failed", "dir", e.Direction, "err", e.Err)
	case SessionClose:
		s.closeSession(e.SessionID)
	case ProtocolOpen:
		s.protocolOpen(e)
	case ProtocolMessage:
		s.protocolMessage(e)
	case ProtocolClose:
		s.protocolClose(e)
	}
}

// --- protocol open ---

func (s *Service) protocolOpen(e ProtocolOpen) {
	meta, ok := s.proto.get(e.ProtoID)
	if !ok {
		return
	}

	if gh, _, ok := s.globals.getOrInit(s.ctx, e.ProtoID, meta.GlobalHandler); ok {
		gh.Connected(s.ctx, e.SessionID, e.Addr, e.Direction, e.PublicKey, e.Version)
	}

	var per PerSessionHandler
	if meta.PerSessionHandler != nil {
		per = meta.PerSessionHandler()
		per.Init(s.ctx)
		per.Connected(s.ctx, e.SessionID, e.Addr, e.Direction, e.PublicKey, e.Version)
	}
	s.sessions.openProtocol(e.SessionID, e.ProtoID, per)
}

// --- protocol message ---

func (s *Service) protocolMessage(e ProtocolMessage) {
	if gh, ok := s.globals.get(e.ProtoID); ok {
		gh.Received(s.ctx, ReceivedMessage{SessionID: e.SessionID, ProtoID: e.ProtoID, Data: cloneBytes(e.Data)})
	}
	if h, ok := s.sessions.perSessionHandler(e.SessionID, e.ProtoID); ok && h != nil {
		h.Received(s.ctx, ReceivedMessage{SessionID: e.SessionID, ProtoID: e.ProtoID, Data: cloneBytes(e.Data)})
	}
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// --- protocol close ---

func (s *Service) protocolClose(e ProtocolClose) {
	if gh, ok := s.globals.get(e.ProtoID); ok {
		gh.Disconnected(s.ctx, e.SessionID)
	}
	if h, had := s.sessions.closeProtocol(e.SessionID, e.ProtoID); had && h != nil {
		h.Disconnected(s.ctx, e.SessionID)
	}
}

// --- service task dispatch ---

func (s *Service) drainServiceTasks() int {
	n := 0
	for {
		select {
		case t := <-s.tasksC:
			s.dispatchServiceTask(t)
			n++
		default:
			return n
		}
	}
}

func (s *Service) dispatchServiceTask(t ServiceTask) {
	switch task := t.(type) {
	case ProtocolMessageTask:
		s.broadcastMessage(task)
	case DialTask:
		s.dialAddr(task.Addr)
	case DisconnectTask:
		s.closeSession(task.SessionID)
	case FutureTask:
		go task.Run()
	case ProtocolNotifyTask:
		if gh, ok := s.globals.get(task.ProtoID); ok {
			gh.Notify(s.ctx, task.Token)
		}
	case ProtocolSessionNotifyTask:
		if h, ok := s.sessions.perSessionHandler(task.SessionID, task.ProtoID); ok && h != nil {
			h.Notify(s.ctx, task.Token)
		}
	}
}

func (s *Service) broadcastMessage(task ProtocolMessageTask) {
	cmd := SendMessageCmd{ProtoID: task.ProtoID, Data: task.Message}
	for sid, rec := range s.sessions.sessions {
		if task.IDs != nil {
			if _, ok := task.IDs[sid]; !ok {
				continue
			}
		}
		select {
		case rec.cmds <- cmd:
		default:
		}
	}
}

package p2p

import "net"

// sessionRecord is the Service's bookkeeping for one live session.
type sessionRecord struct {
	sessionID SessionID
	addr      net.Addr
	direction Direction
	publicKey PublicKey
	cmds      chan<- SessionCommand
}

// sessionRegistry owns the session id -> record map, the public-key ->
// session-id dedup map, and the per-session protocol handler map. None of
// this is locked: every mutation happens on the event loop goroutine.
type sessionRegistry struct {
	sessions map[SessionID]*sessionRecord
	byKey    map[string]SessionID // string(PublicKey) -> SessionID

	// perSession[sid][pid] holds the handler for an open protocol, or nil
	// when the descriptor had no per-session factory. The key's mere
	// presence records that ProtocolOpen(sid, pid) was dispatched and
	// ProtocolClose/SessionClose for it has not.
	perSession map[SessionID]map[ProtocolID]PerSessionHandler

	nextID SessionID
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{
		sessions:   make(map[SessionID]*sessionRecord),
		byKey:      make(map[string]SessionID),
		perSession: make(map[SessionID]map[ProtocolID]PerSessionHandler),
	}
}

func (r *sessionRegistry) liveKey(key PublicKey) (SessionID, bool) {
	if key == nil {
		return 0, false
	}
	sid, ok := r.byKey[string(key)]
	return sid, ok
}

func (r *sessionRegistry) allocate() SessionID {
	r.nextID++
	return r.nextID
}

func (r *sessionRegistry) insert(rec *sessionRecord) {
	r.sessions[rec.sessionID] = rec
	if rec.publicKey != nil {
		r.byKey[string(rec.publicKey)] = rec.sessionID
	}
	r.perSession[rec.sessionID] = make(map[ProtocolID]PerSessionHandler)
}

func (r *sessionRegistry) get(sid SessionID) (*sessionRecord, bool) {
	rec, ok := r.sessions[sid]
	return rec, ok
}

func (r *sessionRegistry) count() int {
	return len(r.sessions)
}

// remove deletes every trace of sid from the registry and returns the
// removed record plus the per-session handlers that had been open in
// it (keyed by protocol id, nil value meaning "open, no handler"), for
// disconnect fan-out.
func (r *sessionRegistry) remove(sid SessionID) (*sessionRecord, map[ProtocolID]PerSessionHandler) {
	rec, ok := r.sessions[sid]
	if !ok {
		return nil, nil
	}
	if rec.publicKey != nil {
		if cur, exists := r.byKey[string(rec.publicKey)]; exists && cur == sid {
			delete(r.byKey, string(rec.publicKey))
		}
	}
	delete(r.sessions, sid)

	protos := r.perSession[sid]
	delete(r.perSession, sid)
	return rec, protos
}

func (r *sessionRegistry) openProtocol(sid SessionID, pid ProtocolID, h PerSessionHandler) {
	m, ok := r.perSession[sid]
	if !ok {
		m = make(map[ProtocolID]PerSessionHandler)
		r.perSession[sid] = m
	}
	m[pid] = h
}

func (r *sessionRegistry) closeProtocol(sid SessionID, pid ProtocolID) (PerSessionHandler, bool) {
	m, ok := r.perSession[sid]
	if !ok {
		return nil, false
	}
	h, present := m[pid]
	if !present {
		return nil, false
	}
	delete(m, pid)
	return h, true
}

func (r *sessionRegistry) perSessionHandler(sid SessionID, pid ProtocolID) (PerSessionHandler, bool) {
	m, ok := r.perSession[sid]
	if !ok {
		return nil, false
	}
	h, present := m[pid]
	return h, present
}

// globalHandlerRegistry owns the ProtocolId -> GlobalHandler map. An entry
// is created lazily on the first session in which the protocol opens and
// persists until service shutdown.
type globalHandlerRegistry struct {
	handlers map[ProtocolID]GlobalHandler
}

func newGlobalHandlerRegistry() *globalHandlerRegistry {
	return &globalHandlerRegistry{handlers: make(map[ProtocolID]GlobalHandler)}
}

func (g *globalHandlerRegistry) get(pid ProtocolID) (GlobalHandler, bool) {
	h, ok := g.handlers[pid]
	return h, ok
}

// getOrInit returns the existing global handler for pid, or instantiates
// one via factory (calling Init exactly once) if none exists yet and
// factory is non-nil. ok is false only when there is and never will be a
// global handler for pid (no factory configured).
func (g *globalHandlerRegistry) getOrInit(ctx *ServiceContext, pid ProtocolID, factory GlobalHandlerFactory) (h GlobalHandler, justInitialized bool, ok bool) {
	if h, exists := g.handlers[pid]; exists {
		return h, false, true
	}
	if factory == nil {
		return nil, false, false
	}
	h = factory()
	h.Init(ctx)
	g.handlers[pid] = h
	return h, true, true
}

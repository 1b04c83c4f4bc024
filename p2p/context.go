package p2p

import (
	"net"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// ServiceContext is the handle passed into every user callback: service
// handle, global handlers, and per-session handlers. It lets callbacks
// re-enter the Service without ever calling back into it directly —
// every operation enqueues a ServiceTask that the event loop applies on
// its next drain.
type ServiceContext struct {
	tasks chan<- ServiceTask
	proto *protocolTable

	// listens is an atomically-swapped snapshot of current listen
	// addresses, refreshed once per iteration after listener polling.
	listens atomic.Pointer[[]net.Addr]
}

func newServiceContext(tasks chan<- ServiceTask, proto *protocolTable) *ServiceContext {
	ctx := &ServiceContext{tasks: tasks, proto: proto}
	empty := []net.Addr{}
	ctx.listens.Store(&empty)
	return ctx
}

func (c *ServiceContext) setListens(addrs []net.Addr) {
	snapshot := make([]net.Addr, len(addrs))
	copy(snapshot, addrs)
	c.listens.Store(&snapshot)
}

// Listens returns a read-only snapshot of the addresses currently bound
// by live listeners.
func (c *ServiceContext) Listens() []net.Addr {
	return *c.listens.Load()
}

// Protocols returns the read-only {name, supported_versions} projection
// for every registered protocol.
func (c *ServiceContext) Protocols() map[ProtocolID]ProtocolInfo {
	return c.proto.infoSnapshot()
}

// Dial submits a DialTask, which the loop applies with the same in-flight
// dedup as Service.Dial. Unlike Service.Dial it is safe to call from a
// handler callback or any goroutine while Run is active.
func (c *ServiceContext) Dial(addr net.Addr) {
	c.trySend(DialTask{Addr: addr})
}

// Disconnect submits a DisconnectTask for sid.
func (c *ServiceContext) Disconnect(sid SessionID) {
	c.trySend(DisconnectTask{SessionID: sid})
}

// SendMessage submits a ProtocolMessageTask. A nil ids broadcasts to
// every live session; a non-nil, non-empty ids targets only those
// sessions.
func (c *ServiceContext) SendMessage(ids mapset.Set[SessionID], pid ProtocolID, data []byte) {
	var set SessionIDSet
	if ids != nil {
		set = make(SessionIDSet, ids.Cardinality())
		ids.Each(func(id SessionID) bool {
			set[id] = struct{}{}
			return false
		})
	}
	c.trySend(ProtocolMessageTask{IDs: set, ProtoID: pid, Message: data})
}

// FutureTask submits run to be spawned on the Service's executor. Use
// this for anything a callback needs that might block.
func (c *ServiceContext) FutureTask(run func()) {
	c.trySend(FutureTask{Run: run})
}

// NotifyProtocol submits a ProtocolNotifyTask for the global handler of
// pid.
func (c *ServiceContext) NotifyProtocol(pid ProtocolID, token uint64) {
	c.trySend(ProtocolNotifyTask{ProtoID: pid, Token: token})
}

// NotifySession submits a ProtocolSessionNotifyTask for the per-session
// handler at (sid, pid).
func (c *ServiceContext) NotifySession(sid SessionID, pid ProtocolID, token uint64) {
	c.trySend(ProtocolSessionNotifyTask{SessionID: sid, ProtoID: pid, Token: token})
}

// ScheduleNotify delivers token to pid's global handler after the given
// delay. It is sugar over FutureTask and NotifyProtocol: the delay is a
// plain goroutine sleep, not a new event-loop suspension point.
func (c *ServiceContext) ScheduleNotify(pid ProtocolID, token uint64, after time.Duration) {
	c.FutureTask(func() {
		time.Sleep(after)
		c.NotifyProtocol(pid, token)
	})
}

// trySend is the single choke point implementing the declared
// backpressure policy: on a full service_tasks channel the task is
// dropped silently, never blocking the caller.
func (c *ServiceContext) trySend(t ServiceTask) {
	select {
	case c.tasks <- t:
	default:
	}
}

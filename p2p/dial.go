// Copyright 2015 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package p2p

import (
	"context"
	"net"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"

	"github.com/nodenet/p2p/p2plog"
)

const (
	dialStatsLogInterval = 10 * time.Second
	dialHistorySize      = 128
)

// NodeDialer is used to open outbound TCP connections. Swappable in tests
// for net.Pipe-backed dialers.
type NodeDialer interface {
	Dial(ctx context.Context, addr net.Addr) (net.Conn, error)
}

// tcpDialer implements NodeDialer with a real net.Dialer.
type tcpDialer struct {
	d net.Dialer
}

func (t tcpDialer) Dial(ctx context.Context, addr net.Addr) (net.Conn, error) {
	return t.d.DialContext(ctx, addr.Network(), addr.String())
}

// dialOutcome is what the scheduler hands back to the event loop once a
// queued dial resolves.
type dialOutcome struct {
	addr net.Addr
	conn net.Conn
	err  error
}

// dialScheduler owns the in-flight dial list and the idempotent-queuing
// rule: a second Dial to an address already in flight is dropped
// silently.
//
// There is no discovery source wired in, so every dial here is a
// pre-configured or handler-requested address dialed once and handed
// off to the handshake driver on success.
type dialScheduler struct {
	dialer  NodeDialer
	log     p2plog.Logger
	resultC chan dialOutcome

	pending map[string]context.CancelFunc // addr.String() -> cancel, in-flight only

	// history is a bounded, purely diagnostic record of recently
	// completed dial attempts, keyed by address. It never gates a Queue
	// call: the only dedup rule is "already pending" — it exists so a
	// re-dial can be logged with how long it's been since the last one.
	history *lru.Cache

	lastStatsLog time.Time
	doneSinceLog int
}

func newDialScheduler(dialer NodeDialer, log p2plog.Logger) *dialScheduler {
	if dialer == nil {
		dialer = tcpDialer{}
	}
	h, _ := lru.New(dialHistorySize)
	return &dialScheduler{
		dialer:  dialer,
		log:     log,
		resultC: make(chan dialOutcome, 64),
		pending: make(map[string]context.CancelFunc),
		history: h,
	}
}

// Queue starts dialing addr unless a dial to it is already in flight.
// Returns true iff a new dial was started (the caller is responsible for
// incrementing task_count exactly when this returns true).
func (d *dialScheduler) Queue(addr net.Addr) bool {
	key := addr.String()
	if _, inFlight := d.pending[key]; inFlight {
		d.log.Trace("Dial already in flight, dropping duplicate", "addr", key)
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.pending[key] = cancel
	attempt := uuid.NewString()
	if last, ok := d.history.Get(key); ok {
		d.log.Trace("Re-dialing address", "addr", key, "attempt", attempt, "since_last", time.Since(last.(time.Time)))
	}
	d.log.Debug("Starting dial", "addr", key, "attempt", attempt)

	go func() {
		conn, err := d.dialer.Dial(ctx, addr)
		d.log.Trace("Dial attempt resolved", "addr", key, "attempt", attempt)
		select {
		case d.resultC <- dialOutcome{addr: addr, conn: conn, err: err}:
		case <-ctx.Done():
		}
	}()
	return true
}

// InFlight reports whether addr currently has a pending dial.
func (d *dialScheduler) InFlight(addr net.Addr) bool {
	_, ok := d.pending[addr.String()]
	return ok
}

// complete records that res has been handed to the event loop: it leaves
// the in-flight set and enters the diagnostic history.
func (d *dialScheduler) complete(res dialOutcome) {
	delete(d.pending, res.addr.String())
	d.history.Add(res.addr.String(), time.Now())
	d.doneSinceLog++
	d.logStats()
}

func (d *dialScheduler) logStats() {
	now := time.Now()
	if d.lastStatsLog.Add(dialStatsLogInterval).After(now) {
		return
	}
	if d.doneSinceLog > 0 {
		d.log.Info("Dial activity", "completed", d.doneSinceLog, "pending", len(d.pending))
	}
	d.doneSinceLog = 0
	d.lastStatsLog = now
}

// stop cancels every in-flight dial. Completed-but-undelivered results are
// abandoned; the Service is shutting down.
func (d *dialScheduler) stop() {
	for _, cancel := range d.pending {
		cancel()
	}
}

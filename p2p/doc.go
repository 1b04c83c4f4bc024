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

// Package p2p implements a peer-to-peer networking runtime: a Service that
// owns dialed and listened TCP endpoints, authenticates raw connections
// through a pluggable handshake, multiplexes the result into a Session
// carrying named Protocols, and routes protocol lifecycle events to global
// and per-session handlers.
//
// The Service event loop is single-threaded and cooperative: every mutation
// of Service state happens on the loop goroutine, driven by polling dialers
// and listeners and draining two channels, session_events and
// service_tasks. Handlers never call back into the Service directly; they
// enqueue intents onto service_tasks through a ServiceContext, which the
// loop applies on its next drain.
package p2p

// Package muxsession implements p2p.Session on top of
// github.com/libp2p/go-yamux/v3: one multiplexed yamux.Session per
// authenticated connection, with named-protocol substreams negotiated by
// a small length-prefixed header exchanged at stream-open time.
package muxsession

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	yamux "github.com/libp2p/go-yamux/v3"

	"github.com/nodenet/p2p/p2p"
)

const maxNegotiationFieldLen = 255

// New returns a p2p.SessionFactory backed by yamux, suitable for
// ServiceConfig.NewSession.
func New() p2p.SessionFactory {
	return func(stream io.ReadWriteCloser, events chan<- p2p.SessionEvent, commands <-chan p2p.SessionCommand, meta p2p.SessionMeta) p2p.Session {
		return &session{
			raw:      stream,
			events:   events,
			commands: commands,
			meta:     meta,
			byName:   indexByName(meta.Protocols),
			streams:  make(map[p2p.ProtocolID]*openStream),
		}
	}
}

func indexByName(metas []p2p.ProtocolMeta) map[string]p2p.ProtocolMeta {
	m := make(map[string]p2p.ProtocolMeta, len(metas))
	for _, pm := range metas {
		m[pm.Name] = pm
	}
	return m
}

type openStream struct {
	id     p2p.ProtocolID
	stream *yamux.Stream
}

type closedStream struct {
	id  p2p.ProtocolID
	err error
}

type session struct {
	raw      io.ReadWriteCloser
	events   chan<- p2p.SessionEvent
	commands <-chan p2p.SessionCommand
	meta     p2p.SessionMeta

	byName map[string]p2p.ProtocolMeta

	mu      sync.Mutex
	streams map[p2p.ProtocolID]*openStream

	mux *yamux.Session
}

var _ p2p.Session = (*session)(nil)

func (s *session) Run() {
	cfg := yamux.DefaultConfig()
	var mux *yamux.Session
	var err error
	if s.meta.Direction == p2p.Outbound {
		mux, err = yamux.Client(s.raw, cfg)
	} else {
		mux, err = yamux.Server(s.raw, cfg)
	}
	if err != nil {
		s.emitClose()
		return
	}
	s.mux = mux
	defer mux.Close()

	acceptedC := make(chan *yamux.Stream, 8)
	go s.acceptLoop(acceptedC)

	closedC := make(chan closedStream, 8)

	if s.meta.Direction == p2p.Outbound {
		for _, pm := range s.meta.Protocols {
			s.openOutboundStream(pm, closedC)
		}
	}

	for {
		select {
		case str, ok := <-acceptedC:
			if !ok {
				s.emitClose()
				return
			}
			s.handleInboundStream(str, closedC)

		case cs := <-closedC:
			s.mu.Lock()
			delete(s.streams, cs.id)
			s.mu.Unlock()
			s.events <- p2p.ProtocolClose{SessionID: s.meta.SessionID, ProtoID: cs.id}

		case cmd, ok := <-s.commands:
			if !ok {
				s.emitClose()
				return
			}
			if s.handleCommand(cmd, closedC) {
				s.emitClose()
				return
			}

		case <-mux.CloseChan():
			s.emitClose()
			return
		}
	}
}

func (s *session) emitClose() {
	s.events <- p2p.SessionClose{SessionID: s.meta.SessionID}
}

func (s *session) acceptLoop(out chan<- *yamux.Stream) {
	defer close(out)
	for {
		str, err := s.mux.AcceptStream()
		if err != nil {
			return
		}
		out <- str
	}
}

func (s *session) handleCommand(cmd p2p.SessionCommand, closedC chan<- closedStream) bool {
	switch c := cmd.(type) {
	case p2p.OpenProtocolCmd:
		if pm, ok := s.byName[c.Name]; ok {
			s.openOutboundStream(pm, closedC)
		}
		return false
	case p2p.SendMessageCmd:
		s.send(c.ProtoID, c.Data)
		return false
	case p2p.CloseSessionCmd:
		return true
	default:
		return false
	}
}

func (s *session) send(pid p2p.ProtocolID, data []byte) {
	s.mu.Lock()
	os, ok := s.streams[pid]
	s.mu.Unlock()
	if !ok {
		return
	}
	meta, ok := s.byName[nameFor(s.meta.Protocols, pid)]
	if !ok {
		return
	}
	batch := data
	if meta.Codec != nil {
		encoded, err := meta.Codec.Encode([][]byte{data})
		if err != nil {
			return
		}
		batch = encoded
	}
	writeFrame(os.stream, batch)
}

func nameFor(metas []p2p.ProtocolMeta, id p2p.ProtocolID) string {
	for _, m := range metas {
		if m.ID == id {
			return m.Name
		}
	}
	return ""
}

func (s *session) openOutboundStream(pm p2p.ProtocolMeta, closedC chan<- closedStream) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	str, err := s.mux.OpenStream(ctx)
	if err != nil {
		return
	}
	version := preferredVersion(pm)
	if err := writeNegotiation(str, pm.Name, version); err != nil {
		str.Close()
		return
	}
	s.admitStream(pm, str, version, closedC)
}

func (s *session) handleInboundStream(str *yamux.Stream, closedC chan<- closedStream) {
	name, version, err := readNegotiation(str)
	if err != nil {
		str.Close()
		return
	}
	pm, ok := s.byName[name]
	if !ok {
		str.Close()
		return
	}
	s.admitStream(pm, str, version, closedC)
}

func preferredVersion(pm p2p.ProtocolMeta) string {
	if len(pm.SupportedVersions) == 0 {
		return ""
	}
	return pm.SupportedVersions[0]
}

func (s *session) admitStream(pm p2p.ProtocolMeta, str *yamux.Stream, version string, closedC chan<- closedStream) {
	s.mu.Lock()
	s.streams[pm.ID] = &openStream{id: pm.ID, stream: str}
	s.mu.Unlock()

	s.events <- p2p.ProtocolOpen{
		SessionID: s.meta.SessionID,
		ProtoID:   pm.ID,
		Version:   version,
		Addr:      s.meta.Addr,
		Direction: s.meta.Direction,
		PublicKey: s.meta.PublicKey,
	}

	go s.readLoop(pm, str, closedC)
}

func (s *session) readLoop(pm p2p.ProtocolMeta, str *yamux.Stream, closedC chan<- closedStream) {
	for {
		frame, err := readFrame(str)
		if err != nil {
			closedC <- closedStream{id: pm.ID, err: err}
			return
		}
		msgs := [][]byte{frame}
		if pm.Codec != nil {
			decoded, err := pm.Codec.Decode(frame)
			if err != nil {
				continue
			}
			msgs = decoded
		}
		for _, m := range msgs {
			s.events <- p2p.ProtocolMessage{SessionID: s.meta.SessionID, ProtoID: pm.ID, Data: m}
		}
	}
}

// writeNegotiation sends the one-shot substream header: protocol name
// then requested version, each length-prefixed with a single byte.
func writeNegotiation(w io.Writer, name, version string) error {
	if len(name) > maxNegotiationFieldLen || len(version) > maxNegotiationFieldLen {
		return fmt.Errorf("muxsession: negotiation field too long")
	}
	buf := make([]byte, 0, 2+len(name)+len(version))
	buf = append(buf, byte(len(name)))
	buf = append(buf, name...)
	buf = append(buf, byte(len(version)))
	buf = append(buf, version...)
	_, err := w.Write(buf)
	return err
}

func readNegotiation(r io.Reader) (name, version string, err error) {
	name, err = readByteField(r)
	if err != nil {
		return "", "", err
	}
	version, err = readByteField(r)
	if err != nil {
		return "", "", err
	}
	return name, version, nil
}

func readByteField(r io.Reader) (string, error) {
	var l [1]byte
	if _, err := io.ReadFull(r, l[:]); err != nil {
		return "", err
	}
	buf := make([]byte, l[0])
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeFrame(w io.Writer, data []byte) error {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(data)))
	if _, err := w.Write(l[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var l [4]byte
	if _, err := io.ReadFull(r, l[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(l[:])
	if n > 16<<20 {
		return nil, fmt.Errorf("muxsession: oversized frame %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

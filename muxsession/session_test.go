package muxsession

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodenet/p2p/codec"
	"github.com/nodenet/p2p/p2p"
)

func TestWriteReadNegotiationRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeNegotiation(&buf, "ping", "1.0.0"))

	name, version, err := readNegotiation(&buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", name)
	assert.Equal(t, "1.0.0", version)
}

func TestWriteNegotiationRejectsOversizedField(t *testing.T) {
	var buf bytes.Buffer
	long := make([]byte, maxNegotiationFieldLen+1)
	err := writeNegotiation(&buf, string(long), "1.0.0")
	assert.Error(t, err)
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("a protocol message batch")
	require.NoError(t, writeFrame(&buf, payload))

	got, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadFrameRejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	var l [4]byte
	// claim an absurd length without supplying the bytes
	l[0] = 0xFF
	buf.Write(l[:])
	_, err := readFrame(&buf)
	assert.Error(t, err)
}

func TestPreferredVersion(t *testing.T) {
	assert.Equal(t, "", preferredVersion(p2p.ProtocolMeta{}))
	assert.Equal(t, "1.0.0", preferredVersion(p2p.ProtocolMeta{SupportedVersions: []string{"1.0.0", "2.0.0"}}))
}

func TestNameFor(t *testing.T) {
	metas := []p2p.ProtocolMeta{{ID: 1, Name: "ping"}, {ID: 2, Name: "pong"}}
	assert.Equal(t, "pong", nameFor(metas, 2))
	assert.Equal(t, "", nameFor(metas, 99))
}

func TestSessionOutboundInboundHandshakeAndMessage(t *testing.T) {
	pm := p2p.ProtocolMeta{ID: 1, Name: "ping", SupportedVersions: []string{"1.0.0"}, Codec: codec.Snappy{}}

	rawOut, rawIn := net.Pipe()

	outEvents := make(chan p2p.SessionEvent, 16)
	outCmds := make(chan p2p.SessionCommand, 4)
	inEvents := make(chan p2p.SessionEvent, 16)
	inCmds := make(chan p2p.SessionCommand, 4)

	factory := New()
	out := factory(rawOut, outEvents, outCmds, p2p.SessionMeta{
		SessionID: 1, Direction: p2p.Outbound, Protocols: []p2p.ProtocolMeta{pm},
	})
	in := factory(rawIn, inEvents, inCmds, p2p.SessionMeta{
		SessionID: 2, Direction: p2p.Inbound, Protocols: []p2p.ProtocolMeta{pm},
	})

	go out.Run()
	go in.Run()

	outOpen := waitForProtocolOpen(t, outEvents)
	inOpen := waitForProtocolOpen(t, inEvents)
	assert.Equal(t, p2p.ProtocolID(1), outOpen.ProtoID)
	assert.Equal(t, p2p.ProtocolID(1), inOpen.ProtoID)

	outCmds <- p2p.SendMessageCmd{ProtoID: 1, Data: []byte("ping")}

	msg := waitForProtocolMessage(t, inEvents)
	assert.Equal(t, []byte("ping"), msg.Data)

	outCmds <- p2p.CloseSessionCmd{}
	inCmds <- p2p.CloseSessionCmd{}
	waitForSessionClose(t, outEvents)
	waitForSessionClose(t, inEvents)
}

func waitForProtocolOpen(t *testing.T, events <-chan p2p.SessionEvent) p2p.ProtocolOpen {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if po, ok := ev.(p2p.ProtocolOpen); ok {
				return po
			}
		case <-deadline:
			t.Fatal("timed out waiting for ProtocolOpen")
		}
	}
}

func waitForProtocolMessage(t *testing.T, events <-chan p2p.SessionEvent) p2p.ProtocolMessage {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if pm, ok := ev.(p2p.ProtocolMessage); ok {
				return pm
			}
		case <-deadline:
			t.Fatal("timed out waiting for ProtocolMessage")
		}
	}
}

func waitForSessionClose(t *testing.T, events <-chan p2p.SessionEvent) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if _, ok := ev.(p2p.SessionClose); ok {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for SessionClose")
		}
	}
}

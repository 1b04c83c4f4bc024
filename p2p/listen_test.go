package p2p

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodenet/p2p/p2plog"
)

func TestIsListenerClosed(t *testing.T) {
	assert.True(t, isListenerClosed(net.ErrClosed))
	assert.True(t, isListenerClosed(fmt.Errorf("accept: %w", net.ErrClosed)))
	assert.False(t, isListenerClosed(errors.New("some other accept error")))
}

func TestListenerSetAddHasRemove(t *testing.T) {
	s := newListenerSet(p2plog.Discard)
	assert.True(t, s.empty())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s.add(ln)
	assert.False(t, s.empty())
	assert.True(t, s.has(ln.Addr().String()))
	assert.Len(t, s.addrs(), 1)

	bl := s.listeners[ln.Addr().String()]
	s.remove(bl)
	assert.True(t, s.empty())
	assert.False(t, s.has(ln.Addr().String()))
}

func TestListenerSetAcceptsAndForwardsConnections(t *testing.T) {
	s := newListenerSet(p2plog.Discard)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s.add(ln)
	defer s.closeAll()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	ev := <-s.acceptC
	require.NotNil(t, ev.conn)
	require.NoError(t, ev.err)
	ev.conn.Close()
}

func TestListenerSetCloseAllEmitsExhaustion(t *testing.T) {
	s := newListenerSet(p2plog.Discard)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s.add(ln)

	s.closeAll()
	assert.True(t, s.empty())

	ev := <-s.acceptC
	assert.True(t, ev.done)
}

package secio

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodenet/p2p/p2p"
)

func TestHandshakeRoundTrip(t *testing.T) {
	aKey, err := NewKeypair()
	require.NoError(t, err)
	bKey, err := NewKeypair()
	require.NoError(t, err)

	a := &Handshaker{Static: aKey, ClientVersion: "nodea/1.0"}
	b := &Handshaker{Static: bKey, ClientVersion: "nodeb/1.0"}

	connA, connB := net.Pipe()

	type out struct {
		stream  interface{ Read([]byte) (int, error); Write([]byte) (int, error); Close() error }
		pub     p2p.PublicKey
		version string
		err     error
	}
	resA := make(chan out, 1)
	resB := make(chan out, 1)

	go func() {
		s, pub, v, err := a.Handshake(context.Background(), connA, p2p.Outbound)
		resA <- out{s, pub, v, err}
	}()
	go func() {
		s, pub, v, err := b.Handshake(context.Background(), connB, p2p.Inbound)
		resB <- out{s, pub, v, err}
	}()

	oa := <-resA
	ob := <-resB
	require.NoError(t, oa.err)
	require.NoError(t, ob.err)

	assert.Equal(t, aKey.PublicKey(), ob.pub)
	assert.Equal(t, bKey.PublicKey(), oa.pub)
	assert.Equal(t, "nodeb/1.0", oa.version)
	assert.Equal(t, "nodea/1.0", ob.version)

	msg := []byte("hello over the authenticated channel")
	done := make(chan struct{})
	go func() {
		_, werr := oa.stream.Write(msg)
		assert.NoError(t, werr)
		close(done)
	}()

	buf := make([]byte, len(msg))
	_, err = readFull(ob.stream, buf)
	require.NoError(t, err)
	assert.Equal(t, msg, buf)
	<-done
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestHandshakeContextTimeout(t *testing.T) {
	aKey, err := NewKeypair()
	require.NoError(t, err)
	a := &Handshaker{Static: aKey}

	connA, connB := net.Pipe()
	defer connB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, _, err = a.Handshake(ctx, connA, p2p.Outbound)
	assert.Error(t, err)
}

func TestLessBytes(t *testing.T) {
	assert.True(t, lessBytes([]byte{1, 2}, []byte{1, 3}))
	assert.False(t, lessBytes([]byte{1, 3}, []byte{1, 2}))
	assert.True(t, lessBytes([]byte{1}, []byte{1, 0}))
	assert.False(t, lessBytes([]byte{1, 0}, []byte{1}))
}

func TestDeriveKeysSymmetric(t *testing.T) {
	shared := []byte("32-byte-shared-secret-material!!")
	staticA := []byte{1, 2, 3}
	staticB := []byte{4, 5, 6}

	aRead, aWrite, err := deriveKeys(shared, staticA, staticB, true)
	require.NoError(t, err)
	bRead, bWrite, err := deriveKeys(shared, staticA, staticB, false)
	require.NoError(t, err)

	assert.Equal(t, aWrite, bRead, "what A writes with, B must read with")
	assert.Equal(t, bWrite, aRead, "what B writes with, A must read with")
}

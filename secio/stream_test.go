package secio

import (
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/chacha20poly1305"
)

func TestAEADStreamRoundTrip(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	keyAtoB := make([]byte, chacha20poly1305.KeySize)
	keyBtoA := make([]byte, chacha20poly1305.KeySize)
	for i := range keyAtoB {
		keyAtoB[i] = byte(i)
		keyBtoA[i] = byte(255 - i)
	}

	a, err := newAEADStream(connA, keyBtoA, keyAtoB)
	require.NoError(t, err)
	b, err := newAEADStream(connB, keyAtoB, keyBtoA)
	require.NoError(t, err)

	msg := []byte("authenticated frame payload")
	writeErr := make(chan error, 1)
	go func() {
		_, werr := a.Write(msg)
		writeErr <- werr
	}()

	buf := make([]byte, len(msg))
	_, err = io.ReadFull(b, buf)
	require.NoError(t, err)
	assert.Equal(t, msg, buf)
	assert.NoError(t, <-writeErr)
}

func TestAEADStreamRejectsBadKeySize(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	_, err := newAEADStream(connA, []byte("too-short"), make([]byte, chacha20poly1305.KeySize))
	assert.Error(t, err)
}

func TestAEADStreamRejectsTamperedFrame(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	key := make([]byte, chacha20poly1305.KeySize)
	other := make([]byte, chacha20poly1305.KeySize)
	for i := range other {
		other[i] = 1
	}

	a, err := newAEADStream(connA, key, key)
	require.NoError(t, err)
	// b uses a different read key than a's write key, simulating a
	// mismatched or forged frame.
	b, err := newAEADStream(connB, other, key)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		a.Write([]byte("payload"))
		close(done)
	}()

	buf := make([]byte, 7)
	_, err = io.ReadFull(b, buf)
	assert.Error(t, err)
	<-done
}

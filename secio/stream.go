package secio

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

const maxFrameSize = 1 << 20 // 1 MiB cleartext per AEAD frame

// aeadStream wraps a raw connection in length-prefixed, ChaCha20-Poly1305
// sealed frames. Each direction keeps its own monotonically incrementing
// nonce counter; counters never reset for the stream's lifetime, which is
// safe because a fresh key pair is negotiated on every handshake.
type aeadStream struct {
	raw io.ReadWriteCloser

	readMu   sync.Mutex
	readAEAD func([]byte, []byte, []byte) ([]byte, error)
	readKey  []byte
	readSeq  uint64
	readBuf  []byte // leftover plaintext from a previously decrypted frame

	writeMu  sync.Mutex
	writeKey []byte
	writeSeq uint64
}

func newAEADStream(raw io.ReadWriteCloser, readKey, writeKey []byte) (*aeadStream, error) {
	if len(readKey) != chacha20poly1305.KeySize || len(writeKey) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("secio: bad key size")
	}
	return &aeadStream{raw: raw, readKey: readKey, writeKey: writeKey}, nil
}

func nonceFor(seq uint64) []byte {
	n := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint64(n[chacha20poly1305.NonceSize-8:], seq)
	return n
}

func (s *aeadStream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	aead, err := chacha20poly1305.New(s.writeKey)
	if err != nil {
		return 0, err
	}
	total := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > maxFrameSize {
			chunk = chunk[:maxFrameSize]
		}
		sealed := aead.Seal(nil, nonceFor(s.writeSeq), chunk, nil)
		s.writeSeq++

		var lenPrefix [4]byte
		binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(sealed)))
		if _, err := s.raw.Write(lenPrefix[:]); err != nil {
			return total, err
		}
		if _, err := s.raw.Write(sealed); err != nil {
			return total, err
		}
		total += len(chunk)
		p = p[len(chunk):]
	}
	return total, nil
}

func (s *aeadStream) Read(p []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if len(s.readBuf) == 0 {
		if err := s.readFrame(); err != nil {
			return 0, err
		}
	}
	n := copy(p, s.readBuf)
	s.readBuf = s.readBuf[n:]
	return n, nil
}

func (s *aeadStream) readFrame() error {
	if s.readAEAD == nil {
		aead, err := chacha20poly1305.New(s.readKey)
		if err != nil {
			return err
		}
		s.readAEAD = func(nonce, ciphertext, additional []byte) ([]byte, error) {
			return aead.Open(nil, nonce, ciphertext, additional)
		}
	}

	var lenPrefix [4]byte
	if _, err := io.ReadFull(s.raw, lenPrefix[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > maxFrameSize+chacha20poly1305.Overhead {
		return fmt.Errorf("secio: oversized frame %d", n)
	}
	sealed := make([]byte, n)
	if _, err := io.ReadFull(s.raw, sealed); err != nil {
		return err
	}
	plain, err := s.readAEAD(nonceFor(s.readSeq), sealed, nil)
	if err != nil {
		return fmt.Errorf("secio: frame auth failed: %w", err)
	}
	s.readSeq++
	s.readBuf = plain
	return nil
}

func (s *aeadStream) Close() error {
	return s.raw.Close()
}

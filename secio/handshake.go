// Package secio implements the authenticated handshake collaborator: an
// ephemeral-ECDH key agreement over secp256k1 (github.com/btcsuite/btcd/btcec/v2),
// HKDF-SHA256 key derivation (golang.org/x/crypto/hkdf) and a
// ChaCha20-Poly1305 AEAD record layer (golang.org/x/crypto/chacha20poly1305)
// for the resulting authenticated stream.
package secio

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/nodenet/p2p/p2p"
)

const maxClientVersionLen = 256

// Keypair is a long-lived secp256k1 identity key. PublicKey() is what the
// Service surfaces as p2p.PublicKey after a successful handshake.
type Keypair struct {
	priv *btcec.PrivateKey
}

// NewKeypair generates a fresh random identity key.
func NewKeypair() (*Keypair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return &Keypair{priv: priv}, nil
}

// PublicKey returns the compressed SEC1 public key, 33 bytes.
func (k *Keypair) PublicKey() p2p.PublicKey {
	return p2p.PublicKey(k.priv.PubKey().SerializeCompressed())
}

// Handshaker implements p2p.Handshaker using ephemeral ECDH + AEAD
// framing. Static identifies the local node; ClientVersion is exchanged
// during the handshake and surfaces as HandshakeSuccess.ClientVersion,
// which the Service logs when the session opens. It is not carried on
// SessionMeta.
type Handshaker struct {
	Static        *Keypair
	ClientVersion string
}

var _ p2p.Handshaker = (*Handshaker)(nil)

// Handshake performs the ephemeral ECDH exchange and returns an
// authenticated, encrypted stream plus the peer's static public key.
func (h *Handshaker) Handshake(ctx context.Context, stream io.ReadWriteCloser, dir p2p.Direction) (io.ReadWriteCloser, p2p.PublicKey, string, error) {
	type result struct {
		auth    io.ReadWriteCloser
		pub     p2p.PublicKey
		version string
		err     error
	}
	resC := make(chan result, 1)
	go func() {
		auth, pub, version, err := h.handshakeSync(stream)
		resC <- result{auth, pub, version, err}
	}()
	select {
	case r := <-resC:
		return r.auth, r.pub, r.version, r.err
	case <-ctx.Done():
		stream.Close()
		return nil, nil, "", ctx.Err()
	}
}

func (h *Handshaker) handshakeSync(stream io.ReadWriteCloser) (io.ReadWriteCloser, p2p.PublicKey, string, error) {
	ephPriv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, nil, "", err
	}

	local := hello{
		ephemeral: ephPriv.PubKey().SerializeCompressed(),
		static:    h.Static.PublicKey(),
		version:   h.ClientVersion,
	}
	// Both sides write their hello before reading the peer's, so the write
	// runs concurrently with the read: on an unbuffered transport such as
	// net.Pipe a sequential write-then-read would deadlock.
	writeErrC := make(chan error, 1)
	go func() { writeErrC <- writeHello(stream, local) }()
	remote, err := readHello(stream)
	if err != nil {
		return nil, nil, "", fmt.Errorf("secio: read hello: %w", err)
	}
	if err := <-writeErrC; err != nil {
		return nil, nil, "", fmt.Errorf("secio: write hello: %w", err)
	}

	remoteEphPub, err := btcec.ParsePubKey(remote.ephemeral)
	if err != nil {
		return nil, nil, "", fmt.Errorf("secio: bad remote ephemeral key: %w", err)
	}

	shared := ecdh(ephPriv, remoteEphPub)

	// Deterministic role assignment for directional key split: the peer
	// with the numerically smaller static key is "initiator" for HKDF
	// labeling purposes. This needs no prior coordination because both
	// sides compute it from the same two public keys.
	initiator := lessBytes(h.Static.PublicKey(), remote.static)

	staticA, staticB := []byte(h.Static.PublicKey()), remote.static
	if !initiator {
		staticA, staticB = staticB, staticA
	}
	readKey, writeKey, err := deriveKeys(shared, staticA, staticB, initiator)
	if err != nil {
		return nil, nil, "", err
	}

	aead, err := newAEADStream(stream, readKey, writeKey)
	if err != nil {
		return nil, nil, "", err
	}
	return aead, p2p.PublicKey(remote.static), remote.version, nil
}

func lessBytes(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func ecdh(priv *btcec.PrivateKey, pub *btcec.PublicKey) []byte {
	var point btcec.JacobianPoint
	pub.AsJacobian(&point)
	var result btcec.JacobianPoint
	btcec.ScalarMultNonConst(&priv.Key, &point, &result)
	result.ToAffine()
	x := result.X.Bytes()
	return x[:]
}

// deriveKeys splits HKDF output into two directional keys, keyAtoB and
// keyBtoA, where A is whichever side has the lexicographically smaller
// static key. The initiator (A) writes with keyAtoB and reads with
// keyBtoA; the other side (B) does the opposite, so both ends agree on
// the same pair of keys without extra coordination.
func deriveKeys(shared, staticA, staticB []byte, initiator bool) (readKey, writeKey []byte, err error) {
	salt := sha256.Sum256(append(append([]byte{}, staticA...), staticB...))
	r := hkdf.New(sha256.New, shared, salt[:], []byte("p2p-handshake-v1"))
	both := make([]byte, 2*chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, both); err != nil {
		return nil, nil, err
	}
	keyAtoB, keyBtoA := both[:chacha20poly1305.KeySize], both[chacha20poly1305.KeySize:]
	if initiator {
		return keyBtoA, keyAtoB, nil
	}
	return keyAtoB, keyBtoA, nil
}

// hello is the single cleartext message exchanged before encryption
// begins.
type hello struct {
	ephemeral []byte
	static    []byte
	version   string
}

func writeHello(w io.Writer, h hello) error {
	if len(h.version) > maxClientVersionLen {
		return errors.New("secio: client version too long")
	}
	buf := make([]byte, 0, 2+len(h.ephemeral)+2+len(h.static)+2+len(h.version))
	buf = appendLenPrefixed(buf, h.ephemeral)
	buf = appendLenPrefixed(buf, h.static)
	buf = appendLenPrefixed(buf, []byte(h.version))
	_, err := w.Write(buf)
	return err
}

func readHello(r io.Reader) (hello, error) {
	eph, err := readLenPrefixed(r)
	if err != nil {
		return hello{}, err
	}
	static, err := readLenPrefixed(r)
	if err != nil {
		return hello{}, err
	}
	version, err := readLenPrefixed(r)
	if err != nil {
		return hello{}, err
	}
	return hello{ephemeral: eph, static: static, version: string(version)}, nil
}

func appendLenPrefixed(buf, data []byte) []byte {
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(data)))
	buf = append(buf, l[:]...)
	return append(buf, data...)
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	var l [2]byte
	if _, err := io.ReadFull(r, l[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(l[:])
	if n > 4096 {
		return nil, errors.New("secio: oversized length-prefixed field")
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

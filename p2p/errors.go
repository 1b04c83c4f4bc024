package p2p

import "errors"

// Synchronous construction/dial errors, returned directly to the caller.
var (
	errAlreadyListening = errors.New("p2p: already listening on this address")
	errAlreadyDialing   = errors.New("p2p: already dialing this address")
	errServiceStopped   = errors.New("p2p: service is not running")
	errNoCrypto         = errors.New("p2p: no keypair configured")
)

// Handshake failure reasons, carried inside HandshakeFail.
var (
	errHandshakeTimeout = errors.New("p2p: handshake timed out")
	errHandshakeClosed  = errors.New("p2p: stream closed during handshake")
)

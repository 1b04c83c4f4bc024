// Package codec implements p2p.Codec using Snappy block compression
// (github.com/golang/snappy), the same compression library go-ethereum
// uses for its devp2p wire protocol.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/golang/snappy"

	"github.com/nodenet/p2p/p2p"
)

const maxMessagesPerBatch = 1 << 16

// Snappy frames multiple application messages into one substream batch:
// a varint count, then each message as a length-prefixed Snappy block.
type Snappy struct{}

var _ p2p.Codec = Snappy{}

func (Snappy) Encode(msgs [][]byte) ([]byte, error) {
	if len(msgs) > maxMessagesPerBatch {
		return nil, fmt.Errorf("codec: too many messages in one batch: %d", len(msgs))
	}
	var out []byte
	var countBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(countBuf[:], uint64(len(msgs)))
	out = append(out, countBuf[:n]...)

	for _, m := range msgs {
		compressed := snappy.Encode(nil, m)
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(compressed)))
		out = append(out, lenBuf[:]...)
		out = append(out, compressed...)
	}
	return out, nil
}

func (Snappy) Decode(batch []byte) ([][]byte, error) {
	count, n := binary.Uvarint(batch)
	if n <= 0 {
		return nil, fmt.Errorf("codec: malformed batch header")
	}
	if count > maxMessagesPerBatch {
		return nil, fmt.Errorf("codec: batch claims too many messages: %d", count)
	}
	rest := batch[n:]
	msgs := make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		if len(rest) < 4 {
			return nil, fmt.Errorf("codec: truncated batch")
		}
		l := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint64(len(rest)) < uint64(l) {
			return nil, fmt.Errorf("codec: truncated message")
		}
		compressed := rest[:l]
		rest = rest[l:]
		decoded, err := snappy.Decode(nil, compressed)
		if err != nil {
			return nil, fmt.Errorf("codec: snappy decode: %w", err)
		}
		if decoded == nil {
			decoded = []byte{}
		}
		msgs = append(msgs, decoded)
	}
	return msgs, nil
}

package frame

import (
	"errors"
	"fmt"

	"github.com/cfoust/framesync/pkg/huffman"
)

const (
	envelopeRaw     byte = 0
	envelopeHuffman byte = 1
)

var ErrEmptyPacket = errors.New("empty packet")

// Seal wraps a frame body for transport, compressing it with the process
// coder if asked to. Compression is skipped when it would not save space.
func Seal(body []byte, compress bool) ([]byte, error) {
	if compress {
		encoded, err := huffman.Encode(body)
		if err != nil {
			return nil, err
		}

		if len(encoded) < len(body) {
			return append([]byte{envelopeHuffman}, encoded...), nil
		}
	}

	return append([]byte{envelopeRaw}, body...), nil
}

// Open returns the frame body inside a packet.
func Open(packet []byte) ([]byte, error) {
	if len(packet) == 0 {
		return nil, ErrEmptyPacket
	}

	switch packet[0] {
	case envelopeRaw:
		return packet[1:], nil
	case envelopeHuffman:
		return huffman.Decode(packet[1:])
	}

	return nil, fmt.Errorf("unknown packet envelope %d", packet[0])
}

// Package protocol implements the binary wire format spoken over the
// WebSocket transports. Every message is one binary frame starting with a
// little-endian uint16 tag; floats are little-endian IEEE-754.
package protocol

import (
	"encoding/binary"
	"fmt"
)

// Client -> server tags.
const (
	ClientUpdatePosition uint16 = 0
)

// Server -> client tags.
const (
	ServerSetPosition uint16 = 0
	ServerSetChunk    uint16 = 1
	// ServerSetChunkZstd carries the same chunk payload as ServerSetChunk,
	// zstd-compressed after the chunk location.
	ServerSetChunkZstd uint16 = 2
)

// SplitTag peels the message tag off a frame.
func SplitTag(frame []byte) (uint16, []byte, error) {
	if len(frame) < 2 {
		return 0, nil, fmt.Errorf("frame too short: %d bytes", len(frame))
	}
	return binary.LittleEndian.Uint16(frame), frame[2:], nil
}

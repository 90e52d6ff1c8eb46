package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/klauspost/compress/zstd"
)

// UpdatePosition (client -> server): the coalesced player state.
type UpdatePosition struct {
	Pos        mgl32.Vec3
	Yaw        float32
	Pitch      float32
	ViewRadius uint8
}

func EncodeUpdatePosition(m UpdatePosition) []byte {
	buf := make([]byte, 0, 2+5*4+1)
	buf = binary.LittleEndian.AppendUint16(buf, ClientUpdatePosition)
	for _, f := range []float32{m.Pos.X(), m.Pos.Y(), m.Pos.Z(), m.Yaw, m.Pitch} {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return append(buf, m.ViewRadius)
}

func DecodeUpdatePosition(body []byte) (UpdatePosition, error) {
	var m UpdatePosition
	if len(body) != 5*4+1 {
		return m, fmt.Errorf("UPDATE_POSITION body: %d bytes", len(body))
	}
	fs := make([]float32, 5)
	for i := range fs {
		fs[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[i*4:]))
	}
	m.Pos = mgl32.Vec3{fs[0], fs[1], fs[2]}
	m.Yaw, m.Pitch = fs[3], fs[4]
	m.ViewRadius = body[20]
	return m, nil
}

// SetPosition (server -> client): forces a client position reset.
func EncodeSetPosition(pos mgl32.Vec3) []byte {
	buf := make([]byte, 0, 2+3*4)
	buf = binary.LittleEndian.AppendUint16(buf, ServerSetPosition)
	for i := 0; i < 3; i++ {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(pos[i]))
	}
	return buf
}

func DecodeSetPosition(body []byte) (mgl32.Vec3, error) {
	var pos mgl32.Vec3
	if len(body) != 3*4 {
		return pos, fmt.Errorf("SET_POSITION body: %d bytes", len(body))
	}
	for i := 0; i < 3; i++ {
		pos[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[i*4:]))
	}
	return pos, nil
}

var (
	zstdEnc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDec, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(64<<20))
)

// EncodeSetChunk frames a chunk push: location followed by the chunk
// payload (type table + voxels). Payloads of at least compressThreshold
// bytes go out as SET_CHUNK_ZSTD; a threshold <= 0 disables compression.
func EncodeSetChunk(x, y, z int32, payload []byte, compressThreshold int) []byte {
	tag := ServerSetChunk
	body := payload
	if compressThreshold > 0 && len(payload) >= compressThreshold {
		tag = ServerSetChunkZstd
		body = zstdEnc.EncodeAll(payload, nil)
	}
	buf := make([]byte, 0, 2+3*4+len(body))
	buf = binary.LittleEndian.AppendUint16(buf, tag)
	for _, v := range []int32{x, y, z} {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(v))
	}
	return append(buf, body...)
}

// DecodeSetChunk unpacks either chunk tag, decompressing as needed.
func DecodeSetChunk(tag uint16, body []byte) (x, y, z int32, payload []byte, err error) {
	if len(body) < 3*4 {
		return 0, 0, 0, nil, fmt.Errorf("SET_CHUNK body: %d bytes", len(body))
	}
	x = int32(binary.LittleEndian.Uint32(body[0:]))
	y = int32(binary.LittleEndian.Uint32(body[4:]))
	z = int32(binary.LittleEndian.Uint32(body[8:]))
	payload = body[12:]
	if tag == ServerSetChunkZstd {
		payload, err = zstdDec.DecodeAll(payload, nil)
		if err != nil {
			return 0, 0, 0, nil, fmt.Errorf("SET_CHUNK zstd: %w", err)
		}
	}
	return x, y, z, payload, nil
}

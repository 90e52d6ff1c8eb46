package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tuning holds the operational knobs read from tuning.yaml. Chunk geometry
// is compile-time; everything pacing- or policy-shaped lives here.
type Tuning struct {
	MinViewRadius int `yaml:"min_view_radius"`
	MaxViewRadius int `yaml:"max_view_radius"`

	// MaxMoveDelta is the per-axis movement allowed in one position update
	// before the server resets the client.
	MaxMoveDelta float64 `yaml:"max_move_delta"`

	// ChunkCompressThreshold switches SET_CHUNK payloads of at least this
	// many bytes to the zstd tag. 0 disables compression.
	ChunkCompressThreshold int `yaml:"chunk_compress_threshold"`

	// Per-client queue depths: pending chunk pushes and outgoing frames.
	ChunkSendQueue  int `yaml:"chunk_send_queue"`
	ClientSendQueue int `yaml:"client_send_queue"`

	// ClientFlushMs is loaded and validated but not read anywhere; cmd/client
	// paces its coalesced position updates with its own -tick flag.
	ClientFlushMs int `yaml:"client_flush_ms"`

	// SlowUpdateMs paces the server's per-chunk slow-update sweep.
	SlowUpdateMs int `yaml:"slow_update_ms"`
}

func Defaults() Tuning {
	return Tuning{
		MinViewRadius:          3,
		MaxViewRadius:          12,
		MaxMoveDelta:           0.2,
		ChunkCompressThreshold: 4096,
		ChunkSendQueue:         256,
		ClientSendQueue:        64,
		ClientFlushMs:          50,
		SlowUpdateMs:           250,
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.MinViewRadius < 1 {
		return fmt.Errorf("min_view_radius must be >= 1")
	}
	if t.MaxViewRadius < t.MinViewRadius {
		return fmt.Errorf("max_view_radius must be >= min_view_radius")
	}
	if t.MaxMoveDelta <= 0 {
		return fmt.Errorf("max_move_delta must be > 0")
	}
	if t.ChunkCompressThreshold < 0 {
		return fmt.Errorf("chunk_compress_threshold must be >= 0")
	}
	if t.ChunkSendQueue < 1 || t.ClientSendQueue < 1 {
		return fmt.Errorf("queue depths must be >= 1")
	}
	if t.ClientFlushMs < 1 || t.SlowUpdateMs < 1 {
		return fmt.Errorf("pacing intervals must be >= 1ms")
	}
	return nil
}

package ws

import (
	"math"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voxelgrid.dev/internal/protocol"
	"voxelgrid.dev/internal/sim/voxel"
	"voxelgrid.dev/internal/sim/world"
)

const writeTimeout = 5 * time.Second

// ClientConn is one connected client: its validated position state, the set
// of chunks already sent, and the paced push pipeline (pending chunk
// locations -> serialized frames -> socket writer).
type ClientConn struct {
	s    *Server
	id   string
	conn *websocket.Conn

	table *voxel.TypeTable

	out     chan []byte
	pending chan world.ChunkPos
	done    chan struct{}
	once    sync.Once

	mu         sync.Mutex
	pos        mgl32.Vec3
	yaw        float32
	pitch      float32
	viewRadius int
	posValid   bool
	loaded     map[world.ChunkPos]struct{}
}

func (s *Server) newClientConn(conn *websocket.Conn, remoteAddr string) *ClientConn {
	return &ClientConn{
		s:       s,
		id:      uuid.NewString(),
		conn:    conn,
		table:   voxel.NewTypeTable(s.reg),
		out:     make(chan []byte, s.tune.ClientSendQueue),
		pending: make(chan world.ChunkPos, s.tune.ChunkSendQueue),
		done:    make(chan struct{}),
		loaded:  map[world.ChunkPos]struct{}{},
	}
}

// run services the connection until the peer goes away or a protocol
// violation closes it. It blocks the handler goroutine.
func (c *ClientConn) run() {
	go c.writeLoop()
	go c.pushLoop()
	defer c.close()

	for {
		kind, frame, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		tag, body, err := protocol.SplitTag(frame)
		if err != nil {
			c.s.log.Printf("client %s: malformed frame: %v", c.id, err)
			return
		}
		switch tag {
		case protocol.ClientUpdatePosition:
			m, err := protocol.DecodeUpdatePosition(body)
			if err != nil {
				c.s.log.Printf("client %s: %v", c.id, err)
				return
			}
			c.updatePosition(m)
		default:
			c.s.log.Printf("client %s: unknown message tag %d", c.id, tag)
			return
		}
	}
}

func (c *ClientConn) close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *ClientConn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				c.s.log.Printf("client %s: write: %v", c.id, err)
				c.close()
				return
			}
		}
	}
}

// updatePosition validates one position update. A per-axis jump of at least
// the tuned delta rejects the move and resets the client to the last
// accepted position; the view radius is clamped to the tuned band.
func (c *ClientConn) updatePosition(m protocol.UpdatePosition) {
	if c.s.Verbose {
		c.s.log.Printf("client %s: updatePosition(x=%g, y=%g, z=%g, yaw=%g, pitch=%g, viewRadius=%d)",
			c.id, m.Pos.X(), m.Pos.Y(), m.Pos.Z(), m.Yaw, m.Pitch, m.ViewRadius)
	}
	radius := int(m.ViewRadius)
	if radius < c.s.tune.MinViewRadius {
		radius = c.s.tune.MinViewRadius
	}
	if radius > c.s.tune.MaxViewRadius {
		radius = c.s.tune.MaxViewRadius
	}

	c.mu.Lock()
	reset := false
	var delta mgl32.Vec3
	if c.posValid {
		delta = m.Pos.Sub(c.pos)
		maxDelta := c.s.tune.MaxMoveDelta
		if math.Abs(float64(delta.X())) >= maxDelta ||
			math.Abs(float64(delta.Y())) >= maxDelta ||
			math.Abs(float64(delta.Z())) >= maxDelta {
			reset = true
		}
	}
	if !reset {
		c.pos = m.Pos
	}
	c.yaw = m.Yaw
	c.pitch = m.Pitch
	c.viewRadius = radius
	c.posValid = true
	pos := c.pos
	c.mu.Unlock()

	if reset {
		c.s.log.Printf("client %s is moving too fast (delta %v); resetting position", c.id, delta)
		if c.s.rec != nil {
			c.s.rec.RecordViolation(c.id, float64(delta.X()), float64(delta.Y()), float64(delta.Z()))
		}
		c.send(protocol.EncodeSetPosition(pos))
	}
	c.sendUnloadedChunks(pos, radius)
}

// sendUnloadedChunks walks the view cube shell by shell, queueing a push for
// every chunk not yet sent to this client. Absent chunks are requested from
// the async generator and reach the client later through the new-chunk
// broadcast.
func (c *ClientConn) sendUnloadedChunks(pos mgl32.Vec3, viewRadius int) {
	x0 := int(math.Round(float64(pos.X()) / world.ChunkSize))
	y0 := int(math.Round(float64(pos.Y()) / world.ChunkSize))
	z0 := int(math.Round(float64(pos.Z()) / world.ChunkSize))
	for r := 0; r < viewRadius; r++ {
		for dz := -r; dz <= r; dz++ {
			for dy := -r; dy <= r; dy++ {
				for dx := -r; dx <= r; dx++ {
					loc := world.ChunkPos{X: x0 + dx, Y: y0 + dy, Z: z0 + dz}
					c.mu.Lock()
					_, seen := c.loaded[loc]
					if !seen {
						c.loaded[loc] = struct{}{}
					}
					c.mu.Unlock()
					if seen {
						continue
					}
					c.enqueueChunk(loc)
				}
			}
		}
	}
}

// chunkArrived re-pushes a dirtied or newly generated chunk if it is inside
// this client's view.
func (c *ClientConn) chunkArrived(pos world.ChunkPos) {
	c.mu.Lock()
	if !c.posValid {
		c.mu.Unlock()
		return
	}
	x0 := int(math.Round(float64(c.pos.X()) / world.ChunkSize))
	y0 := int(math.Round(float64(c.pos.Y()) / world.ChunkSize))
	z0 := int(math.Round(float64(c.pos.Z()) / world.ChunkSize))
	radius := c.viewRadius
	inView := abs(pos.X-x0) < radius && abs(pos.Y-y0) < radius && abs(pos.Z-z0) < radius
	if inView {
		c.loaded[pos] = struct{}{}
	}
	c.mu.Unlock()
	if inView {
		c.enqueueChunk(pos)
	}
}

func (c *ClientConn) addVisible(out map[world.ChunkPos]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.posValid {
		return
	}
	x0 := int(math.Round(float64(c.pos.X()) / world.ChunkSize))
	y0 := int(math.Round(float64(c.pos.Y()) / world.ChunkSize))
	z0 := int(math.Round(float64(c.pos.Z()) / world.ChunkSize))
	r := c.viewRadius - 1
	for dz := -r; dz <= r; dz++ {
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				out[world.ChunkPos{X: x0 + dx, Y: y0 + dy, Z: z0 + dz}] = struct{}{}
			}
		}
	}
}

func (c *ClientConn) enqueueChunk(pos world.ChunkPos) {
	select {
	case c.pending <- pos:
	default:
		// Queue saturated: forget the send so a later update retries it.
		c.mu.Lock()
		delete(c.loaded, pos)
		c.mu.Unlock()
	}
}

// pushLoop serializes queued chunks and hands the frames to the writer.
// Chunks not yet loaded are requested asynchronously and skipped here; the
// broadcast path delivers them once generated.
func (c *ClientConn) pushLoop() {
	for {
		select {
		case <-c.done:
			return
		case pos := <-c.pending:
			ref := c.s.world.Chunk(pos, world.PolicyLoadAsync)
			if !ref.Valid() {
				continue
			}
			payload, err := world.EncodeChunk(&ref, c.table)
			ref.Release()
			if err != nil {
				c.s.log.Printf("client %s: encode chunk %v: %v", c.id, pos, err)
				continue
			}
			frame := protocol.EncodeSetChunk(int32(pos.X), int32(pos.Y), int32(pos.Z), payload, c.s.tune.ChunkCompressThreshold)
			if !c.send(frame) {
				return
			}
			if c.s.Verbose {
				c.s.log.Printf("client %s: sending chunk x=%d,y=%d,z=%d (%d bytes)", c.id, pos.X, pos.Y, pos.Z, len(frame))
			}
			c.s.pushed.Add(1)
			if c.s.rec != nil {
				c.s.rec.RecordChunkPush(c.id)
			}
		}
	}
}

func (c *ClientConn) send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	case c.out <- frame:
		return true
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

package ws

import (
	"log"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"voxelgrid.dev/internal/sim/tuning"
	"voxelgrid.dev/internal/sim/voxel"
	"voxelgrid.dev/internal/sim/world"
)

// SessionRecorder receives connection-lifecycle events for the optional
// runtime index. All methods must be cheap and non-blocking.
type SessionRecorder interface {
	RecordSession(id, remoteAddr string)
	RecordDisconnect(id string)
	RecordViolation(id string, dx, dy, dz float64)
	RecordChunkPush(id string)
}

// Server accepts client connections and owns the per-client chunk push
// pipeline. Chunk broadcast on dirty arrives through BroadcastChunk, wired
// from the world's chunk listener.
type Server struct {
	world *world.World
	reg   *voxel.Registry
	tune  tuning.Tuning
	rec   SessionRecorder
	log   *log.Logger

	upgrader websocket.Upgrader

	// Verbose logs every position update and chunk push.
	Verbose bool

	mu      sync.Mutex
	clients map[*ClientConn]struct{}

	pushed atomic.Int64
}

func NewServer(w *world.World, reg *voxel.Registry, tune tuning.Tuning, rec SessionRecorder, logger *log.Logger) *Server {
	return &Server{
		world:   w,
		reg:     reg,
		tune:    tune,
		rec:     rec,
		log:     logger,
		clients: map[*ClientConn]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		c := s.newClientConn(conn, r.RemoteAddr)
		s.addClient(c)
		if s.rec != nil {
			s.rec.RecordSession(c.id, r.RemoteAddr)
		}
		s.log.Printf("client %s connected from %s", c.id, r.RemoteAddr)

		c.run()

		s.removeClient(c)
		if s.rec != nil {
			s.rec.RecordDisconnect(c.id)
		}
		s.log.Printf("client %s disconnected", c.id)
	}
}

// BroadcastChunk pushes a (new or re-dirtied) chunk to every client whose
// view radius includes it.
func (s *Server) BroadcastChunk(pos world.ChunkPos) {
	for _, c := range s.clientList() {
		c.chunkArrived(pos)
	}
}

// VisibleChunks is the union of every client's current view cube, used by
// the admin unload sweep to keep chunks clients can still see.
func (s *Server) VisibleChunks() map[world.ChunkPos]struct{} {
	out := map[world.ChunkPos]struct{}{}
	for _, c := range s.clientList() {
		c.addVisible(out)
	}
	return out
}

func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// PushedChunks reports the total chunk frames handed to client queues.
func (s *Server) PushedChunks() int64 { return s.pushed.Load() }

// Close tears down every active connection.
func (s *Server) Close() {
	for _, c := range s.clientList() {
		c.close()
	}
}

func (s *Server) addClient(c *ClientConn) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(c *ClientConn) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) clientList() []*ClientConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ClientConn, 0, len(s.clients))
	for c := range s.clients {
		out = append(out, c)
	}
	return out
}

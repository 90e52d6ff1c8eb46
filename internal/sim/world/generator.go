package world

import (
	"log"
	"sync"

	"voxelgrid.dev/internal/sim/voxel"
)

// Generator is the async chunk loader: a single worker goroutine pulling
// jobs from a condition-variable-guarded deque. Generation is a pure
// function of world location.
type Generator struct {
	mu      sync.Mutex
	cond    *sync.Cond
	idle    *sync.Cond
	queue   []generatorJob
	busy    bool
	running bool
	wg      sync.WaitGroup

	log *log.Logger

	air   voxel.Type
	grass voxel.Type
	dirt  voxel.Type
	stone voxel.Type
}

type generatorJob struct {
	world *World
	pos   ChunkPos
}

var _ ChunkLoader = (*Generator)(nil)

// NewGenerator registers the generator's voxel types and starts the worker.
// Shutdown must be called before the generator is dropped.
func NewGenerator(reg *voxel.Registry, logger *log.Logger) *Generator {
	g := &Generator{
		running: true,
		log:     logger,
		air:     reg.Add(voxel.NewAirType()),
		grass:   reg.Add(voxel.NewSimpleType("grass", "assets/textures/grass.png", true, 0, false, true)),
		dirt:    reg.Add(voxel.NewSimpleType("dirt", "assets/textures/mud.png", false, 0, false, true)),
		stone:   reg.Add(voxel.NewSimpleType("stone", "assets/textures/stone.png", false, 0, false, true)),
	}
	g.cond = sync.NewCond(&g.mu)
	g.idle = sync.NewCond(&g.mu)
	g.wg.Add(1)
	go g.run()
	return g
}

// Wait blocks until the queue is empty and no job is running.
func (g *Generator) Wait() {
	g.mu.Lock()
	for g.running && (g.busy || len(g.queue) > 0) {
		g.idle.Wait()
	}
	g.mu.Unlock()
}

func (g *Generator) Shutdown() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	g.cond.Broadcast()
	g.idle.Broadcast()
	g.mu.Unlock()
	g.wg.Wait()
}

func (g *Generator) LoadAsync(w *World, pos ChunkPos) {
	g.mu.Lock()
	g.queue = append(g.queue, generatorJob{world: w, pos: pos})
	g.cond.Signal()
	g.mu.Unlock()
}

// CancelLoadAsync removes a not-yet-started job with the same world and
// location. In-flight jobs are not interrupted.
func (g *Generator) CancelLoadAsync(w *World, pos ChunkPos) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, job := range g.queue {
		if job.world == w && job.pos == pos {
			g.queue = append(g.queue[:i], g.queue[i+1:]...)
			return
		}
	}
}

// QueueLen reports the pending job count (metrics).
func (g *Generator) QueueLen() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

func (g *Generator) run() {
	defer g.wg.Done()
	for {
		g.mu.Lock()
		for g.running && len(g.queue) == 0 {
			g.cond.Wait()
		}
		if !g.running {
			g.mu.Unlock()
			return
		}
		job := g.queue[0]
		g.queue = g.queue[1:]
		g.busy = true
		g.mu.Unlock()
		g.runJob(job)
		g.mu.Lock()
		g.busy = false
		g.idle.Broadcast()
		g.mu.Unlock()
	}
}

func (g *Generator) runJob(job generatorJob) {
	defer func() {
		if r := recover(); r != nil && g.log != nil {
			g.log.Printf("generator: job x=%d,y=%d,z=%d panicked: %v", job.pos.X, job.pos.Y, job.pos.Z, r)
		}
	}()
	ref, created := job.world.CreateExtendedMutableChunk(job.pos)
	if created {
		g.Load(&ref)
	}
	ref.Release()
}

// Load populates a freshly created chunk. Chunks at y >= 0 are sunlit air;
// below, a stone/dirt/grass column by world height.
func (g *Generator) Load(c *ExtendedMutableRef) {
	pos := c.Pos()
	if g.log != nil {
		g.log.Printf("generating chunk x=%d,y=%d,z=%d", pos.X, pos.Y, pos.Z)
	}
	if pos.Y >= 0 {
		for z := 0; z < ChunkSize; z++ {
			for y := 0; y < ChunkSize; y++ {
				for x := 0; x < ChunkSize; x++ {
					cell := voxel.Cell{X: x, Y: y, Z: z}
					c.SetType(cell, g.air)
					c.SetLight(cell, voxel.MaxLightLevel)
				}
			}
		}
		c.MarkDirty(true)
		return
	}
	for z := 0; z < ChunkSize; z++ {
		for y := 0; y < ChunkSize; y++ {
			for x := 0; x < ChunkSize; x++ {
				cell := voxel.Cell{X: x, Y: y, Z: z}
				l := Compose(pos, cell)
				switch {
				case l.X == 3 && l.Y == -1 && l.Z == -4:
					c.SetType(cell, g.stone)
				case l.Y < -3:
					c.SetType(cell, g.stone)
				case l.Y < -1:
					c.SetType(cell, g.dirt)
				case l.Y == -1:
					c.SetType(cell, g.grass)
				default:
					c.SetType(cell, g.air)
				}
			}
		}
	}
	c.MarkDirty(false)
}

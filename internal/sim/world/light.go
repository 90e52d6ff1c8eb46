package world

import (
	"log"
	"sort"
	"sync"
	"time"

	"voxelgrid.dev/internal/sim/mathx"
	"voxelgrid.dev/internal/sim/voxel"
)

var axisDirs = [6]struct{ dx, dy, dz int }{
	{1, 0, 0}, {-1, 0, 0},
	{0, 1, 0}, {0, -1, 0},
	{0, 0, 1}, {0, 0, -1},
}

// LightComputer diffuses light across the voxel graph on a background
// worker. Jobs name a chunk and optionally the cells to recompute; an empty
// cell list recomputes the whole chunk as if initializing.
type LightComputer struct {
	mu      sync.Mutex
	cond    *sync.Cond
	idle    *sync.Cond
	queue   []lightJob
	busy    bool
	running bool
	wg      sync.WaitGroup

	log *log.Logger

	// Worker-goroutine state: per-chunk FIFOs with a backing set, plus
	// bookkeeping to observe (not cap) rework on pathological inputs.
	chunkQueues map[ChunkPos]*cellQueue
	visited     map[ChunkPos]struct{}
	iterations  int
}

type lightJob struct {
	world *World
	pos   ChunkPos
	cells []voxel.Cell
	retry bool
}

type cellQueue struct {
	queue []voxel.Cell
	set   map[voxel.Cell]struct{}
}

func newCellQueue() *cellQueue {
	return &cellQueue{set: map[voxel.Cell]struct{}{}}
}

func (q *cellQueue) empty() bool { return len(q.queue) == 0 }

func (q *cellQueue) push(c voxel.Cell) {
	if _, ok := q.set[c]; ok {
		return
	}
	q.set[c] = struct{}{}
	q.queue = append(q.queue, c)
}

func (q *cellQueue) pop() voxel.Cell {
	c := q.queue[0]
	q.queue = q.queue[1:]
	delete(q.set, c)
	return c
}

func (q *cellQueue) drain() []voxel.Cell {
	out := q.queue
	q.queue = nil
	q.set = map[voxel.Cell]struct{}{}
	return out
}

func NewLightComputer(logger *log.Logger) *LightComputer {
	lc := &LightComputer{
		running:     true,
		log:         logger,
		chunkQueues: map[ChunkPos]*cellQueue{},
		visited:     map[ChunkPos]struct{}{},
	}
	lc.cond = sync.NewCond(&lc.mu)
	lc.idle = sync.NewCond(&lc.mu)
	lc.wg.Add(1)
	go lc.run()
	return lc
}

// Wait blocks until the queue is empty and no job is running.
func (lc *LightComputer) Wait() {
	lc.mu.Lock()
	for lc.running && (lc.busy || len(lc.queue) > 0) {
		lc.idle.Wait()
	}
	lc.mu.Unlock()
}

func (lc *LightComputer) Shutdown() {
	lc.mu.Lock()
	if !lc.running {
		lc.mu.Unlock()
		return
	}
	lc.running = false
	lc.cond.Broadcast()
	lc.idle.Broadcast()
	lc.mu.Unlock()
	lc.wg.Wait()
}

// ComputeAsync schedules a full recompute of the chunk's cells.
func (lc *LightComputer) ComputeAsync(w *World, pos ChunkPos) {
	lc.post(lightJob{world: w, pos: pos})
}

// ComputeCellsAsync schedules a recompute seeded from specific cells.
func (lc *LightComputer) ComputeCellsAsync(w *World, pos ChunkPos, cells []voxel.Cell) {
	lc.post(lightJob{world: w, pos: pos, cells: cells})
}

func (lc *LightComputer) QueueLen() int {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return len(lc.queue)
}

func (lc *LightComputer) post(job lightJob) {
	lc.mu.Lock()
	lc.queue = append(lc.queue, job)
	lc.cond.Signal()
	lc.mu.Unlock()
}

func (lc *LightComputer) run() {
	defer lc.wg.Done()
	for {
		lc.mu.Lock()
		for lc.running && len(lc.queue) == 0 {
			lc.cond.Wait()
		}
		if !lc.running {
			lc.mu.Unlock()
			return
		}
		job := lc.queue[0]
		lc.queue = lc.queue[1:]
		lc.busy = true
		lc.mu.Unlock()
		lc.process(job)
		lc.mu.Lock()
		lc.busy = false
		lc.idle.Broadcast()
		lc.mu.Unlock()
	}
}

func (lc *LightComputer) process(job lightJob) {
	defer func() {
		if r := recover(); r != nil && lc.log != nil {
			lc.log.Printf("light: job x=%d,y=%d,z=%d panicked: %v", job.pos.X, job.pos.Y, job.pos.Z, r)
		}
	}()

	cq := lc.chunkQueue(job.pos)
	if len(job.cells) == 0 && !job.retry {
		for z := 0; z < ChunkSize; z++ {
			for y := 0; y < ChunkSize; y++ {
				for x := 0; x < ChunkSize; x++ {
					cq.push(voxel.Cell{X: x, Y: y, Z: z})
				}
			}
		}
	} else {
		for _, c := range job.cells {
			cq.push(c)
		}
	}

	for {
		pending := lc.pendingChunks()
		if len(pending) == 0 {
			break
		}
		for _, pos := range pending {
			q := lc.chunkQueues[pos]
			if q == nil || q.empty() {
				continue
			}
			ref := job.world.ExtendedMutableChunk(pos, PolicyLoadAsync)
			if !ref.Valid() {
				// Chunk not generated yet: hand the remaining cells back to
				// the job queue and let the generator catch up. Without a
				// loader nothing will ever produce the chunk, so drop them.
				cells := q.drain()
				if job.world.chunkLoader() == nil {
					continue
				}
				time.Sleep(2 * time.Millisecond)
				lc.post(lightJob{world: job.world, pos: pos, cells: cells, retry: true})
				continue
			}
			for !q.empty() {
				lc.computeCell(&ref, pos, q.pop())
			}
			ref.Release()
			lc.visited[pos] = struct{}{}
			lc.iterations++
		}
	}

	if lc.log != nil && lc.iterations > 0 {
		lc.log.Printf("light: pass complete, %d chunk iterations over %d chunks", lc.iterations, len(lc.visited))
	}
	lc.chunkQueues = map[ChunkPos]*cellQueue{}
	lc.visited = map[ChunkPos]struct{}{}
	lc.iterations = 0
}

func (lc *LightComputer) chunkQueue(pos ChunkPos) *cellQueue {
	q := lc.chunkQueues[pos]
	if q == nil {
		q = newCellQueue()
		lc.chunkQueues[pos] = q
	}
	return q
}

func (lc *LightComputer) pendingChunks() []ChunkPos {
	out := make([]ChunkPos, 0, len(lc.chunkQueues))
	for pos, q := range lc.chunkQueues {
		if !q.empty() {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// computeCell recomputes one cell's light from its emission and its six
// axis neighbors. Light falling from the neighbor above costs nothing;
// every other direction decays by one. A change writes the cell, dirties
// the chunk, and enqueues all six neighbors (spilling across chunk
// boundaries into that chunk's queue).
func (lc *LightComputer) computeCell(ref *ExtendedMutableRef, pos ChunkPos, cell voxel.Cell) {
	v := ref.At(cell)
	cur := v.Light()
	best := v.Emission()
	for _, d := range axisDirs {
		nx, ny, nz := cell.X+d.dx, cell.Y+d.dy, cell.Z+d.dz
		dcx := mathx.FloorDiv(nx, ChunkSize)
		dcy := mathx.FloorDiv(ny, ChunkSize)
		dcz := mathx.FloorDiv(nz, ChunkSize)
		if (dcx != 0 || dcy != 0 || dcz != 0) && !ref.HasNeighbor(dcx, dcy, dcz) {
			// Unloaded neighbors contribute nothing; their cells are
			// recomputed once the generator catches up.
			continue
		}
		nv := ref.ExtendedAt(nx, ny, nz)
		n := nv.Light()
		cand := n - 1
		if d.dy == 1 {
			cand = n
		}
		if cand > best {
			best = cand
		}
	}
	if best < 0 {
		best = 0
	}
	if best > voxel.MaxLightLevel {
		best = voxel.MaxLightLevel
	}
	if best == cur {
		return
	}
	ref.SetLight(cell, best)
	ref.MarkDirty(false)
	for _, d := range axisDirs {
		nx, ny, nz := cell.X+d.dx, cell.Y+d.dy, cell.Z+d.dz
		dcx := mathx.FloorDiv(nx, ChunkSize)
		dcy := mathx.FloorDiv(ny, ChunkSize)
		dcz := mathx.FloorDiv(nz, ChunkSize)
		target := pos.offset(dcx, dcy, dcz)
		lc.chunkQueue(target).push(voxel.Cell{
			X: mathx.Mod(nx, ChunkSize),
			Y: mathx.Mod(ny, ChunkSize),
			Z: mathx.Mod(nz, ChunkSize),
		})
	}
}

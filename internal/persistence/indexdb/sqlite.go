// Package indexdb is the optional runtime read-model: connected sessions,
// movement violations, and chunk-push counters land in a local SQLite
// database through a single async writer. It observes the server; nothing
// in the world core reads from it.
package indexdb

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

type Index struct {
	db  *sql.DB
	log *log.Logger

	ch     chan rec
	wg     sync.WaitGroup
	once   sync.Once
	closed atomic.Bool

	dropped atomic.Int64
}

type recKind int

const (
	recSession recKind = iota + 1
	recDisconnect
	recViolation
	recChunkPush
)

type rec struct {
	kind       recKind
	id         string
	remote     string
	dx, dy, dz float64
	at         time.Time
}

func Open(path string, logger *log.Logger) (*Index, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("pragma: %w", err)
		}
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	idx := &Index{
		db:  db,
		log: logger,
		ch:  make(chan rec, 1024),
	}
	idx.wg.Add(1)
	go idx.writer()
	return idx, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	remote_addr TEXT NOT NULL,
	connected_at TEXT NOT NULL,
	disconnected_at TEXT,
	chunks_pushed INTEGER NOT NULL DEFAULT 0,
	violations INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS violations (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	dx REAL NOT NULL,
	dy REAL NOT NULL,
	dz REAL NOT NULL,
	at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS violations_session ON violations(session_id);
`)
	return err
}

func (i *Index) Close() {
	i.once.Do(func() {
		i.closed.Store(true)
		close(i.ch)
		i.wg.Wait()
		_ = i.db.Close()
	})
}

// Dropped reports records lost to writer backpressure.
func (i *Index) Dropped() int64 { return i.dropped.Load() }

func (i *Index) RecordSession(id, remoteAddr string) {
	i.push(rec{kind: recSession, id: id, remote: remoteAddr, at: time.Now().UTC()})
}

func (i *Index) RecordDisconnect(id string) {
	i.push(rec{kind: recDisconnect, id: id, at: time.Now().UTC()})
}

func (i *Index) RecordViolation(id string, dx, dy, dz float64) {
	i.push(rec{kind: recViolation, id: id, dx: dx, dy: dy, dz: dz, at: time.Now().UTC()})
}

func (i *Index) RecordChunkPush(id string) {
	i.push(rec{kind: recChunkPush, id: id})
}

// push never blocks the caller; saturated queues drop. The recover covers
// the race between the closed check and Close closing the channel.
func (i *Index) push(r rec) {
	if i.closed.Load() {
		return
	}
	defer func() { _ = recover() }()
	select {
	case i.ch <- r:
	default:
		i.dropped.Add(1)
	}
}

func (i *Index) writer() {
	defer i.wg.Done()
	for r := range i.ch {
		var err error
		switch r.kind {
		case recSession:
			_, err = i.db.Exec(
				`INSERT OR REPLACE INTO sessions (id, remote_addr, connected_at) VALUES (?, ?, ?)`,
				r.id, r.remote, r.at.Format(time.RFC3339Nano))
		case recDisconnect:
			_, err = i.db.Exec(
				`UPDATE sessions SET disconnected_at = ? WHERE id = ?`,
				r.at.Format(time.RFC3339Nano), r.id)
		case recViolation:
			_, err = i.db.Exec(
				`INSERT INTO violations (session_id, dx, dy, dz, at) VALUES (?, ?, ?, ?, ?)`,
				r.id, r.dx, r.dy, r.dz, r.at.Format(time.RFC3339Nano))
			if err == nil {
				_, err = i.db.Exec(`UPDATE sessions SET violations = violations + 1 WHERE id = ?`, r.id)
			}
		case recChunkPush:
			_, err = i.db.Exec(`UPDATE sessions SET chunks_pushed = chunks_pushed + 1 WHERE id = ?`, r.id)
		}
		if err != nil && i.log != nil {
			i.log.Printf("indexdb: write: %v", err)
		}
	}
}

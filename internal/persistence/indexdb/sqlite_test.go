package indexdb

import (
	"path/filepath"
	"testing"
)

func TestSessionLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	idx.RecordSession("s1", "127.0.0.1:1234")
	idx.RecordViolation("s1", 0.5, 0, 0)
	idx.RecordChunkPush("s1")
	idx.RecordChunkPush("s1")
	idx.RecordDisconnect("s1")
	idx.Close()

	idx2, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx2.Close()

	var remote string
	var pushed, violations int
	var disconnected *string
	row := idx2.db.QueryRow(`SELECT remote_addr, chunks_pushed, violations, disconnected_at FROM sessions WHERE id = ?`, "s1")
	if err := row.Scan(&remote, &pushed, &violations, &disconnected); err != nil {
		t.Fatalf("scan session: %v", err)
	}
	if remote != "127.0.0.1:1234" || pushed != 2 || violations != 1 || disconnected == nil {
		t.Fatalf("session row: remote=%q pushed=%d violations=%d disconnected=%v",
			remote, pushed, violations, disconnected)
	}

	var dx float64
	if err := idx2.db.QueryRow(`SELECT dx FROM violations WHERE session_id = ?`, "s1").Scan(&dx); err != nil {
		t.Fatalf("scan violation: %v", err)
	}
	if dx != 0.5 {
		t.Fatalf("violation dx: got %v want 0.5", dx)
	}
}

func TestRecordAfterCloseIsNoop(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "index.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	idx.Close()
	idx.RecordSession("s2", "x") // must not panic on the closed channel
}

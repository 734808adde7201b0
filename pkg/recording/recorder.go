// Package recording persists telemetry events into a SQLite database
// so offline tooling can query a run back without re-parsing log
// files. One Recorder serves a whole mesh; each node gets its own
// Sink tagged with the node id and a shared run id.
package recording

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	// SQLite driver registration.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"

	"github.com/clockmesh/clockmesh"
)

const defaultBatchSize = 512

const schema = `
CREATE TABLE IF NOT EXISTS events (
	run_id      TEXT    NOT NULL,
	node_id     INTEGER NOT NULL,
	kind        TEXT    NOT NULL,
	peer        INTEGER,
	clock       INTEGER NOT NULL,
	queue_len   INTEGER,
	system_time INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS events_by_run_node
	ON events (run_id, node_id, system_time);
`

// Recorder buffers event rows and flushes them in batches.
type Recorder struct {
	db    *sql.DB
	runID string

	lk        sync.Mutex
	buf       []row
	batchSize int
	closed    bool
}

type row struct {
	nodeID   int
	kind     clockmesh.EventKind
	peer     int
	clock    uint64
	queueLen int
	at       time.Time
}

// Open creates (or reuses) the database at path and starts a new run.
// Buffered rows are flushed at process exit even if Close is never
// reached.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("recording: cannot open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("recording: cannot create schema: %w", err)
	}

	r := &Recorder{
		db:        db,
		runID:     xid.New().String(),
		batchSize: defaultBatchSize,
	}
	atexit.Register(func() { r.Flush() })
	return r, nil
}

// RunID identifies this recorder's run within the database.
func (r *Recorder) RunID() string { return r.runID }

// Sink returns a telemetry sink recording nodeID's events. Closing
// the sink flushes buffered rows; the recorder itself stays open for
// the mesh's other sinks.
func (r *Recorder) Sink(nodeID int) clockmesh.Sink {
	return &nodeSink{rec: r, nodeID: nodeID}
}

type nodeSink struct {
	rec    *Recorder
	nodeID int
}

func (s *nodeSink) Record(ev clockmesh.LogEvent) {
	s.rec.append(row{
		nodeID:   s.nodeID,
		kind:     ev.Kind,
		peer:     ev.Peer,
		clock:    ev.Clock,
		queueLen: ev.QueueLen,
		at:       ev.Time,
	})
}

func (s *nodeSink) Close() error { return s.rec.Flush() }

func (r *Recorder) append(rw row) {
	r.lk.Lock()
	if r.closed {
		r.lk.Unlock()
		return
	}
	r.buf = append(r.buf, rw)
	full := len(r.buf) >= r.batchSize
	r.lk.Unlock()

	if full {
		r.Flush()
	}
}

// Flush writes every buffered row in a single transaction.
func (r *Recorder) Flush() error {
	r.lk.Lock()
	rows := r.buf
	r.buf = nil
	r.lk.Unlock()

	if len(rows) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("recording: cannot begin flush: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO events
		(run_id, node_id, kind, peer, clock, queue_len, system_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("recording: cannot prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rw := range rows {
		var peer, queueLen any
		if rw.kind == clockmesh.EventSend {
			peer = rw.peer
		}
		if rw.kind == clockmesh.EventReceive {
			queueLen = rw.queueLen
		}
		if _, err := stmt.Exec(
			r.runID, rw.nodeID, rw.kind.String(),
			peer, rw.clock, queueLen, rw.at.UnixNano(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording: insert failed: %w", err)
		}
	}
	return tx.Commit()
}

// Close flushes and releases the database handle.
func (r *Recorder) Close() error {
	if err := r.Flush(); err != nil {
		r.db.Close()
		return err
	}
	r.lk.Lock()
	r.closed = true
	r.lk.Unlock()
	return r.db.Close()
}

package recording

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/clockmesh/clockmesh"
)

// Event is one recorded row read back from the database.
type Event struct {
	RunID    string
	NodeID   int
	Kind     clockmesh.EventKind
	Peer     int
	Clock    uint64
	QueueLen int
	Time     time.Time
}

// Reader queries recorded runs back out of a recorder database.
type Reader struct {
	db *sql.DB
}

func OpenReader(path string) (*Reader, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("recording: cannot open database: %w", err)
	}
	return &Reader{db: db}, nil
}

// Runs lists every run id present, oldest first (xid ids sort by
// creation time).
func (rd *Reader) Runs() ([]string, error) {
	rows, err := rd.db.Query(`SELECT DISTINCT run_id FROM events ORDER BY run_id`)
	if err != nil {
		return nil, fmt.Errorf("recording: query failed: %w", err)
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		runs = append(runs, id)
	}
	return runs, rows.Err()
}

// Nodes lists the node ids that recorded events in a run.
func (rd *Reader) Nodes(runID string) ([]int, error) {
	rows, err := rd.db.Query(
		`SELECT DISTINCT node_id FROM events WHERE run_id = ? ORDER BY node_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("recording: query failed: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Events returns one node's events for a run in system-time order.
func (rd *Reader) Events(runID string, nodeID int) ([]Event, error) {
	rows, err := rd.db.Query(`SELECT run_id, node_id, kind, peer, clock, queue_len, system_time
		FROM events WHERE run_id = ? AND node_id = ?
		ORDER BY system_time`, runID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("recording: query failed: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev       Event
			kind     string
			peer     sql.NullInt64
			queueLen sql.NullInt64
			nanos    int64
		)
		if err := rows.Scan(&ev.RunID, &ev.NodeID, &kind, &peer, &ev.Clock, &queueLen, &nanos); err != nil {
			return nil, err
		}
		switch kind {
		case "SEND":
			ev.Kind = clockmesh.EventSend
			ev.Peer = int(peer.Int64)
		case "RECEIVE":
			ev.Kind = clockmesh.EventReceive
			ev.QueueLen = int(queueLen.Int64)
		default:
			ev.Kind = clockmesh.EventInternal
		}
		ev.Time = time.Unix(0, nanos)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (rd *Reader) Close() error { return rd.db.Close() }

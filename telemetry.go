package clockmesh

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// EventKind tags a LogEvent.
type EventKind uint8

const (
	EventInternal EventKind = iota
	EventSend
	EventReceive
)

func (k EventKind) String() string {
	switch k {
	case EventSend:
		return "SEND"
	case EventReceive:
		return "RECEIVE"
	default:
		return "INTERNAL"
	}
}

// LogEvent is one immutable telemetry record. The core appends them
// to a Sink in scheduler order and never mutates or deletes them.
type LogEvent struct {
	Time  time.Time
	Kind  EventKind
	Clock uint64

	// Peer is the destination port, SEND only.
	Peer int

	// QueueLen is the inbound FIFO depth immediately after the
	// dequeue, RECEIVE only.
	QueueLen int
}

// Sink consumes a node's ordered stream of LogEvent records.
//
// Record is called from the scheduler goroutine only, so
// implementations need no internal ordering; they must not block
// longer than the write itself.
type Sink interface {
	Record(LogEvent)
	Close() error
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Record(LogEvent) {}
func (NopSink) Close() error    { return nil }

// FileSink appends events to a writer using the line format consumed
// by the offline analysis tooling:
//
//	<timestamp> - <EVENT>, System time: <iso-datetime>[, Queue length: <int>], Logical clock: <int>
type FileSink struct {
	lk sync.Mutex
	w  io.WriteCloser
}

// NewFileSink opens (or creates) path in append-only mode.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("telemetry: cannot open log file: %w", err)
	}
	return &FileSink{w: f}, nil
}

// NewFileSinkWriter wraps an arbitrary writer, mostly for tests.
func NewFileSinkWriter(w io.WriteCloser) *FileSink {
	return &FileSink{w: w}
}

func (s *FileSink) Record(ev LogEvent) {
	s.lk.Lock()
	defer s.lk.Unlock()
	io.WriteString(s.w, FormatEvent(ev))
}

func (s *FileSink) Close() error {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.w.Close()
}

// FormatEvent renders one log line, newline included. The timestamp
// uses comma-separated milliseconds and the system time microsecond
// precision; the analysis parser depends on both.
func FormatEvent(ev LogEvent) string {
	stamp := ev.Time.Format("2006-01-02 15:04:05") +
		fmt.Sprintf(",%03d", ev.Time.Nanosecond()/1e6)
	sysTime := ev.Time.Format("2006-01-02 15:04:05.000000")

	switch ev.Kind {
	case EventReceive:
		return fmt.Sprintf("%s - RECEIVE, System time: %s, Queue length: %d, Logical clock: %d\n",
			stamp, sysTime, ev.QueueLen, ev.Clock)
	case EventSend:
		return fmt.Sprintf("%s - SEND to %d, System time: %s, Logical clock: %d\n",
			stamp, ev.Peer, sysTime, ev.Clock)
	default:
		return fmt.Sprintf("%s - INTERNAL, System time: %s, Logical clock: %d\n",
			stamp, sysTime, ev.Clock)
	}
}

// MultiSink fans every event out to each wrapped sink, in order.
type MultiSink []Sink

func (m MultiSink) Record(ev LogEvent) {
	for _, s := range m {
		s.Record(ev)
	}
}

func (m MultiSink) Close() error {
	var firstErr error
	for _, s := range m {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

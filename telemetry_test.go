package clockmesh

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// captureSink collects events in memory for assertions.
type captureSink struct {
	lk     sync.Mutex
	events []LogEvent
}

func (s *captureSink) Record(ev LogEvent) {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) Close() error { return nil }

func (s *captureSink) snapshot() []LogEvent {
	s.lk.Lock()
	defer s.lk.Unlock()
	return append([]LogEvent(nil), s.events...)
}

func TestFormatEvent(t *testing.T) {
	at := time.Date(2026, 3, 4, 10, 30, 0, 123456789, time.UTC)

	require.Equal(t,
		"2026-03-04 10:30:00,123 - INTERNAL, System time: 2026-03-04 10:30:00.123456, Logical clock: 7\n",
		FormatEvent(LogEvent{Time: at, Kind: EventInternal, Clock: 7}))

	require.Equal(t,
		"2026-03-04 10:30:00,123 - SEND to 10002, System time: 2026-03-04 10:30:00.123456, Logical clock: 8\n",
		FormatEvent(LogEvent{Time: at, Kind: EventSend, Clock: 8, Peer: 10002}))

	require.Equal(t,
		"2026-03-04 10:30:00,123 - RECEIVE, System time: 2026-03-04 10:30:00.123456, Queue length: 2, Logical clock: 11\n",
		FormatEvent(LogEvent{Time: at, Kind: EventReceive, Clock: 11, QueueLen: 2}))
}

func TestFileSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vm_1.log")

	sink, err := NewFileSink(path)
	require.NoError(t, err)
	at := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)
	sink.Record(LogEvent{Time: at, Kind: EventInternal, Clock: 1})
	require.NoError(t, sink.Close())

	// Reopening appends, it never truncates.
	sink, err = NewFileSink(path)
	require.NoError(t, err)
	sink.Record(LogEvent{Time: at.Add(time.Second), Kind: EventSend, Clock: 2, Peer: 10002})
	require.NoError(t, sink.Close())

	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(buf), "\n"), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], "INTERNAL")
	require.Contains(t, lines[1], "SEND to 10002")
}

func TestMultiSinkFansOut(t *testing.T) {
	a := &captureSink{}
	b := &captureSink{}
	m := MultiSink{a, b}

	m.Record(LogEvent{Kind: EventInternal, Clock: 1})
	m.Record(LogEvent{Kind: EventReceive, Clock: 5, QueueLen: 3})
	require.NoError(t, m.Close())

	require.Len(t, a.snapshot(), 2)
	require.Equal(t, a.snapshot(), b.snapshot())
}

package clockmesh

import (
	"io"
	"log/slog"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/require"

	"github.com/clockmesh/clockmesh/pkg/wire"
)

func newTestNode(t *testing.T, id, port int, peerPorts []int, tickRate int, sink Sink) *Node {
	t.Helper()
	if sink == nil {
		sink = &captureSink{}
	}
	n, err := Create(id, port, peerPorts, tickRate,
		WithLog(slog.NewTextHandler(io.Discard, nil)),
		WithTelemetry(sink),
		WithMetricSink(&metrics.BlackholeSink{}),
		WithRand(rand.New(rand.NewSource(1))),
		WithDialBackoff(10*time.Millisecond),
	)
	require.NoError(t, err)
	t.Cleanup(func() { n.Stop() })
	return n
}

func TestCreateValidation(t *testing.T) {
	opts := []Option{WithLog(slog.NewTextHandler(io.Discard, nil))}

	_, err := Create(0, 10001, nil, 1, opts...)
	require.ErrorIs(t, err, ErrInvalidCfg)

	_, err = Create(1, 0, nil, 1, opts...)
	require.ErrorIs(t, err, ErrInvalidCfg)

	_, err = Create(1, 10001, []int{-2}, 1, opts...)
	require.ErrorIs(t, err, ErrInvalidCfg)

	_, err = Create(1, 10001, nil, 0, opts...)
	require.ErrorIs(t, err, ErrInvalidCfg)

	_, err = Create(1, 10001, nil, 1, WithQueueCapacity(0))
	require.ErrorIs(t, err, ErrInvalidCfg)
}

func TestDrainPreloadedQueue(t *testing.T) {
	sink := &captureSink{}
	n := newTestNode(t, 1, 42001, nil, 5, sink)

	for _, v := range []uint64{2, 7, 3} {
		n.inbox <- v
	}
	n.tick()
	n.tick()
	n.tick()

	events := sink.snapshot()
	require.Len(t, events, 3)
	wantClocks := []uint64{3, 8, 9}
	wantDepths := []int{2, 1, 0}
	for i, ev := range events {
		require.Equal(t, EventReceive, ev.Kind)
		require.Equal(t, wantClocks[i], ev.Clock)
		require.Equal(t, wantDepths[i], ev.QueueLen)
	}
	require.Equal(t, uint64(9), n.ClockValue())
}

func TestReceiveQueueLengthMatchesFIFO(t *testing.T) {
	sink := &captureSink{}
	n := newTestNode(t, 1, 42002, nil, 5, sink)

	n.inbox <- 4
	n.inbox <- 9
	n.tick()

	events := sink.snapshot()
	require.Len(t, events, 1)
	require.Equal(t, events[0].QueueLen, n.QueueDepth())
	require.Equal(t, 1, events[0].QueueLen)
}

func TestStopIdempotent(t *testing.T) {
	n := newTestNode(t, 1, 42003, nil, 1, nil)
	require.NoError(t, n.Start())
	require.True(t, n.Running())

	require.NoError(t, n.Stop())
	require.NoError(t, n.Stop())
	require.False(t, n.Running())
}

func TestStopConcurrent(t *testing.T) {
	n := newTestNode(t, 1, 42004, nil, 1, nil)
	require.NoError(t, n.Start())

	done := make(chan error, 2)
	go func() { done <- n.Stop() }()
	go func() { done <- n.Stop() }()
	require.NoError(t, <-done)
	require.NoError(t, <-done)
	require.False(t, n.Running())
}

func TestSendNotConnected(t *testing.T) {
	n := newTestNode(t, 1, 42005, []int{42006}, 1, nil)

	err := n.Send(42006)
	require.ErrorIs(t, err, ErrNotConnected)
	// The clock only advances on an actual send.
	require.Equal(t, uint64(0), n.ClockValue())
}

func TestMutualPeersConnect(t *testing.T) {
	a := newTestNode(t, 1, 42007, []int{42008}, 1, nil)
	b := newTestNode(t, 2, 42008, []int{42007}, 1, nil)

	require.NoError(t, a.Start())
	require.NoError(t, b.Start())
	a.ConnectPeers()
	b.ConnectPeers()

	require.Equal(t, []int{42008}, a.Peers())
	require.Equal(t, []int{42007}, b.Peers())

	// Skipped silently on a second pass.
	a.ConnectPeers()
	require.Equal(t, []int{42008}, a.Peers())
}

func TestConnectPeersExhaustsBudget(t *testing.T) {
	n, err := Create(1, 42009, []int{42010}, 1,
		WithLog(slog.NewTextHandler(io.Discard, nil)),
		WithMetricSink(&metrics.BlackholeSink{}),
		WithDialRetryBudget(2),
		WithDialBackoff(5*time.Millisecond),
	)
	require.NoError(t, err)
	t.Cleanup(func() { n.Stop() })

	require.NoError(t, n.Start())
	start := time.Now()
	n.ConnectPeers()

	// Two attempts, one backoff pause, no connection recorded.
	require.Empty(t, n.Peers())
	require.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestWriteFailurePrunesConnection(t *testing.T) {
	n := newTestNode(t, 1, 42011, []int{42012}, 1, nil)

	c1, c2 := net.Pipe()
	c2.Close()
	n.lk.Lock()
	n.peers[42012] = c1
	n.lk.Unlock()

	err := n.Send(42012)
	require.ErrorIs(t, err, ErrLinkWrite)
	require.Empty(t, n.Peers())

	// Pruned means back to the not-connected error, no crash.
	require.ErrorIs(t, n.Send(42012), ErrNotConnected)
}

func TestActionDispatch(t *testing.T) {
	sink := &captureSink{}
	a := newTestNode(t, 1, 42013, []int{42014, 42015}, 5, sink)
	b := newTestNode(t, 2, 42014, nil, 5, nil)
	c := newTestNode(t, 3, 42015, nil, 5, nil)

	require.NoError(t, a.Start())
	require.NoError(t, b.Start())
	require.NoError(t, c.Start())
	a.ConnectPeers()
	require.Len(t, a.Peers(), 2)

	a.act(1) // first peer
	a.act(2) // second peer
	a.act(3) // broadcast
	a.act(4) // internal

	events := sink.snapshot()
	require.Len(t, events, 5)
	require.Equal(t, EventSend, events[0].Kind)
	require.Equal(t, 42014, events[0].Peer)
	require.Equal(t, EventSend, events[1].Kind)
	require.Equal(t, 42015, events[1].Peer)
	require.Equal(t, EventSend, events[2].Kind)
	require.Equal(t, 42014, events[2].Peer)
	require.Equal(t, EventSend, events[3].Kind)
	require.Equal(t, 42015, events[3].Peer)
	require.Equal(t, EventInternal, events[4].Kind)
	require.Equal(t, uint64(5), events[4].Clock)

	require.Eventually(t, func() bool { return b.QueueDepth() == 2 },
		2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return c.QueueDepth() == 2 },
		2*time.Second, 10*time.Millisecond)
}

func TestActionsWithoutPeersAreNoOps(t *testing.T) {
	sink := &captureSink{}
	n := newTestNode(t, 1, 42016, nil, 5, sink)

	n.act(1)
	n.act(2)
	n.act(3)
	require.Empty(t, sink.snapshot())
	require.Equal(t, uint64(0), n.ClockValue())

	n.act(2) // single-peer fallback needs a peer; still nothing
	n.act(10)
	events := sink.snapshot()
	require.Len(t, events, 1)
	require.Equal(t, EventInternal, events[0].Kind)
	require.Equal(t, uint64(1), events[0].Clock)
}

func TestEndToEndScenario(t *testing.T) {
	sink := &captureSink{}
	a := newTestNode(t, 1, 42017, []int{42018}, 5, sink)
	b := newTestNode(t, 2, 42018, nil, 5, nil)

	require.NoError(t, a.Start())
	require.NoError(t, b.Start())
	a.ConnectPeers()
	require.Equal(t, []int{42018}, a.Peers())

	a.act(4) // internal event: clock -> 1
	a.inbox <- 10
	a.tick() // receive 10: clock -> max(1, 10)+1 = 11
	a.act(1) // send: clock -> 12

	events := sink.snapshot()
	require.Len(t, events, 3)
	require.Equal(t, EventInternal, events[0].Kind)
	require.Equal(t, uint64(1), events[0].Clock)
	require.Equal(t, EventReceive, events[1].Kind)
	require.Equal(t, uint64(11), events[1].Clock)
	require.Equal(t, 0, events[1].QueueLen)
	require.Equal(t, EventSend, events[2].Kind)
	require.Equal(t, uint64(12), events[2].Clock)

	// The peer's handler decodes the framed value into its FIFO.
	require.Eventually(t, func() bool { return b.QueueDepth() == 1 },
		2*time.Second, 10*time.Millisecond)
	bSink := &captureSink{}
	b.cfg.sink = bSink
	b.tick()
	got := bSink.snapshot()
	require.Len(t, got, 1)
	require.Equal(t, EventReceive, got[0].Kind)
	require.Equal(t, uint64(13), got[0].Clock) // max(0, 12)+1
}

func TestMalformedPayloadDropsOnlyThatConnection(t *testing.T) {
	n := newTestNode(t, 1, 42019, nil, 5, nil)
	require.NoError(t, n.Start())

	bad, err := net.Dial("tcp", "127.0.0.1:42019")
	require.NoError(t, err)
	defer bad.Close()
	// Valid frame shape, non-decimal payload.
	_, err = bad.Write([]byte{0x02, 'a', 'b'})
	require.NoError(t, err)

	good, err := net.Dial("tcp", "127.0.0.1:42019")
	require.NoError(t, err)
	defer good.Close()
	require.NoError(t, wire.Encode(good, 42))

	require.Eventually(t, func() bool { return n.QueueDepth() == 1 },
		2*time.Second, 10*time.Millisecond)
	// The malformed connection contributed nothing and the node is
	// still accepting.
	require.Equal(t, 1, n.QueueDepth())
	require.True(t, n.Running())
}

func TestRunLoopAdvancesAndStops(t *testing.T) {
	n := newTestNode(t, 1, 42020, nil, 50, nil)

	done := make(chan error, 1)
	go func() { done <- n.Run() }()

	require.Eventually(t, func() bool { return n.ClockValue() > 5 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, n.Stop())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run loop did not exit after Stop")
	}
	require.False(t, n.Running())
}

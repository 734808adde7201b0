package clockmesh

import (
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-metrics"
)

const (
	defaultDialRetries = 5
	defaultDialBackoff = 1 * time.Second
	defaultDialTimeout = 1 * time.Second
	defaultAcceptPoll  = 1 * time.Second
	defaultQueueCap    = 1024
)

// Node is one simulated process: it advances a Lamport clock at a
// randomized per-node tick rate while exchanging timestamped messages
// with its peers over point-to-point TCP links.
//
// Lifecycle: Create, then Start (bind and listen) or Run (Start, dial
// peers, enter the scheduler loop), then Stop. Stop is idempotent and
// safe to call concurrently with the loop's own shutdown path.
type Node struct {
	cfg    config
	logger *slog.Logger
	msink  metrics.MetricSink

	clock Clock
	inbox chan uint64

	// peer links, per configured peer port, written by ConnectPeers
	// and pruned by Send on write failure.
	peers map[int]net.Conn

	// inbound connections, tracked so Stop can unblock their readers.
	inConns map[net.Conn]struct{}

	ln *net.TCPListener

	// running is polled by the accept loop, handlers and the
	// scheduler for cooperative cancellation.
	running atomic.Bool

	lk         sync.Mutex
	started    bool
	stopped    bool
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// Create builds a Node from its identity, listen port, ordered peer
// port list and tick rate (ticks per second). It does not touch the
// network; see Start and Run.
func Create(id, port int, peerPorts []int, tickRate int, opts ...Option) (*Node, error) {
	cfg := config{
		id:        id,
		bindAddr:  "127.0.0.1",
		port:      port,
		peerPorts: append([]int(nil), peerPorts...),
		tickRate:  tickRate,

		sink: NopSink{},

		dialRetries: defaultDialRetries,
		dialBackoff: defaultDialBackoff,
		dialTimeout: defaultDialTimeout,
		acceptPoll:  defaultAcceptPoll,
		queueCap:    defaultQueueCap,
	}

	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
		}
	}

	if cfg.id < 1 {
		return nil, fmt.Errorf("%w: id must be positive, got %d", ErrInvalidCfg, cfg.id)
	}
	if cfg.port < 1 || cfg.port > 65535 {
		return nil, fmt.Errorf("%w: invalid listen port %d", ErrInvalidCfg, cfg.port)
	}
	if cfg.tickRate < 1 {
		return nil, fmt.Errorf("%w: tick rate must be at least 1, got %d", ErrInvalidCfg, cfg.tickRate)
	}
	for _, p := range cfg.peerPorts {
		if p < 1 || p > 65535 {
			return nil, fmt.Errorf("%w: invalid peer port %d", ErrInvalidCfg, p)
		}
	}

	if cfg.rng == nil {
		cfg.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	n := &Node{
		cfg:        cfg,
		inbox:      make(chan uint64, cfg.queueCap),
		peers:      make(map[int]net.Conn),
		inConns:    make(map[net.Conn]struct{}),
		shutdownCh: make(chan struct{}),
	}

	if cfg.logHandler != nil {
		n.logger = slog.New(cfg.logHandler)
	} else {
		n.logger = slog.Default()
	}
	n.logger = n.logger.With(LabelNodeID.L(cfg.id))

	if cfg.msink != nil {
		n.msink = cfg.msink
	} else {
		n.msink = metrics.Default()
	}
	n.cfg.metricLabels = append(n.cfg.metricLabels, LabelNodeID.M(strconv.Itoa(cfg.id)))

	return n, nil
}

// Start binds the listener and launches the inbound accept loop. It
// does not dial peers nor run the scheduler.
func (n *Node) Start() error {
	n.lk.Lock()
	defer n.lk.Unlock()
	if n.stopped {
		return ErrNodeClosed
	}
	if n.started {
		return ErrAlreadyStarted
	}

	ln, err := net.ListenTCP("tcp", &net.TCPAddr{
		IP:   net.ParseIP(n.cfg.bindAddr),
		Port: n.cfg.port,
	})
	if err != nil {
		return fmt.Errorf("node: failed to bind listener: %w", err)
	}

	n.ln = ln
	n.started = true
	n.running.Store(true)

	n.wg.Add(1)
	go n.acceptLoop()

	n.logger.Info("listening",
		"port", n.cfg.port,
		"tick_rate", n.cfg.tickRate,
		"peers", len(n.cfg.peerPorts),
	)
	return nil
}

// Run starts the node if needed, dials its peers, and drives the
// scheduler loop until Stop clears the running flag. It returns after
// shutdown completes.
func (n *Node) Run() error {
	if err := n.Start(); err != nil && err != ErrAlreadyStarted {
		return err
	}
	n.ConnectPeers()
	n.loop()
	return n.Stop()
}

// Stop clears the running flag, closes every peer connection, every
// inbound connection and the listening socket, then waits for the
// accept loop and handlers to exit. Safe to invoke multiple times or
// concurrently with the scheduler's own shutdown path.
func (n *Node) Stop() error {
	n.lk.Lock()
	if n.stopped {
		n.lk.Unlock()
		return nil
	}
	n.stopped = true
	n.running.Store(false)
	close(n.shutdownCh)

	for port, conn := range n.peers {
		conn.Close()
		delete(n.peers, port)
	}
	for conn := range n.inConns {
		conn.Close()
	}
	if n.ln != nil {
		n.ln.Close()
	}
	n.lk.Unlock()

	n.wg.Wait()
	n.logger.Info("stopped", LabelClock.L(n.clock.Now()))
	return n.cfg.sink.Close()
}

func (n *Node) loop() {
	period := time.Second / time.Duration(n.cfg.tickRate)
	for n.running.Load() {
		start := time.Now()
		n.tick()

		// Sleep whatever budget the tick left over. A consistently
		// slow tick permanently shifts the wall-clock to
		// logical-clock ratio; the pacing bounds drift, it does not
		// correct it.
		if rest := period - time.Since(start); rest > 0 {
			select {
			case <-time.After(rest):
			case <-n.shutdownCh:
			}
		}
	}
}

// tick drains at most one queued inbound message, or else performs a
// randomly drawn action.
func (n *Node) tick() {
	n.msink.IncrCounterWithLabels(MetricTickCount, 1, n.cfg.metricLabels)

	select {
	case received := <-n.inbox:
		clock := n.clock.AdvanceTo(received)
		depth := len(n.inbox)
		n.msink.IncrCounterWithLabels(MetricEventReceiveCount, 1, n.cfg.metricLabels)
		n.msink.SetGaugeWithLabels(MetricQueueDepth, float32(depth), n.cfg.metricLabels)
		n.record(LogEvent{Time: time.Now(), Kind: EventReceive, Clock: clock, QueueLen: depth})
		return
	default:
	}

	n.act(1 + n.cfg.rng.Intn(10))
}

// act dispatches one scheduler action: 1 targets the first peer, 2
// the second (or the only) peer, 3 broadcasts, anything above is an
// internal event. 1-3 are no-ops when no peer is configured.
func (n *Node) act(action int) {
	peers := n.cfg.peerPorts
	switch {
	case action == 1:
		if len(peers) > 0 {
			n.Send(peers[0])
		}
	case action == 2:
		if len(peers) >= 2 {
			n.Send(peers[1])
		} else if len(peers) == 1 {
			n.Send(peers[0])
		}
	case action == 3:
		// Best-effort sequential broadcast: an individual failure
		// does not abort the remaining sends.
		for _, p := range peers {
			n.Send(p)
		}
	default:
		n.internalEvent()
	}
}

func (n *Node) internalEvent() {
	clock := n.clock.Advance()
	n.msink.IncrCounterWithLabels(MetricEventInternalCount, 1, n.cfg.metricLabels)
	n.record(LogEvent{Time: time.Now(), Kind: EventInternal, Clock: clock})
}

func (n *Node) record(ev LogEvent) {
	n.cfg.sink.Record(ev)
}

// ID returns the node's identity.
func (n *Node) ID() int { return n.cfg.id }

// Port returns the node's listen port.
func (n *Node) Port() int { return n.cfg.port }

// TickRate returns the configured scheduler rate in ticks per second.
func (n *Node) TickRate() int { return n.cfg.tickRate }

// ClockValue returns the current logical clock without advancing it.
func (n *Node) ClockValue() uint64 { return n.clock.Now() }

// Running reports whether the node is between Start and Stop.
func (n *Node) Running() bool { return n.running.Load() }

// QueueDepth returns the current inbound FIFO depth.
func (n *Node) QueueDepth() int { return len(n.inbox) }

// Peers returns the ports with a live outbound connection, sorted.
func (n *Node) Peers() []int {
	n.lk.Lock()
	defer n.lk.Unlock()
	ports := make([]int, 0, len(n.peers))
	for port := range n.peers {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports
}

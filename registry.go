package clockmesh

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// Topology describes a full mesh of nodes on consecutive ports with
// randomized tick rates.
type Topology struct {
	Nodes       int
	BasePort    int
	MinTickRate int
	MaxTickRate int
}

// Registry owns a set of nodes built by one orchestrator. It replaces
// any process-wide node state: orchestration code passes the registry
// around explicitly.
type Registry struct {
	logger *slog.Logger
	rng    *rand.Rand

	lk    sync.Mutex
	nodes []*Node
	wg    sync.WaitGroup
}

// NewRegistry builds an empty registry. handler may be nil to use the
// default logger; rng may be nil to use a time-seeded source.
func NewRegistry(handler slog.Handler, rng *rand.Rand) *Registry {
	r := &Registry{rng: rng}
	if handler != nil {
		r.logger = slog.New(handler)
	} else {
		r.logger = slog.Default()
	}
	if r.rng == nil {
		r.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return r
}

// SpawnMesh creates topo.Nodes nodes with ids 1..N, each listening on
// BasePort+i and peering with every other node, at a tick rate drawn
// uniformly from [MinTickRate, MaxTickRate]. extraOpts are applied to
// every node after the registry's own options, so callers can attach
// telemetry sinks or metric labels per mesh.
func (r *Registry) SpawnMesh(topo Topology, extraOpts ...func(id int) []Option) ([]*Node, error) {
	if topo.Nodes < 1 {
		return nil, fmt.Errorf("%w: topology needs at least one node", ErrInvalidCfg)
	}
	if topo.MinTickRate < 1 || topo.MaxTickRate < topo.MinTickRate {
		return nil, fmt.Errorf("%w: bad tick rate range [%d, %d]",
			ErrInvalidCfg, topo.MinTickRate, topo.MaxTickRate)
	}

	ports := make([]int, topo.Nodes)
	for i := range ports {
		ports[i] = topo.BasePort + i
	}

	spawned := make([]*Node, 0, topo.Nodes)
	for i := 0; i < topo.Nodes; i++ {
		peerPorts := make([]int, 0, topo.Nodes-1)
		for j, p := range ports {
			if j != i {
				peerPorts = append(peerPorts, p)
			}
		}
		rate := topo.MinTickRate + r.rng.Intn(topo.MaxTickRate-topo.MinTickRate+1)

		opts := []Option{WithLog(r.logger.Handler())}
		for _, extra := range extraOpts {
			opts = append(opts, extra(i+1)...)
		}

		node, err := Create(i+1, ports[i], peerPorts, rate, opts...)
		if err != nil {
			for _, prev := range spawned {
				prev.Stop()
			}
			return nil, err
		}
		spawned = append(spawned, node)
		r.logger.Info("created node",
			LabelNodeID.L(i+1), "port", ports[i], "tick_rate", rate)
	}

	r.lk.Lock()
	r.nodes = append(r.nodes, spawned...)
	r.lk.Unlock()
	return spawned, nil
}

// StartAll binds every node's listener first, so peer dials cannot
// race listener setup, then launches each node's scheduler loop.
func (r *Registry) StartAll() error {
	r.lk.Lock()
	nodes := append([]*Node(nil), r.nodes...)
	r.lk.Unlock()

	for _, node := range nodes {
		if err := node.Start(); err != nil && err != ErrAlreadyStarted {
			return fmt.Errorf("registry: failed to start node %d: %w", node.ID(), err)
		}
	}
	for _, node := range nodes {
		r.wg.Add(1)
		go func(n *Node) {
			defer r.wg.Done()
			if err := n.Run(); err != nil {
				r.logger.Error("node exited with error",
					LabelNodeID.L(n.ID()), LabelError.L(err))
			}
		}(node)
	}
	return nil
}

// StopAll stops every node in reverse creation order and waits for
// their scheduler loops to return. Idempotent.
func (r *Registry) StopAll() {
	r.lk.Lock()
	nodes := append([]*Node(nil), r.nodes...)
	r.lk.Unlock()

	for i := len(nodes) - 1; i >= 0; i-- {
		if err := nodes[i].Stop(); err != nil {
			r.logger.Error("error stopping node",
				LabelNodeID.L(nodes[i].ID()), LabelError.L(err))
		}
	}
	r.wg.Wait()
}

// Nodes returns a snapshot of the registered nodes in creation order.
func (r *Registry) Nodes() []*Node {
	r.lk.Lock()
	defer r.lk.Unlock()
	return append([]*Node(nil), r.nodes...)
}

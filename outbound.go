package clockmesh

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/clockmesh/clockmesh/pkg/wire"
)

// ConnectPeers dials every configured peer that has no recorded
// connection yet, honoring the per-peer retry budget. Already
// connected peers are skipped silently. A peer whose budget is
// exhausted stays unconnected and is not retried automatically;
// callers may invoke ConnectPeers again.
func (n *Node) ConnectPeers() {
	for _, port := range n.cfg.peerPorts {
		n.lk.Lock()
		_, connected := n.peers[port]
		n.lk.Unlock()
		if connected {
			continue
		}
		if err := n.dialPeer(port); err != nil {
			n.logger.Error("leaving peer unconnected",
				LabelPeerPort.L(port), LabelError.L(err))
		}
	}
}

func (n *Node) dialPeer(port int) error {
	addr := net.JoinHostPort(n.cfg.bindAddr, strconv.Itoa(port))
	for attempt := 1; attempt <= n.cfg.dialRetries; attempt++ {
		if !n.running.Load() {
			return ErrNodeClosed
		}

		conn, err := net.DialTimeout("tcp", addr, n.cfg.dialTimeout)
		if err == nil {
			n.lk.Lock()
			if n.stopped {
				n.lk.Unlock()
				conn.Close()
				return ErrNodeClosed
			}
			n.peers[port] = conn
			n.lk.Unlock()

			n.logger.Info("connected to peer", LabelPeerPort.L(port))
			n.msink.IncrCounterWithLabels(MetricConnOutCount, 1, n.cfg.metricLabels)
			return nil
		}

		n.logger.Error("failed to connect to peer",
			LabelPeerPort.L(port), LabelError.L(err))
		n.msink.IncrCounterWithLabels(MetricConnOutErrorCount, 1, n.cfg.metricLabels)

		if attempt < n.cfg.dialRetries {
			select {
			case <-time.After(n.cfg.dialBackoff):
			case <-n.shutdownCh:
				return ErrNodeClosed
			}
		}
	}
	return fmt.Errorf("%w: %d", ErrPeerUnreachable, port)
}

// Send advances the clock, writes the framed post-increment value on
// the peer's link and emits a SEND event. A write failure closes and
// removes the connection entry; no reconnection is attempted here.
func (n *Node) Send(port int) error {
	n.lk.Lock()
	conn, ok := n.peers[port]
	n.lk.Unlock()
	if !ok {
		n.logger.Error("not connected to peer", LabelPeerPort.L(port))
		return fmt.Errorf("%w: %d", ErrNotConnected, port)
	}

	clock := n.clock.Advance()
	if err := wire.Encode(conn, clock); err != nil {
		n.logger.Error("error sending to peer",
			LabelPeerPort.L(port), LabelError.L(err))
		n.msink.IncrCounterWithLabels(MetricLinkWriteErrCount, 1, n.cfg.metricLabels)

		conn.Close()
		n.lk.Lock()
		if n.peers[port] == conn {
			delete(n.peers, port)
		}
		n.lk.Unlock()
		return fmt.Errorf("%w: %w", ErrLinkWrite, err)
	}

	n.msink.IncrCounterWithLabels(MetricEventSendCount, 1, n.cfg.metricLabels)
	n.record(LogEvent{Time: time.Now(), Kind: EventSend, Clock: clock, Peer: port})
	return nil
}

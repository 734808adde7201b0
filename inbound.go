package clockmesh

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/clockmesh/clockmesh/pkg/wire"
)

// acceptLoop waits for peer connections with a bounded deadline so the
// running flag is observed at least once per poll interval. Accept
// errors while the node runs are logged and accepting continues; once
// the node is stopping they are suppressed.
func (n *Node) acceptLoop() {
	defer n.wg.Done()
	for {
		n.ln.SetDeadline(time.Now().Add(n.cfg.acceptPoll))
		conn, err := n.ln.Accept()
		if err != nil {
			if !n.running.Load() {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			n.logger.Error("error accepting connection", LabelError.L(err))
			n.msink.IncrCounterWithLabels(MetricAcceptErrorCount, 1, n.cfg.metricLabels)
			continue
		}

		n.lk.Lock()
		if n.stopped {
			n.lk.Unlock()
			conn.Close()
			return
		}
		n.inConns[conn] = struct{}{}
		n.wg.Add(1)
		n.lk.Unlock()

		n.msink.IncrCounterWithLabels(MetricConnInCount, 1, n.cfg.metricLabels)
		go n.handleInbound(conn)
	}
}

// handleInbound decodes framed clock values from one peer connection
// and enqueues them into the inbound FIFO. It terminates, closing only
// its own socket, when the peer closes its side or sends an
// undecodable payload. Reads are unblocked on shutdown by Stop closing
// the socket; no read deadline is used, a timeout mid-frame would
// desynchronize the codec.
func (n *Node) handleInbound(conn net.Conn) {
	logger := n.logger.With("remote", conn.RemoteAddr().String())
	defer func() {
		conn.Close()
		n.lk.Lock()
		delete(n.inConns, conn)
		n.lk.Unlock()
		n.wg.Done()
	}()

	for {
		value, err := wire.Decode(conn)
		if err != nil {
			if !n.running.Load() ||
				errors.Is(err, io.EOF) ||
				errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Error("dropping connection", LabelError.L(err))
			n.msink.IncrCounterWithLabels(MetricDecodeErrorCount, 1, n.cfg.metricLabels)
			return
		}

		select {
		case n.inbox <- value:
		case <-n.shutdownCh:
			return
		}
	}
}

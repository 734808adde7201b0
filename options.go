package clockmesh

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/hashicorp/go-metrics"
)

type config struct {
	id        int
	bindAddr  string
	port      int
	peerPorts []int
	tickRate  int

	logHandler   slog.Handler
	msink        metrics.MetricSink
	metricLabels []metrics.Label
	sink         Sink

	rng *rand.Rand

	dialRetries int
	dialBackoff time.Duration
	dialTimeout time.Duration
	acceptPoll  time.Duration
	queueCap    int
}

// Option to pass to `Create`
type Option func(*config) error

// WithBindAddr specifies which interface the node listens on and
// which host its peers are dialed at. Defaults to 127.0.0.1: the mesh
// is a single-machine testbed.
func WithBindAddr(addr string) Option {
	return func(c *config) error {
		if addr != "" {
			c.bindAddr = addr
		}
		return nil
	}
}

// WithLog specifies which `slog.Handler` to use for operational logs.
// Telemetry events are NOT routed through it; see WithTelemetry.
func WithLog(handler slog.Handler) Option {
	return func(c *config) error {
		c.logHandler = handler
		return nil
	}
}

// WithTelemetry sets the sink receiving the node's ordered stream of
// LogEvent records. Defaults to a no-op sink.
func WithTelemetry(sink Sink) Option {
	return func(c *config) error {
		if sink == nil {
			sink = NopSink{}
		}
		c.sink = sink
		return nil
	}
}

// WithMetricSink allows you to choose how to collect the metrics
// emitted by the node.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(c *config) error {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		c.msink = ms
		return nil
	}
}

// WithMetricLabels adds static labels to all metrics produced by the
// node.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *config) error {
		c.metricLabels = labels
		return nil
	}
}

// WithRand injects the pseudo-random source driving the scheduler's
// action draw. Seed it for deterministic runs.
func WithRand(rng *rand.Rand) Option {
	return func(c *config) error {
		c.rng = rng
		return nil
	}
}

// WithDialRetryBudget controls how many dial attempts ConnectPeers
// makes per peer before leaving it unconnected.
func WithDialRetryBudget(attempts int) Option {
	return func(c *config) error {
		if attempts < 1 {
			return fmt.Errorf("retry budget must be at least 1, got %d", attempts)
		}
		c.dialRetries = attempts
		return nil
	}
}

// WithDialBackoff controls the pause between two dial attempts to the
// same peer.
func WithDialBackoff(backoff time.Duration) Option {
	return func(c *config) error {
		if backoff <= 0 {
			return fmt.Errorf("backoff must be positive, got %s", backoff)
		}
		c.dialBackoff = backoff
		return nil
	}
}

// WithQueueCapacity bounds the inbound FIFO. Handlers block (with
// cooperative cancellation) once the queue is full, exerting
// back-pressure on fast senders.
func WithQueueCapacity(n int) Option {
	return func(c *config) error {
		if n < 1 {
			return fmt.Errorf("queue capacity must be at least 1, got %d", n)
		}
		c.queueCap = n
		return nil
	}
}

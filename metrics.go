package clockmesh

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	MetricTickCount          = []string{"clockmesh", "tick", "count"}
	MetricEventInternalCount = []string{"clockmesh", "event", "internal", "count"}
	MetricEventSendCount     = []string{"clockmesh", "event", "send", "count"}
	MetricEventReceiveCount  = []string{"clockmesh", "event", "receive", "count"}
	MetricQueueDepth         = []string{"clockmesh", "queue", "depth"}
	MetricConnInCount        = []string{"clockmesh", "conn", "in", "count"}
	MetricConnOutCount       = []string{"clockmesh", "conn", "out", "count"}
	MetricConnOutErrorCount  = []string{"clockmesh", "conn", "out", "error", "count"}
	MetricLinkWriteErrCount  = []string{"clockmesh", "link", "write", "error", "count"}
	MetricDecodeErrorCount   = []string{"clockmesh", "decode", "error", "count"}
	MetricAcceptErrorCount   = []string{"clockmesh", "accept", "error", "count"}
)

type TelemetryLabel string

var (
	LabelError    TelemetryLabel = "error"
	LabelNodeID   TelemetryLabel = "node_id"
	LabelPeerPort TelemetryLabel = "peer_port"
	LabelClock    TelemetryLabel = "clock"
	LabelDuration TelemetryLabel = "duration"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}

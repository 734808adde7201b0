// Package analysis parses per-node telemetry logs and computes the
// offline diagnostics of a run: logical-clock jump distributions,
// queue depth, and drift (final logical clock minus elapsed
// wall-clock seconds).
package analysis

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// Event is one parsed telemetry line.
type Event struct {
	Time  time.Time
	Kind  string // INTERNAL, SEND or RECEIVE
	Peer  int    // SEND destination when present
	Clock uint64

	// QueueLen is -1 when the line carries no queue length.
	QueueLen int
}

var linePattern = regexp.MustCompile(
	`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2},\d{3} - ([A-Z]+)(?: to (\d+))?, ` +
		`System time: ([^,]+?)(?:, Queue length: (\d+))?, Logical clock: (\d+)$`)

const systemTimeLayout = "2006-01-02 15:04:05.000000"

// ParseReader extracts events from a telemetry stream. Lines that do
// not match the contract are skipped, so foreign log lines in the
// same file are tolerated.
func ParseReader(r io.Reader) ([]Event, error) {
	var events []Event
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		m := linePattern.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}

		at, err := time.Parse(systemTimeLayout, m[3])
		if err != nil {
			continue
		}

		ev := Event{Time: at, Kind: m[1], QueueLen: -1}
		if m[2] != "" {
			ev.Peer, _ = strconv.Atoi(m[2])
		}
		if m[4] != "" {
			ev.QueueLen, _ = strconv.Atoi(m[4])
		}
		ev.Clock, err = strconv.ParseUint(m[5], 10, 64)
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("analysis: reading log: %w", err)
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Time.Before(events[j].Time)
	})
	return events, nil
}

// ParseFile reads one node's append-only log file.
func ParseFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("analysis: cannot open log: %w", err)
	}
	defer f.Close()
	return ParseReader(f)
}

// JumpStats describes the distribution of consecutive logical-clock
// deltas within one node's event stream.
type JumpStats struct {
	Count  int
	Mean   float64
	Min    int64
	Max    int64
	StdDev float64
}

// Jumps computes the per-tick clock jump distribution.
func Jumps(events []Event) JumpStats {
	var stats JumpStats
	if len(events) < 2 {
		return stats
	}

	jumps := make([]int64, 0, len(events)-1)
	var sum int64
	for i := 1; i < len(events); i++ {
		j := int64(events[i].Clock) - int64(events[i-1].Clock)
		jumps = append(jumps, j)
		sum += j
	}

	stats.Count = len(jumps)
	stats.Mean = float64(sum) / float64(len(jumps))
	stats.Min = jumps[0]
	stats.Max = jumps[0]
	var sq float64
	for _, j := range jumps {
		if j < stats.Min {
			stats.Min = j
		}
		if j > stats.Max {
			stats.Max = j
		}
		d := float64(j) - stats.Mean
		sq += d * d
	}
	stats.StdDev = math.Sqrt(sq / float64(len(jumps)))
	return stats
}

// Drift is the offline diagnostic comparing logical progress to
// elapsed wall-clock time.
type Drift struct {
	FinalClock uint64
	Elapsed    time.Duration
	Drift      float64
}

// ComputeDrift reports final-clock minus elapsed-seconds for one
// node's stream; ok is false when the stream is empty.
func ComputeDrift(events []Event) (d Drift, ok bool) {
	if len(events) == 0 {
		return d, false
	}
	d.FinalClock = events[len(events)-1].Clock
	d.Elapsed = events[len(events)-1].Time.Sub(events[0].Time)
	d.Drift = float64(d.FinalClock) - d.Elapsed.Seconds()
	return d, true
}

// MaxQueueLen returns the deepest queue observed across RECEIVE
// events, or 0 when none carry a length.
func MaxQueueLen(events []Event) int {
	max := 0
	for _, ev := range events {
		if ev.QueueLen > max {
			max = ev.QueueLen
		}
	}
	return max
}

// NodeReport aggregates one node's diagnostics.
type NodeReport struct {
	Name     string
	Events   int
	Jumps    JumpStats
	MaxQueue int
	Drift    Drift
}

// Report covers every node of a run.
type Report struct {
	Nodes []NodeReport
}

// BuildReport computes per-node diagnostics, ordered by node name for
// stable rendering.
func BuildReport(perNode map[string][]Event) Report {
	names := make([]string, 0, len(perNode))
	for name := range perNode {
		names = append(names, name)
	}
	sort.Strings(names)

	var rep Report
	for _, name := range names {
		events := perNode[name]
		nr := NodeReport{
			Name:     name,
			Events:   len(events),
			Jumps:    Jumps(events),
			MaxQueue: MaxQueueLen(events),
		}
		nr.Drift, _ = ComputeDrift(events)
		rep.Nodes = append(rep.Nodes, nr)
	}
	return rep
}

// Render writes the report as plain text.
func (rep Report) Render(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "clock drift report (%d nodes)\n", len(rep.Nodes)); err != nil {
		return err
	}
	for _, nr := range rep.Nodes {
		_, err := fmt.Fprintf(w,
			"\nnode %s:\n"+
				"  events:        %d\n"+
				"  clock jumps:   count=%d mean=%.2f min=%d max=%d stddev=%.2f\n"+
				"  max queue len: %d\n"+
				"  final clock:   %d\n"+
				"  elapsed:       %.2fs\n"+
				"  drift:         %.2f\n",
			nr.Name, nr.Events,
			nr.Jumps.Count, nr.Jumps.Mean, nr.Jumps.Min, nr.Jumps.Max, nr.Jumps.StdDev,
			nr.MaxQueue,
			nr.Drift.FinalClock, nr.Drift.Elapsed.Seconds(), nr.Drift.Drift,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

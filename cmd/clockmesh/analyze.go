package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clockmesh/clockmesh"
	"github.com/clockmesh/clockmesh/pkg/analysis"
	"github.com/clockmesh/clockmesh/pkg/recording"
)

type analyzeOptions struct {
	*rootOptions
	database string
	run      string
}

func newAnalyzeCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &analyzeOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "analyze [log files...]",
		Short: "Compute clock jump and drift diagnostics from a run",
		Long: `Parse per-node telemetry (log files, or a recorded SQLite database)
and report each node's logical-clock jump distribution, deepest
observed queue, and drift: final logical clock minus elapsed
wall-clock seconds.

Example:
  clockmesh analyze logs/vm_1.log logs/vm_2.log logs/vm_3.log
  clockmesh analyze --db run.sqlite3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.database, "db", "", "read events from this SQLite database instead of log files")
	cmd.Flags().StringVar(&opts.run, "run", "", "run id to analyze (default: latest in the database)")

	return cmd
}

func runAnalyze(opts *analyzeOptions, args []string) error {
	perNode := make(map[string][]analysis.Event)

	switch {
	case opts.database != "":
		if err := collectFromDatabase(opts, perNode); err != nil {
			return err
		}
	case len(args) > 0:
		for _, path := range args {
			events, err := analysis.ParseFile(path)
			if err != nil {
				return err
			}
			name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			perNode[name] = events
		}
	default:
		return fmt.Errorf("nothing to analyze: pass log files or --db")
	}

	report := analysis.BuildReport(perNode)
	return report.Render(os.Stdout)
}

func collectFromDatabase(opts *analyzeOptions, perNode map[string][]analysis.Event) error {
	reader, err := recording.OpenReader(opts.database)
	if err != nil {
		return err
	}
	defer reader.Close()

	runID := opts.run
	if runID == "" {
		runs, err := reader.Runs()
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			return fmt.Errorf("database holds no recorded runs")
		}
		runID = runs[len(runs)-1]
	}

	nodes, err := reader.Nodes(runID)
	if err != nil {
		return err
	}
	for _, nodeID := range nodes {
		recorded, err := reader.Events(runID, nodeID)
		if err != nil {
			return err
		}
		events := make([]analysis.Event, 0, len(recorded))
		for _, rec := range recorded {
			ev := analysis.Event{
				Time:     rec.Time,
				Kind:     rec.Kind.String(),
				Clock:    rec.Clock,
				QueueLen: -1,
			}
			switch rec.Kind {
			case clockmesh.EventSend:
				ev.Peer = rec.Peer
			case clockmesh.EventReceive:
				ev.QueueLen = rec.QueueLen
			}
			events = append(events, ev)
		}
		perNode[fmt.Sprintf("vm_%d", nodeID)] = events
	}
	return nil
}

package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/edge-sim/edge-sim/sim/snapshot"
)

var (
	inspectDB  string // Badger directory written by run --snapshot-db
	inspectRun string // Run id to tabulate; empty lists runs
)

// inspectCmd reads archived runs back
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List archived runs or tabulate the numeric columns of one run",
	Run: func(cmd *cobra.Command, args []string) {
		if inspectDB == "" {
			logrus.Fatalf("--snapshot-db is required")
		}
		archive, err := snapshot.OpenArchive(inspectDB)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		defer archive.Close()

		if inspectRun == "" {
			err = listRuns(archive, os.Stdout)
		} else {
			err = tabulateRun(archive, inspectRun, os.Stdout)
		}
		if err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

func listRuns(archive *snapshot.Archive, out io.Writer) error {
	runs, err := archive.Runs()
	if err != nil {
		return err
	}
	for _, id := range runs {
		fmt.Fprintln(out, id)
	}
	return nil
}

// tabulateRun prints the wide pivot of a run: one line per tick, one
// column per numeric (category, key).
func tabulateRun(archive *snapshot.Archive, runID string, out io.Writer) error {
	stored, err := archive.Load(runID)
	if err != nil {
		return err
	}
	rows := make([]snapshot.Row, 0, len(stored))
	for _, r := range stored {
		var v any
		if err := r.Decode(&v); err != nil {
			return fmt.Errorf("tick %d %s/%s: %w", r.Tick, r.Category, r.Key, err)
		}
		rows = append(rows, snapshot.Row{Tick: r.Tick, Category: r.Category, Key: r.Key, Value: v})
	}
	table := snapshot.Pivot(rows)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprint(w, "tick")
	for _, col := range table.Columns {
		fmt.Fprintf(w, "\t%s/%s", col.Category, col.Key)
	}
	fmt.Fprintln(w)
	for _, tick := range table.Ticks {
		fmt.Fprintf(w, "%d", tick)
		for _, col := range table.Columns {
			if v, ok := table.Cell(tick, col); ok {
				fmt.Fprintf(w, "\t%.6g", v)
			} else {
				fmt.Fprint(w, "\t-")
			}
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

func init() {
	inspectCmd.Flags().StringVar(&inspectDB, "snapshot-db", "", "Badger directory written by run --snapshot-db")
	inspectCmd.Flags().StringVar(&inspectRun, "run", "", "Run id to tabulate; lists runs when empty")
	rootCmd.AddCommand(inspectCmd)
}

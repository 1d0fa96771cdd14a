package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cropscan/internal/config"
	"cropscan/internal/repository/sqlite"
)

var recentBatches int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print prediction counts and recent batches from the history database",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().IntVarP(&recentBatches, "batches", "b", 5, "Number of recent batches to list")
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	predictions := sqlite.NewPredictionRepository(db)
	batches := sqlite.NewBatchRepository(db)

	counts, err := predictions.CountByLabel()
	if err != nil {
		return err
	}
	located, err := predictions.GetLocated()
	if err != nil {
		return err
	}

	labels := make([]string, 0, len(counts))
	total := 0
	for label, n := range counts {
		labels = append(labels, label)
		total += n
	}
	sort.Strings(labels)

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "LABEL\tCOUNT\tSHARE\n")
	for _, label := range labels {
		fmt.Fprintf(w, "%s\t%d\t%.1f%%\n", label, counts[label], 100*float64(counts[label])/float64(total))
	}
	fmt.Fprintf(w, "total\t%d\t\n", total)
	fmt.Fprintf(w, "located\t%d\t\n", len(located))
	w.Flush()

	recent, err := batches.GetRecent(recentBatches)
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		return nil
	}

	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "BATCH\tSOURCE\tTOTAL\tLOCATED\tSKIPPED\tCREATED\n")
	for _, b := range recent {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n", b.ID, b.Source, b.Total, b.Located, b.Skipped,
			b.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/underground-software/singularity/internal/store"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the assignment table",
	RunE:  runDump,
}

var dumpISO bool

func init() {
	dumpCmd.Flags().BoolVarP(&dumpISO, "iso", "i", false, "print deadlines as ISO-8601 instead of unix seconds")
	rootCmd.AddCommand(dumpCmd)
}

func runDump(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	assignments, err := db.ListAssignments(context.Background())
	if err != nil {
		return fmt.Errorf("list assignments: %w", err)
	}

	for _, a := range assignments {
		fmt.Printf("%s\tinitial=%s\tpeer_review=%s\tfinal=%s\n",
			a.Name, formatDeadline(a.InitialDue), formatDeadline(a.PeerReviewDue), formatDeadline(a.FinalDue))
	}
	return nil
}

func formatDeadline(v int64) string {
	if v == store.FarFuture {
		return "FAR_FUTURE"
	}
	if !dumpISO {
		return fmt.Sprintf("%d", v)
	}
	return time.Unix(v, 0).UTC().Format(time.RFC3339)
}

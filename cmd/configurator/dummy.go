package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/underground-software/singularity/internal/store"
)

var dummyCmd = &cobra.Command{
	Use:   "dummy",
	Short: "Insert an assignment with every deadline disabled",
	RunE:  runDummy,
}

var dummyAssignment string

func init() {
	dummyCmd.Flags().StringVarP(&dummyAssignment, "assignment", "a", "", "assignment name")
	_ = dummyCmd.MarkFlagRequired("assignment")
	rootCmd.AddCommand(dummyCmd)
}

func runDummy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	db, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	id, err := db.CreateAssignment(context.Background(), store.Assignment{
		Name:          dummyAssignment,
		InitialDue:    store.FarFuture,
		PeerReviewDue: store.FarFuture,
		FinalDue:      store.FarFuture,
	})
	if err != nil {
		return fmt.Errorf("create dummy assignment %s: %w", dummyAssignment, err)
	}

	logger.Info("created dummy assignment", zap.String("name", dummyAssignment), zap.Int64("id", id))
	markDirty(cfg, logger)
	fmt.Printf("created dummy assignment %q (id=%d)\n", dummyAssignment, id)
	return nil
}

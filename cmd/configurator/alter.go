package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/underground-software/singularity/internal/store"
)

var alterCmd = &cobra.Command{
	Use:   "alter",
	Short: "Change one or more deadlines on an existing assignment",
	RunE:  runAlter,
}

var (
	alterInitialSet, alterPeerSet, alterFinalSet bool
	alterInitial, alterPeer, alterFinal          int64
)

func init() {
	alterCmd.Flags().Int64Var(&alterInitial, "initial", 0, "new initial deadline (unix seconds)")
	alterCmd.Flags().Int64Var(&alterPeer, "peer-review", 0, "new peer-review deadline (unix seconds)")
	alterCmd.Flags().Int64Var(&alterFinal, "final", 0, "new final deadline (unix seconds)")
	rootCmd.AddCommand(alterCmd)
}

func runAlter(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("alter requires exactly one argument: the assignment name")
	}
	name := args[0]

	var initial, peer, final *int64
	if cmd.Flags().Changed("initial") {
		initial = &alterInitial
	}
	if cmd.Flags().Changed("peer-review") {
		peer = &alterPeer
	}
	if cmd.Flags().Changed("final") {
		final = &alterFinal
	}
	if initial == nil && peer == nil && final == nil {
		return fmt.Errorf("alter requires at least one of --initial, --peer-review, --final")
	}

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

	affected, err := db.AlterAssignment(context.Background(), name, initial, peer, final)
	if err != nil {
		return fmt.Errorf("alter assignment %s: %w", name, err)
	}
	if affected == 0 {
		return fmt.Errorf("no assignment named %q", name)
	}

	logger.Info("altered assignment", zap.String("name", name))
	markDirty(cfg, logger)
	fmt.Printf("altered assignment %q\n", name)
	return nil
}

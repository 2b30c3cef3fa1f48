package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "Delete an assignment",
	RunE:  runRemove,
}

func init() {
	rootCmd.AddCommand(removeCmd)
}

func runRemove(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("remove requires exactly one argument: the assignment name")
	}
	name := args[0]

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

	affected, err := db.RemoveAssignment(context.Background(), name)
	if err != nil {
		return fmt.Errorf("remove assignment %s: %w", name, err)
	}
	if affected == 0 {
		return fmt.Errorf("no assignment named %q", name)
	}

	logger.Info("removed assignment", zap.String("name", name))
	markDirty(cfg, logger)
	fmt.Printf("removed assignment %q\n", name)
	return nil
}

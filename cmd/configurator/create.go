package main

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/underground-software/singularity/internal/store"
)

// createInput validates the create subcommand's flags before they ever
// reach PersistentStore: assignment names must be non-empty and deadlines
// must be non-negative unix timestamps.
type createInput struct {
	Name          string `validate:"required"`
	InitialDue    int64  `validate:"gte=0"`
	PeerReviewDue int64  `validate:"gte=0"`
	FinalDue      int64  `validate:"gte=0"`
}

var structValidate = validator.New()

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new assignment",
	RunE:  runCreate,
}

var (
	createInitial, createPeer, createFinal int64
)

func init() {
	createCmd.Flags().Int64Var(&createInitial, "initial", 0, "initial deadline (unix seconds)")
	createCmd.Flags().Int64Var(&createPeer, "peer-review", 0, "peer-review deadline (unix seconds)")
	createCmd.Flags().Int64Var(&createFinal, "final", 0, "final deadline (unix seconds)")
	_ = createCmd.MarkFlagRequired("initial")
	_ = createCmd.MarkFlagRequired("peer-review")
	_ = createCmd.MarkFlagRequired("final")
	rootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("create requires exactly one argument: the assignment name")
	}
	in := createInput{Name: args[0], InitialDue: createInitial, PeerReviewDue: createPeer, FinalDue: createFinal}
	if err := structValidate.Struct(in); err != nil {
		return fmt.Errorf("invalid assignment: %w", err)
	}
	if in.InitialDue != store.FarFuture && in.PeerReviewDue != store.FarFuture && in.FinalDue != store.FarFuture {
		if !(in.InitialDue <= in.PeerReviewDue && in.PeerReviewDue <= in.FinalDue) {
			return fmt.Errorf("deadlines must be ordered initial <= peer_review <= final")
		}
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

	id, err := db.CreateAssignment(context.Background(), store.Assignment{
		Name:          in.Name,
		InitialDue:    in.InitialDue,
		PeerReviewDue: in.PeerReviewDue,
		FinalDue:      in.FinalDue,
	})
	if err != nil {
		return fmt.Errorf("create assignment %s: %w", in.Name, err)
	}

	logger.Info("created assignment", zap.String("name", in.Name), zap.Int64("id", id))
	markDirty(cfg, logger)
	fmt.Printf("created assignment %q (id=%d)\n", in.Name, id)
	return nil
}

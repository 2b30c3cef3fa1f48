package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/underground-software/singularity/internal/orchestrator"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Force a specific (assignment, stage) deadline to now",
	RunE:  runTrigger,
}

var (
	triggerAssignment string
	triggerComponent  string
)

func init() {
	triggerCmd.Flags().StringVarP(&triggerAssignment, "assignment", "a", "", "assignment name")
	triggerCmd.Flags().StringVarP(&triggerComponent, "component", "c", "", "stage: initial, peer, or final")
	_ = triggerCmd.MarkFlagRequired("assignment")
	_ = triggerCmd.MarkFlagRequired("component")
	rootCmd.AddCommand(triggerCmd)
}

func runTrigger(cmd *cobra.Command, args []string) error {
	stage, ok := stageFromFlag(triggerComponent)
	if !ok {
		return fmt.Errorf("unknown component %q: must be initial, peer, or final", triggerComponent)
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

	asn, err := db.GetAssignmentByName(context.Background(), triggerAssignment)
	if err != nil {
		return fmt.Errorf("lookup assignment %s: %w", triggerAssignment, err)
	}

	payload := orchestrator.EncodeTrigger(asn.ID, stage)
	if err := orchestrator.WriteTriggerFile(cfg.Orchestrator.TriggerDir, payload); err != nil {
		return fmt.Errorf("write trigger file: %w", err)
	}

	logger.Info("wrote trigger file", zap.String("assignment", asn.Name), zap.String("component", triggerComponent), zap.Int64("payload", payload))
	fmt.Printf("triggered %s:%s (payload=%d)\n", asn.Name, triggerComponent, payload)
	return nil
}

func stageFromFlag(component string) (orchestrator.Stage, bool) {
	switch component {
	case "initial":
		return orchestrator.StageInitial, true
	case "peer":
		return orchestrator.StagePeerReview, true
	case "final":
		return orchestrator.StageFinal, true
	default:
		return 0, false
	}
}

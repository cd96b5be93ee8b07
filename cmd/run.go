package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/marlowe-ops/flowcraft/checkpoint"
	"github.com/marlowe-ops/flowcraft/engine"
	"github.com/marlowe-ops/flowcraft/options"
	"github.com/marlowe-ops/flowcraft/providers"
	"github.com/marlowe-ops/flowcraft/safety"
	"github.com/marlowe-ops/flowcraft/session"
	"github.com/marlowe-ops/flowcraft/store"
	"github.com/marlowe-ops/flowcraft/variables"
	"github.com/marlowe-ops/flowcraft/workflow"
)

// runCmd is the execution entry point. Grounded on the teacher's
// cmd/process.go: read the YAML file(s), print a per-step summary
// before executing, run, and report the first failure without
// aborting the rest of the file list.
var runCmd = &cobra.Command{
	Use:   "run [files...]",
	Short: "Execute one or more pipeline files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := buildRegistry(testMode)

		var failed bool
		for _, file := range args {
			if verbose {
				log.Printf("[DEBUG] reading pipeline file: %s\n", file)
			}
			if err := runOne(cmd.Context(), reg, file); err != nil {
				log.Printf("pipeline %s failed: %v\n", file, err)
				failed = true
				continue
			}
			fmt.Printf("pipeline %s completed\n", file)
		}
		if failed {
			return fmt.Errorf("one or more pipelines failed")
		}
		return nil
	},
}

func runOne(ctx context.Context, reg *providers.Registry, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}

	wf, err := workflow.Parse(data)
	if err != nil {
		return err
	}
	if err := workflow.Validate(wf); err != nil {
		return err
	}
	wf.ApplyDefaults()

	fmt.Println("\nConfiguration:")
	for _, s := range wf.Steps {
		fmt.Printf("- %s (%s)\n", s.Name, s.Type)
	}
	fmt.Println()

	workspaceDir := firstNonEmpty(workspaceDirFlag, os.Getenv("PIPELINE_WORKSPACE_DIR"), wf.WorkspaceDir, ".")
	outputDir := firstNonEmpty(outputDirFlag, os.Getenv("PIPELINE_OUTPUT_DIR"), wf.Defaults.OutputDir, workspaceDir)
	if err := os.MkdirAll(workspaceDir, 0755); err != nil {
		return fmt.Errorf("create workspace dir: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	root := safety.Root(wf.Name, safety.DefaultLimits)
	root.WorkspaceDir = workspaceDir
	safetyRegistry := safety.NewRegistry()
	safetyRegistry.Register(root)
	defer safetyRegistry.Unregister(root)

	ec := &engine.Context{
		Store:                 store.New(),
		Vars:                  variables.New(),
		WorkspaceDir:          workspaceDir,
		OutputDir:             outputDir,
		Providers:             reg,
		Sessions:              session.NewManager(session.NewMemoryStore()),
		Safety:                root,
		SafetyRegistry:        safetyRegistry,
		Probe:                 safety.DefaultProbe,
		EnvMode:               resolveEnvMode(),
		WorkflowDefaultPreset: wf.Defaults.ClaudePreset,
		Functions:             wf.Functions,
	}

	checkpointDir := firstNonEmpty(checkpointDirFlag, os.Getenv("PIPELINE_CHECKPOINT_DIR"), wf.CheckpointDir)
	if wf.CheckpointEnabled || checkpointDir != "" {
		if checkpointDir == "" {
			checkpointDir = filepath.Join(workspaceDir, ".checkpoints")
		}
		cp, cerr := checkpoint.New(checkpointDir)
		if cerr != nil {
			return fmt.Errorf("checkpoint init: %w", cerr)
		}
		ec.Checkpoint = cp
		if verbose {
			log.Printf("[DEBUG] checkpointing to %s\n", checkpointDir)
		}
	}

	if err := engine.Run(ctx, ec, wf.Steps); err != nil {
		return err
	}

	summary := ec.Store.Summary()
	fmt.Printf("steps: %d succeeded, %d failed, cost %.4f\n", summary.Successful, summary.Failed, summary.TotalCost)
	return nil
}

func resolveEnvMode() options.EnvironmentMode {
	switch os.Getenv("PIPELINE_ENV_MODE") {
	case "production":
		return options.EnvProduction
	case "test":
		return options.EnvTest
	default:
		return options.EnvDevelopment
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

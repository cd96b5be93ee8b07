// Package cmd implements the cobra CLI front end: a thin driver over
// the engine that loads environment configuration, wires a
// providers.Registry per TEST_MODE, and dispatches to the run/validate
// subcommands.
//
// Grounded on the teacher's cmd/root.go: PersistentPreRunE loading
// environment configuration once for every subcommand, the package-level
// verbose/debug flags threaded through log output, and SilenceErrors/
// SilenceUsage plus a custom Execute() wrapper. The natural-language
// `generate` subcommand isn't carried over — this spec has no workflow
// generation concern — but the env-loading and logging shape is kept.
package cmd

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/marlowe-ops/flowcraft/providers"
)

var verbose bool
var debug bool

// testMode selects which providers.Registry wiring is active:
// "mock" (default), "live", or "mixed" (live Claude/Gemini where an
// API key is actually set, mock otherwise).
var testMode string

var workspaceDirFlag string
var outputDirFlag string
var checkpointDirFlag string

var rootCmd = &cobra.Command{
	Use:   "flowcraft",
	Short: "An LLM pipeline orchestrator",
	Long: `flowcraft executes YAML-defined LLM pipelines: chains of Claude
and Gemini calls, data transforms, loops, and nested pipelines, with
checkpointing and safety limits.

Getting started:
  1. flowcraft validate pipeline.yaml   Check a pipeline file for structural errors
  2. flowcraft run pipeline.yaml        Execute it

Configuration is read from environment variables (TEST_MODE,
PIPELINE_WORKSPACE_DIR, PIPELINE_OUTPUT_DIR, PIPELINE_CHECKPOINT_DIR,
PIPELINE_DEBUG, GEMINI_API_KEY, ANTHROPIC_API_KEY) and an optional
.env file in the working directory.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.SetFlags(0)

		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			log.Printf("[WARN] failed to load .env: %v\n", err)
		}

		if testMode == "" {
			testMode = os.Getenv("TEST_MODE")
		}
		if testMode == "" {
			testMode = "mock"
		}
		if testMode != "mock" && testMode != "live" && testMode != "mixed" {
			return fmt.Errorf("invalid TEST_MODE %q: must be mock, live, or mixed", testMode)
		}

		if os.Getenv("PIPELINE_DEBUG") != "" {
			debug = true
		}
		if debug {
			verbose = true
		}

		if verbose {
			log.Printf("[DEBUG] test mode: %s\n", testMode)
		}

		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// buildRegistry wires a providers.Registry per testMode: mock
// implementations by default, real Anthropic/Gemini clients for
// "live", and — for "mixed" — a live client only on whichever side
// actually has an API key configured, mock on the other. This lets a
// partially-configured environment still exercise real provider
// behavior where it can.
func buildRegistry(mode string) *providers.Registry {
	reg := providers.NewRegistry()

	anthropicKey := os.Getenv("ANTHROPIC_API_KEY")
	geminiKey := os.Getenv("GEMINI_API_KEY")

	useLiveClaude := (mode == "live" || mode == "mixed") && anthropicKey != ""
	useLiveGemini := (mode == "live" || mode == "mixed") && geminiKey != ""

	if useLiveClaude {
		reg.RegisterAssistant("claude", providers.NewAnthropicAssistant(anthropicKey, ""))
	} else {
		if mode == "live" {
			log.Printf("[WARN] TEST_MODE=live but ANTHROPIC_API_KEY is unset; falling back to mock Claude\n")
		}
		reg.RegisterAssistant("claude", &providers.MockAssistant{})
	}

	if useLiveGemini {
		reg.RegisterStructuredLLM("gemini", providers.NewGeminiStructuredLLM(geminiKey, ""))
	} else {
		if mode == "live" {
			log.Printf("[WARN] TEST_MODE=live but GEMINI_API_KEY is unset; falling back to mock Gemini\n")
		}
		reg.RegisterStructuredLLM("gemini", &providers.MockStructuredLLM{})
	}

	return reg
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&testMode, "test-mode", "", "mock|live|mixed (defaults to $TEST_MODE, else mock)")
	rootCmd.PersistentFlags().StringVar(&workspaceDirFlag, "workspace-dir", "", "override $PIPELINE_WORKSPACE_DIR")
	rootCmd.PersistentFlags().StringVar(&outputDirFlag, "output-dir", "", "override $PIPELINE_OUTPUT_DIR")
	rootCmd.PersistentFlags().StringVar(&checkpointDirFlag, "checkpoint-dir", "", "override $PIPELINE_CHECKPOINT_DIR")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

var version string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if version == "" {
			version = "dev"
		}
		log.Printf("flowcraft version: %s\n", version)
	},
}

func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		errMsg := err.Error()
		if strings.Contains(errMsg, "unknown command") {
			cmdPath := strings.TrimPrefix(errMsg, "unknown command ")
			if i := strings.Index(cmdPath, ` for "flowcraft"`); i != -1 {
				cmdPath = cmdPath[:i]
			}
			cmdPath = strings.Trim(cmdPath, `"`)
			if _, statErr := os.Stat(cmdPath); statErr == nil {
				log.Printf("To run a pipeline, use the 'run' command:\n\n   flowcraft run %s\n\n", cmdPath)
				return
			}
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marlowe-ops/flowcraft/workflow"
)

// validateCmd checks a pipeline file's structural invariants (spec.md
// §4.11 item 2) without executing it: unique step names, known step
// types, well-formed prompts, and function-table references.
var validateCmd = &cobra.Command{
	Use:   "validate [files...]",
	Short: "Check pipeline files for structural errors without running them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var failed bool
		for _, file := range args {
			if err := validateOne(file); err != nil {
				fmt.Printf("%s: invalid: %v\n", file, err)
				failed = true
				continue
			}
			fmt.Printf("%s: valid\n", file)
		}
		if failed {
			return fmt.Errorf("one or more pipelines failed validation")
		}
		return nil
	},
}

func validateOne(file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	wf, err := workflow.Parse(data)
	if err != nil {
		return err
	}
	return workflow.Validate(wf)
}

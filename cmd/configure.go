package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var configureListFlag bool

// configureCmd writes provider API keys to a .env file in the current
// directory. Grounded on the teacher's configure.go (interactive
// bufio.NewReader(os.Stdin) prompting plus a --list flag reporting
// current configuration), trimmed to the two providers this spec's
// Assistant/Structured LLM Providers actually use — the teacher's
// multi-provider model catalog browsing (OpenAI/Ollama/DeepSeek/xAI/
// vLLM model listing, database-backed encrypted config) has no
// SPEC_FULL.md component to serve, since this orchestrator only ever
// talks to Claude and Gemini.
var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Set up Anthropic and Gemini API keys",
	Long: `Configure writes ANTHROPIC_API_KEY and GEMINI_API_KEY to a .env
file in the current directory, read on every subsequent run/validate
invocation. Use --list to show which keys are currently set without
prompting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if configureListFlag {
			printConfiguredKeys()
			return nil
		}
		return promptAndWriteEnv()
	},
}

func printConfiguredKeys() {
	for _, name := range []string{"ANTHROPIC_API_KEY", "GEMINI_API_KEY"} {
		if v := os.Getenv(name); v != "" {
			fmt.Printf("%s: set (%d chars)\n", name, len(v))
		} else {
			fmt.Printf("%s: not set\n", name)
		}
	}
}

func promptAndWriteEnv() error {
	reader := bufio.NewReader(os.Stdin)

	anthropicKey, err := promptLine(reader, "Anthropic API key (blank to skip): ")
	if err != nil {
		return err
	}
	geminiKey, err := promptLine(reader, "Gemini API key (blank to skip): ")
	if err != nil {
		return err
	}

	var b strings.Builder
	if anthropicKey != "" {
		fmt.Fprintf(&b, "ANTHROPIC_API_KEY=%s\n", anthropicKey)
	}
	if geminiKey != "" {
		fmt.Fprintf(&b, "GEMINI_API_KEY=%s\n", geminiKey)
	}
	if b.Len() == 0 {
		fmt.Println("no keys entered, .env not written")
		return nil
	}

	if err := os.WriteFile(".env", []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("write .env: %w", err)
	}
	fmt.Println("wrote .env")
	return nil
}

func promptLine(reader *bufio.Reader, prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func init() {
	configureCmd.Flags().BoolVar(&configureListFlag, "list", false, "show which API keys are currently set")
	rootCmd.AddCommand(configureCmd)
}

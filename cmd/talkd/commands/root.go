// Package commands implements the talkd command tree.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile  string
	logLevel string
)

// rootCmd is the base command when talkd is called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "talkd",
	Short: "Voice conversation daemon for the documentation client",
	Long: `talkd runs the continuous voice conversation engine behind the
documentation client's Talk Mode.

A browser page connects the session websocket and lends the daemon its
speech recognition and synthesis. The daemon segments what the user
says into utterances, fetches answers, speaks them back through the
page, and re-arms listening, until someone says "stop".

Examples:
  # Run with the built-in template answers
  talkd serve

  # Run against a documentation answer service
  talkd serve --config talkd.yaml

  # Inject credentials from the environment
  OPENAI_API_KEY=sk-... talkd serve --config talkd.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// Package main provides the CLI entry point for specbot, a declarative
// Discord bot runtime driven by a single YAML spec document.
//
// # Basic Usage
//
// Start the bot:
//
//	specbot run --config specbot.yaml
//
// Check a spec document without connecting:
//
//	specbot validate --spec bot.yaml
//
// # Environment Variables
//
//   - SPECBOT_CONFIG: Path to the configuration file (default: specbot.yaml)
//   - DISCORD_TOKEN: Bot token, referenced from the config as ${DISCORD_TOKEN}
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "specbot",
		Short: "Declarative Discord bot runtime",
		Long: `specbot runs a Discord bot described entirely by a YAML spec
document: commands, events, flows, scheduled jobs, automod rules,
components, and state, with no code required.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCommand())
	root.AddCommand(newValidateCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "specbot %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

func configPath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("SPECBOT_CONFIG"); env != "" {
		return env
	}
	return "specbot.yaml"
}

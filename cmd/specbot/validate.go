package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/specbot/internal/spec"
)

func newValidateCommand() *cobra.Command {
	var specFlag string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse and normalize a spec document without connecting",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := specFlag
			if path == "" && len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				path = "bot.yaml"
			}

			doc, err := spec.Load(path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			out := cmd.OutOrStdout()
			name := doc.Identity.Name
			if name == "" {
				name = "(unnamed)"
			}
			fmt.Fprintf(out, "%s: valid\n", path)
			fmt.Fprintf(out, "  bot:        %s\n", name)
			fmt.Fprintf(out, "  commands:   %d\n", len(doc.Commands))
			fmt.Fprintf(out, "  menus:      %d\n", len(doc.ContextMenus))
			fmt.Fprintf(out, "  events:     %d\n", len(doc.Events))
			fmt.Fprintf(out, "  flows:      %d\n", len(doc.Flows))
			fmt.Fprintf(out, "  jobs:       %d\n", len(doc.Scheduler.Jobs))
			fmt.Fprintf(out, "  rules:      %d\n", len(doc.Automod.Rules))
			fmt.Fprintf(out, "  variables:  %d\n", len(doc.State.Variables))
			fmt.Fprintf(out, "  tables:     %d\n", len(doc.State.Tables))
			return nil
		},
	}

	cmd.Flags().StringVarP(&specFlag, "spec", "s", "", "path to spec document (default: bot.yaml)")
	return cmd
}

package main

import (
	"fmt"

	"amethyst/internal/dsl"
	"amethyst/internal/schema"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newLintCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lint [dir]",
		Short: "Check schema files for blocking issues",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.Schema.Dir
			if len(args) == 1 {
				dir = args[0]
			}
			entities, err := dsl.LoadAllEntities(dir)
			if err != nil {
				return err
			}

			issues := schema.LintEntities(entities)
			if len(issues) == 0 {
				s, err := schema.New(entities, schemaOptions(a.cfg))
				if err != nil {
					return err
				}
				issues = s.Lint()
			}

			out := cmd.OutOrStdout()
			for _, it := range issues {
				fmt.Fprintln(out, it.String())
			}
			if len(issues) > 0 {
				return errors.Errorf("%s: %d issue(s)", dir, len(issues))
			}
			fmt.Fprintf(out, "%s: %d entities, ok\n", dir, len(entities))
			return nil
		},
	}
}

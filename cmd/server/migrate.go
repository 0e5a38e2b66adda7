package main

import (
	"fmt"
	"sort"

	"amethyst/internal/schema"
	"amethyst/internal/store/sqlstore"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables, indexes and foreign keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if cfg.Store.Driver == "memory" {
				return errors.New("migrate needs store.driver postgres or sqlite")
			}
			s, err := schema.Load(cfg.Schema.Dir, schemaOptions(cfg))
			if err != nil {
				return err
			}
			st, err := openSQLStore(cmd.Context(), cfg, s)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Migrate(cmd.Context()); err != nil {
				return err
			}
			a.log.Info().Str("driver", cfg.Store.Driver).Int("entities", len(s.Entities())).Msg("migrated")
			return nil
		},
	}
}

func newDDLCmd(a *app) *cobra.Command {
	var dialect string
	cmd := &cobra.Command{
		Use:   "ddl",
		Short: "Print DDL for the current schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dialect == "" {
				dialect = a.cfg.Store.Driver
			}
			if dialect == "memory" {
				dialect = sqlstore.Postgres
			}
			d, err := sqlstore.DialectFor(dialect)
			if err != nil {
				return err
			}
			s, err := schema.Load(a.cfg.Schema.Dir, schemaOptions(a.cfg))
			if err != nil {
				return err
			}
			ddl, err := sqlstore.GenerateDDL(d, s)
			if err != nil {
				return err
			}

			keys := make([]string, 0, len(ddl))
			for k := range ddl {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			out := cmd.OutOrStdout()
			for _, k := range keys {
				fmt.Fprintf(out, "-- %s\n%s\n\n", k, ddl[k])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dialect, "dialect", "", "postgres|sqlite (default: store.driver)")
	return cmd
}

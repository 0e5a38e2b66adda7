package main

import (
	"amethyst/internal/config"
	"amethyst/internal/logger"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app: состояние, общее для команд; заполняется в PersistentPreRunE.
type app struct {
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
	log     zerolog.Logger
}

// flagKeys: persistent-флаги и ключи конфига, которые они перекрывают.
var flagKeys = map[string]string{
	"addr":       "server.addr",
	"schema-dir": "schema.dir",
	"store":      "store.driver",
	"dsn":        "store.dsn",
	"log-level":  "log.level",
	"log-format": "log.format",
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.NewViper()}

	root := &cobra.Command{
		Use:   "amethyst",
		Short: "Schema-driven REST API over DSL entities",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			for flag, key := range flagKeys {
				if err := a.v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return errors.Wrapf(err, "bind flag %s", flag)
				}
			}
			cfg, err := config.Load(a.v, a.cfgFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logger.NewWithWriter(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, cmd.ErrOrStderr())
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default: ./amethyst.{yaml,json,toml} if present)")
	pf.String("addr", "", "HTTP listen address")
	pf.String("schema-dir", "", "directory with *.dsl / *.yaml schemas")
	pf.String("store", "", "store driver: memory|postgres|sqlite")
	pf.String("dsn", "", "database DSN for postgres/sqlite")
	pf.String("log-level", "", "log level: trace|debug|info|warn|error")
	pf.String("log-format", "", "log format: json|console")

	root.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newDDLCmd(a),
		newLintCmd(a),
		newConfigCmd(a),
	)
	return root
}

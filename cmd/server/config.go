package main

import (
	"amethyst/internal/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "******"

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(redact(*a.cfg))
		},
	})
	return cmd
}

// redact скрывает секреты: токены, пароль redis, DSN.
func redact(cfg config.Config) config.Config {
	tokens := make([]config.TokenConfig, len(cfg.Auth.Tokens))
	for i, t := range cfg.Auth.Tokens {
		t.Token = redacted
		t.Roles = append([]string(nil), t.Roles...)
		tokens[i] = t
	}
	cfg.Auth.Tokens = tokens
	if cfg.Cache.Redis.Password != "" {
		cfg.Cache.Redis.Password = redacted
	}
	if cfg.Store.DSN != "" {
		cfg.Store.DSN = redacted
	}
	return cfg
}

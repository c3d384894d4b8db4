package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/exact-go/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigSetCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "init",
		Short:       "Write a commented default config file",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runConfigInit,
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <section.key> <value>",
		Short: "Set one config value, keeping comments and layout",
		Long: `Set one config value. The file is created from the default template when
it does not exist, and the change is refused if the result would not load.

Examples:
  exact-go config set api.client_id 0f0e3c0a-...
  exact-go config set mirror.resources '["accounts", "items"]'
  exact-go config set mirror.interval 15m`,
		Args:        cobra.ExactArgs(2),
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runConfigSet,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := *cc.Config()
	w := cmd.OutOrStdout()

	if cfg.API.ClientSecret != "" {
		cfg.API.ClientSecret = "********"
	}

	if ok, err := writeStructured(w, cc.Flags.Output, cfg); ok {
		return err
	}

	return config.RenderEffective(&cfg, cc.Holder.Path(), w)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	path := config.ConfigPath(cc.Env, cc.CLI)

	if err := config.CreateDefault(path); err != nil {
		if errors.Is(err, config.ErrConfigExists) {
			return fmt.Errorf("%w (use 'exact-go config set' to change it)", err)
		}

		return err
	}

	cc.Statusf("Created %s\n", path)

	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	path := config.ConfigPath(cc.Env, cc.CLI)

	if err := config.SetKey(path, args[0], args[1]); err != nil {
		return err
	}

	cc.Logger.Debug("config key set", "path", path, "key", args[0])
	cc.Statusf("Set %s in %s\n", args[0], path)

	return nil
}

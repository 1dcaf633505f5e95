package main

import (
	"github.com/spf13/cobra"

	"github.com/tonimelisma/gdrive-go/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

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

// configJSON mirrors config.Config for `config show --json`, with the
// client secret masked.
type configJSON struct {
	Path    string               `json:"path"`
	Auth    authJSON             `json:"auth"`
	Network config.NetworkConfig `json:"network"`
	Logging config.LoggingConfig `json:"logging"`
	Changes config.ChangesConfig `json:"changes"`
	Metrics config.MetricsConfig `json:"metrics"`
}

type authJSON struct {
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	TokenFile    string `json:"token_file"`
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	rc := cc.Cfg

	if !cc.Flags.JSON {
		return config.RenderEffective(rc, cc.Out)
	}

	out := configJSON{
		Path: rc.Path,
		Auth: authJSON{
			ClientID:  rc.Auth.ClientID,
			TokenFile: rc.Auth.TokenFile,
		},
		Network: rc.Network,
		Logging: rc.Logging,
		Changes: rc.Changes,
		Metrics: rc.Metrics,
	}

	if rc.Auth.ClientSecret != "" {
		out.Auth.ClientSecret = "********"
	}

	return printJSON(cc.Out, out)
}

package cli

import (
	"github.com/spf13/cobra"
)

func newConfigCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "show the auth configuration published by the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			remote, err := a.flow.FetchConfig(cmd.Context())
			if err != nil {
				return err
			}
			rows := [][]string{
				{"Server", a.cfg.BaseURLOrDefault()},
				{"Config file", a.configPath},
				{"Client ID (local)", a.cfg.ClientIDOrDefault()},
				{"Client ID (server)", remote.ClientID},
				{"Auth base URL", remote.BaseURL},
				{"Scope", remote.Scope},
				{"Login required", boolString(remote.Required)},
			}
			return renderTable(cmd.OutOrStdout(), []string{"Setting", "Value"}, rows)
		},
	}
}

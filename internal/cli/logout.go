package cli

import (
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const YesFlag = "yes"

func newLogoutCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "remove the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			yes, _ := cmd.Flags().GetBool(YesFlag)
			if !yes {
				confirmed := false
				prompt := &survey.Confirm{
					Message: "Log out and remove the stored token?",
					Default: true,
				}
				if err := survey.AskOne(prompt, &confirmed); err != nil {
					return err
				}
				if !confirmed {
					return nil
				}
			}
			a.flow.Logout()
			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("Logged out."))
			return nil
		},
	}
	cmd.Flags().BoolP(YesFlag, "y", false, "Do not ask for confirmation")
	return cmd
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/waabox/agentdeck/internal/auth"
	"github.com/waabox/agentdeck/internal/tui"
)

func newLoginCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "sign in with the device authorization flow",
		Long: `login requests a device code, shows the verification URL and user code,
and waits until the code is approved in a browser. The token is stored in the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			noTUI, _ := cmd.Flags().GetBool(NoTUIFlag)
			if err := a.runLogin(cmd.Context(), cmd.ErrOrStderr(), noTUI, nil); err != nil {
				return err
			}
			a.printLoggedIn(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().Bool(NoTUIFlag, false, "Print the code instead of showing the interactive prompt")
	return cmd
}

// runLogin drives one login to completion. When started is non-nil the login
// is already in progress and only needs to be shown and waited for.
func (a *app) runLogin(ctx context.Context, w io.Writer, noTUI bool, started *auth.Presentation) error {
	if !noTUI {
		return tui.RunLogin(ctx, a.flow, started)
	}

	login := started
	if login == nil {
		p, err := a.flow.RequestDeviceCode(ctx)
		if err != nil {
			return fmt.Errorf("starting login: %w", err)
		}
		login = &p
	}
	printCode(w, *login)

	err := a.flow.Wait(ctx)
	if errors.Is(err, context.Canceled) {
		a.flow.Cancel()
		return auth.ErrLoginCancelled
	}
	var timeoutErr *auth.TimeoutError
	if errors.As(err, &timeoutErr) {
		return fmt.Errorf("%w: run 'agentdeck login' to get a new code", err)
	}
	return err
}

func printCode(w io.Writer, p auth.Presentation) {
	uri := p.VerificationURIComplete
	if uri == "" {
		uri = p.VerificationURI
	}
	fmt.Fprintf(w, "Open:       %s\n", color.CyanString(uri))
	fmt.Fprintf(w, "Enter code: %s\n", color.New(color.Bold).Sprint(p.UserCode))
	fmt.Fprintln(w, "Waiting for authorization...")
}

func (a *app) printLoggedIn(w io.Writer) {
	if label := userLabel(a.session.User()); label != "" {
		fmt.Fprintln(w, color.GreenString("Logged in as %s.", label))
		return
	}
	fmt.Fprintln(w, color.GreenString("Logged in."))
}

package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/waabox/agentdeck/internal/api"
	"github.com/waabox/agentdeck/internal/domain"
)

const (
	MethodFlag = "method"
	DataFlag   = "data"
)

func newRequestCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request <path>",
		Short: "send an authenticated request to the runner API",
		Long: `request sends one authenticated request and prints the response body.

If the server asks for a login, the login prompt is shown and the request is
sent again once the login succeeds.`,
		Example: `  agentdeck request /api/tasks
  agentdeck request -X POST -d '{"prompt":"summarise the logs"}' /api/tasks`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			method, _ := cmd.Flags().GetString(MethodFlag)
			data, _ := cmd.Flags().GetString(DataFlag)
			noTUI, _ := cmd.Flags().GetBool(NoTUIFlag)

			opts := api.RequestOptions{Method: strings.ToUpper(method)}
			if data != "" {
				if !json.Valid([]byte(data)) {
					return fmt.Errorf("--%s is not valid JSON", DataFlag)
				}
				opts.Body = []byte(data)
				if opts.Method == http.MethodGet {
					opts.Method = http.MethodPost
				}
			}

			ctx := cmd.Context()
			res := a.api.Do(ctx, args[0], opts)
			if res.AuthInProgress {
				if err := a.runLogin(ctx, cmd.ErrOrStderr(), noTUI, res.Login); err != nil {
					return err
				}
				res = a.api.Do(ctx, args[0], opts)
			}
			return printResult(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringP(MethodFlag, "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringP(DataFlag, "d", "", "JSON request body")
	cmd.Flags().Bool(NoTUIFlag, false, "Print the login code instead of showing the interactive prompt")
	return cmd
}

func printResult(w io.Writer, res api.Result) error {
	switch {
	case res.AuthInProgress:
		return fmt.Errorf("%w: login still required", domain.ErrUnauthorized)
	case res.Status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, res.Message)
	case res.Status == 0:
		return fmt.Errorf("request failed: %s", res.Message)
	}

	if len(res.Data) > 0 {
		var buf bytes.Buffer
		if err := json.Indent(&buf, res.Data, "", "  "); err == nil {
			buf.WriteByte('\n')
			w.Write(buf.Bytes())
		}
	} else if res.Text != "" {
		fmt.Fprintln(w, res.Text)
	}

	if !res.OK {
		return fmt.Errorf("server returned %d: %s", res.Status, res.Message)
	}
	return nil
}

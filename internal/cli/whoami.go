package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/waabox/agentdeck/internal/auth"
	"github.com/waabox/agentdeck/internal/domain"
)

func newWhoamiCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "verify the stored token and show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token := a.session.Token()
			if token == "" {
				return domain.ErrNotLoggedIn
			}
			if !a.flow.VerifyToken(cmd.Context()) {
				return fmt.Errorf("%w: the stored token was rejected", domain.ErrUnauthorized)
			}

			rows := profileRows(a.session.User())
			if exp, ok := auth.TokenExpiry(token); ok {
				rows = append(rows, []string{"Token expires", exp.Local().Format(time.RFC1123)})
			}
			rows = append(rows, []string{"Server", a.cfg.BaseURLOrDefault()})
			return renderTable(cmd.OutOrStdout(), []string{"Field", "Value"}, rows)
		},
	}
}

func profileRows(p *domain.Profile) [][]string {
	if p == nil {
		return [][]string{{"User", "(no profile returned)"}}
	}
	var rows [][]string
	add := func(k, v string) {
		if v != "" {
			rows = append(rows, []string{k, v})
		}
	}
	add("ID", string(p.ID))
	add("Username", p.Username)
	add("Name", p.Name)
	add("Email", p.Email)
	return rows
}

func renderTable(w io.Writer, header []string, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	table.Header(header)
	for _, r := range rows {
		if err := table.Append(r); err != nil {
			return err
		}
	}
	return table.Render()
}

func boolString(b bool) string {
	return strconv.FormatBool(b)
}

// Package cli wires the agentdeck commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/waabox/agentdeck/internal/api"
	"github.com/waabox/agentdeck/internal/auth"
	"github.com/waabox/agentdeck/internal/config"
	"github.com/waabox/agentdeck/internal/domain"
	"github.com/waabox/agentdeck/internal/logging"
)

const (
	ConfigFlag    = "config"
	EnvFileFlag   = "env-file"
	EphemeralFlag = "ephemeral"
	VerboseFlag   = "verbose"
	NoTUIFlag     = "no-tui"
)

// app holds everything a command needs. It is built once per invocation in
// the root command's PersistentPreRunE.
type app struct {
	cfg        config.Config
	configPath string
	logger     *slog.Logger
	session    *auth.Session
	flow       *auth.Flow
	api        *api.Client
}

// NewRootCommand builds the agentdeck command tree.
func NewRootCommand(version string) *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "agentdeck",
		Short:         "command line client for the agent task runner",
		Long:          `agentdeck signs in to an agent task runner with the OAuth device flow and sends authenticated API requests.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.SetVersionTemplate("agentdeck {{.Version}}\n")

	root.PersistentFlags().String(ConfigFlag, "", "Path to the config file (default ~/.config/agentdeck/config.toml)")
	root.PersistentFlags().String(EnvFileFlag, ".env", "Path to a .env file with AGENTDECK_* variables")
	root.PersistentFlags().Bool(EphemeralFlag, false, "Keep credentials in memory only")
	root.PersistentFlags().BoolP(VerboseFlag, "v", false, "Log at debug level")

	root.AddCommand(
		newLoginCommand(a),
		newLogoutCommand(a),
		newWhoamiCommand(a),
		newConfigCommand(a),
		newRequestCommand(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	flags := cmd.Flags()
	envFile, _ := flags.GetString(EnvFileFlag)
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	path, _ := flags.GetString(ConfigFlag)
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level := logging.ParseLevel(cfg.LogLevelOrDefault())
	if verbose, _ := flags.GetBool(VerboseFlag); verbose {
		level = slog.LevelDebug
	}
	logger := logging.NewLogger(logging.LoggerConfig{
		Format: cfg.LogFormatOrDefault(),
		Level:  level,
		Output: cmd.ErrOrStderr(),
	})

	var store auth.Store = config.NewFileStore(path)
	if ephemeral, _ := flags.GetBool(EphemeralFlag); ephemeral {
		mem := &auth.MemoryStore{}
		if cfg.Auth.Token != "" {
			_ = mem.Save(domain.Credentials{Token: cfg.Auth.Token, User: cfg.Auth.User})
		}
		store = mem
	}

	baseURL := cfg.BaseURLOrDefault()
	session := auth.NewSession(store, logger)
	client := auth.NewClient(baseURL, auth.WithClientLogger(logger))
	flow := auth.NewFlow(client, session, cfg.ClientIDOrDefault(),
		auth.WithLogger(logger),
		auth.WithOnLoginSuccess(func(creds domain.Credentials) {
			logger.Debug("credentials stored", "config", path, "user", userLabel(creds.User))
		}),
	)

	a.cfg = cfg
	a.configPath = path
	a.logger = logger
	a.session = session
	a.flow = flow
	a.api = api.NewClient(baseURL, session, flow, logger)
	return nil
}

// Execute runs the command tree and returns the process exit code.
func Execute(version string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(version)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		if errors.Is(err, domain.ErrNotLoggedIn) || errors.Is(err, domain.ErrUnauthorized) {
			fmt.Fprintln(os.Stderr, "run 'agentdeck login' to sign in")
		}
		return 1
	}
	return 0
}

func userLabel(p *domain.Profile) string {
	if p == nil {
		return ""
	}
	return p.DisplayName()
}

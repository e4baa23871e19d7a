package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/oidcstore/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Config starts from the environment; persistent flags override it.
	Config config.Config

	logger *slog.Logger
}

// Logger returns the configured logger, or a discarding one when the root
// command has not run (subcommands built directly in tests).
func (o *RootOptions) Logger() *slog.Logger {
	if o.logger == nil {
		return discardLogger()
	}
	return o.logger
}

// JSON reports whether --format json was requested.
func (o *RootOptions) JSON() bool {
	return o.Format == "json"
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the oidcstore CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	envErr := config.ParseEnv(&opts.Config)

	cmd := &cobra.Command{
		Use:   "oidcstore",
		Short: "OIDC token-lifecycle store",
		Long: `Inspect and maintain the records an OpenID Connect provider persists:
access and refresh tokens, authorization and device codes, sessions,
interactions, client registrations and pushed authorization requests.

Records live in SQLite (default) or Redis. Settings come from OIDCSTORE_*
environment variables (a .env file is loaded if present) and can be
overridden with flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if envErr != nil {
				return WrapExitError(ExitCommandError, "invalid environment", envErr)
			}
			if opts.Verbose {
				opts.Config.LogLevel = "debug"
			}
			logger, err := NewLogger(cmd.ErrOrStderr(), opts.Config.LogLevel, opts.Config.LogFormat)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid logging configuration", err)
			}
			opts.logger = logger
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.Config.Backend, "backend", opts.Config.Backend, "storage backend (sqlite|redis) [OIDCSTORE_BACKEND]")
	flags.StringVar(&opts.Config.DBPath, "db", opts.Config.DBPath, "path to SQLite database [OIDCSTORE_DB]")
	flags.StringVar(&opts.Config.RedisURL, "redis-url", opts.Config.RedisURL, "Redis URL [OIDCSTORE_REDIS_URL]")
	flags.StringVar(&opts.Config.RedisPrefix, "redis-prefix", opts.Config.RedisPrefix, "Redis key prefix [OIDCSTORE_REDIS_PREFIX]")

	cmd.AddCommand(NewProvisionCommand(opts))
	cmd.AddCommand(NewKindsCommand(opts))
	cmd.AddCommand(NewPutCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewFindCommand(opts))
	cmd.AddCommand(NewDestroyCommand(opts))
	cmd.AddCommand(NewConsumeCommand(opts))
	cmd.AddCommand(NewRevokeCommand(opts))
	cmd.AddCommand(NewReapCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// Execute runs the root command with process arguments.
func Execute() error {
	return NewRootCommand().Execute()
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RootOptions holds the process settings shared by all commands.
//
// Every flag can also be set through a GATEHOUSE_ environment variable
// (GATEHOUSE_DB, GATEHOUSE_NATS_URL, ...) or a gatehouse.yaml settings file
// in the working directory. Flags win over the environment, which wins over
// the file.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Driver  string // "sqlite" | "postgres"
	DB      string // SQLite path or Postgres DSN
	Schema  string // Postgres schema
	Config  string // CUE configuration file or directory; empty for the built-in plant
	NATSURL string

	v *viper.Viper
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// ValidDrivers defines the supported stores.
var ValidDrivers = []string{"sqlite", "postgres"}

// NewRootCommand creates the root command of the gatehouse CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "gatehouse",
		Short: "Approval governance for plant documents",
		Long: `gatehouse runs document workflows with role gates, variance checks,
locks, rollbacks and escalation deadlines, and keeps a tamper-evident
audit trail of every decision.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load(cmd); err != nil {
				return NewExitError(ExitCommandError, err.Error())
			}
			setupLogging(cmd.ErrOrStderr(), opts)
			return nil
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapExitError(ExitCommandError, "invalid flags", err)
	})

	flags := cmd.PersistentFlags()
	flags.BoolP("verbose", "v", false, "verbose output")
	flags.String("format", "text", "output format (json|text)")
	flags.String("driver", "sqlite", "store driver (sqlite|postgres)")
	flags.String("db", "gatehouse.db", "SQLite database path or Postgres DSN")
	flags.String("schema", "", "Postgres schema (default search_path)")
	flags.String("config", "", "CUE workflow configuration (file or directory)")
	flags.String("nats-url", "", "publish notifications to this NATS server")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewTransitionCommand(opts))
	cmd.AddCommand(NewAmendCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewTrailCommand(opts))
	cmd.AddCommand(NewEscalationsCommand(opts))
	cmd.AddCommand(NewAckCommand(opts))
	cmd.AddCommand(NewCompleteCommand(opts))
	cmd.AddCommand(NewCancelCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// load resolves settings from flags, environment and settings file.
func (o *RootOptions) load(cmd *cobra.Command) error {
	v := o.v
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	v.SetEnvPrefix("GATEHOUSE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("gatehouse")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read settings: %w", err)
		}
	}

	o.Verbose = v.GetBool("verbose")
	o.Format = v.GetString("format")
	o.Driver = v.GetString("driver")
	o.DB = v.GetString("db")
	o.Schema = v.GetString("schema")
	o.Config = v.GetString("config")
	o.NATSURL = v.GetString("nats-url")

	if !slices.Contains(ValidFormats, o.Format) {
		return fmt.Errorf("invalid format %q: must be one of %v", o.Format, ValidFormats)
	}
	if !slices.Contains(ValidDrivers, o.Driver) {
		return fmt.Errorf("invalid driver %q: must be one of %v", o.Driver, ValidDrivers)
	}
	return nil
}

// formatter builds the output formatter for a command.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

// setupLogging sends slog output to stderr so JSON results on stdout stay
// parseable.
func setupLogging(w io.Writer, o *RootOptions) {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(w, hopts)
	if o.Format == "json" {
		h = slog.NewJSONHandler(w, hopts)
	}
	slog.SetDefault(slog.New(h))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

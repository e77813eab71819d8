// Package app is the tablegen command-line front end.
package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"tablegen/internal/backend"
	config "tablegen/internal/config"
	ilogger "tablegen/internal/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var version = "dev"

// Exit codes besides 0 and 1.
const (
	exitRowsFailed  = 2
	exitInterrupted = 130
)

type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit %d", e.code)
}

func codeToErr(code int) error {
	if code == 0 {
		return nil
	}
	return exitError{code: code}
}

type cliOptions struct {
	ConfigFile  string
	Backend     string
	Model       string
	MetricsAddr string

	Columns []string
	Rows    string
	Limit   int
}

var exitFn = os.Exit

// Run is the program entrypoint for cmd/tablegen/main.go.
func Run() {
	exitFn(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		var ee exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	opts := &cliOptions{}

	cmd := &cobra.Command{
		Use:           ilogger.AppName,
		Short:         "Fill table columns with AI-generated content",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	addGlobalFlags(cmd.PersistentFlags(), opts)
	cmd.AddCommand(
		newRunCommand(opts),
		newStatusCommand(opts),
		newReparseCommand(opts),
		newValidateCommand(opts),
		newPingCommand(opts),
		newVersionCommand(),
		newCleanupCommand(),
	)
	return cmd
}

func addGlobalFlags(fs *pflag.FlagSet, opts *cliOptions) {
	fs.StringVar(&opts.ConfigFile, "config", "", "Config file path (default: $HOME/.tablegen/config.*)")
	fs.StringVar(&opts.Backend, "backend", "", fmt.Sprintf("Backend override (%s)", strings.Join(backend.Names(), ", ")))
	fs.StringVar(&opts.Model, "model", "", "Model or alias override (from ~/.tablegen/models.json)")
}

func addColumnFlags(fs *pflag.FlagSet, opts *cliOptions) {
	fs.StringSliceVarP(&opts.Columns, "column", "c", nil, "Column(s) to act on (default: every column in the job)")
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "version",
		Short:         "Print version and exit",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", ilogger.AppName, version)
			return nil
		},
	}
}

func newCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "cleanup",
		Short:         "Clean up old logs and exit",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return codeToErr(runCleanupMode(cmd.OutOrStdout(), cmd.ErrOrStderr()))
		},
	}
}

// settings merges flags over viper (env and config file) values.
type settings struct {
	backend     string
	model       string
	metricsAddr string
}

func resolveSettings(cmd *cobra.Command, opts *cliOptions) (settings, error) {
	v, err := config.NewViper(opts.ConfigFile)
	if err != nil {
		return settings{}, err
	}
	return settings{
		backend:     stringSetting(cmd, v, "backend", opts.Backend),
		model:       stringSetting(cmd, v, "model", opts.Model),
		metricsAddr: stringSetting(cmd, v, "metrics-addr", opts.MetricsAddr),
	}, nil
}

func stringSetting(cmd *cobra.Command, v *viper.Viper, key, flagValue string) string {
	if f := cmd.Flags().Lookup(key); f != nil && f.Changed {
		return flagValue
	}
	return v.GetString(key)
}

// Package cli contains the storagestats commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/charmbracelet/log"
	"github.com/garethgeorge/storagestats/internal/config"
	"github.com/spf13/cobra"
)

// Version is set via -ldflags.
var Version = "dev"

// ExitError carries the process exit code for an error.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// app holds what every command shares.
type app struct {
	stdout, stderr io.Writer
	cfgFile        string
	verbose        bool
}

func (a *app) loadConfig(ctx context.Context) (*config.Config, string, error) {
	return config.Load(ctx, config.LoadOptions{ConfigFile: a.cfgFile})
}

func (a *app) logger(cfg *config.Config) *log.Logger {
	level, err := cfg.Log.ParseLevel()
	if err != nil {
		level = log.InfoLevel
	}
	if a.verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(a.stderr, log.Options{
		Prefix: "storagestats",
		Level:  level,
	})
}

// NewRootCommand builds the command tree writing to stdout and stderr.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:   "storagestats",
		Short: "Find out what is using your disk",
		Long: heredoc.Doc(`
			storagestats scans a directory tree, sizes every directory, confirms
			duplicate files by content hash and recommends what to clean up.

			Rescans are fast: file hashes are cached and reused for files whose
			size and modification time did not change.
		`),
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/storagestats/config.toml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newScanCommand(a))
	root.AddCommand(newConfigCommand(a))
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	root := NewRootCommand(os.Stdout, os.Stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

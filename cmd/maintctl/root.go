package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/edvin/maintconsole/internal/config"
	"github.com/edvin/maintconsole/internal/console"
	"github.com/edvin/maintconsole/internal/jobstate"
	"github.com/edvin/maintconsole/internal/logging"
	"github.com/edvin/maintconsole/internal/session"
)

var (
	apiURL    string
	outputFmt string
	verbose   bool

	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
	stdin  io.Reader = os.Stdin
)

var errNotLoggedIn = errors.New("not logged in, run `maintctl login`")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "maintctl",
		Short: "CLI for database maintenance jobs",
		Long: `maintctl lists, schedules and starts database maintenance jobs and
follows their progress live over the job status channel.

Connection settings come from the same environment as the console API
(API_BASE_URL, CHANNEL_BASE_URL, SESSION_FILE, ...). The session is stored in
SESSION_FILE and shared with the console API when both point at the same file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch outputFmt {
			case "table", "json", "yaml":
				return nil
			default:
				return fmt.Errorf("unsupported output format: %s (use table, json or yaml)", outputFmt)
			}
		},
	}

	root.PersistentFlags().StringVar(&apiURL, "api-url", "", "Backend API URL (overrides API_BASE_URL and API_PORT)")
	root.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log requests and channel activity to stderr")

	root.AddCommand(newLoginCmd())
	root.AddCommand(newLogoutCmd())
	root.AddCommand(newWhoamiCmd())
	root.AddCommand(newJobsCmd())
	return root
}

// openConsole loads the configuration and wires a console for one command.
// Callers must Close it.
func openConsole() (*console.Console, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if apiURL != "" {
		cfg.APIBaseURL = apiURL
		cfg.APIPort = ""
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	switch {
	case verbose:
		cfg.LogLevel = "debug"
	case os.Getenv("LOG_LEVEL") == "":
		cfg.LogLevel = "warn"
	}
	logger := logging.NewConsoleLogger(cfg)

	nav := session.NavigatorFunc(func(string) {
		fmt.Fprintln(stderr, "session expired, run `maintctl login`")
	})
	return console.New(cfg, jobstate.NewStore(logger), console.Hooks{Navigator: nav}, logger)
}

// openSession is openConsole for commands that need a logged-in user.
func openSession() (*console.Console, error) {
	c, err := openConsole()
	if err != nil {
		return nil, err
	}
	if !c.Session.LoggedIn() {
		c.Close()
		return nil, errNotLoggedIn
	}
	if err := c.Session.Touch(); err != nil {
		c.Close()
		return nil, fmt.Errorf("update session: %w", err)
	}
	return c, nil
}

package main

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/edvin/maintconsole/internal/backend"
)

func newLoginCmd() *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		Long: `Log in to the backend. The password is read from the first line of
stdin, so it can be piped in non-interactive use.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := bufio.NewReader(stdin)
			if username == "" {
				fmt.Fprint(stderr, "Username: ")
				line, err := reader.ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read username: %w", err)
				}
				username = strings.TrimSpace(line)
			}
			fmt.Fprint(stderr, "Password: ")
			line, err := reader.ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			password := strings.TrimRight(line, "\r\n")

			c, err := openConsole()
			if err != nil {
				return err
			}
			defer c.Close()

			resp, err := c.Client.Login(cmd.Context(), username, password)
			if err != nil {
				if backend.IsUnauthorized(err) || backend.IsValidation(err) {
					return fmt.Errorf("login failed: invalid credentials")
				}
				return fmt.Errorf("login failed: %w", err)
			}
			if err := c.Session.Login(resp.User, resp.Token); err != nil {
				return fmt.Errorf("store session: %w", err)
			}

			fmt.Fprintf(stdout, "Logged in as %s.\n", resp.User.Username)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username (prompted when empty)")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openConsole()
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Session.Logout(); err != nil {
				return fmt.Errorf("clear session: %w", err)
			}
			fmt.Fprintln(stdout, "Logged out.")
			return nil
		},
	}
}

type whoamiOutput struct {
	LoggedIn     bool          `json:"logged_in"`
	User         *backend.User `json:"user,omitempty"`
	LastActivity *time.Time    `json:"last_activity,omitempty"`
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openConsole()
			if err != nil {
				return err
			}
			defer c.Close()

			out := whoamiOutput{LoggedIn: c.Session.LoggedIn(), User: c.Session.User()}
			if at, ok := c.Session.LastActivity(); ok {
				out.LastActivity = &at
			}

			return render(out, func() {
				if !out.LoggedIn || out.User == nil {
					fmt.Fprintln(stdout, "Not logged in.")
					return
				}
				fmt.Fprintf(stdout, "%s (%s)\n", out.User.Username, out.User.Role)
				if out.LastActivity != nil {
					fmt.Fprintf(stdout, "last activity: %s\n", out.LastActivity.Local().Format(time.RFC1123))
				}
			})
		},
	}
}

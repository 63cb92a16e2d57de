package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/eshaffer321/crmreports-go/pkg/crm"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newLoginCmd(a *app) *cobra.Command {
	var (
		username      string
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the token pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				username = os.Getenv("CRM_USERNAME")
			}
			if username == "" {
				return errors.New("--username is required")
			}

			password, err := readPassword(cmd, passwordStdin)
			if err != nil {
				return err
			}

			identity, err := a.client.Session.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), identity)
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "account username (or CRM_USERNAME)")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

// readPassword prompts without echo on a terminal, otherwise reads one line
func readPassword(cmd *cobra.Command, fromStdin bool) (string, error) {
	if !fromStdin {
		if pw := os.Getenv("CRM_PASSWORD"); pw != "" {
			return pw, nil
		}
		fd := int(os.Stdin.Fd())
		if term.IsTerminal(fd) {
			fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
			pw, err := term.ReadPassword(fd)
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return "", errors.Wrap(err, "failed to read password")
			}
			return string(pw), nil
		}
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", errors.Wrap(err, "failed to read password")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			a.client.Session.Logout()
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the identity of the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, ok := a.client.Session.Identity()
			if !ok {
				return crm.ErrNotAuthenticated
			}
			return printJSON(cmd.OutOrStdout(), struct {
				*crm.Identity
				State   crm.SessionState `json:"state"`
				Expired bool             `json:"expired"`
			}{identity, a.client.Session.State(), identity.Expired(timeNow())})
		},
	}
}

func newSessionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage the session lifecycle",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token now",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.Session.Refresh(cmd.Context()); err != nil {
				return err
			}
			identity, _ := a.client.Session.Identity()
			return printJSON(cmd.OutOrStdout(), identity)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Keep the session alive and print state changes until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			expired := make(chan struct{}, 1)

			unsubscribe := a.client.Session.Subscribe(func(ev crm.SessionEvent) {
				line := map[string]interface{}{"state": ev.State, "at": timeNow()}
				if ev.Identity != nil {
					line["username"] = ev.Identity.Username
					line["expiresAt"] = ev.Identity.ExpiresAt
				}
				if ev.Err != nil {
					line["error"] = ev.Err.Error()
				}
				_ = printJSON(out, line)
				if ev.State == crm.StateExpired {
					select {
					case expired <- struct{}{}:
					default:
					}
				}
			})
			defer unsubscribe()

			stop := a.client.Session.Start(cmd.Context())
			defer stop()

			select {
			case <-cmd.Context().Done():
				return nil
			case <-expired:
				return crm.ErrSessionExpired
			}
		},
	})

	return cmd
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"visadesk/internal/auth"
	"visadesk/internal/domain"
)

func loginCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login [email]",
		Short: "Sign in to the CRM and store the token pair",
		Long:  "Signs in with email and password. The password is read from --password, $VISADESK_PASSWORD, or stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			if password == "" {
				password = os.Getenv("VISADESK_PASSWORD")
			}
			if password == "" {
				fmt.Fprint(os.Stderr, "Password: ")
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			d, err := openDesk(ctx, cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			if cfg.Store.Backend == "memory" {
				logger.Warn("memory store does not persist the session past this process")
			}
			if err := auth.SignIn(ctx, d.authClient, d.store, args[0], password); err != nil {
				return fmt.Errorf("login: %w", err)
			}
			fmt.Println(okStyle.Render("Signed in as " + args[0]))
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			d, err := openDesk(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := auth.SignOut(cmd.Context(), d.store); err != nil {
				return fmt.Errorf("logout: %w", err)
			}
			fmt.Println("Signed out.")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	var probe bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show session and connection status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			d, err := openDesk(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			sess, err := d.gate.Session(cmd.Context())
			if err != nil {
				return fmt.Errorf("read session: %w", err)
			}

			fmt.Println(titleStyle.Render("visadesk " + version))
			printRow("config", resolveConfigPath())
			printRow("store", cfg.Store.Backend)
			printRow("api", cfg.API.BaseURL)
			printRow("realtime", cfg.Realtime.URL)

			switch {
			case !sess.SignedIn:
				printRow("session", errStyle.Render("signed out"))
			case sess.Expired && sess.CanRefresh:
				printRow("session", warnStyle.Render("access expired, refresh available"))
			case sess.Expired:
				printRow("session", errStyle.Render("expired"))
			default:
				printRow("session", okStyle.Render("signed in"))
			}
			if sess.Operator != "" {
				printRow("operator", sess.Operator)
			}
			if !sess.AccessExpires.IsZero() {
				printRow("access expires", sess.AccessExpires.Local().Format(time.RFC1123))
			}

			if probe {
				state, err := probeConnection(cmd.Context(), d, 2*cfg.Realtime.OpenAckTimeout())
				if err != nil {
					printRow("connection", errStyle.Render(err.Error()))
				} else {
					printRow("connection", stateBadge(state))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "open the notification channel once to test it")
	return cmd
}

var errProbeTimeout = errors.New("no acknowledgement from server")

// probeConnection connects once and reports the state reached within wait.
func probeConnection(ctx context.Context, d *desk, wait time.Duration) (domain.ConnectionState, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	connected := make(chan struct{}, 1)
	unsub := d.bus.OnState(func(s domain.ConnectionState) {
		if s == domain.Connected {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
	})
	defer unsub()

	m := d.newManager()
	m.Start(ctx)
	defer m.Close()

	select {
	case <-connected:
		return domain.Connected, nil
	case <-ctx.Done():
		return m.State(), errProbeTimeout
	}
}

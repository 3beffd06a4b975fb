package main

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"visadesk/internal/config"
	"visadesk/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the visadesk setup",
		Long: `Verifies the configuration, the credential store, the stored session and
that the CRM hosts are reachable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			fmt.Println(titleStyle.Render("visadesk doctor " + version))
			fmt.Println()

			passed, warned, failed := 0, 0, 0

			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'visadesk init' to create a default configuration.\n")
				return fmt.Errorf("no config file")
			}
			printPass("Config file", cfgPath)
			passed++

			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				return fmt.Errorf("invalid config")
			}
			printPass("Config validation", "valid")
			passed++

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			st, err := store.Open(ctx, cfg.Store, logger)
			if err != nil {
				printFail("Credential store", err.Error())
				failed++
			} else {
				printPass("Credential store", cfg.Store.Backend)
				passed++
				cred, err := st.LoadCredential(ctx)
				switch {
				case err != nil:
					printFail("Session", err.Error())
					failed++
				case cred.IsZero():
					printWarn("Session", "signed out; run 'visadesk login'")
					warned++
				default:
					printPass("Session", cred.Operator)
					passed++
				}
				st.Close()
			}

			for _, target := range []struct{ name, raw string }{
				{"API host", cfg.API.BaseURL},
				{"Realtime host", cfg.Realtime.URL},
			} {
				if err := checkReachable(ctx, target.raw); err != nil {
					printWarn(target.name, err.Error())
					warned++
				} else {
					printPass(target.name, target.raw)
					passed++
				}
			}

			if cfg.Server.Enabled {
				if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
					printWarn("Status API port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
					warned++
				} else {
					printPass("Status API port", fmt.Sprintf(":%d available", cfg.Server.Port))
					passed++
				}
			}

			fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

// checkReachable dials the host of raw over TCP.
func checkReachable(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https", "wss":
			port = "443"
		default:
			port = "80"
		}
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(u.Hostname(), port))
	if err != nil {
		return err
	}
	return conn.Close()
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	return ln.Close()
}

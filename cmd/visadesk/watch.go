package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"visadesk/internal/chat"
	"visadesk/internal/domain"
	"visadesk/internal/server"
)

func watchCmd() *cobra.Command {
	var serve bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stay connected and print live messages and lead assignments",
		Long:  "Keeps the notification channel open, prints incoming WhatsApp messages and lead assignments, and optionally serves the local status API. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), serve)
		},
	}
	cmd.Flags().BoolVar(&serve, "serve", false, "serve the local status API even if server.enabled is false")
	return cmd
}

func runWatch(parent context.Context, serve bool) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := openDesk(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	if _, ok := d.gate.ValidAccessToken(ctx); !ok {
		return fmt.Errorf("not signed in: run 'visadesk login' first")
	}

	unsubState := d.bus.OnState(func(s domain.ConnectionState) {
		fmt.Println(dimStyle.Render(time.Now().Format("15:04:05")) + " " + stateBadge(s))
	})
	defer unsubState()

	unsubPush := d.bus.Subscribe(func(ev domain.InboundEvent) {
		push, ok := ev.(domain.ChatMessageEvent)
		if !ok {
			return
		}
		who := push.ChatName
		if who == "" {
			who = push.PhoneNumber
		}
		fmt.Println(customerStyle.Render(fmt.Sprintf("%s  %s: %s", push.Timestamp, who, chat.Preview(push.Content, 120))))
	})
	defer unsubPush()

	inbox := chat.NewInbox(d.api, d.bus, cfg.Chat.PreviewLength, nil, logger)
	defer inbox.Close()
	leads := chat.NewLeadFeed(d.bus, func(_ domain.Lead, notice string) {
		fmt.Println(noticeStyle.Render(notice))
	}, logger)
	defer leads.Close()

	manager := d.newManager()
	manager.Start(ctx)
	defer manager.Close()

	if err := inbox.Start(ctx); err != nil {
		logger.Warn("initial chat list load failed", "err", err)
	}

	serverErr := make(chan error, 1)
	if serve || cfg.Server.Enabled {
		metricsPath := ""
		if cfg.Metrics.Enabled {
			metricsPath = cfg.Metrics.Endpoint
		}
		srv := server.New(server.Config{
			Host:        cfg.Server.Host,
			Port:        cfg.Server.Port,
			Version:     version,
			MetricsPath: metricsPath,
			Bus:         d.bus,
			Conn:        manager,
			Sessions:    d.gate,
			Inbox:       inbox,
			Leads:       leads,
			Logger:      logger,
		})
		go func() { serverErr <- srv.Start(ctx) }()
	}

	logger.Info("watching. Press Ctrl+C to stop.")

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("status API: %w", err)
		}
	}
	logger.Info("shutting down")
	return nil
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"visadesk/internal/chat"
	"visadesk/internal/domain"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [chat id or phone]",
		Short: "Open a WhatsApp conversation and reply from the terminal",
		Long: `Opens one conversation, prints its history and live messages, and sends
every line typed on stdin. Commands: /older, /reconnect, /status, /quit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), args[0])
		},
	}
}

// transcript prints each message of the open conversation once.
type transcript struct {
	mu      sync.Mutex
	printed map[string]string
}

func (t *transcript) render(msgs []domain.ConversationMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range msgs {
		if content, ok := t.printed[m.ID]; ok && content == m.Content {
			continue
		}
		t.printed[m.ID] = m.Content
		fmt.Println(formatMessage(m))
	}
}

func runChat(parent context.Context, ref string) error {
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

	inbox := chat.NewInbox(d.api, d.bus, cfg.Chat.PreviewLength, nil, logger)
	defer inbox.Close()
	if err := inbox.Load(ctx); err != nil {
		logger.Warn("chat list unavailable", "err", err)
	}
	peer := chat.Peer{ID: ref, PhoneNumber: ref}
	if row, ok := inbox.Find(ref); ok {
		peer = chat.PeerFromSummary(row)
	}

	tr := &transcript{printed: make(map[string]string)}
	var view *chat.View
	view = chat.NewView(d.bus, d.api, d.api, cfg.Chat.PageSize, chat.ViewHooks{
		OnChange: func(chat.Peer) { tr.render(view.Messages()) },
		OnNotice: func(n chat.Notice) { fmt.Println(noticeStyle.Render(n.Text)) },
	}, logger)
	defer view.Close()

	unsubState := d.bus.OnState(func(s domain.ConnectionState) {
		fmt.Println(stateBadge(s))
	})
	defer unsubState()

	manager := d.newManager()
	manager.Start(ctx)
	defer manager.Close()

	title := peer.Name
	if title == "" {
		title = peer.PhoneNumber
	}
	fmt.Println(titleStyle.Render("Chat with " + title))
	if _, err := view.Open(ctx, peer); err != nil && !errors.Is(err, domain.ErrHistoryFetch) {
		return err
	}
	inbox.MarkRead(peer.ID)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleChatLine(ctx, view, manager, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

type reconnecter interface {
	Reconnect()
	State() domain.ConnectionState
}

func handleChatLine(ctx context.Context, view *chat.View, conn reconnecter, line string) (quit bool) {
	switch line {
	case "":
		return false
	case "/quit", "/exit":
		return true
	case "/older":
		page, err := view.LoadOlder(ctx)
		switch {
		case err != nil:
		case page.Fetched == 0 && !page.HasMore:
			fmt.Println(dimStyle.Render("No older messages."))
		default:
			fmt.Println(dimStyle.Render(fmt.Sprintf("Loaded %d older messages.", page.Appended)))
		}
		return false
	case "/reconnect":
		conn.Reconnect()
		return false
	case "/status":
		fmt.Println(stateBadge(conn.State()))
		return false
	}

	if !view.CanSend() {
		fmt.Println(warnStyle.Render("Not connected. Message not sent; try /reconnect."))
		return false
	}
	if _, err := view.Send(ctx, line); err != nil && !errors.Is(err, domain.ErrSendFailed) {
		fmt.Println(errStyle.Render(err.Error()))
	}
	return false
}

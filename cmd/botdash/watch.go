package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/botdash/internal/notify"
	"github.com/kalambet/botdash/internal/session"
	"github.com/kalambet/botdash/internal/shell"
	"github.com/kalambet/botdash/internal/storage"
	"github.com/kalambet/botdash/internal/usage"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show the dashboard header and quotas, updating live",
	Long: `Render the dashboard header, sidebar and quota bars, and re-render
whenever notifications, usage or the session change. Changes made by other
botdash commands on this machine show up within one watch interval.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runWatch(ctx)
	},
}

func runWatch(ctx context.Context) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	poller := notify.NewPoller(a.client, a.cfg.PollInterval())
	syncer := usage.NewSynchronizer(a.store.NewHandle(), a.client, a.cfg.WatchInterval())
	sh := shell.New(a.sessions, poller, syncer)

	watcher, err := a.handle.Watcher()
	if err != nil {
		return fmt.Errorf("watching storage: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)
	if err := poller.Start(gCtx); err != nil {
		return err
	}
	defer poller.Stop()
	if err := syncer.Start(gCtx); err != nil {
		return err
	}
	defer syncer.Stop()
	if !a.sessions.Read().IsGuest() {
		g.Go(func() error {
			// The poller fetches on its own; only usage needs a kick.
			if err := syncer.Refresh(gCtx); err != nil && gCtx.Err() == nil {
				printWarning("fetching usage failed: %v", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		watcher.Run(gCtx, a.cfg.WatchInterval(), func(c storage.Change) {
			if c.Key == session.Key {
				a.sessions.Reload()
			}
		})
		return nil
	})
	g.Go(func() error {
		return sh.Run(gCtx, func(v shell.View) {
			fmt.Fprintf(stdout, "\n%s\n", colorize(colorCyan, time.Now().Format(time.TimeOnly)))
			renderView(v)
		})
	})
	return g.Wait()
}

// renderView prints the layout as status lines.
func renderView(v shell.View) {
	who := v.Header.Name
	if v.Header.Role != "" {
		who = fmt.Sprintf("%s (%s)", who, v.Header.Role)
	}
	printStatus("User", "%s", who)
	unread := fmt.Sprintf("%d", v.Header.Unread)
	if v.Header.Unread > 0 {
		unread = colorize(colorYellow, unread)
	}
	printStatus("Unread", "%s", unread)

	labels := make([]string, 0, len(v.Sidebar))
	for _, item := range v.Sidebar {
		labels = append(labels, item.Label)
	}
	printStatus("Menu", "%s", strings.Join(labels, " · "))

	printQuota("Words", v.Words)
	printQuota("Storage", v.Storage)
}

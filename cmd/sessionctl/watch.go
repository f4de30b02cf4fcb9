package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmscreen/sessionfeed/internal/client"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch [session-id]",
	Short: "Print a session's events as they are published",
	Long: `Polls the session and prints each event once, in order.

Send SIGHUP to force a reconnect. The poller gives up after three
consecutive failures unless --retry is set.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, err := sessionArg(args, 0)
		if err != nil {
			return err
		}
		interval, _ := cmd.Flags().GetDuration("interval")
		since, _ := cmd.Flags().GetInt64("since")
		wait, _ := cmd.Flags().GetDuration("wait")
		retry, _ := cmd.Flags().GetBool("retry")
		showOnline, _ := cmd.Flags().GetBool("online")

		p := client.NewPoller(client.Options{
			BaseURL:   active.URL,
			Token:     active.Token,
			SessionID: sessionID,
			Cursor:    since,
			Interval:  interval,
			WaitHint:  wait,
			Logger:    cliLogger(),
		})

		out := cmd.OutOrStdout()
		var mu sync.Mutex
		p.OnAny(func(e client.Event) {
			mu.Lock()
			defer mu.Unlock()
			printEvent(out, e)
		})

		if showOnline && !jsonOutput {
			var last string
			p.OnNotice(client.NoticeOnlineUsers, func(n client.Notice) {
				line := formatOnline(n.OnlineUsers)
				mu.Lock()
				defer mu.Unlock()
				if line != last {
					fmt.Fprintf(out, "-- %s\n", line)
					last = line
				}
			})
		}

		failed := make(chan error, 1)
		p.OnNotice(client.NoticeConnectionError, func(n client.Notice) {
			select {
			case failed <- n.Err:
			default:
			}
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)

		p.Start()
		defer p.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				p.Reconnect()
			case err := <-failed:
				if retry && !client.IsPermanent(err) {
					fmt.Fprintf(os.Stderr, "connection lost (%v), reconnecting\n", err)
					p.Reconnect()
					continue
				}
				return fmt.Errorf("%w (resume with --since %d)", err, p.Cursor())
			}
		}
	},
}

func init() {
	watchCmd.Flags().Duration("interval", client.DefaultInterval, "time between polls")
	watchCmd.Flags().Int64("since", 0, "only show events after this event ID")
	watchCmd.Flags().Duration("wait", 0, "ask the server to hold empty polls this long (whole seconds)")
	watchCmd.Flags().Bool("retry", false, "reconnect after transient failures instead of exiting")
	watchCmd.Flags().Bool("online", true, "print online users when they change")

}

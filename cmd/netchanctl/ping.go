package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/opd-ai/netchannel"
	"github.com/spf13/cobra"
)

var errNoReplies = errors.New("no ping replies received")

func pingCmd(flags *globalFlags) *cobra.Command {
	var (
		count    int
		interval time.Duration
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ping host:port",
		Short: "Measure round trip time to a channel",
		Long: `Send connectionless ping probes to a running channel and print the
round trip of each reply. No connection or key is needed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runPing(ctx, cmd, flags, args[0], count, interval, timeout)
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 3, "number of probes")
	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "time between probes")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 2*time.Second, "how long to wait for a reply")

	return cmd
}

func runPing(ctx context.Context, cmd *cobra.Command, flags *globalFlags, address string, count int, interval, timeout time.Duration) error {
	// Probes need no key; a placeholder satisfies option validation.
	opts, err := flags.options(func(o *netchannel.Options) {
		if o.ConnectionKey == "" {
			o.ConnectionKey = "ping"
		}
		o.PendingPingTTL = timeout
	})
	if err != nil {
		return err
	}
	channel, err := netchannel.New(opts)
	if err != nil {
		return err
	}
	defer channel.Stop()

	out := cmd.OutOrStdout()
	replies := 0
	for seq := 1; seq <= count; seq++ {
		answered := false
		if err := channel.Ping(address, func(rtt time.Duration) {
			answered = true
			replies++
			fmt.Fprintf(out, "reply from %s: seq=%d time=%v\n", address, seq, rtt)
		}); err != nil {
			return err
		}

		deadline := time.Now().Add(timeout)
		for !answered && time.Now().Before(deadline) {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Millisecond):
			}
			channel.Poll()
		}
		if !answered {
			fmt.Fprintf(out, "request timeout for seq=%d\n", seq)
		}

		if seq < count {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(interval):
			}
		}
	}

	fmt.Fprintf(out, "%d probes, %d replies\n", count, replies)
	if replies == 0 {
		return errNoReplies
	}
	return nil
}

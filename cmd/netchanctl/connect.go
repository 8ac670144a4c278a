package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/netchannel"
	"github.com/opd-ai/netchannel/dispatch"
	"github.com/opd-ai/netchannel/messages"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func connectCmd(flags *globalFlags) *cobra.Command {
	var (
		name     string
		duration time.Duration
		tick     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "connect host:port",
		Short: "Join a server as a scripted player",
		Long: `Connect to a lobby server, join with a player name and walk forward,
printing world state and latency as they arrive.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			return runConnect(ctx, cmd, flags, args[0], name, tick)
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "player", "player name")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 10*time.Second, "how long to stay connected (0 runs until interrupted)")
	cmd.Flags().DurationVar(&tick, "tick", 15*time.Millisecond, "client tick interval")

	return cmd
}

func runConnect(ctx context.Context, cmd *cobra.Command, flags *globalFlags, address, name string, tick time.Duration) error {
	host, port, err := splitHostPort(address)
	if err != nil {
		return err
	}
	opts, err := flags.options()
	if err != nil {
		return err
	}
	channel, err := netchannel.New(opts)
	if err != nil {
		return err
	}
	defer channel.Stop()

	out := cmd.OutOrStdout()
	var (
		server  netchannel.PeerID
		done    error
		inputs  []messages.PlayerInput
		startAt uint32
		joined  bool
	)
	worldStates := dispatch.NewQueue[*messages.WorldState](8)
	netchannel.SubscribeQueue(channel, worldStates)

	channel.OnPeerConnected(func(peer netchannel.PeerID) {
		server = peer
		fmt.Fprintf(out, "connected to %s\n", address)
		sendJoin(channel, peer, name)
	})
	channel.OnPeerDisconnected(func(_ netchannel.PeerID, info netchannel.DisconnectInfo) {
		server = netchannel.NoPeer
		done = fmt.Errorf("disconnected: %s", info)
	})
	netchannel.Subscribe(channel, func(m *messages.JoinAccepted) {
		joined = true
		startAt = m.WorldTick + 1
		fmt.Fprintf(out, "joined as player %d at tick %d with %d other players\n",
			m.YourPlayerState.PlayerID, m.WorldTick, len(m.ExistingPlayerStates))
	})
	netchannel.Subscribe(channel, func(m *messages.PlayerJoined) {
		fmt.Fprintf(out, "player %d (%s) joined\n", m.PlayerState.PlayerID, m.PlayerState.Metadata.Name)
	})
	netchannel.Subscribe(channel, func(m *messages.PlayerLeft) {
		fmt.Fprintf(out, "player %d left\n", m.PlayerID)
	})

	if err := channel.Connect(host, port); err != nil {
		return err
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	lastReport := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		channel.Poll()
		if done != nil {
			return done
		}

		var latest *messages.WorldState
		for _, ws := range worldStates.Drain() {
			latest = ws
		}
		if latest != nil {
			// Inputs the server has applied no longer need resending.
			for len(inputs) > 0 && startAt <= latest.YourLatestInputTick {
				inputs = inputs[1:]
				startAt++
			}
		}
		if server == netchannel.NoPeer || !joined {
			continue
		}

		inputs = append(inputs, messages.PlayerInput{Buttons: messages.ButtonForward})
		if len(inputs) > 32 {
			startAt += uint32(len(inputs) - 32)
			inputs = inputs[len(inputs)-32:]
		}
		_ = channel.Send(server, &messages.PlayerInputCommand{StartWorldTick: startAt, Inputs: inputs})

		if time.Since(lastReport) >= time.Second && latest != nil {
			lastReport = time.Now()
			latency, _ := channel.PeerLatency(server)
			fmt.Fprintf(out, "tick %d players %d latency %v send %.0f B/s recv %.0f B/s\n",
				latest.WorldTick, len(latest.PlayerStates), latency, channel.SendRate(), channel.RecvRate())
		}
	}
}

// sendJoin asks the server to admit name. Failures are logged; the server
// drops the session if no join arrives.
func sendJoin(c *netchannel.NetChannel, peer netchannel.PeerID, name string) bool {
	err := c.Send(peer, &messages.JoinRequest{PlayerSetupData: messages.PlayerSetupData{Name: name}})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "sendJoin",
			"peer_id":  peer,
			"error":    err.Error(),
		}).Warn("Failed to send join request")
		return false
	}
	return true
}

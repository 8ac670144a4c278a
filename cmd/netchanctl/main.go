// Command netchanctl runs a demo lobby server, a scripted client and a
// latency probe on top of netchannel.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:   "netchanctl",
		Short: "Exercise a netchannel server or client from the command line",
		Long: `netchanctl drives a netchannel session outside a game.

  serve    run a lobby server that answers joins and streams world state
  connect  join a server as a scripted player
  ping     measure round trip time with connectionless probes`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(flags.logLevel)
			if err != nil {
				return err
			}
			logrus.SetLevel(level)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "TOML options file")
	rootCmd.PersistentFlags().StringVarP(&flags.key, "key", "k", "", "connection key (overrides the config file, defaults to $NETCHANNEL_KEY)")
	rootCmd.PersistentFlags().StringVar(&flags.bind, "bind", "", "local address to bind")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(
		serveCmd(&flags),
		connectCmd(&flags),
		pingCmd(&flags),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

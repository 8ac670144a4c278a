package main

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/opd-ai/netchannel"
)

type globalFlags struct {
	configPath string
	key        string
	bind       string
	logLevel   string
}

// options builds channel options from the config file, the environment and
// flags, in increasing precedence.
func (f *globalFlags) options(extra ...netchannel.Option) (*netchannel.Options, error) {
	opts := netchannel.NewOptions()
	if f.configPath != "" {
		loaded, err := netchannel.LoadOptions(f.configPath)
		if err != nil {
			return nil, err
		}
		opts = loaded
	}

	if key := os.Getenv("NETCHANNEL_KEY"); key != "" && opts.ConnectionKey == "" {
		opts.ConnectionKey = key
	}
	if f.key != "" {
		opts.ConnectionKey = f.key
	}
	if f.bind != "" {
		opts.BindAddress = f.bind
	}
	for _, apply := range extra {
		apply(opts)
	}
	return opts, nil
}

// splitHostPort parses "host:port" into its parts.
func splitHostPort(address string) (string, int, error) {
	host, portText, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portText)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", portText)
	}
	return host, port, nil
}

// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// peer-tool connects to a peernet peer, e.g., a peerd, to send data, measure latencies or exchange files.
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dtn7/peernet/pkg/peer"
)

// toolOptions are the persistent flags shared by all commands.
type toolOptions struct {
	appIdentifier string
	key           string
	provider      string
	timeout       time.Duration
	pingInterval  time.Duration
	logLevel      string
}

var (
	options toolOptions

	rootCmd = &cobra.Command{
		Use:   "peer-tool",
		Short: "talk to peernet peers",
		Long: `peer-tool connects to a peernet peer, e.g., a peerd.

Each command establishes a single connection to ADDR, given as host:port.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			lvl, err := log.ParseLevel(options.logLevel)
			if err != nil {
				return err
			}
			log.SetLevel(lvl)
			return nil
		},
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&options.appIdentifier, "app", "peernet", "application identifier of the remote peer")
	flags.StringVar(&options.key, "key", "", "encryption key, enables encryption")
	flags.StringVar(&options.provider, "provider", "aes-gcm", "encryption provider (xor, xtea, aes-gcm, chacha20poly1305)")
	flags.DurationVar(&options.timeout, "timeout", 10*time.Second, "time to wait for the connection")
	flags.DurationVar(&options.pingInterval, "ping-interval", time.Second, "interval of round trip time measurements")
	flags.StringVar(&options.logLevel, "log-level", "warn", "log level (panic, fatal, error, warn, info, debug, trace)")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(exchangeCmd)
}

// configuration of the local Client.
func (opts toolOptions) configuration() peer.Configuration {
	conf := peer.NewConfiguration(opts.appIdentifier)
	conf.PingInterval = opts.pingInterval
	if opts.key != "" {
		conf.EnableEncryption = true
		conf.EncryptionKey = opts.key
		conf.EncryptionProvider = opts.provider
	}
	return conf
}

// dial a remote peer and wait until the Connection is established. The Client must be shut down by the caller.
func dial(opts toolOptions, conf peer.Configuration, addr string) (*peer.Client, *peer.Connection, error) {
	remote, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, nil, err
	}

	cl, err := peer.NewClient(conf)
	if err != nil {
		return nil, nil, err
	}
	if err := cl.Start(); err != nil {
		return nil, nil, err
	}

	c, err := cl.Connect(remote, nil)
	if err != nil {
		_ = cl.Shutdown("connecting failed")
		return nil, nil, err
	}

	timeout := time.After(opts.timeout)
	for {
		select {
		case e, ok := <-cl.Events():
			if !ok {
				return nil, nil, peer.ErrNotRunning
			}
			if e.Type != peer.StatusChanged || e.Connection != c {
				continue
			}

			switch e.Status {
			case peer.Connected:
				log.WithField("remote", remote).Info("Connection established")
				return cl, c, nil
			case peer.Disconnected:
				_ = cl.Shutdown("connecting failed")
				return nil, nil, fmt.Errorf("connecting to %v failed: %s", remote, e.Reason)
			}

		case <-timeout:
			_ = cl.Shutdown("connecting timed out")
			return nil, nil, fmt.Errorf("connecting to %v timed out after %v", remote, opts.timeout)
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

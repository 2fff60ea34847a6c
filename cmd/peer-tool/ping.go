// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/dtn7/peernet/pkg/peer"
)

var (
	pingCount int

	pingCmd = &cobra.Command{
		Use:   "ping ADDR",
		Short: "print the round trip times of a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, c, err := dial(options, options.configuration(), args[0])
			if err != nil {
				return err
			}
			defer func() { _ = cl.Shutdown("peer-tool finished") }()

			interrupt := make(chan os.Signal, 1)
			signal.Notify(interrupt, os.Interrupt)
			defer signal.Stop(interrupt)

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "PING %v (%v)\n", c.RemoteEndpoint(), c.RemoteUniqueIdentifier())

		measure:
			for n := 1; pingCount <= 0 || n <= pingCount; {
				select {
				case e, ok := <-cl.Events():
					if !ok {
						return peer.ErrNotRunning
					}

					switch {
					case e.Type == peer.ConnectionLatencyUpdated:
						_, _ = fmt.Fprintf(out, "%d: rtt=%v mtu=%d\n", n, e.Latency, c.MTU())
						n++
					case e.Type == peer.StatusChanged && e.Status == peer.Disconnected:
						return fmt.Errorf("connection closed: %s", e.Reason)
					}

				case <-interrupt:
					break measure
				}
			}

			_, _ = fmt.Fprintf(out, "--- %v: %v\n", c.RemoteEndpoint(), c.Statistics())
			cl.Disconnect("peer-tool finished")
			return nil
		},
	}
)

func init() {
	pingCmd.Flags().IntVarP(&pingCount, "count", "c", 0, "stop after this amount of measurements, zero never stops")
}

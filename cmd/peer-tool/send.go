// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dtn7/peernet/pkg/channel"
	"github.com/dtn7/peernet/pkg/message"
	"github.com/dtn7/peernet/pkg/peer"
)

var (
	sendChannel int

	sendCmd = &cobra.Command{
		Use:   "send ADDR [FILE|-]",
		Short: "send a file or stdin as a single reliable ordered message",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			input := "-"
			if len(args) == 2 {
				input = args[1]
			}

			data, err := readInput(input, os.Stdin)
			if err != nil {
				return err
			}

			cl, c, err := dial(options, options.configuration(), args[0])
			if err != nil {
				return err
			}
			defer func() { _ = cl.Shutdown("peer-tool finished") }()

			if err := sendPayload(cl, c, data, sendChannel, options.timeout); err != nil {
				return err
			}

			log.WithFields(log.Fields{
				"remote": c.RemoteEndpoint(),
				"size":   len(data),
			}).Info("Sent message")

			cl.Disconnect("peer-tool finished")
			return nil
		},
	}
)

func init() {
	sendCmd.Flags().IntVar(&sendChannel, "channel", 0, "sequence channel of the message")
}

// readInput from a file or, for "-", from stdin.
func readInput(name string, stdin io.Reader) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}

// sendPayload as a reliable ordered message and wait until the remote acknowledged it.
func sendPayload(cl *peer.Client, c *peer.Connection, data []byte, sequenceChannel int, timeout time.Duration) error {
	msg := cl.PrepareMessageWithCapacity(len(data))
	msg.WriteBytes(data)

	if result := c.SendMessage(msg, message.ReliableOrdered, sequenceChannel); result != channel.Sent {
		return fmt.Errorf("sending %d bytes failed: %v", len(data), result)
	}

	return waitFlushed(c, timeout)
}

// waitFlushed polls until all queued messages of a Connection were acknowledged.
func waitFlushed(c *peer.Connection, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for c.HasPendingMessages() {
		if c.Status() != peer.Connected {
			return fmt.Errorf("connection closed before delivery: %s", c.DisconnectReason())
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("delivery was not acknowledged within %v", timeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dtn7/peernet/pkg/channel"
	"github.com/dtn7/peernet/pkg/message"
	"github.com/dtn7/peernet/pkg/peer"
)

// exchangeChannel is the sequence channel of exchanged files.
const exchangeChannel = 1

var exchangeCmd = &cobra.Command{
	Use:   "exchange ADDR DIR",
	Short: "exchange files over a connection",
	Long: `exchange connects to ADDR and watches DIR.

Each file created within DIR is sent to the remote peer, while each received
file is written into DIR.`,
	Args: cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		cl, c, err := dial(options, options.configuration(), args[0])
		if err != nil {
			return err
		}
		defer func() { _ = cl.Shutdown("peer-tool finished") }()

		ex, err := newExchange(cl, c, args[1])
		if err != nil {
			return err
		}

		signal.Notify(ex.closeChan, os.Interrupt)
		defer signal.Stop(ex.closeChan)

		return ex.handler()
	},
}

// exchange files between a user and a remote peer over the filesystem.
type exchange struct {
	directory  string
	knownFiles sync.Map
	client     *peer.Client
	conn       *peer.Connection
	watcher    *fsnotify.Watcher

	closeChan chan os.Signal
}

func newExchange(cl *peer.Client, c *peer.Connection, directory string) (ex *exchange, err error) {
	ex = &exchange{
		directory: directory,
		client:    cl,
		conn:      c,
		closeChan: make(chan os.Signal, 1),
	}

	if ex.watcher, err = fsnotify.NewWatcher(); err != nil {
		return nil, fmt.Errorf("starting file watcher errored: %w", err)
	}
	if err = ex.watcher.Add(directory); err != nil {
		_ = ex.watcher.Close()
		return nil, fmt.Errorf("adding directory to file watcher errored: %w", err)
	}

	return ex, nil
}

// encodeFile into a message: the file's base name followed by its content.
func encodeFile(msg *message.Outgoing, name string, data []byte) {
	msg.WriteString(filepath.Base(name))
	msg.WriteBytes(data)
}

// decodeFile from a message created by encodeFile.
func decodeFile(msg *message.Incoming) (name string, data []byte, err error) {
	if name, err = msg.ReadString(); err != nil {
		return
	}
	if name != filepath.Base(name) || name == "." || name == ".." || name == string(filepath.Separator) {
		err = fmt.Errorf("invalid file name %q", name)
		return
	}

	data, err = msg.ReadBytes(msg.RemainingBits() / 8)
	return
}

func (ex *exchange) handler() error {
	defer func() { _ = ex.watcher.Close() }()

	for {
		select {
		case <-ex.closeChan:
			log.Info("Received interrupt signal")
			ex.client.Disconnect("peer-tool finished")
			return nil

		case e, ok := <-ex.watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify's Event channel was closed")
			}

			if _, ok := ex.knownFiles.Load(filepath.Base(e.Name)); ok {
				log.WithField("file", e.Name).Debug("Skipping file; already known")
				continue
			}

			if e.Op&fsnotify.Create == 0 {
				log.WithFields(log.Fields{
					"file":      e.Name,
					"operation": e.Op.String(),
				}).Debug("Ignoring fsnotify event")
				continue
			}

			ex.sendNewFile(e.Name)

		case err, ok := <-ex.watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify's Errors channel was closed")
			}
			return fmt.Errorf("fsnotify errored: %w", err)

		case e, ok := <-ex.client.Events():
			if !ok {
				return peer.ErrNotRunning
			}

			switch {
			case e.Type == peer.Data:
				ex.saveFile(e.Message)
			case e.Type == peer.StatusChanged && e.Status == peer.Disconnected:
				return fmt.Errorf("connection closed: %s", e.Reason)
			}
		}
	}
}

// sendNewFile with some retries, as the file might still be written.
func (ex *exchange) sendNewFile(filePath string) {
	logger := log.WithField("file", filePath)

	for i := 0; i < 5; i++ {
		if data, err := os.ReadFile(filePath); err != nil {
			logger.WithError(err).Warn("Reading file errored, retrying..")
		} else {
			msg := ex.client.PrepareMessageWithCapacity(len(data) + len(filePath) + 8)
			encodeFile(msg, filePath, data)

			switch result := ex.conn.SendMessage(msg, message.ReliableOrdered, exchangeChannel); result {
			case channel.Sent:
				ex.knownFiles.Store(filepath.Base(filePath), struct{}{})
				logger.WithField("size", len(data)).Info("Sent file")
				return

			case channel.Dropped:
				logger.Warn("Channel window is full, retrying..")

			default:
				logger.WithField("result", result).Error("Sending file errored")
				return
			}
		}

		time.Sleep(time.Duration(math.Pow(2, float64(i))) * 100 * time.Millisecond)
	}

	logger.Error("Failed to process file, giving up.")
}

func (ex *exchange) saveFile(msg *message.Incoming) {
	name, data, err := decodeFile(msg)
	if err != nil {
		log.WithError(err).Warn("Received an invalid file")
		return
	}

	filePath := filepath.Join(ex.directory, name)
	logger := log.WithFields(log.Fields{
		"file": filePath,
		"size": len(data),
	})

	ex.knownFiles.Store(name, struct{}{})
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		logger.WithError(err).Error("Writing file errored")
		return
	}

	logger.Info("Saved received file")
}

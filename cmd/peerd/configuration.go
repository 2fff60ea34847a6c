// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"net"
	"time"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/peernet/pkg/peer"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Core       coreConf
	Peer       peerConf
	Encryption encryptionConf
	Simulation simulationConf
	Logging    logConf
	Discovery  discoveryConf
	Monitor    monitorConf
	Connect    []connectConf
}

// coreConf describes the Core-configuration block.
type coreConf struct {
	AppIdentifier string `toml:"app-identifier"`
	Echo          bool
	Hail          string
}

// peerConf describes the Peer-configuration block.
type peerConf struct {
	Address                string
	Port                   int
	MaximumConnections     int    `toml:"maximum-connections"`
	MTU                    int    `toml:"mtu"`
	AutoExpandMTU          bool   `toml:"auto-expand-mtu"`
	UnreliableSizeBehavior string `toml:"unreliable-size-behavior"`
	PingInterval           string `toml:"ping-interval"`
	ConnectionTimeout      string `toml:"connection-timeout"`
	DiscoveryResponse      bool   `toml:"discovery-response"`
	UnconnectedMessages    bool   `toml:"unconnected-messages"`
}

// encryptionConf describes the Encryption-configuration block. Encryption is enabled by a Key.
type encryptionConf struct {
	Provider string
	Key      string
}

// simulationConf describes the Simulation-configuration block.
type simulationConf struct {
	Loss           float64
	Duplicates     float64
	MinimumLatency string `toml:"minimum-latency"`
	RandomLatency  string `toml:"random-latency"`
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// discoveryConf describes the Discovery-configuration block.
type discoveryConf struct {
	IPv4     bool
	IPv6     bool
	Interval uint
}

// monitorConf describes the Monitor-configuration block.
type monitorConf struct {
	Listen string
}

// connectConf describes a remote peer to connect to on startup.
type connectConf struct {
	Endpoint string
}

// parseConfiguration reads a TOML configuration file.
func parseConfiguration(filename string) (conf tomlConfig, err error) {
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	if conf.Core.AppIdentifier == "" {
		err = fmt.Errorf("core.app-identifier is empty")
		return
	}

	if conf.Discovery.Interval == 0 {
		conf.Discovery.Interval = 10
	}

	return
}

// configureLogging based on the Logging-configuration block.
func configureLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

// parseDuration into target, if the value is not empty.
func parseDuration(name, value string, target *time.Duration) error {
	if value == "" {
		return nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*target = d
	return nil
}

// peerConfiguration translates the TOML-configuration into a peer.Configuration.
func (conf tomlConfig) peerConfiguration() (pc peer.Configuration, err error) {
	pc = peer.NewConfiguration(conf.Core.AppIdentifier)

	// Peer
	if conf.Peer.Address != "" {
		if pc.LocalAddress = net.ParseIP(conf.Peer.Address); pc.LocalAddress == nil {
			err = fmt.Errorf("peer.address %q is no IP address", conf.Peer.Address)
			return
		}
	}
	pc.Port = conf.Peer.Port

	if conf.Peer.MaximumConnections != 0 {
		pc.MaximumConnections = conf.Peer.MaximumConnections
	}
	if conf.Peer.MTU != 0 {
		pc.MaximumTransmissionUnit = conf.Peer.MTU
	}
	pc.AutoExpandMTU = conf.Peer.AutoExpandMTU

	if conf.Peer.UnreliableSizeBehavior != "" {
		if pc.UnreliableSizeBehavior, err = peer.ParseUnreliableSizeBehavior(conf.Peer.UnreliableSizeBehavior); err != nil {
			return
		}
	}

	if err = parseDuration("peer.ping-interval", conf.Peer.PingInterval, &pc.PingInterval); err != nil {
		return
	}
	if err = parseDuration("peer.connection-timeout", conf.Peer.ConnectionTimeout, &pc.ConnectionTimeout); err != nil {
		return
	}

	pc.EnableDiscoveryResponse = conf.Peer.DiscoveryResponse
	pc.EnableUnconnectedMessages = conf.Peer.UnconnectedMessages
	pc.EnableConnectionApproval = conf.Core.Hail != ""

	// Encryption
	if conf.Encryption.Key != "" {
		pc.EnableEncryption = true
		pc.EncryptionKey = conf.Encryption.Key
		if conf.Encryption.Provider != "" {
			pc.EncryptionProvider = conf.Encryption.Provider
		}
	}

	// Simulation
	pc.SimulatedLoss = conf.Simulation.Loss
	pc.SimulatedDuplicatesChance = conf.Simulation.Duplicates
	if err = parseDuration("simulation.minimum-latency", conf.Simulation.MinimumLatency, &pc.SimulatedMinimumLatency); err != nil {
		return
	}
	if err = parseDuration("simulation.random-latency", conf.Simulation.RandomLatency, &pc.SimulatedRandomLatency); err != nil {
		return
	}

	err = pc.Validate()
	return
}

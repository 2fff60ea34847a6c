// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dtn7/peernet/pkg/peer"
)

func writeConfiguration(t *testing.T, content string) string {
	t.Helper()

	filename := filepath.Join(t.TempDir(), "configuration.toml")
	if err := os.WriteFile(filename, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return filename
}

func TestParseConfiguration(t *testing.T) {
	filename := writeConfiguration(t, `
[core]
app-identifier = "chat"
echo = true
hail = "secret"

[peer]
address = "127.0.0.1"
port = 35100
maximum-connections = 4
mtu = 4000
auto-expand-mtu = true
unreliable-size-behavior = "drop-above-mtu"
ping-interval = "1s"
connection-timeout = "10s"
discovery-response = true

[encryption]
provider = "chacha20poly1305"
key = "passphrase"

[simulation]
loss = 0.1
minimum-latency = "20ms"

[logging]
level = "debug"

[discovery]
ipv4 = true

[monitor]
listen = "localhost:8080"

[[connect]]
endpoint = "127.0.0.1:35101"

[[connect]]
endpoint = "127.0.0.1:35102"
`)

	conf, err := parseConfiguration(filename)
	if err != nil {
		t.Fatal(err)
	}

	if !conf.Core.Echo || conf.Core.Hail != "secret" {
		t.Fatalf("unexpected core block %v", conf.Core)
	}
	if conf.Discovery.Interval != 10 || !conf.Discovery.IPv4 || conf.Discovery.IPv6 {
		t.Fatalf("unexpected discovery block %v", conf.Discovery)
	}
	if conf.Monitor.Listen != "localhost:8080" || len(conf.Connect) != 2 {
		t.Fatalf("unexpected monitor or connect blocks %v, %v", conf.Monitor, conf.Connect)
	}

	pc, err := conf.peerConfiguration()
	if err != nil {
		t.Fatal(err)
	}

	if pc.AppIdentifier != "chat" || pc.Port != 35100 || !pc.LocalAddress.Equal([]byte{127, 0, 0, 1}) {
		t.Fatalf("unexpected identity %q on %v:%d", pc.AppIdentifier, pc.LocalAddress, pc.Port)
	}
	if pc.MaximumConnections != 4 || pc.MaximumTransmissionUnit != 4000 || !pc.AutoExpandMTU {
		t.Fatalf("unexpected limits %d, %d, %t", pc.MaximumConnections, pc.MaximumTransmissionUnit, pc.AutoExpandMTU)
	}
	if pc.UnreliableSizeBehavior != peer.DropAboveMTU {
		t.Fatalf("unexpected unreliable size behavior %v", pc.UnreliableSizeBehavior)
	}
	if pc.PingInterval != time.Second || pc.ConnectionTimeout != 10*time.Second {
		t.Fatalf("unexpected intervals %v, %v", pc.PingInterval, pc.ConnectionTimeout)
	}
	if !pc.EnableDiscoveryResponse || pc.EnableUnconnectedMessages || !pc.EnableConnectionApproval {
		t.Fatal("unexpected feature flags")
	}
	if !pc.EnableEncryption || pc.EncryptionProvider != "chacha20poly1305" || pc.EncryptionKey != "passphrase" {
		t.Fatalf("unexpected encryption %t, %q", pc.EnableEncryption, pc.EncryptionProvider)
	}
	if pc.SimulatedLoss != 0.1 || pc.SimulatedMinimumLatency != 20*time.Millisecond {
		t.Fatalf("unexpected simulation %v, %v", pc.SimulatedLoss, pc.SimulatedMinimumLatency)
	}
}

func TestParseConfigurationInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no app identifier", "[core]\necho = true\n"},
		{"broken toml", "[core\napp-identifier = \"chat\"\n"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := parseConfiguration(writeConfiguration(t, test.content)); err == nil {
				t.Fatal("parsing did not fail")
			}
		})
	}

	if _, err := parseConfiguration(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("parsing a missing file did not fail")
	}
}

func TestPeerConfigurationInvalid(t *testing.T) {
	tests := []struct {
		name   string
		modify func(conf *tomlConfig)
	}{
		{"address", func(conf *tomlConfig) { conf.Peer.Address = "localhost" }},
		{"unreliable size behavior", func(conf *tomlConfig) { conf.Peer.UnreliableSizeBehavior = "fragment" }},
		{"ping interval", func(conf *tomlConfig) { conf.Peer.PingInterval = "often" }},
		{"random latency", func(conf *tomlConfig) { conf.Simulation.RandomLatency = "10" }},
		{"mtu", func(conf *tomlConfig) { conf.Peer.MTU = 100 }},
		{"loss", func(conf *tomlConfig) { conf.Simulation.Loss = 1.5 }},
		{"encryption provider", func(conf *tomlConfig) {
			conf.Encryption = encryptionConf{Provider: "rot13", Key: "key"}
		}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			conf := tomlConfig{Core: coreConf{AppIdentifier: "chat"}}
			test.modify(&conf)

			if _, err := conf.peerConfiguration(); err == nil {
				t.Fatal("invalid configuration was accepted")
			}
		})
	}
}

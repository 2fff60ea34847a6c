// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dtn7/peernet/pkg/message"
	"github.com/dtn7/peernet/pkg/peer"
)

var loopback = net.IPv4(127, 0, 0, 1)

func testOptions() toolOptions {
	return toolOptions{
		appIdentifier: "peer-tool-test",
		provider:      "aes-gcm",
		timeout:       10 * time.Second,
		pingInterval:  time.Second,
		logLevel:      "warn",
	}
}

func testClientConfiguration(opts toolOptions) peer.Configuration {
	conf := opts.configuration()
	conf.LocalAddress = loopback
	conf.ResendHandshakeInterval = 250 * time.Millisecond
	return conf
}

func startServer(t *testing.T) *peer.Server {
	t.Helper()

	conf := peer.NewConfiguration("peer-tool-test")
	conf.LocalAddress = loopback

	s, err := peer.NewServer(conf)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Shutdown("test finished") })
	return s
}

func addressOf(s *peer.Server) string {
	return (&net.UDPAddr{IP: loopback, Port: s.Port()}).String()
}

// waitData returns the next Data Event of a Peer.
func waitData(t *testing.T, p *peer.Peer) peer.Event {
	t.Helper()

	timeout := time.After(10 * time.Second)
	for {
		select {
		case e := <-p.Events():
			if e.Type == peer.Data {
				return e
			}
		case <-timeout:
			t.Fatal("timed out waiting for data")
		}
	}
}

func TestReadInput(t *testing.T) {
	data, err := readInput("-", strings.NewReader("from stdin"))
	if err != nil || string(data) != "from stdin" {
		t.Fatalf("read %q (%v)", data, err)
	}

	filename := filepath.Join(t.TempDir(), "input")
	if err := os.WriteFile(filename, []byte("from file"), 0600); err != nil {
		t.Fatal(err)
	}
	if data, err = readInput(filename, nil); err != nil || string(data) != "from file" {
		t.Fatalf("read %q (%v)", data, err)
	}

	if _, err = readInput(filename+".missing", nil); err == nil {
		t.Fatal("reading a missing file did not fail")
	}
}

func TestToolConfiguration(t *testing.T) {
	opts := testOptions()
	if conf := opts.configuration(); conf.EnableEncryption || conf.PingInterval != time.Second {
		t.Fatal("unexpected default configuration")
	}

	opts.key = "secret"
	opts.provider = "xtea"
	conf := opts.configuration()
	if !conf.EnableEncryption || conf.EncryptionKey != "secret" || conf.EncryptionProvider != "xtea" {
		t.Fatal("encryption was not configured")
	}
	if err := conf.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestFileCodec(t *testing.T) {
	p, err := peer.NewPeer(peer.NewConfiguration("peer-tool-test"))
	if err != nil {
		t.Fatal(err)
	}

	exchangeType, err := message.TypeFor(message.ReliableOrdered, exchangeChannel)
	if err != nil {
		t.Fatal(err)
	}

	incoming := func(name string, data []byte) *message.Incoming {
		msg := p.PrepareMessage()
		encodeFile(msg, name, data)
		return message.NewIncoming(message.Header{
			Type:        exchangeType,
			PayloadBits: msg.LengthBits(),
		}, append([]byte(nil), msg.Data()...), nil, time.Now())
	}

	name, data, err := decodeFile(incoming("/tmp/some/notes.txt", []byte("content")))
	if err != nil || name != "notes.txt" || string(data) != "content" {
		t.Fatalf("decoded %q, %q (%v)", name, data, err)
	}

	for _, invalid := range []string{"..", "a/b", ""} {
		msg := p.PrepareMessage()
		msg.WriteString(invalid)
		in := message.NewIncoming(message.Header{
			Type:        exchangeType,
			PayloadBits: msg.LengthBits(),
		}, append([]byte(nil), msg.Data()...), nil, time.Now())

		if _, _, err := decodeFile(in); err == nil {
			t.Errorf("file name %q was accepted", invalid)
		}
	}
}

func TestDialAndSend(t *testing.T) {
	s := startServer(t)
	opts := testOptions()

	cl, c, err := dial(opts, testClientConfiguration(opts), addressOf(s))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = cl.Shutdown("test finished") }()

	payload := bytes.Repeat([]byte("peer-tool "), 500)
	if err := sendPayload(cl, c, payload, 3, opts.timeout); err != nil {
		t.Fatal(err)
	}

	e := waitData(t, s.Peer)
	if e.Message.SequenceChannel() != 3 || e.Message.DeliveryMethod() != message.ReliableOrdered {
		t.Fatalf("received %v", e.Message)
	}
	if data, err := e.Message.ReadBytes(len(payload)); err != nil || !bytes.Equal(data, payload) {
		t.Fatalf("received %d bytes (%v)", len(data), err)
	}
}

func TestDialFailure(t *testing.T) {
	silent, err := net.ListenUDP("udp", &net.UDPAddr{IP: loopback})
	if err != nil {
		t.Fatal(err)
	}
	defer silent.Close()

	opts := testOptions()
	opts.timeout = 500 * time.Millisecond

	if _, _, err := dial(opts, testClientConfiguration(opts), silent.LocalAddr().String()); err == nil {
		t.Fatal("dialing a silent socket succeeded")
	}

	opts.appIdentifier = "another-app"
	opts.timeout = 10 * time.Second
	if _, _, err := dial(opts, testClientConfiguration(opts), addressOf(startServer(t))); err == nil {
		t.Fatal("dialing a peer of another application succeeded")
	}

	if _, _, err := dial(opts, testClientConfiguration(opts), "not an address"); err == nil {
		t.Fatal("dialing an invalid address succeeded")
	}
}

func TestExchange(t *testing.T) {
	s := startServer(t)
	opts := testOptions()
	directory := t.TempDir()

	cl, c, err := dial(opts, testClientConfiguration(opts), addressOf(s))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = cl.Shutdown("test finished") }()

	ex, err := newExchange(cl, c, directory)
	if err != nil {
		t.Fatal(err)
	}

	handlerErr := make(chan error, 1)
	go func() { handlerErr <- ex.handler() }()

	// Remote to local
	var serverConn *peer.Connection
	for deadline := time.Now().Add(10 * time.Second); serverConn == nil; {
		if conns := s.Connections(); len(conns) == 1 {
			serverConn = conns[0]
		} else if time.Now().After(deadline) {
			t.Fatal("server has no connection")
		}
		time.Sleep(10 * time.Millisecond)
	}

	msg := s.PrepareMessage()
	encodeFile(msg, "incoming.txt", []byte("hello local"))
	serverConn.SendMessage(msg, message.ReliableOrdered, exchangeChannel)

	incomingPath := filepath.Join(directory, "incoming.txt")
	for deadline := time.Now().Add(10 * time.Second); ; {
		if data, err := os.ReadFile(incomingPath); err == nil && string(data) == "hello local" {
			break
		} else if time.Now().After(deadline) {
			t.Fatalf("received file was not written: %q (%v)", data, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Local to remote, moved into the directory to be complete on creation
	staged := filepath.Join(t.TempDir(), "outgoing.txt")
	if err := os.WriteFile(staged, []byte("hello remote"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(staged, filepath.Join(directory, "outgoing.txt")); err != nil {
		t.Fatal(err)
	}

	e := waitData(t, s.Peer)
	if name, data, err := decodeFile(e.Message); err != nil || name != "outgoing.txt" || string(data) != "hello remote" {
		t.Fatalf("received %q, %q (%v)", name, data, err)
	}

	ex.closeChan <- os.Interrupt
	select {
	case err := <-handlerErr:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("exchange did not stop")
	}
}

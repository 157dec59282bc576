package socks5

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/postalsys/relaymux/internal/relayerr"
)

func TestHandshake_IPv4Connect(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		client.Write([]byte{0x05, 0x01, 0x00})
		readFull(client, make([]byte, 2))
		client.Write([]byte{0x05, 0x01, 0x00, 0x01, 0x7F, 0x00, 0x00, 0x01, 0x00, 0x50})
	}()

	mh, err := NewAcceptor(server).Handshake(context.Background())
	if err != nil {
		t.Fatalf("Handshake() error = %v", err)
	}
	<-done

	ep := mh.TargetEndpoint()
	if ep.String() != "127.0.0.1:80" {
		t.Fatalf("target = %s, want 127.0.0.1:80", ep.String())
	}
}

func TestHandshake_DomainConnect(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		client.Write([]byte{0x05, 0x01, 0x00})
		readFull(client, make([]byte, 2))
		req := []byte{0x05, 0x01, 0x00, 0x03, 11}
		req = append(req, []byte("example.com")...)
		req = append(req, 0x01, 0xBB)
		client.Write(req)
	}()

	mh, err := NewAcceptor(server).Handshake(context.Background())
	if err != nil {
		t.Fatalf("Handshake() error = %v", err)
	}

	if got := mh.TargetEndpoint().String(); got != "example.com:443" {
		t.Fatalf("target = %s, want example.com:443", got)
	}
}

func TestHandshake_RejectedVersion(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go client.Write([]byte{0x04, 0x01, 0x00})

	_, err := NewAcceptor(server).Handshake(context.Background())
	if err == nil {
		t.Fatal("expected error for unsupported version")
	}
	e, ok := relayerr.As(err)
	if !ok || e.Kind != relayerr.KindUnsupportedVersion {
		t.Fatalf("err = %v, want KindUnsupportedVersion", err)
	}
}

func TestHandshake_InvalidMethodCount(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go client.Write([]byte{0x05, 0x00})

	_, err := NewAcceptor(server).Handshake(context.Background())
	e, ok := relayerr.As(err)
	if !ok || e.Kind != relayerr.KindInvalidMethodCount {
		t.Fatalf("err = %v, want KindInvalidMethodCount", err)
	}
}

func TestHandshake_UnsupportedAuthMethod(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go client.Write([]byte{0x05, 0x01, 0x02})

	_, err := NewAcceptor(server).Handshake(context.Background())
	e, ok := relayerr.As(err)
	if !ok || e.Kind != relayerr.KindUnsupportedAuthMethod {
		t.Fatalf("err = %v, want KindUnsupportedAuthMethod", err)
	}
}

func TestHandshake_UnsupportedCommand(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		client.Write([]byte{0x05, 0x01, 0x00})
		readFull(client, make([]byte, 2))
		client.Write([]byte{0x05, 0x02, 0x00, 0x01, 0x7F, 0x00, 0x00, 0x01, 0x00, 0x50})
	}()

	_, err := NewAcceptor(server).Handshake(context.Background())
	e, ok := relayerr.As(err)
	if !ok || e.Kind != relayerr.KindUnsupportedCommand {
		t.Fatalf("err = %v, want KindUnsupportedCommand", err)
	}
}

func TestTargetEndpoint_Idempotent(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		client.Write([]byte{0x05, 0x01, 0x00})
		readFull(client, make([]byte, 2))
		client.Write([]byte{0x05, 0x01, 0x00, 0x01, 0x7F, 0x00, 0x00, 0x01, 0x00, 0x50})
	}()

	mh, err := NewAcceptor(server).Handshake(context.Background())
	if err != nil {
		t.Fatalf("Handshake() error = %v", err)
	}
	first := mh.TargetEndpoint().String()
	for i := 0; i < 5; i++ {
		if got := mh.TargetEndpoint().String(); got != first {
			t.Fatalf("TargetEndpoint() changed across calls: %s != %s", got, first)
		}
	}
}

func TestFinalize_WritesSuccessReplyThenSplices(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	readGreeting := make(chan struct{})
	go func() {
		client.Write([]byte{0x05, 0x01, 0x00})
		readFull(client, make([]byte, 2))
		client.Write([]byte{0x05, 0x01, 0x00, 0x01, 0x7F, 0x00, 0x00, 0x01, 0x00, 0x50})
		close(readGreeting)
	}()

	mh, err := NewAcceptor(server).Handshake(context.Background())
	if err != nil {
		t.Fatalf("Handshake() error = %v", err)
	}
	<-readGreeting

	upstreamClient, upstreamServer := net.Pipe()

	finalizeDone := make(chan error, 1)
	go func() { finalizeDone <- mh.Finalize(context.Background(), upstreamServer) }()

	reply := make([]byte, 10)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := readFull(client, reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	want := []byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0}
	for i := range want {
		if reply[i] != want[i] {
			t.Fatalf("reply = % x, want % x", reply, want)
		}
	}

	// Bytes written after the reply flow through to upstream.
	go client.Write([]byte("hello"))
	buf := make([]byte, 5)
	upstreamClient.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := readFull(upstreamClient, buf); err != nil {
		t.Fatalf("read spliced bytes: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("spliced bytes = %q, want hello", buf)
	}

	client.Close()
	upstreamClient.Close()
	<-finalizeDone
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

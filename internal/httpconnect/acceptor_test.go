package httpconnect

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/postalsys/relaymux/internal/relayerr"
)

func TestHandshake_ConnectTunnel(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		req, _ := http.NewRequest(http.MethodConnect, "http://example.com:443", nil)
		req.Host = "example.com:443"
		req.Write(client)
	}()

	mh, err := NewAcceptor(server).Handshake(context.Background())
	if err != nil {
		t.Fatalf("Handshake() error = %v", err)
	}
	if got := mh.TargetEndpoint().String(); got != "example.com:443" {
		t.Fatalf("target = %s, want example.com:443", got)
	}

	upstreamClient, upstreamServer := net.Pipe()
	defer upstreamClient.Close()
	go mh.Finalize(context.Background(), upstreamServer)

	reader := bufio.NewReader(client)
	resp, err := http.ReadResponse(reader, nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHandshake_InvalidCommand(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		req, _ := http.NewRequest(http.MethodGet, "http://example.com/", nil)
		req.Write(client)
	}()

	_, err := NewAcceptor(server).Handshake(context.Background())
	e, ok := relayerr.As(err)
	if !ok || e.Kind != relayerr.KindInvalidCommand {
		t.Fatalf("err = %v, want KindInvalidCommand", err)
	}
}

func TestHandshake_InvalidConnectURL(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		req, _ := http.NewRequest(http.MethodConnect, "http://example.com", nil)
		req.Host = "example.com"
		req.Write(client)
	}()

	_, err := NewAcceptor(server).Handshake(context.Background())
	e, ok := relayerr.As(err)
	if !ok || e.Kind != relayerr.KindInvalidConnectURL {
		t.Fatalf("err = %v, want KindInvalidConnectURL", err)
	}
}

func TestHandshake_ClosedWithoutRequest(t *testing.T) {
	client, server := net.Pipe()

	go func() {
		time.Sleep(20 * time.Millisecond)
		client.Close()
	}()

	_, err := NewAcceptor(server).Handshake(context.Background())
	e, ok := relayerr.As(err)
	if !ok || e.Kind != relayerr.KindClosedWithoutRequest {
		t.Fatalf("err = %v, want KindClosedWithoutRequest", err)
	}
}

func TestHandshake_DrainsPreReadBytes(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		req, _ := http.NewRequest(http.MethodConnect, "http://example.com:443", nil)
		req.Host = "example.com:443"
		var buf bytes.Buffer
		req.Write(&buf)
		buf.WriteString("PREDATA")
		client.Write(buf.Bytes())
	}()

	mh, err := NewAcceptor(server).Handshake(context.Background())
	if err != nil {
		t.Fatalf("Handshake() error = %v", err)
	}

	bh, ok := mh.(*midHandshake)
	if !ok {
		t.Fatalf("MidHandshake type = %T, want *midHandshake", mh)
	}
	got := make([]byte, len("PREDATA"))
	bh.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(bh.conn, got); err != nil {
		t.Fatalf("read pre-read bytes: %v", err)
	}
	if string(got) != "PREDATA" {
		t.Fatalf("pre-read bytes = %q, want PREDATA", got)
	}
	bh.conn.SetReadDeadline(time.Time{})

	upstreamClient, upstreamServer := net.Pipe()
	defer upstreamClient.Close()
	go mh.Finalize(context.Background(), upstreamServer)

	reader := bufio.NewReader(client)
	if _, err := http.ReadResponse(reader, nil); err != nil {
		t.Fatalf("read response: %v", err)
	}
}

func TestFinalize_WritesSuccessLineThenSplices(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		req, _ := http.NewRequest(http.MethodConnect, "http://example.com:443", nil)
		req.Host = "example.com:443"
		req.Write(client)
	}()

	mh, err := NewAcceptor(server).Handshake(context.Background())
	if err != nil {
		t.Fatalf("Handshake() error = %v", err)
	}

	upstreamClient, upstreamServer := net.Pipe()
	finalizeDone := make(chan error, 1)
	go func() { finalizeDone <- mh.Finalize(context.Background(), upstreamServer) }()

	reader := bufio.NewReader(client)
	if _, err := http.ReadResponse(reader, nil); err != nil {
		t.Fatalf("read response: %v", err)
	}

	go client.Write([]byte("ping"))
	buf := make([]byte, 4)
	upstreamClient.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := io.ReadFull(upstreamClient, buf)
	if err != nil {
		t.Fatalf("read spliced bytes: %v", err)
	}
	if n != 4 || string(buf) != "ping" {
		t.Fatalf("spliced bytes = %q, want ping", buf[:n])
	}

	client.Close()
	upstreamClient.Close()
	<-finalizeDone
}

package listener

import (
	"net"
	"testing"
	"time"
)

func TestCountingConn_TracksReadAndWrittenBytes(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	counted := wrapCounting(a)

	go func() {
		b.Write([]byte("ping"))
	}()
	buf := make([]byte, 4)
	counted.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := counted.Read(buf); err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Read(make([]byte, 3))
	}()
	if _, err := counted.Write([]byte("pong")[:3]); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	<-done

	if got := counted.BytesRead(); got != 4 {
		t.Fatalf("BytesRead() = %d, want 4", got)
	}
	if got := counted.BytesWritten(); got != 3 {
		t.Fatalf("BytesWritten() = %d, want 3", got)
	}
}

func TestCountingConn_CloseWriteNoOpWithoutHalfCloser(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	counted := wrapCounting(a)
	if err := counted.CloseWrite(); err != nil {
		t.Fatalf("CloseWrite() error = %v, want nil no-op", err)
	}
}

package endpoint

import (
	"net"
	"testing"
)

func TestNewIP_RoundTripsThroughString(t *testing.T) {
	ep, err := NewIP(net.ParseIP("192.0.2.1"), 443)
	if err != nil {
		t.Fatalf("NewIP() error = %v", err)
	}
	if ep.Kind() != KindIP {
		t.Fatalf("Kind() = %v, want KindIP", ep.Kind())
	}
	if ep.Port() != 443 {
		t.Fatalf("Port() = %d, want 443", ep.Port())
	}
	if got, want := ep.String(), "192.0.2.1:443"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestNewIP_RejectsInvalidPort(t *testing.T) {
	for _, port := range []int{0, -1, 65536} {
		if _, err := NewIP(net.ParseIP("192.0.2.1"), port); err == nil {
			t.Fatalf("NewIP() with port %d: expected error", port)
		}
	}
}

func TestNewHostName_RoundTripsThroughString(t *testing.T) {
	ep, err := NewHostName("example.com", 8080)
	if err != nil {
		t.Fatalf("NewHostName() error = %v", err)
	}
	if ep.Kind() != KindHostName {
		t.Fatalf("Kind() = %v, want KindHostName", ep.Kind())
	}
	if ep.Host() != "example.com" {
		t.Fatalf("Host() = %q, want example.com", ep.Host())
	}
	if got, want := ep.String(), "example.com:8080"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestNewHostName_RejectsEmptyHost(t *testing.T) {
	if _, err := NewHostName("", 80); err == nil {
		t.Fatal("expected error for empty hostname")
	}
}

func TestEndpoint_IPOnlyMeaningfulForKindIP(t *testing.T) {
	host, err := NewHostName("example.com", 80)
	if err != nil {
		t.Fatalf("NewHostName() error = %v", err)
	}
	if host.IP() != nil {
		t.Fatalf("IP() on a hostname endpoint = %v, want nil", host.IP())
	}

	ip, err := NewIP(net.ParseIP("192.0.2.1"), 80)
	if err != nil {
		t.Fatalf("NewIP() error = %v", err)
	}
	if ip.Host() != "" {
		t.Fatalf("Host() on an IP endpoint = %q, want empty", ip.Host())
	}
}

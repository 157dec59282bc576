package socks5

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"time"

	accept "github.com/postalsys/relaymux/internal/acceptor"
	"github.com/postalsys/relaymux/internal/endpoint"
	"github.com/postalsys/relaymux/internal/relay"
	"github.com/postalsys/relaymux/internal/relayerr"
)

// Protocol constants per RFC 1928.
const (
	version = 0x05

	cmdConnect = 0x01

	addrTypeIPv4   = 0x01
	addrTypeDomain = 0x03
	addrTypeIPv6   = 0x04
)

// successReply is the fixed 10-byte CONNECT success frame with a zeroed
// bound address. Per spec.md §4.2/§9, the bound address is intentionally
// left zeroed — many clients ignore it, and a stricter client rejecting
// it is an accepted conformance gap.
var successReply = [10]byte{version, 0x00, 0x00, addrTypeIPv4, 0, 0, 0, 0, 0, 0}

// Acceptor implements acceptor.Acceptor for SOCKS5: method negotiation
// restricted to no-auth, CONNECT command only.
type Acceptor struct {
	conn           net.Conn
	authenticators []Authenticator
}

// NewAcceptor builds a SOCKS5 acceptor over an inbound connection. With
// no authenticators given, only no-auth is offered, matching spec.md
// §4.2.
func NewAcceptor(conn net.Conn, authenticators ...Authenticator) *Acceptor {
	if len(authenticators) == 0 {
		authenticators = []Authenticator{NoAuthAuthenticator{}}
	}
	return &Acceptor{conn: conn, authenticators: authenticators}
}

// Handshake implements acceptor.Acceptor.
func (a *Acceptor) Handshake(ctx context.Context) (accept.MidHandshake, error) {
	if deadline, ok := ctx.Deadline(); ok {
		a.conn.SetDeadline(deadline)
		defer a.conn.SetDeadline(time.Time{})
	}

	if err := a.negotiateMethod(); err != nil {
		return nil, err
	}

	ep, err := a.readRequest()
	if err != nil {
		return nil, err
	}

	return &midHandshake{conn: a.conn, target: ep}, nil
}

// negotiateMethod performs the greeting/method-selection exchange.
//
//	+----+----------+----------+
//	|VER | NMETHODS | METHODS  |
//	+----+----------+----------+
//	| 1  |    1     | 1 to 255 |
//	+----+----------+----------+
func (a *Acceptor) negotiateMethod() error {
	header := make([]byte, 2)
	if _, err := io.ReadFull(a.conn, header); err != nil {
		return relayerr.Wrap(relayerr.KindIO, "socks5.negotiateMethod", err)
	}
	if header[0] != version {
		return relayerr.New(relayerr.KindUnsupportedVersion, "socks5.negotiateMethod", nil)
	}

	nMethods := int(header[1])
	if nMethods == 0 {
		return relayerr.New(relayerr.KindInvalidMethodCount, "socks5.negotiateMethod", nil)
	}

	methods := make([]byte, nMethods)
	if _, err := io.ReadFull(a.conn, methods); err != nil {
		return relayerr.Wrap(relayerr.KindIO, "socks5.negotiateMethod", err)
	}

	selected := selectAuthenticator(a.authenticators, methods)
	if selected == nil {
		return relayerr.New(relayerr.KindUnsupportedAuthMethod, "socks5.negotiateMethod", nil)
	}

	if _, err := a.conn.Write([]byte{version, selected.Method()}); err != nil {
		return relayerr.Wrap(relayerr.KindIO, "socks5.negotiateMethod", err)
	}

	if err := selected.Authenticate(a.conn, a.conn); err != nil {
		return relayerr.Wrap(relayerr.KindUnsupportedAuthMethod, "socks5.negotiateMethod", err)
	}
	return nil
}

func selectAuthenticator(auths []Authenticator, offered []byte) Authenticator {
	for _, auth := range auths {
		for _, m := range offered {
			if m == auth.Method() {
				return auth
			}
		}
	}
	return nil
}

// readRequest reads the SOCKS5 request and decodes it into an Endpoint.
//
//	+----+-----+-------+------+----------+----------+
//	|VER | CMD |  RSV  | ATYP | DST.ADDR | DST.PORT |
//	+----+-----+-------+------+----------+----------+
//	| 1  |  1  | X'00' |  1   | Variable |    2     |
//	+----+-----+-------+------+----------+----------+
func (a *Acceptor) readRequest() (endpoint.Endpoint, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(a.conn, header); err != nil {
		return endpoint.Endpoint{}, relayerr.Wrap(relayerr.KindIO, "socks5.readRequest", err)
	}
	if header[0] != version {
		return endpoint.Endpoint{}, relayerr.New(relayerr.KindUnsupportedVersion, "socks5.readRequest", nil)
	}
	if header[1] != cmdConnect {
		return endpoint.Endpoint{}, relayerr.New(relayerr.KindUnsupportedCommand, "socks5.readRequest", nil)
	}

	var (
		ip   net.IP
		host string
	)
	switch header[3] {
	case addrTypeIPv4:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(a.conn, buf); err != nil {
			return endpoint.Endpoint{}, relayerr.Wrap(relayerr.KindIO, "socks5.readRequest", err)
		}
		ip = net.IP(buf)

	case addrTypeIPv6:
		buf := make([]byte, 16)
		if _, err := io.ReadFull(a.conn, buf); err != nil {
			return endpoint.Endpoint{}, relayerr.Wrap(relayerr.KindIO, "socks5.readRequest", err)
		}
		ip = net.IP(buf)

	case addrTypeDomain:
		lenBuf := make([]byte, 1)
		if _, err := io.ReadFull(a.conn, lenBuf); err != nil {
			return endpoint.Endpoint{}, relayerr.Wrap(relayerr.KindIO, "socks5.readRequest", err)
		}
		domain := make([]byte, int(lenBuf[0]))
		if _, err := io.ReadFull(a.conn, domain); err != nil {
			return endpoint.Endpoint{}, relayerr.Wrap(relayerr.KindIO, "socks5.readRequest", err)
		}
		host = string(domain)

	default:
		return endpoint.Endpoint{}, relayerr.New(relayerr.KindUnsupportedAddressType, "socks5.readRequest", nil)
	}

	portBuf := make([]byte, 2)
	if _, err := io.ReadFull(a.conn, portBuf); err != nil {
		return endpoint.Endpoint{}, relayerr.Wrap(relayerr.KindIO, "socks5.readRequest", err)
	}
	port := int(binary.BigEndian.Uint16(portBuf))

	if ip != nil {
		ep, err := endpoint.NewIP(ip, port)
		if err != nil {
			return endpoint.Endpoint{}, relayerr.Wrap(relayerr.KindUnsupportedAddressType, "socks5.readRequest", err)
		}
		return ep, nil
	}
	ep, err := endpoint.NewHostName(host, port)
	if err != nil {
		return endpoint.Endpoint{}, relayerr.Wrap(relayerr.KindInvalidURL, "socks5.readRequest", err)
	}
	return ep, nil
}

// midHandshake implements acceptor.MidHandshake for SOCKS5.
type midHandshake struct {
	conn   net.Conn
	target endpoint.Endpoint
}

func (m *midHandshake) TargetEndpoint() *endpoint.Endpoint { return &m.target }

// Finalize writes the fixed success reply and splices the inbound
// connection to upstream until both directions close.
func (m *midHandshake) Finalize(ctx context.Context, upstream net.Conn) error {
	if _, err := m.conn.Write(successReply[:]); err != nil {
		return relayerr.Wrap(relayerr.KindIO, "socks5.Finalize", err)
	}
	if err := relay.Splice(m.conn, upstream); err != nil {
		return relayerr.Wrap(relayerr.KindIO, "socks5.Finalize", err)
	}
	return nil
}

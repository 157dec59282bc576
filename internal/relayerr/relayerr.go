// Package relayerr gives callers a fixed set of error kinds to
// discriminate on while keeping the error value itself opaque in transit,
// the way Iam54r1n4-Gordafarid's internal/proxy_error enumerates
// sentinel errors per failure mode. relaymux wraps those sentinels with
// source context using the teacher's fmt.Errorf("...: %w", err) idiom so
// errors.Is/errors.As keep working through the stack.
package relayerr

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy a caller may discriminate on.
type Kind int

const (
	KindUnknown Kind = iota
	// HTTP protocol errors.
	KindInvalidCommand
	KindInvalidConnectURL
	KindInvalidURL
	KindClosedWithoutRequest
	// SOCKS5 protocol errors.
	KindUnsupportedVersion
	KindInvalidMethodCount
	KindUnsupportedAuthMethod
	KindUnsupportedCommand
	KindUnsupportedAddressType
	// Routing.
	KindNoRouteToDestination
	// Transport / resolution — surfaced unchanged from the underlying
	// I/O or DNS failure but still classifiable as one of these kinds.
	KindIO
	KindResolve
)

func (k Kind) String() string {
	switch k {
	case KindInvalidCommand:
		return "invalid_command"
	case KindInvalidConnectURL:
		return "invalid_connect_url"
	case KindInvalidURL:
		return "invalid_url"
	case KindClosedWithoutRequest:
		return "closed_without_request"
	case KindUnsupportedVersion:
		return "unsupported_version"
	case KindInvalidMethodCount:
		return "invalid_method_count"
	case KindUnsupportedAuthMethod:
		return "unsupported_auth_method"
	case KindUnsupportedCommand:
		return "unsupported_command"
	case KindUnsupportedAddressType:
		return "unsupported_address_type"
	case KindNoRouteToDestination:
		return "no_route_to_destination"
	case KindIO:
		return "io"
	case KindResolve:
		return "resolve"
	default:
		return "unknown"
	}
}

// Error is the opaque, erased error value that carries source context. It
// wraps an underlying error (often a sentinel below, sometimes a raw I/O
// or DNS error) and remembers the operation that produced it and the kind
// a caller may match against with errors.Is/errors.As.
type Error struct {
	Kind Kind
	Op   string
	err  error
}

// New builds an Error of the given kind, tagged with the operation that
// failed. If err is nil, the kind's sentinel (see Sentinel) is used.
func New(kind Kind, op string, err error) *Error {
	if err == nil {
		err = Sentinel(kind)
	}
	return &Error{Kind: kind, Op: op, err: err}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Op, e.err.Error())
}

// Unwrap exposes the underlying error so errors.Is/errors.As traverse
// through an *Error transparently.
func (e *Error) Unwrap() error { return e.err }

// Is reports whether target is the sentinel for e's kind, so
// errors.Is(err, relayerr.ErrUnsupportedVersion) works without callers
// needing to unwrap manually.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// Sentinel errors, one per Kind, matching the taxonomy in spec.md §7.
var (
	ErrInvalidCommand         = errors.New("invalid command")
	ErrInvalidConnectURL      = errors.New("invalid CONNECT url")
	ErrInvalidURL             = errors.New("invalid url")
	ErrClosedWithoutRequest   = errors.New("closed without request")
	ErrUnsupportedVersion     = errors.New("unsupported protocol version")
	ErrInvalidMethodCount     = errors.New("invalid method count")
	ErrUnsupportedAuthMethod  = errors.New("unsupported authentication method")
	ErrUnsupportedCommand     = errors.New("unsupported command")
	ErrUnsupportedAddressType = errors.New("unsupported address type")
	ErrNoRouteToDestination   = errors.New("no route to destination")
)

var sentinels = map[Kind]error{
	KindInvalidCommand:         ErrInvalidCommand,
	KindInvalidConnectURL:      ErrInvalidConnectURL,
	KindInvalidURL:             ErrInvalidURL,
	KindClosedWithoutRequest:   ErrClosedWithoutRequest,
	KindUnsupportedVersion:     ErrUnsupportedVersion,
	KindInvalidMethodCount:     ErrInvalidMethodCount,
	KindUnsupportedAuthMethod:  ErrUnsupportedAuthMethod,
	KindUnsupportedCommand:     ErrUnsupportedCommand,
	KindUnsupportedAddressType: ErrUnsupportedAddressType,
	KindNoRouteToDestination:   ErrNoRouteToDestination,
}

// Sentinel returns the canonical sentinel error for a kind, or a fresh
// error whose text is the kind's String() ("io", "resolve", "unknown")
// for kinds that have no sentinel because they always wrap a concrete
// underlying error instead.
func Sentinel(kind Kind) error {
	if err, ok := sentinels[kind]; ok {
		return err
	}
	return errors.New(kind.String())
}

// Wrap classifies an arbitrary error (I/O, DNS) as the given kind while
// preserving it unchanged as the wrapped cause — used at the boundary
// where spec.md §7 says transport/resolution failures "surface unchanged"
// but still need a Kind a caller can switch on.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, err: err}
}

// As is a small convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

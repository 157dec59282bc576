// Package listener drives the accept loop shared by all three acceptor
// families: it owns a plain TCP net.Listener, hands each accepted
// connection to an Acceptor, routes the resulting target endpoint
// through a Connector, and calls Finalize once an upstream exists. It
// is grounded on the teacher's internal/forward.Listener (accept loop,
// connection tracking, graceful Stop), generalized from a single
// mesh-dialer target to any acceptor.Acceptor/connector.Connector pair.
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/postalsys/relaymux/internal/acceptor"
	"github.com/postalsys/relaymux/internal/connector"
	"github.com/postalsys/relaymux/internal/logging"
	"github.com/postalsys/relaymux/internal/metrics"
	"github.com/postalsys/relaymux/internal/recovery"
	"github.com/postalsys/relaymux/internal/relayerr"
)

// AcceptorFactory builds the protocol-specific Acceptor for one freshly
// accepted connection.
type AcceptorFactory func(conn net.Conn) acceptor.Acceptor

// Config holds listener configuration.
type Config struct {
	// Kind names the acceptor family for logging and metrics
	// ("socks5", "http-connect", "http-proxy").
	Kind string

	// Address is the local address to listen on.
	Address string

	// MaxConnections limits concurrent connections (0 = unlimited).
	MaxConnections int

	// HandshakeTimeout bounds how long Handshake and routing may take
	// before the connection is abandoned (0 = no timeout).
	HandshakeTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Listener accepts TCP connections and drives each one through the
// handshake -> route -> finalize pipeline.
type Listener struct {
	cfg         Config
	newAcceptor AcceptorFactory
	router      connector.Connector
	listener    net.Listener
	logger      *slog.Logger
	metrics     *metrics.Metrics

	mu          sync.Mutex
	connections map[net.Conn]struct{}
	connCount   atomic.Int64

	running  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a Listener that serves newAcceptor-produced handshakes
// over router-resolved upstreams.
func New(cfg Config, newAcceptor AcceptorFactory, router connector.Connector) *Listener {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewMetricsWithRegistry(nil)
	}

	return &Listener{
		cfg:         cfg,
		newAcceptor: newAcceptor,
		router:      router,
		logger:      logger,
		metrics:     m,
		connections: make(map[net.Conn]struct{}),
		stopCh:      make(chan struct{}),
	}
}

// Start binds the configured address and begins accepting connections.
func (l *Listener) Start() error {
	if l.running.Load() {
		return fmt.Errorf("listener already running")
	}

	ln, err := net.Listen("tcp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", l.cfg.Address, err)
	}

	l.listener = ln
	l.running.Store(true)

	l.wg.Add(1)
	go l.acceptLoop()

	l.logger.Info("listener started",
		logging.KeyAcceptor, l.cfg.Kind,
		logging.KeyLocalAddr, ln.Addr().String())
	return nil
}

// Stop closes the listener and every tracked connection, then waits for
// in-flight connections to finish unwinding.
func (l *Listener) Stop() error {
	var err error
	l.stopOnce.Do(func() {
		l.running.Store(false)
		close(l.stopCh)

		if l.listener != nil {
			err = l.listener.Close()
		}

		l.mu.Lock()
		for conn := range l.connections {
			conn.Close()
		}
		l.mu.Unlock()

		l.logger.Info("listener stopped", logging.KeyAcceptor, l.cfg.Kind)
	})

	l.wg.Wait()
	return err
}

// Addr returns the bound listening address, or nil if not started.
func (l *Listener) Addr() net.Addr {
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// ConnectionCount returns the number of currently tracked connections.
func (l *Listener) ConnectionCount() int64 {
	return l.connCount.Load()
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	defer recovery.RecoverWithLog(l.logger, "listener.acceptLoop")

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-l.stopCh:
				return
			default:
				l.logger.Debug("accept error",
					logging.KeyAcceptor, l.cfg.Kind,
					logging.KeyError, err)
				continue
			}
		}

		if l.cfg.MaxConnections > 0 && l.connCount.Load() >= int64(l.cfg.MaxConnections) {
			l.logger.Debug("connection limit reached",
				logging.KeyAcceptor, l.cfg.Kind,
				"limit", l.cfg.MaxConnections)
			conn.Close()
			continue
		}

		l.mu.Lock()
		l.connections[conn] = struct{}{}
		l.mu.Unlock()
		l.connCount.Add(1)
		l.metrics.RecordAccept(l.cfg.Kind)

		l.wg.Add(1)
		go l.handleConnection(conn)
	}
}

func (l *Listener) handleConnection(conn net.Conn) {
	defer l.wg.Done()
	defer recovery.RecoverWithLog(l.logger, "listener.handleConnection")
	defer func() {
		conn.Close()
		l.mu.Lock()
		delete(l.connections, conn)
		l.mu.Unlock()
		l.connCount.Add(-1)
		l.metrics.RecordClose(l.cfg.Kind)
	}()

	remote := conn.RemoteAddr().String()

	handshakeCtx, cancel := l.handshakeContext()
	defer cancel()

	start := time.Now()
	acc := l.newAcceptor(conn)
	mh, err := acc.Handshake(handshakeCtx)
	if err != nil {
		l.metrics.RecordHandshake(l.cfg.Kind, time.Since(start).Seconds(), errKindOf(err))
		l.logger.Debug("handshake failed",
			logging.KeyAcceptor, l.cfg.Kind,
			logging.KeyRemoteAddr, remote,
			logging.KeyError, err)
		return
	}
	l.metrics.RecordHandshake(l.cfg.Kind, time.Since(start).Seconds(), "")

	target := *mh.TargetEndpoint()
	upstream, err := l.router.Connect(handshakeCtx, target)
	if err != nil {
		l.metrics.RecordRouterAttempt("failure")
		l.logger.Debug("route failed",
			logging.KeyAcceptor, l.cfg.Kind,
			logging.KeyEndpoint, target.String(),
			logging.KeyError, err)
		return
	}
	l.metrics.RecordRouterAttempt("success")
	defer upstream.Close()

	l.logger.Debug("connected",
		logging.KeyAcceptor, l.cfg.Kind,
		logging.KeyRemoteAddr, remote,
		logging.KeyEndpoint, target.String())

	counted := wrapCounting(upstream)
	finalizeErr := mh.Finalize(context.Background(), counted)
	l.metrics.RecordBytes(counted.BytesRead(), counted.BytesWritten())
	if finalizeErr != nil {
		l.logger.Debug("finalize ended",
			logging.KeyAcceptor, l.cfg.Kind,
			logging.KeyEndpoint, target.String(),
			logging.KeyError, finalizeErr)
	}
}

func (l *Listener) handshakeContext() (context.Context, context.CancelFunc) {
	if l.cfg.HandshakeTimeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), l.cfg.HandshakeTimeout)
}

// errKindOf extracts the relayerr.Kind label for metrics, falling back
// to "unknown" for errors outside the taxonomy (context cancellation,
// raw I/O errors below the relayerr boundary).
func errKindOf(err error) string {
	if e, ok := relayerr.As(err); ok {
		return e.Kind.String()
	}
	return "unknown"
}

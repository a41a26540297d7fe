// Package listener implements the per-port public TCP acceptor:
// peek HTTP bytes without consuming them, consult the RoutingTable,
// open a new logical stream on the target node, and hand the pair to
// the Relay. Raw net.Listener.Accept rather than net/http, since the
// public port is not pure HTTP.
package listener

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"reversetunnel/internal/logging"
	"reversetunnel/internal/registry"
	"reversetunnel/internal/relay"
	"reversetunnel/internal/routing"
	"reversetunnel/internal/telemetry"
)

// PeekBytes is the maximum number of initial bytes peeked for routing.
const PeekBytes = 1024

// PublicListener accepts TCP connections on one assigned public port.
type PublicListener struct {
	port      int
	ln        net.Listener
	registry  *registry.NodeRegistry
	routes    *routing.RoutingTable
	forwarder relay.Forwarder
	lgr       logging.Logger

	wg sync.WaitGroup
}

// New wraps an already-bound net.Listener for the given port.
func New(port int, ln net.Listener, reg *registry.NodeRegistry, routes *routing.RoutingTable, lgr logging.Logger) *PublicListener {
	return &PublicListener{
		port:      port,
		ln:        ln,
		registry:  reg,
		routes:    routes,
		forwarder: relay.NewForwarder(),
		lgr:       lgr,
	}
}

// Serve runs the accept loop until ctx is cancelled, at which point
// the listener is closed and Serve returns nil once every in-flight
// connection handler has returned.
func (p *PublicListener) Serve(ctx context.Context) error {
	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = p.ln.Close()
		case <-stopped:
		}
	}()
	defer close(stopped)

	for {
		conn, err := p.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				p.wg.Wait()
				return nil
			default:
				return err
			}
		}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.handleConn(conn)
		}()
	}
}

func (p *PublicListener) handleConn(conn net.Conn) {
	br := bufio.NewReaderSize(conn, PeekBytes)
	// Wait for the first bytes to arrive, then peek whatever the
	// kernel delivered with them, capped at PeekBytes. Peeking the
	// full buffer size up front would block on requests smaller than
	// 1 KiB until the client sends more.
	if _, err := br.Peek(1); err != nil {
		_ = conn.Close()
		return
	}
	n := br.Buffered()
	if n > PeekBytes {
		n = PeekBytes
	}
	peeked, _ := br.Peek(n)

	host := extractHost(peeked)
	path := extractPath(peeked)

	backendID := p.routes.Lookup(host, path)
	nodeID, _ := splitBackend(backendID)

	_, entry, ok := p.registry.FindByNodeID(nodeID)
	if !ok {
		// No live node for the routed backend: drop the connection
		// silently. Operators should ensure a live default.
		p.lgr.Debug("no live connection for backend",
			logging.F("backend", backendID), logging.F("host", host), logging.F("path", path))
		_ = conn.Close()
		return
	}

	ctx, span := telemetry.Tracer("relay").Start(entry.Conn.Context(), "tunnel.relay",
		trace.WithAttributes(
			attribute.String("backend.id", backendID),
			attribute.Int("tunnel.port", p.port),
		))
	defer span.End()

	stream, err := entry.Conn.OpenStreamSync(ctx)
	if err != nil {
		p.lgr.Debug("failed to open stream to node",
			logging.F("node", nodeID), logging.F("err", err))
		_ = conn.Close()
		return
	}

	p.forwarder.Forward(&bufConn{Conn: conn, r: br}, stream, p.lgr)
}

// bufConn lets the relay read through the bufio.Reader that already
// consumed the peeked bytes, while still exposing CloseWrite when the
// underlying connection supports it.
type bufConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufConn) Read(p []byte) (int, error) { return b.r.Read(p) }

func (b *bufConn) CloseWrite() error {
	if cw, ok := b.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return b.Conn.Close()
}

// extractHost finds the first case-insensitive "Host:" header line.
func extractHost(peeked []byte) string {
	for _, line := range splitLines(peeked) {
		if len(line) >= 5 && strings.EqualFold(line[:5], "host:") {
			return strings.TrimSpace(line[5:])
		}
	}
	return ""
}

// extractPath returns the second whitespace-separated token of the
// first line (the request-URI of an HTTP request line), or "/" if
// the buffer doesn't look like one.
func extractPath(peeked []byte) string {
	lines := splitLines(peeked)
	if len(lines) == 0 {
		return "/"
	}
	fields := strings.Fields(lines[0])
	if len(fields) < 2 {
		return "/"
	}
	return fields[1]
}

func splitLines(peeked []byte) []string {
	s := string(peeked)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n")
}

// splitBackend splits a "<node_id>:<logical_port>" backend id. The
// logical port is advisory: the node itself knows its own
// local service port, so the listener only needs the node id.
func splitBackend(backendID string) (nodeID, logicalPort string) {
	before, after, found := strings.Cut(backendID, ":")
	if !found {
		return backendID, ""
	}
	return before, after
}

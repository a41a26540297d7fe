// Package session implements the tunnel session lifecycle: one task
// per inbound QUIC connection, driving the AUTH handshake on the
// first bidirectional stream, allocating a public port, publishing
// the connection to the NodeRegistry, and spawning the per-port
// PublicListener for the lifetime of the session.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"reversetunnel/internal/directory"
	"reversetunnel/internal/listener"
	"reversetunnel/internal/logging"
	"reversetunnel/internal/portpool"
	"reversetunnel/internal/quictransport"
	"reversetunnel/internal/registry"
	"reversetunnel/internal/routing"
	"reversetunnel/internal/telemetry"
)

// AuthLineLimit is the maximum number of bytes read for the first
// AUTH line.
const AuthLineLimit = 128

// Listen abstracts the fragment of net package used to bind the
// public TCP port for a newly assigned session, so tests can supply a
// fake without opening a real socket.
type Listen func(network, address string) (net.Listener, error)

// Manager drives the tunnel session lifecycle. One Manager is shared
// across all inbound connections; HandleConnection runs the
// per-connection task.
type Manager struct {
	Directory *directory.NodeDirectory
	Pool      *portpool.PortPool
	Registry  *registry.NodeRegistry
	Routes    *routing.RoutingTable
	Logger    logging.Logger
	Listen    Listen
}

// New builds a Manager from its shared collaborators. lgr defaults to
// a NopLogger and listen to net.Listen when nil/zero.
func New(dir *directory.NodeDirectory, pool *portpool.PortPool, reg *registry.NodeRegistry, routes *routing.RoutingTable, lgr logging.Logger, listen Listen) *Manager {
	if lgr == nil {
		lgr = logging.NopLogger{}
	}
	if listen == nil {
		listen = net.Listen
	}
	return &Manager{Directory: dir, Pool: pool, Registry: reg, Routes: routes, Logger: lgr, Listen: listen}
}

// HandleConnection runs one inbound QUIC connection's session to
// completion: the AUTH handshake on the first bidi stream, port
// allocation, registry publication, spawning the PublicListener, and
// blocking until the connection dies. Cancellation of ctx (parent
// server shutdown) or a transport error both end the session the same
// way: the PortGuard releases, the registry entry is removed, and the
// PublicListener is cancelled.
func (m *Manager) HandleConnection(ctx context.Context, conn quictransport.Connection) error {
	sessionID := uuid.NewString()
	lgr := m.Logger.Named("session").With(
		logging.F("session_id", sessionID),
		logging.F("remote_addr", conn.RemoteAddr().String()),
	)

	ctx, span := telemetry.Tracer("session").Start(ctx, "tunnel.session",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	// A failed handshake closes only the stream; the client may retry
	// on a new stream over the same connection.
	var stream quic.Stream
	var outcome authOutcome
	for {
		s, err := conn.AcceptStream(ctx)
		if err != nil {
			return fmt.Errorf("session: accept auth stream: %w", err)
		}
		o, err := m.authenticate(s, lgr)
		if err != nil {
			lgr.Debug("auth handshake failed", logging.F("err", err))
			_ = s.Close()
			continue
		}
		stream, outcome = s, o
		break
	}

	port, guard, err := m.allocatePort(outcome.nodeID, outcome.seedHex, stream, lgr)
	if err != nil {
		_ = stream.Close()
		return err
	}
	defer guard.Release()

	span.SetAttributes(
		attribute.String("node.id", outcome.nodeID),
		attribute.Int("tunnel.port", port),
	)

	if _, err := fmt.Fprintf(stream, "ASSIGNED %d\n", port); err != nil {
		lgr.Debug("failed to write ASSIGNED reply", logging.F("err", err))
	}

	m.Registry.Insert(port, registry.Entry{Conn: conn, NodeID: outcome.nodeID})
	defer m.Registry.Remove(port)

	lnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ln, err := m.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("session: listen on assigned port %d: %w", port, err)
	}
	pl := listener.New(port, ln, m.Registry, m.Routes, lgr.Named("listener"))
	listenerDone := make(chan error, 1)
	go func() { listenerDone <- pl.Serve(lnCtx) }()

	lgr.Info("session established",
		logging.F("node_id", outcome.nodeID), logging.F("port", port))

	return m.sessionLoop(ctx, conn, lgr)
}

// sessionLoop blocks until the connection dies. The streams the
// server itself opens via OpenStreamSync from the PublicListener side
// never show up here, since AcceptStream yields only client-initiated
// streams; the client never initiates another stream on this
// connection, so any stream this loop happens to accept is closed
// unread.
func (m *Manager) sessionLoop(ctx context.Context, conn quictransport.Connection, lgr logging.Logger) error {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			lgr.Info("session ended", logging.F("err", err))
			return nil
		}
		_ = stream.Close()
	}
}

type authOutcome struct {
	nodeID  string
	seedHex string
}

// authenticate reads the AUTH line, verifies it against the
// directory, and writes the Unauthorized, Authorized and ROTATE reply
// lines. The allocation replies (Service unavailable, or the final
// ASSIGNED line) are written by the caller once port allocation has
// run, since the rotation reply must precede them.
func (m *Manager) authenticate(stream io.ReadWriter, lgr logging.Logger) (authOutcome, error) {
	line, err := readLine(stream, AuthLineLimit)
	if err != nil {
		writeLine(stream, "Unauthorized: Invalid auth header\n")
		return authOutcome{}, fmt.Errorf("session: read auth line: %w", err)
	}

	nodeID, preimageHex, reason := parseAuthLine(line)
	if reason != "" {
		writeLine(stream, "Unauthorized: "+reason+"\n")
		return authOutcome{}, errors.New("session: " + reason)
	}

	node, ok := m.Directory.Get(nodeID)
	if !ok {
		writeLine(stream, "Unauthorized: Invalid node id or preimage\n")
		return authOutcome{}, fmt.Errorf("session: unknown node %q", nodeID)
	}

	result, err := node.Verify(preimageHex)
	if err != nil {
		writeLine(stream, "Unauthorized: Invalid node id or preimage\n")
		return authOutcome{}, fmt.Errorf("session: verify failed for %q: %w", nodeID, err)
	}

	writeLine(stream, "Authorized: Success\n")
	if result.Rotated {
		writeLine(stream, "ROTATE "+result.NewSeedHex+"\n")
	}

	lgr.Debug("authenticated", logging.F("node_id", nodeID), logging.F("rotated", result.Rotated))
	return authOutcome{nodeID: nodeID, seedHex: node.SeedHex()}, nil
}

// allocatePort assigns the node's static public port. The chain has
// already advanced by the time this runs, so an allocation
// failure is surfaced on the stream without rolling back the
// authentication that already happened.
func (m *Manager) allocatePort(nodeID, seedHex string, stream io.Writer, lgr logging.Logger) (int, *portpool.Guard, error) {
	port, err := m.Pool.AssignStatic(nodeID, seedHex)
	if err != nil {
		reason := allocationFailureReason(err)
		writeLine(stream, "Service unavailable: "+reason+"\n")
		lgr.Info("port allocation failed", logging.F("node_id", nodeID), logging.F("err", err))
		return 0, nil, fmt.Errorf("session: allocate port for %q: %w", nodeID, err)
	}
	return port, portpool.NewGuard(m.Pool, port), nil
}

func allocationFailureReason(err error) string {
	var inUse *portpool.PortInUseError
	switch {
	case errors.As(err, &inUse):
		return fmt.Sprintf("Port %d is in use", inUse.Port)
	case errors.Is(err, portpool.ErrSeedMissing):
		return "Seed missing"
	case errors.Is(err, portpool.ErrSeedHexInvalid):
		return "Seed hex invalid"
	default:
		return err.Error()
	}
}

// parseAuthLine validates the "AUTH <node_id> <preimage_hex>" line:
// exactly three whitespace-separated tokens. Returns a non-empty
// reason string carrying the exact reply wording on mismatch.
func parseAuthLine(line string) (nodeID, preimageHex, reason string) {
	fields := strings.Fields(line)
	switch {
	case len(fields) < 3:
		return "", "", "Auth line lack of arguments"
	case len(fields) > 3:
		return "", "", "Auth line has too many arguments"
	case fields[0] != "AUTH":
		return "", "", "Invalid auth header"
	}
	return fields[1], fields[2], ""
}

func readLine(r io.Reader, limit int) (string, error) {
	lr := &io.LimitedReader{R: r, N: int64(limit)}
	br := bufio.NewReader(lr)
	line, err := br.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func writeLine(w io.Writer, line string) {
	_, _ = io.WriteString(w, line)
}

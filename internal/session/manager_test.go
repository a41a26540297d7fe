package session

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/quic-go/quic-go"

	"reversetunnel/internal/directory"
	"reversetunnel/internal/hashchain"
	"reversetunnel/internal/logging"
	"reversetunnel/internal/portpool"
	"reversetunnel/internal/registry"
	"reversetunnel/internal/routing"
)

func TestParseAuthLine(t *testing.T) {
	cases := []struct {
		line       string
		wantNodeID string
		wantReason string
	}{
		{"AUTH n1 abcd", "n1", ""},
		{"AUTH n1", "", "Auth line lack of arguments"},
		{"AUTH n1 abcd extra", "", "Auth line has too many arguments"},
		{"HELLO n1 abcd", "", "Invalid auth header"},
	}
	for _, c := range cases {
		nodeID, _, reason := parseAuthLine(c.line)
		if reason != c.wantReason {
			t.Errorf("parseAuthLine(%q) reason = %q, want %q", c.line, reason, c.wantReason)
		}
		if reason == "" && nodeID != c.wantNodeID {
			t.Errorf("parseAuthLine(%q) nodeID = %q, want %q", c.line, nodeID, c.wantNodeID)
		}
	}
}

// fakeStream adapts an io.Pipe half-pair into the quic.Stream
// interface; only Read/Write/Close carry real behavior, everything
// else is a no-op sufficient for the handshake under test.
type fakeStream struct {
	io.Reader
	io.Writer
	closed chan struct{}
}

func newFakeStream(r io.Reader, w io.Writer) *fakeStream {
	return &fakeStream{Reader: r, Writer: w, closed: make(chan struct{})}
}

func (f *fakeStream) StreamID() quic.StreamID                 { return 0 }
func (f *fakeStream) CancelRead(quic.StreamErrorCode)          {}
func (f *fakeStream) CancelWrite(quic.StreamErrorCode)         {}
func (f *fakeStream) SetReadDeadline(time.Time) error          { return nil }
func (f *fakeStream) SetWriteDeadline(time.Time) error         { return nil }
func (f *fakeStream) SetDeadline(time.Time) error              { return nil }
func (f *fakeStream) Context() context.Context                 { return context.Background() }
func (f *fakeStream) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

// fakeConn hands out its queued fakeStreams from AcceptStream in
// order, then blocks until the test cancels ctx, simulating a live
// session loop.
type fakeConn struct {
	streams chan quic.Stream
}

func newFakeConn(streams ...quic.Stream) *fakeConn {
	ch := make(chan quic.Stream, len(streams))
	for _, s := range streams {
		ch <- s
	}
	return &fakeConn{streams: ch}
}

func (f *fakeConn) OpenStreamSync(context.Context) (quic.Stream, error) { return nil, nil }
func (f *fakeConn) AcceptStream(ctx context.Context) (quic.Stream, error) {
	select {
	case s := <-f.streams:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
func (f *fakeConn) Context() context.Context { return context.Background() }
func (f *fakeConn) CloseWithError(quic.ApplicationErrorCode, string) error { return nil }
func (f *fakeConn) RemoteAddr() net.Addr { return &net.TCPAddr{} }

// fakeListener never accepts anything; its only job is to satisfy
// net.Listener so HandleConnection doesn't touch a real socket.
type fakeListener struct {
	accept chan net.Conn
	closed chan struct{}
}

func newFakeListener() *fakeListener {
	return &fakeListener{accept: make(chan net.Conn), closed: make(chan struct{})}
}

func (l *fakeListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.accept:
		return c, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}
func (l *fakeListener) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return nil
}
func (l *fakeListener) Addr() net.Addr { return &net.TCPAddr{} }

func TestHandleConnectionSuccessfulAuthAssignsPort(t *testing.T) {
	var seed [32]byte
	dir := directory.New()
	node := hashchain.NewNodeFromSeed("n1", seed, 4, 3)
	if err := dir.RestoreNode(node); err != nil {
		t.Fatalf("RestoreNode failed: %v", err)
	}

	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()
	stream := newFakeStream(serverReader, serverWriter)

	conn := newFakeConn(stream)

	pool := portpool.New(5001, 5999)
	reg := registry.New()
	routes := routing.New("none")
	fl := newFakeListener()

	mgr := New(dir, pool, reg, routes, logging.NopLogger{}, func(string, string) (net.Listener, error) {
		return fl, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.HandleConnection(ctx, conn) }()

	preimage := hashchain.Iterate(seed, 3).ToHexString()
	if _, err := io.WriteString(clientWriter, "AUTH n1 "+preimage+"\n"); err != nil {
		t.Fatalf("write auth line: %v", err)
	}

	replies := make(chan string, 1)
	go func() {
		var sb strings.Builder
		buf := make([]byte, 256)
		for !containsAll(sb.String(), "Authorized: Success", "ASSIGNED") {
			n, err := clientReader.Read(buf)
			sb.Write(buf[:n])
			if err != nil {
				break
			}
		}
		replies <- sb.String()
	}()

	select {
	case reply := <-replies:
		if !containsAll(reply, "Authorized: Success", "ASSIGNED") {
			t.Errorf("reply = %q, want Authorized+ASSIGNED lines", reply)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for auth reply")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("HandleConnection did not return after cancel")
	}
}

func TestHandleConnectionRetriesOnNewStreamAfterFailedAuth(t *testing.T) {
	var seed [32]byte
	dir := directory.New()
	node := hashchain.NewNodeFromSeed("n1", seed, 4, 3)
	if err := dir.RestoreNode(node); err != nil {
		t.Fatalf("RestoreNode failed: %v", err)
	}

	badClientReader, badServerWriter := io.Pipe()
	badServerReader, badClientWriter := io.Pipe()
	badStream := newFakeStream(badServerReader, badServerWriter)

	goodClientReader, goodServerWriter := io.Pipe()
	goodServerReader, goodClientWriter := io.Pipe()
	goodStream := newFakeStream(goodServerReader, goodServerWriter)

	conn := newFakeConn(badStream, goodStream)

	pool := portpool.New(5001, 5999)
	reg := registry.New()
	routes := routing.New("none")
	fl := newFakeListener()

	mgr := New(dir, pool, reg, routes, logging.NopLogger{}, func(string, string) (net.Listener, error) {
		return fl, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.HandleConnection(ctx, conn) }()

	if _, err := io.WriteString(badClientWriter, "HELLO n1 x\n"); err != nil {
		t.Fatalf("write bad handshake: %v", err)
	}
	reply, err := bufio.NewReader(badClientReader).ReadString('\n')
	if err != nil {
		t.Fatalf("read rejection: %v", err)
	}
	if !strings.HasPrefix(reply, "Unauthorized: Invalid auth header") {
		t.Errorf("reply = %q, want Unauthorized: Invalid auth header", reply)
	}

	// The same connection authenticates successfully on a fresh stream.
	preimage := hashchain.Iterate(seed, 3).ToHexString()
	if _, err := io.WriteString(goodClientWriter, "AUTH n1 "+preimage+"\n"); err != nil {
		t.Fatalf("write good handshake: %v", err)
	}
	br := bufio.NewReader(goodClientReader)
	authLine, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("read auth reply: %v", err)
	}
	if !strings.HasPrefix(authLine, "Authorized: Success") {
		t.Errorf("auth reply = %q, want Authorized: Success", authLine)
	}
	assignedLine, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("read assigned reply: %v", err)
	}
	if !strings.HasPrefix(assignedLine, "ASSIGNED ") {
		t.Errorf("assigned reply = %q, want ASSIGNED <port>", assignedLine)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("HandleConnection did not return after cancel")
	}
}

func TestAllocationFailureReasonWording(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&portpool.PortInUseError{Port: 5004}, "Port 5004 is in use"},
		{portpool.ErrSeedMissing, "Seed missing"},
		{portpool.ErrSeedHexInvalid, "Seed hex invalid"},
	}
	for _, c := range cases {
		if got := allocationFailureReason(c.err); got != c.want {
			t.Errorf("allocationFailureReason(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}

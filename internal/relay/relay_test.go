package relay

import (
	"io"
	"net"
	"testing"
	"time"

	"reversetunnel/internal/logging"
)

// pipeStream adapts a pair of io.Pipe halves into a Stream, standing
// in for a QUIC logical stream in tests.
type pipeStream struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *pipeStream) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeStream) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipeStream) Close() error                { return p.w.Close() }

func TestForwardRelaysBothDirections(t *testing.T) {
	tcpRelaySide, tcpTestSide := net.Pipe()

	fromTCPToQUIC, toFromTCPWriter := io.Pipe() // relay writes here, test reads here
	toFromQUICToTCP, fromQUICToTCPWriter := io.Pipe() // test writes here, relay reads here

	relayStream := &pipeStream{r: toFromQUICToTCP, w: toFromTCPWriter}

	go NewForwarder().Forward(tcpRelaySide, relayStream, logging.NopLogger{})

	// TCP client writes; the node side (test) should observe it on
	// the QUIC stream.
	go func() {
		_, _ = tcpTestSide.Write([]byte("hello-from-tcp-client"))
	}()
	buf := make([]byte, 64)
	n, err := fromTCPToQUIC.Read(buf)
	if err != nil {
		t.Fatalf("read on quic side failed: %v", err)
	}
	if got := string(buf[:n]); got != "hello-from-tcp-client" {
		t.Errorf("quic side observed %q, want %q", got, "hello-from-tcp-client")
	}

	// Node writes on the QUIC stream; the TCP client should observe
	// it.
	go func() {
		_, _ = fromQUICToTCPWriter.Write([]byte("hello-from-node"))
	}()
	buf2 := make([]byte, 64)
	if err := tcpTestSide.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	n2, err := tcpTestSide.Read(buf2)
	if err != nil {
		t.Fatalf("read on tcp side failed: %v", err)
	}
	if got := string(buf2[:n2]); got != "hello-from-node" {
		t.Errorf("tcp side observed %q, want %q", got, "hello-from-node")
	}

	// TCP client closes; the relay should finish the QUIC send half.
	_ = tcpTestSide.Close()
	if _, err := fromTCPToQUIC.Read(buf); err != io.EOF {
		t.Errorf("quic side should observe EOF after tcp close, got %v", err)
	}

	_ = fromQUICToTCPWriter.Close()
}

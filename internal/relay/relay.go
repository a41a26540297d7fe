// Package relay implements the bidirectional TCP<->QUIC byte pump
// with independent half-close.
package relay

import (
	"io"
	"net"

	"reversetunnel/internal/logging"
)

// BufferSize is the per-direction copy buffer. No application-level
// framing is imposed; this is a raw byte tunnel.
const BufferSize = 4096

// Stream is the minimal bidirectional byte-stream surface the relay
// needs from a QUIC logical stream. Narrowing to an interface (rather
// than the concrete quic.Stream type) keeps Forwarder testable with
// plain io.Pipe halves.
type Stream interface {
	io.Reader
	io.Writer
	Close() error
}

// Forwarder relays bytes between one TCP connection and one QUIC
// stream. Declared as a single-method interface so a logging or
// rate-limiting wrapper can be swapped in without touching
// PublicListener.
type Forwarder interface {
	Forward(tcpConn net.Conn, stream Stream, lgr logging.Logger)
}

type byteStreamForwarder struct{}

// NewForwarder returns the default raw byte-pump Forwarder.
func NewForwarder() Forwarder {
	return byteStreamForwarder{}
}

// Forward runs both directions concurrently and blocks until each has
// finished. A failure in one direction never prevents the other from
// draining.
func (byteStreamForwarder) Forward(tcpConn net.Conn, stream Stream, lgr logging.Logger) {
	done := make(chan struct{}, 2)

	go func() {
		defer func() { done <- struct{}{} }()
		buf := make([]byte, BufferSize)
		if _, err := io.CopyBuffer(stream, tcpConn, buf); err != nil {
			lgr.Debug("relay: tcp->quic copy ended", logging.F("err", err))
		}
		// TCP EOF (or error): finish the QUIC send half so the peer
		// observes a clean FIN on its receive side.
		_ = stream.Close()
	}()

	go func() {
		defer func() { done <- struct{}{} }()
		buf := make([]byte, BufferSize)
		if _, err := io.CopyBuffer(tcpConn, stream, buf); err != nil {
			lgr.Debug("relay: quic->tcp copy ended", logging.F("err", err))
		}
		// QUIC stream FIN: shut down only the TCP write half. The
		// other direction (tcp->quic) may still be draining.
		if half, ok := tcpConn.(interface{ CloseWrite() error }); ok {
			_ = half.CloseWrite()
		} else {
			_ = tcpConn.Close()
		}
	}()

	<-done
	<-done
}

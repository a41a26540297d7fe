// Command client is the edge-node tunnel client: it dials the
// rendezvous server over QUIC, authenticates with the hash chain,
// and then relays every server-opened logical stream to a backend
// service listening on the node's own loopback interface. A small
// liner-based REPL runs alongside for status/reload/exit.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/peterh/liner"

	"reversetunnel/internal/clientstate"
	"reversetunnel/internal/logging"
	"reversetunnel/internal/quictransport"
	"reversetunnel/internal/relay"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:5000", "rendezvous server QUIC address")
	backendAddr := flag.String("backend", "127.0.0.1:8080", "local backend address to relay tunnel streams to")
	statePath := flag.String("state", "client.toml", "path to the persisted client state (TOML)")
	insecure := flag.Bool("insecure", true, "skip TLS certificate verification (self-signed server cert)")
	flag.Parse()

	lgr := logging.NopLogger{}

	state, err := clientstate.Load(*statePath)
	if err != nil {
		fmt.Printf("failed to load client state: %v\n", err)
		fmt.Println("provision the node on the server and write its node_id, seed, current_index, and chain_length to this file first")
		return
	}

	fmt.Printf("Reverse tunnel client. node_id=%s server=%s backend=%s\n", state.NodeID, *serverAddr, *backendAddr)
	fmt.Println("Available commands: status/reload/exit")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tunnelErr := make(chan error, 1)
	go func() { tunnelErr <- runTunnel(ctx, *serverAddr, *backendAddr, *statePath, state, *insecure, lgr) }()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		select {
		case err := <-tunnelErr:
			if err != nil {
				fmt.Printf("tunnel connection ended: %v\n", err)
			}
			return
		default:
		}

		input, err := line.Prompt(fmt.Sprintf("tunnel[%s]> ", state.NodeID))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				fmt.Println("Aborted")
				continue
			}
			return
		}
		line.AppendHistory(input)

		switch strings.TrimSpace(input) {
		case "status":
			fmt.Printf("node_id=%s current_index=%d chain_length=%d\n", state.NodeID, state.CurrentIndex, state.ChainLength)
		case "reload":
			reloaded, err := clientstate.Load(*statePath)
			if err != nil {
				fmt.Printf("reload failed: %v\n", err)
				continue
			}
			*state = *reloaded
			fmt.Println("state reloaded from disk")
		case "exit", "quit":
			cancel()
			return
		case "":
		default:
			fmt.Println("unknown command, try: status/reload/exit")
		}
	}
}

// runTunnel dials the server once, runs the AUTH handshake on the
// first bidi stream, persists any rotation, then services every
// further stream the server opens for the lifetime of the
// connection.
func runTunnel(ctx context.Context, serverAddr, backendAddr, statePath string, state *clientstate.State, insecure bool, lgr logging.Logger) error {
	tlsConf := quictransport.ClientTLSConfig(insecure)
	conn, err := quictransport.Dial(ctx, serverAddr, tlsConf)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", serverAddr, err)
	}
	defer func() { _ = conn.CloseWithError(0, "client shutdown") }()

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("client: open auth stream: %w", err)
	}

	if err := authenticate(stream, statePath, state); err != nil {
		return err
	}

	forwarder := relay.NewForwarder()
	for {
		s, err := conn.AcceptStream(ctx)
		if err != nil {
			return fmt.Errorf("client: connection closed: %w", err)
		}
		go func() {
			backendConn, err := net.DialTimeout("tcp", backendAddr, 5*time.Second)
			if err != nil {
				_ = s.Close()
				return
			}
			forwarder.Forward(backendConn, s, lgr)
		}()
	}
}

func authenticate(stream interface {
	Read([]byte) (int, error)
	Write([]byte) (int, error)
}, statePath string, state *clientstate.State) error {
	preimage, err := state.NextPreimage()
	if err != nil {
		return fmt.Errorf("client: derive preimage: %w", err)
	}
	if _, err := fmt.Fprintf(stream, "AUTH %s %s\n", state.NodeID, preimage); err != nil {
		return fmt.Errorf("client: write AUTH line: %w", err)
	}

	br := bufio.NewReader(stream)
	authLine, err := br.ReadString('\n')
	if err != nil {
		return fmt.Errorf("client: read auth reply: %w", err)
	}
	if !strings.HasPrefix(authLine, "Authorized:") {
		return fmt.Errorf("client: auth rejected: %s", strings.TrimSpace(authLine))
	}

	next, err := br.ReadString('\n')
	if err != nil {
		return fmt.Errorf("client: read post-auth reply: %w", err)
	}
	if strings.HasPrefix(next, "ROTATE ") {
		newSeedHex := strings.TrimSpace(strings.TrimPrefix(next, "ROTATE "))
		state.Rotate(newSeedHex)
		next, err = br.ReadString('\n')
		if err != nil {
			return fmt.Errorf("client: read ASSIGNED line after rotation: %w", err)
		}
	} else {
		state.Advance()
	}

	// The server's chain has advanced even if allocation fails below,
	// so the local index (or rotated seed) must be persisted before
	// inspecting the outcome, or the next login would desync.
	if err := state.Save(statePath); err != nil {
		return fmt.Errorf("client: persist state: %w", err)
	}

	if !strings.HasPrefix(next, "ASSIGNED ") {
		return fmt.Errorf("client: allocation failed: %s", strings.TrimSpace(next))
	}
	fmt.Printf("authenticated: %s\n", strings.TrimSpace(next))
	return nil
}

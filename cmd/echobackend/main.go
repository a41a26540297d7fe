// Command echobackend is a tiny loopback TCP service for exercising
// the relay during development: it echoes back everything it reads,
// so a manual test against a tunnel node's assigned public port has
// something to talk to. Raw TCP rather than net/http, since the
// tunnel relays bytes, not HTTP.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net"
)

func main() {
	port := flag.Int("port", 8080, "port to listen on")
	flag.Parse()

	addr := fmt.Sprintf("127.0.0.1:%d", *port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("echobackend: listen %s: %v", addr, err)
	}
	log.Printf("echobackend listening on %s", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Printf("echobackend: accept error: %v", err)
			continue
		}
		go handle(conn)
	}
}

func handle(conn net.Conn) {
	defer conn.Close()
	if _, err := io.Copy(conn, conn); err != nil {
		log.Printf("echobackend: connection from %s ended: %v", conn.RemoteAddr(), err)
	}
}

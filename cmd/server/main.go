// Command server runs the rendezvous tunnel server: it accepts QUIC
// connections from edge nodes, authenticates them via the hash chain,
// assigns each a public TCP port, and relays public traffic to the
// node that owns it.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"reversetunnel/internal/config"
	"reversetunnel/internal/directory"
	"reversetunnel/internal/logging"
	"reversetunnel/internal/portpool"
	"reversetunnel/internal/quictransport"
	"reversetunnel/internal/registry"
	"reversetunnel/internal/routing"
	"reversetunnel/internal/session"
	"reversetunnel/internal/telemetry"
)

var defaultConfigPath = "config/server.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %q: %v", *configPath, err)
	}
	if err := cfg.ValidateConfig(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	var lgr logging.Logger
	if cfg.Logger.Active {
		zapLog, err := logging.New(cfg.Logger)
		if err != nil {
			log.Fatalf("failed to initialize logger: %v", err)
		}
		defer func() { _ = zapLog.Sync() }()
		lgr = logging.NewZapAdapter(zapLog)
	} else {
		lgr = logging.NopLogger{}
	}
	cfg.LogConfig(lgr)
	lgr = lgr.Named("server")

	shutdownTracer, err := telemetry.InitTracer(cfg.Telemetry, "reversetunnel-server", cfg.QUIC.Bind)
	if err != nil {
		lgr.Error("failed to initialize telemetry", logging.F("err", err))
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	dir := directory.New()
	admin := directory.NewAdminFacade(dir)
	for _, bootstrapNode := range cfg.Bootstrap {
		chainLength := bootstrapNode.ChainLength
		if chainLength <= 0 {
			chainLength = cfg.Chain.Length
		}
		snap, err := admin.CreateNode(bootstrapNode.NodeID, chainLength)
		if err != nil {
			lgr.Warn("bootstrap node creation skipped",
				logging.F("node_id", bootstrapNode.NodeID), logging.F("err", err))
			continue
		}
		lgr.Info("bootstrap node provisioned — copy this seed into the node's client state",
			logging.F("node_id", snap.NodeID),
			logging.F("seed", snap.SeedHex),
			logging.F("chain_length", snap.ChainLength))
	}

	pool := portpool.New(cfg.PortPool.Low, cfg.PortPool.High)
	reg := registry.New()
	routes := routing.New(cfg.Routing.DefaultBackend)
	for _, rule := range cfg.Routing.Rules {
		routes.InsertRule(rule.Host, rule.PathPrefix, rule.Backend)
	}

	tlsConf, err := quictransport.LoadServerTLSConfig(cfg.QUIC.CertPEM, cfg.QUIC.KeyPEM)
	if err != nil {
		lgr.Error("failed to load TLS certificate", logging.F("err", err))
		os.Exit(1)
	}
	ln, err := quictransport.Listen(cfg.QUIC.Bind, tlsConf)
	if err != nil {
		lgr.Error("failed to start QUIC listener", logging.F("err", err))
		os.Exit(1)
	}
	defer func() { _ = ln.Close() }()
	lgr.Info("QUIC listener started", logging.F("bind", cfg.QUIC.Bind))

	mgr := session.New(dir, pool, reg, routes, lgr.Named("session"), nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	acceptErr := make(chan error, 1)
	go func() {
		for {
			conn, err := ln.Accept(ctx)
			if err != nil {
				acceptErr <- err
				return
			}
			go func() {
				if err := mgr.HandleConnection(ctx, conn); err != nil {
					lgr.Debug("session ended with error",
						logging.F("remote_addr", conn.RemoteAddr().String()), logging.F("err", err))
				}
			}()
		}
	}()

	select {
	case <-ctx.Done():
		lgr.Info("shutdown signal received")
	case err := <-acceptErr:
		lgr.Error("QUIC accept loop terminated", logging.F("err", err))
		os.Exit(1)
	}
}

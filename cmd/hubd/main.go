// Command hubd runs the collaboration hub daemon: it accepts client
// connections over QUIC, decodes the wire protocol from each connection's
// single bidirectional stream, and dispatches messages into the session
// registry.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/quic-go/quic-go"

	"github.com/collabhub/server/internal/config"
	"github.com/collabhub/server/internal/dedup"
	"github.com/collabhub/server/internal/identity"
	"github.com/collabhub/server/internal/observability"
	"github.com/collabhub/server/internal/pubsub"
	"github.com/collabhub/server/internal/quicutil"
	"github.com/collabhub/server/internal/ratelimit"
	"github.com/collabhub/server/internal/registry"
	"github.com/collabhub/server/internal/session"
	"github.com/collabhub/server/internal/store"
	"github.com/collabhub/server/internal/transfer"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults used if empty)")
	quicAddr := flag.String("quic-addr", "", "override the QUIC listener address")
	passphrase := flag.String("passphrase", "", "node identity keystore passphrase (empty stores unencrypted)")
	flag.Parse()

	logger := observability.NewLogger("collabhub-hubd", "0.1.0", os.Stdout)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal(err, "failed to load config")
	}
	if *quicAddr != "" {
		cfg.QUICAddress = *quicAddr
	}

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker("0.1.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if shutdownTracing, err := observability.InitTracing(ctx, "collabhub-hubd"); err == nil {
		defer shutdownTracing(context.Background())
	} else {
		logger.Warn("tracing disabled: " + err.Error())
	}

	id, err := identity.LoadOrGenerate(cfg.KeysDirectory+"/identity.key", *passphrase)
	if err != nil {
		logger.Fatal(err, "failed to load or generate node identity")
	}
	cfg.NodeID = id.NodeID
	logger.Info("node identity: " + id.NodeID)

	docStore, err := store.OpenBoltStore(cfg.BoltPath)
	if err != nil {
		logger.Fatal(err, "failed to open document store")
	}
	defer docStore.Close()

	bitmapStore, err := transfer.OpenBitmapStore(cfg.SQLitePath)
	if err != nil {
		logger.Fatal(err, "failed to open transfer bitmap store")
	}
	defer bitmapStore.Close()

	bus := pubsub.New()
	rpc := newDemoRPCRegistry()
	rpcCodecs := newDemoRPCCodecs()
	dedupSet := dedup.New(cfg.DedupTTL, cfg.DedupMaxEntries)

	var reg *registry.Registry
	reg = registry.New(cfg.NodeID, bus, func(string) store.DocumentStore { return docStore },
		registry.WithRPCRegistry(rpc),
		registry.WithLogger(logger),
		registry.WithMetrics(metrics),
		registry.WithSessionOptions(
			session.WithCleanupDelay(cfg.CleanupDelay),
			session.WithDedup(dedupSet),
			session.WithRPCCodecs(rpcCodecs),
			session.WithIdentity(id),
		),
	)

	healthChecker.RegisterCheck("quic_listener", observability.QUICListenerCheck(cfg.QUICAddress))
	healthChecker.RegisterCheck("registry", observability.RegistryCheck(reg.SessionCount))
	healthChecker.RegisterCheck("document_store", observability.DatabaseCheck(cfg.BoltPath))

	certPEM, keyPEM, err := quicutil.GenerateSelfSignedCert()
	if err != nil {
		logger.Fatal(err, "failed to generate TLS certificate")
	}
	tlsConfig, err := quicutil.MakeTLSConfig(certPEM, keyPEM)
	if err != nil {
		logger.Fatal(err, "failed to build TLS config")
	}

	listener, err := quic.ListenAddr(cfg.QUICAddress, tlsConfig, &quic.Config{
		KeepAlivePeriod: 10e9,
		MaxIdleTimeout:  60e9,
	})
	if err != nil {
		logger.Fatal(err, "failed to start QUIC listener")
	}
	defer listener.Close()
	logger.Info("QUIC listener started on " + cfg.QUICAddress)

	go serveObservability(cfg.MetricsAddress, cfg.HealthAddress, metrics, healthChecker, logger)

	admission := ratelimit.New(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	h := &hub{
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		registry:    reg,
		bitmapStore: bitmapStore,
		admission:   admission,
		chunkSize:   cfg.ChunkSize,
		rpcCodecs:   rpcCodecs,
		transfers:   make(map[string]*transfer.Manager),
	}

	janitor := startJanitor(cfg.SweepSchedule, dedupSet, h, logger)
	if janitor != nil {
		defer janitor.Stop()
	}

	go acceptLoop(ctx, listener, h, logger, metrics)

	logger.Info("hubd running, press Ctrl+C to stop")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancel()
	for _, err := range reg.Destroy(context.Background()) {
		logger.Error(err, "error disposing session during shutdown")
	}
}

func acceptLoop(ctx context.Context, listener *quic.Listener, h *hub, logger *observability.Logger, metrics *observability.Metrics) {
	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error(err, "failed to accept QUIC connection")
			continue
		}

		remote := conn.RemoteAddr().String()
		if !h.admission.Allow(remote) {
			logger.Warn("rejected connection from " + remote + ": rate limit exceeded")
			conn.CloseWithError(0, "rate limit exceeded")
			continue
		}

		logger.ConnectionEstablished(remote, remote)
		go h.handleConnection(ctx, conn)
	}
}

func serveObservability(metricsAddr, healthAddr string, metrics *observability.Metrics, health *observability.HealthChecker, logger *observability.Logger) {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsMux.HandleFunc("/debug/pprof/", pprof.Index)

	healthMux := http.NewServeMux()
	healthMux.Handle("/health", health.Handler())

	go func() {
		if err := (&http.Server{Addr: metricsAddr, Handler: metricsMux}).ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(err, "metrics server error")
		}
	}()
	logger.Info(fmt.Sprintf("metrics listening on %s, health on %s", metricsAddr, healthAddr))
	if err := (&http.Server{Addr: healthAddr, Handler: healthMux}).ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error(err, "health server error")
	}
}

// Command broker runs the MQTT broker: it loads configuration, opens the
// retained-message store, and starts the TCP and (optionally) WebSocket
// listeners until it receives an interrupt.
package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tidalmq/broker/internal/broker"
	"github.com/tidalmq/broker/internal/config"
	"github.com/tidalmq/broker/internal/retainstore"
	"github.com/tidalmq/broker/internal/store"
	"github.com/tidalmq/broker/internal/transport"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	// The --key=value overrides ApplyCLIOverrides understands are declared as
	// flags too, so flag.Parse accepts them instead of exiting.
	overrideKeys := []string{"host", "tcp_host", "ws_host", "tcp_port", "ws_port", "ssl_cert", "ssl_key"}
	for _, key := range overrideKeys {
		flag.String(key, "", "Override the configured "+key)
	}
	flag.Parse()
	overrides := flag.Args()
	flag.Visit(func(f *flag.Flag) {
		if f.Name != "config" {
			overrides = append(overrides, "--"+f.Name+"="+f.Value.String())
		}
	})

	log.Println("Starting MQTT broker...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := config.ApplyCLIOverrides(cfg, overrides); err != nil {
		log.Fatalf("Invalid CLI override: %v", err)
	}

	log.Printf("Configuration loaded from %s", *configPath)
	log.Printf("Storage backend: %s", cfg.Storage.Backend)
	log.Printf("Max QoS level: %d", cfg.QoS.MaxQoS)

	var backing store.Store
	switch cfg.Storage.Backend {
	case "bbolt":
		dir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("Failed to create data directory: %v", err)
		}
		backing, err = store.NewBboltStore(cfg.Storage.Path)
		if err != nil {
			log.Fatalf("Failed to initialize bbolt store: %v", err)
		}
		log.Printf("Bbolt storage initialized at %s", cfg.Storage.Path)
	case "memory":
		backing = store.NewMemoryStore()
		log.Println("Using in-memory storage (retained messages will not persist)")
	default:
		log.Fatalf("Unsupported storage backend: %s", cfg.Storage.Backend)
	}

	retained, err := retainstore.Open(backing)
	if err != nil {
		log.Fatalf("Failed to open retained-message store: %v", err)
	}

	br := broker.New(retained)

	tcpTLS, err := loadTLSConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to load TLS configuration: %v", err)
	}

	tcpListener := transport.NewTCPListener("tcp", cfg.TCPAddr(), tcpTLS, br)
	if err := tcpListener.Start(); err != nil {
		log.Fatalf("Failed to start TCP listener: %v", err)
	}

	var wsListener *transport.WebSocketListener
	if cfg.WS.Enabled {
		wsListener = transport.NewWebSocketListener("ws", cfg.WSAddr(), cfg.WS.Path, tcpTLS, br)
		if err := wsListener.Start(); err != nil {
			log.Fatalf("Failed to start WebSocket listener: %v", err)
		}
	}

	if cfg.Metrics.Enabled {
		go func() {
			metricsAddr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			mux := http.NewServeMux()
			mux.Handle(cfg.Metrics.Path, promhttp.Handler())
			log.Printf("Metrics server starting on %s%s", metricsAddr, cfg.Metrics.Path)
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	log.Println("Broker started successfully")
	log.Printf("  -> TCP listening on %s", cfg.TCPAddr())
	if cfg.WS.Enabled {
		log.Printf("  -> WebSocket listening on %s%s", cfg.WSAddr(), cfg.WS.Path)
	}
	if cfg.Metrics.Enabled {
		log.Printf("  -> Metrics available at http://localhost:%d%s", cfg.Metrics.Port, cfg.Metrics.Path)
	}
	log.Printf("  -> Log level: %s", cfg.Logging.Level)
	log.Println("Press Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down broker...")
	if err := tcpListener.Close(); err != nil {
		log.Printf("Error closing TCP listener: %v", err)
	}
	if wsListener != nil {
		if err := wsListener.Close(); err != nil {
			log.Printf("Error closing WebSocket listener: %v", err)
		}
	}
	if err := br.Close(); err != nil {
		log.Printf("Error closing broker: %v", err)
	}
	log.Println("Broker stopped gracefully")
}

func loadTLSConfig(cfg *config.Config) (*tls.Config, error) {
	if !cfg.TLS.Enabled {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

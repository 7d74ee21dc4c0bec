package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/relves/graphlog/internal/config"
	"github.com/relves/graphlog/internal/storage"
	"github.com/relves/graphlog/internal/storage/file"
	"github.com/relves/graphlog/internal/storage/sqlite"
	"github.com/relves/graphlog/pkg/server"
	"github.com/relves/graphlog/pkg/tlog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level, _ := cfg.Level()
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Checkpoint key from env var or ephemeral
	pub, priv, err := loadKeys()
	if err != nil {
		return fmt.Errorf("load keys: %w", err)
	}
	signer, err := tlog.NewEd25519Signer(priv, cfg.Origin)
	if err != nil {
		return fmt.Errorf("create checkpoint signer: %w", err)
	}
	verifierKey, err := signer.VerifierKey()
	if err != nil {
		return fmt.Errorf("derive verifier key: %w", err)
	}

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}

	var log *tlog.Log
	if backend == nil {
		log = tlog.New(tlog.WithLogger(logger))
	} else {
		// A log that does not load completely is never served.
		log, err = tlog.Load(ctx, backend, tlog.WithLogger(logger))
		if err != nil {
			backend.Close()
			return fmt.Errorf("load log: %w", err)
		}
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := log.Close(closeCtx); err != nil {
			logger.Error("failed to close log", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := server.NewServer(
		server.WithLog(log),
		server.WithCheckpointSigner(signer),
		server.WithOrigin(cfg.Origin),
		server.WithLogger(logger),
		server.WithWorkers(cfg.Workers),
		server.WithRegisterer(reg),
	)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", cfg.ListenAddr, err)
	}

	fmt.Println("GRAPHLOG Service Startup")
	fmt.Println("===================================")
	fmt.Printf("Listening: %s (%d workers)\n", ln.Addr(), cfg.Workers)
	fmt.Printf("Backend: %s %s\n", cfg.Backend, cfg.StoragePath())
	fmt.Printf("Entries loaded: %d\n", log.Len())
	fmt.Printf("Checkpoint verifier key: %s\n", verifierKey)
	fmt.Printf("Public Key (base64): %s\n", base64.StdEncoding.EncodeToString(pub))
	if os.Getenv("GRAPHLOG_PRIVATE_KEY") != "" {
		fmt.Println("Key Source: GRAPHLOG_PRIVATE_KEY environment variable")
	} else {
		fmt.Println("Key Source: Ephemeral (generated on startup)")
	}
	fmt.Println()
	fmt.Println("Endpoints:")
	fmt.Println("  POST /publish     {\"reid\", \"pubk\"}")
	fmt.Println("  GET  /tail")
	fmt.Println("  GET  /tail_{n}")
	fmt.Println("  POST /look_up     {\"id_b64\"}")
	fmt.Println("  GET  /checkpoint")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, ln)
	})

	if cfg.MetricsAddr != "" {
		metricsSrv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("shutting down", "entries", log.Len(), "pending", log.Pending())
	return err
}

// openBackend opens the configured storage. It returns nil for the "none"
// backend.
func openBackend(ctx context.Context, cfg config.Config) (storage.Backend, error) {
	switch cfg.Backend {
	case config.BackendNone:
		return nil, nil
	case config.BackendSQLite:
		store, err := sqlite.Open(cfg.StoragePath())
		if err != nil {
			return nil, fmt.Errorf("open sqlite backend: %w", err)
		}
		if err := store.EnsureMeta(ctx, cfg.Origin); err != nil {
			store.Close()
			return nil, fmt.Errorf("open sqlite backend: %w", err)
		}
		return store, nil
	default:
		b, err := file.Open(cfg.StoragePath())
		if err != nil {
			return nil, fmt.Errorf("open file backend: %w", err)
		}
		return b, nil
	}
}

// loadKeys loads the Ed25519 checkpoint key from GRAPHLOG_PRIVATE_KEY or generates one
func loadKeys() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	if privKeyEnv := os.Getenv("GRAPHLOG_PRIVATE_KEY"); privKeyEnv != "" {
		priv, err := base64.StdEncoding.DecodeString(privKeyEnv)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decode GRAPHLOG_PRIVATE_KEY: %w", err)
		}

		if len(priv) != ed25519.PrivateKeySize {
			return nil, nil, fmt.Errorf("GRAPHLOG_PRIVATE_KEY must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
		}

		privKey := ed25519.PrivateKey(priv)
		return privKey.Public().(ed25519.PublicKey), privKey, nil
	}

	return ed25519.GenerateKey(nil)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/meshguard/tlswire/internal/watch"
	"github.com/meshguard/tlswire/pkg/config"
	"github.com/meshguard/tlswire/pkg/logging"
	"github.com/meshguard/tlswire/pkg/telemetry"
	"github.com/meshguard/tlswire/pkg/tlswire"
	"github.com/meshguard/tlswire/pkg/wiretest"
)

var (
	probeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tlswire_probe_total",
		Help: "Probe attempts by result.",
	}, []string{"result"})

	probeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tlswire_probe_duration_seconds",
		Help:    "Wall time of a full probe: handshake plus echo.",
		Buckets: prometheus.DefBuckets,
	})
)

// newProbeCmd creates the probe command
func newProbeCmd() *cobra.Command {
	var (
		configPath string
		caFile     string
		certFile   string
		keyFile    string
		passphrase string
		serverName string
		backend    string
		count      int
		interval   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Handshake a client and server session back to back",
		Long: `Builds a policy from the configured certificate material, connects a
client and a server session over an in-memory transport, completes the
handshake and round-trips a payload. The exit status reports whether every
probe succeeded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := &config.Config{Backend: "mint", Logging: config.LoggingConfig{Level: "info"}}
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			// Flags override file configuration.
			if caFile != "" {
				cfg.CA = config.Bundle{Path: caFile}
			}
			if certFile != "" {
				cfg.Cert = config.Bundle{Path: certFile}
			}
			if keyFile != "" {
				cfg.Key = config.Bundle{Path: keyFile}
			}
			if passphrase != "" {
				cfg.KeyPassphrase = passphrase
			}
			if serverName != "" {
				cfg.ServerName = serverName
			}
			if backend != "" {
				cfg.Backend = backend
			}
			if cfg.ServerName == "" {
				cfg.ServerName = "localhost"
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := logging.Setup(logging.Config{
				Level: cfg.Logging.Level,
				JSON:  cfg.Logging.JSON,
			})

			ctx := cmd.Context()
			shutdown, err := telemetry.SetupProvider(ctx, telemetry.Config{
				ServiceName: "tlswire-probe",
				Endpoint:    cfg.Telemetry.OTLPEndpoint,
				Insecure:    cfg.Telemetry.Insecure,
			})
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error("telemetry shutdown failed", "error", err)
				}
			}()

			if cfg.Telemetry.MetricsAddr != "" {
				go serveMetrics(cfg.Telemetry.MetricsAddr, logger)
			}

			plugin, err := tlswire.Lookup(cfg.Backend)
			if err != nil {
				return err
			}
			logger.Info("probing backend", "backend", plugin.TypeNameAndVersion())

			logf := tlswire.SlogLogFunc(logger)
			policyFor := func() (tlswire.Policy, error) {
				pol, err := cfg.BuildPolicy(plugin, logf)
				if err != nil {
					return nil, err
				}
				return pol, nil
			}
			if cfg.Watch {
				reloader, err := watch.NewReloader(plugin, watch.Config{
					CAFile:        cfg.CA.Path,
					CertFile:      cfg.Cert.Path,
					KeyFile:       cfg.Key.Path,
					KeyPassphrase: cfg.KeyPassphrase,
					VerifyRules:   cfg.VerifyRules(),
				}, logger, nil)
				if err != nil {
					return err
				}
				if err := reloader.Start(); err != nil {
					return err
				}
				defer reloader.Close()
				policyFor = func() (tlswire.Policy, error) { return reloader.Policy(), nil }
			}

			failures := 0
			for i := 0; i < count; i++ {
				if i > 0 {
					select {
					case <-time.After(interval):
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				if err := runProbe(ctx, cfg, policyFor); err != nil {
					failures++
					logger.Error("probe failed", "attempt", i+1, "error", err)
				} else {
					logger.Info("probe succeeded", "attempt", i+1)
				}
			}

			if failures > 0 {
				return fmt.Errorf("%d of %d probes failed", failures, count)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (YAML)")
	cmd.Flags().StringVar(&caFile, "ca", "", "CA bundle PEM file")
	cmd.Flags().StringVar(&certFile, "cert", "", "Certificate chain PEM file")
	cmd.Flags().StringVar(&keyFile, "key", "", "Private key PEM file")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "Private key passphrase")
	cmd.Flags().StringVar(&serverName, "server-name", "", "Server name the client requests")
	cmd.Flags().StringVar(&backend, "backend", "", "Registered backend to probe")
	cmd.Flags().IntVar(&count, "count", 1, "Number of probes to run")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Delay between probes")

	return cmd
}

func runProbe(ctx context.Context, cfg *config.Config, policyFor func() (tlswire.Policy, error)) error {
	tracer := otel.Tracer("tlswire.probe")
	probeID := uuid.NewString()

	ctx, span := tracer.Start(ctx, "probe")
	defer span.End()
	span.SetAttributes(
		attribute.String("probe.id", probeID),
		attribute.String("probe.backend", cfg.Backend),
	)

	start := time.Now()
	err := loopbackProbe(cfg, policyFor, probeID)
	probeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		probeTotal.WithLabelValues("failure").Inc()
		span.RecordError(err)
		return err
	}
	probeTotal.WithLabelValues("success").Inc()
	return nil
}

func loopbackProbe(cfg *config.Config, policyFor func() (tlswire.Policy, error), probeID string) error {
	pol, err := policyFor()
	if err != nil {
		return err
	}
	defer pol.Release()

	clientEnd, serverEnd := wiretest.Pair()

	client := pol.CreateSession(true, cfg.ServerName,
		wiretest.Send, clientEnd, wiretest.Recv, clientEnd, probeID+"/client")
	defer client.Release()

	server := pol.CreateSession(false, "",
		wiretest.Send, serverEnd, wiretest.Recv, serverEnd, probeID+"/server")
	defer server.Release()

	cs, ss := wiretest.Drive(client, server, wiretest.DefaultTimeout)
	if cs != tlswire.StatusSuccess || ss != tlswire.StatusSuccess {
		return fmt.Errorf("handshake did not complete: client=%s server=%s", cs, ss)
	}

	payload := []byte("probe:" + probeID)
	if n, status := wiretest.AwaitWrite(client, payload, wiretest.DefaultTimeout); status != tlswire.StatusSuccess {
		return fmt.Errorf("write stalled after %d bytes with status %s", n, status)
	}

	echo := make([]byte, len(payload))
	if _, status := wiretest.ReadFull(server, echo, wiretest.DefaultTimeout); status != tlswire.StatusSuccess {
		return fmt.Errorf("server read failed with status %s", status)
	}
	if string(echo) != string(payload) {
		return errors.New("payload corrupted in transit")
	}

	if _, status := wiretest.AwaitWrite(server, echo, wiretest.DefaultTimeout); status != tlswire.StatusSuccess {
		return fmt.Errorf("server write failed with status %s", status)
	}
	back := make([]byte, len(payload))
	if _, status := wiretest.ReadFull(client, back, wiretest.DefaultTimeout); status != tlswire.StatusSuccess {
		return fmt.Errorf("client read failed with status %s", status)
	}
	if string(back) != string(payload) {
		return errors.New("echo corrupted in transit")
	}
	return nil
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server exited", "error", err)
	}
}

// Copyright 2025 Wyrd Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package node

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wyrdlabs/wyrd"
	"github.com/wyrdlabs/wyrd/internal/config"
	"github.com/wyrdlabs/wyrd/merkle"
)

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")

	// Parse durations up front so a bad config fails before anything starts
	parseDuration := func(name, val string) (time.Duration, error) {
		if val == "" {
			return 0, nil
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", name, err)
		}
		return d, nil
	}
	epochDuration, err := parseDuration("epoch duration", cfg.EpochDuration)
	if err != nil {
		return err
	}
	sealInterval, err := parseDuration("seal interval", cfg.SealInterval)
	if err != nil {
		return err
	}
	publishInterval, err := parseDuration(
		"publish interval",
		cfg.PublishInterval,
	)
	if err != nil {
		return err
	}
	reconcileInterval, err := parseDuration(
		"reconcile interval",
		cfg.ReconcileInterval,
	)
	if err != nil {
		return err
	}
	ingestFlushTimeout, err := parseDuration(
		"ingest flush timeout",
		cfg.IngestFlushTimeout,
	)
	if err != nil {
		return err
	}
	shutdownTimeout := 30 * time.Second
	if cfg.ShutdownTimeout != "" {
		shutdownTimeout, err = time.ParseDuration(cfg.ShutdownTimeout)
		if err != nil {
			return fmt.Errorf("invalid shutdown timeout: %w", err)
		}
	}
	leafVersion, err := merkle.LeafVersionFromString(cfg.LeafVersion)
	if err != nil {
		return err
	}
	oddPolicy := merkle.OddPolicyDuplicate
	if cfg.OddPolicy != "" {
		oddPolicy, err = merkle.OddPolicyFromString(cfg.OddPolicy)
		if err != nil {
			return err
		}
	}

	w, err := wyrd.New(
		wyrd.NewConfig(
			wyrd.WithLogger(logger),
			wyrd.WithDataDir(cfg.DataDir),
			wyrd.WithMetadataPlugin(cfg.MetadataPlugin),
			wyrd.WithNamespace(cfg.Namespace),
			wyrd.WithTokenGroup(cfg.TokenGroup),
			wyrd.WithEpochDuration(epochDuration),
			wyrd.WithRewardPerWeight(cfg.RewardPerWeight),
			wyrd.WithTokenDecimals(cfg.TokenDecimals),
			wyrd.WithViewerRatio(cfg.ViewerRatio),
			wyrd.WithLeafVersion(leafVersion),
			wyrd.WithOddPolicy(oddPolicy),
			wyrd.WithSealInterval(sealInterval),
			wyrd.WithPublishInterval(publishInterval),
			wyrd.WithReconcileInterval(reconcileInterval),
			wyrd.WithPublishBatchSize(cfg.PublishBatchSize),
			wyrd.WithMaxClaims(cfg.MaxClaims),
			wyrd.WithIngestBatchSize(cfg.IngestBatchSize),
			wyrd.WithIngestFlushTimeout(ingestFlushTimeout),
			wyrd.WithRetentionEpochs(cfg.RetentionEpochs),
			wyrd.WithLedgerEndpoints(cfg.LedgerEndpoints...),
			wyrd.WithLedgerProgramID(cfg.LedgerProgramID),
			wyrd.WithLedgerMint(cfg.LedgerMint),
			wyrd.WithSignerKeyFile(cfg.SignerKeyFile),
			wyrd.WithShutdownTimeout(shutdownTimeout),
			wyrd.WithTracing(cfg.Tracing),
			wyrd.WithTracingStdout(cfg.TracingStdout),
			// Enable metrics with default prometheus registry
			wyrd.WithPrometheusRegistry(prometheus.DefaultRegisterer),
		),
	)
	if err != nil {
		return err
	}
	// Metrics and debug listener
	http.Handle("/metrics", promhttp.Handler())
	logger.Info(
		"serving prometheus metrics on "+fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		),
		"component",
		"node",
	)
	metricsServer := &http.Server{
		Addr: fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		),
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error(
				fmt.Sprintf("failed to start metrics listener: %s", err),
				"component", "node",
			)
			os.Exit(1)
		}
	}()
	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	// Run node in goroutine
	errChan := make(chan error, 1)
	go func() {
		//nolint:contextcheck
		err := w.Run(signalCtx)
		select {
		case errChan <- err:
		case <-signalCtx.Done():
		}
	}()

	shutdownMetrics := func() {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			shutdownTimeout,
		)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Wait for signal or error
	select {
	case <-signalCtx.Done():
		logger.Info("signal received, initiating graceful shutdown")
		shutdownMetrics()
		if err := w.Stop(); err != nil {
			logger.Error("shutdown errors occurred", "error", err)
			return err
		}
		logger.Info("shutdown complete")
		return nil

	case err := <-errChan:
		if err == nil {
			logger.Info("node stopped")
			shutdownMetrics()
			if err := w.Stop(); err != nil {
				logger.Error("shutdown errors occurred", "error", err)
				return err
			}
			return nil
		}
		logger.Error("node error", "error", err)
		signalCtxStop()
		if stopErr := w.Stop(); stopErr != nil {
			logger.Error(
				"shutdown errors occurred during error cleanup",
				"error",
				stopErr,
			)
		}
		shutdownMetrics()
		return err
	}
}

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

package wyrd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/wyrdlabs/wyrd/merkle"
)

type Config struct {
	promRegistry       prometheus.Registerer
	logger             *slog.Logger
	dataDir            string
	metadataPlugin     string
	ledgerEndpoints    []string
	ledgerProgramID    string
	ledgerMint         string
	signerKeyFile      string
	namespace          string
	tokenGroup         string
	epochDuration      time.Duration
	rewardPerWeight    float64
	tokenDecimals      uint8
	viewerRatio        float64
	leafVersion        merkle.LeafVersion
	oddPolicy          merkle.OddPolicy
	sealInterval       time.Duration
	publishInterval    time.Duration
	reconcileInterval  time.Duration
	publishBatchSize   int
	maxClaims          int
	ingestBatchSize    int
	ingestFlushTimeout time.Duration
	// Raw participation rows older than this many epochs behind the
	// current epoch are purged once their scope is sealed (0 = keep
	// forever)
	retentionEpochs uint64
	tracing         bool
	tracingStdout   bool
	shutdownTimeout time.Duration
}

func (n *Node) configValidate() error {
	if n.config.viewerRatio < 0 || n.config.viewerRatio > 1 {
		return fmt.Errorf(
			"viewer ratio must be within [0, 1]: %f",
			n.config.viewerRatio,
		)
	}
	if n.config.rewardPerWeight < 0 {
		return fmt.Errorf(
			"reward per weight must not be negative: %f",
			n.config.rewardPerWeight,
		)
	}
	if len(n.config.ledgerEndpoints) > 0 {
		if n.config.ledgerProgramID == "" {
			return errors.New("ledger endpoints configured without a program ID")
		}
		if _, err := solana.PublicKeyFromBase58(n.config.ledgerProgramID); err != nil {
			return fmt.Errorf("invalid ledger program ID: %w", err)
		}
		if n.config.ledgerMint == "" {
			return errors.New("ledger endpoints configured without a mint")
		}
		if _, err := solana.PublicKeyFromBase58(n.config.ledgerMint); err != nil {
			return fmt.Errorf("invalid ledger mint: %w", err)
		}
	}
	switch n.config.leafVersion {
	case merkle.LeafV0, merkle.LeafV1:
	default:
		return fmt.Errorf("unknown leaf version: %d", n.config.leafVersion)
	}
	switch n.config.oddPolicy {
	case merkle.OddPolicyDuplicate, merkle.OddPolicyPromote:
	default:
		return fmt.Errorf("unknown odd-node policy: %d", n.config.oddPolicy)
	}
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the node config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new wyrd config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:        slog.New(slog.NewJSONHandler(io.Discard, nil)),
		epochDuration: DefaultEpochDuration,
		viewerRatio:   0.90,
		leafVersion:   merkle.LeafV1,
		oddPolicy:     merkle.OddPolicyDuplicate,
		tokenDecimals: 9,
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to. In most cases, prometheus.DefaultRegistry would be
// a good choice to get metrics working
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithDataDir specifies the persistent data directory to use. The default is to store everything in memory
func WithDataDir(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithMetadataPlugin specifies the metadata storage plugin to use.
func WithMetadataPlugin(plugin string) ConfigOptionFunc {
	return func(c *Config) {
		c.metadataPlugin = plugin
	}
}

// WithLedgerEndpoints specifies the ledger RPC endpoint(s) to use, in
// failover order. No endpoints disables publishing and reconciliation.
func WithLedgerEndpoints(endpoints ...string) ConfigOptionFunc {
	return func(c *Config) {
		c.ledgerEndpoints = append(c.ledgerEndpoints, endpoints...)
	}
}

// WithLedgerProgramID specifies the on-chain program that owns the
// channel ring-buffer accounts
func WithLedgerProgramID(programID string) ConfigOptionFunc {
	return func(c *Config) {
		c.ledgerProgramID = programID
	}
}

// WithLedgerMint specifies the token mint that channel state accounts
// are derived from
func WithLedgerMint(mint string) ConfigOptionFunc {
	return func(c *Config) {
		c.ledgerMint = mint
	}
}

// WithSignerKeyFile specifies the path to the publisher's signing key.
// Without a key the node runs read-only: sealing and reconciliation
// work, publishing is disabled.
func WithSignerKeyFile(path string) ConfigOptionFunc {
	return func(c *Config) {
		c.signerKeyFile = path
	}
}

// WithNamespace specifies the platform namespace used for channel
// subject derivation. The default is empty.
func WithNamespace(namespace string) ConfigOptionFunc {
	return func(c *Config) {
		c.namespace = namespace
	}
}

// WithTokenGroup specifies the token group recorded on participation rows
func WithTokenGroup(tokenGroup string) ConfigOptionFunc {
	return func(c *Config) {
		c.tokenGroup = tokenGroup
	}
}

// WithEpochDuration specifies the length of one attribution epoch. The default is 24 hours
func WithEpochDuration(duration time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.epochDuration = duration
	}
}

// WithRewardPerWeight specifies the token reward per unit of engagement weight
func WithRewardPerWeight(reward float64) ConfigOptionFunc {
	return func(c *Config) {
		c.rewardPerWeight = reward
	}
}

// WithTokenDecimals specifies the mint's decimal places for converting
// token amounts to base units. The default is 9
func WithTokenDecimals(decimals uint8) ConfigOptionFunc {
	return func(c *Config) {
		c.tokenDecimals = decimals
	}
}

// WithViewerRatio specifies the fraction of each epoch's reward pool
// that goes to viewers; the remainder accrues to the streamer. The
// default is 0.90. Use 1.0 for fully pooled distribution.
func WithViewerRatio(ratio float64) ConfigOptionFunc {
	return func(c *Config) {
		c.viewerRatio = ratio
	}
}

// WithLeafVersion specifies the claim-tree leaf hashing scheme. The default is v1
func WithLeafVersion(version merkle.LeafVersion) ConfigOptionFunc {
	return func(c *Config) {
		c.leafVersion = version
	}
}

// WithOddPolicy specifies how odd node counts are handled when building
// claim trees. The default is to duplicate the lone node.
func WithOddPolicy(policy merkle.OddPolicy) ConfigOptionFunc {
	return func(c *Config) {
		c.oddPolicy = policy
	}
}

// WithSealInterval specifies how often the sealer looks for completed
// epochs. The default is 1 minute
func WithSealInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.sealInterval = interval
	}
}

// WithPublishInterval specifies how often the publisher drains the
// backlog. The default is 1 minute
func WithPublishInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.publishInterval = interval
	}
}

// WithReconcileInterval specifies how often published roots are checked
// against the ledger. The default is 5 minutes
func WithReconcileInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.reconcileInterval = interval
	}
}

// WithPublishBatchSize specifies how many backlog entries one publish
// pass attempts. The default is 10
func WithPublishBatchSize(size int) ConfigOptionFunc {
	return func(c *Config) {
		c.publishBatchSize = size
	}
}

// WithMaxClaims caps the number of claims per epoch. The default
// matches the on-chain claim bitmap capacity.
func WithMaxClaims(maxClaims int) ConfigOptionFunc {
	return func(c *Config) {
		c.maxClaims = maxClaims
	}
}

// WithIngestBatchSize specifies the ingest flush threshold
func WithIngestBatchSize(size int) ConfigOptionFunc {
	return func(c *Config) {
		c.ingestBatchSize = size
	}
}

// WithIngestFlushTimeout specifies the maximum time an ingest batch
// waits before flushing
func WithIngestFlushTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.ingestFlushTimeout = timeout
	}
}

// WithRetentionEpochs specifies how many epochs of raw participation
// rows to keep behind the current epoch. Sealed snapshots are never
// purged. The default (0) keeps raw rows forever.
func WithRetentionEpochs(epochs uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.retentionEpochs = epochs
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}

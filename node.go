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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/wyrdlabs/wyrd/database"
	"github.com/wyrdlabs/wyrd/event"
	"github.com/wyrdlabs/wyrd/ingest"
	"github.com/wyrdlabs/wyrd/ledger"
	"github.com/wyrdlabs/wyrd/publisher"
	"github.com/wyrdlabs/wyrd/reconciler"
	"github.com/wyrdlabs/wyrd/sealer"
	"github.com/wyrdlabs/wyrd/weighting"
)

type Node struct {
	db            *database.Database
	eventBus      *event.EventBus
	batcher       *ingest.Batcher
	sealer        *sealer.Sealer
	engine        *weighting.Engine
	publisher     *publisher.Publisher
	reconciler    *reconciler.Reconciler
	ledgerClient  *ledger.Client
	shutdownFuncs []func(context.Context) error
	config        Config
	done          chan struct{}
	retentionWg   sync.WaitGroup
	retentionStop context.CancelFunc
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Node, error) {
	eventBus := event.NewEventBus(cfg.promRegistry, cfg.logger)
	n := &Node{
		config:   cfg,
		eventBus: eventBus,
		done:     make(chan struct{}),
	}
	if err := n.configValidate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return n, nil
}

// CurrentEpoch returns the live epoch number
func (n *Node) CurrentEpoch() uint64 {
	return EpochForTime(time.Now(), n.config.epochDuration)
}

// Batcher returns the ingest batcher for submitting engagement events
func (n *Node) Batcher() *ingest.Batcher {
	return n.batcher
}

// Database returns the underlying database
func (n *Node) Database() *database.Database {
	return n.db
}

// EventBus returns the node's event bus
func (n *Node) EventBus() *event.EventBus {
	return n.eventBus
}

func (n *Node) Run(ctx context.Context) error {
	// Configure tracing
	if n.config.tracing {
		if err := n.setupTracing(); err != nil {
			return err
		}
	}
	// Load database
	db, err := database.New(database.Config{
		DataDir:        n.config.dataDir,
		Logger:         n.config.logger,
		PromRegistry:   n.config.promRegistry,
		MetadataPlugin: n.config.metadataPlugin,
	})
	if db == nil {
		return errors.New("empty database returned")
	}
	n.db = db
	if err != nil {
		var dbErr database.CommitTimestampError
		if !errors.As(err, &dbErr) {
			return fmt.Errorf("failed to open database: %w", err)
		}
		// The blob store fell behind the metadata store, most likely
		// from a crash between commits. Cached claim trees are rebuilt
		// deterministically from sealed snapshots, so stale cache
		// entries resolve themselves on the next publish attempt.
		n.config.logger.Warn(
			"tree cache out of sync with metadata, stale entries will be rebuilt",
			"error", err,
		)
	}
	// Load weighting engine
	engine, err := weighting.New(n.db, weighting.Config{
		Logger:          n.config.logger,
		RewardPerWeight: n.config.rewardPerWeight,
		TokenDecimals:   n.config.tokenDecimals,
		ViewerRatio:     n.config.viewerRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to load weighting engine: %w", err)
	}
	n.engine = engine
	// Initialize ledger client
	if len(n.config.ledgerEndpoints) > 0 {
		var signer solana.PrivateKey
		if n.config.signerKeyFile != "" {
			signer, err = solana.PrivateKeyFromSolanaKeygenFile(
				n.config.signerKeyFile,
			)
			if err != nil {
				return fmt.Errorf("failed to load signing key: %w", err)
			}
		}
		programID := solana.MustPublicKeyFromBase58(n.config.ledgerProgramID)
		mint := solana.MustPublicKeyFromBase58(n.config.ledgerMint)
		n.ledgerClient, err = ledger.NewClient(ledger.ClientConfig{
			Logger:    n.config.logger,
			Endpoints: n.config.ledgerEndpoints,
			ProgramID: programID,
			Mint:      mint,
			Signer:    signer,
			Namespace: n.config.namespace,
		})
		if err != nil {
			return fmt.Errorf("failed to create ledger client: %w", err)
		}
	}
	// Initialize ingest batcher
	n.batcher = ingest.NewBatcher(n.db, ingest.BatcherConfig{
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
		MaxBatchSize: n.config.ingestBatchSize,
		FlushTimeout: n.config.ingestFlushTimeout,
		TokenGroup:   n.config.tokenGroup,
	})
	n.batcher.Start()
	// Start sealer
	n.sealer = sealer.New(n.db, sealer.Config{
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
		EventBus:     n.eventBus,
		CurrentEpoch: n.CurrentEpoch,
		SealInterval: n.config.sealInterval,
		TokenGroup:   n.config.tokenGroup,
	})
	if err := n.sealer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sealer: %w", err)
	}
	// Start publisher and reconciler when a ledger is configured
	if n.ledgerClient != nil {
		if n.ledgerClient.CanPublish() {
			n.publisher = publisher.New(n.db, n.engine, n.ledgerClient,
				publisher.Config{
					Logger:          n.config.logger,
					PromRegistry:    n.config.promRegistry,
					EventBus:        n.eventBus,
					Namespace:       n.config.namespace,
					TokenGroup:      n.config.tokenGroup,
					LeafVersion:     n.config.leafVersion,
					OddPolicy:       n.config.oddPolicy,
					BatchSize:       n.config.publishBatchSize,
					PublishInterval: n.config.publishInterval,
					MaxClaims:       n.config.maxClaims,
				})
			if err := n.publisher.Start(ctx); err != nil {
				return fmt.Errorf("failed to start publisher: %w", err)
			}
		} else {
			n.config.logger.Info(
				"no signing key configured, publishing disabled",
				"component", "node",
			)
		}
		n.reconciler = reconciler.New(n.db, n.ledgerClient,
			reconciler.Config{
				Logger:            n.config.logger,
				PromRegistry:      n.config.promRegistry,
				EventBus:          n.eventBus,
				ReconcileInterval: n.config.reconcileInterval,
			})
		if err := n.reconciler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start reconciler: %w", err)
		}
	} else {
		n.config.logger.Info(
			"no ledger endpoints configured, running in local-only mode",
			"component", "node",
		)
	}
	// Start retention maintenance
	if n.config.retentionEpochs > 0 {
		retentionCtx, cancel := context.WithCancel(ctx)
		n.retentionStop = cancel
		n.retentionWg.Add(1)
		go n.retentionLoop(retentionCtx)
	}

	// Wait for shutdown signal
	<-n.done
	return nil
}

// retentionLoop periodically purges raw participation rows for sealed
// scopes older than the retention horizon
func (n *Node) retentionLoop(ctx context.Context) {
	defer n.retentionWg.Done()
	interval := n.config.epochDuration / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := n.CurrentEpoch()
			if current <= n.config.retentionEpochs {
				continue
			}
			cutoff := current - n.config.retentionEpochs
			purged, err := n.db.PurgeRawBefore(ctx, cutoff)
			if err != nil {
				n.config.logger.Error(
					"retention purge failed",
					"component", "node",
					"error", err,
				)
				continue
			}
			if purged > 0 {
				n.config.logger.Info(
					"purged raw participation rows",
					"component", "node",
					"rows", purged,
					"cutoff_epoch", cutoff,
				)
			}
		}
	}
}

func (n *Node) Stop() error {
	var err error
	n.shutdownOnce.Do(func() {
		err = n.shutdown()
	})
	return err
}

func (n *Node) shutdown() error {
	// Create shutdown context with timeout (default 30s if not configured)
	shutdownTimeout := 30 * time.Second
	if n.config.shutdownTimeout > 0 {
		shutdownTimeout = n.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	n.config.logger.Debug("starting graceful shutdown")

	// Phase 1: stop accepting new work and flush pending ingest
	n.config.logger.Debug("shutdown phase 1: stopping new work")

	if n.batcher != nil {
		n.batcher.Stop()
	}
	if n.retentionStop != nil {
		n.retentionStop()
		n.retentionWg.Wait()
	}

	// Phase 2: stop the pipeline loops
	n.config.logger.Debug("shutdown phase 2: stopping pipeline")

	if n.sealer != nil {
		n.sealer.Stop()
	}
	if n.publisher != nil {
		n.publisher.Stop()
	}
	if n.reconciler != nil {
		n.reconciler.Stop()
	}

	// Phase 3: flush state and close database
	n.config.logger.Debug("shutdown phase 3: flushing state")

	if n.db != nil {
		if closeErr := n.db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("database close: %w", closeErr))
		}
	}

	// Phase 4: cleanup resources
	n.config.logger.Debug("shutdown phase 4: cleanup resources")

	for _, fn := range n.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	n.shutdownFuncs = nil

	if n.eventBus != nil {
		n.eventBus.Stop()
	}

	n.config.logger.Debug("graceful shutdown complete")
	close(n.done)
	return err
}

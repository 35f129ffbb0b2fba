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

package reconciler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/wyrdlabs/wyrd/database"
	"github.com/wyrdlabs/wyrd/event"
	"github.com/wyrdlabs/wyrd/ledger"
)

// Outcome classifies one reconciliation check
type Outcome string

const (
	// OutcomeOK means the ledger slot holds this epoch with the expected root
	OutcomeOK Outcome = "ok"
	// OutcomeStale means the ring has wrapped and the slot now holds a
	// newer epoch; expected for old epochs, not drift
	OutcomeStale Outcome = "stale"
	// OutcomeDiff means the slot holds this epoch with a different root
	OutcomeDiff Outcome = "diff"
	// OutcomeMissing means the root never landed: no channel account, or
	// the slot holds an older epoch
	OutcomeMissing Outcome = "missing"
)

// LedgerReader is the read surface the reconciler needs from the
// ledger client
type LedgerReader interface {
	GetChannelState(
		ctx context.Context,
		channel string,
	) (*ledger.ChannelState, error)
}

// Config configures the reconciler
type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	EventBus     *event.EventBus
	// SampleSize is how many recently published scopes each pass checks
	SampleSize        int
	ReconcileInterval time.Duration
}

// Reconciler samples recently published scopes and compares the local
// claim-tree commitment against what the ledger ring buffer actually
// holds. It never repairs anything itself: published roots are
// immutable, so every disagreement is an alert, not a work item.
type Reconciler struct {
	logger   *slog.Logger
	db       *database.Database
	reader   LedgerReader
	eventBus *event.EventBus
	metrics  *reconcilerMetrics

	sampleSize        int
	reconcileInterval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a reconciler
func New(db *database.Database, reader LedgerReader, cfg Config) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	sampleSize := cfg.SampleSize
	if sampleSize <= 0 {
		sampleSize = 20
	}
	reconcileInterval := cfg.ReconcileInterval
	if reconcileInterval <= 0 {
		reconcileInterval = 5 * time.Minute
	}
	r := &Reconciler{
		logger:            logger.With("component", "reconciler"),
		db:                db,
		reader:            reader,
		eventBus:          cfg.EventBus,
		sampleSize:        sampleSize,
		reconcileInterval: reconcileInterval,
	}
	if cfg.PromRegistry != nil {
		r.metrics = newReconcilerMetrics(cfg.PromRegistry)
	}
	return r
}

// Start begins the periodic reconciliation loop
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("reconciler already running")
	}
	if r.reader == nil {
		return errors.New("reconciler requires a ledger reader")
	}
	r.running = true
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go r.runLoop(ctx)
	r.logger.Info(
		"reconciler started",
		"interval", r.reconcileInterval.String(),
		"sample_size", r.sampleSize,
	)
	return nil
}

// Stop stops the reconciliation loop and waits for it to exit
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
	r.logger.Info("reconciler stopped")
}

func (r *Reconciler) runLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.ReconcileSample(ctx); err != nil {
				r.logger.Error("reconcile pass failed", "error", err)
			}
		}
	}
}

// ReconcileSample checks the most recently published scopes
func (r *Reconciler) ReconcileSample(ctx context.Context) error {
	scopes, err := r.db.RecentlyPublished(ctx, r.sampleSize)
	if err != nil {
		return fmt.Errorf("failed to list published scopes: %w", err)
	}
	for _, scope := range scopes {
		outcome, err := r.Check(ctx, scope.Channel, scope.Epoch)
		if err != nil {
			r.logger.Error(
				"reconcile check failed",
				"epoch", scope.Epoch,
				"channel", scope.Channel,
				"error", err,
			)
			continue
		}
		if r.metrics != nil {
			r.metrics.checksTotal.WithLabelValues(string(outcome)).Inc()
		}
	}
	return nil
}

// Check compares the local commitment for one published scope against
// the ledger ring slot the epoch maps to
func (r *Reconciler) Check(
	ctx context.Context,
	channel string,
	epoch uint64,
) (Outcome, error) {
	cache, err := r.db.GetTreeCache(ctx, epoch, channel)
	if err != nil {
		return "", fmt.Errorf("failed to load local commitment: %w", err)
	}
	state, err := r.reader.GetChannelState(ctx, channel)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			r.reportDrift(channel, epoch, OutcomeMissing, cache.Root, nil)
			return OutcomeMissing, nil
		}
		return "", err
	}
	slot := state.Slot(epoch)
	switch {
	case slot.Epoch == epoch && bytes.Equal(slot.Root[:], cache.Root):
		return OutcomeOK, nil
	case slot.Epoch == epoch:
		r.reportDrift(channel, epoch, OutcomeDiff, cache.Root, slot.Root[:])
		return OutcomeDiff, nil
	case slot.Epoch > epoch:
		// The ring wrapped; the slot was reused by a newer epoch
		return OutcomeStale, nil
	default:
		r.reportDrift(channel, epoch, OutcomeMissing, cache.Root, slot.Root[:])
		return OutcomeMissing, nil
	}
}

func (r *Reconciler) reportDrift(
	channel string,
	epoch uint64,
	outcome Outcome,
	local []byte,
	onLedger []byte,
) {
	r.logger.Warn(
		"ledger drift detected",
		"epoch", epoch,
		"channel", channel,
		"outcome", string(outcome),
	)
	if r.eventBus == nil {
		return
	}
	drift := event.ReconcileDriftEvent{
		Epoch:   epoch,
		Channel: channel,
		Outcome: string(outcome),
	}
	copy(drift.Local[:], local)
	copy(drift.Ledger[:], onLedger)
	r.eventBus.PublishAsync(
		event.ReconcileDriftEventType,
		event.NewEvent(event.ReconcileDriftEventType, drift),
	)
}

type reconcilerMetrics struct {
	checksTotal *prometheus.CounterVec
}

func newReconcilerMetrics(registry prometheus.Registerer) *reconcilerMetrics {
	factory := promauto.With(registry)
	return &reconcilerMetrics{
		checksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciler_checks_total",
				Help: "reconciliation checks by outcome",
			},
			[]string{"outcome"},
		),
	}
}

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

package ingest

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/wyrdlabs/wyrd/database/models"
)

const (
	DefaultMaxBatchSize = 500
	DefaultFlushTimeout = 2 * time.Second

	queueSize = 4096
)

// Store is the subset of database operations the batcher needs
type Store interface {
	AddParticipation(ctx context.Context, rows []models.ChannelParticipation) error
	AddSignals(ctx context.Context, rows []models.UserSignal) error
	SetUserIdentity(ctx context.Context, userHash string, username string) error
}

// BatcherConfig configures the ingest batcher
type BatcherConfig struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	MaxBatchSize int
	FlushTimeout time.Duration
	TokenGroup   string
}

// Batcher accumulates engagement events and flushes them to the
// ingestion pool in batches, either when the batch fills or when the
// flush timer fires. Flush failures drop the batch after the store's
// transient retries are exhausted; the append-only unique indexes make
// redelivery by the upstream listener safe.
type Batcher struct {
	logger  *slog.Logger
	store   Store
	metrics *batcherMetrics
	queue   chan Event

	maxBatchSize int
	flushTimeout time.Duration
	tokenGroup   string

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	doneCh    chan struct{}
}

// NewBatcher creates an ingest batcher
func NewBatcher(store Store, cfg BatcherConfig) *Batcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	maxBatchSize := cfg.MaxBatchSize
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	flushTimeout := cfg.FlushTimeout
	if flushTimeout <= 0 {
		flushTimeout = DefaultFlushTimeout
	}
	b := &Batcher{
		logger:       logger.With("component", "ingest"),
		store:        store,
		queue:        make(chan Event, queueSize),
		maxBatchSize: maxBatchSize,
		flushTimeout: flushTimeout,
		tokenGroup:   cfg.TokenGroup,
		doneCh:       make(chan struct{}),
	}
	if cfg.PromRegistry != nil {
		b.metrics = newBatcherMetrics(cfg.PromRegistry)
	}
	return b
}

// Submit queues an event for ingestion. Returns false when the queue is
// full; the caller decides whether to block, retry, or drop.
func (b *Batcher) Submit(evt Event) bool {
	select {
	case b.queue <- evt:
		if b.metrics != nil {
			b.metrics.eventsQueued.WithLabelValues(string(evt.Type)).Inc()
		}
		return true
	default:
		if b.metrics != nil {
			b.metrics.eventsDropped.Inc()
		}
		return false
	}
}

// Start launches the batching loop
func (b *Batcher) Start() {
	b.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		b.cancel = cancel
		go b.run(ctx)
	})
}

// Stop flushes any pending batch and stops the loop
func (b *Batcher) Stop() {
	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
			<-b.doneCh
		}
	})
}

func (b *Batcher) run(ctx context.Context) {
	defer close(b.doneCh)
	ticker := time.NewTicker(b.flushTimeout)
	defer ticker.Stop()
	batch := make([]Event, 0, b.maxBatchSize)
	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				// Use a fresh context so the final flush is not cut off
				// by the shutdown cancellation
				flushCtx, cancel := context.WithTimeout(
					context.Background(),
					10*time.Second,
				)
				b.flush(flushCtx, batch)
				cancel()
			}
			return
		case evt := <-b.queue:
			batch = append(batch, evt)
			if len(batch) >= b.maxBatchSize {
				b.flush(ctx, batch)
				batch = make([]Event, 0, b.maxBatchSize)
				ticker.Reset(b.flushTimeout)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(ctx, batch)
				batch = make([]Event, 0, b.maxBatchSize)
			}
		}
	}
}

type scopeUser struct {
	epoch    uint64
	channel  string
	userHash string
}

func (b *Batcher) flush(ctx context.Context, batch []Event) {
	participation := make(map[scopeUser]models.ChannelParticipation)
	identities := make(map[string]string)
	signals := make([]models.UserSignal, 0, len(batch))
	for _, evt := range batch {
		userHash := HashUser(evt.User)
		key := scopeUser{
			epoch:    evt.Epoch,
			channel:  strings.ToLower(evt.Channel),
			userHash: userHash,
		}
		// Earliest observation wins for first_seen; duplicates within
		// the batch collapse here, duplicates across batches collapse
		// on the unique index
		if existing, ok := participation[key]; !ok ||
			evt.Timestamp < existing.FirstSeen {
			participation[key] = models.ChannelParticipation{
				Epoch:      key.epoch,
				Channel:    key.channel,
				UserHash:   key.userHash,
				FirstSeen:  evt.Timestamp,
				TokenGroup: b.tokenGroup,
			}
		}
		signals = append(signals, models.UserSignal{
			Epoch:      key.epoch,
			Channel:    key.channel,
			UserHash:   key.userHash,
			SignalType: string(evt.Type),
			Value:      evt.Value,
			Timestamp:  evt.Timestamp,
		})
		if evt.Username != "" {
			identities[userHash] = evt.Username
		}
	}
	participationRows := make([]models.ChannelParticipation, 0, len(participation))
	for _, row := range participation {
		participationRows = append(participationRows, row)
	}
	if err := b.store.AddParticipation(ctx, participationRows); err != nil {
		b.logger.Error(
			"failed to flush participation batch",
			"error", err,
			"rows", len(participationRows),
		)
		if b.metrics != nil {
			b.metrics.flushErrors.Inc()
		}
		return
	}
	if err := b.store.AddSignals(ctx, signals); err != nil {
		b.logger.Error(
			"failed to flush signal batch",
			"error", err,
			"rows", len(signals),
		)
		if b.metrics != nil {
			b.metrics.flushErrors.Inc()
		}
		return
	}
	for userHash, username := range identities {
		if err := b.store.SetUserIdentity(ctx, userHash, username); err != nil {
			b.logger.Warn(
				"failed to update user identity",
				"error", err,
			)
		}
	}
	if b.metrics != nil {
		b.metrics.eventsFlushed.Add(float64(len(batch)))
	}
	b.logger.Debug(
		"flushed ingest batch",
		"events", len(batch),
		"participants", len(participationRows),
	)
}

type batcherMetrics struct {
	eventsQueued  *prometheus.CounterVec
	eventsFlushed prometheus.Counter
	eventsDropped prometheus.Counter
	flushErrors   prometheus.Counter
}

func newBatcherMetrics(registry prometheus.Registerer) *batcherMetrics {
	factory := promauto.With(registry)
	return &batcherMetrics{
		eventsQueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_events_queued_total",
				Help: "engagement events accepted into the ingest queue",
			},
			[]string{"type"},
		),
		eventsFlushed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_events_flushed_total",
				Help: "engagement events written to the database",
			},
		),
		eventsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_events_dropped_total",
				Help: "engagement events dropped due to a full queue",
			},
		),
		flushErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_flush_errors_total",
				Help: "ingest batch flushes that failed",
			},
		),
	}
}

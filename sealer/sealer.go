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

package sealer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/wyrdlabs/wyrd/database"
	"github.com/wyrdlabs/wyrd/database/models"
	"github.com/wyrdlabs/wyrd/event"
	"github.com/wyrdlabs/wyrd/merkle"
)

// ErrEmptyScope is returned when sealing is attempted for a scope with
// no recorded participation
var ErrEmptyScope = errors.New("no participation recorded for scope")

// RootFunc computes the identity-commitment root over an ordered
// participant hash list
type RootFunc func(userHashes []string) [32]byte

// IdentityRoot is the default RootFunc: a keccak hash chain over the
// ordered user hashes. It commits to both membership and order.
func IdentityRoot(userHashes []string) [32]byte {
	parts := make([][]byte, 0, len(userHashes)+1)
	parts = append(parts, []byte("seal:"))
	for _, h := range userHashes {
		parts = append(parts, []byte(h))
	}
	return [32]byte(merkle.Keccak(parts...))
}

// Config configures the sealer
type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	EventBus     *event.EventBus
	// CurrentEpoch reports the live epoch; only scopes strictly before
	// it are sealable
	CurrentEpoch func() uint64
	// ComputeRoot overrides the identity-commitment root function
	ComputeRoot  RootFunc
	SealInterval time.Duration
	TokenGroup   string
}

// Sealer freezes participant snapshots for completed epochs. Sealing
// assigns each participant a permanent claim index and commits to the
// ordered list with an identity root; nothing about the snapshot may
// change afterward.
type Sealer struct {
	logger       *slog.Logger
	db           *database.Database
	eventBus     *event.EventBus
	metrics      *sealerMetrics
	currentEpoch func() uint64
	computeRoot  RootFunc
	sealInterval time.Duration
	tokenGroup   string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a sealer
func New(db *database.Database, cfg Config) *Sealer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	computeRoot := cfg.ComputeRoot
	if computeRoot == nil {
		computeRoot = IdentityRoot
	}
	sealInterval := cfg.SealInterval
	if sealInterval <= 0 {
		sealInterval = time.Minute
	}
	s := &Sealer{
		logger:       logger.With("component", "sealer"),
		db:           db,
		eventBus:     cfg.EventBus,
		currentEpoch: cfg.CurrentEpoch,
		computeRoot:  computeRoot,
		sealInterval: sealInterval,
		tokenGroup:   cfg.TokenGroup,
	}
	if cfg.PromRegistry != nil {
		s.metrics = newSealerMetrics(cfg.PromRegistry)
	}
	return s
}

// Start begins the periodic sealing loop
func (s *Sealer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("sealer already running")
	}
	if s.currentEpoch == nil {
		return errors.New("sealer requires a current epoch source")
	}
	s.running = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.runLoop(ctx)
	s.logger.Info("sealer started", "interval", s.sealInterval.String())
	return nil
}

// Stop stops the sealing loop and waits for it to exit
func (s *Sealer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info("sealer stopped")
}

func (s *Sealer) runLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.sealInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SealDue(ctx); err != nil {
				s.logger.Error("seal pass failed", "error", err)
			}
		}
	}
}

// SealDue seals every completed scope that has participation but no
// snapshot yet
func (s *Sealer) SealDue(ctx context.Context) error {
	current := s.currentEpoch()
	if current == 0 {
		return nil
	}
	scopes, err := s.db.UnsealedScopes(ctx, current-1)
	if err != nil {
		return fmt.Errorf("failed to list unsealed scopes: %w", err)
	}
	for _, scope := range scopes {
		if err := s.SealEpoch(ctx, scope.Epoch, scope.Channel); err != nil {
			if errors.Is(err, database.ErrAlreadySealed) {
				continue
			}
			s.logger.Error(
				"failed to seal scope",
				"epoch", scope.Epoch,
				"channel", scope.Channel,
				"error", err,
			)
			if s.metrics != nil {
				s.metrics.sealErrors.Inc()
			}
		}
	}
	return nil
}

// SealEpoch freezes the participant snapshot for one scope. The ordered
// participant list (first_seen ASC, user_hash ASC) fixes each claim
// index forever; the write itself is arbitrated by the sealed_epochs
// unique index, so two concurrent sealers produce exactly one snapshot.
func (s *Sealer) SealEpoch(
	ctx context.Context,
	epoch uint64,
	channel string,
) error {
	participants, err := s.db.ParticipantsForScope(ctx, epoch, channel)
	if err != nil {
		return fmt.Errorf("failed to load participants: %w", err)
	}
	if len(participants) == 0 {
		return ErrEmptyScope
	}
	if len(participants) > math.MaxUint32 {
		return errors.New("participant count overflows claim index")
	}
	userHashes := make([]string, len(participants))
	for i, p := range participants {
		userHashes[i] = p.UserHash
	}
	root := s.computeRoot(userHashes)

	sealed := models.SealedEpoch{
		Epoch:      epoch,
		Channel:    channel,
		TokenGroup: s.tokenGroup,
		Root:       root[:],
		SealedAt:   time.Now().Unix(),
	}
	sealedParticipants := make([]models.SealedParticipant, len(participants))
	for i, p := range participants {
		username, err := s.db.GetUserIdentity(ctx, p.UserHash)
		if err != nil {
			return fmt.Errorf("failed to resolve identity: %w", err)
		}
		sealedParticipants[i] = models.SealedParticipant{
			Epoch:    epoch,
			Channel:  channel,
			Idx:      uint32(i),
			UserHash: p.UserHash,
			Username: username,
		}
	}
	if err := s.db.SealScope(ctx, sealed, sealedParticipants); err != nil {
		return err
	}
	s.logger.Info(
		"sealed epoch",
		"epoch", epoch,
		"channel", channel,
		"participants", len(participants),
	)
	if s.metrics != nil {
		s.metrics.epochsSealed.Inc()
		s.metrics.participantsSealed.Add(float64(len(participants)))
	}
	if s.eventBus != nil {
		s.eventBus.PublishAsync(
			event.EpochSealedEventType,
			event.NewEvent(
				event.EpochSealedEventType,
				event.EpochSealedEvent{
					Epoch:            epoch,
					Channel:          channel,
					Root:             root,
					ParticipantCount: len(participants),
				},
			),
		)
	}
	return nil
}

type sealerMetrics struct {
	epochsSealed       prometheus.Counter
	participantsSealed prometheus.Counter
	sealErrors         prometheus.Counter
}

func newSealerMetrics(registry prometheus.Registerer) *sealerMetrics {
	factory := promauto.With(registry)
	return &sealerMetrics{
		epochsSealed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sealer_epochs_sealed_total",
				Help: "scopes sealed",
			},
		),
		participantsSealed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sealer_participants_sealed_total",
				Help: "participants frozen into snapshots",
			},
		),
		sealErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sealer_errors_total",
				Help: "failed seal attempts",
			},
		),
	}
}

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

package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/wyrdlabs/wyrd/database"
	"github.com/wyrdlabs/wyrd/database/models"
	"github.com/wyrdlabs/wyrd/event"
	"github.com/wyrdlabs/wyrd/ledger"
	"github.com/wyrdlabs/wyrd/merkle"
	"github.com/wyrdlabs/wyrd/weighting"
)

// ErrNoEligibleClaims is returned when a scope has no participant that
// can appear in a claim tree
var ErrNoEligibleClaims = errors.New("no eligible participants")

// ErrClaimLimit is returned when a scope has more eligible participants
// than the per-epoch claim limit
var ErrClaimLimit = errors.New("claim count exceeds per-epoch limit")

// Ledger is the surface the publisher needs from the ledger client:
// anchoring roots, plus reading the ring back to recover a publish that
// anchored but never got marked locally
type Ledger interface {
	SetRoot(
		ctx context.Context,
		channel string,
		epoch uint64,
		root [32]byte,
	) (solana.Signature, error)
	GetChannelState(
		ctx context.Context,
		channel string,
	) (*ledger.ChannelState, error)
}

// Config configures the publisher
type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	EventBus     *event.EventBus
	Namespace    string
	// TokenGroup scopes the backlog: only scopes sealed under this
	// group are drained
	TokenGroup  string
	LeafVersion merkle.LeafVersion
	OddPolicy   merkle.OddPolicy
	// BatchSize caps how many backlog entries one pass attempts
	BatchSize       int
	PublishInterval time.Duration
	// MaxClaims caps claims per epoch; scopes beyond it fail publishing
	MaxClaims int
}

// Publisher drains the backlog of sealed-but-unpublished epochs for one
// token group. Each pass picks the oldest candidates, ensures a claim
// tree exists for each, anchors the root on the ledger, and only then
// marks the scope published. A crash between anchor and mark is
// resolved on the next pass: the ring program rejects re-anchoring the
// same epoch, so an anchor failure is followed by a read of the ring
// slot, and a slot already holding the expected root completes the
// local mark instead of failing.
type Publisher struct {
	logger     *slog.Logger
	db         *database.Database
	engine     *weighting.Engine
	ledger     Ledger
	eventBus   *event.EventBus
	metrics    *publisherMetrics
	namespace  string
	tokenGroup string

	leafVersion     merkle.LeafVersion
	oddPolicy       merkle.OddPolicy
	batchSize       int
	publishInterval time.Duration
	maxClaims       int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a publisher
func New(
	db *database.Database,
	engine *weighting.Engine,
	ledger Ledger,
	cfg Config,
) *Publisher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	publishInterval := cfg.PublishInterval
	if publishInterval <= 0 {
		publishInterval = time.Minute
	}
	maxClaims := cfg.MaxClaims
	if maxClaims <= 0 {
		maxClaims = 1024
	}
	p := &Publisher{
		logger:          logger.With("component", "publisher"),
		db:              db,
		engine:          engine,
		ledger:          ledger,
		eventBus:        cfg.EventBus,
		namespace:       cfg.Namespace,
		tokenGroup:      cfg.TokenGroup,
		leafVersion:     cfg.LeafVersion,
		oddPolicy:       cfg.OddPolicy,
		batchSize:       batchSize,
		publishInterval: publishInterval,
		maxClaims:       maxClaims,
	}
	if cfg.PromRegistry != nil {
		p.metrics = newPublisherMetrics(cfg.PromRegistry)
	}
	return p
}

// Start begins the periodic publish loop
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("publisher already running")
	}
	if p.ledger == nil {
		return errors.New("publisher requires a ledger client")
	}
	p.running = true
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	go p.runLoop(ctx)
	p.logger.Info("publisher started", "interval", p.publishInterval.String())
	return nil
}

// Stop stops the publish loop and waits for it to exit
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
	p.wg.Wait()
	p.logger.Info("publisher stopped")
}

func (p *Publisher) runLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.publishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.PublishDue(ctx); err != nil {
				p.logger.Error("publish pass failed", "error", err)
			}
		}
	}
}

// PublishDue anchors roots for the oldest backlog candidates. One
// failing scope does not block the others; it stays in the backlog for
// the next pass.
func (p *Publisher) PublishDue(ctx context.Context) error {
	candidates, err := p.db.PublishCandidates(ctx, p.tokenGroup, p.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list publish candidates: %w", err)
	}
	for _, candidate := range candidates {
		if err := p.PublishEpoch(ctx, candidate.Epoch, candidate.Channel); err != nil {
			p.logger.Error(
				"failed to publish epoch",
				"epoch", candidate.Epoch,
				"channel", candidate.Channel,
				"error", err,
			)
		}
	}
	if p.metrics != nil {
		if depth, err := p.db.BacklogDepth(ctx, p.tokenGroup); err == nil {
			p.metrics.backlogDepth.Set(float64(depth))
		}
	}
	return nil
}

// PublishEpoch builds (or loads) the claim tree for one scope, anchors
// its root, exports the proof bundle, and marks the scope published
func (p *Publisher) PublishEpoch(
	ctx context.Context,
	epoch uint64,
	channel string,
) error {
	tree, err := p.ensureTree(ctx, epoch, channel)
	if err != nil {
		p.countError(treeErrorReason(err))
		return fmt.Errorf("failed to build claim tree: %w", err)
	}
	root := tree.Root()
	sig, err := p.ledger.SetRoot(ctx, channel, epoch, root)
	if err != nil {
		// The program rejects re-anchoring an epoch, so a prior run may
		// have landed this root and died before marking the scope. Read
		// the slot back: if it already holds our root the anchor is
		// done and only the local mark remains.
		anchored, readErr := p.alreadyAnchored(ctx, channel, epoch, root)
		if readErr != nil || !anchored {
			p.countError("ledger")
			return fmt.Errorf("failed to anchor root: %w", err)
		}
		p.logger.Info(
			"root already anchored, completing interrupted publish",
			"epoch", epoch,
			"channel", channel,
			"root", root.String(),
		)
	}
	if err := p.exportProofBundle(channel, tree); err != nil {
		// The root is anchored; a failed export is recoverable from the
		// cached tree, so log and continue
		p.logger.Warn(
			"failed to export proof bundle",
			"epoch", epoch,
			"channel", channel,
			"error", err,
		)
	}
	if err := p.db.MarkPublished(ctx, epoch, channel); err != nil {
		p.countError("mark")
		return fmt.Errorf("failed to mark published: %w", err)
	}
	p.logger.Info(
		"published claim root",
		"epoch", epoch,
		"channel", channel,
		"root", root.String(),
		"claims", tree.Tree.LeafCount(),
		"signature", sig.String(),
	)
	if p.metrics != nil {
		p.metrics.rootsPublished.Inc()
	}
	if p.eventBus != nil {
		p.eventBus.PublishAsync(
			event.RootPublishedEventType,
			event.NewEvent(
				event.RootPublishedEventType,
				event.RootPublishedEvent{
					Epoch:      epoch,
					Channel:    channel,
					Root:       root,
					ClaimCount: uint16(tree.Tree.LeafCount()), //nolint:gosec // bounded by maxClaims
					Signature:  sig.String(),
				},
			),
		)
	}
	return nil
}

// ensureTree loads the cached claim tree for a scope, or builds and
// caches it. The cache makes republish attempts after partial failures
// byte-identical; a rehydrated tree keeps the leaf version and odd-node
// policy it was built with, not the publisher's current config.
func (p *Publisher) ensureTree(
	ctx context.Context,
	epoch uint64,
	channel string,
) (*merkle.ClaimTree, error) {
	subject := merkle.Subject(p.namespace, channel)
	cacheRow, err := p.db.GetTreeCache(ctx, epoch, channel)
	if err == nil {
		data, err := p.db.GetTreeData(epoch, channel)
		if err != nil && !errors.Is(err, database.ErrTreeNotCached) {
			return nil, err
		}
		if err == nil {
			tree, err := merkle.UnmarshalTree(data)
			if err == nil {
				claims, err := p.buildClaims(ctx, epoch, channel)
				if err != nil {
					return nil, err
				}
				return &merkle.ClaimTree{
					Tree:        tree,
					Claims:      claims,
					LeafVersion: merkle.LeafVersion(cacheRow.LeafVersion),
					Subject:     subject,
					Epoch:       epoch,
				}, nil
			}
			p.logger.Warn(
				"cached tree is corrupt, rebuilding",
				"epoch", epoch,
				"channel", channel,
				"error", err,
			)
		}
	} else if !errors.Is(err, database.ErrTreeNotCached) {
		return nil, err
	}

	claims, err := p.buildClaims(ctx, epoch, channel)
	if err != nil {
		return nil, err
	}
	tree, err := merkle.BuildClaimTree(
		claims,
		p.leafVersion,
		subject,
		epoch,
		p.oddPolicy,
	)
	if err != nil {
		return nil, err
	}
	treeData, err := tree.Tree.MarshalBinary()
	if err != nil {
		return nil, err
	}
	root := tree.Root()
	err = p.db.StoreTree(ctx, models.L2TreeCache{
		Epoch:            epoch,
		Channel:          channel,
		Root:             root.Bytes(),
		LeafVersion:      uint8(p.leafVersion),
		OddPolicy:        p.oddPolicy.String(),
		ParticipantCount: uint32(len(claims)), //nolint:gosec // bounded by maxClaims
	}, treeData)
	if err != nil {
		return nil, err
	}
	return tree, nil
}

// buildClaims assembles the claim list for a scope: eligible sealed
// participants with their wallets and weighted amounts, in claim-index
// order. The claim ID is the participant's user hash, tying every leaf
// back to the sealed snapshot.
func (p *Publisher) buildClaims(
	ctx context.Context,
	epoch uint64,
	channel string,
) ([]merkle.Claim, error) {
	participants, err := p.db.EligibleParticipants(ctx, epoch, channel)
	if err != nil {
		return nil, err
	}
	if len(participants) == 0 {
		return nil, ErrNoEligibleClaims
	}
	if len(participants) > p.maxClaims {
		return nil, fmt.Errorf(
			"%w: %d > %d",
			ErrClaimLimit,
			len(participants),
			p.maxClaims,
		)
	}
	userHashes := make([]string, len(participants))
	for i, participant := range participants {
		userHashes[i] = participant.UserHash
	}
	wallets, err := p.db.GetUserWallets(ctx, userHashes)
	if err != nil {
		return nil, err
	}
	amounts, err := p.engine.UserAmounts(ctx, epoch, channel)
	if err != nil {
		return nil, err
	}
	claims := make([]merkle.Claim, 0, len(participants))
	for _, participant := range participants {
		wallet, ok := wallets[participant.UserHash]
		if !ok {
			// Eligibility query requires a wallet row; a miss here means
			// it was removed mid-flight
			return nil, fmt.Errorf(
				"wallet disappeared for user %s",
				participant.UserHash,
			)
		}
		claims = append(claims, merkle.Claim{
			Claimer: wallet,
			Index:   participant.Idx,
			Amount:  amounts[participant.UserHash],
			ID:      participant.UserHash,
		})
	}
	return claims, nil
}

func (p *Publisher) exportProofBundle(
	channel string,
	tree *merkle.ClaimTree,
) error {
	bundle, err := merkle.NewProofBundle(
		channel,
		tree,
		func(claimer [32]byte) string {
			return solana.PublicKeyFromBytes(claimer[:]).String()
		},
	)
	if err != nil {
		return err
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		return err
	}
	return p.db.StoreProofBundle(tree.Epoch, channel, data)
}

// alreadyAnchored reports whether the ring slot for an epoch already
// holds exactly this root
func (p *Publisher) alreadyAnchored(
	ctx context.Context,
	channel string,
	epoch uint64,
	root [32]byte,
) (bool, error) {
	state, err := p.ledger.GetChannelState(ctx, channel)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return false, nil
		}
		return false, err
	}
	slot := state.Slot(epoch)
	return slot.Epoch == epoch && slot.Root == root, nil
}

// treeErrorReason maps a claim-tree build failure to its counter reason
func treeErrorReason(err error) string {
	switch {
	case errors.Is(err, ErrNoEligibleClaims):
		return "no_claims"
	case errors.Is(err, ErrClaimLimit):
		return "claim_limit"
	default:
		return "tree"
	}
}

func (p *Publisher) countError(reason string) {
	if p.metrics != nil {
		p.metrics.publishErrors.WithLabelValues(reason).Inc()
	}
}

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

package weighting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/wyrdlabs/wyrd/database"
	"github.com/wyrdlabs/wyrd/database/models"
	"github.com/wyrdlabs/wyrd/ingest"
)

// Signal weights. Presence is the baseline; paid signals scale with
// their value (bits amount, raid size), membership signals are flat.
const (
	WeightPresence = 1.0
	WeightSub      = 10.0
	WeightResub    = 10.0
	WeightGift     = 5.0
	WeightBitsUnit = 0.01
	WeightRaidUnit = 0.1
)

// DefaultViewerRatio is the portion of a channel's reward pool paid to
// viewers; the remainder goes to the streamer
const DefaultViewerRatio = 0.90

// ErrNoParticipants is returned when computing payouts for a scope
// without sealed participants
var ErrNoParticipants = errors.New("no sealed participants for scope")

// Config configures the weighting engine
type Config struct {
	Logger *slog.Logger
	// RewardPerWeight is the token reward per unit of weight, in whole
	// tokens
	RewardPerWeight float64
	// TokenDecimals converts whole tokens into base units
	TokenDecimals uint8
	// ViewerRatio is the viewer share of the reward pool; set to 1.0
	// for pooled channels with no streamer cut
	ViewerRatio float64
}

// Engine turns raw engagement signals into per-user token amounts and
// channel payout splits. All of its output is derived data: it can be
// recomputed from sealed snapshots and signals at any time before
// publishing, and never after.
type Engine struct {
	logger          *slog.Logger
	db              *database.Database
	rewardPerWeight float64
	tokenDecimals   uint8
	viewerRatio     float64
}

// New creates a weighting engine
func New(db *database.Database, cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	viewerRatio := cfg.ViewerRatio
	if viewerRatio == 0 {
		viewerRatio = DefaultViewerRatio
	}
	if viewerRatio < 0 || viewerRatio > 1 {
		return nil, fmt.Errorf("viewer ratio out of range: %f", viewerRatio)
	}
	if cfg.RewardPerWeight < 0 {
		return nil, fmt.Errorf(
			"reward per weight must not be negative: %f",
			cfg.RewardPerWeight,
		)
	}
	return &Engine{
		logger:          logger.With("component", "weighting"),
		db:              db,
		rewardPerWeight: cfg.RewardPerWeight,
		tokenDecimals:   cfg.TokenDecimals,
		viewerRatio:     viewerRatio,
	}, nil
}

// SignalWeight returns the weight contribution of a single signal
func SignalWeight(signalType string, value float64) float64 {
	switch ingest.SignalType(signalType) {
	case ingest.SignalPresence:
		return WeightPresence
	case ingest.SignalSub:
		return WeightSub
	case ingest.SignalResub:
		return WeightResub
	case ingest.SignalGift:
		return WeightGift * value
	case ingest.SignalBits:
		return WeightBitsUnit * value
	case ingest.SignalRaid:
		return WeightRaidUnit * value
	default:
		return 0
	}
}

// UserWeights aggregates signal weights per user hash for a scope
func (e *Engine) UserWeights(
	ctx context.Context,
	epoch uint64,
	channel string,
) (map[string]float64, error) {
	signals, err := e.db.SignalsForScope(ctx, epoch, channel)
	if err != nil {
		return nil, err
	}
	weights := make(map[string]float64)
	for _, sig := range signals {
		weights[sig.UserHash] += SignalWeight(sig.SignalType, sig.Value)
	}
	return weights, nil
}

// baseUnits converts a whole-token amount into base units, rounding to
// nearest
func (e *Engine) baseUnits(tokens float64) uint64 {
	scaled := tokens * math.Pow10(int(e.tokenDecimals))
	if scaled <= 0 {
		return 0
	}
	if scaled >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(math.Round(scaled))
}

// UserAmount returns the claimable base-unit amount for one user weight
func (e *Engine) UserAmount(weight float64) uint64 {
	return e.baseUnits(weight * e.rewardPerWeight * e.viewerRatio)
}

// ComputePayout derives the payout snapshot for a sealed scope and
// stores it. Participants without signals still earn presence weight
// through their participation row's presence signal; users with zero
// weight get zero amounts but keep their claim index.
func (e *Engine) ComputePayout(
	ctx context.Context,
	epoch uint64,
	channel string,
) (*models.ChannelPayout, error) {
	participants, err := e.db.SealedParticipants(ctx, epoch, channel)
	if err != nil {
		return nil, err
	}
	if len(participants) == 0 {
		return nil, ErrNoParticipants
	}
	weights, err := e.UserWeights(ctx, epoch, channel)
	if err != nil {
		return nil, err
	}
	var totalWeight float64
	var viewerAmount uint64
	for _, p := range participants {
		w := weights[p.UserHash]
		totalWeight += w
		viewerAmount += e.UserAmount(w)
	}
	streamerAmount := e.baseUnits(
		totalWeight * e.rewardPerWeight * (1 - e.viewerRatio),
	)
	payout := models.ChannelPayout{
		Epoch:            epoch,
		Channel:          channel,
		ParticipantCount: uint32(len(participants)), //nolint:gosec // bounded by seal-time check
		TotalWeight:      totalWeight,
		ViewerAmount:     viewerAmount,
		StreamerAmount:   streamerAmount,
		ViewerRatio:      e.viewerRatio,
		StreamerRatio:    1 - e.viewerRatio,
	}
	if err := e.db.SetChannelPayout(ctx, payout); err != nil {
		return nil, err
	}
	e.logger.Debug(
		"computed channel payout",
		"epoch", epoch,
		"channel", channel,
		"total_weight", totalWeight,
		"viewer_amount", viewerAmount,
		"streamer_amount", streamerAmount,
	)
	return &payout, nil
}

// UserAmounts returns the base-unit amount per sealed participant, in
// claim-index order, for claim-tree construction
func (e *Engine) UserAmounts(
	ctx context.Context,
	epoch uint64,
	channel string,
) (map[string]uint64, error) {
	weights, err := e.UserWeights(ctx, epoch, channel)
	if err != nil {
		return nil, err
	}
	amounts := make(map[string]uint64, len(weights))
	for userHash, weight := range weights {
		amounts[userHash] = e.UserAmount(weight)
	}
	return amounts, nil
}

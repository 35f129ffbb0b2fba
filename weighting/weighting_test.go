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

package weighting_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyrdlabs/wyrd/database"
	"github.com/wyrdlabs/wyrd/database/models"
	"github.com/wyrdlabs/wyrd/weighting"
)

func newTestDatabase(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(database.Config{
		DataDir: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func TestSignalWeight(t *testing.T) {
	assert.Equal(t, 1.0, weighting.SignalWeight("presence", 1))
	assert.Equal(t, 10.0, weighting.SignalWeight("sub", 1))
	assert.Equal(t, 10.0, weighting.SignalWeight("resub", 1))
	assert.Equal(t, 10.0, weighting.SignalWeight("gift", 2))
	assert.Equal(t, 1.0, weighting.SignalWeight("bits", 100))
	assert.Equal(t, 1.0, weighting.SignalWeight("raid", 10))
	assert.Equal(t, 0.0, weighting.SignalWeight("unknown", 5))
}

func TestUserWeightsAggregation(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	require.NoError(t, db.AddSignals(ctx, []models.UserSignal{
		{Epoch: 1, Channel: "c", UserHash: "aa", SignalType: "presence", Value: 1, Timestamp: 1},
		{Epoch: 1, Channel: "c", UserHash: "aa", SignalType: "bits", Value: 500, Timestamp: 2},
		{Epoch: 1, Channel: "c", UserHash: "bb", SignalType: "presence", Value: 1, Timestamp: 3},
	}))
	engine, err := weighting.New(db, weighting.Config{RewardPerWeight: 1})
	require.NoError(t, err)

	weights, err := engine.UserWeights(ctx, 1, "c")
	require.NoError(t, err)
	assert.InDelta(t, 6.0, weights["aa"], 1e-9)
	assert.InDelta(t, 1.0, weights["bb"], 1e-9)
}

func TestComputePayoutSplit(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	require.NoError(t, db.SealScope(ctx, models.SealedEpoch{
		Epoch: 2, Channel: "c", Root: make([]byte, 32), SealedAt: 1,
	}, []models.SealedParticipant{
		{Epoch: 2, Channel: "c", Idx: 0, UserHash: "aa"},
		{Epoch: 2, Channel: "c", Idx: 1, UserHash: "bb"},
	}))
	require.NoError(t, db.AddSignals(ctx, []models.UserSignal{
		{Epoch: 2, Channel: "c", UserHash: "aa", SignalType: "presence", Value: 1, Timestamp: 1},
		{Epoch: 2, Channel: "c", UserHash: "bb", SignalType: "sub", Value: 1, Timestamp: 2},
	}))
	engine, err := weighting.New(db, weighting.Config{
		RewardPerWeight: 2,
		TokenDecimals:   6,
		ViewerRatio:     0.9,
	})
	require.NoError(t, err)

	payout, err := engine.ComputePayout(ctx, 2, "c")
	require.NoError(t, err)
	assert.InDelta(t, 11.0, payout.TotalWeight, 1e-9)
	// Viewer pool: (1*2*0.9 + 10*2*0.9) * 1e6
	assert.Equal(t, uint64(19_800_000), payout.ViewerAmount)
	// Streamer cut: 11*2*0.1 * 1e6
	assert.Equal(t, uint64(2_200_000), payout.StreamerAmount)
	assert.Equal(t, uint32(2), payout.ParticipantCount)

	// Snapshot persisted
	stored, err := db.GetChannelPayout(ctx, 2, "c")
	require.NoError(t, err)
	assert.Equal(t, payout.ViewerAmount, stored.ViewerAmount)
}

func TestComputePayoutPooledChannel(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	require.NoError(t, db.SealScope(ctx, models.SealedEpoch{
		Epoch: 3, Channel: "c", Root: make([]byte, 32), SealedAt: 1,
	}, []models.SealedParticipant{
		{Epoch: 3, Channel: "c", Idx: 0, UserHash: "aa"},
	}))
	require.NoError(t, db.AddSignals(ctx, []models.UserSignal{
		{Epoch: 3, Channel: "c", UserHash: "aa", SignalType: "presence", Value: 1, Timestamp: 1},
	}))
	engine, err := weighting.New(db, weighting.Config{
		RewardPerWeight: 1,
		TokenDecimals:   0,
		ViewerRatio:     1.0,
	})
	require.NoError(t, err)

	payout, err := engine.ComputePayout(ctx, 3, "c")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), payout.StreamerAmount)
	assert.Equal(t, uint64(1), payout.ViewerAmount)
}

func TestComputePayoutNoParticipants(t *testing.T) {
	db := newTestDatabase(t)
	engine, err := weighting.New(db, weighting.Config{RewardPerWeight: 1})
	require.NoError(t, err)
	_, err = engine.ComputePayout(context.Background(), 9, "c")
	require.ErrorIs(t, err, weighting.ErrNoParticipants)
}

func TestZeroWeightUserKeepsIndex(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	require.NoError(t, db.SealScope(ctx, models.SealedEpoch{
		Epoch: 4, Channel: "c", Root: make([]byte, 32), SealedAt: 1,
	}, []models.SealedParticipant{
		{Epoch: 4, Channel: "c", Idx: 0, UserHash: "silent"},
	}))
	engine, err := weighting.New(db, weighting.Config{
		RewardPerWeight: 1,
		ViewerRatio:     0.9,
	})
	require.NoError(t, err)

	payout, err := engine.ComputePayout(ctx, 4, "c")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), payout.ParticipantCount)
	assert.Equal(t, uint64(0), payout.ViewerAmount)
}

func TestNewRejectsBadConfig(t *testing.T) {
	db := newTestDatabase(t)
	_, err := weighting.New(db, weighting.Config{ViewerRatio: 1.5})
	require.Error(t, err)
	_, err = weighting.New(db, weighting.Config{RewardPerWeight: -1})
	require.Error(t, err)
}

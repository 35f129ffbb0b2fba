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

package reconciler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyrdlabs/wyrd/database"
	"github.com/wyrdlabs/wyrd/database/models"
	"github.com/wyrdlabs/wyrd/event"
	"github.com/wyrdlabs/wyrd/ledger"
	"github.com/wyrdlabs/wyrd/reconciler"
)

type fakeReader struct {
	states map[string]*ledger.ChannelState
	calls  atomic.Int64
}

func (f *fakeReader) GetChannelState(
	ctx context.Context,
	channel string,
) (*ledger.ChannelState, error) {
	f.calls.Add(1)
	state, ok := f.states[channel]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return state, nil
}

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

func seedPublishedScope(
	t *testing.T,
	db *database.Database,
	epoch uint64,
	channel string,
	root [32]byte,
) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.SealScope(ctx, models.SealedEpoch{
		Epoch: epoch, Channel: channel, Root: root[:], SealedAt: 1,
	}, []models.SealedParticipant{
		{Epoch: epoch, Channel: channel, Idx: 0, UserHash: "aa"},
	}))
	require.NoError(t, db.StoreTree(ctx, models.L2TreeCache{
		Epoch:            epoch,
		Channel:          channel,
		Root:             root[:],
		ParticipantCount: 1,
	}, []byte{0x01}))
	require.NoError(t, db.MarkPublished(ctx, epoch, channel))
}

func stateWithSlot(epoch uint64, root [32]byte) *ledger.ChannelState {
	state := &ledger.ChannelState{LatestEpoch: epoch}
	slot := &state.Slots[ledger.SlotIndex(epoch)]
	slot.Epoch = epoch
	slot.Root = root
	return state
}

func TestCheckOK(t *testing.T) {
	db := newTestDatabase(t)
	root := [32]byte{0xaa}
	seedPublishedScope(t, db, 7, "somechannel", root)
	reader := &fakeReader{states: map[string]*ledger.ChannelState{
		"somechannel": stateWithSlot(7, root),
	}}
	r := reconciler.New(db, reader, reconciler.Config{})

	outcome, err := r.Check(context.Background(), "somechannel", 7)
	require.NoError(t, err)
	assert.Equal(t, reconciler.OutcomeOK, outcome)
}

func TestCheckDiff(t *testing.T) {
	db := newTestDatabase(t)
	seedPublishedScope(t, db, 7, "somechannel", [32]byte{0xaa})
	reader := &fakeReader{states: map[string]*ledger.ChannelState{
		"somechannel": stateWithSlot(7, [32]byte{0xbb}),
	}}
	r := reconciler.New(db, reader, reconciler.Config{})

	outcome, err := r.Check(context.Background(), "somechannel", 7)
	require.NoError(t, err)
	assert.Equal(t, reconciler.OutcomeDiff, outcome)
}

func TestCheckStaleAfterRingWrap(t *testing.T) {
	db := newTestDatabase(t)
	root := [32]byte{0xaa}
	seedPublishedScope(t, db, 7, "somechannel", root)
	// Epoch 17 maps to the same ring slot as epoch 7
	reader := &fakeReader{states: map[string]*ledger.ChannelState{
		"somechannel": stateWithSlot(17, [32]byte{0xcc}),
	}}
	r := reconciler.New(db, reader, reconciler.Config{})

	outcome, err := r.Check(context.Background(), "somechannel", 7)
	require.NoError(t, err)
	assert.Equal(t, reconciler.OutcomeStale, outcome)
}

func TestCheckMissingAccount(t *testing.T) {
	db := newTestDatabase(t)
	seedPublishedScope(t, db, 7, "somechannel", [32]byte{0xaa})
	reader := &fakeReader{states: map[string]*ledger.ChannelState{}}
	r := reconciler.New(db, reader, reconciler.Config{})

	outcome, err := r.Check(context.Background(), "somechannel", 7)
	require.NoError(t, err)
	assert.Equal(t, reconciler.OutcomeMissing, outcome)
}

func TestCheckMissingOlderEpochInSlot(t *testing.T) {
	db := newTestDatabase(t)
	seedPublishedScope(t, db, 17, "somechannel", [32]byte{0xaa})
	// The slot still holds epoch 7; our epoch 17 root never landed
	reader := &fakeReader{states: map[string]*ledger.ChannelState{
		"somechannel": stateWithSlot(7, [32]byte{0xaa}),
	}}
	r := reconciler.New(db, reader, reconciler.Config{})

	outcome, err := r.Check(context.Background(), "somechannel", 17)
	require.NoError(t, err)
	assert.Equal(t, reconciler.OutcomeMissing, outcome)
}

func TestReconcileSampleEmitsDriftEvents(t *testing.T) {
	db := newTestDatabase(t)
	seedPublishedScope(t, db, 7, "goodchannel", [32]byte{0xaa})
	seedPublishedScope(t, db, 7, "badchannel", [32]byte{0xbb})
	reader := &fakeReader{states: map[string]*ledger.ChannelState{
		"goodchannel": stateWithSlot(7, [32]byte{0xaa}),
		"badchannel":  stateWithSlot(7, [32]byte{0xee}),
	}}
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	var drifts atomic.Int64
	eb.SubscribeFunc(
		event.ReconcileDriftEventType,
		func(evt event.Event) {
			drift, ok := evt.Data.(event.ReconcileDriftEvent)
			require.True(t, ok)
			assert.Equal(t, "badchannel", drift.Channel)
			assert.Equal(t, string(reconciler.OutcomeDiff), drift.Outcome)
			drifts.Add(1)
		},
	)
	r := reconciler.New(db, reader, reconciler.Config{EventBus: eb})

	require.NoError(t, r.ReconcileSample(context.Background()))
	assert.Equal(t, int64(2), reader.calls.Load())
	assert.Eventually(t, func() bool {
		return drifts.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReconcilerStartStop(t *testing.T) {
	db := newTestDatabase(t)
	reader := &fakeReader{states: map[string]*ledger.ChannelState{}}
	r := reconciler.New(db, reader, reconciler.Config{
		ReconcileInterval: time.Hour,
	})

	require.NoError(t, r.Start(context.Background()))
	require.Error(t, r.Start(context.Background()))
	r.Stop()
	r.Stop()
}

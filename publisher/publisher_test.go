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

package publisher_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyrdlabs/wyrd/database"
	"github.com/wyrdlabs/wyrd/database/models"
	"github.com/wyrdlabs/wyrd/ledger"
	"github.com/wyrdlabs/wyrd/merkle"
	"github.com/wyrdlabs/wyrd/publisher"
	"github.com/wyrdlabs/wyrd/weighting"
)

type anchoredRoot struct {
	channel string
	epoch   uint64
	root    [32]byte
}

type fakeLedger struct {
	mu       sync.Mutex
	anchored []anchoredRoot
	states   map[string]*ledger.ChannelState
	failWith error
	// confirmLost makes SetRoot land the root in the ring but report
	// failure, like a confirmation lost mid-flight
	confirmLost bool
}

func (f *fakeLedger) SetRoot(
	ctx context.Context,
	channel string,
	epoch uint64,
	root [32]byte,
) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.confirmLost {
		f.recordSlot(channel, epoch, root)
		return solana.Signature{}, errors.New("confirmation timeout")
	}
	if f.failWith != nil {
		return solana.Signature{}, f.failWith
	}
	f.anchored = append(f.anchored, anchoredRoot{
		channel: channel,
		epoch:   epoch,
		root:    root,
	})
	f.recordSlot(channel, epoch, root)
	return solana.Signature{1}, nil
}

func (f *fakeLedger) recordSlot(channel string, epoch uint64, root [32]byte) {
	if f.states == nil {
		f.states = make(map[string]*ledger.ChannelState)
	}
	state, ok := f.states[channel]
	if !ok {
		state = &ledger.ChannelState{}
		f.states[channel] = state
	}
	slot := &state.Slots[ledger.SlotIndex(epoch)]
	slot.Epoch = epoch
	slot.Root = root
	if epoch > state.LatestEpoch {
		state.LatestEpoch = epoch
	}
}

func (f *fakeLedger) GetChannelState(
	ctx context.Context,
	channel string,
) (*ledger.ChannelState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[channel]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return state, nil
}

func (f *fakeLedger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.anchored)
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

func seedPublishableScope(
	t *testing.T,
	db *database.Database,
	epoch uint64,
	channel string,
) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.SealScope(ctx, models.SealedEpoch{
		Epoch: epoch, Channel: channel, Root: make([]byte, 32), SealedAt: 1,
	}, []models.SealedParticipant{
		{Epoch: epoch, Channel: channel, Idx: 0, UserHash: "aa"},
		{Epoch: epoch, Channel: channel, Idx: 1, UserHash: "bb"},
	}))
	require.NoError(t, db.AddSignals(ctx, []models.UserSignal{
		{Epoch: epoch, Channel: channel, UserHash: "aa", SignalType: "presence", Value: 1, Timestamp: 1},
		{Epoch: epoch, Channel: channel, UserHash: "bb", SignalType: "sub", Value: 1, Timestamp: 2},
	}))
	for i, userHash := range []string{"aa", "bb"} {
		require.NoError(t, db.SetUserIdentity(ctx, userHash, userHash))
		require.NoError(
			t,
			db.SetUserWallet(ctx, userHash, [32]byte{byte(i + 1)}),
		)
	}
}

func newTestEngine(t *testing.T, db *database.Database) *weighting.Engine {
	t.Helper()
	engine, err := weighting.New(db, weighting.Config{
		RewardPerWeight: 1,
		TokenDecimals:   6,
		ViewerRatio:     0.9,
	})
	require.NoError(t, err)
	return engine
}

func newTestPublisher(
	t *testing.T,
	db *database.Database,
	ledger publisher.Ledger,
) *publisher.Publisher {
	t.Helper()
	return publisher.New(db, newTestEngine(t, db), ledger, publisher.Config{
		LeafVersion: merkle.LeafV1,
		OddPolicy:   merkle.OddPolicyDuplicate,
	})
}

func TestPublishEpoch(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	seedPublishableScope(t, db, 7, "somechannel")
	ledger := &fakeLedger{}
	p := newTestPublisher(t, db, ledger)

	require.NoError(t, p.PublishEpoch(ctx, 7, "somechannel"))
	require.Equal(t, 1, ledger.count())
	assert.Equal(t, uint64(7), ledger.anchored[0].epoch)

	// Scope is marked published and the cached tree root matches what
	// was anchored
	sealed, err := db.GetSealedEpoch(ctx, 7, "somechannel")
	require.NoError(t, err)
	assert.True(t, sealed.Published)
	cache, err := db.GetTreeCache(ctx, 7, "somechannel")
	require.NoError(t, err)
	assert.Equal(t, ledger.anchored[0].root[:], cache.Root)
}

func TestPublishExportsProofBundle(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	seedPublishableScope(t, db, 7, "somechannel")
	p := newTestPublisher(t, db, &fakeLedger{})

	require.NoError(t, p.PublishEpoch(ctx, 7, "somechannel"))

	data, err := db.GetProofBundle(7, "somechannel")
	require.NoError(t, err)
	var bundle merkle.ProofBundle
	require.NoError(t, json.Unmarshal(data, &bundle))
	assert.Equal(t, "somechannel", bundle.Channel)
	assert.Equal(t, uint64(7), bundle.Epoch)
	require.Len(t, bundle.Claims, 2)
	require.Len(t, bundle.Nodes, 2)

	// Every exported proof verifies against the anchored root
	root, err := merkle.HashFromHex(bundle.Root)
	require.NoError(t, err)
	subject := merkle.Subject("", "somechannel")
	for i, claim := range bundle.Claims {
		pub, err := solana.PublicKeyFromBase58(claim.Claimer)
		require.NoError(t, err)
		leaf := merkle.LeafHashV1(subject, bundle.Epoch, merkle.Claim{
			Claimer: [32]byte(pub),
			Index:   claim.Index,
			Amount:  claim.Amount,
			ID:      claim.ID,
		})
		proof := make([]merkle.Hash, 0, len(bundle.Nodes[i]))
		for _, node := range bundle.Nodes[i] {
			h, err := merkle.HashFromHex(node)
			require.NoError(t, err)
			proof = append(proof, h)
		}
		assert.True(
			t,
			merkle.Verify(leaf, proof, root),
			"claim %d proof must verify",
			i,
		)
	}
}

func TestPublishLedgerFailureKeepsBacklog(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	seedPublishableScope(t, db, 7, "somechannel")
	ledger := &fakeLedger{failWith: errors.New("rpc down")}
	p := newTestPublisher(t, db, ledger)

	err := p.PublishEpoch(ctx, 7, "somechannel")
	require.Error(t, err)

	sealed, err := db.GetSealedEpoch(ctx, 7, "somechannel")
	require.NoError(t, err)
	assert.False(t, sealed.Published)

	// Retry after recovery anchors the identical root from the cache
	ledger.failWith = nil
	require.NoError(t, p.PublishEpoch(ctx, 7, "somechannel"))
	cache, err := db.GetTreeCache(ctx, 7, "somechannel")
	require.NoError(t, err)
	assert.Equal(t, cache.Root, ledger.anchored[0].root[:])
}

func TestPublishDueSkipsGhosts(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	seedPublishableScope(t, db, 7, "somechannel")
	// Ghost: sealed participant with no wallet
	require.NoError(t, db.SealScope(ctx, models.SealedEpoch{
		Epoch: 8, Channel: "somechannel", Root: make([]byte, 32), SealedAt: 2,
	}, []models.SealedParticipant{
		{Epoch: 8, Channel: "somechannel", Idx: 0, UserHash: "ghost"},
	}))
	ledger := &fakeLedger{}
	p := newTestPublisher(t, db, ledger)

	require.NoError(t, p.PublishDue(ctx))
	require.Equal(t, 1, ledger.count())
	assert.Equal(t, uint64(7), ledger.anchored[0].epoch)

	// The ghost stays sealed and unpublished
	sealed, err := db.GetSealedEpoch(ctx, 8, "somechannel")
	require.NoError(t, err)
	assert.False(t, sealed.Published)
}

func TestPublishSuppressedUserExcluded(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	seedPublishableScope(t, db, 7, "somechannel")
	require.NoError(t, db.AddSuppression(ctx, "bb", "bb", "opt-out"))
	p := newTestPublisher(t, db, &fakeLedger{})

	require.NoError(t, p.PublishEpoch(ctx, 7, "somechannel"))

	data, err := db.GetProofBundle(7, "somechannel")
	require.NoError(t, err)
	var bundle merkle.ProofBundle
	require.NoError(t, json.Unmarshal(data, &bundle))
	require.Len(t, bundle.Claims, 1)
	// The surviving claim keeps its sealed index
	assert.Equal(t, uint32(0), bundle.Claims[0].Index)
	assert.Equal(t, "aa", bundle.Claims[0].ID)
}

func TestPublishRecoversInterruptedAnchor(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	seedPublishableScope(t, db, 7, "somechannel")
	// The root lands in the ring but the call reports failure, like a
	// process that died after the transaction confirmed but before the
	// local mark
	ledger := &fakeLedger{confirmLost: true}
	p := newTestPublisher(t, db, ledger)

	require.NoError(t, p.PublishEpoch(ctx, 7, "somechannel"))

	// Recovery came from reading the slot back, not a second anchor
	assert.Equal(t, 0, ledger.count())
	sealed, err := db.GetSealedEpoch(ctx, 7, "somechannel")
	require.NoError(t, err)
	assert.True(t, sealed.Published)
	cache, err := db.GetTreeCache(ctx, 7, "somechannel")
	require.NoError(t, err)
	assert.Equal(t, cache.Root, ledger.states["somechannel"].Slots[7].Root[:])
}

func TestPublishDueScopedToTokenGroup(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	seedPublishableScope(t, db, 7, "somechannel")
	// Same epoch sealed under a different token group, reusing the
	// already linked participant
	require.NoError(t, db.SealScope(ctx, models.SealedEpoch{
		Epoch: 7, Channel: "otherchannel", TokenGroup: "season2",
		Root: make([]byte, 32), SealedAt: 1,
	}, []models.SealedParticipant{
		{Epoch: 7, Channel: "otherchannel", Idx: 0, UserHash: "aa"},
	}))
	require.NoError(t, db.AddSignals(ctx, []models.UserSignal{
		{Epoch: 7, Channel: "otherchannel", UserHash: "aa", SignalType: "presence", Value: 1, Timestamp: 1},
	}))
	ledger := &fakeLedger{}
	p := publisher.New(db, newTestEngine(t, db), ledger, publisher.Config{
		TokenGroup:  "season2",
		LeafVersion: merkle.LeafV1,
		OddPolicy:   merkle.OddPolicyDuplicate,
	})

	require.NoError(t, p.PublishDue(ctx))
	require.Equal(t, 1, ledger.count())
	assert.Equal(t, "otherchannel", ledger.anchored[0].channel)

	// The other group's scope is untouched
	sealed, err := db.GetSealedEpoch(ctx, 7, "somechannel")
	require.NoError(t, err)
	assert.False(t, sealed.Published)
}

func TestPublishCachedTreeKeepsLeafVersion(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	seedPublishableScope(t, db, 7, "somechannel")
	// First attempt caches the tree under leaf v1, then fails at the
	// ledger
	failing := &fakeLedger{failWith: errors.New("rpc down")}
	require.Error(t, newTestPublisher(t, db, failing).PublishEpoch(
		ctx, 7, "somechannel",
	))

	// A publisher reconfigured to v0 must not relabel the cached tree
	ledger := &fakeLedger{}
	p := publisher.New(db, newTestEngine(t, db), ledger, publisher.Config{
		LeafVersion: merkle.LeafV0,
		OddPolicy:   merkle.OddPolicyDuplicate,
	})
	require.NoError(t, p.PublishEpoch(ctx, 7, "somechannel"))

	data, err := db.GetProofBundle(7, "somechannel")
	require.NoError(t, err)
	var bundle merkle.ProofBundle
	require.NoError(t, json.Unmarshal(data, &bundle))
	assert.Equal(t, uint8(merkle.LeafV1), bundle.LeafVersion)
	cache, err := db.GetTreeCache(ctx, 7, "somechannel")
	require.NoError(t, err)
	assert.Equal(t, cache.Root, ledger.anchored[0].root[:])
}

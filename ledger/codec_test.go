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

package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeTestChannelState(state *ChannelState) []byte {
	data := make([]byte, 0, channelStateLen)
	data = append(data, make([]byte, accountDiscriminatorLen)...)
	data = append(data, state.Version, state.Bump)
	data = append(data, state.Mint[:]...)
	data = append(data, state.Streamer[:]...)
	data = binary.LittleEndian.AppendUint64(data, state.LatestEpoch)
	for i := range RingSlots {
		slot := &state.Slots[i]
		data = binary.LittleEndian.AppendUint64(data, slot.Epoch)
		data = append(data, slot.Root[:]...)
		data = binary.LittleEndian.AppendUint16(data, slot.ClaimCount)
		data = append(data, slot.ClaimedBitmap[:]...)
	}
	return data
}

func TestDecodeChannelState(t *testing.T) {
	orig := &ChannelState{
		Version:     1,
		Bump:        254,
		LatestEpoch: 42,
	}
	orig.Mint[0] = 0xaa
	orig.Streamer[31] = 0xbb
	slot := &orig.Slots[SlotIndex(42)]
	slot.Epoch = 42
	slot.Root[0] = 0xcc
	slot.ClaimCount = 7
	slot.ClaimedBitmap[0] = 0b00000101

	decoded, err := DecodeChannelState(encodeTestChannelState(orig))
	require.NoError(t, err)
	assert.Equal(t, orig, decoded)
}

func TestDecodeChannelStateTooShort(t *testing.T) {
	_, err := DecodeChannelState(make([]byte, 100))
	require.Error(t, err)
}

func TestSlotIndexWraps(t *testing.T) {
	assert.Equal(t, 0, SlotIndex(0))
	assert.Equal(t, 3, SlotIndex(3))
	assert.Equal(t, 3, SlotIndex(13))
	assert.Equal(t, 9, SlotIndex(RingSlots-1))
	assert.Equal(t, 0, SlotIndex(RingSlots))
}

func TestSlotClaimed(t *testing.T) {
	var slot ChannelSlot
	slot.ClaimedBitmap[0] = 0b00000010
	slot.ClaimedBitmap[1] = 0b00000001
	assert.False(t, slot.Claimed(0))
	assert.True(t, slot.Claimed(1))
	assert.True(t, slot.Claimed(8))
	assert.False(t, slot.Claimed(9))
	// Out-of-range indexes can never be claimed
	assert.False(t, slot.Claimed(MaxClaims))
}

func TestSetRootInstructionData(t *testing.T) {
	var root [32]byte
	root[0] = 0xff
	data := setRootInstructionData("somechannel", 99, root)

	wantDisc := sha256.Sum256([]byte("global:set_channel_merkle_root"))
	assert.Equal(t, wantDisc[:8], data[:8])

	nameLen := binary.LittleEndian.Uint32(data[8:12])
	require.Equal(t, uint32(len("somechannel")), nameLen)
	assert.Equal(t, "somechannel", string(data[12:12+nameLen]))

	offset := 12 + int(nameLen)
	assert.Equal(t, uint64(99), binary.LittleEndian.Uint64(data[offset:offset+8]))
	assert.Equal(t, root[:], data[offset+8:offset+40])
	assert.Len(t, data, offset+40)
}

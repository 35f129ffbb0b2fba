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
	"encoding/binary"
	"fmt"
)

const (
	// RingSlots is the number of epoch slots in a channel ring buffer.
	// Slot index for an epoch is epoch % RingSlots, so a slot holds an
	// epoch's root until RingSlots newer epochs have been published.
	RingSlots = 10

	// MaxClaims caps the claim count per epoch slot; the claimed bitmap
	// is sized from it
	MaxClaims = 1024

	// BitmapBytes is the size of the per-slot claimed bitmap
	BitmapBytes = (MaxClaims + 7) / 8

	accountDiscriminatorLen = 8

	channelSlotLen = 8 + 32 + 2 + BitmapBytes

	channelStateLen = accountDiscriminatorLen +
		1 + // version
		1 + // bump
		32 + // mint
		32 + // streamer
		8 + // latest epoch
		RingSlots*channelSlotLen
)

// ChannelSlot is one entry of the on-chain ring buffer
type ChannelSlot struct {
	Epoch         uint64
	Root          [32]byte
	ClaimCount    uint16
	ClaimedBitmap [BitmapBytes]byte
}

// Claimed reports whether the claim at the given index has been redeemed
func (s *ChannelSlot) Claimed(index uint32) bool {
	if index >= MaxClaims {
		return false
	}
	return s.ClaimedBitmap[index/8]&(1<<(index%8)) != 0
}

// ChannelState is the decoded on-chain channel account
type ChannelState struct {
	Version     uint8
	Bump        uint8
	Mint        [32]byte
	Streamer    [32]byte
	LatestEpoch uint64
	Slots       [RingSlots]ChannelSlot
}

// SlotIndex returns the ring position for an epoch
func SlotIndex(epoch uint64) int {
	return int(epoch % RingSlots)
}

// Slot returns the ring entry an epoch maps to. The entry may hold a
// different epoch if the ring has wrapped past it.
func (c *ChannelState) Slot(epoch uint64) *ChannelSlot {
	return &c.Slots[SlotIndex(epoch)]
}

// DecodeChannelState parses raw account data into a ChannelState
func DecodeChannelState(data []byte) (*ChannelState, error) {
	if len(data) < channelStateLen {
		return nil, fmt.Errorf(
			"channel state account too short: %d < %d",
			len(data),
			channelStateLen,
		)
	}
	var state ChannelState
	offset := accountDiscriminatorLen
	state.Version = data[offset]
	offset++
	state.Bump = data[offset]
	offset++
	copy(state.Mint[:], data[offset:offset+32])
	offset += 32
	copy(state.Streamer[:], data[offset:offset+32])
	offset += 32
	state.LatestEpoch = binary.LittleEndian.Uint64(data[offset : offset+8])
	offset += 8
	for i := range RingSlots {
		slot := &state.Slots[i]
		slot.Epoch = binary.LittleEndian.Uint64(data[offset : offset+8])
		offset += 8
		copy(slot.Root[:], data[offset:offset+32])
		offset += 32
		slot.ClaimCount = binary.LittleEndian.Uint16(data[offset : offset+2])
		offset += 2
		copy(slot.ClaimedBitmap[:], data[offset:offset+BitmapBytes])
		offset += BitmapBytes
	}
	return &state, nil
}

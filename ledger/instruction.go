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

	"github.com/gagliardetto/solana-go"
)

// anchorDiscriminator returns the 8-byte instruction discriminator for
// a global instruction name
func anchorDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("global:" + name))
	return sum[:8]
}

// setRootInstructionData encodes the set_channel_merkle_root arguments:
// channel name (length-prefixed), epoch, and the claim-tree root
func setRootInstructionData(
	channel string,
	epoch uint64,
	root [32]byte,
) []byte {
	data := anchorDiscriminator("set_channel_merkle_root")
	data = binary.LittleEndian.AppendUint32(data, uint32(len(channel)))
	data = append(data, []byte(channel)...)
	data = binary.LittleEndian.AppendUint64(data, epoch)
	data = append(data, root[:]...)
	return data
}

// buildSetRootInstruction assembles the publish instruction. The
// program creates the channel state account on first write, so the
// system program rides along in the account list.
func buildSetRootInstruction(
	programID solana.PublicKey,
	payer solana.PublicKey,
	protocolState solana.PublicKey,
	channelState solana.PublicKey,
	channel string,
	epoch uint64,
	root [32]byte,
) solana.Instruction {
	return solana.NewInstruction(
		programID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(payer, true, true),
			solana.NewAccountMeta(protocolState, true, false),
			solana.NewAccountMeta(channelState, true, false),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
		},
		setRootInstructionData(channel, epoch, root),
	)
}

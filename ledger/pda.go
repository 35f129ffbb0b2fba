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
	"github.com/gagliardetto/solana-go"
	"github.com/wyrdlabs/wyrd/merkle"
)

const (
	protocolSeed     = "protocol"
	channelStateSeed = "channel_state"
)

// ProtocolStateAddress derives the protocol state PDA for a mint
func ProtocolStateAddress(
	programID solana.PublicKey,
	mint solana.PublicKey,
) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{
			[]byte(protocolSeed),
			mint.Bytes(),
		},
		programID,
	)
	return addr, err
}

// ChannelStateAddress derives the channel ring-buffer PDA. The channel
// name enters the derivation through its subject hash, so any party
// holding just the name can locate the account.
func ChannelStateAddress(
	programID solana.PublicKey,
	mint solana.PublicKey,
	namespace string,
	channel string,
) (solana.PublicKey, error) {
	subject := merkle.Subject(namespace, channel)
	addr, _, err := solana.FindProgramAddress(
		[][]byte{
			[]byte(channelStateSeed),
			mint.Bytes(),
			subject.Bytes(),
		},
		programID,
	)
	return addr, err
}

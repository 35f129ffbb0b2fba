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

package event

const (
	// EpochSealedEventType is emitted after a scope's participant
	// snapshot has been frozen
	EpochSealedEventType EventType = "epoch.sealed"

	// RootPublishedEventType is emitted after a claim-tree root has
	// been anchored on the ledger
	RootPublishedEventType EventType = "root.published"

	// ReconcileDriftEventType is emitted when reconciliation finds a
	// ledger slot that disagrees with local state
	ReconcileDriftEventType EventType = "reconcile.drift"
)

// EpochSealedEvent carries the identity of a freshly sealed scope
type EpochSealedEvent struct {
	Epoch            uint64
	Channel          string
	Root             [32]byte
	ParticipantCount int
}

// RootPublishedEvent carries the details of an anchored claim-tree root
type RootPublishedEvent struct {
	Epoch      uint64
	Channel    string
	Root       [32]byte
	ClaimCount uint16
	Signature  string
}

// ReconcileDriftEvent describes a mismatch between local state and the
// ledger ring buffer
type ReconcileDriftEvent struct {
	Epoch   uint64
	Channel string
	Outcome string
	Local   [32]byte
	Ledger  [32]byte
}

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

package models

// SealedEpoch is the frozen participant snapshot for one
// (epoch, channel, token_group, category) scope. Root here is the
// identity-commitment root over the ordered user-hash list. It is NOT
// the claim-tree root that gets published to the ledger; that value
// lives in L2TreeCache.
type SealedEpoch struct {
	ID          uint   `gorm:"primarykey"`
	Epoch       uint64 `gorm:"uniqueIndex:idx_sealed_scope,priority:1;not null"`
	Channel     string `gorm:"type:varchar(64);uniqueIndex:idx_sealed_scope,priority:2;not null"`
	TokenGroup  string `gorm:"type:varchar(32);uniqueIndex:idx_sealed_scope,priority:3"`
	Category    string `gorm:"type:varchar(64);uniqueIndex:idx_sealed_scope,priority:4"`
	Root        []byte `gorm:"size:32;not null"`
	SealedAt    int64  `gorm:"not null"` // unix seconds
	Published   bool   `gorm:"not null;default:false;index"`
	PublishedAt *int64 // unix seconds, nil until published
}

// TableName returns the table name
func (SealedEpoch) TableName() string {
	return "sealed_epochs"
}

// SealedParticipant is one entry in a sealed snapshot. Idx is assigned
// at seal time in (first_seen ASC, user_hash ASC) order and never
// reassigned; every future claim index for this user in this epoch
// depends on it.
type SealedParticipant struct {
	ID       uint   `gorm:"primarykey"`
	Epoch    uint64 `gorm:"uniqueIndex:idx_sealed_participant,priority:1;not null"`
	Channel  string `gorm:"type:varchar(64);uniqueIndex:idx_sealed_participant,priority:2;not null"`
	Idx      uint32 `gorm:"uniqueIndex:idx_sealed_participant,priority:3;not null"`
	UserHash string `gorm:"type:varchar(64);index;not null"`
	Username string `gorm:"type:varchar(64)"`
}

// TableName returns the table name
func (SealedParticipant) TableName() string {
	return "sealed_participants"
}

// L2TreeCache records the claim-tree commitment for a sealed epoch.
// The serialized tree levels live in the blob store under the same
// (channel, epoch) key; this row carries the root and the parameters
// needed to verify proofs against it.
type L2TreeCache struct {
	ID               uint   `gorm:"primarykey"`
	Epoch            uint64 `gorm:"uniqueIndex:idx_tree_cache,priority:1;not null"`
	Channel          string `gorm:"type:varchar(64);uniqueIndex:idx_tree_cache,priority:2;not null"`
	Root             []byte `gorm:"size:32;not null"`
	LeafVersion      uint8  `gorm:"not null"`
	OddPolicy        string `gorm:"type:varchar(16);not null"`
	ParticipantCount uint32 `gorm:"not null"`
	BuiltAt          int64  `gorm:"not null"` // unix seconds
}

// TableName returns the table name
func (L2TreeCache) TableName() string {
	return "l2_tree_cache"
}

// Suppression excludes a user from publish eligibility. Added by the
// opt-out flow; never auto-removed.
type Suppression struct {
	ID          uint   `gorm:"primarykey"`
	UserHash    string `gorm:"type:varchar(64);uniqueIndex;not null"`
	Username    string `gorm:"type:varchar(64)"`
	RequestedAt int64  `gorm:"not null"` // unix seconds
	Reason      string `gorm:"type:varchar(128)"`
}

// TableName returns the table name
func (Suppression) TableName() string {
	return "suppression_list"
}

// ChannelPayout is the channel-level payout split snapshot produced by
// the weighting engine. Derived and replaceable; it has no bearing on
// claim-tree correctness.
type ChannelPayout struct {
	ID               uint    `gorm:"primarykey"`
	Epoch            uint64  `gorm:"uniqueIndex:idx_channel_payout,priority:1;not null"`
	Channel          string  `gorm:"type:varchar(64);uniqueIndex:idx_channel_payout,priority:2;not null"`
	ParticipantCount uint32  `gorm:"not null"`
	TotalWeight      float64 `gorm:"not null"`
	ViewerAmount     uint64  `gorm:"not null"`
	StreamerAmount   uint64  `gorm:"not null"`
	ViewerRatio      float64 `gorm:"not null"`
	StreamerRatio    float64 `gorm:"not null"`
	UpdatedAt        int64   `gorm:"not null"` // unix seconds
}

// TableName returns the table name
func (ChannelPayout) TableName() string {
	return "channel_payouts"
}

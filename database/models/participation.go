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

// ChannelParticipation records that a user was present on a channel
// during an epoch. Rows are append-only: re-delivery of the same event
// is ignored on the (epoch, channel, user_hash) unique index, and
// nothing ever updates a row in place.
type ChannelParticipation struct {
	ID         uint   `gorm:"primarykey"`
	Epoch      uint64 `gorm:"uniqueIndex:idx_participation_scope,priority:1;not null"`
	Channel    string `gorm:"type:varchar(64);uniqueIndex:idx_participation_scope,priority:2;not null"`
	UserHash   string `gorm:"type:varchar(64);uniqueIndex:idx_participation_scope,priority:3;not null"`
	FirstSeen  int64  `gorm:"not null"` // unix seconds
	TokenGroup string `gorm:"type:varchar(32);index"`
	Category   string `gorm:"type:varchar(64)"`
}

// TableName returns the table name
func (ChannelParticipation) TableName() string {
	return "channel_participation"
}

// UserSignal is a single weighted engagement signal (presence, sub,
// resub, gift, bits, raid). Append-only; aggregated, never mutated.
type UserSignal struct {
	ID         uint    `gorm:"primarykey"`
	Epoch      uint64  `gorm:"uniqueIndex:idx_signal_scope,priority:1;not null"`
	Channel    string  `gorm:"type:varchar(64);uniqueIndex:idx_signal_scope,priority:2;not null"`
	UserHash   string  `gorm:"type:varchar(64);uniqueIndex:idx_signal_scope,priority:3;not null"`
	SignalType string  `gorm:"type:varchar(16);uniqueIndex:idx_signal_scope,priority:4;not null"`
	Value      float64 `gorm:"not null"`
	Timestamp  int64   `gorm:"uniqueIndex:idx_signal_scope,priority:5;not null"` // unix seconds
}

// TableName returns the table name
func (UserSignal) TableName() string {
	return "user_signals"
}

// UserIdentity maps a hashed user to its display name. Written by the
// ingestion path whenever the chat listener resolves a username. A
// sealed participant without an identity row is unpublishable.
type UserIdentity struct {
	ID        uint   `gorm:"primarykey"`
	UserHash  string `gorm:"type:varchar(64);uniqueIndex;not null"`
	Username  string `gorm:"type:varchar(64);not null"`
	UpdatedAt int64  `gorm:"not null"` // unix seconds
}

// TableName returns the table name
func (UserIdentity) TableName() string {
	return "user_identities"
}

// UserWallet links a hashed user to the wallet public key that may
// claim on its behalf. Users without a linked wallet are sealed (they
// hold their claim index) but produce no claim leaf until linked.
type UserWallet struct {
	ID       uint   `gorm:"primarykey"`
	UserHash string `gorm:"type:varchar(64);uniqueIndex;not null"`
	Wallet   []byte `gorm:"size:32;not null"`
	LinkedAt int64  `gorm:"not null"` // unix seconds
}

// TableName returns the table name
func (UserWallet) TableName() string {
	return "user_wallets"
}

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

package database

import (
	"context"
	"time"

	"github.com/wyrdlabs/wyrd/database/models"
	"gorm.io/gorm/clause"
)

const insertChunkSize = 1000

// AddParticipation inserts participation rows on the ingestion pool.
// Duplicate (epoch, channel, user_hash) rows are silently dropped, so
// re-delivery of the same event is a no-op rather than an error.
func (d *Database) AddParticipation(
	ctx context.Context,
	rows []models.ChannelParticipation,
) error {
	if len(rows) == 0 {
		return nil
	}
	db := d.Metadata().IngestDB().WithContext(ctx)
	for chunk := range chunks(rows, insertChunkSize) {
		err := withTransientRetry(ctx, func() error {
			return db.
				Clauses(clause.OnConflict{DoNothing: true}).
				Create(chunk).
				Error
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// AddSignals inserts engagement signal rows on the ingestion pool.
// Duplicates on the signal scope index are silently dropped.
func (d *Database) AddSignals(
	ctx context.Context,
	rows []models.UserSignal,
) error {
	if len(rows) == 0 {
		return nil
	}
	db := d.Metadata().IngestDB().WithContext(ctx)
	for chunk := range chunks(rows, insertChunkSize) {
		err := withTransientRetry(ctx, func() error {
			return db.
				Clauses(clause.OnConflict{DoNothing: true}).
				Create(chunk).
				Error
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// SetUserIdentity records or refreshes the display name for a hashed user
func (d *Database) SetUserIdentity(
	ctx context.Context,
	userHash string,
	username string,
) error {
	row := models.UserIdentity{
		UserHash:  userHash,
		Username:  username,
		UpdatedAt: time.Now().Unix(),
	}
	return withTransientRetry(ctx, func() error {
		return d.Metadata().IngestDB().WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_hash"}},
				DoUpdates: clause.AssignmentColumns([]string{"username", "updated_at"}),
			}).
			Create(&row).
			Error
	})
}

// GetUserIdentity returns the display name for a hashed user, or empty
// if none has been resolved
func (d *Database) GetUserIdentity(
	ctx context.Context,
	userHash string,
) (string, error) {
	var row models.UserIdentity
	result := d.Metadata().DB().WithContext(ctx).
		Where("user_hash = ?", userHash).
		Limit(1).
		Find(&row)
	if result.Error != nil {
		return "", result.Error
	}
	return row.Username, nil
}

// SetUserWallet links a wallet public key to a hashed user. Re-linking
// replaces the previous wallet.
func (d *Database) SetUserWallet(
	ctx context.Context,
	userHash string,
	wallet [32]byte,
) error {
	row := models.UserWallet{
		UserHash: userHash,
		Wallet:   wallet[:],
		LinkedAt: time.Now().Unix(),
	}
	return withTransientRetry(ctx, func() error {
		return d.Metadata().DB().WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_hash"}},
				DoUpdates: clause.AssignmentColumns([]string{"wallet", "linked_at"}),
			}).
			Create(&row).
			Error
	})
}

// GetUserWallets returns the wallet mapping for the given user hashes
func (d *Database) GetUserWallets(
	ctx context.Context,
	userHashes []string,
) (map[string][32]byte, error) {
	ret := make(map[string][32]byte)
	if len(userHashes) == 0 {
		return ret, nil
	}
	var rows []models.UserWallet
	result := d.Metadata().DB().WithContext(ctx).
		Where("user_hash IN ?", userHashes).
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	for _, row := range rows {
		if len(row.Wallet) != 32 {
			continue
		}
		var tmp [32]byte
		copy(tmp[:], row.Wallet)
		ret[row.UserHash] = tmp
	}
	return ret, nil
}

// ParticipantsForScope returns the participation rows for a seal scope
// in deterministic order (first_seen ASC, user_hash ASC)
func (d *Database) ParticipantsForScope(
	ctx context.Context,
	epoch uint64,
	channel string,
) ([]models.ChannelParticipation, error) {
	var rows []models.ChannelParticipation
	result := d.Metadata().DB().WithContext(ctx).
		Where("epoch = ? AND channel = ?", epoch, channel).
		Order("first_seen ASC, user_hash ASC").
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	return rows, nil
}

// SignalsForScope returns all engagement signals for a scope
func (d *Database) SignalsForScope(
	ctx context.Context,
	epoch uint64,
	channel string,
) ([]models.UserSignal, error) {
	var rows []models.UserSignal
	result := d.Metadata().DB().WithContext(ctx).
		Where("epoch = ? AND channel = ?", epoch, channel).
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	return rows, nil
}

// ActiveScopes returns the distinct (epoch, channel) pairs with
// participation recorded at or before the given epoch
func (d *Database) ActiveScopes(
	ctx context.Context,
	maxEpoch uint64,
) ([]models.ChannelParticipation, error) {
	var rows []models.ChannelParticipation
	result := d.Metadata().DB().WithContext(ctx).
		Model(&models.ChannelParticipation{}).
		Distinct("epoch", "channel").
		Where("epoch <= ?", maxEpoch).
		Order("epoch ASC, channel ASC").
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	return rows, nil
}

func chunks[T any](items []T, size int) func(func([]T) bool) {
	return func(yield func([]T) bool) {
		for start := 0; start < len(items); start += size {
			end := min(start+size, len(items))
			if !yield(items[start:end]) {
				return
			}
		}
	}
}

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
	"errors"
	"time"

	"github.com/wyrdlabs/wyrd/database/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrAlreadySealed is returned when a seal scope has already been
// written by a concurrent sealer
var ErrAlreadySealed = errors.New("scope already sealed")

// ErrNotSealed is returned when an operation requires a sealed epoch
// that does not exist
var ErrNotSealed = errors.New("scope not sealed")

// SealScope writes the frozen snapshot for one scope inside a single
// metadata transaction. The ON CONFLICT DO NOTHING insert of the
// sealed_epochs row is the arbiter between concurrent sealers: if zero
// rows are affected some other sealer won, the transaction is rolled
// back, and ErrAlreadySealed is returned with nothing written.
func (d *Database) SealScope(
	ctx context.Context,
	sealed models.SealedEpoch,
	participants []models.SealedParticipant,
) error {
	txn := NewMetadataOnlyTxn(d, true)
	err := txn.Do(func(t *Txn) error {
		db := t.Metadata().WithContext(ctx)
		result := db.
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&sealed)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrAlreadySealed
		}
		for chunk := range chunks(participants, insertChunkSize) {
			if err := db.Create(chunk).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

// GetSealedEpoch returns the sealed snapshot row for a scope
func (d *Database) GetSealedEpoch(
	ctx context.Context,
	epoch uint64,
	channel string,
) (*models.SealedEpoch, error) {
	var row models.SealedEpoch
	result := d.Metadata().DB().WithContext(ctx).
		Where("epoch = ? AND channel = ?", epoch, channel).
		First(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotSealed
		}
		return nil, result.Error
	}
	return &row, nil
}

// SealedParticipants returns the frozen participant list for a scope in
// claim-index order
func (d *Database) SealedParticipants(
	ctx context.Context,
	epoch uint64,
	channel string,
) ([]models.SealedParticipant, error) {
	var rows []models.SealedParticipant
	result := d.Metadata().DB().WithContext(ctx).
		Where("epoch = ? AND channel = ?", epoch, channel).
		Order("idx ASC").
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	return rows, nil
}

// UnsealedScopes returns (epoch, channel) pairs with recorded
// participation but no sealed snapshot, up to and including maxEpoch
func (d *Database) UnsealedScopes(
	ctx context.Context,
	maxEpoch uint64,
) ([]models.ChannelParticipation, error) {
	var rows []models.ChannelParticipation
	result := d.Metadata().DB().WithContext(ctx).
		Model(&models.ChannelParticipation{}).
		Distinct("epoch", "channel").
		Where("epoch <= ?", maxEpoch).
		Where(`NOT EXISTS (
			SELECT 1 FROM sealed_epochs se
			WHERE se.epoch = channel_participation.epoch
			AND se.channel = channel_participation.channel
		)`).
		Order("epoch ASC, channel ASC").
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	return rows, nil
}

// PublishCandidates returns unpublished sealed epochs in one token
// group that have at least one eligible participant (identity resolved,
// wallet linked, not suppressed), oldest first. Scopes sealed under
// other token groups are invisible here: each publisher drains only its
// own group's backlog. Sealed epochs with no eligible participant are
// ghosts: they stay sealed but never enter the backlog, because a claim
// tree over zero leaves has no root to publish.
func (d *Database) PublishCandidates(
	ctx context.Context,
	tokenGroup string,
	limit int,
) ([]models.SealedEpoch, error) {
	var rows []models.SealedEpoch
	result := d.Metadata().DB().WithContext(ctx).
		Where("published = ?", false).
		Where("token_group = ?", tokenGroup).
		Where(`EXISTS (
			SELECT 1 FROM sealed_participants sp
			JOIN user_wallets uw ON uw.user_hash = sp.user_hash
			JOIN user_identities ui ON ui.user_hash = sp.user_hash
			WHERE sp.epoch = sealed_epochs.epoch
			AND sp.channel = sealed_epochs.channel
			AND NOT EXISTS (
				SELECT 1 FROM suppression_list sl
				WHERE sl.user_hash = sp.user_hash
			)
		)`).
		Order("epoch ASC, channel ASC").
		Limit(limit).
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	return rows, nil
}

// EligibleParticipants returns the sealed participants for a scope that
// can appear in a claim tree: identity resolved, wallet linked, and not
// suppressed. Claim-index order is preserved.
func (d *Database) EligibleParticipants(
	ctx context.Context,
	epoch uint64,
	channel string,
) ([]models.SealedParticipant, error) {
	var rows []models.SealedParticipant
	result := d.Metadata().DB().WithContext(ctx).
		Where("epoch = ? AND channel = ?", epoch, channel).
		Where(`EXISTS (
			SELECT 1 FROM user_wallets uw
			WHERE uw.user_hash = sealed_participants.user_hash
		)`).
		Where(`EXISTS (
			SELECT 1 FROM user_identities ui
			WHERE ui.user_hash = sealed_participants.user_hash
		)`).
		Where(`NOT EXISTS (
			SELECT 1 FROM suppression_list sl
			WHERE sl.user_hash = sealed_participants.user_hash
		)`).
		Order("idx ASC").
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	return rows, nil
}

// MarkPublished flags a sealed epoch as published. Returns ErrNotSealed
// if the scope has no sealed row.
func (d *Database) MarkPublished(
	ctx context.Context,
	epoch uint64,
	channel string,
) error {
	now := time.Now().Unix()
	result := d.Metadata().DB().WithContext(ctx).
		Model(&models.SealedEpoch{}).
		Where("epoch = ? AND channel = ?", epoch, channel).
		Updates(map[string]any{
			"published":    true,
			"published_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotSealed
	}
	return nil
}

// BacklogDepth returns the number of unpublished sealed epochs in one
// token group, including ghosts
func (d *Database) BacklogDepth(
	ctx context.Context,
	tokenGroup string,
) (int64, error) {
	var count int64
	result := d.Metadata().DB().WithContext(ctx).
		Model(&models.SealedEpoch{}).
		Where("published = ?", false).
		Where("token_group = ?", tokenGroup).
		Count(&count)
	if result.Error != nil {
		return 0, result.Error
	}
	return count, nil
}

// RecentlyPublished returns the most recently published sealed epochs,
// newest first, for reconciliation sampling
func (d *Database) RecentlyPublished(
	ctx context.Context,
	limit int,
) ([]models.SealedEpoch, error) {
	var rows []models.SealedEpoch
	result := d.Metadata().DB().WithContext(ctx).
		Where("published = ?", true).
		Order("published_at DESC").
		Limit(limit).
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	return rows, nil
}

// SealedEpochsForChannel returns the sealed history for one channel,
// newest first, for the browse read path
func (d *Database) SealedEpochsForChannel(
	ctx context.Context,
	channel string,
	limit int,
) ([]models.SealedEpoch, error) {
	var rows []models.SealedEpoch
	result := d.Metadata().DB().WithContext(ctx).
		Where("channel = ?", channel).
		Order("epoch DESC").
		Limit(limit).
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	return rows, nil
}

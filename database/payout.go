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

// ErrNoPayout is returned when no payout snapshot exists for a scope
var ErrNoPayout = errors.New("no payout snapshot")

// SetChannelPayout upserts the payout split snapshot for a scope. The
// snapshot is derived data and safe to recompute, so last write wins.
func (d *Database) SetChannelPayout(
	ctx context.Context,
	row models.ChannelPayout,
) error {
	row.UpdatedAt = time.Now().Unix()
	return d.Metadata().DB().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "epoch"},
				{Name: "channel"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"participant_count",
				"total_weight",
				"viewer_amount",
				"streamer_amount",
				"viewer_ratio",
				"streamer_ratio",
				"updated_at",
			}),
		}).
		Create(&row).
		Error
}

// GetChannelPayout returns the payout snapshot for a scope
func (d *Database) GetChannelPayout(
	ctx context.Context,
	epoch uint64,
	channel string,
) (*models.ChannelPayout, error) {
	var row models.ChannelPayout
	result := d.Metadata().DB().WithContext(ctx).
		Where("epoch = ? AND channel = ?", epoch, channel).
		First(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNoPayout
		}
		return nil, result.Error
	}
	return &row, nil
}

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

	"github.com/wyrdlabs/wyrd/database/models"
)

// PurgeRawBefore deletes raw participation and signal rows for epochs
// older than the cutoff. Sealed snapshots, tree caches, and payout
// rows are kept forever; only the raw input that produced them ages
// out. Published roots remain verifiable from the sealed data alone.
func (d *Database) PurgeRawBefore(
	ctx context.Context,
	cutoffEpoch uint64,
) (int64, error) {
	var purged int64
	db := d.Metadata().DB().WithContext(ctx)
	// Only purge scopes that have been sealed; raw rows for unsealed
	// scopes are still pending input, however old they are
	result := db.
		Where("epoch < ?", cutoffEpoch).
		Where(`EXISTS (
			SELECT 1 FROM sealed_epochs se
			WHERE se.epoch = channel_participation.epoch
			AND se.channel = channel_participation.channel
		)`).
		Delete(&models.ChannelParticipation{})
	if result.Error != nil {
		return purged, result.Error
	}
	purged += result.RowsAffected
	result = db.
		Where("epoch < ?", cutoffEpoch).
		Where(`EXISTS (
			SELECT 1 FROM sealed_epochs se
			WHERE se.epoch = user_signals.epoch
			AND se.channel = user_signals.channel
		)`).
		Delete(&models.UserSignal{})
	if result.Error != nil {
		return purged, result.Error
	}
	purged += result.RowsAffected
	return purged, nil
}

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

// AddSuppression excludes a user from all future publish eligibility.
// Suppression only affects epochs not yet published; already-published
// roots are immutable.
func (d *Database) AddSuppression(
	ctx context.Context,
	userHash string,
	username string,
	reason string,
) error {
	row := models.Suppression{
		UserHash:    userHash,
		Username:    username,
		RequestedAt: time.Now().Unix(),
		Reason:      reason,
	}
	return d.Metadata().DB().WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).
		Error
}

// IsSuppressed reports whether a user is on the suppression list
func (d *Database) IsSuppressed(
	ctx context.Context,
	userHash string,
) (bool, error) {
	var count int64
	result := d.Metadata().DB().WithContext(ctx).
		Model(&models.Suppression{}).
		Where("user_hash = ?", userHash).
		Count(&count)
	if result.Error != nil {
		return false, result.Error
	}
	return count > 0, nil
}

// Suppressions returns the full suppression list
func (d *Database) Suppressions(
	ctx context.Context,
) ([]models.Suppression, error) {
	var rows []models.Suppression
	result := d.Metadata().DB().WithContext(ctx).
		Order("requested_at ASC").
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	return rows, nil
}

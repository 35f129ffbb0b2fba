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
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/wyrdlabs/wyrd/database/models"
	"github.com/wyrdlabs/wyrd/database/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrTreeNotCached is returned when no claim tree has been built for a scope
var ErrTreeNotCached = errors.New("claim tree not cached")

func treeBlobKey(channel string, epoch uint64) []byte {
	return fmt.Appendf(nil, "tree:%s:%d", channel, epoch)
}

func proofBundleBlobKey(channel string, epoch uint64) []byte {
	return fmt.Appendf(nil, "proofs:%s:%d", channel, epoch)
}

// StoreTree persists a serialized claim tree and its cache row in a
// single coordinated transaction across both stores
func (d *Database) StoreTree(
	ctx context.Context,
	cacheRow models.L2TreeCache,
	treeData []byte,
) error {
	cacheRow.BuiltAt = time.Now().Unix()
	txn := NewTxn(d, true)
	return txn.Do(func(t *Txn) error {
		if err := t.Blob().Set(
			treeBlobKey(cacheRow.Channel, cacheRow.Epoch),
			treeData,
		); err != nil {
			return err
		}
		return t.Metadata().WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "epoch"},
					{Name: "channel"},
				},
				DoUpdates: clause.AssignmentColumns([]string{
					"root",
					"leaf_version",
					"odd_policy",
					"participant_count",
					"built_at",
				}),
			}).
			Create(&cacheRow).
			Error
	})
}

// GetTreeCache returns the cache row for a scope, or ErrTreeNotCached
func (d *Database) GetTreeCache(
	ctx context.Context,
	epoch uint64,
	channel string,
) (*models.L2TreeCache, error) {
	var row models.L2TreeCache
	result := d.Metadata().DB().WithContext(ctx).
		Where("epoch = ? AND channel = ?", epoch, channel).
		First(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrTreeNotCached
		}
		return nil, result.Error
	}
	return &row, nil
}

// GetTreeData returns the serialized claim tree for a scope
func (d *Database) GetTreeData(
	epoch uint64,
	channel string,
) ([]byte, error) {
	txn := NewBlobOnlyTxn(d, false)
	defer txn.Release()
	item, err := txn.Blob().Get(treeBlobKey(channel, epoch))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrTreeNotCached
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

// StoreProofBundle persists an exported proof bundle document
func (d *Database) StoreProofBundle(
	epoch uint64,
	channel string,
	bundle []byte,
) error {
	txn := NewBlobOnlyTxn(d, true)
	return txn.Do(func(t *Txn) error {
		return t.Blob().Set(proofBundleBlobKey(channel, epoch), bundle)
	})
}

// GetProofBundle returns the exported proof bundle for a scope
func (d *Database) GetProofBundle(
	epoch uint64,
	channel string,
) ([]byte, error) {
	txn := NewBlobOnlyTxn(d, false)
	defer txn.Release()
	item, err := txn.Blob().Get(proofBundleBlobKey(channel, epoch))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, types.ErrBlobKeyNotFound
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

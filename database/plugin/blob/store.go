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

package blob

import (
	"log/slog"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/wyrdlabs/wyrd/database/plugin/blob/badger"
)

// BlobStore is the interface for the key-value store holding serialized
// claim-tree levels and exported proof bundles
type BlobStore interface {
	// matches badger.DB
	Close() error
	NewTransaction(bool) *badgerdb.Txn
	DB() *badgerdb.DB

	// Our specific functions
	GetCommitTimestamp() (int64, error)
	SetCommitTimestamp(*badgerdb.Txn, int64) error
}

// New returns a started blob store. Badger is currently the only
// implementation.
func New(
	dataDir string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (BlobStore, error) {
	return badger.New(
		badger.WithDataDir(dataDir),
		badger.WithLogger(logger),
		badger.WithPromRegistry(promRegistry),
	)
}

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

package metadata

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wyrdlabs/wyrd/database/plugin/metadata/postgres"
	"github.com/wyrdlabs/wyrd/database/plugin/metadata/sqlite"
	"gorm.io/gorm"
)

// MetadataStore is the interface for the relational metadata store.
// Implementations expose two connection pools: DB for the maintenance
// path (sealing, publishing, reconciliation) and IngestDB for the
// high-volume ingestion path, so ingestion load cannot starve the
// correctness-critical maintenance work.
type MetadataStore interface {
	Close() error
	DB() *gorm.DB
	IngestDB() *gorm.DB
	Transaction() *gorm.DB
	IngestTransaction() *gorm.DB
	GetCommitTimestamp() (int64, error)
	SetCommitTimestamp(*gorm.DB, int64) error
}

// New returns the metadata store plugin selected by name
func New(
	pluginName string,
	dataDir string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (MetadataStore, error) {
	switch pluginName {
	case "sqlite", "":
		return sqlite.New(dataDir, logger, promRegistry)
	case "postgres":
		return postgres.New(logger, promRegistry)
	default:
		return nil, fmt.Errorf("unknown metadata plugin: %q", pluginName)
	}
}

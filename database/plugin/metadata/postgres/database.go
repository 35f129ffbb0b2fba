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

package postgres

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/wyrdlabs/wyrd/database/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// Config holds the env-driven connection settings for the postgres
// metadata plugin. Two pools are opened from the same DSN: a small
// maintenance pool and a larger ingestion pool, so batch ingestion
// cannot exhaust the connections needed by sealing and publishing.
type Config struct {
	Dsn                  string        `envconfig:"METADATA_POSTGRES_DSN"`
	MaintenanceOpenConns int           `envconfig:"METADATA_POSTGRES_MAINT_CONNS" default:"4"`
	IngestOpenConns      int           `envconfig:"METADATA_POSTGRES_INGEST_CONNS" default:"16"`
	ConnMaxLifetime      time.Duration `envconfig:"METADATA_POSTGRES_CONN_MAX_LIFETIME" default:"1h"`
}

// MetadataStorePostgres stores metadata in PostgreSQL
type MetadataStorePostgres struct {
	promRegistry prometheus.Registerer
	db           *gorm.DB
	ingestDb     *gorm.DB
	logger       *slog.Logger
}

// CommitTimestamp tracks the last commit timestamp shared with the blob
// store so partial writes across the two stores can be detected
type CommitTimestamp struct {
	ID        uint  `gorm:"primarykey"`
	Timestamp int64 `gorm:"not null"`
}

// TableName returns the table name
func (CommitTimestamp) TableName() string {
	return "commit_timestamp"
}

func openPool(dsn string, maxOpen int, maxLifetime time.Duration) (*gorm.DB, error) {
	db, err := gorm.Open(
		postgres.Open(dsn),
		&gorm.Config{
			Logger:                 gormlogger.Discard,
			SkipDefaultTransaction: true,
		},
	)
	if err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, fmt.Errorf("failed to configure gorm tracing: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxOpen)
	sqlDB.SetConnMaxLifetime(maxLifetime)
	return db, nil
}

// New creates a PostgreSQL metadata store using env-driven settings
// (WYRD_METADATA_POSTGRES_*)
func New(
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (*MetadataStorePostgres, error) {
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	var cfg Config
	if err := envconfig.Process("wyrd", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process postgres config: %w", err)
	}
	if cfg.Dsn == "" {
		return nil, errors.New(
			"postgres metadata plugin requires WYRD_METADATA_POSTGRES_DSN",
		)
	}
	maintDb, err := openPool(
		cfg.Dsn,
		cfg.MaintenanceOpenConns,
		cfg.ConnMaxLifetime,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open maintenance pool: %w", err)
	}
	ingestDb, err := openPool(
		cfg.Dsn,
		cfg.IngestOpenConns,
		cfg.ConnMaxLifetime,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open ingest pool: %w", err)
	}
	db := &MetadataStorePostgres{
		db:           maintDb,
		ingestDb:     ingestDb,
		logger:       logger,
		promRegistry: promRegistry,
	}
	// Create table schemas on the maintenance pool only
	if err := db.db.AutoMigrate(&CommitTimestamp{}); err != nil {
		return db, err
	}
	for _, model := range models.MigrateModels {
		db.logger.Debug(fmt.Sprintf("creating table: %#v", model))
		if err := db.db.AutoMigrate(model); err != nil {
			return db, err
		}
	}
	return db, nil
}

// Close gracefully closes both connection pools
func (d *MetadataStorePostgres) Close() error {
	var err error
	for _, db := range []*gorm.DB{d.db, d.ingestDb} {
		sqlDB, dbErr := db.DB()
		if dbErr != nil {
			err = errors.Join(err, dbErr)
			continue
		}
		err = errors.Join(err, sqlDB.Close())
	}
	return err
}

// DB returns the maintenance-path gorm handle
func (d *MetadataStorePostgres) DB() *gorm.DB {
	return d.db
}

// IngestDB returns the ingestion-path gorm handle
func (d *MetadataStorePostgres) IngestDB() *gorm.DB {
	return d.ingestDb
}

// Transaction starts a maintenance-path transaction
func (d *MetadataStorePostgres) Transaction() *gorm.DB {
	return d.db.Begin()
}

// IngestTransaction starts an ingestion-path transaction
func (d *MetadataStorePostgres) IngestTransaction() *gorm.DB {
	return d.ingestDb.Begin()
}

// GetCommitTimestamp returns the stored commit timestamp, or -1 if none
// has been recorded yet
func (d *MetadataStorePostgres) GetCommitTimestamp() (int64, error) {
	var tmp CommitTimestamp
	result := d.db.First(&tmp)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return -1, nil
		}
		return 0, result.Error
	}
	return tmp.Timestamp, nil
}

// SetCommitTimestamp updates the stored commit timestamp
func (d *MetadataStorePostgres) SetCommitTimestamp(
	txn *gorm.DB,
	timestamp int64,
) error {
	if txn == nil {
		txn = d.db
	}
	tmp := CommitTimestamp{ID: 1, Timestamp: timestamp}
	return txn.Save(&tmp).Error
}

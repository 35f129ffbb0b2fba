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

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "wyrd.config"

const (
	DefaultMetadataPlugin  = "sqlite"
	DefaultShutdownTimeout = "30s"
)

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type Config struct {
	MetadataPlugin     string   `yaml:"metadataPlugin"     envconfig:"WYRD_DATABASE_METADATA_PLUGIN"`
	DataDir            string   `yaml:"dataDir"                                                      split_words:"true"`
	BindAddr           string   `yaml:"bindAddr"                                                     split_words:"true"`
	Namespace          string   `yaml:"namespace"`
	TokenGroup         string   `yaml:"tokenGroup"                                                   split_words:"true"`
	EpochDuration      string   `yaml:"epochDuration"                                                split_words:"true"`
	SealInterval       string   `yaml:"sealInterval"                                                 split_words:"true"`
	PublishInterval    string   `yaml:"publishInterval"                                              split_words:"true"`
	ReconcileInterval  string   `yaml:"reconcileInterval"                                            split_words:"true"`
	ShutdownTimeout    string   `yaml:"shutdownTimeout"                                              split_words:"true"`
	LeafVersion        string   `yaml:"leafVersion"                                                  split_words:"true"`
	OddPolicy          string   `yaml:"oddPolicy"                                                    split_words:"true"`
	LedgerEndpoints    []string `yaml:"ledgerEndpoints"                                              split_words:"true"`
	LedgerProgramID    string   `yaml:"ledgerProgramId"    envconfig:"WYRD_LEDGER_PROGRAM_ID"`
	LedgerMint         string   `yaml:"ledgerMint"                                                   split_words:"true"`
	SignerKeyFile      string   `yaml:"signerKeyFile"                                                split_words:"true"`
	RewardPerWeight    float64  `yaml:"rewardPerWeight"                                              split_words:"true"`
	ViewerRatio        float64  `yaml:"viewerRatio"                                                  split_words:"true"`
	TokenDecimals      uint8    `yaml:"tokenDecimals"                                                split_words:"true"`
	RetentionEpochs    uint64   `yaml:"retentionEpochs"                                              split_words:"true"`
	PublishBatchSize   int      `yaml:"publishBatchSize"                                             split_words:"true"`
	MaxClaims          int      `yaml:"maxClaims"                                                    split_words:"true"`
	IngestBatchSize    int      `yaml:"ingestBatchSize"                                              split_words:"true"`
	IngestFlushTimeout string   `yaml:"ingestFlushTimeout"                                           split_words:"true"`
	MetricsPort        uint     `yaml:"metricsPort"                                                  split_words:"true"`
	Tracing            bool     `yaml:"tracing"`
	TracingStdout      bool     `yaml:"tracingStdout"                                                split_words:"true"`
}

var globalConfig = &Config{
	MetadataPlugin:  DefaultMetadataPlugin,
	DataDir:         ".wyrd",
	BindAddr:        "0.0.0.0",
	EpochDuration:   "24h",
	ViewerRatio:     0.90,
	TokenDecimals:   9,
	RewardPerWeight: 1.0,
	MetricsPort:     12798,
	ShutdownTimeout: DefaultShutdownTimeout,
	LeafVersion:     "v1",
	OddPolicy:       "duplicate",
}

func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.wyrd/wyrd.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".wyrd", "wyrd.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/wyrd/wyrd.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/wyrd/wyrd.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		err = yaml.Unmarshal(buf, globalConfig)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	// Process environment variables
	err := envconfig.Process("wyrd", globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}
	return globalConfig, nil
}

func GetConfig() *Config {
	return globalConfig
}

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

package wyrd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyrdlabs/wyrd/merkle"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, DefaultEpochDuration, cfg.epochDuration)
	assert.Equal(t, 0.90, cfg.viewerRatio)
	assert.Equal(t, merkle.LeafV1, cfg.leafVersion)
	assert.Equal(t, merkle.OddPolicyDuplicate, cfg.oddPolicy)
	assert.Equal(t, uint8(9), cfg.tokenDecimals)
	assert.NotNil(t, cfg.logger)
}

func TestNewConfigOptions(t *testing.T) {
	cfg := NewConfig(
		WithDataDir("/tmp/wyrd"),
		WithNamespace("twitch"),
		WithEpochDuration(time.Hour),
		WithViewerRatio(1.0),
		WithLedgerEndpoints("http://localhost:8899"),
		WithRetentionEpochs(30),
	)
	assert.Equal(t, "/tmp/wyrd", cfg.dataDir)
	assert.Equal(t, "twitch", cfg.namespace)
	assert.Equal(t, time.Hour, cfg.epochDuration)
	assert.Equal(t, 1.0, cfg.viewerRatio)
	assert.Equal(t, []string{"http://localhost:8899"}, cfg.ledgerEndpoints)
	assert.Equal(t, uint64(30), cfg.retentionEpochs)
}

func TestConfigValidation(t *testing.T) {
	testDefs := []struct {
		name    string
		opts    []ConfigOptionFunc
		wantErr string
	}{
		{
			name:    "valid defaults",
			wantErr: "",
		},
		{
			name:    "viewer ratio out of range",
			opts:    []ConfigOptionFunc{WithViewerRatio(1.5)},
			wantErr: "viewer ratio",
		},
		{
			name:    "negative reward",
			opts:    []ConfigOptionFunc{WithRewardPerWeight(-1)},
			wantErr: "reward per weight",
		},
		{
			name: "endpoints without program ID",
			opts: []ConfigOptionFunc{
				WithLedgerEndpoints("http://localhost:8899"),
			},
			wantErr: "program ID",
		},
		{
			name: "bad program ID",
			opts: []ConfigOptionFunc{
				WithLedgerEndpoints("http://localhost:8899"),
				WithLedgerProgramID("not-a-key"),
				WithLedgerMint("not-a-key"),
			},
			wantErr: "invalid ledger program ID",
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			_, err := New(NewConfig(testDef.opts...))
			if testDef.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.ErrorContains(t, err, testDef.wantErr)
			}
		})
	}
}

func TestEpochForTime(t *testing.T) {
	// 2024-01-02T00:00:00Z is exactly 19724 days after the epoch
	ts := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, uint64(19724), EpochForTime(ts, 24*time.Hour))
	// One second before the boundary is still the previous epoch
	assert.Equal(t, uint64(19723), EpochForTime(ts.Add(-time.Second), 24*time.Hour))
	// Zero duration falls back to the default
	assert.Equal(t, uint64(19724), EpochForTime(ts, 0))
}

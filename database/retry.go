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
	"strings"
	"time"
)

const (
	retryBaseDelay = 100 * time.Millisecond
	retryMaxDelay  = 5 * time.Second
	retryMaxTries  = 6
)

// transient SQLSTATE classes and driver messages worth retrying.
// Serialization failures and deadlocks resolve on their own once the
// competing transaction finishes; connection drops resolve once the
// pool reconnects.
var transientMarkers = []string{
	"40001", // serialization_failure
	"40P01", // deadlock_detected
	"57P03", // cannot_connect_now
	"08006", // connection_failure
	"connection refused",
	"connection reset",
	"broken pipe",
	"database is locked", // sqlite busy
	"deadlock",
}

// IsTransientError reports whether a database error is worth retrying
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// withTransientRetry runs fn, retrying on transient errors with
// exponential backoff up to a ceiling. Non-transient errors return
// immediately.
func withTransientRetry(ctx context.Context, fn func() error) error {
	var err error
	for try := range retryMaxTries {
		err = fn()
		if err == nil || !IsTransientError(err) {
			return err
		}
		delay := min(retryBaseDelay<<try, retryMaxDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

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

import "time"

// DefaultEpochDuration is the length of one attribution epoch
const DefaultEpochDuration = 24 * time.Hour

// EpochForTime maps a wall-clock time onto an epoch number. Epoch N
// covers [N*duration, (N+1)*duration) in Unix time, so every node with
// the same duration derives the same epoch without coordination.
func EpochForTime(t time.Time, duration time.Duration) uint64 {
	if duration <= 0 {
		duration = DefaultEpochDuration
	}
	secs := t.Unix()
	if secs < 0 {
		return 0
	}
	return uint64(secs) / uint64(duration/time.Second)
}

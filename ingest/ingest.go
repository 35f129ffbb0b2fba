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

package ingest

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"
)

// SignalType classifies an engagement signal
type SignalType string

const (
	SignalPresence SignalType = "presence"
	SignalSub      SignalType = "sub"
	SignalResub    SignalType = "resub"
	SignalGift     SignalType = "gift"
	SignalBits     SignalType = "bits"
	SignalRaid     SignalType = "raid"
)

// Event is a single engagement observation from a channel listener.
// Username is optional; when present it refreshes the identity mapping
// for the hashed user.
type Event struct {
	Epoch     uint64
	Channel   string
	User      string
	Username  string
	Type      SignalType
	Value     float64
	Timestamp int64
}

// HashUser derives the stable pseudonymous identifier for a user.
// Case differences in the raw name must not split a user's history.
func HashUser(user string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("user:"))
	h.Write([]byte(strings.ToLower(user)))
	return hex.EncodeToString(h.Sum(nil))
}

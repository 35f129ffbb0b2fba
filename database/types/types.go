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

package types

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrBlobKeyNotFound is returned when a key is not present in the blob store
	ErrBlobKeyNotFound = errors.New("blob key not found")
	// ErrTxnWrongType is returned when a transaction of an unexpected type is provided
	ErrTxnWrongType = errors.New("transaction has wrong type")
	// ErrNilTxn is returned when a nil transaction is provided
	ErrNilTxn = errors.New("nil transaction")
	// ErrNoStoreAvailable is returned when a required store is not configured
	ErrNoStoreAvailable = errors.New("no store available")
)

// Txn is the common interface over metadata and blob transactions
type Txn interface {
	Commit() error
	Rollback() error
}

// Uint64 wraps uint64 for gorm, storing the value as a decimal string
// so the full range survives drivers that only handle int64
type Uint64 uint64

// Value implements driver.Valuer
func (u Uint64) Value() (driver.Value, error) {
	return strconv.FormatUint(uint64(u), 10), nil
}

// Scan implements sql.Scanner
func (u *Uint64) Scan(value any) error {
	switch v := value.(type) {
	case int64:
		if v < 0 {
			return fmt.Errorf("cannot scan negative value %d into Uint64", v)
		}
		*u = Uint64(v)
	case uint64:
		*u = Uint64(v)
	case string:
		tmp, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("cannot scan %q into Uint64: %w", v, err)
		}
		*u = Uint64(tmp)
	case []byte:
		tmp, err := strconv.ParseUint(string(v), 10, 64)
		if err != nil {
			return fmt.Errorf("cannot scan %q into Uint64: %w", string(v), err)
		}
		*u = Uint64(tmp)
	default:
		return fmt.Errorf("cannot scan %T into Uint64", value)
	}
	return nil
}

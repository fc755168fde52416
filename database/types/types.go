// Copyright 2025 Blink Labs Software
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
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// StringList is a []string stored as a JSON column
//
//nolint:recvcheck
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	ret, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(ret), nil
}

func (l *StringList) Scan(val any) error {
	if val == nil {
		*l = nil
		return nil
	}
	var data []byte
	switch v := val.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf(
			"value was not expected type, wanted string, got %T",
			val,
		)
	}
	if len(data) == 0 {
		*l = nil
		return nil
	}
	var tmpList []string
	if err := json.Unmarshal(data, &tmpList); err != nil {
		return err
	}
	*l = tmpList
	return nil
}

// Contains reports whether the list contains the given item
func (l StringList) Contains(item string) bool {
	for _, listItem := range l {
		if listItem == item {
			return true
		}
	}
	return false
}

// TargetRef is a (type, identifier) target reference stored as a single
// "TYPE:identifier" column
//
//nolint:recvcheck
type TargetRef struct {
	Type       string
	Identifier string
}

func (r TargetRef) Value() (driver.Value, error) {
	if r.Type == "" && r.Identifier == "" {
		return "", nil
	}
	return r.Type + ":" + r.Identifier, nil
}

func (r *TargetRef) Scan(val any) error {
	if val == nil {
		*r = TargetRef{}
		return nil
	}
	var tmpVal string
	switch v := val.(type) {
	case string:
		tmpVal = v
	case []byte:
		tmpVal = string(v)
	default:
		return fmt.Errorf(
			"value was not expected type, wanted string, got %T",
			val,
		)
	}
	if tmpVal == "" {
		*r = TargetRef{}
		return nil
	}
	refType, identifier, found := strings.Cut(tmpVal, ":")
	if !found {
		return fmt.Errorf("malformed target reference: %s", tmpVal)
	}
	r.Type = refType
	r.Identifier = identifier
	return nil
}

func (r TargetRef) IsZero() bool {
	return r.Type == "" && r.Identifier == ""
}

// RuleSource is one (target state, voter) pair feeding rule synthesis for
// a configuration. Voter is nil for downvotes.
type RuleSource struct {
	Voter    *string
	TargetID uint
	State    int
}

// ErrKeyNotFound is returned by journal operations when a key is missing
var ErrKeyNotFound = errors.New("journal key not found")

// ErrTxnWrongType is returned when a transaction has the wrong type
var ErrTxnWrongType = errors.New("invalid transaction type")

// ErrNilTxn is returned when a nil transaction is provided where a valid transaction is required
var ErrNilTxn = errors.New("nil transaction")

// ErrNoStoreAvailable is returned when no journal or metadata store is available
var ErrNoStoreAvailable = errors.New("no store available")

// JournalItem represents a value returned by a journal iterator
type JournalItem interface {
	Key() []byte
	ValueCopy(dst []byte) ([]byte, error)
}

// JournalIterator provides ordered iteration over journal entries.
//
// Items returned by `Item()` must only be accessed while the underlying
// transaction used to create the iterator is still active. Implementations
// may validate transaction state at access time.
type JournalIterator interface {
	Rewind()
	Valid() bool
	Next()
	Item() JournalItem
	Close()
	Err() error
}

// JournalIteratorOptions configures journal iterator creation
type JournalIteratorOptions struct {
	Reverse bool
}

// Txn is a simple transaction handle for commit/rollback only.
// Database layer (Txn) coordinates metadata and journal operations separately.
type Txn interface {
	Commit() error
	Rollback() error
}

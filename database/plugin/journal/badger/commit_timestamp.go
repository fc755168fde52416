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

package badger

import (
	"errors"
	"math/big"

	"github.com/blinklabs-io/tally/database/types"
	badger "github.com/dgraph-io/badger/v4"
)

const (
	// Lives outside the journal entry key prefix so iterators never see it
	commitTimestampJournalKey = "metadata_commit_timestamp"
)

func (d *JournalStoreBadger) GetCommitTimestamp() (int64, error) {
	txn := d.NewTransaction(false)
	defer txn.Rollback() //nolint:errcheck

	badgerTxn, err := d.validateTxn(txn)
	if err != nil {
		return 0, err
	}
	item, err := badgerTxn.tx.Get([]byte(commitTimestampJournalKey))
	if err != nil {
		// It's not an error if the timestamp has never been written
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	return new(big.Int).SetBytes(val).Int64(), nil
}

func (d *JournalStoreBadger) SetCommitTimestamp(
	timestamp int64,
	txn types.Txn,
) error {
	badgerTxn, err := d.validateTxn(txn)
	if err != nil {
		return err
	}
	tmpTimestamp := new(big.Int).SetInt64(timestamp)
	return badgerTxn.tx.Set(
		[]byte(commitTimestampJournalKey),
		tmpTimestamp.Bytes(),
	)
}

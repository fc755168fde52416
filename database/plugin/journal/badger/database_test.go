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

package badger_test

import (
	"errors"
	"fmt"
	"testing"

	badger "github.com/blinklabs-io/tally/database/plugin/journal/badger"
	"github.com/blinklabs-io/tally/database/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *badger.JournalStoreBadger {
	t.Helper()
	store, err := badger.New(badger.WithGc(false))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() }) //nolint:errcheck
	return store
}

func TestAppendAndGet(t *testing.T) {
	store := setupTestStore(t)

	txn := store.NewTransaction(true)
	seq, err := store.Append(txn, []byte(`{"type":"test"}`))
	require.NoError(t, err)
	require.NoError(t, txn.Commit())

	txn = store.NewTransaction(false)
	defer txn.Rollback() //nolint:errcheck
	value, err := store.Get(txn, seq)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"type":"test"}`), value)

	_, err = store.Get(txn, seq+100)
	assert.ErrorIs(t, err, types.ErrKeyNotFound)
}

func TestAppendOrder(t *testing.T) {
	store := setupTestStore(t)

	var seqs []uint64
	txn := store.NewTransaction(true)
	for i := range 5 {
		seq, err := store.Append(txn, fmt.Appendf(nil, "entry-%d", i))
		require.NoError(t, err)
		seqs = append(seqs, seq)
	}
	require.NoError(t, txn.Commit())

	// Sequence numbers increase monotonically
	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1])
	}

	// Forward iteration matches append order
	txn = store.NewTransaction(false)
	defer txn.Rollback() //nolint:errcheck
	iter := store.NewIterator(txn, types.JournalIteratorOptions{})
	defer iter.Close()
	var values []string
	for iter.Rewind(); iter.Valid(); iter.Next() {
		value, err := iter.Item().ValueCopy(nil)
		require.NoError(t, err)
		values = append(values, string(value))
	}
	require.NoError(t, iter.Err())
	assert.Equal(
		t,
		[]string{"entry-0", "entry-1", "entry-2", "entry-3", "entry-4"},
		values,
	)
}

func TestReverseIteration(t *testing.T) {
	store := setupTestStore(t)

	txn := store.NewTransaction(true)
	for i := range 3 {
		_, err := store.Append(txn, fmt.Appendf(nil, "entry-%d", i))
		require.NoError(t, err)
	}
	require.NoError(t, txn.Commit())

	txn = store.NewTransaction(false)
	defer txn.Rollback() //nolint:errcheck
	iter := store.NewIterator(
		txn,
		types.JournalIteratorOptions{Reverse: true},
	)
	defer iter.Close()
	var values []string
	for iter.Rewind(); iter.Valid(); iter.Next() {
		value, err := iter.Item().ValueCopy(nil)
		require.NoError(t, err)
		values = append(values, string(value))
	}
	require.NoError(t, iter.Err())
	assert.Equal(t, []string{"entry-2", "entry-1", "entry-0"}, values)
}

func TestTxnValidation(t *testing.T) {
	store := setupTestStore(t)
	otherStore := setupTestStore(t)

	// Nil transaction
	_, err := store.Append(nil, []byte("x"))
	assert.ErrorIs(t, err, types.ErrNilTxn)

	// Transaction from a different store
	otherTxn := otherStore.NewTransaction(true)
	defer otherTxn.Rollback() //nolint:errcheck
	_, err = store.Append(otherTxn, []byte("x"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, types.ErrNilTxn))

	// Finished transaction
	txn := store.NewTransaction(true)
	require.NoError(t, txn.Rollback())
	_, err = store.Append(txn, []byte("x"))
	require.Error(t, err)

	// Iterator on a finished transaction reports the error
	iter := store.NewIterator(txn, types.JournalIteratorOptions{})
	defer iter.Close()
	assert.False(t, iter.Valid())
	assert.Error(t, iter.Err())
}

func TestRollbackDiscardsAppend(t *testing.T) {
	store := setupTestStore(t)

	txn := store.NewTransaction(true)
	seq, err := store.Append(txn, []byte("discarded"))
	require.NoError(t, err)
	require.NoError(t, txn.Rollback())

	txn = store.NewTransaction(false)
	defer txn.Rollback() //nolint:errcheck
	_, err = store.Get(txn, seq)
	assert.ErrorIs(t, err, types.ErrKeyNotFound)
}

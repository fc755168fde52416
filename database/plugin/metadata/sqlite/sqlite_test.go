// Copyright 2026 Blink Labs Software
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

package sqlite

import (
	"testing"

	"github.com/blinklabs-io/tally/database/models"
	"github.com/blinklabs-io/tally/database/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *MetadataStoreSqlite {
	t.Helper()
	store, err := New("", nil, nil)
	require.NoError(t, err)
	require.NoError(t, store.Start())
	require.NoError(t, store.AutoMigrate(models.MigrateModels...))
	t.Cleanup(func() {
		store.Close() //nolint:errcheck
	})
	return store
}

// otherTxn is a types.Txn that did not come from a sqlite store.
type otherTxn struct{}

func (otherTxn) Commit() error   { return nil }
func (otherTxn) Rollback() error { return nil }

func TestTransactionCommitPersists(t *testing.T) {
	store := setupTestStore(t)

	txn := store.Transaction()
	err := store.SetConfiguration(
		models.NewConfiguration("default"),
		txn,
	)
	require.NoError(t, err)
	require.NoError(t, txn.Commit())

	config, err := store.GetConfigurationByName("default", nil)
	require.NoError(t, err)
	assert.Equal(t, "default", config.Name)
	assert.Equal(t, models.DefaultBannedThreshold, config.BannedThreshold)
}

func TestTransactionRollbackDiscards(t *testing.T) {
	store := setupTestStore(t)

	txn := store.Transaction()
	err := store.SetConfiguration(
		models.NewConfiguration("discarded"),
		txn,
	)
	require.NoError(t, err)
	require.NoError(t, txn.Rollback())

	_, err = store.GetConfigurationByName("discarded", nil)
	assert.ErrorIs(t, err, models.ErrConfigurationNotFound)
}

func TestReadsInsideTransactionSeeWrites(t *testing.T) {
	store := setupTestStore(t)

	txn := store.Transaction()
	target, err := store.GetOrCreateTarget(
		"BINARY",
		"1111111111111111111111111111111111111111111111111111111111111111",
		txn,
	)
	require.NoError(t, err)

	// Visible through the transaction before commit
	found, err := store.GetTargetByID(target.ID, txn)
	require.NoError(t, err)
	assert.Equal(t, target.ID, found.ID)

	require.NoError(t, txn.Commit())
}

func TestTxnValidation(t *testing.T) {
	store := setupTestStore(t)

	// Wrong transaction type
	_, err := store.GetConfiguration(1, otherTxn{})
	assert.ErrorIs(t, err, types.ErrTxnWrongType)

	// Transaction from a different store
	other := setupTestStore(t)
	foreignTxn := other.Transaction()
	defer foreignTxn.Rollback() //nolint:errcheck
	_, err = store.GetConfiguration(1, foreignTxn)
	assert.Error(t, err)

	// Finished transaction
	txn := store.Transaction()
	require.NoError(t, txn.Commit())
	_, err = store.GetConfiguration(1, txn)
	assert.Error(t, err)

	// Commit after commit is a no-op
	assert.NoError(t, txn.Commit())
	assert.NoError(t, txn.Rollback())
}

func TestAutoMigrateIdempotent(t *testing.T) {
	store := setupTestStore(t)
	// Running the migrations again must not fail
	require.NoError(t, store.AutoMigrate(models.MigrateModels...))
}

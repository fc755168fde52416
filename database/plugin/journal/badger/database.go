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
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blinklabs-io/tally/database/types"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/prometheus/client_golang/prometheus"
)

// Bandwidth for sequence number leases. Unused leased numbers are lost on
// close, which shows up as gaps in the journal. Gaps are harmless.
const sequenceBandwidth = 64

// badgerTxn wraps a badger transaction and implements types.Txn
type badgerTxn struct {
	store    *JournalStoreBadger
	tx       *badger.Txn
	finished bool
}

func newBadgerTxn(store *JournalStoreBadger, tx *badger.Txn) *badgerTxn {
	return &badgerTxn{store: store, tx: tx}
}

// validateTxn validates a types.Txn for this JournalStore and returns the
// underlying *badgerTxn if valid.
func (d *JournalStoreBadger) validateTxn(txn types.Txn) (*badgerTxn, error) {
	if txn == nil {
		return nil, types.ErrNilTxn
	}
	badgerTxn, ok := txn.(*badgerTxn)
	if !ok {
		return nil, types.ErrTxnWrongType
	}
	if badgerTxn.store != d {
		return nil, errors.New("transaction from different store")
	}
	if err := badgerTxn.validateTxn(); err != nil {
		return nil, err
	}
	return badgerTxn, nil
}

// validateTxn checks if the transaction is still valid for use
func (t *badgerTxn) validateTxn() error {
	if t.finished {
		return errors.New("transaction already finished")
	}
	if t.tx == nil {
		return types.ErrNoStoreAvailable
	}
	return nil
}

func (t *badgerTxn) Commit() error {
	if t.finished {
		return nil
	}
	if t.tx == nil {
		t.finished = true
		return nil
	}
	if err := t.tx.Commit(); err != nil {
		return err
	}
	t.finished = true
	return nil
}

func (t *badgerTxn) Rollback() error {
	if t.finished {
		return nil
	}
	if t.tx != nil {
		t.tx.Discard()
	}
	t.finished = true
	return nil
}

type badgerIterator struct {
	iter    *badger.Iterator
	reverse bool
}

func (it *badgerIterator) Rewind() {
	if it.reverse {
		// A plain Rewind in reverse mode positions past the entry key
		// range, so seek to its upper bound instead
		seekKey := append([]byte(types.JournalEntryKeyPrefix), 0xff)
		it.iter.Seek(seekKey)
		return
	}
	it.iter.Rewind()
}

func (it *badgerIterator) Valid() bool {
	return it.iter.ValidForPrefix([]byte(types.JournalEntryKeyPrefix))
}

func (it *badgerIterator) Next() { it.iter.Next() }

func (it *badgerIterator) Item() types.JournalItem {
	return &badgerItem{item: it.iter.Item()}
}
func (it *badgerIterator) Close()     { it.iter.Close() }
func (it *badgerIterator) Err() error { return nil }

type errorIterator struct {
	err error
}

func (it *errorIterator) Rewind()                 {}
func (it *errorIterator) Valid() bool             { return false }
func (it *errorIterator) Next()                   {}
func (it *errorIterator) Item() types.JournalItem { return nil }
func (it *errorIterator) Close()                  {}
func (it *errorIterator) Err() error              { return it.err }

type badgerItem struct {
	item *badger.Item
}

func (i *badgerItem) Key() []byte {
	return i.item.KeyCopy(nil)
}

func (i *badgerItem) ValueCopy(dst []byte) ([]byte, error) {
	return i.item.ValueCopy(dst)
}

// JournalStoreBadger stores the event journal in badger. Data may not be
// persisted when running in memory
type JournalStoreBadger struct {
	promRegistry prometheus.Registerer
	db           *badger.DB
	seq          *badger.Sequence
	logger       *slog.Logger
	gcTicker     *time.Ticker
	gcStopCh     chan struct{}
	dataDir      string
	gcWg         sync.WaitGroup
	gcEnabled    bool
}

// New creates a new journal store
func New(opts ...JournalStoreBadgerOptionFunc) (*JournalStoreBadger, error) {
	db := &JournalStoreBadger{
		// Set defaults
		gcEnabled: true,
	}
	for _, opt := range opts {
		opt(db)
	}

	var journalDb *badger.DB
	var err error

	if db.dataDir == "" {
		// No dataDir, use in-memory config
		badgerOpts := badger.DefaultOptions("").
			WithLogger(NewBadgerLogger(db.logger)).
			// The default INFO logging is a bit verbose
			WithLoggingLevel(badger.WARNING).
			WithInMemory(true)
		journalDb, err = badger.Open(badgerOpts)
		if err != nil {
			return nil, err
		}
	} else {
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(db.dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			// Create data directory
			if err := os.MkdirAll(db.dataDir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		journalDir := filepath.Join(
			db.dataDir,
			"journal",
		)
		badgerOpts := badger.DefaultOptions(journalDir).
			WithLogger(NewBadgerLogger(db.logger)).
			WithLoggingLevel(badger.WARNING).
			WithCompression(options.Snappy)
		journalDb, err = badger.Open(badgerOpts)
		if err != nil {
			return nil, err
		}
	}
	db.db = journalDb
	if err := db.init(); err != nil {
		return db, err
	}
	return db, nil
}

func (d *JournalStoreBadger) init() error {
	if d.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		d.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	// Sequence numbers for journal entries
	seq, err := d.db.GetSequence(
		[]byte(types.JournalSequenceKey),
		sequenceBandwidth,
	)
	if err != nil {
		return err
	}
	d.seq = seq
	// Configure metrics
	if d.promRegistry != nil {
		d.registerJournalMetrics()
	}
	// Configure GC
	if d.gcEnabled {
		d.gcTicker = time.NewTicker(5 * time.Minute)
		d.gcStopCh = make(chan struct{})
		d.gcWg.Add(1)
		go d.journalGc(d.gcTicker, d.gcStopCh)
	}
	return nil
}

func (d *JournalStoreBadger) journalGc(t *time.Ticker, stop <-chan struct{}) {
	defer d.gcWg.Done()
	for {
		select {
		case <-t.C:
		again:
			err := d.DB().RunValueLogGC(0.5)
			if err != nil {
				// Log any actual errors
				if !errors.Is(err, badger.ErrNoRewrite) {
					d.logger.Warn(
						fmt.Sprintf("journal DB: GC failure: %s", err),
						"component", "database",
					)
				}
			} else {
				// Run it again if it just ran successfully
				goto again
			}
		case <-stop:
			return
		}
	}
}

// Start implements the plugin.Plugin interface
func (d *JournalStoreBadger) Start() error {
	// Database is already started in New(), so this is a no-op
	return nil
}

// Stop implements the plugin.Plugin interface
func (d *JournalStoreBadger) Stop() error {
	return d.Close()
}

// Close releases the sequence lease and closes the database handle
func (d *JournalStoreBadger) Close() error {
	var errs []error
	if d.seq != nil {
		errs = append(errs, d.seq.Release())
		d.seq = nil
	}
	// Stop GC ticker if it exists
	if d.gcTicker != nil {
		d.gcTicker.Stop()
		if d.gcStopCh != nil {
			close(d.gcStopCh)
			d.gcStopCh = nil
		}
		// Wait for GC goroutine to finish
		d.gcWg.Wait()
		d.gcTicker = nil
	}
	errs = append(errs, d.DB().Close())
	return errors.Join(errs...)
}

// DB returns the database handle
func (d *JournalStoreBadger) DB() *badger.DB {
	return d.db
}

// NewTransaction creates a new badger transaction
func (d *JournalStoreBadger) NewTransaction(update bool) types.Txn {
	return newBadgerTxn(d, d.DB().NewTransaction(update))
}

// Append stores a journal entry within a transaction and returns its
// sequence number
func (d *JournalStoreBadger) Append(
	txn types.Txn,
	value []byte,
) (uint64, error) {
	badgerTxn, err := d.validateTxn(txn)
	if err != nil {
		return 0, err
	}
	if d.seq == nil {
		return 0, types.ErrNoStoreAvailable
	}
	seq, err := d.seq.Next()
	if err != nil {
		return 0, err
	}
	if err := badgerTxn.tx.Set(types.JournalEntryKey(seq), value); err != nil {
		return 0, err
	}
	return seq, nil
}

// Get retrieves a journal entry by sequence number within a transaction
func (d *JournalStoreBadger) Get(
	txn types.Txn,
	seq uint64,
) ([]byte, error) {
	badgerTxn, err := d.validateTxn(txn)
	if err != nil {
		return nil, err
	}
	item, err := badgerTxn.tx.Get(types.JournalEntryKey(seq))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, types.ErrKeyNotFound
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

// NewIterator creates an iterator over journal entries within a
// transaction.
//
// Important: items returned by the iterator's `Item()` must only be
// accessed while the transaction used to create the iterator is still
// active.
func (d *JournalStoreBadger) NewIterator(
	txn types.Txn,
	opts types.JournalIteratorOptions,
) types.JournalIterator {
	badgerTxn, err := d.validateTxn(txn)
	if err != nil {
		return &errorIterator{err: err}
	}
	iterOpts := badger.IteratorOptions{
		Prefix:  []byte(types.JournalEntryKeyPrefix),
		Reverse: opts.Reverse,
	}
	iter := badgerTxn.tx.NewIterator(iterOpts)
	return &badgerIterator{iter: iter, reverse: opts.Reverse}
}

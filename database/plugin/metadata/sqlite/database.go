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

package sqlite

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
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// DefaultMaxConnections is the read pool size used when no explicit limit
// is configured. The write pool always holds a single connection so that
// writes serialize at the connection pool instead of surfacing
// SQLITE_BUSY errors.
const DefaultMaxConnections = 8

// MetadataStoreSqlite is a SQLite-based implementation of the metadata
// store. It holds the relational voting state: configurations, targets,
// ballots, votes and rules.
type MetadataStoreSqlite struct {
	promRegistry     prometheus.Registerer
	db               *gorm.DB
	readDb           *gorm.DB
	logger           *slog.Logger
	timerVacuum      *time.Timer
	timerBallotChain *time.Timer
	timerMutex       sync.Mutex
	dataDir          string
	maxConnections   int
	closed           bool
	vacuumWG         sync.WaitGroup
	ballotChainWG    sync.WaitGroup
}

// gormTxn wraps a gorm transaction and implements types.Txn
type gormTxn struct {
	store    *MetadataStoreSqlite
	tx       *gorm.DB
	finished bool
}

func (t *gormTxn) Commit() error {
	if t.finished {
		return nil
	}
	if t.tx == nil {
		t.finished = true
		return nil
	}
	if err := t.tx.Commit().Error; err != nil {
		return err
	}
	t.finished = true
	return nil
}

func (t *gormTxn) Rollback() error {
	if t.finished {
		return nil
	}
	if t.tx != nil {
		if err := t.tx.Rollback().Error; err != nil {
			return err
		}
	}
	t.finished = true
	return nil
}

// resolveDB maps a types.Txn onto a gorm handle. A nil transaction
// resolves to the store's default (write) handle.
func (d *MetadataStoreSqlite) resolveDB(txn types.Txn) (*gorm.DB, error) {
	if txn == nil {
		return d.DB(), nil
	}
	gormTxn, ok := txn.(*gormTxn)
	if !ok {
		return nil, types.ErrTxnWrongType
	}
	if gormTxn.store != d {
		return nil, errors.New("transaction from different store")
	}
	if gormTxn.finished {
		return nil, errors.New("transaction already finished")
	}
	if gormTxn.tx == nil {
		return nil, types.ErrNoStoreAvailable
	}
	return gormTxn.tx, nil
}

// resolveReadDB maps a types.Txn onto a gorm handle for read-only
// queries. Outside a transaction, reads go to the read pool so they
// don't queue behind the single write connection.
func (d *MetadataStoreSqlite) resolveReadDB(txn types.Txn) (*gorm.DB, error) {
	if txn == nil {
		return d.ReadDB(), nil
	}
	return d.resolveDB(txn)
}

// NewWithOptions creates a SQLite metadata store with the given options.
// The store must be started with Start() before use.
func NewWithOptions(
	opts ...SqliteOptionFunc,
) (*MetadataStoreSqlite, error) {
	db := &MetadataStoreSqlite{}
	for _, opt := range opts {
		opt(db)
	}
	if db.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		db.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if db.maxConnections <= 0 {
		db.maxConnections = DefaultMaxConnections
	}
	return db, nil
}

// New creates a SQLite metadata store. Uses in-memory database if dataDir is empty.
func New(
	dataDir string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (*MetadataStoreSqlite, error) {
	return NewWithOptions(
		WithDataDir(dataDir),
		WithLogger(logger),
		WithPromRegistry(promRegistry),
	)
}

// Start opens the database connections and schedules background
// maintenance. It implements the plugin.Plugin interface.
func (d *MetadataStoreSqlite) Start() error {
	gormCfg := &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	}
	if d.dataDir == "" {
		// Use in-memory database when no data directory is specified, useful for testing
		// cache=shared allows multiple connections to share the same in-memory database
		metadataDb, err := gorm.Open(
			sqlite.Open("file::memory:?cache=shared"),
			gormCfg,
		)
		if err != nil {
			return err
		}
		d.db = metadataDb
		// A single shared handle is enough for the in-memory case
		d.readDb = metadataDb
	} else {
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(d.dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to read data dir: %w", err)
			}
			// Create data directory
			if err := os.MkdirAll(d.dataDir, fs.ModePerm); err != nil {
				return fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		// Open sqlite DB
		metadataDbPath := filepath.Join(
			d.dataDir,
			"metadata.sqlite",
		)
		// WAL journal mode, disable sync on write, increase cache size to 50MB (from 2MB)
		metadataConnOpts := "_pragma=journal_mode(WAL)&_pragma=sync(OFF)&_pragma=cache_size(-50000)"
		dsn := fmt.Sprintf("file:%s?%s", metadataDbPath, metadataConnOpts)
		metadataDb, err := gorm.Open(sqlite.Open(dsn), gormCfg)
		if err != nil {
			return err
		}
		// Single connection for the write pool to avoid SQLITE_BUSY
		writeSqlDb, err := metadataDb.DB()
		if err != nil {
			return err
		}
		writeSqlDb.SetMaxOpenConns(1)
		// Separate read pool with multiple connections (WAL allows
		// concurrent readers while a write is in progress)
		readDb, err := gorm.Open(sqlite.Open(dsn), gormCfg)
		if err != nil {
			return err
		}
		readSqlDb, err := readDb.DB()
		if err != nil {
			return err
		}
		readSqlDb.SetMaxOpenConns(d.maxConnections)
		d.db = metadataDb
		d.readDb = readDb
	}
	return d.init()
}

func (d *MetadataStoreSqlite) init() error {
	// Configure tracing for GORM
	if err := d.db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return err
	}
	// The commit timestamp table is internal bookkeeping and not part of
	// the model set migrated by the caller
	if err := d.db.AutoMigrate(&CommitTimestamp{}); err != nil {
		return err
	}
	// Schedule daily database vacuum to free unused space
	d.scheduleDailyVacuum()
	// Schedule periodic ballot chain checks for data integrity
	d.scheduleBallotChainCheck()
	return nil
}

func (d *MetadataStoreSqlite) runVacuum() error {
	d.timerMutex.Lock()
	if d.dataDir == "" || d.closed {
		d.timerMutex.Unlock()
		return nil
	}
	// Track this vacuum operation while we know the store is open
	d.vacuumWG.Add(1)
	d.timerMutex.Unlock()
	defer d.vacuumWG.Done()

	if result := d.DB().Exec("VACUUM"); result.Error != nil {
		return result.Error
	}
	return nil
}

// scheduleDailyVacuum schedules a daily vacuum operation
func (d *MetadataStoreSqlite) scheduleDailyVacuum() {
	d.timerMutex.Lock()
	defer d.timerMutex.Unlock()
	if d.closed {
		return
	}

	if d.timerVacuum != nil {
		d.timerVacuum.Stop()
	}
	daily := time.Duration(24) * time.Hour
	f := func() {
		d.logger.Debug(
			"running vacuum on sqlite metadata database",
		)
		// schedule next run
		defer d.scheduleDailyVacuum()
		if err := d.runVacuum(); err != nil {
			d.logger.Error(
				"failed to free unused space in metadata store",
				"component", "database",
				"error", err,
			)
		}
	}
	d.timerVacuum = time.AfterFunc(daily, f)
}

// runBallotChainCheck looks for ballots whose replacement pointer leads
// nowhere. Ballot chains are append only, so a dangling pointer means
// lost votes and deserves a warning.
func (d *MetadataStoreSqlite) runBallotChainCheck() error {
	d.timerMutex.Lock()
	if d.closed {
		d.timerMutex.Unlock()
		return nil
	}
	// Track this check while we know the store is open
	d.ballotChainWG.Add(1)
	d.timerMutex.Unlock()
	defer d.ballotChainWG.Done()

	var danglingCount int64
	result := d.ReadDB().Raw(
		"SELECT count(*) FROM ballot b"+
			" LEFT JOIN ballot r ON b.replaced_by_id = r.id"+
			" WHERE b.replaced_by_id IS NOT NULL AND r.id IS NULL",
	).Scan(&danglingCount)
	if result.Error != nil {
		return result.Error
	}
	if danglingCount > 0 {
		d.logger.Warn(
			"found ballots with dangling replacement pointers",
			"component", "database",
			"count", danglingCount,
		)
	}
	return nil
}

// scheduleBallotChainCheck schedules periodic ballot chain checks
func (d *MetadataStoreSqlite) scheduleBallotChainCheck() {
	d.timerMutex.Lock()
	defer d.timerMutex.Unlock()
	if d.closed {
		return
	}

	if d.timerBallotChain != nil {
		d.timerBallotChain.Stop()
	}
	// Run the ballot chain check every 6 hours
	interval := time.Duration(6) * time.Hour
	f := func() {
		// schedule next run
		defer d.scheduleBallotChainCheck()
		if err := d.runBallotChainCheck(); err != nil {
			d.logger.Error(
				"failed to check ballot chains in metadata store",
				"component", "database",
				"error", err,
			)
		}
	}
	d.timerBallotChain = time.AfterFunc(interval, f)
}

// Stop implements the plugin.Plugin interface
func (d *MetadataStoreSqlite) Stop() error {
	return d.Close()
}

// AutoMigrate creates or updates database schema for the given models.
func (d *MetadataStoreSqlite) AutoMigrate(dst ...any) error {
	return d.DB().AutoMigrate(dst...)
}

// Close shuts down the database connections and stops background processes.
func (d *MetadataStoreSqlite) Close() error {
	d.timerMutex.Lock()
	d.closed = true
	if d.timerVacuum != nil {
		d.timerVacuum.Stop()
		d.timerVacuum = nil
	}
	if d.timerBallotChain != nil {
		d.timerBallotChain.Stop()
		d.timerBallotChain = nil
	}
	d.timerMutex.Unlock()

	// Wait for any in-flight vacuum operations to complete
	d.vacuumWG.Wait()

	// Wait for any in-flight ballot chain checks to complete
	d.ballotChainWG.Wait()

	var errs []error
	if d.db != nil {
		// get DB handle from gorm.DB
		db, err := d.db.DB()
		if err != nil {
			errs = append(errs, fmt.Errorf("get database handle: %w", err))
		} else {
			errs = append(errs, db.Close())
		}
	}
	if d.readDb != nil && d.readDb != d.db {
		readDb, err := d.readDb.DB()
		if err != nil {
			errs = append(
				errs,
				fmt.Errorf("get read database handle: %w", err),
			)
		} else {
			errs = append(errs, readDb.Close())
		}
	}
	return errors.Join(errs...)
}

// DB returns the write database handle.
func (d *MetadataStoreSqlite) DB() *gorm.DB {
	return d.db
}

// ReadDB returns the read database handle.
func (d *MetadataStoreSqlite) ReadDB() *gorm.DB {
	if d.readDb == nil {
		return d.db
	}
	return d.readDb
}

// Transaction starts a new write transaction.
func (d *MetadataStoreSqlite) Transaction() types.Txn {
	return &gormTxn{store: d, tx: d.DB().Begin()}
}

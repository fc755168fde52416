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

package database

import (
	"errors"
	"io"
	"log/slog"

	"github.com/blinklabs-io/tally/database/models"
	"github.com/blinklabs-io/tally/database/plugin"
	"github.com/blinklabs-io/tally/database/plugin/journal"
	"github.com/blinklabs-io/tally/database/plugin/metadata"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultMetadataPlugin = "sqlite"
	DefaultJournalPlugin  = "badger"
)

// Config contains the options for opening a database instance
type Config struct {
	Logger         *slog.Logger
	PromRegistry   prometheus.Registerer
	DataDir        string
	MetadataPlugin string
	JournalPlugin  string
}

type Database struct {
	logger   *slog.Logger
	journal  journal.JournalStore
	metadata metadata.MetadataStore
	dataDir  string
}

// Journal returns the underlying journal store instance
func (d *Database) Journal() journal.JournalStore {
	return d.journal
}

// DataDir returns the path to the data directory used for storage
func (d *Database) DataDir() string {
	return d.dataDir
}

// Logger returns the logger instance
func (d *Database) Logger() *slog.Logger {
	return d.logger
}

// Metadata returns the underlying metadata store instance
func (d *Database) Metadata() metadata.MetadataStore {
	return d.metadata
}

// Transaction starts a new database transaction and returns a handle to it
func (d *Database) Transaction(readWrite bool) *Txn {
	return NewTxn(d, readWrite)
}

// Close cleans up the database connections
func (d *Database) Close() error {
	var err error
	// Close metadata
	metadataErr := d.Metadata().Close()
	err = errors.Join(err, metadataErr)
	// Close journal
	journalErr := d.Journal().Close()
	err = errors.Join(err, journalErr)
	return err
}

func (d *Database) init() error {
	if d.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		d.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	// Check commit timestamp
	if err := d.checkCommitTimestamp(); err != nil {
		return err
	}
	return nil
}

// New creates a new database instance with optional persistence using the provided data directory
func New(cfg *Config) (*Database, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	metadataPlugin := cfg.MetadataPlugin
	if metadataPlugin == "" {
		metadataPlugin = DefaultMetadataPlugin
	}
	journalPlugin := cfg.JournalPlugin
	if journalPlugin == "" {
		journalPlugin = DefaultJournalPlugin
	}
	metadataDb, err := metadata.New(
		metadataPlugin,
		cfg.DataDir,
		cfg.Logger,
		cfg.PromRegistry,
	)
	if err != nil {
		return nil, err
	}
	if err := metadataDb.Start(); err != nil {
		return nil, err
	}
	if err := metadataDb.AutoMigrate(models.MigrateModels...); err != nil {
		return nil, err
	}
	// The journal plugin is configured through the plugin registry. An
	// empty data dir selects the in-memory store, so it must be passed
	// through rather than left at the registered default.
	if err := plugin.SetPluginOption(
		plugin.PluginTypeJournal,
		journalPlugin,
		"data-dir",
		cfg.DataDir,
	); err != nil {
		return nil, err
	}
	journalDb, err := journal.New(journalPlugin)
	if err != nil {
		return nil, err
	}
	db := &Database{
		logger:   cfg.Logger,
		journal:  journalDb,
		metadata: metadataDb,
		dataDir:  cfg.DataDir,
	}
	if err := db.init(); err != nil {
		// Database is available for recovery, so return it with error
		return db, err
	}
	return db, nil
}

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

package journal

import (
	"fmt"

	"github.com/blinklabs-io/tally/database/plugin"
	// ensure we have all the plugins loaded
	_ "github.com/blinklabs-io/tally/database/plugin/journal/badger"
	"github.com/blinklabs-io/tally/database/types"
)

// JournalStore is an append-only log of engine events. Entries are
// assigned monotonically increasing sequence numbers; iteration order
// matches append order.
type JournalStore interface {
	Close() error
	NewTransaction(update bool) types.Txn
	GetCommitTimestamp() (int64, error)
	SetCommitTimestamp(
		int64, // timestamp
		types.Txn,
	) error

	Append(txn types.Txn, value []byte) (uint64, error)
	Get(txn types.Txn, seq uint64) ([]byte, error)
	NewIterator(
		txn types.Txn,
		opts types.JournalIteratorOptions,
	) types.JournalIterator
}

// New returns the started journal plugin selected by name
func New(pluginName string) (JournalStore, error) {
	// Get and start the plugin
	p, err := plugin.StartPlugin(plugin.PluginTypeJournal, pluginName)
	if err != nil {
		return nil, err
	}

	// Type assert to JournalStore interface
	journalStore, ok := p.(JournalStore)
	if !ok {
		return nil, fmt.Errorf(
			"plugin '%s' does not implement JournalStore interface",
			pluginName,
		)
	}

	return journalStore, nil
}

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

package node

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/blinklabs-io/tally/database"
	"github.com/blinklabs-io/tally/event"
	"github.com/blinklabs-io/tally/internal/config"
	"github.com/blinklabs-io/tally/targets"
	"github.com/blinklabs-io/tally/voting"
)

// Reconcile runs a single rule reconciliation sweep against the configured
// database and logs every voting rule change it makes.
func Reconcile(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")
	// Load database
	db, err := database.New(
		&database.Config{
			Logger:         logger,
			DataDir:        cfg.DatabasePath,
			MetadataPlugin: cfg.MetadataPlugin,
			JournalPlugin:  cfg.JournalPlugin,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error(
				fmt.Sprintf("failed to close database: %s", err),
				"component", "node",
			)
		}
	}()
	eventBus := event.NewEventBus(nil, logger)
	defer eventBus.Stop()
	results, err := voting.ReconcileRules(context.Background(), db, eventBus)
	if err != nil {
		return fmt.Errorf("failed to reconcile rules: %w", err)
	}
	if len(results) == 0 {
		logger.Info("voting rules already in sync", "component", "node")
		return nil
	}
	var total int
	for _, name := range slices.Sorted(maps.Keys(results)) {
		for _, change := range results[name] {
			var target string
			if change.Target != nil {
				target = fmt.Sprintf(
					"%s:%s",
					change.Target.Type,
					change.Target.Identifier,
				)
			}
			logger.Info(
				fmt.Sprintf("rule %s", change.Result),
				"component", "node",
				"configuration", name,
				"target", target,
				"policy", targets.RulePolicy(change.Rule.Policy).Label(),
			)
		}
		total += len(results[name])
	}
	logger.Info(
		fmt.Sprintf(
			"finished reconciliation with %d rule changes across %d configurations",
			total,
			len(results),
		),
		"component", "node",
	)
	return nil
}

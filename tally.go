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

package tally

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blinklabs-io/tally/database"
	"github.com/blinklabs-io/tally/database/models"
	"github.com/blinklabs-io/tally/event"
	"github.com/blinklabs-io/tally/targets"
	"github.com/blinklabs-io/tally/voting"
)

// ErrNotStarted is returned by engine operations before Run has opened the
// database.
var ErrNotStarted = errors.New("engine not started")

type Tally struct {
	eventBus        *event.EventBus
	db              *database.Database
	metrics         *engineMetrics
	reconcileCancel context.CancelFunc
	reconcileDone   chan struct{}
	shutdownFuncs   []func(context.Context) error
	config          Config
	done            chan struct{}
	shutdownOnce    sync.Once
	ownsEventBus    bool
}

func New(cfg Config) (*Tally, error) {
	t := &Tally{
		config:   cfg,
		eventBus: cfg.eventBus,
		done:     make(chan struct{}),
	}
	if t.eventBus == nil {
		t.eventBus = event.NewEventBus(cfg.promRegistry, cfg.logger)
		t.ownsEventBus = true
	}
	if err := t.configValidate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.promRegistry != nil {
		t.initMetrics(cfg.promRegistry)
	}
	return t, nil
}

// Run starts the engine and blocks until ctx is cancelled or Stop is
// called.
func (t *Tally) Run(ctx context.Context) error {
	if err := t.start(); err != nil {
		return err
	}
	t.config.logger.Info(
		"engine started",
		"component", "tally",
		"data_dir", t.config.dataDir,
	)
	select {
	case <-ctx.Done():
		return t.Stop()
	case <-t.done:
		return nil
	}
}

func (t *Tally) start() error {
	// Configure tracing
	if t.config.tracing {
		if err := t.setupTracing(); err != nil {
			return err
		}
	}
	// Load database
	db, err := database.New(&database.Config{
		DataDir:        t.config.dataDir,
		Logger:         t.config.logger,
		PromRegistry:   t.config.promRegistry,
		MetadataPlugin: t.config.metadataPlugin,
		JournalPlugin:  t.config.journalPlugin,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	t.db = db
	// Start periodic rule reconciliation
	if t.config.reconcileInterval > 0 {
		reconcileCtx, cancel := context.WithCancel(context.Background())
		t.reconcileCancel = cancel
		t.reconcileDone = make(chan struct{})
		go t.reconcileLoop(reconcileCtx)
	}
	return nil
}

func (t *Tally) Stop() error {
	var err error
	t.shutdownOnce.Do(func() {
		err = t.shutdown()
	})
	return err
}

func (t *Tally) shutdown() error {
	// Create shutdown context with timeout (default 30s if not configured)
	shutdownTimeout := 30 * time.Second
	if t.config.shutdownTimeout > 0 {
		shutdownTimeout = t.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	t.config.logger.Debug("starting graceful shutdown", "component", "tally")

	// Stop periodic work
	if t.reconcileCancel != nil {
		t.reconcileCancel()
		select {
		case <-t.reconcileDone:
		case <-ctx.Done():
			err = errors.Join(
				err,
				fmt.Errorf("reconcile loop shutdown: %w", ctx.Err()),
			)
		}
	}

	// Flush state and close database
	if t.db != nil {
		if closeErr := t.db.Close(); closeErr != nil {
			err = errors.Join(
				err,
				fmt.Errorf("database close: %w", closeErr),
			)
		}
	}

	// Call registered shutdown functions
	for _, fn := range t.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	t.shutdownFuncs = nil

	// An injected event bus belongs to its creator
	if t.ownsEventBus && t.eventBus != nil {
		t.eventBus.Stop()
	}

	t.config.logger.Debug("graceful shutdown complete", "component", "tally")
	close(t.done)
	return err
}

// Database returns the underlying database once the engine has started.
func (t *Tally) Database() *database.Database {
	return t.db
}

// EventBus returns the event bus voting events are published on.
func (t *Tally) EventBus() *event.EventBus {
	return t.eventBus
}

func (t *Tally) reconcileLoop(ctx context.Context) {
	defer close(t.reconcileDone)
	ticker := time.NewTicker(t.config.reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			results, err := t.ReconcileRules(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				t.config.logger.Error(
					"rule reconciliation failed",
					"component", "tally",
					"error", err,
				)
				continue
			}
			changed := 0
			for _, changes := range results {
				changed += len(changes)
			}
			if changed > 0 {
				t.config.logger.Info(
					"rule reconciliation applied changes",
					"component", "tally",
					"configurations", len(results),
					"changes", changed,
				)
			}
		}
	}
}

func (t *Tally) resolveVoter(realmUserUUID string) (voting.Voter, error) {
	if realmUserUUID == "" {
		return voting.AnonymousVoter(), nil
	}
	return voting.ResolveVoter(
		t.db.Metadata(),
		realmUserUUID,
		t.config.maxMachineAge,
	)
}

// VoteRequest is one requested vote: a direction on a named configuration.
type VoteRequest struct {
	Configuration string
	IsYesVote     bool
}

// CastVotes casts the given votes on a target as one ballot for the realm
// user. The vote configurations are resolved by name against the voter's
// full voting scope.
func (t *Tally) CastVotes(
	ctx context.Context,
	target targets.Target,
	realmUserUUID string,
	requests []VoteRequest,
) error {
	if t.db == nil {
		return ErrNotStarted
	}
	voter, err := t.resolveVoter(realmUserUUID)
	if err != nil {
		return err
	}
	store := t.db.Metadata()
	votes := make([]voting.Vote, 0, len(requests))
	for _, request := range requests {
		configuration, err := store.GetConfigurationByName(
			request.Configuration,
			nil,
		)
		if err != nil {
			return err
		}
		votes = append(votes, voting.Vote{
			Configuration: configuration,
			IsYesVote:     request.IsYesVote,
		})
	}
	box, err := voting.NewBallotBox(ctx, t.db, target, voter,
		voting.BallotBoxConfig{
			Logger:            t.config.logger,
			EventBus:          t.eventBus,
			AllConfigurations: true,
		})
	if err != nil {
		return err
	}
	defer box.Release()
	return box.CastVotes(ctx, votes)
}

// CastDefaultVotes casts a vote in the given direction on every
// configuration where the realm user has an enrolled machine and the vote
// passes the voting checks. Configurations where nothing may be cast are
// skipped silently.
func (t *Tally) CastDefaultVotes(
	ctx context.Context,
	target targets.Target,
	realmUserUUID string,
	isYesVote bool,
) error {
	if t.db == nil {
		return ErrNotStarted
	}
	voter, err := t.resolveVoter(realmUserUUID)
	if err != nil {
		return err
	}
	box, err := voting.NewBallotBox(ctx, t.db, target, voter,
		voting.BallotBoxConfig{
			Logger:   t.config.logger,
			EventBus: t.eventBus,
		})
	if err != nil {
		return err
	}
	defer box.Release()
	return box.CastDefaultVotes(ctx, isYesVote, nil)
}

// ResetTargetState clears the voting history of a target on the named
// configuration. The realm user needs the reset capability on that
// configuration.
func (t *Tally) ResetTargetState(
	ctx context.Context,
	target targets.Target,
	realmUserUUID string,
	configurationName string,
) error {
	if t.db == nil {
		return ErrNotStarted
	}
	voter, err := t.resolveVoter(realmUserUUID)
	if err != nil {
		return err
	}
	configuration, err := t.db.Metadata().GetConfigurationByName(
		configurationName,
		nil,
	)
	if err != nil {
		return err
	}
	box, err := voting.NewBallotBox(ctx, t.db, target, voter,
		voting.BallotBoxConfig{
			Logger:            t.config.logger,
			EventBus:          t.eventBus,
			AllConfigurations: true,
		})
	if err != nil {
		return err
	}
	defer box.Release()
	return box.ResetTargetState(ctx, configuration)
}

// ConfigurationStatus is the per configuration part of a target report.
type ConfigurationStatus struct {
	State         *models.TargetState
	BallotTarget  *targets.Target
	Configuration string
	AllowedVotes  []bool
}

// TargetReport describes a target from the point of view of one realm
// user: its display metadata, its relation closure and, per configuration
// in the user's voting scope, the current state, the vote directions the
// user may still cast and the preferred target to open a ballot box on.
type TargetReport struct {
	Info             *voting.TargetInfo
	Related          map[targets.Type][]*voting.RelatedTarget
	Target           targets.Target
	ConflictMessages []string
	Configurations   []ConfigurationStatus
}

// TargetReport builds the report for a target. An empty realmUserUUID
// produces an anonymous report without configuration entries. The report
// is a pure read and takes no lock on the target.
func (t *Tally) TargetReport(
	ctx context.Context,
	target targets.Target,
	realmUserUUID string,
) (*TargetReport, error) {
	if t.db == nil {
		return nil, ErrNotStarted
	}
	voter, err := t.resolveVoter(realmUserUUID)
	if err != nil {
		return nil, err
	}
	box, err := voting.NewBallotBox(ctx, t.db, target, voter,
		voting.BallotBoxConfig{
			Logger:            t.config.logger,
			EventBus:          t.eventBus,
			AllConfigurations: true,
			SkipLock:          true,
		})
	if err != nil {
		return nil, err
	}
	defer box.Release()
	store := t.db.Metadata()
	info, err := voting.GetTargetInfo(store, box.Target())
	if err != nil {
		return nil, err
	}
	allowed := make(map[uint][]bool)
	for _, entry := range box.GetConfigurationsAllowedVotes() {
		allowed[entry.Configuration.ID] = entry.IsYesVote
	}
	report := &TargetReport{
		Info:             info,
		Related:          box.RelatedTargets(),
		Target:           target,
		ConflictMessages: box.ConflictingRuleCustomMessages(),
	}
	configurations := box.Configurations()
	for i := range configurations {
		configuration := &configurations[i]
		status := ConfigurationStatus{
			State:         box.TargetState(configuration.ID),
			Configuration: configuration.Name,
			AllowedVotes:  allowed[configuration.ID],
		}
		best, ok := voting.BestBallotBoxTarget(
			configuration,
			report.Related,
		)
		if ok {
			status.BallotTarget = &targets.Target{
				Type:       targets.Type(best.Target.Type),
				Identifier: best.Target.Identifier,
			}
		}
		report.Configurations = append(report.Configurations, status)
	}
	return report, nil
}

// ReconcileRules rebuilds the voting rules of every configuration from
// the current target states and returns the changes grouped by
// configuration name.
func (t *Tally) ReconcileRules(
	ctx context.Context,
) (map[string][]voting.RuleChange, error) {
	if t.db == nil {
		return nil, ErrNotStarted
	}
	results, err := voting.ReconcileRules(ctx, t.db, t.eventBus)
	if t.metrics != nil {
		t.metrics.reconcileRuns.Inc()
		for _, changes := range results {
			for i := range changes {
				t.metrics.ruleChanges.WithLabelValues(
					changes[i].Result,
				).Inc()
			}
		}
	}
	return results, err
}

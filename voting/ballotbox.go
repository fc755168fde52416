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

package voting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/blinklabs-io/tally/database"
	"github.com/blinklabs-io/tally/database/models"
	"github.com/blinklabs-io/tally/database/plugin/metadata"
	"github.com/blinklabs-io/tally/database/types"
	"github.com/blinklabs-io/tally/event"
	"github.com/blinklabs-io/tally/targets"
)

// DefaultConflictMessage is shown for conflicting operator rules that
// carry no custom message.
const DefaultConflictMessage = "Voting is not allowed on this app."

type BallotBoxConfig struct {
	Logger      *slog.Logger
	EventBus    *event.EventBus
	LockManager *LockManager
	// AllConfigurations opens the ballot box on every configuration the
	// voter may vote on instead of only those with an enrolled machine of
	// the voter.
	AllConfigurations bool
	// SkipLock leaves the target unlocked, for read only uses.
	SkipLock bool
}

// BallotBox drives voting on one target. Construction resolves everything
// the voting checks need: the configurations in scope, the target states
// (created on first access), the relation closure around the target, the
// conflicting operator rules and the voter's current ballot. Unless
// configured otherwise the target stays locked until Release is called,
// serializing concurrent boxes on the same target.
type BallotBox struct {
	db             *database.Database
	logger         *slog.Logger
	eventBus       *event.EventBus
	voter          Voter
	target         *models.Target
	bundle         *models.Bundle
	existingBallot *models.Ballot
	release        func()
	eventTarget    *targets.Target
	targetStates   map[uint]*models.TargetState
	related        map[targets.Type][]*RelatedTarget
	conflicts      map[uint][]models.Rule
	existingVotes  map[uint]bool
	configurations []models.Configuration
}

// NewBallotBox opens a ballot box on a target for a voter. The target row
// is created if it does not exist yet. The box must be released when done.
func NewBallotBox(
	ctx context.Context,
	db *database.Database,
	target targets.Target,
	voter Voter,
	cfg BallotBoxConfig,
) (*BallotBox, error) {
	logger := cfg.Logger
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log
		// operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	b := &BallotBox{
		db:       db,
		logger:   logger.With("component", "voting"),
		eventBus: cfg.EventBus,
		voter:    voter,
	}
	if !cfg.SkipLock {
		manager := cfg.LockManager
		if manager == nil {
			manager = defaultLockManager
		}
		release, err := manager.Acquire(ctx, target.LockKey())
		if err != nil {
			return nil, err
		}
		b.release = release
	}
	if err := b.load(target, cfg.AllConfigurations); err != nil {
		b.Release()
		return nil, err
	}
	return b, nil
}

// Release unlocks the target. It is safe to call more than once.
func (b *BallotBox) Release() {
	if b.release != nil {
		b.release()
	}
}

func (b *BallotBox) load(
	target targets.Target,
	allConfigurations bool,
) error {
	store := b.db.Metadata()
	row, err := store.GetOrCreateTarget(
		string(target.Type),
		target.Identifier,
		nil,
	)
	if err != nil {
		return err
	}
	b.target = row
	b.configurations = b.voter.Configurations(allConfigurations)
	b.targetStates = make(
		map[uint]*models.TargetState,
		len(b.configurations),
	)
	configurationIDs := make([]uint, 0, len(b.configurations))
	for i := range b.configurations {
		configuration := &b.configurations[i]
		configurationIDs = append(configurationIDs, configuration.ID)
		state, err := store.GetTargetState(row.ID, configuration.ID, nil)
		if err != nil {
			if !errors.Is(err, models.ErrTargetStateNotFound) {
				return err
			}
			state = &models.TargetState{
				TargetID:        row.ID,
				ConfigurationID: configuration.ID,
				State:           models.TargetStateUntrusted,
			}
			if err := store.SetTargetState(state, nil); err != nil {
				return err
			}
		}
		b.targetStates[configuration.ID] = state
	}
	b.related, err = RelatedTargets(store, row, configurationIDs)
	if err != nil {
		return err
	}
	targetType := targets.Type(row.Type)
	if targetType == targets.TypeBundle ||
		targetType == targets.TypeMetaBundle {
		b.bundle, err = store.GetBundle(row.ID, nil)
		if err != nil {
			return err
		}
	}
	if err := b.loadConflicts(store); err != nil {
		return err
	}
	b.existingVotes = make(map[uint]bool)
	if b.voter.IsAnonymous() {
		return nil
	}
	b.existingBallot, err = store.GetCurrentBallot(
		row.ID,
		b.voter.RealmUUID(),
		b.voter.Username(),
		nil,
	)
	if err != nil {
		return err
	}
	if b.existingBallot == nil {
		return nil
	}
	votes, err := store.GetVotes(b.existingBallot.ID, nil)
	if err != nil {
		return err
	}
	for _, vote := range votes {
		state := b.targetStates[vote.ConfigurationID]
		if state == nil {
			continue
		}
		if state.ResetAt != nil && !vote.CreatedAt.After(*state.ResetAt) {
			// The vote predates a reset and no longer counts
			continue
		}
		b.existingVotes[vote.ConfigurationID] = vote.WasYesVote
	}
	return nil
}

// loadConflicts finds the operator rules that overlap the relation closure
// and block voting. The closure is walked from the most general rule type
// to the most specific; the first type with matching non-voting rules wins
// and matches at more specific types do not count as conflicts.
func (b *BallotBox) loadConflicts(store metadata.MetadataStore) error {
	byType := make(map[targets.Type][]uint)
	var ids []uint
	for _, targetType := range targets.ConflictWalkOrder() {
		for _, node := range b.related[targetType] {
			byType[targetType] = append(byType[targetType], node.Target.ID)
			ids = append(ids, node.Target.ID)
		}
	}
	b.conflicts = make(map[uint][]models.Rule)
	if len(ids) == 0 {
		return nil
	}
	for i := range b.configurations {
		configuration := &b.configurations[i]
		rules, err := store.GetNonVotingRules(configuration.ID, ids, nil)
		if err != nil {
			return err
		}
		if len(rules) == 0 {
			continue
		}
		rulesByTarget := make(map[uint][]models.Rule)
		for _, rule := range rules {
			rulesByTarget[rule.TargetID] = append(
				rulesByTarget[rule.TargetID],
				rule,
			)
		}
		for _, targetType := range targets.ConflictWalkOrder() {
			var matched []models.Rule
			for _, id := range byType[targetType] {
				matched = append(matched, rulesByTarget[id]...)
			}
			if len(matched) > 0 {
				b.conflicts[configuration.ID] = matched
				break
			}
		}
	}
	return nil
}

// Target returns the target row the box operates on.
func (b *BallotBox) Target() *models.Target {
	return b.target
}

// Voter returns the resolved voter.
func (b *BallotBox) Voter() Voter {
	return b.voter
}

// Configurations returns the configurations in scope, ordered by name.
func (b *BallotBox) Configurations() []models.Configuration {
	return b.configurations
}

// TargetState returns the state of the target on one configuration, or nil
// when the configuration is out of scope.
func (b *BallotBox) TargetState(configurationID uint) *models.TargetState {
	return b.targetStates[configurationID]
}

// RelatedTargets returns the relation closure of the target by type.
func (b *BallotBox) RelatedTargets() map[targets.Type][]*RelatedTarget {
	return b.related
}

// ConflictingNonVotingRules returns the operator rules that block voting,
// keyed by configuration id.
func (b *BallotBox) ConflictingNonVotingRules() map[uint][]models.Rule {
	return b.conflicts
}

// ConflictingRuleCustomMessages returns the distinct custom messages of the
// conflicting operator rules, sorted. Rules without a custom message
// contribute the default message.
func (b *BallotBox) ConflictingRuleCustomMessages() []string {
	seen := make(map[string]bool)
	var messages []string
	for _, rules := range b.conflicts {
		for _, rule := range rules {
			message := rule.CustomMsg
			if message == "" {
				message = DefaultConflictMessage
			}
			if !seen[message] {
				seen[message] = true
				messages = append(messages, message)
			}
		}
	}
	slices.Sort(messages)
	return messages
}

// CheckVotingAllowed returns the reason the voter may not cast the given
// vote on a configuration, or an empty string when the vote is allowed.
// The checks run in a fixed order and the first failing one wins.
func (b *BallotBox) CheckVotingAllowed(
	configuration *models.Configuration,
	isYesVote bool,
) string {
	if b.voter.IsAnonymous() {
		return "Anonymous voter"
	}
	if configuration == nil || b.targetStates[configuration.ID] == nil {
		return "No link to configuration"
	}
	state := b.targetStates[configuration.ID]
	targetType := targets.Type(b.target.Type)
	if state.State == models.TargetStateBanned {
		return "Target is banned"
	}
	if state.State == models.TargetStateGloballyAllowlisted {
		return "Target is globally allowlisted"
	}
	if targetType == targets.TypeBundle ||
		targetType == targets.TypeMetaBundle {
		if b.bundle == nil || !b.bundle.Uploaded() {
			return "Missing bundle information"
		}
		if b.hasFlaggedBinary(configuration.ID) {
			return "The target contains a flagged BINARY target"
		}
	}
	if state.Flagged && !b.voter.CanUnflagTarget(configuration.ID) {
		return "User does not have the permission to vote on flagged targets"
	}
	if state.State == models.TargetStateSuspect &&
		!b.voter.CanMarkMalware(configuration.ID) {
		return "User does not have the permission to vote on malware targets"
	}
	if !b.voter.CanVoteOnTargetType(configuration, targetType) {
		return "User is not allowed to vote on " + string(targetType)
	}
	if !b.voter.CanResetTarget(configuration.ID) &&
		b.hasBannedCertificate(configuration.ID) {
		return "CERTIFICATE target is Banned"
	}
	if !isYesVote &&
		(targetType == targets.TypeBundle ||
			targetType == targets.TypeMetaBundle) {
		return "A " + string(targetType) + " cannot be downvoted"
	}
	if len(b.conflicts[configuration.ID]) > 0 {
		return "Conflicting non-voting rule"
	}
	return ""
}

// hasFlaggedBinary reports whether a BINARY member of the target is
// flagged on the configuration.
func (b *BallotBox) hasFlaggedBinary(configurationID uint) bool {
	for _, node := range b.related[targets.TypeBinary] {
		if state := node.States[configurationID]; state != nil &&
			state.Flagged {
			return true
		}
	}
	return false
}

// hasBannedCertificate reports whether a related certificate is banned on
// the configuration.
func (b *BallotBox) hasBannedCertificate(configurationID uint) bool {
	for _, node := range b.related[targets.TypeCertificate] {
		if node.Self {
			continue
		}
		if state := node.States[configurationID]; state != nil &&
			state.State == models.TargetStateBanned {
			return true
		}
	}
	return false
}

// AllowedVotes lists the vote directions a voter may still cast on a
// configuration.
type AllowedVotes struct {
	Configuration *models.Configuration
	IsYesVote     []bool
}

// GetConfigurationsAllowedVotes returns, per configuration in scope, the
// directions that pass the voting checks and do not repeat the voter's
// current vote. Configurations with no allowed direction are omitted.
func (b *BallotBox) GetConfigurationsAllowedVotes() []AllowedVotes {
	var allowed []AllowedVotes
	for i := range b.configurations {
		configuration := &b.configurations[i]
		var directions []bool
		for _, isYesVote := range []bool{true, false} {
			if b.CheckVotingAllowed(configuration, isYesVote) != "" {
				continue
			}
			if existing, ok := b.existingVotes[configuration.ID]; ok &&
				existing == isYesVote {
				continue
			}
			directions = append(directions, isYesVote)
		}
		if len(directions) > 0 {
			allowed = append(allowed, AllowedVotes{
				Configuration: configuration,
				IsYesVote:     directions,
			})
		}
	}
	return allowed
}

// Vote is one requested vote: a direction on a configuration.
type Vote struct {
	Configuration *models.Configuration
	IsYesVote     bool
}

// CastDefaultVotes casts a vote in the given direction on every
// configuration in scope where it is allowed and not a repeat of the
// voter's current vote. Nothing happens when no configuration qualifies.
// When eventTarget is set it is recorded on the ballot as the target the
// vote was initiated from.
func (b *BallotBox) CastDefaultVotes(
	ctx context.Context,
	isYesVote bool,
	eventTarget *targets.Target,
) error {
	var votes []Vote
	for i := range b.configurations {
		configuration := &b.configurations[i]
		if b.CheckVotingAllowed(configuration, isYesVote) != "" {
			continue
		}
		if existing, ok := b.existingVotes[configuration.ID]; ok &&
			existing == isYesVote {
			continue
		}
		votes = append(votes, Vote{
			Configuration: configuration,
			IsYesVote:     isYesVote,
		})
	}
	if len(votes) == 0 {
		return nil
	}
	b.eventTarget = eventTarget
	return b.CastVotes(ctx, votes)
}

// CastVotes casts the given votes as one ballot. Every vote must pass the
// voting checks. The ballot and its votes, the replacement of the voter's
// earlier ballot, the target state updates, the rule sync and the journaled
// events are committed in a single transaction; a failed cast changes
// nothing. Events reach the event bus only after the commit.
func (b *BallotBox) CastVotes(ctx context.Context, votes []Vote) error {
	if b.voter.IsAnonymous() {
		return &VotingError{Message: "anonymous voters cannot vote"}
	}
	if len(votes) == 0 {
		return &VotingError{Message: "no votes"}
	}
	seen := make(map[uint]bool, len(votes))
	for _, vote := range votes {
		if vote.Configuration == nil {
			return &VotingError{Message: "vote without configuration"}
		}
		if seen[vote.Configuration.ID] {
			return &VotingError{Message: fmt.Sprintf(
				"duplicate vote on configuration %q",
				vote.Configuration.Name,
			)}
		}
		seen[vote.Configuration.ID] = true
		reason := b.CheckVotingAllowed(vote.Configuration, vote.IsYesVote)
		if reason != "" {
			return &VotingNotAllowedError{
				Configuration: vote.Configuration.Name,
				IsYesVote:     vote.IsYesVote,
				Reason:        reason,
			}
		}
	}
	if b.isDuplicate(votes) {
		return &DuplicateVoteError{}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	outbox := &eventOutbox{db: b.db}
	updates := make(map[uint]models.TargetState, len(votes))
	var ballot *models.Ballot
	err := b.db.Transaction(true).Do(func(txn *database.Txn) error {
		var err error
		ballot, err = b.createBallot(txn, votes, outbox)
		if err != nil {
			return err
		}
		if err := b.updateTargetStates(txn, votes, updates, outbox); err != nil {
			return err
		}
		if err := b.syncRules(txn, votes, outbox); err != nil {
			return err
		}
		return outbox.journal(txn)
	})
	if err != nil {
		return err
	}
	b.existingBallot = ballot
	b.existingVotes = make(map[uint]bool, len(votes))
	for _, vote := range votes {
		b.existingVotes[vote.Configuration.ID] = vote.IsYesVote
	}
	for configurationID, updated := range updates {
		*b.targetStates[configurationID] = updated
	}
	outbox.publish(b.eventBus)
	b.logger.Debug(
		"ballot cast",
		"target", b.target.Type+":"+b.target.Identifier,
		"voter", b.voter.Username(),
		"votes", len(votes),
	)
	return nil
}

// isDuplicate reports whether the requested votes are identical to the
// unexpired votes of the voter's current ballot.
func (b *BallotBox) isDuplicate(votes []Vote) bool {
	if b.existingBallot == nil || len(b.existingVotes) != len(votes) {
		return false
	}
	for _, vote := range votes {
		existing, ok := b.existingVotes[vote.Configuration.ID]
		if !ok || existing != vote.IsYesVote {
			return false
		}
	}
	return true
}

// createBallot inserts the new ballot and its votes, replaces the voter's
// earlier ballot and stages the ballot event.
func (b *BallotBox) createBallot(
	txn *database.Txn,
	votes []Vote,
	outbox *eventOutbox,
) (*models.Ballot, error) {
	store := b.db.Metadata()
	realmUserUUID := b.voter.RealmUserUUID()
	eventTarget := types.TargetRef{
		Type:       b.target.Type,
		Identifier: b.target.Identifier,
	}
	if b.eventTarget != nil {
		eventTarget = types.TargetRef{
			Type:       string(b.eventTarget.Type),
			Identifier: b.eventTarget.Identifier,
		}
	}
	ballot := &models.Ballot{
		TargetID:      b.target.ID,
		RealmUserUUID: &realmUserUUID,
		UserUID:       b.voter.Username(),
		EventTarget:   eventTarget,
		CreatedAt:     time.Now(),
	}
	if err := store.CreateBallot(ballot, txn.Metadata()); err != nil {
		return nil, err
	}
	eventVotes := make([]EventVote, 0, len(votes))
	for _, vote := range votes {
		weight := b.voter.VotingWeight(vote.Configuration)
		if err := store.CreateVote(&models.Vote{
			BallotID:        ballot.ID,
			ConfigurationID: vote.Configuration.ID,
			WasYesVote:      vote.IsYesVote,
			Weight:          weight,
			CreatedAt:       ballot.CreatedAt,
		}, txn.Metadata()); err != nil {
			return nil, err
		}
		eventVotes = append(eventVotes, EventVote{
			Configuration: vote.Configuration.Name,
			WasYesVote:    vote.IsYesVote,
			Weight:        weight,
		})
	}
	castEvent := &BallotCastEvent{
		Target:        newEventTarget(b.target),
		RealmUserUUID: realmUserUUID,
		Username:      b.voter.Username(),
		Votes:         eventVotes,
		BallotID:      ballot.ID,
	}
	if b.eventTarget != nil {
		castEvent.EventTarget = &EventTarget{
			Type:       string(b.eventTarget.Type),
			Identifier: b.eventTarget.Identifier,
		}
	}
	if b.existingBallot != nil {
		if err := store.ReplaceBallot(
			b.existingBallot.ID,
			ballot.ID,
			txn.Metadata(),
		); err != nil {
			return nil, err
		}
		replacedID := b.existingBallot.ID
		castEvent.ReplacedBallotID = &replacedID
	}
	outbox.stage(BallotCastEventType, castEvent)
	return ballot, nil
}

// updateTargetStates recomputes the score of the target on every voted
// configuration and derives the new state from it. The score is the signed
// weight sum of all votes cast after the latest reset, replaced ballots
// included. A state event is staged only when an observable field changed.
// The new state rows are written inside txn and collected in updates; the
// in-memory states are only replaced once the transaction commits.
func (b *BallotBox) updateTargetStates(
	txn *database.Txn,
	votes []Vote,
	updates map[uint]models.TargetState,
	outbox *eventOutbox,
) error {
	store := b.db.Metadata()
	for _, vote := range votes {
		state := b.targetStates[vote.Configuration.ID]
		updated := *state
		score, err := store.GetVoteSum(
			b.target.ID,
			vote.Configuration.ID,
			state.ResetAt,
			txn.Metadata(),
		)
		if err != nil {
			return err
		}
		newState, flagged := StateFromScore(score, vote.Configuration)
		updated.Score = score
		updated.State = newState
		updated.Flagged = flagged
		if err := store.SetTargetState(&updated, txn.Metadata()); err != nil {
			return err
		}
		updates[vote.Configuration.ID] = updated
		previous := newTargetStateSnapshot(state)
		current := newTargetStateSnapshot(&updated)
		if snapshotChanged(previous, current) {
			outbox.stage(TargetStateUpdateEventType, &TargetStateUpdateEvent{
				Target:        newEventTarget(b.target),
				Configuration: vote.Configuration.Name,
				Previous:      previous,
				Current:       current,
			})
		}
	}
	return nil
}

// syncRules refreshes the voting rules derived from this target on every
// voted configuration and stages the resulting rule events.
func (b *BallotBox) syncRules(
	txn *database.Txn,
	votes []Vote,
	outbox *eventOutbox,
) error {
	store := b.db.Metadata()
	scope, err := b.ruleTargetScope(txn)
	if err != nil {
		return err
	}
	for _, vote := range votes {
		changes, err := SyncConfigurationRules(
			store,
			vote.Configuration,
			scope,
			txn.Metadata(),
		)
		if err != nil {
			return err
		}
		for i := range changes {
			outbox.stage(
				RuleUpdateEventType,
				changes[i].Event(vote.Configuration),
			)
		}
	}
	return nil
}

// ruleTargetScope returns the ids of the rule targets derived from the
// box's target: the member binaries for a BUNDLE, the member signing ids
// for a METABUNDLE, the target itself otherwise.
func (b *BallotBox) ruleTargetScope(
	txn *database.Txn,
) (map[uint]bool, error) {
	rows, err := ruleTargetsFor(b.db.Metadata(), b.target, txn.Metadata())
	if err != nil {
		return nil, err
	}
	scope := make(map[uint]bool, len(rows))
	for i := range rows {
		scope[rows[i].ID] = true
	}
	return scope, nil
}

// ResetTargetState clears the effect of the voting history of the target
// on one configuration: the score returns to zero, the state to untrusted,
// the reset timestamp is set and the voting rules derived from the target
// are dropped. Vote rows are kept; only votes cast after the reset count
// from here on. Requires the reset capability on the configuration.
func (b *BallotBox) ResetTargetState(
	ctx context.Context,
	configuration *models.Configuration,
) error {
	if !b.voter.CanResetTarget(configuration.ID) {
		return &ResetNotAllowedError{Configuration: configuration.Name}
	}
	state := b.targetStates[configuration.ID]
	if state == nil {
		return &VotingError{Message: fmt.Sprintf(
			"no link to configuration %q",
			configuration.Name,
		)}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now()
	updated := *state
	updated.ResetAt = &now
	updated.Score = 0
	updated.State = models.TargetStateUntrusted
	updated.Flagged = false
	outbox := &eventOutbox{db: b.db}
	err := b.db.Transaction(true).Do(func(txn *database.Txn) error {
		store := b.db.Metadata()
		if err := store.SetTargetState(&updated, txn.Metadata()); err != nil {
			return err
		}
		previous := newTargetStateSnapshot(state)
		current := newTargetStateSnapshot(&updated)
		if snapshotChanged(previous, current) {
			outbox.stage(TargetStateUpdateEventType, &TargetStateUpdateEvent{
				Target:        newEventTarget(b.target),
				Configuration: configuration.Name,
				Previous:      previous,
				Current:       current,
			})
		}
		outbox.stage(TargetStateResetEventType, &TargetStateResetEvent{
			ResetAt:       now,
			Configuration: configuration.Name,
			ResetBy:       b.voter.Username(),
			Target:        newEventTarget(b.target),
		})
		scope, err := b.ruleTargetScope(txn)
		if err != nil {
			return err
		}
		changes, err := SyncConfigurationRules(
			store,
			configuration,
			scope,
			txn.Metadata(),
		)
		if err != nil {
			return err
		}
		for i := range changes {
			outbox.stage(
				RuleUpdateEventType,
				changes[i].Event(configuration),
			)
		}
		return outbox.journal(txn)
	})
	if err != nil {
		return err
	}
	*state = updated
	// The voter's earlier votes on this configuration are expired now
	delete(b.existingVotes, configuration.ID)
	outbox.publish(b.eventBus)
	b.logger.Info(
		"target state reset",
		"target", b.target.Type+":"+b.target.Identifier,
		"configuration", configuration.Name,
		"voter", b.voter.Username(),
	)
	return nil
}

// snapshotChanged compares the observable fields of two snapshots.
func snapshotChanged(previous, current TargetStateSnapshot) bool {
	if previous.Score != current.Score ||
		previous.State != current.State ||
		previous.Flagged != current.Flagged {
		return true
	}
	switch {
	case previous.ResetAt == nil && current.ResetAt == nil:
		return false
	case previous.ResetAt == nil || current.ResetAt == nil:
		return true
	default:
		return !previous.ResetAt.Equal(*current.ResetAt)
	}
}

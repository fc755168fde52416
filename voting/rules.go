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
	"slices"
	"strings"

	"github.com/blinklabs-io/tally/database"
	"github.com/blinklabs-io/tally/database/models"
	"github.com/blinklabs-io/tally/database/plugin/metadata"
	"github.com/blinklabs-io/tally/database/types"
	"github.com/blinklabs-io/tally/event"
	"github.com/blinklabs-io/tally/targets"
)

// RuleChange describes one voting rule mutation performed by the rule
// synthesizer. Rule carries the row after the change, or the deleted row.
type RuleChange struct {
	Added   *RuleFieldDiff
	Removed *RuleFieldDiff
	Rule    *models.Rule
	Target  *models.Target
	Result  string
}

// Event builds the event payload announcing the change.
func (c *RuleChange) Event(
	configuration *models.Configuration,
) *RuleUpdateEvent {
	return &RuleUpdateEvent{
		Configuration: configuration.Name,
		Result:        c.Result,
		Added:         c.Added,
		Removed:       c.Removed,
		Rule: EventRule{
			Target:       newEventTarget(c.Target),
			Policy:       targets.RulePolicy(c.Rule.Policy).Label(),
			CustomMsg:    c.Rule.CustomMsg,
			PrimaryUsers: c.Rule.PrimaryUsers,
			Version:      c.Rule.Version,
		},
	}
}

// desiredRule is the synthesized outcome for one rule target.
type desiredRule struct {
	target       *models.Target
	primaryUsers map[string]bool
	state        int
}

func (d *desiredRule) policy() int {
	if d.state >= models.TargetStatePartiallyAllowlisted {
		return models.RulePolicyAllowlist
	}
	return models.RulePolicyBlocklist
}

// users returns the sorted primary users of the rule. Voters are only
// attached to partially allowlisted rules, so a rule promoted to globally
// allowlisted or demoted to banned applies to every machine.
func (d *desiredRule) users() []string {
	if d.state != models.TargetStatePartiallyAllowlisted {
		return nil
	}
	users := make([]string, 0, len(d.primaryUsers))
	for user := range d.primaryUsers {
		users = append(users, user)
	}
	slices.Sort(users)
	return users
}

// SyncConfigurationRules brings the voting rules of a configuration in line
// with its target states. States at or above the partially allowlisted
// threshold state, or at the banned state, yield an allowlist or blocklist
// rule on their rule targets: the member binaries for a BUNDLE, the member
// signing ids for a METABUNDLE, and the target itself otherwise. When
// several states feed the same rule target the highest state wins. Voting
// rules no longer backed by an eligible state are deleted, operator managed
// rules are never touched. A non-nil scope restricts the sync to the given
// rule target ids.
func SyncConfigurationRules(
	store metadata.MetadataStore,
	configuration *models.Configuration,
	scope map[uint]bool,
	txn types.Txn,
) ([]RuleChange, error) {
	sources, err := store.GetEligibleRuleSources(configuration.ID, txn)
	if err != nil {
		return nil, err
	}
	sourceStates := make(map[uint]int)
	sourceVoters := make(map[uint]map[string]bool)
	for _, source := range sources {
		sourceStates[source.TargetID] = source.State
		if source.Voter != nil && *source.Voter != "" {
			if sourceVoters[source.TargetID] == nil {
				sourceVoters[source.TargetID] = make(map[string]bool)
			}
			sourceVoters[source.TargetID][*source.Voter] = true
		}
	}
	sourceIDs := make([]uint, 0, len(sourceStates))
	for id := range sourceStates {
		sourceIDs = append(sourceIDs, id)
	}
	slices.Sort(sourceIDs)
	sourceRows, err := store.GetTargetsByID(sourceIDs, txn)
	if err != nil {
		return nil, err
	}
	desired := make(map[uint]*desiredRule)
	for i := range sourceRows {
		source := &sourceRows[i]
		ruleTargets, err := ruleTargetsFor(store, source, txn)
		if err != nil {
			return nil, err
		}
		state := sourceStates[source.ID]
		for j := range ruleTargets {
			ruleTarget := &ruleTargets[j]
			if scope != nil && !scope[ruleTarget.ID] {
				continue
			}
			d := desired[ruleTarget.ID]
			if d == nil {
				d = &desiredRule{
					target:       ruleTarget,
					state:        state,
					primaryUsers: make(map[string]bool),
				}
				desired[ruleTarget.ID] = d
			} else if state > d.state {
				d.state = state
			}
			for voter := range sourceVoters[source.ID] {
				d.primaryUsers[voter] = true
			}
		}
	}
	rules, err := store.GetRules(configuration.ID, txn)
	if err != nil {
		return nil, err
	}
	var changes []RuleChange
	var deletions []*models.Rule
	covered := make(map[uint]bool)
	for i := range rules {
		rule := &rules[i]
		if scope != nil && !scope[rule.TargetID] {
			continue
		}
		if !rule.IsVotingRule {
			// The slot is taken by an operator rule; the synthesizer
			// leaves it alone
			delete(desired, rule.TargetID)
			continue
		}
		covered[rule.TargetID] = true
		if d := desired[rule.TargetID]; d != nil {
			if change := healRule(rule, d); change != nil {
				if err := store.SaveRule(rule, txn); err != nil {
					return nil, err
				}
				changes = append(changes, *change)
			}
		} else {
			deletions = append(deletions, rule)
		}
	}
	desiredIDs := make([]uint, 0, len(desired))
	for id := range desired {
		if !covered[id] {
			desiredIDs = append(desiredIDs, id)
		}
	}
	slices.SortFunc(desiredIDs, func(a, b uint) int {
		return strings.Compare(
			desired[a].target.Identifier,
			desired[b].target.Identifier,
		)
	})
	for _, id := range desiredIDs {
		d := desired[id]
		rule := &models.Rule{
			ConfigurationID: configuration.ID,
			TargetID:        id,
			Policy:          d.policy(),
			PrimaryUsers:    types.StringList(d.users()),
			IsVotingRule:    true,
			Version:         1,
		}
		if err := store.CreateRule(rule, txn); err != nil {
			return nil, err
		}
		changes = append(changes, RuleChange{
			Result: RuleResultCreated,
			Rule:   rule,
			Target: d.target,
		})
	}
	if len(deletions) > 0 {
		deleted, err := deleteRules(store, configuration, deletions, txn)
		if err != nil {
			return nil, err
		}
		changes = append(changes, deleted...)
	}
	return changes, nil
}

// healRule updates a voting rule to its synthesized form and returns the
// change, or nil when the rule is already in shape. Scalar diffs carry the
// old and new values, the primary users diff carries the set differences.
func healRule(rule *models.Rule, d *desiredRule) *RuleChange {
	var added, removed RuleFieldDiff
	changed := false
	if policy := d.policy(); rule.Policy != policy {
		added.Policy = targets.RulePolicy(policy).Label()
		removed.Policy = targets.RulePolicy(rule.Policy).Label()
		rule.Policy = policy
		changed = true
	}
	// Voting rules never carry a custom message
	if rule.CustomMsg != "" {
		empty := ""
		old := rule.CustomMsg
		added.CustomMsg = &empty
		removed.CustomMsg = &old
		rule.CustomMsg = ""
		changed = true
	}
	// Nor excluded primary users
	if len(rule.ExcludedPrimaryUsers) > 0 {
		rule.ExcludedPrimaryUsers = nil
		changed = true
	}
	users := d.users()
	if !rule.SamePrimaryUsers(users) {
		added.PrimaryUsers = diffStrings(users, rule.PrimaryUsers)
		removed.PrimaryUsers = diffStrings(rule.PrimaryUsers, users)
		rule.PrimaryUsers = types.StringList(users)
		changed = true
	}
	if !changed {
		return nil
	}
	rule.Version++
	return &RuleChange{
		Result:  RuleResultUpdated,
		Rule:    rule,
		Target:  d.target,
		Added:   &added,
		Removed: &removed,
	}
}

func deleteRules(
	store metadata.MetadataStore,
	configuration *models.Configuration,
	rules []*models.Rule,
	txn types.Txn,
) ([]RuleChange, error) {
	ids := make([]uint, 0, len(rules))
	for _, rule := range rules {
		ids = append(ids, rule.TargetID)
	}
	rows, err := store.GetTargetsByID(ids, txn)
	if err != nil {
		return nil, err
	}
	rowsByID := make(map[uint]*models.Target, len(rows))
	for i := range rows {
		rowsByID[rows[i].ID] = &rows[i]
	}
	slices.SortFunc(rules, func(a, b *models.Rule) int {
		var aID, bID string
		if row := rowsByID[a.TargetID]; row != nil {
			aID = row.Identifier
		}
		if row := rowsByID[b.TargetID]; row != nil {
			bID = row.Identifier
		}
		return strings.Compare(aID, bID)
	})
	changes := make([]RuleChange, 0, len(rules))
	for _, rule := range rules {
		if err := store.DeleteRule(rule.ID, txn); err != nil {
			return nil, err
		}
		changes = append(changes, RuleChange{
			Result: RuleResultDeleted,
			Rule:   rule,
			Target: rowsByID[rule.TargetID],
		})
	}
	return changes, nil
}

// ruleTargetsFor maps an eligible source target to the targets its rules
// are written on.
func ruleTargetsFor(
	store metadata.MetadataStore,
	source *models.Target,
	txn types.Txn,
) ([]models.Target, error) {
	switch targets.Type(source.Type) {
	case targets.TypeBundle:
		return store.GetMemberTargets(
			source.ID,
			string(targets.TypeBinary),
			txn,
		)
	case targets.TypeMetaBundle:
		return store.GetMemberTargets(
			source.ID,
			string(targets.TypeSigningID),
			txn,
		)
	default:
		return []models.Target{*source}, nil
	}
}

// diffStrings returns the members of a missing from b, sorted.
func diffStrings(a []string, b []string) []string {
	present := make(map[string]bool, len(b))
	for _, s := range b {
		present[s] = true
	}
	var missing []string
	for _, s := range a {
		if !present[s] {
			missing = append(missing, s)
		}
	}
	slices.Sort(missing)
	return missing
}

// ReconcileRules rebuilds the voting rules of every configuration from the
// current target states. Each configuration is processed in its own
// transaction, the resulting events are journaled with the rule writes and
// published after commit. A summary of the pass is published best effort
// on the async queue. Changes are returned grouped by configuration name.
func ReconcileRules(
	ctx context.Context,
	db *database.Database,
	eventBus *event.EventBus,
) (map[string][]RuleChange, error) {
	store := db.Metadata()
	configurations, err := store.ListConfigurations(nil)
	if err != nil {
		return nil, err
	}
	results := make(map[string][]RuleChange)
	for i := range configurations {
		configuration := &configurations[i]
		if err := ctx.Err(); err != nil {
			return results, err
		}
		outbox := &eventOutbox{db: db}
		var changes []RuleChange
		err := db.Transaction(true).Do(func(txn *database.Txn) error {
			var err error
			changes, err = SyncConfigurationRules(
				store,
				configuration,
				nil,
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
			return results, err
		}
		outbox.publish(eventBus)
		if len(changes) > 0 {
			results[configuration.Name] = changes
		}
	}
	if eventBus != nil {
		changed := 0
		for _, changes := range results {
			changed += len(changes)
		}
		eventBus.PublishAsync(
			ReconcileDoneEventType,
			event.NewEvent(ReconcileDoneEventType, ReconcileDoneEvent{
				Configurations: len(configurations),
				Changes:        changed,
			}),
		)
	}
	return results, nil
}

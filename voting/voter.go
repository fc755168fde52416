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
	"slices"
	"time"

	"github.com/blinklabs-io/tally/database/models"
	"github.com/blinklabs-io/tally/database/plugin/metadata"
	"github.com/blinklabs-io/tally/targets"
)

// Voter is a resolved voting identity: the realm user, its transitive realm
// group closure, the configurations it may vote on, and the voting group
// grants that apply per configuration. An anonymous voter carries none of
// these and fails every ballot box check.
type Voter interface {
	IsAnonymous() bool
	Username() string
	RealmUUID() string
	RealmUserUUID() string
	RealmGroupUUIDs() []string
	// Configurations returns the votable configurations, ordered by name.
	// Unless allConfigurations is set, only configurations with an enrolled
	// machine of the voter are returned.
	Configurations(allConfigurations bool) []models.Configuration
	VotingGroups(configurationID uint) []models.VotingGroup
	// VotingWeight returns the maximum voting group weight when any voting
	// group applies, and the configuration default otherwise.
	VotingWeight(configuration *models.Configuration) int
	// CanVoteOnTargetType reports whether the voter may vote on targets of
	// the given type: allowed by the configuration defaults or by any
	// applicable voting group.
	CanVoteOnTargetType(
		configuration *models.Configuration,
		targetType targets.Type,
	) bool
	CanMarkMalware(configurationID uint) bool
	CanUnflagTarget(configurationID uint) bool
	CanResetTarget(configurationID uint) bool
}

type anonymousVoter struct{}

// AnonymousVoter returns the voter used when no identity could be resolved.
func AnonymousVoter() Voter {
	return anonymousVoter{}
}

func (anonymousVoter) IsAnonymous() bool         { return true }
func (anonymousVoter) Username() string          { return "" }
func (anonymousVoter) RealmUUID() string         { return "" }
func (anonymousVoter) RealmUserUUID() string     { return "" }
func (anonymousVoter) RealmGroupUUIDs() []string { return nil }

func (anonymousVoter) Configurations(bool) []models.Configuration {
	return nil
}

func (anonymousVoter) VotingGroups(uint) []models.VotingGroup {
	return nil
}

func (anonymousVoter) VotingWeight(*models.Configuration) int {
	return 0
}

func (anonymousVoter) CanVoteOnTargetType(
	*models.Configuration,
	targets.Type,
) bool {
	return false
}

func (anonymousVoter) CanMarkMalware(uint) bool  { return false }
func (anonymousVoter) CanUnflagTarget(uint) bool { return false }
func (anonymousVoter) CanResetTarget(uint) bool  { return false }

type realmVoter struct {
	user                    *models.RealmUser
	votingGroups            map[uint][]models.VotingGroup
	machineConfigurationIDs map[uint]bool
	groupUUIDs              []string
	votable                 []models.Configuration
}

// ResolveVoter loads the realm user with the given UUID and resolves its
// voting scope. The realm group closure follows parent links upward from the
// user's direct memberships and tolerates cycles. When maxMachineAge is
// positive, only machines seen within that window tie their configurations
// to the voter.
func ResolveVoter(
	store metadata.MetadataStore,
	realmUserUUID string,
	maxMachineAge time.Duration,
) (Voter, error) {
	user, err := store.GetRealmUser(realmUserUUID, nil)
	if err != nil {
		return nil, err
	}
	groupUUIDs, err := resolveGroupClosure(store, user.UUID)
	if err != nil {
		return nil, err
	}
	votable, err := store.GetVotableConfigurations(
		user.RealmUUID,
		groupUUIDs,
		nil,
	)
	if err != nil {
		return nil, err
	}
	votingGroups := make(map[uint][]models.VotingGroup)
	for _, configuration := range votable {
		groups, err := store.GetVotingGroups(
			configuration.ID,
			groupUUIDs,
			nil,
		)
		if err != nil {
			return nil, err
		}
		if len(groups) > 0 {
			votingGroups[configuration.ID] = groups
		}
	}
	var seenSince time.Time
	if maxMachineAge > 0 {
		seenSince = time.Now().Add(-maxMachineAge)
	}
	machineConfigurationIDs, err := store.GetMachineConfigurationIDs(
		user.Username,
		seenSince,
		nil,
	)
	if err != nil {
		return nil, err
	}
	machineConfigurations := make(map[uint]bool, len(machineConfigurationIDs))
	for _, id := range machineConfigurationIDs {
		machineConfigurations[id] = true
	}
	return &realmVoter{
		user:                    user,
		groupUUIDs:              groupUUIDs,
		votable:                 votable,
		votingGroups:            votingGroups,
		machineConfigurationIDs: machineConfigurations,
	}, nil
}

// resolveGroupClosure returns the sorted UUIDs of the user's realm groups
// and all their ancestors.
func resolveGroupClosure(
	store metadata.MetadataStore,
	realmUserUUID string,
) ([]string, error) {
	direct, err := store.GetRealmUserGroups(realmUserUUID, nil)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var pending []string
	collect := func(groups []models.RealmGroup) {
		for _, group := range groups {
			seen[group.UUID] = true
			if group.ParentUUID != nil && *group.ParentUUID != "" &&
				!seen[*group.ParentUUID] {
				pending = append(pending, *group.ParentUUID)
			}
		}
	}
	collect(direct)
	for len(pending) > 0 {
		lookup := make([]string, 0, len(pending))
		for _, uuid := range pending {
			if !seen[uuid] {
				lookup = append(lookup, uuid)
			}
		}
		pending = nil
		if len(lookup) == 0 {
			break
		}
		parents, err := store.GetRealmGroups(lookup, nil)
		if err != nil {
			return nil, err
		}
		collect(parents)
	}
	uuids := make([]string, 0, len(seen))
	for uuid := range seen {
		uuids = append(uuids, uuid)
	}
	slices.Sort(uuids)
	return uuids, nil
}

func (v *realmVoter) IsAnonymous() bool     { return false }
func (v *realmVoter) Username() string      { return v.user.Username }
func (v *realmVoter) RealmUUID() string     { return v.user.RealmUUID }
func (v *realmVoter) RealmUserUUID() string { return v.user.UUID }

func (v *realmVoter) RealmGroupUUIDs() []string {
	return v.groupUUIDs
}

func (v *realmVoter) Configurations(
	allConfigurations bool,
) []models.Configuration {
	if allConfigurations {
		return v.votable
	}
	configurations := make([]models.Configuration, 0, len(v.votable))
	for _, configuration := range v.votable {
		if v.machineConfigurationIDs[configuration.ID] {
			configurations = append(configurations, configuration)
		}
	}
	return configurations
}

func (v *realmVoter) VotingGroups(configurationID uint) []models.VotingGroup {
	return v.votingGroups[configurationID]
}

func (v *realmVoter) VotingWeight(configuration *models.Configuration) int {
	groups := v.votingGroups[configuration.ID]
	if len(groups) == 0 {
		return configuration.DefaultVotingWeight
	}
	weight := groups[0].VotingWeight
	for _, group := range groups[1:] {
		if group.VotingWeight > weight {
			weight = group.VotingWeight
		}
	}
	return weight
}

func (v *realmVoter) CanVoteOnTargetType(
	configuration *models.Configuration,
	targetType targets.Type,
) bool {
	if configuration.DefaultBallotTargetTypes.Contains(string(targetType)) {
		return true
	}
	for _, group := range v.votingGroups[configuration.ID] {
		if group.BallotTargetTypes.Contains(string(targetType)) {
			return true
		}
	}
	return false
}

func (v *realmVoter) CanMarkMalware(configurationID uint) bool {
	for _, group := range v.votingGroups[configurationID] {
		if group.CanMarkMalware {
			return true
		}
	}
	return false
}

func (v *realmVoter) CanUnflagTarget(configurationID uint) bool {
	for _, group := range v.votingGroups[configurationID] {
		if group.CanUnflagTarget {
			return true
		}
	}
	return false
}

func (v *realmVoter) CanResetTarget(configurationID uint) bool {
	for _, group := range v.votingGroups[configurationID] {
		if group.CanResetTarget {
			return true
		}
	}
	return false
}

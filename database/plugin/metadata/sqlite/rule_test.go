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

func TestRuleRoundTrip(t *testing.T) {
	store := setupTestStore(t)

	config := models.NewConfiguration("default")
	require.NoError(t, store.SetConfiguration(config, nil))
	target, err := store.GetOrCreateTarget("BINARY", testSha256("4a"), nil)
	require.NoError(t, err)

	// No rule yet
	rule, err := store.GetRule(config.ID, target.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, rule)

	rule = &models.Rule{
		ConfigurationID: config.ID,
		TargetID:        target.ID,
		Policy:          models.RulePolicyAllowlist,
		IsVotingRule:    true,
		PrimaryUsers:    types.StringList{"alice", "bob"},
	}
	require.NoError(t, store.CreateRule(rule, nil))
	require.NotZero(t, rule.ID)

	found, err := store.GetRule(config.ID, target.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, models.RulePolicyAllowlist, found.Policy)
	assert.Equal(t, 1, found.Version)
	assert.True(t, found.IsVotingRule)
	assert.True(t, found.SamePrimaryUsers([]string{"alice", "bob"}))

	// Update bumps nothing implicitly; the caller controls the version
	found.Policy = models.RulePolicyBlocklist
	found.PrimaryUsers = nil
	found.Version++
	require.NoError(t, store.SaveRule(found, nil))

	updated, err := store.GetRule(config.ID, target.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RulePolicyBlocklist, updated.Policy)
	assert.Equal(t, 2, updated.Version)
	assert.Empty(t, []string(updated.PrimaryUsers))

	require.NoError(t, store.DeleteRule(updated.ID, nil))
	gone, err := store.GetRule(config.ID, target.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestGetRulesAndNonVotingRules(t *testing.T) {
	store := setupTestStore(t)

	config := models.NewConfiguration("default")
	require.NoError(t, store.SetConfiguration(config, nil))
	otherConfig := models.NewConfiguration("other")
	require.NoError(t, store.SetConfiguration(otherConfig, nil))

	voted, err := store.GetOrCreateTarget("BINARY", testSha256("5a"), nil)
	require.NoError(t, err)
	blocked, err := store.GetOrCreateTarget(
		"TEAM_ID",
		"JQ5F1274BN",
		nil,
	)
	require.NoError(t, err)

	require.NoError(t, store.CreateRule(&models.Rule{
		ConfigurationID: config.ID,
		TargetID:        voted.ID,
		Policy:          models.RulePolicyAllowlist,
		IsVotingRule:    true,
	}, nil))
	require.NoError(t, store.CreateRule(&models.Rule{
		ConfigurationID: config.ID,
		TargetID:        blocked.ID,
		Policy:          models.RulePolicyBlocklist,
		CustomMsg:       "Blocked by policy.",
	}, nil))
	// A rule on another configuration stays invisible
	require.NoError(t, store.CreateRule(&models.Rule{
		ConfigurationID: otherConfig.ID,
		TargetID:        voted.ID,
		Policy:          models.RulePolicyAllowlist,
		IsVotingRule:    true,
	}, nil))

	rules, err := store.GetRules(config.ID, nil)
	require.NoError(t, err)
	assert.Len(t, rules, 2)

	nonVoting, err := store.GetNonVotingRules(
		config.ID,
		[]uint{voted.ID, blocked.ID},
		nil,
	)
	require.NoError(t, err)
	require.Len(t, nonVoting, 1)
	assert.Equal(t, blocked.ID, nonVoting[0].TargetID)
	assert.Equal(t, "Blocked by policy.", nonVoting[0].CustomMsg)

	// Empty target set short-circuits
	nonVoting, err = store.GetNonVotingRules(config.ID, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, nonVoting)
}

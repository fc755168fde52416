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
	"testing"

	"github.com/blinklabs-io/tally/database/models"
	"github.com/blinklabs-io/tally/database/types"
	"github.com/blinklabs-io/tally/targets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBallotBoxCreatesTargetAndStates(t *testing.T) {
	env := setupTestEnv(t)
	configuration := env.seedConfiguration(t, "default", nil)
	voter := env.seedVoter(t, "alice", configuration, nil)

	target := targets.MustNew(targets.TypeBinary, testSha256("aa"))
	box := env.openBox(t, target, voter)

	require.NotZero(t, box.Target().ID)
	assert.Equal(t, targets.TypeBinary.String(), box.Target().Type)
	require.Len(t, box.Configurations(), 1)

	state := box.TargetState(configuration.ID)
	require.NotNil(t, state)
	assert.Zero(t, state.Score)
	assert.Equal(t, models.TargetStateUntrusted, state.State)
	assert.False(t, state.Flagged)

	// The state row is persisted on first access
	stored, err := env.store.GetTargetState(
		box.Target().ID,
		configuration.ID,
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, models.TargetStateUntrusted, stored.State)

	// The closure contains at least the target itself
	related := box.RelatedTargets()
	require.Len(t, related[targets.TypeBinary], 1)
	assert.True(t, related[targets.TypeBinary][0].Self)
}

func TestBallotBoxSkipLock(t *testing.T) {
	env := setupTestEnv(t)
	configuration := env.seedConfiguration(t, "default", nil)
	voter := env.seedVoter(t, "alice", configuration, nil)

	target := targets.MustNew(targets.TypeBinary, testSha256("aa"))
	first, err := NewBallotBox(
		context.Background(),
		env.db,
		target,
		voter,
		BallotBoxConfig{SkipLock: true},
	)
	require.NoError(t, err)
	defer first.Release()

	// A second unlocked box on the same target does not block
	second, err := NewBallotBox(
		context.Background(),
		env.db,
		target,
		voter,
		BallotBoxConfig{SkipLock: true},
	)
	require.NoError(t, err)
	second.Release()
}

func TestCastVotesAccumulateAcrossVoters(t *testing.T) {
	env := setupTestEnv(t)
	configuration := env.seedConfiguration(
		t,
		"default",
		func(c *models.Configuration) {
			c.DefaultVotingWeight = 3
		},
	)
	alice := env.seedVoter(t, "alice", configuration, nil)
	bob := env.seedVoter(t, "bob", configuration, nil)
	target := targets.MustNew(targets.TypeBinary, testSha256("aa"))

	box := env.openBox(t, target, alice)
	require.NoError(t, box.CastVotes(context.Background(), []Vote{
		{Configuration: configuration, IsYesVote: true},
	}))
	state := box.TargetState(configuration.ID)
	assert.Equal(t, 3, state.Score)
	assert.Equal(t, models.TargetStateUntrusted, state.State)

	ballot, err := env.store.GetCurrentBallot(
		box.Target().ID,
		testRealm,
		"alice",
		nil,
	)
	require.NoError(t, err)
	require.NotNil(t, ballot)
	assert.Equal(t, "alice", ballot.UserUID)

	// Below the threshold, no rule yet
	rule, err := env.store.GetRule(configuration.ID, box.Target().ID, nil)
	require.NoError(t, err)
	assert.Nil(t, rule)
	box.Release()

	box = env.openBox(t, target, bob)
	require.NoError(t, box.CastVotes(context.Background(), []Vote{
		{Configuration: configuration, IsYesVote: true},
	}))
	state = box.TargetState(configuration.ID)
	assert.Equal(t, 6, state.Score)
	assert.Equal(t, models.TargetStatePartiallyAllowlisted, state.State)

	rule, err = env.store.GetRule(configuration.ID, box.Target().ID, nil)
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.True(t, rule.IsVotingRule)
	assert.Equal(t, models.RulePolicyAllowlist, rule.Policy)
	assert.Equal(t, types.StringList{"alice", "bob"}, rule.PrimaryUsers)
	assert.Equal(t, 1, rule.Version)
}

func TestCastVotesUpvoteToGloballyAllowlisted(t *testing.T) {
	env := setupTestEnv(t)
	configuration := env.seedConfiguration(t, "default", nil)
	voter := env.seedVoter(
		t,
		"alice",
		configuration,
		func(vg *models.VotingGroup) {
			vg.VotingWeight = 50
		},
	)
	target := targets.MustNew(targets.TypeBinary, testSha256("aa"))

	box := env.openBox(t, target, voter)
	require.NoError(t, box.CastVotes(context.Background(), []Vote{
		{Configuration: configuration, IsYesVote: true},
	}))
	state := box.TargetState(configuration.ID)
	assert.Equal(t, 50, state.Score)
	assert.Equal(t, models.TargetStateGloballyAllowlisted, state.State)

	// Globally allowlisted rules carry no primary users
	rule, err := env.store.GetRule(configuration.ID, box.Target().ID, nil)
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, models.RulePolicyAllowlist, rule.Policy)
	assert.Empty(t, rule.PrimaryUsers)

	// A terminal state blocks further voting
	reason := box.CheckVotingAllowed(configuration, true)
	assert.Equal(t, "Target is globally allowlisted", reason)
	assert.Empty(t, box.GetConfigurationsAllowedVotes())
}

func TestCastVotesDownvoteToBanned(t *testing.T) {
	env := setupTestEnv(t)
	configuration := env.seedConfiguration(t, "default", nil)
	voter := env.seedVoter(
		t,
		"alice",
		configuration,
		func(vg *models.VotingGroup) {
			vg.VotingWeight = 26
		},
	)
	target := targets.MustNew(targets.TypeBinary, testSha256("aa"))

	box := env.openBox(t, target, voter)
	require.NoError(t, box.CastVotes(context.Background(), []Vote{
		{Configuration: configuration, IsYesVote: false},
	}))
	state := box.TargetState(configuration.ID)
	assert.Equal(t, -26, state.Score)
	assert.Equal(t, models.TargetStateBanned, state.State)
	assert.True(t, state.Flagged)

	rule, err := env.store.GetRule(configuration.ID, box.Target().ID, nil)
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, models.RulePolicyBlocklist, rule.Policy)
	assert.Empty(t, rule.PrimaryUsers)

	reason := box.CheckVotingAllowed(configuration, true)
	assert.Equal(t, "Target is banned", reason)
	assert.Empty(t, box.GetConfigurationsAllowedVotes())
}

func TestCastVotesRevoteReplacesBallot(t *testing.T) {
	env := setupTestEnv(t)
	configuration := env.seedConfiguration(
		t,
		"default",
		func(c *models.Configuration) {
			c.DefaultVotingWeight = 3
		},
	)
	voter := env.seedVoter(t, "alice", configuration, nil)
	target := targets.MustNew(targets.TypeBinary, testSha256("aa"))

	box := env.openBox(t, target, voter)
	ctx := context.Background()
	require.NoError(t, box.CastVotes(ctx, []Vote{
		{Configuration: configuration, IsYesVote: true},
	}))
	first, err := env.store.GetCurrentBallot(
		box.Target().ID,
		testRealm,
		"alice",
		nil,
	)
	require.NoError(t, err)
	require.NotNil(t, first)

	require.NoError(t, box.CastVotes(ctx, []Vote{
		{Configuration: configuration, IsYesVote: false},
	}))

	// The replaced ballot still counts, so the flip nets out to zero
	state := box.TargetState(configuration.ID)
	assert.Equal(t, 0, state.Score)
	assert.Equal(t, models.TargetStateUntrusted, state.State)
	assert.False(t, state.Flagged)

	current, err := env.store.GetCurrentBallot(
		box.Target().ID,
		testRealm,
		"alice",
		nil,
	)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.NotEqual(t, first.ID, current.ID)

	var replaced models.Ballot
	require.NoError(t, env.store.DB().First(&replaced, first.ID).Error)
	require.NotNil(t, replaced.ReplacedByID)
	assert.Equal(t, current.ID, *replaced.ReplacedByID)

	// Vote rows are never deleted
	var voteCount int64
	require.NoError(
		t,
		env.store.DB().Model(&models.Vote{}).Count(&voteCount).Error,
	)
	assert.EqualValues(t, 2, voteCount)
}

func TestCastVotesDuplicate(t *testing.T) {
	env := setupTestEnv(t)
	configuration := env.seedConfiguration(t, "default", nil)
	voter := env.seedVoter(t, "alice", configuration, nil)
	target := targets.MustNew(targets.TypeBinary, testSha256("aa"))

	box := env.openBox(t, target, voter)
	ctx := context.Background()
	votes := []Vote{{Configuration: configuration, IsYesVote: true}}
	require.NoError(t, box.CastVotes(ctx, votes))

	err := box.CastVotes(ctx, votes)
	var duplicateErr *DuplicateVoteError
	require.ErrorAs(t, err, &duplicateErr)

	// The current ballot is unchanged
	ballot, err := env.store.GetCurrentBallot(
		box.Target().ID,
		testRealm,
		"alice",
		nil,
	)
	require.NoError(t, err)
	require.NotNil(t, ballot)
	assert.Nil(t, ballot.ReplacedByID)
}

func TestCastVotesValidation(t *testing.T) {
	env := setupTestEnv(t)
	configuration := env.seedConfiguration(t, "default", nil)
	other := env.seedConfiguration(t, "other", nil)
	voter := env.seedVoter(t, "alice", configuration, nil)
	target := targets.MustNew(targets.TypeBinary, testSha256("aa"))
	box := env.openBox(t, target, voter)
	ctx := context.Background()

	var votingErr *VotingError
	err := box.CastVotes(ctx, nil)
	require.ErrorAs(t, err, &votingErr)
	assert.Equal(t, "no votes", votingErr.Message)

	err = box.CastVotes(ctx, []Vote{{IsYesVote: true}})
	require.ErrorAs(t, err, &votingErr)
	assert.Equal(t, "vote without configuration", votingErr.Message)

	err = box.CastVotes(ctx, []Vote{
		{Configuration: configuration, IsYesVote: true},
		{Configuration: configuration, IsYesVote: false},
	})
	require.ErrorAs(t, err, &votingErr)
	assert.Equal(
		t,
		`duplicate vote on configuration "default"`,
		votingErr.Message,
	)

	// The voter has no machine on the other configuration
	err = box.CastVotes(ctx, []Vote{
		{Configuration: other, IsYesVote: true},
	})
	var notAllowedErr *VotingNotAllowedError
	require.ErrorAs(t, err, &notAllowedErr)
	assert.Equal(t, "No link to configuration", notAllowedErr.Reason)
	assert.Equal(
		t,
		`upvote on configuration "other" not allowed: No link to configuration`,
		notAllowedErr.Error(),
	)
}

func TestCastVotesAnonymous(t *testing.T) {
	env := setupTestEnv(t)
	configuration := env.seedConfiguration(t, "default", nil)
	target := targets.MustNew(targets.TypeBinary, testSha256("aa"))

	box := env.openBox(t, target, AnonymousVoter())
	assert.Equal(
		t,
		"Anonymous voter",
		box.CheckVotingAllowed(configuration, true),
	)

	var votingErr *VotingError
	err := box.CastVotes(context.Background(), []Vote{
		{Configuration: configuration, IsYesVote: true},
	})
	require.ErrorAs(t, err, &votingErr)
	assert.Equal(t, "anonymous voters cannot vote", votingErr.Message)
}

func TestCastVotesContextCancelled(t *testing.T) {
	env := setupTestEnv(t)
	configuration := env.seedConfiguration(t, "default", nil)
	voter := env.seedVoter(t, "alice", configuration, nil)
	target := targets.MustNew(targets.TypeBinary, testSha256("aa"))
	box := env.openBox(t, target, voter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := box.CastVotes(ctx, []Vote{
		{Configuration: configuration, IsYesVote: true},
	})
	require.ErrorIs(t, err, context.Canceled)

	ballot, err := env.store.GetCurrentBallot(
		box.Target().ID,
		testRealm,
		"alice",
		nil,
	)
	require.NoError(t, err)
	assert.Nil(t, ballot)
}

func TestCheckVotingAllowedFlaggedAndMalware(t *testing.T) {
	env := setupTestEnv(t)
	configuration := env.seedConfiguration(t, "default", nil)
	plain := env.seedVoter(t, "alice", configuration, nil)
	unflagger := env.seedVoter(
		t,
		"bob",
		configuration,
		func(vg *models.VotingGroup) {
			vg.CanUnflagTarget = true
		},
	)
	handler := env.seedVoter(
		t,
		"carol",
		configuration,
		func(vg *models.VotingGroup) {
			vg.CanUnflagTarget = true
			vg.CanMarkMalware = true
		},
	)

	target := targets.MustNew(targets.TypeBinary, testSha256("aa"))
	row := env.seedTarget(t, target)
	env.seedTargetState(t, row, configuration, -1)

	box := env.openBox(t, target, plain)
	assert.Equal(
		t,
		"User does not have the permission to vote on flagged targets",
		box.CheckVotingAllowed(configuration, true),
	)
	box.Release()

	// Unflagging alone is not enough on a suspect target, in either
	// direction
	box = env.openBox(t, target, unflagger)
	assert.Equal(
		t,
		"User does not have the permission to vote on malware targets",
		box.CheckVotingAllowed(configuration, true),
	)
	assert.Equal(
		t,
		"User does not have the permission to vote on malware targets",
		box.CheckVotingAllowed(configuration, false),
	)
	box.Release()

	box = env.openBox(t, target, handler)
	assert.Empty(t, box.CheckVotingAllowed(configuration, true))
	assert.Empty(t, box.CheckVotingAllowed(configuration, false))
}

func TestCheckVotingAllowedTargetType(t *testing.T) {
	env := setupTestEnv(t)
	configuration := env.seedConfiguration(t, "default", nil)
	voter := env.seedVoter(t, "alice", configuration, nil)

	// Certificates are not in the configuration's default ballot target
	// types
	target := targets.MustNew(
		targets.TypeCertificate,
		testSha256("cd"),
	)
	box := env.openBox(t, target, voter)
	assert.Equal(
		t,
		"User is not allowed to vote on CERTIFICATE",
		box.CheckVotingAllowed(configuration, true),
	)
	box.Release()

	// A voting group can open up the type
	cert := env.seedVoter(
		t,
		"bob",
		configuration,
		func(vg *models.VotingGroup) {
			vg.BallotTargetTypes = []string{
				targets.TypeCertificate.String(),
			}
		},
	)
	box = env.openBox(t, target, cert)
	assert.Empty(t, box.CheckVotingAllowed(configuration, true))
}

func TestCheckVotingAllowedBundle(t *testing.T) {
	env := setupTestEnv(t)
	configuration := env.seedConfiguration(t, "default", nil)
	voter := env.seedVoter(
		t,
		"alice",
		configuration,
		func(vg *models.VotingGroup) {
			vg.CanUnflagTarget = true
			vg.CanMarkMalware = true
		},
	)

	// No bundle row yet
	pending := targets.MustNew(targets.TypeBundle, "com.example.pending")
	box := env.openBox(t, pending, voter)
	assert.Equal(
		t,
		"Missing bundle information",
		box.CheckVotingAllowed(configuration, true),
	)
	box.Release()

	// A bundle row without a completed upload is not enough
	waiting := targets.MustNew(targets.TypeBundle, "com.example.waiting")
	waitingRow := env.seedTarget(t, waiting)
	env.seedBundle(t, waitingRow, false)
	box = env.openBox(t, waiting, voter)
	assert.Equal(
		t,
		"Missing bundle information",
		box.CheckVotingAllowed(configuration, true),
	)
	box.Release()

	// An uploaded bundle with a flagged member binary
	flagged := targets.MustNew(targets.TypeBundle, "com.example.flagged")
	flaggedRow := env.seedTarget(t, flagged)
	member := env.seedTarget(
		t,
		targets.MustNew(targets.TypeBinary, testSha256("aa")),
	)
	env.seedBundle(t, flaggedRow, true, member)
	env.seedTargetState(t, member, configuration, -1)
	box = env.openBox(t, flagged, voter)
	assert.Equal(
		t,
		"The target contains a flagged BINARY target",
		box.CheckVotingAllowed(configuration, true),
	)
	box.Release()

	// A clean uploaded bundle can be upvoted but never downvoted
	clean := targets.MustNew(targets.TypeBundle, "com.example.clean")
	cleanRow := env.seedTarget(t, clean)
	cleanMember := env.seedTarget(
		t,
		targets.MustNew(targets.TypeBinary, testSha256("bb")),
	)
	env.seedBundle(t, cleanRow, true, cleanMember)
	box = env.openBox(t, clean, voter)
	assert.Empty(t, box.CheckVotingAllowed(configuration, true))
	assert.Equal(
		t,
		"A BUNDLE cannot be downvoted",
		box.CheckVotingAllowed(configuration, false),
	)
	box.Release()

	// Same for metabundles
	meta := targets.MustNew(targets.TypeMetaBundle, "com.example.meta")
	metaRow := env.seedTarget(t, meta)
	env.seedBundle(t, metaRow, true)
	box = env.openBox(t, meta, voter)
	assert.Equal(
		t,
		"A METABUNDLE cannot be downvoted",
		box.CheckVotingAllowed(configuration, false),
	)
}

func TestCheckVotingAllowedBannedCertificate(t *testing.T) {
	env := setupTestEnv(t)
	configuration := env.seedConfiguration(t, "default", nil)
	voter := env.seedVoter(t, "alice", configuration, nil)
	resetter := env.seedVoter(
		t,
		"bob",
		configuration,
		func(vg *models.VotingGroup) {
			vg.CanResetTarget = true
		},
	)

	binary := targets.MustNew(targets.TypeBinary, testSha256("aa"))
	binaryRow := env.seedTarget(t, binary)
	certRow := env.seedTarget(
		t,
		targets.MustNew(targets.TypeCertificate, testSha256("cd")),
	)
	env.relateTargets(t, binaryRow, certRow)
	env.seedTargetState(t, certRow, configuration, -26)

	box := env.openBox(t, binary, voter)
	assert.Equal(
		t,
		"CERTIFICATE target is Banned",
		box.CheckVotingAllowed(configuration, true),
	)
	box.Release()

	// The reset capability bypasses the related certificate block
	box = env.openBox(t, binary, resetter)
	assert.Empty(t, box.CheckVotingAllowed(configuration, true))
}

func TestConflictingNonVotingRule(t *testing.T) {
	env := setupTestEnv(t)
	restricted := env.seedConfiguration(
		t,
		"restricted",
		func(c *models.Configuration) {
			c.DefaultVotingWeight = 5
		},
	)
	open := env.seedConfiguration(
		t,
		"open",
		func(c *models.Configuration) {
			c.DefaultVotingWeight = 5
		},
	)
	user := env.seedUser(t, "alice")
	env.seedMachine(t, restricted, user)
	env.seedMachine(t, open, user)
	voter := env.resolveVoter(t, user)

	meta := targets.MustNew(targets.TypeMetaBundle, "com.example.app")
	metaRow := env.seedTarget(t, meta)
	signingID := env.seedTarget(
		t,
		targets.MustNew(
			targets.TypeSigningID,
			"JQ5F1274BN:com.example.app",
		),
	)
	env.seedBundle(t, metaRow, true)
	env.relateTargets(t, signingID, metaRow)

	// An operator rule on the signing id blocks voting on the
	// restricted configuration only
	require.NoError(t, env.store.CreateRule(&models.Rule{
		ConfigurationID: restricted.ID,
		TargetID:        signingID.ID,
		Policy:          models.RulePolicyBlocklist,
	}, nil))

	box := env.openBox(t, meta, voter)
	assert.Equal(
		t,
		"Conflicting non-voting rule",
		box.CheckVotingAllowed(restricted, true),
	)
	assert.Empty(t, box.CheckVotingAllowed(open, true))
	assert.Equal(
		t,
		[]string{DefaultConflictMessage},
		box.ConflictingRuleCustomMessages(),
	)

	err := box.CastVotes(context.Background(), []Vote{
		{Configuration: restricted, IsYesVote: true},
	})
	var notAllowedErr *VotingNotAllowedError
	require.ErrorAs(t, err, &notAllowedErr)
	assert.Equal(t, "Conflicting non-voting rule", notAllowedErr.Reason)

	// Voting on the open configuration is unaffected and writes the
	// voting rule on the member signing id
	require.NoError(t, box.CastVotes(context.Background(), []Vote{
		{Configuration: open, IsYesVote: true},
	}))
	state := box.TargetState(open.ID)
	assert.Equal(t, 5, state.Score)
	assert.Equal(t, models.TargetStatePartiallyAllowlisted, state.State)

	rule, err := env.store.GetRule(open.ID, signingID.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.True(t, rule.IsVotingRule)
	assert.Equal(t, models.RulePolicyAllowlist, rule.Policy)
	assert.Equal(t, types.StringList{"alice"}, rule.PrimaryUsers)

	// The operator rule on the restricted configuration is untouched
	rule, err = env.store.GetRule(restricted.ID, signingID.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.False(t, rule.IsVotingRule)
}

func TestConflictWalkStopsAtFirstMatchingType(t *testing.T) {
	env := setupTestEnv(t)
	configuration := env.seedConfiguration(t, "default", nil)
	voter := env.seedVoter(t, "alice", configuration, nil)

	binary := targets.MustNew(targets.TypeBinary, testSha256("aa"))
	binaryRow := env.seedTarget(t, binary)
	certRow := env.seedTarget(
		t,
		targets.MustNew(targets.TypeCertificate, testSha256("cd")),
	)
	teamRow := env.seedTarget(
		t,
		targets.MustNew(targets.TypeTeamID, "JQ5F1274BN"),
	)
	env.relateTargets(t, binaryRow, certRow)
	env.relateTargets(t, certRow, teamRow)

	// Operator rules on both ends of the closure
	require.NoError(t, env.store.CreateRule(&models.Rule{
		ConfigurationID: configuration.ID,
		TargetID:        teamRow.ID,
		Policy:          models.RulePolicyBlocklist,
		CustomMsg:       "Contact IT before running this.",
	}, nil))
	require.NoError(t, env.store.CreateRule(&models.Rule{
		ConfigurationID: configuration.ID,
		TargetID:        binaryRow.ID,
		Policy:          models.RulePolicyBlocklist,
	}, nil))

	box := env.openBox(t, binary, voter)
	conflicts := box.ConflictingNonVotingRules()
	require.Len(t, conflicts[configuration.ID], 1)
	// The walk starts at the most general type and stops there
	assert.Equal(t, teamRow.ID, conflicts[configuration.ID][0].TargetID)
	assert.Equal(
		t,
		[]string{"Contact IT before running this."},
		box.ConflictingRuleCustomMessages(),
	)
}

func TestGetConfigurationsAllowedVotes(t *testing.T) {
	env := setupTestEnv(t)
	configuration := env.seedConfiguration(t, "default", nil)
	voter := env.seedVoter(t, "alice", configuration, nil)
	target := targets.MustNew(targets.TypeBinary, testSha256("aa"))

	box := env.openBox(t, target, voter)
	allowed := box.GetConfigurationsAllowedVotes()
	require.Len(t, allowed, 1)
	assert.Equal(t, configuration.ID, allowed[0].Configuration.ID)
	assert.Equal(t, []bool{true, false}, allowed[0].IsYesVote)

	// After an upvote only the downvote remains
	require.NoError(t, box.CastVotes(context.Background(), []Vote{
		{Configuration: configuration, IsYesVote: true},
	}))
	allowed = box.GetConfigurationsAllowedVotes()
	require.Len(t, allowed, 1)
	assert.Equal(t, []bool{false}, allowed[0].IsYesVote)
}

func TestCastDefaultVotes(t *testing.T) {
	env := setupTestEnv(t)
	first := env.seedConfiguration(t, "first", nil)
	second := env.seedConfiguration(t, "second", nil)
	env.seedConfiguration(t, "third", nil)
	user := env.seedUser(t, "alice")
	env.seedMachine(t, first, user)
	env.seedMachine(t, second, user)
	voter := env.resolveVoter(t, user)

	target := targets.MustNew(targets.TypeBinary, testSha256("aa"))
	box := env.openBox(t, target, voter)
	require.NoError(
		t,
		box.CastDefaultVotes(context.Background(), true, nil),
	)

	// One ballot with a vote per configuration with a machine
	ballot, err := env.store.GetCurrentBallot(
		box.Target().ID,
		testRealm,
		"alice",
		nil,
	)
	require.NoError(t, err)
	require.NotNil(t, ballot)
	votes, err := env.store.GetVotes(ballot.ID, nil)
	require.NoError(t, err)
	require.Len(t, votes, 2)
	assert.Equal(t, first.ID, votes[0].ConfigurationID)
	assert.Equal(t, second.ID, votes[1].ConfigurationID)

	// Repeating the same default vote is a silent no-op
	require.NoError(
		t,
		box.CastDefaultVotes(context.Background(), true, nil),
	)
	unchanged, err := env.store.GetCurrentBallot(
		box.Target().ID,
		testRealm,
		"alice",
		nil,
	)
	require.NoError(t, err)
	require.NotNil(t, unchanged)
	assert.Equal(t, ballot.ID, unchanged.ID)
}

func TestCastDefaultVotesAllConfigurations(t *testing.T) {
	env := setupTestEnv(t)
	first := env.seedConfiguration(t, "first", nil)
	third := env.seedConfiguration(t, "third", nil)
	user := env.seedUser(t, "alice")
	env.seedMachine(t, first, user)
	voter := env.resolveVoter(t, user)

	target := targets.MustNew(targets.TypeBinary, testSha256("aa"))
	box, err := NewBallotBox(
		context.Background(),
		env.db,
		target,
		voter,
		BallotBoxConfig{
			EventBus:          env.eventBus,
			AllConfigurations: true,
		},
	)
	require.NoError(t, err)
	t.Cleanup(box.Release)

	require.Len(t, box.Configurations(), 2)
	require.NoError(
		t,
		box.CastDefaultVotes(context.Background(), true, nil),
	)
	ballot, err := env.store.GetCurrentBallot(
		box.Target().ID,
		testRealm,
		"alice",
		nil,
	)
	require.NoError(t, err)
	require.NotNil(t, ballot)
	votes, err := env.store.GetVotes(ballot.ID, nil)
	require.NoError(t, err)
	require.Len(t, votes, 2)
	assert.Equal(t, first.ID, votes[0].ConfigurationID)
	assert.Equal(t, third.ID, votes[1].ConfigurationID)
}

func TestCastDefaultVotesRecordsEventTarget(t *testing.T) {
	env := setupTestEnv(t)
	configuration := env.seedConfiguration(t, "default", nil)
	voter := env.seedVoter(t, "alice", configuration, nil)

	// Voting initiated from a binary lands on its bundle
	binary := targets.MustNew(targets.TypeBinary, testSha256("aa"))
	bundle := targets.MustNew(targets.TypeBundle, "com.example.app")
	bundleRow := env.seedTarget(t, bundle)
	binaryRow := env.seedTarget(t, binary)
	env.seedBundle(t, bundleRow, true, binaryRow)

	box := env.openBox(t, bundle, voter)
	require.NoError(
		t,
		box.CastDefaultVotes(context.Background(), true, &binary),
	)

	ballot, err := env.store.GetCurrentBallot(
		bundleRow.ID,
		testRealm,
		"alice",
		nil,
	)
	require.NoError(t, err)
	require.NotNil(t, ballot)
	assert.Equal(t, types.TargetRef{
		Type:       targets.TypeBinary.String(),
		Identifier: binary.Identifier,
	}, ballot.EventTarget)
}

func TestResetTargetState(t *testing.T) {
	env := setupTestEnv(t)
	configuration := env.seedConfiguration(
		t,
		"default",
		func(c *models.Configuration) {
			c.DefaultVotingWeight = 5
		},
	)
	alice := env.seedUser(t, "alice")
	env.seedMachine(t, configuration, alice)
	aliceVoter := env.resolveVoter(t, alice)
	resetter := env.seedVoter(
		t,
		"bob",
		configuration,
		func(vg *models.VotingGroup) {
			vg.CanResetTarget = true
		},
	)

	target := targets.MustNew(targets.TypeBinary, testSha256("aa"))
	ctx := context.Background()

	box := env.openBox(t, target, aliceVoter)
	require.NoError(t, box.CastVotes(ctx, []Vote{
		{Configuration: configuration, IsYesVote: true},
	}))
	targetID := box.Target().ID
	rule, err := env.store.GetRule(configuration.ID, targetID, nil)
	require.NoError(t, err)
	require.NotNil(t, rule)
	box.Release()

	// Without the capability the reset is rejected
	box = env.openBox(t, target, aliceVoter)
	err = box.ResetTargetState(ctx, configuration)
	var resetErr *ResetNotAllowedError
	require.ErrorAs(t, err, &resetErr)
	assert.Equal(
		t,
		`target state reset on configuration "default" not allowed`,
		resetErr.Error(),
	)
	box.Release()

	box = env.openBox(t, target, resetter)
	require.NoError(t, box.ResetTargetState(ctx, configuration))
	state := box.TargetState(configuration.ID)
	assert.Zero(t, state.Score)
	assert.Equal(t, models.TargetStateUntrusted, state.State)
	assert.False(t, state.Flagged)
	require.NotNil(t, state.ResetAt)
	box.Release()

	// The synthesized rule is gone, the vote rows are kept
	rule, err = env.store.GetRule(configuration.ID, targetID, nil)
	require.NoError(t, err)
	assert.Nil(t, rule)
	var voteCount int64
	require.NoError(
		t,
		env.store.DB().Model(&models.Vote{}).Count(&voteCount).Error,
	)
	assert.EqualValues(t, 1, voteCount)

	// Votes cast before the reset no longer count towards the score
	box = env.openBox(t, target, aliceVoter)
	require.NoError(t, box.CastVotes(ctx, []Vote{
		{Configuration: configuration, IsYesVote: true},
	}))
	state = box.TargetState(configuration.ID)
	assert.Equal(t, 5, state.Score)
	assert.Equal(t, models.TargetStatePartiallyAllowlisted, state.State)
}

func TestBallotEvents(t *testing.T) {
	env := setupTestEnv(t)
	configuration := env.seedConfiguration(
		t,
		"default",
		func(c *models.Configuration) {
			c.DefaultVotingWeight = 5
		},
	)
	voter := env.seedVoter(t, "alice", configuration, nil)
	target := targets.MustNew(targets.TypeBinary, testSha256("aa"))

	_, ballotEvents := env.eventBus.Subscribe(BallotCastEventType)
	_, stateEvents := env.eventBus.Subscribe(TargetStateUpdateEventType)
	_, ruleEvents := env.eventBus.Subscribe(RuleUpdateEventType)

	box := env.openBox(t, target, voter)
	require.NoError(t, box.CastVotes(context.Background(), []Vote{
		{Configuration: configuration, IsYesVote: true},
	}))

	select {
	case evt := <-ballotEvents:
		cast, ok := evt.Data.(*BallotCastEvent)
		require.True(t, ok)
		assert.Equal(t, "alice", cast.Username)
		assert.Equal(t, target.Identifier, cast.Target.Identifier)
		assert.Nil(t, cast.ReplacedBallotID)
		require.Len(t, cast.Votes, 1)
		assert.Equal(t, "default", cast.Votes[0].Configuration)
		assert.Equal(t, 5, cast.Votes[0].Weight)
		assert.True(t, cast.Votes[0].WasYesVote)
	default:
		t.Fatal("expected a ballot cast event")
	}

	select {
	case evt := <-stateEvents:
		update, ok := evt.Data.(*TargetStateUpdateEvent)
		require.True(t, ok)
		assert.Equal(t, "default", update.Configuration)
		assert.Zero(t, update.Previous.Score)
		assert.Equal(t, "UNTRUSTED", update.Previous.StateDisplay)
		assert.Equal(t, 5, update.Current.Score)
		assert.Equal(
			t,
			"PARTIALLY_ALLOWLISTED",
			update.Current.StateDisplay,
		)
	default:
		t.Fatal("expected a target state update event")
	}

	select {
	case evt := <-ruleEvents:
		update, ok := evt.Data.(*RuleUpdateEvent)
		require.True(t, ok)
		assert.Equal(t, RuleResultCreated, update.Result)
		assert.Equal(t, "Allowlist", update.Rule.Policy)
		assert.Equal(t, []string{"alice"}, update.Rule.PrimaryUsers)
	default:
		t.Fatal("expected a rule update event")
	}

	// The journal carries the same events in operation order
	records := env.drainJournal(t)
	require.Len(t, records, 3)
	assert.Equal(t, BallotCastEventType, records[0].Type)
	assert.Equal(t, TargetStateUpdateEventType, records[1].Type)
	assert.Equal(t, RuleUpdateEventType, records[2].Type)
}

func TestResetEvents(t *testing.T) {
	env := setupTestEnv(t)
	configuration := env.seedConfiguration(
		t,
		"default",
		func(c *models.Configuration) {
			c.DefaultVotingWeight = 5
		},
	)
	alice := env.seedVoter(t, "alice", configuration, nil)
	resetter := env.seedVoter(
		t,
		"bob",
		configuration,
		func(vg *models.VotingGroup) {
			vg.CanResetTarget = true
		},
	)
	target := targets.MustNew(targets.TypeBinary, testSha256("aa"))
	ctx := context.Background()

	box := env.openBox(t, target, alice)
	require.NoError(t, box.CastVotes(ctx, []Vote{
		{Configuration: configuration, IsYesVote: true},
	}))
	box.Release()

	_, resetEvents := env.eventBus.Subscribe(TargetStateResetEventType)

	box = env.openBox(t, target, resetter)
	require.NoError(t, box.ResetTargetState(ctx, configuration))

	select {
	case evt := <-resetEvents:
		reset, ok := evt.Data.(*TargetStateResetEvent)
		require.True(t, ok)
		assert.Equal(t, "default", reset.Configuration)
		assert.Equal(t, "bob", reset.ResetBy)
		assert.Equal(t, target.Identifier, reset.Target.Identifier)
		assert.False(t, reset.ResetAt.IsZero())
	default:
		t.Fatal("expected a target state reset event")
	}

	// Cast events, then the reset trio: state update, reset marker,
	// rule deletion
	records := env.drainJournal(t)
	require.Len(t, records, 6)
	assert.Equal(t, TargetStateUpdateEventType, records[3].Type)
	assert.Equal(t, TargetStateResetEventType, records[4].Type)
	assert.Equal(t, RuleUpdateEventType, records[5].Type)
}

func TestFailedCastEmitsNothing(t *testing.T) {
	env := setupTestEnv(t)
	configuration := env.seedConfiguration(t, "default", nil)
	voter := env.seedVoter(t, "alice", configuration, nil)

	target := targets.MustNew(targets.TypeBinary, testSha256("aa"))
	row := env.seedTarget(t, target)
	env.seedTargetState(t, row, configuration, -26)

	_, ballotEvents := env.eventBus.Subscribe(BallotCastEventType)

	box := env.openBox(t, target, voter)
	err := box.CastVotes(context.Background(), []Vote{
		{Configuration: configuration, IsYesVote: true},
	})
	var notAllowedErr *VotingNotAllowedError
	require.ErrorAs(t, err, &notAllowedErr)
	assert.Equal(t, "Target is banned", notAllowedErr.Reason)

	select {
	case <-ballotEvents:
		t.Fatal("a rejected cast must not publish events")
	default:
	}
	assert.Empty(t, env.drainJournal(t))
}

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
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/blinklabs-io/tally/database"
	"github.com/blinklabs-io/tally/database/models"
	"github.com/blinklabs-io/tally/database/plugin/metadata"
	"github.com/blinklabs-io/tally/database/types"
	"github.com/blinklabs-io/tally/event"
	"github.com/blinklabs-io/tally/targets"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const testRealm = "11111111-1111-1111-1111-111111111111"

func testSha256(prefix string) string {
	return prefix + strings.Repeat("0", 64-len(prefix))
}

// testEnv bundles an in-memory database and an event bus with seeding
// helpers for the voting fixtures.
type testEnv struct {
	db       *database.Database
	store    metadata.MetadataStore
	eventBus *event.EventBus
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.New(&database.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close database: %s", err)
		}
	})
	eventBus := event.NewEventBus(nil, nil)
	t.Cleanup(eventBus.Stop)
	env := &testEnv{db: db, store: db.Metadata(), eventBus: eventBus}
	require.NoError(
		t,
		env.store.DB().
			Create(&models.Realm{UUID: testRealm, Name: "corp"}).
			Error,
	)
	return env
}

func (env *testEnv) seedConfiguration(
	t *testing.T,
	name string,
	mutate func(*models.Configuration),
) *models.Configuration {
	t.Helper()
	configuration := models.NewConfiguration(name)
	realmUUID := testRealm
	configuration.VotingRealmUUID = &realmUUID
	configuration.DefaultBallotTargetTypes = types.StringList{
		targets.TypeMetaBundle.String(),
		targets.TypeBundle.String(),
		targets.TypeBinary.String(),
	}
	if mutate != nil {
		mutate(configuration)
	}
	require.NoError(t, env.store.SetConfiguration(configuration, nil))
	return configuration
}

func (env *testEnv) seedUser(
	t *testing.T,
	username string,
) *models.RealmUser {
	t.Helper()
	user := &models.RealmUser{
		UUID:      uuid.NewString(),
		RealmUUID: testRealm,
		Username:  username,
		Email:     username + "@corp.example",
	}
	require.NoError(t, env.store.DB().Create(user).Error)
	return user
}

func (env *testEnv) seedGroup(
	t *testing.T,
	name string,
	parent *models.RealmGroup,
) *models.RealmGroup {
	t.Helper()
	group := &models.RealmGroup{
		UUID:      uuid.NewString(),
		RealmUUID: testRealm,
		Name:      name,
	}
	if parent != nil {
		group.ParentUUID = &parent.UUID
	}
	require.NoError(t, env.store.DB().Create(group).Error)
	return group
}

func (env *testEnv) addUserToGroup(
	t *testing.T,
	user *models.RealmUser,
	group *models.RealmGroup,
) {
	t.Helper()
	require.NoError(t, env.store.DB().Create(&models.RealmUserGroup{
		RealmUserUUID:  user.UUID,
		RealmGroupUUID: group.UUID,
	}).Error)
}

func (env *testEnv) seedVotingGroup(
	t *testing.T,
	configuration *models.Configuration,
	group *models.RealmGroup,
	mutate func(*models.VotingGroup),
) *models.VotingGroup {
	t.Helper()
	votingGroup := &models.VotingGroup{
		ConfigurationID: configuration.ID,
		RealmGroupUUID:  group.UUID,
		VotingWeight:    models.DefaultVotingWeight,
		BallotTargetTypes: types.StringList{
			targets.TypeMetaBundle.String(),
			targets.TypeBundle.String(),
			targets.TypeBinary.String(),
		},
	}
	if mutate != nil {
		mutate(votingGroup)
	}
	require.NoError(t, env.store.SetVotingGroup(votingGroup, nil))
	return votingGroup
}

func (env *testEnv) seedMachine(
	t *testing.T,
	configuration *models.Configuration,
	user *models.RealmUser,
) {
	t.Helper()
	serialNumber := "SN" + uuid.NewString()[:13]
	require.NoError(t, env.store.SetEnrolledMachine(&models.EnrolledMachine{
		SerialNumber:    serialNumber,
		PrimaryUser:     &user.Username,
		LastSeen:        time.Now(),
		ConfigurationID: configuration.ID,
	}, nil))
}

// seedVoter creates a realm user with an enrolled machine on the
// configuration and, when mutate is given, a dedicated group with a
// voting group configured through it.
func (env *testEnv) seedVoter(
	t *testing.T,
	username string,
	configuration *models.Configuration,
	mutate func(*models.VotingGroup),
) Voter {
	t.Helper()
	user := env.seedUser(t, username)
	env.seedMachine(t, configuration, user)
	if mutate != nil {
		group := env.seedGroup(t, username+" group", nil)
		env.addUserToGroup(t, user, group)
		env.seedVotingGroup(t, configuration, group, mutate)
	}
	return env.resolveVoter(t, user)
}

func (env *testEnv) resolveVoter(
	t *testing.T,
	user *models.RealmUser,
) Voter {
	t.Helper()
	voter, err := ResolveVoter(env.store, user.UUID, 0)
	require.NoError(t, err)
	return voter
}

func (env *testEnv) seedTarget(
	t *testing.T,
	target targets.Target,
) *models.Target {
	t.Helper()
	row, err := env.store.GetOrCreateTarget(
		target.Type.String(),
		target.Identifier,
		nil,
	)
	require.NoError(t, err)
	return row
}

func (env *testEnv) relateTargets(
	t *testing.T,
	member *models.Target,
	container *models.Target,
) {
	t.Helper()
	require.NoError(
		t,
		env.store.SetTargetRelation(member.ID, container.ID, nil),
	)
}

func (env *testEnv) seedBundle(
	t *testing.T,
	target *models.Target,
	uploaded bool,
	members ...*models.Target,
) {
	t.Helper()
	bundle := &models.Bundle{
		TargetID:    target.ID,
		BundleID:    "com.example." + target.Identifier,
		Name:        "Example",
		Version:     "1",
		VersionStr:  "1.0",
		BinaryCount: len(members),
	}
	if uploaded {
		now := time.Now()
		bundle.UploadedAt = &now
	}
	require.NoError(t, env.store.SetBundle(bundle, nil))
	for _, member := range members {
		env.relateTargets(t, member, target)
	}
}

func (env *testEnv) seedTargetState(
	t *testing.T,
	target *models.Target,
	configuration *models.Configuration,
	score int,
) *models.TargetState {
	t.Helper()
	state, flagged := StateFromScore(score, configuration)
	row := &models.TargetState{
		TargetID:        target.ID,
		ConfigurationID: configuration.ID,
		Score:           score,
		State:           state,
		Flagged:         flagged,
	}
	require.NoError(t, env.store.SetTargetState(row, nil))
	return row
}

// seedBallot writes a ballot with a single vote directly, bypassing the
// ballot box.
func (env *testEnv) seedBallot(
	t *testing.T,
	target *models.Target,
	user *models.RealmUser,
	configuration *models.Configuration,
	isYesVote bool,
	weight int,
) *models.Ballot {
	t.Helper()
	ballot := &models.Ballot{
		TargetID:      target.ID,
		RealmUserUUID: &user.UUID,
		UserUID:       user.Username,
		EventTarget: types.TargetRef{
			Type:       target.Type,
			Identifier: target.Identifier,
		},
	}
	require.NoError(t, env.store.CreateBallot(ballot, nil))
	require.NoError(t, env.store.CreateVote(&models.Vote{
		BallotID:        ballot.ID,
		ConfigurationID: configuration.ID,
		Weight:          weight,
		WasYesVote:      isYesVote,
		CreatedAt:       ballot.CreatedAt,
	}, nil))
	return ballot
}

func (env *testEnv) openBox(
	t *testing.T,
	target targets.Target,
	voter Voter,
) *BallotBox {
	t.Helper()
	box, err := NewBallotBox(
		context.Background(),
		env.db,
		target,
		voter,
		BallotBoxConfig{EventBus: env.eventBus},
	)
	require.NoError(t, err)
	t.Cleanup(box.Release)
	return box
}

// drainJournal decodes every journaled event in append order.
func (env *testEnv) drainJournal(t *testing.T) []JournalRecord {
	t.Helper()
	readTxn := env.db.Journal().NewTransaction(false)
	defer readTxn.Rollback() //nolint:errcheck
	iter := env.db.Journal().NewIterator(
		readTxn,
		types.JournalIteratorOptions{},
	)
	defer iter.Close()
	var records []JournalRecord
	for iter.Rewind(); iter.Valid(); iter.Next() {
		val, err := iter.Item().ValueCopy(nil)
		require.NoError(t, err)
		var record JournalRecord
		require.NoError(t, json.Unmarshal(val, &record))
		records = append(records, record)
	}
	require.NoError(t, iter.Err())
	return records
}

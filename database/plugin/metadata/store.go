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

package metadata

import (
	"log/slog"
	"time"

	"github.com/blinklabs-io/tally/database/models"
	"github.com/blinklabs-io/tally/database/plugin/metadata/sqlite"
	"github.com/blinklabs-io/tally/database/types"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

type MetadataStore interface {
	// Database
	Start() error
	Close() error
	DB() *gorm.DB
	ReadDB() *gorm.DB
	AutoMigrate(...any) error
	Transaction() types.Txn
	GetCommitTimestamp() (int64, error)
	SetCommitTimestamp(
		int64, // timestamp
		types.Txn,
	) error

	// Configurations
	GetConfiguration(
		uint, // configurationID
		types.Txn,
	) (*models.Configuration, error)
	GetConfigurationByName(
		string, // name
		types.Txn,
	) (*models.Configuration, error)
	ListConfigurations(types.Txn) ([]models.Configuration, error)
	SetConfiguration(*models.Configuration, types.Txn) error
	GetVotingGroups(
		uint, // configurationID
		[]string, // realmGroupUUIDs
		types.Txn,
	) ([]models.VotingGroup, error)
	SetVotingGroup(*models.VotingGroup, types.Txn) error
	GetVotableConfigurations(
		string, // realmUUID
		[]string, // realmGroupUUIDs
		types.Txn,
	) ([]models.Configuration, error)

	// Targets
	GetTarget(
		string, // targetType
		string, // identifier
		types.Txn,
	) (*models.Target, error)
	GetTargetByID(uint, types.Txn) (*models.Target, error)
	GetTargetsByID([]uint, types.Txn) ([]models.Target, error)
	GetOrCreateTarget(
		string, // targetType
		string, // identifier
		types.Txn,
	) (*models.Target, error)
	SetTargetRelation(
		uint, // targetID
		uint, // relatedID
		types.Txn,
	) error
	GetTargetRelations([]uint, types.Txn) ([]models.TargetRelation, error)
	GetMemberTargets(
		uint, // containerTargetID
		string, // memberType
		types.Txn,
	) ([]models.Target, error)
	GetTargetState(
		uint, // targetID
		uint, // configurationID
		types.Txn,
	) (*models.TargetState, error)
	GetTargetStates(
		[]uint, // targetIDs
		[]uint, // configurationIDs
		types.Txn,
	) ([]models.TargetState, error)
	ListTargetStates(
		uint, // configurationID
		types.Txn,
	) ([]models.TargetState, error)
	SetTargetState(*models.TargetState, types.Txn) error

	// Ballots and votes
	GetCurrentBallot(
		uint, // targetID
		string, // realmUUID
		string, // username
		types.Txn,
	) (*models.Ballot, error)
	CreateBallot(*models.Ballot, types.Txn) error
	ReplaceBallot(
		uint, // ballotID
		uint, // replacedByID
		types.Txn,
	) error
	CreateVote(*models.Vote, types.Txn) error
	GetVotes(
		uint, // ballotID
		types.Txn,
	) ([]models.Vote, error)
	GetVoteSum(
		uint, // targetID
		uint, // configurationID
		*time.Time, // resetAt
		types.Txn,
	) (int, error)
	GetEligibleRuleSources(
		uint, // configurationID
		types.Txn,
	) ([]types.RuleSource, error)

	// Rules
	GetRule(
		uint, // configurationID
		uint, // targetID
		types.Txn,
	) (*models.Rule, error)
	GetRules(
		uint, // configurationID
		types.Txn,
	) ([]models.Rule, error)
	GetNonVotingRules(
		uint, // configurationID
		[]uint, // targetIDs
		types.Txn,
	) ([]models.Rule, error)
	CreateRule(*models.Rule, types.Txn) error
	SaveRule(*models.Rule, types.Txn) error
	DeleteRule(
		uint, // ruleID
		types.Txn,
	) error

	// Realm mirror
	GetRealm(
		string, // realmUUID
		types.Txn,
	) (*models.Realm, error)
	GetRealmUser(
		string, // realmUserUUID
		types.Txn,
	) (*models.RealmUser, error)
	GetRealmUserByUsername(
		string, // realmUUID
		string, // username
		types.Txn,
	) (*models.RealmUser, error)
	GetRealmUserGroups(
		string, // realmUserUUID
		types.Txn,
	) ([]models.RealmGroup, error)
	GetRealmGroups(
		[]string, // realmGroupUUIDs
		types.Txn,
	) ([]models.RealmGroup, error)

	// Machines
	GetMachineConfigurationIDs(
		string, // primaryUser
		time.Time, // seenSince
		types.Txn,
	) ([]uint, error)
	SetEnrolledMachine(*models.EnrolledMachine, types.Txn) error

	// Target metadata
	GetBundle(
		uint, // targetID
		types.Txn,
	) (*models.Bundle, error)
	SetBundle(*models.Bundle, types.Txn) error
	GetCertificate(
		uint, // targetID
		types.Txn,
	) (*models.Certificate, error)
	GetCertificatesByTeamID(
		string, // teamID
		types.Txn,
	) ([]models.Certificate, error)
	SetCertificate(*models.Certificate, types.Txn) error
}

// For now, this always returns a sqlite plugin
func New(
	pluginName, dataDir string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (MetadataStore, error) {
	return sqlite.New(dataDir, logger, promRegistry)
}

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

package sqlite

import (
	"errors"
	"time"

	"github.com/blinklabs-io/tally/database/models"
	"github.com/blinklabs-io/tally/database/types"
	"gorm.io/gorm"
)

// GetCurrentBallot retrieves the current (non-replaced) ballot cast on a
// target by the realm user with the given username. Matching is done by
// username within the realm, so distinct user records sharing a username
// resolve to the same ballot.
func (d *MetadataStoreSqlite) GetCurrentBallot(
	targetID uint,
	realmUUID string,
	username string,
	txn types.Txn,
) (*models.Ballot, error) {
	var ballot models.Ballot
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, err
	}
	result := db.
		Joins("JOIN realm_user ON realm_user.uuid = ballot.realm_user_uuid").
		Where(
			"ballot.target_id = ? AND realm_user.realm_uuid = ? AND realm_user.username = ? AND ballot.replaced_by_id IS NULL",
			targetID,
			realmUUID,
			username,
		).
		First(&ballot)
	if result.Error != nil {
		// It's not an error if the user has not voted on the target yet
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &ballot, nil
}

// CreateBallot inserts a new ballot.
func (d *MetadataStoreSqlite) CreateBallot(
	ballot *models.Ballot,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	if result := db.Create(ballot); result.Error != nil {
		return result.Error
	}
	return nil
}

// ReplaceBallot marks a ballot as superseded by another one.
func (d *MetadataStoreSqlite) ReplaceBallot(
	ballotID uint,
	replacedByID uint,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	result := db.Model(&models.Ballot{}).
		Where("id = ?", ballotID).
		Update("replaced_by_id", replacedByID)
	if result.Error != nil {
		return result.Error
	}
	return nil
}

// CreateVote inserts a new vote.
func (d *MetadataStoreSqlite) CreateVote(
	vote *models.Vote,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	if result := db.Create(vote); result.Error != nil {
		return result.Error
	}
	return nil
}

// GetVotes retrieves the votes of a ballot ordered by configuration.
func (d *MetadataStoreSqlite) GetVotes(
	ballotID uint,
	txn types.Txn,
) ([]models.Vote, error) {
	var votes []models.Vote
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Where("ballot_id = ?", ballotID).
		Order("configuration_id").
		Find(&votes); result.Error != nil {
		return nil, result.Error
	}
	return votes, nil
}

// GetVoteSum computes the signed weight sum of all votes cast on a target
// for one configuration. Votes of replaced ballots still count; the vote
// ledger is append only and the score reflects the full history. When
// resetAt is set, only votes cast after it are summed.
func (d *MetadataStoreSqlite) GetVoteSum(
	targetID uint,
	configurationID uint,
	resetAt *time.Time,
	txn types.Txn,
) (int, error) {
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return 0, err
	}
	query := db.Model(&models.Vote{}).
		Select(
			"COALESCE(SUM(CASE WHEN vote.was_yes_vote THEN vote.weight ELSE -vote.weight END), 0)",
		).
		Joins("JOIN ballot ON ballot.id = vote.ballot_id").
		Where(
			"ballot.target_id = ? AND vote.configuration_id = ?",
			targetID,
			configurationID,
		)
	if resetAt != nil {
		query = query.Where("vote.created_at > ?", *resetAt)
	}
	var sum int
	if result := query.Scan(&sum); result.Error != nil {
		return 0, result.Error
	}
	return sum, nil
}

// GetEligibleRuleSources retrieves the (target state, voter) pairs that
// feed rule synthesis for a configuration: states at or above the
// partially allowlisted threshold state or at the banned state, paired
// with the voters of their current post-reset ballots. The voter is nil
// for downvotes, so downvoters never end up in rule primary users.
func (d *MetadataStoreSqlite) GetEligibleRuleSources(
	configurationID uint,
	txn types.Txn,
) ([]types.RuleSource, error) {
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, err
	}
	var sources []types.RuleSource
	result := db.Raw(
		`SELECT ts.target_id AS target_id,
		        ts.state AS state,
		        CASE WHEN v.was_yes_vote THEN COALESCE(u.username, b.user_uid) END AS voter
		 FROM target_state ts
		 JOIN ballot b ON b.target_id = ts.target_id
		 JOIN vote v ON v.ballot_id = b.id AND v.configuration_id = ts.configuration_id
		 LEFT JOIN realm_user u ON u.uuid = b.realm_user_uuid
		 WHERE ts.configuration_id = ?
		   AND (ts.state >= ? OR ts.state <= ?)
		   AND b.replaced_by_id IS NULL
		   AND (ts.reset_at IS NULL OR b.created_at > ts.reset_at)`,
		configurationID,
		models.TargetStatePartiallyAllowlisted,
		models.TargetStateBanned,
	).Scan(&sources)
	if result.Error != nil {
		return nil, result.Error
	}
	return sources, nil
}

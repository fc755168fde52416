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

	"github.com/blinklabs-io/tally/database/models"
	"github.com/blinklabs-io/tally/database/types"
	"gorm.io/gorm"
)

// GetRule retrieves the rule for a (configuration, target) pair.
func (d *MetadataStoreSqlite) GetRule(
	configurationID uint,
	targetID uint,
	txn types.Txn,
) (*models.Rule, error) {
	var rule models.Rule
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, err
	}
	result := db.Where(
		"configuration_id = ? AND target_id = ?",
		configurationID,
		targetID,
	).First(&rule)
	if result.Error != nil {
		// It's not an error if the pair has no rule
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &rule, nil
}

// GetRules retrieves all rules of a configuration.
func (d *MetadataStoreSqlite) GetRules(
	configurationID uint,
	txn types.Txn,
) ([]models.Rule, error) {
	var rules []models.Rule
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Where("configuration_id = ?", configurationID).
		Find(&rules); result.Error != nil {
		return nil, result.Error
	}
	return rules, nil
}

// GetNonVotingRules retrieves the operator managed rules of a
// configuration covering any of the given targets.
func (d *MetadataStoreSqlite) GetNonVotingRules(
	configurationID uint,
	targetIDs []uint,
	txn types.Txn,
) ([]models.Rule, error) {
	if len(targetIDs) == 0 {
		return nil, nil
	}
	var rules []models.Rule
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Where(
		"configuration_id = ? AND target_id IN ? AND is_voting_rule = ?",
		configurationID,
		targetIDs,
		false,
	).Find(&rules); result.Error != nil {
		return nil, result.Error
	}
	return rules, nil
}

// CreateRule inserts a new rule.
func (d *MetadataStoreSqlite) CreateRule(
	rule *models.Rule,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	if result := db.Create(rule); result.Error != nil {
		return result.Error
	}
	return nil
}

// SaveRule persists changes to an existing rule.
func (d *MetadataStoreSqlite) SaveRule(
	rule *models.Rule,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	if result := db.Save(rule); result.Error != nil {
		return result.Error
	}
	return nil
}

// DeleteRule deletes a rule by ID.
func (d *MetadataStoreSqlite) DeleteRule(
	ruleID uint,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	if result := db.Delete(&models.Rule{}, ruleID); result.Error != nil {
		return result.Error
	}
	return nil
}

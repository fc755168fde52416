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
	"gorm.io/gorm/clause"
)

// GetTarget retrieves a target by its (type, identifier) pair.
func (d *MetadataStoreSqlite) GetTarget(
	targetType string,
	identifier string,
	txn types.Txn,
) (*models.Target, error) {
	var target models.Target
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Where(
		"type = ? AND identifier = ?",
		targetType,
		identifier,
	).First(&target); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrTargetNotFound
		}
		return nil, result.Error
	}
	return &target, nil
}

// GetTargetByID retrieves a target by ID.
func (d *MetadataStoreSqlite) GetTargetByID(
	targetID uint,
	txn types.Txn,
) (*models.Target, error) {
	var target models.Target
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.First(&target, targetID); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrTargetNotFound
		}
		return nil, result.Error
	}
	return &target, nil
}

// GetTargetsByID retrieves the targets with the given IDs.
func (d *MetadataStoreSqlite) GetTargetsByID(
	targetIDs []uint,
	txn types.Txn,
) ([]models.Target, error) {
	if len(targetIDs) == 0 {
		return nil, nil
	}
	var targets []models.Target
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Where("id IN ?", targetIDs).
		Find(&targets); result.Error != nil {
		return nil, result.Error
	}
	return targets, nil
}

// GetOrCreateTarget retrieves a target by its (type, identifier) pair,
// creating it when missing.
func (d *MetadataStoreSqlite) GetOrCreateTarget(
	targetType string,
	identifier string,
	txn types.Txn,
) (*models.Target, error) {
	var target models.Target
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Where(
		models.Target{Type: targetType, Identifier: identifier},
	).FirstOrCreate(&target); result.Error != nil {
		return nil, result.Error
	}
	return &target, nil
}

// SetTargetRelation records an edge between a target and a related
// (containing or signing) target. Duplicate edges are ignored.
func (d *MetadataStoreSqlite) SetTargetRelation(
	targetID uint,
	relatedID uint,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	relation := models.TargetRelation{
		TargetID:  targetID,
		RelatedID: relatedID,
	}
	if result := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&relation); result.Error != nil {
		return result.Error
	}
	return nil
}

// GetTargetRelations retrieves all relation edges touching any of the
// given targets, in either direction.
func (d *MetadataStoreSqlite) GetTargetRelations(
	targetIDs []uint,
	txn types.Txn,
) ([]models.TargetRelation, error) {
	if len(targetIDs) == 0 {
		return nil, nil
	}
	var relations []models.TargetRelation
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Where(
		"target_id IN ? OR related_id IN ?",
		targetIDs,
		targetIDs,
	).Find(&relations); result.Error != nil {
		return nil, result.Error
	}
	return relations, nil
}

// GetMemberTargets retrieves the targets of the given type related to a
// container target, e.g. the BINARY members of a BUNDLE.
func (d *MetadataStoreSqlite) GetMemberTargets(
	containerTargetID uint,
	memberType string,
	txn types.Txn,
) ([]models.Target, error) {
	var targets []models.Target
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.
		Joins(
			"JOIN target_relation ON target_relation.target_id = target.id",
		).
		Where(
			"target_relation.related_id = ? AND target.type = ?",
			containerTargetID,
			memberType,
		).
		Find(&targets); result.Error != nil {
		return nil, result.Error
	}
	return targets, nil
}

// GetTargetState retrieves the state of a target on one configuration.
func (d *MetadataStoreSqlite) GetTargetState(
	targetID uint,
	configurationID uint,
	txn types.Txn,
) (*models.TargetState, error) {
	var state models.TargetState
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Where(
		"target_id = ? AND configuration_id = ?",
		targetID,
		configurationID,
	).First(&state); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrTargetStateNotFound
		}
		return nil, result.Error
	}
	return &state, nil
}

// GetTargetStates retrieves the states of the given targets on the given
// configurations. Pairs without a state row have never been voted on and
// are absent from the result.
func (d *MetadataStoreSqlite) GetTargetStates(
	targetIDs []uint,
	configurationIDs []uint,
	txn types.Txn,
) ([]models.TargetState, error) {
	if len(targetIDs) == 0 || len(configurationIDs) == 0 {
		return nil, nil
	}
	var states []models.TargetState
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Where(
		"target_id IN ? AND configuration_id IN ?",
		targetIDs,
		configurationIDs,
	).Find(&states); result.Error != nil {
		return nil, result.Error
	}
	return states, nil
}

// ListTargetStates retrieves all target states of a configuration,
// highest score first.
func (d *MetadataStoreSqlite) ListTargetStates(
	configurationID uint,
	txn types.Txn,
) ([]models.TargetState, error) {
	var states []models.TargetState
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Where("configuration_id = ?", configurationID).
		Order("score DESC, target_id").
		Find(&states); result.Error != nil {
		return nil, result.Error
	}
	return states, nil
}

// SetTargetState creates or updates a target state.
func (d *MetadataStoreSqlite) SetTargetState(
	state *models.TargetState,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	if result := db.Save(state); result.Error != nil {
		return result.Error
	}
	return nil
}

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

// GetConfiguration retrieves a configuration by ID.
func (d *MetadataStoreSqlite) GetConfiguration(
	configurationID uint,
	txn types.Txn,
) (*models.Configuration, error) {
	var config models.Configuration
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.First(&config, configurationID); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrConfigurationNotFound
		}
		return nil, result.Error
	}
	return &config, nil
}

// GetConfigurationByName retrieves a configuration by its unique name.
func (d *MetadataStoreSqlite) GetConfigurationByName(
	name string,
	txn types.Txn,
) (*models.Configuration, error) {
	var config models.Configuration
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Where("name = ?", name).First(&config); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrConfigurationNotFound
		}
		return nil, result.Error
	}
	return &config, nil
}

// ListConfigurations retrieves all configurations ordered by name.
func (d *MetadataStoreSqlite) ListConfigurations(
	txn types.Txn,
) ([]models.Configuration, error) {
	var configs []models.Configuration
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Order("name").Find(&configs); result.Error != nil {
		return nil, result.Error
	}
	return configs, nil
}

// SetConfiguration creates or updates a configuration.
func (d *MetadataStoreSqlite) SetConfiguration(
	config *models.Configuration,
	txn types.Txn,
) error {
	if err := config.Validate(); err != nil {
		return err
	}
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	if result := db.Save(config); result.Error != nil {
		return result.Error
	}
	return nil
}

// GetVotingGroups retrieves the voting groups of a configuration whose
// realm group is in the given set.
func (d *MetadataStoreSqlite) GetVotingGroups(
	configurationID uint,
	realmGroupUUIDs []string,
	txn types.Txn,
) ([]models.VotingGroup, error) {
	if len(realmGroupUUIDs) == 0 {
		return nil, nil
	}
	var groups []models.VotingGroup
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Where(
		"configuration_id = ? AND realm_group_uuid IN ?",
		configurationID,
		realmGroupUUIDs,
	).Find(&groups); result.Error != nil {
		return nil, result.Error
	}
	return groups, nil
}

// SetVotingGroup creates or updates a voting group.
func (d *MetadataStoreSqlite) SetVotingGroup(
	votingGroup *models.VotingGroup,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	if result := db.Save(votingGroup); result.Error != nil {
		return result.Error
	}
	return nil
}

// GetVotableConfigurations retrieves the configurations a voter may vote
// on: those whose voting realm matches the voter's realm, plus those with
// a voting group linking one of the voter's realm groups. Ordered by
// name.
func (d *MetadataStoreSqlite) GetVotableConfigurations(
	realmUUID string,
	realmGroupUUIDs []string,
	txn types.Txn,
) ([]models.Configuration, error) {
	var configs []models.Configuration
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, err
	}
	query := db.Where("voting_realm_uuid = ?", realmUUID)
	if len(realmGroupUUIDs) > 0 {
		query = query.Or(
			"id IN (?)",
			db.Session(&gorm.Session{NewDB: true}).
				Model(&models.VotingGroup{}).
				Select("configuration_id").
				Where("realm_group_uuid IN ?", realmGroupUUIDs),
		)
	}
	if result := db.Where(query).
		Order("name").
		Find(&configs); result.Error != nil {
		return nil, result.Error
	}
	return configs, nil
}

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
	"time"

	"github.com/blinklabs-io/tally/database/models"
	"github.com/blinklabs-io/tally/database/types"
	"gorm.io/gorm/clause"
)

// GetMachineConfigurationIDs retrieves the distinct configurations with
// an enrolled machine belonging to the given primary user and seen since
// the given time.
func (d *MetadataStoreSqlite) GetMachineConfigurationIDs(
	primaryUser string,
	seenSince time.Time,
	txn types.Txn,
) ([]uint, error) {
	var configurationIDs []uint
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, err
	}
	result := db.Model(&models.EnrolledMachine{}).
		Distinct("configuration_id").
		Where("primary_user = ? AND last_seen >= ?", primaryUser, seenSince).
		Order("configuration_id").
		Find(&configurationIDs)
	if result.Error != nil {
		return nil, result.Error
	}
	return configurationIDs, nil
}

// SetEnrolledMachine creates or updates an enrolled machine keyed by
// (configuration, serial number).
func (d *MetadataStoreSqlite) SetEnrolledMachine(
	machine *models.EnrolledMachine,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	result := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "configuration_id"},
			{Name: "serial_number"},
		},
		DoUpdates: clause.AssignmentColumns(
			[]string{"primary_user", "last_seen"},
		),
	}).Create(machine)
	if result.Error != nil {
		return result.Error
	}
	return nil
}

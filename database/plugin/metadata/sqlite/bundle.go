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

// GetBundle retrieves the bundle metadata of a target.
func (d *MetadataStoreSqlite) GetBundle(
	targetID uint,
	txn types.Txn,
) (*models.Bundle, error) {
	var bundle models.Bundle
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, err
	}
	result := db.Where("target_id = ?", targetID).First(&bundle)
	if result.Error != nil {
		// It's not an error if the bundle info has not been uploaded yet
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &bundle, nil
}

// SetBundle creates or updates the bundle metadata of a target.
func (d *MetadataStoreSqlite) SetBundle(
	bundle *models.Bundle,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	result := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "target_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"bundle_id",
			"name",
			"version",
			"version_str",
			"binary_count",
			"uploaded_at",
			"updated_at",
		}),
	}).Create(bundle)
	if result.Error != nil {
		return result.Error
	}
	return nil
}

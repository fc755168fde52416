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

// GetCertificate retrieves the certificate metadata of a target.
func (d *MetadataStoreSqlite) GetCertificate(
	targetID uint,
	txn types.Txn,
) (*models.Certificate, error) {
	var cert models.Certificate
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, err
	}
	result := db.Where("target_id = ?", targetID).First(&cert)
	if result.Error != nil {
		// It's not an error if the certificate metadata is missing
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &cert, nil
}

// GetCertificatesByTeamID retrieves the certificates whose organizational
// unit matches a signing team ID. Used to resolve publisher info for
// TEAM_ID targets.
func (d *MetadataStoreSqlite) GetCertificatesByTeamID(
	teamID string,
	txn types.Txn,
) ([]models.Certificate, error) {
	var certs []models.Certificate
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Where("organizational_unit = ?", teamID).
		Order("valid_until DESC").
		Find(&certs); result.Error != nil {
		return nil, result.Error
	}
	return certs, nil
}

// SetCertificate creates or updates the certificate metadata of a target.
func (d *MetadataStoreSqlite) SetCertificate(
	cert *models.Certificate,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	result := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "target_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"common_name",
			"organization",
			"organizational_unit",
			"valid_from",
			"valid_until",
		}),
	}).Create(cert)
	if result.Error != nil {
		return result.Error
	}
	return nil
}

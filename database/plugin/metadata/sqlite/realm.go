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

// GetRealm retrieves a realm by UUID.
func (d *MetadataStoreSqlite) GetRealm(
	realmUUID string,
	txn types.Txn,
) (*models.Realm, error) {
	var realm models.Realm
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, err
	}
	result := db.Where("uuid = ?", realmUUID).First(&realm)
	if result.Error != nil {
		// It's not an error if the realm mirror is empty
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &realm, nil
}

// GetRealmUser retrieves a realm user by UUID.
func (d *MetadataStoreSqlite) GetRealmUser(
	realmUserUUID string,
	txn types.Txn,
) (*models.RealmUser, error) {
	var user models.RealmUser
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, err
	}
	result := db.Where("uuid = ?", realmUserUUID).First(&user)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrRealmUserNotFound
		}
		return nil, result.Error
	}
	return &user, nil
}

// GetRealmUserByUsername retrieves a realm user by username within a
// realm.
func (d *MetadataStoreSqlite) GetRealmUserByUsername(
	realmUUID string,
	username string,
	txn types.Txn,
) (*models.RealmUser, error) {
	var user models.RealmUser
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, err
	}
	result := db.Where(
		"realm_uuid = ? AND username = ?",
		realmUUID,
		username,
	).First(&user)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrRealmUserNotFound
		}
		return nil, result.Error
	}
	return &user, nil
}

// GetRealmUserGroups retrieves the groups a realm user is a direct member
// of.
func (d *MetadataStoreSqlite) GetRealmUserGroups(
	realmUserUUID string,
	txn types.Txn,
) ([]models.RealmGroup, error) {
	var groups []models.RealmGroup
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, err
	}
	result := db.
		Joins(
			"JOIN realm_user_group ON realm_user_group.realm_group_uuid = realm_group.uuid",
		).
		Where("realm_user_group.realm_user_uuid = ?", realmUserUUID).
		Find(&groups)
	if result.Error != nil {
		return nil, result.Error
	}
	return groups, nil
}

// GetRealmGroups retrieves the realm groups with the given UUIDs.
func (d *MetadataStoreSqlite) GetRealmGroups(
	realmGroupUUIDs []string,
	txn types.Txn,
) ([]models.RealmGroup, error) {
	if len(realmGroupUUIDs) == 0 {
		return nil, nil
	}
	var groups []models.RealmGroup
	db, err := d.resolveReadDB(txn)
	if err != nil {
		return nil, err
	}
	if result := db.Where("uuid IN ?", realmGroupUUIDs).
		Find(&groups); result.Error != nil {
		return nil, result.Error
	}
	return groups, nil
}

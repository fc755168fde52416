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

package models

import (
	"errors"
	"time"
)

var ErrRealmUserNotFound = errors.New("realm user not found")

// Realm is an identity provider scope mirrored into the engine. The
// engine only reads realm data; it is maintained by an external sync.
type Realm struct {
	UUID      string `gorm:"primarykey;size:36"`
	Name      string `gorm:"size:256"`
	CreatedAt time.Time
}

func (Realm) TableName() string {
	return "realm"
}

// RealmGroup is a group within a realm. Groups form a tree via
// ParentUUID; membership in a group implies membership in all of its
// ancestors.
type RealmGroup struct {
	UUID       string  `gorm:"primarykey;size:36"`
	RealmUUID  string  `gorm:"index;size:36"`
	Name       string  `gorm:"size:256"`
	ParentUUID *string `gorm:"index;size:36"`
	CreatedAt  time.Time
}

func (RealmGroup) TableName() string {
	return "realm_group"
}

type RealmUser struct {
	UUID      string `gorm:"primarykey;size:36"`
	RealmUUID string `gorm:"index;size:36"`
	Username  string `gorm:"index;size:256"`
	Email     string `gorm:"size:256"`
	CreatedAt time.Time
}

func (RealmUser) TableName() string {
	return "realm_user"
}

// RealmUserGroup records a direct group membership.
type RealmUserGroup struct {
	RealmUserUUID  string `gorm:"uniqueIndex:realm_user_group_pair;size:36"`
	RealmGroupUUID string `gorm:"uniqueIndex:realm_user_group_pair;index;size:36"`
	ID             uint   `gorm:"primarykey"`
}

func (RealmUserGroup) TableName() string {
	return "realm_user_group"
}

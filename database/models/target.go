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

var (
	ErrTargetNotFound      = errors.New("target not found")
	ErrTargetStateNotFound = errors.New("target state not found")
)

// Values stored in TargetState.State.
const (
	TargetStateBanned               = -100
	TargetStateSuspect              = -50
	TargetStateUntrusted            = 0
	TargetStatePartiallyAllowlisted = 50
	TargetStateGloballyAllowlisted  = 100
)

// Target is one votable artifact identified by (type, identifier).
type Target struct {
	Type       string `gorm:"uniqueIndex:target_type_identifier;size:16"`
	Identifier string `gorm:"uniqueIndex:target_type_identifier;size:512"`
	CreatedAt  time.Time
	ID         uint `gorm:"primarykey"`
}

func (Target) TableName() string {
	return "target"
}

// TargetState is the per (target, configuration) voting outcome.
type TargetState struct {
	ResetAt         *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ID              uint `gorm:"primarykey"`
	TargetID        uint `gorm:"uniqueIndex:target_state_target_configuration"`
	ConfigurationID uint `gorm:"uniqueIndex:target_state_target_configuration"`
	Score           int
	State           int `gorm:"index"`
	Flagged         bool
}

func (TargetState) TableName() string {
	return "target_state"
}

// TargetRelation links a more specific target to a more general or
// containing one, e.g. a BINARY to its CERTIFICATE or its BUNDLE.
type TargetRelation struct {
	CreatedAt time.Time
	ID        uint `gorm:"primarykey"`
	TargetID  uint `gorm:"uniqueIndex:target_relation_pair;index"`
	RelatedID uint `gorm:"uniqueIndex:target_relation_pair;index"`
}

func (TargetRelation) TableName() string {
	return "target_relation"
}

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
	"fmt"
	"time"

	"github.com/blinklabs-io/tally/database/types"
)

var ErrConfigurationNotFound = errors.New("configuration not found")

// Default voting weight and thresholds for new configurations.
const (
	DefaultVotingWeight                  = 1
	DefaultBannedThreshold               = -26
	DefaultPartiallyAllowlistedThreshold = 5
	DefaultGloballyAllowlistedThreshold  = 50
)

// Configuration holds the voting thresholds and defaults for one
// enforcement scope.
type Configuration struct {
	Name                          string           `gorm:"uniqueIndex;size:256"`
	DefaultBallotTargetTypes      types.StringList `gorm:"type:text"`
	VotingRealmUUID               *string          `gorm:"index;size:36"`
	CreatedAt                     time.Time
	UpdatedAt                     time.Time
	ID                            uint `gorm:"primarykey"`
	DefaultVotingWeight           int  `gorm:"default:1"`
	BannedThreshold               int  `gorm:"default:-26"`
	PartiallyAllowlistedThreshold int  `gorm:"default:5"`
	GloballyAllowlistedThreshold  int  `gorm:"default:50"`
}

func (Configuration) TableName() string {
	return "configuration"
}

// NewConfiguration returns a configuration with the default thresholds.
func NewConfiguration(name string) *Configuration {
	return &Configuration{
		Name:                          name,
		DefaultVotingWeight:           DefaultVotingWeight,
		BannedThreshold:               DefaultBannedThreshold,
		PartiallyAllowlistedThreshold: DefaultPartiallyAllowlistedThreshold,
		GloballyAllowlistedThreshold:  DefaultGloballyAllowlistedThreshold,
	}
}

// Validate checks the threshold ordering invariant.
func (c *Configuration) Validate() error {
	if c.BannedThreshold >= 0 {
		return fmt.Errorf(
			"banned threshold must be negative, got %d",
			c.BannedThreshold,
		)
	}
	if c.PartiallyAllowlistedThreshold < 0 {
		return fmt.Errorf(
			"partially allowlisted threshold must not be negative, got %d",
			c.PartiallyAllowlistedThreshold,
		)
	}
	if c.PartiallyAllowlistedThreshold >= c.GloballyAllowlistedThreshold {
		return fmt.Errorf(
			"partially allowlisted threshold %d must be below globally allowlisted threshold %d",
			c.PartiallyAllowlistedThreshold,
			c.GloballyAllowlistedThreshold,
		)
	}
	return nil
}

// VotingGroup grants extra voting permissions to the members of a realm
// group on one configuration.
type VotingGroup struct {
	RealmGroupUUID    string           `gorm:"uniqueIndex:voting_group_configuration_realm_group;size:36"`
	BallotTargetTypes types.StringList `gorm:"type:text"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ID                uint `gorm:"primarykey"`
	ConfigurationID   uint `gorm:"uniqueIndex:voting_group_configuration_realm_group"`
	VotingWeight      int  `gorm:"default:1"`
	CanMarkMalware    bool
	CanUnflagTarget   bool
	CanResetTarget    bool
}

func (VotingGroup) TableName() string {
	return "voting_group"
}

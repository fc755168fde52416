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
	"slices"
	"time"

	"github.com/blinklabs-io/tally/database/types"
)

const (
	RulePolicyAllowlist = 1
	RulePolicyBlocklist = 2
)

// Rule is an enforcement decision for a target on one configuration.
// Voting rules (IsVotingRule) are synthesized from target states and are
// fully managed by the engine. Non-voting rules are operator managed and
// block voting on overlapping targets.
type Rule struct {
	CustomMsg             string           `gorm:"size:512"`
	Description           string           `gorm:"size:512"`
	PrimaryUsers          types.StringList `gorm:"type:text"`
	ExcludedPrimaryUsers  types.StringList `gorm:"type:text"`
	SerialNumbers         types.StringList `gorm:"type:text"`
	ExcludedSerialNumbers types.StringList `gorm:"type:text"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
	ID                    uint `gorm:"primarykey"`
	ConfigurationID       uint `gorm:"uniqueIndex:rule_configuration_target"`
	TargetID              uint `gorm:"uniqueIndex:rule_configuration_target"`
	Policy                int
	Version               int `gorm:"default:1"`
	IsVotingRule          bool
}

func (Rule) TableName() string {
	return "rule"
}

// SamePrimaryUsers compares the rule's primary users against a sorted
// username list.
func (r *Rule) SamePrimaryUsers(usernames []string) bool {
	return slices.Equal([]string(r.PrimaryUsers), usernames)
}

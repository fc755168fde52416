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
	"time"

	"github.com/blinklabs-io/tally/database/types"
)

// Ballot records one voting act on a target. Ballots are immutable; a
// revote creates a new ballot and points the old one at it via
// ReplacedByID. The current ballot of a user is the tail of the chain
// (ReplacedByID is NULL).
type Ballot struct {
	RealmUserUUID *string         `gorm:"index;size:36"`
	UserUID       string          `gorm:"index;size:256"`
	EventTarget   types.TargetRef `gorm:"size:560"`
	ReplacedByID  *uint           `gorm:"index"`
	CreatedAt     time.Time
	ID            uint `gorm:"primarykey"`
	TargetID      uint `gorm:"index"`
}

func (Ballot) TableName() string {
	return "ballot"
}

// Replaced reports whether this ballot has been superseded by a revote.
func (b *Ballot) Replaced() bool {
	return b.ReplacedByID != nil
}

// Vote is one weighted yes/no cast by a ballot on one configuration.
// Votes are append only and are never updated or deleted, even when their
// ballot is replaced. The score of a target state is the signed sum of
// all votes cast after the latest reset.
type Vote struct {
	CreatedAt       time.Time
	ID              uint `gorm:"primarykey"`
	BallotID        uint `gorm:"uniqueIndex:vote_ballot_configuration"`
	ConfigurationID uint `gorm:"uniqueIndex:vote_ballot_configuration"`
	Weight          int
	WasYesVote      bool
}

func (Vote) TableName() string {
	return "vote"
}

// SignedWeight returns the vote's contribution to the target score.
func (v *Vote) SignedWeight() int {
	if v.WasYesVote {
		return v.Weight
	}
	return -v.Weight
}

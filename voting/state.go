// Copyright 2026 Blink Labs Software
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

// Package voting implements the ballot box. It resolves voters and their
// capabilities, walks the target relation graph, records ballots and votes,
// maintains the per-configuration target states derived from them, and keeps
// the synthesized voting rules in sync with those states.
package voting

import (
	"github.com/blinklabs-io/tally/database/models"
)

// StateFromScore derives the target state and flag for a score under the
// thresholds of the given configuration. The banned threshold is inclusive,
// so a score exactly at it bans the target. Negative scores above the banned
// threshold mark the target as suspect. A target is flagged whenever its
// score is negative.
func StateFromScore(
	score int,
	configuration *models.Configuration,
) (int, bool) {
	flagged := score < 0
	var state int
	switch {
	case score <= configuration.BannedThreshold:
		state = models.TargetStateBanned
	case score < 0:
		state = models.TargetStateSuspect
	case score >= configuration.GloballyAllowlistedThreshold:
		state = models.TargetStateGloballyAllowlisted
	case score >= configuration.PartiallyAllowlistedThreshold:
		state = models.TargetStatePartiallyAllowlisted
	default:
		state = models.TargetStateUntrusted
	}
	return state, flagged
}

// StateDisplay returns the canonical name of a target state value.
func StateDisplay(state int) string {
	switch state {
	case models.TargetStateBanned:
		return "BANNED"
	case models.TargetStateSuspect:
		return "SUSPECT"
	case models.TargetStateUntrusted:
		return "UNTRUSTED"
	case models.TargetStatePartiallyAllowlisted:
		return "PARTIALLY_ALLOWLISTED"
	case models.TargetStateGloballyAllowlisted:
		return "GLOBALLY_ALLOWLISTED"
	default:
		return "UNKNOWN"
	}
}

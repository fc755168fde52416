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

package voting

import (
	"fmt"
)

// VotingError reports invalid use of the ballot box, such as an anonymous
// voter casting votes, an empty vote list, or the same configuration named
// twice in one ballot.
type VotingError struct {
	Message string
}

func (e *VotingError) Error() string {
	return e.Message
}

// VotingNotAllowedError is returned when a requested vote fails one of the
// ballot box checks. Reason carries the exact reason reported by the check.
type VotingNotAllowedError struct {
	Configuration string
	Reason        string
	IsYesVote     bool
}

func (e *VotingNotAllowedError) Error() string {
	direction := "downvote"
	if e.IsYesVote {
		direction = "upvote"
	}
	return fmt.Sprintf(
		"%s on configuration %q not allowed: %s",
		direction,
		e.Configuration,
		e.Reason,
	)
}

// DuplicateVoteError is returned when the requested votes are identical to
// the unexpired votes of the voter's current ballot on the target.
type DuplicateVoteError struct{}

func (e *DuplicateVoteError) Error() string {
	return "an identical ballot has already been cast"
}

// ResetNotAllowedError is returned when a voter without the reset capability
// attempts to reset a target state.
type ResetNotAllowedError struct {
	Configuration string
}

func (e *ResetNotAllowedError) Error() string {
	return fmt.Sprintf(
		"target state reset on configuration %q not allowed",
		e.Configuration,
	)
}

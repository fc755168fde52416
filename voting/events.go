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
	"encoding/json"
	"time"

	"github.com/blinklabs-io/tally/database"
	"github.com/blinklabs-io/tally/database/models"
	"github.com/blinklabs-io/tally/event"
)

const (
	BallotCastEventType        event.EventType = "voting.ballot_cast"
	TargetStateUpdateEventType event.EventType = "voting.target_state_update"
	TargetStateResetEventType  event.EventType = "voting.target_state_reset"
	RuleUpdateEventType        event.EventType = "voting.rule_update"
	ReconcileDoneEventType     event.EventType = "voting.reconcile_done"
)

// Values of RuleUpdateEvent.Result.
const (
	RuleResultCreated = "created"
	RuleResultUpdated = "updated"
	RuleResultDeleted = "deleted"
)

// EventTarget identifies a target in event payloads.
type EventTarget struct {
	Type       string `json:"type"`
	Identifier string `json:"identifier"`
}

func newEventTarget(target *models.Target) EventTarget {
	return EventTarget{
		Type:       target.Type,
		Identifier: target.Identifier,
	}
}

// EventVote is one of the per configuration votes of a cast ballot.
type EventVote struct {
	Configuration string `json:"configuration"`
	Weight        int    `json:"weight"`
	WasYesVote    bool   `json:"was_yes_vote"`
}

// BallotCastEvent is published after a ballot and its votes have been
// committed. When the ballot replaces an earlier one, ReplacedBallotID
// carries the id of the replaced ballot.
type BallotCastEvent struct {
	ReplacedBallotID *uint        `json:"replaced_ballot_id,omitempty"`
	EventTarget      *EventTarget `json:"event_target,omitempty"`
	RealmUserUUID    string       `json:"realm_user_uuid,omitempty"`
	Username         string       `json:"username"`
	Target           EventTarget  `json:"target"`
	Votes            []EventVote  `json:"votes"`
	BallotID         uint         `json:"ballot_id"`
}

// TargetStateSnapshot captures the observable fields of a target state.
type TargetStateSnapshot struct {
	ResetAt      *time.Time `json:"reset_at,omitempty"`
	StateDisplay string     `json:"state_display"`
	Score        int        `json:"score"`
	State        int        `json:"state"`
	Flagged      bool       `json:"flagged"`
}

func newTargetStateSnapshot(state *models.TargetState) TargetStateSnapshot {
	return TargetStateSnapshot{
		ResetAt:      state.ResetAt,
		StateDisplay: StateDisplay(state.State),
		Score:        state.Score,
		State:        state.State,
		Flagged:      state.Flagged,
	}
}

// TargetStateUpdateEvent is published when a committed ballot changed the
// observable fields of a target state.
type TargetStateUpdateEvent struct {
	Configuration string              `json:"configuration"`
	Target        EventTarget         `json:"target"`
	Previous      TargetStateSnapshot `json:"previous"`
	Current       TargetStateSnapshot `json:"current"`
}

// TargetStateResetEvent marks an operator reset of a target state.
type TargetStateResetEvent struct {
	ResetAt       time.Time   `json:"reset_at"`
	Configuration string      `json:"configuration"`
	ResetBy       string      `json:"reset_by,omitempty"`
	Target        EventTarget `json:"target"`
}

// EventRule is the rule summary carried by rule update events.
type EventRule struct {
	Target       EventTarget `json:"target"`
	Policy       string      `json:"policy"`
	CustomMsg    string      `json:"custom_msg,omitempty"`
	PrimaryUsers []string    `json:"primary_users,omitempty"`
	Version      int         `json:"version"`
}

// RuleFieldDiff lists the rule fields touched by an update. Scalar entries
// carry the new (added) or old (removed) value, the primary users entry
// carries the set difference.
type RuleFieldDiff struct {
	CustomMsg    *string  `json:"custom_msg,omitempty"`
	Policy       string   `json:"policy,omitempty"`
	PrimaryUsers []string `json:"primary_users,omitempty"`
}

// RuleUpdateEvent is published when the rule synthesizer creates, updates
// or deletes a voting rule.
type RuleUpdateEvent struct {
	Added         *RuleFieldDiff `json:"added,omitempty"`
	Removed       *RuleFieldDiff `json:"removed,omitempty"`
	Configuration string         `json:"configuration"`
	Result        string         `json:"result"`
	Rule          EventRule      `json:"rule"`
}

// ReconcileDoneEvent summarizes a completed rule reconciliation pass. It is
// delivered best effort and not journaled; the per rule events carry the
// durable record.
type ReconcileDoneEvent struct {
	Configurations int `json:"configurations"`
	Changes        int `json:"changes"`
}

// JournalRecord is the envelope written to the event journal for every
// committed voting event.
type JournalRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	Type      event.EventType `json:"type"`
	Data      any             `json:"data"`
}

// eventOutbox buffers the events of one voting operation. Buffered events
// are appended to the journal inside the operation's transaction and only
// reach the event bus after the transaction commits, so a failed operation
// emits nothing.
type eventOutbox struct {
	db     *database.Database
	events []outboxEvent
}

type outboxEvent struct {
	data      any
	eventType event.EventType
}

func (o *eventOutbox) stage(eventType event.EventType, data any) {
	o.events = append(o.events, outboxEvent{
		eventType: eventType,
		data:      data,
	})
}

// journal appends the buffered events to the event journal inside txn.
func (o *eventOutbox) journal(txn *database.Txn) error {
	for _, staged := range o.events {
		record := JournalRecord{
			Timestamp: time.Now(),
			Type:      staged.eventType,
			Data:      staged.data,
		}
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		if _, err := o.db.Journal().Append(txn.Journal(), data); err != nil {
			return err
		}
	}
	return nil
}

// publish emits the buffered events on the bus and clears the buffer.
func (o *eventOutbox) publish(eventBus *event.EventBus) {
	if eventBus != nil {
		for _, staged := range o.events {
			eventBus.Publish(
				staged.eventType,
				event.NewEvent(staged.eventType, staged.data),
			)
		}
	}
	o.events = nil
}

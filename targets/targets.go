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

// Package targets defines the vocabulary for executable targets: the
// target types, their identifier formats, and the target value type used
// throughout the voting engine.
package targets

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Type identifies the kind of executable artifact a target refers to.
type Type string

const (
	TypeTeamID      Type = "TEAM_ID"
	TypeSigningID   Type = "SIGNING_ID"
	TypeCertificate Type = "CERTIFICATE"
	TypeCDHash      Type = "CDHASH"
	TypeBinary      Type = "BINARY"
	TypeBundle      Type = "BUNDLE"
	TypeMetaBundle  Type = "METABUNDLE"
)

// ErrInvalidIdentifier is wrapped by all identifier validation failures.
var ErrInvalidIdentifier = errors.New("invalid target identifier")

var (
	sha256Regex = regexp.MustCompile(`^[a-f0-9]{64}$`)
	cdhashRegex = regexp.MustCompile(`^[a-f0-9]{40}$`)
	teamIDRegex = regexp.MustCompile(`^[0-9A-Z]{10}$`)
)

// AllTypes returns every known target type.
func AllTypes() []Type {
	return []Type{
		TypeTeamID,
		TypeSigningID,
		TypeCertificate,
		TypeCDHash,
		TypeBinary,
		TypeBundle,
		TypeMetaBundle,
	}
}

// ConflictWalkOrder returns the rule target types ordered from most
// general to most specific. Rule conflict detection walks this order and
// stops at the first type with a match.
func ConflictWalkOrder() []Type {
	return []Type{
		TypeTeamID,
		TypeCertificate,
		TypeSigningID,
		TypeCDHash,
		TypeBinary,
	}
}

func (t Type) Valid() bool {
	switch t {
	case TypeTeamID, TypeSigningID, TypeCertificate, TypeCDHash,
		TypeBinary, TypeBundle, TypeMetaBundle:
		return true
	}
	return false
}

// Label returns the human readable name for the type.
func (t Type) Label() string {
	switch t {
	case TypeTeamID:
		return "Team ID"
	case TypeSigningID:
		return "Signing ID"
	case TypeCertificate:
		return "Certificate"
	case TypeCDHash:
		return "cdhash"
	case TypeBinary:
		return "Binary"
	case TypeBundle:
		return "Bundle"
	case TypeMetaBundle:
		return "Metabundle"
	default:
		return string(t)
	}
}

func (t Type) String() string {
	return string(t)
}

// RulePolicy is the enforcement decision carried by a rule.
type RulePolicy int

const (
	PolicyAllowlist RulePolicy = 1
	PolicyBlocklist RulePolicy = 2
)

func (p RulePolicy) Label() string {
	switch p {
	case PolicyAllowlist:
		return "Allowlist"
	case PolicyBlocklist:
		return "Blocklist"
	default:
		return fmt.Sprintf("Unknown (%d)", int(p))
	}
}

// Target is a (type, identifier) pair with a normalized identifier.
type Target struct {
	Type       Type
	Identifier string
}

// New normalizes and validates an identifier for the given type.
func New(targetType Type, identifier string) (Target, error) {
	if !targetType.Valid() {
		return Target{}, fmt.Errorf(
			"%w: unknown target type %q",
			ErrInvalidIdentifier,
			targetType,
		)
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Target{}, fmt.Errorf(
			"%w: empty identifier for %s",
			ErrInvalidIdentifier,
			targetType,
		)
	}
	switch targetType {
	case TypeBinary, TypeCertificate:
		identifier = strings.ToLower(identifier)
		if !sha256Regex.MatchString(identifier) {
			return Target{}, fmt.Errorf(
				"%w: %s identifier must be a sha256 hex digest",
				ErrInvalidIdentifier,
				targetType,
			)
		}
	case TypeCDHash:
		identifier = strings.ToLower(identifier)
		if !cdhashRegex.MatchString(identifier) {
			return Target{}, fmt.Errorf(
				"%w: CDHASH identifier must be a 40 character hex digest",
				ErrInvalidIdentifier,
			)
		}
	case TypeTeamID:
		identifier = strings.ToUpper(identifier)
		if !teamIDRegex.MatchString(identifier) {
			return Target{}, fmt.Errorf(
				"%w: TEAM_ID identifier must be 10 alphanumeric characters",
				ErrInvalidIdentifier,
			)
		}
	case TypeSigningID:
		prefix, rest, found := strings.Cut(identifier, ":")
		if !found || rest == "" {
			return Target{}, fmt.Errorf(
				"%w: SIGNING_ID identifier must be of the form TEAMID:signing.id",
				ErrInvalidIdentifier,
			)
		}
		if prefix != "platform" && !teamIDRegex.MatchString(prefix) {
			return Target{}, fmt.Errorf(
				"%w: SIGNING_ID prefix must be a team ID or \"platform\"",
				ErrInvalidIdentifier,
			)
		}
	}
	return Target{Type: targetType, Identifier: identifier}, nil
}

// MustNew is New for static targets known to be valid. It panics on
// invalid input and is intended for tests and fixtures.
func MustNew(targetType Type, identifier string) Target {
	t, err := New(targetType, identifier)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Target) String() string {
	return string(t.Type) + ":" + t.Identifier
}

// LockKey returns the key used to serialize concurrent voting operations
// on the same target.
func (t Target) LockKey() string {
	return t.String()
}

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

import "time"

// Certificate carries the metadata of a CERTIFICATE target. The
// organizational unit holds the signing team identifier and doubles as
// the publisher lookup key for TEAM_ID targets.
type Certificate struct {
	CommonName         string `gorm:"size:256"`
	Organization       string `gorm:"size:256"`
	OrganizationalUnit string `gorm:"index;size:64"`
	ValidFrom          time.Time
	ValidUntil         time.Time
	CreatedAt          time.Time
	ID                 uint `gorm:"primarykey"`
	TargetID           uint `gorm:"uniqueIndex"`
}

func (Certificate) TableName() string {
	return "certificate"
}

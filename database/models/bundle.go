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

// Bundle carries the metadata of a BUNDLE or METABUNDLE target. A bundle
// is votable only once its binary inventory has been uploaded.
type Bundle struct {
	BundleID    string `gorm:"index;size:256"`
	Name        string `gorm:"size:256"`
	Version     string `gorm:"size:256"`
	VersionStr  string `gorm:"size:256"`
	UploadedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ID          uint `gorm:"primarykey"`
	TargetID    uint `gorm:"uniqueIndex"`
	BinaryCount int
}

func (Bundle) TableName() string {
	return "bundle"
}

// Uploaded reports whether the bundle's member inventory is complete.
func (b *Bundle) Uploaded() bool {
	return b.UploadedAt != nil
}

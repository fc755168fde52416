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

// EnrolledMachine is an endpoint enrolled into a configuration. A
// voter's recently seen machines determine which configurations their
// default votes land on.
type EnrolledMachine struct {
	SerialNumber    string  `gorm:"uniqueIndex:enrolled_machine_configuration_serial;size:64"`
	PrimaryUser     *string `gorm:"index;size:256"`
	LastSeen        time.Time
	ID              uint `gorm:"primarykey"`
	ConfigurationID uint `gorm:"uniqueIndex:enrolled_machine_configuration_serial"`
}

func (EnrolledMachine) TableName() string {
	return "enrolled_machine"
}

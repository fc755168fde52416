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
	"slices"
	"strings"

	"github.com/blinklabs-io/tally/database/models"
	"github.com/blinklabs-io/tally/database/plugin/metadata"
	"github.com/blinklabs-io/tally/targets"
)

// RelatedTarget is one node of the relation closure around a target. States
// holds the target states of the node keyed by configuration id; pairs that
// have never been voted on are absent.
type RelatedTarget struct {
	States map[uint]*models.TargetState
	Target *models.Target
	Self   bool
}

// RelatedTargets walks the relation graph around a target in both
// directions and returns the transitive closure grouped by target type,
// with the states of every node on the given configurations. The closure
// includes the target itself, marked with Self. Nodes of a type are ordered
// by identifier.
func RelatedTargets(
	store metadata.MetadataStore,
	target *models.Target,
	configurationIDs []uint,
) (map[targets.Type][]*RelatedTarget, error) {
	seen := map[uint]bool{target.ID: true}
	frontier := []uint{target.ID}
	for len(frontier) > 0 {
		relations, err := store.GetTargetRelations(frontier, nil)
		if err != nil {
			return nil, err
		}
		var next []uint
		for _, relation := range relations {
			for _, id := range []uint{
				relation.TargetID,
				relation.RelatedID,
			} {
				if !seen[id] {
					seen[id] = true
					next = append(next, id)
				}
			}
		}
		frontier = next
	}
	ids := make([]uint, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	rows, err := store.GetTargetsByID(ids, nil)
	if err != nil {
		return nil, err
	}
	states, err := store.GetTargetStates(ids, configurationIDs, nil)
	if err != nil {
		return nil, err
	}
	statesByTarget := make(map[uint]map[uint]*models.TargetState)
	for i := range states {
		state := &states[i]
		if statesByTarget[state.TargetID] == nil {
			statesByTarget[state.TargetID] = make(
				map[uint]*models.TargetState,
			)
		}
		statesByTarget[state.TargetID][state.ConfigurationID] = state
	}
	related := make(map[targets.Type][]*RelatedTarget)
	for i := range rows {
		row := &rows[i]
		targetType := targets.Type(row.Type)
		related[targetType] = append(related[targetType], &RelatedTarget{
			Target: row,
			Self:   row.ID == target.ID,
			States: statesByTarget[row.ID],
		})
	}
	for _, nodes := range related {
		slices.SortFunc(nodes, func(a, b *RelatedTarget) int {
			return strings.Compare(a.Target.Identifier, b.Target.Identifier)
		})
	}
	return related, nil
}

// BestBallotBoxTarget returns the preferred votable target among a relation
// closure for a configuration: the first type listed in the configuration's
// default ballot target types with a related target of that type.
func BestBallotBoxTarget(
	configuration *models.Configuration,
	related map[targets.Type][]*RelatedTarget,
) (*RelatedTarget, bool) {
	for _, name := range configuration.DefaultBallotTargetTypes {
		if nodes := related[targets.Type(name)]; len(nodes) > 0 {
			return nodes[0], true
		}
	}
	return nil, false
}

// TargetInfo describes a target for display. Bundle and Certificate carry
// the collected metadata when present.
type TargetInfo struct {
	Bundle      *models.Bundle
	Certificate *models.Certificate
	Publisher   string
	Target      targets.Target
}

// GetTargetInfo loads the display metadata of a target. The publisher of a
// CERTIFICATE target comes from its certificate; a TEAM_ID target falls
// back to the newest certificate seen for that team.
func GetTargetInfo(
	store metadata.MetadataStore,
	target *models.Target,
) (*TargetInfo, error) {
	info := &TargetInfo{
		Target: targets.Target{
			Type:       targets.Type(target.Type),
			Identifier: target.Identifier,
		},
	}
	switch targets.Type(target.Type) {
	case targets.TypeBundle, targets.TypeMetaBundle:
		bundle, err := store.GetBundle(target.ID, nil)
		if err != nil {
			return nil, err
		}
		info.Bundle = bundle
	case targets.TypeCertificate:
		cert, err := store.GetCertificate(target.ID, nil)
		if err != nil {
			return nil, err
		}
		info.Certificate = cert
		if cert != nil {
			info.Publisher = certificatePublisher(cert)
		}
	case targets.TypeTeamID:
		certs, err := store.GetCertificatesByTeamID(
			target.Identifier,
			nil,
		)
		if err != nil {
			return nil, err
		}
		if len(certs) > 0 {
			info.Certificate = &certs[0]
			info.Publisher = certificatePublisher(&certs[0])
		}
	}
	return info, nil
}

func certificatePublisher(cert *models.Certificate) string {
	if cert.Organization != "" {
		return cert.Organization
	}
	return cert.CommonName
}

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
	"testing"
	"time"

	"github.com/blinklabs-io/tally/database/models"
	"github.com/blinklabs-io/tally/targets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelatedTargetsClosure(t *testing.T) {
	env := setupTestEnv(t)
	configuration := env.seedConfiguration(t, "default", nil)

	// binary -> certificate -> team, binary -> bundle
	binary := env.seedTarget(
		t,
		targets.MustNew(targets.TypeBinary, testSha256("ab")),
	)
	certificate := env.seedTarget(
		t,
		targets.MustNew(targets.TypeCertificate, testSha256("cd")),
	)
	team := env.seedTarget(
		t,
		targets.MustNew(targets.TypeTeamID, "JQ5F1274BN"),
	)
	bundle := env.seedTarget(
		t,
		targets.MustNew(targets.TypeBundle, "com.example.app"),
	)
	other := env.seedTarget(
		t,
		targets.MustNew(targets.TypeBinary, testSha256("ff")),
	)
	env.relateTargets(t, binary, certificate)
	env.relateTargets(t, certificate, team)
	env.relateTargets(t, binary, bundle)

	env.seedTargetState(t, binary, configuration, 3)
	env.seedTargetState(t, certificate, configuration, -1)

	// The closure is reachable from any member, here the certificate
	related, err := RelatedTargets(
		env.store,
		certificate,
		[]uint{configuration.ID},
	)
	require.NoError(t, err)
	require.Len(t, related, 4)

	require.Len(t, related[targets.TypeBinary], 1)
	binaryNode := related[targets.TypeBinary][0]
	assert.Equal(t, binary.ID, binaryNode.Target.ID)
	assert.False(t, binaryNode.Self)
	require.Contains(t, binaryNode.States, configuration.ID)
	assert.Equal(t, 3, binaryNode.States[configuration.ID].Score)

	require.Len(t, related[targets.TypeCertificate], 1)
	certNode := related[targets.TypeCertificate][0]
	assert.True(t, certNode.Self)
	assert.Equal(t, -1, certNode.States[configuration.ID].Score)

	require.Len(t, related[targets.TypeTeamID], 1)
	teamNode := related[targets.TypeTeamID][0]
	assert.False(t, teamNode.Self)
	// Never voted on, so no state rows
	assert.Empty(t, teamNode.States)

	require.Len(t, related[targets.TypeBundle], 1)

	// The unrelated binary stays outside the closure
	for _, node := range related[targets.TypeBinary] {
		assert.NotEqual(t, other.ID, node.Target.ID)
	}
}

func TestRelatedTargetsOrdersByIdentifier(t *testing.T) {
	env := setupTestEnv(t)
	bundle := env.seedTarget(
		t,
		targets.MustNew(targets.TypeBundle, "com.example.app"),
	)
	second := env.seedTarget(
		t,
		targets.MustNew(targets.TypeBinary, testSha256("bb")),
	)
	first := env.seedTarget(
		t,
		targets.MustNew(targets.TypeBinary, testSha256("aa")),
	)
	env.relateTargets(t, second, bundle)
	env.relateTargets(t, first, bundle)

	related, err := RelatedTargets(env.store, bundle, nil)
	require.NoError(t, err)
	require.Len(t, related[targets.TypeBinary], 2)
	assert.Equal(
		t,
		first.ID,
		related[targets.TypeBinary][0].Target.ID,
	)
	assert.Equal(
		t,
		second.ID,
		related[targets.TypeBinary][1].Target.ID,
	)
}

func TestBestBallotBoxTarget(t *testing.T) {
	env := setupTestEnv(t)
	configuration := env.seedConfiguration(t, "default", nil)

	binary := env.seedTarget(
		t,
		targets.MustNew(targets.TypeBinary, testSha256("ab")),
	)
	bundle := env.seedTarget(
		t,
		targets.MustNew(targets.TypeBundle, "com.example.app"),
	)
	env.relateTargets(t, binary, bundle)

	related, err := RelatedTargets(env.store, binary, nil)
	require.NoError(t, err)

	// No metabundle in the closure, so the bundle wins
	best, ok := BestBallotBoxTarget(configuration, related)
	require.True(t, ok)
	assert.Equal(t, bundle.ID, best.Target.ID)

	// A restricted type list falls through to the binary
	restricted := models.NewConfiguration("restricted")
	restricted.DefaultBallotTargetTypes = []string{
		targets.TypeBinary.String(),
	}
	best, ok = BestBallotBoxTarget(restricted, related)
	require.True(t, ok)
	assert.Equal(t, binary.ID, best.Target.ID)

	// No overlap at all
	none := models.NewConfiguration("none")
	none.DefaultBallotTargetTypes = []string{
		targets.TypeCDHash.String(),
	}
	_, ok = BestBallotBoxTarget(none, related)
	assert.False(t, ok)
}

func TestGetTargetInfoBundle(t *testing.T) {
	env := setupTestEnv(t)
	bundle := env.seedTarget(
		t,
		targets.MustNew(targets.TypeBundle, "com.example.app"),
	)
	env.seedBundle(t, bundle, true)

	info, err := GetTargetInfo(env.store, bundle)
	require.NoError(t, err)
	require.NotNil(t, info.Bundle)
	assert.Equal(t, "Example", info.Bundle.Name)
	assert.True(t, info.Bundle.Uploaded())

	// No bundle row yet
	pending := env.seedTarget(
		t,
		targets.MustNew(targets.TypeBundle, "com.example.pending"),
	)
	info, err = GetTargetInfo(env.store, pending)
	require.NoError(t, err)
	assert.Nil(t, info.Bundle)
}

func TestGetTargetInfoCertificatePublisher(t *testing.T) {
	env := setupTestEnv(t)
	withOrg := env.seedTarget(
		t,
		targets.MustNew(targets.TypeCertificate, testSha256("cd")),
	)
	require.NoError(t, env.store.SetCertificate(&models.Certificate{
		TargetID:           withOrg.ID,
		CommonName:         "Developer ID Application: Example",
		Organization:       "Example Corp",
		OrganizationalUnit: "JQ5F1274BN",
	}, nil))
	withoutOrg := env.seedTarget(
		t,
		targets.MustNew(targets.TypeCertificate, testSha256("ef")),
	)
	require.NoError(t, env.store.SetCertificate(&models.Certificate{
		TargetID:   withoutOrg.ID,
		CommonName: "Developer ID Application: Anonymous",
	}, nil))

	info, err := GetTargetInfo(env.store, withOrg)
	require.NoError(t, err)
	assert.Equal(t, "Example Corp", info.Publisher)

	// The common name fills in when the organization is empty
	info, err = GetTargetInfo(env.store, withoutOrg)
	require.NoError(t, err)
	assert.Equal(t, "Developer ID Application: Anonymous", info.Publisher)
}

func TestGetTargetInfoTeamID(t *testing.T) {
	env := setupTestEnv(t)
	older := env.seedTarget(
		t,
		targets.MustNew(targets.TypeCertificate, testSha256("cd")),
	)
	require.NoError(t, env.store.SetCertificate(&models.Certificate{
		TargetID:           older.ID,
		Organization:       "Example Corp (old)",
		OrganizationalUnit: "JQ5F1274BN",
		ValidUntil:         time.Now().Add(24 * time.Hour),
	}, nil))
	newer := env.seedTarget(
		t,
		targets.MustNew(targets.TypeCertificate, testSha256("ef")),
	)
	require.NoError(t, env.store.SetCertificate(&models.Certificate{
		TargetID:           newer.ID,
		Organization:       "Example Corp",
		OrganizationalUnit: "JQ5F1274BN",
		ValidUntil:         time.Now().Add(365 * 24 * time.Hour),
	}, nil))
	team := env.seedTarget(
		t,
		targets.MustNew(targets.TypeTeamID, "JQ5F1274BN"),
	)

	// The certificate with the longest validity wins
	info, err := GetTargetInfo(env.store, team)
	require.NoError(t, err)
	assert.Equal(t, "Example Corp", info.Publisher)

	// Unknown team, no publisher
	unknown := env.seedTarget(
		t,
		targets.MustNew(targets.TypeTeamID, "0000000000"),
	)
	info, err = GetTargetInfo(env.store, unknown)
	require.NoError(t, err)
	assert.Empty(t, info.Publisher)
	assert.Nil(t, info.Certificate)
}

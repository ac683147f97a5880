// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/authz"
	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/model"
)

func TestLoadJSON(t *testing.T) {
	snapshot, err := Load(filepath.Join("testdata", "catalog.json"))
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, "o1", snapshot.Organization().ID)

	project, err := snapshot.Project("p1")
	require.NoError(t, err)
	assert.True(t, project.Public)

	collection, err := snapshot.Collection(ctx, "c2")
	require.NoError(t, err)
	assert.True(t, collection.IsTasks())

	linkType, err := snapshot.LinkType(ctx, "l1")
	require.NoError(t, err)
	assert.False(t, linkType.IsMerge())

	view, err := snapshot.View(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, []string{"l1"}, view.Query.LinkTypeIDs())

	groups, err := snapshot.Groups(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, groups, 1)

	users, err := snapshot.UsersByEmails(ctx, []string{"ada@example.com", "ADA@example.com", "nobody@example.com"})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "u1", users[0].ID)
}

func TestLookupsReportNotFound(t *testing.T) {
	snapshot, err := Load(filepath.Join("testdata", "catalog.json"))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = snapshot.User(ctx, "u9")
	assert.ErrorIs(t, err, authz.ErrNotFound)
	_, err = snapshot.Collection(ctx, "c9")
	assert.ErrorIs(t, err, authz.ErrNotFound)
	_, err = snapshot.View(ctx, "v9")
	assert.ErrorIs(t, err, authz.ErrNotFound)
	_, err = snapshot.Resource(model.KindOrganization, "o2")
	assert.ErrorIs(t, err, authz.ErrNotFound)
	_, err = snapshot.Resource(model.Kind("document"), "d1")
	assert.ErrorIs(t, err, authz.ErrMalformedInput)
	_, err = snapshot.Scope("p9")
	assert.ErrorIs(t, err, authz.ErrNotFound)

	collections, err := snapshot.CollectionsByIDs(ctx, []string{"c1", "c9", "c2"})
	require.NoError(t, err)
	assert.Len(t, collections, 2)

	users, err := snapshot.Users(ctx, "o2")
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestYAMLMatchesJSON(t *testing.T) {
	raw, err := os.ReadFile(filepath.Join("testdata", "catalog.json"))
	require.NoError(t, err)
	fromJSON, err := ParseJSON(raw, 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), fromJSON.Revision())

	// JSON is valid YAML, so both decoders must agree.
	fromYAML, err := ParseYAML(raw, 7)
	require.NoError(t, err)
	assert.Equal(t, fromJSON.Data(), fromYAML.Data())
}

func TestNewRejectsInvalidData(t *testing.T) {
	tests := []struct {
		name string
		data Data
	}{
		{name: "missing organization", data: Data{}},
		{name: "duplicate user", data: Data{
			Organization: model.Organization{ID: "o1"},
			Users:        []model.User{{ID: "u1"}, {ID: "u1"}},
		}},
		{name: "link type with one collection", data: Data{
			Organization: model.Organization{ID: "o1"},
			Projects: []Workspace{{
				Project:   model.Project{ID: "p1"},
				LinkTypes: []model.LinkType{{ID: "l1", CollectionIDs: []string{"c1"}}},
			}},
		}},
		{name: "duplicate collection across projects", data: Data{
			Organization: model.Organization{ID: "o1"},
			Projects: []Workspace{
				{Project: model.Project{ID: "p1"}, Collections: []model.Collection{{ID: "c1"}}},
				{Project: model.Project{ID: "p2"}, Collections: []model.Collection{{ID: "c1"}}},
			},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.data, 0)
			assert.Error(t, err)
		})
	}

	_, err := ParseJSON([]byte("{"), 0)
	assert.Error(t, err)
}

func TestProjectOf(t *testing.T) {
	snapshot, err := Load(filepath.Join("testdata", "catalog.json"))
	require.NoError(t, err)

	projectID, ok := snapshot.ProjectOf(model.KindCollection, "c2")
	assert.True(t, ok)
	assert.Equal(t, "p1", projectID)

	projectID, ok = snapshot.ProjectOf(model.KindView, "v1")
	assert.True(t, ok)
	assert.Equal(t, "p1", projectID)

	_, ok = snapshot.ProjectOf(model.KindCollection, "c9")
	assert.False(t, ok)
	_, ok = snapshot.ProjectOf(model.KindProject, "p1")
	assert.False(t, ok)
}

// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package authz_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/authz"
	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/catalog"
	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/model"
)

var resolver = authz.NewResolver(nil)

// workspaceData decodes the shared fixture so tests can edit it before
// building a snapshot.
func workspaceData(t *testing.T) catalog.Data {
	t.Helper()
	snapshot, err := catalog.Load(filepath.Join("testdata", "workspace.yaml"))
	require.NoError(t, err)
	raw, err := json.Marshal(snapshot.Data())
	require.NoError(t, err)
	var data catalog.Data
	require.NoError(t, json.Unmarshal(raw, &data))
	return data
}

type fixture struct {
	snapshot *catalog.Snapshot
	session  *authz.Session
	scope    authz.Scope
}

func newFixture(t *testing.T, data catalog.Data) *fixture {
	t.Helper()
	snapshot, err := catalog.New(data, 1)
	require.NoError(t, err)
	scope, err := snapshot.Scope("p1")
	require.NoError(t, err)
	return &fixture{
		snapshot: snapshot,
		session:  authz.NewSession(snapshot, snapshot),
		scope:    scope,
	}
}

func (f *fixture) resource(t *testing.T, kind model.Kind, id string) model.Resource {
	t.Helper()
	resource, err := f.snapshot.Resource(kind, id)
	require.NoError(t, err)
	return resource
}

func (f *fixture) hasRole(t *testing.T, kind model.Kind, id string, role model.RoleType, userID string) bool {
	t.Helper()
	ok, err := resolver.HasRole(context.Background(), f.session, f.scope, f.resource(t, kind, id), role, userID)
	require.NoError(t, err)
	return ok
}

func TestHasRole(t *testing.T) {
	f := newFixture(t, workspaceData(t))

	tests := []struct {
		name     string
		kind     model.Kind
		id       string
		role     model.RoleType
		user     string
		expected bool
	}{
		{name: "group grant", kind: model.KindCollection, id: "c1", role: model.RoleRead, user: "u1", expected: true},
		{name: "outside group", kind: model.KindCollection, id: "c1", role: model.RoleRead, user: "u2", expected: false},
		{name: "direct grant", kind: model.KindCollection, id: "c2", role: model.RoleDataWrite, user: "u1", expected: true},
		{name: "transitive project grant", kind: model.KindCollection, id: "c1", role: model.RoleDataRead, user: "u5", expected: true},
		{name: "transitive grant is only that role", kind: model.KindCollection, id: "c1", role: model.RoleRead, user: "u5", expected: false},
		{name: "non transitive project grant stays on project", kind: model.KindCollection, id: "c1", role: model.RoleWrite, user: "u4", expected: false},
		{name: "project grant", kind: model.KindProject, id: "p1", role: model.RoleWrite, user: "u4", expected: true},
		{name: "no organization read", kind: model.KindCollection, id: "c2", role: model.RoleRead, user: "u6", expected: false},
		{name: "organization read through group", kind: model.KindOrganization, id: "o1", role: model.RoleRead, user: "u3", expected: true},
		{name: "manager", kind: model.KindCollection, id: "c-tasks", role: model.RoleDataDelete, user: "u0", expected: true},
		{name: "unknown user", kind: model.KindCollection, id: "c1", role: model.RoleRead, user: "nobody", expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, f.hasRole(t, tt.kind, tt.id, tt.role, tt.user))
		})
	}
}

func TestManagerBypass(t *testing.T) {
	f := newFixture(t, workspaceData(t))
	ctx := context.Background()

	for _, ref := range []struct {
		kind model.Kind
		id   string
	}{
		{model.KindOrganization, "o1"},
		{model.KindProject, "p1"},
		{model.KindCollection, "c1"},
		{model.KindLinkType, "l1"},
		{model.KindLinkType, "l2"},
		{model.KindView, "v1"},
	} {
		roles, err := resolver.EffectiveRoles(ctx, f.session, f.scope, f.resource(t, ref.kind, ref.id), "u0")
		require.NoError(t, err)
		assert.Equal(t, model.RoleUniverse(ref.kind), roles, "%s %s", ref.kind, ref.id)
	}

	ok, err := resolver.IsManager(ctx, f.session, f.scope, "u0")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = resolver.IsManager(ctx, f.session, f.scope, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanReadAllInWorkspace(t *testing.T) {
	data := workspaceData(t)
	data.Projects[0].Project.Permissions.Users = append(data.Projects[0].Project.Permissions.Users,
		model.Permission{ID: "u7", Roles: []model.Role{{Type: model.RoleRead, Transitive: true}}})
	f := newFixture(t, data)
	ctx := context.Background()

	for user, expected := range map[string]bool{"u0": true, "u7": true, "u5": false, "u1": false} {
		ok, err := resolver.CanReadAllInWorkspace(ctx, f.session, f.scope, user)
		require.NoError(t, err)
		assert.Equal(t, expected, ok, user)
	}
	assert.True(t, f.hasRole(t, model.KindCollection, "c2", model.RoleRead, "u7"))
}

func TestViewDelegation(t *testing.T) {
	f := newFixture(t, workspaceData(t))
	ctx := context.Background()
	c1 := f.resource(t, model.KindCollection, "c1")

	assert.False(t, f.hasRole(t, model.KindCollection, "c1", model.RoleRead, "u2"))

	f.session.SetViewID("v1")
	assert.True(t, f.hasRole(t, model.KindCollection, "c1", model.RoleRead, "u2"))
	// u2 opens v1 with Read only, so DataRead needs an explicit view role.
	assert.False(t, f.hasRole(t, model.KindCollection, "c1", model.RoleDataRead, "u2"))
	ok, err := resolver.HasRoleWithView(ctx, f.session, f.scope, c1, model.RoleDataRead, model.RoleRead, "u2")
	require.NoError(t, err)
	assert.True(t, ok)
	// The author holds no DataWrite, so neither does the viewer.
	ok, err = resolver.HasRoleWithView(ctx, f.session, f.scope, c1, model.RoleDataWrite, model.RoleRead, "u2")
	require.NoError(t, err)
	assert.False(t, ok)
	// c2 is not read by v1.
	assert.False(t, f.hasRole(t, model.KindCollection, "c2", model.RoleRead, "u2"))
	// Users without Read on the view get nothing from it.
	assert.False(t, f.hasRole(t, model.KindCollection, "c1", model.RoleRead, "u3"))

	f.session.SetViewID("v3")
	assert.True(t, f.hasRole(t, model.KindCollection, "c1", model.RoleRead, "u2"), "endpoint of a queried link type")
	assert.True(t, f.hasRole(t, model.KindCollection, "c2", model.RoleRead, "u2"))
	assert.True(t, f.hasRole(t, model.KindLinkType, "l1", model.RoleRead, "u2"))
}

func TestViewDelegationDepth(t *testing.T) {
	f := newFixture(t, workspaceData(t))

	// v2 is authored by u2, whose access to c1 exists only through v1.
	f.session.SetViewID("v2")
	assert.True(t, f.hasRole(t, model.KindView, "v2", model.RoleRead, "u7"))
	assert.False(t, f.hasRole(t, model.KindCollection, "c1", model.RoleRead, "u7"))
	assert.False(t, f.hasRole(t, model.KindCollection, "c1", model.RoleRead, "u2"))
}

func TestViewDelegationFollowsAuthor(t *testing.T) {
	f := newFixture(t, workspaceData(t))
	f.session.SetViewID("v1")
	require.True(t, f.hasRole(t, model.KindCollection, "c1", model.RoleRead, "u2"))

	revoked := *f.resource(t, model.KindCollection, "c1").(*model.Collection)
	revoked.Permissions = model.Permissions{}
	f.session.Override(&revoked)

	for _, user := range []string{"u1", "u2"} {
		ok, err := resolver.HasRole(context.Background(), f.session, f.scope, &revoked, model.RoleRead, user)
		require.NoError(t, err)
		assert.False(t, ok, user)
	}
}

func TestMergeLinkType(t *testing.T) {
	f := newFixture(t, workspaceData(t))
	ctx := context.Background()

	roles, err := resolver.EffectiveRoles(ctx, f.session, f.scope, f.resource(t, model.KindLinkType, "l1"), "u1")
	require.NoError(t, err)
	assert.Equal(t, []model.RoleType{model.RoleDataRead, model.RoleRead}, roles.Sorted())

	assert.False(t, f.hasRole(t, model.KindLinkType, "l1", model.RoleRead, "u4"))

	// u5 holds a project-transitive DataRead on both endpoints but reads
	// neither, so the merge link type grants nothing.
	assert.True(t, f.hasRole(t, model.KindCollection, "c1", model.RoleDataRead, "u5"))
	assert.False(t, f.hasRole(t, model.KindCollection, "c1", model.RoleRead, "u5"))
	assert.False(t, f.hasRole(t, model.KindCollection, "c2", model.RoleRead, "u5"))
	roles, err = resolver.EffectiveRoles(ctx, f.session, f.scope, f.resource(t, model.KindLinkType, "l1"), "u5")
	require.NoError(t, err)
	assert.Empty(t, roles.Sorted())
	ok, err := resolver.HasRoleWithView(ctx, f.session, f.scope, f.resource(t, model.KindLinkType, "l1"), model.RoleDataRead, model.RoleRead, "u5")
	require.NoError(t, err)
	assert.False(t, ok)

	c2 := *f.resource(t, model.KindCollection, "c2").(*model.Collection)
	c2.Permissions = model.Permissions{}
	f.session.Override(&c2)
	assert.False(t, f.hasRole(t, model.KindLinkType, "l1", model.RoleRead, "u1"))
	assert.True(t, f.hasRole(t, model.KindCollection, "c1", model.RoleRead, "u1"))
}

func TestCustomLinkType(t *testing.T) {
	f := newFixture(t, workspaceData(t))

	assert.True(t, f.hasRole(t, model.KindLinkType, "l2", model.RoleRead, "u4"))
	assert.False(t, f.hasRole(t, model.KindLinkType, "l2", model.RoleRead, "u1"))
}

func TestResolverErrors(t *testing.T) {
	f := newFixture(t, workspaceData(t))
	ctx := context.Background()
	c1 := f.resource(t, model.KindCollection, "c1")

	_, err := resolver.HasRole(ctx, f.session, authz.Scope{Organization: f.scope.Organization}, c1, model.RoleRead, "u1")
	assert.ErrorIs(t, err, authz.ErrMalformedInput)

	_, err = resolver.HasRole(ctx, f.session, authz.Scope{}, f.scope.Project, model.RoleRead, "u1")
	assert.ErrorIs(t, err, authz.ErrMalformedInput)

	_, err = resolver.HasRole(ctx, f.session, f.scope, nil, model.RoleRead, "u1")
	assert.ErrorIs(t, err, authz.ErrMalformedInput)

	dangling := &model.LinkType{ID: "l9", CollectionIDs: []string{"c1", "c-missing"}}
	_, err = resolver.HasRole(ctx, f.session, f.scope, dangling, model.RoleRead, "u1")
	var reference *authz.InvalidReferenceError
	require.ErrorAs(t, err, &reference)
	assert.Equal(t, model.KindCollection, reference.Kind)
	assert.Equal(t, "c-missing", reference.ID)

	f.session.SetViewID("v-missing")
	_, err = resolver.HasRole(ctx, f.session, f.scope, c1, model.RoleRead, "u2")
	require.ErrorAs(t, err, &reference)
	assert.Equal(t, model.KindView, reference.Kind)
}

func TestCheckRole(t *testing.T) {
	f := newFixture(t, workspaceData(t))
	ctx := context.Background()

	assert.NoError(t, resolver.CheckRole(ctx, f.session, f.scope, f.resource(t, model.KindCollection, "c1"), model.RoleRead, "u1"))

	err := resolver.CheckRole(ctx, f.session, f.scope, f.resource(t, model.KindCollection, "c2"), model.RoleRead, "u6")
	var denied *authz.ResourcePermissionError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "c2", denied.ID)
	assert.ErrorIs(t, err, authz.ErrPermissionDenied)

	err = resolver.CheckRole(ctx, f.session, f.scope, f.resource(t, model.KindCollection, "c1"), model.RoleDataWrite, "u1")
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, model.RoleDataWrite, denied.Role)

	f.session.SetViewID("v1")
	assert.NoError(t, resolver.CheckRoleWithView(ctx, f.session, f.scope, f.resource(t, model.KindCollection, "c1"), model.RoleDataRead, model.RoleRead, "u2"))
}

func TestCheckLinkTypeCollections(t *testing.T) {
	data := workspaceData(t)
	contacts := &data.Projects[0].Collections[1]
	contacts.Permissions.Users[0].Roles = append(contacts.Permissions.Users[0].Roles, model.Role{Type: model.RoleWrite})
	f := newFixture(t, data)
	ctx := context.Background()
	endpoints := []string{"c1", "c2"}

	// u1 reads c1 and holds Write and DataWrite on c2 only.
	assert.NoError(t, resolver.CheckLinkTypeCollections(ctx, f.session, f.scope, endpoints, model.RoleWrite, "u1", false))
	assert.ErrorIs(t, resolver.CheckLinkTypeCollections(ctx, f.session, f.scope, endpoints, model.RoleWrite, "u1", true), authz.ErrPermissionDenied)
	assert.ErrorIs(t, resolver.CheckLinkTypeCollections(ctx, f.session, f.scope, endpoints, model.RoleWrite, "u2", false), authz.ErrPermissionDenied)
	// Only Write is relaxed outside strict mode.
	assert.ErrorIs(t, resolver.CheckLinkTypeCollections(ctx, f.session, f.scope, endpoints, model.RoleDataWrite, "u1", false), authz.ErrPermissionDenied)
	assert.NoError(t, resolver.CheckLinkTypeCollections(ctx, f.session, f.scope, endpoints, model.RoleRead, "u1", true))

	var reference *authz.InvalidReferenceError
	assert.ErrorAs(t, resolver.CheckLinkTypeCollections(ctx, f.session, f.scope, []string{"c1", "c-missing"}, model.RoleRead, "u1", true), &reference)
}

func TestUsersByRole(t *testing.T) {
	f := newFixture(t, workspaceData(t))

	users, err := resolver.UsersByRole(context.Background(), f.session, f.scope, f.resource(t, model.KindCollection, "c1"), model.RoleRead)
	require.NoError(t, err)
	assert.Equal(t, []string{"u0", "u1"}, users)
}

// TestMonotonicity adds one grant at a time and checks that no user loses a
// role anywhere, with and without an active view.
func TestMonotonicity(t *testing.T) {
	grants := []struct {
		name  string
		apply func(*catalog.Data)
	}{
		{name: "direct collection grant", apply: func(d *catalog.Data) {
			d.Projects[0].Collections[0].Permissions.Users = append(d.Projects[0].Collections[0].Permissions.Users,
				model.Permission{ID: "u2", Roles: []model.Role{{Type: model.RoleDataWrite}}})
		}},
		{name: "group grant on project", apply: func(d *catalog.Data) {
			d.Projects[0].Project.Permissions.Groups = append(d.Projects[0].Project.Permissions.Groups,
				model.Permission{ID: "g1", Roles: []model.Role{{Type: model.RoleDataWrite, Transitive: true}}})
		}},
		{name: "organization read", apply: func(d *catalog.Data) {
			d.Organization.Permissions.Users = append(d.Organization.Permissions.Users,
				model.Permission{ID: "u6", Roles: []model.Role{{Type: model.RoleRead}}})
		}},
		{name: "view grant", apply: func(d *catalog.Data) {
			d.Projects[0].Views[0].Permissions.Users = append(d.Projects[0].Views[0].Permissions.Users,
				model.Permission{ID: "u3", Roles: []model.Role{{Type: model.RoleRead}, {Type: model.RoleDataRead}}})
		}},
		{name: "author grant", apply: func(d *catalog.Data) {
			d.Projects[0].Collections[1].Permissions.Users = append(d.Projects[0].Collections[1].Permissions.Users,
				model.Permission{ID: "u2", Roles: []model.Role{{Type: model.RoleRead}, {Type: model.RoleDataRead}}})
		}},
		{name: "manager", apply: func(d *catalog.Data) {
			d.Projects[0].Project.Permissions.Users = append(d.Projects[0].Project.Permissions.Users,
				model.Permission{ID: "u1", Roles: []model.Role{{Type: model.RoleUserConfig, Transitive: true}}})
		}},
	}
	resources := []struct {
		kind model.Kind
		id   string
	}{
		{model.KindOrganization, "o1"},
		{model.KindProject, "p1"},
		{model.KindCollection, "c1"},
		{model.KindCollection, "c2"},
		{model.KindCollection, "c-tasks"},
		{model.KindLinkType, "l1"},
		{model.KindLinkType, "l2"},
		{model.KindView, "v1"},
		{model.KindView, "v2"},
		{model.KindView, "v3"},
	}
	users := []string{"u0", "u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8"}

	snapshotRoles := func(t *testing.T, data catalog.Data, viewID string) map[string]model.RoleSet {
		f := newFixture(t, data)
		f.session.SetViewID(viewID)
		out := make(map[string]model.RoleSet)
		for _, ref := range resources {
			for _, user := range users {
				roles, err := resolver.EffectiveRoles(context.Background(), f.session, f.scope, f.resource(t, ref.kind, ref.id), user)
				require.NoError(t, err)
				out[user+"/"+ref.id] = roles
			}
		}
		return out
	}

	for _, grant := range grants {
		for _, viewID := range []string{"", "v1", "v3"} {
			t.Run(grant.name+"/"+viewID, func(t *testing.T) {
				data := workspaceData(t)
				before := snapshotRoles(t, data, viewID)
				grant.apply(&data)
				after := snapshotRoles(t, data, viewID)
				for key, roles := range before {
					assert.True(t, after[key].HasAll(roles.Sorted()...), "%s lost roles: %v -> %v", key, roles.Sorted(), after[key].Sorted())
				}
			})
		}
	}
}

// MockDirectory is a testify mock of authz.Directory.
type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) User(ctx context.Context, id string) (*model.User, error) {
	args := m.Called(ctx, id)
	//nolint:errcheck // the error is passed through to the caller
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockDirectory) Users(ctx context.Context, organizationID string) ([]model.User, error) {
	args := m.Called(ctx, organizationID)
	//nolint:errcheck // the error is passed through to the caller
	return args.Get(0).([]model.User), args.Error(1)
}

func (m *MockDirectory) Groups(ctx context.Context, organizationID string) ([]model.Group, error) {
	args := m.Called(ctx, organizationID)
	//nolint:errcheck // the error is passed through to the caller
	return args.Get(0).([]model.Group), args.Error(1)
}

func (m *MockDirectory) UsersByEmails(ctx context.Context, emails []string) ([]model.User, error) {
	args := m.Called(ctx, emails)
	//nolint:errcheck // the error is passed through to the caller
	return args.Get(0).([]model.User), args.Error(1)
}

func TestSessionMemoizesLookups(t *testing.T) {
	organization := &model.Organization{ID: "o1", Permissions: model.Permissions{
		Groups: []model.Permission{{ID: "g1", Roles: []model.Role{{Type: model.RoleRead}}}},
	}}
	directory := &MockDirectory{}
	directory.On("User", mock.Anything, "u1").Return(&model.User{ID: "u1"}, nil).Once()
	directory.On("Groups", mock.Anything, "o1").Return([]model.Group{{ID: "g1", Users: []string{"u1"}}}, nil).Once()

	session := authz.NewSession(directory, nil)
	for i := 0; i < 3; i++ {
		ok, err := resolver.HasRole(context.Background(), session, authz.Scope{}, organization, model.RoleRead, "u1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	directory.AssertExpectations(t)
}

func TestGatewayErrorsPropagate(t *testing.T) {
	errUnavailable := errors.New("directory unavailable")
	directory := &MockDirectory{}
	directory.On("User", mock.Anything, "u1").Return((*model.User)(nil), errUnavailable)

	session := authz.NewSession(directory, nil)
	_, err := resolver.HasRole(context.Background(), session, authz.Scope{}, &model.Organization{ID: "o1"}, model.RoleRead, "u1")
	assert.ErrorIs(t, err, errUnavailable)
}

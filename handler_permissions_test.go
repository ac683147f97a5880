// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"testing"

	openfga "github.com/openfga/go-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	. "github.com/openfga/go-sdk/client"

	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/authz"
	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/model"
	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/notify"
)

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func accounts(permissions model.Permissions) model.Collection {
	return model.Collection{ID: "c1", Name: "Accounts", Permissions: permissions}
}

var accountsReaders = model.Permissions{Groups: []model.Permission{{
	ID:    "g",
	Roles: []model.Role{{Type: model.RoleRead}, {Type: model.RoleDataRead}},
}}}

func update(organizationID, projectID, actingUserID string, before, after any) []byte {
	return mustJSON(map[string]any{
		"organization_id": organizationID,
		"project_id":      projectID,
		"acting_user_id":  actingUserID,
		"before":          before,
		"after":           after,
	})
}

// TestUpdateAccessHandler tests the [updateAccessHandler] function.
func TestUpdateAccessHandler(t *testing.T) {
	parents := []string{"o1", "p1"}
	tests := []struct {
		name           string
		kind           model.Kind
		messageData    []byte
		replySubject   string
		mirror         bool
		setupMocks     func(testService, *MockNatsMsg)
		expectedError  bool
		expectedCalled bool
	}{
		{
			name:         "revoking a collection notifies delegated readers",
			kind:         model.KindCollection,
			messageData:  update("o1", "p1", "u0", accounts(accountsReaders), accounts(model.Permissions{})),
			replySubject: "reply.subject",
			setupMocks: func(service testService, msg *MockNatsMsg) {
				service.publisher.On("Publish", mock.Anything, []notify.Change{
					{PrincipalID: "u1", Kind: notify.Lost, ResourceKind: model.KindCollection, ResourceID: "c1", ParentIDs: parents},
					{PrincipalID: "u1", Kind: notify.Lost, ResourceKind: model.KindLinkType, ResourceID: "l12", ParentIDs: parents},
					{PrincipalID: "u2", Kind: notify.Lost, ResourceKind: model.KindCollection, ResourceID: "c1", ParentIDs: parents},
				}).Return(nil).Once()
				msg.On("Respond", []byte("OK")).Return(nil).Once()
			},
			expectedCalled: true,
		},
		{
			name: "organization grant",
			kind: model.KindOrganization,
			messageData: update("", "", "u0",
				model.Organization{ID: "o1", Permissions: model.Permissions{}},
				model.Organization{ID: "o1", Permissions: model.Permissions{Users: []model.Permission{
					{ID: "u5", Roles: []model.Role{{Type: model.RoleRead}}},
				}}}),
			replySubject: "reply.subject",
			setupMocks: func(service testService, msg *MockNatsMsg) {
				service.publisher.On("Publish", mock.Anything, []notify.Change{
					{PrincipalID: "u5", Kind: notify.Gained, ResourceKind: model.KindOrganization, ResourceID: "o1"},
				}).Return(nil).Once()
				msg.On("Respond", []byte("OK")).Return(nil).Once()
			},
			expectedCalled: true,
		},
		{
			name:         "mirrors the new permissions to OpenFGA",
			kind:         model.KindCollection,
			messageData:  update("o1", "p1", "u0", accounts(accountsReaders), accounts(model.Permissions{})),
			replySubject: "reply.subject",
			mirror:       true,
			setupMocks: func(service testService, msg *MockNatsMsg) {
				service.publisher.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()
				service.fgaClient.On("Read", mock.Anything, mock.MatchedBy(func(req ClientReadRequest) bool {
					return req.Object != nil && *req.Object == "collection:o1/p1/c1"
				}), mock.Anything).Return(&ClientReadResponse{
					Tuples: []openfga.Tuple{
						{Key: openfga.TupleKey{User: "project:o1/p1", Relation: "parent", Object: "collection:o1/p1/c1"}},
						{Key: openfga.TupleKey{User: "group:g#member", Relation: "read", Object: "collection:o1/p1/c1"}},
						{Key: openfga.TupleKey{User: "group:g#member", Relation: "data_read", Object: "collection:o1/p1/c1"}},
					},
				}, nil).Once()
				service.fgaClient.On("Write", mock.Anything, mock.MatchedBy(func(req ClientWriteRequest) bool {
					return len(req.Writes) == 0 && len(req.Deletes) == 2
				})).Return(&ClientWriteResponse{}, nil).Once()
				msg.On("Respond", []byte("OK")).Return(nil).Once()
			},
			expectedCalled: true,
		},
		{
			name:         "missing project id",
			kind:         model.KindCollection,
			messageData:  update("o1", "", "u0", accounts(accountsReaders), accounts(model.Permissions{})),
			replySubject: "reply.subject",
			setupMocks: func(_ testService, msg *MockNatsMsg) {
				msg.On("Respond", []byte("failed to parse permission update")).Return(nil).Once()
			},
			expectedError:  true,
			expectedCalled: true,
		},
		{
			name:         "resource of another project",
			kind:         model.KindCollection,
			messageData:  update("o1", "p2", "u0", accounts(accountsReaders), accounts(model.Permissions{})),
			replySubject: "reply.subject",
			setupMocks: func(_ testService, msg *MockNatsMsg) {
				msg.On("Respond", []byte("failed to resolve project")).Return(nil).Once()
			},
			expectedError:  true,
			expectedCalled: true,
		},
		{
			name:         "mismatched resources",
			kind:         model.KindCollection,
			messageData:  update("o1", "p1", "u0", accounts(accountsReaders), model.Collection{ID: "c2"}),
			replySubject: "reply.subject",
			setupMocks: func(_ testService, msg *MockNatsMsg) {
				msg.On("Respond", []byte("failed to diff permissions")).Return(nil).Once()
			},
			expectedError:  true,
			expectedCalled: true,
		},
		{
			name:         "unknown organization",
			kind:         model.KindCollection,
			messageData:  update("o9", "p1", "u0", accounts(accountsReaders), accounts(model.Permissions{})),
			replySubject: "reply.subject",
			setupMocks: func(_ testService, msg *MockNatsMsg) {
				msg.On("Respond", []byte("failed to load catalog")).Return(nil).Once()
			},
			expectedError:  true,
			expectedCalled: true,
		},
		{
			name:         "invalid json",
			kind:         model.KindView,
			messageData:  []byte("{"),
			replySubject: "reply.subject",
			setupMocks: func(_ testService, msg *MockNatsMsg) {
				msg.On("Respond", []byte("failed to parse permission update")).Return(nil).Once()
			},
			expectedError:  true,
			expectedCalled: true,
		},
		{
			name:         "publish failure",
			kind:         model.KindCollection,
			messageData:  update("o1", "p1", "u0", accounts(accountsReaders), accounts(model.Permissions{})),
			replySubject: "reply.subject",
			setupMocks: func(service testService, msg *MockNatsMsg) {
				service.publisher.On("Publish", mock.Anything, mock.Anything).Return(assert.AnError).Once()
				msg.On("Respond", []byte("failed to publish access changes")).Return(nil).Once()
			},
			expectedError:  true,
			expectedCalled: true,
		},
		{
			name:        "no reply subject - should not respond",
			kind:        model.KindCollection,
			messageData: update("o1", "p1", "u0", accounts(accountsReaders), accounts(accountsReaders)),
			setupMocks: func(service testService, _ *MockNatsMsg) {
				service.publisher.On("Publish", mock.Anything, []notify.Change(nil)).Return(nil).Once()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := CreateMockNatsMsg(tt.messageData)
			msg.reply = tt.replySubject

			service := setupService(t, tt.mirror)
			tt.setupMocks(service, msg)

			err := service.updateAccessHandler(tt.kind)(msg)
			if tt.expectedError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			service.publisher.AssertExpectations(t)
			service.fgaClient.AssertExpectations(t)
			if tt.expectedCalled {
				msg.AssertExpectations(t)
			} else {
				msg.AssertNotCalled(t, "Respond", mock.Anything)
			}
		})
	}
}

func TestParsePermissionUpdate(t *testing.T) {
	service := setupService(t, false)

	edit, organizationID, err := service.parsePermissionUpdate(t.Context(), model.KindProject,
		update("o1", "ignored", "u0", model.Project{ID: "p1"}, model.Project{ID: "p1"}))
	require.NoError(t, err)
	assert.Equal(t, "o1", organizationID)
	assert.Equal(t, "p1", edit.Scope.ProjectID())
	assert.Equal(t, "u0", edit.ActingUserID)

	_, organizationID, err = service.parsePermissionUpdate(t.Context(), model.KindOrganization,
		update("", "", "u0", model.Organization{ID: "o1"}, model.Organization{ID: "o1"}))
	require.NoError(t, err)
	assert.Equal(t, "o1", organizationID)

	_, _, err = service.parsePermissionUpdate(t.Context(), model.KindOrganization,
		update("o2", "", "u0", model.Organization{ID: "o1"}, model.Organization{ID: "o1"}))
	assert.ErrorIs(t, err, authz.ErrMalformedInput)

	_, _, err = service.parsePermissionUpdate(t.Context(), model.KindView,
		update("o1", "p1", "u0", nil, model.View{ID: "v1"}))
	assert.ErrorIs(t, err, authz.ErrMalformedInput)

	_, _, err = service.parsePermissionUpdate(t.Context(), model.KindCollection,
		update("o1", "p1", "u0", model.Collection{}, model.Collection{}))
	assert.ErrorIs(t, err, authz.ErrMalformedInput)
}

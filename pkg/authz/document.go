// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package authz

import (
	"context"

	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/model"
)

// carveOutRoles are the only roles a document or link instance grants on its
// own. DataDelete and Manage always need the collection role.
var carveOutRoles = model.NewRoleSet(
	model.RoleRead,
	model.RoleDataRead,
	model.RoleWrite,
	model.RoleDataWrite,
	model.RoleContribute,
	model.RoleDataContribute,
)

// HasRoleInDocument reports whether the user holds role on a single document.
// Besides the collection role, a creator holding DataContribute and an
// assignee of a task document are granted the Read, Write and Contribute
// families.
func (r *Resolver) HasRoleInDocument(ctx context.Context, s *Session, scope Scope, collection *model.Collection, document *model.Document, role model.RoleType, userID string) (bool, error) {
	return r.HasRoleInDocumentWithView(ctx, s, scope, collection, document, role, role, userID)
}

// HasRoleInDocumentWithView is HasRoleInDocument with an explicit view role.
func (r *Resolver) HasRoleInDocumentWithView(ctx context.Context, s *Session, scope Scope, collection *model.Collection, document *model.Document, role, viewRole model.RoleType, userID string) (bool, error) {
	ok, err := r.HasRoleWithView(ctx, s, scope, collection, role, viewRole, userID)
	if err != nil || ok {
		return ok, err
	}
	if document == nil || !carveOutRoles.Has(role) {
		return false, nil
	}

	if document.CreatedBy != "" && document.CreatedBy == userID {
		ok, err := r.HasRoleWithView(ctx, s, scope, collection, model.RoleDataContribute, viewRole, userID)
		if err != nil || ok {
			return ok, err
		}
	}

	user, err := s.User(ctx, userID)
	if err != nil || user == nil {
		return false, err
	}
	return model.IsAssignee(collection, document, user.Email), nil
}

// CheckRoleInDocument returns a DocumentPermissionError unless
// HasRoleInDocument holds.
func (r *Resolver) CheckRoleInDocument(ctx context.Context, s *Session, scope Scope, collection *model.Collection, document *model.Document, role model.RoleType, userID string) error {
	return r.CheckRoleInDocumentWithView(ctx, s, scope, collection, document, role, role, userID)
}

// CheckRoleInDocumentWithView is CheckRoleInDocument with an explicit view role.
func (r *Resolver) CheckRoleInDocumentWithView(ctx context.Context, s *Session, scope Scope, collection *model.Collection, document *model.Document, role, viewRole model.RoleType, userID string) error {
	ok, err := r.HasRoleInDocumentWithView(ctx, s, scope, collection, document, role, viewRole, userID)
	if err != nil {
		return err
	}
	if !ok {
		return &DocumentPermissionError{Kind: model.KindCollection, ID: documentID(document), Role: role}
	}
	return nil
}

// HasRoleInLinkInstance reports whether the user holds role on a single link
// instance. The creator of the instance holding DataContribute on the link
// type is granted the Read, Write and Contribute families.
func (r *Resolver) HasRoleInLinkInstance(ctx context.Context, s *Session, scope Scope, linkType *model.LinkType, instance *model.LinkInstance, role model.RoleType, userID string) (bool, error) {
	ok, err := r.HasRole(ctx, s, scope, linkType, role, userID)
	if err != nil || ok {
		return ok, err
	}
	if instance == nil || !carveOutRoles.Has(role) {
		return false, nil
	}
	if instance.CreatedBy == "" || instance.CreatedBy != userID {
		return false, nil
	}
	return r.HasRole(ctx, s, scope, linkType, model.RoleDataContribute, userID)
}

// CheckRoleInLinkInstance returns a DocumentPermissionError unless
// HasRoleInLinkInstance holds.
func (r *Resolver) CheckRoleInLinkInstance(ctx context.Context, s *Session, scope Scope, linkType *model.LinkType, instance *model.LinkInstance, role model.RoleType, userID string) error {
	ok, err := r.HasRoleInLinkInstance(ctx, s, scope, linkType, instance, role, userID)
	if err != nil {
		return err
	}
	if !ok {
		id := ""
		if instance != nil {
			id = instance.ID
		}
		return &DocumentPermissionError{Kind: model.KindLinkType, ID: id, Role: role}
	}
	return nil
}

func documentID(document *model.Document) string {
	if document == nil {
		return ""
	}
	return document.ID
}

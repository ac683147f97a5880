// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package authz resolves the roles a user holds on organizations, projects,
// collections, link types and views. Resolution combines direct and group
// grants, transitive grants from the containment chain, view delegation and
// the workspace manager bypass.
package authz

import (
	"context"
	"log/slog"
	"strings"

	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/model"
)

// Resolver answers role questions inside a Session. It holds no state of its
// own and is safe to share; the Session carries the memoized results.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver returns a resolver logging to logger, or to slog.Default when
// logger is nil.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

// principal is a user together with their group memberships in one
// organization.
type principal struct {
	user   *model.User
	groups map[string]struct{}
}

func (p principal) roles(permissions model.Permissions, transitiveOnly bool) model.RoleSet {
	roles := model.Types(permissions.UserRoles(p.user.ID), transitiveOnly)
	return roles.Union(model.Types(permissions.GroupRoles(p.groups), transitiveOnly))
}

// workspace returns the organization and project that contain the resource.
// A project resource is its own project and an organization its own
// organization.
func workspace(scope Scope, resource model.Resource) (*model.Organization, *model.Project) {
	organization, project := scope.Organization, scope.Project
	switch r := resource.(type) {
	case *model.Organization:
		return r, nil
	case *model.Project:
		return organization, r
	}
	return organization, project
}

func (r *Resolver) principal(ctx context.Context, s *Session, organization *model.Organization, userID string) (*principal, error) {
	user, err := s.User(ctx, userID)
	if err != nil || user == nil {
		return nil, err
	}
	groups, err := s.UserGroups(ctx, organization.ID, user.ID)
	if err != nil {
		return nil, err
	}
	return &principal{user: user, groups: groups}, nil
}

func isManager(p *principal, organization *model.Organization, project *model.Project) bool {
	if p.roles(organization.Permissions, true).Has(model.RoleUserConfig) {
		return true
	}
	return project != nil && p.roles(project.Permissions, true).Has(model.RoleUserConfig)
}

// chainRoles walks organization, project and resource. Ancestors contribute
// only their transitive grants.
func chainRoles(p *principal, organization *model.Organization, project *model.Project, resource model.Resource) model.RoleSet {
	var chain []model.Resource
	switch resource.(type) {
	case *model.Organization:
		chain = []model.Resource{resource}
	case *model.Project:
		chain = []model.Resource{organization, resource}
	default:
		chain = []model.Resource{organization, project, resource}
	}
	roles := make(model.RoleSet)
	for i, level := range chain {
		roles = roles.Union(p.roles(level.ResourcePermissions(), i < len(chain)-1))
	}
	return roles
}

// workspaceReadable gates every non-organization resource on Read at the
// organization, and every project resource on Read at the project or a
// transitive Read at the organization.
func workspaceReadable(p *principal, organization *model.Organization, project *model.Project, resource model.Resource) bool {
	kind := resource.ResourceKind()
	if kind == model.KindOrganization {
		return true
	}
	if !p.roles(organization.Permissions, false).Has(model.RoleRead) {
		return false
	}
	if kind == model.KindProject {
		return true
	}
	return chainRoles(p, organization, project, project).Has(model.RoleRead)
}

// EffectiveRoles returns every role the user holds on the resource, including
// roles delegated through the session's active view. A user unknown to the
// directory holds no roles.
func (r *Resolver) EffectiveRoles(ctx context.Context, s *Session, scope Scope, resource model.Resource, userID string) (model.RoleSet, error) {
	roles, err := r.resolve(ctx, s, scope, resource, userID, true)
	if err != nil {
		return nil, err
	}
	return roles.Union(nil), nil
}

func (r *Resolver) resolve(ctx context.Context, s *Session, scope Scope, resource model.Resource, userID string, delegate bool) (model.RoleSet, error) {
	if err := scope.validate(resource); err != nil {
		return nil, err
	}
	key := roleKey{
		userID:     userID,
		kind:       resource.ResourceKind(),
		resourceID: resource.ResourceID(),
		delegate:   delegate,
	}
	if delegate {
		key.viewID = s.viewID
	}
	if roles, ok := s.roles[key]; ok {
		return roles, nil
	}

	roles, err := r.compute(ctx, s, scope, resource, userID, delegate)
	if err != nil {
		return nil, err
	}
	s.roles[key] = roles
	return roles, nil
}

func (r *Resolver) compute(ctx context.Context, s *Session, scope Scope, resource model.Resource, userID string, delegate bool) (model.RoleSet, error) {
	organization, project := workspace(scope, resource)
	p, err := r.principal(ctx, s, organization, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		r.logger.DebugContext(ctx, "unknown user resolved without roles", "user", userID)
		return model.RoleSet{}, nil
	}
	if isManager(p, organization, project) {
		return model.RoleUniverse(resource.ResourceKind()), nil
	}
	if !workspaceReadable(p, organization, project, resource) {
		return model.RoleSet{}, nil
	}

	if linkType, ok := resource.(*model.LinkType); ok && linkType.IsMerge() {
		return r.mergeRoles(ctx, s, scope, linkType, userID, delegate)
	}

	roles := chainRoles(p, organization, project, resource)
	if !delegate || s.viewID == "" {
		return roles, nil
	}
	switch resource.(type) {
	case *model.Collection, *model.LinkType:
	default:
		return roles, nil
	}
	for role := range model.DelegableRoles {
		if roles.Has(role) {
			continue
		}
		ok, err := r.viaView(ctx, s, scope, resource, role, role, userID)
		if err != nil {
			return nil, err
		}
		if ok {
			roles.Add(role)
		}
	}
	return roles, nil
}

// mergeRoles intersects the roles held on both endpoint collections. A user
// who cannot read both endpoints holds no role on the link type.
func (r *Resolver) mergeRoles(ctx context.Context, s *Session, scope Scope, linkType *model.LinkType, userID string, delegate bool) (model.RoleSet, error) {
	if len(linkType.CollectionIDs) != 2 {
		return model.RoleSet{}, nil
	}
	var roles model.RoleSet
	for _, id := range linkType.CollectionIDs {
		collection, err := s.Collection(ctx, id)
		if err != nil {
			return nil, referenceError(err, model.KindCollection, id, linkType.ID)
		}
		collectionRoles, err := r.resolve(ctx, s, scope, collection, userID, delegate)
		if err != nil {
			return nil, err
		}
		if !collectionRoles.Has(model.RoleRead) {
			return model.RoleSet{}, nil
		}
		if roles == nil {
			roles = collectionRoles.Union(nil)
			continue
		}
		roles = roles.Intersect(collectionRoles)
	}
	return roles, nil
}

// viaView reports whether role on a collection or custom link type is
// delegated through the active view: the user holds viewRole on the view, the
// view's query reads the resource, and the view's author holds role on it
// without any delegation.
func (r *Resolver) viaView(ctx context.Context, s *Session, scope Scope, resource model.Resource, role, viewRole model.RoleType, userID string) (bool, error) {
	if s.viewID == "" || !model.DelegableRoles.Has(role) {
		return false, nil
	}
	view, err := s.View(ctx, s.viewID)
	if err != nil {
		return false, referenceError(err, model.KindView, s.viewID, "")
	}
	if view.AuthorID == "" {
		return false, nil
	}
	viewRoles, err := r.resolve(ctx, s, scope, view, userID, false)
	if err != nil || !viewRoles.Has(viewRole) {
		return false, err
	}

	switch v := resource.(type) {
	case *model.Collection:
		linkTypes, err := s.LinkTypesByIDs(ctx, view.Query.LinkTypeIDs())
		if err != nil {
			return false, err
		}
		if _, ok := view.Query.CollectionIDs(linkTypes)[v.ID]; !ok {
			return false, nil
		}
	case *model.LinkType:
		if !view.HasLinkType(v.ID) {
			return false, nil
		}
	default:
		return false, nil
	}

	authorRoles, err := r.resolve(ctx, s, scope, resource, view.AuthorID, false)
	if err != nil {
		return false, err
	}
	return authorRoles.Has(role), nil
}

// HasRole reports whether the user holds role on the resource.
func (r *Resolver) HasRole(ctx context.Context, s *Session, scope Scope, resource model.Resource, role model.RoleType, userID string) (bool, error) {
	roles, err := r.resolve(ctx, s, scope, resource, userID, true)
	if err != nil {
		return false, err
	}
	return roles.Has(role), nil
}

// HasAnyRole reports whether the user holds at least one of the roles.
func (r *Resolver) HasAnyRole(ctx context.Context, s *Session, scope Scope, resource model.Resource, userID string, roles ...model.RoleType) (bool, error) {
	held, err := r.resolve(ctx, s, scope, resource, userID, true)
	if err != nil {
		return false, err
	}
	return held.HasAny(roles...), nil
}

// HasAllRoles reports whether the user holds every one of the roles.
func (r *Resolver) HasAllRoles(ctx context.Context, s *Session, scope Scope, resource model.Resource, userID string, roles ...model.RoleType) (bool, error) {
	held, err := r.resolve(ctx, s, scope, resource, userID, true)
	if err != nil {
		return false, err
	}
	return held.HasAll(roles...), nil
}

// HasRoleWithView is HasRole where delegation through the active view asks
// for viewRole on the view instead of role.
func (r *Resolver) HasRoleWithView(ctx context.Context, s *Session, scope Scope, resource model.Resource, role, viewRole model.RoleType, userID string) (bool, error) {
	if role == viewRole {
		return r.HasRole(ctx, s, scope, resource, role, userID)
	}
	if err := scope.validate(resource); err != nil {
		return false, err
	}
	key := checkKey{
		userID:     userID,
		kind:       resource.ResourceKind(),
		resourceID: resource.ResourceID(),
		role:       role,
		viewRole:   viewRole,
		viewID:     s.viewID,
	}
	if ok, cached := s.checks[key]; cached {
		return ok, nil
	}

	ok, err := r.hasRoleWithView(ctx, s, scope, resource, role, viewRole, userID)
	if err != nil {
		return false, err
	}
	s.checks[key] = ok
	return ok, nil
}

func (r *Resolver) hasRoleWithView(ctx context.Context, s *Session, scope Scope, resource model.Resource, role, viewRole model.RoleType, userID string) (bool, error) {
	roles, err := r.resolve(ctx, s, scope, resource, userID, false)
	if err != nil || roles.Has(role) {
		return roles.Has(role), err
	}
	if linkType, ok := resource.(*model.LinkType); ok && linkType.IsMerge() {
		if len(linkType.CollectionIDs) != 2 {
			return false, nil
		}
		for _, id := range linkType.CollectionIDs {
			collection, err := s.Collection(ctx, id)
			if err != nil {
				return false, referenceError(err, model.KindCollection, id, linkType.ID)
			}
			readable, err := r.HasRole(ctx, s, scope, collection, model.RoleRead, userID)
			if err != nil || !readable {
				return false, err
			}
			ok, err := r.HasRoleWithView(ctx, s, scope, collection, role, viewRole, userID)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
	organization, project := workspace(scope, resource)
	p, err := r.principal(ctx, s, organization, userID)
	if err != nil || p == nil || !workspaceReadable(p, organization, project, resource) {
		return false, err
	}
	return r.viaView(ctx, s, scope, resource, role, viewRole, userID)
}

// IsManager reports whether the user holds a transitive UserConfig on the
// organization or the project of the scope.
func (r *Resolver) IsManager(ctx context.Context, s *Session, scope Scope, userID string) (bool, error) {
	if scope.Organization == nil {
		return false, malformed("manager check without organization")
	}
	p, err := r.principal(ctx, s, scope.Organization, userID)
	if err != nil || p == nil {
		return false, err
	}
	return isManager(p, scope.Organization, scope.Project), nil
}

// CanReadAllInWorkspace reports whether the user reads everything in the
// workspace: managers and holders of a transitive Read on the organization or
// the project.
func (r *Resolver) CanReadAllInWorkspace(ctx context.Context, s *Session, scope Scope, userID string) (bool, error) {
	if scope.Organization == nil {
		return false, malformed("workspace check without organization")
	}
	p, err := r.principal(ctx, s, scope.Organization, userID)
	if err != nil || p == nil {
		return false, err
	}
	if isManager(p, scope.Organization, scope.Project) {
		return true, nil
	}
	if p.roles(scope.Organization.Permissions, true).Has(model.RoleRead) {
		return true, nil
	}
	return scope.Project != nil && p.roles(scope.Project.Permissions, true).Has(model.RoleRead), nil
}

// UsersByRole returns the ids of the organization members holding role on the
// resource.
func (r *Resolver) UsersByRole(ctx context.Context, s *Session, scope Scope, resource model.Resource, role model.RoleType) ([]string, error) {
	organization, _ := workspace(scope, resource)
	if organization == nil {
		return nil, malformed("%s %s resolved without organization", resource.ResourceKind(), resource.ResourceID())
	}
	users, err := s.Users(ctx, organization.ID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, user := range users {
		ok, err := r.HasRole(ctx, s, scope, resource, role, user.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			ids = append(ids, user.ID)
		}
	}
	return ids, nil
}

// CheckRole returns a ResourcePermissionError unless the user reads the
// workspace of the resource and holds role on it.
func (r *Resolver) CheckRole(ctx context.Context, s *Session, scope Scope, resource model.Resource, role model.RoleType, userID string) error {
	return r.CheckRoleWithView(ctx, s, scope, resource, role, role, userID)
}

// CheckRoleWithView is CheckRole with an explicit view role.
func (r *Resolver) CheckRoleWithView(ctx context.Context, s *Session, scope Scope, resource model.Resource, role, viewRole model.RoleType, userID string) error {
	if err := r.checkReadWorkspace(ctx, s, scope, resource, userID); err != nil {
		return err
	}
	ok, err := r.HasRoleWithView(ctx, s, scope, resource, role, viewRole, userID)
	if err != nil {
		return err
	}
	if !ok {
		return &ResourcePermissionError{Kind: resource.ResourceKind(), ID: resource.ResourceID(), Role: role}
	}
	return nil
}

func (r *Resolver) checkReadWorkspace(ctx context.Context, s *Session, scope Scope, resource model.Resource, userID string) error {
	if err := scope.validate(resource); err != nil {
		return err
	}
	denied := &ResourcePermissionError{Kind: resource.ResourceKind(), ID: resource.ResourceID(), Role: model.RoleRead}
	kind := resource.ResourceKind()
	if kind == model.KindOrganization {
		return nil
	}
	ok, err := r.HasRole(ctx, s, Scope{Organization: scope.Organization}, scope.Organization, model.RoleRead, userID)
	if err != nil {
		return err
	}
	if !ok {
		return denied
	}
	if kind == model.KindProject {
		return nil
	}
	ok, err = r.HasRole(ctx, s, Scope{Organization: scope.Organization}, scope.Project, model.RoleRead, userID)
	if err != nil {
		return err
	}
	if !ok {
		return denied
	}
	return nil
}

// CheckLinkTypeCollections checks role on the endpoint collections of a link
// type. Outside strict mode a Write check passes when at least one endpoint is
// readable and at least one holds Write. Every other role is needed on each
// endpoint.
func (r *Resolver) CheckLinkTypeCollections(ctx context.Context, s *Session, scope Scope, collectionIDs []string, role model.RoleType, userID string, strict bool) error {
	collections, err := s.CollectionsByIDs(ctx, collectionIDs)
	if err != nil {
		return err
	}
	if len(collections) != len(collectionIDs) {
		for _, id := range collectionIDs {
			if _, err := s.Collection(ctx, id); err != nil {
				return referenceError(err, model.KindCollection, id, "")
			}
		}
	}
	if strict || role != model.RoleWrite {
		for i := range collections {
			if err := r.CheckRoleWithView(ctx, s, scope, &collections[i], role, role, userID); err != nil {
				return err
			}
		}
		return nil
	}

	var readable, writable bool
	for i := range collections {
		if !readable {
			if readable, err = r.HasRole(ctx, s, scope, &collections[i], model.RoleRead, userID); err != nil {
				return err
			}
		}
		if !writable {
			if writable, err = r.HasRole(ctx, s, scope, &collections[i], role, userID); err != nil {
				return err
			}
		}
	}
	if !readable || !writable {
		return &ResourcePermissionError{Kind: model.KindLinkType, ID: strings.Join(collectionIDs, ","), Role: role}
	}
	return nil
}

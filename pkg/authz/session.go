// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package authz

import (
	"context"
	"errors"

	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/model"
)

// roleKey identifies a memoized role set. viewID is empty unless the set was
// computed with view delegation enabled.
type roleKey struct {
	userID     string
	kind       model.Kind
	resourceID string
	delegate   bool
	viewID     string
}

// checkKey identifies a memoized check with an explicit view role.
type checkKey struct {
	userID     string
	kind       model.Kind
	resourceID string
	role       model.RoleType
	viewRole   model.RoleType
	viewID     string
}

type resourceKey struct {
	kind model.Kind
	id   string
}

// Session is the resolution cache for one logical request. It memoizes gateway
// lookups and role results so repeated questions get the same answer while
// the session lives. A Session is confined to a single goroutine and must not
// be shared between concurrent requests.
type Session struct {
	directory Directory
	catalog   Catalog
	viewID    string

	users       map[string]*model.User
	orgUsers    map[string][]model.User
	memberships map[string]map[string]map[string]struct{}

	collections map[string]*model.Collection
	linkTypes   map[string]*model.LinkType
	views       map[string]*model.View

	projectCollections map[string][]model.Collection
	projectLinkTypes   map[string][]model.LinkType
	projectViews       map[string][]model.View

	overrides map[resourceKey]model.Resource

	roles  map[roleKey]model.RoleSet
	checks map[checkKey]bool
}

// NewSession starts a resolution session over the gateways.
func NewSession(directory Directory, catalog Catalog) *Session {
	s := &Session{directory: directory, catalog: catalog}
	s.reset()
	return s
}

func (s *Session) reset() {
	s.users = make(map[string]*model.User)
	s.orgUsers = make(map[string][]model.User)
	s.memberships = make(map[string]map[string]map[string]struct{})
	s.collections = make(map[string]*model.Collection)
	s.linkTypes = make(map[string]*model.LinkType)
	s.views = make(map[string]*model.View)
	s.projectCollections = make(map[string][]model.Collection)
	s.projectLinkTypes = make(map[string][]model.LinkType)
	s.projectViews = make(map[string][]model.View)
	s.overrides = make(map[resourceKey]model.Resource)
	s.roles = make(map[roleKey]model.RoleSet)
	s.checks = make(map[checkKey]bool)
}

// Close drops everything the session memoized.
func (s *Session) Close() {
	s.reset()
	s.viewID = ""
}

// SetViewID selects the view that collection and link type checks may be
// delegated through. An empty id disables delegation.
func (s *Session) SetViewID(viewID string) {
	s.viewID = viewID
}

// ViewID returns the active view id.
func (s *Session) ViewID() string {
	return s.viewID
}

// Directory returns the directory gateway of the session.
func (s *Session) Directory() Directory {
	return s.directory
}

// Catalog returns the catalog gateway of the session.
func (s *Session) Catalog() Catalog {
	return s.catalog
}

// Override makes the session see resource in place of the catalog's copy with
// the same id, and invalidates results that may depend on it.
func (s *Session) Override(resource model.Resource) {
	s.overrides[resourceKey{kind: resource.ResourceKind(), id: resource.ResourceID()}] = resource
	s.Invalidate(resource)
}

// Invalidate drops memoized role results that depend on the resource. Edits
// to an organization or project reach every resource below it, so those drop
// all results.
func (s *Session) Invalidate(resource model.Resource) {
	kind, id := resource.ResourceKind(), resource.ResourceID()
	if kind == model.KindOrganization || kind == model.KindProject {
		s.roles = make(map[roleKey]model.RoleSet)
		s.checks = make(map[checkKey]bool)
		return
	}
	// Merge link types and view delegation read other resources' roles.
	dependent := func(k model.Kind, rid string, delegated bool) bool {
		if rid == id {
			return true
		}
		if delegated {
			return true
		}
		return kind == model.KindCollection && k == model.KindLinkType
	}
	for key := range s.roles {
		if dependent(key.kind, key.resourceID, key.viewID != "") {
			delete(s.roles, key)
		}
	}
	for key := range s.checks {
		if dependent(key.kind, key.resourceID, key.viewID != "") {
			delete(s.checks, key)
		}
	}
}

func (s *Session) override(kind model.Kind, id string) model.Resource {
	return s.overrides[resourceKey{kind: kind, id: id}]
}

// User returns the user or nil when the directory does not know it.
func (s *Session) User(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, nil
	}
	if user, ok := s.users[userID]; ok {
		return user, nil
	}
	user, err := s.directory.User(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		user, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.users[userID] = user
	return user, nil
}

// Users returns every member of the organization.
func (s *Session) Users(ctx context.Context, organizationID string) ([]model.User, error) {
	if users, ok := s.orgUsers[organizationID]; ok {
		return users, nil
	}
	users, err := s.directory.Users(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	s.orgUsers[organizationID] = users
	return users, nil
}

// UserGroups returns the ids of the organization groups the user belongs to.
// Memberships are resolved once per organization.
func (s *Session) UserGroups(ctx context.Context, organizationID, userID string) (map[string]struct{}, error) {
	byUser, ok := s.memberships[organizationID]
	if !ok {
		groups, err := s.directory.Groups(ctx, organizationID)
		if err != nil {
			return nil, err
		}
		byUser = make(map[string]map[string]struct{})
		for _, group := range groups {
			for _, member := range group.Users {
				if byUser[member] == nil {
					byUser[member] = make(map[string]struct{})
				}
				byUser[member][group.ID] = struct{}{}
			}
		}
		s.memberships[organizationID] = byUser
	}
	return byUser[userID], nil
}

// Collection returns the collection, preferring a session override.
func (s *Session) Collection(ctx context.Context, id string) (*model.Collection, error) {
	if o, ok := s.override(model.KindCollection, id).(*model.Collection); ok {
		return o, nil
	}
	if collection, ok := s.collections[id]; ok {
		return collection, nil
	}
	collection, err := s.catalog.Collection(ctx, id)
	if err != nil {
		return nil, err
	}
	s.collections[id] = collection
	return collection, nil
}

// LinkType returns the link type, preferring a session override.
func (s *Session) LinkType(ctx context.Context, id string) (*model.LinkType, error) {
	if o, ok := s.override(model.KindLinkType, id).(*model.LinkType); ok {
		return o, nil
	}
	if linkType, ok := s.linkTypes[id]; ok {
		return linkType, nil
	}
	linkType, err := s.catalog.LinkType(ctx, id)
	if err != nil {
		return nil, err
	}
	s.linkTypes[id] = linkType
	return linkType, nil
}

// View returns the view, preferring a session override.
func (s *Session) View(ctx context.Context, id string) (*model.View, error) {
	if o, ok := s.override(model.KindView, id).(*model.View); ok {
		return o, nil
	}
	if view, ok := s.views[id]; ok {
		return view, nil
	}
	view, err := s.catalog.View(ctx, id)
	if err != nil {
		return nil, err
	}
	s.views[id] = view
	return view, nil
}

// Collections returns every collection of the project with overrides applied.
func (s *Session) Collections(ctx context.Context, projectID string) ([]model.Collection, error) {
	collections, ok := s.projectCollections[projectID]
	if !ok {
		var err error
		if collections, err = s.catalog.Collections(ctx, projectID); err != nil {
			return nil, err
		}
		s.projectCollections[projectID] = collections
	}
	out := make([]model.Collection, len(collections))
	for i, collection := range collections {
		if o, ok := s.override(model.KindCollection, collection.ID).(*model.Collection); ok {
			collection = *o
		}
		out[i] = collection
	}
	return out, nil
}

// LinkTypes returns every link type of the project with overrides applied.
func (s *Session) LinkTypes(ctx context.Context, projectID string) ([]model.LinkType, error) {
	linkTypes, ok := s.projectLinkTypes[projectID]
	if !ok {
		var err error
		if linkTypes, err = s.catalog.LinkTypes(ctx, projectID); err != nil {
			return nil, err
		}
		s.projectLinkTypes[projectID] = linkTypes
	}
	out := make([]model.LinkType, len(linkTypes))
	for i, linkType := range linkTypes {
		if o, ok := s.override(model.KindLinkType, linkType.ID).(*model.LinkType); ok {
			linkType = *o
		}
		out[i] = linkType
	}
	return out, nil
}

// Views returns every view of the project with overrides applied.
func (s *Session) Views(ctx context.Context, projectID string) ([]model.View, error) {
	views, ok := s.projectViews[projectID]
	if !ok {
		var err error
		if views, err = s.catalog.Views(ctx, projectID); err != nil {
			return nil, err
		}
		s.projectViews[projectID] = views
	}
	out := make([]model.View, len(views))
	for i, view := range views {
		if o, ok := s.override(model.KindView, view.ID).(*model.View); ok {
			view = *o
		}
		out[i] = view
	}
	return out, nil
}

// CollectionsByIDs returns the known collections among ids, in order.
func (s *Session) CollectionsByIDs(ctx context.Context, ids []string) ([]model.Collection, error) {
	out := make([]model.Collection, 0, len(ids))
	for _, id := range ids {
		collection, err := s.Collection(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *collection)
	}
	return out, nil
}

// LinkTypesByIDs returns the known link types among ids, in order.
func (s *Session) LinkTypesByIDs(ctx context.Context, ids []string) ([]model.LinkType, error) {
	out := make([]model.LinkType, 0, len(ids))
	for _, id := range ids {
		linkType, err := s.LinkType(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *linkType)
	}
	return out, nil
}

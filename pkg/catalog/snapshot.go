// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package catalog holds an immutable, in-memory snapshot of one organization:
// its users, groups, projects and project resources. A Snapshot serves both
// the Directory and the Catalog gateways of the resolver.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/authz"
	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/model"
)

// Workspace is a project with the resources it contains.
type Workspace struct {
	Project     model.Project      `json:"project" yaml:"project"`
	Collections []model.Collection `json:"collections,omitempty" yaml:"collections,omitempty"`
	LinkTypes   []model.LinkType   `json:"linkTypes,omitempty" yaml:"linkTypes,omitempty"`
	Views       []model.View       `json:"views,omitempty" yaml:"views,omitempty"`
}

// Data is the serialized form of a snapshot.
type Data struct {
	Organization model.Organization `json:"organization" yaml:"organization"`
	Users        []model.User       `json:"users,omitempty" yaml:"users,omitempty"`
	Groups       []model.Group      `json:"groups,omitempty" yaml:"groups,omitempty"`
	Projects     []Workspace        `json:"projects,omitempty" yaml:"projects,omitempty"`
}

// Snapshot is an indexed, read-only view of Data.
type Snapshot struct {
	data     Data
	revision uint64

	users       map[string]*model.User
	emails      map[string]*model.User
	projects    map[string]*Workspace
	collections map[string]*model.Collection
	linkTypes   map[string]*model.LinkType
	views       map[string]*model.View
	owners      map[ownerKey]string
}

type ownerKey struct {
	kind model.Kind
	id   string
}

var (
	_ authz.Directory = (*Snapshot)(nil)
	_ authz.Catalog   = (*Snapshot)(nil)
)

// New indexes data. It rejects duplicate ids and link types that do not join
// exactly two collections.
func New(data Data, revision uint64) (*Snapshot, error) {
	if data.Organization.ID == "" {
		return nil, fmt.Errorf("snapshot has no organization id")
	}
	s := &Snapshot{
		data:        data,
		revision:    revision,
		users:       make(map[string]*model.User),
		emails:      make(map[string]*model.User),
		projects:    make(map[string]*Workspace),
		collections: make(map[string]*model.Collection),
		linkTypes:   make(map[string]*model.LinkType),
		views:       make(map[string]*model.View),
		owners:      make(map[ownerKey]string),
	}
	for i := range s.data.Users {
		user := &s.data.Users[i]
		if _, ok := s.users[user.ID]; ok {
			return nil, fmt.Errorf("duplicate user %q", user.ID)
		}
		s.users[user.ID] = user
		if user.Email != "" {
			s.emails[strings.ToLower(user.Email)] = user
		}
	}
	for i := range s.data.Projects {
		workspace := &s.data.Projects[i]
		if _, ok := s.projects[workspace.Project.ID]; ok {
			return nil, fmt.Errorf("duplicate project %q", workspace.Project.ID)
		}
		s.projects[workspace.Project.ID] = workspace
		for j := range workspace.Collections {
			collection := &workspace.Collections[j]
			if _, ok := s.collections[collection.ID]; ok {
				return nil, fmt.Errorf("duplicate collection %q", collection.ID)
			}
			s.collections[collection.ID] = collection
			s.owners[ownerKey{model.KindCollection, collection.ID}] = workspace.Project.ID
		}
		for j := range workspace.LinkTypes {
			linkType := &workspace.LinkTypes[j]
			if _, ok := s.linkTypes[linkType.ID]; ok {
				return nil, fmt.Errorf("duplicate link type %q", linkType.ID)
			}
			if len(linkType.CollectionIDs) != 2 {
				return nil, fmt.Errorf("link type %q joins %d collections", linkType.ID, len(linkType.CollectionIDs))
			}
			s.linkTypes[linkType.ID] = linkType
			s.owners[ownerKey{model.KindLinkType, linkType.ID}] = workspace.Project.ID
		}
		for j := range workspace.Views {
			view := &workspace.Views[j]
			if _, ok := s.views[view.ID]; ok {
				return nil, fmt.Errorf("duplicate view %q", view.ID)
			}
			s.views[view.ID] = view
			s.owners[ownerKey{model.KindView, view.ID}] = workspace.Project.ID
		}
	}
	return s, nil
}

// ParseJSON decodes a snapshot stored as JSON.
func ParseJSON(raw []byte, revision uint64) (*Snapshot, error) {
	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return New(data, revision)
}

// ParseYAML decodes a snapshot stored as YAML.
func ParseYAML(raw []byte, revision uint64) (*Snapshot, error) {
	var data Data
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return New(data, revision)
}

// Load reads a snapshot file, choosing the decoder by extension.
func Load(path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(raw, 0)
	default:
		return ParseJSON(raw, 0)
	}
}

// Revision is the store revision the snapshot was decoded from.
func (s *Snapshot) Revision() uint64 {
	return s.revision
}

// Data returns the decoded snapshot contents.
func (s *Snapshot) Data() Data {
	return s.data
}

// Organization returns the organization of the snapshot.
func (s *Snapshot) Organization() *model.Organization {
	return &s.data.Organization
}

// Project returns the project or authz.ErrNotFound.
func (s *Snapshot) Project(id string) (*model.Project, error) {
	workspace, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, authz.ErrNotFound)
	}
	return &workspace.Project, nil
}

// Scope returns the resolution scope for a project, or the organization alone
// when projectID is empty.
func (s *Snapshot) Scope(projectID string) (authz.Scope, error) {
	scope := authz.Scope{Organization: s.Organization()}
	if projectID == "" {
		return scope, nil
	}
	project, err := s.Project(projectID)
	if err != nil {
		return authz.Scope{}, err
	}
	scope.Project = project
	return scope, nil
}

// ProjectOf returns the id of the project containing a collection, link type
// or view.
func (s *Snapshot) ProjectOf(kind model.Kind, id string) (string, bool) {
	projectID, ok := s.owners[ownerKey{kind, id}]
	return projectID, ok
}

// Resource looks up a resource of any kind by id.
func (s *Snapshot) Resource(kind model.Kind, id string) (model.Resource, error) {
	var (
		resource model.Resource
		err      error
	)
	switch kind {
	case model.KindOrganization:
		if id != s.data.Organization.ID {
			return nil, fmt.Errorf("organization %s: %w", id, authz.ErrNotFound)
		}
		return s.Organization(), nil
	case model.KindProject:
		resource, err = s.Project(id)
	case model.KindCollection:
		resource, err = s.Collection(context.Background(), id)
	case model.KindLinkType:
		resource, err = s.LinkType(context.Background(), id)
	case model.KindView:
		resource, err = s.View(context.Background(), id)
	default:
		return nil, fmt.Errorf("%w: unknown resource kind %q", authz.ErrMalformedInput, kind)
	}
	if err != nil {
		return nil, err
	}
	return resource, nil
}

// User implements authz.Directory.
func (s *Snapshot) User(_ context.Context, id string) (*model.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, authz.ErrNotFound)
	}
	return user, nil
}

// Users implements authz.Directory.
func (s *Snapshot) Users(_ context.Context, organizationID string) ([]model.User, error) {
	if organizationID != s.data.Organization.ID {
		return nil, nil
	}
	return s.data.Users, nil
}

// Groups implements authz.Directory.
func (s *Snapshot) Groups(_ context.Context, organizationID string) ([]model.Group, error) {
	if organizationID != s.data.Organization.ID {
		return nil, nil
	}
	groups := make([]model.Group, 0, len(s.data.Groups))
	for _, group := range s.data.Groups {
		if group.OrganizationID != "" && group.OrganizationID != organizationID {
			continue
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// UsersByEmails implements authz.Directory. Emails match case-insensitively.
func (s *Snapshot) UsersByEmails(_ context.Context, emails []string) ([]model.User, error) {
	seen := make(map[string]struct{})
	var users []model.User
	for _, email := range emails {
		user, ok := s.emails[strings.ToLower(strings.TrimSpace(email))]
		if !ok {
			continue
		}
		if _, dup := seen[user.ID]; dup {
			continue
		}
		seen[user.ID] = struct{}{}
		users = append(users, *user)
	}
	return users, nil
}

// Collection implements authz.Catalog.
func (s *Snapshot) Collection(_ context.Context, id string) (*model.Collection, error) {
	collection, ok := s.collections[id]
	if !ok {
		return nil, fmt.Errorf("collection %s: %w", id, authz.ErrNotFound)
	}
	return collection, nil
}

// CollectionsByIDs implements authz.Catalog.
func (s *Snapshot) CollectionsByIDs(_ context.Context, ids []string) ([]model.Collection, error) {
	out := make([]model.Collection, 0, len(ids))
	for _, id := range ids {
		if collection, ok := s.collections[id]; ok {
			out = append(out, *collection)
		}
	}
	return out, nil
}

// Collections implements authz.Catalog.
func (s *Snapshot) Collections(_ context.Context, projectID string) ([]model.Collection, error) {
	workspace, ok := s.projects[projectID]
	if !ok {
		return nil, nil
	}
	return workspace.Collections, nil
}

// LinkType implements authz.Catalog.
func (s *Snapshot) LinkType(_ context.Context, id string) (*model.LinkType, error) {
	linkType, ok := s.linkTypes[id]
	if !ok {
		return nil, fmt.Errorf("link type %s: %w", id, authz.ErrNotFound)
	}
	return linkType, nil
}

// LinkTypesByIDs implements authz.Catalog.
func (s *Snapshot) LinkTypesByIDs(_ context.Context, ids []string) ([]model.LinkType, error) {
	out := make([]model.LinkType, 0, len(ids))
	for _, id := range ids {
		if linkType, ok := s.linkTypes[id]; ok {
			out = append(out, *linkType)
		}
	}
	return out, nil
}

// LinkTypes implements authz.Catalog.
func (s *Snapshot) LinkTypes(_ context.Context, projectID string) ([]model.LinkType, error) {
	workspace, ok := s.projects[projectID]
	if !ok {
		return nil, nil
	}
	return workspace.LinkTypes, nil
}

// View implements authz.Catalog.
func (s *Snapshot) View(_ context.Context, id string) (*model.View, error) {
	view, ok := s.views[id]
	if !ok {
		return nil, fmt.Errorf("view %s: %w", id, authz.ErrNotFound)
	}
	return view, nil
}

// ViewsByIDs implements authz.Catalog.
func (s *Snapshot) ViewsByIDs(_ context.Context, ids []string) ([]model.View, error) {
	out := make([]model.View, 0, len(ids))
	for _, id := range ids {
		if view, ok := s.views[id]; ok {
			out = append(out, *view)
		}
	}
	return out, nil
}

// Views implements authz.Catalog.
func (s *Snapshot) Views(_ context.Context, projectID string) ([]model.View, error) {
	workspace, ok := s.projects[projectID]
	if !ok {
		return nil, nil
	}
	return workspace.Views, nil
}

// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package authz

import (
	"context"

	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/model"
)

// Directory is the read-only user and group store supplied by the host.
// Single-item lookups return ErrNotFound when nothing matches.
type Directory interface {
	User(ctx context.Context, id string) (*model.User, error)
	Users(ctx context.Context, organizationID string) ([]model.User, error)
	Groups(ctx context.Context, organizationID string) ([]model.Group, error)
	UsersByEmails(ctx context.Context, emails []string) ([]model.User, error)
}

// Catalog is the read-only resource store supplied by the host. Single-item
// lookups return ErrNotFound when nothing matches; batch lookups skip
// unknown ids.
type Catalog interface {
	Collection(ctx context.Context, id string) (*model.Collection, error)
	CollectionsByIDs(ctx context.Context, ids []string) ([]model.Collection, error)
	Collections(ctx context.Context, projectID string) ([]model.Collection, error)

	LinkType(ctx context.Context, id string) (*model.LinkType, error)
	LinkTypesByIDs(ctx context.Context, ids []string) ([]model.LinkType, error)
	LinkTypes(ctx context.Context, projectID string) ([]model.LinkType, error)

	View(ctx context.Context, id string) (*model.View, error)
	ViewsByIDs(ctx context.Context, ids []string) ([]model.View, error)
	Views(ctx context.Context, projectID string) ([]model.View, error)
}

// Scope is the organization and project a resource is resolved in.
// Organization is required for every kind except Organization itself;
// Project is required for collections, link types and views.
type Scope struct {
	Organization *model.Organization
	Project      *model.Project
}

// OrganizationID returns the id of the scope's organization or "".
func (s Scope) OrganizationID() string {
	if s.Organization == nil {
		return ""
	}
	return s.Organization.ID
}

// ProjectID returns the id of the scope's project or "".
func (s Scope) ProjectID() string {
	if s.Project == nil {
		return ""
	}
	return s.Project.ID
}

// validate rejects scopes that cannot hold a resource of the given kind.
func (s Scope) validate(resource model.Resource) error {
	if resource == nil {
		return malformed("nil resource")
	}
	switch resource.(type) {
	case *model.Organization:
		return nil
	case *model.Project:
		if s.Organization == nil {
			return malformed("project %s resolved without organization", resource.ResourceID())
		}
		return nil
	case *model.Collection, *model.LinkType, *model.View:
		if s.Organization == nil || s.Project == nil {
			return malformed("%s %s resolved without organization and project", resource.ResourceKind(), resource.ResourceID())
		}
		return nil
	default:
		return malformed("unsupported resource %T", resource)
	}
}

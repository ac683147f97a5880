// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package visibility computes what a user can read in a project: the
// collections, link types and views readable directly, and the resources
// reachable only through a readable view.
package visibility

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/authz"
	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/model"
)

// Ref names a single resource.
type Ref struct {
	Kind model.Kind
	ID   string
}

// Visibility is everything one user reads in one project. Resources readable
// directly and resources reachable only through a view are kept apart.
type Visibility struct {
	UserID string

	Collections []model.Collection
	LinkTypes   []model.LinkType
	Views       []model.View

	ViewCollections []model.Collection
	ViewLinkTypes   []model.LinkType
}

// AllCollections returns the direct and view-reachable collections.
func (v *Visibility) AllCollections() []model.Collection {
	out := make([]model.Collection, 0, len(v.Collections)+len(v.ViewCollections))
	out = append(out, v.Collections...)
	return append(out, v.ViewCollections...)
}

// AllLinkTypes returns the direct and view-reachable link types.
func (v *Visibility) AllLinkTypes() []model.LinkType {
	out := make([]model.LinkType, 0, len(v.LinkTypes)+len(v.ViewLinkTypes))
	out = append(out, v.LinkTypes...)
	return append(out, v.ViewLinkTypes...)
}

// Refs returns every visible resource regardless of why it is visible.
func (v *Visibility) Refs() map[Ref]struct{} {
	refs := make(map[Ref]struct{})
	for _, c := range v.AllCollections() {
		refs[Ref{Kind: model.KindCollection, ID: c.ID}] = struct{}{}
	}
	for _, l := range v.AllLinkTypes() {
		refs[Ref{Kind: model.KindLinkType, ID: l.ID}] = struct{}{}
	}
	for _, view := range v.Views {
		refs[Ref{Kind: model.KindView, ID: view.ID}] = struct{}{}
	}
	return refs
}

// Builder builds Visibility values with a Resolver.
type Builder struct {
	resolver *authz.Resolver
	logger   *slog.Logger
}

// NewBuilder returns a Builder. A nil logger means slog.Default.
func NewBuilder(resolver *authz.Resolver, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{resolver: resolver, logger: logger}
}

// withoutView runs fn with view delegation disabled on the session.
func withoutView(s *authz.Session, fn func() error) error {
	viewID := s.ViewID()
	s.SetViewID("")
	defer s.SetViewID(viewID)
	return fn()
}

// Build computes the visibility of the user in the scope's project.
func (b *Builder) Build(ctx context.Context, s *authz.Session, scope authz.Scope, userID string) (*Visibility, error) {
	if scope.Organization == nil || scope.Project == nil {
		return nil, authz.ErrMalformedInput
	}
	visibility := &Visibility{UserID: userID}
	err := withoutView(s, func() error {
		collections, err := b.ReadableCollections(ctx, s, scope, userID)
		if err != nil {
			return err
		}
		linkTypes, err := b.ReadableLinkTypes(ctx, s, scope, userID)
		if err != nil {
			return err
		}
		views, err := b.ReadableViews(ctx, s, scope, userID)
		if err != nil {
			return err
		}
		visibility.Collections, visibility.LinkTypes, visibility.Views = collections, linkTypes, views
		return b.viewReachable(ctx, s, scope, visibility)
	})
	if err != nil {
		return nil, err
	}
	b.logger.DebugContext(ctx, "built visibility",
		"user", userID,
		"project", scope.ProjectID(),
		"collections", len(visibility.Collections),
		"view_collections", len(visibility.ViewCollections),
		"link_types", len(visibility.LinkTypes),
		"view_link_types", len(visibility.ViewLinkTypes),
		"views", len(visibility.Views),
	)
	return visibility, nil
}

// ReadableCollections returns the collections of the project the user reads
// directly. Users who read the whole workspace get every collection.
func (b *Builder) ReadableCollections(ctx context.Context, s *authz.Session, scope authz.Scope, userID string) ([]model.Collection, error) {
	collections, err := s.Collections(ctx, scope.ProjectID())
	if err != nil {
		return nil, err
	}
	return filter(ctx, b, s, scope, userID, collections, func(c *model.Collection) model.Resource { return c })
}

// ReadableLinkTypes returns the link types of the project the user reads
// directly.
func (b *Builder) ReadableLinkTypes(ctx context.Context, s *authz.Session, scope authz.Scope, userID string) ([]model.LinkType, error) {
	linkTypes, err := s.LinkTypes(ctx, scope.ProjectID())
	if err != nil {
		return nil, err
	}
	return filter(ctx, b, s, scope, userID, linkTypes, func(l *model.LinkType) model.Resource { return l })
}

// ReadableViews returns the views of the project the user may open.
func (b *Builder) ReadableViews(ctx context.Context, s *authz.Session, scope authz.Scope, userID string) ([]model.View, error) {
	views, err := s.Views(ctx, scope.ProjectID())
	if err != nil {
		return nil, err
	}
	return filter(ctx, b, s, scope, userID, views, func(v *model.View) model.Resource { return v })
}

// AllReadableCollections returns the direct and view-reachable collections.
func (b *Builder) AllReadableCollections(ctx context.Context, s *authz.Session, scope authz.Scope, userID string) ([]model.Collection, error) {
	visibility, err := b.Build(ctx, s, scope, userID)
	if err != nil {
		return nil, err
	}
	return visibility.AllCollections(), nil
}

// AllReadableLinkTypes returns the direct and view-reachable link types.
func (b *Builder) AllReadableLinkTypes(ctx context.Context, s *authz.Session, scope authz.Scope, userID string) ([]model.LinkType, error) {
	visibility, err := b.Build(ctx, s, scope, userID)
	if err != nil {
		return nil, err
	}
	return visibility.AllLinkTypes(), nil
}

func filter[T any](ctx context.Context, b *Builder, s *authz.Session, scope authz.Scope, userID string, items []T, resource func(*T) model.Resource) ([]T, error) {
	all, err := b.resolver.CanReadAllInWorkspace(ctx, s, scope, userID)
	if err != nil {
		return nil, err
	}
	var out []T
	for i := range items {
		if !all {
			ok, err := b.resolver.HasRole(ctx, s, scope, resource(&items[i]), model.RoleRead, userID)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, items[i])
	}
	return out, nil
}

// viewReachable adds the collections and link types that are readable only
// through one of the user's views. A view never reaches past what its author
// reads without delegation. Merge link types joining two visible collections
// are reachable as well.
func (b *Builder) viewReachable(ctx context.Context, s *authz.Session, scope authz.Scope, visibility *Visibility) error {
	collections := make(map[string]struct{})
	for _, c := range visibility.Collections {
		collections[c.ID] = struct{}{}
	}
	linkTypes := make(map[string]struct{})
	for _, l := range visibility.LinkTypes {
		linkTypes[l.ID] = struct{}{}
	}
	projectLinkTypes, err := s.LinkTypes(ctx, scope.ProjectID())
	if err != nil {
		return err
	}

	for i := range visibility.Views {
		view := &visibility.Views[i]
		if view.AuthorID == "" {
			continue
		}
		for _, id := range sortedKeys(view.Query.CollectionIDs(projectLinkTypes)) {
			if _, ok := collections[id]; ok {
				continue
			}
			collection, err := s.Collection(ctx, id)
			if err != nil {
				return referenceError(err, model.KindCollection, id, view.ID)
			}
			ok, err := b.resolver.HasRole(ctx, s, scope, collection, model.RoleRead, view.AuthorID)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			collections[id] = struct{}{}
			visibility.ViewCollections = append(visibility.ViewCollections, *collection)
		}
		for _, id := range view.Query.LinkTypeIDs() {
			if _, ok := linkTypes[id]; ok {
				continue
			}
			linkType, err := s.LinkType(ctx, id)
			if err != nil {
				return referenceError(err, model.KindLinkType, id, view.ID)
			}
			ok, err := b.resolver.HasRole(ctx, s, scope, linkType, model.RoleRead, view.AuthorID)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			linkTypes[id] = struct{}{}
			visibility.ViewLinkTypes = append(visibility.ViewLinkTypes, *linkType)
		}
	}

	for _, linkType := range projectLinkTypes {
		if _, ok := linkTypes[linkType.ID]; ok || !linkType.IsMerge() || len(linkType.CollectionIDs) == 0 {
			continue
		}
		joined := true
		for _, id := range linkType.CollectionIDs {
			if _, ok := collections[id]; !ok {
				joined = false
				break
			}
		}
		if joined {
			linkTypes[linkType.ID] = struct{}{}
			visibility.ViewLinkTypes = append(visibility.ViewLinkTypes, linkType)
		}
	}
	return nil
}

func referenceError(err error, kind model.Kind, id, from string) error {
	if errors.Is(err, authz.ErrNotFound) {
		return &authz.InvalidReferenceError{Kind: kind, ID: id, From: from}
	}
	return err
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

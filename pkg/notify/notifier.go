// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package notify computes who gained or lost sight of resources when the
// permissions of one resource are edited.
package notify

import (
	"context"
	"log/slog"
	"sort"

	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/authz"
	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/model"
	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/visibility"
)

// ChangeKind tells whether a resource became visible or invisible.
type ChangeKind string

// Change kinds.
const (
	Gained ChangeKind = "Gained"
	Lost   ChangeKind = "Lost"
)

// Change is one visibility change for one principal. Delivering the same
// Change twice has the same effect as delivering it once.
type Change struct {
	PrincipalID  string     `json:"principal_id"`
	Kind         ChangeKind `json:"change"`
	ResourceKind model.Kind `json:"resource_kind"`
	ResourceID   string     `json:"resource_id"`
	ParentIDs    []string   `json:"parent_ids,omitempty"`
}

// Edit is a permission change on a single resource. Before and After are the
// same resource with its old and new permissions.
type Edit struct {
	Scope        authz.Scope
	ActingUserID string
	Before       model.Resource
	After        model.Resource
}

// Notifier diffs visibility before and after an Edit.
type Notifier struct {
	resolver *authz.Resolver
	builder  *visibility.Builder
	logger   *slog.Logger
}

// NewNotifier returns a Notifier. A nil logger means slog.Default.
func NewNotifier(resolver *authz.Resolver, builder *visibility.Builder, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{resolver: resolver, builder: builder, logger: logger}
}

// state is what one principal sees in one phase of the edit.
type state struct {
	manager bool
	visible map[visibility.Ref]struct{}
}

// DiffResourcePermissions returns the visibility changes caused by the edit
// for every member of the organization except the acting user and managers
// of both states. Edits to collections, link types and views also report the
// other resources of the project whose visibility changed as a side effect,
// such as views reading an edited collection or merge link types joining it.
// The result is sorted for stable output; consumers must not rely on order.
func (n *Notifier) DiffResourcePermissions(ctx context.Context, directory authz.Directory, catalog authz.Catalog, edit Edit) ([]Change, error) {
	if edit.Before == nil || edit.After == nil ||
		edit.Before.ResourceKind() != edit.After.ResourceKind() ||
		edit.Before.ResourceID() != edit.After.ResourceID() {
		return nil, authz.ErrMalformedInput
	}
	scope := edit.Scope
	organizationID := scope.OrganizationID()
	if organizationID == "" && edit.After.ResourceKind() == model.KindOrganization {
		organizationID = edit.After.ResourceID()
	}
	if organizationID == "" {
		return nil, authz.ErrMalformedInput
	}

	session := authz.NewSession(directory, catalog)
	defer session.Close()

	users, err := session.Users(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	before, err := n.phase(ctx, session, scope, edit.Before, users)
	if err != nil {
		return nil, err
	}
	after, err := n.phase(ctx, session, scope, edit.After, users)
	if err != nil {
		return nil, err
	}

	parents := parentIDs(scope, edit.After)
	var changes []Change
	for _, user := range users {
		if user.ID == edit.ActingUserID {
			continue
		}
		b, a := before[user.ID], after[user.ID]
		if b.manager && a.manager {
			continue
		}
		for ref := range b.visible {
			if _, ok := a.visible[ref]; !ok {
				changes = append(changes, newChange(user.ID, Lost, ref, parents))
			}
		}
		for ref := range a.visible {
			if _, ok := b.visible[ref]; !ok {
				changes = append(changes, newChange(user.ID, Gained, ref, parents))
			}
		}
	}
	sortChanges(changes)

	n.logger.DebugContext(ctx, "diffed resource permissions",
		"kind", edit.After.ResourceKind(),
		"id", edit.After.ResourceID(),
		"candidates", len(users),
		"changes", len(changes),
	)
	return changes, nil
}

// phase computes every candidate's state with resource installed in the
// session in place of the catalog's copy.
func (n *Notifier) phase(ctx context.Context, session *authz.Session, scope authz.Scope, resource model.Resource, users []model.User) (map[string]state, error) {
	switch r := resource.(type) {
	case *model.Organization:
		scope.Organization = r
	case *model.Project:
		scope.Project = r
	}
	session.Override(resource)

	own := visibility.Ref{Kind: resource.ResourceKind(), ID: resource.ResourceID()}
	states := make(map[string]state, len(users))
	for _, user := range users {
		manager, err := n.resolver.IsManager(ctx, session, scope, user.ID)
		if err != nil {
			return nil, err
		}
		st := state{manager: manager, visible: make(map[visibility.Ref]struct{})}

		if resource.ResourceKind().InProject() {
			v, err := n.builder.Build(ctx, session, scope, user.ID)
			if err != nil {
				return nil, err
			}
			st.visible = v.Refs()
		} else {
			ok, err := n.resolver.HasRole(ctx, session, scope, resource, model.RoleRead, user.ID)
			if err != nil {
				return nil, err
			}
			if ok {
				st.visible[own] = struct{}{}
			}
		}
		states[user.ID] = st
	}
	return states, nil
}

func newChange(principalID string, kind ChangeKind, ref visibility.Ref, parents []string) Change {
	return Change{
		PrincipalID:  principalID,
		Kind:         kind,
		ResourceKind: ref.Kind,
		ResourceID:   ref.ID,
		ParentIDs:    parents,
	}
}

func parentIDs(scope authz.Scope, resource model.Resource) []string {
	switch resource.ResourceKind() {
	case model.KindOrganization:
		return nil
	case model.KindProject:
		return []string{scope.OrganizationID()}
	default:
		return []string{scope.OrganizationID(), scope.ProjectID()}
	}
}

func sortChanges(changes []Change) {
	sort.Slice(changes, func(i, j int) bool {
		a, b := changes[i], changes[j]
		if a.PrincipalID != b.PrincipalID {
			return a.PrincipalID < b.PrincipalID
		}
		if a.ResourceKind != b.ResourceKind {
			return a.ResourceKind < b.ResourceKind
		}
		if a.ResourceID != b.ResourceID {
			return a.ResourceID < b.ResourceID
		}
		return a.Kind < b.Kind
	})
}

// Apply folds the changes addressed to principalID into a client-side set of
// visible resources and returns it. Applying a change again is a no-op.
func Apply(visible map[visibility.Ref]struct{}, principalID string, changes []Change) map[visibility.Ref]struct{} {
	if visible == nil {
		visible = make(map[visibility.Ref]struct{})
	}
	for _, change := range changes {
		if change.PrincipalID != principalID {
			continue
		}
		ref := visibility.Ref{Kind: change.ResourceKind, ID: change.ResourceID}
		switch change.Kind {
		case Gained:
			visible[ref] = struct{}{}
		case Lost:
			delete(visible, ref)
		}
	}
	return visible
}

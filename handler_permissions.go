// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The access-sync service.
package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/authz"
	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/catalog"
	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/model"
	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/notify"
)

// permissionUpdate is the payload of an update_access message. Before and
// After hold the edited resource with its old and new permissions.
type permissionUpdate struct {
	OrganizationID string          `json:"organization_id"`
	ProjectID      string          `json:"project_id"`
	ActingUserID   string          `json:"acting_user_id"`
	Before         json.RawMessage `json:"before"`
	After          json.RawMessage `json:"after"`
}

// updateAccessHandler returns the handler of permission updates for one
// resource kind.
func (h *HandlerService) updateAccessHandler(kind model.Kind) func(INatsMsg) error {
	return func(message INatsMsg) error {
		err := h.handleUpdateAccess(kind, message)
		status := "ok"
		if err != nil {
			status = "error"
		}
		permissionUpdates.WithLabelValues(string(kind), status).Inc()
		return err
	}
}

func (h *HandlerService) handleUpdateAccess(kind model.Kind, message INatsMsg) error {
	ctx := context.TODO()

	logger.With("message", string(message.Data()), "kind", kind).InfoContext(ctx, "handling permission update")

	edit, organizationID, err := h.parsePermissionUpdate(ctx, kind, message.Data())
	if err != nil {
		errText := "failed to parse permission update"
		logger.With(errKey, err).ErrorContext(ctx, errText)
		if errRespond := respond(ctx, message, []byte(errText)); errRespond != nil {
			return errRespond
		}
		return err
	}

	snapshot, err := h.snapshots.Load(ctx, organizationID)
	if err != nil {
		errText := "failed to load catalog"
		logger.With(errKey, err, "organization", organizationID).ErrorContext(ctx, errText)
		if errRespond := respond(ctx, message, []byte(errText)); errRespond != nil {
			return errRespond
		}
		return err
	}

	if edit.Scope, err = resolveScope(snapshot, edit); err != nil {
		errText := "failed to resolve project"
		logger.With(errKey, err).ErrorContext(ctx, errText)
		if errRespond := respond(ctx, message, []byte(errText)); errRespond != nil {
			return errRespond
		}
		return err
	}

	changes, err := h.notifier.DiffResourcePermissions(ctx, snapshot, snapshot, edit)
	if err != nil {
		errText := "failed to diff permissions"
		logger.With(errKey, err).ErrorContext(ctx, errText)
		if errRespond := respond(ctx, message, []byte(errText)); errRespond != nil {
			return errRespond
		}
		return err
	}

	if err := h.publisher.Publish(ctx, changes); err != nil {
		errText := "failed to publish access changes"
		logger.With(errKey, err).ErrorContext(ctx, errText)
		if errRespond := respond(ctx, message, []byte(errText)); errRespond != nil {
			return errRespond
		}
		return err
	}

	if h.mirror != nil {
		object := newObjectRef(organizationID, edit.Scope.ProjectID(), edit.After)
		writes, deletes, err := h.mirror.SyncResource(ctx, object, edit.After)
		if err != nil {
			errText := "failed to sync tuples"
			logger.With(errKey, err, "object", object.String()).ErrorContext(ctx, errText)
			if errRespond := respond(ctx, message, []byte(errText)); errRespond != nil {
				return errRespond
			}
			return err
		}
		logger.With("object", object.String(), "writes", writes, "deletes", deletes).InfoContext(ctx, "synced tuples")
	}

	if err := respond(ctx, message, []byte("OK")); err != nil {
		return err
	}
	logger.With(
		"kind", kind,
		"id", edit.After.ResourceID(),
		"changes", len(changes),
	).InfoContext(ctx, "sent permission update response")

	return nil
}

// parsePermissionUpdate decodes the payload into an Edit. The returned scope
// only carries the project id; the caller resolves it against the snapshot.
func (h *HandlerService) parsePermissionUpdate(ctx context.Context, kind model.Kind, data []byte) (notify.Edit, string, error) {
	update := new(permissionUpdate)
	if err := json.Unmarshal(data, update); err != nil {
		return notify.Edit{}, "", fmt.Errorf("%w: %w", authz.ErrMalformedInput, err)
	}

	before, err := decodeResource(kind, update.Before)
	if err != nil {
		return notify.Edit{}, "", err
	}
	after, err := decodeResource(kind, update.After)
	if err != nil {
		return notify.Edit{}, "", err
	}

	organizationID := update.OrganizationID
	projectID := update.ProjectID
	switch kind {
	case model.KindOrganization:
		if organizationID == "" {
			organizationID = after.ResourceID()
		}
		if organizationID != after.ResourceID() {
			return notify.Edit{}, "", fmt.Errorf("%w: organization %s edited under %s", authz.ErrMalformedInput, after.ResourceID(), organizationID)
		}
		projectID = ""
	case model.KindProject:
		projectID = after.ResourceID()
	default:
		if projectID == "" {
			return notify.Edit{}, "", fmt.Errorf("%w: %s edit without project id", authz.ErrMalformedInput, kind)
		}
	}
	if organizationID == "" {
		return notify.Edit{}, "", fmt.Errorf("%w: missing organization id", authz.ErrMalformedInput)
	}

	logger.With("organization", organizationID, "project", projectID, "id", after.ResourceID()).
		DebugContext(ctx, "parsed permission update")

	return notify.Edit{
		Scope:        authz.Scope{Project: &model.Project{ID: projectID}},
		ActingUserID: update.ActingUserID,
		Before:       before,
		After:        after,
	}, organizationID, nil
}

// resolveScope returns the snapshot scope of the edit. A resource already in
// the catalog must be edited under its own project.
func resolveScope(snapshot *catalog.Snapshot, edit notify.Edit) (authz.Scope, error) {
	scope, err := snapshot.Scope(edit.Scope.ProjectID())
	if err != nil {
		return authz.Scope{}, err
	}
	kind, id := edit.After.ResourceKind(), edit.After.ResourceID()
	if owner, ok := snapshot.ProjectOf(kind, id); ok && owner != scope.ProjectID() {
		return authz.Scope{}, fmt.Errorf("%w: %s %s belongs to project %s", authz.ErrMalformedInput, kind, id, owner)
	}
	return scope, nil
}

// decodeResource decodes a resource of the given kind.
func decodeResource(kind model.Kind, raw json.RawMessage) (model.Resource, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%w: missing %s", authz.ErrMalformedInput, kind)
	}
	var resource model.Resource
	switch kind {
	case model.KindOrganization:
		resource = new(model.Organization)
	case model.KindProject:
		resource = new(model.Project)
	case model.KindCollection:
		resource = new(model.Collection)
	case model.KindLinkType:
		resource = new(model.LinkType)
	case model.KindView:
		resource = new(model.View)
	default:
		return nil, fmt.Errorf("%w: unknown resource kind %q", authz.ErrMalformedInput, kind)
	}
	if err := json.Unmarshal(raw, resource); err != nil {
		return nil, fmt.Errorf("%w: %w", authz.ErrMalformedInput, err)
	}
	if resource.ResourceID() == "" {
		return nil, fmt.Errorf("%w: %s without id", authz.ErrMalformedInput, kind)
	}
	return resource, nil
}

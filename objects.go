// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The access-sync service.
package main

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/constants"
	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/model"
)

// objectRef identifies a permissioned resource on the wire. The object id is
// the path of ids from the organization down to the resource, for example
// "collection:o1/p1/c1".
type objectRef struct {
	Kind           model.Kind
	OrganizationID string
	ProjectID      string
	ID             string
}

var objectTypes = map[model.Kind]string{
	model.KindOrganization: constants.ObjectTypeOrganization,
	model.KindProject:      constants.ObjectTypeProject,
	model.KindCollection:   constants.ObjectTypeCollection,
	model.KindLinkType:     constants.ObjectTypeLinkType,
	model.KindView:         constants.ObjectTypeView,
}

// newObjectRef returns the reference of a resource inside an organization and
// optional project.
func newObjectRef(organizationID, projectID string, resource model.Resource) objectRef {
	ref := objectRef{
		Kind:           resource.ResourceKind(),
		OrganizationID: organizationID,
		ID:             resource.ResourceID(),
	}
	switch ref.Kind {
	case model.KindOrganization:
		ref.OrganizationID = ref.ID
	case model.KindProject:
	default:
		ref.ProjectID = projectID
	}
	return ref
}

// String renders the reference in its wire form.
func (o objectRef) String() string {
	var path []string
	switch o.Kind {
	case model.KindOrganization:
		path = []string{o.ID}
	case model.KindProject:
		path = []string{o.OrganizationID, o.ID}
	default:
		path = []string{o.OrganizationID, o.ProjectID, o.ID}
	}
	return objectTypes[o.Kind] + strings.Join(path, constants.ObjectPathSeparator)
}

// parseObject parses the wire form of an object reference.
func parseObject(value string) (objectRef, error) {
	typeName, id, found := strings.Cut(value, ":")
	if !found {
		return objectRef{}, fmt.Errorf("invalid object: %s", value)
	}
	kind, err := model.ParseKind(typeName)
	if err != nil {
		return objectRef{}, fmt.Errorf("invalid object: %s: %w", value, err)
	}

	path := strings.Split(id, constants.ObjectPathSeparator)
	for _, part := range path {
		if part == "" {
			return objectRef{}, fmt.Errorf("invalid object: %s", value)
		}
	}

	ref := objectRef{Kind: kind}
	switch {
	case kind == model.KindOrganization && len(path) == 1:
		ref.OrganizationID, ref.ID = path[0], path[0]
	case kind == model.KindProject && len(path) == 2:
		ref.OrganizationID, ref.ID = path[0], path[1]
	case kind.InProject() && len(path) == 3:
		ref.OrganizationID, ref.ProjectID, ref.ID = path[0], path[1], path[2]
	default:
		return objectRef{}, fmt.Errorf("invalid object: %s", value)
	}
	return ref, nil
}

// roleRelation returns the relation name of a role type: "DataRead" becomes
// "data_read".
func roleRelation(role model.RoleType) string {
	var b strings.Builder
	for i, r := range string(role) {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// parseRoleRelation is the inverse of roleRelation. The role type name itself
// is accepted too.
func parseRoleRelation(relation string) (model.RoleType, error) {
	role, ok := model.ParseRoleType(strings.ReplaceAll(relation, "_", ""))
	if !ok {
		return "", fmt.Errorf("unknown relation: %s", relation)
	}
	return role, nil
}

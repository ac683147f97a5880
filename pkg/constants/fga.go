// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package constants

// OpenFGA constants for the permission mirror. Role relations are the snake
// case form of the role type, e.g. "data_read" for DataRead.
const (
	// RelationParent links a resource to the resource containing it.
	RelationParent = "parent"

	// RelationMember links a user to a group.
	RelationMember = "member"

	// TransitiveRelationSuffix marks grants on an organization or project
	// that apply to everything contained in it.
	TransitiveRelationSuffix = "_transitive"

	// Object type prefixes
	ObjectTypeUser         = "user:"
	ObjectTypeGroup        = "group:"
	ObjectTypeOrganization = "organization:"
	ObjectTypeProject      = "project:"
	ObjectTypeCollection   = "collection:"
	ObjectTypeLinkType     = "link_type:"
	ObjectTypeView         = "view:"

	// ObjectPathSeparator joins the organization, project and resource ids
	// of an object id.
	ObjectPathSeparator = "/"
)

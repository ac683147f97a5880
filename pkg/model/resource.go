// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package model

import (
	"fmt"
)

// Kind names a resource variant.
type Kind string

// Resource kinds. Organization and Project form the containment hierarchy;
// the other kinds live inside a project.
const (
	KindOrganization Kind = "organization"
	KindProject      Kind = "project"
	KindCollection   Kind = "collection"
	KindLinkType     Kind = "link_type"
	KindView         Kind = "view"
)

// ParseKind converts the wire name of a kind.
func ParseKind(value string) (Kind, error) {
	switch Kind(value) {
	case KindOrganization, KindProject, KindCollection, KindLinkType, KindView:
		return Kind(value), nil
	default:
		return "", fmt.Errorf("unknown resource kind %q", value)
	}
}

// InProject reports whether resources of this kind live inside a project.
func (k Kind) InProject() bool {
	return k == KindCollection || k == KindLinkType || k == KindView
}

// Resource is the closed set of permissioned resources. Only the types in
// this package implement it.
type Resource interface {
	ResourceID() string
	ResourceKind() Kind
	ResourcePermissions() Permissions

	resource()
}

// Organization is the root of the containment hierarchy.
type Organization struct {
	ID          string      `json:"id" yaml:"id"`
	Code        string      `json:"code,omitempty" yaml:"code,omitempty"`
	Name        string      `json:"name,omitempty" yaml:"name,omitempty"`
	Permissions Permissions `json:"permissions" yaml:"permissions"`
}

// Project lives inside an organization and contains collections, link types
// and views.
type Project struct {
	ID          string      `json:"id" yaml:"id"`
	Code        string      `json:"code,omitempty" yaml:"code,omitempty"`
	Name        string      `json:"name,omitempty" yaml:"name,omitempty"`
	Public      bool        `json:"public,omitempty" yaml:"public,omitempty"`
	Permissions Permissions `json:"permissions" yaml:"permissions"`
}

// PurposeType is the declared purpose of a collection.
type PurposeType string

// Collection purposes.
const (
	PurposeNone  PurposeType = "None"
	PurposeTasks PurposeType = "Tasks"
)

// CollectionPurpose describes how a collection is used. For task collections
// the assignee attribute holds the email(s) of the assigned users.
type CollectionPurpose struct {
	Type                PurposeType `json:"type,omitempty" yaml:"type,omitempty"`
	AssigneeAttributeID string      `json:"assigneeAttributeId,omitempty" yaml:"assigneeAttributeId,omitempty"`
}

// Collection holds documents.
type Collection struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name,omitempty" yaml:"name,omitempty"`
	Purpose     CollectionPurpose `json:"purpose,omitempty" yaml:"purpose,omitempty"`
	Permissions Permissions       `json:"permissions" yaml:"permissions"`
}

// IsTasks reports whether documents of the collection carry an assignee.
func (c *Collection) IsTasks() bool {
	return c.Purpose.Type == PurposeTasks && c.Purpose.AssigneeAttributeID != ""
}

// LinkPermissionsType selects how the permissions of a link type are derived.
type LinkPermissionsType string

// Link type permission modes.
const (
	// LinkPermissionsMerge derives roles from both endpoint collections.
	LinkPermissionsMerge LinkPermissionsType = "Merge"
	// LinkPermissionsCustom uses the link type's own permission set.
	LinkPermissionsCustom LinkPermissionsType = "Custom"
)

// LinkType joins exactly two collections.
type LinkType struct {
	ID              string              `json:"id" yaml:"id"`
	Name            string              `json:"name,omitempty" yaml:"name,omitempty"`
	CollectionIDs   []string            `json:"collectionIds" yaml:"collectionIds"`
	PermissionsType LinkPermissionsType `json:"permissionsType,omitempty" yaml:"permissionsType,omitempty"`
	Permissions     Permissions         `json:"permissions" yaml:"permissions"`
}

// IsMerge reports whether the link type derives its roles from its collections.
// An unset mode is treated as Merge.
func (l *LinkType) IsMerge() bool {
	return l.PermissionsType != LinkPermissionsCustom
}

// Joins reports whether the link type has the collection as an endpoint.
func (l *LinkType) Joins(collectionID string) bool {
	for _, id := range l.CollectionIDs {
		if id == collectionID {
			return true
		}
	}
	return false
}

// QueryStem is a single collection the view reads, optionally followed
// through link types.
type QueryStem struct {
	CollectionID string   `json:"collectionId" yaml:"collectionId"`
	LinkTypeIDs  []string `json:"linkTypeIds,omitempty" yaml:"linkTypeIds,omitempty"`
}

// Query is the data a view reads.
type Query struct {
	Stems []QueryStem `json:"stems,omitempty" yaml:"stems,omitempty"`
}

// LinkTypeIDs returns the distinct link type ids referenced by the query.
func (q Query) LinkTypeIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, stem := range q.Stems {
		for _, id := range stem.LinkTypeIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

// CollectionIDs returns the stems' collections together with both endpoints
// of every referenced link type found in linkTypes.
func (q Query) CollectionIDs(linkTypes []LinkType) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, stem := range q.Stems {
		if stem.CollectionID != "" {
			ids[stem.CollectionID] = struct{}{}
		}
	}
	referenced := make(map[string]struct{})
	for _, id := range q.LinkTypeIDs() {
		referenced[id] = struct{}{}
	}
	for _, linkType := range linkTypes {
		if _, ok := referenced[linkType.ID]; !ok {
			continue
		}
		for _, id := range linkType.CollectionIDs {
			ids[id] = struct{}{}
		}
	}
	return ids
}

// View is a saved query. Its permissions decide who may open it; access to
// the underlying data is delegated from the author.
type View struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name,omitempty" yaml:"name,omitempty"`
	AuthorID    string      `json:"authorId,omitempty" yaml:"authorId,omitempty"`
	Query       Query       `json:"query" yaml:"query"`
	Permissions Permissions `json:"permissions" yaml:"permissions"`
}

// HasLinkType reports whether the view's query references the link type.
func (v *View) HasLinkType(linkTypeID string) bool {
	for _, id := range v.Query.LinkTypeIDs() {
		if id == linkTypeID {
			return true
		}
	}
	return false
}

func (o *Organization) ResourceID() string               { return o.ID }
func (o *Organization) ResourceKind() Kind               { return KindOrganization }
func (o *Organization) ResourcePermissions() Permissions { return o.Permissions }
func (*Organization) resource()                          {}

func (p *Project) ResourceID() string               { return p.ID }
func (p *Project) ResourceKind() Kind               { return KindProject }
func (p *Project) ResourcePermissions() Permissions { return p.Permissions }
func (*Project) resource()                          {}

func (c *Collection) ResourceID() string               { return c.ID }
func (c *Collection) ResourceKind() Kind               { return KindCollection }
func (c *Collection) ResourcePermissions() Permissions { return c.Permissions }
func (*Collection) resource()                          {}

func (l *LinkType) ResourceID() string               { return l.ID }
func (l *LinkType) ResourceKind() Kind               { return KindLinkType }
func (l *LinkType) ResourcePermissions() Permissions { return l.Permissions }
func (*LinkType) resource()                          {}

func (v *View) ResourceID() string               { return v.ID }
func (v *View) ResourceKind() Kind               { return KindView }
func (v *View) ResourcePermissions() Permissions { return v.Permissions }
func (*View) resource()                          {}

var (
	dataRoles = []RoleType{
		RoleRead,
		RoleDataRead,
		RoleCommentContribute,
		RoleDataWrite,
		RoleDataContribute,
		RoleDataDelete,
		RoleManage,
		RoleAttributeEdit,
		RoleUserConfig,
	}
	collectionRoles = append(append([]RoleType{}, dataRoles...), RoleTechConfig)
	viewRoles       = append(append([]RoleType{}, dataRoles...), RoleQueryConfig, RolePerspectiveConfig)
)

// RoleUniverse returns every role type that can be held on a resource of the
// kind. Workspace managers hold the whole universe.
func RoleUniverse(kind Kind) RoleSet {
	switch kind {
	case KindOrganization, KindProject:
		return NewRoleSet(allRoleTypes...)
	case KindCollection, KindLinkType:
		return NewRoleSet(collectionRoles...)
	case KindView:
		return NewRoleSet(viewRoles...)
	default:
		return RoleSet{}
	}
}

// DelegableRoles are the data roles a view can pass from its author to its
// readers.
var DelegableRoles = NewRoleSet(
	RoleRead,
	RoleDataRead,
	RoleDataContribute,
	RoleDataWrite,
	RoleDataDelete,
)

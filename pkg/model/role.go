// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package model holds the value types shared by the authorization engine:
// roles, permission sets and the resource variants they are attached to.
package model

import (
	"sort"
	"strings"
)

// RoleType is a single capability that can be granted on a resource.
type RoleType string

// Role types known to the platform.
const (
	RoleRead                 RoleType = "Read"
	RoleManage               RoleType = "Manage"
	RoleWrite                RoleType = "Write"
	RoleContribute           RoleType = "Contribute"
	RoleDataRead             RoleType = "DataRead"
	RoleDataWrite            RoleType = "DataWrite"
	RoleDataContribute       RoleType = "DataContribute"
	RoleDataDelete           RoleType = "DataDelete"
	RoleCommentContribute    RoleType = "CommentContribute"
	RoleAttributeEdit        RoleType = "AttributeEdit"
	RoleUserConfig           RoleType = "UserConfig"
	RoleTechConfig           RoleType = "TechConfig"
	RoleQueryConfig          RoleType = "QueryConfig"
	RolePerspectiveConfig    RoleType = "PerspectiveConfig"
	RoleProjectContribute    RoleType = "ProjectContribute"
	RoleCollectionContribute RoleType = "CollectionContribute"
	RoleLinkContribute       RoleType = "LinkContribute"
	RoleViewContribute       RoleType = "ViewContribute"
)

var allRoleTypes = []RoleType{
	RoleRead,
	RoleManage,
	RoleWrite,
	RoleContribute,
	RoleDataRead,
	RoleDataWrite,
	RoleDataContribute,
	RoleDataDelete,
	RoleCommentContribute,
	RoleAttributeEdit,
	RoleUserConfig,
	RoleTechConfig,
	RoleQueryConfig,
	RolePerspectiveConfig,
	RoleProjectContribute,
	RoleCollectionContribute,
	RoleLinkContribute,
	RoleViewContribute,
}

// AllRoleTypes returns every known role type.
func AllRoleTypes() []RoleType {
	out := make([]RoleType, len(allRoleTypes))
	copy(out, allRoleTypes)
	return out
}

// Valid reports whether the role type is known.
func (r RoleType) Valid() bool {
	for _, known := range allRoleTypes {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRoleType accepts a role type name case-insensitively.
func ParseRoleType(value string) (RoleType, bool) {
	for _, known := range allRoleTypes {
		if strings.EqualFold(string(known), value) {
			return known, true
		}
	}
	return "", false
}

// Role is a granted role type. Transitive grants on an organization or project
// also apply to everything contained in it.
type Role struct {
	Type       RoleType `json:"type" yaml:"type"`
	Transitive bool     `json:"transitive,omitempty" yaml:"transitive,omitempty"`
}

// RoleSet is a set of role types.
type RoleSet map[RoleType]struct{}

// NewRoleSet builds a set from the given role types.
func NewRoleSet(roles ...RoleType) RoleSet {
	set := make(RoleSet, len(roles))
	for _, role := range roles {
		set[role] = struct{}{}
	}
	return set
}

// Add inserts role types into the set.
func (s RoleSet) Add(roles ...RoleType) {
	for _, role := range roles {
		s[role] = struct{}{}
	}
}

// Has reports whether the role type is in the set.
func (s RoleSet) Has(role RoleType) bool {
	_, ok := s[role]
	return ok
}

// HasAny reports whether at least one of the role types is in the set.
func (s RoleSet) HasAny(roles ...RoleType) bool {
	for _, role := range roles {
		if s.Has(role) {
			return true
		}
	}
	return false
}

// HasAll reports whether every role type is in the set.
func (s RoleSet) HasAll(roles ...RoleType) bool {
	for _, role := range roles {
		if !s.Has(role) {
			return false
		}
	}
	return true
}

// Union returns a new set holding the role types of both sets.
func (s RoleSet) Union(other RoleSet) RoleSet {
	out := make(RoleSet, len(s)+len(other))
	for role := range s {
		out[role] = struct{}{}
	}
	for role := range other {
		out[role] = struct{}{}
	}
	return out
}

// Intersect returns a new set holding the role types present in both sets.
func (s RoleSet) Intersect(other RoleSet) RoleSet {
	out := make(RoleSet)
	for role := range s {
		if other.Has(role) {
			out[role] = struct{}{}
		}
	}
	return out
}

// Sorted returns the role types ordered by name.
func (s RoleSet) Sorted() []RoleType {
	out := make([]RoleType, 0, len(s))
	for role := range s {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Permission is the list of roles granted to a single user or group.
type Permission struct {
	ID    string `json:"id" yaml:"id"`
	Roles []Role `json:"roles" yaml:"roles"`
}

// Permissions is the grant set owned by a resource.
type Permissions struct {
	Users  []Permission `json:"users,omitempty" yaml:"users,omitempty"`
	Groups []Permission `json:"groups,omitempty" yaml:"groups,omitempty"`
}

// UserRoles returns the roles granted directly to the user.
func (p Permissions) UserRoles(userID string) []Role {
	if userID == "" {
		return nil
	}
	var roles []Role
	for _, permission := range p.Users {
		if permission.ID == userID {
			roles = append(roles, permission.Roles...)
		}
	}
	return roles
}

// GroupRoles returns the roles granted to any of the groups.
func (p Permissions) GroupRoles(groupIDs map[string]struct{}) []Role {
	var roles []Role
	for _, permission := range p.Groups {
		if _, ok := groupIDs[permission.ID]; ok {
			roles = append(roles, permission.Roles...)
		}
	}
	return roles
}

// UserIDs returns the ids of every user named in the permission set.
func (p Permissions) UserIDs() []string {
	ids := make([]string, 0, len(p.Users))
	for _, permission := range p.Users {
		ids = append(ids, permission.ID)
	}
	return ids
}

// GroupIDs returns the ids of every group named in the permission set.
func (p Permissions) GroupIDs() []string {
	ids := make([]string, 0, len(p.Groups))
	for _, permission := range p.Groups {
		ids = append(ids, permission.ID)
	}
	return ids
}

// Types converts granted roles into a role set, optionally keeping only
// transitive grants.
func Types(roles []Role, transitiveOnly bool) RoleSet {
	set := make(RoleSet, len(roles))
	for _, role := range roles {
		if transitiveOnly && !role.Transitive {
			continue
		}
		set[role.Type] = struct{}{}
	}
	return set
}

// ContainsRole reports whether role of the given type is present, and when
// transitive is set, whether it was granted transitively.
func ContainsRole(roles []Role, roleType RoleType, transitive bool) bool {
	for _, role := range roles {
		if role.Type != roleType {
			continue
		}
		if !transitive || role.Transitive {
			return true
		}
	}
	return false
}

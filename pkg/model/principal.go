// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package model

import (
	"strings"
)

// User is a principal.
type User struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Email string `json:"email,omitempty" yaml:"email,omitempty"`
}

// Group is an organization-scoped set of users.
type Group struct {
	ID             string   `json:"id" yaml:"id"`
	OrganizationID string   `json:"organizationId,omitempty" yaml:"organizationId,omitempty"`
	Name           string   `json:"name,omitempty" yaml:"name,omitempty"`
	Users          []string `json:"users,omitempty" yaml:"users,omitempty"`
}

// HasMember reports whether the user belongs to the group.
func (g *Group) HasMember(userID string) bool {
	for _, id := range g.Users {
		if id == userID {
			return true
		}
	}
	return false
}

// Document is a data row of a collection. It has no permissions of its own.
type Document struct {
	ID           string         `json:"id" yaml:"id"`
	CollectionID string         `json:"collectionId" yaml:"collectionId"`
	CreatedBy    string         `json:"createdBy,omitempty" yaml:"createdBy,omitempty"`
	Data         map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// LinkInstance connects two documents through a link type.
type LinkInstance struct {
	ID          string   `json:"id" yaml:"id"`
	LinkTypeID  string   `json:"linkTypeId" yaml:"linkTypeId"`
	CreatedBy   string   `json:"createdBy,omitempty" yaml:"createdBy,omitempty"`
	DocumentIDs []string `json:"documentIds,omitempty" yaml:"documentIds,omitempty"`
}

// AssigneeEmails returns the lower-cased emails stored in the collection's
// assignee attribute of the document. Non-task collections have none.
func AssigneeEmails(collection *Collection, document *Document) []string {
	if collection == nil || document == nil || !collection.IsTasks() {
		return nil
	}
	value, ok := document.Data[collection.Purpose.AssigneeAttributeID]
	if !ok || value == nil {
		return nil
	}
	var emails []string
	add := func(v string) {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			emails = append(emails, v)
		}
	}
	switch typed := value.(type) {
	case string:
		add(typed)
	case []string:
		for _, v := range typed {
			add(v)
		}
	case []any:
		for _, v := range typed {
			if s, ok := v.(string); ok {
				add(s)
			}
		}
	}
	return emails
}

// IsAssignee reports whether email is one of the document's assignees.
func IsAssignee(collection *Collection, document *Document, email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	for _, assignee := range AssigneeEmails(collection, document) {
		if assignee == email {
			return true
		}
	}
	return false
}

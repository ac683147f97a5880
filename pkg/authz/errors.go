// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package authz

import (
	"errors"
	"fmt"

	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/model"
)

var (
	// ErrNotFound is returned by gateways when a lookup has no result.
	ErrNotFound = errors.New("authz: not found")

	// ErrMalformedInput marks programmer errors such as a missing
	// organization for a project-scoped resource.
	ErrMalformedInput = errors.New("authz: malformed input")

	// ErrPermissionDenied is matched by both permission error types.
	ErrPermissionDenied = errors.New("authz: permission denied")
)

// ResourcePermissionError reports a role missing on a resource.
type ResourcePermissionError struct {
	Kind model.Kind
	ID   string
	Role model.RoleType
}

func (e *ResourcePermissionError) Error() string {
	return fmt.Sprintf("no %s permission on %s %s", e.Role, e.Kind, e.ID)
}

// Is lets callers match with errors.Is(err, ErrPermissionDenied).
func (e *ResourcePermissionError) Is(target error) bool {
	return target == ErrPermissionDenied
}

// DocumentPermissionError reports a role missing on a single document or
// link instance.
type DocumentPermissionError struct {
	// Kind is KindCollection for documents and KindLinkType for link instances.
	Kind model.Kind
	ID   string
	Role model.RoleType
}

func (e *DocumentPermissionError) Error() string {
	record := "document"
	if e.Kind == model.KindLinkType {
		record = "link instance"
	}
	return fmt.Sprintf("no %s permission on %s %s", e.Role, record, e.ID)
}

// Is lets callers match with errors.Is(err, ErrPermissionDenied).
func (e *DocumentPermissionError) Is(target error) bool {
	return target == ErrPermissionDenied
}

// InvalidReferenceError reports a dangling reference: a view, collection or
// link type that another resource points at but the catalog does not know.
type InvalidReferenceError struct {
	Kind model.Kind
	ID   string
	// From is the resource holding the reference, when known.
	From string
}

func (e *InvalidReferenceError) Error() string {
	if e.From != "" {
		return fmt.Sprintf("invalid %s reference %q from %s", e.Kind, e.ID, e.From)
	}
	return fmt.Sprintf("invalid %s reference %q", e.Kind, e.ID)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedInput, fmt.Sprintf(format, args...))
}

// referenceError converts a gateway ErrNotFound into an InvalidReferenceError
// and passes any other error through unchanged.
func referenceError(err error, kind model.Kind, id, from string) error {
	if errors.Is(err, ErrNotFound) {
		return &InvalidReferenceError{Kind: kind, ID: id, From: from}
	}
	return err
}

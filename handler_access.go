// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The access-sync service.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/authz"
	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/catalog"
	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/constants"
	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/model"
)

// checkRequest is one line of an access check message.
type checkRequest struct {
	Object objectRef
	Role   model.RoleType
	UserID string
	// key is the line as received, echoed back in the reply.
	key string
}

// accessCheckHandler handles access check requests from the NATS server.
func (h *HandlerService) accessCheckHandler(message INatsMsg) error {
	ctx := context.TODO()

	logger.With("message", string(message.Data())).InfoContext(ctx, "handling access check request")

	// Extract the check requests from the message payload.
	checkRequests, err := extractCheckRequests(message.Data())
	if err != nil {
		errText := "failed to extract check requests"
		logger.With(errKey, err).WarnContext(ctx, errText)
		if errRespond := respond(ctx, message, []byte(errText)); errRespond != nil {
			return errRespond
		}
		return err
	}

	if len(checkRequests) == 0 {
		errText := "no check requests found"
		logger.WarnContext(ctx, errText)
		// The message containing no check requests is not an error.
		return respond(ctx, message, []byte(errText))
	}

	logger.With("count", len(checkRequests)).DebugContext(ctx, "resolving access checks")
	response, err := h.checkAccess(ctx, checkRequests)
	if err != nil {
		accessChecks.WithLabelValues("error").Add(float64(len(checkRequests)))
		errText := "failed to check relationship"
		logger.With(errKey, err).ErrorContext(ctx, errText)
		if errRespond := respond(ctx, message, []byte(errText)); errRespond != nil {
			return errRespond
		}
		return err
	}

	if err := respond(ctx, message, response); err != nil {
		return err
	}
	logger.With(
		"message", string(message.Data()),
		"response", string(response),
	).InfoContext(ctx, "sent access check response")

	return nil
}

// checkAccess resolves the checks and renders the reply, one
// `object#relation@user\ttrue|false` line per check. Checks against
// organizations are grouped so each organization gets one snapshot and one
// resolution session.
func (h *HandlerService) checkAccess(ctx context.Context, requests []checkRequest) ([]byte, error) {
	type workspace struct {
		snapshot *catalog.Snapshot
		session  *authz.Session
	}
	workspaces := make(map[string]*workspace)
	defer func() {
		for _, w := range workspaces {
			if w.session != nil {
				w.session.Close()
			}
		}
	}()

	// Preallocate the response based on an expected relation size of 80
	// bytes each.
	message := make([]byte, 0, 80*len(requests))
	for _, request := range requests {
		w, ok := workspaces[request.Object.OrganizationID]
		if !ok {
			w = &workspace{}
			snapshot, err := h.snapshots.Load(ctx, request.Object.OrganizationID)
			switch {
			case errors.Is(err, authz.ErrNotFound):
				// Unknown organizations grant nothing.
			case err != nil:
				return nil, err
			default:
				w.snapshot = snapshot
				w.session = authz.NewSession(snapshot, snapshot)
			}
			workspaces[request.Object.OrganizationID] = w
		}

		allowed := false
		if w.snapshot != nil {
			var err error
			allowed, err = h.resolveCheck(ctx, w.snapshot, w.session, request)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", request.key, err)
			}
		}
		if allowed {
			accessChecks.WithLabelValues("allowed").Inc()
		} else {
			accessChecks.WithLabelValues("denied").Inc()
		}
		message = append(message, []byte(request.key+"\t"+strconv.FormatBool(allowed)+"\n")...)
	}

	// Trim the last newline and return.
	return message[:len(message)-1], nil
}

// resolveCheck answers one check. Resources missing from the snapshot, or
// addressed through the wrong project, are denied.
func (h *HandlerService) resolveCheck(ctx context.Context, snapshot *catalog.Snapshot, session *authz.Session, request checkRequest) (bool, error) {
	object := request.Object
	projectID := object.ProjectID
	switch {
	case object.Kind == model.KindProject:
		projectID = object.ID
	case object.Kind.InProject():
		if owner, ok := snapshot.ProjectOf(object.Kind, object.ID); !ok || owner != projectID {
			return false, nil
		}
	}

	resource, err := snapshot.Resource(object.Kind, object.ID)
	if errors.Is(err, authz.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	scope, err := snapshot.Scope(projectID)
	if errors.Is(err, authz.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return h.resolver.HasRole(ctx, session, scope, resource, request.Role, request.UserID)
}

// extractCheckRequests extracts the check requests from our binary message
// payload format, which is a newline-delineated list of the format
// `object#relation@user`.
func extractCheckRequests(payload []byte) ([]checkRequest, error) {
	checkRequests := make([]checkRequest, 0)

	lines := bytes.Split(payload, []byte("\n"))
	for _, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		request, err := parseCheckRequest(line)
		if err != nil {
			return nil, err
		}

		logger.With(
			"object", request.Object.String(),
			"role", request.Role,
			"user", request.UserID,
		).Debug("parsed check request")

		checkRequests = append(checkRequests, request)
	}

	return checkRequests, nil
}

// parseCheckRequest parses a single check request from the format
// `object#relation@user:<id>`.
func parseCheckRequest(line []byte) (checkRequest, error) {
	// Split the user from the object and relation.
	firstPart, userPart, found := bytes.Cut(line, []byte("@"))
	if !found {
		return checkRequest{}, fmt.Errorf("invalid check request: %s", line)
	}

	// Split the object and relation.
	objectPart, relationPart, found := bytes.Cut(firstPart, []byte("#"))
	if !found {
		return checkRequest{}, fmt.Errorf("invalid check request: %s", line)
	}

	userID, isUser := strings.CutPrefix(string(userPart), constants.ObjectTypeUser)
	if !isUser || userID == "" || userID == "*" {
		return checkRequest{}, fmt.Errorf("invalid check request user: %s", line)
	}

	object, err := parseObject(string(objectPart))
	if err != nil {
		return checkRequest{}, err
	}
	role, err := parseRoleRelation(string(relationPart))
	if err != nil {
		return checkRequest{}, err
	}

	return checkRequest{
		Object: object,
		Role:   role,
		UserID: userID,
		key:    string(line),
	}, nil
}

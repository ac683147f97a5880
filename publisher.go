// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The access-sync service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/authz"
	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/constants"
	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/notify"
)

// ChangePublisher delivers access changes to the affected principals.
type ChangePublisher interface {
	Publish(ctx context.Context, changes []notify.Change) error
}

// INatsPublisher is the subset of [nats.Conn] used to publish messages.
type INatsPublisher interface {
	Publish(subject string, data []byte) error
}

// accessChangedEvent is the message sent to one principal. Consumers apply the
// changes with set semantics, so redelivery is harmless.
type accessChangedEvent struct {
	ID          string          `json:"id"`
	PrincipalID string          `json:"principal_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Changes     []notify.Change `json:"changes"`
}

// NatsPublisher publishes one [accessChangedEvent] per principal on the
// principal's access-changed subject.
type NatsPublisher struct {
	conn        INatsPublisher
	environment constants.LFXEnvironment
	now         func() time.Time
}

// NewNatsPublisher returns a publisher for the environment.
func NewNatsPublisher(conn INatsPublisher, environment constants.LFXEnvironment) *NatsPublisher {
	return &NatsPublisher{conn: conn, environment: environment, now: time.Now}
}

// Publish implements [ChangePublisher].
func (p *NatsPublisher) Publish(ctx context.Context, changes []notify.Change) error {
	var principals []string
	byPrincipal := make(map[string][]notify.Change)
	for _, change := range changes {
		if _, ok := byPrincipal[change.PrincipalID]; !ok {
			if !validSubjectToken(change.PrincipalID) {
				return fmt.Errorf("%w: principal id %q is not a subject token", authz.ErrMalformedInput, change.PrincipalID)
			}
			principals = append(principals, change.PrincipalID)
		}
		byPrincipal[change.PrincipalID] = append(byPrincipal[change.PrincipalID], change)
	}

	occurredAt := p.now().UTC()
	for _, principalID := range principals {
		event := accessChangedEvent{
			ID:          uuid.NewString(),
			PrincipalID: principalID,
			OccurredAt:  occurredAt,
			Changes:     byPrincipal[principalID],
		}
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		subject := envSubject(p.environment, constants.AccessChangedSubjectPrefix+principalID)
		if err := p.conn.Publish(subject, data); err != nil {
			logger.With(errKey, err, "subject", subject).ErrorContext(ctx, "failed to publish access change")
			return err
		}
		accessChangesPublished.Add(float64(len(event.Changes)))
		logger.With("subject", subject, "id", event.ID, "changes", len(event.Changes)).
			DebugContext(ctx, "published access change")
	}
	return nil
}

// validSubjectToken reports whether id can be used as one NATS subject token:
// not empty, without separators, wildcards or whitespace.
func validSubjectToken(id string) bool {
	return id != "" && !strings.ContainsAny(id, ".*> \t\r\n")
}

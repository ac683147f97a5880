// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"context"

	nats "github.com/nats-io/nats.go"

	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/authz"
	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/constants"
	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/notify"
	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/visibility"
)

// HandlerService is the service that handles the messages from NATS about
// access checks and permission updates.
type HandlerService struct {
	snapshots SnapshotLoader
	resolver  *authz.Resolver
	notifier  *notify.Notifier
	publisher ChangePublisher
	// mirror is nil when OpenFGA is not configured.
	mirror *FgaService
}

// NewHandlerService wires the resolution engine to its collaborators.
func NewHandlerService(snapshots SnapshotLoader, publisher ChangePublisher, mirror *FgaService) *HandlerService {
	resolver := authz.NewResolver(logger)
	return &HandlerService{
		snapshots: snapshots,
		resolver:  resolver,
		notifier:  notify.NewNotifier(resolver, visibility.NewBuilder(resolver, logger), logger),
		publisher: publisher,
		mirror:    mirror,
	}
}

// INatsMsg is an interface for [nats.Msg] that allows for mocking.
type INatsMsg interface {
	Reply() string
	Respond(data []byte) error
	Data() []byte
	Subject() string
}

// NatsMsg is a wrapper around [nats.Msg] that implements [INatsMsg].
type NatsMsg struct {
	*nats.Msg
}

// Reply implements [INatsMsg.Reply].
func (m *NatsMsg) Reply() string {
	return m.Msg.Reply
}

// Respond implements [INatsMsg.Respond].
func (m *NatsMsg) Respond(data []byte) error {
	return m.Msg.Respond(data)
}

// Data implements [INatsMsg.Data].
func (m *NatsMsg) Data() []byte {
	return m.Msg.Data
}

// Subject implements [INatsMsg.Subject].
func (m *NatsMsg) Subject() string {
	return m.Msg.Subject
}

// natsHandler adapts a handler method to a NATS subscription callback. The
// handlers log their own failures.
func natsHandler(handle func(INatsMsg) error) nats.MsgHandler {
	return func(msg *nats.Msg) {
		if err := handle(&NatsMsg{Msg: msg}); err != nil {
			logger.With(errKey, err, "subject", msg.Subject).Debug("message handler failed")
		}
	}
}

// respond sends a reply if an inbox was provided.
func respond(ctx context.Context, message INatsMsg, data []byte) error {
	if message.Reply() == "" {
		return nil
	}
	if err := message.Respond(data); err != nil {
		logger.With(errKey, err).WarnContext(ctx, "failed to send reply")
		return err
	}
	return nil
}

// envSubject prefixes a subject with the LFX environment.
func envSubject(environment constants.LFXEnvironment, subject string) string {
	return environment.Subject(subject)
}

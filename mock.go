// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/mock"

	. "github.com/openfga/go-sdk/client"

	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/notify"
)

// MockFgaClient is a mock implementation of the IFgaClient interface
type MockFgaClient struct {
	mock.Mock
}

// Read implements the IFgaClient interface
func (m *MockFgaClient) Read(
	ctx context.Context,
	req ClientReadRequest,
	options ClientReadOptions,
) (*ClientReadResponse, error) {
	args := m.Called(ctx, req, options)
	//nolint:errcheck // the error is passed through to the caller
	return args.Get(0).(*ClientReadResponse), args.Error(1)
}

// Write implements the IFgaClient interface
func (m *MockFgaClient) Write(
	ctx context.Context,
	req ClientWriteRequest,
) (*ClientWriteResponse, error) {
	args := m.Called(ctx, req)
	//nolint:errcheck // the error is passed through to the caller
	return args.Get(0).(*ClientWriteResponse), args.Error(1)
}

// MockNatsMsg is a mock implementation of the INatsMsg interface
type MockNatsMsg struct {
	mock.Mock
	reply   string
	data    []byte
	subject string
}

// Reply implements the INatsMsg interface
func (m *MockNatsMsg) Reply() string {
	return m.reply
}

// Respond implements the INatsMsg interface
func (m *MockNatsMsg) Respond(data []byte) error {
	args := m.Called(data)
	return args.Error(0)
}

// Data implements the INatsMsg interface
func (m *MockNatsMsg) Data() []byte {
	return m.data
}

// Subject implements the INatsMsg interface
func (m *MockNatsMsg) Subject() string {
	return m.subject
}

// CreateMockNatsMsg creates a mock NATS message that can be used in tests
func CreateMockNatsMsg(data []byte) *MockNatsMsg {
	msg := MockNatsMsg{
		data: data,
	}
	return &msg
}

// MockPublisher is a mock implementation of the ChangePublisher interface
type MockPublisher struct {
	mock.Mock
}

// Publish implements the ChangePublisher interface
func (m *MockPublisher) Publish(ctx context.Context, changes []notify.Change) error {
	args := m.Called(ctx, changes)
	return args.Error(0)
}

// MockNatsConn records the messages published through the INatsPublisher
// interface
type MockNatsConn struct {
	mock.Mock
}

// Publish implements the INatsPublisher interface
func (m *MockNatsConn) Publish(subject string, data []byte) error {
	args := m.Called(subject, data)
	return args.Error(0)
}

// MockKeyValue is a mock implementation of jetstream.KeyValue for testing
type MockKeyValue struct {
	mu          sync.Mutex
	entries     map[string]*MockKeyValueEntry
	revision    uint64
	returnError error
	gets        int
}

// NewMockKeyValue creates a new MockKeyValue instance
func NewMockKeyValue() *MockKeyValue {
	return &MockKeyValue{
		entries: make(map[string]*MockKeyValueEntry),
	}
}

// Get implements the INatsKeyValue interface
func (m *MockKeyValue) Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gets++
	if m.returnError != nil {
		return nil, m.returnError
	}
	if entry, exists := m.entries[key]; exists {
		return entry, nil
	}
	return nil, jetstream.ErrKeyNotFound
}

// Put stores a value under a new bucket revision
func (m *MockKeyValue) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.returnError != nil {
		return 0, m.returnError
	}
	m.revision++
	m.entries[key] = &MockKeyValueEntry{
		key:      key,
		value:    value,
		created:  time.Now(),
		revision: m.revision,
	}
	return m.revision, nil
}

// SetError makes every subsequent call fail with err
func (m *MockKeyValue) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.returnError = err
}

// Gets returns the number of Get calls
func (m *MockKeyValue) Gets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets
}

// MockKeyValueEntry is a mock implementation of jetstream.KeyValueEntry
type MockKeyValueEntry struct {
	key      string
	value    []byte
	created  time.Time
	revision uint64
}

func (m *MockKeyValueEntry) Bucket() string                  { return "test-bucket" }
func (m *MockKeyValueEntry) Key() string                     { return m.key }
func (m *MockKeyValueEntry) Value() []byte                   { return m.value }
func (m *MockKeyValueEntry) Created() time.Time              { return m.created }
func (m *MockKeyValueEntry) Revision() uint64                { return m.revision }
func (m *MockKeyValueEntry) Delta() uint64                   { return 0 }
func (m *MockKeyValueEntry) Operation() jetstream.KeyValueOp { return jetstream.KeyValuePut }

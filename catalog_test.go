// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/authz"
)

func newTestStore(t *testing.T) (*SnapshotStore, *MockKeyValue, []byte) {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", "catalog.json"))
	require.NoError(t, err)
	bucket := NewMockKeyValue()
	_, err = bucket.Put(context.Background(), "catalog.o1", raw)
	require.NoError(t, err)
	store, err := NewSnapshotStore(bucket, 2)
	require.NoError(t, err)
	return store, bucket, raw
}

func TestSnapshotStoreMemoizesRevisions(t *testing.T) {
	store, bucket, raw := newTestStore(t)
	ctx := context.Background()
	hits, misses := testutil.ToFloat64(snapshotCacheHits), testutil.ToFloat64(snapshotCacheMisses)

	first, err := store.Load(ctx, "o1")
	require.NoError(t, err)
	second, err := store.Load(ctx, "o1")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, uint64(1), first.Revision())
	assert.Equal(t, misses+1, testutil.ToFloat64(snapshotCacheMisses))
	assert.Equal(t, hits+1, testutil.ToFloat64(snapshotCacheHits))

	// A new revision is decoded even though the content is unchanged.
	_, err = bucket.Put(ctx, "catalog.o1", raw)
	require.NoError(t, err)
	third, err := store.Load(ctx, "o1")
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, uint64(2), third.Revision())
	assert.Equal(t, 3, bucket.Gets())
}

func TestSnapshotStoreErrors(t *testing.T) {
	store, bucket, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Load(ctx, "o9")
	assert.ErrorIs(t, err, authz.ErrNotFound)

	_, err = store.Load(ctx, "")
	assert.ErrorIs(t, err, authz.ErrMalformedInput)

	_, err = bucket.Put(ctx, "catalog.o2", []byte(`{"organization": {"id": "o1"}}`))
	require.NoError(t, err)
	_, err = store.Load(ctx, "o2")
	assert.Error(t, err)

	_, err = bucket.Put(ctx, "catalog.o3", []byte("{"))
	require.NoError(t, err)
	_, err = store.Load(ctx, "o3")
	assert.Error(t, err)

	bucket.SetError(assert.AnError)
	_, err = store.Load(ctx, "o1")
	assert.ErrorIs(t, err, assert.AnError)
}

// blockingKeyValue holds every Get until release is closed.
type blockingKeyValue struct {
	*MockKeyValue
	started chan context.Context
	release chan struct{}
}

func (b *blockingKeyValue) Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error) {
	b.started <- ctx
	<-b.release
	return b.MockKeyValue.Get(ctx, key)
}

func TestSnapshotStoreCanceledCallerDoesNotCancelLoad(t *testing.T) {
	_, inner, _ := newTestStore(t)
	bucket := &blockingKeyValue{
		MockKeyValue: inner,
		started:      make(chan context.Context, 1),
		release:      make(chan struct{}),
	}
	store, err := NewSnapshotStore(bucket, 2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := store.Load(ctx, "o1")
		errs <- err
	}()

	loadCtx := <-bucket.started
	cancel()
	assert.ErrorIs(t, <-errs, context.Canceled)
	// The shared load keeps running for the other waiters.
	assert.NoError(t, loadCtx.Err())

	// A later load either joins the shared one or, once it has finished,
	// reads the key again through the free slot of started.
	close(bucket.release)
	snapshot, err := store.Load(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, "o1", snapshot.Organization().ID)
}

func TestSnapshotStoreConcurrentLoads(t *testing.T) {
	store, _, _ := newTestStore(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snapshot, err := store.Load(context.Background(), "o1")
			if err == nil && snapshot.Organization().ID != "o1" {
				err = assert.AnError
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

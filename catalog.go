// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The access-sync service.
package main

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/singleflight"

	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/authz"
	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/catalog"
	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/constants"
)

// INatsKeyValue is a NATS KV interface needed for the [SnapshotStore].
type INatsKeyValue interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
}

// SnapshotLoader returns the latest catalog snapshot of an organization.
type SnapshotLoader interface {
	Load(ctx context.Context, organizationID string) (*catalog.Snapshot, error)
}

type snapshotKey struct {
	organizationID string
	revision       uint64
}

// SnapshotStore loads catalog snapshots from a KV bucket. Every load reads
// the latest revision of the key; decoding is skipped for revisions seen
// before.
type SnapshotStore struct {
	bucket INatsKeyValue
	group  singleflight.Group
	cache  *lru.Cache[snapshotKey, *catalog.Snapshot]
}

// NewSnapshotStore returns a store keeping up to size decoded snapshots.
func NewSnapshotStore(bucket INatsKeyValue, size int) (*SnapshotStore, error) {
	cache, err := lru.New[snapshotKey, *catalog.Snapshot](size)
	if err != nil {
		return nil, err
	}
	return &SnapshotStore{bucket: bucket, cache: cache}, nil
}

// Load implements [SnapshotLoader]. Concurrent loads of the same organization
// share one KV read.
func (s *SnapshotStore) Load(ctx context.Context, organizationID string) (*catalog.Snapshot, error) {
	if organizationID == "" {
		return nil, fmt.Errorf("%w: empty organization id", authz.ErrMalformedInput)
	}
	key := constants.CatalogKeyPrefix + organizationID
	// The load is shared by every caller waiting on the key, so it must not
	// end when the first caller gives up.
	loadCtx := context.WithoutCancel(ctx)
	resultChan := s.group.DoChan(key, func() (interface{}, error) {
		return s.load(loadCtx, organizationID, key)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Err
		}
		//nolint:errcheck // load only returns snapshots
		return res.Val.(*catalog.Snapshot), nil
	}
}

func (s *SnapshotStore) load(ctx context.Context, organizationID, key string) (*catalog.Snapshot, error) {
	entry, err := s.bucket.Get(ctx, key)
	switch {
	case errors.Is(err, jetstream.ErrKeyNotFound):
		return nil, fmt.Errorf("catalog of organization %s: %w", organizationID, authz.ErrNotFound)
	case err != nil:
		return nil, err
	}

	cacheKey := snapshotKey{organizationID: organizationID, revision: entry.Revision()}
	if snapshot, ok := s.cache.Get(cacheKey); ok {
		snapshotCacheHits.Inc()
		return snapshot, nil
	}
	snapshotCacheMisses.Inc()

	snapshot, err := catalog.ParseJSON(entry.Value(), entry.Revision())
	if err != nil {
		return nil, err
	}
	if snapshot.Organization().ID != organizationID {
		return nil, fmt.Errorf("catalog key %s holds organization %s", key, snapshot.Organization().ID)
	}
	s.cache.Add(cacheKey, snapshot)

	logger.With("organization", organizationID, "revision", entry.Revision()).
		DebugContext(ctx, "decoded catalog snapshot")
	return snapshot, nil
}

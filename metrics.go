// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The access-sync service.
package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	accessChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "access_sync_checks_total",
		Help: "Number of access checks answered, by result.",
	}, []string{"result"})
	permissionUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "access_sync_permission_updates_total",
		Help: "Number of permission updates handled, by resource kind and status.",
	}, []string{"kind", "status"})
	accessChangesPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "access_sync_changes_published_total",
		Help: "Number of access changes published to users.",
	})
	snapshotCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "access_sync_snapshot_cache_hits_total",
		Help: "Number of catalog loads served from the decoded snapshot cache.",
	})
	snapshotCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "access_sync_snapshot_cache_misses_total",
		Help: "Number of catalog loads that decoded a new snapshot revision.",
	})
	tupleWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "access_sync_fga_tuple_writes_total",
		Help: "Number of tuples written to OpenFGA.",
	})
	tupleDeletes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "access_sync_fga_tuple_deletes_total",
		Help: "Number of tuples deleted from OpenFGA.",
	})
)

func init() {
	prometheus.MustRegister(
		accessChecks,
		permissionUpdates,
		accessChangesPublished,
		snapshotCacheHits,
		snapshotCacheMisses,
		tupleWrites,
		tupleDeletes,
	)
}

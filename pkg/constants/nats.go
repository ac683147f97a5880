// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package constants

// NATS Key-Value store bucket names.
const (
	// KVBucketNameCatalog is the name of the KV bucket holding the catalog
	// snapshot of each organization.
	KVBucketNameCatalog = "access-sync-catalog"

	// CatalogKeyPrefix prefixes the catalog snapshot keys.
	// The key is of the form: catalog.<organization>
	CatalogKeyPrefix = "catalog."
)

// NATS subjects that the access sync service handles messages about.
const (
	// AccessCheckSubject is the subject for the access check request.
	// The subject is of the form: lfx.access_check.request
	AccessCheckSubject = "lfx.access_check.request"

	// UpdateAccessSubjectPrefix prefixes the permission update subjects. The
	// resource kind follows the prefix.
	UpdateAccessSubjectPrefix = "lfx.update_access."

	// OrganizationUpdateAccessSubject is the subject for organization permission updates.
	// The subject is of the form: lfx.update_access.organization
	OrganizationUpdateAccessSubject = UpdateAccessSubjectPrefix + "organization"

	// ProjectUpdateAccessSubject is the subject for project permission updates.
	// The subject is of the form: lfx.update_access.project
	ProjectUpdateAccessSubject = UpdateAccessSubjectPrefix + "project"

	// CollectionUpdateAccessSubject is the subject for collection permission updates.
	// The subject is of the form: lfx.update_access.collection
	CollectionUpdateAccessSubject = UpdateAccessSubjectPrefix + "collection"

	// LinkTypeUpdateAccessSubject is the subject for link type permission updates.
	// The subject is of the form: lfx.update_access.link_type
	LinkTypeUpdateAccessSubject = UpdateAccessSubjectPrefix + "link_type"

	// ViewUpdateAccessSubject is the subject for view permission updates.
	// The subject is of the form: lfx.update_access.view
	ViewUpdateAccessSubject = UpdateAccessSubjectPrefix + "view"

	// AccessChangedSubjectPrefix prefixes the per-user subjects on which
	// access changes are published.
	// The subject is of the form: lfx.access_changed.user.<user>
	AccessChangedSubjectPrefix = "lfx.access_changed.user."
)

// NATS queue subjects that the access sync service handles messages about.
const (
	// AccessSyncQueue is the subject name for the access sync.
	// The subject is of the form: lfx.access-sync.queue
	AccessSyncQueue = "lfx.access-sync.queue"
)

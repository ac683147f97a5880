// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The access-sync service.
package main

import (
	"context"
	"sort"

	openfga "github.com/openfga/go-sdk"

	. "github.com/openfga/go-sdk/client"

	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/constants"
	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/model"
)

// Note: all OpenFGA SDK calls are kept in the same file due to the namespace
// pollution which is the recommended way of using this SDK.

// FgaService mirrors resource permissions to OpenFGA as direct tuples.
type FgaService struct {
	client IFgaClient
}

// connectFga creates the OpenFGA client. This service does not use or
// support authentication.
func connectFga(cfg *Config) (IFgaClient, error) {
	fgaClient, err := NewSdkClient(&ClientConfiguration{
		ApiUrl:               cfg.FgaAPIURL,
		StoreId:              cfg.FgaStoreID,
		AuthorizationModelId: cfg.FgaModelID,
	})
	if err != nil {
		return nil, err
	}
	return FgaAdapter{OpenFgaClient: *fgaClient}, nil
}

// NewTupleKeySlice abstracts the creation of a ClientTupleKey slice.
func (s FgaService) NewTupleKeySlice(size int) []ClientTupleKey {
	// Preallocate our slice to avoid extra allocations.
	slice := make([]ClientTupleKey, 0, size)
	return slice
}

// TupleKey abstracts the creation of a ClientTupleKey.
func (s FgaService) TupleKey(user, relation, object string) ClientTupleKey {
	return ClientTupleKey{
		User:     user,
		Relation: relation,
		Object:   object,
	}
}

// ResourceTuples returns the desired tuples of a resource: its parent and one
// tuple per granted role. Group grants are written against the group's
// members.
func (s FgaService) ResourceTuples(object objectRef, resource model.Resource) []ClientTupleKey {
	permissions := resource.ResourcePermissions()
	tuples := s.NewTupleKeySlice(1 + len(permissions.Users) + len(permissions.Groups))
	target := object.String()

	switch object.Kind {
	case model.KindOrganization:
	case model.KindProject:
		parent := objectRef{Kind: model.KindOrganization, OrganizationID: object.OrganizationID, ID: object.OrganizationID}
		tuples = append(tuples, s.TupleKey(parent.String(), constants.RelationParent, target))
	default:
		parent := objectRef{Kind: model.KindProject, OrganizationID: object.OrganizationID, ID: object.ProjectID}
		tuples = append(tuples, s.TupleKey(parent.String(), constants.RelationParent, target))
	}

	// Transitive grants only exist on organizations and projects.
	transitive := !object.Kind.InProject()
	relation := func(role model.Role) string {
		name := roleRelation(role.Type)
		if transitive && role.Transitive {
			name += constants.TransitiveRelationSuffix
		}
		return name
	}
	for _, permission := range permissions.Users {
		for _, role := range permission.Roles {
			tuples = append(tuples, s.TupleKey(constants.ObjectTypeUser+permission.ID, relation(role), target))
		}
	}
	for _, permission := range permissions.Groups {
		for _, role := range permission.Roles {
			member := constants.ObjectTypeGroup + permission.ID + "#" + constants.RelationMember
			tuples = append(tuples, s.TupleKey(member, relation(role), target))
		}
	}
	return tuples
}

// SyncResource mirrors the permissions of a resource.
func (s FgaService) SyncResource(ctx context.Context, object objectRef, resource model.Resource) ([]ClientTupleKey, []ClientTupleKeyWithoutCondition, error) {
	return s.SyncObjectTuples(ctx, object.String(), s.ResourceTuples(object, resource))
}

// ReadObjectTuples is a pagination helper to fetch all direct relationships (_no_
// transitive evaluations) defined against a given object.
func (s FgaService) ReadObjectTuples(ctx context.Context, object string) ([]openfga.Tuple, error) {
	req := ClientReadRequest{
		Object: openfga.PtrString(object),
	}
	options := ClientReadOptions{}
	var tuples []openfga.Tuple
	for {
		resp, err := s.client.Read(ctx, req, options)
		if err != nil {
			return nil, err
		}
		tuples = append(tuples, resp.Tuples...)
		if resp.ContinuationToken == "" {
			break
		}
		options.ContinuationToken = openfga.PtrString(resp.ContinuationToken)
	}

	return tuples, nil
}

func (s FgaService) getRelationsMap(object string, relations []ClientTupleKey) map[string]ClientTupleKey {
	// Convert the passed relationships into a map.
	relationsMap := make(map[string]ClientTupleKey)
	for _, relation := range relations {
		switch {
		case relation.Object == "":
			relation.Object = object
		case relation.Object != object:
			// Not expected to happen, but ensure this function only syncs
			// relationships for a single object at a time.
			continue
		}
		// OpenFGA uses a composite key for tuples of the form
		// "collection:o1/p1/c1#read@user:alice", so our "relation@user" map key
		// should be similarly safe (no need for content escaping).
		key := relation.Relation + "@" + relation.User
		relationsMap[key] = relation
	}

	return relationsMap
}

// SyncObjectTuples makes the direct tuples of object equal to relations and
// returns the tuples it wrote and deleted.
func (s FgaService) SyncObjectTuples(
	ctx context.Context,
	object string,
	relations []ClientTupleKey,
) (
	writes []ClientTupleKey,
	deletes []ClientTupleKeyWithoutCondition,
	err error,
) {
	relationsMap := s.getRelationsMap(object, relations)

	tuples, err := s.ReadObjectTuples(ctx, object)
	if err != nil {
		return nil, nil, err
	}

	// Iterate over the effective OpenFGA tuples and compare them against the
	// desired state of relationships passed as a function argument. Any matches
	// seen are removed from "map" version of the desired relationships. Any live
	// tuples not requested are added to the "deletes" list for the batch-write
	// request.
	for _, tuple := range tuples {
		// See comment on our map key format earlier in this function.
		key := tuple.Key.Relation + "@" + tuple.Key.User
		if _, match := relationsMap[key]; match {
			// Desired state matches current state.
			delete(relationsMap, key)
			continue
		}
		logger.With(
			"user", tuple.Key.User,
			"relation", tuple.Key.Relation,
			"object", object,
		).DebugContext(ctx, "will delete relation in batch write")
		deletes = append(deletes, ClientTupleKeyWithoutCondition{
			User:     tuple.Key.User,
			Relation: tuple.Key.Relation,
			Object:   object,
		})
	}

	// Any remaining relationships in the "map" version of the desired state are
	// new (not found in live OpenFGA) and therefore will be added to the "write"
	// list for the batch-write request.
	for _, relation := range relationsMap {
		logger.With(
			"user", relation.User,
			"relation", relation.Relation,
			"object", object,
		).DebugContext(ctx, "will add relation in batch write")
		writes = append(writes, relation)
	}

	// Escape early if there is nothing to write or delete.
	if len(writes) == 0 && len(deletes) == 0 {
		return writes, deletes, nil
	}

	// Map iteration order is random; keep the batch stable for logs and tests.
	sortTupleKeys(writes)

	req := ClientWriteRequest{
		Writes:  writes,
		Deletes: deletes,
	}

	_, err = s.client.Write(ctx, req)
	if err != nil {
		return writes, deletes, err
	}
	tupleWrites.Add(float64(len(writes)))
	tupleDeletes.Add(float64(len(deletes)))

	return writes, deletes, nil
}

func sortTupleKeys(keys []ClientTupleKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Relation != keys[j].Relation {
			return keys[i].Relation < keys[j].Relation
		}
		return keys[i].User < keys[j].User
	})
}

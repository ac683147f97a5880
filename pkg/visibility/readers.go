// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package visibility

import (
	"context"
	"sort"

	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/authz"
	"github.com/linuxfoundation/lfx-v2-access-sync/pkg/model"
)

// CollectionReaders returns the ids of the users who read the collection.
func (b *Builder) CollectionReaders(ctx context.Context, s *authz.Session, scope authz.Scope, collection *model.Collection) ([]string, error) {
	return b.readers(ctx, s, scope, collection)
}

// ViewReaders returns the ids of the users who may open the view.
func (b *Builder) ViewReaders(ctx context.Context, s *authz.Session, scope authz.Scope, view *model.View) ([]string, error) {
	return b.readers(ctx, s, scope, view)
}

// LinkTypeReaders returns the ids of the users who read the link type. For
// merge link types these are the users reading both endpoint collections.
func (b *Builder) LinkTypeReaders(ctx context.Context, s *authz.Session, scope authz.Scope, linkType *model.LinkType) ([]string, error) {
	if !linkType.IsMerge() {
		return b.readers(ctx, s, scope, linkType)
	}
	var readers map[string]struct{}
	for _, id := range linkType.CollectionIDs {
		collection, err := s.Collection(ctx, id)
		if err != nil {
			return nil, referenceError(err, model.KindCollection, id, linkType.ID)
		}
		ids, err := b.readers(ctx, s, scope, collection)
		if err != nil {
			return nil, err
		}
		next := toSet(ids)
		if readers == nil {
			readers = next
			continue
		}
		for id := range readers {
			if _, ok := next[id]; !ok {
				delete(readers, id)
			}
		}
	}
	return sortedKeys(readers), nil
}

// DocumentReaders returns the readers of the collection together with the
// users assigned to the document.
func (b *Builder) DocumentReaders(ctx context.Context, s *authz.Session, scope authz.Scope, collection *model.Collection, document *model.Document) ([]string, error) {
	ids, err := b.readers(ctx, s, scope, collection)
	if err != nil {
		return nil, err
	}
	readers := toSet(ids)
	if emails := model.AssigneeEmails(collection, document); len(emails) > 0 {
		assignees, err := s.Directory().UsersByEmails(ctx, emails)
		if err != nil {
			return nil, err
		}
		for _, user := range assignees {
			readers[user.ID] = struct{}{}
		}
	}
	return sortedKeys(readers), nil
}

func (b *Builder) readers(ctx context.Context, s *authz.Session, scope authz.Scope, resource model.Resource) ([]string, error) {
	var ids []string
	err := withoutView(s, func() error {
		var err error
		ids, err = b.resolver.UsersByRole(ctx, s, scope, resource, model.RoleRead)
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

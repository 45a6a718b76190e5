/*
registry.go - Item and staff records on the document store

PURPOSE:
  Plain reads/writes for the item and staff collections. Item creation and
  staff management are administrative operations; custody state is mutated
  only by the engine. Items are never deleted here.

SEE ALSO:
  - engine.go: The only custody mutator
  - cache.go:  Read-through snapshot over these collections
*/
package custody

import (
	"context"
	"errors"
	"sort"

	"github.com/warp/toolroom/docstore"
)

// Registry reads and writes item/staff records.
type Registry struct {
	Store docstore.Store
}

func NewRegistry(store docstore.Store) *Registry {
	return &Registry{Store: store}
}

// =============================================================================
// ITEMS
// =============================================================================

// PutItem creates or replaces an item record. Custody fields are persisted
// as given; callers creating new items should leave them zero.
func (r *Registry) PutItem(ctx context.Context, item *Item) error {
	if item.Kind == KindTool && item.Status == "" {
		item.Status = StatusAvailable
	}
	return r.Store.Set(ctx, ItemRef(item.ID), itemToDoc(item), false)
}

func (r *Registry) GetItem(ctx context.Context, itemID string) (*Item, error) {
	doc, err := r.Store.Get(ctx, ItemRef(itemID))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return itemFromDoc(doc), nil
}

// GetItemByUniqueID resolves a scanned code (e.g. "T1234") to an item.
func (r *Registry) GetItemByUniqueID(ctx context.Context, uniqueID string) (*Item, error) {
	items, err := r.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.UniqueID == uniqueID {
			return item, nil
		}
	}
	return nil, ErrItemNotFound
}

// ListItems returns all items ordered by unique id.
func (r *Registry) ListItems(ctx context.Context) ([]*Item, error) {
	docs, err := r.Store.List(ctx, CollectionItems)
	if err != nil {
		return nil, err
	}
	items := make([]*Item, 0, len(docs))
	for _, doc := range docs {
		items = append(items, itemFromDoc(doc))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UniqueID < items[j].UniqueID })
	return items, nil
}

// =============================================================================
// STAFF
// =============================================================================

func (r *Registry) PutStaff(ctx context.Context, s *Staff) error {
	return r.Store.Set(ctx, StaffRef(s.UID), staffToDoc(s), false)
}

func (r *Registry) GetStaff(ctx context.Context, uid string) (*Staff, error) {
	doc, err := r.Store.Get(ctx, StaffRef(uid))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrStaffNotFound
	}
	if err != nil {
		return nil, err
	}
	return staffFromDoc(doc), nil
}

// ListStaff returns all staff ordered by uid.
func (r *Registry) ListStaff(ctx context.Context) ([]*Staff, error) {
	docs, err := r.Store.List(ctx, CollectionStaff)
	if err != nil {
		return nil, err
	}
	staff := make([]*Staff, 0, len(docs))
	for _, doc := range docs {
		staff = append(staff, staffFromDoc(doc))
	}
	sort.Slice(staff, func(i, j int) bool { return staff[i].UID < staff[j].UID })
	return staff, nil
}

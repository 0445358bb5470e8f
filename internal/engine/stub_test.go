package engine

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/remote"
)

// stubStore is a remote.Store with injectable behavior per call. Unset
// calls answer like an empty, healthy backend.
type stubStore struct {
	add    func(ctx context.Context, req remote.AddRequest) ([]*memory.Memory, error)
	search func(ctx context.Context, userID, query string, limit int) ([]*memory.Memory, error)
	list   func(ctx context.Context, userID string, limit, offset int) ([]*memory.Memory, int, error)
	get    func(ctx context.Context, userID, id string) (*memory.Memory, error)
	del    func(ctx context.Context, userID, id string) error
}

func (s *stubStore) Add(ctx context.Context, req remote.AddRequest) ([]*memory.Memory, error) {
	if s.add != nil {
		return s.add(ctx, req)
	}
	return nil, nil
}

func (s *stubStore) Search(ctx context.Context, userID, query string, limit int) ([]*memory.Memory, error) {
	if s.search != nil {
		return s.search(ctx, userID, query, limit)
	}
	return nil, nil
}

func (s *stubStore) List(ctx context.Context, userID string, limit, offset int) ([]*memory.Memory, int, error) {
	if s.list != nil {
		return s.list(ctx, userID, limit, offset)
	}
	return nil, 0, nil
}

func (s *stubStore) Get(ctx context.Context, userID, id string) (*memory.Memory, error) {
	if s.get != nil {
		return s.get(ctx, userID, id)
	}
	return nil, fmt.Errorf("%w: %s", memory.ErrNotFound, id)
}

func (s *stubStore) Delete(ctx context.Context, userID, id string) error {
	if s.del != nil {
		return s.del(ctx, userID, id)
	}
	return nil
}

var _ remote.Store = (*stubStore)(nil)

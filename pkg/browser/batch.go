package browser

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/entrhq/veil/pkg/types"
)

// DefaultBatchLimit caps how many profiles may be mid-launch at once.
const DefaultBatchLimit = 3

// LaunchMany launches profiles with at most limit launches in flight and
// returns each profile's result keyed by id. A repeated id is launched
// once. Order across profiles is not guaranteed.
func (m *SessionManager) LaunchMany(ctx context.Context, profiles []*types.Profile, limit int) map[string]bool {
	results := make(map[string]bool, len(profiles))
	var mu sync.Mutex

	seen := make(map[string]struct{}, len(profiles))
	g := fanOut(limit)
	for _, p := range profiles {
		if p == nil {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		g.Go(func() error {
			ok := ctx.Err() == nil && m.Launch(ctx, p)
			mu.Lock()
			results[p.ID] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// StopMany stops ids with at most limit stops in flight. A repeated id
// is stopped once.
func (m *SessionManager) StopMany(ctx context.Context, ids []string, limit int) map[string]bool {
	results := make(map[string]bool, len(ids))
	var mu sync.Mutex

	seen := make(map[string]struct{}, len(ids))
	g := fanOut(limit)
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		g.Go(func() error {
			ok := m.Stop(ctx, id)
			mu.Lock()
			results[id] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func fanOut(limit int) *errgroup.Group {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	g := new(errgroup.Group)
	g.SetLimit(limit)
	return g
}

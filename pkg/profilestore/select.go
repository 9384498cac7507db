package profilestore

import (
	"context"
	"fmt"

	"github.com/gobwas/glob"

	"github.com/entrhq/veil/pkg/types"
)

// Select resolves selectors to profiles. A selector matches a profile
// whose id equals it exactly, otherwise it is a glob over profile names.
// Each profile appears once, in store order. A selector that matches
// nothing is an error.
func (s *Store) Select(ctx context.Context, selectors ...string) ([]*types.Profile, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []*types.Profile
	add := func(p *types.Profile) {
		if !seen[p.ID] {
			seen[p.ID] = true
			out = append(out, p)
		}
	}

	for _, sel := range selectors {
		matched := false
		for _, p := range all {
			if p.ID == sel {
				add(p)
				matched = true
			}
		}
		if matched {
			continue
		}

		g, err := glob.Compile(sel)
		if err != nil {
			return nil, fmt.Errorf("invalid selector %q: %w", sel, err)
		}
		for _, p := range all {
			if g.Match(p.Name) {
				add(p)
				matched = true
			}
		}
		if !matched {
			return nil, fmt.Errorf("%w: no profile matches %q", ErrNotFound, sel)
		}
	}
	return out, nil
}

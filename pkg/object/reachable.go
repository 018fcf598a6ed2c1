package object

import "fmt"

// ReachableSet returns every object hash reachable from roots by following
// commit trees, commit parents and tree entries. A missing or unreadable
// object is an error: the set is used to verify repository integrity.
func (s *Store) ReachableSet(roots []Hash) (map[Hash]struct{}, error) {
	seen := make(map[Hash]struct{}, len(roots))
	pending := make([]Hash, 0, len(roots))
	for _, h := range roots {
		if h != "" {
			pending = append(pending, h)
		}
	}

	for len(pending) > 0 {
		h := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		if h == EmptyTreeHash {
			continue
		}

		typ, data, err := s.Read(h)
		if err != nil {
			return nil, fmt.Errorf("reachable set: %w", err)
		}
		switch typ {
		case TypeBlob:
		case TypeCommit:
			c, err := UnmarshalCommit(data)
			if err != nil {
				return nil, fmt.Errorf("reachable set: commit %s: %w", h.Short(), err)
			}
			pending = append(pending, c.TreeHash)
			pending = append(pending, c.Parents...)
		case TypeTree:
			t, err := UnmarshalTree(data)
			if err != nil {
				return nil, fmt.Errorf("reachable set: tree %s: %w", h.Short(), err)
			}
			for _, e := range t.Entries {
				pending = append(pending, e.Hash)
			}
		default:
			return nil, fmt.Errorf("reachable set: %s has unsupported type %q", h.Short(), typ)
		}
	}
	return seen, nil
}

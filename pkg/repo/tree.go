package repo

import (
	"fmt"
	"sort"
	"strings"

	"github.com/odvcencio/gotd/pkg/object"
)

// TreeFileEntry represents a single file in a flattened tree.
type TreeFileEntry struct {
	Path string
	Hash object.Hash
	Mode string
}

// CleanPath validates a repository-relative file path and returns it in
// canonical slash form.
func CleanPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", ErrFilePathRequired
	}
	if strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return "", pathError(p, ErrInvalidPath)
	}
	if strings.ContainsAny(p, "\x00\t\n\r") {
		return "", pathError(p, ErrInvalidPath)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", pathError(p, ErrInvalidPath)
		}
	}
	return p, nil
}

// pathChange is one write or delete addressed by path segments.
type pathChange struct {
	path   string
	segs   []string
	blob   object.Hash
	delete bool
}

// applyChanges rewrites root with the given changes and returns the new
// root hash. Only trees on the path of a change are rewritten; every other
// subtree keeps its hash. Directories emptied by deletes are dropped.
func (r *Repo) applyChanges(root object.Hash, changes []pathChange) (object.Hash, error) {
	return r.rewriteTree(root, changes, "")
}

func (r *Repo) rewriteTree(h object.Hash, changes []pathChange, prefix string) (object.Hash, error) {
	tr, err := r.Store.ReadTree(h)
	if err != nil {
		return "", fmt.Errorf("read tree %s: %w", h.Short(), err)
	}
	entries := make(map[string]object.TreeEntry, len(tr.Entries))
	for _, e := range tr.Entries {
		entries[e.Name] = e
	}

	leaves := make(map[string]pathChange)
	nested := make(map[string][]pathChange)
	var names []string
	for _, c := range changes {
		name := c.segs[0]
		if _, seen := leaves[name]; !seen && nested[name] == nil {
			names = append(names, name)
		}
		if len(c.segs) == 1 {
			leaves[name] = c
			continue
		}
		nested[name] = append(nested[name], pathChange{path: c.path, segs: c.segs[1:], blob: c.blob, delete: c.delete})
	}
	sort.Strings(names)

	for _, name := range names {
		full := joinPath(prefix, name)
		existing, exists := entries[name]
		leaf, hasLeaf := leaves[name]
		sub := nested[name]

		if hasLeaf {
			if leaf.delete {
				if !exists {
					return "", pathError(full, ErrFileNotFound)
				}
				delete(entries, name)
				exists = false
			} else {
				if len(sub) > 0 || exists && existing.IsDir {
					return "", pathError(full, ErrInvalidPath)
				}
				mode := object.TreeModeFile
				if exists && existing.Mode != "" {
					mode = existing.Mode
				}
				entries[name] = object.TreeEntry{Name: name, Mode: mode, Hash: leaf.blob}
				continue
			}
		}
		if len(sub) == 0 {
			continue
		}

		base := object.EmptyTreeHash
		if exists {
			if !existing.IsDir {
				return "", pathError(full, ErrInvalidPath)
			}
			base = existing.Hash
		}
		subHash, err := r.rewriteTree(base, sub, full)
		if err != nil {
			return "", err
		}
		if subHash == object.EmptyTreeHash {
			delete(entries, name)
			continue
		}
		entries[name] = object.TreeEntry{Name: name, IsDir: true, Mode: object.TreeModeDir, Hash: subHash}
	}

	out := &object.TreeObj{Entries: make([]object.TreeEntry, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, e)
	}
	sort.Slice(out.Entries, func(i, j int) bool { return out.Entries[i].Name < out.Entries[j].Name })
	nh, err := r.Store.WriteTree(out)
	if err != nil {
		return "", fmt.Errorf("write tree (prefix=%q): %w", prefix, err)
	}
	return nh, nil
}

// buildTree converts a flat path → entry map into a hierarchical tree,
// writing every tree object and returning the root hash.
func (r *Repo) buildTree(files map[string]TreeFileEntry) (object.Hash, error) {
	return r.buildTreeDir(files, "")
}

func (r *Repo) buildTreeDir(files map[string]TreeFileEntry, prefix string) (object.Hash, error) {
	direct := make(map[string]TreeFileEntry)
	subdirs := make(map[string]struct{})

	for p, entry := range files {
		var rel string
		if prefix == "" {
			rel = p
		} else {
			if !strings.HasPrefix(p, prefix+"/") {
				continue
			}
			rel = p[len(prefix)+1:]
		}

		if slash := strings.IndexByte(rel, '/'); slash < 0 {
			direct[rel] = entry
		} else {
			subdirs[rel[:slash]] = struct{}{}
		}
	}

	var entries []object.TreeEntry
	for name, entry := range direct {
		if _, clash := subdirs[name]; clash {
			return "", pathError(joinPath(prefix, name), ErrInvalidPath)
		}
		mode := entry.Mode
		if mode == "" {
			mode = object.TreeModeFile
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: mode, Hash: entry.Hash})
	}
	for name := range subdirs {
		childPrefix := joinPath(prefix, name)
		subHash, err := r.buildTreeDir(files, childPrefix)
		if err != nil {
			return "", err
		}
		entries = append(entries, object.TreeEntry{Name: name, IsDir: true, Mode: object.TreeModeDir, Hash: subHash})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	h, err := r.Store.WriteTree(&object.TreeObj{Entries: entries})
	if err != nil {
		return "", fmt.Errorf("write tree (prefix=%q): %w", prefix, err)
	}
	return h, nil
}

// FlattenTree walks a tree object recursively, returning all file entries
// with their full slash-separated paths.
func (r *Repo) FlattenTree(h object.Hash) ([]TreeFileEntry, error) {
	return r.flattenTreeRec(h, "")
}

func (r *Repo) flattenTreeRec(h object.Hash, prefix string) ([]TreeFileEntry, error) {
	treeObj, err := r.Store.ReadTree(h)
	if err != nil {
		return nil, fmt.Errorf("flatten tree: read %s: %w", h.Short(), err)
	}

	var result []TreeFileEntry
	for _, entry := range treeObj.Entries {
		fullPath := entry.Name
		if prefix != "" {
			fullPath = joinPath(prefix, entry.Name)
		}
		if entry.IsDir {
			sub, err := r.flattenTreeRec(entry.Hash, fullPath)
			if err != nil {
				return nil, err
			}
			result = append(result, sub...)
			continue
		}
		result = append(result, TreeFileEntry{Path: fullPath, Hash: entry.Hash, Mode: entry.Mode})
	}
	return result, nil
}

func (r *Repo) flattenMap(treeHash object.Hash) (map[string]TreeFileEntry, error) {
	files, err := r.FlattenTree(treeHash)
	if err != nil {
		return nil, err
	}
	out := make(map[string]TreeFileEntry, len(files))
	for _, f := range files {
		out[f.Path] = f
	}
	return out, nil
}

// fileEntryAtPath walks relPath through nested trees. It reports false when
// a segment is missing or the leaf is a directory.
func (r *Repo) fileEntryAtPath(treeHash object.Hash, relPath string) (object.TreeEntry, bool, error) {
	parts := strings.Split(relPath, "/")
	current := treeHash

	for i, part := range parts {
		treeObj, err := r.Store.ReadTree(current)
		if err != nil {
			return object.TreeEntry{}, false, fmt.Errorf("read tree %s: %w", current.Short(), err)
		}
		entry, found := treeObj.Lookup(part)
		if !found {
			return object.TreeEntry{}, false, nil
		}
		if i == len(parts)-1 {
			if entry.IsDir {
				return object.TreeEntry{}, false, nil
			}
			return entry, true, nil
		}
		if !entry.IsDir {
			return object.TreeEntry{}, false, nil
		}
		current = entry.Hash
	}
	return object.TreeEntry{}, false, nil
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

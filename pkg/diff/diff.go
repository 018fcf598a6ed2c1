// Package diff compares two tree snapshots and reports per-file changes with
// line statistics, rename detection and unified patch text.
package diff

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/odvcencio/gotd/pkg/lines"
	"github.com/odvcencio/gotd/pkg/object"
	"github.com/pmezard/go-difflib/difflib"
)

// Status classifies what happened to a file between two trees.
type Status int

const (
	Added    Status = iota // File exists only in the new tree.
	Deleted                // File exists only in the old tree.
	Modified               // File exists in both trees with different content.
	Renamed                // File moved, possibly with edits.
)

func (s Status) String() string {
	switch s {
	case Added:
		return "Added"
	case Deleted:
		return "Deleted"
	case Modified:
		return "Modified"
	case Renamed:
		return "Renamed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

const (
	// DefaultRenameThreshold is the minimum line similarity, in percent,
	// for a deleted/added pair to be reported as a rename.
	DefaultRenameThreshold = 50
	// DefaultContextLines is the number of unchanged lines around each hunk.
	DefaultContextLines = 3

	// binarySniffLen bounds the prefix scanned for NUL bytes.
	binarySniffLen = 8000
	// maxRenamePairs caps similarity scoring; beyond it only exact
	// renames are detected.
	maxRenamePairs = 100 * 100
)

// Options tunes tree comparison. Zero values select the defaults.
type Options struct {
	RenameThreshold int
	ContextLines    int
	NoRenames       bool
}

func (o Options) withDefaults() Options {
	if o.RenameThreshold <= 0 || o.RenameThreshold > 100 {
		o.RenameThreshold = DefaultRenameThreshold
	}
	if o.ContextLines <= 0 {
		o.ContextLines = DefaultContextLines
	}
	return o
}

// Entry describes one changed file.
type Entry struct {
	OldPath      string
	NewPath      string
	Status       Status
	LinesAdded   int
	LinesDeleted int
	Patch        string
	OldHash      object.Hash
	NewHash      object.Hash
	Similarity   int // Renamed only
	Binary       bool
}

// Path returns the path the entry is reported under.
func (e Entry) Path() string {
	if e.NewPath != "" {
		return e.NewPath
	}
	return e.OldPath
}

// Result is the full comparison of two trees.
type Result struct {
	Entries      []Entry // sorted by Path()
	FilesChanged int
	LinesAdded   int
	LinesDeleted int
}

// Paths returns the reported path of every entry.
func (r *Result) Paths() []string {
	out := make([]string, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = e.Path()
	}
	return out
}

// Reader is the object access Trees needs.
type Reader interface {
	ReadTree(h object.Hash) (*object.TreeObj, error)
	ReadBlob(h object.Hash) (*object.Blob, error)
}

// fileChange is a raw path-level difference before rename pairing.
type fileChange struct {
	path    string
	oldHash object.Hash
	newHash object.Hash
}

// Trees compares oldTree against newTree. An empty hash stands for the
// empty tree. Subtrees with identical hashes are skipped without reading.
func Trees(r Reader, oldTree, newTree object.Hash, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	var changes []fileChange
	if err := walk(r, normalize(oldTree), normalize(newTree), "", &changes); err != nil {
		return nil, err
	}

	var modified, deleted, added []fileChange
	for _, c := range changes {
		switch {
		case c.oldHash == "":
			added = append(added, c)
		case c.newHash == "":
			deleted = append(deleted, c)
		default:
			modified = append(modified, c)
		}
	}

	blobs := &blobCache{r: r, data: make(map[object.Hash][]byte)}
	var renames []renamePair
	if !opts.NoRenames && len(deleted) > 0 && len(added) > 0 {
		var err error
		renames, deleted, added, err = detectRenames(blobs, deleted, added, opts.RenameThreshold)
		if err != nil {
			return nil, err
		}
	}

	res := &Result{}
	emit := func(e Entry, oldHash, newHash object.Hash) error {
		if err := fillContent(blobs, &e, oldHash, newHash, opts.ContextLines); err != nil {
			return err
		}
		res.Entries = append(res.Entries, e)
		return nil
	}
	for _, c := range modified {
		e := Entry{OldPath: c.path, NewPath: c.path, Status: Modified, OldHash: c.oldHash, NewHash: c.newHash}
		if err := emit(e, c.oldHash, c.newHash); err != nil {
			return nil, err
		}
	}
	for _, c := range added {
		if err := emit(Entry{NewPath: c.path, Status: Added, NewHash: c.newHash}, "", c.newHash); err != nil {
			return nil, err
		}
	}
	for _, c := range deleted {
		if err := emit(Entry{OldPath: c.path, Status: Deleted, OldHash: c.oldHash}, c.oldHash, ""); err != nil {
			return nil, err
		}
	}
	for _, p := range renames {
		e := Entry{
			OldPath:    p.from.path,
			NewPath:    p.to.path,
			Status:     Renamed,
			OldHash:    p.from.oldHash,
			NewHash:    p.to.newHash,
			Similarity: p.similarity,
		}
		if err := emit(e, p.from.oldHash, p.to.newHash); err != nil {
			return nil, err
		}
	}

	sort.Slice(res.Entries, func(i, j int) bool {
		pi, pj := res.Entries[i].Path(), res.Entries[j].Path()
		if pi != pj {
			return pi < pj
		}
		return res.Entries[i].Status < res.Entries[j].Status
	})
	res.FilesChanged = len(res.Entries)
	for _, e := range res.Entries {
		res.LinesAdded += e.LinesAdded
		res.LinesDeleted += e.LinesDeleted
	}
	return res, nil
}

func normalize(h object.Hash) object.Hash {
	if h == "" {
		return object.EmptyTreeHash
	}
	return h
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// walk merge-joins two trees by entry name, recursing into subtrees whose
// hashes differ.
func walk(r Reader, oldH, newH object.Hash, prefix string, out *[]fileChange) error {
	if oldH == newH {
		return nil
	}
	oldT, err := r.ReadTree(oldH)
	if err != nil {
		return fmt.Errorf("diff: read tree %s: %w", oldH.Short(), err)
	}
	newT, err := r.ReadTree(newH)
	if err != nil {
		return fmt.Errorf("diff: read tree %s: %w", newH.Short(), err)
	}

	oldEntries := sortedEntries(oldT)
	newEntries := sortedEntries(newT)
	i, j := 0, 0
	for i < len(oldEntries) || j < len(newEntries) {
		switch {
		case j >= len(newEntries) || (i < len(oldEntries) && oldEntries[i].Name < newEntries[j].Name):
			if err := removed(r, oldEntries[i], prefix, out); err != nil {
				return err
			}
			i++
		case i >= len(oldEntries) || newEntries[j].Name < oldEntries[i].Name:
			if err := inserted(r, newEntries[j], prefix, out); err != nil {
				return err
			}
			j++
		default:
			o, n := oldEntries[i], newEntries[j]
			p := joinPath(prefix, o.Name)
			switch {
			case o.IsDir && n.IsDir:
				if err := walk(r, o.Hash, n.Hash, p, out); err != nil {
					return err
				}
			case !o.IsDir && !n.IsDir:
				if o.Hash != n.Hash || o.Mode != n.Mode {
					*out = append(*out, fileChange{path: p, oldHash: o.Hash, newHash: n.Hash})
				}
			default:
				if err := removed(r, o, prefix, out); err != nil {
					return err
				}
				if err := inserted(r, n, prefix, out); err != nil {
					return err
				}
			}
			i++
			j++
		}
	}
	return nil
}

func removed(r Reader, e object.TreeEntry, prefix string, out *[]fileChange) error {
	p := joinPath(prefix, e.Name)
	if e.IsDir {
		return walk(r, e.Hash, object.EmptyTreeHash, p, out)
	}
	*out = append(*out, fileChange{path: p, oldHash: e.Hash})
	return nil
}

func inserted(r Reader, e object.TreeEntry, prefix string, out *[]fileChange) error {
	p := joinPath(prefix, e.Name)
	if e.IsDir {
		return walk(r, object.EmptyTreeHash, e.Hash, p, out)
	}
	*out = append(*out, fileChange{path: p, newHash: e.Hash})
	return nil
}

func sortedEntries(t *object.TreeObj) []object.TreeEntry {
	out := make([]object.TreeEntry, len(t.Entries))
	copy(out, t.Entries)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type blobCache struct {
	r    Reader
	data map[object.Hash][]byte
}

func (c *blobCache) get(h object.Hash) ([]byte, error) {
	if h == "" {
		return nil, nil
	}
	if d, ok := c.data[h]; ok {
		return d, nil
	}
	b, err := c.r.ReadBlob(h)
	if err != nil {
		return nil, fmt.Errorf("diff: read blob %s: %w", h.Short(), err)
	}
	c.data[h] = b.Data
	return b.Data, nil
}

func isBinary(data []byte) bool {
	if len(data) > binarySniffLen {
		data = data[:binarySniffLen]
	}
	return bytes.IndexByte(data, 0) >= 0
}

// fillContent computes line counts and patch text for e.
func fillContent(blobs *blobCache, e *Entry, oldHash, newHash object.Hash, context int) error {
	oldData, err := blobs.get(oldHash)
	if err != nil {
		return err
	}
	newData, err := blobs.get(newHash)
	if err != nil {
		return err
	}
	if isBinary(oldData) || isBinary(newData) {
		e.Binary = true
		if oldHash != newHash {
			e.Patch = "Binary files differ\n"
		}
		return nil
	}
	if oldHash == newHash {
		return nil
	}
	e.LinesAdded, e.LinesDeleted = lines.Stats(oldData, newData)

	from, to := "/dev/null", "/dev/null"
	if e.OldPath != "" {
		from = "a/" + e.OldPath
	}
	if e.NewPath != "" {
		to = "b/" + e.NewPath
	}
	patch, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        patchLines(oldData),
		B:        patchLines(newData),
		FromFile: from,
		ToFile:   to,
		Context:  context,
	})
	if err != nil {
		return fmt.Errorf("diff: patch %s: %w", e.Path(), err)
	}
	e.Patch = patch
	return nil
}

// patchLines splits data for difflib, which expects newline-terminated
// lines. A missing final newline is marked the way git marks it.
func patchLines(data []byte) []string {
	ls := lines.Split(data)
	if n := len(ls); n > 0 && !strings.HasSuffix(ls[n-1], "\n") {
		ls[n-1] += "\n\\ No newline at end of file\n"
	}
	return ls
}

package lines

import (
	"bytes"
	"strings"
)

// MergeResult holds the outcome of a three-way merge.
type MergeResult struct {
	// Merged is the combined content, with conflict markers around every
	// region both sides changed differently.
	Merged []byte
	// Conflicts counts the conflicting regions.
	Conflicts int
}

// Clean reports whether the merge produced no conflicts.
func (r MergeResult) Clean() bool { return r.Conflicts == 0 }

// hunk is a changed region of base: lines [start, end) are replaced by
// lines. Pure insertions have start == end.
type hunk struct {
	start, end int
	lines      []string
}

// hunks converts the edit script base → side into its changed regions.
func hunks(base, side []string) []hunk {
	var out []hunk
	pos := 0
	ops := Diff(base, side)
	for i := 0; i < len(ops); {
		if ops[i].Op == Equal {
			pos++
			i++
			continue
		}
		h := hunk{start: pos}
		for i < len(ops) && ops[i].Op != Equal {
			if ops[i].Op == Delete {
				pos++
			} else {
				h.lines = append(h.lines, ops[i].Text)
			}
			i++
		}
		h.end = pos
		out = append(out, h)
	}
	return out
}

// Merge performs a three-way merge of base, ours and theirs. Hunks from the
// two sides that overlap or touch in base are grouped into one region. A
// region changed by one side takes that side; a region both sides changed
// identically takes the change; anything else is a conflict.
func Merge(base, ours, theirs []byte) MergeResult {
	baseLines := Split(base)
	oh := hunks(baseLines, Split(ours))
	th := hunks(baseLines, Split(theirs))

	var out bytes.Buffer
	var res MergeResult
	pos := 0
	i, j := 0, 0
	for i < len(oh) || j < len(th) {
		var oursRegion, theirsRegion []hunk
		var start, end int
		if j >= len(th) || (i < len(oh) && oh[i].start <= th[j].start) {
			start, end = oh[i].start, oh[i].end
			oursRegion = append(oursRegion, oh[i])
			i++
		} else {
			start, end = th[j].start, th[j].end
			theirsRegion = append(theirsRegion, th[j])
			j++
		}

		// Grow the region until neither side has a hunk touching it.
		for {
			grew := false
			if i < len(oh) && oh[i].start <= end {
				end = max(end, oh[i].end)
				oursRegion = append(oursRegion, oh[i])
				i++
				grew = true
			}
			if j < len(th) && th[j].start <= end {
				end = max(end, th[j].end)
				theirsRegion = append(theirsRegion, th[j])
				j++
				grew = true
			}
			if !grew {
				break
			}
		}

		writeLines(&out, baseLines[pos:start])
		oursOut := apply(baseLines, start, end, oursRegion)
		theirsOut := apply(baseLines, start, end, theirsRegion)
		switch {
		case len(theirsRegion) == 0:
			writeLines(&out, oursOut)
		case len(oursRegion) == 0:
			writeLines(&out, theirsOut)
		case equalLines(oursOut, theirsOut):
			writeLines(&out, oursOut)
		default:
			res.Conflicts++
			writeConflict(&out, oursOut, theirsOut)
		}
		pos = end
	}
	writeLines(&out, baseLines[pos:])

	res.Merged = out.Bytes()
	return res
}

// apply rebuilds base[start:end] with the given hunks applied.
func apply(base []string, start, end int, hs []hunk) []string {
	var out []string
	cursor := start
	for _, h := range hs {
		out = append(out, base[cursor:h.start]...)
		out = append(out, h.lines...)
		cursor = h.end
	}
	return append(out, base[cursor:end]...)
}

func writeLines(buf *bytes.Buffer, ls []string) {
	for _, l := range ls {
		buf.WriteString(l)
	}
}

func writeConflict(buf *bytes.Buffer, oursLines, theirsLines []string) {
	buf.WriteString("<<<<<<< ours\n")
	writeTerminated(buf, oursLines)
	buf.WriteString("=======\n")
	writeTerminated(buf, theirsLines)
	buf.WriteString(">>>>>>> theirs\n")
}

func writeTerminated(buf *bytes.Buffer, ls []string) {
	writeLines(buf, ls)
	if len(ls) > 0 && !strings.HasSuffix(ls[len(ls)-1], "\n") {
		buf.WriteByte('\n')
	}
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

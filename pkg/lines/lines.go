// Package lines implements line-oriented comparison of file contents:
// edit scripts, change statistics, similarity and three-way merge.
package lines

import "bytes"

// Split breaks data into lines, each keeping its trailing newline. A final
// line without a newline is kept as is. Empty input yields no lines.
func Split(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	out := make([]string, 0, bytes.Count(data, []byte{'\n'})+1)
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			out = append(out, string(data))
			break
		}
		out = append(out, string(data[:i+1]))
		data = data[i+1:]
	}
	return out
}

// Stats returns the number of lines added and deleted going from a to b.
func Stats(a, b []byte) (added, deleted int) {
	for _, e := range Diff(Split(a), Split(b)) {
		switch e.Op {
		case Insert:
			added++
		case Delete:
			deleted++
		}
	}
	return added, deleted
}

// Similarity returns how alike a and b are as a percentage: twice the
// number of shared lines over the total line count. Two empty inputs are
// identical.
func Similarity(a, b []byte) int {
	la, lb := Split(a), Split(b)
	total := len(la) + len(lb)
	if total == 0 {
		return 100
	}
	equal := 0
	for _, e := range Diff(la, lb) {
		if e.Op == Equal {
			equal++
		}
	}
	return 2 * equal * 100 / total
}

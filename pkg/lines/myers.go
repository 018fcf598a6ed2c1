package lines

// Op classifies a line in an edit script.
type Op int

const (
	Equal  Op = iota // Line is unchanged between a and b.
	Insert           // Line was inserted (present in b only).
	Delete           // Line was deleted (present in a only).
)

// Edit is a single operation in an edit script produced by Diff.
type Edit struct {
	Op   Op
	Text string
}

// Diff computes the shortest edit script that transforms a into b using
// the Myers algorithm over whole lines. It runs in O((N+M)*D) time where
// D is the size of the minimum edit script.
func Diff(a, b []string) []Edit {
	n := len(a)
	m := len(b)

	if n == 0 && m == 0 {
		return nil
	}
	if n == 0 {
		ops := make([]Edit, m)
		for i, line := range b {
			ops[i] = Edit{Op: Insert, Text: line}
		}
		return ops
	}
	if m == 0 {
		ops := make([]Edit, n)
		for i, line := range a {
			ops[i] = Edit{Op: Delete, Text: line}
		}
		return ops
	}

	max := n + m
	size := 2*max + 1
	v := make([]int, size)

	// trace[d] holds a snapshot of v after processing edit distance d.
	var trace [][]int

	for d := 0; d <= max; d++ {
		for k := -d; k <= d; k += 2 {
			idx := k + max
			var x int
			if k == -d || (k != d && v[idx-1] < v[idx+1]) {
				x = v[idx+1] // down: insert
			} else {
				x = v[idx-1] + 1 // right: delete
			}
			y := x - k

			// Follow the diagonal.
			for x < n && y < m && a[x] == b[y] {
				x++
				y++
			}
			v[idx] = x

			if x >= n && y >= m {
				snap := make([]int, size)
				copy(snap, v)
				trace = append(trace, snap)
				return backtrack(trace, a, b, d)
			}
		}

		snap := make([]int, size)
		copy(snap, v)
		trace = append(trace, snap)
	}

	return nil
}

// backtrack reconstructs the edit script from the trace of v snapshots.
func backtrack(trace [][]int, a, b []string, dFinal int) []Edit {
	max := len(a) + len(b)
	x := len(a)
	y := len(b)

	// Built in reverse.
	var ops []Edit

	for d := dFinal; d > 0; d-- {
		k := x - y
		vPrev := trace[d-1]

		var prevK int
		if k == -d || (k != d && vPrev[k-1+max] < vPrev[k+1+max]) {
			prevK = k + 1
		} else {
			prevK = k - 1
		}
		prevX := vPrev[prevK+max]
		prevY := prevX - prevK

		for x > prevX && y > prevY {
			x--
			y--
			ops = append(ops, Edit{Op: Equal, Text: a[x]})
		}

		if k == prevK+1 {
			x--
			ops = append(ops, Edit{Op: Delete, Text: a[x]})
		} else {
			y--
			ops = append(ops, Edit{Op: Insert, Text: b[y]})
		}
	}

	for x > 0 && y > 0 {
		x--
		y--
		ops = append(ops, Edit{Op: Equal, Text: a[x]})
	}

	for i, j := 0, len(ops)-1; i < j; i, j = i+1, j-1 {
		ops[i], ops[j] = ops[j], ops[i]
	}
	return ops
}

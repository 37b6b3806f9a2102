// Package window produces sliding windows over ordered slices.
package window

import "iter"

// Triple is one window position: Window holds n consecutive elements
// starting at Offset, Head everything before it and Tail everything after.
// The slices alias the input and must not be modified.
type Triple[T any] struct {
	Offset int
	Head   []T
	Window []T
	Tail   []T
}

// Slide yields one Triple per offset 0..len(s)-n in ascending order.
// It yields nothing when n <= 0 or len(s) < n. The sequence is restartable.
func Slide[T any](s []T, n int) iter.Seq[Triple[T]] {
	return func(yield func(Triple[T]) bool) {
		if n <= 0 || len(s) < n {
			return
		}
		for i := 0; i+n <= len(s); i++ {
			t := Triple[T]{
				Offset: i,
				Head:   s[:i:i],
				Window: s[i : i+n : i+n],
				Tail:   s[i+n:],
			}
			if !yield(t) {
				return
			}
		}
	}
}

// Collect drains Slide into a slice.
func Collect[T any](s []T, n int) []Triple[T] {
	var out []Triple[T]
	for t := range Slide(s, n) {
		out = append(out, t)
	}
	return out
}

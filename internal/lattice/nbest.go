package lattice

import "github.com/MrWong99/hintstream/pkg/fst"

// DefaultNbest is the default number of hypotheses extracted.
const DefaultNbest = 32

// Nbest returns up to k lowest-cost paths of lat in non-decreasing cost order.
// On a determinized lattice the paths have distinct word sequences. A
// non-positive k means [DefaultNbest].
func Nbest(lat *fst.Fst, k int) []fst.Path {
	if lat == nil {
		return nil
	}
	if k <= 0 {
		k = DefaultNbest
	}
	return fst.ShortestPaths(lat, k)
}

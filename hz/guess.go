package hz

import (
	"fmt"
	"slices"
	"strings"

	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/geom"
)

// Strategy selects how a bit pattern is synthesized from a box extent when
// the caller does not supply one.
type Strategy uint8

const (
	// GuessBalanced interleaves the larger dimensions first so that every
	// level is as isotropic as possible. It is the default.
	GuessBalanced Strategy = iota
	// GuessZFirst emits every bit of Z, then Y, then X.
	GuessZFirst
	// GuessYFirst emits every bit of Y, then Z, then X.
	GuessYFirst
	// GuessXFirst emits every bit of X, then Y, then Z.
	GuessXFirst
	// GuessMaxZYX halves the largest remaining dimension, ties to Z, Y, X.
	GuessMaxZYX
	// GuessMaxYXZ halves the largest remaining dimension, ties to Y, X, Z.
	GuessMaxYXZ
	// GuessMaxXZY halves the largest remaining dimension, ties to X, Z, Y.
	GuessMaxXZY
)

var strategyNames = []string{"balanced", "z", "y", "x", "max_zyx", "max_yxz", "max_xzy"}

func (s Strategy) String() string {
	if int(s) < len(strategyNames) {
		return strategyNames[s]
	}

	return fmt.Sprintf("Strategy(%d)", s)
}

// ParseStrategy parses a strategy name as returned by String.
func ParseStrategy(name string) (Strategy, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return GuessBalanced, true
	}

	i := slices.Index(strategyNames, name)
	if i < 0 {
		return 0, false
	}

	return Strategy(i), true
}

// dimension orders of the sequential and max-first strategies; dimensions
// above Z always follow in ascending order.
var strategyOrder = map[Strategy][]int{
	GuessZFirst: {2, 1, 0, 3, 4},
	GuessYFirst: {1, 2, 0, 3, 4},
	GuessXFirst: {0, 1, 2, 3, 4},
	GuessMaxZYX: {2, 1, 0, 3, 4},
	GuessMaxYXZ: {1, 0, 2, 3, 4},
	GuessMaxXZY: {0, 2, 1, 3, 4},
}

// Guess synthesizes a pattern addressing the power-of-two rounded extent of
// dims with the given strategy.
//
// Returns:
//   - Pattern: Guessed pattern; ValidateFor(dims) always succeeds on it
//   - error: errs.ErrInvalidBitPattern if the extent needs more than MaxBits
//     bits, or the strategy is unknown
func Guess(s Strategy, dims geom.Point) (Pattern, error) {
	pow2 := geom.Pow2Extent(dims)

	var str string
	switch s {
	case GuessBalanced:
		str = guessBalanced(pow2)
	case GuessZFirst, GuessYFirst, GuessXFirst:
		str = guessSequential(pow2, strategyOrder[s])
	case GuessMaxZYX, GuessMaxYXZ, GuessMaxXZY:
		str = guessMaxFirst(pow2, strategyOrder[s])
	default:
		return Pattern{}, fmt.Errorf("%w: unknown strategy %d", errs.ErrInvalidBitPattern, s)
	}

	return ParsePattern(str)
}

// GuessBitmaskPattern returns the balanced pattern for dims.
func GuessBitmaskPattern(dims geom.Point) (Pattern, error) {
	return Guess(GuessBalanced, dims)
}

// guessBalanced walks the dimensions from the smallest extent up. While the
// running extent is below the current dimension's extent, it emits one bit
// for every dimension at least that large, in descending dimension order.
// The emitted sequence runs finest to coarsest and is reversed at the end.
func guessBalanced(dims geom.Point) string {
	ids := []int{0, 1, 2, 3, 4}
	slices.SortStableFunc(ids, func(a, b int) int {
		if dims[a] != dims[b] {
			if dims[a] < dims[b] {
				return -1
			}

			return 1
		}

		return a - b
	})

	out := make([]byte, 0, MaxBits+1)
	dim := uint64(1)
	for d := range ids {
		sorted := slices.Clone(ids[d:])
		slices.SortFunc(sorted, func(a, b int) int { return b - a })
		for ; dim < dims[ids[d]]; dim <<= 1 {
			for _, id := range sorted {
				out = append(out, byte('0'+id))
			}
		}
	}
	slices.Reverse(out)

	return "V" + string(out)
}

func guessSequential(dims geom.Point, order []int) string {
	var sb strings.Builder
	sb.WriteByte('V')
	for _, d := range order {
		for e := dims[d]; e > 1; e >>= 1 {
			sb.WriteByte(byte('0' + d))
		}
	}

	return sb.String()
}

func guessMaxFirst(dims geom.Point, order []int) string {
	var sb strings.Builder
	sb.WriteByte('V')
	for {
		best := -1
		for _, d := range order {
			if dims[d] > 1 && (best < 0 || dims[d] > dims[best]) {
				best = d
			}
		}
		if best < 0 {
			return sb.String()
		}
		dims[best] >>= 1
		sb.WriteByte(byte('0' + best))
	}
}

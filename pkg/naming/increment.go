package naming

import (
	"math"
	"slices"
)

const (
	digits  = "0123456789"
	letters = "abcdefghijklmnopqrstuvwxyz"
)

// IncrementName derives the count-th alternative (count >= 1) to baseName by appending a
// divider and a counter built from the allowed digits and letters. The base is shortened
// until the result fits the maximum length. Different counts always yield different names.
// It returns false when no letters or digits are allowed, or when the base would have to be
// removed entirely.
func (nc Constraints) IncrementName(baseName string, count int) (string, bool) {
	if count < 1 {
		return "", false
	}
	alphabet := nc.counterAlphabet()
	if len(alphabet) == 0 {
		return "", false
	}
	base := []rune(baseName)
	if len(base) == 0 {
		return "", false
	}

	divider, divided := nc.suffixDivider()
	reserved := 0
	if divided {
		reserved = 1
	}

	// Counters are enumerated shortest first. Every width w keeps at most maximumLength-w-reserved
	// runes of the base. Without a divider, a counter that displaces base runes may not start
	// with the rune it displaces, or it could reproduce a name from a narrower width.
	idx := count - 1
	weight := 1 // len(alphabet)^(w-1)
	for w := 1; ; w++ {
		keep := nc.maximumLength - w - reserved
		if keep < 1 {
			return "", false
		}
		if keep > len(base) {
			keep = len(base)
		}

		first := alphabet
		if !divided && keep < len(base) {
			first = slices.DeleteFunc(slices.Clone(alphabet), func(r rune) bool { return r == base[keep] })
		}

		// names at this width; saturates instead of overflowing
		span := 0
		if len(first) > 0 {
			span = math.MaxInt
			if weight <= math.MaxInt/len(first) {
				span = len(first) * weight
			}
		}

		if idx < span {
			counter := make([]rune, w)
			counter[0] = first[idx/weight]
			rest := idx % weight
			for i := w - 1; i > 0; i-- {
				counter[i] = alphabet[rest%len(alphabet)]
				rest /= len(alphabet)
			}

			name := make([]rune, 0, keep+reserved+w)
			name = append(name, base[:keep]...)
			if divided {
				name = append(name, divider)
			}
			name = append(name, counter...)
			return string(name), true
		}

		idx -= span
		if weight > math.MaxInt/len(alphabet) {
			return "", false
		}
		weight *= len(alphabet)
	}
}

// counterAlphabet lists the runes available for counters in ascending order.
func (nc Constraints) counterAlphabet() []rune {
	var alphabet []rune
	if nc.numeric {
		alphabet = append(alphabet, []rune(digits)...)
	}
	if nc.alpha {
		switch nc.alphaCase {
		case CaseUpper:
			for _, r := range letters {
				alphabet = append(alphabet, r-'a'+'A')
			}
		default:
			alphabet = append(alphabet, []rune(letters)...)
		}
	}
	return slices.DeleteFunc(alphabet, func(r rune) bool { return !nc.IsValid(r, 1) })
}

// suffixDivider separates the base from its counter: a space where spaces are allowed,
// otherwise a dash or underscore, otherwise nothing.
func (nc Constraints) suffixDivider() (rune, bool) {
	if nc.spaces {
		return ' ', true
	}
	for _, d := range []rune{'-', '_'} {
		if nc.IsValid(d, 1) {
			return d, true
		}
	}
	return 0, false
}

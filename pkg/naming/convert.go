package naming

import (
	"math/rand"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/cloudspi/cloudspi/pkg/utils"
)

var (
	loggerOnce sync.Once
	pkgLogger  *utils.StructuredLogger
)

func defaultLogger() *utils.StructuredLogger {
	loggerOnce.Do(func() {
		pkgLogger = utils.NewDefaultLogger().WithComponent("naming")
	})
	return pkgLogger
}

// dividers in order of preference when a space has to be replaced
var dividers = []rune{'_', '-'}

// ConvertToValidName repairs baseName into a name satisfying the constraints. Letters are
// case-folded for locale, disallowed runes dropped, interior spaces replaced by a divider
// where possible, and the result padded with random alphanumerics up to the minimum length.
// It returns false when nothing usable survives.
func (nc Constraints) ConvertToValidName(baseName string, locale language.Tag) (string, bool) {
	name := strings.TrimSpace(nc.foldCase(baseName, locale))

	out := make([]rune, 0, nc.maximumLength)
	for _, c := range name {
		if len(out) >= nc.maximumLength {
			break
		}
		if nc.IsValid(c, len(out)) {
			out = append(out, c)
			continue
		}
		if unicode.IsSpace(c) && len(out) > 0 {
			if d, ok := nc.spaceReplacement(len(out)); ok {
				out = append(out, d)
			}
		}
	}
	if len(out) == 0 {
		return "", false
	}

	out = nc.trimTrailing(out)
	if len(out) == 0 {
		return "", false
	}

	// the walk stops at the maximum and padding only reaches the minimum, so no
	// truncation pass is needed afterwards
	out, ok := nc.pad(out)
	if !ok {
		return "", false
	}

	result := string(out)
	if nc.regularExpression != nil && !nc.regularExpression.MatchString(result) {
		nc.log().Warn("Converted name does not match naming pattern", map[string]interface{}{
			"name":    result,
			"base":    baseName,
			"pattern": nc.regularExpression.String(),
		})
	}
	return result, true
}

// RandomCharacter picks a random ASCII rune valid at position. When alphanumericOnly is set
// only letters and digits are candidates. It returns false when no candidate exists.
func (nc Constraints) RandomCharacter(alphanumericOnly bool, position int) (rune, bool) {
	candidates := make([]rune, 0, unicode.MaxASCII+1)
	for c := rune(0); c <= unicode.MaxASCII; c++ {
		if alphanumericOnly && !isAlphanumeric(c) {
			continue
		}
		if nc.IsValid(c, position) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return 0, false
	}
	return candidates[rand.Intn(len(candidates))], true
}

func (nc Constraints) foldCase(s string, locale language.Tag) string {
	if !nc.alpha {
		return s
	}
	switch nc.alphaCase {
	case CaseLower:
		return cases.Lower(locale).String(s)
	case CaseUpper:
		return cases.Upper(locale).String(s)
	default:
		return s
	}
}

func (nc Constraints) spaceReplacement(position int) (rune, bool) {
	for _, d := range dividers {
		if nc.IsValid(d, position) {
			return d, true
		}
	}
	return 0, false
}

// trimTrailing drops runes a name may not end with.
func (nc Constraints) trimTrailing(out []rune) []rune {
	for len(out) > 0 && nc.isDisallowedLast(out[len(out)-1]) {
		out = out[:len(out)-1]
	}
	return out
}

// pad extends out to the minimum length. A divider is only inserted when at least one
// alphanumeric still follows it.
func (nc Constraints) pad(out []rune) ([]rune, bool) {
	if len(out) >= nc.minimumLength {
		return out, true
	}
	if len(out) > 0 && len(out)+1 < nc.minimumLength {
		if d, ok := nc.spaceReplacement(len(out)); ok {
			out = append(out, d)
		}
	}
	for len(out) < nc.minimumLength {
		c, ok := nc.RandomCharacter(true, len(out))
		if !ok {
			return nil, false
		}
		out = append(out, c)
	}
	return out, true
}

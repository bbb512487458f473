package naming

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/language"

	"github.com/cloudspi/cloudspi/pkg/utils"
)

// Case is the letter case a name must use.
type Case int

const (
	CaseLower Case = iota
	CaseUpper
	CaseMixed
)

// String returns the string representation of the case rule
func (c Case) String() string {
	switch c {
	case CaseLower:
		return "lower"
	case CaseUpper:
		return "upper"
	case CaseMixed:
		return "mixed"
	default:
		return "unknown"
	}
}

// Constraints describes which names a cloud accepts for one kind of resource.
//
// Constraints is an immutable value: the factories and With* methods return modified
// copies, so a published value can be shared between goroutines freely.
type Constraints struct {
	minimumLength int
	maximumLength int

	alpha     bool
	alphaCase Case
	numeric   bool
	spaces    bool
	symbols   bool

	// nil means any printable symbol
	symbolConstraints []rune

	latin1Constrained            bool
	firstCharacterNumericAllowed bool
	firstCharacterSymbolAllowed  bool
	lastCharacterSymbolAllowed   bool

	regularExpression *regexp.Regexp
	locale            language.Tag
	logger            *utils.StructuredLogger
}

func newConstraints(minLength, maxLength int) Constraints {
	if minLength < 0 {
		minLength = 0
	}
	if maxLength < minLength {
		maxLength = minLength
	}
	return Constraints{
		minimumLength:              minLength,
		maximumLength:              maxLength,
		alphaCase:                  CaseMixed,
		lastCharacterSymbolAllowed: true,
		locale:                     language.Und,
	}
}

// AlphaNumeric allows letters of either case and digits.
func AlphaNumeric(minLength, maxLength int) Constraints {
	c := newConstraints(minLength, maxLength)
	c.alpha = true
	c.numeric = true
	return c
}

// AlphaOnly allows letters of either case.
func AlphaOnly(minLength, maxLength int) Constraints {
	c := newConstraints(minLength, maxLength)
	c.alpha = true
	return c
}

// NumericOnly allows digits, including as the first character.
func NumericOnly(minLength, maxLength int) Constraints {
	c := newConstraints(minLength, maxLength)
	c.numeric = true
	c.firstCharacterNumericAllowed = true
	return c
}

// Strict allows lowercase latin1 letters and digits, starting with a letter.
func Strict(minLength, maxLength int) Constraints {
	c := newConstraints(minLength, maxLength)
	c.alpha = true
	c.alphaCase = CaseLower
	c.numeric = true
	c.latin1Constrained = true
	return c
}

// WithMixedCase allows letters of either case.
func (nc Constraints) WithMixedCase() Constraints {
	nc.alpha = true
	nc.alphaCase = CaseMixed
	return nc
}

// LowerCaseOnly restricts letters to lowercase.
func (nc Constraints) LowerCaseOnly() Constraints {
	nc.alpha = true
	nc.alphaCase = CaseLower
	return nc
}

// UpperCaseOnly restricts letters to uppercase.
func (nc Constraints) UpperCaseOnly() Constraints {
	nc.alpha = true
	nc.alphaCase = CaseUpper
	return nc
}

// WithNoAlpha forbids letters.
func (nc Constraints) WithNoAlpha() Constraints {
	nc.alpha = false
	return nc
}

// WithNoNumeric forbids digits.
func (nc Constraints) WithNoNumeric() Constraints {
	nc.numeric = false
	return nc
}

// WithSpaces allows interior spaces.
func (nc Constraints) WithSpaces() Constraints {
	nc.spaces = true
	return nc
}

// WithNoSpaces forbids spaces.
func (nc Constraints) WithNoSpaces() Constraints {
	nc.spaces = false
	return nc
}

// WithAnySymbols allows every printable symbol.
func (nc Constraints) WithAnySymbols() Constraints {
	nc.symbols = true
	nc.symbolConstraints = nil
	return nc
}

// WithSymbolConstraints allows only the listed symbols.
func (nc Constraints) WithSymbolConstraints(symbols ...rune) Constraints {
	nc.symbols = len(symbols) > 0
	nc.symbolConstraints = slices.Clone(symbols)
	if nc.symbolConstraints == nil {
		nc.symbolConstraints = []rune{}
	}
	return nc
}

// WithNoSymbols forbids symbols.
func (nc Constraints) WithNoSymbols() Constraints {
	nc.symbols = false
	nc.symbolConstraints = nil
	return nc
}

// LimitedToLatin1 rejects every rune above U+00FF.
func (nc Constraints) LimitedToLatin1() Constraints {
	nc.latin1Constrained = true
	return nc
}

// WithFirstCharacterNumericAllowed controls whether a name may start with a digit.
func (nc Constraints) WithFirstCharacterNumericAllowed(allowed bool) Constraints {
	nc.firstCharacterNumericAllowed = allowed
	return nc
}

// WithFirstCharacterSymbolAllowed controls whether a name may start with a symbol.
func (nc Constraints) WithFirstCharacterSymbolAllowed(allowed bool) Constraints {
	nc.firstCharacterSymbolAllowed = allowed
	return nc
}

// WithLastCharacterSymbolAllowed controls whether a name may end with a symbol.
func (nc Constraints) WithLastCharacterSymbolAllowed(allowed bool) Constraints {
	nc.lastCharacterSymbolAllowed = allowed
	return nc
}

// WithRegularExpression sets an advisory pattern. Converted names that do not match it are
// logged, never rejected. An invalid pattern is ignored with a warning.
func (nc Constraints) WithRegularExpression(pattern string) Constraints {
	if pattern == "" {
		nc.regularExpression = nil
		return nc
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		nc.log().Warn("Ignoring invalid naming pattern", map[string]interface{}{
			"pattern": pattern,
			"error":   err.Error(),
		})
		return nc
	}
	nc.regularExpression = re
	return nc
}

// WithLocale sets the locale used for case normalization by FindUniqueName.
func (nc Constraints) WithLocale(locale language.Tag) Constraints {
	nc.locale = locale
	return nc
}

// WithLogger sets the logger receiving pattern mismatch warnings.
func (nc Constraints) WithLogger(logger *utils.StructuredLogger) Constraints {
	nc.logger = logger
	return nc
}

// MinimumLength returns the minimum name length in runes.
func (nc Constraints) MinimumLength() int { return nc.minimumLength }

// MaximumLength returns the maximum name length in runes.
func (nc Constraints) MaximumLength() int { return nc.maximumLength }

// IsAlpha reports whether letters are allowed.
func (nc Constraints) IsAlpha() bool { return nc.alpha }

// AlphaCase returns the case letters must be in.
func (nc Constraints) AlphaCase() Case { return nc.alphaCase }

// IsNumeric reports whether digits are allowed.
func (nc Constraints) IsNumeric() bool { return nc.numeric }

// IsSpaces reports whether interior spaces are allowed.
func (nc Constraints) IsSpaces() bool { return nc.spaces }

// IsSymbols reports whether symbols are allowed.
func (nc Constraints) IsSymbols() bool { return nc.symbols }

// IsLatin1Constrained reports whether runes above U+00FF are rejected.
func (nc Constraints) IsLatin1Constrained() bool { return nc.latin1Constrained }

// Locale returns the locale used for case conversion.
func (nc Constraints) Locale() language.Tag { return nc.locale }

// SymbolConstraints returns the symbol whitelist, nil when any symbol is allowed.
func (nc Constraints) SymbolConstraints() []rune { return slices.Clone(nc.symbolConstraints) }

// FirstCharacterNumericAllowed reports whether a name may start with a digit.
func (nc Constraints) FirstCharacterNumericAllowed() bool { return nc.firstCharacterNumericAllowed }

// FirstCharacterSymbolAllowed reports whether a name may start with a symbol.
func (nc Constraints) FirstCharacterSymbolAllowed() bool { return nc.firstCharacterSymbolAllowed }

// LastCharacterSymbolAllowed reports whether a name may end with a symbol.
func (nc Constraints) LastCharacterSymbolAllowed() bool { return nc.lastCharacterSymbolAllowed }

// RegularExpression returns the advisory pattern, or "" when none is set.
func (nc Constraints) RegularExpression() string {
	if nc.regularExpression == nil {
		return ""
	}
	return nc.regularExpression.String()
}

// IsValid reports whether c may appear at position in a name. Every other check in this
// package is expressed in terms of it.
func (nc Constraints) IsValid(c rune, position int) bool {
	if nc.latin1Constrained && c > unicode.MaxLatin1 {
		return false
	}

	switch {
	case unicode.IsLetter(c):
		if !nc.alpha {
			return false
		}
		// title-case letters such as 'ǅ' are rewritten by either case mapping
		switch nc.alphaCase {
		case CaseLower:
			return !unicode.IsUpper(c) && !unicode.IsTitle(c)
		case CaseUpper:
			return !unicode.IsLower(c) && !unicode.IsTitle(c)
		}
		return true

	case unicode.IsDigit(c):
		if !nc.numeric {
			return false
		}
		return position > 0 || nc.firstCharacterNumericAllowed

	case unicode.IsSpace(c):
		return c == ' ' && nc.spaces && position > 0

	case !unicode.IsPrint(c):
		return false

	default:
		if !nc.symbols {
			return false
		}
		if position == 0 && !nc.firstCharacterSymbolAllowed {
			return false
		}
		if nc.symbolConstraints == nil {
			return true
		}
		return slices.Contains(nc.symbolConstraints, c)
	}
}

// IsValidName reports whether name satisfies the constraints as is.
func (nc Constraints) IsValidName(name string) bool {
	runes := []rune(name)
	if len(runes) == 0 || len(runes) < nc.minimumLength || len(runes) > nc.maximumLength {
		return false
	}

	for i, c := range runes {
		if !nc.IsValid(c, i) {
			return false
		}
	}

	return !nc.isDisallowedLast(runes[len(runes)-1])
}

// String describes the constraints for logs and error details.
func (nc Constraints) String() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("length=%d..%d", nc.minimumLength, nc.maximumLength))
	if nc.alpha {
		parts = append(parts, "alpha="+nc.alphaCase.String())
	}
	if nc.numeric {
		parts = append(parts, "numeric")
	}
	if nc.spaces {
		parts = append(parts, "spaces")
	}
	if nc.symbols {
		if nc.symbolConstraints == nil {
			parts = append(parts, "symbols=any")
		} else {
			parts = append(parts, fmt.Sprintf("symbols=%q", string(nc.symbolConstraints)))
		}
	}
	if nc.latin1Constrained {
		parts = append(parts, "latin1")
	}
	if nc.firstCharacterNumericAllowed {
		parts = append(parts, "first-numeric")
	}
	if nc.firstCharacterSymbolAllowed {
		parts = append(parts, "first-symbol")
	}
	if !nc.lastCharacterSymbolAllowed {
		parts = append(parts, "no-last-symbol")
	}
	if nc.regularExpression != nil {
		parts = append(parts, "pattern="+nc.regularExpression.String())
	}
	return "Constraints{" + strings.Join(parts, ", ") + "}"
}

// isDisallowedLast reports whether c may not end a name.
func (nc Constraints) isDisallowedLast(c rune) bool {
	if unicode.IsSpace(c) {
		return true
	}
	return !nc.lastCharacterSymbolAllowed && !isAlphanumeric(c)
}

func (nc Constraints) log() *utils.StructuredLogger {
	if nc.logger != nil {
		return nc.logger
	}
	return defaultLogger()
}

func isAlphanumeric(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c)
}

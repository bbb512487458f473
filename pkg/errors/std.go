package errors

import stderr "errors"

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderr.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderr.As(err, target)
}

// New returns a plain error that formats as the given text.
func New(text string) error {
	return stderr.New(text)
}

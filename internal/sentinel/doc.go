// Package sentinel declares the const error type used for the package-level
// error values in appmock. A string-backed error can be a const, so callers
// cannot reassign it, and it still matches through wrapped chains with
// errors.Is.
package sentinel

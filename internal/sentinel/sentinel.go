package sentinel

var _ error = Error("")

// Error is a string error that can be declared as a const.
//
// Error is comparable, so errors.Is matches it by value anywhere in a
// wrapped chain.
type Error string

// Error implements the error interface.
func (e Error) Error() string {
	return string(e)
}

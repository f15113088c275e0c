package errorutil

import "errors"

// ErrDataIntegrity is a base error type to use for failures that are due to
// unrecoverable data integrity issues in the event stream.
var ErrDataIntegrity = errors.New("data integrity error")

// ErrNoSymbols indicates an object file carries no usable symbol table.
var ErrNoSymbols = errors.New("no symbols")

package sifen

import "fmt"

// MalformedError means the payload is not a parseable SIFEN document at
// all: either the XML does not parse or no <DE> node exists anywhere in
// the tree.
type MalformedError struct {
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed document: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed document: %s", e.Reason)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// MissingFieldError names the first mandatory element found absent
// during the fixed extraction order.
type MissingFieldError struct {
	Path string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("required field not found: %s", e.Path)
}

package message

import "fmt"

// Codec performs type-directed encode/decode of a message body against a
// declared signature. The core treats it as an external collaborator;
// wire-level marshalling itself lives in a transport implementation, not
// here.
type Codec interface {
	// Encode validates that body matches signature, returning a
	// DataError (wrapping a SignatureMismatch) on mismatch. It does not
	// produce wire bytes;
	// that is the transport's job once it has a Message to send.
	Encode(signature string, body []interface{}) error

	// Decode converts body into the Go types described by out, a slice of
	// pointers, one per declared out-argument. It returns a CastFailure if a
	// value can't be asserted to the requested type.
	Decode(body []interface{}, out []interface{}) error
}

// CastFailure is returned by a Codec when a body value's dynamic type
// doesn't match what the caller asked to decode it as.
type CastFailure struct {
	Index int
	Want  string
	Got   interface{}
}

func (e *CastFailure) Error() string {
	return fmt.Sprintf("message: cannot cast body[%d] (%T) to %s", e.Index, e.Got, e.Want)
}

// SignatureMismatch is returned when a method call's declared signature
// doesn't match the number or shape of arguments supplied, distinct from
// a per-value CastFailure.
type SignatureMismatch struct {
	Expected string
	Got      string
}

func (e *SignatureMismatch) Error() string {
	return fmt.Sprintf("message: signature mismatch: expected %q, got %q", e.Expected, e.Got)
}

// DataError wraps a failure to marshal or unmarshal a message, surfaced
// only to the calling send; it never crashes the connection.
type DataError struct {
	Err error
}

func (e *DataError) Error() string { return "message: data error: " + e.Err.Error() }
func (e *DataError) Unwrap() error { return e.Err }

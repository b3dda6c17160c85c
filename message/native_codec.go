package message

import "reflect"

// NativeCodec is a Codec that works directly against in-memory
// interface{} values rather than D-Bus wire signatures, suitable for the
// loopback transport and for tests. It performs no real signature
// validation beyond a length check; concrete implementations swapped in
// by the transport collaborator are expected to do full signature
// checking against the wire format.
type NativeCodec struct{}

var _ Codec = NativeCodec{}

// Encode is a no-op validator: it only rejects when signature is
// non-empty and its argument count disagrees with len(body).
func (NativeCodec) Encode(signature string, body []interface{}) error {
	if signature != "" && len(signature) != len(body) {
		return &DataError{Err: &SignatureMismatch{Expected: signature, Got: sigOf(body)}}
	}
	return nil
}

// Decode copies each body element into the corresponding out pointer via
// reflection, failing with CastFailure on a type mismatch.
func (NativeCodec) Decode(body []interface{}, out []interface{}) error {
	for i, dst := range out {
		if i >= len(body) {
			return &CastFailure{Index: i, Want: reflect.TypeOf(dst).String(), Got: nil}
		}
		dv := reflect.ValueOf(dst)
		if dv.Kind() != reflect.Ptr {
			return &CastFailure{Index: i, Want: "pointer", Got: dst}
		}
		sv := reflect.ValueOf(body[i])
		if !sv.IsValid() || !sv.Type().AssignableTo(dv.Elem().Type()) {
			return &CastFailure{Index: i, Want: dv.Elem().Type().String(), Got: body[i]}
		}
		dv.Elem().Set(sv)
	}
	return nil
}

func sigOf(body []interface{}) string {
	s := make([]byte, len(body))
	for i := range body {
		s[i] = 'v'
	}
	return string(s)
}

package message

import "testing"

func TestNativeCodecEncodeAcceptsMatchingArity(t *testing.T) {
	c := NativeCodec{}
	if err := c.Encode("vv", []interface{}{"a", 1}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
}

func TestNativeCodecEncodeRejectsArityMismatch(t *testing.T) {
	c := NativeCodec{}
	err := c.Encode("vv", []interface{}{"a"})
	if err == nil {
		t.Fatalf("expected arity mismatch error")
	}
	var de *DataError
	if !asDataError(err, &de) {
		t.Fatalf("expected *DataError, got %T", err)
	}
}

func TestNativeCodecDecode(t *testing.T) {
	c := NativeCodec{}
	var s string
	var n int
	err := c.Decode([]interface{}{"hello", 42}, []interface{}{&s, &n})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if s != "hello" || n != 42 {
		t.Fatalf("got s=%q n=%d", s, n)
	}
}

func TestNativeCodecDecodeCastFailure(t *testing.T) {
	c := NativeCodec{}
	var n int
	err := c.Decode([]interface{}{"not a number"}, []interface{}{&n})
	if err == nil {
		t.Fatalf("expected cast failure")
	}
	if _, ok := err.(*CastFailure); !ok {
		t.Fatalf("expected *CastFailure, got %T", err)
	}
}

func asDataError(err error, target **DataError) bool {
	de, ok := err.(*DataError)
	if !ok {
		return false
	}
	*target = de
	return true
}

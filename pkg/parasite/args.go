package parasite

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"
)

// Argument and return values cross into the target as raw bytes in native
// byte order. They must be fixed-layout: integers, floats, bools, arrays and
// structs of those with exported fields. Use blank fields (_ [4]byte) where
// the injected code expects alignment padding, encoding/binary does not
// insert any.

// plainSize returns the encoded size of v, or ErrNotPlainData.
func plainSize(v any) (int, error) {
	if v == nil {
		return 0, nil
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if !isPlain(t) {
		return 0, fmt.Errorf("%w: %s", ErrNotPlainData, t)
	}
	n := binary.Size(v)
	if n < 0 {
		return 0, fmt.Errorf("%w: %s", ErrNotPlainData, t)
	}
	return n, nil
}

func plainTypeSize[R any]() (int, error) {
	var zero R
	t := reflect.TypeFor[R]()
	if !isPlain(t) {
		return 0, fmt.Errorf("%w: %s", ErrNotPlainData, t)
	}
	n := binary.Size(zero)
	if n < 0 {
		return 0, fmt.Errorf("%w: %s", ErrNotPlainData, t)
	}
	return n, nil
}

func isPlain(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Array:
		return isPlain(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			// encoding/binary cannot set unexported fields, only skip blank ones
			if !f.IsExported() && f.Name != "_" {
				return false
			}
			if !isPlain(f.Type) {
				return false
			}
		}
		return true
	default:
		// int, uint, uintptr have no fixed size; slices, strings, maps,
		// pointers and interfaces carry ownership
		return false
	}
}

func encodeArgs(v any, size int) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	buf := bytes.NewBuffer(make([]byte, 0, size))
	if err := binary.Write(buf, binary.NativeEndian, v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotPlainData, err)
	}
	return buf.Bytes(), nil
}

func decodeArgs[R any](data []byte) (R, error) {
	var r R
	if err := binary.Read(bytes.NewReader(data), binary.NativeEndian, &r); err != nil {
		return r, fmt.Errorf("%w: %v", ErrNotPlainData, err)
	}
	return r, nil
}

// Package keybytes centralises the unavoidable usage of the `unsafe` standard
// library package so that the rest of concache stays clean and easy to audit.
//
// ⚠️  DISCLAIMER  These helpers deliberately view Go values as raw bytes for
// the sake of zero-allocation hashing. Use ONLY inside this repository; they
// are not part of the public API and may change without notice. Misuse leads
// to subtle data races or incorrect hashes if the underlying value contains
// pointers (slices, strings, maps) whose backing storage can move or be
// mutated out from under the view.
//
// © 2025 concache authors. MIT License.
package keybytes

import "unsafe"

// OfScalar returns a zero-copy []byte view of an arbitrary fixed-size,
// pointer-free value. It is used as the fallback hashing path for key types
// that are neither string nor []byte (ints, structs of scalars, etc).
// Callers must not retain the returned slice past the lifetime of v.
func OfScalar[T any](v *T) []byte {
	size := unsafe.Sizeof(*v)
	if size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), size)
}

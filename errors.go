// Copyright 2017 Denis Bernard <db047h@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package elfloader

import (
	"errors"
	"fmt"
)

// Kind classifies a loader Error.
type Kind int

// Error kinds.
const (
	// InvalidFormat indicates a structural violation of the ELF spec.
	InvalidFormat Kind = iota
	// UnsupportedArchitecture indicates no reloc.Engine/mpu.Policy is
	// registered for the file's machine type.
	UnsupportedArchitecture
	// UnsupportedRelocation indicates a relocation type the engine does not
	// implement.
	UnsupportedRelocation
	// IoError wraps a failure from the underlying byte source.
	IoError
	// AllocationFailed indicates the allocator callback returned a zero
	// real_vaddr.
	AllocationFailed
	// TooManyRegions indicates the program needs more MPU regions than the
	// host has available.
	TooManyRegions
)

func (k Kind) String() string {
	switch k {
	case InvalidFormat:
		return "InvalidFormat"
	case UnsupportedArchitecture:
		return "UnsupportedArchitecture"
	case UnsupportedRelocation:
		return "UnsupportedRelocation"
	case IoError:
		return "IoError"
	case AllocationFailed:
		return "AllocationFailed"
	case TooManyRegions:
		return "TooManyRegions"
	default:
		return "Unknown"
	}
}

// Error is the error type returned by every operation in this module. It
// carries a Kind so callers can branch on failure category without string
// matching, and wraps an underlying cause where one exists.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("elfloader: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("elfloader: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error of the given kind with a formatted message.
func NewError(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// WrapError builds an Error of the given kind around an underlying cause.
func WrapError(k Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Is implements the errors.Is matching protocol: two *Error values are
// considered equal for the purpose of errors.Is if they carry the same Kind,
// regardless of message or wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

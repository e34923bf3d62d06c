// Package xerrors provides error construction and wrapping helpers that
// capture caller position, consumed by the log package to attach stack
// data to error-level records.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

// withStack carries a full captured stack below the construction site.
type withStack struct {
	err error
	pcs []uintptr
}

func (w *withStack) Error() string       { return w.err.Error() }
func (w *withStack) Unwrap() error       { return w.err }
func (w *withStack) StackPCs() []uintptr { return w.pcs }

// wrap annotates an error with a message and the single wrapping frame.
type wrap struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrap) Error() string { return w.msg + ": " + w.err.Error() }
func (w *wrap) Unwrap() error { return w.err }
func (w *wrap) PC() uintptr   { return w.pc }

// New returns an error with msg and a captured stack.
func New(msg string) error { return stacked(errors.New(msg)) }

// Newf formats and returns an error with a captured stack.
func Newf(format string, args ...any) error { return stacked(fmt.Errorf(format, args...)) }

// Wrap annotates err with msg and the caller's frame. Returns nil when
// err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: msg, pc: callerPC()}
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: fmt.Sprintf(format, args...), pc: callerPC()}
}

// EnsureTrace attaches a stack to err unless one is already present
// somewhere in its chain.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	type hasStack interface{ StackPCs() []uintptr }
	var hs hasStack
	if errors.As(err, &hs) && len(hs.StackPCs()) > 0 {
		return err
	}
	return stacked(err)
}

func stacked(err error) error {
	pcs := make([]uintptr, maxStackDepth)
	// skip runtime.Callers, stacked, and the exported constructor
	n := runtime.Callers(3, pcs)
	return &withStack{err: err, pcs: pcs[:n]}
}

func callerPC() uintptr {
	var pcs [1]uintptr
	// skip runtime.Callers, callerPC, and the exported wrapper
	if n := runtime.Callers(3, pcs[:]); n == 0 {
		return 0
	}
	return pcs[0]
}

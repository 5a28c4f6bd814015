// Package xerrors attaches call-site information to errors for the logger.
//
// New, Newf, WithStack and EnsureTrace record a full stack (StackPCs). Wrap and
// Wrapf record only the caller's program counter (PC), which is enough to point
// a log line at the layer that added the message. Both wrappers unwrap, so
// errors.Is and errors.As see through them.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

// maxStackDepth bounds how many frames a stacked error keeps.
const maxStackDepth = 64

// stacked carries the stack of the goroutine that created it.
type stacked struct {
	err error
	pcs []uintptr
}

func (s *stacked) Error() string       { return s.err.Error() }
func (s *stacked) Unwrap() error       { return s.err }
func (s *stacked) StackPCs() []uintptr { return s.pcs }
func (s *stacked) IsXerrorsWrapper()   {}

// annotated prefixes a message and remembers where it was added.
type annotated struct {
	err error
	msg string
	pc  uintptr
}

func (a *annotated) Error() string     { return a.msg + ": " + a.err.Error() }
func (a *annotated) Unwrap() error     { return a.err }
func (a *annotated) PC() uintptr       { return a.pc }
func (a *annotated) IsXerrorsWrapper() {}

// stack skips runtime.Callers, stack itself and skip more frames.
func stack(skip int) []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(2+skip, pcs)
	return pcs[:n]
}

// caller returns the PC skip frames above its own caller, 0 if unknown.
func caller(skip int) uintptr {
	var pc [1]uintptr
	if runtime.Callers(2+skip, pc[:]) == 0 {
		return 0
	}
	return pc[0]
}

// stackedAt wraps err with a stack starting skip frames above stackedAt's caller.
func stackedAt(err error, skip int) error {
	if err == nil {
		return nil
	}
	return &stacked{err: err, pcs: stack(skip + 1)}
}

func New(msg string) error { return stackedAt(errors.New(msg), 1) }

func Newf(format string, args ...any) error {
	return stackedAt(fmt.Errorf(format, args...), 1)
}

// WithStack records the current stack on err. It returns nil for a nil err.
func WithStack(err error) error { return stackedAt(err, 1) }

// EnsureTrace is WithStack unless err already carries a stack somewhere in its
// chain, in which case err is returned unchanged.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var hs interface{ StackPCs() []uintptr }
	if errors.As(err, &hs) && len(hs.StackPCs()) > 0 {
		return err
	}
	return stackedAt(err, 1)
}

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &annotated{err: err, msg: msg, pc: caller(1)}
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &annotated{err: err, msg: fmt.Sprintf(format, args...), pc: caller(1)}
}

// Package errors supplies the wrapping convention used at this shell's
// syscall boundary, where a bare errno gives a caller nothing to debug
// from without a trace back to the unix.* call site.
package errors

import (
	"github.com/pkg/errors"
)

// WithStack annotates err with a stack trace captured at the call
// site. Used at syscall boundaries (terminal, launcher, job) where a
// bare errno is otherwise unreadable.
func WithStack(err error) error {
	return errors.WithStack(err)
}

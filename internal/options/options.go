// Package options implements the generic functional options used by the
// dataset configuration.
package options

import (
	"fmt"

	"github.com/arloliu/idxio/errs"
)

// Option configures a target of type T.
type Option[T any] interface {
	apply(T) error
}

// Func wraps a function as an Option.
type Func[T any] struct {
	name      string
	applyFunc func(T) error
}

func (f *Func[T]) apply(target T) error {
	if err := f.applyFunc(target); err != nil {
		if f.name == "" {
			return err
		}

		return fmt.Errorf("%s: %w", f.name, err)
	}

	return nil
}

// New creates an option from a function that may fail.
func New[T any](fn func(T) error) *Func[T] {
	return &Func[T]{applyFunc: fn}
}

// Named creates an option whose errors are prefixed with name, so a
// failing option can be identified in a long option list.
func Named[T any](name string, fn func(T) error) *Func[T] {
	return &Func[T]{name: name, applyFunc: fn}
}

// NoError creates an option from a function that cannot fail.
func NoError[T any](fn func(T)) *Func[T] {
	return &Func[T]{
		applyFunc: func(target T) error {
			fn(target)
			return nil
		},
	}
}

// Apply applies opts in order and stops at the first error. Errors that do
// not already carry an errs sentinel are wrapped with ErrInvalidOption.
func Apply[T any](target T, opts ...Option[T]) error {
	for _, opt := range opts {
		if opt == nil {
			continue
		}

		if err := opt.apply(target); err != nil {
			if errs.CodeOf(err) == errs.CodeUnknown {
				return fmt.Errorf("%w: %w", errs.ErrInvalidOption, err)
			}

			return err
		}
	}

	return nil
}

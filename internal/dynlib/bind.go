//go:build darwin || freebsd || linux || windows

package dynlib

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/ebitengine/purego"
)

var (
	// ErrSymbolNotFound is returned by Bind when the library does not
	// export the requested symbol.
	ErrSymbolNotFound = errors.New("dynlib: symbol not found")

	// ErrClosed is returned by Bind after Close.
	ErrClosed = errors.New("dynlib: library closed")
)

// checkFuncPtr reports whether fptr is a non-nil pointer to a func variable.
func checkFuncPtr(fptr any) error {
	v := reflect.ValueOf(fptr)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return fmt.Errorf("dynlib: bind target must be a non-nil pointer, got %T", fptr)
	}
	if v.Elem().Kind() != reflect.Func {
		return fmt.Errorf("dynlib: bind target must point to a func, got %T", fptr)
	}
	return nil
}

// register binds addr to fptr. purego panics on signatures it cannot
// marshal; that is turned into an error naming the symbol.
func register(fptr any, addr uintptr, symbol string) (err error) {
	if err := checkFuncPtr(fptr); err != nil {
		return err
	}
	if addr == 0 {
		return fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dynlib: bind %s to %T: %v", symbol, fptr, r)
		}
	}()
	purego.RegisterFunc(fptr, addr)
	return nil
}

package mlvalue

import "fmt"

// FatalError is the panic value for unrecoverable conversion failures.
// It indicates ABI skew between host and guest and is never turned into a
// guest exception.
type FatalError struct {
	Msg string
}

func (e *FatalError) Error() string {
	return "mlbridge: " + e.Msg
}

// Fatalf panics with a *FatalError.
func Fatalf(format string, args ...any) {
	panic(&FatalError{Msg: fmt.Sprintf(format, args...)})
}

// UnknownVariant builds the fatal error for a guest value whose shape
// matches no variant of typ.
func UnknownVariant(typ string, isBlock bool, tag, size int) *FatalError {
	return &FatalError{Msg: fmt.Sprintf(
		"received unknown variant while converting guest structure/enum to %s (block=%t tag=%d size=%d)",
		typ, isBlock, tag, size)}
}

// Exception is a guest exception raised from host code. Runtimes that
// unwind with Go panics use it as the panic value.
type Exception struct {
	// Tag is the guest exception constructor.
	Tag Value
	// Name is the registered name of Tag, if known.
	Name    string
	Message string
}

func (e *Exception) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("guest exception %#x: %s", uintptr(e.Tag), e.Message)
	}
	return fmt.Sprintf("%s(%q)", e.Name, e.Message)
}

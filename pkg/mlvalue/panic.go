package mlvalue

import "go.uber.org/zap"

// Messages forwarded to the guest when an entry point panics. The panic
// payload itself never crosses the boundary.
const (
	HostPanicMessage   = "host ffi panic"
	NoExceptionMessage = "no host ffi exception is registered"
)

// Catch runs f and reports whether it returned normally. Host panics are
// contained; fatal conversion errors and guest exceptions keep unwinding.
func Catch[T any](f func() T) (result T, ok bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		switch r.(type) {
		case *FatalError, *Exception:
			panic(r)
		}
		Logger().Debug("contained host panic at entry boundary", zap.Any("panic", r))
		var zero T
		result, ok = zero, false
	}()
	return f(), true
}

// CatchVoid is Catch for functions without a result.
func CatchVoid(f func()) bool {
	_, ok := Catch(func() struct{} {
		f()
		return struct{}{}
	})
	return ok
}

// RaiseHostPanic reports a contained host panic to the guest. With a
// registered exception name the named exception is raised with
// HostPanicMessage; otherwise the runtime's invalid-argument exception is
// raised with NoExceptionMessage.
func RaiseHostPanic(exn string) {
	rt := Current()
	if exn != "" {
		if tag, found := rt.FindNamed(exn); found {
			rt.RaiseWithString(tag, HostPanicMessage)
			return
		}
		Logger().Warn("ffi exception is not registered in the guest", zap.String("name", exn))
	}
	rt.RaiseInvalidArgument(NoExceptionMessage)
}

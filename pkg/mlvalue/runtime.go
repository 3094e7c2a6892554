package mlvalue

import "sync/atomic"

// Runtime is the guest runtime as seen from host code. Implementations own
// the heap, the root registry, named values and exception raising.
//
// RaiseWithString and RaiseInvalidArgument transfer control to the guest;
// they are not expected to return.
type Runtime interface {
	// Alloc returns a fresh block. Slots of scannable blocks are
	// uninitialised until stored.
	Alloc(size int, tag uint8) Value
	Size(v Value) int
	Tag(v Value) uint8
	Field(v Value, i int) Value
	StoreField(v Value, i int, x Value)

	DoubleField(v Value, i int) float64
	StoreDoubleField(v Value, i int, f float64)

	AllocString(b []byte) Value
	StringBytes(v Value) []byte
	AllocDouble(f float64) Value
	DoubleOf(v Value) float64

	// PushRoots registers the pointed-to locals as GC roots until the
	// returned release function is called.
	PushRoots(roots ...*Value) (release func())

	FindNamed(name string) (Value, bool)
	RaiseWithString(exn Value, msg string)
	RaiseInvalidArgument(msg string)
}

type holder struct{ rt Runtime }

var current atomic.Pointer[holder]

// Install makes rt the runtime used by generated code and returns a
// function restoring the previous one.
func Install(rt Runtime) (restore func()) {
	prev := current.Swap(&holder{rt: rt})
	return func() { current.Store(prev) }
}

// Current returns the installed runtime. Calling generated code without a
// runtime is fatal.
func Current() Runtime {
	h := current.Load()
	if h == nil || h.rt == nil {
		Fatalf("no guest runtime installed")
	}
	return h.rt
}

// Roots registers roots with the current runtime. Generated code uses it as
//
//	defer mlvalue.Roots(&a, &b, &value)()
func Roots(roots ...*Value) (release func()) {
	return Current().PushRoots(roots...)
}

// Alloc allocates a block in the current runtime.
func Alloc(size int, tag uint8) Value {
	return Current().Alloc(size, tag)
}

// Field reads slot i of block v.
func Field(v Value, i int) Value {
	return Current().Field(v, i)
}

// StoreField writes x into slot i of block v.
func StoreField(v Value, i int, x Value) {
	Current().StoreField(v, i, x)
}

// DoubleField reads slot i of a double array.
func DoubleField(v Value, i int) float64 {
	return Current().DoubleField(v, i)
}

// StoreDoubleField writes slot i of a double array.
func StoreDoubleField(v Value, i int, f float64) {
	Current().StoreDoubleField(v, i, f)
}

// TagOf returns the tag of block v.
func TagOf(v Value) uint8 {
	return Current().Tag(v)
}

// SizeOf returns the number of slots of block v.
func SizeOf(v Value) int {
	return Current().Size(v)
}

// ExpectDoubleArray aborts unless v is a double-array block. typ names the
// host type being reconstructed.
func ExpectDoubleArray(v Value, typ string) {
	if !IsBlock(v) || Current().Tag(v) != DoubleArrayTag {
		Fatalf("expected double-array while converting guest value to %s", typ)
	}
}

package mlvalue

// Value is a guest value: either an immediate or a heap block handle.
type Value uintptr

// Block tags with a fixed meaning in the guest runtime. Tags below LazyTag
// belong to ordinary constructors.
const (
	LazyTag        uint8 = 246
	ClosureTag     uint8 = 247
	ObjectTag      uint8 = 248
	InfixTag       uint8 = 249
	ForwardTag     uint8 = 250
	NoScanTag      uint8 = 251
	AbstractTag    uint8 = 251
	StringTag      uint8 = 252
	DoubleTag      uint8 = 253
	DoubleArrayTag uint8 = 254
	CustomTag      uint8 = 255
)

// Canonical immediates.
var (
	Unit  = OfInt(0)
	False = OfInt(0)
	True  = OfInt(1)
	None  = OfInt(0)
)

// OfInt encodes n as an immediate. The top bit of n is lost, as in the guest.
func OfInt(n int64) Value {
	return Value(uintptr(int(n)<<1) | 1)
}

// IntOf decodes an immediate.
func IntOf(v Value) int64 {
	return int64(int(v) >> 1)
}

// IsBlock reports whether v is a heap block rather than an immediate.
func IsBlock(v Value) bool {
	return v&1 == 0
}

// IsImmediate reports whether v is an immediate integer.
func IsImmediate(v Value) bool {
	return v&1 == 1
}

// OfBool encodes a boolean as the guest's false/true immediates.
func OfBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// BoolOf decodes a guest boolean.
func BoolOf(v Value) bool {
	if !IsImmediate(v) {
		Fatalf("expected an immediate boolean, got block %#x", uintptr(v))
	}
	return IntOf(v) != 0
}

// Shape returns the dispatch triple used by generated from-guest code.
// For immediates tag is the integer payload and size is zero; for blocks
// it is the block tag and the block size. Blocks with a non-structural tag
// are a fatal error.
func Shape(v Value) (isBlock bool, tag int, size int) {
	if !IsBlock(v) {
		return false, int(IntOf(v)), 0
	}
	rt := Current()
	t := rt.Tag(v)
	if t >= LazyTag {
		Fatalf("trying to convert a non structural value (tag %d) to a structure/enum", t)
	}
	return true, int(t), rt.Size(v)
}

package mlvalue

// Conversions for the host types the generator maps directly. Aggregates
// get generated conversions instead.

// OfFloat boxes f as a guest float.
func OfFloat(f float64) Value {
	return Current().AllocDouble(f)
}

// FloatOf unboxes a guest float.
func FloatOf(v Value) float64 {
	rt := Current()
	if !IsBlock(v) || rt.Tag(v) != DoubleTag {
		Fatalf("expected a boxed float")
	}
	return rt.DoubleOf(v)
}

// OfString copies s into a guest string.
func OfString(s string) Value {
	return Current().AllocString([]byte(s))
}

// StringOf copies a guest string into a Go string.
func StringOf(v Value) string {
	return string(BytesOf(v))
}

// OfBytes copies b into a guest string (guest strings are byte sequences).
func OfBytes(b []byte) Value {
	return Current().AllocString(b)
}

// BytesOf copies a guest string into a fresh byte slice.
func BytesOf(v Value) []byte {
	rt := Current()
	if !IsBlock(v) || rt.Tag(v) != StringTag {
		Fatalf("expected a guest string")
	}
	return rt.StringBytes(v)
}

// OfSlice builds a guest array from xs. The array is filled with Unit
// before any element conversion runs, so a collection triggered by conv
// only ever sees initialised slots.
func OfSlice[E any](xs []E, conv func(E) Value) Value {
	var arr Value
	defer Roots(&arr)()
	arr = Alloc(len(xs), 0)
	for i := range xs {
		StoreField(arr, i, Unit)
	}
	for i, x := range xs {
		e := conv(x)
		StoreField(arr, i, e)
	}
	return arr
}

// SliceOf reads a guest array.
func SliceOf[E any](v Value, conv func(Value) E) []E {
	if !IsBlock(v) {
		Fatalf("expected a guest array, got an immediate")
	}
	rt := Current()
	if tag := rt.Tag(v); tag != 0 {
		Fatalf("expected a guest array, got block tag %d", tag)
	}
	out := make([]E, rt.Size(v))
	for i := range out {
		out[i] = conv(rt.Field(v, i))
	}
	return out
}

// OfFloatSlice builds a guest float array, stored unboxed.
func OfFloatSlice(xs []float64) Value {
	var arr Value
	defer Roots(&arr)()
	if len(xs) == 0 {
		arr = Alloc(0, 0)
		return arr
	}
	arr = Alloc(len(xs), DoubleArrayTag)
	for i, f := range xs {
		StoreDoubleField(arr, i, f)
	}
	return arr
}

// FloatSliceOf reads a guest float array. The empty array may carry tag 0.
func FloatSliceOf(v Value) []float64 {
	if !IsBlock(v) {
		Fatalf("expected a guest float array, got an immediate")
	}
	rt := Current()
	n := rt.Size(v)
	if n == 0 {
		return []float64{}
	}
	ExpectDoubleArray(v, "[]float64")
	out := make([]float64, n)
	for i := range out {
		out[i] = rt.DoubleField(v, i)
	}
	return out
}

// OfOption maps nil to None and a non-nil pointer to Some of its target.
func OfOption[E any](p *E, conv func(E) Value) Value {
	if p == nil {
		return None
	}
	var some, inner Value
	defer Roots(&some, &inner)()
	inner = conv(*p)
	some = Alloc(1, 0)
	StoreField(some, 0, inner)
	return some
}

// OptionOf maps None to nil and Some x to a pointer to the converted x.
func OptionOf[E any](v Value, conv func(Value) E) *E {
	if !IsBlock(v) {
		if IntOf(v) != 0 {
			Fatalf("expected an option, got immediate %d", IntOf(v))
		}
		return nil
	}
	if tag, size := TagOf(v), SizeOf(v); tag != 0 || size != 1 {
		Fatalf("expected an option, got a block with tag %d and size %d", tag, size)
	}
	e := conv(Field(v, 0))
	return &e
}

// FillArray converts the guest array v into dst, which must have exactly
// as many elements. Generated code uses it for fixed-size Go arrays.
func FillArray[E any](dst []E, v Value, conv func(Value) E) {
	src := SliceOf(v, conv)
	if len(src) != len(dst) {
		Fatalf("expected a guest array of %d elements, got %d", len(dst), len(src))
	}
	copy(dst, src)
}

// FillFloats is FillArray for float arrays.
func FillFloats(dst []float64, v Value) {
	src := FloatSliceOf(v)
	if len(src) != len(dst) {
		Fatalf("expected a guest float array of %d elements, got %d", len(dst), len(src))
	}
	copy(dst, src)
}

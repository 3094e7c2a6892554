// Package mlheap is an in-process guest runtime. It implements
// mlvalue.Runtime over a Go-managed block table with a precise
// mark-and-sweep collector.
//
// The heap is deliberately strict: fresh blocks have uninitialised slots,
// collected blocks become dangling handles, and the collector fails when it
// reaches either. Together with WithStressGC, which collects before every
// allocation, this exposes generated code that forgets a root or writes a
// field before the block is fully initialised.
//
// A Heap is not safe for concurrent use; like the guest runtime it models,
// it assumes a single mutator.
package mlheap

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/funvibe/mlbridge/pkg/mlvalue"
)

const (
	handleBase   = 0x1000
	handleStride = 0x10
)

type block struct {
	tag     uint8
	fields  []mlvalue.Value
	doubles []float64
	bytes   []byte
	marked  bool
}

func (b *block) scannable() bool {
	return b.tag < mlvalue.NoScanTag
}

type frame struct {
	roots    []*mlvalue.Value
	released bool
}

// Heap is a single-mutator guest heap.
type Heap struct {
	blocks map[mlvalue.Value]*block
	next   mlvalue.Value

	frames  []*frame
	globals map[int]mlvalue.Value
	nextID  int

	named map[string]mlvalue.Value
	names map[mlvalue.Value]string

	invalidArgument mlvalue.Value

	stress      bool
	allocs      int
	collections int

	logger *zap.Logger
}

// Option configures a Heap.
type Option func(*Heap)

// WithStressGC makes every allocation run a full collection first.
func WithStressGC() Option {
	return func(h *Heap) { h.stress = true }
}

// WithLogger sets the heap logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Heap) { h.logger = l }
}

// New creates an empty heap with the Invalid_argument exception registered.
func New(opts ...Option) *Heap {
	h := &Heap{
		blocks:  make(map[mlvalue.Value]*block),
		next:    handleBase,
		globals: make(map[int]mlvalue.Value),
		named:   make(map[string]mlvalue.Value),
		names:   make(map[mlvalue.Value]string),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	stress := h.stress
	h.stress = false
	h.invalidArgument = h.RegisterException("Invalid_argument")
	h.stress = stress
	return h
}

// Install makes h the current runtime for generated code.
func (h *Heap) Install() (restore func()) {
	return mlvalue.Install(h)
}

// Alloc implements mlvalue.Runtime.
func (h *Heap) Alloc(size int, tag uint8) mlvalue.Value {
	if size < 0 {
		mlvalue.Fatalf("negative block size %d", size)
	}
	if h.stress {
		h.Collect()
	}
	b := &block{tag: tag}
	switch tag {
	case mlvalue.DoubleArrayTag:
		b.doubles = make([]float64, size)
	case mlvalue.DoubleTag:
		b.doubles = make([]float64, 1)
	case mlvalue.StringTag:
		b.bytes = make([]byte, size)
	default:
		if tag >= mlvalue.NoScanTag {
			mlvalue.Fatalf("cannot allocate block with tag %d", tag)
		}
		b.fields = make([]mlvalue.Value, size)
	}
	v := h.next
	h.next += handleStride
	h.blocks[v] = b
	h.allocs++
	return v
}

func (h *Heap) get(v mlvalue.Value) *block {
	if !mlvalue.IsBlock(v) {
		mlvalue.Fatalf("expected a block, got immediate %d", mlvalue.IntOf(v))
	}
	b, ok := h.blocks[v]
	if !ok {
		mlvalue.Fatalf("dangling block handle %#x", uintptr(v))
	}
	return b
}

func (h *Heap) scan(v mlvalue.Value, i int) *block {
	b := h.get(v)
	if !b.scannable() {
		mlvalue.Fatalf("field access on block with tag %d", b.tag)
	}
	if i < 0 || i >= len(b.fields) {
		mlvalue.Fatalf("field %d out of range for block of size %d", i, len(b.fields))
	}
	return b
}

// Size implements mlvalue.Runtime. Sizes are logical: slots, doubles or bytes.
func (h *Heap) Size(v mlvalue.Value) int {
	b := h.get(v)
	switch b.tag {
	case mlvalue.DoubleArrayTag:
		return len(b.doubles)
	case mlvalue.StringTag:
		return len(b.bytes)
	case mlvalue.DoubleTag:
		return 1
	}
	return len(b.fields)
}

// Tag implements mlvalue.Runtime.
func (h *Heap) Tag(v mlvalue.Value) uint8 {
	return h.get(v).tag
}

// Field implements mlvalue.Runtime.
func (h *Heap) Field(v mlvalue.Value, i int) mlvalue.Value {
	f := h.scan(v, i).fields[i]
	if f == 0 {
		mlvalue.Fatalf("read of uninitialised field %d of block %#x", i, uintptr(v))
	}
	return f
}

// StoreField implements mlvalue.Runtime.
func (h *Heap) StoreField(v mlvalue.Value, i int, x mlvalue.Value) {
	b := h.scan(v, i)
	if x == 0 {
		mlvalue.Fatalf("store of uninitialised value into field %d", i)
	}
	if mlvalue.IsBlock(x) {
		h.get(x)
	}
	b.fields[i] = x
}

func (h *Heap) doubleArray(v mlvalue.Value, i int) *block {
	b := h.get(v)
	if b.tag != mlvalue.DoubleArrayTag {
		mlvalue.Fatalf("expected double-array, got block tag %d", b.tag)
	}
	if i < 0 || i >= len(b.doubles) {
		mlvalue.Fatalf("double field %d out of range for array of size %d", i, len(b.doubles))
	}
	return b
}

// DoubleField implements mlvalue.Runtime.
func (h *Heap) DoubleField(v mlvalue.Value, i int) float64 {
	return h.doubleArray(v, i).doubles[i]
}

// StoreDoubleField implements mlvalue.Runtime.
func (h *Heap) StoreDoubleField(v mlvalue.Value, i int, f float64) {
	h.doubleArray(v, i).doubles[i] = f
}

// AllocString implements mlvalue.Runtime.
func (h *Heap) AllocString(s []byte) mlvalue.Value {
	v := h.Alloc(len(s), mlvalue.StringTag)
	copy(h.blocks[v].bytes, s)
	return v
}

// StringBytes implements mlvalue.Runtime.
func (h *Heap) StringBytes(v mlvalue.Value) []byte {
	b := h.get(v)
	if b.tag != mlvalue.StringTag {
		mlvalue.Fatalf("expected string, got block tag %d", b.tag)
	}
	return append([]byte(nil), b.bytes...)
}

// AllocDouble implements mlvalue.Runtime.
func (h *Heap) AllocDouble(f float64) mlvalue.Value {
	v := h.Alloc(1, mlvalue.DoubleTag)
	h.blocks[v].doubles[0] = f
	return v
}

// DoubleOf implements mlvalue.Runtime.
func (h *Heap) DoubleOf(v mlvalue.Value) float64 {
	b := h.get(v)
	if b.tag != mlvalue.DoubleTag {
		mlvalue.Fatalf("expected boxed float, got block tag %d", b.tag)
	}
	return b.doubles[0]
}

// PushRoots implements mlvalue.Runtime. Frames must be released in LIFO
// order, exactly once.
func (h *Heap) PushRoots(roots ...*mlvalue.Value) func() {
	f := &frame{roots: roots}
	h.frames = append(h.frames, f)
	depth := len(h.frames)
	return func() {
		if f.released {
			mlvalue.Fatalf("root frame released twice")
		}
		if len(h.frames) != depth || h.frames[depth-1] != f {
			mlvalue.Fatalf("root frame released out of order (depth %d, top %d)", depth, len(h.frames))
		}
		f.released = true
		h.frames = h.frames[:depth-1]
	}
}

// Keep registers v as a global root until the returned function is called.
func (h *Heap) Keep(v mlvalue.Value) (release func()) {
	id := h.nextID
	h.nextID++
	h.globals[id] = v
	return func() { delete(h.globals, id) }
}

// Register publishes v under name, like the guest's named-value registry.
// Named values are roots.
func (h *Heap) Register(name string, v mlvalue.Value) {
	h.named[name] = v
	if _, ok := h.names[v]; !ok {
		h.names[v] = name
	}
}

// RegisterException allocates an exception constructor and registers it
// under name.
func (h *Heap) RegisterException(name string) mlvalue.Value {
	var exn, str mlvalue.Value
	defer h.PushRoots(&exn, &str)()
	str = h.AllocString([]byte(name))
	exn = h.Alloc(2, mlvalue.ObjectTag)
	h.StoreField(exn, 0, str)
	h.StoreField(exn, 1, mlvalue.OfInt(int64(len(h.names))))
	h.Register(name, exn)
	return exn
}

// FindNamed implements mlvalue.Runtime.
func (h *Heap) FindNamed(name string) (mlvalue.Value, bool) {
	v, ok := h.named[name]
	return v, ok
}

// RaiseWithString implements mlvalue.Runtime by unwinding with an
// *mlvalue.Exception panic.
func (h *Heap) RaiseWithString(exn mlvalue.Value, msg string) {
	h.logger.Debug("raising guest exception", zap.String("name", h.names[exn]), zap.String("message", msg))
	panic(&mlvalue.Exception{Tag: exn, Name: h.names[exn], Message: msg})
}

// RaiseInvalidArgument implements mlvalue.Runtime.
func (h *Heap) RaiseInvalidArgument(msg string) {
	h.RaiseWithString(h.invalidArgument, msg)
}

// Call runs host code the way the guest calls an external function: a
// raised guest exception is returned as an error and every root frame
// pushed during the call must have been released.
func (h *Heap) Call(f func()) (err error) {
	depth := len(h.frames)
	defer func() {
		if r := recover(); r != nil {
			exn, ok := r.(*mlvalue.Exception)
			if !ok {
				panic(r)
			}
			err = exn
		}
		if len(h.frames) != depth {
			err = fmt.Errorf("mlheap: %d root frames leaked by call", len(h.frames)-depth)
		}
	}()
	f()
	return nil
}

// Stats describes heap activity.
type Stats struct {
	Live        int
	Allocs      int
	Collections int
	RootFrames  int
}

// Stats returns current counters.
func (h *Heap) Stats() Stats {
	return Stats{
		Live:        len(h.blocks),
		Allocs:      h.allocs,
		Collections: h.collections,
		RootFrames:  len(h.frames),
	}
}

package mlheap

import (
	"go.uber.org/zap"

	"github.com/funvibe/mlbridge/pkg/mlvalue"
)

// Collect runs a full mark-and-sweep collection. Roots are the registered
// root frames, global roots and named values. Reaching an uninitialised
// slot or a dangling handle from a root is fatal.
func (h *Heap) Collect() {
	for _, b := range h.blocks {
		b.marked = false
	}
	for _, f := range h.frames {
		for _, r := range f.roots {
			// A registered local that has not been assigned yet is empty.
			if *r == 0 {
				continue
			}
			h.mark(*r)
		}
	}
	for _, v := range h.globals {
		h.mark(v)
	}
	for _, v := range h.named {
		h.mark(v)
	}
	swept := 0
	for v, b := range h.blocks {
		if !b.marked {
			delete(h.blocks, v)
			delete(h.names, v)
			swept++
		}
	}
	h.collections++
	h.logger.Debug("collection finished",
		zap.Int("live", len(h.blocks)),
		zap.Int("swept", swept),
		zap.Int("root_frames", len(h.frames)))
}

func (h *Heap) mark(v mlvalue.Value) {
	stack := []mlvalue.Value{v}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !mlvalue.IsBlock(v) {
			continue
		}
		b, ok := h.blocks[v]
		if !ok {
			mlvalue.Fatalf("collector reached dangling block handle %#x", uintptr(v))
		}
		if b.marked {
			continue
		}
		b.marked = true
		if !b.scannable() {
			continue
		}
		for i, f := range b.fields {
			if f == 0 {
				mlvalue.Fatalf("collector reached uninitialised field %d of block %#x", i, uintptr(v))
			}
			stack = append(stack, f)
		}
	}
}

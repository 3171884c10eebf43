package soft

import (
	"sync"

	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

type descriptorHeap struct {
	dev       *Device
	desc      native.DescriptorHeapDesc
	gpuBase   uint64
	increment uint64

	mu    sync.RWMutex
	slots []native.Descriptor
}

func (h *descriptorHeap) Desc() native.DescriptorHeapDesc { return h.desc }

func (h *descriptorHeap) GPUHandle(index uint32) uint64 {
	if !h.desc.ShaderVisible {
		return 0
	}
	return h.gpuBase + uint64(index)*h.increment
}

func (h *descriptorHeap) Write(index uint32, d native.Descriptor) {
	h.mu.Lock()
	h.slots[index] = d
	h.mu.Unlock()
}

func (h *descriptorHeap) Release() {
	if !h.desc.ShaderVisible {
		return
	}
	h.dev.mu.Lock()
	defer h.dev.mu.Unlock()
	for i, o := range h.dev.heaps {
		if o == h {
			h.dev.heaps = append(h.dev.heaps[:i], h.dev.heaps[i+1:]...)
			return
		}
	}
}

func (h *descriptorHeap) read(index, count uint32) []native.Descriptor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	end := min(index+count, uint32(len(h.slots)))
	if index >= end {
		return nil
	}
	return append([]native.Descriptor(nil), h.slots[index:end]...)
}

// ReadDescriptors returns a copy of count slots of heap starting at index.
func ReadDescriptors(heap native.DescriptorHeap, index, count uint32) []native.Descriptor {
	return heap.(*descriptorHeap).read(index, count)
}

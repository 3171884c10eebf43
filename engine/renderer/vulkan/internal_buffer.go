package vulkan

import (
	"context"
	"math/bits"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

const internalBufferMinSize = 256

// internalBuffer is a scratch buffer owned by a command buffer for the
// lifetime of its recording: rewritten indirect arguments, fan index
// buffers, staging data for buffer updates.
type internalBuffer struct {
	Resource native.Resource
	heap     native.HeapKind
	size     uint64
	// state recorded so far in the owning command buffer
	state native.ResourceState
}

func (b *internalBuffer) Address() uint64 {
	return b.Resource.GPUVirtualAddress()
}

// homeState is the state the buffer is created in and returned to at the
// end of every recording.
func (b *internalBuffer) homeState() native.ResourceState {
	return internalBufferHomeState(b.heap)
}

func internalBufferHomeState(heap native.HeapKind) native.ResourceState {
	switch heap {
	case native.HeapKindUpload:
		return native.ResourceStateGenericRead
	case native.HeapKindReadback:
		return native.ResourceStateCopyDest
	}
	return native.ResourceStateCommon
}

// write copies data into a host visible buffer.
func (b *internalBuffer) write(offset uint64, data []byte) error {
	mem, err := b.Resource.Map()
	if err != nil {
		return err
	}
	copy(mem[offset:], data)
	b.Resource.Unmap()
	return nil
}

type internalBufferKey struct {
	heap native.HeapKind
	size uint64
}

// internalBufferClass rounds size up to the next power of two.
func internalBufferClass(size uint64) uint64 {
	if size <= internalBufferMinSize {
		return internalBufferMinSize
	}
	return 1 << bits.Len64(size-1)
}

// internalBufferCache recycles scratch buffers between recordings. Buffers
// are bucketed by heap and power-of-two size class.
type internalBufferCache struct {
	mu   sync.Mutex
	free map[internalBufferKey][]*internalBuffer
}

func newInternalBufferCache() *internalBufferCache {
	return &internalBufferCache{free: make(map[internalBufferKey][]*internalBuffer)}
}

func (c *internalBufferCache) acquire(device *VulkanDevice, heap native.HeapKind, size uint64) (*internalBuffer, error) {
	key := internalBufferKey{heap: heap, size: internalBufferClass(size)}

	c.mu.Lock()
	if list := c.free[key]; len(list) > 0 {
		b := list[len(list)-1]
		c.free[key] = list[:len(list)-1]
		c.mu.Unlock()
		return b, nil
	}
	c.mu.Unlock()

	desc := native.ResourceDesc{
		Dimension: native.ResourceDimensionBuffer,
		Width:     key.size,
		Height:    1,
		MipLevels: 1,
		Format:    native.FormatUnknown,
	}
	if heap == native.HeapKindDefault {
		desc.Flags = native.ResourceFlagAllowUnorderedAccess
	}
	res, err := device.Native.CreateCommittedResource(heap, desc, internalBufferHomeState(heap))
	if err != nil {
		return nil, err
	}
	return &internalBuffer{Resource: res, heap: heap, size: key.size, state: internalBufferHomeState(heap)}, nil
}

func (c *internalBufferCache) release(b *internalBuffer) {
	b.state = b.homeState()
	key := internalBufferKey{heap: b.heap, size: b.size}
	c.mu.Lock()
	c.free[key] = append(c.free[key], b)
	c.mu.Unlock()
}

// Trim releases every cached buffer.
func (c *internalBufferCache) Trim() {
	c.mu.Lock()
	free := c.free
	c.free = make(map[internalBufferKey][]*internalBuffer)
	c.mu.Unlock()

	n := 0
	for _, list := range free {
		for _, b := range list {
			b.Resource.Release()
			n++
		}
	}
	if n > 0 {
		core.LogDebug("released %d cached internal buffers", n)
	}
}

// allocateInternalBuffer gets a scratch buffer. When device memory runs out
// the queue is drained, the cache emptied and the allocation tried once more.
func (d *VulkanDevice) allocateInternalBuffer(heap native.HeapKind, size uint64) (*internalBuffer, error) {
	b, err := d.internal.acquire(d, heap, size)
	if err == nil || !errors.Is(err, core.ErrOutOfDeviceMemory) {
		return b, err
	}
	core.LogWarn("internal buffer of %d bytes: %s, flushing the queue and retrying", size, err.Error())
	if err := d.queue.WaitIdle(context.Background()); err != nil {
		return nil, err
	}
	d.internal.Trim()
	return d.internal.acquire(d, heap, size)
}

package vulkan

import (
	"context"
	"encoding/binary"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

/**
 * @brief Occlusion or timestamp queries. Results are resolved into a
 * readback buffer by the command buffer that ends them and become available
 * once its submission completed.
 */
type VulkanQueryPool struct {
	Type  vk.QueryType
	Count uint32

	device   *VulkanDevice
	heap     native.QueryHeap
	readback native.Resource

	mu sync.Mutex
	// queue progress value after which each result is readable, 0 when the
	// query was reset or never ended
	available []uint64
	precise   []bool
}

// queryStamp records queries touched by a command buffer, applied to the
// pool when the command buffer is submitted.
type queryStamp struct {
	pool  *VulkanQueryPool
	first uint32
	count uint32
	reset bool
}

func NewQueryPool(device *VulkanDevice, typ vk.QueryType, count uint32) (*VulkanQueryPool, error) {
	var heapType native.QueryHeapType
	switch typ {
	case vk.QueryTypeOcclusion:
		heapType = native.QueryHeapTypeOcclusion
	case vk.QueryTypeTimestamp:
		heapType = native.QueryHeapTypeTimestamp
	default:
		return nil, core.Errorf(core.ErrFeatureNotPresent, "query type %d not supported", typ)
	}
	heap, err := device.Native.CreateQueryHeap(heapType, count)
	if err != nil {
		return nil, resultError("failed to create query heap", err)
	}
	readback, err := device.Native.CreateCommittedResource(native.HeapKindReadback, native.ResourceDesc{
		Dimension: native.ResourceDimensionBuffer,
		Width:     uint64(max(count, 1)) * 8,
		Height:    1,
		MipLevels: 1,
	}, native.ResourceStateCopyDest)
	if err != nil {
		heap.Release()
		return nil, resultError("failed to create query readback buffer", err)
	}
	return &VulkanQueryPool{
		Type:      typ,
		Count:     count,
		device:    device,
		heap:      heap,
		readback:  readback,
		available: make([]uint64, count),
		precise:   make([]bool, count),
	}, nil
}

func (p *VulkanQueryPool) Destroy() {
	p.heap.Release()
	p.readback.Release()
}

func (p *VulkanQueryPool) checkRange(first, count uint32) error {
	if uint64(first)+uint64(count) > uint64(p.Count) {
		return core.Errorf(core.ErrInvalidState, "queries %d+%d out of pool of %d", first, count, p.Count)
	}
	return nil
}

// HostReset resets queries from the host.
func (p *VulkanQueryPool) HostReset(first, count uint32) error {
	if err := p.checkRange(first, count); err != nil {
		return err
	}
	p.stamp(queryStamp{pool: p, first: first, count: count, reset: true}, 0)
	return nil
}

func (p *VulkanQueryPool) stamp(s queryStamp, value uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := s.first; i < s.first+s.count; i++ {
		if s.reset {
			p.available[i] = 0
		} else {
			p.available[i] = value
		}
	}
}

func (p *VulkanQueryPool) nativeType(query uint32) native.QueryType {
	if p.Type == vk.QueryTypeTimestamp {
		return native.QueryTypeTimestamp
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.precise[query] {
		return native.QueryTypeOcclusion
	}
	return native.QueryTypeBinaryOcclusion
}

// GetResults reads count results starting at first. Without the wait flag
// results that are not available yet are left at zero and ErrNotReady is
// returned.
func (p *VulkanQueryPool) GetResults(ctx context.Context, first, count uint32, flags vk.QueryResultFlags) ([]uint64, error) {
	if err := p.checkRange(first, count); err != nil {
		return nil, err
	}
	progress := p.device.queue.progress
	p.mu.Lock()
	values := append([]uint64(nil), p.available[first:first+count]...)
	p.mu.Unlock()

	wait := flags&vk.QueryResultFlags(vk.QueryResultWaitBit) != 0
	if wait {
		var target uint64
		for i, v := range values {
			if v == 0 {
				return nil, core.Errorf(core.ErrInvalidState, "waiting on query %d that was never ended", first+uint32(i))
			}
			target = max(target, v)
		}
		if err := progress.Wait(ctx, target); err != nil {
			return nil, err
		}
	}

	mem, err := p.readback.Map()
	if err != nil {
		return nil, core.Mark(err, core.ErrOutOfHostMemory)
	}
	defer p.readback.Unmap()

	completed := progress.CompletedValue()
	out := make([]uint64, count)
	ready := true
	for i, v := range values {
		if v == 0 || v > completed {
			ready = false
			continue
		}
		out[i] = binary.LittleEndian.Uint64(mem[(first+uint32(i))*8:])
	}
	if !ready {
		return out, core.Errorf(core.ErrNotReady, "query results not available")
	}
	return out, nil
}

func (cb *VulkanCommandBuffer) ResetQueryPool(pool *VulkanQueryPool, first, count uint32) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	if err := pool.checkRange(first, count); err != nil {
		return err
	}
	cb.queries = append(cb.queries, queryStamp{pool: pool, first: first, count: count, reset: true})
	return nil
}

func (cb *VulkanCommandBuffer) BeginQuery(pool *VulkanQueryPool, query uint32, flags vk.QueryControlFlags) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	if err := pool.checkRange(query, 1); err != nil {
		return err
	}
	if pool.Type != vk.QueryTypeOcclusion {
		return core.Errorf(core.ErrInvalidState, "begin of a non occlusion query")
	}
	pool.mu.Lock()
	pool.precise[query] = flags&vk.QueryControlFlags(vk.QueryControlPreciseBit) != 0
	pool.mu.Unlock()

	batch, err := cb.getBatch(false)
	if err != nil {
		return err
	}
	batch.List.BeginQuery(pool.heap, pool.nativeType(query), query)
	batch.hasWork = true
	return nil
}

func (cb *VulkanCommandBuffer) EndQuery(pool *VulkanQueryPool, query uint32) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	if err := pool.checkRange(query, 1); err != nil {
		return err
	}
	batch, err := cb.getBatch(false)
	if err != nil {
		return err
	}
	typ := pool.nativeType(query)
	batch.List.EndQuery(pool.heap, typ, query)
	batch.List.ResolveQueryData(pool.heap, typ, query, 1, pool.readback, uint64(query)*8)
	batch.hasWork = true
	cb.queries = append(cb.queries, queryStamp{pool: pool, first: query, count: 1})
	return nil
}

func (cb *VulkanCommandBuffer) WriteTimestamp(stage vk.PipelineStageFlagBits, pool *VulkanQueryPool, query uint32) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	if err := pool.checkRange(query, 1); err != nil {
		return err
	}
	if pool.Type != vk.QueryTypeTimestamp {
		return core.Errorf(core.ErrInvalidState, "timestamp written to a non timestamp pool")
	}
	batch, err := cb.getBatch(false)
	if err != nil {
		return err
	}
	batch.List.EndQuery(pool.heap, native.QueryTypeTimestamp, query)
	batch.List.ResolveQueryData(pool.heap, native.QueryTypeTimestamp, query, 1, pool.readback, uint64(query)*8)
	batch.hasWork = true
	cb.queries = append(cb.queries, queryStamp{pool: pool, first: query, count: 1})
	return nil
}

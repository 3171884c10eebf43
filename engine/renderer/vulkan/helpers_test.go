package vulkan

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native/soft"
)

const testTimeout = 5 * time.Second

func newTestDevice(t *testing.T, opts soft.Options) (*VulkanDevice, *soft.Device) {
	t.Helper()
	return newTestDeviceWithConfig(t, opts, core.DefaultConfig())
}

func newTestDeviceWithConfig(t *testing.T, opts soft.Options, cfg core.Config) (*VulkanDevice, *soft.Device) {
	t.Helper()
	sd := soft.New(opts)
	d, err := NewVulkanDevice(sd, cfg)
	if err != nil {
		sd.Close()
		t.Fatalf("NewVulkanDevice: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = d.Destroy(ctx)
		sd.Close()
	})
	return d, sd
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

// beginCommandBuffer allocates a command buffer from a fresh pool and starts
// recording.
func beginCommandBuffer(t *testing.T, d *VulkanDevice) *VulkanCommandBuffer {
	t.Helper()
	pool := NewVulkanCommandPool(d)
	t.Cleanup(func() { _ = pool.Destroy() })
	cb := pool.AllocateCommandBuffers(1)[0]
	if err := cb.Begin(0); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return cb
}

// submitAndWait ends every command buffer still recording, submits them in
// order and waits for the queue.
func submitAndWait(t *testing.T, d *VulkanDevice, cbs ...*VulkanCommandBuffer) {
	t.Helper()
	for _, cb := range cbs {
		if cb.State == COMMAND_BUFFER_STATE_RECORDING {
			if err := cb.End(); err != nil {
				t.Fatalf("End: %v", err)
			}
		}
	}
	if err := d.Queue().Submit([]VulkanSubmitInfo{{CommandBuffers: cbs}}, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := d.WaitIdle(testContext(t)); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
}

func newLayout(t *testing.T, d *VulkanDevice, sets []*VulkanDescriptorSetLayout, push []VulkanPushConstantRange) *VulkanPipelineLayout {
	t.Helper()
	pl, err := NewVulkanPipelineLayout(d, sets, push)
	if err != nil {
		t.Fatalf("NewVulkanPipelineLayout: %v", err)
	}
	t.Cleanup(pl.Destroy)
	return pl
}

func newGraphicsPipeline(t *testing.T, d *VulkanDevice, label string, layout *VulkanPipelineLayout, topology vk.PrimitiveTopology) *VulkanPipeline {
	t.Helper()
	p, err := NewGraphicsPipeline(d, &VulkanPipelineConfig{
		Native:         soft.NewPipelineState(label),
		Layout:         layout,
		Topology:       topology,
		VertexBindings: []VulkanVertexBinding{{Binding: 0, Stride: 12}},
		DynamicStates:  []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor},
	})
	if err != nil {
		t.Fatalf("NewGraphicsPipeline: %v", err)
	}
	t.Cleanup(func() { _ = p.Destroy(d) })
	return p
}

func newComputePipeline(t *testing.T, d *VulkanDevice, label string, layout *VulkanPipelineLayout) *VulkanPipeline {
	t.Helper()
	p, err := NewComputePipeline(d, soft.NewPipelineState(label), layout)
	if err != nil {
		t.Fatalf("NewComputePipeline: %v", err)
	}
	t.Cleanup(func() { _ = p.Destroy(d) })
	return p
}

// hostBuffer creates a host visible buffer holding data.
func hostBuffer(t *testing.T, d *VulkanDevice, usage vk.BufferUsageFlagBits, size uint64, data []byte) *VulkanBuffer {
	t.Helper()
	b, err := NewVulkanBuffer(d, max(size, uint64(len(data))), vk.BufferUsageFlags(usage), true)
	if err != nil {
		t.Fatalf("NewVulkanBuffer: %v", err)
	}
	t.Cleanup(b.Destroy)
	if len(data) > 0 {
		if err := b.Write(0, data); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	return b
}

func deviceBuffer(t *testing.T, d *VulkanDevice, usage vk.BufferUsageFlagBits, size uint64) *VulkanBuffer {
	t.Helper()
	b, err := NewVulkanBuffer(d, size, vk.BufferUsageFlags(usage), false)
	if err != nil {
		t.Fatalf("NewVulkanBuffer: %v", err)
	}
	t.Cleanup(b.Destroy)
	return b
}

func u16s(values ...uint16) []byte {
	out := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}
	return out
}

func u32s(values ...uint32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}

func equalU32(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

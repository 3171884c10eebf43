package vulkan

import (
	"testing"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native/soft"
)

func TestCommandBufferStateString(t *testing.T) {
	tests := map[VulkanCommandBufferState]string{
		COMMAND_BUFFER_STATE_INITIAL:    "INITIAL",
		COMMAND_BUFFER_STATE_RECORDING:  "RECORDING",
		COMMAND_BUFFER_STATE_EXECUTABLE: "EXECUTABLE",
		COMMAND_BUFFER_STATE_INVALID:    "INVALID",
		VulkanCommandBufferState(42):    "UNKNOWN",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(state), got, want)
		}
	}
}

func TestCommandBufferLifecycle(t *testing.T) {
	d, _ := newTestDevice(t, soft.Options{})
	pool := NewVulkanCommandPool(d)
	defer pool.Destroy()
	cb := pool.AllocateCommandBuffers(1)[0]

	if cb.State != COMMAND_BUFFER_STATE_INITIAL {
		t.Fatalf("new command buffer state = %s", cb.State)
	}
	if err := cb.End(); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("End before Begin: err = %v, want ErrInvalidState", err)
	}
	if err := cb.Begin(0); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := cb.Begin(0); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("Begin while recording: err = %v, want ErrInvalidState", err)
	}
	if len(cb.Batches()) != 1 {
		t.Errorf("Begin opened %d batches, want 1", len(cb.Batches()))
	}
	if err := cb.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if cb.State != COMMAND_BUFFER_STATE_EXECUTABLE {
		t.Errorf("state after End = %s", cb.State)
	}
	if err := cb.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if cb.State != COMMAND_BUFFER_STATE_INITIAL || len(cb.Batches()) != 0 {
		t.Errorf("after Reset: state %s, %d batches", cb.State, len(cb.Batches()))
	}

	// Begin on an executable command buffer resets it implicitly
	if err := cb.Begin(0); err != nil {
		t.Fatal(err)
	}
	if err := cb.End(); err != nil {
		t.Fatal(err)
	}
	if err := cb.Begin(0); err != nil {
		t.Errorf("Begin on an executable command buffer: %v", err)
	}
}

func TestCommandBufferHandles(t *testing.T) {
	d, _ := newTestDevice(t, soft.Options{})
	pool := NewVulkanCommandPool(d)
	defer pool.Destroy()
	cbs := pool.AllocateCommandBuffers(2)

	got, err := d.CommandBuffer(cbs[1].Handle)
	if err != nil || got != cbs[1] {
		t.Fatalf("CommandBuffer(%d) = %v, %v", cbs[1].Handle, got, err)
	}
	if cbs[0].Label == "" || cbs[0].Label == cbs[1].Label {
		t.Errorf("labels %q and %q", cbs[0].Label, cbs[1].Label)
	}
	if err := pool.FreeCommandBuffers(cbs[1]); err != nil {
		t.Fatalf("FreeCommandBuffers: %v", err)
	}
	if _, err := d.CommandBuffer(cbs[1].Handle); err == nil {
		t.Error("freed command buffer still resolves")
	}
}

func TestCommandBufferRecordsMetrics(t *testing.T) {
	d, _ := newTestDevice(t, soft.Options{})
	layout := newLayout(t, d, nil, nil)
	p := newGraphicsPipeline(t, d, "triangles", layout, vk.PrimitiveTopologyTriangleList)

	before := core.MetricsSnapshotNow()
	cb := beginCommandBuffer(t, d)
	if err := cb.BindPipeline(vk.PipelineBindPointGraphics, p); err != nil {
		t.Fatal(err)
	}
	if err := cb.Draw(3, 1, 0, 0); err != nil {
		t.Fatal(err)
	}
	submitAndWait(t, d, cb)

	diff := core.MetricsSnapshotNow().Sub(before)
	if diff.Recordings < 1 || diff.Submissions < 1 || diff.BatchesOpened < 1 || diff.PipelineUpdates < 1 {
		t.Errorf("metrics diff = %+v", diff)
	}
	if cb.Stats.Draws != 1 || cb.Stats.Batches != 1 {
		t.Errorf("stats = %+v", cb.Stats)
	}
}

func TestFreeCommandBuffers(t *testing.T) {
	d, _ := newTestDevice(t, soft.Options{})
	layout := newLayout(t, d, nil, nil)
	p := newGraphicsPipeline(t, d, "triangles", layout, vk.PrimitiveTopologyTriangleList)
	record := func(pool *VulkanCommandPool, events ...*VulkanEvent) *VulkanCommandBuffer {
		t.Helper()
		cb := pool.AllocateCommandBuffers(1)[0]
		if err := cb.Begin(0); err != nil {
			t.Fatal(err)
		}
		if len(events) > 0 {
			if err := cb.WaitEvents(events, 0, 0, nil, nil, nil); err != nil {
				t.Fatal(err)
			}
		}
		if err := cb.BindPipeline(vk.PipelineBindPointGraphics, p); err != nil {
			t.Fatal(err)
		}
		if err := cb.Draw(3, 1, 0, 0); err != nil {
			t.Fatal(err)
		}
		if err := cb.End(); err != nil {
			t.Fatal(err)
		}
		return cb
	}

	t.Run("after fence wait", func(t *testing.T) {
		pool := NewVulkanCommandPool(d)
		defer pool.Destroy()
		f, err := NewFence(d, false)
		if err != nil {
			t.Fatal(err)
		}
		defer f.Destroy()
		cb := record(pool)
		if err := d.Queue().Submit([]VulkanSubmitInfo{{CommandBuffers: []*VulkanCommandBuffer{cb}}}, f); err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if err := f.Wait(testContext(t)); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		if err := pool.FreeCommandBuffers(cb); err != nil {
			t.Fatalf("FreeCommandBuffers: %v", err)
		}
		if _, err := d.CommandBuffer(cb.Handle); err == nil {
			t.Error("freed command buffer still resolves")
		}
	})

	t.Run("while pending", func(t *testing.T) {
		ev, err := NewEvent(d)
		if err != nil {
			t.Fatal(err)
		}
		defer ev.Destroy()
		pool := NewVulkanCommandPool(d)
		defer pool.Destroy()
		cb := record(pool, ev)
		if err := d.Queue().Submit([]VulkanSubmitInfo{{CommandBuffers: []*VulkanCommandBuffer{cb}}}, nil); err != nil {
			t.Fatalf("Submit: %v", err)
		}

		err = pool.FreeCommandBuffers(cb)
		if !errors.Is(err, core.ErrInvalidState) {
			t.Errorf("free while blocked on an event: err = %v, want ErrInvalidState", err)
		}
		if got, err := d.CommandBuffer(cb.Handle); err != nil || got != cb {
			t.Errorf("pending command buffer lost its handle: %v, %v", got, err)
		}

		if err := ev.Set(); err != nil {
			t.Fatal(err)
		}
		if err := d.WaitIdle(testContext(t)); err != nil {
			t.Fatal(err)
		}
		if err := pool.FreeCommandBuffers(cb); err != nil {
			t.Fatalf("FreeCommandBuffers after WaitIdle: %v", err)
		}
	})
}

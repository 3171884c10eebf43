package testbed

import (
	"context"
	"encoding/binary"
	"fmt"
	"runtime"
	"time"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
	"github.com/spaghettifunk/dozen/engine/renderer/native/soft"
	"github.com/spaghettifunk/dozen/engine/renderer/vulkan"
	"github.com/spaghettifunk/dozen/engine/systems"
)

const (
	targetWidth  = 64
	targetHeight = 64
	// command buffers recorded in parallel each frame
	recorders = 3
)

// TestScene records a fixed frame exercising the translation paths:
// triangle fans, indirect draws with a count buffer, a render pass with
// occlusion and timestamp queries, events and a readback of the target.
type TestScene struct {
	Config core.Config

	native *soft.Device
	device *vulkan.VulkanDevice
	jobs   *systems.JobSystem
	clock  *core.Clock

	pools     [recorders]*vulkan.VulkanCommandPool
	cbs       [recorders]*vulkan.VulkanCommandBuffer
	fence     *vulkan.VulkanFence
	rendered  *vulkan.VulkanEvent
	occlusion *vulkan.VulkanQueryPool
	timing    *vulkan.VulkanQueryPool

	setLayout   *vulkan.VulkanDescriptorSetLayout
	layout      *vulkan.VulkanPipelineLayout
	descPool    *vulkan.VulkanDescriptorPool
	set         *vulkan.VulkanDescriptorSet
	fan         *vulkan.VulkanPipeline
	list        *vulkan.VulkanPipeline
	cull        *vulkan.VulkanPipeline
	renderpass  *vulkan.VulkanRenderpass
	framebuffer *vulkan.VulkanFramebuffer

	color    *vulkan.VulkanImage
	depth    *vulkan.VulkanImage
	buffers  []*vulkan.VulkanBuffer
	vertices *vulkan.VulkanBuffer
	indices  *vulkan.VulkanBuffer
	uniforms *vulkan.VulkanBuffer
	args     *vulkan.VulkanBuffer
	count    *vulkan.VulkanBuffer
	dispatch *vulkan.VulkanBuffer
	readback *vulkan.VulkanBuffer

	frame uint64
}

func NewTestScene(cfg core.Config) *TestScene {
	return &TestScene{Config: cfg, clock: core.NewClock()}
}

func (s *TestScene) Boot(ctx context.Context) error {
	core.LogInfo("booting testbed...")

	s.native = soft.New(soft.Options{})
	d, err := vulkan.NewVulkanDevice(s.native, s.Config)
	if err != nil {
		return err
	}
	s.device = d

	jobs, err := systems.NewJobSystem(ctx, min(runtime.NumCPU(), recorders), recorders)
	if err != nil {
		return err
	}
	s.jobs = jobs

	for i := range s.pools {
		s.pools[i] = vulkan.NewVulkanCommandPool(d)
		s.cbs[i] = s.pools[i].AllocateCommandBuffers(1)[0]
	}
	if s.fence, err = vulkan.NewFence(d, false); err != nil {
		return err
	}
	if s.rendered, err = vulkan.NewEvent(d); err != nil {
		return err
	}
	if s.occlusion, err = vulkan.NewQueryPool(d, vk.QueryTypeOcclusion, 1); err != nil {
		return err
	}
	if s.timing, err = vulkan.NewQueryPool(d, vk.QueryTypeTimestamp, 2); err != nil {
		return err
	}

	if err := s.createBuffers(); err != nil {
		return err
	}
	if err := s.createPipelines(); err != nil {
		return err
	}
	if err := s.createTargets(); err != nil {
		return err
	}
	return s.createDescriptors()
}

func (s *TestScene) buffer(size uint64, usage vk.BufferUsageFlagBits, hostVisible bool, data []byte) (*vulkan.VulkanBuffer, error) {
	b, err := vulkan.NewVulkanBuffer(s.device, max(size, uint64(len(data))), vk.BufferUsageFlags(usage), hostVisible)
	if err != nil {
		return nil, err
	}
	s.buffers = append(s.buffers, b)
	if len(data) > 0 {
		if err := b.Write(0, data); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func words(values ...uint32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}

func (s *TestScene) createBuffers() error {
	var err error
	// a hexagon: the hub followed by six rim vertices and the first again
	if s.vertices, err = s.buffer(8*12, vk.BufferUsageVertexBufferBit, true, nil); err != nil {
		return err
	}
	if s.indices, err = s.buffer(0, vk.BufferUsageIndexBufferBit, true, words(0, 1, 2, 3, 4, 5, 6, 1)); err != nil {
		return err
	}
	if s.uniforms, err = s.buffer(256, vk.BufferUsageUniformBufferBit, true, nil); err != nil {
		return err
	}
	// two indexed draws, the count buffer decides how many run
	if s.args, err = s.buffer(0, vk.BufferUsageIndirectBufferBit, true, words(
		8, 1, 0, 0, 0,
		8, 2, 0, 0, 1,
	)); err != nil {
		return err
	}
	if s.count, err = s.buffer(4, vk.BufferUsageIndirectBufferBit|vk.BufferUsageTransferDstBit, false, nil); err != nil {
		return err
	}
	if s.dispatch, err = s.buffer(0, vk.BufferUsageIndirectBufferBit, true, words(8, 8, 1)); err != nil {
		return err
	}
	s.readback, err = s.buffer(targetWidth*targetHeight*4, vk.BufferUsageTransferDstBit, false, nil)
	return err
}

func (s *TestScene) createPipelines() error {
	var err error
	s.setLayout, err = vulkan.NewVulkanDescriptorSetLayout([]vulkan.VulkanDescriptorSetLayoutBinding{{
		Binding:         0,
		DescriptorType:  vk.DescriptorTypeUniformBuffer,
		DescriptorCount: 1,
		StageFlags:      vk.ShaderStageFlags(vk.ShaderStageVertexBit),
	}})
	if err != nil {
		return err
	}
	s.layout, err = vulkan.NewVulkanPipelineLayout(s.device, []*vulkan.VulkanDescriptorSetLayout{s.setLayout}, []vulkan.VulkanPushConstantRange{{
		StageFlags: vk.ShaderStageFlags(vk.ShaderStageVertexBit), Size: 16,
	}})
	if err != nil {
		return err
	}
	graphics := func(label string, topology vk.PrimitiveTopology) (*vulkan.VulkanPipeline, error) {
		return vulkan.NewGraphicsPipeline(s.device, &vulkan.VulkanPipelineConfig{
			Native:         soft.NewPipelineState(label),
			Layout:         s.layout,
			Topology:       topology,
			VertexBindings: []vulkan.VulkanVertexBinding{{Binding: 0, Stride: 12}},
			DynamicStates:  []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor},
		})
	}
	if s.fan, err = graphics("hexagon fan", vk.PrimitiveTopologyTriangleFan); err != nil {
		return err
	}
	if s.list, err = graphics("triangle list", vk.PrimitiveTopologyTriangleList); err != nil {
		return err
	}
	s.cull, err = vulkan.NewComputePipeline(s.device, soft.NewPipelineState("cull"), s.layout)
	return err
}

func (s *TestScene) createTargets() error {
	var err error
	s.color, err = vulkan.NewVulkanImage(s.device, vulkan.VulkanImageCreateInfo{
		Format: vk.FormatR8g8b8a8Unorm, Width: targetWidth, Height: targetHeight, MipLevels: 1, ArrayLayers: 1,
		Usage: vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferSrcBit),
	})
	if err != nil {
		return err
	}
	s.depth, err = vulkan.NewVulkanImage(s.device, vulkan.VulkanImageCreateInfo{
		Format: vk.FormatD32Sfloat, Width: targetWidth, Height: targetHeight, MipLevels: 1, ArrayLayers: 1,
		Usage: vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
	})
	if err != nil {
		return err
	}
	s.renderpass, err = vulkan.NewVulkanRenderpass([]vk.AttachmentDescription{
		{
			Format: vk.FormatR8g8b8a8Unorm, Samples: vk.SampleCount1Bit,
			LoadOp: vk.AttachmentLoadOpClear, StoreOp: vk.AttachmentStoreOpStore,
			InitialLayout: vk.ImageLayoutColorAttachmentOptimal, FinalLayout: vk.ImageLayoutColorAttachmentOptimal,
		},
		{
			Format: vk.FormatD32Sfloat, Samples: vk.SampleCount1Bit,
			LoadOp: vk.AttachmentLoadOpClear, StoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout: vk.ImageLayoutDepthStencilAttachmentOptimal, FinalLayout: vk.ImageLayoutDepthStencilAttachmentOptimal,
		},
	}, []vk.SubpassDescription{{
		PipelineBindPoint:       vk.PipelineBindPointGraphics,
		ColorAttachmentCount:    1,
		PColorAttachments:       []vk.AttachmentReference{{Attachment: 0, Layout: vk.ImageLayoutColorAttachmentOptimal}},
		PDepthStencilAttachment: &vk.AttachmentReference{Attachment: 1, Layout: vk.ImageLayoutDepthStencilAttachmentOptimal},
	}})
	if err != nil {
		return err
	}
	s.framebuffer, err = vulkan.FramebufferCreate(s.renderpass, targetWidth, targetHeight, 1, []*vulkan.VulkanImageView{
		vulkan.NewVulkanImageView(s.color, native.ViewDimensionTexture2D, colorRange()),
		vulkan.NewVulkanImageView(s.depth, native.ViewDimensionTexture2D, vulkan.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectDepthBit), LevelCount: 1, LayerCount: 1,
		}),
	})
	return err
}

func colorRange() vulkan.ImageSubresourceRange {
	return vulkan.ImageSubresourceRange{AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit), LevelCount: 1, LayerCount: 1}
}

func (s *TestScene) createDescriptors() error {
	pool, err := vulkan.NewVulkanDescriptorPool(s.device, 4, []vulkan.VulkanDescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: 4},
	})
	if err != nil {
		return err
	}
	s.descPool = pool
	sets, err := pool.AllocateDescriptorSets([]*vulkan.VulkanDescriptorSetLayout{s.setLayout})
	if err != nil {
		return err
	}
	s.set = sets[0]
	return s.device.UpdateDescriptorSets([]vulkan.VulkanWriteDescriptorSet{{
		DstSet:         s.set,
		DescriptorType: vk.DescriptorTypeUniformBuffer,
		BufferInfo:     []vulkan.VulkanDescriptorBufferInfo{{Buffer: s.uniforms, Range: 256}},
	}}, nil)
}

// bindCommon binds the state every graphics recorder starts from.
func (s *TestScene) bindCommon(cb *vulkan.VulkanCommandBuffer, pipeline *vulkan.VulkanPipeline) error {
	if err := cb.BindPipeline(vk.PipelineBindPointGraphics, pipeline); err != nil {
		return err
	}
	if err := cb.BindDescriptorSets(vk.PipelineBindPointGraphics, s.layout, 0, []*vulkan.VulkanDescriptorSet{s.set}, nil); err != nil {
		return err
	}
	if err := cb.SetViewport(0, []vk.Viewport{{Width: targetWidth, Height: targetHeight, MaxDepth: 1}}); err != nil {
		return err
	}
	if err := cb.SetScissor(0, []vk.Rect2D{{Extent: vk.Extent2D{Width: targetWidth, Height: targetHeight}}}); err != nil {
		return err
	}
	return cb.BindVertexBuffers(0, []*vulkan.VulkanBuffer{s.vertices}, []uint64{0})
}

// recordScene records the render pass: both fan flavours inside an
// occlusion query, bracketed by timestamps, then signals the event.
func (s *TestScene) recordScene(cb *vulkan.VulkanCommandBuffer) error {
	steps := []func() error{
		func() error { return cb.ResetQueryPool(s.occlusion, 0, 1) },
		func() error { return cb.WriteTimestamp(vk.PipelineStageTopOfPipeBit, s.timing, 0) },
		func() error {
			return cb.BeginRenderPass(&vulkan.VulkanRenderPassBeginInfo{
				RenderPass:  s.renderpass,
				Framebuffer: s.framebuffer,
				RenderArea:  vk.Rect2D{Extent: vk.Extent2D{Width: targetWidth, Height: targetHeight}},
				ClearValues: []vulkan.ClearValue{{Color: [4]float32{0.1, 0.1, 0.1, 1}}, {Depth: 1}},
			})
		},
		func() error { return s.bindCommon(cb, s.fan) },
		func() error { return cb.PushConstants(s.layout, vk.ShaderStageFlags(vk.ShaderStageVertexBit), 0, words(uint32(s.frame))) },
		func() error { return cb.BeginQuery(s.occlusion, 0, vk.QueryControlFlags(vk.QueryControlPreciseBit)) },
		func() error { return cb.Draw(8, 1, 0, 0) },
		func() error { return cb.BindIndexBuffer(s.indices, 0, vk.IndexTypeUint32) },
		func() error { return cb.DrawIndexed(8, 1, 0, 0, 0) },
		func() error { return cb.EndQuery(s.occlusion, 0) },
		cb.EndRenderPass,
		func() error { return cb.WriteTimestamp(vk.PipelineStageBottomOfPipeBit, s.timing, 1) },
		func() error { return cb.SetEvent(s.rendered, vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// recordIndirect writes the draw count on the GPU and issues the indirect
// work: a count-driven indexed draw and an indirect dispatch.
func (s *TestScene) recordIndirect(cb *vulkan.VulkanCommandBuffer) error {
	drawCount := uint32(1 + s.frame%2)
	if err := cb.UpdateBuffer(s.count, 0, words(drawCount)); err != nil {
		return err
	}
	if err := cb.PipelineBarrier(
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageDrawIndirectBit),
		nil, []vulkan.VulkanBufferMemoryBarrier{{Buffer: s.count, Size: vulkan.WholeSize}}, nil,
	); err != nil {
		return err
	}
	if err := cb.BindPipeline(vk.PipelineBindPointCompute, s.cull); err != nil {
		return err
	}
	if err := cb.DispatchIndirect(s.dispatch, 0); err != nil {
		return err
	}
	if err := s.bindCommon(cb, s.list); err != nil {
		return err
	}
	if err := cb.BindIndexBuffer(s.indices, 0, vk.IndexTypeUint32); err != nil {
		return err
	}
	return cb.DrawIndexedIndirectCount(s.args, 0, s.count, 0, 2, 20)
}

// recordReadback waits for the scene, copies the color target out and
// resets the event for the next frame.
func (s *TestScene) recordReadback(cb *vulkan.VulkanCommandBuffer) error {
	toCopy := []vulkan.VulkanImageMemoryBarrier{{
		OldLayout: vk.ImageLayoutColorAttachmentOptimal, NewLayout: vk.ImageLayoutTransferSrcOptimal,
		Image: s.color, SubresourceRange: colorRange(),
	}}
	if err := cb.WaitEvents([]*vulkan.VulkanEvent{s.rendered},
		vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		vk.PipelineStageFlags(vk.PipelineStageTransferBit), nil, nil, toCopy); err != nil {
		return err
	}
	region := vulkan.VulkanBufferImageCopy{
		ImageSubresource: vulkan.ImageSubresourceLayers{AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit), LayerCount: 1},
		ImageExtent:      vk.Extent3D{Width: targetWidth, Height: targetHeight, Depth: 1},
	}
	if err := cb.CopyImageToBuffer(s.color, vk.ImageLayoutTransferSrcOptimal, s.readback, []vulkan.VulkanBufferImageCopy{region}); err != nil {
		return err
	}
	back := []vulkan.VulkanImageMemoryBarrier{{
		OldLayout: vk.ImageLayoutTransferSrcOptimal, NewLayout: vk.ImageLayoutColorAttachmentOptimal,
		Image: s.color, SubresourceRange: colorRange(),
	}}
	if err := cb.PipelineBarrier(0, 0, nil, nil, back); err != nil {
		return err
	}
	return cb.ResetEvent(s.rendered, vk.PipelineStageFlags(vk.PipelineStageTransferBit))
}

// RenderFrame records the frame on the job system, submits it and waits for
// the fence.
func (s *TestScene) RenderFrame(ctx context.Context) error {
	s.clock.Start()
	recordFns := [recorders]func(*vulkan.VulkanCommandBuffer) error{s.recordScene, s.recordIndirect, s.recordReadback}
	for i, record := range recordFns {
		cb := s.cbs[i]
		s.jobs.Submit(systems.JobTask{
			Name: fmt.Sprintf("frame %d recorder %d", s.frame, i),
			Run: func(ctx context.Context) error {
				// one-time submit leaves the buffer invalid, Begin resets it
				if err := cb.Begin(vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)); err != nil {
					return err
				}
				if err := record(cb); err != nil {
					return err
				}
				return cb.End()
			},
		})
	}
	if err := s.jobs.Wait(); err != nil {
		return err
	}
	s.clock.Update()
	recording := s.clock.Elapsed()

	if err := s.fence.Reset(); err != nil {
		return err
	}
	if err := s.device.Queue().Submit([]vulkan.VulkanSubmitInfo{{CommandBuffers: s.cbs[:]}}, s.fence); err != nil {
		return err
	}
	if err := s.fence.Wait(ctx); err != nil {
		return err
	}
	// retires the frame so its command buffers can be recorded again
	if err := s.device.WaitIdle(ctx); err != nil {
		return err
	}
	s.clock.Update()
	s.clock.Stop()

	samples, err := s.occlusion.GetResults(ctx, 0, 1, vk.QueryResultFlags(vk.QueryResultWaitBit))
	if err != nil {
		return err
	}
	stamps, err := s.timing.GetResults(ctx, 0, 2, vk.QueryResultFlags(vk.QueryResultWaitBit))
	if err != nil {
		return err
	}
	core.LogInfo("frame %d: recorded in %s, total %s, %d samples passed, %d gpu ticks",
		s.frame, recording, s.clock.Elapsed(), samples[0], stamps[1]-stamps[0])
	if v := s.native.ValidationErrors(); len(v) > 0 {
		core.LogWarn("frame %d: %d validation errors, first: %s", s.frame, len(v), v[0])
	}
	s.frame++
	return nil
}

func (s *TestScene) Shutdown(ctx context.Context) error {
	core.LogInfo("shutting down testbed after %d frames", s.frame)
	var firstErr error
	if s.device != nil {
		firstErr = s.device.WaitIdle(ctx)
	}
	if s.jobs != nil {
		_ = s.jobs.Shutdown()
	}
	for _, p := range s.pools {
		if p != nil {
			_ = p.Destroy()
		}
	}
	if s.descPool != nil {
		s.descPool.Destroy()
	}
	for _, p := range []*vulkan.VulkanPipeline{s.fan, s.list, s.cull} {
		if p != nil {
			_ = p.Destroy(s.device)
		}
	}
	if s.layout != nil {
		s.layout.Destroy()
	}
	if s.setLayout != nil {
		s.setLayout.Destroy()
	}
	if s.framebuffer != nil {
		s.framebuffer.Destroy()
	}
	if s.renderpass != nil {
		s.renderpass.Destroy()
	}
	for _, img := range []*vulkan.VulkanImage{s.color, s.depth} {
		if img != nil {
			img.Destroy()
		}
	}
	for _, b := range s.buffers {
		b.Destroy()
	}
	for _, q := range []*vulkan.VulkanQueryPool{s.occlusion, s.timing} {
		if q != nil {
			q.Destroy()
		}
	}
	if s.rendered != nil {
		s.rendered.Destroy()
	}
	if s.fence != nil {
		s.fence.Destroy()
	}
	if s.device != nil {
		if err := s.device.Destroy(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		s.native.Close()
	}

	m := core.MetricsSnapshotNow()
	core.LogInfo("batches %d (splits %d), heap updates %d, pipeline updates %d, rewrite dispatches %d, submissions %d, avg recording %s",
		m.BatchesOpened, m.BatchSplits, m.HeapUpdates, m.PipelineUpdates, m.RewriteDispatches, m.Submissions, m.AvgRecording)
	return firstErr
}

// Frames returns the number of frames rendered so far.
func (s *TestScene) Frames() uint64 {
	return s.frame
}

// FrameBudget is the pause between two frames.
const FrameBudget = 16 * time.Millisecond

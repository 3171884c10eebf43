package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

// ClearValue holds the clear color of a color attachment or the clear
// depth and stencil of a depth-stencil attachment.
type ClearValue struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

type VulkanSubpass struct {
	ColorAttachments       []vk.AttachmentReference
	DepthStencilAttachment *vk.AttachmentReference
}

type VulkanRenderpass struct {
	Attachments []vk.AttachmentDescription
	Subpasses   []VulkanSubpass
}

// NewVulkanRenderpass keeps the attachment descriptions and the attachment
// references of each subpass. Render passes have no native counterpart:
// they are expanded into barriers, clears and render target bindings when
// recorded.
func NewVulkanRenderpass(attachments []vk.AttachmentDescription, subpasses []vk.SubpassDescription) (*VulkanRenderpass, error) {
	if len(subpasses) == 0 {
		return nil, core.Errorf(core.ErrInvalidState, "render pass without subpasses")
	}
	outRenderpass := &VulkanRenderpass{
		Attachments: append([]vk.AttachmentDescription(nil), attachments...),
		Subpasses:   make([]VulkanSubpass, len(subpasses)),
	}
	for i, sp := range subpasses {
		if sp.PipelineBindPoint != vk.PipelineBindPointGraphics {
			return nil, core.Errorf(core.ErrFeatureNotPresent, "subpass %d is not a graphics subpass", i)
		}
		colors := sp.PColorAttachments
		if uint32(len(colors)) > sp.ColorAttachmentCount {
			colors = colors[:sp.ColorAttachmentCount]
		}
		for _, ref := range colors {
			if ref.Attachment != vk.AttachmentUnused && int(ref.Attachment) >= len(attachments) {
				return nil, core.Errorf(core.ErrInvalidState, "subpass %d references attachment %d of %d", i, ref.Attachment, len(attachments))
			}
		}
		outRenderpass.Subpasses[i].ColorAttachments = append([]vk.AttachmentReference(nil), colors...)
		if ds := sp.PDepthStencilAttachment; ds != nil && ds.Attachment != vk.AttachmentUnused {
			if int(ds.Attachment) >= len(attachments) {
				return nil, core.Errorf(core.ErrInvalidState, "subpass %d references attachment %d of %d", i, ds.Attachment, len(attachments))
			}
			ref := *ds
			outRenderpass.Subpasses[i].DepthStencilAttachment = &ref
		}
	}
	return outRenderpass, nil
}

func (vr *VulkanRenderpass) Destroy() {
	vr.Attachments = nil
	vr.Subpasses = nil
}

type VulkanRenderPassBeginInfo struct {
	RenderPass  *VulkanRenderpass
	Framebuffer *VulkanFramebuffer
	RenderArea  vk.Rect2D
	ClearValues []ClearValue
}

// renderPassState follows a render pass instance while it is recorded.
type renderPassState struct {
	pass        *VulkanRenderpass
	framebuffer *VulkanFramebuffer
	area        native.Rect
	subpass     int
	// current state of each attachment
	states       []native.ResourceState
	views        []native.CPUDescriptorHandle
	targetsDirty bool
}

func (s *renderPassState) bindTargets(list native.CommandList) {
	sp := s.pass.Subpasses[s.subpass]
	rtvs := make([]native.CPUDescriptorHandle, 0, len(sp.ColorAttachments))
	for _, ref := range sp.ColorAttachments {
		if ref.Attachment != vk.AttachmentUnused {
			rtvs = append(rtvs, s.views[ref.Attachment])
		}
	}
	var dsv *native.CPUDescriptorHandle
	if ds := sp.DepthStencilAttachment; ds != nil {
		h := s.views[ds.Attachment]
		dsv = &h
	}
	list.OMSetRenderTargets(rtvs, dsv)
	s.targetsDirty = false
}

// subpassLayouts returns the layout each attachment is used in by subpass
// i, for the attachments it references.
func (s *renderPassState) subpassLayouts(i int) map[uint32]vk.ImageLayout {
	sp := s.pass.Subpasses[i]
	out := make(map[uint32]vk.ImageLayout, len(sp.ColorAttachments)+1)
	for _, ref := range sp.ColorAttachments {
		if ref.Attachment != vk.AttachmentUnused {
			out[ref.Attachment] = ref.Layout
		}
	}
	if ds := sp.DepthStencilAttachment; ds != nil {
		out[ds.Attachment] = ds.Layout
	}
	return out
}

// moveAttachment appends the barriers taking attachment i to state.
func (s *renderPassState) moveAttachment(i uint32, to native.ResourceState, out []native.ResourceBarrier) []native.ResourceBarrier {
	if s.states[i] == to {
		return out
	}
	view := s.framebuffer.Attachments[i]
	out = appendImageBarriers(out, view.Image, view.Range, s.states[i], to)
	s.states[i] = to
	return out
}

func (cb *VulkanCommandBuffer) BeginRenderPass(info *VulkanRenderPassBeginInfo) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	r := cb.rec
	if r.pass != nil {
		return core.Errorf(core.ErrInvalidState, "render pass begun inside a render pass")
	}
	pass, fb := info.RenderPass, info.Framebuffer
	if len(fb.Attachments) != len(pass.Attachments) {
		return core.Errorf(core.ErrInvalidState, "framebuffer has %d attachments, render pass %d", len(fb.Attachments), len(pass.Attachments))
	}

	st := &renderPassState{
		pass:        pass,
		framebuffer: fb,
		area:        translateRect(info.RenderArea),
		states:      make([]native.ResourceState, len(pass.Attachments)),
		views:       make([]native.CPUDescriptorHandle, len(pass.Attachments)),
	}
	for i, a := range pass.Attachments {
		view := fb.Attachments[i]
		if layoutIsUndefined(a.InitialLayout) {
			st.states[i] = view.Image.InitialState
		} else {
			st.states[i] = translateLayout(a.InitialLayout)
		}
		h, err := cb.attachments.view(view.Image, view.Range.BaseMipLevel, view.Range.BaseArrayLayer, view.Range.LayerCount)
		if err != nil {
			return err
		}
		st.views[i] = h
	}

	batch, err := cb.getBatch(false)
	if err != nil {
		return err
	}
	var barriers []native.ResourceBarrier
	for i, layout := range st.subpassLayouts(0) {
		barriers = st.moveAttachment(i, translateLayout(layout), barriers)
	}
	if len(barriers) > 0 {
		batch.List.ResourceBarrier(barriers)
	}

	rects := []native.Rect{st.area}
	for i, a := range pass.Attachments {
		var clear ClearValue
		if i < len(info.ClearValues) {
			clear = info.ClearValues[i]
		}
		if !fb.Attachments[i].Image.nativeFormat().IsDepthStencil() {
			if a.LoadOp == vk.AttachmentLoadOpClear {
				batch.List.ClearRenderTargetView(st.views[i], clear.Color, rects)
			}
			continue
		}
		var flags native.ClearFlags
		if a.LoadOp == vk.AttachmentLoadOpClear {
			flags |= native.ClearFlagDepth
		}
		if a.StencilLoadOp == vk.AttachmentLoadOpClear {
			flags |= native.ClearFlagStencil
		}
		if flags != 0 {
			batch.List.ClearDepthStencilView(st.views[i], flags, clear.Depth, uint8(clear.Stencil), rects)
		}
	}
	batch.hasWork = true
	st.targetsDirty = true
	r.pass = st
	return nil
}

func (cb *VulkanCommandBuffer) NextSubpass() error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	st := cb.rec.pass
	if st == nil || st.subpass+1 >= len(st.pass.Subpasses) {
		return core.Errorf(core.ErrInvalidState, "no subpass left in the render pass")
	}
	batch, err := cb.getBatch(false)
	if err != nil {
		return err
	}
	st.subpass++
	var barriers []native.ResourceBarrier
	for i, layout := range st.subpassLayouts(st.subpass) {
		barriers = st.moveAttachment(i, translateLayout(layout), barriers)
	}
	if len(barriers) > 0 {
		batch.List.ResourceBarrier(barriers)
		batch.hasWork = true
	}
	st.targetsDirty = true
	return nil
}

func (cb *VulkanCommandBuffer) EndRenderPass() error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	st := cb.rec.pass
	if st == nil {
		return core.Errorf(core.ErrInvalidState, "no render pass to end")
	}
	batch, err := cb.getBatch(false)
	if err != nil {
		return err
	}
	var barriers []native.ResourceBarrier
	for i, a := range st.pass.Attachments {
		if layoutIsUndefined(a.FinalLayout) {
			continue
		}
		barriers = st.moveAttachment(uint32(i), translateLayout(a.FinalLayout), barriers)
	}
	if len(barriers) > 0 {
		batch.List.ResourceBarrier(barriers)
		batch.hasWork = true
	}
	cb.rec.pass = nil
	return nil
}

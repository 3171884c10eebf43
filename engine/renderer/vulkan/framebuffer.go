package vulkan

import (
	"github.com/spaghettifunk/dozen/engine/core"
)

type VulkanFramebuffer struct {
	AttachmentCount uint32
	Attachments     []*VulkanImageView
	Renderpass      *VulkanRenderpass
	Width           uint32
	Height          uint32
	Layers          uint32
}

func FramebufferCreate(renderpass *VulkanRenderpass, width uint32, height uint32, layers uint32, attachments []*VulkanImageView) (*VulkanFramebuffer, error) {
	if len(attachments) != len(renderpass.Attachments) {
		err := core.Errorf(core.ErrInvalidState, "framebuffer with %d attachments for a render pass of %d", len(attachments), len(renderpass.Attachments))
		core.LogError("%s", err)
		return nil, err
	}
	outFramebuffer := &VulkanFramebuffer{
		AttachmentCount: uint32(len(attachments)),
		Attachments:     make([]*VulkanImageView, len(attachments)),
		Renderpass:      renderpass,
		Width:           width,
		Height:          height,
		Layers:          max(layers, 1),
	}
	// Take a copy of the attachments
	for i, a := range attachments {
		if a == nil || a.Image == nil {
			err := core.Errorf(core.ErrInvalidState, "framebuffer attachment %d has no image", i)
			core.LogError("%s", err)
			return nil, err
		}
		outFramebuffer.Attachments[i] = a
	}
	return outFramebuffer, nil
}

func (vfb *VulkanFramebuffer) Destroy() {
	if len(vfb.Attachments) > 0 {
		vfb.Attachments = nil
	}
	vfb.AttachmentCount = 0
	vfb.Renderpass = nil
}

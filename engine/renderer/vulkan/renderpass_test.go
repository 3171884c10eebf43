package vulkan

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
	"github.com/spaghettifunk/dozen/engine/renderer/native/soft"
)

// newColorDepthPass creates a single subpass render pass with a cleared
// color attachment left shader readable and a cleared depth attachment.
func newColorDepthPass(t *testing.T, d *VulkanDevice, width, height uint32) (*VulkanRenderpass, *VulkanFramebuffer, *VulkanImage, *VulkanImage) {
	t.Helper()
	color := newTestImage(t, d, VulkanImageCreateInfo{
		Format: vk.FormatR8g8b8a8Unorm, Width: width, Height: height, MipLevels: 1, ArrayLayers: 1,
		Usage: vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageSampledBit),
	})
	depth := newTestImage(t, d, VulkanImageCreateInfo{
		Format: vk.FormatD32Sfloat, Width: width, Height: height, MipLevels: 1, ArrayLayers: 1,
		Usage: vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
	})
	pass, err := NewVulkanRenderpass([]vk.AttachmentDescription{
		{
			Format: vk.FormatR8g8b8a8Unorm, Samples: vk.SampleCount1Bit,
			LoadOp: vk.AttachmentLoadOpClear, StoreOp: vk.AttachmentStoreOpStore,
			StencilLoadOp: vk.AttachmentLoadOpDontCare, StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout: vk.ImageLayoutUndefined, FinalLayout: vk.ImageLayoutShaderReadOnlyOptimal,
		},
		{
			Format: vk.FormatD32Sfloat, Samples: vk.SampleCount1Bit,
			LoadOp: vk.AttachmentLoadOpClear, StoreOp: vk.AttachmentStoreOpDontCare,
			StencilLoadOp: vk.AttachmentLoadOpDontCare, StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout: vk.ImageLayoutUndefined, FinalLayout: vk.ImageLayoutDepthStencilAttachmentOptimal,
		},
	}, []vk.SubpassDescription{{
		PipelineBindPoint:       vk.PipelineBindPointGraphics,
		ColorAttachmentCount:    1,
		PColorAttachments:       []vk.AttachmentReference{{Attachment: 0, Layout: vk.ImageLayoutColorAttachmentOptimal}},
		PDepthStencilAttachment: &vk.AttachmentReference{Attachment: 1, Layout: vk.ImageLayoutDepthStencilAttachmentOptimal},
	}})
	if err != nil {
		t.Fatalf("NewVulkanRenderpass: %v", err)
	}
	colorRange := ImageSubresourceRange{AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit), LevelCount: 1, LayerCount: 1}
	depthRange := ImageSubresourceRange{AspectMask: vk.ImageAspectFlags(vk.ImageAspectDepthBit), LevelCount: 1, LayerCount: 1}
	fb, err := FramebufferCreate(pass, width, height, 1, []*VulkanImageView{
		NewVulkanImageView(color, native.ViewDimensionTexture2D, colorRange),
		NewVulkanImageView(depth, native.ViewDimensionTexture2D, depthRange),
	})
	if err != nil {
		t.Fatalf("FramebufferCreate: %v", err)
	}
	return pass, fb, color, depth
}

func TestRenderPassClearsAndTransitions(t *testing.T) {
	d, sd := newTestDevice(t, soft.Options{})
	pass, fb, color, depth := newColorDepthPass(t, d, 4, 4)
	layout := newLayout(t, d, nil, nil)
	p := newGraphicsPipeline(t, d, "triangles", layout, vk.PrimitiveTopologyTriangleList)

	cb := beginCommandBuffer(t, d)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(cb.BeginRenderPass(&VulkanRenderPassBeginInfo{
		RenderPass:  pass,
		Framebuffer: fb,
		RenderArea:  vk.Rect2D{Extent: vk.Extent2D{Width: 4, Height: 4}},
		ClearValues: []ClearValue{{Color: [4]float32{1, 0, 0, 1}}, {Depth: 1}},
	}))
	if err := cb.BeginRenderPass(&VulkanRenderPassBeginInfo{RenderPass: pass, Framebuffer: fb}); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("nested BeginRenderPass: err = %v, want ErrInvalidState", err)
	}
	if err := cb.NextSubpass(); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("NextSubpass past the last subpass: err = %v, want ErrInvalidState", err)
	}
	must(cb.BindPipeline(vk.PipelineBindPointGraphics, p))
	must(cb.Draw(3, 1, 0, 0))
	if err := cb.End(); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("End inside a render pass: err = %v, want ErrInvalidState", err)
	}
	must(cb.EndRenderPass())
	if err := cb.EndRenderPass(); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("EndRenderPass twice: err = %v, want ErrInvalidState", err)
	}
	submitAndWait(t, d, cb)

	if v := sd.ValidationErrors(); len(v) != 0 {
		t.Fatalf("validation errors: %v", v)
	}
	red := bytes.Repeat([]byte{255, 0, 0, 255}, 16)
	if got := sd.ReadSubresource(color.Resource, 0); !bytes.Equal(got, red) {
		t.Errorf("color = %x, want %x", got, red)
	}
	one := bytes.Repeat(u32s(0x3f800000), 16)
	if got := sd.ReadSubresource(depth.Resource, 0); !bytes.Equal(got, one) {
		t.Errorf("depth = %x, want %x", got, one)
	}
	if s := sd.SubresourceState(color.Resource, 0); s != native.ResourceStateAllShaderResource {
		t.Errorf("color state = %v, want AllShaderResource", s)
	}
	if s := sd.SubresourceState(depth.Resource, 0); s != native.ResourceStateDepthWrite {
		t.Errorf("depth state = %v, want DepthWrite", s)
	}

	draws := sd.Draws()
	if len(draws) != 1 {
		t.Fatalf("got %d draws, want 1", len(draws))
	}
	if draws[0].RenderTargets != 1 || !draws[0].DepthStencil {
		t.Errorf("draw targets = %d color, depth %t", draws[0].RenderTargets, draws[0].DepthStencil)
	}
}

func TestRenderPassValidation(t *testing.T) {
	d, _ := newTestDevice(t, soft.Options{})

	if _, err := NewVulkanRenderpass(nil, nil); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("render pass without subpasses: err = %v", err)
	}
	_, err := NewVulkanRenderpass([]vk.AttachmentDescription{{Format: vk.FormatR8g8b8a8Unorm}}, []vk.SubpassDescription{{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments:    []vk.AttachmentReference{{Attachment: 3}},
	}})
	if !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("out of range attachment: err = %v", err)
	}
	_, err = NewVulkanRenderpass(nil, []vk.SubpassDescription{{PipelineBindPoint: vk.PipelineBindPointCompute}})
	if !errors.Is(err, core.ErrFeatureNotPresent) {
		t.Errorf("compute subpass: err = %v", err)
	}

	pass, _, color, _ := newColorDepthPass(t, d, 4, 4)
	view := NewVulkanImageView(color, native.ViewDimensionTexture2D, ImageSubresourceRange{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit), LevelCount: 1, LayerCount: 1,
	})
	if _, err := FramebufferCreate(pass, 4, 4, 1, []*VulkanImageView{view}); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("framebuffer missing an attachment: err = %v", err)
	}
	if _, err := FramebufferCreate(pass, 4, 4, 1, []*VulkanImageView{view, nil}); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("framebuffer with a nil attachment: err = %v", err)
	}
}

package vulkan

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native/soft"
)

func TestCopyUpdateFillBuffer(t *testing.T) {
	d, sd := newTestDevice(t, soft.Options{})
	src := hostBuffer(t, d, vk.BufferUsageTransferSrcBit, 0, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	dst := deviceBuffer(t, d, vk.BufferUsageTransferDstBit, 32)

	cb := beginCommandBuffer(t, d)
	if err := cb.FillBuffer(dst, 0, WholeSize, 0xaabbccdd); err != nil {
		t.Fatalf("FillBuffer: %v", err)
	}
	if err := cb.CopyBuffer(src, dst, []VulkanBufferCopy{{SrcOffset: 4, DstOffset: 8, Size: 4}}); err != nil {
		t.Fatalf("CopyBuffer: %v", err)
	}
	if err := cb.UpdateBuffer(dst, 16, u32s(0x11111111, 0x22222222)); err != nil {
		t.Fatalf("UpdateBuffer: %v", err)
	}
	submitAndWait(t, d, cb)

	got, err := sd.ReadMemory(dst.Address(0), 32)
	if err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	want := bytes.Join([][]byte{
		u32s(0xaabbccdd, 0xaabbccdd),
		{5, 6, 7, 8},
		u32s(0xaabbccdd),
		u32s(0x11111111, 0x22222222),
		u32s(0xaabbccdd, 0xaabbccdd),
	}, nil)
	if !bytes.Equal(got, want) {
		t.Errorf("buffer = %x, want %x", got, want)
	}
}

func TestTransferValidation(t *testing.T) {
	d, _ := newTestDevice(t, soft.Options{})
	src := hostBuffer(t, d, vk.BufferUsageTransferSrcBit, 16, nil)
	dst := deviceBuffer(t, d, vk.BufferUsageTransferDstBit, 16)
	cb := beginCommandBuffer(t, d)

	tests := []struct {
		name string
		run  func() error
	}{
		{"copy out of bounds", func() error {
			return cb.CopyBuffer(src, dst, []VulkanBufferCopy{{SrcOffset: 8, Size: 16}})
		}},
		{"unaligned update", func() error { return cb.UpdateBuffer(dst, 2, u32s(1)) }},
		{"empty update", func() error { return cb.UpdateBuffer(dst, 0, nil) }},
		{"update overflow", func() error { return cb.UpdateBuffer(dst, 12, u32s(1, 2)) }},
		{"unaligned fill", func() error { return cb.FillBuffer(dst, 0, 6, 0) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, core.ErrInvalidState) {
				t.Errorf("err = %v, want ErrInvalidState", err)
			}
		})
	}
}

func TestBufferImageRoundTrip(t *testing.T) {
	d, sd := newTestDevice(t, soft.Options{})
	pixels := make([]byte, 4*4*4)
	for i := range pixels {
		pixels[i] = byte(i)
	}
	upload := hostBuffer(t, d, vk.BufferUsageTransferSrcBit, 0, pixels)
	readback := deviceBuffer(t, d, vk.BufferUsageTransferDstBit, uint64(len(pixels)))
	img := newTestImage(t, d, VulkanImageCreateInfo{
		Format: vk.FormatR8g8b8a8Unorm, Width: 4, Height: 4, MipLevels: 1, ArrayLayers: 1,
		Usage: vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit),
	})
	color := ImageSubresourceRange{AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit), LevelCount: 1, LayerCount: 1}
	layers := ImageSubresourceLayers{AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit), LayerCount: 1}
	region := VulkanBufferImageCopy{ImageSubresource: layers, ImageExtent: vk.Extent3D{Width: 4, Height: 4, Depth: 1}}

	cb := beginCommandBuffer(t, d)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(cb.PipelineBarrier(0, 0, nil, nil, []VulkanImageMemoryBarrier{{
		OldLayout: vk.ImageLayoutUndefined, NewLayout: vk.ImageLayoutTransferDstOptimal, Image: img, SubresourceRange: color,
	}}))
	must(cb.CopyBufferToImage(upload, img, vk.ImageLayoutTransferDstOptimal, []VulkanBufferImageCopy{region}))
	must(cb.PipelineBarrier(0, 0, nil, nil, []VulkanImageMemoryBarrier{{
		OldLayout: vk.ImageLayoutTransferDstOptimal, NewLayout: vk.ImageLayoutTransferSrcOptimal, Image: img, SubresourceRange: color,
	}}))
	must(cb.CopyImageToBuffer(img, vk.ImageLayoutTransferSrcOptimal, readback, []VulkanBufferImageCopy{region}))
	submitAndWait(t, d, cb)

	if got := sd.ReadSubresource(img.Resource, 0); !bytes.Equal(got, pixels) {
		t.Errorf("image content = %x, want %x", got, pixels)
	}
	got, err := sd.ReadMemory(readback.Address(0), uint64(len(pixels)))
	if err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	if !bytes.Equal(got, pixels) {
		t.Errorf("read back = %x, want %x", got, pixels)
	}
}

func TestBlitImageScaledIsNotSupported(t *testing.T) {
	d, _ := newTestDevice(t, soft.Options{})
	info := VulkanImageCreateInfo{
		Format: vk.FormatR8g8b8a8Unorm, Width: 8, Height: 8, MipLevels: 1, ArrayLayers: 1,
		Usage: vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit),
	}
	src := newTestImage(t, d, info)
	dst := newTestImage(t, d, info)
	layers := ImageSubresourceLayers{AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit), LayerCount: 1}
	cb := beginCommandBuffer(t, d)

	err := cb.BlitImage(src, vk.ImageLayoutTransferSrcOptimal, dst, vk.ImageLayoutTransferDstOptimal, []VulkanImageBlit{{
		SrcSubresource: layers,
		SrcOffsets:     [2]vk.Offset3D{{}, {X: 8, Y: 8, Z: 1}},
		DstSubresource: layers,
		DstOffsets:     [2]vk.Offset3D{{}, {X: 4, Y: 4, Z: 1}},
	}}, vk.FilterLinear)
	if !errors.Is(err, core.ErrFeatureNotPresent) {
		t.Errorf("scaled blit err = %v, want ErrFeatureNotPresent", err)
	}

	err = cb.BlitImage(src, vk.ImageLayoutTransferSrcOptimal, dst, vk.ImageLayoutTransferDstOptimal, []VulkanImageBlit{{
		SrcSubresource: layers,
		SrcOffsets:     [2]vk.Offset3D{{}, {X: 8, Y: 8, Z: 1}},
		DstSubresource: layers,
		DstOffsets:     [2]vk.Offset3D{{}, {X: 8, Y: 8, Z: 1}},
	}}, vk.FilterNearest)
	if err != nil {
		t.Errorf("unscaled blit: %v", err)
	}
}

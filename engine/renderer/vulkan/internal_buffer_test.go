package vulkan

import (
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
	"github.com/spaghettifunk/dozen/engine/renderer/native/soft"
)

func TestInternalBufferClass(t *testing.T) {
	tests := []struct {
		size, want uint64
	}{
		{0, internalBufferMinSize},
		{1, internalBufferMinSize},
		{internalBufferMinSize, internalBufferMinSize},
		{internalBufferMinSize + 1, 2 * internalBufferMinSize},
		{4096, 4096},
		{5000, 8192},
	}
	for _, tt := range tests {
		if got := internalBufferClass(tt.size); got != tt.want {
			t.Errorf("internalBufferClass(%d) = %d, want %d", tt.size, got, tt.want)
		}
	}
}

func TestInternalBufferRecycling(t *testing.T) {
	d, _ := newTestDevice(t, soft.Options{})
	b, err := d.allocateInternalBuffer(native.HeapKindUpload, 100)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	d.internal.release(b)

	again, err := d.allocateInternalBuffer(native.HeapKindUpload, 200)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if again != b {
		t.Errorf("same size class did not reuse the cached buffer")
	}
	other, err := d.allocateInternalBuffer(native.HeapKindDefault, 200)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if other == b {
		t.Errorf("a different heap reused an upload buffer")
	}
	if other.state != native.ResourceStateCommon {
		t.Errorf("default heap buffer state = %v", other.state)
	}
}

func TestInternalBufferRetryAfterFlush(t *testing.T) {
	d, sd := newTestDevice(t, soft.Options{})

	t.Run("trim frees room", func(t *testing.T) {
		cached, err := d.allocateInternalBuffer(native.HeapKindUpload, internalBufferMinSize)
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		d.internal.release(cached)
		sd.SetMemoryBudget(sd.UsedMemory())
		defer sd.SetMemoryBudget(0)

		b, err := d.allocateInternalBuffer(native.HeapKindDefault, internalBufferMinSize)
		if err != nil {
			t.Fatalf("allocation after trim: %v", err)
		}
		defer b.Resource.Release()
		if n := len(d.internal.free); n != 0 {
			t.Errorf("cache holds %d buckets after trim, want 0", n)
		}
	})

	t.Run("second failure is reported", func(t *testing.T) {
		sd.FailNextAllocations(2)
		_, err := d.allocateInternalBuffer(native.HeapKindDefault, internalBufferMinSize)
		if !errors.Is(err, core.ErrOutOfDeviceMemory) {
			t.Errorf("err = %v, want ErrOutOfDeviceMemory", err)
		}
	})
}

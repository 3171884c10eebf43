package core

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
)

func TestResultFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want vk.Result
	}{
		{"nil", nil, vk.Success},
		{"timeout", Errorf(ErrTimeout, "fence %d", 3), vk.Timeout},
		{"deadline", context.DeadlineExceeded, vk.Timeout},
		{"marked deadline", Mark(context.DeadlineExceeded, ErrTimeout), vk.Timeout},
		{"not ready", ErrNotReady, vk.NotReady},
		{"pool", Wrap(Errorf(ErrOutOfPoolMemory, "no slots"), "allocating"), vk.ErrorOutOfPoolMemory},
		{"fragmented", ErrFragmentedPool, vk.ErrorFragmentedPool},
		{"host memory", ErrOutOfHostMemory, vk.ErrorOutOfHostMemory},
		{"device memory", ErrOutOfDeviceMemory, vk.ErrorOutOfDeviceMemory},
		{"device lost", Mark(errors.New("hung"), ErrDeviceLost), vk.ErrorDeviceLost},
		{"feature", ErrFeatureNotPresent, vk.ErrorFeatureNotPresent},
		{"other", errors.New("boom"), vk.ErrorUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResultFromError(tt.err); got != tt.want {
				t.Errorf("ResultFromError(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestMarkKeepsMessage(t *testing.T) {
	err := Mark(errors.New("adapter removed"), ErrDeviceLost)
	if err.Error() != "adapter removed" {
		t.Errorf("message = %q", err.Error())
	}
	if !errors.Is(err, ErrDeviceLost) {
		t.Error("marked error does not match its kind")
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("marked error matches an unrelated kind")
	}
}

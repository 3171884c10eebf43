package core

import (
	"context"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
)

var (
	ErrOutOfHostMemory   = errors.New("out of host memory")
	ErrOutOfDeviceMemory = errors.New("out of device memory")
	ErrOutOfPoolMemory   = errors.New("out of descriptor pool memory")
	ErrFragmentedPool    = errors.New("descriptor pool fragmented")
	ErrDeviceLost        = errors.New("device lost")
	ErrTimeout           = errors.New("wait timed out")
	ErrNotReady          = errors.New("not ready")
	ErrInvalidState      = errors.New("invalid object state")
	ErrFeatureNotPresent = errors.New("feature not present")
	ErrUnknown           = errors.New("unknown")
)

// Wrap attaches a formatted message to err while keeping it classifiable
// against the sentinel errors above.
func Wrap(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// Mark returns err tagged as kind so that errors.Is(err, kind) holds even
// though the message of err is kept intact.
func Mark(err error, kind error) error {
	return errors.Mark(err, kind)
}

// Errorf creates an error of the given kind with a formatted message.
func Errorf(kind error, format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), kind)
}

// IsTimeout tells whether err is a timeout result. Timeouts are not fatal and
// callers are expected to check for them before treating err as a failure.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// ResultFromError maps an error onto the Vulkan result taxonomy.
func ResultFromError(err error) vk.Result {
	switch {
	case err == nil:
		return vk.Success
	case IsTimeout(err):
		return vk.Timeout
	case errors.Is(err, ErrNotReady):
		return vk.NotReady
	case errors.Is(err, ErrOutOfHostMemory):
		return vk.ErrorOutOfHostMemory
	case errors.Is(err, ErrOutOfDeviceMemory):
		return vk.ErrorOutOfDeviceMemory
	case errors.Is(err, ErrOutOfPoolMemory):
		return vk.ErrorOutOfPoolMemory
	case errors.Is(err, ErrFragmentedPool):
		return vk.ErrorFragmentedPool
	case errors.Is(err, ErrDeviceLost):
		return vk.ErrorDeviceLost
	case errors.Is(err, ErrFeatureNotPresent):
		return vk.ErrorFeatureNotPresent
	default:
		return vk.ErrorUnknown
	}
}

package vulkan

import "sync"

// LockGroup names a class of device-level object creation that must not run
// concurrently with itself.
type LockGroup int

const (
	QueueManagement LockGroup = iota
	PipelineManagement
	SynchronizationManagement
	lockGroupCount
)

func (g LockGroup) String() string {
	switch g {
	case QueueManagement:
		return "queue_management"
	case PipelineManagement:
		return "pipeline_management"
	case SynchronizationManagement:
		return "synchronization_management"
	}
	return "unknown"
}

// Mutex pool. Calls made under the same group are serialized; SafeCall is
// not reentrant for a group.
type VulkanLockPool struct {
	locks [lockGroupCount]sync.Mutex
}

func NewVulkanLockPool() *VulkanLockPool {
	return &VulkanLockPool{}
}

func (vs *VulkanLockPool) SafeCall(group LockGroup, fn func() error) error {
	if group < 0 || group >= lockGroupCount {
		panic("vulkan: unknown lock group " + group.String())
	}
	l := &vs.locks[group]
	l.Lock()
	defer l.Unlock()

	return fn()
}
